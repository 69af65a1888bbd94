package rest

import (
	"context"
	"errors"
	"fmt"
)

// Resolver fetches referenced documents during serialization. The backend
// implements it on top of its store; tests can substitute their own.
type Resolver interface {
	// ResolveReference returns the document of the target resource whose
	// storage field holds the given value. It returns ErrDocumentNotFound
	// when no such document exists.
	ResolveReference(ctx context.Context, target *Resource, storageField string, value interface{}) (Document, error)
}

// Serialize renders a stored document into its wire representation:
// polymorphic dispatch by discriminator first, then projection to the
// requested fields, renaming, hiding, and recursive resolution of related
// and embedded documents.
//
// fields is the wire-name selection from the query plan; nil renders the
// full exposed document. Serializing an already serialized selection again
// yields the same result, the operation is idempotent on its output.
func (rc *Resource) Serialize(ctx context.Context, doc Document, fields []string, resolver Resolver) (Document, error) {
	target, err := rc.dispatch(doc)
	if err != nil {
		return nil, err
	}
	return target.project(ctx, doc, fields, resolver)
}

// SerializeMany renders a list of documents, preserving their order.
func (rc *Resource) SerializeMany(ctx context.Context, docs []Document, fields []string, resolver Resolver) ([]Document, error) {
	out := make([]Document, 0, len(docs))
	for _, doc := range docs {
		serialized, err := rc.Serialize(ctx, doc, fields, resolver)
		if err != nil {
			return nil, err
		}
		out = append(out, serialized)
	}
	return out, nil
}

// dispatch selects the subtype resource for a polymorphic document. A
// document without discriminator field serializes as the base resource; a
// discriminator value without mapped resource is a configuration defect and
// fails closed.
func (rc *Resource) dispatch(doc Document) (*Resource, error) {
	if len(rc.children) == 0 {
		return rc, nil
	}
	raw, ok := doc[rc.discriminator]
	if !ok || raw == nil {
		return rc, nil
	}
	value, ok := raw.(string)
	if !ok {
		return nil, UnmappedSubtypeError{Discriminator: rc.discriminator, Value: fmt.Sprintf("%v", raw)}
	}
	child, ok := rc.children[value]
	if !ok {
		return nil, UnmappedSubtypeError{Discriminator: rc.discriminator, Value: value}
	}
	return child, nil
}

func (rc *Resource) project(ctx context.Context, doc Document, fields []string, resolver Resolver) (Document, error) {
	var selected map[string]bool
	if fields != nil {
		selected = make(map[string]bool, len(fields))
		for _, wire := range fields {
			selected[wire] = true
		}
	}

	out := Document{}
	for storage, value := range doc {
		wire, ok := rc.fieldMap.WireName(storage)
		if !ok {
			continue
		}
		if selected != nil && !selected[wire] {
			continue
		}
		if binding := rc.relatedByWire(wire); binding != nil {
			resolved, omit, err := serializeRelated(ctx, binding, value, resolver)
			if err != nil {
				return nil, err
			}
			if omit {
				continue
			}
			out[wire] = resolved
			continue
		}
		out[wire] = value
	}
	return out, nil
}

// serializeRelated renders the value of a related binding. Inline documents
// and lists serialize in place, scalar values are treated as references and
// resolved through the resolver. Lists preserve source order.
func serializeRelated(ctx context.Context, b *relatedBinding, value interface{}, resolver Resolver) (interface{}, bool, error) {
	switch v := value.(type) {
	case nil:
		return nil, b.omitNull, nil

	case []interface{}:
		list := make([]interface{}, 0, len(v))
		for _, elem := range v {
			resolved, omit, err := serializeRelated(ctx, b, elem, resolver)
			if err != nil {
				return nil, false, err
			}
			if omit {
				continue
			}
			list = append(list, resolved)
		}
		return list, false, nil

	case Document:
		resolved, err := b.target.Serialize(ctx, v, nil, resolver)
		return resolved, false, err

	case map[string]interface{}:
		resolved, err := b.target.Serialize(ctx, Document(v), nil, resolver)
		return resolved, false, err

	default:
		if resolver == nil {
			return nil, false, fmt.Errorf("no resolver for reference field %q", b.wire)
		}
		refDoc, err := resolver.ResolveReference(ctx, b.target, b.targetField, v)
		if err != nil {
			if errors.Is(err, ErrDocumentNotFound) {
				return nil, b.omitNull, nil
			}
			return nil, false, err
		}
		resolved, err := b.target.Serialize(ctx, refDoc, nil, resolver)
		return resolved, false, err
	}
}
