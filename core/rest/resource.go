package rest

import (
	"fmt"

	"github.com/relabs-tech/docrest/core"
	"github.com/relabs-tech/docrest/core/access"
)

// Configuration is the declarative resource configuration of a backend,
// usually loaded from JSON at startup.
type Configuration struct {
	Collections []CollectionConfiguration `json:"collections"`
}

// CollectionConfiguration describes one resource backed by a document
// collection.
//
// Fields declares the storage fields the resource exposes; an empty list
// exposes everything that is not hidden. Rename maps storage names to the
// wire names clients see. Filters is the allow-list of queryable filters,
// Orderings the allow-list of sortable wire fields.
//
// Children declares the subtype resources polymorphic documents dispatch to
// by their discriminator value. Virtual descriptions get no routes and no
// collection of their own; they only serve as child or related targets.
type CollectionConfiguration struct {
	Resource         string                 `json:"resource"`
	Collection       string                 `json:"collection,omitempty"`
	Description      string                 `json:"description,omitempty"`
	Fields           []string               `json:"fields,omitempty"`
	Rename           map[string]string      `json:"rename,omitempty"`
	Hidden           []string               `json:"hidden,omitempty"`
	Filters          []FilterConfiguration  `json:"filters,omitempty"`
	Orderings        []string               `json:"orderings,omitempty"`
	DefaultLimit     int64                  `json:"default_limit,omitempty"`
	MaxLimit         int64                  `json:"max_limit,omitempty"`
	StrictParameters bool                   `json:"strict_parameters,omitempty"`
	Related          []RelatedConfiguration `json:"related,omitempty"`
	Discriminator    string                 `json:"discriminator,omitempty"`
	Children         []ChildConfiguration   `json:"children,omitempty"`
	Authentication   []string               `json:"authentication,omitempty"`
	Permits          []access.Permit        `json:"permits,omitempty"`
	SchemaID         string                 `json:"schema_id,omitempty"`
	Virtual          bool                   `json:"virtual,omitempty"`
}

// FilterConfiguration is one entry of a resource's filter allow-list. Field
// is the wire field the filter targets; it defaults to the filter's name.
// Operators defaults to exact match only.
type FilterConfiguration struct {
	Name      string     `json:"name"`
	Field     string     `json:"field,omitempty"`
	Operators []Operator `json:"operators,omitempty"`
}

// RelatedConfiguration binds a referencing field to the resource its values
// point to. Field is the wire name of the referencing field in this
// resource; TargetField the wire name of the referenced field in the target,
// defaulting to "id". With OmitNull, a missing reference drops the key from
// the response instead of rendering an explicit null.
type RelatedConfiguration struct {
	Field       string `json:"field"`
	Resource    string `json:"resource"`
	TargetField string `json:"target_field,omitempty"`
	OmitNull    bool   `json:"omit_null,omitempty"`
}

// ChildConfiguration maps one discriminator value to the subtype resource
// that serializes documents carrying it.
type ChildConfiguration struct {
	Discriminator string `json:"discriminator"`
	Resource      string `json:"resource"`
}

const (
	defaultLimit         = 100
	defaultMax           = 1000
	defaultDiscriminator = "_cls"
)

// Resource is the compiled form of a CollectionConfiguration: field map,
// filter registry, ordering allow-list and resolved child and related
// bindings. Resources are immutable after the backend builder has resolved
// them and are safe for concurrent use.
type Resource struct {
	Name           string
	Collection     string
	Permits        []access.Permit
	SchemaID       string
	Virtual        bool
	Authentication []string

	fieldMap      *FieldMap
	filters       map[string]*filter
	orderings     map[string]string
	defaultLimit  int64
	maxLimit      int64
	strict        bool
	discriminator string

	relatedCfg  []RelatedConfiguration
	childrenCfg []ChildConfiguration
	related     []*relatedBinding
	children    map[string]*Resource
}

type relatedBinding struct {
	wire        string
	storage     string
	target      *Resource
	targetField string
	omitNull    bool
}

// newResource compiles a configuration into a resource. Bindings to other
// resources are resolved in a second phase, once all resources exist.
func newResource(cfg CollectionConfiguration) (*Resource, error) {
	if cfg.Resource == "" {
		return nil, fmt.Errorf("collection configuration without resource name")
	}
	fm, err := newFieldMap(cfg.Fields, cfg.Rename, cfg.Hidden)
	if err != nil {
		return nil, fmt.Errorf("resource %s: %w", cfg.Resource, err)
	}

	rc := &Resource{
		Name:           cfg.Resource,
		Collection:     cfg.Collection,
		Permits:        cfg.Permits,
		SchemaID:       cfg.SchemaID,
		Virtual:        cfg.Virtual,
		Authentication: cfg.Authentication,
		fieldMap:       fm,
		filters:        map[string]*filter{},
		orderings:      map[string]string{},
		defaultLimit:   cfg.DefaultLimit,
		maxLimit:       cfg.MaxLimit,
		strict:         cfg.StrictParameters,
		discriminator:  cfg.Discriminator,
		relatedCfg:     cfg.Related,
		childrenCfg:    cfg.Children,
	}
	if rc.Collection == "" {
		rc.Collection = core.Plural(cfg.Resource)
	}
	if rc.defaultLimit <= 0 {
		rc.defaultLimit = defaultLimit
	}
	if rc.maxLimit <= 0 {
		rc.maxLimit = defaultMax
	}
	if rc.defaultLimit > rc.maxLimit {
		return nil, fmt.Errorf("resource %s: default limit %d exceeds max limit %d", cfg.Resource, rc.defaultLimit, rc.maxLimit)
	}
	if rc.discriminator == "" {
		rc.discriminator = defaultDiscriminator
	}

	for _, fc := range cfg.Filters {
		if fc.Name == "" {
			return nil, fmt.Errorf("resource %s: filter without name", cfg.Resource)
		}
		if _, ok := rc.filters[fc.Name]; ok {
			return nil, fmt.Errorf("resource %s: duplicate filter %q", cfg.Resource, fc.Name)
		}
		wire := fc.Field
		if wire == "" {
			wire = fc.Name
		}
		storage, ok := fm.StorageName(wire)
		if !ok {
			return nil, fmt.Errorf("resource %s: filter %q targets unknown field %q", cfg.Resource, fc.Name, wire)
		}
		operators := map[Operator]bool{}
		if len(fc.Operators) == 0 {
			operators[OperatorExact] = true
		}
		for _, op := range fc.Operators {
			if !knownOperators[op] {
				return nil, fmt.Errorf("resource %s: filter %q has unknown operator %q", cfg.Resource, fc.Name, op)
			}
			operators[op] = true
		}
		rc.filters[fc.Name] = &filter{name: fc.Name, storage: storage, operators: operators}
	}

	for _, wire := range cfg.Orderings {
		storage, ok := fm.StorageName(wire)
		if !ok {
			return nil, fmt.Errorf("resource %s: ordering on unknown field %q", cfg.Resource, wire)
		}
		rc.orderings[wire] = storage
	}

	return rc, nil
}

// resolve binds child and related configurations to their compiled target
// resources. Dangling references and duplicate discriminators fail the
// builder.
func (rc *Resource) resolve(byName map[string]*Resource) error {
	if len(rc.childrenCfg) > 0 {
		rc.children = map[string]*Resource{}
		for _, cc := range rc.childrenCfg {
			if cc.Discriminator == "" {
				return fmt.Errorf("resource %s: child binding without discriminator", rc.Name)
			}
			target, ok := byName[cc.Resource]
			if !ok {
				return fmt.Errorf("resource %s: child binding %q references unknown resource %q", rc.Name, cc.Discriminator, cc.Resource)
			}
			if _, ok := rc.children[cc.Discriminator]; ok {
				return fmt.Errorf("resource %s: duplicate child discriminator %q", rc.Name, cc.Discriminator)
			}
			rc.children[cc.Discriminator] = target
		}
	}

	for _, relc := range rc.relatedCfg {
		storage, ok := rc.fieldMap.StorageName(relc.Field)
		if !ok {
			return fmt.Errorf("resource %s: related binding on unknown field %q", rc.Name, relc.Field)
		}
		target, ok := byName[relc.Resource]
		if !ok {
			return fmt.Errorf("resource %s: related binding on %q references unknown resource %q", rc.Name, relc.Field, relc.Resource)
		}
		targetField := relc.TargetField
		if targetField == "" {
			targetField = "id"
		}
		targetStorage, ok := target.fieldMap.StorageName(targetField)
		if !ok {
			return fmt.Errorf("resource %s: related binding on %q targets unknown field %q of %q", rc.Name, relc.Field, targetField, relc.Resource)
		}
		rc.related = append(rc.related, &relatedBinding{
			wire:        relc.Field,
			storage:     storage,
			target:      target,
			targetField: targetStorage,
			omitNull:    relc.OmitNull,
		})
	}
	return nil
}

func (rc *Resource) relatedByWire(wire string) *relatedBinding {
	for _, b := range rc.related {
		if b.wire == wire {
			return b
		}
	}
	return nil
}

// requiredStorageFields returns the storage fields serialization always
// needs, regardless of the requested field selection.
func (rc *Resource) requiredStorageFields() []string {
	required := []string{"_id"}
	if len(rc.childrenCfg) > 0 {
		required = append(required, rc.discriminator)
	}
	for _, relc := range rc.relatedCfg {
		if storage, ok := rc.fieldMap.StorageName(relc.Field); ok {
			required = append(required, storage)
		}
	}
	return required
}

// RenameToStorage translates an incoming wire document to storage names,
// dropping keys the resource does not expose.
func (rc *Resource) RenameToStorage(doc Document) Document {
	return rc.fieldMap.RenameToStorage(doc)
}
