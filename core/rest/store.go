package rest

import "context"

// Document is a schemaless document as stored in a collection, keyed by
// storage field names.
type Document map[string]interface{}

// FilterTerm is one compiled filter condition. Field is the storage field
// name. All terms of a query plan are combined with logical AND.
type FilterTerm struct {
	Field    string
	Operator Operator
	Value    interface{}
}

// Ordering is a compiled sort instruction on a storage field.
type Ordering struct {
	Field      string
	Descending bool
}

// QueryPlan is the compiled form of a list request: pagination window,
// field projection, ordering and filter predicate, all expressed in storage
// field names where the store needs them. Stores translate the plan into
// their native query language.
type QueryPlan struct {
	Skip  int64
	Limit int64
	// Fields holds the wire names requested with _fields, nil when the
	// request wants the full document.
	Fields []string
	// Projection holds the storage fields the store should fetch. It is a
	// superset of the translated Fields, because serialization needs the
	// identifier, the discriminator and the fields of related bindings even
	// when the client did not ask for them. Nil means fetch everything.
	Projection []string
	Order      *Ordering
	Filter     []FilterTerm
}

// Store is the document store a backend serves resources from.
//
// Find returns the documents matching the plan's filter inside the plan's
// pagination window, plus the total number of matching documents.
// Delete returns the deleted document.
type Store interface {
	Find(ctx context.Context, collection string, plan *QueryPlan) ([]Document, int64, error)
	FindOne(ctx context.Context, collection string, id string) (Document, error)
	FindOneBy(ctx context.Context, collection string, field string, value interface{}) (Document, error)
	Insert(ctx context.Context, collection string, doc Document) (string, error)
	Replace(ctx context.Context, collection string, id string, doc Document) (Document, error)
	Delete(ctx context.Context, collection string, id string) (Document, error)
}
