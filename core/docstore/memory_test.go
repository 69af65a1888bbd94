package docstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/docrest/core/rest"
)

func seededStore(t *testing.T) *MemoryStore {
	t.Helper()
	store := NewMemoryStore()
	for _, doc := range []rest.Document{
		{"_id": "p1", "name": "Jane", "age": int64(35), "_organization": "42"},
		{"_id": "p2", "name": "Jake", "age": int64(28), "_organization": "43"},
		{"_id": "p3", "name": "Ada", "age": 51.0, "_organization": "42"},
		{"_id": "p4", "name": "Zoe"},
	} {
		_, err := store.Insert(context.Background(), "persons", doc)
		require.NoError(t, err)
	}
	return store
}

func names(docs []rest.Document) []string {
	result := make([]string, 0, len(docs))
	for _, doc := range docs {
		result = append(result, doc["name"].(string))
	}
	return result
}

func TestMemoryStoreFind(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()

	docs, total, err := store.Find(ctx, "persons", &rest.QueryPlan{})
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)
	assert.Equal(t, []string{"Jane", "Jake", "Ada", "Zoe"}, names(docs), "insertion order without ordering")

	docs, total, err = store.Find(ctx, "persons", &rest.QueryPlan{
		Filter: []rest.FilterTerm{{Field: "_organization", Operator: rest.OperatorExact, Value: "42"}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Equal(t, []string{"Jane", "Ada"}, names(docs))

	docs, _, err = store.Find(ctx, "nowhere", &rest.QueryPlan{})
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestMemoryStoreFindOrderAndWindow(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()

	docs, _, err := store.Find(ctx, "persons", &rest.QueryPlan{
		Order: &rest.Ordering{Field: "name"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Ada", "Jake", "Jane", "Zoe"}, names(docs))

	docs, total, err := store.Find(ctx, "persons", &rest.QueryPlan{
		Order: &rest.Ordering{Field: "name", Descending: true},
		Skip:  1,
		Limit: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4), total, "total count ignores the pagination window")
	assert.Equal(t, []string{"Jane", "Jake"}, names(docs))

	docs, _, err = store.Find(ctx, "persons", &rest.QueryPlan{Skip: 10})
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestMemoryStoreFindProjection(t *testing.T) {
	store := seededStore(t)

	docs, _, err := store.Find(context.Background(), "persons", &rest.QueryPlan{
		Projection: []string{"_id", "name"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, docs)
	assert.Equal(t, rest.Document{"_id": "p1", "name": "Jane"}, docs[0])
}

func TestMemoryStoreOperators(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()

	find := func(term rest.FilterTerm) []string {
		docs, _, err := store.Find(ctx, "persons", &rest.QueryPlan{Filter: []rest.FilterTerm{term}})
		require.NoError(t, err)
		return names(docs)
	}

	// ne matches documents missing the field as well
	assert.Equal(t, []string{"Jake", "Ada", "Zoe"},
		find(rest.FilterTerm{Field: "name", Operator: rest.OperatorNe, Value: "Jane"}))

	// range operators compare int64 and float64 documents numerically and
	// skip documents without the field
	assert.Equal(t, []string{"Jane", "Ada"},
		find(rest.FilterTerm{Field: "age", Operator: rest.OperatorGt, Value: int64(30)}))
	assert.Equal(t, []string{"Jake"},
		find(rest.FilterTerm{Field: "age", Operator: rest.OperatorLte, Value: 28.0}))

	assert.Equal(t, []string{"Jane", "Jake"},
		find(rest.FilterTerm{Field: "name", Operator: rest.OperatorStartswith, Value: "Ja"}))

	assert.Equal(t, []string{"Jane", "Ada"},
		find(rest.FilterTerm{Field: "_id", Operator: rest.OperatorIn, Value: []interface{}{"p1", "p3", "p9"}}))

	assert.Equal(t, []string{"Zoe"},
		find(rest.FilterTerm{Field: "age", Operator: rest.OperatorExists, Value: false}))
	assert.Equal(t, []string{"Jane", "Jake", "Ada"},
		find(rest.FilterTerm{Field: "age", Operator: rest.OperatorExists, Value: true}))

	// a range comparison across domains never matches
	assert.Empty(t,
		find(rest.FilterTerm{Field: "name", Operator: rest.OperatorLt, Value: int64(10)}))

	_, _, err := store.Find(ctx, "persons", &rest.QueryPlan{
		Filter: []rest.FilterTerm{{Field: "name", Operator: rest.Operator("fuzzy")}},
	})
	assert.Error(t, err)
}

func TestMemoryStoreCRUD(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Insert(ctx, "things", rest.Document{"name": "no identifier"})
	assert.Error(t, err)

	id, err := store.Insert(ctx, "things", rest.Document{"_id": "t1", "name": "one"})
	require.NoError(t, err)
	assert.Equal(t, "t1", id)

	_, err = store.Insert(ctx, "things", rest.Document{"_id": "t1"})
	assert.Error(t, err, "duplicate identifier")

	doc, err := store.FindOne(ctx, "things", "t1")
	require.NoError(t, err)
	assert.Equal(t, "one", doc["name"])

	// mutating the returned document must not write through to the store
	doc["name"] = "tampered"
	doc, err = store.FindOne(ctx, "things", "t1")
	require.NoError(t, err)
	assert.Equal(t, "one", doc["name"])

	doc, err = store.FindOneBy(ctx, "things", "name", "one")
	require.NoError(t, err)
	assert.Equal(t, "t1", doc["_id"])
	_, err = store.FindOneBy(ctx, "things", "name", "two")
	assert.ErrorIs(t, err, rest.ErrDocumentNotFound)

	replaced, err := store.Replace(ctx, "things", "t1", rest.Document{"name": "uno"})
	require.NoError(t, err)
	assert.Equal(t, "t1", replaced["_id"], "replace keeps the identifier")
	assert.Equal(t, "uno", replaced["name"])
	_, err = store.Replace(ctx, "things", "t2", rest.Document{})
	assert.ErrorIs(t, err, rest.ErrDocumentNotFound)

	deleted, err := store.Delete(ctx, "things", "t1")
	require.NoError(t, err)
	assert.Equal(t, "uno", deleted["name"])
	_, err = store.Delete(ctx, "things", "t1")
	assert.ErrorIs(t, err, rest.ErrDocumentNotFound)
	_, err = store.FindOne(ctx, "things", "t1")
	assert.ErrorIs(t, err, rest.ErrDocumentNotFound)
}
