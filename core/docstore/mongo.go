// Package docstore provides the document store adapters behind a backend:
// a mongo implementation for production and an in-memory implementation for
// hermetic tests. Both translate neutral query plans into their native
// query form.
package docstore

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/relabs-tech/docrest/core/cmongo"
	"github.com/relabs-tech/docrest/core/rest"
)

// MongoStore implements rest.Store on a mongo database.
type MongoStore struct {
	db *cmongo.DB
}

// NewMongoStore creates a store serving from the given database.
func NewMongoStore(db *cmongo.DB) *MongoStore {
	return &MongoStore{db: db}
}

// Find implements rest.Store
func (s *MongoStore) Find(ctx context.Context, collection string, plan *rest.QueryPlan) ([]rest.Document, int64, error) {
	coll := s.db.Collection(collection)

	filter, err := translateFilter(plan.Filter)
	if err != nil {
		return nil, 0, err
	}

	totalCount, err := coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	findOptions := options.Find().SetSkip(plan.Skip).SetLimit(plan.Limit)
	if sort := translateOrder(plan.Order); sort != nil {
		findOptions = findOptions.SetSort(sort)
	}
	if projection := translateProjection(plan.Projection); projection != nil {
		findOptions = findOptions.SetProjection(projection)
	}

	cursor, err := coll.Find(ctx, filter, findOptions)
	if err != nil {
		return nil, 0, err
	}
	defer cursor.Close(ctx)

	var raw []map[string]interface{}
	if err := cursor.All(ctx, &raw); err != nil {
		return nil, 0, err
	}
	docs := make([]rest.Document, 0, len(raw))
	for _, m := range raw {
		docs = append(docs, normalizeDocument(m))
	}
	return docs, totalCount, nil
}

// FindOne implements rest.Store
func (s *MongoStore) FindOne(ctx context.Context, collection string, id string) (rest.Document, error) {
	return s.FindOneBy(ctx, collection, "_id", id)
}

// FindOneBy implements rest.Store
func (s *MongoStore) FindOneBy(ctx context.Context, collection string, field string, value interface{}) (rest.Document, error) {
	var raw map[string]interface{}
	err := s.db.Collection(collection).FindOne(ctx, bson.M{field: value}).Decode(&raw)
	if errors.Is(err, cmongo.ErrNoDocuments) {
		return nil, rest.ErrDocumentNotFound
	}
	if err != nil {
		return nil, err
	}
	return normalizeDocument(raw), nil
}

// Insert implements rest.Store
func (s *MongoStore) Insert(ctx context.Context, collection string, doc rest.Document) (string, error) {
	result, err := s.db.Collection(collection).InsertOne(ctx, map[string]interface{}(doc))
	if err != nil {
		return "", err
	}
	if id, ok := doc["_id"].(string); ok {
		return id, nil
	}
	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		return oid.Hex(), nil
	}
	return "", nil
}

// Replace implements rest.Store
func (s *MongoStore) Replace(ctx context.Context, collection string, id string, doc rest.Document) (rest.Document, error) {
	after := options.After
	var raw map[string]interface{}
	err := s.db.Collection(collection).
		FindOneAndReplace(ctx, bson.M{"_id": id}, map[string]interface{}(doc),
			&options.FindOneAndReplaceOptions{ReturnDocument: &after}).
		Decode(&raw)
	if errors.Is(err, cmongo.ErrNoDocuments) {
		return nil, rest.ErrDocumentNotFound
	}
	if err != nil {
		return nil, err
	}
	return normalizeDocument(raw), nil
}

// Delete implements rest.Store
func (s *MongoStore) Delete(ctx context.Context, collection string, id string) (rest.Document, error) {
	var raw map[string]interface{}
	err := s.db.Collection(collection).FindOneAndDelete(ctx, bson.M{"_id": id}).Decode(&raw)
	if errors.Is(err, cmongo.ErrNoDocuments) {
		return nil, rest.ErrDocumentNotFound
	}
	if err != nil {
		return nil, err
	}
	return normalizeDocument(raw), nil
}

// normalizeDocument converts driver types to the neutral document shape the
// serializer works on: primitive.M becomes a plain map, primitive.A a plain
// slice, object ids their hex form and bson datetimes time.Time.
func normalizeDocument(m map[string]interface{}) rest.Document {
	doc := make(rest.Document, len(m))
	for k, v := range m {
		doc[k] = normalizeValue(v)
	}
	return doc
}

func normalizeValue(v interface{}) interface{} {
	switch value := v.(type) {
	case primitive.M:
		return normalizeDocument(value)
	case map[string]interface{}:
		return normalizeDocument(value)
	case primitive.A:
		list := make([]interface{}, len(value))
		for i, elem := range value {
			list[i] = normalizeValue(elem)
		}
		return list
	case []interface{}:
		list := make([]interface{}, len(value))
		for i, elem := range value {
			list[i] = normalizeValue(elem)
		}
		return list
	case primitive.ObjectID:
		return value.Hex()
	case primitive.DateTime:
		return value.Time().UTC()
	default:
		return v
	}
}
