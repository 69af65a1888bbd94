/*Package registry provides a persistent registry of objects in the backing
document database.

The package uses JSON to serialize the data. It serves small pieces of
operational state which are not resources themselves, like cached public
keys for token verification.
*/
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/relabs-tech/docrest/core/cmongo"
)

const registryCollection = "_registry_"

// Registry provides a persistent registry of objects in a document database.
type Registry struct {
	db *cmongo.DB
}

// New creates a new registry for the specified database
func New(db *cmongo.DB) *Registry {
	return &Registry{db: db}
}

// Accessor is an accessor with optional prefix
type Accessor struct {
	Prefix   string
	Registry *Registry
}

// Accessor returns a registry accessor with prefix
func (r *Registry) Accessor(prefix string) Accessor {
	return Accessor{
		Prefix:   prefix,
		Registry: r,
	}
}

type registryEntry struct {
	Key       string          `bson:"_id"`
	Value     json.RawMessage `bson:"value"`
	Timestamp time.Time       `bson:"timestamp"`
}

// Read reads a value from the registry. It returns the time when the value
// was written, or a zero timestamp if there is no value.
//
// If the accessor has a prefix, the key is prepended with "{prefix}:"
func (r Accessor) Read(key string, value interface{}) (time.Time, error) {
	if len(r.Prefix) > 0 {
		key = r.Prefix + ":" + key
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var entry registryEntry
	err := r.Registry.db.Collection(registryCollection).
		FindOne(ctx, bson.M{"_id": key}).Decode(&entry)
	if errors.Is(err, cmongo.ErrNoDocuments) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("cannot read key '%s': %s", key, err.Error())
	}
	err = json.Unmarshal(entry.Value, &value)
	return entry.Timestamp, err
}

// Write writes a value into the registry.
//
// If the accessor has a prefix, the key is prepended with "{prefix}:"
func (r Accessor) Write(key string, value interface{}) error {
	body, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if len(r.Prefix) > 0 {
		key = r.Prefix + ":" + key
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	entry := registryEntry{Key: key, Value: body, Timestamp: time.Now().UTC()}
	_, err = r.Registry.db.Collection(registryCollection).
		ReplaceOne(ctx, bson.M{"_id": key}, entry, options.Replace().SetUpsert(true))
	return err
}

// Delete deletes a value from the registry.
//
// If the accessor has a prefix, the key is prepended with "{prefix}:"
func (r Accessor) Delete(key string) error {
	if len(r.Prefix) > 0 {
		key = r.Prefix + ":" + key
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := r.Registry.db.Collection(registryCollection).DeleteOne(ctx, bson.M{"_id": key})
	return err
}
