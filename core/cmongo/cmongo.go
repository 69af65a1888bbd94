// Package cmongo is a thin wrapper around the official mongo driver with
// convenience for opening a database at startup.
package cmongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/relabs-tech/docrest/core/logger"
)

// ErrNoDocuments is the driver's sentinel for an empty single result.
var ErrNoDocuments = mongo.ErrNoDocuments

// DB is a handle to one mongo database.
type DB struct {
	// Name is the database name
	Name     string
	client   *mongo.Client
	database *mongo.Database
}

// Open connects to the mongo deployment at uri and verifies the connection
// with a ping.
func Open(ctx context.Context, uri, name string) (*DB, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		client.Disconnect(ctx)
		return nil, err
	}
	return &DB{
		Name:     name,
		client:   client,
		database: client.Database(name),
	}, nil
}

// MustOpen opens the database and panics on failure, for service startup.
func MustOpen(uri, name string) *DB {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	db, err := Open(ctx, uri, name)
	if err != nil {
		panic(err)
	}
	logger.Default().Infoln("connected to database", name)
	return db
}

// Collection returns the named collection of the database.
func (db *DB) Collection(name string) *mongo.Collection {
	return db.database.Collection(name)
}

// Close disconnects the underlying client.
func (db *DB) Close(ctx context.Context) error {
	return db.client.Disconnect(ctx)
}
