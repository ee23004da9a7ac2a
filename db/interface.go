package db

import "context"

// Client is the narrow view of a driver client that the sink uses.
type Client interface {
	Database(string) Database
	Disconnect(context.Context) error
}

// Database covers the database-level operations used when resolving
// a collection.
type Database interface {
	Name() string
	ListCollectionNames(ctx context.Context, filter interface{}) ([]string, error)
	CreateCollection(ctx context.Context, name string, opts CollectionOptions) error
	Collection(string) Collection
}

// Collection is the handle the resolver hands out and caches. Getting
// a Collection never contacts the server; the store creates it
// implicitly on the first write.
type Collection interface {
	Name() string
	Indexes() IndexView
	InsertMany(ctx context.Context, docs []interface{}) error
}

// IndexView is the index management surface of a collection.
type IndexView interface {
	// ListNames returns the names of the indexes on the collection.
	// A collection that does not exist yet has no indexes.
	ListNames(context.Context) ([]string, error)
	DropOne(ctx context.Context, name string) error
	// CreateMany issues a single createIndexes command. Callers must
	// not pass an empty slice.
	CreateMany(ctx context.Context, models []IndexModel) error
}
