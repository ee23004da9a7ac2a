package db

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/event"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/x/mongo/driver/connstring"
)

// Connect validates uri and opens a driver client for it, attaching
// monitor when it is not nil. It also returns the database named in the
// connection string, which is empty when the string names none.
//
// The driver connects lazily: an unreachable server surfaces on the
// first operation, not here.
func Connect(uri string, monitor *event.CommandMonitor) (Client, string, error) {
	cs, err := connstring.ParseAndValidate(uri)
	if err != nil {
		return nil, "", errors.Wrap(err, "parsing connection string")
	}

	opts := options.Client().ApplyURI(uri)
	if monitor != nil {
		opts.SetMonitor(monitor)
	}

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, "", errors.Wrap(err, "problem constructing client")
	}

	return WrapClient(client), cs.Database, nil
}

// WrapClient adapts a driver client to the Client interface.
func WrapClient(client *mongo.Client) Client { return &clientWrapper{client: client} }

type clientWrapper struct {
	client *mongo.Client
}

func (c *clientWrapper) Disconnect(ctx context.Context) error {
	return errors.WithStack(c.client.Disconnect(ctx))
}

func (c *clientWrapper) Database(name string) Database {
	return &databaseWrapper{database: c.client.Database(name)}
}

type databaseWrapper struct {
	database *mongo.Database
}

func (d *databaseWrapper) Name() string { return d.database.Name() }
func (d *databaseWrapper) Collection(name string) Collection {
	return &collectionWrapper{coll: d.database.Collection(name)}
}

func (d *databaseWrapper) ListCollectionNames(ctx context.Context, filter interface{}) ([]string, error) {
	names, err := d.database.ListCollectionNames(ctx, filter)
	return names, errors.WithStack(err)
}

func (d *databaseWrapper) CreateCollection(ctx context.Context, name string, opts CollectionOptions) error {
	create := options.CreateCollection()
	if opts.Capped {
		create.SetCapped(true).SetSizeInBytes(opts.MaxSize)
	}
	if opts.MaxDocuments != nil {
		create.SetMaxDocuments(*opts.MaxDocuments)
	}

	return errors.WithStack(d.database.CreateCollection(ctx, name, create))
}

type collectionWrapper struct {
	coll *mongo.Collection
}

func (c *collectionWrapper) Name() string       { return c.coll.Name() }
func (c *collectionWrapper) Indexes() IndexView { return &indexViewWrapper{coll: c.coll} }
func (c *collectionWrapper) InsertMany(ctx context.Context, docs []interface{}) error {
	_, err := c.coll.InsertMany(ctx, docs)
	return errors.WithStack(err)
}

// indexViewWrapper issues dropIndexes and createIndexes as raw commands
// so that every declared option reaches the server, including those the
// driver's typed index options no longer carry.
type indexViewWrapper struct {
	coll *mongo.Collection
}

func (iv *indexViewWrapper) ListNames(ctx context.Context) ([]string, error) {
	specs, err := iv.coll.Indexes().ListSpecifications(ctx)
	if err != nil {
		if IsNamespaceNotFound(err) {
			return []string{}, nil
		}
		return nil, errors.WithStack(err)
	}

	names := make([]string, 0, len(specs))
	for _, spec := range specs {
		names = append(names, spec.Name)
	}

	return names, nil
}

func (iv *indexViewWrapper) DropOne(ctx context.Context, name string) error {
	cmd := bson.D{
		{Key: "dropIndexes", Value: iv.coll.Name()},
		{Key: "index", Value: name},
	}

	return errors.WithStack(iv.coll.Database().RunCommand(ctx, cmd).Err())
}

func (iv *indexViewWrapper) CreateMany(ctx context.Context, models []IndexModel) error {
	if len(models) == 0 {
		return errors.New("createIndexes requires at least one index")
	}

	cmd := bson.D{
		{Key: "createIndexes", Value: iv.coll.Name()},
		{Key: "indexes", Value: IndexDocuments(models)},
	}

	return errors.WithStack(iv.coll.Database().RunCommand(ctx, cmd).Err())
}

// IndexDocuments renders models as the "indexes" array of a
// createIndexes command: key, then name, then options in order.
func IndexDocuments(models []IndexModel) bson.A {
	out := make(bson.A, 0, len(models))
	for _, m := range models {
		doc := make(bson.D, 0, 2+len(m.Options))
		doc = append(doc, bson.E{Key: "key", Value: m.Keys}, bson.E{Key: "name", Value: m.Name})
		doc = append(doc, m.Options...)
		out = append(out, doc)
	}

	return out
}
