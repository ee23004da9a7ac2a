package resolver

import (
	"context"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/mongodb/mongosink/db"
	"github.com/mongodb/mongosink/model"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// CollectionCreator turns settings and an open database into a
// collection handle, creating the collection when the settings require
// it.
type CollectionCreator interface {
	CheckAndCreate(ctx context.Context, settings *model.Settings, database db.Database) (db.Collection, error)
}

// NewCollectionCreator returns the default CollectionCreator. Capped
// collections are created only if no collection of that name exists;
// uncapped collections are never created explicitly.
func NewCollectionCreator() CollectionCreator { return collectionCreator{} }

type collectionCreator struct{}

func (collectionCreator) CheckAndCreate(ctx context.Context, settings *model.Settings, database db.Database) (db.Collection, error) {
	if settings == nil {
		return nil, model.ErrNilSettings
	}
	if database == nil {
		return nil, model.ErrNilDatabase
	}

	name := settings.EffectiveCollectionName()
	if !settings.IsCapped() {
		return database.Collection(name), nil
	}

	exists, err := collectionExists(ctx, database, name)
	if err != nil {
		return nil, errors.Wrapf(err, "checking for collection '%s' in '%s'", name, database.Name())
	}

	if !exists {
		opts := db.CollectionOptions{
			Capped:       true,
			MaxSize:      *settings.CappedCollectionSize,
			MaxDocuments: settings.CappedCollectionMaxItems,
		}
		if err = database.CreateCollection(ctx, name, opts); err != nil {
			return nil, errors.Wrapf(err, "creating capped collection '%s' in '%s'", name, database.Name())
		}

		msg := message.Fields{
			"message":    "created capped collection",
			"database":   database.Name(),
			"collection": name,
			"max_size":   opts.MaxSize,
		}
		if opts.MaxDocuments != nil {
			msg["max_documents"] = *opts.MaxDocuments
		}
		grip.Info(msg)
	}

	return database.Collection(name), nil
}

func collectionExists(ctx context.Context, database db.Database, name string) (bool, error) {
	names, err := database.ListCollectionNames(ctx, bson.D{{Key: "name", Value: name}})
	if err != nil {
		return false, errors.WithStack(err)
	}

	return len(names) > 0, nil
}
