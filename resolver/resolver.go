/*
Package resolver turns sink settings into ready collection handles.

A Resolver opens the database named by the connection string, lets its
CollectionCreator create the collection when capped limits are
declared, and memoizes the handle in its Cache under the settings'
connection identity. Later calls with equal identity fields return the
stored handle without contacting the server.
*/
package resolver

import (
	"context"

	"github.com/mongodb/mongosink/bridge"
	"github.com/mongodb/mongosink/db"
	"github.com/mongodb/mongosink/model"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/mongodb/mongosink/resolver"

// Resolver resolves settings to memoized collection handles.
type Resolver struct {
	cache   *Cache
	factory DatabaseFactory
	creator CollectionCreator
	tracer  trace.Tracer
}

// New builds a Resolver. All three collaborators are required; the
// cache is owned by the caller so that resolvers built over the same
// cache share handles.
func New(cache *Cache, factory DatabaseFactory, creator CollectionCreator) (*Resolver, error) {
	if cache == nil {
		return nil, errors.New("cache must not be nil")
	}
	if factory == nil {
		return nil, errors.New("database factory must not be nil")
	}
	if creator == nil {
		return nil, errors.New("collection creator must not be nil")
	}

	return &Resolver{
		cache:   cache,
		factory: factory,
		creator: creator,
		tracer:  otel.GetTracerProvider().Tracer(tracerName),
	}, nil
}

// GetCollection returns the collection for settings, resolving and
// storing it on first use. The settings are copied before resolution,
// so later changes to them do not affect the stored handle. Canceling
// ctx abandons the wait but not a resolution other callers share.
//
// A database that cannot be opened is reported as a
// model.ConfigurationError; creation failures are returned wrapped.
func (r *Resolver) GetCollection(ctx context.Context, settings *model.Settings) (db.Collection, error) {
	if settings == nil {
		return nil, model.ErrNilSettings
	}

	snapshot := *settings
	return r.cache.GetOrCreate(ctx, CacheKey(&snapshot), func(ctx context.Context) (db.Collection, error) {
		return r.resolve(ctx, &snapshot)
	})
}

func (r *Resolver) resolve(ctx context.Context, settings *model.Settings) (coll db.Collection, err error) {
	ctx, span := r.tracer.Start(ctx, "resolver.GetCollection", trace.WithAttributes(
		attribute.String("mongosink.connection_name", settings.ConnectionName),
		attribute.String("mongosink.collection", settings.EffectiveCollectionName()),
		attribute.Bool("mongosink.capped", settings.IsCapped()),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	database, err := r.factory.Create(ctx, settings.ConnectionString)
	if err != nil {
		return nil, model.NewConfigurationError(err, "opening database for connection '%s'", settings.ConnectionName)
	}
	if database == nil {
		return nil, model.NewConfigurationError(nil, "database for connection '%s' not found and cannot be created", settings.ConnectionName)
	}

	return bridge.RunSyncValue(ctx, func(ctx context.Context) (db.Collection, error) {
		return r.creator.CheckAndCreate(ctx, settings, database)
	})
}
