/*
Package mongosink writes log events to a MongoDB collection.

A Sink is configured with connection settings, an optional capped
collection size, a list of declared indexes and the shape of the
documents it writes. Initialize resolves the target collection through
the shared Environment, creating it when it must be capped, and
reconciles the declared indexes. Write converts events into documents
and inserts them in one batch.

Sinks resolve collections through the Environment's cache, so any
number of sinks configured with the same connection and collection
share one collection handle and one client.
*/
package mongosink

import (
	"context"
	"sync"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/mongodb/mongosink/bridge"
	"github.com/mongodb/mongosink/config"
	"github.com/mongodb/mongosink/db"
	"github.com/mongodb/mongosink/model"
	"github.com/pkg/errors"
)

// SinkOptions configures a Sink.
type SinkOptions struct {
	Settings model.Settings
	Indexes  []model.IndexSpec
	// IncludeDefaults adds the Date, Level, Logger, Message and
	// Exception fields to every document.
	IncludeDefaults bool
	// Fields are constant fields added to every document, in order.
	Fields []config.Field
}

// SinkOptionsFromConfig validates conf and converts it into options.
func SinkOptionsFromConfig(conf *config.Sink) (SinkOptions, error) {
	if conf == nil {
		return SinkOptions{}, errors.New("sink configuration must not be nil")
	}
	if err := conf.Validate(); err != nil {
		return SinkOptions{}, errors.Wrap(err, "invalid sink configuration")
	}

	specs, err := conf.IndexSpecs()
	if err != nil {
		return SinkOptions{}, errors.WithStack(err)
	}

	return SinkOptions{
		Settings:        *conf.Settings(),
		Indexes:         specs,
		IncludeDefaults: conf.IncludeDefaults,
		Fields:          conf.Fields,
	}, nil
}

// Sink writes log events to one collection.
type Sink struct {
	env      Environment
	opts     SinkOptions
	settings *model.Settings
	mu       sync.RWMutex
}

// NewSink builds a sink over env. The sink must be initialized before
// events are written.
func NewSink(env Environment, opts SinkOptions) (*Sink, error) {
	if env == nil {
		return nil, errors.New("environment must not be nil")
	}

	for _, spec := range opts.Indexes {
		if err := spec.Validate(); err != nil {
			return nil, errors.Wrap(err, "invalid index declaration")
		}
	}

	return &Sink{env: env, opts: opts}, nil
}

// Initialize resolves the connection string, obtains the collection,
// creating it if it must be capped, and reconciles the declared
// indexes. It blocks until all of that is done.
func (s *Sink) Initialize(ctx context.Context) error {
	settings := s.opts.Settings
	cs, err := ResolveConnectionString(s.env, &settings)
	if err != nil {
		return err
	}
	settings.ConnectionString = cs

	coll, err := s.collection(ctx, &settings)
	if err != nil {
		return err
	}

	reconciler, err := s.env.GetReconciler()
	if err != nil {
		return errors.WithStack(err)
	}

	err = bridge.RunSync(ctx, func(ctx context.Context) error {
		return reconciler.Reconcile(ctx, coll, s.opts.Indexes)
	})
	if err != nil {
		return errors.Wrapf(err, "ensuring indexes on '%s'", coll.Name())
	}

	s.mu.Lock()
	s.settings = &settings
	s.mu.Unlock()

	grip.Info(message.Fields{
		"message":    "sink initialized",
		"connection": settings.ConnectionName,
		"collection": coll.Name(),
		"capped":     settings.IsCapped(),
		"indexes":    len(s.opts.Indexes),
	})

	return nil
}

// Write inserts one document per event in a single batch. Writing no
// events does nothing.
func (s *Sink) Write(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}

	s.mu.RLock()
	settings := s.settings
	s.mu.RUnlock()
	if settings == nil {
		return errors.New("sink is not initialized")
	}

	coll, err := s.collection(ctx, settings)
	if err != nil {
		return err
	}

	docs := make([]interface{}, 0, len(events))
	for _, e := range events {
		docs = append(docs, s.document(e))
	}

	err = bridge.RunSync(ctx, func(ctx context.Context) error {
		return coll.InsertMany(ctx, docs)
	})
	if err != nil {
		return errors.Wrapf(err, "writing %d events to '%s'", len(docs), coll.Name())
	}

	return nil
}

// Close detaches the sink from its collection. Clients belong to the
// environment and stay open.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settings = nil
	return nil
}

func (s *Sink) collection(ctx context.Context, settings *model.Settings) (db.Collection, error) {
	r, err := s.env.GetResolver()
	if err != nil {
		return nil, errors.WithStack(err)
	}

	coll, err := r.GetCollection(ctx, settings)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving collection '%s'", settings.EffectiveCollectionName())
	}

	return coll, nil
}

// ResolveConnectionString returns the explicit connection string, or
// the one registered under the connection name.
func ResolveConnectionString(env Environment, settings *model.Settings) (string, error) {
	if settings.ConnectionString != "" {
		return settings.ConnectionString, nil
	}
	if settings.ConnectionName == "" {
		return "", model.NewConfigurationError(nil, "cannot resolve MongoDB connection string: set connection_string or connection_name")
	}

	cs, ok := env.GetConnectionString(settings.ConnectionName)
	if !ok || cs == "" {
		return "", model.NewConfigurationError(nil, "no connection string named %q found or it is empty", settings.ConnectionName)
	}

	return cs, nil
}
