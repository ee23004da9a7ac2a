/*
Sink Environment

The Environment holds the process-wide state sinks share: the
collection cache and the resolver built over it, the index reconciler,
the driver command monitors, and a registry of named connection
strings. A global instance is available from GetEnvironment; tests and
embedding programs can build their own with NewEnvironment.

An Environment must be set up once before use. Close disconnects every
client the default database factory opened; after Close the
environment may be set up again.
*/
package mongosink

import (
	"context"
	"sync"

	"github.com/mongodb/mongosink/apm"
	"github.com/mongodb/mongosink/config"
	"github.com/mongodb/mongosink/indexes"
	"github.com/mongodb/mongosink/resolver"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/event"
)

var globalEnv = NewEnvironment()

// Environment exposes the shared state of the sinks in a process.
//
// Implementations are thread-safe.
type Environment interface {
	Setup(context.Context, EnvironmentOptions) error
	RegisterConnectionString(name, connectionString string) error
	GetConnectionString(name string) (string, bool)
	GetResolver() (*resolver.Resolver, error)
	GetReconciler() (*indexes.Reconciler, error)
	GetMonitor() (apm.Monitor, error)
	Close(context.Context) error
}

// EnvironmentOptions configures Setup. Zero values select the
// defaults: a fresh cache, a client factory that connects with the
// configured command monitors, and the default collection creator.
type EnvironmentOptions struct {
	Cache   *resolver.Cache
	Factory resolver.DatabaseFactory
	Creator resolver.CollectionCreator
	APM     config.APM
}

// GetEnvironment returns the global environment. Because this is a
// shared object, prefer NewEnvironment in tests.
func GetEnvironment() Environment { return globalEnv }

// NewEnvironment returns an environment that is not yet set up.
func NewEnvironment() Environment {
	return &envState{connections: make(map[string]string)}
}

type closer interface {
	Close(context.Context) error
}

type envState struct {
	resolver    *resolver.Resolver
	reconciler  *indexes.Reconciler
	monitor     apm.Monitor
	factory     resolver.DatabaseFactory
	connections map[string]string
	cancel      context.CancelFunc
	isSetup     bool
	mu          sync.RWMutex
}

func (e *envState) Setup(ctx context.Context, opts EnvironmentOptions) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.isSetup {
		return errors.New("reconfiguring the sink environment is not supported")
	}
	if opts.APM.LogInterval < 0 {
		return errors.New("apm log interval must not be negative")
	}

	ctx, cancel := context.WithCancel(ctx)

	var monitor apm.Monitor = apm.NewBasicMonitor(&opts.APM.Monitor)
	if opts.APM.LogInterval > 0 {
		monitor = apm.NewLoggingMonitor(ctx, opts.APM.LogInterval, monitor)
	}

	if opts.Factory == nil {
		var tracing *event.CommandMonitor
		if opts.APM.Tracing {
			tracing = apm.NewTracingMonitor(apm.WithStatement(opts.APM.Statements))
		}
		opts.Factory = resolver.NewClientFactory(apm.Combine(tracing, monitor.DriverAPM()))
	}
	if opts.Creator == nil {
		opts.Creator = resolver.NewCollectionCreator()
	}
	if opts.Cache == nil {
		opts.Cache = resolver.NewCache()
	}

	r, err := resolver.New(opts.Cache, opts.Factory, opts.Creator)
	if err != nil {
		cancel()
		return errors.Wrap(err, "building collection resolver")
	}

	e.resolver = r
	e.reconciler = indexes.NewReconciler()
	e.monitor = monitor
	e.factory = opts.Factory
	e.cancel = cancel
	e.isSetup = true

	return nil
}

func (e *envState) RegisterConnectionString(name, connectionString string) error {
	if name == "" {
		return errors.New("connection string name must not be empty")
	}
	if connectionString == "" {
		return errors.Errorf("connection string '%s' must not be empty", name)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if existing, ok := e.connections[name]; ok && existing != connectionString {
		return errors.Errorf("connection string named %s already registered", name)
	}

	e.connections[name] = connectionString
	return nil
}

func (e *envState) GetConnectionString(name string) (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cs, ok := e.connections[name]
	return cs, ok
}

func (e *envState) GetResolver() (*resolver.Resolver, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.resolver == nil {
		return nil, errors.New("sink environment is not set up")
	}

	return e.resolver, nil
}

func (e *envState) GetReconciler() (*indexes.Reconciler, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.reconciler == nil {
		return nil, errors.New("sink environment is not set up")
	}

	return e.reconciler, nil
}

func (e *envState) GetMonitor() (apm.Monitor, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.monitor == nil {
		return nil, errors.New("sink environment is not set up")
	}

	return e.monitor, nil
}

// Close stops the monitors and disconnects every client the database
// factory opened. Registered connection strings are kept.
func (e *envState) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isSetup {
		return nil
	}

	var err error
	if c, ok := e.factory.(closer); ok {
		err = errors.Wrap(c.Close(ctx), "closing database clients")
	}

	e.cancel()
	e.resolver = nil
	e.reconciler = nil
	e.monitor = nil
	e.factory = nil
	e.cancel = nil
	e.isSetup = false

	return err
}
