package resolver

import (
	"context"
	"sync"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/mongodb/mongosink/db"
	"github.com/mongodb/mongosink/model"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/event"
)

// DatabaseFactory opens the database a connection string points at.
type DatabaseFactory interface {
	Create(ctx context.Context, connectionString string) (db.Database, error)
}

// ClientFactory is the DatabaseFactory backed by the driver. It keeps
// one client per connection string for the life of the factory.
type ClientFactory struct {
	monitor *event.CommandMonitor
	connect func(string, *event.CommandMonitor) (db.Client, string, error)
	clients map[string]clientEntry
	mu      sync.Mutex
}

type clientEntry struct {
	client db.Client
	dbName string
}

// NewClientFactory builds a ClientFactory whose clients report their
// commands to monitor, which may be nil.
func NewClientFactory(monitor *event.CommandMonitor) *ClientFactory {
	return &ClientFactory{
		monitor: monitor,
		connect: db.Connect,
		clients: make(map[string]clientEntry),
	}
}

func (f *ClientFactory) Create(ctx context.Context, connectionString string) (db.Database, error) {
	if connectionString == "" {
		return nil, errors.New("connection string is empty")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	entry, ok := f.clients[connectionString]
	if !ok {
		client, dbName, err := f.connect(connectionString, f.monitor)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		if dbName == "" {
			dbName = model.DefaultDatabaseName
		}

		entry = clientEntry{client: client, dbName: dbName}
		f.clients[connectionString] = entry

		grip.Debug(message.Fields{
			"message":  "opened storage client",
			"database": dbName,
			"clients":  len(f.clients),
		})
	}

	return entry.client.Database(entry.dbName), nil
}

// Close disconnects every client the factory opened.
func (f *ClientFactory) Close(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	catcher := grip.NewCatcher()
	for key, entry := range f.clients {
		catcher.Add(errors.Wrapf(entry.client.Disconnect(ctx), "disconnecting client for database '%s'", entry.dbName))
		delete(f.clients, key)
	}

	return catcher.Resolve()
}
