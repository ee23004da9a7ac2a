// Package mock contains recording, in-memory implementations of the
// interfaces defined in the db package.
package mock

import (
	"context"
	"sync"

	"github.com/mongodb/mongosink/db"
)

type Client struct {
	Databases       map[string]*Database
	DisconnectError error
	Disconnected    bool
	mu              sync.Mutex
}

func NewClient() *Client {
	return &Client{
		Databases: map[string]*Database{},
	}
}

func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Disconnected = true
	return c.DisconnectError
}

func (c *Client) Database(name string) db.Database {
	c.mu.Lock()
	defer c.mu.Unlock()

	if d, ok := c.Databases[name]; ok {
		return d
	}

	c.Databases[name] = NewDatabase(name)
	return c.Databases[name]
}

// DatabaseFactory hands out a fixed database and records every
// connection string it was asked to open.
type DatabaseFactory struct {
	DB          *Database
	Error       error
	Opened      []string
	openedMutex sync.Mutex
}

func NewDatabaseFactory(d *Database) *DatabaseFactory { return &DatabaseFactory{DB: d} }

func (f *DatabaseFactory) Create(ctx context.Context, connectionString string) (db.Database, error) {
	f.openedMutex.Lock()
	f.Opened = append(f.Opened, connectionString)
	f.openedMutex.Unlock()

	if f.Error != nil || f.DB == nil {
		return nil, f.Error
	}

	return f.DB, nil
}

// OpenCount returns the number of Create calls observed so far.
func (f *DatabaseFactory) OpenCount() int {
	f.openedMutex.Lock()
	defer f.openedMutex.Unlock()

	return len(f.Opened)
}
