package mock

import (
	"context"
	"sync"

	"github.com/mongodb/mongosink/db"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// Server error codes reproduced by the fakes.
const (
	CodeIndexNotFound          = 27
	CodeCannotCreateIndex      = 67
	CodeIndexKeySpecsConflict  = 86
	CodeNamespaceExists        = 48
	CodeInvalidCreateIndexArgs = 2
)

type CreatedCollection struct {
	Name    string
	Options db.CollectionOptions
}

type Database struct {
	DBName      string
	Collections map[string]*Collection
	Created     []CreatedCollection
	ListFilters []interface{}
	ListError   error
	CreateError error
	mu          sync.Mutex
}

func NewDatabase(name string) *Database {
	return &Database{
		DBName:      name,
		Collections: map[string]*Collection{},
	}
}

func (d *Database) Name() string { return d.DBName }

func (d *Database) Collection(name string) db.Collection {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.collection(name)
}

func (d *Database) collection(name string) *Collection {
	if c, ok := d.Collections[name]; ok {
		return c
	}

	d.Collections[name] = NewCollection(name)
	return d.Collections[name]
}

// AddExisting registers a collection that already exists on the
// "server", with the given index names.
func (d *Database) AddExisting(name string, indexes ...string) *Collection {
	d.mu.Lock()
	defer d.mu.Unlock()

	c := d.collection(name)
	c.Exists = true
	c.IndexView.Existing = append(c.IndexView.Existing, indexes...)
	return c
}

func (d *Database) ListCollectionNames(ctx context.Context, filter interface{}) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.ListFilters = append(d.ListFilters, filter)
	if d.ListError != nil {
		return nil, d.ListError
	}

	want, filtered := nameFilter(filter)
	out := []string{}
	for name, c := range d.Collections {
		if !c.Exists || (filtered && name != want) {
			continue
		}
		out = append(out, name)
	}

	return out, nil
}

func (d *Database) CreateCollection(ctx context.Context, name string, opts db.CollectionOptions) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.CreateError != nil {
		return d.CreateError
	}

	c := d.collection(name)
	if c.Exists {
		return mongo.CommandError{Code: CodeNamespaceExists, Name: "NamespaceExists", Message: "collection already exists"}
	}

	c.Exists = true
	c.Options = opts
	d.Created = append(d.Created, CreatedCollection{Name: name, Options: opts})
	return nil
}

// CreateCount returns the number of successful CreateCollection calls.
func (d *Database) CreateCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.Created)
}

func nameFilter(filter interface{}) (string, bool) {
	switch f := filter.(type) {
	case bson.D:
		for _, e := range f {
			if e.Key == "name" {
				name, ok := e.Value.(string)
				return name, ok
			}
		}
	case bson.M:
		name, ok := f["name"].(string)
		return name, ok
	}

	return "", false
}

type Collection struct {
	CollName     string
	Exists       bool
	Options      db.CollectionOptions
	InsertedDocs []interface{}
	FailWrites   bool
	IndexView    *IndexView
	mu           sync.Mutex
}

func NewCollection(name string) *Collection {
	return &Collection{CollName: name, IndexView: &IndexView{}}
}

func (c *Collection) Name() string          { return c.CollName }
func (c *Collection) Indexes() db.IndexView { return c.IndexView }
func (c *Collection) InsertMany(ctx context.Context, docs []interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.FailWrites {
		return errors.New("writes fail")
	}

	c.Exists = true
	c.InsertedDocs = append(c.InsertedDocs, docs...)
	return nil
}

// IndexView records every call in Calls, in order, as "list",
// "drop:<name>" or "create".
type IndexView struct {
	Existing    []string
	Dropped     []string
	Created     [][]db.IndexModel
	Calls       []string
	ListError   error
	DropError   error
	CreateError error
	mu          sync.Mutex
}

func (iv *IndexView) ListNames(ctx context.Context) ([]string, error) {
	iv.mu.Lock()
	defer iv.mu.Unlock()

	iv.Calls = append(iv.Calls, "list")
	if iv.ListError != nil {
		return nil, iv.ListError
	}

	return append([]string{}, iv.Existing...), nil
}

func (iv *IndexView) DropOne(ctx context.Context, name string) error {
	iv.mu.Lock()
	defer iv.mu.Unlock()

	iv.Calls = append(iv.Calls, "drop:"+name)
	if iv.DropError != nil {
		return iv.DropError
	}

	for idx := range iv.Existing {
		if iv.Existing[idx] == name {
			iv.Existing = append(iv.Existing[:idx], iv.Existing[idx+1:]...)
			iv.Dropped = append(iv.Dropped, name)
			return nil
		}
	}

	return mongo.CommandError{Code: CodeIndexNotFound, Name: "IndexNotFound", Message: "index not found with name [" + name + "]"}
}

func (iv *IndexView) CreateMany(ctx context.Context, models []db.IndexModel) error {
	iv.mu.Lock()
	defer iv.mu.Unlock()

	iv.Calls = append(iv.Calls, "create")
	if iv.CreateError != nil {
		return iv.CreateError
	}
	if len(models) == 0 {
		return mongo.CommandError{Code: CodeInvalidCreateIndexArgs, Name: "BadValue", Message: "Must specify at least one index to create"}
	}

	for _, m := range models {
		seen := map[string]struct{}{}
		for _, k := range m.Keys {
			if _, ok := seen[k.Key]; ok {
				return mongo.CommandError{Code: CodeCannotCreateIndex, Name: "CannotCreateIndex", Message: "duplicate field " + k.Key + " in index " + m.Name}
			}
			seen[k.Key] = struct{}{}
		}
		for _, name := range iv.Existing {
			if name == m.Name {
				return mongo.CommandError{Code: CodeIndexKeySpecsConflict, Name: "IndexKeySpecsConflict", Message: "index " + m.Name + " already exists"}
			}
		}
	}

	iv.Created = append(iv.Created, models)
	for _, m := range models {
		iv.Existing = append(iv.Existing, m.Name)
	}

	return nil
}
