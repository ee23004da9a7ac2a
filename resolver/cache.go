package resolver

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/mongodb/mongosink/db"
	"github.com/mongodb/mongosink/model"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

const cacheKeyPrefix = "k"

// CacheKey derives the memoization key for a connection identity. Each
// field is quoted, so two identities share a key only when all three
// fields are equal, whatever characters they contain.
func CacheKey(s *model.Settings) string {
	var b strings.Builder
	b.WriteString(cacheKeyPrefix)
	for _, field := range []string{s.ConnectionName, s.ConnectionString, s.CollectionName} {
		b.WriteByte('|')
		b.WriteString(strconv.Quote(field))
	}
	return b.String()
}

// Cache maps cache keys to resolved collections. Entries are added on
// first resolution and never evicted. Concurrent first resolutions of
// the same key share one creation; a failed creation is not stored.
//
// The shared creation does not observe any caller's cancellation. A
// caller whose context ends stops waiting and returns its own context
// error, while the others keep waiting for the creation's result.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]db.Collection
	group   singleflight.Group
}

// NewCache returns an empty Cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]db.Collection)}
}

// Get returns the collection stored for key, if any.
func (c *Cache) Get(key string) (db.Collection, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	coll, ok := c.entries[key]
	return coll, ok
}

// Len returns the number of stored collections.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

// GetOrCreate returns the collection stored for key, calling create to
// produce and store it when there is none. Callers racing on the same
// key wait for a single create call and all observe its result, unless
// their own context ends first. create receives a context that carries
// the first caller's values but not its cancellation.
func (c *Cache) GetOrCreate(ctx context.Context, key string, create func(context.Context) (db.Collection, error)) (db.Collection, error) {
	if coll, ok := c.Get(key); ok {
		return coll, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, errors.WithStack(err)
	}

	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		if coll, ok := c.Get(key); ok {
			return coll, nil
		}

		coll, err := create(shared)
		if err != nil {
			return nil, err
		}

		return c.store(key, coll), nil
	})

	select {
	case <-ctx.Done():
		return nil, errors.WithStack(ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(db.Collection), nil
	}
}

// store inserts coll unless key is already present, and returns the
// collection that ends up stored.
func (c *Cache) store(key string, coll db.Collection) db.Collection {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[key]; ok {
		return existing
	}

	c.entries[key] = coll
	return coll
}
