// Package memory provides an in-process document collection. Values are
// held in their encoded form so that a stored document can never be
// mutated through a value the caller still owns.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"docstore-cache/internal/cache"
	"docstore-cache/internal/codec"
)

// entry stores an encoded value and its absolute expiration timestamp.
type entry struct {
	value     []byte
	expiresAt time.Time
}

// Collection is a map-backed cache.Collection safe for concurrent use.
type Collection struct {
	mu      sync.RWMutex
	items   map[string]entry
	indexes map[string]cache.IndexSpec
}

// NewCollection constructs an empty Collection.
func NewCollection() *Collection {
	return &Collection{
		items:   make(map[string]entry),
		indexes: make(map[string]cache.IndexSpec),
	}
}

func (c *Collection) lockR() func() {
	c.mu.RLock()
	return c.mu.RUnlock
}

func (c *Collection) lockW() func() {
	c.mu.Lock()
	return c.mu.Unlock
}

// Upsert implements cache.Collection.
func (c *Collection) Upsert(ctx context.Context, doc cache.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := codec.Encode(doc.Value)
	if err != nil {
		return err
	}

	unlock := c.lockW()
	defer unlock()
	c.items[doc.ID] = entry{value: b, expiresAt: doc.ExpiresAt}
	return nil
}

// Find implements cache.Collection. Results are ordered by id.
func (c *Collection) Find(ctx context.Context, filter cache.Filter, limit int) ([]cache.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	unlock := c.lockR()
	defer unlock()
	ids := c.matching(filter)
	docs := make([]cache.Document, 0, len(ids))
	for _, id := range ids {
		if limit > 0 && len(docs) == limit {
			break
		}
		e := c.items[id]
		v, err := codec.Decode(e.value)
		if err != nil {
			return nil, err
		}
		docs = append(docs, cache.Document{ID: id, Value: v, ExpiresAt: e.expiresAt})
	}
	return docs, nil
}

// DeleteMany implements cache.Collection.
func (c *Collection) DeleteMany(ctx context.Context, filter cache.Filter) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	unlock := c.lockW()
	defer unlock()
	ids := c.matching(filter)
	for _, id := range ids {
		delete(c.items, id)
	}
	return int64(len(ids)), nil
}

// DeleteAll implements cache.Collection.
func (c *Collection) DeleteAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	unlock := c.lockW()
	defer unlock()
	c.items = make(map[string]entry)
	return nil
}

// CreateIndex records the index. Lookups are map based, so it has no
// effect on query cost.
func (c *Collection) CreateIndex(ctx context.Context, spec cache.IndexSpec) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	unlock := c.lockW()
	defer unlock()
	c.indexes[spec.Name] = spec
	return nil
}

// Indexes returns the names of the indexes created so far.
func (c *Collection) Indexes() []string {
	unlock := c.lockR()
	defer unlock()
	names := make([]string, 0, len(c.indexes))
	for name := range c.indexes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of stored documents, expired ones included.
func (c *Collection) Len() int {
	unlock := c.lockR()
	defer unlock()
	return len(c.items)
}

// matching must be called with the lock held.
func (c *Collection) matching(filter cache.Filter) []string {
	if filter.ID != "" {
		e, ok := c.items[filter.ID]
		if !ok || !filter.Matches(cache.Document{ID: filter.ID, ExpiresAt: e.expiresAt}) {
			return nil
		}
		return []string{filter.ID}
	}

	ids := make([]string, 0, len(c.items))
	for id, e := range c.items {
		if filter.Matches(cache.Document{ID: id, ExpiresAt: e.expiresAt}) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Database hands out named in-memory collections.
type Database struct {
	mu          sync.Mutex
	collections map[string]*Collection
}

// NewDatabase constructs an empty Database.
func NewDatabase() *Database {
	return &Database{collections: make(map[string]*Collection)}
}

// Collection implements cache.Database. Repeated calls with the same name
// return the same collection.
func (d *Database) Collection(_ context.Context, name string) (cache.Collection, error) {
	return d.Named(name), nil
}

// Named returns the concrete collection called name, creating it if needed.
func (d *Database) Named(name string) *Collection {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.collections[name]
	if !ok {
		c = NewCollection()
		d.collections[name] = c
	}
	return c
}

// Ensure the memory types implement the cache capabilities at compile time.
var (
	_ cache.Collection = (*Collection)(nil)
	_ cache.Database   = (*Database)(nil)
)
