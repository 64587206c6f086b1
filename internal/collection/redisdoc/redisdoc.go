// Package redisdoc stores cache documents as Redis hashes. The document with
// id ID in collection C lives at key "C:ID" with the fields value (JSON) and
// expires (unix nanoseconds). Filters other than an exact id are evaluated
// while scanning the collection's keys.
package redisdoc

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"docstore-cache/internal/cache"
	"docstore-cache/internal/codec"
)

const (
	scanCount       = 200
	deleteBatchSize = 500
)

// Collection is a cache.Collection over a Redis key prefix.
type Collection struct {
	rdb  redis.UniversalClient
	name string
}

// NewCollection returns the collection called name.
func NewCollection(rdb redis.UniversalClient, name string) (*Collection, error) {
	if name == "" {
		return nil, errors.New("redisdoc: empty collection name")
	}
	return &Collection{rdb: rdb, name: name}, nil
}

func (c *Collection) key(id string) string {
	return c.name + ":" + id
}

// Upsert implements cache.Collection.
func (c *Collection) Upsert(ctx context.Context, doc cache.Document) error {
	b, err := codec.Encode(doc.Value)
	if err != nil {
		return err
	}
	err = c.rdb.HSet(ctx, c.key(doc.ID),
		cache.FieldValue, b,
		cache.FieldExpires, cache.ExpiresNanos(doc.ExpiresAt),
	).Err()
	if err != nil {
		return fmt.Errorf("redisdoc: upsert %q: %w", doc.ID, err)
	}
	return nil
}

// Find implements cache.Collection. Results are ordered by id.
func (c *Collection) Find(ctx context.Context, filter cache.Filter, limit int) ([]cache.Document, error) {
	ids, err := c.matching(ctx, filter)
	if err != nil {
		return nil, err
	}

	docs := make([]cache.Document, 0, len(ids))
	for _, id := range ids {
		if limit > 0 && len(docs) == limit {
			break
		}
		doc, ok, err := c.load(ctx, id, true)
		if err != nil {
			return nil, err
		}
		// The document may have changed since matching; check it again.
		if ok && filter.Matches(doc) {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

// DeleteMany implements cache.Collection.
func (c *Collection) DeleteMany(ctx context.Context, filter cache.Filter) (int64, error) {
	ids, err := c.matching(ctx, filter)
	if err != nil {
		return 0, err
	}
	return c.del(ctx, ids)
}

// DeleteAll implements cache.Collection.
func (c *Collection) DeleteAll(ctx context.Context) error {
	ids, err := c.scan(ctx)
	if err != nil {
		return err
	}
	_, err = c.del(ctx, ids)
	return err
}

// CreateIndex is a no-op: documents are addressed by key, and expiration
// filters are evaluated during the scan.
func (c *Collection) CreateIndex(context.Context, cache.IndexSpec) error {
	return nil
}

// matching returns the sorted ids of documents satisfying filter.
func (c *Collection) matching(ctx context.Context, filter cache.Filter) ([]string, error) {
	var candidates []string
	if filter.ID != "" {
		candidates = []string{filter.ID}
	} else {
		var err error
		if candidates, err = c.scan(ctx); err != nil {
			return nil, err
		}
	}

	needExpires := !filter.ExpiresAfter.IsZero() || !filter.ExpiresBefore.IsZero()
	ids := make([]string, 0, len(candidates))
	for _, id := range candidates {
		if filter.IDPattern != nil && !filter.IDPattern.MatchString(id) {
			continue
		}
		if filter.ID == "" && !needExpires {
			ids = append(ids, id)
			continue
		}
		doc, ok, err := c.load(ctx, id, false)
		if err != nil {
			return nil, err
		}
		if ok && filter.Matches(doc) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// load reads a document. The value is only decoded when withValue is set.
func (c *Collection) load(ctx context.Context, id string, withValue bool) (cache.Document, bool, error) {
	fields, err := c.rdb.HMGet(ctx, c.key(id), cache.FieldValue, cache.FieldExpires).Result()
	if err != nil {
		return cache.Document{}, false, fmt.Errorf("redisdoc: load %q: %w", id, err)
	}
	if fields[0] == nil || fields[1] == nil {
		return cache.Document{}, false, nil
	}
	raw, _ := fields[0].(string)
	expires, _ := fields[1].(string)

	nanos, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return cache.Document{}, false, fmt.Errorf("redisdoc: document %q: bad expires %q", id, expires)
	}
	doc := cache.Document{ID: id, ExpiresAt: time.Unix(0, nanos)}
	if withValue {
		if doc.Value, err = codec.Decode([]byte(raw)); err != nil {
			return cache.Document{}, false, fmt.Errorf("redisdoc: document %q: %w", id, err)
		}
	}
	return doc, true, nil
}

// scan lists the ids of every document in the collection.
func (c *Collection) scan(ctx context.Context) ([]string, error) {
	prefix := c.name + ":"
	seen := make(map[string]struct{})
	iter := c.rdb.Scan(ctx, 0, escapeGlob(prefix)+"*", scanCount).Iterator()
	for iter.Next(ctx) {
		seen[strings.TrimPrefix(iter.Val(), prefix)] = struct{}{}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redisdoc: scan %s: %w", c.name, err)
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (c *Collection) del(ctx context.Context, ids []string) (int64, error) {
	var deleted int64
	for start := 0; start < len(ids); start += deleteBatchSize {
		end := min(start+deleteBatchSize, len(ids))
		keys := make([]string, 0, end-start)
		for _, id := range ids[start:end] {
			keys = append(keys, c.key(id))
		}
		n, err := c.rdb.Del(ctx, keys...).Result()
		if err != nil {
			return deleted, fmt.Errorf("redisdoc: delete from %s: %w", c.name, err)
		}
		deleted += n
	}
	return deleted, nil
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}

// Database hands out collections stored in one Redis database.
type Database struct {
	rdb redis.UniversalClient
}

// NewDatabase wraps rdb.
func NewDatabase(rdb redis.UniversalClient) *Database {
	return &Database{rdb: rdb}
}

// Collection implements cache.Database.
func (d *Database) Collection(_ context.Context, name string) (cache.Collection, error) {
	c, err := NewCollection(d.rdb, name)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Connect creates a client for addr and checks that Redis is reachable.
func Connect(ctx context.Context, addr, password string, dbNumber int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       dbNumber,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redisdoc: ping %s: %w", addr, err)
	}
	return rdb, nil
}

// Ensure the redisdoc types implement the cache capabilities at compile time.
var (
	_ cache.Collection = (*Collection)(nil)
	_ cache.Database   = (*Database)(nil)
)
