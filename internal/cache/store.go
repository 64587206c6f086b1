package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// now is a small indirection to allow test stubbing.
var now = time.Now

// Store is a cache backed by a document collection.
//
// Entries carry an absolute expiration time. Reads ignore expired entries,
// so correctness never depends on ExpireSweep running; sweeping only
// reclaims storage. Writes always upsert, which keeps at most one document
// per key.
//
// Store holds no per-key locks. Concurrent writes to a key are last writer
// wins, and Increment/Decrement are not atomic.
type Store struct {
	mu         sync.Mutex
	collection Collection
	database   Database

	collectionName string
	databaseName   string
	createIndex    bool
	namespace      string
	expiresIn      atomic.Int64
	log            *zap.Logger
}

// New builds a Store. Exactly one of WithCollection or WithDatabase must be
// given. No backend call is made until the first operation.
func New(opts ...Option) (*Store, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.validate(); err != nil {
		return nil, err
	}

	s := &Store{
		collection:     o.collection,
		database:       o.database,
		collectionName: o.collectionName,
		databaseName:   o.databaseName,
		createIndex:    o.createIndex,
		namespace:      o.namespace,
		log:            o.logger,
	}
	s.expiresIn.Store(int64(o.expiresIn))
	return s, nil
}

// Collection returns the backing collection, opening it on first use. A
// failed open is retried by the next call. Once opened the handle is shared
// for the lifetime of the store and never closed by it.
func (s *Store) Collection(ctx context.Context) (Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.collection != nil {
		return s.collection, nil
	}

	coll, err := s.database.Collection(ctx, s.collectionName)
	if err != nil {
		return nil, fmt.Errorf("cache: open collection %q: %w", s.collectionName, err)
	}
	if s.createIndex {
		if err := coll.CreateIndex(ctx, EntryIndex); err != nil {
			return nil, fmt.Errorf("cache: create index on %q: %w", s.collectionName, err)
		}
	}
	s.log.Debug("cache collection opened",
		zap.String("database", s.databaseName),
		zap.String("collection", s.collectionName),
		zap.Bool("indexed", s.createIndex))
	s.collection = coll
	return coll, nil
}

// ExpiresIn returns the default TTL.
func (s *Store) ExpiresIn() time.Duration {
	return time.Duration(s.expiresIn.Load())
}

// SetExpiresIn changes the default TTL for subsequent writes.
func (s *Store) SetExpiresIn(d time.Duration) error {
	if d <= 0 {
		return configError("expiresIn", "must be positive")
	}
	s.expiresIn.Store(int64(d))
	return nil
}

// Namespace returns the key prefix, or "" when keys are not namespaced.
func (s *Store) Namespace() string {
	return s.namespace
}

// Write stores value under key until now plus the TTL, or MaxExpiresAt when
// that is later.
//
// If the collection rejects the value as not encodable, the value is
// converted to its string form and written once more. A second failure is
// returned to the caller.
func (s *Store) Write(ctx context.Context, key string, value any, opts ...WriteOption) error {
	if key == "" {
		return ErrEmptyKey
	}
	coll, err := s.Collection(ctx)
	if err != nil {
		return err
	}

	wo := writeOptions{expiresIn: s.ExpiresIn()}
	for _, opt := range opts {
		opt(&wo)
	}

	expiresAt := now().Add(wo.expiresIn)
	if expiresAt.After(MaxExpiresAt) {
		expiresAt = MaxExpiresAt
	}
	doc := Document{
		ID:        s.namespaced(key),
		Value:     value,
		ExpiresAt: expiresAt,
	}
	err = coll.Upsert(ctx, doc)
	if err == nil || !errors.Is(err, ErrEncoding) {
		return err
	}
	if _, isString := value.(string); isString {
		return err
	}

	s.log.Debug("cache value not encodable, storing string form",
		zap.String("key", doc.ID),
		zap.String("type", fmt.Sprintf("%T", value)),
		zap.Error(err))
	doc.Value = fmt.Sprint(value)
	return coll.Upsert(ctx, doc)
}

// Read returns the value stored under key. A missing or expired entry is
// reported with ok == false and a nil error.
func (s *Store) Read(ctx context.Context, key string) (any, bool, error) {
	if key == "" {
		return nil, false, ErrEmptyKey
	}
	coll, err := s.Collection(ctx)
	if err != nil {
		return nil, false, err
	}

	docs, err := coll.Find(ctx, Filter{ID: s.namespaced(key), ExpiresAfter: now()}, 1)
	if err != nil {
		return nil, false, err
	}
	if len(docs) == 0 {
		return nil, false, nil
	}
	return docs[0].Value, true, nil
}

// Exist reports whether key holds a non-expired entry.
func (s *Store) Exist(ctx context.Context, key string) (bool, error) {
	_, ok, err := s.Read(ctx, key)
	return ok, err
}

// Fetch returns the cached value for key, or calls fn on a miss and caches
// its result. Errors from fn are returned and nothing is written.
func (s *Store) Fetch(ctx context.Context, key string, fn func(ctx context.Context) (any, error), opts ...WriteOption) (any, error) {
	v, ok, err := s.Read(ctx, key)
	if err != nil {
		return nil, err
	}
	if ok {
		return v, nil
	}

	v, err = fn(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.Write(ctx, key, v, opts...); err != nil {
		return nil, err
	}
	return v, nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	coll, err := s.Collection(ctx)
	if err != nil {
		return err
	}
	_, err = coll.DeleteMany(ctx, Filter{ID: s.namespaced(key)})
	return err
}

// DeleteMatched removes every entry whose key matches the regular
// expression pattern. In a namespaced store the pattern is applied to the
// part of the id after the namespace prefix.
//
// The deletion is not atomic: a key written while the deletion runs may or
// may not be removed.
func (s *Store) DeleteMatched(ctx context.Context, pattern string) (int64, error) {
	re, err := keyMatcher(s.namespace, pattern)
	if err != nil {
		return 0, err
	}
	coll, err := s.Collection(ctx)
	if err != nil {
		return 0, err
	}
	return coll.DeleteMany(ctx, Filter{IDPattern: re})
}

// Increment adds amount to the integer stored under key and writes the
// result back with the default TTL unless opts override it. A stored value
// that is not numeric counts as 0. Results saturate at the int64 bounds
// instead of wrapping. When key is absent it returns false and writes
// nothing.
//
// Increment is a read followed by a write with nothing in between to guard
// them. Concurrent increments of the same key can lose updates; callers that
// need an exact counter must not rely on it.
func (s *Store) Increment(ctx context.Context, key string, amount int64, opts ...WriteOption) (int64, bool, error) {
	return s.add(ctx, key, amount, opts)
}

// Decrement subtracts amount from the integer stored under key. It has the
// same absent-key and concurrency behaviour as Increment.
func (s *Store) Decrement(ctx context.Context, key string, amount int64, opts ...WriteOption) (int64, bool, error) {
	return s.add(ctx, key, -amount, opts)
}

func (s *Store) add(ctx context.Context, key string, delta int64, opts []WriteOption) (int64, bool, error) {
	v, ok, err := s.Read(ctx, key)
	if err != nil || !ok {
		return 0, false, err
	}

	n := addSaturating(toInteger(v), delta)
	if err := s.Write(ctx, key, n, opts...); err != nil {
		return 0, false, err
	}
	return n, true, nil
}

// ExpireSweep deletes every entry that has already expired and reports how
// many were removed. It never touches live entries and reads do not depend
// on it, so it may run at any time or not at all.
func (s *Store) ExpireSweep(ctx context.Context) (int64, error) {
	coll, err := s.Collection(ctx)
	if err != nil {
		return 0, err
	}
	return coll.DeleteMany(ctx, Filter{ExpiresBefore: now()})
}

// Clear deletes every document in the collection, including entries
// written under other namespaces.
func (s *Store) Clear(ctx context.Context) error {
	coll, err := s.Collection(ctx)
	if err != nil {
		return err
	}
	return coll.DeleteAll(ctx)
}
