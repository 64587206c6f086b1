package cache

import (
	"context"
	"time"
)

// Cache is the uniform contract exposed to callers. Expiration is enforced
// at read time; physical removal of expired entries only happens through
// ExpireSweep, Delete, DeleteMatched or Clear.
type Cache interface {
	// Read returns the value and whether a non-expired entry was present.
	Read(ctx context.Context, key string) (any, bool, error)

	// Write upserts the value. If no TTL is given the store default applies.
	Write(ctx context.Context, key string, value any, opts ...WriteOption) error

	// Delete removes a key. Deleting a missing key is a no-op.
	Delete(ctx context.Context, key string) error

	// DeleteMatched removes every key matching the regular expression and
	// reports how many documents were removed.
	DeleteMatched(ctx context.Context, pattern string) (int64, error)

	// Increment adds amount to the integer stored at key. It reports false
	// when the key is absent, in which case nothing is written.
	Increment(ctx context.Context, key string, amount int64, opts ...WriteOption) (int64, bool, error)

	// Decrement subtracts amount from the integer stored at key.
	Decrement(ctx context.Context, key string, amount int64, opts ...WriteOption) (int64, bool, error)

	// Clear removes all entries.
	Clear(ctx context.Context) error

	// ExpireSweep removes entries whose expiration has passed.
	ExpireSweep(ctx context.Context) (int64, error)
}

// DefaultExpiresIn is the TTL applied when neither the store nor the write
// specifies one.
const DefaultExpiresIn = 24 * time.Hour

// DefaultCollectionName names the backing collection when none is configured.
const DefaultCollectionName = "rails_cache"

// DefaultDatabaseName names the backing database when none is configured.
const DefaultDatabaseName = "rails_cache"

// Ensure Store implements Cache at compile time.
var _ Cache = (*Store)(nil)
