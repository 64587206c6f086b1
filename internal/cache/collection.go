package cache

import (
	"context"
	"math"
	"regexp"
	"time"
)

// MaxExpiresAt is the latest expiration stored. It is the last instant
// representable in unix nanoseconds, early in the year 2262.
var MaxExpiresAt = time.Unix(0, math.MaxInt64)

// ExpiresNanos returns t in unix nanoseconds, clamped to the int64 range so
// the result never wraps.
func ExpiresNanos(t time.Time) int64 {
	switch {
	case t.After(MaxExpiresAt):
		return math.MaxInt64
	case t.Before(time.Unix(0, math.MinInt64)):
		return math.MinInt64
	}
	return t.UnixNano()
}

// Document is the persisted shape of a cache entry.
type Document struct {
	ID        string
	Value     any
	ExpiresAt time.Time
}

// Filter selects documents. Zero-valued fields do not constrain the match,
// so the zero Filter matches every document.
type Filter struct {
	// ID requires an exact id match when non-empty.
	ID string

	// IDPattern requires the id to match the expression when non-nil.
	IDPattern *regexp.Regexp

	// ExpiresAfter requires ExpiresAt to be strictly after it when non-zero.
	ExpiresAfter time.Time

	// ExpiresBefore requires ExpiresAt to be strictly before it when non-zero.
	ExpiresBefore time.Time
}

// Matches reports whether the document satisfies every constraint of f.
// Backends that cannot push a constraint down to the store use it to
// evaluate the remainder in process.
func (f Filter) Matches(doc Document) bool {
	if f.ID != "" && doc.ID != f.ID {
		return false
	}
	if f.IDPattern != nil && !f.IDPattern.MatchString(doc.ID) {
		return false
	}
	if !f.ExpiresAfter.IsZero() && !doc.ExpiresAt.After(f.ExpiresAfter) {
		return false
	}
	if !f.ExpiresBefore.IsZero() && !doc.ExpiresAt.Before(f.ExpiresBefore) {
		return false
	}
	return true
}

// IndexKey is a single field of an index.
type IndexKey struct {
	Field      string
	Descending bool
}

// IndexSpec describes an index to create on a collection.
type IndexSpec struct {
	Name string
	Keys []IndexKey
}

// Index field names understood by every backend.
const (
	FieldID      = "_id"
	FieldValue   = "value"
	FieldExpires = "expires"
)

// EntryIndex covers the id lookup of Read and the expiration range used by
// Read and ExpireSweep.
var EntryIndex = IndexSpec{
	Name: "id_expires",
	Keys: []IndexKey{
		{Field: FieldID},
		{Field: FieldExpires, Descending: true},
	},
}

// Collection is the document container the store is built on.
type Collection interface {
	// Upsert writes doc, replacing any document with the same id.
	// Values the store cannot represent are reported with ErrEncoding.
	Upsert(ctx context.Context, doc Document) error

	// Find returns documents matching filter. A positive limit caps the
	// number of results.
	Find(ctx context.Context, filter Filter, limit int) ([]Document, error)

	// DeleteMany removes documents matching filter and reports the count.
	DeleteMany(ctx context.Context, filter Filter) (int64, error)

	// DeleteAll removes every document.
	DeleteAll(ctx context.Context) error

	// CreateIndex creates the index if it does not already exist.
	CreateIndex(ctx context.Context, spec IndexSpec) error
}

// Database hands out named collections.
type Database interface {
	Collection(ctx context.Context, name string) (Collection, error)
}
