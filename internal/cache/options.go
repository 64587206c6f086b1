package cache

import (
	"time"

	"go.uber.org/zap"
)

type options struct {
	collection     Collection
	database       Database
	collectionName string
	databaseName   string
	expiresIn      time.Duration
	createIndex    bool
	namespace      string
	logger         *zap.Logger
}

func defaultOptions() options {
	return options{
		collectionName: DefaultCollectionName,
		databaseName:   DefaultDatabaseName,
		expiresIn:      DefaultExpiresIn,
		createIndex:    true,
		logger:         zap.NewNop(),
	}
}

// Option configures a Store.
type Option func(o *options)

// WithCollection uses an already opened collection. Index creation is
// skipped for injected collections.
func WithCollection(c Collection) Option {
	return func(o *options) {
		o.collection = c
	}
}

// WithDatabase sets the database the collection is opened from on first use.
func WithDatabase(db Database) Option {
	return func(o *options) {
		o.database = db
	}
}

// WithCollectionName overrides the default "rails_cache" collection.
func WithCollectionName(name string) Option {
	return func(o *options) {
		o.collectionName = name
	}
}

// WithDatabaseName records the database name the store was configured for.
func WithDatabaseName(name string) Option {
	return func(o *options) {
		o.databaseName = name
	}
}

// WithExpiresIn sets the default TTL.
func WithExpiresIn(d time.Duration) Option {
	return func(o *options) {
		o.expiresIn = d
	}
}

// WithCreateIndex controls whether the id/expiration index is requested when
// the collection is first opened.
func WithCreateIndex(create bool) Option {
	return func(o *options) {
		o.createIndex = create
	}
}

// WithNamespace prefixes every key with "namespace:".
func WithNamespace(ns string) Option {
	return func(o *options) {
		o.namespace = ns
	}
}

// WithLogger sets the logger. A nil logger disables logging.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l == nil {
			l = zap.NewNop()
		}
		o.logger = l
	}
}

func (o options) validate() error {
	switch {
	case o.collection == nil && o.database == nil:
		return configError("collection", "a collection or a database is required")
	case o.collection != nil && o.database != nil:
		return configError("collection", "collection and database are mutually exclusive")
	case o.collectionName == "":
		return configError("collectionName", "must not be empty")
	case o.expiresIn <= 0:
		return configError("expiresIn", "must be positive")
	}
	return nil
}

type writeOptions struct {
	expiresIn time.Duration
}

// WriteOption adjusts a single write.
type WriteOption func(o *writeOptions)

// ExpiresIn overrides the store default TTL for one write. Non-positive
// durations are ignored.
func ExpiresIn(d time.Duration) WriteOption {
	return func(o *writeOptions) {
		if d > 0 {
			o.expiresIn = d
		}
	}
}
