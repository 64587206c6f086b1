// Package backend opens the document database selected by configuration.
package backend

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"docstore-cache/internal/cache"
	"docstore-cache/internal/collection/memory"
	"docstore-cache/internal/collection/mongodoc"
	"docstore-cache/internal/collection/redisdoc"
	"docstore-cache/internal/collection/sqldoc"
	"docstore-cache/internal/config"
	"docstore-cache/internal/database"
)

// Closer releases the connection behind a database.
type Closer func(ctx context.Context) error

func noopCloser(context.Context) error { return nil }

// Open connects to the configured driver. The store built on top never
// closes the connection; the returned Closer does.
func Open(ctx context.Context, cfg *config.Config, log *zap.Logger) (cache.Database, Closer, error) {
	log = log.With(zap.String("driver", cfg.Cache.Driver))

	switch cfg.Cache.Driver {
	case config.DriverMemory:
		log.Warn("using in-process cache database; entries are lost on restart")
		return memory.NewDatabase(), noopCloser, nil

	case config.DriverSQLite, config.DriverPostgres:
		dsn := cfg.SQLite.Path
		if cfg.Cache.Driver == config.DriverPostgres {
			dsn = cfg.PostgresDSN()
		}
		db, err := database.Open(database.Options{
			Driver:  cfg.Cache.Driver,
			DSN:     dsn,
			Verbose: !cfg.IsProduction(),
		})
		if err != nil {
			return nil, nil, err
		}
		log.Info("sql database connected")
		return sqldoc.NewDatabase(db), func(context.Context) error { return database.Close(db) }, nil

	case config.DriverMongo:
		db, disconnect, err := mongodoc.Connect(ctx, cfg.Mongo.URI, cfg.Cache.Database)
		if err != nil {
			return nil, nil, err
		}
		log.Info("mongo database connected", zap.String("database", cfg.Cache.Database))
		return db, disconnect, nil

	case config.DriverRedis:
		rdb, err := redisdoc.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, nil, err
		}
		log.Info("redis connected", zap.String("addr", cfg.Redis.Addr), zap.Int("db", cfg.Redis.DB))
		return redisdoc.NewDatabase(rdb), func(context.Context) error { return rdb.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("backend: unknown driver %q", cfg.Cache.Driver)
	}
}

// StoreOptions translates configuration into store options for db.
func StoreOptions(cfg *config.Config, db cache.Database, log *zap.Logger) []cache.Option {
	return []cache.Option{
		cache.WithDatabase(db),
		cache.WithDatabaseName(cfg.Cache.Database),
		cache.WithCollectionName(cfg.Cache.Collection),
		cache.WithExpiresIn(cfg.Cache.ExpiresIn),
		cache.WithCreateIndex(cfg.Cache.CreateIndex),
		cache.WithNamespace(cfg.Cache.Namespace),
		cache.WithLogger(log),
	}
}
