package backend

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"docstore-cache/internal/cache"
	"docstore-cache/internal/config"
)

func testConfig(t *testing.T, driver string) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Cache.Driver = driver
	cfg.Cache.Collection = "rails_cache"
	cfg.Cache.Database = "rails_cache"
	cfg.Cache.ExpiresIn = time.Hour
	cfg.Cache.CreateIndex = true
	cfg.Cache.Namespace = "test"
	cfg.SQLite.Path = filepath.Join(t.TempDir(), "cache.db")
	return cfg
}

func roundTrip(t *testing.T, cfg *config.Config) {
	t.Helper()
	ctx := context.Background()
	log := zap.NewNop()

	db, closer, err := Open(ctx, cfg, log)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, closer(ctx)) })

	s, err := cache.New(StoreOptions(cfg, db, log)...)
	require.NoError(t, err)
	require.Equal(t, time.Hour, s.ExpiresIn())
	require.Equal(t, "test", s.Namespace())

	require.NoError(t, s.Write(ctx, "k", "v"))
	v, ok, err := s.Read(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v", v)
}

func TestOpen_Memory(t *testing.T) {
	roundTrip(t, testConfig(t, config.DriverMemory))
}

func TestOpen_SQLite(t *testing.T) {
	roundTrip(t, testConfig(t, config.DriverSQLite))
}

func TestOpen_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t, config.DriverRedis)
	cfg.Redis.Addr = mr.Addr()
	roundTrip(t, cfg)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, _, err := Open(context.Background(), testConfig(t, "etcd"), zap.NewNop())
	require.Error(t, err)
}
