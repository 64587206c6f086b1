package redisdoc

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"docstore-cache/internal/cache"
)

func newTestCollection(t *testing.T) (*Collection, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	c, err := NewCollection(rdb, "rails_cache")
	require.NoError(t, err)
	return c, mr
}

func TestCollection_UpsertFind(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCollection(t)
	exp := time.Now().Add(time.Hour)

	require.NoError(t, c.Upsert(ctx, cache.Document{ID: "k", Value: "v1", ExpiresAt: exp}))
	require.NoError(t, c.Upsert(ctx, cache.Document{ID: "k", Value: 7, ExpiresAt: exp}))
	require.Len(t, mr.Keys(), 1)
	require.Equal(t, "7", mr.HGet("rails_cache:k", "value"))

	docs, err := c.Find(ctx, cache.Filter{ID: "k", ExpiresAfter: time.Now()}, 1)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, int64(7), docs[0].Value)

	docs, err = c.Find(ctx, cache.Filter{ID: "k", ExpiresAfter: exp}, 1)
	require.NoError(t, err)
	require.Empty(t, docs)

	docs, err = c.Find(ctx, cache.Filter{ID: "missing"}, 1)
	require.NoError(t, err)
	require.Empty(t, docs)
}

func TestCollection_DeleteMany(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCollection(t)
	now := time.Now()
	require.NoError(t, c.Upsert(ctx, cache.Document{ID: "app:user:1", Value: 1, ExpiresAt: now.Add(time.Hour)}))
	require.NoError(t, c.Upsert(ctx, cache.Document{ID: "app:user:2", Value: 2, ExpiresAt: now.Add(-time.Hour)}))
	require.NoError(t, c.Upsert(ctx, cache.Document{ID: "app:post:1", Value: 3, ExpiresAt: now.Add(time.Hour)}))
	mr.Set("unrelated", "x")

	n, err := c.DeleteMany(ctx, cache.Filter{ExpiresBefore: now})
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	n, err = c.DeleteMany(ctx, cache.Filter{IDPattern: regexp.MustCompile(`^app:user:`)})
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	n, err = c.DeleteMany(ctx, cache.Filter{ID: "app:user:1"})
	require.NoError(t, err)
	require.Zero(t, n)

	require.NoError(t, c.DeleteAll(ctx))
	require.True(t, mr.Exists("unrelated"), "keys outside the collection are kept")
	require.False(t, mr.Exists("rails_cache:app:post:1"))
}

func TestCollection_Unencodable(t *testing.T) {
	c, _ := newTestCollection(t)
	err := c.Upsert(context.Background(), cache.Document{ID: "k", Value: make(chan int)})
	require.True(t, errors.Is(err, cache.ErrEncoding))
}

func TestCollection_BackendErrors(t *testing.T) {
	c, mr := newTestCollection(t)
	mr.SetError("LOADING")
	_, err := c.Find(context.Background(), cache.Filter{ID: "k"}, 1)
	require.Error(t, err)
	require.False(t, errors.Is(err, cache.ErrEncoding))
}

func TestEscapeGlob(t *testing.T) {
	require.Equal(t, `a\*b\?\[c\]\\`, escapeGlob(`a*b?[c]\`))
}

func TestStoreOnRedis(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	s, err := cache.New(cache.WithDatabase(NewDatabase(rdb)), cache.WithNamespace("app"))
	require.NoError(t, err)

	require.NoError(t, s.Write(ctx, "ctr", "10"))
	n, ok, err := s.Increment(ctx, "ctr", 5)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(15), n)

	v, ok, err := s.Read(ctx, "ctr")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(15), v)

	require.NoError(t, s.Clear(ctx))
	_, ok, err = s.Read(ctx, "ctr")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStoreOnRedis_FarFutureExpiry(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	s, err := cache.New(cache.WithDatabase(NewDatabase(rdb)))
	require.NoError(t, err)

	require.NoError(t, s.Write(ctx, "k", "v", cache.ExpiresIn(280*365*24*time.Hour)))
	v, ok, err := s.Read(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v", v)
}
