package mongodoc

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"docstore-cache/internal/cache"
	"docstore-cache/internal/codec"
)

func TestFilterDocument(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	require.Equal(t, bson.D{}, filterDocument(cache.Filter{}))

	require.Equal(t, bson.D{
		{Key: "_id", Value: bson.D{{Key: "$eq", Value: "app:k"}}},
		{Key: "expires", Value: bson.D{{Key: "$gt", Value: now}}},
	}, filterDocument(cache.Filter{ID: "app:k", ExpiresAfter: now}))

	require.Equal(t, bson.D{
		{Key: "_id", Value: bson.D{{Key: "$regex", Value: primitive.Regex{Pattern: `^app:.*views/`}}}},
	}, filterDocument(cache.Filter{IDPattern: regexp.MustCompile(`^app:.*views/`)}))

	require.Equal(t, bson.D{
		{Key: "expires", Value: bson.D{{Key: "$lt", Value: now}}},
	}, filterDocument(cache.Filter{ExpiresBefore: now}))
}

func TestIndexModel(t *testing.T) {
	m := indexModel(cache.EntryIndex)
	require.Equal(t, bson.D{{Key: "_id", Value: 1}, {Key: "expires", Value: -1}}, m.Keys)
	require.Equal(t, "id_expires", *m.Options.Name)
}

func TestToDocument(t *testing.T) {
	exp := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	doc := toDocument(bson.M{
		"_id":     "k",
		"expires": primitive.NewDateTimeFromTime(exp),
		"value": primitive.D{
			{Key: "n", Value: int32(3)},
			{Key: "list", Value: primitive.A{int32(1), "a"}},
		},
	})
	require.Equal(t, "k", doc.ID)
	require.True(t, exp.Equal(doc.ExpiresAt))
	require.Equal(t, map[string]any{"n": int64(3), "list": []any{int64(1), "a"}}, doc.Value)
}

func TestNormalizeBinary(t *testing.T) {
	v := normalize(primitive.Binary{Data: []byte("hi")})
	require.Equal(t, "aGk=", v)

	// Same shape the JSON codec gives a []byte.
	b, err := codec.Encode([]byte("hi"))
	require.NoError(t, err)
	decoded, err := codec.Decode(b)
	require.NoError(t, err)
	require.Equal(t, decoded, v)
}

func TestIsEncodingError(t *testing.T) {
	_, err := bson.Marshal(bson.D{{Key: "value", Value: make(chan int)}})
	require.Error(t, err)
	require.True(t, isEncodingError(err))

	require.False(t, isEncodingError(errors.New("server selection timeout")))
}

func TestStoreOnMongo(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("round trip", func(mt *mtest.T) {
		ctx := context.Background()
		s, err := cache.New(cache.WithCollection(NewCollection(mt.Coll)), cache.WithNamespace("app"))
		require.NoError(mt, err)

		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: int32(1)}))
		require.NoError(mt, s.Write(ctx, "k", "v"))

		ns := mt.Coll.Database().Name() + "." + mt.Coll.Name()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, bson.D{
			{Key: "_id", Value: "app:k"},
			{Key: "value", Value: "v"},
			{Key: "expires", Value: time.Now().Add(time.Hour)},
		}))
		v, ok, err := s.Read(ctx, "k")
		require.NoError(mt, err)
		require.True(mt, ok)
		require.Equal(mt, "v", v)

		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch))
		_, ok, err = s.Read(ctx, "missing")
		require.NoError(mt, err)
		require.False(mt, ok)

		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: int32(2)}))
		n, err := s.DeleteMatched(ctx, "^k")
		require.NoError(mt, err)
		require.Equal(mt, int64(2), n)
	})

	mt.Run("unencodable value falls back to string", func(mt *mtest.T) {
		ctx := context.Background()
		s, err := cache.New(cache.WithCollection(NewCollection(mt.Coll)))
		require.NoError(mt, err)

		// The channel never reaches the server; only the string retry does.
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: int32(1)}))
		require.NoError(mt, s.Write(ctx, "k", make(chan int)))
	})

	mt.Run("server errors propagate", func(mt *mtest.T) {
		ctx := context.Background()
		s, err := cache.New(cache.WithCollection(NewCollection(mt.Coll)))
		require.NoError(mt, err)

		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code:    2,
			Name:    "BadValue",
			Message: "bad filter",
		}))
		_, err = s.ExpireSweep(ctx)
		require.Error(mt, err)
		require.False(mt, errors.Is(err, cache.ErrEncoding))
	})
}
