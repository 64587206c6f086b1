// Package mongodoc stores cache documents in MongoDB. Documents keep the
// layout {_id, value, expires}; values are stored as native BSON.
package mongodoc

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsoncodec"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"docstore-cache/internal/cache"
)

// Collection is a cache.Collection over a MongoDB collection.
type Collection struct {
	coll *mongo.Collection
}

// NewCollection wraps coll.
func NewCollection(coll *mongo.Collection) *Collection {
	return &Collection{coll: coll}
}

// Upsert implements cache.Collection with update_one($set, upsert).
func (c *Collection) Upsert(ctx context.Context, doc cache.Document) error {
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: cache.FieldValue, Value: doc.Value},
		{Key: cache.FieldExpires, Value: doc.ExpiresAt},
	}}}
	_, err := c.coll.UpdateOne(ctx, bson.D{{Key: cache.FieldID, Value: doc.ID}}, update, options.Update().SetUpsert(true))
	if err != nil {
		if isEncodingError(err) {
			return fmt.Errorf("%w: %T: %v", cache.ErrEncoding, doc.Value, err)
		}
		return fmt.Errorf("mongodoc: upsert %q: %w", doc.ID, err)
	}
	return nil
}

// Find implements cache.Collection.
func (c *Collection) Find(ctx context.Context, filter cache.Filter, limit int) ([]cache.Document, error) {
	opts := options.Find()
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := c.coll.Find(ctx, filterDocument(filter), opts)
	if err != nil {
		return nil, fmt.Errorf("mongodoc: find: %w", err)
	}

	var raw []bson.M
	if err := cur.All(ctx, &raw); err != nil {
		return nil, fmt.Errorf("mongodoc: read cursor: %w", err)
	}

	docs := make([]cache.Document, 0, len(raw))
	for _, m := range raw {
		docs = append(docs, toDocument(m))
	}
	return docs, nil
}

// DeleteMany implements cache.Collection.
func (c *Collection) DeleteMany(ctx context.Context, filter cache.Filter) (int64, error) {
	res, err := c.coll.DeleteMany(ctx, filterDocument(filter))
	if err != nil {
		return 0, fmt.Errorf("mongodoc: delete: %w", err)
	}
	return res.DeletedCount, nil
}

// DeleteAll implements cache.Collection.
func (c *Collection) DeleteAll(ctx context.Context) error {
	if _, err := c.coll.DeleteMany(ctx, bson.D{}); err != nil {
		return fmt.Errorf("mongodoc: clear: %w", err)
	}
	return nil
}

// CreateIndex implements cache.Collection.
func (c *Collection) CreateIndex(ctx context.Context, spec cache.IndexSpec) error {
	_, err := c.coll.Indexes().CreateOne(ctx, indexModel(spec))
	if err != nil {
		return fmt.Errorf("mongodoc: create index %s: %w", spec.Name, err)
	}
	return nil
}

func indexModel(spec cache.IndexSpec) mongo.IndexModel {
	keys := make(bson.D, 0, len(spec.Keys))
	for _, k := range spec.Keys {
		order := 1
		if k.Descending {
			order = -1
		}
		keys = append(keys, bson.E{Key: k.Field, Value: order})
	}
	return mongo.IndexModel{Keys: keys, Options: options.Index().SetName(spec.Name)}
}

// filterDocument translates a cache filter into a query document.
func filterDocument(f cache.Filter) bson.D {
	var q bson.D

	var id bson.D
	if f.ID != "" {
		id = append(id, bson.E{Key: "$eq", Value: f.ID})
	}
	if f.IDPattern != nil {
		id = append(id, bson.E{Key: "$regex", Value: primitive.Regex{Pattern: f.IDPattern.String()}})
	}
	if len(id) > 0 {
		q = append(q, bson.E{Key: cache.FieldID, Value: id})
	}

	var expires bson.D
	if !f.ExpiresAfter.IsZero() {
		expires = append(expires, bson.E{Key: "$gt", Value: f.ExpiresAfter})
	}
	if !f.ExpiresBefore.IsZero() {
		expires = append(expires, bson.E{Key: "$lt", Value: f.ExpiresBefore})
	}
	if len(expires) > 0 {
		q = append(q, bson.E{Key: cache.FieldExpires, Value: expires})
	}

	if q == nil {
		q = bson.D{}
	}
	return q
}

func toDocument(m bson.M) cache.Document {
	doc := cache.Document{Value: normalize(m[cache.FieldValue])}
	if id, ok := m[cache.FieldID].(string); ok {
		doc.ID = id
	} else if m[cache.FieldID] != nil {
		doc.ID = fmt.Sprint(m[cache.FieldID])
	}
	switch t := m[cache.FieldExpires].(type) {
	case primitive.DateTime:
		doc.ExpiresAt = t.Time()
	case time.Time:
		doc.ExpiresAt = t
	}
	return doc
}

// normalize converts driver specific container types into the plain maps,
// slices and int64 values the other backends return.
func normalize(v any) any {
	switch t := v.(type) {
	case int32:
		return int64(t)
	case primitive.Binary:
		// Byte slices come back as base64 text, as they do from the JSON backends.
		return base64.StdEncoding.EncodeToString(t.Data)
	case primitive.DateTime:
		return t.Time()
	case primitive.D:
		m := make(map[string]any, len(t))
		for _, e := range t {
			m[e.Key] = normalize(e.Value)
		}
		return m
	case bson.M:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = normalize(e)
		}
		return m
	case primitive.A:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = normalize(e)
		}
		return s
	default:
		return v
	}
}

// isEncodingError reports whether err comes from marshalling a value the
// BSON codecs cannot represent.
func isEncodingError(err error) bool {
	var noEncoder bsoncodec.ErrNoEncoder
	if errors.As(err, &noEncoder) {
		return true
	}
	var valueErr bsoncodec.ValueEncoderError
	if errors.As(err, &valueErr) {
		return true
	}
	var marshalErr mongo.MarshalError
	if errors.As(err, &marshalErr) {
		return true
	}
	return strings.Contains(err.Error(), "no encoder found")
}

// Database hands out collections of a MongoDB database.
type Database struct {
	db *mongo.Database
}

// NewDatabase wraps db.
func NewDatabase(db *mongo.Database) *Database {
	return &Database{db: db}
}

// Collection implements cache.Database.
func (d *Database) Collection(_ context.Context, name string) (cache.Collection, error) {
	return NewCollection(d.db.Collection(name)), nil
}

// Connect opens a client for uri, verifies it with a ping and returns the
// named database together with a function that disconnects the client.
func Connect(ctx context.Context, uri, database string) (*Database, func(context.Context) error, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("mongodoc: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, fmt.Errorf("mongodoc: ping: %w", err)
	}
	return NewDatabase(client.Database(database)), client.Disconnect, nil
}

// Ensure the mongodoc types implement the cache capabilities at compile time.
var (
	_ cache.Collection = (*Collection)(nil)
	_ cache.Database   = (*Database)(nil)
)
