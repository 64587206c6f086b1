package handlers

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"docstore-cache/internal/cache"
	"docstore-cache/internal/codec"
	"docstore-cache/internal/middleware"
	"docstore-cache/internal/models"
	"docstore-cache/internal/realtime"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// CacheHandler exposes a cache over HTTP and publishes every mutation to
// the hub.
type CacheHandler struct {
	store cache.Cache
	hub   *realtime.Hub
	log   *zap.Logger
}

// NewCacheHandler creates a handler. hub may be nil when events are not
// published.
func NewCacheHandler(store cache.Cache, hub *realtime.Hub, log *zap.Logger) *CacheHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &CacheHandler{store: store, hub: hub, log: log.Named("cache_handler")}
}

// Get returns the entry stored under key
// GET /api/cache/:key
func (h *CacheHandler) Get(c *gin.Context) {
	key := c.Param("key")
	value, ok, err := h.store.Read(c.Request.Context(), key)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Entry not found"})
		return
	}
	c.JSON(http.StatusOK, models.EntryResponse{Key: key, Value: value})
}

// Put writes the entry stored under key
// PUT /api/cache/:key
func (h *CacheHandler) Put(c *gin.Context) {
	var req models.WriteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	opts, ok := writeOptions(c, req.ExpiresIn)
	if !ok {
		return
	}

	value, err := codec.Decode(req.Value)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid value"})
		return
	}

	key := c.Param("key")
	if err := h.store.Write(c.Request.Context(), key, value, opts...); err != nil {
		h.respondError(c, err)
		return
	}

	h.publish(c, models.CacheEvent{Type: models.EventWrite, Key: key})
	c.JSON(http.StatusOK, models.EntryResponse{Key: key, Value: value})
}

// Delete removes the entry stored under key
// DELETE /api/cache/:key
func (h *CacheHandler) Delete(c *gin.Context) {
	key := c.Param("key")
	if err := h.store.Delete(c.Request.Context(), key); err != nil {
		h.respondError(c, err)
		return
	}

	h.publish(c, models.CacheEvent{Type: models.EventDelete, Key: key})
	c.Status(http.StatusNoContent)
}

// DeleteMatched removes every entry whose key matches ?pattern= (a regular
// expression) or ?glob= (a shell pattern)
// DELETE /api/cache
func (h *CacheHandler) DeleteMatched(c *gin.Context) {
	pattern := c.Query("pattern")
	glob := c.Query("glob")
	switch {
	case pattern != "" && glob != "":
		c.JSON(http.StatusBadRequest, gin.H{"error": "Use either pattern or glob, not both"})
		return
	case glob != "":
		pattern = cache.Glob(glob)
	case pattern == "":
		c.JSON(http.StatusBadRequest, gin.H{"error": "A pattern or glob query parameter is required"})
		return
	}

	n, err := h.store.DeleteMatched(c.Request.Context(), pattern)
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.publish(c, models.CacheEvent{Type: models.EventDeleteMatched, Pattern: pattern, Deleted: n})
	c.JSON(http.StatusOK, models.DeletedResponse{Deleted: n})
}

// Increment adds amount (default 1) to the counter stored under key
// POST /api/cache/:key/increment
func (h *CacheHandler) Increment(c *gin.Context) {
	h.count(c, models.EventIncrement, h.store.Increment)
}

// Decrement subtracts amount (default 1) from the counter stored under key
// POST /api/cache/:key/decrement
func (h *CacheHandler) Decrement(c *gin.Context) {
	h.count(c, models.EventDecrement, h.store.Decrement)
}

type counterFunc func(ctx context.Context, key string, amount int64, opts ...cache.WriteOption) (int64, bool, error)

func (h *CacheHandler) count(c *gin.Context, event string, fn counterFunc) {
	var req models.AmountRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
	}
	amount := int64(1)
	if req.Amount != nil {
		amount = *req.Amount
	}
	opts, ok := writeOptions(c, req.ExpiresIn)
	if !ok {
		return
	}

	key := c.Param("key")
	n, found, err := fn(c.Request.Context(), key, amount, opts...)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "Entry not found"})
		return
	}

	h.publish(c, models.CacheEvent{Type: event, Key: key, Value: n})
	c.JSON(http.StatusOK, models.CounterResponse{Key: key, Value: n})
}

// Sweep deletes expired entries now
// POST /api/cache/sweep
func (h *CacheHandler) Sweep(c *gin.Context) {
	n, err := h.store.ExpireSweep(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.publish(c, models.CacheEvent{Type: models.EventSweep, Deleted: n})
	c.JSON(http.StatusOK, models.DeletedResponse{Deleted: n})
}

// Clear deletes every entry in the collection
// POST /api/cache/clear
func (h *CacheHandler) Clear(c *gin.Context) {
	if err := h.store.Clear(c.Request.Context()); err != nil {
		h.respondError(c, err)
		return
	}

	h.publish(c, models.CacheEvent{Type: models.EventClear})
	c.Status(http.StatusNoContent)
}

// maxExpiresInSeconds is the largest TTL a time.Duration can hold.
const maxExpiresInSeconds = math.MaxInt64 / int64(time.Second)

// writeOptions turns a TTL in seconds into write options. It writes a 400
// and returns false for a negative TTL.
func writeOptions(c *gin.Context, expiresIn int64) ([]cache.WriteOption, bool) {
	if expiresIn < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "expires_in must not be negative"})
		return nil, false
	}
	if expiresIn > maxExpiresInSeconds {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("expires_in must not exceed %d", maxExpiresInSeconds)})
		return nil, false
	}
	if expiresIn == 0 {
		return nil, true
	}
	return []cache.WriteOption{cache.ExpiresIn(time.Duration(expiresIn) * time.Second)}, true
}

func (h *CacheHandler) respondError(c *gin.Context, err error) {
	_ = c.Error(err)
	switch {
	case errors.Is(err, cache.ErrEmptyKey):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Key must not be empty"})
	case errors.Is(err, cache.ErrInvalidPattern):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, cache.ErrEncoding):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Value cannot be stored"})
	case errors.Is(err, cache.ErrConfiguration):
		h.log.Error("cache misconfigured", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Cache is misconfigured"})
	default:
		h.log.Error("cache backend error", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "Cache backend unavailable"})
	}
}

// publish broadcasts a mutation event to websocket subscribers
func (h *CacheHandler) publish(c *gin.Context, evt models.CacheEvent) {
	if h.hub == nil {
		return
	}
	evt.By = c.GetString(middleware.UsernameKey)
	bytes, err := json.Marshal(evt)
	if err != nil {
		h.log.Warn("event not published", zap.String("type", evt.Type), zap.Error(err))
		return
	}
	h.hub.Broadcast(realtime.TopicCache, bytes)
}
