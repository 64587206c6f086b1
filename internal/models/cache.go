package models

import "encoding/json"

// WriteRequest is the body of PUT /api/cache/:key. Value is kept raw so
// integers survive decoding without a detour through float64.
type WriteRequest struct {
	Value json.RawMessage `json:"value" binding:"required"`
	// ExpiresIn overrides the store TTL, in seconds. Zero keeps the default.
	ExpiresIn int64 `json:"expires_in"`
}

// AmountRequest is the optional body of the increment and decrement
// endpoints. A missing amount means 1.
type AmountRequest struct {
	Amount    *int64 `json:"amount"`
	ExpiresIn int64  `json:"expires_in"`
}

// EntryResponse is a cache entry as returned by the API.
type EntryResponse struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// CounterResponse is returned by increment and decrement.
type CounterResponse struct {
	Key   string `json:"key"`
	Value int64  `json:"value"`
}

// DeletedResponse reports how many entries an operation removed.
type DeletedResponse struct {
	Deleted int64 `json:"deleted"`
}

// Cache event types published to websocket subscribers.
const (
	EventWrite         = "write"
	EventDelete        = "delete"
	EventDeleteMatched = "delete_matched"
	EventIncrement     = "increment"
	EventDecrement     = "decrement"
	EventSweep         = "sweep"
	EventClear         = "clear"
)

// CacheEvent describes a mutation of the cache.
type CacheEvent struct {
	Type    string `json:"type"`
	Key     string `json:"key,omitempty"`
	Pattern string `json:"pattern,omitempty"`
	Deleted int64  `json:"deleted,omitempty"`
	Value   any    `json:"value,omitempty"`
	By      string `json:"by,omitempty"`
}
