// Package codec encodes cache values for backends that persist bytes.
package codec

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/goccy/go-json"

	"docstore-cache/internal/cache"
)

// Encode serialises v as JSON. Values JSON cannot represent (channels,
// functions, complex numbers, NaN) are reported with cache.ErrEncoding.
func Encode(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %T: %v", cache.ErrEncoding, v, err)
	}
	return b, nil
}

// Decode parses data written by Encode. Integral numbers come back as
// int64 and other numbers as float64, at any depth.
func Decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("codec: decode value: %w", err)
	}
	return normalize(v), nil
}

func normalize(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := strconv.ParseInt(string(t), 10, 64); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(string(t), 64); err == nil {
			return f
		}
		return string(t)
	case map[string]any:
		for k, e := range t {
			t[k] = normalize(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = normalize(e)
		}
		return t
	default:
		return v
	}
}
