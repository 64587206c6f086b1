package cache

import (
	"testing"
	"time"
)

// SetNow freezes the store clock for the duration of a test.
func SetNow(t testing.TB, f func() time.Time) {
	now = f
	t.Cleanup(func() { now = time.Now })
}

var (
	ToInteger  = toInteger
	KeyMatcher = keyMatcher
)
