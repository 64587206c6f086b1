package cache

import (
	"errors"
	"fmt"
)

var (
	// ErrEncoding reports a value the backing store cannot represent.
	ErrEncoding = errors.New("cache: value not encodable")

	// ErrConfiguration reports invalid or contradictory store options.
	ErrConfiguration = errors.New("cache: invalid configuration")

	// ErrEmptyKey is returned for operations on an empty key.
	ErrEmptyKey = errors.New("cache: empty key")

	// ErrInvalidPattern is returned by DeleteMatched for a pattern that does
	// not compile.
	ErrInvalidPattern = errors.New("cache: invalid key pattern")
)

// ConfigError describes which option was rejected by New.
type ConfigError struct {
	Option string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("cache: option %s: %s", e.Option, e.Reason)
}

// Unwrap lets errors.Is match ErrConfiguration.
func (e *ConfigError) Unwrap() error {
	return ErrConfiguration
}

func configError(option, reason string) error {
	return &ConfigError{Option: option, Reason: reason}
}
