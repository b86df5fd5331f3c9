package cache

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidArgument covers empty/whitespace keys, nil values, and
	// expiration options that cannot be honored (e.g. a past absolute
	// deadline). Never retried.
	ErrInvalidArgument = errors.New("cache: invalid argument")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("cache: closed")

	// ErrBackendUnavailable is returned when a far-tier operation failed
	// after retries (or short-circuited on an open breaker) and
	// degradation is not available: the near tier is disabled, or the
	// operation (hash, list, set, sorted-set, pub/sub) has no near-tier
	// form. It wraps the underlying cause.
	ErrBackendUnavailable = errors.New("cache: far tier unavailable")
)

// checkKey validates a cache key: non-empty and not all whitespace.
func checkKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidArgument)
	}
	return nil
}

// checkValue validates a cache value: nil means "absent" everywhere else
// in the API, so it cannot be stored. An empty non-nil slice is fine.
func checkValue(value []byte) error {
	if value == nil {
		return fmt.Errorf("%w: nil value", ErrInvalidArgument)
	}
	return nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
}
