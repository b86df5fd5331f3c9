package far

import (
	"context"
	"errors"
	"net"
)

// IsTransient reports whether err is a far-tier connection or timeout
// failure worth retrying. Anything else (validation errors, ErrNotFound,
// ctx cancellation, script errors) is permanent.
//
// context.DeadlineExceeded counts: the per-operation far timeout expiring
// is exactly the "backend timeout" class. context.Canceled does not: the
// caller asked to stop.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrNotFound) {
		return false
	}
	if errors.Is(err, ErrUnavailable) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	// net.Error covers dial/i-o timeouts; *net.OpError (which implements
	// it) covers refused and reset connections where Timeout() is false.
	var ne net.Error
	return errors.As(err, &ne)
}
