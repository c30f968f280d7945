package copytrade

import (
	"context"
	"errors"
	"io"
	"net"
)

// ErrTradingDisabled is returned by Executor.ClosePosition when no gateway
// is configured.
var ErrTradingDisabled = errors.New("trading disabled")

// IsUnauthorized reports whether err carries an authorization failure.
// Collaborators mark such errors with an Unauthorized() bool method.
func IsUnauthorized(err error) bool {
	var u interface{ Unauthorized() bool }
	return errors.As(err, &u) && u.Unauthorized()
}

// IsTransient reports whether err is worth retrying: network failures,
// truncated responses, and errors that mark themselves Temporary().
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if IsUnauthorized(err) {
		return false
	}

	// net errors also implement Temporary and often report false.
	var t interface{ Temporary() bool }
	if errors.As(err, &t) && t.Temporary() {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, context.DeadlineExceeded)
}
