package replication

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// StatusError is a non-2xx response from the replication service.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("replication service returned %d: %s", e.Code, e.Body)
}

// ErrProtocol marks responses the client cannot interpret. Protocol errors
// are never retried; they indicate a version mismatch that a retry cannot
// fix.
var ErrProtocol = errors.New("replication protocol error")

// IsTransient reports whether err is worth retrying with backoff: network
// failures, timeouts, and 5xx responses. Protocol and decode errors are not
// transient. Context cancellation is not transient either; the caller is
// shutting down.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, ErrProtocol) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code >= 500 || statusErr.Code == 429
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
