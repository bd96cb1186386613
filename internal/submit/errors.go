package submit

import (
	"errors"
	"fmt"
	"time"
)

// ErrQueueClosed is returned by Submit after Destroy has been called.
var ErrQueueClosed = errors.New("submission queue closed")

// RateLimitError is returned by Submit when the client-side rate limit is
// exhausted. The submission is rejected outright, not queued.
type RateLimitError struct {
	// RetryAfter is how long until a slot in the rate window frees up.
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter.Round(time.Millisecond))
}

// TransportError reports a delivery attempt the remote side rejected.
type TransportError struct {
	// StatusCode is the HTTP status when the transport is HTTP based,
	// zero otherwise.
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transport rejected submission: status %d", e.StatusCode)
	}
	return fmt.Sprintf("transport rejected submission: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
