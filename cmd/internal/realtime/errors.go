package realtime

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotConnected is returned by Send when the channel is not Connected.
	ErrNotConnected = errors.New("realtime: not connected")

	// ErrNoCredential is returned by Connect when no credential is stored.
	ErrNoCredential = errors.New("realtime: no credential")

	// ErrExhaustedRetries is reported to failure observers when the reconnect
	// budget is spent. Only an explicit Connect leaves Failed.
	ErrExhaustedRetries = errors.New("realtime: reconnect attempts exhausted")

	// ErrChannel marks an unexpected close or I/O failure on the live connection.
	ErrChannel = errors.New("realtime: channel error")

	// ErrRateLimited is returned by Send when the outbound limit is reached.
	ErrRateLimited = errors.New("realtime: send rate limited")

	// ErrUnknownKind is returned by Send for a kind outside the protocol set.
	ErrUnknownKind = errors.New("realtime: unknown event kind")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("realtime: invalid config")
)

// ChannelError wraps a transport failure on the live connection.
type ChannelError struct {
	Op  string
	Err error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("realtime %s: %v", e.Op, e.Err)
}

func (e *ChannelError) Unwrap() []error { return []error{ErrChannel, e.Err} }

// RateLimitError carries retry metadata for outbound throttling.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e RateLimitError) Error() string {
	if e.RetryAfter <= 0 {
		return ErrRateLimited.Error()
	}
	return fmt.Sprintf("%s: retry after %s", ErrRateLimited.Error(), e.RetryAfter)
}

func (e RateLimitError) Unwrap() error { return ErrRateLimited }
