// Package clock provides an injectable time source for timers that drive
// reconnect backoff and heartbeats.
//
// Production code uses Real(); tests use Fake() and move time forward
// explicitly with Advance, so backoff schedules are asserted without sleeping.
package clock

import "time"

// Clock abstracts the subset of the time package the client core needs.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc calls f in its own goroutine (real) or synchronously during
	// Advance (fake) once d has elapsed.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending AfterFunc call.
type Timer interface {
	// Stop prevents the call from firing. It reports whether the call was
	// still pending.
	Stop() bool
}

// Real returns a Clock backed by the standard time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
