package realtime

import "time"

// Client-side limits and defaults.
const (
	// Max bytes per websocket frame read (hard limit).
	maxFrameBytes = 64 << 10 // 64 KiB

	// Reconnect policy: delay = base * 2^(attempt-1), attempts 1..maxAttempts.
	defaultBaseDelay   = 1 * time.Second
	defaultMaxAttempts = 5

	defaultDialTimeout  = 10 * time.Second
	defaultWriteTimeout = 5 * time.Second

	// Heartbeat defaults. A failed ping is treated as an unexpected closure.
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Outbound rate limit (events per window).
	rateLimitEvents = 30
	rateLimitWindow = 10 * time.Second
)

// backoff returns the delay before reconnect attempt n (n >= 1).
func backoff(base time.Duration, n int) time.Duration {
	if n < 1 {
		n = 1
	}
	if n > 30 {
		n = 30
	}
	return base << (n - 1)
}
