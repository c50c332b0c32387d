// Package realtime implements the client's live event channel.
//
// The Manager keeps at most one WebSocket open, addressed by the current
// credential, and recovers from unexpected closures with exponential backoff:
//
//	Disconnected --Connect--> Connecting --open--> Connected
//	Connected --close/error--> Reconnecting(n) --backoff--> Connecting
//	Reconnecting(n), n > MaxAttempts --> Failed
//
// Disconnect is the only way to close the channel without a reconnect: it
// marks the live connection as intentionally closed before closing it.
//
// Delivery is at-most-once. Envelopes are dispatched to subscribers as they
// arrive; nothing is buffered while disconnected and nothing is replayed
// after a reconnect. The feed carries live status, not a durable log.
package realtime
