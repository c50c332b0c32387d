// Package credential persists the one opaque bearer token the client holds.
//
// The store is deliberately separate from session state: it knows nothing
// about users, roles or connection status, and session snapshots never embed
// the token. Exactly one named entry (EntryName) is kept.
//
// Every implementation guarantees read-after-write consistency: once Save
// returns nil, every subsequent Load observes the saved value. Callers rely on
// this instead of waiting for storage to settle.
//
// Corrupted contents are reported as ErrCorrupt. Callers must treat a corrupt
// entry exactly like an absent one.
package credential
