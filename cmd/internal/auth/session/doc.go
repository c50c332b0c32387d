// Package session implements the client's session manager.
//
// The Manager owns the authenticated-identity state of the running client
// ({user, isAuthenticated, isLoading}) and the single stored bearer
// credential. It orchestrates bootstrap-on-start, login, signup, logout and
// profile refresh, and drives the realtime channel's lifecycle: a successful
// authentication (re)connects the channel; logout or any rejected credential
// tears it down.
//
// Every mutating operation takes a generation number and commits only if that
// generation is still current. Logout bumps the generation unconditionally,
// so a login that completes after an intervening logout is discarded and its
// credential removed (logout wins).
//
// HTTP details stay behind the transport package; this package only branches
// on transport.Class.
package session
