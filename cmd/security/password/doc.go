// Package password holds the client-side password policy checked before a
// signup request is sent.
//
// The backend stays authoritative; the policy only rejects passwords the
// server would refuse anyway, so obviously bad input costs no round-trip.
package password
