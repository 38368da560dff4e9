// Package tokensapp issues and redeems short-lived, signed capability tokens:
// prize QR codes, party host/guest passes, event invitations.
//
// Each domain builds its own [Engine] through [Builder] with its own signing
// secret, expiry rule and optional redemption guards. Engine methods are safe
// to call from multiple goroutines and from multiple processes sharing one
// store: the store's conditional updates are the only mutual exclusion the
// engine relies on.
//
// # Architecture boundaries
//
// tokensapp is the public surface. It exposes [Engine], [Builder], [Config]
// and value types (Token, StatusReport, MetricsSnapshot). Claim signing lives
// in claim, expiry rules in expiry, the storage contract in store, and flow
// orchestration under internal/.
//
// # What this package must NOT do
//
//   - Read signing secrets or time zones from ambient process state.
//   - Hold in-process locks across calls; concurrent callers may be separate
//     processes.
//   - Let audit delivery failures affect a committed token transaction.
package tokensapp
