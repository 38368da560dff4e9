// Package rate provides the Redis-backed fixed-window counter used to
// throttle code guessing on redemption.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Keys are
// "<prefix>:thr:<subject>", where subject is a client IP or device id.
//
// # What this package must NOT do
//
//   - Decide which failures count (the engine does).
//   - Be imported outside the tokensapp module.
package rate
