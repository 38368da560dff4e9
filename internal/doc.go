// Package internal contains helpers that are private to the token engine,
// chiefly opaque code generation and its bounded collision-retry policy.
//
// # Sub-packages
//
//   - flows: issuance and redemption orchestration for every Engine operation
//   - rate: Redis fixed-window counters behind the redemption throttle
//
// # What this package must NOT do
//
//   - Export types that appear in the public API.
//   - Be imported by any package outside this module.
package internal
