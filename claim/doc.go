// Package claim builds, signs, verifies and encodes the claim embedded in
// each capability token.
//
// A claim is a versioned envelope (owner, code, kind, issue and expiry
// instants) plus exactly one domain variant. The signature is an integrity
// check over the persisted row; the token store remains the trust anchor.
package claim
