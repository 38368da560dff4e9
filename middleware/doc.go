// Package middleware exposes HTTP adapters for tokensapp engines.
//
// [ClientContext] copies the caller's address and actor identity into the
// request context so audit events carry them. [StatusFor] translates engine
// errors into HTTP status codes.
//
// This package does not make redemption decisions; every outcome comes from
// the Engine.
package middleware
