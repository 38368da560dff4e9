// Package flows contains the orchestration behind every Engine operation:
// issuance, redemption, status reporting, disabling and history lookup.
//
// Flows depend only on the store contract, the claim codec and the expiry
// policy. They return classified results; the root package maps them to
// exported errors, metrics and audit events.
package flows
