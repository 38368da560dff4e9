package middleware

import (
	"net/http"

	tokensapp "github.com/CuckCybsacTEST/tokensapp"
)

// StatusFor maps an engine error to an HTTP status. nil maps to 200;
// unclassified errors, code-space exhaustion and store outages map to 503.
func StatusFor(err error) int {
	switch tokensapp.Classify(err) {
	case tokensapp.KindNone:
		return http.StatusOK
	case tokensapp.KindNotFound, tokensapp.KindOwnerNotFound:
		return http.StatusNotFound
	case tokensapp.KindExpired:
		return http.StatusGone
	case tokensapp.KindInvalidSignature, tokensapp.KindInvalidRequest:
		return http.StatusBadRequest
	case tokensapp.KindAlreadyRedeemed, tokensapp.KindExhausted, tokensapp.KindDisabled:
		return http.StatusConflict
	case tokensapp.KindPrecondition:
		return http.StatusPreconditionFailed
	case tokensapp.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusServiceUnavailable
	}
}
