package tokensapp

import "errors"

var (
	// ErrNotFound is returned when no token has the given code.
	ErrNotFound = errors.New("token not found")
	// ErrExpired is returned when the token's wall-clock expiry has passed.
	ErrExpired = errors.New("token expired")
	// ErrInvalidSignature is returned when the stored claim fails verification
	// or does not match the row it is stored on.
	ErrInvalidSignature = errors.New("token signature invalid")
	// ErrAlreadyRedeemed is returned by the single-use path once consumed.
	ErrAlreadyRedeemed = errors.New("token already redeemed")
	// ErrTokenExhausted is returned when a multi-use token reached its cap.
	ErrTokenExhausted = errors.New("token exhausted")
	// ErrTokenDisabled is returned for tokens an operator disabled.
	ErrTokenDisabled = errors.New("token disabled")
	// ErrCodeGenerationFailed is returned when every bounded attempt to draw
	// a unique code collided.
	ErrCodeGenerationFailed = errors.New("token code generation failed")
	// ErrOwnerNotFound is returned when the owner record backing issuance is missing.
	ErrOwnerNotFound = errors.New("token owner not found")
	// ErrOwnerNotYetActive is the stock precondition failure for owners whose
	// scheduled date has not started.
	ErrOwnerNotYetActive = errors.New("token owner not yet active")
	// ErrInvalidRequest is returned for malformed Generate/Redeem input.
	ErrInvalidRequest = errors.New("invalid token request")
	// ErrStoreUnavailable is returned when the token store failed.
	ErrStoreUnavailable = errors.New("token store unavailable")
	// ErrEngineNotReady is returned by a nil or partially built Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrRateLimited is returned when a client exceeded its failed-code budget.
	ErrRateLimited = errors.New("too many failed redemption attempts")
)

// PreconditionError is the domain-precondition error category. Guards
// return it to reject a redemption before any usage transition.
type PreconditionError struct {
	Code   string
	Reason string
	Err    error
}

// NewPreconditionError builds a PreconditionError wrapping cause.
func NewPreconditionError(code, reason string, cause error) *PreconditionError {
	return &PreconditionError{Code: code, Reason: reason, Err: cause}
}

func (e *PreconditionError) Error() string {
	msg := "precondition failed: " + e.Code
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *PreconditionError) Unwrap() error { return e.Err }

// ErrorKind is the closed set of outcomes a caller must handle distinctly.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindNotFound
	KindExpired
	KindInvalidSignature
	KindAlreadyRedeemed
	KindExhausted
	KindDisabled
	KindCodeGenerationFailed
	KindOwnerNotFound
	KindPrecondition
	KindInvalidRequest
	KindRateLimited
	KindUnavailable
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindNotFound:
		return "not_found"
	case KindExpired:
		return "expired"
	case KindInvalidSignature:
		return "invalid_signature"
	case KindAlreadyRedeemed:
		return "already_redeemed"
	case KindExhausted:
		return "exhausted"
	case KindDisabled:
		return "disabled"
	case KindCodeGenerationFailed:
		return "code_generation_failed"
	case KindOwnerNotFound:
		return "owner_not_found"
	case KindPrecondition:
		return "precondition"
	case KindInvalidRequest:
		return "invalid_request"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "unavailable"
	}
}

// Classify maps any error returned by Engine to its kind.
func Classify(err error) ErrorKind {
	var pre *PreconditionError
	switch {
	case err == nil:
		return KindNone
	case errors.As(err, &pre):
		return KindPrecondition
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrExpired):
		return KindExpired
	case errors.Is(err, ErrInvalidSignature):
		return KindInvalidSignature
	case errors.Is(err, ErrAlreadyRedeemed):
		return KindAlreadyRedeemed
	case errors.Is(err, ErrTokenExhausted):
		return KindExhausted
	case errors.Is(err, ErrTokenDisabled):
		return KindDisabled
	case errors.Is(err, ErrCodeGenerationFailed):
		return KindCodeGenerationFailed
	case errors.Is(err, ErrOwnerNotFound):
		return KindOwnerNotFound
	case errors.Is(err, ErrInvalidRequest):
		return KindInvalidRequest
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	default:
		return KindUnavailable
	}
}
