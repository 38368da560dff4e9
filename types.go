package tokensapp

import (
	"context"
	"time"

	"github.com/CuckCybsacTEST/tokensapp/claim"
	"github.com/CuckCybsacTEST/tokensapp/store"
)

// Token is a persisted capability token.
type Token = store.Token

// RedemptionEvent is one successful consumption of a token.
type RedemptionEvent = store.RedemptionEvent

// Status is the stored lifecycle state of a token.
type Status = store.Status

const (
	StatusActive    = store.StatusActive
	StatusRedeemed  = store.StatusRedeemed
	StatusExhausted = store.StatusExhausted
)

// IssueItem requests one token of Kind. MaxUses 0 issues a legacy
// single-use token.
type IssueItem struct {
	Kind    string
	MaxUses int
}

// IssueOptions tunes one Generate call.
type IssueOptions struct {
	// Force skips the generation marker and creates only missing kinds. It is
	// meant for operators, not for concurrent public use.
	Force bool
	// Reference feeds the expiry policy: issuance instant, scheduled date or
	// event start depending on the domain. Zero means now for TTL and
	// end-of-day policies, so end-of-day pins to the local day of issuance.
	// Event policies reject a zero Reference with ErrInvalidRequest.
	Reference time.Time
	// Variant returns the domain claim for a token kind. Nil falls back to
	// the engine's default variant.
	Variant func(kind string) claim.Variant
}

// RedeemContext describes who redeemed a token and where.
type RedeemContext struct {
	By       string
	Device   string
	Location string
}

// RedeemResult is the detailed outcome of a successful redemption.
type RedeemResult struct {
	Token *Token
	Event *RedemptionEvent
	// Terminal is set when this redemption moved the token to redeemed or
	// exhausted.
	Terminal bool
}

// TokenState is the read-time state reported by Engine.Status.
type TokenState string

const (
	StateValid     TokenState = "valid"
	StateDisabled  TokenState = "disabled"
	StateRedeemed  TokenState = "redeemed"
	StateExhausted TokenState = "exhausted"
	StateExpired   TokenState = "expired"
	StateInvalid   TokenState = "invalid"
	StateNotFound  TokenState = "not_found"
)

// StatusReport is returned by Engine.Status.
type StatusReport struct {
	State     TokenState
	Token     *Token
	Claim     claim.Claim
	Remaining int
}

// Guard is a pluggable redemption precondition. It runs after the claim
// verified and before the usage transition; returning an error aborts the
// redemption. Errors that are not a *PreconditionError are wrapped in one.
type Guard interface {
	Check(ctx context.Context, token *Token, cl claim.Claim, now time.Time) error
}

// GuardFunc adapts a function to Guard.
type GuardFunc func(ctx context.Context, token *Token, cl claim.Claim, now time.Time) error

func (f GuardFunc) Check(ctx context.Context, token *Token, cl claim.Claim, now time.Time) error {
	return f(ctx, token, cl, now)
}
