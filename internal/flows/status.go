package flows

import (
	"context"
	"errors"
	"time"

	"github.com/CuckCybsacTEST/tokensapp/claim"
	"github.com/CuckCybsacTEST/tokensapp/store"
)

// TokenState is the reported, read-time state of a token.
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

// statusCheck is one entry of the reporting precedence list.
type statusCheck struct {
	state   TokenState
	applies func(tok *store.Token, now time.Time) bool
}

// statusPrecedence is a product decision: a disabled token reads as
// disabled even when also redeemed or expired, and a redeemed one reads as
// redeemed even when also expired. Keep the order.
var statusPrecedence = []statusCheck{
	{StateDisabled, func(tok *store.Token, _ time.Time) bool { return tok.Disabled }},
	{StateRedeemed, func(tok *store.Token, _ time.Time) bool { return tok.Status == store.StatusRedeemed }},
	{StateExhausted, func(tok *store.Token, _ time.Time) bool { return tok.Status == store.StatusExhausted }},
	{StateExpired, func(tok *store.Token, now time.Time) bool { return now.After(tok.ExpiresAt) }},
}

// StatusResult is the outcome of a read-only status lookup.
type StatusResult struct {
	State     TokenState
	Token     *store.Token
	Claim     claim.Claim
	Remaining int
	Err       error
}

// StatusDeps captures read-only lookup dependencies.
type StatusDeps struct {
	Store store.Store
	Codec *claim.Codec
	Now   func() time.Time
}

// RunStatus reports a token's state without consuming it.
func RunStatus(ctx context.Context, code string, deps StatusDeps) StatusResult {
	var res StatusResult
	err := deps.Store.InTx(ctx, func(tx store.Tx) error {
		res = StatusResult{}
		tok, err := tx.FindByCode(ctx, code)
		if err != nil {
			return err
		}
		res = ReportState(deps.Codec, tok, deps.Now())
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return StatusResult{State: StateNotFound, Err: err}
		}
		return StatusResult{Err: err}
	}
	return res
}

// ReportState walks the precedence list, then verifies the claim.
func ReportState(codec *claim.Codec, tok *store.Token, now time.Time) StatusResult {
	res := StatusResult{Token: tok, Remaining: remainingUses(tok)}
	for _, check := range statusPrecedence {
		if check.applies(tok, now) {
			res.State = check.state
			return res
		}
	}

	cl, kind, err := VerifyStored(codec, tok, now)
	switch kind {
	case VerifyExpired:
		res.State = StateExpired
	case VerifyInvalidSignature:
		res.State = StateInvalid
		res.Err = err
	default:
		res.State = StateValid
		res.Claim = cl
	}
	return res
}

func remainingUses(tok *store.Token) int {
	switch {
	case tok.Status.Terminal():
		return 0
	case tok.MaxUses == 0:
		return 1
	case tok.UsedCount >= tok.MaxUses:
		return 0
	default:
		return tok.MaxUses - tok.UsedCount
	}
}

// RunDisable marks a token disabled. Disabling twice is not an error.
func RunDisable(ctx context.Context, code string, st store.Store) (*store.Token, error) {
	var out *store.Token
	err := st.InTx(ctx, func(tx store.Tx) error {
		tok, err := tx.FindByCode(ctx, code)
		if err != nil {
			return err
		}
		if _, err := tx.ConditionalUpdate(ctx, tok.ID,
			store.Cond{NotDisabled: true},
			store.Patch{Disabled: store.Bool(true)},
		); err != nil {
			return err
		}
		out, err = tx.FindByID(ctx, tok.ID)
		return err
	})
	return out, err
}

// RunListRedemptions returns the token and its redemption history.
func RunListRedemptions(ctx context.Context, code string, st store.Store) (*store.Token, []*store.RedemptionEvent, error) {
	var (
		tok    *store.Token
		events []*store.RedemptionEvent
	)
	err := st.InTx(ctx, func(tx store.Tx) error {
		var err error
		tok, err = tx.FindByCode(ctx, code)
		if err != nil {
			return err
		}
		events, err = tx.ListRedemptions(ctx, tok.ID)
		return err
	})
	return tok, events, err
}

// RunListOwner returns every token issued to ownerID.
func RunListOwner(ctx context.Context, ownerID string, st store.Store) ([]*store.Token, error) {
	var tokens []*store.Token
	err := st.InTx(ctx, func(tx store.Tx) error {
		var err error
		tokens, err = tx.FindByOwner(ctx, ownerID)
		return err
	})
	return tokens, err
}
