package tokensapp

import (
	"context"
	"errors"

	"github.com/CuckCybsacTEST/tokensapp/claim"
	"github.com/CuckCybsacTEST/tokensapp/internal"
	internalflows "github.com/CuckCybsacTEST/tokensapp/internal/flows"
)

// Status reports a token's read-time state without consuming it. An unknown
// code yields StateNotFound and no error; only store failures are errors.
//
// When several states apply the first match wins: disabled, redeemed,
// exhausted, expired, then the claim check (invalid), else valid.
func (e *Engine) Status(ctx context.Context, code string) (*StatusReport, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	e.metricInc(MetricStatusLookup)

	res := internalflows.RunStatus(ctx, internal.NormalizeCode(code), internalflows.StatusDeps{
		Store: e.store,
		Codec: e.codec,
		Now:   e.now,
	})
	switch {
	case res.State == internalflows.StateNotFound:
		return &StatusReport{State: StateNotFound}, nil
	case res.State == "":
		return nil, storeErr(res.Err)
	}

	return &StatusReport{
		State:     TokenState(res.State),
		Token:     res.Token,
		Claim:     res.Claim,
		Remaining: res.Remaining,
	}, nil
}

// Verify checks that code names a currently redeemable token and returns
// its verified claim. Nothing is written. Errors use the same sentinels as
// Redeem; guards are not evaluated.
func (e *Engine) Verify(ctx context.Context, code string) (*Token, claim.Claim, error) {
	report, err := e.Status(ctx, code)
	if err != nil {
		return nil, claim.Claim{}, err
	}

	switch report.State {
	case StateValid:
		return report.Token, report.Claim, nil
	case StateNotFound:
		return nil, claim.Claim{}, ErrNotFound
	case StateDisabled:
		return report.Token, claim.Claim{}, ErrTokenDisabled
	case StateRedeemed:
		return report.Token, claim.Claim{}, ErrAlreadyRedeemed
	case StateExhausted:
		return report.Token, claim.Claim{}, ErrTokenExhausted
	case StateExpired:
		return report.Token, claim.Claim{}, ErrExpired
	default:
		return report.Token, claim.Claim{}, ErrInvalidSignature
	}
}

// Disable blocks further redemption of a token. Disabling an already
// disabled token succeeds without change.
func (e *Engine) Disable(ctx context.Context, code string) (*Token, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	tok, err := internalflows.RunDisable(ctx, internal.NormalizeCode(code), e.store)
	if err != nil {
		err = storeErr(err)
		if !errors.Is(err, ErrNotFound) {
			e.logger.Error().Err(err).Msg("token disable failed")
		}
		e.emitAudit(ctx, auditEventTokenDisabled, false, "", "", err, nil)
		return nil, err
	}

	e.metricInc(MetricTokenDisabled)
	e.emitAudit(ctx, auditEventTokenDisabled, true, tok.OwnerID, tok.ID, nil, nil)
	return tok, nil
}

// Redemptions lists a token's redemption events in commit order.
func (e *Engine) Redemptions(ctx context.Context, code string) ([]*RedemptionEvent, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	tok, events, err := internalflows.RunListRedemptions(ctx, internal.NormalizeCode(code), e.store)
	if err != nil {
		return nil, storeErr(err)
	}
	e.emitAudit(ctx, auditEventRedemptionsRead, true, tok.OwnerID, tok.ID, nil, nil)
	return events, nil
}

// Tokens returns every token issued to ownerID.
func (e *Engine) Tokens(ctx context.Context, ownerID string) ([]*Token, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if ownerID == "" {
		return nil, ErrInvalidRequest
	}
	tokens, err := internalflows.RunListOwner(ctx, ownerID, e.store)
	if err != nil {
		return nil, storeErr(err)
	}
	return tokens, nil
}
