package tokensapp

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/CuckCybsacTEST/tokensapp/claim"
	"github.com/CuckCybsacTEST/tokensapp/internal"
	internalflows "github.com/CuckCybsacTEST/tokensapp/internal/flows"
	"github.com/CuckCybsacTEST/tokensapp/store"
)

// Redeem consumes one use of the token identified by code and returns the
// token as committed.
func (e *Engine) Redeem(ctx context.Context, code string, rc RedeemContext) (*Token, error) {
	res, err := e.RedeemWithResult(ctx, code, rc)
	if err != nil {
		return nil, err
	}
	return res.Token, nil
}

// RedeemWithResult is Redeem plus the recorded event. Lookup, expiry,
// claim verification, guards, the usage transition and the event insert
// form one store transaction; on any error nothing was written.
func (e *Engine) RedeemWithResult(ctx context.Context, code string, rc RedeemContext) (*RedeemResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	subject := ClientIPFromContext(ctx)
	if subject == "" {
		subject = rc.Device
	}
	if err := e.checkThrottle(ctx, subject); err != nil {
		e.metricInc(MetricRedeemThrottled)
		e.emitAudit(ctx, auditEventRedeemFailure, false, "", "", err, nil)
		return nil, err
	}

	start := time.Now()
	res := internalflows.RunRedeem(ctx, internalflows.RedeemRequest{
		Code:     internal.NormalizeCode(code),
		By:       rc.By,
		Device:   rc.Device,
		Location: rc.Location,
	}, e.redeemFlowDeps())
	if e.metrics.LatencyEnabled() {
		e.metrics.Observe(MetricRedeemLatency, time.Since(start))
	}

	if rc.By != "" && ActorIDFromContext(ctx) == "" {
		ctx = WithActorID(ctx, rc.By)
	}

	if res.Failure != internalflows.RedeemFailureNone {
		err := e.redeemError(res)
		e.metricInc(redeemFailureMetric(res.Failure))
		if res.Failure == internalflows.RedeemFailureStore {
			e.logger.Error().Err(res.Err).Msg("token redemption failed")
		}
		if res.Failure == internalflows.RedeemFailureNotFound || res.Failure == internalflows.RedeemFailureInvalidSignature {
			e.recordThrottleFailure(ctx, subject)
		}
		e.emitAudit(ctx, auditEventRedeemFailure, false, "", "", err, nil)
		return nil, err
	}

	e.metricInc(MetricRedeemSuccess)
	tok := res.Token
	e.emitAudit(ctx, auditEventRedeemSuccess, true, tok.OwnerID, tok.ID, nil, func() map[string]string {
		md := map[string]string{
			"kind":       tok.Kind,
			"used_count": strconv.Itoa(tok.UsedCount),
			"max_uses":   strconv.Itoa(tok.MaxUses),
		}
		if rc.Device != "" {
			md["device"] = rc.Device
		}
		if rc.Location != "" {
			md["location"] = rc.Location
		}
		return md
	})
	if res.Flipped {
		e.metricInc(MetricTokenTerminal)
		e.emitAudit(ctx, auditEventTokenTerminal, true, tok.OwnerID, tok.ID, nil, func() map[string]string {
			return map[string]string{"status": string(tok.Status)}
		})
	}

	return &RedeemResult{
		Token:    tok,
		Event:    res.Event,
		Terminal: res.Flipped,
	}, nil
}

func (e *Engine) redeemFlowDeps() internalflows.RedeemDeps {
	guards := make([]internalflows.Guard, 0, len(e.guards))
	for _, g := range e.guards {
		guards = append(guards, wrapGuard(g))
	}
	return internalflows.RedeemDeps{
		Store:  e.store,
		Codec:  e.codec,
		Guards: guards,
		Now:    e.now,
		NewID:  e.newID,
	}
}

// wrapGuard makes every guard failure a *PreconditionError.
func wrapGuard(g Guard) internalflows.Guard {
	return func(ctx context.Context, tok *store.Token, cl claim.Claim, now time.Time) error {
		err := g.Check(ctx, tok, cl, now)
		if err == nil {
			return nil
		}
		var pre *PreconditionError
		if errors.As(err, &pre) {
			return err
		}
		return NewPreconditionError("guard", err.Error(), err)
	}
}

func (e *Engine) redeemError(res internalflows.RedeemResult) error {
	switch res.Failure {
	case internalflows.RedeemFailureInvalid:
		return fmt.Errorf("%w: %v", ErrInvalidRequest, res.Err)
	case internalflows.RedeemFailureNotFound:
		return ErrNotFound
	case internalflows.RedeemFailureExpired:
		return ErrExpired
	case internalflows.RedeemFailureInvalidSignature:
		return ErrInvalidSignature
	case internalflows.RedeemFailureDisabled:
		return ErrTokenDisabled
	case internalflows.RedeemFailurePrecondition:
		return res.Err
	case internalflows.RedeemFailureAlreadyRedeemed:
		return ErrAlreadyRedeemed
	case internalflows.RedeemFailureExhausted:
		return ErrTokenExhausted
	default:
		return storeErr(res.Err)
	}
}

func redeemFailureMetric(kind internalflows.RedeemFailureKind) MetricID {
	switch kind {
	case internalflows.RedeemFailureNotFound:
		return MetricRedeemNotFound
	case internalflows.RedeemFailureExpired:
		return MetricRedeemExpired
	case internalflows.RedeemFailureInvalidSignature:
		return MetricRedeemInvalidSignature
	case internalflows.RedeemFailureDisabled:
		return MetricRedeemDisabled
	case internalflows.RedeemFailurePrecondition:
		return MetricRedeemPrecondition
	case internalflows.RedeemFailureAlreadyRedeemed:
		return MetricRedeemAlreadyRedeemed
	case internalflows.RedeemFailureExhausted:
		return MetricRedeemExhausted
	default:
		return MetricRedeemFailure
	}
}
