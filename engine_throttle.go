package tokensapp

import (
	"context"
	"errors"
	"fmt"

	"github.com/CuckCybsacTEST/tokensapp/internal/rate"
)

// ThrottleFailures returns the failed redemptions counted for subject (a
// client IP or device) in the current window. It returns zero when the
// throttle is disabled.
func (e *Engine) ThrottleFailures(ctx context.Context, subject string) (int, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	if e.throttle == nil {
		return 0, nil
	}
	if subject == "" {
		return 0, ErrInvalidRequest
	}

	n, err := e.throttle.Failures(ctx, subject)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return n, nil
}

// ResetThrottle clears subject's failure counter so it can redeem again
// before the window ends. It is a no-op when the throttle is disabled.
func (e *Engine) ResetThrottle(ctx context.Context, subject string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if e.throttle == nil {
		return nil
	}
	if subject == "" {
		return ErrInvalidRequest
	}

	if err := e.throttle.Reset(ctx, subject); err != nil {
		err = fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		e.logger.Error().Err(err).Msg("redeem throttle reset failed")
		e.emitAudit(ctx, auditEventThrottleReset, false, "", "", err, nil)
		return err
	}

	e.logger.Info().Str("subject", subject).Msg("redeem throttle reset")
	e.emitAudit(ctx, auditEventThrottleReset, true, "", "", nil, func() map[string]string {
		return map[string]string{"subject": subject}
	})
	return nil
}

// checkThrottle fails open when the counter backend is unreachable; the
// store transaction still decides the redemption.
func (e *Engine) checkThrottle(ctx context.Context, subject string) error {
	if e.throttle == nil {
		return nil
	}
	err := e.throttle.Check(ctx, subject)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, rate.ErrRateLimited):
		return ErrRateLimited
	default:
		e.logger.Warn().Err(err).Msg("redeem throttle unavailable")
		return nil
	}
}

func (e *Engine) recordThrottleFailure(ctx context.Context, subject string) {
	if e.throttle == nil {
		return
	}
	n, err := e.throttle.RecordFailure(ctx, subject)
	if err != nil {
		e.logger.Warn().Err(err).Msg("redeem throttle unavailable")
		return
	}
	if n == int64(e.config.Throttle.MaxFailures) {
		e.logger.Warn().Str("subject", subject).Int64("failures", n).Msg("redeem throttle engaged")
	}
}
