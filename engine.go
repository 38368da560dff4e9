package tokensapp

import (
	"errors"
	"fmt"
	"time"

	"github.com/CuckCybsacTEST/tokensapp/claim"
	"github.com/CuckCybsacTEST/tokensapp/expiry"
	"github.com/CuckCybsacTEST/tokensapp/internal"
	"github.com/CuckCybsacTEST/tokensapp/internal/rate"
	"github.com/CuckCybsacTEST/tokensapp/store"
	"github.com/rs/zerolog"
)

// Engine issues, verifies and redeems capability tokens for one domain.
// It holds no per-token state: every decision is taken inside a store
// transaction, so any number of Engine instances may share one store.
type Engine struct {
	config     Config
	codec      *claim.Codec
	policy     expiry.Policy
	location   *time.Location
	store      store.Store
	guards     []Guard
	throttle   *rate.Limiter
	audit      *auditDispatcher
	metrics    *Metrics
	logger     zerolog.Logger
	now        func() time.Time
	newID      func() string
	codePolicy internal.CodePolicy
	variant    VariantFunc
}

// Close drains the audit dispatcher. The store is owned by the caller.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports events discarded because the audit buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Domain returns the configured domain name.
func (e *Engine) Domain() string {
	if e == nil {
		return ""
	}
	return e.config.Domain.Name
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) metricAdd(id MetricID, n int) {
	if e == nil || e.metrics == nil || n <= 0 {
		return
	}
	e.metrics.Add(id, uint64(n))
}

func (e *Engine) ready() error {
	if e == nil || e.store == nil || e.codec == nil || e.policy == nil || e.now == nil {
		return ErrEngineNotReady
	}
	return nil
}

// defaultVariant derives a claim from the owner alone. Callers with richer
// metadata pass IssueOptions.Variant or Builder.WithVariant.
func (e *Engine) defaultVariant(ownerID, kind string, ref time.Time) claim.Variant {
	switch claim.Domain(e.config.Domain.Name) {
	case claim.DomainPartyInvite:
		return claim.PartyInviteClaim{
			ReservationID: ownerID,
			Date:          ref.In(e.location).Format(expiry.DateLayout),
		}
	case claim.DomainEventInvite:
		return claim.EventInviteClaim{
			EventID:  ownerID,
			StartsAt: ref,
		}
	default:
		return claim.PrizeClaim{
			PrizeID: ownerID,
			Label:   kind,
		}
	}
}

func storeErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, store.ErrOwnerNotFound):
		return ErrOwnerNotFound
	default:
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
}
