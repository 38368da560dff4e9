package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no row matches the lookup.
	ErrNotFound = errors.New("store: record not found")
	// ErrDuplicateCode is returned by InsertToken on a unique-code collision.
	ErrDuplicateCode = errors.New("store: duplicate token code")
	// ErrOwnerNotFound is returned by ClaimGeneration when the owner record does not exist.
	ErrOwnerNotFound = errors.New("store: owner not found")
	// ErrUnavailable wraps backend failures.
	ErrUnavailable = errors.New("store: backend unavailable")
	// ErrConflict is returned when an optimistic transaction could not commit
	// within its retry budget.
	ErrConflict = errors.New("store: transaction conflict")
)

// Store runs units of work atomically. fn may be invoked more than once
// when the backend retries an optimistic transaction, so it must not keep
// side effects outside tx between attempts.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the token store contract. Every method executes inside the
// transaction that produced it; nothing is visible to other callers until
// the enclosing InTx returns nil.
type Tx interface {
	FindByCode(ctx context.Context, code string) (*Token, error)
	FindByID(ctx context.Context, id string) (*Token, error)
	FindByOwner(ctx context.Context, ownerID string) ([]*Token, error)

	// ConditionalUpdate applies patch to the token only if cond holds and
	// returns the number of affected rows (0 or 1).
	ConditionalUpdate(ctx context.Context, id string, cond Cond, patch Patch) (int64, error)

	InsertToken(ctx context.Context, token *Token) error
	InsertRedemption(ctx context.Context, event *RedemptionEvent) error
	// ListRedemptions returns a token's events in insert order, not
	// timestamp order: racing redemptions can share a RedeemedAt.
	ListRedemptions(ctx context.Context, tokenID string) ([]*RedemptionEvent, error)

	// ClaimGeneration sets the owner's nullable generation marker to at when
	// it is currently unset. It reports whether this call set it.
	ClaimGeneration(ctx context.Context, ownerID string, at time.Time) (bool, error)
}

// Cond is the WHERE clause of a conditional update. Zero-valued fields are
// not checked.
type Cond struct {
	StatusNot         Status
	StatusIs          Status
	UsedCountBelowMax bool
	NotDisabled       bool
}

// Matches evaluates c against t. Backends that cannot push the predicate
// down to storage use this to evaluate it in-transaction.
func (c Cond) Matches(t *Token) bool {
	if t == nil {
		return false
	}
	if c.StatusNot != "" && t.Status == c.StatusNot {
		return false
	}
	if c.StatusIs != "" && t.Status != c.StatusIs {
		return false
	}
	if c.UsedCountBelowMax && t.UsedCount >= t.MaxUses {
		return false
	}
	if c.NotDisabled && t.Disabled {
		return false
	}
	return true
}

// Patch is the SET clause of a conditional update.
type Patch struct {
	IncrementUsed int
	Status        Status
	UsedCount     *int
	MaxUses       *int
	Disabled      *bool
}

// Apply mutates t in place.
func (p Patch) Apply(t *Token) {
	if p.IncrementUsed != 0 {
		t.UsedCount += p.IncrementUsed
	}
	if p.Status != "" {
		t.Status = p.Status
	}
	if p.UsedCount != nil {
		t.UsedCount = *p.UsedCount
	}
	if p.MaxUses != nil {
		t.MaxUses = *p.MaxUses
	}
	if p.Disabled != nil {
		t.Disabled = *p.Disabled
	}
}

// Int returns a pointer to v for Patch fields.
func Int(v int) *int { return &v }

// Bool returns a pointer to v for Patch fields.
func Bool(v bool) *bool { return &v }
