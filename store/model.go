package store

import "time"

// Status is the persisted lifecycle state of a token. Expiry is not a
// stored state: an expired token stays StatusActive forever.
type Status string

const (
	StatusActive    Status = "active"
	StatusRedeemed  Status = "redeemed"
	StatusExhausted Status = "exhausted"
)

// Terminal reports whether no transition can leave s.
func (s Status) Terminal() bool {
	return s == StatusRedeemed || s == StatusExhausted
}

// Token is the persisted capability token row.
type Token struct {
	ID        string
	Code      string
	OwnerID   string
	Kind      string
	Status    Status
	MaxUses   int
	UsedCount int
	Disabled  bool
	ExpiresAt time.Time
	CreatedAt time.Time
	// Claim is the encoded signed claim blob.
	Claim string
}

// Clone returns a copy that shares no state with t.
func (t *Token) Clone() *Token {
	if t == nil {
		return nil
	}
	out := *t
	return &out
}

// RedemptionEvent is an append-only record of one successful consumption.
type RedemptionEvent struct {
	ID         string
	TokenID    string
	RedeemedAt time.Time
	By         string
	Device     string
	Location   string
}
