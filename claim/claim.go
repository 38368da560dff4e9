package claim

import (
	"strconv"
	"time"
)

// Version1 is the first signing scheme: HMAC-SHA256 over a length-prefixed,
// version-tagged field list.
const Version1 = 1

// CurrentVersion is used by Build for new claims.
const CurrentVersion = Version1

// Domain tags a claim variant.
type Domain string

const (
	DomainPrize       Domain = "prize"
	DomainPartyInvite Domain = "party_invite"
	DomainEventInvite Domain = "event_invite"
)

// Variant is the domain-specific part of a claim. The set of variants is
// closed: only the types in this package implement it.
type Variant interface {
	Domain() Domain
	// canonical returns the variant fields in signing order.
	canonical() []string
}

// PrizeClaim backs prize QR tokens.
type PrizeClaim struct {
	PrizeID string `json:"prize_id"`
	BatchID string `json:"batch_id,omitempty"`
	Label   string `json:"label,omitempty"`
}

func (PrizeClaim) Domain() Domain { return DomainPrize }

func (p PrizeClaim) canonical() []string {
	return []string{p.PrizeID, p.BatchID, p.Label}
}

// PartyInviteClaim backs birthday-party host and guest tokens. Date is the
// reservation's local calendar date (YYYY-MM-DD).
type PartyInviteClaim struct {
	ReservationID string `json:"reservation_id"`
	Date          string `json:"date"`
	Celebrant     string `json:"celebrant,omitempty"`
	GuestQuota    int    `json:"guest_quota,omitempty"`
}

func (PartyInviteClaim) Domain() Domain { return DomainPartyInvite }

func (p PartyInviteClaim) canonical() []string {
	return []string{p.ReservationID, p.Date, p.Celebrant, strconv.Itoa(p.GuestQuota)}
}

// EventInviteClaim backs special-event invitations.
type EventInviteClaim struct {
	EventID      string    `json:"event_id"`
	InvitationID string    `json:"invitation_id,omitempty"`
	StartsAt     time.Time `json:"starts_at"`
}

func (EventInviteClaim) Domain() Domain { return DomainEventInvite }

func (e EventInviteClaim) canonical() []string {
	return []string{e.EventID, e.InvitationID, strconv.FormatInt(e.StartsAt.UnixMilli(), 10)}
}

// Claim is the signed envelope embedded in every token.
type Claim struct {
	Version   int
	OwnerID   string
	Code      string
	Kind      string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Variant   Variant
}

// Signed pairs a claim with its signature (base64url, unpadded).
type Signed struct {
	Claim     Claim
	Signature string
}

// Build assembles a claim with the current version. Instants are
// truncated to millisecond precision so they survive encoding unchanged.
func Build(ownerID, code, kind string, issuedAt, expiresAt time.Time, v Variant) Claim {
	return Claim{
		Version:   CurrentVersion,
		OwnerID:   ownerID,
		Code:      code,
		Kind:      kind,
		IssuedAt:  toMillis(issuedAt),
		ExpiresAt: toMillis(expiresAt),
		Variant:   v,
	}
}

func toMillis(t time.Time) time.Time {
	return time.UnixMilli(t.UnixMilli()).UTC()
}
