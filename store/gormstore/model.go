package gormstore

import (
	"time"

	"github.com/CuckCybsacTEST/tokensapp/store"
)

type tokenModel struct {
	ID        string    `gorm:"primaryKey;size:64"`
	Code      string    `gorm:"size:64;not null;uniqueIndex"`
	OwnerID   string    `gorm:"size:128;not null;index"`
	Kind      string    `gorm:"size:64;not null"`
	Status    string    `gorm:"size:16;not null;default:active"`
	MaxUses   int       `gorm:"not null;default:0"`
	UsedCount int       `gorm:"not null;default:0"`
	Disabled  bool      `gorm:"not null;default:false"`
	ExpiresAt time.Time `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
	Claim     string    `gorm:"type:text;not null"`
}

func (tokenModel) TableName() string { return "capability_tokens" }

type redemptionModel struct {
	ID         string    `gorm:"primaryKey;size:64"`
	Seq        int64     `gorm:"autoIncrement;not null;index"`
	TokenID    string    `gorm:"size:64;not null;index"`
	RedeemedAt time.Time `gorm:"not null"`
	By         string    `gorm:"column:redeemed_by;size:128"`
	Device     string    `gorm:"size:128"`
	Location   string    `gorm:"size:255"`
}

func (redemptionModel) TableName() string { return "token_redemptions" }

// ownerModel backs the default owner table. Domains that already have an
// owner table (reservations, invitations) point the store at it instead.
type ownerModel struct {
	ID                  string `gorm:"primaryKey;size:128"`
	GenerationClaimedAt *time.Time
}

func (ownerModel) TableName() string { return defaultOwnerTable }

func toModel(t *store.Token) *tokenModel {
	return &tokenModel{
		ID:        t.ID,
		Code:      t.Code,
		OwnerID:   t.OwnerID,
		Kind:      t.Kind,
		Status:    string(t.Status),
		MaxUses:   t.MaxUses,
		UsedCount: t.UsedCount,
		Disabled:  t.Disabled,
		ExpiresAt: t.ExpiresAt.UTC(),
		CreatedAt: t.CreatedAt.UTC(),
		Claim:     t.Claim,
	}
}

func fromModel(m *tokenModel) *store.Token {
	return &store.Token{
		ID:        m.ID,
		Code:      m.Code,
		OwnerID:   m.OwnerID,
		Kind:      m.Kind,
		Status:    store.Status(m.Status),
		MaxUses:   m.MaxUses,
		UsedCount: m.UsedCount,
		Disabled:  m.Disabled,
		ExpiresAt: m.ExpiresAt.UTC(),
		CreatedAt: m.CreatedAt.UTC(),
		Claim:     m.Claim,
	}
}

func toRedemptionModel(e *store.RedemptionEvent) *redemptionModel {
	return &redemptionModel{
		ID:         e.ID,
		TokenID:    e.TokenID,
		RedeemedAt: e.RedeemedAt.UTC(),
		By:         e.By,
		Device:     e.Device,
		Location:   e.Location,
	}
}

func fromRedemptionModel(m *redemptionModel) *store.RedemptionEvent {
	return &store.RedemptionEvent{
		ID:         m.ID,
		TokenID:    m.TokenID,
		RedeemedAt: m.RedeemedAt.UTC(),
		By:         m.By,
		Device:     m.Device,
		Location:   m.Location,
	}
}
