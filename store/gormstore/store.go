package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/CuckCybsacTEST/tokensapp/store"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultOwnerTable = "token_owners"

// Store is a SQL token store. Conditional updates are pushed down as
// UPDATE ... WHERE statements so the database row lock arbitrates races.
type Store struct {
	db           *gorm.DB
	ownerTable   string
	ownerIDCol   string
	ownerMarkCol string
	autoOwners   bool
}

// Option configures a Store.
type Option func(*Store)

// WithOwnerTable points the generation marker at an existing domain table,
// e.g. WithOwnerTable("reservations", "id", "tokens_generated_at"). Owners
// must already exist in that table.
func WithOwnerTable(table, idColumn, markerColumn string) Option {
	return func(s *Store) {
		s.ownerTable = table
		s.ownerIDCol = idColumn
		s.ownerMarkCol = markerColumn
		s.autoOwners = false
	}
}

// New wraps an open gorm connection.
func New(db *gorm.DB, opts ...Option) *Store {
	s := &Store{
		db:           db,
		ownerTable:   defaultOwnerTable,
		ownerIDCol:   "id",
		ownerMarkCol: "generation_claimed_at",
		autoOwners:   true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects to postgres with error translation enabled so unique
// violations surface as gorm.ErrDuplicatedKey.
func Open(dsn string, opts ...Option) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return New(db, opts...), nil
}

// DB returns the underlying connection.
func (s *Store) DB() *gorm.DB { return s.db }

// AutoMigrate creates the token, redemption and default owner tables.
func (s *Store) AutoMigrate(ctx context.Context) error {
	models := []interface{}{&tokenModel{}, &redemptionModel{}}
	if s.autoOwners {
		models = append(models, &ownerModel{})
	}
	return s.db.WithContext(ctx).AutoMigrate(models...)
}

// InTx runs fn inside a SQL transaction.
func (s *Store) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		return fn(&tx{s: s, db: gtx})
	})
}

type tx struct {
	s  *Store
	db *gorm.DB
}

func (t *tx) FindByCode(ctx context.Context, code string) (*store.Token, error) {
	var m tokenModel
	if err := t.db.WithContext(ctx).Where("code = ?", code).First(&m).Error; err != nil {
		return nil, mapErr(err)
	}
	return fromModel(&m), nil
}

func (t *tx) FindByID(ctx context.Context, id string) (*store.Token, error) {
	var m tokenModel
	if err := t.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, mapErr(err)
	}
	return fromModel(&m), nil
}

func (t *tx) FindByOwner(ctx context.Context, ownerID string) ([]*store.Token, error) {
	var rows []tokenModel
	err := t.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at ASC, kind ASC, code ASC").
		Find(&rows).Error
	if err != nil {
		return nil, mapErr(err)
	}

	out := make([]*store.Token, 0, len(rows))
	for i := range rows {
		out = append(out, fromModel(&rows[i]))
	}
	return out, nil
}

func (t *tx) ConditionalUpdate(ctx context.Context, id string, cond store.Cond, patch store.Patch) (int64, error) {
	q := t.db.WithContext(ctx).Model(&tokenModel{}).Where("id = ?", id)
	if cond.StatusNot != "" {
		q = q.Where("status <> ?", string(cond.StatusNot))
	}
	if cond.StatusIs != "" {
		q = q.Where("status = ?", string(cond.StatusIs))
	}
	if cond.UsedCountBelowMax {
		q = q.Where("used_count < max_uses")
	}
	if cond.NotDisabled {
		q = q.Where("disabled = ?", false)
	}

	updates := map[string]interface{}{}
	if patch.IncrementUsed != 0 {
		updates["used_count"] = gorm.Expr("used_count + ?", patch.IncrementUsed)
	}
	if patch.Status != "" {
		updates["status"] = string(patch.Status)
	}
	if patch.UsedCount != nil {
		updates["used_count"] = *patch.UsedCount
	}
	if patch.MaxUses != nil {
		updates["max_uses"] = *patch.MaxUses
	}
	if patch.Disabled != nil {
		updates["disabled"] = *patch.Disabled
	}
	if len(updates) == 0 {
		return 0, errors.New("gormstore: empty patch")
	}

	res := q.Updates(updates)
	if res.Error != nil {
		return 0, mapErr(res.Error)
	}
	return res.RowsAffected, nil
}

// InsertToken runs inside a savepoint so a unique violation does not
// poison the enclosing postgres transaction and the caller can retry with
// a fresh code.
func (t *tx) InsertToken(ctx context.Context, token *store.Token) error {
	m := toModel(token)
	err := t.db.WithContext(ctx).Transaction(func(sp *gorm.DB) error {
		return sp.Create(m).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return store.ErrDuplicateCode
	}
	if err != nil {
		return mapErr(err)
	}
	return nil
}

func (t *tx) InsertRedemption(ctx context.Context, event *store.RedemptionEvent) error {
	if err := t.db.WithContext(ctx).Create(toRedemptionModel(event)).Error; err != nil {
		return mapErr(err)
	}
	return nil
}

func (t *tx) ListRedemptions(ctx context.Context, tokenID string) ([]*store.RedemptionEvent, error) {
	var rows []redemptionModel
	err := t.db.WithContext(ctx).
		Where("token_id = ?", tokenID).
		Order("seq ASC").
		Find(&rows).Error
	if err != nil {
		return nil, mapErr(err)
	}

	out := make([]*store.RedemptionEvent, 0, len(rows))
	for i := range rows {
		out = append(out, fromRedemptionModel(&rows[i]))
	}
	return out, nil
}

func (t *tx) ClaimGeneration(ctx context.Context, ownerID string, at time.Time) (bool, error) {
	db := t.db.WithContext(ctx)

	if t.s.autoOwners {
		err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&ownerModel{ID: ownerID}).Error
		if err != nil {
			return false, mapErr(err)
		}
	}

	res := db.Table(t.s.ownerTable).
		Where(t.s.ownerIDCol+" = ? AND "+t.s.ownerMarkCol+" IS NULL", ownerID).
		Update(t.s.ownerMarkCol, at.UTC())
	if res.Error != nil {
		return false, mapErr(res.Error)
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	var n int64
	if err := db.Table(t.s.ownerTable).Where(t.s.ownerIDCol+" = ?", ownerID).Count(&n).Error; err != nil {
		return false, mapErr(err)
	}
	if n == 0 {
		return false, store.ErrOwnerNotFound
	}
	return false, nil
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return store.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return store.ErrDuplicateCode
	default:
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
}
