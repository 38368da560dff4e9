package redisstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/CuckCybsacTEST/tokensapp/store"
	"github.com/redis/go-redis/v9"
)

const defaultMaxTxRetries = 64

// Store is a Redis-backed token store. Each InTx call runs as an optimistic
// transaction: every key read is WATCHed first and all writes are queued
// into a single MULTI/EXEC, so a unit of work either commits whole or is
// retried against fresh data.
type Store struct {
	redis      redis.UniversalClient
	prefix     string
	maxRetries int
}

// Option configures a Store.
type Option func(*Store)

// WithMaxTxRetries bounds how many times a conflicting transaction is
// replayed before InTx gives up with store.ErrConflict.
func WithMaxTxRetries(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// New returns a Store using prefix for every key it owns.
func New(redisClient redis.UniversalClient, prefix string, opts ...Option) *Store {
	if prefix == "" {
		prefix = "cap"
	}
	s := &Store{
		redis:      redisClient,
		prefix:     prefix,
		maxRetries: defaultMaxTxRetries,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) tokenKey(id string) string       { return s.prefix + ":tok:" + id }
func (s *Store) codeKey(code string) string      { return s.prefix + ":code:" + code }
func (s *Store) ownerKey(ownerID string) string  { return s.prefix + ":own:" + ownerID }
func (s *Store) markerKey(ownerID string) string { return s.prefix + ":gen:" + ownerID }
func (s *Store) eventsKey(tokenID string) string { return s.prefix + ":red:" + tokenID }

// Ping measures a round-trip to Redis.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return time.Since(start), nil
}

// InTx runs fn inside an optimistic transaction. fn is replayed when a
// watched key changes before commit.
func (s *Store) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	for i := 0; i < s.maxRetries; i++ {
		err := s.redis.Watch(ctx, func(rtx *redis.Tx) error {
			t := newTx(s, rtx)
			if err := fn(t); err != nil {
				return err
			}
			return t.commit(ctx)
		})

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}

	return store.ErrConflict
}

type tx struct {
	s  *Store
	tx *redis.Tx

	tokens    map[string]*store.Token
	dirty     map[string]bool
	newCodes  map[string]string
	ownerAdds map[string][]string
	events    []*store.RedemptionEvent
	markers   map[string]time.Time
}

func newTx(s *Store, rtx *redis.Tx) *tx {
	return &tx{
		s:         s,
		tx:        rtx,
		tokens:    make(map[string]*store.Token),
		dirty:     make(map[string]bool),
		newCodes:  make(map[string]string),
		ownerAdds: make(map[string][]string),
		markers:   make(map[string]time.Time),
	}
}

func (t *tx) watch(ctx context.Context, keys ...string) error {
	if err := t.tx.Watch(ctx, keys...).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (t *tx) load(ctx context.Context, id string) (*store.Token, error) {
	if tok, ok := t.tokens[id]; ok {
		return tok, nil
	}

	key := t.s.tokenKey(id)
	if err := t.watch(ctx, key); err != nil {
		return nil, err
	}
	data, err := t.tx.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, store.ErrNotFound
		}
		return nil, unavailable(err)
	}

	tok, err := decodeToken(data)
	if err != nil {
		return nil, err
	}
	t.tokens[id] = tok
	return tok, nil
}

func (t *tx) FindByCode(ctx context.Context, code string) (*store.Token, error) {
	if id, ok := t.newCodes[code]; ok {
		return t.tokens[id].Clone(), nil
	}

	key := t.s.codeKey(code)
	if err := t.watch(ctx, key); err != nil {
		return nil, err
	}
	id, err := t.tx.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, store.ErrNotFound
		}
		return nil, unavailable(err)
	}

	tok, err := t.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return tok.Clone(), nil
}

func (t *tx) FindByID(ctx context.Context, id string) (*store.Token, error) {
	tok, err := t.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return tok.Clone(), nil
}

func (t *tx) FindByOwner(ctx context.Context, ownerID string) ([]*store.Token, error) {
	key := t.s.ownerKey(ownerID)
	if err := t.watch(ctx, key); err != nil {
		return nil, err
	}
	ids, err := t.tx.SMembers(ctx, key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, unavailable(err)
	}
	ids = append(ids, t.ownerAdds[ownerID]...)

	out := make([]*store.Token, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		tok, err := t.load(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, tok.Clone())
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Code < out[j].Code
	})
	return out, nil
}

func (t *tx) ConditionalUpdate(ctx context.Context, id string, cond store.Cond, patch store.Patch) (int64, error) {
	tok, err := t.load(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if !cond.Matches(tok) {
		return 0, nil
	}

	patch.Apply(tok)
	t.dirty[id] = true
	return 1, nil
}

func (t *tx) InsertToken(ctx context.Context, token *store.Token) error {
	if token == nil || token.ID == "" || token.Code == "" {
		return errors.New("redisstore: token requires id and code")
	}
	if _, ok := t.newCodes[token.Code]; ok {
		return store.ErrDuplicateCode
	}

	codeKey := t.s.codeKey(token.Code)
	if err := t.watch(ctx, codeKey); err != nil {
		return err
	}
	exists, err := t.tx.Exists(ctx, codeKey).Result()
	if err != nil {
		return unavailable(err)
	}
	if exists > 0 {
		return store.ErrDuplicateCode
	}

	t.tokens[token.ID] = token.Clone()
	t.dirty[token.ID] = true
	t.newCodes[token.Code] = token.ID
	t.ownerAdds[token.OwnerID] = append(t.ownerAdds[token.OwnerID], token.ID)
	return nil
}

func (t *tx) InsertRedemption(_ context.Context, event *store.RedemptionEvent) error {
	if event == nil || event.ID == "" || event.TokenID == "" {
		return errors.New("redisstore: redemption requires id and token id")
	}
	copied := *event
	t.events = append(t.events, &copied)
	return nil
}

func (t *tx) ListRedemptions(ctx context.Context, tokenID string) ([]*store.RedemptionEvent, error) {
	raw, err := t.tx.LRange(ctx, t.s.eventsKey(tokenID), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, unavailable(err)
	}

	out := make([]*store.RedemptionEvent, 0, len(raw))
	for _, item := range raw {
		ev, err := decodeEvent([]byte(item))
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	for _, ev := range t.events {
		if ev.TokenID == tokenID {
			copied := *ev
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (t *tx) ClaimGeneration(ctx context.Context, ownerID string, at time.Time) (bool, error) {
	if _, ok := t.markers[ownerID]; ok {
		return false, nil
	}

	key := t.s.markerKey(ownerID)
	if err := t.watch(ctx, key); err != nil {
		return false, err
	}
	exists, err := t.tx.Exists(ctx, key).Result()
	if err != nil {
		return false, unavailable(err)
	}
	if exists > 0 {
		return false, nil
	}

	t.markers[ownerID] = at
	return true, nil
}

func (t *tx) commit(ctx context.Context) error {
	if len(t.dirty) == 0 && len(t.events) == 0 && len(t.markers) == 0 {
		return nil
	}

	encoded := make(map[string][]byte, len(t.dirty))
	for id := range t.dirty {
		data, err := encodeToken(t.tokens[id])
		if err != nil {
			return err
		}
		encoded[id] = data
	}
	events := make([][]byte, 0, len(t.events))
	for _, ev := range t.events {
		data, err := encodeEvent(ev)
		if err != nil {
			return err
		}
		events = append(events, data)
	}

	_, err := t.tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for id, data := range encoded {
			pipe.Set(ctx, t.s.tokenKey(id), data, 0)
		}
		for code, id := range t.newCodes {
			pipe.Set(ctx, t.s.codeKey(code), id, 0)
		}
		for ownerID, ids := range t.ownerAdds {
			members := make([]interface{}, 0, len(ids))
			for _, id := range ids {
				members = append(members, id)
			}
			pipe.SAdd(ctx, t.s.ownerKey(ownerID), members...)
		}
		for i, ev := range t.events {
			pipe.RPush(ctx, t.s.eventsKey(ev.TokenID), events[i])
		}
		for ownerID, at := range t.markers {
			pipe.Set(ctx, t.s.markerKey(ownerID), strconv.FormatInt(at.UnixNano(), 10), 0)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.TxFailedErr) {
		return unavailable(err)
	}
	return err
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
}
