package tokensapp

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/CuckCybsacTEST/tokensapp/store"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var testSecret = []byte("test-secret-0123456789abcdef-xyz")

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

func newBenchRedis(b *testing.B) (*miniredis.Miniredis, *redis.Client) {
	b.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		b.Fatalf("miniredis.Run failed: %v", err)
	}
	return mr, redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Domain.SigningSecret = append([]byte(nil), testSecret...)
	cfg.Metrics.EnableLatencyHistograms = true
	return cfg
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 5, 10, 15, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type engineFixture struct {
	engine *Engine
	clock  *testClock
	mr     *miniredis.Miniredis
	rdb    *redis.Client
}

// newTestEngine builds an engine on miniredis. configure may adjust the
// builder before Build.
func newTestEngine(t *testing.T, cfg Config, configure func(b *Builder)) *engineFixture {
	t.Helper()

	mr, rdb := newTestRedis(t)
	clock := newTestClock()

	b := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithClock(clock.Now)
	if configure != nil {
		configure(b)
	}

	engine, err := b.Build()
	if err != nil {
		mr.Close()
		t.Fatalf("Build failed: %v", err)
	}

	t.Cleanup(func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	})
	return &engineFixture{engine: engine, clock: clock, mr: mr, rdb: rdb}
}

// mutatingStore rewrites tokens as they are read, simulating rows edited
// directly in the database.
type mutatingStore struct {
	store.Store
	mutate func(tok *store.Token)
}

func (s *mutatingStore) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.Store.InTx(ctx, func(tx store.Tx) error {
		return fn(&mutatingTx{Tx: tx, mutate: s.mutate})
	})
}

type mutatingTx struct {
	store.Tx
	mutate func(tok *store.Token)
}

func (t *mutatingTx) FindByCode(ctx context.Context, code string) (*store.Token, error) {
	tok, err := t.Tx.FindByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	t.mutate(tok)
	return tok, nil
}

// collidingStore rejects every inserted code as a duplicate.
type collidingStore struct {
	store.Store
	inserts int
	mu      sync.Mutex
}

func (s *collidingStore) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.Store.InTx(ctx, func(tx store.Tx) error {
		return fn(&collidingTx{Tx: tx, parent: s})
	})
}

type collidingTx struct {
	store.Tx
	parent *collidingStore
}

func (t *collidingTx) InsertToken(context.Context, *store.Token) error {
	t.parent.mu.Lock()
	t.parent.inserts++
	t.parent.mu.Unlock()
	return store.ErrDuplicateCode
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) Contains(s string) bool {
	return strings.Contains(b.String(), s)
}
