package tokensapp

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/CuckCybsacTEST/tokensapp/claim"
	"github.com/CuckCybsacTEST/tokensapp/store"
	"github.com/CuckCybsacTEST/tokensapp/store/redisstore"
)

func generateOne(t *testing.T, e *Engine, ownerID, kind string, maxUses int) *Token {
	t.Helper()
	tokens, err := e.Generate(context.Background(), ownerID, []IssueItem{{Kind: kind, MaxUses: maxUses}}, IssueOptions{})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(tokens) != 1 {
		t.Fatalf("expected 1 token, got %d", len(tokens))
	}
	return tokens[0]
}

func expectErr(t *testing.T, err, want error) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func mustStatus(t *testing.T, e *Engine, code string) *StatusReport {
	t.Helper()
	report, err := e.Status(context.Background(), code)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	return report
}

func counter(e *Engine, id MetricID) uint64 {
	return e.MetricsSnapshot().Counters[id]
}

func TestRedeemSingleUseThenAlreadyRedeemed(t *testing.T) {
	fx := newTestEngine(t, testConfig(), nil)
	ctx := context.Background()

	tok := generateOne(t, fx.engine, "prize-1", "winner", 0)
	if tok.Status != StatusActive || tok.MaxUses != 0 {
		t.Fatalf("unexpected fresh token: status=%s maxUses=%d", tok.Status, tok.MaxUses)
	}

	redeemed, err := fx.engine.Redeem(ctx, tok.Code, RedeemContext{By: "staff-1", Device: "door-a"})
	if err != nil {
		t.Fatalf("Redeem failed: %v", err)
	}
	if redeemed.Status != StatusRedeemed || redeemed.UsedCount != 1 || redeemed.MaxUses != 1 {
		t.Fatalf("expected redeemed 1/1, got status=%s used=%d max=%d", redeemed.Status, redeemed.UsedCount, redeemed.MaxUses)
	}

	_, err = fx.engine.Redeem(ctx, tok.Code, RedeemContext{By: "staff-2"})
	expectErr(t, err, ErrAlreadyRedeemed)
	if Classify(err) != KindAlreadyRedeemed {
		t.Fatalf("expected KindAlreadyRedeemed, got %s", Classify(err))
	}

	events, err := fx.engine.Redemptions(ctx, tok.Code)
	if err != nil {
		t.Fatalf("Redemptions failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	ev := events[0]
	if ev.By != "staff-1" || ev.Device != "door-a" || ev.TokenID != tok.ID {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestRedeemMultiUseFlipsExhaustedAtCap(t *testing.T) {
	fx := newTestEngine(t, testConfig(), nil)
	ctx := context.Background()

	tok := generateOne(t, fx.engine, "party-7", "guest", 5)

	for i := 1; i <= 5; i++ {
		res, err := fx.engine.RedeemWithResult(ctx, tok.Code, RedeemContext{By: "door"})
		if err != nil {
			t.Fatalf("use %d failed: %v", i, err)
		}
		if res.Token.UsedCount != i {
			t.Fatalf("use %d: expected used count %d, got %d", i, i, res.Token.UsedCount)
		}
		wantStatus, wantTerminal := StatusActive, false
		if i == 5 {
			wantStatus, wantTerminal = StatusExhausted, true
		}
		if res.Token.Status != wantStatus || res.Terminal != wantTerminal {
			t.Fatalf("use %d: status=%s terminal=%v", i, res.Token.Status, res.Terminal)
		}
	}

	_, err := fx.engine.Redeem(ctx, tok.Code, RedeemContext{By: "door"})
	expectErr(t, err, ErrTokenExhausted)

	events, err := fx.engine.Redemptions(ctx, tok.Code)
	if err != nil || len(events) != 5 {
		t.Fatalf("expected 5 events, got %d (err=%v)", len(events), err)
	}

	if got := counter(fx.engine, MetricRedeemSuccess); got != 5 {
		t.Fatalf("expected 5 successes, got %d", got)
	}
	if got := counter(fx.engine, MetricRedeemExhausted); got != 1 {
		t.Fatalf("expected 1 exhausted, got %d", got)
	}
	if got := counter(fx.engine, MetricTokenTerminal); got != 1 {
		t.Fatalf("expected 1 terminal flip, got %d", got)
	}
}

func TestMultiUseIncrementRequiresActiveRow(t *testing.T) {
	fx := newTestEngine(t, testConfig(), nil)
	ctx := context.Background()
	tok := generateOne(t, fx.engine, "party-stale", "guest", 3)

	backing := redisstore.New(fx.rdb, "cap")
	err := backing.InTx(ctx, func(tx store.Tx) error {
		_, err := tx.ConditionalUpdate(ctx, tok.ID, store.Cond{}, store.Patch{Status: store.StatusRedeemed})
		return err
	})
	if err != nil {
		t.Fatalf("status rewrite failed: %v", err)
	}

	// The read still reports active; the row no longer is.
	stale, err := New().
		WithConfig(testConfig()).
		WithClock(fx.clock.Now).
		WithStore(&mutatingStore{Store: backing, mutate: func(tok *store.Token) { tok.Status = store.StatusActive }}).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer stale.Close()

	_, err = stale.Redeem(ctx, tok.Code, RedeemContext{})
	expectErr(t, err, ErrTokenExhausted)

	report := mustStatus(t, fx.engine, tok.Code)
	if report.Token.UsedCount != 0 {
		t.Fatalf("expected no use consumed, got %d", report.Token.UsedCount)
	}
	events, err := fx.engine.Redemptions(ctx, tok.Code)
	if err != nil || len(events) != 0 {
		t.Fatalf("expected no events, got %d (err=%v)", len(events), err)
	}
}

func TestConcurrentRedeemNeverExceedsCap(t *testing.T) {
	fx := newTestEngine(t, testConfig(), nil)
	ctx := context.Background()

	const maxUses = 5
	const attempts = 20
	tok := generateOne(t, fx.engine, "party-cap", "guest", maxUses)

	start := make(chan struct{})
	var wg sync.WaitGroup
	results := make(chan *RedeemResult, attempts)
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res, err := fx.engine.RedeemWithResult(ctx, tok.Code, RedeemContext{By: "door"})
			if err != nil {
				errs <- err
				return
			}
			results <- res
		}()
	}
	close(start)
	wg.Wait()
	close(results)
	close(errs)

	success, flips := 0, 0
	for res := range results {
		success++
		if res.Terminal {
			flips++
		}
	}
	for err := range errs {
		expectErr(t, err, ErrTokenExhausted)
	}
	if success != maxUses || flips != 1 {
		t.Fatalf("expected %d successes and 1 flip, got %d and %d", maxUses, success, flips)
	}

	events, err := fx.engine.Redemptions(ctx, tok.Code)
	if err != nil || len(events) != maxUses {
		t.Fatalf("expected %d events, got %d (err=%v)", maxUses, len(events), err)
	}

	report := mustStatus(t, fx.engine, tok.Code)
	if report.State != StateExhausted || report.Token.UsedCount != maxUses || report.Remaining != 0 {
		t.Fatalf("unexpected final report: state=%s used=%d remaining=%d", report.State, report.Token.UsedCount, report.Remaining)
	}
}

func TestConcurrentGenerateSingleLeader(t *testing.T) {
	fx := newTestEngine(t, testConfig(), nil)
	ctx := context.Background()

	items := []IssueItem{{Kind: "host", MaxUses: 1}, {Kind: "guest", MaxUses: 20}}

	const callers = 12
	start := make(chan struct{})
	var wg sync.WaitGroup
	sets := make(chan []*Token, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			tokens, err := fx.engine.Generate(ctx, "reservation-x", items, IssueOptions{})
			if err != nil {
				t.Errorf("Generate failed: %v", err)
				return
			}
			sets <- tokens
		}()
	}
	close(start)
	wg.Wait()
	close(sets)

	var first []string
	for tokens := range sets {
		if len(tokens) != 2 {
			t.Fatalf("expected 2 tokens, got %d", len(tokens))
		}
		codes := []string{tokens[0].Code, tokens[1].Code}
		sort.Strings(codes)
		if first == nil {
			first = codes
			continue
		}
		if !reflect.DeepEqual(first, codes) {
			t.Fatalf("callers saw different sets: %v vs %v", first, codes)
		}
	}

	all, err := fx.engine.Tokens(ctx, "reservation-x")
	if err != nil || len(all) != 2 {
		t.Fatalf("expected 2 stored tokens, got %d (err=%v)", len(all), err)
	}

	for _, tok := range all {
		_, cl, err := fx.engine.Verify(ctx, tok.Code)
		if err != nil {
			t.Fatalf("Verify failed: %v", err)
		}
		if cl.OwnerID != "reservation-x" || cl.Code != tok.Code || cl.Kind != tok.Kind {
			t.Fatalf("claim does not match token: %+v", cl)
		}
	}

	if got := counter(fx.engine, MetricIssueSuccess); got != 1 {
		t.Fatalf("expected 1 leader, got %d", got)
	}
	if got := counter(fx.engine, MetricIssueReplayed); got != callers-1 {
		t.Fatalf("expected %d replays, got %d", callers-1, got)
	}
	if got := counter(fx.engine, MetricTokensCreated); got != 2 {
		t.Fatalf("expected 2 tokens created, got %d", got)
	}
}

func TestGenerateIsIdempotent(t *testing.T) {
	fx := newTestEngine(t, testConfig(), nil)
	ctx := context.Background()

	first, err := fx.engine.Generate(ctx, "prize-9", []IssueItem{{Kind: "winner"}}, IssueOptions{})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	again, err := fx.engine.Generate(ctx, "prize-9", []IssueItem{{Kind: "winner"}, {Kind: "runner_up"}}, IssueOptions{})
	if err != nil {
		t.Fatalf("second Generate failed: %v", err)
	}
	if len(again) != 1 || again[0].Code != first[0].Code {
		t.Fatalf("expected the original token back, got %d tokens", len(again))
	}
}

func TestGenerateForceCreatesOnlyMissingKinds(t *testing.T) {
	fx := newTestEngine(t, testConfig(), nil)
	ctx := context.Background()

	first, err := fx.engine.Generate(ctx, "res-1", []IssueItem{{Kind: "host", MaxUses: 1}}, IssueOptions{})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	forced, err := fx.engine.Generate(ctx, "res-1",
		[]IssueItem{{Kind: "host", MaxUses: 1}, {Kind: "guest", MaxUses: 10}},
		IssueOptions{Force: true},
	)
	if err != nil {
		t.Fatalf("forced Generate failed: %v", err)
	}
	if len(forced) != 2 {
		t.Fatalf("expected 2 tokens, got %d", len(forced))
	}

	kinds := map[string]string{}
	for _, tok := range forced {
		kinds[tok.Kind] = tok.Code
	}
	if kinds["host"] != first[0].Code {
		t.Fatalf("host token was replaced")
	}
	if kinds["guest"] == "" {
		t.Fatalf("guest token missing")
	}

	all, err := fx.engine.Tokens(ctx, "res-1")
	if err != nil || len(all) != 2 {
		t.Fatalf("expected 2 stored tokens, got %d (err=%v)", len(all), err)
	}
	if got := counter(fx.engine, MetricIssueForced); got != 1 {
		t.Fatalf("expected 1 forced issue, got %d", got)
	}
}

func TestGenerateRejectsInvalidInput(t *testing.T) {
	fx := newTestEngine(t, testConfig(), nil)
	ctx := context.Background()

	cases := []struct {
		name  string
		owner string
		items []IssueItem
	}{
		{name: "empty owner", owner: "", items: []IssueItem{{Kind: "a"}}},
		{name: "no items", owner: "o", items: nil},
		{name: "empty kind", owner: "o", items: []IssueItem{{Kind: ""}}},
		{name: "negative uses", owner: "o", items: []IssueItem{{Kind: "a", MaxUses: -1}}},
		{name: "duplicate kind", owner: "o", items: []IssueItem{{Kind: "a"}, {Kind: "a"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := fx.engine.Generate(ctx, tc.owner, tc.items, IssueOptions{})
			expectErr(t, err, ErrInvalidRequest)
		})
	}
}

func TestGenerateEventPolicyRequiresReference(t *testing.T) {
	cfg := testConfig()
	cfg.Domain.Name = string(claim.DomainEventInvite)
	cfg.Domain.Expiry = "event+45m"
	fx := newTestEngine(t, cfg, nil)
	ctx := context.Background()
	items := []IssueItem{{Kind: "guest", MaxUses: 1}}

	_, err := fx.engine.Generate(ctx, "gala-2026", items, IssueOptions{})
	expectErr(t, err, ErrInvalidRequest)

	all, err := fx.engine.Tokens(ctx, "gala-2026")
	if err != nil || len(all) != 0 {
		t.Fatalf("rejected call must not write tokens, got %d (err=%v)", len(all), err)
	}

	startsAt := fx.clock.Now().Add(48 * time.Hour)
	tokens, err := fx.engine.Generate(ctx, "gala-2026", items, IssueOptions{Reference: startsAt})
	if err != nil {
		t.Fatalf("Generate with reference failed: %v", err)
	}
	tok := tokens[0]
	if want := startsAt.Add(45 * time.Minute); !tok.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %s, got %s", want, tok.ExpiresAt)
	}

	_, cl, err := fx.engine.Verify(ctx, tok.Code)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	event, ok := cl.Variant.(claim.EventInviteClaim)
	if !ok {
		t.Fatalf("expected event claim, got %T", cl.Variant)
	}
	if !event.StartsAt.Equal(startsAt) {
		t.Fatalf("claim start %s, want %s", event.StartsAt, startsAt)
	}
}

func TestGenerateEndOfDayDefaultsToIssuanceDay(t *testing.T) {
	cfg := testConfig()
	cfg.Domain.Expiry = "end-of-day"
	cfg.Domain.TimeZone = "UTC"
	fx := newTestEngine(t, cfg, nil)

	tok := generateOne(t, fx.engine, "prize-today", "winner", 0)

	// The fixture clock reads 2026-05-10 15:00 UTC.
	want := time.Date(2026, 5, 10, 23, 59, 59, int(999*time.Millisecond), time.UTC)
	if !tok.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %s, got %s", want, tok.ExpiresAt)
	}
}

func TestGenerateCodeSpaceExhausted(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	colliding := &collidingStore{Store: redisstore.New(rdb, "cap")}
	engine, err := New().WithConfig(testConfig()).WithStore(colliding).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()

	ctx := context.Background()
	_, err = engine.Generate(ctx, "prize-x", []IssueItem{{Kind: "winner"}}, IssueOptions{})
	expectErr(t, err, ErrCodeGenerationFailed)
	if Classify(err) != KindCodeGenerationFailed {
		t.Fatalf("expected KindCodeGenerationFailed, got %s", Classify(err))
	}

	cfg := testConfig()
	if colliding.inserts != 2*cfg.Issuance.CodeAttempts {
		t.Fatalf("expected %d draws, got %d", 2*cfg.Issuance.CodeAttempts, colliding.inserts)
	}
	if got := counter(engine, MetricCodeCollision); got != uint64(colliding.inserts) {
		t.Fatalf("expected %d collisions counted, got %d", colliding.inserts, got)
	}

	// The failed attempt left no marker behind: a healthy engine leads.
	healthy, err := New().WithConfig(testConfig()).WithRedis(rdb).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer healthy.Close()

	tokens, err := healthy.Generate(ctx, "prize-x", []IssueItem{{Kind: "winner"}}, IssueOptions{})
	if err != nil || len(tokens) != 1 {
		t.Fatalf("expected 1 token, got %d (err=%v)", len(tokens), err)
	}
	if got := counter(healthy, MetricIssueSuccess); got != 1 {
		t.Fatalf("expected healthy engine to lead, got %d", got)
	}
}

func TestRedeemUnknownCode(t *testing.T) {
	fx := newTestEngine(t, testConfig(), nil)

	_, err := fx.engine.Redeem(context.Background(), "NOPE2345", RedeemContext{})
	expectErr(t, err, ErrNotFound)

	_, err = fx.engine.Redeem(context.Background(), "  ", RedeemContext{})
	expectErr(t, err, ErrInvalidRequest)
}

func TestRedeemNormalizesCode(t *testing.T) {
	fx := newTestEngine(t, testConfig(), nil)
	tok := generateOne(t, fx.engine, "prize-n", "winner", 0)

	typed := strings.ToLower(tok.Code[:4]) + "-" + strings.ToLower(tok.Code[4:])
	if _, err := fx.engine.Redeem(context.Background(), typed, RedeemContext{}); err != nil {
		t.Fatalf("Redeem of typed code failed: %v", err)
	}
}

func TestRedeemExpired(t *testing.T) {
	fx := newTestEngine(t, testConfig(), nil)
	tok := generateOne(t, fx.engine, "prize-e", "winner", 0)

	fx.clock.Advance(24*time.Hour + time.Millisecond)

	_, err := fx.engine.Redeem(context.Background(), tok.Code, RedeemContext{})
	expectErr(t, err, ErrExpired)

	report := mustStatus(t, fx.engine, tok.Code)
	if report.State != StateExpired || report.Token.Status != StatusActive {
		t.Fatalf("expected expired state over active row, got state=%s status=%s", report.State, report.Token.Status)
	}
}

func TestRedeemDetectsTampering(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(tok *store.Token)
	}{
		{name: "owner reassigned", mutate: func(tok *store.Token) { tok.OwnerID = "someone-else" }},
		{name: "kind changed", mutate: func(tok *store.Token) { tok.Kind = "vip" }},
		{name: "expiry extended", mutate: func(tok *store.Token) { tok.ExpiresAt = tok.ExpiresAt.Add(time.Hour) }},
		{name: "claim replaced", mutate: func(tok *store.Token) { tok.Claim = "garbage" }},
		{name: "signature edited", mutate: func(tok *store.Token) {
			tok.Claim = strings.Replace(tok.Claim, `"sig":"`, `"sig":"A`, 1)
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fx := newTestEngine(t, testConfig(), nil)
			tok := generateOne(t, fx.engine, "prize-t", "winner", 0)

			tampered, err := New().
				WithConfig(testConfig()).
				WithClock(fx.clock.Now).
				WithStore(&mutatingStore{Store: redisstore.New(fx.rdb, "cap"), mutate: tc.mutate}).
				Build()
			if err != nil {
				t.Fatalf("Build failed: %v", err)
			}
			defer tampered.Close()

			_, err = tampered.Redeem(context.Background(), tok.Code, RedeemContext{})
			expectErr(t, err, ErrInvalidSignature)

			if report := mustStatus(t, tampered, tok.Code); report.State != StateInvalid {
				t.Fatalf("expected invalid state, got %s", report.State)
			}

			// Nothing was consumed.
			report := mustStatus(t, fx.engine, tok.Code)
			if report.State != StateValid || report.Remaining != 1 {
				t.Fatalf("expected untouched token, got state=%s remaining=%d", report.State, report.Remaining)
			}
		})
	}
}

func TestRedeemWithOtherDomainSecretFails(t *testing.T) {
	fx := newTestEngine(t, testConfig(), nil)
	tok := generateOne(t, fx.engine, "prize-s", "winner", 0)

	cfg := testConfig()
	cfg.Domain.SigningSecret = []byte("a-different-secret-for-invites!")
	other, err := New().WithConfig(cfg).WithClock(fx.clock.Now).WithRedis(fx.rdb).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer other.Close()

	_, err = other.Redeem(context.Background(), tok.Code, RedeemContext{})
	expectErr(t, err, ErrInvalidSignature)
}

func TestDisableBlocksRedemption(t *testing.T) {
	fx := newTestEngine(t, testConfig(), nil)
	ctx := context.Background()
	tok := generateOne(t, fx.engine, "prize-d", "winner", 3)

	disabled, err := fx.engine.Disable(ctx, tok.Code)
	if err != nil || !disabled.Disabled {
		t.Fatalf("Disable failed: %v", err)
	}
	if _, err := fx.engine.Disable(ctx, tok.Code); err != nil {
		t.Fatalf("second Disable failed: %v", err)
	}

	_, err = fx.engine.Redeem(ctx, tok.Code, RedeemContext{})
	expectErr(t, err, ErrTokenDisabled)
	if Classify(err) != KindDisabled {
		t.Fatalf("expected KindDisabled, got %s", Classify(err))
	}

	_, _, err = fx.engine.Verify(ctx, tok.Code)
	expectErr(t, err, ErrTokenDisabled)

	_, err = fx.engine.Disable(ctx, "MISSING234")
	expectErr(t, err, ErrNotFound)
}

func TestStatusPrecedence(t *testing.T) {
	fx := newTestEngine(t, testConfig(), nil)
	ctx := context.Background()

	valid := generateOne(t, fx.engine, "p-valid", "winner", 2)
	disabledExpired := generateOne(t, fx.engine, "p-disabled", "winner", 0)
	redeemedExpired := generateOne(t, fx.engine, "p-redeemed", "winner", 0)
	exhausted := generateOne(t, fx.engine, "p-exhausted", "winner", 1)

	if _, err := fx.engine.Disable(ctx, disabledExpired.Code); err != nil {
		t.Fatalf("Disable failed: %v", err)
	}
	if _, err := fx.engine.Redeem(ctx, redeemedExpired.Code, RedeemContext{}); err != nil {
		t.Fatalf("Redeem failed: %v", err)
	}
	if _, err := fx.engine.Redeem(ctx, exhausted.Code, RedeemContext{}); err != nil {
		t.Fatalf("Redeem failed: %v", err)
	}

	report := mustStatus(t, fx.engine, valid.Code)
	if report.State != StateValid || report.Remaining != 2 {
		t.Fatalf("expected valid with 2 remaining, got state=%s remaining=%d", report.State, report.Remaining)
	}
	if report.Claim.Variant.Domain() != claim.DomainPrize {
		t.Fatalf("expected prize claim, got %s", report.Claim.Variant.Domain())
	}

	if report := mustStatus(t, fx.engine, exhausted.Code); report.State != StateExhausted {
		t.Fatalf("expected exhausted, got %s", report.State)
	}

	fx.clock.Advance(48 * time.Hour)

	cases := map[string]TokenState{
		valid.Code:           StateExpired,
		disabledExpired.Code: StateDisabled,
		redeemedExpired.Code: StateRedeemed,
		exhausted.Code:       StateExhausted,
		"UNKNOWN2345":        StateNotFound,
	}
	for code, want := range cases {
		if report := mustStatus(t, fx.engine, code); report.State != want {
			t.Fatalf("%s: expected %s, got %s", code, want, report.State)
		}
	}
}

func TestGuardRejectsBeforeConsuming(t *testing.T) {
	calls := 0
	fx := newTestEngine(t, testConfig(), func(b *Builder) {
		b.WithGuards(GuardFunc(func(_ context.Context, tok *Token, cl claim.Claim, _ time.Time) error {
			calls++
			if tok.Kind == "closed" {
				return errors.New("venue closed")
			}
			if cl.OwnerID == "early" {
				return NewPreconditionError("owner_not_yet_active", "tomorrow", ErrOwnerNotYetActive)
			}
			return nil
		}))
	})
	ctx := context.Background()

	closed := generateOne(t, fx.engine, "venue", "closed", 0)
	_, err := fx.engine.Redeem(ctx, closed.Code, RedeemContext{})
	if Classify(err) != KindPrecondition {
		t.Fatalf("expected KindPrecondition, got %s", Classify(err))
	}
	var pre *PreconditionError
	if !errors.As(err, &pre) {
		t.Fatalf("expected *PreconditionError, got %T", err)
	}
	if pre.Code != "guard" || !strings.Contains(pre.Reason, "venue closed") {
		t.Fatalf("unexpected precondition: code=%s reason=%s", pre.Code, pre.Reason)
	}

	early := generateOne(t, fx.engine, "early", "guest", 4)
	_, err = fx.engine.Redeem(ctx, early.Code, RedeemContext{})
	expectErr(t, err, ErrOwnerNotYetActive)

	report := mustStatus(t, fx.engine, early.Code)
	if report.Remaining != 4 || report.Token.UsedCount != 0 {
		t.Fatalf("guard rejection consumed a use: remaining=%d used=%d", report.Remaining, report.Token.UsedCount)
	}

	events, err := fx.engine.Redemptions(ctx, early.Code)
	if err != nil || len(events) != 0 {
		t.Fatalf("expected no events, got %d (err=%v)", len(events), err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 guard calls, got %d", calls)
	}
}

func TestRedeemEmitsAuditWithoutCodes(t *testing.T) {
	cfg := testConfig()
	cfg.Audit.Enabled = true
	cfg.Audit.BufferSize = 32
	cfg.Audit.DropIfFull = false

	sink := NewChannelSink(32)
	fx := newTestEngine(t, cfg, func(b *Builder) { b.WithAuditSink(sink) })

	ctx := WithClientIP(context.Background(), "10.0.0.7")
	tok := generateOne(t, fx.engine, "prize-audit", "winner", 0)
	if _, err := fx.engine.Redeem(ctx, tok.Code, RedeemContext{By: "staff-9", Location: "bar"}); err != nil {
		t.Fatalf("Redeem failed: %v", err)
	}
	_, err := fx.engine.Redeem(ctx, tok.Code, RedeemContext{By: "staff-9"})
	expectErr(t, err, ErrAlreadyRedeemed)

	fx.engine.Close()

	var actions []string
	for len(sink.Events()) > 0 {
		event := <-sink.Events()
		actions = append(actions, event.Action)

		raw, err := json.Marshal(event)
		if err != nil {
			t.Fatalf("marshal failed: %v", err)
		}
		if strings.Contains(string(raw), tok.Code) || strings.Contains(string(raw), tok.Claim) {
			t.Fatalf("audit event leaked token material: %s", raw)
		}
		if event.Domain != "prize" {
			t.Fatalf("expected prize domain, got %q", event.Domain)
		}

		switch event.Action {
		case auditEventRedeemSuccess:
			if event.ActorID != "staff-9" || event.IP != "10.0.0.7" || event.TokenID != tok.ID || event.Metadata["location"] != "bar" {
				t.Fatalf("unexpected success event: %+v", event)
			}
		case auditEventRedeemFailure:
			if event.Error != "already_redeemed" {
				t.Fatalf("expected already_redeemed, got %q", event.Error)
			}
		}
	}

	want := []string{auditEventIssue, auditEventRedeemSuccess, auditEventTokenTerminal, auditEventRedeemFailure}
	if !reflect.DeepEqual(want, actions) {
		t.Fatalf("expected actions %v, got %v", want, actions)
	}
}

func TestAuditSinkPanicDoesNotFailRedeem(t *testing.T) {
	cfg := testConfig()
	cfg.Audit.Enabled = true

	fx := newTestEngine(t, cfg, func(b *Builder) { b.WithAuditSink(panicSink{}) })
	tok := generateOne(t, fx.engine, "prize-p", "winner", 0)

	if _, err := fx.engine.Redeem(context.Background(), tok.Code, RedeemContext{}); err != nil {
		t.Fatalf("Redeem failed: %v", err)
	}

	fx.engine.Close()
	if fx.engine.audit.Failed() == 0 {
		t.Fatalf("expected sink failures to be counted")
	}
}

type panicSink struct{}

func (panicSink) Emit(context.Context, AuditEvent) { panic("sink exploded") }

func TestEngineNotReady(t *testing.T) {
	var e *Engine
	_, err := e.Generate(context.Background(), "o", []IssueItem{{Kind: "a"}}, IssueOptions{})
	expectErr(t, err, ErrEngineNotReady)
	_, err = e.Redeem(context.Background(), "CODE2345", RedeemContext{})
	expectErr(t, err, ErrEngineNotReady)
	_, err = e.Status(context.Background(), "CODE2345")
	expectErr(t, err, ErrEngineNotReady)
	expectErr(t, e.ResetThrottle(context.Background(), "10.0.0.1"), ErrEngineNotReady)
}

func TestStoreOutageClassifiedUnavailable(t *testing.T) {
	fx := newTestEngine(t, testConfig(), nil)
	tok := generateOne(t, fx.engine, "prize-o", "winner", 0)

	if err := fx.rdb.Close(); err != nil {
		t.Fatalf("close redis client: %v", err)
	}

	_, err := fx.engine.Redeem(context.Background(), tok.Code, RedeemContext{})
	expectErr(t, err, ErrStoreUnavailable)
	if Classify(err) != KindUnavailable {
		t.Fatalf("expected KindUnavailable, got %s", Classify(err))
	}
}

func throttledConfig() Config {
	cfg := testConfig()
	cfg.Throttle = ThrottleConfig{Enabled: true, MaxFailures: 3, Window: time.Minute}
	return cfg
}

func TestThrottleBlocksCodeGuessing(t *testing.T) {
	fx := newTestEngine(t, throttledConfig(), nil)
	tok := generateOne(t, fx.engine, "prize-g", "winner", 0)

	guesser := WithClientIP(context.Background(), "198.51.100.4")
	for i := 0; i < 3; i++ {
		_, err := fx.engine.Redeem(guesser, "GUESS23456", RedeemContext{})
		expectErr(t, err, ErrNotFound)
	}

	_, err := fx.engine.Redeem(guesser, tok.Code, RedeemContext{})
	expectErr(t, err, ErrRateLimited)
	if Classify(err) != KindRateLimited {
		t.Fatalf("expected KindRateLimited, got %s", Classify(err))
	}
	if got := counter(fx.engine, MetricRedeemThrottled); got != 1 {
		t.Fatalf("expected 1 throttled redemption, got %d", got)
	}

	other := WithClientIP(context.Background(), "198.51.100.5")
	if _, err := fx.engine.Redeem(other, tok.Code, RedeemContext{}); err != nil {
		t.Fatalf("other client Redeem failed: %v", err)
	}

	fx.mr.FastForward(time.Minute + time.Second)
	_, err = fx.engine.Redeem(guesser, tok.Code, RedeemContext{})
	expectErr(t, err, ErrAlreadyRedeemed)
}

func TestResetThrottleLiftsBlock(t *testing.T) {
	fx := newTestEngine(t, throttledConfig(), nil)
	ctx := context.Background()
	tok := generateOne(t, fx.engine, "prize-r", "winner", 0)

	const ip = "203.0.113.9"
	guesser := WithClientIP(ctx, ip)
	for i := 0; i < 3; i++ {
		_, err := fx.engine.Redeem(guesser, "GUESS23456", RedeemContext{})
		expectErr(t, err, ErrNotFound)
	}

	n, err := fx.engine.ThrottleFailures(ctx, ip)
	if err != nil || n != 3 {
		t.Fatalf("expected 3 failures, got %d (err=%v)", n, err)
	}
	_, err = fx.engine.Redeem(guesser, tok.Code, RedeemContext{})
	expectErr(t, err, ErrRateLimited)

	if err := fx.engine.ResetThrottle(ctx, ip); err != nil {
		t.Fatalf("ResetThrottle failed: %v", err)
	}
	if n, err := fx.engine.ThrottleFailures(ctx, ip); err != nil || n != 0 {
		t.Fatalf("expected cleared counter, got %d (err=%v)", n, err)
	}
	if _, err := fx.engine.Redeem(guesser, tok.Code, RedeemContext{}); err != nil {
		t.Fatalf("Redeem after reset failed: %v", err)
	}

	expectErr(t, fx.engine.ResetThrottle(ctx, ""), ErrInvalidRequest)
}

func TestThrottleOperationsWithoutThrottle(t *testing.T) {
	fx := newTestEngine(t, testConfig(), nil)
	ctx := context.Background()

	n, err := fx.engine.ThrottleFailures(ctx, "203.0.113.9")
	if err != nil || n != 0 {
		t.Fatalf("expected zero failures, got %d (err=%v)", n, err)
	}
	if err := fx.engine.ResetThrottle(ctx, "203.0.113.9"); err != nil {
		t.Fatalf("ResetThrottle failed: %v", err)
	}
}

func TestThrottleRequiresRedisClient(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()
	cfg := testConfig()
	cfg.Throttle.Enabled = true

	if _, err := New().WithConfig(cfg).WithStore(redisstore.New(rdb, "cap")).Build(); err == nil {
		t.Fatalf("expected Build to fail without a redis client")
	}
}
