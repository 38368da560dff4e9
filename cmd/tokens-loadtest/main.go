package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	tokensapp "github.com/CuckCybsacTEST/tokensapp"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	var (
		owners      = flag.Int("owners", 200, "number of owners to issue tokens for")
		callers     = flag.Int("callers", 4, "concurrent Generate callers per owner")
		maxUses     = flag.Int("max-uses", 5, "max uses of the multi-use guest token")
		concurrency = flag.Int("concurrency", 128, "number of concurrent workers")
		redeems     = flag.Int("redeems", 20000, "redeem attempts in the storm phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "loadtest", "token key prefix")
	)
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()

	if *owners <= 0 || *callers <= 0 || *maxUses <= 0 || *concurrency <= 0 || *redeems <= 0 {
		logger.Error().Msg("owners, callers, max-uses, concurrency and redeems must be > 0")
		os.Exit(2)
	}

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			logger.Fatal().Err(err).Msg("start miniredis")
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		logger.Info().Str("addr", addr).Msg("using miniredis")
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		logger.Info().Str("addr", addr).Msg("using redis")
	}
	defer cleanup()

	cfg := tokensapp.DefaultConfig()
	cfg.Domain.Name = "party_invite"
	cfg.Domain.SigningSecret = []byte("loadtest-secret-0123456789abcdef")
	cfg.Store.RedisPrefix = *prefix
	cfg.Store.MaxTxRetries = 1024
	cfg.Metrics.EnableLatencyHistograms = true

	engine, err := tokensapp.New().
		WithConfig(cfg).
		WithRedis(client).
		WithLogger(logger).
		Build()
	if err != nil {
		logger.Fatal().Err(err).Msg("build engine")
	}
	defer engine.Close()

	ctx := context.Background()
	items := []tokensapp.IssueItem{
		{Kind: "host", MaxUses: 1},
		{Kind: "guest", MaxUses: *maxUses},
	}

	tokens, genStats, err := runGeneratePhase(ctx, engine, items, *owners, *callers, *concurrency)
	if err != nil {
		logger.Fatal().Err(err).Msg("generate phase")
	}
	redeemStats, successes := runRedeemPhase(ctx, engine, tokens, *redeems, *concurrency)

	violations, err := checkCaps(ctx, engine, tokens, successes)
	if err != nil {
		logger.Fatal().Err(err).Msg("verify caps")
	}

	fmt.Println("---- results ----")
	printStats("generate", genStats)
	printStats("redeem", redeemStats)
	snap := engine.MetricsSnapshot()
	fmt.Printf("issue: leaders=%d replayed=%d tokens=%d collisions=%d\n",
		snap.Counters[tokensapp.MetricIssueSuccess],
		snap.Counters[tokensapp.MetricIssueReplayed],
		snap.Counters[tokensapp.MetricTokensCreated],
		snap.Counters[tokensapp.MetricCodeCollision],
	)
	fmt.Printf("redeem: ok=%d already=%d exhausted=%d terminal=%d\n",
		snap.Counters[tokensapp.MetricRedeemSuccess],
		snap.Counters[tokensapp.MetricRedeemAlreadyRedeemed],
		snap.Counters[tokensapp.MetricRedeemExhausted],
		snap.Counters[tokensapp.MetricTokenTerminal],
	)

	if violations > 0 {
		logger.Error().Int("violations", violations).Msg("cap safety violated")
		os.Exit(1)
	}
	logger.Info().Int("tokens", len(tokens)).Msg("cap safety held")
}

func runGeneratePhase(
	ctx context.Context,
	engine *tokensapp.Engine,
	items []tokensapp.IssueItem,
	owners, callers, concurrency int,
) ([]*tokensapp.Token, phaseStats, error) {
	var (
		mu        sync.Mutex
		latencies = make([]time.Duration, 0, owners*callers)
		byOwner   = make(map[string][]*tokensapp.Token, owners)
		failures  int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	start := time.Now()
	for o := 0; o < owners; o++ {
		ownerID := fmt.Sprintf("res-%d", o)
		for c := 0; c < callers; c++ {
			g.Go(func() error {
				t0 := time.Now()
				toks, err := engine.Generate(gctx, ownerID, items, tokensapp.IssueOptions{})
				d := time.Since(t0)

				mu.Lock()
				defer mu.Unlock()
				latencies = append(latencies, d)
				if err != nil {
					failures++
					return fmt.Errorf("generate %s: %w", ownerID, err)
				}
				if prev, ok := byOwner[ownerID]; ok && !sameCodes(prev, toks) {
					return fmt.Errorf("owner %s received diverging token sets", ownerID)
				}
				byOwner[ownerID] = toks
				return nil
			})
		}
	}
	err := g.Wait()
	stats := computeStats(time.Since(start), latencies, failures)
	if err != nil {
		return nil, stats, err
	}

	out := make([]*tokensapp.Token, 0, owners*len(items))
	for _, toks := range byOwner {
		out = append(out, toks...)
	}
	return out, stats, nil
}

func runRedeemPhase(ctx context.Context, engine *tokensapp.Engine, tokens []*tokensapp.Token, ops, concurrency int) (phaseStats, map[string]*atomic.Int64) {
	successes := make(map[string]*atomic.Int64, len(tokens))
	for _, tok := range tokens {
		successes[tok.Code] = new(atomic.Int64)
	}

	var (
		wg        sync.WaitGroup
		cursor    atomic.Int64
		failures  atomic.Int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				if int(cursor.Add(1)) > ops {
					return
				}
				tok := tokens[r.Intn(len(tokens))]
				t0 := time.Now()
				_, err := engine.Redeem(ctx, tok.Code, tokensapp.RedeemContext{
					By:     fmt.Sprintf("worker-%d", worker),
					Device: "loadtest",
				})
				d := time.Since(t0)
				switch tokensapp.Classify(err) {
				case tokensapp.KindNone:
					successes[tok.Code].Add(1)
				case tokensapp.KindAlreadyRedeemed, tokensapp.KindExhausted:
				default:
					failures.Add(1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures.Load()), successes
}

// checkCaps compares observed successes with stored usage. It returns the
// number of tokens that were redeemed beyond their cap or whose stored
// count disagrees with what callers saw.
func checkCaps(ctx context.Context, engine *tokensapp.Engine, tokens []*tokensapp.Token, successes map[string]*atomic.Int64) (int, error) {
	violations := 0
	for _, tok := range tokens {
		report, err := engine.Status(ctx, tok.Code)
		if err != nil {
			return 0, err
		}
		got := int(successes[tok.Code].Load())
		stored := report.Token.UsedCount
		if got > tok.MaxUses || stored != got || stored > report.Token.MaxUses {
			violations++
			continue
		}
		if got == tok.MaxUses && report.State != tokensapp.StateRedeemed && report.State != tokensapp.StateExhausted {
			violations++
		}
	}
	return violations, nil
}

func sameCodes(a, b []*tokensapp.Token) bool {
	if len(a) != len(b) {
		return false
	}
	codes := make(map[string]struct{}, len(a))
	for _, tok := range a {
		codes[tok.Code] = struct{}{}
	}
	for _, tok := range b {
		if _, ok := codes[tok.Code]; !ok {
			return false
		}
	}
	return true
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
