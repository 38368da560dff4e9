package tokensapp

import (
	"errors"
	"time"

	"github.com/CuckCybsacTEST/tokensapp/claim"
	"github.com/CuckCybsacTEST/tokensapp/expiry"
	"github.com/CuckCybsacTEST/tokensapp/internal"
	"github.com/CuckCybsacTEST/tokensapp/internal/rate"
	"github.com/CuckCybsacTEST/tokensapp/store"
	"github.com/CuckCybsacTEST/tokensapp/store/redisstore"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// VariantFunc builds the domain claim for one token. ref is the issuance
// reference instant (scheduled date or event start for invite domains).
type VariantFunc func(ownerID, kind string, ref time.Time) claim.Variant

// Builder assembles an Engine for one token domain. A Builder is single use.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	store  store.Store

	auditSink AuditSink
	logger    *zerolog.Logger
	guards    []Guard
	clock     func() time.Time
	variant   VariantFunc
	policy    expiry.Policy

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis backs the engine with a Redis store using Config.Store.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithStore backs the engine with any store.Store, such as gormstore. It
// takes precedence over WithRedis.
func (b *Builder) WithStore(st store.Store) *Builder {
	b.store = st
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(logger zerolog.Logger) *Builder {
	b.logger = &logger
	return b
}

// WithGuards appends redemption preconditions. They run in order.
func (b *Builder) WithGuards(guards ...Guard) *Builder {
	b.guards = append(b.guards, guards...)
	return b
}

// WithClock replaces time.Now.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

// WithVariant replaces the default claim variant for the domain.
func (b *Builder) WithVariant(fn VariantFunc) *Builder {
	b.variant = fn
	return b
}

// WithExpiryPolicy overrides Config.Domain.Expiry.
func (b *Builder) WithExpiryPolicy(p expiry.Policy) *Builder {
	b.policy = p
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and returns a ready Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	st := b.store
	if st == nil {
		if b.redis == nil {
			return nil, errors.New("token store or redis client required")
		}
		st = redisstore.New(b.redis, cfg.Store.RedisPrefix, redisstore.WithMaxTxRetries(cfg.Store.MaxTxRetries))
	}

	codec, err := claim.NewCodec(cfg.Domain.SigningSecret)
	if err != nil {
		return nil, err
	}

	loc, err := cfg.location()
	if err != nil {
		return nil, err
	}
	policy := b.policy
	if policy == nil {
		policy, err = cfg.expiryPolicy()
		if err != nil {
			return nil, err
		}
	}

	logger := zerolog.Nop()
	if b.logger != nil {
		logger = *b.logger
	}
	logger = logger.With().Str("domain", cfg.Domain.Name).Logger()

	now := b.clock
	if now == nil {
		now = time.Now
	}

	engine := &Engine{
		config:   cfg,
		codec:    codec,
		policy:   policy,
		location: loc,
		store:    st,
		guards:   append([]Guard(nil), b.guards...),
		logger:   logger,
		now:      now,
		newID:    uuid.NewString,
		codePolicy: internal.CodePolicy{
			Length:   cfg.Issuance.CodeLength,
			Attempts: cfg.Issuance.CodeAttempts,
			Escalate: cfg.Issuance.CodeEscalation,
		},
	}
	engine.variant = b.variant
	if engine.variant == nil {
		engine.variant = engine.defaultVariant
	}
	if cfg.Throttle.Enabled {
		if b.redis == nil {
			return nil, errors.New("redemption throttle requires a redis client")
		}
		engine.throttle = rate.New(b.redis, rate.Config{
			Prefix:      cfg.Store.RedisPrefix,
			MaxFailures: cfg.Throttle.MaxFailures,
			Window:      cfg.Throttle.Window,
		})
	}
	engine.audit = newAuditDispatcher(cfg.Audit, b.auditSink, logger)
	engine.metrics = NewMetrics(cfg.Metrics)

	b.built = true

	return engine, nil
}
