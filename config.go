package tokensapp

import (
	"errors"
	"fmt"
	"time"

	"github.com/CuckCybsacTEST/tokensapp/expiry"
)

// Config defines how one token domain is wired.
//
// Config instances are intended to be configured during initialization and then treated as immutable.
type Config struct {
	Domain   DomainConfig
	Issuance IssuanceConfig
	Store    StoreConfig
	Throttle ThrottleConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
}

/*
====================================
DOMAIN CONFIG
====================================
*/

// DomainConfig names the domain and carries its secret and expiry rule.
type DomainConfig struct {
	Name          string
	SigningSecret []byte
	// Expiry is "ttl:<duration>", "end-of-day" or "event+<duration>".
	Expiry string
	// TimeZone is an IANA zone name used by calendar-bound expiry and guards.
	TimeZone string
}

/*
====================================
ISSUANCE CONFIG
====================================
*/

// IssuanceConfig bounds code generation.
type IssuanceConfig struct {
	CodeLength int
	// CodeAttempts is the number of draws per length before escalating.
	CodeAttempts int
	// CodeEscalation extends the code length for one final round; 0 disables it.
	CodeEscalation int
}

/*
====================================
STORE / AUDIT / METRICS CONFIG
====================================
*/

// StoreConfig applies when the engine builds its own Redis store.
type StoreConfig struct {
	RedisPrefix  string
	MaxTxRetries int
}

// ThrottleConfig limits failed redemption attempts (unknown code or bad
// signature) per client IP, or per device when no IP is known. Counters
// live in Redis so every process shares them.
type ThrottleConfig struct {
	Enabled     bool
	MaxFailures int
	Window      time.Duration
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns a 24h rolling-TTL configuration without a secret.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Domain: DomainConfig{
			Name:     "prize",
			Expiry:   "ttl:24h",
			TimeZone: "UTC",
		},
		Issuance: IssuanceConfig{
			CodeLength:     10,
			CodeAttempts:   5,
			CodeEscalation: 4,
		},
		Store: StoreConfig{
			RedisPrefix:  "cap",
			MaxTxRetries: 64,
		},
		Throttle: ThrottleConfig{
			Enabled:     false,
			MaxFailures: 20,
			Window:      10 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Domain.SigningSecret = cloneBytes(cfg.Domain.SigningSecret)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate checks the configuration without touching any backend.
func (c *Config) Validate() error {
	if c.Domain.Name == "" {
		return errors.New("Domain Name must be set")
	}
	if len(c.Domain.SigningSecret) < 16 {
		return errors.New("Domain SigningSecret must be at least 16 bytes")
	}
	if _, err := c.location(); err != nil {
		return err
	}
	if _, err := c.expiryPolicy(); err != nil {
		return err
	}

	if c.Issuance.CodeLength < 6 || c.Issuance.CodeLength > 32 {
		return errors.New("Issuance CodeLength must be between 6 and 32")
	}
	if c.Issuance.CodeAttempts <= 0 || c.Issuance.CodeAttempts > 20 {
		return errors.New("Issuance CodeAttempts must be between 1 and 20")
	}
	if c.Issuance.CodeEscalation < 0 || c.Issuance.CodeLength+c.Issuance.CodeEscalation > 64 {
		return errors.New("Issuance CodeEscalation out of range")
	}

	if c.Store.MaxTxRetries < 0 {
		return errors.New("Store MaxTxRetries must be >= 0")
	}
	if c.Throttle.Enabled && (c.Throttle.MaxFailures <= 0 || c.Throttle.Window <= 0) {
		return errors.New("Throttle MaxFailures and Window must be > 0 when throttling is enabled")
	}
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}
	return nil
}

func (c *Config) location() (*time.Location, error) {
	if c.Domain.TimeZone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Domain.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("Domain TimeZone %q: %w", c.Domain.TimeZone, err)
	}
	return loc, nil
}

func (c *Config) expiryPolicy() (expiry.Policy, error) {
	loc, err := c.location()
	if err != nil {
		return nil, err
	}
	p, err := expiry.Parse(c.Domain.Expiry, loc)
	if err != nil {
		return nil, fmt.Errorf("Domain Expiry: %w", err)
	}
	return p, nil
}
