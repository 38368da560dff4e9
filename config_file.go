package tokensapp

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

type fileConfig struct {
	Domain struct {
		Name             string `yaml:"name" toml:"name"`
		SigningSecret    string `yaml:"signing_secret" toml:"signing_secret"`
		SigningSecretEnv string `yaml:"signing_secret_env" toml:"signing_secret_env"`
		Expiry           string `yaml:"expiry" toml:"expiry"`
		TimeZone         string `yaml:"time_zone" toml:"time_zone"`
	} `yaml:"domain" toml:"domain"`
	Issuance struct {
		CodeLength     *int `yaml:"code_length" toml:"code_length"`
		CodeAttempts   *int `yaml:"code_attempts" toml:"code_attempts"`
		CodeEscalation *int `yaml:"code_escalation" toml:"code_escalation"`
	} `yaml:"issuance" toml:"issuance"`
	Store struct {
		RedisPrefix  string `yaml:"redis_prefix" toml:"redis_prefix"`
		MaxTxRetries *int   `yaml:"max_tx_retries" toml:"max_tx_retries"`
	} `yaml:"store" toml:"store"`
	Throttle struct {
		Enabled     *bool  `yaml:"enabled" toml:"enabled"`
		MaxFailures *int   `yaml:"max_failures" toml:"max_failures"`
		Window      string `yaml:"window" toml:"window"`
	} `yaml:"throttle" toml:"throttle"`
	Audit struct {
		Enabled    *bool `yaml:"enabled" toml:"enabled"`
		BufferSize *int  `yaml:"buffer_size" toml:"buffer_size"`
		DropIfFull *bool `yaml:"drop_if_full" toml:"drop_if_full"`
	} `yaml:"audit" toml:"audit"`
	Metrics struct {
		Enabled           *bool `yaml:"enabled" toml:"enabled"`
		LatencyHistograms *bool `yaml:"latency_histograms" toml:"latency_histograms"`
	} `yaml:"metrics" toml:"metrics"`
}

// LoadConfigFile reads a YAML (.yaml/.yml) or TOML (.toml) file over
// DefaultConfig. A secret given as signing_secret_env is read from that
// environment variable here, once, so the engine itself never touches the
// environment. The result is validated.
func LoadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var fc fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(&fc)
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(&fc)
	default:
		return Config{}, fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	if err != nil {
		return Config{}, fmt.Errorf("decode %s: %w", path, err)
	}

	cfg, err := fc.apply(defaultConfig())
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (fc *fileConfig) apply(cfg Config) (Config, error) {
	if fc.Domain.Name != "" {
		cfg.Domain.Name = fc.Domain.Name
	}
	if fc.Domain.Expiry != "" {
		cfg.Domain.Expiry = fc.Domain.Expiry
	}
	if fc.Domain.TimeZone != "" {
		cfg.Domain.TimeZone = fc.Domain.TimeZone
	}
	switch {
	case fc.Domain.SigningSecret != "" && fc.Domain.SigningSecretEnv != "":
		return Config{}, fmt.Errorf("domain: set only one of signing_secret and signing_secret_env")
	case fc.Domain.SigningSecret != "":
		cfg.Domain.SigningSecret = []byte(fc.Domain.SigningSecret)
	case fc.Domain.SigningSecretEnv != "":
		v, ok := os.LookupEnv(fc.Domain.SigningSecretEnv)
		if !ok {
			return Config{}, fmt.Errorf("domain: environment variable %s is not set", fc.Domain.SigningSecretEnv)
		}
		cfg.Domain.SigningSecret = []byte(v)
	}

	setInt(&cfg.Issuance.CodeLength, fc.Issuance.CodeLength)
	setInt(&cfg.Issuance.CodeAttempts, fc.Issuance.CodeAttempts)
	setInt(&cfg.Issuance.CodeEscalation, fc.Issuance.CodeEscalation)

	if fc.Store.RedisPrefix != "" {
		cfg.Store.RedisPrefix = fc.Store.RedisPrefix
	}
	setInt(&cfg.Store.MaxTxRetries, fc.Store.MaxTxRetries)

	setBool(&cfg.Throttle.Enabled, fc.Throttle.Enabled)
	setInt(&cfg.Throttle.MaxFailures, fc.Throttle.MaxFailures)
	if fc.Throttle.Window != "" {
		d, err := time.ParseDuration(fc.Throttle.Window)
		if err != nil {
			return Config{}, fmt.Errorf("throttle: window: %w", err)
		}
		cfg.Throttle.Window = d
	}

	setBool(&cfg.Audit.Enabled, fc.Audit.Enabled)
	setInt(&cfg.Audit.BufferSize, fc.Audit.BufferSize)
	setBool(&cfg.Audit.DropIfFull, fc.Audit.DropIfFull)

	setBool(&cfg.Metrics.Enabled, fc.Metrics.Enabled)
	setBool(&cfg.Metrics.EnableLatencyHistograms, fc.Metrics.LatencyHistograms)

	return cfg, nil
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
