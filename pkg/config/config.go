package config

import (
	"fmt"
	"net/url"
	"os"
	"slices"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Resolution strategy names accepted in resolution.strategy_order.
const (
	StrategyVerifiedOverride = "verified_override"
	StrategyFuzzyIndustry    = "fuzzy_industry"
)

// Disclosure join keys accepted in resolution.disclosure_keys.
const (
	DisclosureKeyDomain = "domain"
	DisclosureKeyName   = "name"
)

// Config holds all configuration for scopeops-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3443"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL" env-default:""` // Auto-derived from Port if empty
	Version  string `yaml:"-"`                                      // Set at load time, not from config

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Redis configuration (optional - enables the calculation run lock)
	Redis RedisConfig `yaml:"redis"`

	// Factor resolution policy
	Resolution ResolutionConfig `yaml:"resolution"`

	// Emission calculation settings
	Calculation CalculationConfig `yaml:"calculation"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"scopeops"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"scopeops_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// RedisConfig holds Redis connection configuration.
// An empty Host disables Redis.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// Enabled reports whether a Redis host is configured.
func (c *RedisConfig) Enabled() bool {
	return c.Host != ""
}

// ResolutionConfig controls how suppliers are bound to emission factors.
type ResolutionConfig struct {
	// StrategyOrder lists resolution strategies in priority order. The first
	// strategy that yields a factor wins.
	StrategyOrder []string `yaml:"strategy_order" env:"RESOLUTION_STRATEGY_ORDER" env-separator:"," env-default:"verified_override,fuzzy_industry"`

	// DisclosureKeys lists the supplier attributes used to look up a verified
	// disclosure, in priority order.
	DisclosureKeys []string `yaml:"disclosure_keys" env:"RESOLUTION_DISCLOSURE_KEYS" env-separator:"," env-default:"domain,name"`

	// MinMatchScore is the fuzzy industry match threshold on a 0-100 scale.
	MinMatchScore float64 `yaml:"min_match_score" env:"RESOLUTION_MIN_MATCH_SCORE" env-default:"90"`

	// Concurrency bounds the number of suppliers resolved in parallel by a batch.
	Concurrency int `yaml:"concurrency" env:"RESOLUTION_CONCURRENCY" env-default:"4"`

	// DisclosuresPath points to a YAML disclosure catalog. When empty, disclosures
	// are read from the database.
	DisclosuresPath string `yaml:"disclosures_path" env:"RESOLUTION_DISCLOSURES_PATH" env-default:""`
}

// CalculationConfig holds emission calculation settings.
type CalculationConfig struct {
	// RunLockTTL bounds how long a calculation pass may hold the per-owner lock.
	RunLockTTL time.Duration `yaml:"run_lock_ttl" env:"CALCULATION_RUN_LOCK_TTL" env-default:"5m"`

	// MaxRetries is the number of retries for transient storage failures.
	MaxRetries int `yaml:"max_retries" env:"CALCULATION_MAX_RETRIES" env-default:"3"`

	// RetryInitialDelay is the delay before the first retry.
	RetryInitialDelay time.Duration `yaml:"retry_initial_delay" env:"CALCULATION_RETRY_INITIAL_DELAY" env-default:"100ms"`

	// RetryMaxDelay caps the exponential backoff between retries.
	RetryMaxDelay time.Duration `yaml:"retry_max_delay" env:"CALCULATION_RETRY_MAX_DELAY" env-default:"5s"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
// A missing config.yaml is not an error; defaults and environment variables apply.
func Load(version string) (*Config, error) {
	return LoadFile("config.yaml", version)
}

// LoadFile reads configuration from the given YAML file with environment variable overrides.
func LoadFile(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	if err := cfg.Resolution.Validate(); err != nil {
		return nil, fmt.Errorf("invalid resolution configuration: %w", err)
	}
	if err := cfg.Calculation.Validate(); err != nil {
		return nil, fmt.Errorf("invalid calculation configuration: %w", err)
	}

	cfg.Database.Host = ResolveHostForDocker(cfg.Database.Host)
	cfg.Redis.Host = ResolveHostForDocker(cfg.Redis.Host)

	// Auto-derive BaseURL from Port if not explicitly set
	if cfg.BaseURL == "" {
		cfg.BaseURL = (&url.URL{
			Scheme: "http",
			Host:   "localhost:" + cfg.Port,
		}).String()
	}

	return cfg, nil
}

// Validate checks strategy names, disclosure keys and numeric bounds.
func (c *ResolutionConfig) Validate() error {
	if len(c.StrategyOrder) == 0 {
		return fmt.Errorf("strategy_order must name at least one strategy")
	}
	known := []string{StrategyVerifiedOverride, StrategyFuzzyIndustry}
	seen := make(map[string]bool, len(c.StrategyOrder))
	for _, name := range c.StrategyOrder {
		if !slices.Contains(known, name) {
			return fmt.Errorf("unknown resolution strategy %q", name)
		}
		if seen[name] {
			return fmt.Errorf("resolution strategy %q listed twice", name)
		}
		seen[name] = true
	}

	for _, key := range c.DisclosureKeys {
		if key != DisclosureKeyDomain && key != DisclosureKeyName {
			return fmt.Errorf("unknown disclosure key %q", key)
		}
	}

	if c.MinMatchScore < 0 || c.MinMatchScore > 100 {
		return fmt.Errorf("min_match_score must be between 0 and 100, got %v", c.MinMatchScore)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	return nil
}

// Validate checks retry and lock settings.
func (c *CalculationConfig) Validate() error {
	if c.RunLockTTL <= 0 {
		return fmt.Errorf("run_lock_ttl must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	if c.RetryMaxDelay < c.RetryInitialDelay {
		return fmt.Errorf("retry_max_delay must not be less than retry_initial_delay")
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
