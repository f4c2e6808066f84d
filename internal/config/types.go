package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration values expressed as Go-style strings or numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(value.Value)
		if raw == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err == nil {
			d.Duration = parsed
			return nil
		}
		secs, convErr := time.ParseDuration(fmt.Sprintf("%ss", raw))
		if convErr == nil {
			d.Duration = secs
			return nil
		}
		return fmt.Errorf("invalid duration value %q: %w", raw, err)
	default:
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
}

// MarshalYAML renders the duration as a string to keep config edits human-friendly.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds application level configuration aggregated from file and environment variables.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Logging        LoggingConfig        `yaml:"logging"`
	Database       DatabaseConfig       `yaml:"database"`
	Payments       PaymentsConfig       `yaml:"payments"`
	Services       ServicesConfig       `yaml:"services"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Dev            DevConfig            `yaml:"dev"`

	// Providers maps an upstream provider tag to its API secrets. Loaded
	// only from environment (TOLLGATE_PROVIDER_<TAG>), never from YAML.
	Providers map[string][]string `yaml:"-"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address            string   `yaml:"address"`
	PublicBaseURL      string   `yaml:"public_base_url"` // used in 402 resource URLs
	ReadTimeout        Duration `yaml:"read_timeout"`
	WriteTimeout       Duration `yaml:"write_timeout"` // must exceed the longest route deadline
	IdleTimeout        Duration `yaml:"idle_timeout"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	AdminMetricsAPIKey string   `yaml:"admin_metrics_api_key"` // optional key protecting /metrics
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`       // debug, info, warn, error (default: info)
	Format      string `yaml:"format"`      // json, console (default: json)
	Environment string `yaml:"environment"` // production, staging, development
}

// DatabaseConfig holds ledger storage configuration.
type DatabaseConfig struct {
	URL           string             `yaml:"url"`
	Pool          PostgresPoolConfig `yaml:"pool"`
	RetentionDays int                `yaml:"retention_days"` // request log retention (default: 90)
}

// PostgresPoolConfig holds PostgreSQL connection pool settings.
type PostgresPoolConfig struct {
	MaxOpenConns    int      `yaml:"max_open_conns"`    // default: 50
	MaxIdleConns    int      `yaml:"max_idle_conns"`    // default: 5
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"` // default: 5m
}

// PaymentsConfig holds payment rail configuration.
type PaymentsConfig struct {
	// Fast rail (MegaETH): receipts are read directly from this RPC node.
	FastRPCURL             string `yaml:"fast_rpc_url"`
	FastStablecoinContract string `yaml:"fast_stablecoin_contract"`

	// Recipients. The fast rail and Base share the EVM address; Solana
	// takes a base58 address.
	EVMRecipient    string `yaml:"evm_recipient"`
	SolanaRecipient string `yaml:"solana_recipient"`
	SolanaFeePayer  string `yaml:"solana_fee_payer"` // advertised in the Solana accept entry extra

	// External facilitator serving the slow rails.
	FacilitatorURL     string   `yaml:"facilitator_url"`
	FacilitatorTimeout Duration `yaml:"facilitator_timeout"` // per-call (default: 30s)

	// Receipt fetch deadline for fast-rail verification (default: 15s).
	VerifyTimeout Duration `yaml:"verify_timeout"`
}

// ServicesConfig holds the priced-route catalog configuration.
type ServicesConfig struct {
	CatalogPath string `yaml:"catalog_path"` // overrides the embedded catalog when set
}

// RateLimitConfig holds per-tier rate limiting configuration. Requests are
// keyed by payer wallet when known, falling back to client IP.
type RateLimitConfig struct {
	Enabled        bool     `yaml:"enabled"`
	FreeLimit      int      `yaml:"free_limit"`      // free routes (default: 60/min)
	PaidLimit      int      `yaml:"paid_limit"`      // paid routes (default: 300/min)
	ExpensiveLimit int      `yaml:"expensive_limit"` // expensive categories (default: 10/min)
	Window         Duration `yaml:"window"`          // default: 1m
}

// CircuitBreakerConfig holds circuit breaker configuration for external services.
type CircuitBreakerConfig struct {
	Enabled     bool                 `yaml:"enabled"`
	FastRPC     BreakerServiceConfig `yaml:"fast_rpc"`
	Facilitator BreakerServiceConfig `yaml:"facilitator"`
	Upstream    BreakerServiceConfig `yaml:"upstream"`
}

// BreakerServiceConfig configures a circuit breaker for one external service.
type BreakerServiceConfig struct {
	MaxRequests         uint32   `yaml:"max_requests"`         // max requests in half-open state (default: 3)
	Interval            Duration `yaml:"interval"`             // stats reset interval in closed state (default: 60s)
	Timeout             Duration `yaml:"timeout"`              // open state timeout before half-open (default: 30s)
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"` // consecutive failures to trip (default: 5)
	FailureRatio        float64  `yaml:"failure_ratio"`        // failure ratio to trip 0.0-1.0 (default: 0.5)
	MinRequests         uint32   `yaml:"min_requests"`         // minimum requests before checking ratio (default: 10)
}

// DevConfig holds the development payment bypass. The secret is compared
// in constant time and the bypass is inert unless explicitly enabled.
type DevConfig struct {
	BypassEnabled bool   `yaml:"bypass_enabled"`
	BypassSecret  string `yaml:"-"` // env only (TOLLGATE_DEV_BYPASS_SECRET)
}
