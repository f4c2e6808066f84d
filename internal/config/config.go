package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/tollgate/gateway/internal/chains"
	"gopkg.in/yaml.v3"
)

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if err := cfg.parseFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.finalize(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	fast := chains.Fast()

	return &Config{
		Server: ServerConfig{
			Address:       ":8080",
			PublicBaseURL: "http://localhost:8080",
			ReadTimeout:   Duration{Duration: 60 * time.Second},
			// Video routes may run for 5 minutes; write timeout sits above
			// the longest route deadline.
			WriteTimeout: Duration{Duration: 320 * time.Second},
			IdleTimeout:  Duration{Duration: 60 * time.Second},
		},
		Database: DatabaseConfig{
			RetentionDays: 90,
			Pool: PostgresPoolConfig{
				MaxOpenConns:    50,
				MaxIdleConns:    5,
				ConnMaxLifetime: Duration{Duration: 5 * time.Minute},
			},
		},
		Payments: PaymentsConfig{
			FastRPCURL:             fast.RPCURL,
			FastStablecoinContract: fast.Stablecoin.Contract,
			FacilitatorURL:         "https://x402.org/facilitator",
			FacilitatorTimeout:     Duration{Duration: 30 * time.Second},
			VerifyTimeout:          Duration{Duration: 15 * time.Second},
		},
		RateLimit: RateLimitConfig{
			Enabled:        true,
			FreeLimit:      60,
			PaidLimit:      300,
			ExpensiveLimit: 10,
			Window:         Duration{Duration: 1 * time.Minute},
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled: true,
			FastRPC: BreakerServiceConfig{
				MaxRequests:         3,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 30 * time.Second},
				ConsecutiveFailures: 5,
				FailureRatio:        0.5,
				MinRequests:         10,
			},
			Facilitator: BreakerServiceConfig{
				MaxRequests:         3,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 30 * time.Second},
				ConsecutiveFailures: 5,
				FailureRatio:        0.5,
				MinRequests:         10,
			},
			Upstream: BreakerServiceConfig{
				MaxRequests:         5,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 60 * time.Second},
				ConsecutiveFailures: 10,
				FailureRatio:        0.7,
				MinRequests:         20,
			},
		},
		Providers: make(map[string][]string),
	}
}

// parseFile reads and unmarshals a YAML configuration file.
func (c *Config) parseFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}
