package config

import (
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
)

var evmAddressRe = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// finalize applies defaults and validates the configuration.
func (c *Config) finalize() error {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Environment == "" {
		c.Logging.Environment = "production"
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.PublicBaseURL != "" {
		c.Server.PublicBaseURL = strings.TrimSuffix(c.Server.PublicBaseURL, "/")
	}
	if c.Payments.FacilitatorTimeout.Duration <= 0 {
		c.Payments.FacilitatorTimeout = Duration{Duration: 30 * time.Second}
	}
	if c.Payments.VerifyTimeout.Duration <= 0 {
		c.Payments.VerifyTimeout = Duration{Duration: 15 * time.Second}
	}
	if c.Database.RetentionDays <= 0 {
		c.Database.RetentionDays = 90
	}
	if c.RateLimit.Window.Duration <= 0 {
		c.RateLimit.Window = Duration{Duration: 1 * time.Minute}
	}

	return c.validate()
}

// validate checks that required configuration fields are set correctly.
// A failure here aborts startup with a non-zero exit code.
func (c *Config) validate() error {
	var errs []string

	if c.Database.URL == "" {
		errs = append(errs, "database.url (DATABASE_URL) is required")
	}

	if c.Payments.FastRPCURL == "" {
		errs = append(errs, "payments.fast_rpc_url is required")
	}
	if c.Payments.FastStablecoinContract == "" {
		errs = append(errs, "payments.fast_stablecoin_contract is required")
	} else if !evmAddressRe.MatchString(c.Payments.FastStablecoinContract) {
		errs = append(errs, fmt.Sprintf("payments.fast_stablecoin_contract %q is not a valid EVM address", c.Payments.FastStablecoinContract))
	}

	if c.Payments.EVMRecipient == "" {
		errs = append(errs, "payments.evm_recipient (TOLLGATE_EVM_RECIPIENT) is required")
	} else if !evmAddressRe.MatchString(c.Payments.EVMRecipient) {
		errs = append(errs, fmt.Sprintf("payments.evm_recipient %q is not a valid EVM address", c.Payments.EVMRecipient))
	}

	if c.Payments.SolanaRecipient == "" {
		errs = append(errs, "payments.solana_recipient (TOLLGATE_SOLANA_RECIPIENT) is required")
	} else if _, err := solana.PublicKeyFromBase58(c.Payments.SolanaRecipient); err != nil {
		errs = append(errs, fmt.Sprintf("payments.solana_recipient %q is not a valid base58 public key: %v", c.Payments.SolanaRecipient, err))
	}
	if c.Payments.SolanaFeePayer != "" {
		if _, err := solana.PublicKeyFromBase58(c.Payments.SolanaFeePayer); err != nil {
			errs = append(errs, fmt.Sprintf("payments.solana_fee_payer %q is not a valid base58 public key: %v", c.Payments.SolanaFeePayer, err))
		}
	}

	if c.Payments.FacilitatorURL == "" {
		errs = append(errs, "payments.facilitator_url is required")
	}

	if c.Dev.BypassEnabled && c.Dev.BypassSecret == "" {
		errs = append(errs, "dev.bypass_enabled requires TOLLGATE_DEV_BYPASS_SECRET")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// ApplyPostgresPoolSettings applies connection pool settings to a database
// connection, falling back to defaults for unset values.
func ApplyPostgresPoolSettings(db *sql.DB, pool PostgresPoolConfig) {
	maxOpen := pool.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 50
	}

	maxIdle := pool.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5
	}
	if maxIdle > maxOpen {
		maxIdle = maxOpen
	}

	maxLifetime := pool.ConnMaxLifetime.Duration
	if maxLifetime <= 0 {
		maxLifetime = 5 * time.Minute
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)
}
