package config

import (
	"os"
	"strings"
	"time"
)

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over YAML configuration.
// All env vars use the TOLLGATE_ prefix for namespace isolation.
func (c *Config) applyEnvOverrides() {
	// Server config
	setIfEnv(&c.Server.Address, "TOLLGATE_SERVER_ADDRESS")
	setIfEnv(&c.Server.PublicBaseURL, "TOLLGATE_PUBLIC_BASE_URL")
	setIfEnv(&c.Server.AdminMetricsAPIKey, "TOLLGATE_ADMIN_METRICS_API_KEY")

	// Logging config
	setIfEnv(&c.Logging.Level, "TOLLGATE_LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "TOLLGATE_LOG_FORMAT")
	setIfEnv(&c.Logging.Environment, "TOLLGATE_ENVIRONMENT")

	// Database config. DATABASE_URL is also honored unprefixed, matching
	// what managed Postgres providers inject.
	setIfEnv(&c.Database.URL, "DATABASE_URL")
	setIfEnv(&c.Database.URL, "TOLLGATE_DATABASE_URL")

	// Payment rails
	setIfEnv(&c.Payments.FastRPCURL, "TOLLGATE_FAST_RPC_URL")
	setIfEnv(&c.Payments.FastStablecoinContract, "TOLLGATE_FAST_STABLECOIN_CONTRACT")
	setIfEnv(&c.Payments.EVMRecipient, "TOLLGATE_EVM_RECIPIENT")
	setIfEnv(&c.Payments.SolanaRecipient, "TOLLGATE_SOLANA_RECIPIENT")
	setIfEnv(&c.Payments.SolanaFeePayer, "TOLLGATE_SOLANA_FEE_PAYER")
	setIfEnv(&c.Payments.FacilitatorURL, "TOLLGATE_FACILITATOR_URL")
	setDurationIfEnv(&c.Payments.FacilitatorTimeout, "TOLLGATE_FACILITATOR_TIMEOUT")
	setDurationIfEnv(&c.Payments.VerifyTimeout, "TOLLGATE_VERIFY_TIMEOUT")

	// Services catalog
	setIfEnv(&c.Services.CatalogPath, "TOLLGATE_SERVICES_CATALOG")

	// Dev bypass
	setBoolIfEnv(&c.Dev.BypassEnabled, "TOLLGATE_DEV_BYPASS_ENABLED")
	setIfEnv(&c.Dev.BypassSecret, "TOLLGATE_DEV_BYPASS_SECRET")

	// Provider secrets: TOLLGATE_PROVIDER_<TAG>=secret or a comma-separated
	// list. Tags are lowercased; empty entries are dropped by the pool.
	if c.Providers == nil {
		c.Providers = make(map[string][]string)
	}
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, "TOLLGATE_PROVIDER_") {
			continue
		}
		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 {
			continue
		}
		tag := strings.ToLower(strings.TrimPrefix(parts[0], "TOLLGATE_PROVIDER_"))
		if tag == "" {
			continue
		}
		secrets := strings.Split(parts[1], ",")
		for i := range secrets {
			secrets[i] = strings.TrimSpace(secrets[i])
		}
		c.Providers[tag] = secrets
	}
}

// setIfEnv sets a string pointer to the environment variable value if it exists.
func setIfEnv(target *string, key string) {
	if val := os.Getenv(key); val != "" {
		*target = val
	}
}

// setBoolIfEnv sets a boolean pointer from an environment variable.
// Accepts "1", "true", "TRUE", "True" as true values.
func setBoolIfEnv(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v == "1" || strings.EqualFold(v, "true")
	}
}

// setDurationIfEnv sets a Duration pointer from an environment variable.
// Uses time.ParseDuration to parse values like "5m", "120s", "1h30m".
func setDurationIfEnv(target *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			*target = Duration{Duration: dur}
		}
	}
}
