package ratelimit

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/tollgate/gateway/internal/metrics"
	"github.com/tollgate/gateway/internal/services"
)

// WalletHeader identifies the caller's wallet for rate limiting. Clients
// that omit it fall back to per-IP keying.
const WalletHeader = "X-Wallet"

// Tier names. Free covers discovery endpoints; paid and expensive are
// chosen per matched catalog service.
const (
	TierFree      = "free"
	TierPaid      = "paid"
	TierExpensive = "expensive"
)

// Config holds per-tier rate limits over a shared window.
type Config struct {
	Enabled bool

	FreeLimit      int
	PaidLimit      int
	ExpensiveLimit int
	Window         time.Duration

	Metrics *metrics.Metrics // optional
}

// DefaultConfig returns the stock limits: generous for discovery, tight
// for compute-heavy upstreams.
func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		FreeLimit:      60,
		PaidLimit:      300,
		ExpensiveLimit: 10,
		Window:         time.Minute,
	}
}

type limitResponse struct {
	Error             string `json:"error"`
	Message           string `json:"message"`
	RetryAfterSeconds int    `json:"retry_after_seconds"`
}

// walletOrIPKey keys the limiter by the caller's wallet header when
// present, otherwise by IP. Wallets are the paying identity; two clients
// behind one NAT should not share a bucket once they identify themselves.
func walletOrIPKey(r *http.Request) (string, error) {
	if wallet := r.Header.Get(WalletHeader); wallet != "" {
		return "wallet:" + wallet, nil
	}
	return httprate.KeyByIP(r)
}

func limitHandler(tier string, windowSeconds int, m *metrics.Metrics) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if m != nil {
			m.ObserveRateLimit(tier)
		}

		resp := limitResponse{
			Error:             "rate_limited",
			Message:           fmt.Sprintf("Rate limit exceeded for %s tier. Please try again later.", tier),
			RetryAfterSeconds: windowSeconds,
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", fmt.Sprintf("%d", windowSeconds))
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(resp)
	}
}

// TierLimiter returns middleware that applies the matched service's tier
// limit to catalog routes and the free tier limit to everything else.
// Each tier keeps its own buckets, so exhausting the expensive tier does
// not lock a wallet out of cheap routes.
func TierLimiter(cfg Config, registry *services.Registry) func(http.Handler) http.Handler {
	if !cfg.Enabled {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	windowSeconds := int(cfg.Window.Seconds())
	newLimiter := func(tier string, limit int) func(http.Handler) http.Handler {
		return httprate.Limit(
			limit,
			cfg.Window,
			httprate.WithKeyFuncs(walletOrIPKey),
			httprate.WithLimitHandler(limitHandler(tier, windowSeconds, cfg.Metrics)),
		)
	}

	limiters := map[string]func(http.Handler) http.Handler{
		TierFree:      newLimiter(TierFree, cfg.FreeLimit),
		TierPaid:      newLimiter(TierPaid, cfg.PaidLimit),
		TierExpensive: newLimiter(TierExpensive, cfg.ExpensiveLimit),
	}

	return func(next http.Handler) http.Handler {
		// One wrapped handler per tier; the limiter keeps state inside.
		wrapped := map[string]http.Handler{
			TierFree:      limiters[TierFree](next),
			TierPaid:      limiters[TierPaid](next),
			TierExpensive: limiters[TierExpensive](next),
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tier := TierFree
			if svc, ok := registry.Match(r.Method, r.URL.Path); ok {
				tier = svc.Tier()
			}
			wrapped[tier].ServeHTTP(w, r)
		})
	}
}
