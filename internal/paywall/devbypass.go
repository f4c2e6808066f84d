package paywall

import (
	"crypto/subtle"
	"net/http"

	"github.com/tollgate/gateway/internal/logger"
)

// Dev bypass headers: the client presents the shared secret, the server
// confirms the bypass was taken so staging traffic is auditable.
const (
	DevBypassHeader         = "X-Dev-Bypass-Secret"
	DevBypassResponseHeader = "X-Dev-Bypass"
)

// DevBypass waves requests past the paywall when the caller presents the
// shared secret. Strictly a development and staging aid; it stays inert
// unless explicitly enabled with a non-empty secret.
type DevBypass struct {
	enabled bool
	secret  []byte
}

// NewDevBypass builds the bypass middleware.
func NewDevBypass(enabled bool, secret string) *DevBypass {
	return &DevBypass{
		enabled: enabled && secret != "",
		secret:  []byte(secret),
	}
}

// Middleware admits requests carrying the correct secret. Wrong or absent
// secrets fall through to the normal paywall rather than erroring, so the
// bypass is invisible to probing.
func (d *DevBypass) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !d.enabled {
			next.ServeHTTP(w, r)
			return
		}

		presented := r.Header.Get(DevBypassHeader)
		if presented == "" || subtle.ConstantTimeCompare([]byte(presented), d.secret) != 1 {
			next.ServeHTTP(w, r)
			return
		}

		log := logger.FromContext(r.Context())
		log.Info().Str("path", r.URL.Path).Msg("paywall.dev_bypass")
		w.Header().Set(DevBypassResponseHeader, "active")
		next.ServeHTTP(w, r.WithContext(withDevBypass(r.Context())))
	})
}
