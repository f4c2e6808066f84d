package httpserver

import (
	"crypto/subtle"
	"net/http"
	"strings"

	apperrors "github.com/tollgate/gateway/internal/errors"
)

// adminMetricsAuth protects the Prometheus endpoint with a bearer key.
// An empty key leaves the endpoint open, for deployments that firewall
// the scrape path instead.
func adminMetricsAuth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if apiKey == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if presented == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(apiKey)) != 1 {
				apperrors.WriteSimpleError(w, apperrors.ErrCodeUnauthorized, "Metrics endpoint requires a valid API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
