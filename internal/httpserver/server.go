package httpserver

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/tollgate/gateway/internal/config"
	"github.com/tollgate/gateway/internal/facilitator"
	"github.com/tollgate/gateway/internal/ledger"
	"github.com/tollgate/gateway/internal/logger"
	"github.com/tollgate/gateway/internal/metrics"
	"github.com/tollgate/gateway/internal/paywall"
	"github.com/tollgate/gateway/internal/ratelimit"
	"github.com/tollgate/gateway/internal/services"
	"github.com/tollgate/gateway/internal/timeouts"
	"github.com/tollgate/gateway/internal/upstream"
)

var serverStartTime = time.Now()

// Body size caps. Transcription uploads carry audio; everything else is
// small JSON.
const (
	defaultBodyLimit       = 1 << 20
	transcriptionBodyLimit = 50 << 20
)

// ipfsUploadSlots bounds concurrent IPFS pin uploads.
const ipfsUploadSlots = 5

// statsProvider reports ledger volume for the status endpoint.
type statsProvider interface {
	Stats(ctx context.Context) (ledger.Stats, error)
}

// Deps carries everything the server wires together.
type Deps struct {
	Config     *config.Config
	Registry   *services.Registry
	Advertiser *paywall.Advertiser
	Direct     *paywall.Direct
	Gate       *paywall.FacilitatorGate
	DevBypass  *paywall.DevBypass
	Dispatcher *upstream.Dispatcher
	LocalFac   *facilitator.Local
	Store      statsProvider // may be nil
	Metrics    *metrics.Metrics
	Logger     zerolog.Logger
}

// Server wires handlers, middleware, and dependencies.
type Server struct {
	handlers
	httpServer *http.Server
}

type handlers struct {
	cfg       *config.Config
	registry  *services.Registry
	localFac  *facilitator.Local
	store     statsProvider
	logger    zerolog.Logger
	wellKnown []byte // precomputed discovery document
}

// New builds the HTTP server with the configured router.
func New(deps Deps) *Server {
	router := chi.NewRouter()

	s := &Server{
		handlers: handlers{
			cfg:      deps.Config,
			registry: deps.Registry,
			localFac: deps.LocalFac,
			store:    deps.Store,
			logger:   deps.Logger,
		},
		httpServer: &http.Server{
			Addr:         deps.Config.Server.Address,
			ReadTimeout:  deps.Config.Server.ReadTimeout.Duration,
			WriteTimeout: deps.Config.Server.WriteTimeout.Duration,
			IdleTimeout:  deps.Config.Server.IdleTimeout.Duration,
			Handler:      router,
		},
	}
	s.wellKnown = s.buildWellKnown(deps.Advertiser)

	configureRouter(router, deps, &s.handlers)

	return s
}

// configureRouter attaches all gateway routes. The middleware order is
// load-bearing: payment verification must see the rate limiter's and
// logger's work, and the advertiser must run after both rails had their
// chance.
func configureRouter(router chi.Router, deps Deps, handler *handlers) {
	cfg := deps.Config

	if len(cfg.Server.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			ExposedHeaders:   []string{"PAYMENT-REQUIRED", "X-Dev-Bypass", "X-Cache", "X-Request-ID"},
			AllowCredentials: false,
			MaxAge:           300,
		}).Handler)
	}

	router.Use(securityHeadersMiddleware)
	router.Use(logger.Middleware(deps.Logger))
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(recoverMiddleware)
	router.Use(bodyLimitMiddleware)

	rateLimitCfg := ratelimit.Config{
		Enabled:        cfg.RateLimit.Enabled,
		FreeLimit:      cfg.RateLimit.FreeLimit,
		PaidLimit:      cfg.RateLimit.PaidLimit,
		ExpensiveLimit: cfg.RateLimit.ExpensiveLimit,
		Window:         cfg.RateLimit.Window.Duration,
		Metrics:        deps.Metrics,
	}
	router.Use(ratelimit.TierLimiter(rateLimitCfg, deps.Registry))

	// Lightweight endpoints with a tight timeout: health, discovery, and
	// the fast-rail facilitator surface.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Get("/health", handler.health)
		r.Get("/.well-known/x402.json", handler.wellKnownX402)
		r.Get("/api/services", handler.listServices)
		r.Get("/api/services/{id}", handler.getService)
		r.With(adminMetricsAuth(cfg.Server.AdminMetricsAPIKey)).Handle("/metrics", promhttp.Handler())
	})

	// Facilitator verify can wait on a receipt fetch; give it more room.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Get("/facilitator/megaeth/supported", handler.facilitatorSupported)
		r.Get("/facilitator/megaeth/status", handler.facilitatorStatus)
		r.Post("/facilitator/megaeth/verify", handler.facilitatorVerify)
		r.Post("/facilitator/megaeth/settle", handler.facilitatorSettle)
	})

	// Paid catalog routes: per-class deadlines, then the paywall chain,
	// then dispatch.
	router.Group(func(r chi.Router) {
		r.Use(timeouts.Middleware(deps.Registry))
		r.Use(deps.DevBypass.Middleware)
		r.Use(deps.Direct.Middleware)
		r.Use(deps.Gate.Middleware)
		r.Use(deps.Advertiser.Middleware)
		r.Use(ipfsUploadGate(ipfsUploadSlots))
		r.Handle("/api/*", deps.Dispatcher)
	})
}

// recoverMiddleware converts a handler panic into a retryable 503. The
// request may work on retry once whatever broke has recovered, so the
// response advertises that instead of a bare 500.
func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil || rec == http.ErrAbortHandler {
				if rec != nil {
					panic(rec)
				}
				return
			}
			log := logger.FromContext(r.Context())
			log.Error().
				Interface("panic", rec).
				Str("path", r.URL.Path).
				Msg("httpserver.panic_recovered")
			w.Header().Set("Retry-After", "5")
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"error": map[string]any{
					"code":      "internal",
					"message":   "Internal server error",
					"retryable": true,
				},
			})
		}()
		next.ServeHTTP(w, r)
	})
}

// bodyLimitMiddleware caps request bodies before any handler reads them.
func bodyLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit := int64(defaultBodyLimit)
		if r.URL.Path == "/api/transcribe" {
			limit = transcriptionBodyLimit
		}
		r.Body = http.MaxBytesReader(w, r.Body, limit)
		next.ServeHTTP(w, r)
	})
}

// ipfsUploadGate bounds concurrent pin uploads with a slot channel.
// Excess uploads get an immediate 503 instead of queueing behind large
// transfers.
func ipfsUploadGate(slots int) func(http.Handler) http.Handler {
	sem := make(chan struct{}, slots)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isIPFSRoute(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
				next.ServeHTTP(w, r)
			default:
				w.Header().Set("Retry-After", "5")
				writeJSON(w, http.StatusServiceUnavailable, map[string]any{
					"error": map[string]any{
						"code":      "upstream_unavailable",
						"message":   "Too many concurrent uploads, try again shortly",
						"retryable": true,
					},
				})
			}
		})
	}
}

func isIPFSRoute(path string) bool {
	return strings.HasPrefix(path, "/api/ipfs/")
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
