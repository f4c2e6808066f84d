// Package timeouts applies per-route deadlines sized to the upstream
// class: a chat completion legitimately runs minutes while a price quote
// should never take more than seconds.
package timeouts

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/tollgate/gateway/internal/services"
)

// Deadline classes by service category.
const (
	DefaultTimeout    = 30 * time.Second
	MediaTimeout      = 90 * time.Second // image, tts, transcribe, code
	LLMTimeout        = 180 * time.Second
	VideoTimeout      = 300 * time.Second
	SlowLookupTimeout = 60 * time.Second // travel, ipfs
)

// ForCategory returns the deadline for a service category.
func ForCategory(category string) time.Duration {
	switch category {
	case "llm":
		return LLMTimeout
	case "video":
		return VideoTimeout
	case "image", "tts", "transcribe", "code":
		return MediaTimeout
	case "travel", "ipfs":
		return SlowLookupTimeout
	default:
		return DefaultTimeout
	}
}

type timeoutResponse struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
	TimeoutMS int64  `json:"timeout_ms"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

// trackingWriter remembers whether the handler started a response, so the
// middleware only writes the 408 body when the connection is still clean.
type trackingWriter struct {
	http.ResponseWriter
	wrote bool
}

func (w *trackingWriter) WriteHeader(status int) {
	w.wrote = true
	w.ResponseWriter.WriteHeader(status)
}

func (w *trackingWriter) Write(b []byte) (int, error) {
	w.wrote = true
	return w.ResponseWriter.Write(b)
}

// Middleware installs a request deadline chosen by the matched catalog
// service. Handlers are expected to honor the request context; when they
// return with the deadline exceeded and nothing written, the middleware
// answers 408 with a retryable error body.
func Middleware(registry *services.Registry) func(http.Handler) http.Handler {
	return middlewareWith(registry, ForCategory)
}

// middlewareWith is the implementation with an injectable deadline table.
func middlewareWith(registry *services.Registry, forCategory func(string) time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			timeout := forCategory("")
			if svc, ok := registry.Match(r.Method, r.URL.Path); ok {
				timeout = forCategory(svc.Category)
			}

			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			start := time.Now()
			tw := &trackingWriter{ResponseWriter: w}
			next.ServeHTTP(tw, r.WithContext(ctx))

			if ctx.Err() == context.DeadlineExceeded && !tw.wrote {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusRequestTimeout)
				json.NewEncoder(w).Encode(timeoutResponse{
					Error:     "Request timed out",
					Retryable: true,
					TimeoutMS: timeout.Milliseconds(),
					ElapsedMS: time.Since(start).Milliseconds(),
				})
			}
		})
	}
}
