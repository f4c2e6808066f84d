package httputil

import (
	"net/http"
	"time"
)

// NewClient creates an HTTP client with the given timeout and a tuned
// transport. All outbound clients (facilitator, upstream providers, RPC)
// use this so connection reuse behaves the same everywhere.
//
// Transport settings:
//   - MaxIdleConns: 100 (total idle connections across all hosts)
//   - MaxIdleConnsPerHost: 10
//   - IdleConnTimeout: 90s
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
