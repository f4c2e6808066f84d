// Package upstream dispatches paid requests to the third-party providers
// behind the gateway: parameter validation, provider credentials, caching,
// retries, and response sanitization all live here.
package upstream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/tollgate/gateway/internal/circuitbreaker"
	"github.com/tollgate/gateway/internal/credentials"
	apperrors "github.com/tollgate/gateway/internal/errors"
	"github.com/tollgate/gateway/internal/logger"
	"github.com/tollgate/gateway/internal/metrics"
	"github.com/tollgate/gateway/internal/rpcutil"
	"github.com/tollgate/gateway/internal/services"
	"github.com/tollgate/gateway/internal/ttlcache"
)

// maxUpstreamBody caps how much of an upstream response we will buffer.
const maxUpstreamBody = 10 << 20

// retryConfig tunes outbound retries: up to 3 attempts, 500ms base delay.
var retryConfig = rpcutil.Config{
	MaxRetries: 2,
	BaseDelay:  500 * time.Millisecond,
}

// cachedResponse is the cache value for idempotent lookups.
type cachedResponse struct {
	Status      int
	ContentType string
	Body        []byte
}

// Dispatcher is the terminal handler for catalog routes: it forwards the
// request to the service's upstream with pooled credentials and returns
// the sanitized response.
type Dispatcher struct {
	registry *services.Registry
	creds    *credentials.Pool
	cache    *ttlcache.Cache[cachedResponse]
	client   *http.Client
	breaker  *circuitbreaker.Manager
	metrics  *metrics.Metrics
}

// NewDispatcher builds the dispatcher. breaker and m may be nil.
func NewDispatcher(registry *services.Registry, creds *credentials.Pool, client *http.Client, breaker *circuitbreaker.Manager, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		creds:    creds,
		cache:    ttlcache.New[cachedResponse](),
		client:   client,
		breaker:  breaker,
		metrics:  m,
	}
}

// ServeHTTP implements http.Handler.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	svc, ok := d.registry.Match(r.Method, r.URL.Path)
	if !ok {
		apperrors.WriteSimpleError(w, apperrors.ErrCodeNotFound, "No such service")
		return
	}

	log := logger.FromContext(r.Context()).With().Str("service", svc.ID).Logger()

	body, errResp := d.validate(svc, r)
	if errResp != nil {
		errResp.WriteJSON(w)
		return
	}

	ttl := svc.CacheTTL()
	cacheKey := ""
	if ttl > 0 && r.Method == http.MethodGet {
		cacheKey = cacheKeyFor(svc, r.URL.Query())
		if cached, hit := d.cache.Get(cacheKey); hit {
			if d.metrics != nil {
				d.metrics.ObserveCache(svc.ID, true)
			}
			writeUpstreamResponse(w, cached, "HIT")
			return
		}
		if d.metrics != nil {
			d.metrics.ObserveCache(svc.ID, false)
		}
	}

	secret := ""
	if svc.Provider != "" {
		if secret = d.creds.Acquire(svc.Provider); secret == "" {
			log.Error().Str("provider", svc.Provider).Msg("upstream.no_credentials")
			apperrors.WriteSimpleError(w, apperrors.ErrCodeUpstreamNotConfigured,
				fmt.Sprintf("Service %s has no provider credentials configured", svc.ID))
			return
		}
	}

	start := time.Now()
	resp, err := d.forward(r, svc, secret, body)
	elapsed := time.Since(start)

	if err != nil {
		if d.metrics != nil {
			d.metrics.ObserveUpstream(svc.ID, 0, elapsed)
		}
		log.Warn().Err(err).Dur("elapsed", elapsed).Msg("upstream.unreachable")
		apperrors.WriteSimpleError(w, apperrors.ErrCodeUpstreamUnavailable, "Upstream provider is unavailable")
		return
	}

	if d.metrics != nil {
		d.metrics.ObserveUpstream(svc.ID, resp.Status, elapsed)
	}

	switch {
	case resp.Status >= 200 && resp.Status < 300:
		if cacheKey != "" {
			d.cache.Put(cacheKey, *resp, ttl)
		}
		writeUpstreamResponse(w, *resp, "MISS")
	case resp.Status >= 400 && resp.Status < 500:
		// Provider 4xx bodies can leak credential hints; return a clean
		// envelope with just the status.
		log.Info().Int("upstream_status", resp.Status).Msg("upstream.rejected_request")
		apperrors.WriteErrorWithDetail(w, apperrors.ErrCodeBadRequest,
			"Upstream provider rejected the request", "upstream_status", resp.Status)
	default:
		log.Warn().Int("upstream_status", resp.Status).Msg("upstream.server_error")
		apperrors.WriteSimpleError(w, apperrors.ErrCodeUpstreamUnavailable, "Upstream provider is unavailable")
	}
}

// validate checks declared parameters and, for POST, reads the JSON body.
// Returns the raw body to forward and an error response on failure.
func (d *Dispatcher) validate(svc services.Service, r *http.Request) ([]byte, *apperrors.ErrorResponse) {
	var bodyFields map[string]json.RawMessage
	var rawBody []byte

	if r.Method == http.MethodPost && hasBodyParams(svc) {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			resp := apperrors.NewErrorResponse(apperrors.ErrCodeBadRequest, "Failed to read request body", nil)
			return nil, &resp
		}
		rawBody = data
		if len(data) > 0 {
			if err := json.Unmarshal(data, &bodyFields); err != nil {
				resp := apperrors.NewErrorResponse(apperrors.ErrCodeBadRequest, "Request body must be a JSON object", nil)
				return nil, &resp
			}
		}
	}

	var missing []string
	for _, p := range svc.Params {
		if !p.Required {
			continue
		}
		switch p.In {
		case "query":
			if r.URL.Query().Get(p.Name) == "" {
				missing = append(missing, p.Name)
			}
		case "body":
			if _, ok := bodyFields[p.Name]; !ok {
				missing = append(missing, p.Name)
			}
		}
	}
	if len(missing) > 0 {
		resp := apperrors.NewErrorResponse(apperrors.ErrCodeBadRequest,
			"Missing required parameters", map[string]interface{}{"missing": missing})
		return nil, &resp
	}

	return rawBody, nil
}

func hasBodyParams(svc services.Service) bool {
	for _, p := range svc.Params {
		if p.In == "body" {
			return true
		}
	}
	return false
}

// forward executes the outbound call with retry and circuit breaking.
// Returns the buffered response; transport-level failure after retries
// comes back as an error.
func (d *Dispatcher) forward(r *http.Request, svc services.Service, secret string, body []byte) (*cachedResponse, error) {
	do := func() (*cachedResponse, error) {
		req, err := d.buildRequest(r, svc, secret, body)
		if err != nil {
			return nil, err
		}

		resp, err := d.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		// Provider 5xx and 429 are worth another attempt; surface them as
		// retryable errors for the retry wrapper.
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("upstream %s: status %d", svc.ID, resp.StatusCode)
		}

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
		if err != nil {
			return nil, fmt.Errorf("upstream %s: read body: %w", svc.ID, err)
		}

		return &cachedResponse{
			Status:      resp.StatusCode,
			ContentType: resp.Header.Get("Content-Type"),
			Body:        data,
		}, nil
	}

	withBreaker := func() (*cachedResponse, error) {
		if d.breaker == nil {
			return do()
		}
		result, err := d.breaker.Execute(circuitbreaker.ServiceUpstream, func() (interface{}, error) {
			return do()
		})
		if err != nil {
			return nil, err
		}
		return result.(*cachedResponse), nil
	}

	return rpcutil.WithRetryCustom(r.Context(), retryConfig, withBreaker)
}

// buildRequest assembles the outbound request: upstream URL, caller query
// parameters, provider credential, and body.
func (d *Dispatcher) buildRequest(r *http.Request, svc services.Service, secret string, body []byte) (*http.Request, error) {
	target, err := url.Parse(svc.UpstreamURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}

	// Forward declared query parameters only; undeclared ones stay behind.
	query := target.Query()
	for _, p := range svc.Params {
		if p.In != "query" {
			continue
		}
		if v := r.URL.Query().Get(p.Name); v != "" {
			query.Set(p.Name, v)
		}
	}

	if secret != "" && svc.Auth.Mode == "query" {
		query.Set(svc.Auth.Name, secret)
	}
	target.RawQuery = query.Encode()

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(r.Context(), svc.Method, target.String(), reader)
	if err != nil {
		return nil, err
	}

	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", svc.MimeType)

	if secret != "" {
		switch svc.Auth.Mode {
		case "bearer":
			req.Header.Set("Authorization", "Bearer "+secret)
		case "header":
			req.Header.Set(svc.Auth.Name, secret)
		}
	}

	return req, nil
}

// cacheKeyFor canonicalizes the request input tuple: service id plus the
// declared query parameters in sorted order.
func cacheKeyFor(svc services.Service, query url.Values) string {
	parts := make([]string, 0, len(svc.Params))
	for _, p := range svc.Params {
		if p.In == "query" {
			if v := query.Get(p.Name); v != "" {
				parts = append(parts, p.Name+"="+v)
			}
		}
	}
	sort.Strings(parts)
	return svc.ID + "?" + strings.Join(parts, "&")
}

func writeUpstreamResponse(w http.ResponseWriter, resp cachedResponse, cacheState string) {
	contentType := resp.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("X-Cache", cacheState)
	w.WriteHeader(resp.Status)
	w.Write(resp.Body)
}
