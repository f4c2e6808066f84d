package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tollgate/gateway/internal/circuitbreaker"
	"github.com/tollgate/gateway/pkg/x402"
)

// Remote proxies verify and settle calls to an external x402 facilitator
// service over HTTP. The wire shapes pass through unmodified; transport
// failures surface as errors for the caller to map to 503.
type Remote struct {
	baseURL string
	client  *http.Client
	breaker *circuitbreaker.Manager
	timeout time.Duration
	log     zerolog.Logger
}

// NewRemote builds a facilitator client. breaker may be nil.
func NewRemote(baseURL string, client *http.Client, breaker *circuitbreaker.Manager, timeout time.Duration, log zerolog.Logger) *Remote {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Remote{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		breaker: breaker,
		timeout: timeout,
		log:     log.With().Str("component", "remote_facilitator").Logger(),
	}
}

// Supported fetches the facilitator's supported scheme/network kinds.
func (r *Remote) Supported(ctx context.Context) (x402.SupportedResponse, error) {
	var out x402.SupportedResponse
	err := r.call(ctx, http.MethodGet, "/supported", nil, &out)
	return out, err
}

// Verify asks the facilitator to validate a payment against requirements.
func (r *Remote) Verify(ctx context.Context, payload *x402.PaymentPayload, req x402.PaymentRequirements) (x402.VerifyResponse, error) {
	var out x402.VerifyResponse
	err := r.call(ctx, http.MethodPost, "/verify", wireRequest(payload, req), &out)
	return out, err
}

// Settle asks the facilitator to execute settlement for a verified payment.
func (r *Remote) Settle(ctx context.Context, payload *x402.PaymentPayload, req x402.PaymentRequirements) (x402.SettleResponse, error) {
	var out x402.SettleResponse
	err := r.call(ctx, http.MethodPost, "/settle", wireRequest(payload, req), &out)
	return out, err
}

func wireRequest(payload *x402.PaymentPayload, req x402.PaymentRequirements) *x402.VerifyRequest {
	wire := &x402.VerifyRequest{X402Version: x402.Version, PaymentRequirements: req}
	if payload != nil {
		wire.PaymentPayload = *payload
	}
	return wire
}

func (r *Remote) call(ctx context.Context, method, path string, body, out interface{}) error {
	do := func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		var reader io.Reader
		if body != nil {
			encoded, err := json.Marshal(body)
			if err != nil {
				return nil, fmt.Errorf("encode request: %w", err)
			}
			reader = bytes.NewReader(encoded)
		}

		httpReq, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reader)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		if body != nil {
			httpReq.Header.Set("Content-Type", "application/json")
		}
		httpReq.Header.Set("Accept", "application/json")

		resp, err := r.client.Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("facilitator %s: %w", path, err)
		}
		defer resp.Body.Close()

		// Bounded read; facilitator responses are small JSON documents.
		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, fmt.Errorf("facilitator %s: read body: %w", path, err)
		}

		// A 402 carries a protocol-level rejection in the same response
		// shape; every other non-2xx status is a transport failure.
		if resp.StatusCode != http.StatusPaymentRequired && (resp.StatusCode < 200 || resp.StatusCode >= 300) {
			return nil, fmt.Errorf("facilitator %s: status %d", path, resp.StatusCode)
		}

		if err := json.Unmarshal(data, out); err != nil {
			return nil, fmt.Errorf("facilitator %s: decode body: %w", path, err)
		}
		return nil, nil
	}

	var err error
	if r.breaker != nil {
		_, err = r.breaker.Execute(circuitbreaker.ServiceFacilitator, do)
	} else {
		_, err = do()
	}
	if err != nil {
		r.log.Warn().Err(err).Str("path", path).Msg("facilitator.call_failed")
	}
	return err
}
