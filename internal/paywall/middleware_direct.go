package paywall

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/tollgate/gateway/internal/chains"
	"github.com/tollgate/gateway/internal/ledger"
	"github.com/tollgate/gateway/internal/logger"
	"github.com/tollgate/gateway/internal/metrics"
	"github.com/tollgate/gateway/internal/money"
	"github.com/tollgate/gateway/internal/services"
	"github.com/tollgate/gateway/pkg/x402"
)

// PaymentVerifier checks a settled transfer on chain. The onchain
// verifier satisfies it.
type PaymentVerifier interface {
	VerifyPayment(ctx context.Context, txHash, recipient string, amount *big.Int) x402.VerificationResult
}

// Direct is the fast-rail paywall: clients pay on the fast chain first,
// then present the transaction hash. Verification talks to the chain RPC
// directly, no facilitator round trip.
type Direct struct {
	verifier  PaymentVerifier
	registry  *services.Registry
	fastChain chains.Chain
	recipient string
	ledger    *ledger.Logger
	metrics   *metrics.Metrics
}

// NewDirect builds the fast-rail middleware. ledgerLog and m may be nil.
func NewDirect(verifier PaymentVerifier, registry *services.Registry, fastChain chains.Chain, recipient string, ledgerLog *ledger.Logger, m *metrics.Metrics) *Direct {
	return &Direct{
		verifier:  verifier,
		registry:  registry,
		fastChain: fastChain,
		recipient: recipient,
		ledger:    ledgerLog,
		metrics:   m,
	}
}

type rejectionBody struct {
	Error   string `json:"error"`
	Reason  string `json:"reason,omitempty"`
	Network string `json:"network"`
}

func writeRejection(w http.ResponseWriter, body rejectionBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	json.NewEncoder(w).Encode(body)
}

// writeUnavailable answers 503 for verification infrastructure outages.
// The client's payment may be perfectly good; a 402 here would read as a
// rejection and could push them into paying twice.
func writeUnavailable(w http.ResponseWriter, message string) {
	w.Header().Set("Retry-After", "5")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusServiceUnavailable)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":      "upstream_unavailable",
			"message":   message,
			"retryable": true,
		},
	})
}

// Middleware verifies fast-rail payments. Requests without a payment
// header, or paying on another network, pass through untouched for the
// next stage to handle.
func (d *Direct) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if paid(r) {
			next.ServeHTTP(w, r)
			return
		}

		payload, ok := x402.ParsePaymentHeader(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		if chains.RailOf(payload.Accepted.Network) != chains.RailFast {
			next.ServeHTTP(w, r)
			return
		}

		svc, ok := d.registry.Match(r.Method, r.URL.Path)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		log := logger.FromContext(r.Context())

		var fast x402.FastPayload
		if err := json.Unmarshal(payload.Payload, &fast); err != nil || !strings.HasPrefix(fast.TxHash, "0x") {
			writeRejection(w, rejectionBody{
				Error:   "MegaETH-style payments require txHash in payload",
				Network: d.fastChain.CAIP2,
			})
			return
		}

		amount, err := money.PriceToBaseUnits(svc.Price, d.fastChain.Stablecoin.Decimals)
		if err != nil {
			// Catalog prices are validated at load; this is unreachable in
			// a healthy process.
			log.Error().Err(err).Str("service", svc.ID).Msg("paywall.bad_catalog_price")
			writeRejection(w, rejectionBody{
				Error:   "Payment verification failed",
				Reason:  x402.ReasonMalformedProof,
				Network: d.fastChain.CAIP2,
			})
			return
		}

		start := time.Now()
		result := d.verifier.VerifyPayment(r.Context(), fast.TxHash, d.recipient, amount)
		if d.metrics != nil {
			outcome := "verified"
			if !result.Valid {
				outcome = result.Reason
			}
			d.metrics.ObserveVerification(d.fastChain.CAIP2, outcome, time.Since(start))
		}

		if !result.Valid {
			log.Info().
				Str("service", svc.ID).
				Str("reason", result.Reason).
				Str("tx_hash", logger.TruncateHash(fast.TxHash)).
				Msg("paywall.payment_rejected")
			if result.Reason == x402.ReasonUpstreamUnavailable {
				writeUnavailable(w, "Payment verification is temporarily unavailable")
				return
			}
			writeRejection(w, rejectionBody{
				Error:   "Payment verification failed",
				Reason:  result.Reason,
				Network: d.fastChain.CAIP2,
			})
			return
		}

		payment := Payment{
			Payer:   result.Payer,
			Network: d.fastChain.CAIP2,
			Amount:  amount.String(),
			TxHash:  fast.TxHash,
			Method:  "direct",
		}
		log.Info().
			Str("service", svc.ID).
			Str("payer", payment.Payer).
			Str("tx_hash", logger.TruncateHash(fast.TxHash)).
			Msg("paywall.payment_verified")

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r.WithContext(WithPayment(r.Context(), payment)))

		d.record(r, payment, sw.status, time.Since(start))
	})
}

// record enqueues the ledger row once the handler finished. Fast-rail
// entries are keyed by the rail, not the catalog service.
func (d *Direct) record(r *http.Request, p Payment, status int, elapsed time.Duration) {
	if d.ledger == nil {
		return
	}
	d.ledger.Record(ledger.Entry{
		Service:        "payment-megaeth",
		Endpoint:       r.URL.Path,
		Payer:          p.Payer,
		Network:        p.Network,
		Amount:         p.Amount,
		Scheme:         x402.SchemeExact,
		UpstreamStatus: status,
		LatencyMS:      elapsed.Milliseconds(),
	})
}

// statusWriter captures the downstream status code for the request log.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
