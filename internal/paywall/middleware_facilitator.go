package paywall

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/tollgate/gateway/internal/chains"
	"github.com/tollgate/gateway/internal/facilitator"
	"github.com/tollgate/gateway/internal/ledger"
	"github.com/tollgate/gateway/internal/logger"
	"github.com/tollgate/gateway/internal/metrics"
	"github.com/tollgate/gateway/internal/services"
	"github.com/tollgate/gateway/pkg/x402"
)

// FacilitatorGate handles the slow rails (Base, Solana): verification and
// settlement are delegated to an external facilitator service.
type FacilitatorGate struct {
	fac        facilitator.Facilitator
	registry   *services.Registry
	advertiser *Advertiser
	ledger     *ledger.Logger
	metrics    *metrics.Metrics

	settleTimeout time.Duration
}

// NewFacilitatorGate builds the slow-rail middleware. ledgerLog and m may
// be nil.
func NewFacilitatorGate(fac facilitator.Facilitator, registry *services.Registry, advertiser *Advertiser, ledgerLog *ledger.Logger, m *metrics.Metrics) *FacilitatorGate {
	return &FacilitatorGate{
		fac:           fac,
		registry:      registry,
		advertiser:    advertiser,
		ledger:        ledgerLog,
		metrics:       m,
		settleTimeout: 30 * time.Second,
	}
}

// Middleware verifies facilitator-rail payments. After a successful
// response, settlement runs in the background; a settle failure is logged
// but never claws back a response already sent.
func (g *FacilitatorGate) Middleware(next http.Handler) http.Handler {
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

		rail := chains.RailOf(payload.Accepted.Network)
		if rail != chains.RailBase && rail != chains.RailSolana {
			next.ServeHTTP(w, r)
			return
		}

		svc, ok := g.registry.Match(r.Method, r.URL.Path)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		log := logger.FromContext(r.Context())

		if !payload.HasPayload() {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusPaymentRequired)
			json.NewEncoder(w).Encode(map[string]string{
				"error": "Payment payload is required",
				"hint":  "Retry with the payload described by the 402 challenge's accept entry",
			})
			return
		}

		// The client echoes an accept entry; trust only our own advertised
		// requirements for this service and network.
		req, ok := g.requirementsFor(svc, payload.Accepted.Network)
		if !ok {
			writeRejection(w, rejectionBody{
				Error:   "Payment verification failed",
				Reason:  x402.ReasonMalformedProof,
				Network: payload.Accepted.Network,
			})
			return
		}

		start := time.Now()
		verdict, err := g.fac.Verify(r.Context(), payload, req)
		if err != nil {
			log.Warn().Err(err).Str("service", svc.ID).Msg("paywall.facilitator_unreachable")
			writeUnavailable(w, "Payment facilitator is unreachable")
			return
		}

		if g.metrics != nil {
			outcome := "verified"
			if !verdict.IsValid {
				outcome = verdict.InvalidReason
			}
			g.metrics.ObserveVerification(req.Network, outcome, time.Since(start))
		}

		if !verdict.IsValid {
			reason := verdict.InvalidReason
			if reason == "" {
				reason = x402.ReasonFacilitatorRejected
			}
			log.Info().Str("service", svc.ID).Str("reason", reason).Msg("paywall.payment_rejected")
			writeRejection(w, rejectionBody{
				Error:   "Payment verification failed",
				Reason:  reason,
				Network: req.Network,
			})
			return
		}

		payment := Payment{
			Payer:   verdict.Payer,
			Network: req.Network,
			Amount:  req.Amount,
			Method:  "facilitator",
		}
		log.Info().Str("service", svc.ID).Str("payer", payment.Payer).Str("network", payment.Network).Msg("paywall.payment_verified")

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r.WithContext(WithPayment(r.Context(), payment)))

		g.record(svc, r, payment, sw.status, time.Since(start))

		// Settlement is fire-and-forget: the content already shipped, so
		// the only recourse on failure is an operator alert.
		go g.settle(payload, req, svc.ID, log)
	})
}

func (g *FacilitatorGate) settle(payload *x402.PaymentPayload, req x402.PaymentRequirements, serviceID string, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), g.settleTimeout)
	defer cancel()

	resp, err := g.fac.Settle(ctx, payload, req)
	success := err == nil && resp.Success
	if g.metrics != nil {
		g.metrics.ObserveSettle(req.Network, success)
	}
	if !success {
		log.Error().
			Err(err).
			Str("service", serviceID).
			Str("network", req.Network).
			Str("error_reason", resp.ErrorReason).
			Msg("paywall.settle_failed")
		return
	}
	log.Info().
		Str("service", serviceID).
		Str("network", resp.Network).
		Str("transaction", resp.Transaction).
		Msg("paywall.settled")
}

// requirementsFor finds the advertised accept entry for a network.
func (g *FacilitatorGate) requirementsFor(svc services.Service, network string) (x402.PaymentRequirements, bool) {
	for _, req := range g.advertiser.Requirements(svc) {
		if req.Network == network {
			return req, true
		}
	}
	return x402.PaymentRequirements{}, false
}

func (g *FacilitatorGate) record(svc services.Service, r *http.Request, p Payment, status int, elapsed time.Duration) {
	if g.ledger == nil {
		return
	}
	g.ledger.Record(ledger.Entry{
		Service:        svc.ID,
		Endpoint:       r.URL.Path,
		Payer:          p.Payer,
		Network:        p.Network,
		Amount:         p.Amount,
		Scheme:         x402.SchemeExact,
		UpstreamStatus: status,
		LatencyMS:      elapsed.Milliseconds(),
	})
}
