package paywall

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/tollgate/gateway/internal/chains"
	"github.com/tollgate/gateway/internal/money"
	"github.com/tollgate/gateway/internal/services"
	"github.com/tollgate/gateway/pkg/x402"
)

// Per-rail payment windows advertised as maxTimeoutSeconds. The fast rail
// confirms in milliseconds; facilitator rails need block confirmations.
var railTimeouts = map[chains.Rail]int{
	chains.RailFast:   60,
	chains.RailBase:   300,
	chains.RailSolana: 60,
}

// Advertiser builds 402 challenges: one accept entry per supported chain
// for the matched catalog service.
type Advertiser struct {
	registry        *services.Registry
	chainList       []chains.Chain
	baseURL         string
	evmRecipient    string
	solanaRecipient string
	solanaFeePayer  string
	log             zerolog.Logger
}

// NewAdvertiser builds the 402 challenge builder. fastStablecoin, when
// non-empty, overrides the compiled fast-rail stablecoin contract.
func NewAdvertiser(registry *services.Registry, baseURL, fastStablecoin, evmRecipient, solanaRecipient, solanaFeePayer string, log zerolog.Logger) *Advertiser {
	chainList := chains.All()
	chainList[0] = chains.WithFastStablecoin(fastStablecoin)

	return &Advertiser{
		registry:        registry,
		chainList:       chainList,
		baseURL:         baseURL,
		evmRecipient:    evmRecipient,
		solanaRecipient: solanaRecipient,
		solanaFeePayer:  solanaFeePayer,
		log:             log.With().Str("component", "advertiser").Logger(),
	}
}

// NetworkEntry pairs an advertised chain with the recipient address
// payments on it must reach.
type NetworkEntry struct {
	Chain chains.Chain
	PayTo string
}

// Networks returns the advertised chains with their recipients, in the
// same stable order as Requirements.
func (a *Advertiser) Networks() []NetworkEntry {
	out := make([]NetworkEntry, 0, len(a.chainList))
	for _, chain := range a.chainList {
		payTo := a.evmRecipient
		if chains.RailOf(chain.CAIP2) == chains.RailSolana {
			payTo = a.solanaRecipient
		}
		out = append(out, NetworkEntry{Chain: chain, PayTo: payTo})
	}
	return out
}

// Requirements renders the accept entries for a service, in stable rail
// order. Chains whose price cannot be represented are skipped.
func (a *Advertiser) Requirements(svc services.Service) []x402.PaymentRequirements {
	accepts := make([]x402.PaymentRequirements, 0, len(a.chainList))
	for _, chain := range a.chainList {
		amount, err := money.PriceToBaseUnits(svc.Price, chain.Stablecoin.Decimals)
		if err != nil {
			a.log.Error().Err(err).Str("service", svc.ID).Str("network", chain.CAIP2).Msg("advertise.bad_price")
			continue
		}

		req := x402.PaymentRequirements{
			Scheme:            x402.SchemeExact,
			Network:           chain.CAIP2,
			Amount:            amount.String(),
			Asset:             chain.Stablecoin.Contract,
			MaxTimeoutSeconds: railTimeouts[chains.RailOf(chain.CAIP2)],
		}

		switch chains.RailOf(chain.CAIP2) {
		case chains.RailSolana:
			req.PayTo = a.solanaRecipient
			if a.solanaFeePayer != "" {
				req.Extra = map[string]string{"feePayer": a.solanaFeePayer}
			}
		case chains.RailBase:
			req.PayTo = a.evmRecipient
			// EIP-712 domain of Base USDC, needed by permit signers.
			req.Extra = map[string]string{"name": "USD Coin", "version": "2"}
		default:
			req.PayTo = a.evmRecipient
			req.Extra = map[string]string{
				"name":    chain.Stablecoin.Symbol,
				"version": "1",
			}
		}

		accepts = append(accepts, req)
	}
	return accepts
}

// Advertise writes the 402 challenge for a service. The challenge rides in
// the PAYMENT-REQUIRED header; the body stays an empty JSON object so
// naive clients do not mistake it for content.
func (a *Advertiser) Advertise(w http.ResponseWriter, r *http.Request, svc services.Service) {
	challenge := x402.PaymentRequired{
		X402Version: x402.Version,
		Error:       "Payment required",
		Resource: x402.Resource{
			URL:         a.baseURL + svc.Path,
			Description: svc.Description,
			MimeType:    svc.MimeType,
		},
		Accepts: a.Requirements(svc),
	}

	encoded, err := x402.EncodeRequirements(challenge)
	if err != nil {
		a.log.Error().Err(err).Str("service", svc.ID).Msg("advertise.encode_failed")
		http.Error(w, `{"error":{"code":"internal","message":"failed to build payment challenge"}}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set(x402.HeaderPaymentRequired, encoded)
	w.Header().Set("Access-Control-Expose-Headers", x402.HeaderPaymentRequired)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	w.Write([]byte("{}"))
}

// Middleware answers 402 for catalog routes that reach it without a
// verified payment. It runs after the rail middlewares, so anything
// unpaid here either sent no payment header or sent one that failed to
// parse; both get the challenge.
func (a *Advertiser) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if paid(r) {
			next.ServeHTTP(w, r)
			return
		}

		svc, ok := a.registry.Match(r.Method, r.URL.Path)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		a.Advertise(w, r, svc)
	})
}
