package httpserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tollgate/gateway/internal/chains"
	apperrors "github.com/tollgate/gateway/internal/errors"
	"github.com/tollgate/gateway/internal/paywall"
	"github.com/tollgate/gateway/internal/services"
	"github.com/tollgate/gateway/pkg/x402"
)

// Version is the gateway release, stamped at build time with
// -ldflags "-X github.com/tollgate/gateway/internal/httpserver.Version=...".
var Version = "dev"

// publicService is the catalog view exposed to clients. Upstream URLs,
// provider tags, and auth specs stay internal.
type publicService struct {
	ID           string           `json:"id"`
	DisplayName  string           `json:"displayName,omitempty"`
	Description  string           `json:"description,omitempty"`
	Price        string           `json:"price"`
	Method       string           `json:"method"`
	Path         string           `json:"path"`
	Category     string           `json:"category"`
	MimeType     string           `json:"mimeType"`
	CostEstimate string           `json:"costEstimate,omitempty"`
	Params       []services.Param `json:"params,omitempty"`
}

func toPublic(svc services.Service) publicService {
	return publicService{
		ID:           svc.ID,
		DisplayName:  svc.DisplayName,
		Description:  svc.Description,
		Price:        svc.Price,
		Method:       svc.Method,
		Path:         svc.Path,
		Category:     svc.Category,
		MimeType:     svc.MimeType,
		CostEstimate: svc.CostEstimate,
		Params:       svc.Params,
	}
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"service":   "tollgate",
		"version":   Version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(serverStartTime).Round(time.Second).String(),
	})
}

func (h *handlers) listServices(w http.ResponseWriter, _ *http.Request) {
	all := h.registry.All()
	out := make([]publicService, 0, len(all))
	for _, svc := range all {
		out = append(out, toPublic(svc))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"services": out})
}

func (h *handlers) getService(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.registry.Get(chi.URLParam(r, "id"))
	if !ok {
		apperrors.WriteSimpleError(w, apperrors.ErrCodeNotFound, "No such service")
		return
	}
	writeJSON(w, http.StatusOK, toPublic(svc))
}

// wellKnownX402 serves the precomputed discovery document.
func (h *handlers) wellKnownX402(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(h.wellKnown)
}

// x402Resource is one service entry of the /.well-known/x402.json
// document: the priced resource plus every accept entry a client could
// satisfy.
type x402Resource struct {
	ID          string                     `json:"id"`
	URL         string                     `json:"url"`
	Method      string                     `json:"method"`
	Price       string                     `json:"price"`
	Description string                     `json:"description,omitempty"`
	MimeType    string                     `json:"mimeType,omitempty"`
	Accepts     []x402.PaymentRequirements `json:"accepts"`
}

// x402Network is one entry of the document's networks map, keyed by
// CAIP-2 identifier.
type x402Network struct {
	Name     string `json:"name"`
	Rail     string `json:"rail"`
	Asset    string `json:"asset"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
	PayTo    string `json:"payTo"`
}

// buildWellKnown renders the discovery document once at startup. The
// catalog and chain set are fixed for the process lifetime, so the bytes
// never change.
func (h *handlers) buildWellKnown(advertiser *paywall.Advertiser) []byte {
	networks := make(map[string]x402Network)
	for _, entry := range advertiser.Networks() {
		networks[entry.Chain.CAIP2] = x402Network{
			Name:     entry.Chain.DisplayName,
			Rail:     string(chains.RailOf(entry.Chain.CAIP2)),
			Asset:    entry.Chain.Stablecoin.Contract,
			Symbol:   entry.Chain.Stablecoin.Symbol,
			Decimals: entry.Chain.Stablecoin.Decimals,
			PayTo:    entry.PayTo,
		}
	}

	all := h.registry.All()
	resources := make([]x402Resource, 0, len(all))
	routes := make(map[string]string, len(all))
	categories := make(map[string][]string)
	for _, svc := range all {
		resources = append(resources, x402Resource{
			ID:          svc.ID,
			URL:         h.cfg.Server.PublicBaseURL + svc.Path,
			Method:      svc.Method,
			Price:       svc.Price,
			Description: svc.Description,
			MimeType:    svc.MimeType,
			Accepts:     advertiser.Requirements(svc),
		})
		routes[svc.Method+" "+svc.Path] = svc.ID
		if svc.Category != "" {
			categories[svc.Category] = append(categories[svc.Category], svc.ID)
		}
	}

	doc, err := json.Marshal(map[string]interface{}{
		"name":        "tollgate",
		"version":     Version,
		"x402Version": x402.Version,
		"networks":    networks,
		"services":    resources,
		"routes":      routes,
		"categories":  categories,
		"hint":        "Request a priced route to receive a 402 challenge in the PAYMENT-REQUIRED header, then retry with a Payment-Signature or X-Payment header.",
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("httpserver.wellknown_build_failed")
		return []byte(`{"name":"tollgate","x402Version":2,"services":[]}`)
	}
	return doc
}
