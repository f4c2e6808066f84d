package httpserver

import (
	"net/http"

	"github.com/tollgate/gateway/internal/chains"
	apperrors "github.com/tollgate/gateway/internal/errors"
	"github.com/tollgate/gateway/internal/logger"
	"github.com/tollgate/gateway/pkg/x402"
)

// The /facilitator/megaeth endpoints expose the fast rail's verification
// over the standard facilitator wire protocol, so external resource
// servers can gate on MegaETH payments without their own RPC node.

func (h *handlers) facilitatorSupported(w http.ResponseWriter, r *http.Request) {
	supported, err := h.localFac.Supported(r.Context())
	if err != nil {
		apperrors.WriteSimpleError(w, apperrors.ErrCodeUpstreamUnavailable, "Facilitator is unavailable")
		return
	}
	writeJSON(w, http.StatusOK, supported)
}

func (h *handlers) facilitatorStatus(w http.ResponseWriter, r *http.Request) {
	supported, _ := h.localFac.Supported(r.Context())
	network := ""
	if len(supported.Kinds) > 0 {
		network = supported.Kinds[0].Network
	}

	body := map[string]interface{}{
		"network":    network,
		"connected":  false,
		"stablecoin": chains.WithFastStablecoin(h.cfg.Payments.FastStablecoinContract).Stablecoin.Contract,
	}

	if h.store != nil {
		stats, err := h.store.Stats(r.Context())
		if err != nil {
			log := logger.FromContext(r.Context())
			log.Warn().Err(err).Msg("httpserver.stats_failed")
		} else {
			body["connected"] = true
			body["usedTxHashes"] = stats.TotalProofs
			body["totalRequests"] = stats.TotalRequests
			body["requestsLast24h"] = stats.RequestsLast24
		}
	}

	writeJSON(w, http.StatusOK, body)
}

func (h *handlers) facilitatorVerify(w http.ResponseWriter, r *http.Request) {
	var req x402.VerifyRequest
	if err := decodeJSON(r, &req); err != nil {
		apperrors.WriteSimpleError(w, apperrors.ErrCodeBadRequest, "Request body must be a JSON verify request")
		return
	}

	resp, err := h.localFac.Verify(r.Context(), &req.PaymentPayload, req.PaymentRequirements)
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("httpserver.facilitator_verify_failed")
		apperrors.WriteSimpleError(w, apperrors.ErrCodeUpstreamUnavailable, "Verification backend is unavailable")
		return
	}
	if !resp.IsValid {
		if resp.InvalidMessage == "" {
			resp.InvalidMessage = "Payment verification failed"
		}
		writeJSON(w, http.StatusPaymentRequired, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) facilitatorSettle(w http.ResponseWriter, r *http.Request) {
	var req x402.VerifyRequest
	if err := decodeJSON(r, &req); err != nil {
		apperrors.WriteSimpleError(w, apperrors.ErrCodeBadRequest, "Request body must be a JSON settle request")
		return
	}

	resp, err := h.localFac.Settle(r.Context(), &req.PaymentPayload, req.PaymentRequirements)
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("httpserver.facilitator_settle_failed")
		apperrors.WriteSimpleError(w, apperrors.ErrCodeUpstreamUnavailable, "Settlement backend is unavailable")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
