package facilitator

import (
	"context"
	"encoding/json"
	"math/big"

	"github.com/tollgate/gateway/pkg/x402"
)

// PaymentVerifier checks a settled transfer on chain. The onchain verifier
// satisfies it.
type PaymentVerifier interface {
	VerifyPayment(ctx context.Context, txHash, recipient string, amount *big.Int) x402.VerificationResult
}

// Local is the fast-rail facilitator. Payments on this rail are already
// settled when the client presents them, so Verify checks the receipt on
// chain and Settle is a no-op acknowledgement.
type Local struct {
	verifier PaymentVerifier
	network  string
	extra    map[string]string
}

// NewLocal builds the fast-rail facilitator. tokenName and tokenVersion
// describe the stablecoin's EIP-712 domain and are advertised to clients
// via the supported-kinds manifest.
func NewLocal(verifier PaymentVerifier, network, tokenName, tokenVersion string) *Local {
	return &Local{
		verifier: verifier,
		network:  network,
		extra: map[string]string{
			"name":    tokenName,
			"version": tokenVersion,
		},
	}
}

// Supported reports the single scheme/network pair this facilitator handles.
func (l *Local) Supported(_ context.Context) (x402.SupportedResponse, error) {
	return x402.SupportedResponse{
		Kinds: []x402.SupportedKind{
			{
				X402Version: x402.Version,
				Scheme:      x402.SchemeExact,
				Network:     l.network,
				Extra:       l.extra,
			},
		},
	}, nil
}

// Verify checks the presented transaction hash against the chain.
func (l *Local) Verify(ctx context.Context, payload *x402.PaymentPayload, req x402.PaymentRequirements) (x402.VerifyResponse, error) {
	txHash, reason := extractTxHash(payload)
	if reason != "" {
		return x402.VerifyResponse{IsValid: false, InvalidReason: reason}, nil
	}

	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok || amount.Sign() < 0 {
		return x402.VerifyResponse{IsValid: false, InvalidReason: x402.ReasonMalformedProof}, nil
	}

	result := l.verifier.VerifyPayment(ctx, txHash, req.PayTo, amount)
	return x402.VerifyResponse{
		IsValid:       result.Valid,
		InvalidReason: result.Reason,
		Payer:         result.Payer,
	}, nil
}

// Settle acknowledges an already-settled payment. The fast rail has no
// post-verification settlement step.
func (l *Local) Settle(_ context.Context, payload *x402.PaymentPayload, _ x402.PaymentRequirements) (x402.SettleResponse, error) {
	txHash, reason := extractTxHash(payload)
	if reason != "" {
		return x402.SettleResponse{Success: false, ErrorReason: reason, Network: l.network}, nil
	}

	return x402.SettleResponse{
		Success:     true,
		Transaction: txHash,
		Network:     l.network,
	}, nil
}

// extractTxHash pulls the transaction hash out of a fast-rail payload.
// Returns a rejection reason when the payload cannot provide one.
func extractTxHash(payload *x402.PaymentPayload) (string, string) {
	if payload == nil || len(payload.Payload) == 0 {
		return "", x402.ReasonMissingProof
	}

	var fast x402.FastPayload
	if err := json.Unmarshal(payload.Payload, &fast); err != nil {
		return "", x402.ReasonMalformedProof
	}
	if fast.TxHash == "" {
		return "", x402.ReasonMissingProof
	}
	return fast.TxHash, ""
}
