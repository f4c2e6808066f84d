// Package facilitator verifies and settles x402 payments. The fast rail is
// handled locally against the chain RPC; slower rails are proxied to a
// remote facilitator service.
package facilitator

import (
	"context"

	"github.com/tollgate/gateway/pkg/x402"
)

// Facilitator is the verify/settle surface shared by the local fast-rail
// implementation and the remote HTTP proxy.
type Facilitator interface {
	Supported(ctx context.Context) (x402.SupportedResponse, error)
	Verify(ctx context.Context, payload *x402.PaymentPayload, req x402.PaymentRequirements) (x402.VerifyResponse, error)
	Settle(ctx context.Context, payload *x402.PaymentPayload, req x402.PaymentRequirements) (x402.SettleResponse, error)
}
