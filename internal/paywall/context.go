// Package paywall gates catalog routes behind x402 payments: it parses
// payment headers, verifies proofs on the right rail, and advertises
// payment requirements when no valid payment is presented.
package paywall

import (
	"context"
	"net/http"
)

type contextKey string

const (
	contextKeyPayment   contextKey = "paywall.payment"
	contextKeyDevBypass contextKey = "paywall.devBypass"
)

// Payment records the verified payment attached to a request.
type Payment struct {
	Payer   string
	Network string // CAIP-2
	Amount  string // base units
	TxHash  string // fast rail only
	Method  string // "direct" or "facilitator"
}

// WithPayment annotates the request context with a verified payment.
func WithPayment(ctx context.Context, p Payment) context.Context {
	return context.WithValue(ctx, contextKeyPayment, p)
}

// PaymentFromContext retrieves the verified payment, if any.
func PaymentFromContext(ctx context.Context) (Payment, bool) {
	p, ok := ctx.Value(contextKeyPayment).(Payment)
	return p, ok
}

// withDevBypass marks the request as admitted by the dev bypass.
func withDevBypass(ctx context.Context) context.Context {
	return context.WithValue(ctx, contextKeyDevBypass, true)
}

// IsDevBypassed reports whether the dev bypass admitted this request.
func IsDevBypassed(ctx context.Context) bool {
	v, _ := ctx.Value(contextKeyDevBypass).(bool)
	return v
}

// paid reports whether the request already cleared the paywall and later
// middlewares should stand aside.
func paid(r *http.Request) bool {
	if IsDevBypassed(r.Context()) {
		return true
	}
	_, ok := PaymentFromContext(r.Context())
	return ok
}
