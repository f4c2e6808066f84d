package errors

// ErrorCode is a machine-readable error identifier returned to clients.
type ErrorCode string

// Payment errors.
const (
	// Paid route hit without any payment header; 402 with requirements.
	ErrCodePaymentRequired ErrorCode = "payment_required"
	// Payment header present but missing the rail-specific proof.
	ErrCodePaymentMissingProof ErrorCode = "payment_missing_proof"
	// Proof presented and verification failed (reason carried in details).
	ErrCodePaymentRejected ErrorCode = "payment_rejected"
)

// Request validation and routing errors.
const (
	ErrCodeBadRequest   ErrorCode = "bad_request"
	ErrCodeNotFound     ErrorCode = "not_found"
	ErrCodeUnauthorized ErrorCode = "unauthorized"
	ErrCodeRateLimited  ErrorCode = "rate_limited"
	ErrCodeTimeout      ErrorCode = "timeout"
)

// Upstream and system errors.
const (
	ErrCodeUpstreamUnavailable   ErrorCode = "upstream_unavailable"
	ErrCodeUpstreamNotConfigured ErrorCode = "upstream_not_configured"
	ErrCodeInternal              ErrorCode = "internal"
)

// IsRetryable reports whether the client should retry the request.
// Transient service failures retry; payment and validation failures do not.
func (e ErrorCode) IsRetryable() bool {
	switch e {
	case ErrCodeUpstreamUnavailable,
		ErrCodeTimeout,
		ErrCodeInternal:
		return true
	default:
		return false
	}
}

// HTTPStatus returns the HTTP status code for this error.
func (e ErrorCode) HTTPStatus() int {
	switch e {
	case ErrCodeBadRequest:
		return 400
	case ErrCodeUnauthorized:
		return 401
	case ErrCodePaymentRequired,
		ErrCodePaymentMissingProof,
		ErrCodePaymentRejected:
		return 402
	case ErrCodeNotFound:
		return 404
	case ErrCodeTimeout:
		return 408
	case ErrCodeRateLimited:
		return 429
	case ErrCodeUpstreamNotConfigured:
		return 502
	case ErrCodeUpstreamUnavailable, ErrCodeInternal:
		return 503
	default:
		return 500
	}
}
