package x402

// Verification failure reasons. These are wire-visible strings carried in
// 402 rejection bodies and facilitator invalidReason fields.
const (
	ReasonMissingProof        = "missing_proof"
	ReasonMalformedProof      = "malformed_proof"
	ReasonNotFound            = "not_found"
	ReasonReverted            = "reverted"
	ReasonWrongToken          = "wrong_token"
	ReasonWrongRecipient      = "wrong_recipient"
	ReasonInsufficientAmount  = "insufficient_amount"
	ReasonReplayed            = "replayed"
	ReasonFacilitatorRejected = "facilitator_rejected"
	ReasonUpstreamUnavailable = "upstream_unavailable"
)

// VerificationResult is the discriminated outcome of proof verification.
// Valid results carry the payer address recovered from the proof; invalid
// ones carry a reason from the taxonomy above.
type VerificationResult struct {
	Valid  bool
	Payer  string
	Reason string
}

// Accept returns a valid result for the given payer.
func Accept(payer string) VerificationResult {
	return VerificationResult{Valid: true, Payer: payer}
}

// Reject returns an invalid result with the given reason.
func Reject(reason string) VerificationResult {
	return VerificationResult{Valid: false, Reason: reason}
}
