// Package x402 implements the wire types and header codec for version 2 of
// the x402 payment protocol. Reference: https://github.com/coinbase/x402
package x402

import "encoding/json"

// Version is the protocol version spoken by this gateway.
const Version = 2

// SchemeExact is the only settlement scheme supported: the payer transfers
// exactly the advertised amount (or more) of the advertised asset.
const SchemeExact = "exact"

// PaymentRequirements is one accept entry in a 402 response: a single way
// to pay for a resource on a single network.
//
// The human-readable price is intentionally absent. Clients echo the full
// entry back inside their payment payload and the server compares with
// strict equality, so every advertised field must round-trip unchanged.
type PaymentRequirements struct {
	Scheme            string            `json:"scheme"`
	Network           string            `json:"network"` // CAIP-2
	Amount            string            `json:"amount"`  // base units, decimal string
	Asset             string            `json:"asset"`   // stablecoin contract address
	PayTo             string            `json:"payTo"`
	MaxTimeoutSeconds int               `json:"maxTimeoutSeconds,omitempty"`
	Extra             map[string]string `json:"extra,omitempty"`
}

// Resource describes the priced endpoint being gated.
type Resource struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// PaymentRequired is the decoded PAYMENT-REQUIRED header body.
type PaymentRequired struct {
	X402Version int                   `json:"x402Version"`
	Error       string                `json:"error"`
	Resource    Resource              `json:"resource"`
	Accepts     []PaymentRequirements `json:"accepts"`
}

// PaymentPayload is the decoded client payment header. Accepted is the
// accept entry the client selected; Payload is the rail-specific proof,
// left opaque here and interpreted by the rail's verifier.
type PaymentPayload struct {
	X402Version int                 `json:"x402Version"`
	Accepted    PaymentRequirements `json:"accepted"`
	Payload     json.RawMessage     `json:"payload"`
}

// HasPayload reports whether the client attached a rail payload. An
// absent key and an explicit null both count as missing.
func (p *PaymentPayload) HasPayload() bool {
	return len(p.Payload) != 0 && string(p.Payload) != "null"
}

// FastPayload is the proof carried for the fast rail: just a tx hash.
type FastPayload struct {
	TxHash string `json:"txHash"`
}

// VerifyRequest is the facilitator verify/settle request body.
type VerifyRequest struct {
	X402Version         int                 `json:"x402Version,omitempty"`
	PaymentPayload      PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

// VerifyResponse is the facilitator verify response.
type VerifyResponse struct {
	IsValid        bool   `json:"isValid"`
	InvalidReason  string `json:"invalidReason,omitempty"`
	InvalidMessage string `json:"invalidMessage,omitempty"`
	Payer          string `json:"payer,omitempty"`
}

// SettleResponse is the facilitator settle response.
type SettleResponse struct {
	Success     bool   `json:"success"`
	Transaction string `json:"transaction,omitempty"`
	Network     string `json:"network,omitempty"`
	ErrorReason string `json:"errorReason,omitempty"`
}

// SupportedKind is one entry of the facilitator supported manifest.
type SupportedKind struct {
	X402Version int               `json:"x402Version"`
	Scheme      string            `json:"scheme"`
	Network     string            `json:"network"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// SupportedResponse is the facilitator GET /supported body.
type SupportedResponse struct {
	Kinds []SupportedKind `json:"kinds"`
}
