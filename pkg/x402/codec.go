package x402

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
)

// Header names. PAYMENT-REQUIRED carries the server's requirements;
// clients answer on Payment-Signature or X-Payment (both accepted, either
// wins when both are present).
const (
	HeaderPaymentRequired  = "PAYMENT-REQUIRED"
	HeaderPaymentSignature = "Payment-Signature"
	HeaderXPayment         = "X-Payment"
)

// EncodeRequirements renders a PaymentRequired body as the base64 header
// value.
func EncodeRequirements(pr PaymentRequired) (string, error) {
	data, err := json.Marshal(pr)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeRequirements parses a PAYMENT-REQUIRED header value.
func DecodeRequirements(header string) (PaymentRequired, error) {
	var pr PaymentRequired
	data, err := decodeBase64(header)
	if err != nil {
		return pr, err
	}
	err = json.Unmarshal(data, &pr)
	return pr, err
}

// EncodePayload renders a client payment payload as a header value.
func EncodePayload(p PaymentPayload) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// ParsePaymentHeader extracts and decodes the payment payload from a
// request. Returns (nil, false) when no header is present or the value is
// malformed; a malformed header is treated exactly like a missing one so
// the caller falls through to the 402 advertiser.
func ParsePaymentHeader(r *http.Request) (*PaymentPayload, bool) {
	raw := r.Header.Get(HeaderPaymentSignature)
	if raw == "" {
		raw = r.Header.Get(HeaderXPayment)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, false
	}

	data, err := decodeBase64(raw)
	if err != nil {
		return nil, false
	}

	var payload PaymentPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, false
	}
	return &payload, true
}

// decodeBase64 accepts standard and raw (unpadded) encodings.
func decodeBase64(s string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err == nil {
		return data, nil
	}
	return base64.RawStdEncoding.DecodeString(s)
}
