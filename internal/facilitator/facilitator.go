// Package facilitator talks to an x402 settlement facilitator.
package facilitator

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/brolab-dev/x402-mcp/internal/authorization"
)

// SchemeExact is the only payment scheme this client produces.
const SchemeExact = "exact"

// Outcome statuses derived from a settle response.
const (
	StatusConfirmed = "confirmed"
	StatusFailed    = "failed"
	StatusUnknown   = "unknown"
)

// PaymentHeader is the JSON document carried base64-encoded in the
// X-PAYMENT header.
type PaymentHeader struct {
	X402Version int                   `json:"x402Version"`
	Scheme      string                `json:"scheme"`
	Network     string                `json:"network"`
	Payload     authorization.Payload `json:"payload"`
}

// Requirements describe what the paid resource expects.
type Requirements struct {
	Scheme            string `json:"scheme"`
	Network           string `json:"network"`
	MaxAmountRequired string `json:"maxAmountRequired"`
	Resource          string `json:"resource"`
	Description       string `json:"description"`
	MimeType          string `json:"mimeType"`
	PayTo             string `json:"payTo"`
	MaxTimeoutSeconds int    `json:"maxTimeoutSeconds"`
	Asset             string `json:"asset"`
}

// EncodeHeader serialises a signed payload into the base64 payment header.
func EncodeHeader(version int, network string, payload authorization.Payload) (string, error) {
	raw, err := json.Marshal(PaymentHeader{
		X402Version: version,
		Scheme:      SchemeExact,
		Network:     network,
		Payload:     payload,
	})
	if err != nil {
		return "", fmt.Errorf("marshal payment header: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeHeader reverses EncodeHeader.
func DecodeHeader(header string) (PaymentHeader, error) {
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return PaymentHeader{}, fmt.Errorf("decode payment header: %w", err)
	}
	var h PaymentHeader
	if err := json.Unmarshal(raw, &h); err != nil {
		return PaymentHeader{}, fmt.Errorf("unmarshal payment header: %w", err)
	}
	return h, nil
}

// SettleResponse is the facilitator's answer to /settle.
type SettleResponse struct {
	X402Version int             `json:"x402Version,omitempty"`
	Status      string          `json:"status,omitempty"`
	Event       string          `json:"event,omitempty"`
	TxHash      string          `json:"txHash,omitempty"`
	Network     string          `json:"network,omitempty"`
	Error       string          `json:"error,omitempty"`
	Raw         json.RawMessage `json:"-"`
}

// Outcome maps the response onto a settlement status. An explicit status
// wins; otherwise the event and tx hash decide, and anything else is
// unknown.
func (r SettleResponse) Outcome() string {
	if s := strings.TrimSpace(r.Status); s != "" {
		return strings.ToLower(s)
	}
	switch r.Event {
	case "payment.settled":
		return StatusConfirmed
	case "payment.failed":
		return StatusFailed
	}
	if r.TxHash != "" {
		return StatusConfirmed
	}
	return StatusUnknown
}

// VerifyResponse is the facilitator's answer to /verify.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
}

// SupportedKind is one scheme/network pair the facilitator accepts.
type SupportedKind struct {
	X402Version int    `json:"x402Version"`
	Scheme      string `json:"scheme"`
	Network     string `json:"network"`
}

// SupportedResponse lists supported payment kinds.
type SupportedResponse struct {
	Kinds []SupportedKind `json:"kinds"`
}

// Supports reports whether network is listed for the exact scheme.
func (r SupportedResponse) Supports(network string) bool {
	for _, k := range r.Kinds {
		if k.Network == network && (k.Scheme == "" || k.Scheme == SchemeExact) {
			return true
		}
	}
	return false
}
