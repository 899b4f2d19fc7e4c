// Package domain defines the x402 facilitator wire types and the backend
// descriptor used for ordered failover.
package domain

import (
	"context"
	"encoding/json"
	"errors"
)

// X402Version is the protocol version spoken to every backend.
const X402Version = 1

var ErrNoBackends = errors.New("no_facilitator_backends")

// PaymentPayload is the caller-supplied payment proof. The inner payload is
// scheme-specific and passed through opaquely.
type PaymentPayload struct {
	X402Version int             `json:"x402Version"`
	Scheme      string          `json:"scheme"`
	Network     string          `json:"network"`
	Payload     json.RawMessage `json:"payload"`
}

// PaymentRequirements describes one payment option a resource accepts.
type PaymentRequirements struct {
	Scheme            string          `json:"scheme"`
	Network           string          `json:"network"`
	MaxAmountRequired string          `json:"maxAmountRequired"`
	Resource          string          `json:"resource"`
	Description       string          `json:"description,omitempty"`
	MimeType          string          `json:"mimeType,omitempty"`
	PayTo             string          `json:"payTo"`
	MaxTimeoutSeconds int             `json:"maxTimeoutSeconds,omitempty"`
	Asset             string          `json:"asset"`
	Extra             json.RawMessage `json:"extra,omitempty"`
}

// VerifyResponse is a backend's answer to a verification request.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettleResponse is a backend's answer to a settlement request.
type SettleResponse struct {
	Success     bool   `json:"success"`
	ErrorReason string `json:"errorReason,omitempty"`
	Transaction string `json:"transaction,omitempty"`
	Network     string `json:"network,omitempty"`
	Payer       string `json:"payer,omitempty"`
}

// AuthHeadersFunc builds per-attempt request headers. Tokens are short
// lived, so the function runs once per attempt rather than once per call.
type AuthHeadersFunc func(ctx context.Context, method, requestURL string) (map[string]string, error)

// Facilitator is one configured backend. Adding a backend is a data
// addition, not a control-flow change.
type Facilitator struct {
	Name        string
	BaseURL     string
	AuthHeaders AuthHeadersFunc
}

// Client verifies and settles payment proofs against the configured
// backends in order.
type Client interface {
	Verify(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (*VerifyResponse, error)
	Settle(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (*SettleResponse, error)
}
