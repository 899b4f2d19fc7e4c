// Package escrow drives pay-per-call stablecoin settlement: price
// discovery against an x402-priced upstream, payment signing from the
// gateway funding account, resubmission, and audit-metadata persistence.
package escrow

import (
	"errors"
	"net/http"

	facilitatordomain "github.com/tollgate-ai/tollgate/internal/facilitator/domain"
)

// PaymentHeader carries the signed payment proof on the resubmitted call.
const PaymentHeader = "X-PAYMENT"

var (
	ErrNotPriced           = errors.New("upstream_not_x402_priced")
	ErrNoUsableRequirement = errors.New("no_usable_payment_requirement")
	ErrInsufficientFunding = errors.New("insufficient_funding_balance")
)

// PaymentRequiredResponse is the expected body of an upstream 402.
type PaymentRequiredResponse struct {
	X402Version int                                     `json:"x402Version"`
	Error       string                                  `json:"error,omitempty"`
	Accepts     []facilitatordomain.PaymentRequirements `json:"accepts"`
}

// Request is one upstream call to settle. Body is held as bytes so the
// request can be issued twice: once unpaid for price discovery and once
// with the signed payment attached.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Result is the final upstream response returned to the caller. The body
// is fully read, so the caller owns it outright. Metadata is the audit
// record of the settlement, ready to attach to the billing transaction.
type Result struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Settled    bool
	Metadata   map[string]any
}

// SettlementError is a settlement attempt that never produced an
// upstream response. The caller persists its metadata so every attempt
// leaves an audit trail, settled or not.
type SettlementError struct {
	State string
	Err   error
}

func (e *SettlementError) Error() string {
	return "escrow settlement failed: " + e.State + ": " + e.Err.Error()
}

func (e *SettlementError) Unwrap() error { return e.Err }

// Metadata is the audit form of the failure.
func (e *SettlementError) Metadata() map[string]any {
	return map[string]any{
		"state": e.State,
		"error": e.Err.Error(),
	}
}
