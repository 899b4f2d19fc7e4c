package escrow

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tollgate-ai/tollgate/internal/config"
	facilitatordomain "github.com/tollgate-ai/tollgate/internal/facilitator/domain"
	"github.com/tollgate-ai/tollgate/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const defaultRequestTimeout = 30 * time.Second

// FundingBalanceChecker reports the funding account's spendable balance
// for an asset. Optional: when absent the orchestrator submits without a
// pre-flight check.
type FundingBalanceChecker interface {
	Balance(ctx context.Context, network, asset string) (decimal.Decimal, error)
}

type Params struct {
	fx.In

	Log     *zap.Logger
	Config  config.Config
	Signer  *Signer
	Funding FundingBalanceChecker `optional:"true"`
	Metrics *metrics.Metrics      `optional:"true"`
}

// Orchestrator runs the per-call settlement state machine: price
// discovery, payment signing, resubmission. It does not touch the
// ledger; the caller owns the billing transaction and persists the
// settlement metadata carried on Result and SettlementError.
type Orchestrator struct {
	log       *zap.Logger
	http      *http.Client
	signer    *Signer
	funding   FundingBalanceChecker
	metrics   *metrics.Metrics
	minBuffer decimal.Decimal
}

func New(p Params) (*Orchestrator, error) {
	timeout := p.Config.Escrow.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	buffer := decimal.Zero
	if raw := p.Config.Escrow.MinBalanceBuffer; raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, err
		}
		buffer = parsed
	}

	return &Orchestrator{
		log:       p.Log.Named("escrow.orchestrator"),
		http:      &http.Client{Timeout: timeout},
		signer:    p.Signer,
		funding:   p.Funding,
		metrics:   p.Metrics,
		minBuffer: buffer,
	}, nil
}

// Execute settles one upstream call with a signed stablecoin payment.
// Every outcome carries audit metadata: a result holds it in Metadata,
// a failed attempt returns it on the SettlementError.
func (o *Orchestrator) Execute(ctx context.Context, req Request) (*Result, error) {
	requirement, err := o.discoverPrice(ctx, req)
	if err != nil {
		o.recordSettlement(ctx, "price_discovery_failed")
		return nil, &SettlementError{State: "price_discovery_failed", Err: err}
	}

	if err := o.checkFunding(ctx, *requirement); err != nil {
		o.recordSettlement(ctx, "funding_check_failed")
		return nil, &SettlementError{State: "funding_check_failed", Err: err}
	}

	payload, err := o.signer.SignPayment(*requirement, time.Now().UTC())
	if err != nil {
		o.recordSettlement(ctx, "signing_failed")
		return nil, &SettlementError{State: "signing_failed", Err: err}
	}
	header, err := EncodePaymentHeader(payload)
	if err != nil {
		return nil, &SettlementError{State: "signing_failed", Err: err}
	}

	result, err := o.submit(ctx, req, header)
	if err != nil {
		o.recordSettlement(ctx, "submit_failed")
		return nil, &SettlementError{State: "payment_submit_failed", Err: err}
	}

	result.Metadata = settlementMetadata(*requirement, result)
	if result.Settled {
		o.recordSettlement(ctx, "settled")
	} else {
		o.recordSettlement(ctx, "upstream_rejected")
	}
	return result, nil
}

// discoverPrice issues the call unpaid and parses the expected 402 offer.
func (o *Orchestrator) discoverPrice(ctx context.Context, req Request) (*facilitatordomain.PaymentRequirements, error) {
	resp, err := o.issue(ctx, req, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPaymentRequired {
		io.Copy(io.Discard, resp.Body)
		return nil, ErrNotPriced
	}

	var offer PaymentRequiredResponse
	if err := json.NewDecoder(resp.Body).Decode(&offer); err != nil {
		return nil, ErrNotPriced
	}
	return selectRequirement(offer.Accepts)
}

// selectRequirement picks the first exact-scheme requirement; offers may
// list several options.
func selectRequirement(accepts []facilitatordomain.PaymentRequirements) (*facilitatordomain.PaymentRequirements, error) {
	for i := range accepts {
		if accepts[i].Scheme == "exact" && accepts[i].PayTo != "" && accepts[i].MaxAmountRequired != "" {
			return &accepts[i], nil
		}
	}
	return nil, ErrNoUsableRequirement
}

func (o *Orchestrator) checkFunding(ctx context.Context, req facilitatordomain.PaymentRequirements) error {
	if o.funding == nil {
		return nil
	}
	balance, err := o.funding.Balance(ctx, req.Network, req.Asset)
	if err != nil {
		// Guard only: an unreadable balance is logged, not fatal.
		o.log.Warn("funding balance check failed", zap.Error(err))
		return nil
	}
	required, err := decimal.NewFromString(req.MaxAmountRequired)
	if err != nil {
		return nil
	}
	if balance.LessThan(required.Add(o.minBuffer)) {
		o.log.Error("funding account below safety buffer",
			zap.String("balance", balance.String()),
			zap.String("required", required.String()),
			zap.String("buffer", o.minBuffer.String()),
		)
		return ErrInsufficientFunding
	}
	return nil
}

// submit reissues the call with the payment header and drains the final
// response into a caller-owned result.
func (o *Orchestrator) submit(ctx context.Context, req Request, paymentHeader string) (*Result, error) {
	resp, err := o.issue(ctx, req, paymentHeader)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return &Result{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
		Settled:    resp.StatusCode >= 200 && resp.StatusCode < 300,
	}, nil
}

func (o *Orchestrator) issue(ctx context.Context, req Request, paymentHeader string) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, err
	}
	for k, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(k, v)
		}
	}
	if paymentHeader != "" {
		httpReq.Header.Set(PaymentHeader, paymentHeader)
	}
	return o.http.Do(httpReq)
}

func settlementMetadata(req facilitatordomain.PaymentRequirements, result *Result) map[string]any {
	meta := map[string]any{
		"state":       "payment_submitted",
		"funded_by":   "escrow",
		"status_code": result.StatusCode,
		"network":     req.Network,
		"asset":       req.Asset,
		"pay_to":      req.PayTo,
		"amount":      req.MaxAmountRequired,
	}
	if json.Valid(result.Body) {
		meta["response"] = json.RawMessage(result.Body)
	} else {
		meta["response"] = string(result.Body)
	}
	return meta
}

func (o *Orchestrator) recordSettlement(ctx context.Context, status string) {
	o.metrics.RecordEscrowSettlement(ctx, status)
}
