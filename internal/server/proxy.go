package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/tollgate-ai/tollgate/internal/callerctx"
	"github.com/tollgate-ai/tollgate/internal/escrow"
	facilitatordomain "github.com/tollgate-ai/tollgate/internal/facilitator/domain"
	identitydomain "github.com/tollgate-ai/tollgate/internal/identity/domain"
	ledgerdomain "github.com/tollgate-ai/tollgate/internal/ledger/domain"
	"go.uber.org/zap"
)

const (
	maxProxyBodyBytes = 1 << 20

	// quoteTokenBudget caps the token volume one stablecoin payment
	// covers. Pay-per-call quotes are priced against this budget.
	quoteTokenBudget = 8192

	quoteTimeoutSeconds = 300
)

// ProxyRateLimit throttles proxied calls per caller, falling back to the
// client address for payment-funded calls.
func (s *Server) ProxyRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.proxyLimiter == nil || !s.proxyLimiter.Enabled() {
			c.Next()
			return
		}

		key := c.ClientIP()
		if caller, ok := callerctx.FromContext(c.Request.Context()); ok {
			key = caller.UserID.String()
		}

		result, err := s.proxyLimiter.AllowUser(c.Request.Context(), key)
		if err != nil {
			// Limiter outages never take the proxy down with them.
			s.log.Warn("rate limiter unavailable", zap.Error(err))
			c.Next()
			return
		}
		if !result.Allowed {
			if s.obsMetrics != nil {
				s.obsMetrics.RecordRateLimitDenied(c.Request.Context(), "proxy", "user_rate")
			}
			c.Header("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())+1))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorResponse{Error: errorPayload{
				Type:    "rate_limited",
				Message: "rate limit exceeded",
			}})
			return
		}

		if s.obsMetrics != nil {
			s.obsMetrics.RecordRateLimitAllowed(c.Request.Context(), "proxy")
		}
		c.Next()
	}
}

// Proxy forwards a metered model call. The owning application comes from
// the request path when an identifier is present, otherwise from the
// caller's credential.
func (s *Server) Proxy(c *gin.Context) {
	ctx := c.Request.Context()
	caller, authed := callerctx.FromContext(ctx)

	appID := caller.ApplicationID
	upstreamPath := c.Request.URL.Path

	ext := s.identitySvc.ExtractIdentifier(c.Request.URL.Path)
	if ext.Type != identitydomain.IdentifierNone {
		resolution, err := s.identitySvc.Resolve(ctx, ext)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if authed {
			if err := s.identitySvc.Authorize(caller, resolution.ApplicationID); err != nil {
				AbortWithError(c, err)
				return
			}
		}
		appID = resolution.ApplicationID
		upstreamPath = ext.RemainingPath
	}

	if appID == 0 {
		if !authed {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		AbortWithError(c, identitydomain.ErrNoIdentifier)
		return
	}

	body, err := readProxyBody(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	model := parseModel(body)
	if model == "" {
		AbortWithError(c, newValidationError("model", "invalid_model", "model is required"))
		return
	}

	// An unpriced model is refused before any upstream spend.
	price, err := s.pricingSvc.Lookup(ctx, appID, model)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	call := proxyCall{
		appID:    appID,
		model:    model,
		provider: price.Provider,
		method:   c.Request.Method,
		path:     upstreamPath,
		body:     body,
		header:   c.Request.Header,
	}

	if authed {
		s.proxyLedgerFunded(c, caller, call)
		return
	}
	if payload, ok := paymentFromContext(c); ok {
		s.proxyPayPerCall(c, payload, call)
		return
	}
	s.respondPaymentOffer(c, call, "payment required")
}

type proxyCall struct {
	appID    snowflake.ID
	model    string
	provider string
	method   string
	path     string
	body     []byte
	header   http.Header
}

func (s *Server) proxyLedgerFunded(c *gin.Context, caller callerctx.Caller, call proxyCall) {
	ctx := c.Request.Context()

	balance, err := s.ledgerSvc.GetBalance(ctx, caller.UserID, ledgerdomain.BalanceOptions{})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if balance.Balance.Sign() <= 0 {
		AbortWithError(c, ErrInsufficientBalance)
		return
	}

	resp, escrowed, err := s.forwardUpstream(ctx, call)
	if err != nil {
		var se *escrow.SettlementError
		if errors.As(err, &se) {
			s.recordEscrowFailure(ctx, caller.UserID, call, se)
		}
		AbortWithError(c, err)
		return
	}

	if isSuccess(resp.StatusCode) {
		usage := parseUsage(resp.Body)
		if usage == nil {
			s.log.Warn("upstream response carried no usage block",
				zap.String("model", call.model),
				zap.String("application_id", call.appID.String()),
			)
		} else {
			result, err := s.ledgerSvc.RecordTransaction(ctx, ledgerdomain.RecordTransactionRequest{
				UserID:        caller.UserID,
				ApplicationID: call.appID,
				CredentialID:  nonZeroID(caller.CredentialID),
				Model:         call.model,
				Provider:      call.provider,
				InputTokens:   usage.PromptTokens,
				OutputTokens:  usage.CompletionTokens,
				TotalTokens:   usage.TotalTokens,
			})
			if err != nil {
				AbortWithError(c, err)
				return
			}
			if escrowed != nil {
				s.attachEscrowMetadata(ctx, result.Transaction.ID, escrowed.Metadata)
			}
		}
	} else if escrowed != nil {
		// The payment went out even though the provider rejected the call;
		// a failed transaction keeps the spend auditable.
		message := fmt.Sprintf("upstream rejected escrow-funded call: status %d", resp.StatusCode)
		result, err := s.ledgerSvc.RecordTransaction(ctx, ledgerdomain.RecordTransactionRequest{
			UserID:        caller.UserID,
			ApplicationID: call.appID,
			CredentialID:  nonZeroID(caller.CredentialID),
			Model:         call.model,
			Provider:      call.provider,
			Status:        ledgerdomain.TransactionStatusFailed,
			ErrorMessage:  &message,
		})
		if err != nil {
			s.log.Error("escrow rejection recording failed", zap.Error(err))
		} else {
			s.attachEscrowMetadata(ctx, result.Transaction.ID, escrowed.Metadata)
		}
	}

	writeUpstreamResponse(c, resp)
}

func (s *Server) proxyPayPerCall(c *gin.Context, payload facilitatordomain.PaymentPayload, call proxyCall) {
	ctx := c.Request.Context()

	requirement, err := s.quoteRequirement(c, call)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	verification, err := s.facilitatorCli.Verify(ctx, payload, requirement)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !verification.IsValid {
		reason := verification.InvalidReason
		if reason == "" {
			reason = "payment rejected"
		}
		s.respondPaymentOffer(c, call, reason)
		return
	}

	resp, _, err := s.forwardUpstream(ctx, call)
	if err != nil {
		var se *escrow.SettlementError
		if errors.As(err, &se) {
			if ownerID := s.applicationOwner(ctx, call.appID); ownerID != 0 {
				s.recordEscrowFailure(ctx, ownerID, call, se)
			}
		}
		AbortWithError(c, err)
		return
	}

	if isSuccess(resp.StatusCode) {
		settlement, err := s.facilitatorCli.Settle(ctx, payload, requirement)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if !settlement.Success {
			s.log.Warn("payment settlement rejected",
				zap.String("reason", settlement.ErrorReason),
				zap.String("payer", settlement.Payer),
			)
			s.respondPaymentOffer(c, call, "settlement failed")
			return
		}

		s.recordSettledTransaction(ctx, call, resp, settlement, requirement)
	}

	writeUpstreamResponse(c, resp)
}

// recordSettledTransaction books a stablecoin-funded call against the
// application owner: a payment credit and the usage debit carry the same
// cost, so the owner's balance is untouched while usage and revenue rows
// stay complete. Auto-provisioned applications have no owner yet; their
// settled calls are logged but not booked.
func (s *Server) recordSettledTransaction(
	ctx context.Context,
	call proxyCall,
	resp *UpstreamResponse,
	settlement *facilitatordomain.SettleResponse,
	requirement facilitatordomain.PaymentRequirements,
) {
	usage := parseUsage(resp.Body)
	if usage == nil {
		s.log.Warn("settled call carried no usage block", zap.String("model", call.model))
		return
	}

	app, err := s.appSvc.Get(ctx, call.appID)
	if err != nil {
		s.log.Error("settled call application lookup failed",
			zap.String("application_id", call.appID.String()),
			zap.Error(err),
		)
		return
	}
	if app.OwnerID == 0 {
		s.log.Warn("settled call on unowned application; ledger entry skipped",
			zap.String("application_id", call.appID.String()),
		)
		return
	}

	result, err := s.ledgerSvc.RecordTransaction(ctx, ledgerdomain.RecordTransactionRequest{
		UserID:        app.OwnerID,
		ApplicationID: call.appID,
		Model:         call.model,
		Provider:      call.provider,
		InputTokens:   usage.PromptTokens,
		OutputTokens:  usage.CompletionTokens,
		TotalTokens:   usage.TotalTokens,
	})
	if err != nil {
		s.log.Error("settled transaction recording failed", zap.Error(err))
		return
	}

	paymentID := s.genID.Generate()
	description := "stablecoin settlement"
	if _, err := s.ledgerSvc.CreateGrant(ctx, ledgerdomain.CreateGrantRequest{
		UserID:        app.OwnerID,
		ApplicationID: call.appID,
		Type:          ledgerdomain.GrantTypeCredit,
		Amount:        result.TotalCost,
		Source:        ledgerdomain.SourcePayment,
		Description:   &description,
		PaymentID:     &paymentID,
	}); err != nil {
		s.log.Error("settlement credit grant failed",
			zap.String("transaction_id", result.Transaction.ID.String()),
			zap.Error(err),
		)
	}

	metadata := map[string]any{
		"state":              "payment_settled",
		"network":            requirement.Network,
		"asset":              requirement.Asset,
		"amount":             requirement.MaxAmountRequired,
		"payer":              settlement.Payer,
		"settle_transaction": settlement.Transaction,
	}
	s.attachEscrowMetadata(ctx, result.Transaction.ID, metadata)
}

func (s *Server) applicationOwner(ctx context.Context, appID snowflake.ID) snowflake.ID {
	app, err := s.appSvc.Get(ctx, appID)
	if err != nil {
		s.log.Error("application owner lookup failed",
			zap.String("application_id", appID.String()),
			zap.Error(err),
		)
		return 0
	}
	return app.OwnerID
}

// forwardUpstream issues the provider call. When the provider itself is
// x402-priced it answers 402 and the escrow orchestrator repeats the call
// with a signed payment from the funding account. A non-nil escrow result
// carries the settlement audit metadata for the billing transaction.
func (s *Server) forwardUpstream(ctx context.Context, call proxyCall) (*UpstreamResponse, *escrow.Result, error) {
	resp, err := s.upstream.Do(ctx, UpstreamRequest{
		Method: call.method,
		Path:   call.path,
		Header: call.header,
		Body:   call.body,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	if resp.StatusCode != http.StatusPaymentRequired {
		return resp, nil, nil
	}

	header := make(http.Header)
	copyForwardHeaders(header, call.header)
	result, err := s.escrowOrch.Execute(ctx, escrow.Request{
		Method: call.method,
		URL:    s.upstream.BaseURL() + call.path,
		Header: header,
		Body:   call.body,
	})
	if err != nil {
		return nil, nil, err
	}

	return &UpstreamResponse{
		StatusCode: result.StatusCode,
		Header:     result.Header,
		Body:       result.Body,
	}, result, nil
}

// recordEscrowFailure books a failed transaction so an escrow attempt that
// produced no billable response still leaves its audit trail.
func (s *Server) recordEscrowFailure(ctx context.Context, userID snowflake.ID, call proxyCall, se *escrow.SettlementError) {
	message := se.Error()
	result, err := s.ledgerSvc.RecordTransaction(ctx, ledgerdomain.RecordTransactionRequest{
		UserID:        userID,
		ApplicationID: call.appID,
		Model:         call.model,
		Provider:      call.provider,
		Status:        ledgerdomain.TransactionStatusFailed,
		ErrorMessage:  &message,
	})
	if err != nil {
		s.log.Error("escrow failure recording failed",
			zap.String("application_id", call.appID.String()),
			zap.Error(err),
		)
		return
	}
	s.attachEscrowMetadata(ctx, result.Transaction.ID, se.Metadata())
}

func (s *Server) attachEscrowMetadata(ctx context.Context, transactionID snowflake.ID, metadata map[string]any) {
	if err := s.ledgerSvc.AttachEscrowMetadata(ctx, transactionID, metadata); err != nil {
		s.log.Warn("escrow metadata persistence failed",
			zap.String("transaction_id", transactionID.String()),
			zap.Error(err),
		)
	}
}

func (s *Server) quoteRequirement(c *gin.Context, call proxyCall) (facilitatordomain.PaymentRequirements, error) {
	ctx := c.Request.Context()

	price, err := s.pricingSvc.Lookup(ctx, call.appID, call.model)
	if err != nil {
		return facilitatordomain.PaymentRequirements{}, err
	}
	markup, err := s.appSvc.CurrentMarkup(ctx, call.appID)
	if err != nil {
		return facilitatordomain.PaymentRequirements{}, err
	}

	amount := price.InputPricePerToken.
		Add(price.OutputPricePerToken).
		Mul(decimal.NewFromInt(quoteTokenBudget)).
		Mul(markup.Rate)

	return facilitatordomain.PaymentRequirements{
		Scheme:            "exact",
		Network:           s.cfg.Escrow.Network,
		MaxAmountRequired: amount.String(),
		Resource:          requestURL(c),
		Description:       "metered model usage",
		MimeType:          "application/json",
		PayTo:             s.signer.Address(),
		MaxTimeoutSeconds: quoteTimeoutSeconds,
		Asset:             s.cfg.Escrow.Asset,
	}, nil
}

func (s *Server) respondPaymentOffer(c *gin.Context, call proxyCall, message string) {
	requirement, err := s.quoteRequirement(c, call)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusPaymentRequired, escrow.PaymentRequiredResponse{
		X402Version: facilitatordomain.X402Version,
		Error:       message,
		Accepts:     []facilitatordomain.PaymentRequirements{requirement},
	})
}

func readProxyBody(c *gin.Context) ([]byte, error) {
	if c.Request.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxProxyBodyBytes+1))
	if err != nil {
		return nil, ErrInvalidRequest
	}
	if len(body) > maxProxyBodyBytes {
		return nil, newValidationError("body", "request_too_large", "request body too large")
	}
	return body, nil
}

func parseModel(body []byte) string {
	var payload struct {
		Model string `json:"model"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return payload.Model
}

type usageBlock struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

func parseUsage(body []byte) *usageBlock {
	var payload struct {
		Usage usageBlock `json:"usage"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil
	}
	usage := payload.Usage
	if usage.TotalTokens == 0 && usage.PromptTokens == 0 && usage.CompletionTokens == 0 {
		return nil
	}
	return &usage
}

func writeUpstreamResponse(c *gin.Context, resp *UpstreamResponse) {
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	c.Data(resp.StatusCode, contentType, resp.Body)
}

func requestURL(c *gin.Context) string {
	scheme := "https"
	if c.Request.TLS == nil {
		scheme = "http"
	}
	return scheme + "://" + c.Request.Host + c.Request.URL.Path
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

func nonZeroID(id snowflake.ID) *snowflake.ID {
	if id == 0 {
		return nil
	}
	return &id
}
