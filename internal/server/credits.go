package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/tollgate-ai/tollgate/internal/callerctx"
	ledgerdomain "github.com/tollgate-ai/tollgate/internal/ledger/domain"
)

type createGrantRequest struct {
	ApplicationID string     `json:"application_id"`
	Type          string     `json:"type"`
	Amount        string     `json:"amount"`
	Source        string     `json:"source"`
	Description   *string    `json:"description"`
	ExpiresAt     *time.Time `json:"expires_at"`
	PaymentID     *string    `json:"payment_id"`
	TransactionID *string    `json:"transaction_id"`
	RawCost       *string    `json:"raw_cost"`
	MarkupRate    *string    `json:"markup_rate"`
}

func (s *Server) CreateCreditGrant(c *gin.Context) {
	caller, ok := callerctx.FromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var body createGrantRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(body.Amount))
	if err != nil {
		AbortWithError(c, ledgerdomain.ErrInvalidAmount)
		return
	}

	req := ledgerdomain.CreateGrantRequest{
		UserID:      caller.UserID,
		Type:        ledgerdomain.GrantType(body.Type),
		Amount:      amount,
		Source:      ledgerdomain.GrantSource(body.Source),
		Description: body.Description,
		ExpiresAt:   body.ExpiresAt,
	}

	if strings.TrimSpace(body.ApplicationID) != "" {
		appID, err := snowflake.ParseString(body.ApplicationID)
		if err != nil {
			AbortWithError(c, ledgerdomain.ErrInvalidApplication)
			return
		}
		req.ApplicationID = appID
	}
	if body.PaymentID != nil {
		paymentID, err := snowflake.ParseString(*body.PaymentID)
		if err != nil {
			AbortWithError(c, ledgerdomain.ErrMissingPaymentRef)
			return
		}
		req.PaymentID = &paymentID
	}
	if body.TransactionID != nil {
		transactionID, err := snowflake.ParseString(*body.TransactionID)
		if err != nil {
			AbortWithError(c, ledgerdomain.ErrMissingTxRef)
			return
		}
		req.TransactionID = &transactionID
	}
	if body.RawCost != nil {
		rawCost, err := decimal.NewFromString(strings.TrimSpace(*body.RawCost))
		if err != nil {
			AbortWithError(c, ledgerdomain.ErrMissingCostBasis)
			return
		}
		req.RawCost = &rawCost
	}
	if body.MarkupRate != nil {
		markupRate, err := decimal.NewFromString(strings.TrimSpace(*body.MarkupRate))
		if err != nil {
			AbortWithError(c, ledgerdomain.ErrInvalidMarkupRate)
			return
		}
		req.MarkupRate = &markupRate
	}

	grant, err := s.ledgerSvc.CreateGrant(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, grant)
}

func (s *Server) GetBalance(c *gin.Context) {
	caller, ok := callerctx.FromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	opts := ledgerdomain.BalanceOptions{}
	if raw, exists := c.GetQuery("include_expired"); exists {
		include, err := strconv.ParseBool(raw)
		if err != nil {
			AbortWithError(c, newValidationError("include_expired", "invalid_request", "invalid boolean"))
			return
		}
		opts.IncludeExpired = include
	}

	balance, err := s.ledgerSvc.GetBalance(c.Request.Context(), caller.UserID, opts)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, balance)
}
