package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	apikeydomain "github.com/tollgate-ai/tollgate/internal/apikey/domain"
	appdomain "github.com/tollgate-ai/tollgate/internal/app/domain"
	"github.com/tollgate-ai/tollgate/internal/escrow"
	facilitatordomain "github.com/tollgate-ai/tollgate/internal/facilitator/domain"
	identitydomain "github.com/tollgate-ai/tollgate/internal/identity/domain"
	ledgerdomain "github.com/tollgate-ai/tollgate/internal/ledger/domain"
	pricingdomain "github.com/tollgate-ai/tollgate/internal/pricing/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrPaymentRequired     = errors.New("payment_required")
	ErrInsufficientBalance = errors.New("insufficient_balance")
	ErrInternal            = errors.New("internal_error")
	ErrInvalidRequest      = errors.New("invalid_request")
	ErrUpstreamUnavailable = errors.New("upstream_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: "invalid value",
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, apikeydomain.ErrInvalidCredential):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrPaymentRequired),
		errors.Is(err, ErrInsufficientBalance):
		return http.StatusPaymentRequired, errorPayload{
			Type:    "payment_required",
			Message: err.Error(),
		}
	case errors.Is(err, identitydomain.ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ledgerdomain.ErrApplicationArchived),
		errors.Is(err, appdomain.ErrArchived):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "application archived",
		}
	case errors.Is(err, ErrUpstreamUnavailable),
		errors.Is(err, escrow.ErrInsufficientFunding),
		errors.Is(err, facilitatordomain.ErrNoBackends),
		isFacilitatorExhausted(err),
		isSettlementError(err):
		return http.StatusBadGateway, errorPayload{
			Type:    "upstream_error",
			Message: "upstream unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func isFacilitatorExhausted(err error) bool {
	var exhausted *facilitatordomain.ExhaustedError
	return errors.As(err, &exhausted)
}

func isSettlementError(err error) bool {
	var settlement *escrow.SettlementError
	return errors.As(err, &settlement)
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, identitydomain.ErrNoIdentifier):
		return true
	case errors.Is(err, apikeydomain.ErrInvalidUser),
		errors.Is(err, apikeydomain.ErrInvalidApplication),
		errors.Is(err, apikeydomain.ErrInvalidName),
		errors.Is(err, apikeydomain.ErrInvalidKeyID):
		return true
	case errors.Is(err, appdomain.ErrInvalidCaller),
		errors.Is(err, appdomain.ErrInvalidName),
		errors.Is(err, appdomain.ErrInvalidMarkupRate):
		return true
	case errors.Is(err, pricingdomain.ErrInvalidModel),
		errors.Is(err, pricingdomain.ErrInvalidPrice):
		return true
	case errors.Is(err, ledgerdomain.ErrInvalidUser),
		errors.Is(err, ledgerdomain.ErrInvalidApplication),
		errors.Is(err, ledgerdomain.ErrInvalidAmount),
		errors.Is(err, ledgerdomain.ErrInvalidGrantType),
		errors.Is(err, ledgerdomain.ErrInvalidGrantSource),
		errors.Is(err, ledgerdomain.ErrMissingPaymentRef),
		errors.Is(err, ledgerdomain.ErrMissingTxRef),
		errors.Is(err, ledgerdomain.ErrInvalidMarkupRate),
		errors.Is(err, ledgerdomain.ErrMissingCostBasis),
		errors.Is(err, ledgerdomain.ErrInvalidTokenCounts),
		errors.Is(err, ledgerdomain.ErrExpiryOnDebit):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, identitydomain.ErrNotFound),
		errors.Is(err, identitydomain.ErrRepoNotFound),
		errors.Is(err, apikeydomain.ErrNotFound),
		errors.Is(err, appdomain.ErrNotFound),
		errors.Is(err, pricingdomain.ErrNotFound),
		errors.Is(err, ledgerdomain.ErrTransactionNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	if errors.Is(err, ErrInvalidRequest) {
		return "invalid_request"
	}
	return err.Error()
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	if strings.HasPrefix(code, "missing_") {
		return strings.TrimPrefix(code, "missing_")
	}
	return ""
}
