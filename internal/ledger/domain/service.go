package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Service interface {
	CreateGrant(ctx context.Context, req CreateGrantRequest) (*CreditGrant, error)
	GetBalance(ctx context.Context, userID snowflake.ID, opts BalanceOptions) (*Balance, error)
	RecordTransaction(ctx context.Context, req RecordTransactionRequest) (*RecordTransactionResult, error)
	ExpireGrants(ctx context.Context, now time.Time) (int64, error)
	AttachEscrowMetadata(ctx context.Context, transactionID snowflake.ID, metadata map[string]any) error
}

type CreateGrantRequest struct {
	UserID        snowflake.ID
	ApplicationID snowflake.ID
	Type          GrantType
	Amount        decimal.Decimal
	Source        GrantSource
	Description   *string
	ExpiresAt     *time.Time
	PaymentID     *snowflake.ID
	TransactionID *snowflake.ID

	// Set on debit grants sourced from a transaction; the markup portion
	// becomes a Revenue row in the same unit of work.
	RawCost        *decimal.Decimal
	MarkupRate     *decimal.Decimal
	MarkupConfigID *snowflake.ID
}

type BalanceOptions struct {
	IncludeExpired bool
}

// Balance is the derived view over a user's grants; it is computed from
// aggregates on demand, never stored. Grants carry an application_id for
// attribution only; the balance always spans the user's full grant set.
type Balance struct {
	Balance        decimal.Decimal `json:"balance"`
	TotalCredits   decimal.Decimal `json:"total_credits"`
	TotalDebits    decimal.Decimal `json:"total_debits"`
	ActiveCredits  decimal.Decimal `json:"active_credits"`
	ExpiredCredits decimal.Decimal `json:"expired_credits"`
}

type RecordTransactionRequest struct {
	UserID        snowflake.ID
	ApplicationID snowflake.ID
	CredentialID  *snowflake.ID
	Model         string
	Provider      string
	InputTokens   int64
	OutputTokens  int64
	TotalTokens   int64

	// Status defaults to completed. Failed transactions are recorded for
	// audit but bill nothing: no debit grant, no revenue.
	Status       TransactionStatus
	ErrorMessage *string
}

type RecordTransactionResult struct {
	Transaction *Transaction
	Grant       *CreditGrant
	Revenue     *Revenue
	TotalCost   decimal.Decimal
}

var (
	ErrInvalidUser          = errors.New("invalid_user")
	ErrInvalidApplication   = errors.New("invalid_application")
	ErrInvalidAmount        = errors.New("invalid_amount")
	ErrInvalidGrantType     = errors.New("invalid_grant_type")
	ErrInvalidGrantSource   = errors.New("invalid_grant_source")
	ErrMissingPaymentRef    = errors.New("missing_payment_reference")
	ErrMissingTxRef         = errors.New("missing_transaction_reference")
	ErrInvalidMarkupRate    = errors.New("invalid_markup_rate")
	ErrMissingCostBasis     = errors.New("missing_cost_basis")
	ErrInvalidTokenCounts   = errors.New("invalid_token_counts")
	ErrApplicationArchived  = errors.New("application_archived")
	ErrTransactionNotFound  = errors.New("transaction_not_found")
	ErrExpiryOnDebit        = errors.New("debit_grants_cannot_expire")
)
