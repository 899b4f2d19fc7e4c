// Package domain contains the append-only credit ledger models. Grants are
// immutable once created except for active/archived flag flips; amounts are
// never edited in place.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// GrantType distinguishes additions from deductions.
type GrantType string

const (
	GrantTypeCredit GrantType = "credit"
	GrantTypeDebit  GrantType = "debit"
)

// GrantSource records what produced a ledger entry.
type GrantSource string

const (
	SourcePayment     GrantSource = "payment"
	SourcePromotion   GrantSource = "promotion"
	SourceRefund      GrantSource = "refund"
	SourceAdjustment  GrantSource = "adjustment"
	SourceTransaction GrantSource = "transaction"
	SourceAdminGrant  GrantSource = "admin_grant"
)

// TransactionStatus is the terminal state of one proxied LLM call.
type TransactionStatus string

const (
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
)

// CreditGrant is the atomic ledger entry. Credits add to a user's balance,
// debits subtract from it. Amounts are positive decimals with enough
// precision that sub-cent per-token costs never round to zero.
type CreditGrant struct {
	ID             snowflake.ID    `gorm:"primaryKey"`
	UserID         snowflake.ID    `gorm:"column:user_id;not null;index"`
	ApplicationID  snowflake.ID    `gorm:"column:application_id;index"`
	Type           GrantType       `gorm:"type:text;not null"`
	Amount         decimal.Decimal `gorm:"type:numeric(38,18);not null"`
	Source         GrantSource     `gorm:"type:text;not null"`
	Description    *string         `gorm:"type:text"`
	ExpiresAt      *time.Time      `gorm:"column:expires_at;index"`
	Active         bool            `gorm:"not null;default:true"`
	Archived       bool            `gorm:"not null;default:false"`
	PaymentID      *snowflake.ID   `gorm:"column:payment_id"`
	TransactionID  *snowflake.ID   `gorm:"column:transaction_id;index"`
	MarkupConfigID *snowflake.ID   `gorm:"column:markup_config_id"`
	CreatedAt      time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (CreditGrant) TableName() string { return "credit_grants" }

// Transaction is one LLM call's raw usage record. It stores the raw
// pre-markup cost; the marked-up amount lives on the paired debit grant.
// Immutable after creation, except for the escrow metadata blob which is
// appended best-effort after settlement.
type Transaction struct {
	ID             snowflake.ID      `gorm:"primaryKey"`
	RequestID      string            `gorm:"column:request_id;type:text;not null"`
	UserID         snowflake.ID      `gorm:"column:user_id;not null;index"`
	ApplicationID  snowflake.ID      `gorm:"column:application_id;not null;index"`
	CredentialID   *snowflake.ID     `gorm:"column:credential_id"`
	Model          string            `gorm:"type:text;not null"`
	Provider       string            `gorm:"type:text;not null"`
	InputTokens    int64             `gorm:"column:input_tokens;not null"`
	OutputTokens   int64             `gorm:"column:output_tokens;not null"`
	TotalTokens    int64             `gorm:"column:total_tokens;not null"`
	RawCost        decimal.Decimal   `gorm:"column:raw_cost;type:numeric(38,18);not null"`
	Status         TransactionStatus `gorm:"type:text;not null"`
	ErrorMessage   *string           `gorm:"column:error_message;type:text"`
	EscrowMetadata datatypes.JSONMap `gorm:"column:escrow_metadata;type:jsonb"`
	CreatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Transaction) TableName() string { return "transactions" }

// Revenue is the markup-only portion earned on a transaction:
// rawCost·markupRate − rawCost. Never created for credit grants.
type Revenue struct {
	ID            snowflake.ID    `gorm:"primaryKey"`
	ApplicationID snowflake.ID    `gorm:"column:application_id;not null;index"`
	TransactionID snowflake.ID    `gorm:"column:transaction_id;not null;uniqueIndex"`
	CreditGrantID snowflake.ID    `gorm:"column:credit_grant_id;not null"`
	RawCost       decimal.Decimal `gorm:"column:raw_cost;type:numeric(38,18);not null"`
	MarkupRate    decimal.Decimal `gorm:"column:markup_rate;type:numeric(12,6);not null"`
	MarkupAmount  decimal.Decimal `gorm:"column:markup_amount;type:numeric(38,18);not null"`
	CreatedAt     time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Revenue) TableName() string { return "revenues" }
