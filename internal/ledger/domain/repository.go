package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// AggregateKind selects one of the independent balance sums.
type AggregateKind string

const (
	AggregateTotalCredits   AggregateKind = "total_credits"
	AggregateActiveCredits  AggregateKind = "active_credits"
	AggregateExpiredCredits AggregateKind = "expired_credits"
	AggregateTotalDebits    AggregateKind = "total_debits"
)

type Repository interface {
	InsertGrant(ctx context.Context, db *gorm.DB, grant *CreditGrant) error
	InsertTransaction(ctx context.Context, db *gorm.DB, tx *Transaction) error
	InsertRevenue(ctx context.Context, db *gorm.DB, rev *Revenue) error
	FindTransaction(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Transaction, error)
	UpdateEscrowMetadata(ctx context.Context, db *gorm.DB, id snowflake.ID, metadata map[string]any) error

	// Aggregate runs one balance sum over the user's entire grant set;
	// application attribution on grants never narrows it. Expiry is
	// evaluated against now on every read, so results are correct whether
	// or not the sweep has run.
	Aggregate(ctx context.Context, db *gorm.DB, userID snowflake.ID, kind AggregateKind, now time.Time) (decimal.Decimal, error)

	DeactivateExpired(ctx context.Context, db *gorm.DB, now time.Time) (int64, error)
}
