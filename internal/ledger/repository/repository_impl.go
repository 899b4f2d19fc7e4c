package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	ledgerdomain "github.com/tollgate-ai/tollgate/internal/ledger/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() ledgerdomain.Repository {
	return &repo{}
}

func (r *repo) InsertGrant(ctx context.Context, db *gorm.DB, grant *ledgerdomain.CreditGrant) error {
	return db.WithContext(ctx).Create(grant).Error
}

func (r *repo) InsertTransaction(ctx context.Context, db *gorm.DB, tx *ledgerdomain.Transaction) error {
	return db.WithContext(ctx).Create(tx).Error
}

func (r *repo) InsertRevenue(ctx context.Context, db *gorm.DB, rev *ledgerdomain.Revenue) error {
	return db.WithContext(ctx).Create(rev).Error
}

func (r *repo) FindTransaction(ctx context.Context, db *gorm.DB, id snowflake.ID) (*ledgerdomain.Transaction, error) {
	var tx ledgerdomain.Transaction
	err := db.WithContext(ctx).
		Where("id = ?", id).
		Take(&tx).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &tx, nil
}

func (r *repo) UpdateEscrowMetadata(ctx context.Context, db *gorm.DB, id snowflake.ID, metadata map[string]any) error {
	return db.WithContext(ctx).
		Model(&ledgerdomain.Transaction{}).
		Where("id = ?", id).
		Update("escrow_metadata", datatypes.JSONMap(metadata)).Error
}

func (r *repo) Aggregate(ctx context.Context, db *gorm.DB, userID snowflake.ID, kind ledgerdomain.AggregateKind, now time.Time) (decimal.Decimal, error) {
	query := db.WithContext(ctx).
		Model(&ledgerdomain.CreditGrant{}).
		Where("user_id = ? AND archived = ?", userID, false)

	switch kind {
	case ledgerdomain.AggregateTotalCredits:
		// Includes expired and sweep-deactivated credits: this is the
		// "total paid" view.
		query = query.Where("type = ?", ledgerdomain.GrantTypeCredit)
	case ledgerdomain.AggregateActiveCredits:
		query = query.Where("type = ? AND active = ? AND (expires_at IS NULL OR expires_at > ?)",
			ledgerdomain.GrantTypeCredit, true, now)
	case ledgerdomain.AggregateExpiredCredits:
		query = query.Where("type = ? AND expires_at IS NOT NULL AND expires_at <= ?",
			ledgerdomain.GrantTypeCredit, now)
	case ledgerdomain.AggregateTotalDebits:
		query = query.Where("type = ?", ledgerdomain.GrantTypeDebit)
	}

	row := query.Select("SUM(amount)").Row()
	var sum decimal.NullDecimal
	if err := row.Scan(&sum); err != nil {
		return decimal.Zero, err
	}
	if !sum.Valid {
		return decimal.Zero, nil
	}
	return sum.Decimal, nil
}

func (r *repo) DeactivateExpired(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	result := db.WithContext(ctx).
		Model(&ledgerdomain.CreditGrant{}).
		Where("type = ? AND active = ? AND expires_at IS NOT NULL AND expires_at <= ?",
			ledgerdomain.GrantTypeCredit, true, now).
		Update("active", false)
	return result.RowsAffected, result.Error
}
