package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	pricingdomain "github.com/tollgate-ai/tollgate/internal/pricing/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() pricingdomain.Repository {
	return &repo{}
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, appID snowflake.ID, model string) (*pricingdomain.ModelPrice, error) {
	var price pricingdomain.ModelPrice
	err := db.WithContext(ctx).
		Where("application_id = ? AND model = ?", appID, model).
		Take(&price).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &price, nil
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, price *pricingdomain.ModelPrice) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "application_id"}, {Name: "model"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"provider",
				"input_price_per_token",
				"output_price_per_token",
				"updated_at",
			}),
		}).
		Create(price).Error
}
