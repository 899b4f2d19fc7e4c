// Package domain contains the per-application model price list. The table
// is read-only on the proxy path; rows are written by the seed job and by
// owner configuration.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// ModelPrice is the per-token price for one (application, model) pair.
// Prices are sub-cent decimals; numeric storage keeps them exact.
type ModelPrice struct {
	ID                  snowflake.ID    `gorm:"primaryKey"`
	ApplicationID       snowflake.ID    `gorm:"column:application_id;not null;uniqueIndex:ux_model_prices_app_model,priority:1"`
	Model               string          `gorm:"type:text;not null;uniqueIndex:ux_model_prices_app_model,priority:2"`
	Provider            string          `gorm:"type:text;not null"`
	InputPricePerToken  decimal.Decimal `gorm:"column:input_price_per_token;type:numeric(24,18);not null"`
	OutputPricePerToken decimal.Decimal `gorm:"column:output_price_per_token;type:numeric(24,18);not null"`
	CreatedAt           time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt           time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (ModelPrice) TableName() string { return "model_prices" }
