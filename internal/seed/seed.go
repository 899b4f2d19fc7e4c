// Package seed bootstraps the global model price table so a fresh gateway
// can price calls before any per-application overrides exist.
package seed

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	pricingdomain "github.com/tollgate-ai/tollgate/internal/pricing/domain"
	pricingservice "github.com/tollgate-ai/tollgate/internal/pricing/service"
	"gorm.io/gorm"
)

type defaultPrice struct {
	model    string
	provider string
	input    string
	output   string
}

// Prices are USD per token.
var defaultPrices = []defaultPrice{
	{"gpt-4o", "openai", "0.0000025", "0.00001"},
	{"gpt-4o-mini", "openai", "0.00000015", "0.0000006"},
	{"o3-mini", "openai", "0.0000011", "0.0000044"},
	{"claude-sonnet-4-20250514", "anthropic", "0.000003", "0.000015"},
	{"claude-3-5-haiku-20241022", "anthropic", "0.0000008", "0.000004"},
	{"gemini-2.0-flash", "google", "0.0000001", "0.0000004"},
	{"llama-3.3-70b", "groq", "0.00000059", "0.00000079"},
}

// EnsureDefaultPrices upserts the global price list. Existing rows are
// refreshed; per-application overrides are untouched.
func EnsureDefaultPrices(db *gorm.DB, repo pricingdomain.Repository) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, p := range defaultPrices {
			input, err := decimal.NewFromString(p.input)
			if err != nil {
				return err
			}
			output, err := decimal.NewFromString(p.output)
			if err != nil {
				return err
			}
			price := &pricingdomain.ModelPrice{
				ID:                  node.Generate(),
				ApplicationID:       pricingservice.GlobalApplicationID,
				Model:               p.model,
				Provider:            p.provider,
				InputPricePerToken:  input,
				OutputPricePerToken: output,
			}
			if err := repo.Upsert(ctx, tx, price); err != nil {
				return err
			}
		}
		return nil
	})
}
