package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Service interface {
	// Lookup returns the price row for the model, preferring an
	// application-specific entry over the global default (application 0).
	Lookup(ctx context.Context, appID snowflake.ID, model string) (*ModelPrice, error)
	Upsert(ctx context.Context, price *ModelPrice) error
}

type Repository interface {
	Find(ctx context.Context, db *gorm.DB, appID snowflake.ID, model string) (*ModelPrice, error)
	Upsert(ctx context.Context, db *gorm.DB, price *ModelPrice) error
}

var (
	ErrInvalidModel = errors.New("invalid_model")
	ErrInvalidPrice = errors.New("invalid_price")
	ErrNotFound     = errors.New("price_not_found")
)
