package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Response, error)
	Get(ctx context.Context, id snowflake.ID) (*Response, error)
	UpdateMarkupRate(ctx context.Context, id snowflake.ID, rate decimal.Decimal) (*Response, error)
	Archive(ctx context.Context, id snowflake.ID) error
	CurrentMarkup(ctx context.Context, id snowflake.ID) (*MarkupConfig, error)
}

type CreateRequest struct {
	OwnerID         snowflake.ID `json:"-"`
	Name            string       `json:"name"`
	HomepageURL     *string      `json:"homepage_url"`
	MarkupRate      string       `json:"markup_rate"`
	AutoProvisioned bool         `json:"-"`
}

type Response struct {
	ID              string       `json:"id"`
	ExternalID      string       `json:"external_id"`
	OwnerID         snowflake.ID `json:"-"`
	Name            string       `json:"name"`
	HomepageURL     *string      `json:"homepage_url,omitempty"`
	MarkupRate      string       `json:"markup_rate"`
	AutoProvisioned bool         `json:"auto_provisioned"`
	Archived        bool         `json:"archived"`
	CreatedAt       time.Time    `json:"created_at"`
}

var (
	ErrInvalidCaller     = errors.New("invalid_caller")
	ErrInvalidName       = errors.New("invalid_name")
	ErrInvalidMarkupRate = errors.New("invalid_markup_rate")
	ErrNotFound          = errors.New("not_found")
	ErrArchived          = errors.New("application_archived")
)
