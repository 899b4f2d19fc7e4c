package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*SecretResponse, error)
	List(ctx context.Context, userID snowflake.ID) ([]Response, error)
	Revoke(ctx context.Context, userID snowflake.ID, keyID string) error
	Authenticate(ctx context.Context, raw string) (*APIKey, error)
	TouchLastUsed(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, key *APIKey) error
	Update(ctx context.Context, db *gorm.DB, key *APIKey) error
	FindByKeyID(ctx context.Context, db *gorm.DB, userID snowflake.ID, keyID string) (*APIKey, error)
	FindByHash(ctx context.Context, db *gorm.DB, hash string) (*APIKey, error)
	List(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]APIKey, error)
	StampLastUsed(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
}

type CreateRequest struct {
	UserID        snowflake.ID `json:"-"`
	ApplicationID string       `json:"application_id"`
	Name          string       `json:"name"`
}

type Response struct {
	KeyID         string     `json:"key_id"`
	ApplicationID string     `json:"application_id"`
	Name          string     `json:"name"`
	Archived      bool       `json:"archived"`
	CreatedAt     time.Time  `json:"created_at"`
	LastUsedAt    *time.Time `json:"last_used_at"`
	ExpiresAt     *time.Time `json:"expires_at"`
}

type SecretResponse struct {
	KeyID  string `json:"key_id"`
	APIKey string `json:"api_key"`
}

var (
	ErrInvalidUser        = errors.New("invalid_user")
	ErrInvalidApplication = errors.New("invalid_application")
	ErrInvalidName        = errors.New("invalid_name")
	ErrInvalidKeyID       = errors.New("invalid_key_id")
	ErrInvalidCredential  = errors.New("invalid_credential")
	ErrNotFound           = errors.New("not_found")
)
