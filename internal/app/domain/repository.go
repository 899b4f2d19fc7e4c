package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, app *Application) error
	Update(ctx context.Context, db *gorm.DB, app *Application) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Application, error)
	FindByExternalID(ctx context.Context, db *gorm.DB, externalID uuid.UUID) (*Application, error)
	InsertMarkupConfig(ctx context.Context, db *gorm.DB, cfg *MarkupConfig) error
	ActiveMarkupConfig(ctx context.Context, db *gorm.DB, appID snowflake.ID) (*MarkupConfig, error)
	DeactivateMarkupConfigs(ctx context.Context, db *gorm.DB, appID snowflake.ID) error
}
