package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	appdomain "github.com/tollgate-ai/tollgate/internal/app/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() appdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, app *appdomain.Application) error {
	return db.WithContext(ctx).Create(app).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, app *appdomain.Application) error {
	return db.WithContext(ctx).
		Model(&appdomain.Application{}).
		Where("id = ?", app.ID).
		Updates(map[string]any{
			"name":        app.Name,
			"markup_rate": app.MarkupRate,
			"archived":    app.Archived,
			"updated_at":  app.UpdatedAt,
		}).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*appdomain.Application, error) {
	var app appdomain.Application
	err := db.WithContext(ctx).
		Where("id = ?", id).
		Take(&app).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &app, nil
}

func (r *repo) FindByExternalID(ctx context.Context, db *gorm.DB, externalID uuid.UUID) (*appdomain.Application, error) {
	var app appdomain.Application
	err := db.WithContext(ctx).
		Where("external_id = ?", externalID).
		Take(&app).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &app, nil
}

func (r *repo) InsertMarkupConfig(ctx context.Context, db *gorm.DB, cfg *appdomain.MarkupConfig) error {
	return db.WithContext(ctx).Create(cfg).Error
}

func (r *repo) ActiveMarkupConfig(ctx context.Context, db *gorm.DB, appID snowflake.ID) (*appdomain.MarkupConfig, error) {
	var cfg appdomain.MarkupConfig
	err := db.WithContext(ctx).
		Where("application_id = ? AND active = ?", appID, true).
		Order("created_at DESC").
		Take(&cfg).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &cfg, nil
}

func (r *repo) DeactivateMarkupConfigs(ctx context.Context, db *gorm.DB, appID snowflake.ID) error {
	return db.WithContext(ctx).
		Model(&appdomain.MarkupConfig{}).
		Where("application_id = ? AND active = ?", appID, true).
		Update("active", false).Error
}
