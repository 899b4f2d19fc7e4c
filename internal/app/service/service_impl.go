package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	appdomain "github.com/tollgate-ai/tollgate/internal/app/domain"
	"github.com/tollgate-ai/tollgate/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Repo   appdomain.Repository
	Policy *config.PolicyHolder
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node
	repo   appdomain.Repository
	policy *config.PolicyHolder
}

func New(p Params) appdomain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("app.service"),
		genID:  p.GenID,
		repo:   p.Repo,
		policy: p.Policy,
	}
}

func (s *Service) Create(ctx context.Context, req appdomain.CreateRequest) (*appdomain.Response, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, appdomain.ErrInvalidName
	}

	rate, err := s.resolveMarkupRate(req.MarkupRate)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	app := &appdomain.Application{
		ID:              s.genID.Generate(),
		ExternalID:      uuid.New(),
		OwnerID:         req.OwnerID,
		Name:            name,
		HomepageURL:     req.HomepageURL,
		MarkupRate:      rate,
		AutoProvisioned: req.AutoProvisioned,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, app); err != nil {
			return err
		}
		cfg := &appdomain.MarkupConfig{
			ID:            s.genID.Generate(),
			ApplicationID: app.ID,
			Rate:          rate,
			Active:        true,
			CreatedAt:     now,
		}
		return s.repo.InsertMarkupConfig(ctx, tx, cfg)
	})
	if err != nil {
		return nil, err
	}

	return toResponse(app), nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*appdomain.Response, error) {
	app, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if app == nil {
		return nil, appdomain.ErrNotFound
	}
	return toResponse(app), nil
}

func (s *Service) UpdateMarkupRate(ctx context.Context, id snowflake.ID, rate decimal.Decimal) (*appdomain.Response, error) {
	if err := s.validateMarkupRate(rate); err != nil {
		return nil, err
	}

	var updated *appdomain.Application
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		app, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if app == nil {
			return appdomain.ErrNotFound
		}
		if app.Archived {
			return appdomain.ErrArchived
		}

		if err := s.repo.DeactivateMarkupConfigs(ctx, tx, id); err != nil {
			return err
		}

		now := time.Now().UTC()
		cfg := &appdomain.MarkupConfig{
			ID:            s.genID.Generate(),
			ApplicationID: id,
			Rate:          rate,
			Active:        true,
			CreatedAt:     now,
		}
		if err := s.repo.InsertMarkupConfig(ctx, tx, cfg); err != nil {
			return err
		}

		app.MarkupRate = rate
		app.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, app); err != nil {
			return err
		}
		updated = app
		return nil
	})
	if err != nil {
		return nil, err
	}

	return toResponse(updated), nil
}

func (s *Service) Archive(ctx context.Context, id snowflake.ID) error {
	app, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return err
	}
	if app == nil {
		return appdomain.ErrNotFound
	}
	if app.Archived {
		return nil
	}

	app.Archived = true
	app.UpdatedAt = time.Now().UTC()
	return s.repo.Update(ctx, s.db, app)
}

func (s *Service) CurrentMarkup(ctx context.Context, id snowflake.ID) (*appdomain.MarkupConfig, error) {
	return s.repo.ActiveMarkupConfig(ctx, s.db, id)
}

func (s *Service) resolveMarkupRate(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.NewFromFloat(s.policy.Get().DefaultMarkupRate), nil
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, appdomain.ErrInvalidMarkupRate
	}
	if err := s.validateMarkupRate(rate); err != nil {
		return decimal.Zero, err
	}
	return rate, nil
}

func (s *Service) validateMarkupRate(rate decimal.Decimal) error {
	one := decimal.NewFromInt(1)
	if rate.LessThan(one) {
		return appdomain.ErrInvalidMarkupRate
	}
	max := decimal.NewFromFloat(s.policy.Get().MaxMarkupRate)
	if max.GreaterThan(one) && rate.GreaterThan(max) {
		return appdomain.ErrInvalidMarkupRate
	}
	return nil
}

func toResponse(app *appdomain.Application) *appdomain.Response {
	return &appdomain.Response{
		ID:              app.ID.String(),
		ExternalID:      app.ExternalID.String(),
		OwnerID:         app.OwnerID,
		Name:            app.Name,
		HomepageURL:     app.HomepageURL,
		MarkupRate:      app.MarkupRate.String(),
		AutoProvisioned: app.AutoProvisioned,
		Archived:        app.Archived,
		CreatedAt:       app.CreatedAt,
	}
}
