package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	pricingdomain "github.com/tollgate-ai/tollgate/internal/pricing/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// GlobalApplicationID marks price rows that apply to every application
// without an override of their own.
const GlobalApplicationID snowflake.ID = 0

type Params struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo pricingdomain.Repository
}

type Service struct {
	db   *gorm.DB
	log  *zap.Logger
	repo pricingdomain.Repository
}

func New(p Params) pricingdomain.Service {
	return &Service{
		db:   p.DB,
		log:  p.Log.Named("pricing.service"),
		repo: p.Repo,
	}
}

func (s *Service) Lookup(ctx context.Context, appID snowflake.ID, model string) (*pricingdomain.ModelPrice, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, pricingdomain.ErrInvalidModel
	}

	if appID != GlobalApplicationID {
		price, err := s.repo.Find(ctx, s.db, appID, model)
		if err != nil {
			return nil, err
		}
		if price != nil {
			return price, nil
		}
	}

	price, err := s.repo.Find(ctx, s.db, GlobalApplicationID, model)
	if err != nil {
		return nil, err
	}
	if price == nil {
		return nil, pricingdomain.ErrNotFound
	}
	return price, nil
}

func (s *Service) Upsert(ctx context.Context, price *pricingdomain.ModelPrice) error {
	if price == nil || strings.TrimSpace(price.Model) == "" {
		return pricingdomain.ErrInvalidModel
	}
	if price.InputPricePerToken.IsNegative() || price.OutputPricePerToken.IsNegative() {
		return pricingdomain.ErrInvalidPrice
	}
	return s.repo.Upsert(ctx, s.db, price)
}
