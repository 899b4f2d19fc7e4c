package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	apikeydomain "github.com/tollgate-ai/tollgate/internal/apikey/domain"
	appdomain "github.com/tollgate-ai/tollgate/internal/app/domain"
	ledgerdomain "github.com/tollgate-ai/tollgate/internal/ledger/domain"
	obsmetrics "github.com/tollgate-ai/tollgate/internal/observability/metrics"
	pricingdomain "github.com/tollgate-ai/tollgate/internal/pricing/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

var one = decimal.NewFromInt(1)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       ledgerdomain.Repository
	AppRepo    appdomain.Repository
	APIKeyRepo apikeydomain.Repository
	PricingSvc pricingdomain.Service
	Metrics    *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       ledgerdomain.Repository
	appRepo    appdomain.Repository
	apiKeyRepo apikeydomain.Repository
	pricingSvc pricingdomain.Service
	metrics    *obsmetrics.Metrics
}

func New(p Params) ledgerdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		appRepo:    p.AppRepo,
		apiKeyRepo: p.APIKeyRepo,
		pricingSvc: p.PricingSvc,
		metrics:    p.Metrics,
	}
}

func (s *Service) CreateGrant(ctx context.Context, req ledgerdomain.CreateGrantRequest) (*ledgerdomain.CreditGrant, error) {
	if err := validateGrantRequest(req); err != nil {
		return nil, err
	}

	grant := &ledgerdomain.CreditGrant{
		ID:             s.genID.Generate(),
		UserID:         req.UserID,
		ApplicationID:  req.ApplicationID,
		Type:           req.Type,
		Amount:         req.Amount,
		Source:         req.Source,
		Description:    req.Description,
		ExpiresAt:      req.ExpiresAt,
		Active:         true,
		PaymentID:      req.PaymentID,
		TransactionID:  req.TransactionID,
		MarkupConfigID: req.MarkupConfigID,
		CreatedAt:      time.Now().UTC(),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.InsertGrant(ctx, tx, grant); err != nil {
			return err
		}
		if rev := s.revenueForGrant(grant, req); rev != nil {
			if err := s.repo.InsertRevenue(ctx, tx, rev); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordGrant(ctx, string(grant.Type), string(grant.Source))
	return grant, nil
}

// revenueForGrant builds the markup revenue row for a debit sourced from a
// transaction. Returns nil when the markup portion is zero.
func (s *Service) revenueForGrant(grant *ledgerdomain.CreditGrant, req ledgerdomain.CreateGrantRequest) *ledgerdomain.Revenue {
	if grant.Type != ledgerdomain.GrantTypeDebit || req.Source != ledgerdomain.SourceTransaction {
		return nil
	}

	markupAmount := req.RawCost.Mul(*req.MarkupRate).Sub(*req.RawCost)
	if !markupAmount.IsPositive() {
		return nil
	}

	return &ledgerdomain.Revenue{
		ID:            s.genID.Generate(),
		ApplicationID: grant.ApplicationID,
		TransactionID: *req.TransactionID,
		CreditGrantID: grant.ID,
		RawCost:       *req.RawCost,
		MarkupRate:    *req.MarkupRate,
		MarkupAmount:  markupAmount,
		CreatedAt:     grant.CreatedAt,
	}
}

func (s *Service) GetBalance(ctx context.Context, userID snowflake.ID, opts ledgerdomain.BalanceOptions) (*ledgerdomain.Balance, error) {
	if userID == 0 {
		return nil, ledgerdomain.ErrInvalidUser
	}

	now := time.Now().UTC()

	var totalCredits, activeCredits, expiredCredits, totalDebits decimal.Decimal

	// The four sums are independent reads; run them concurrently.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		totalCredits, err = s.repo.Aggregate(gctx, s.db, userID, ledgerdomain.AggregateTotalCredits, now)
		return err
	})
	g.Go(func() (err error) {
		activeCredits, err = s.repo.Aggregate(gctx, s.db, userID, ledgerdomain.AggregateActiveCredits, now)
		return err
	})
	g.Go(func() (err error) {
		expiredCredits, err = s.repo.Aggregate(gctx, s.db, userID, ledgerdomain.AggregateExpiredCredits, now)
		return err
	})
	g.Go(func() (err error) {
		totalDebits, err = s.repo.Aggregate(gctx, s.db, userID, ledgerdomain.AggregateTotalDebits, now)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	balance := activeCredits.Sub(totalDebits)
	if opts.IncludeExpired {
		balance = totalCredits.Sub(totalDebits)
	}

	return &ledgerdomain.Balance{
		Balance:        balance,
		TotalCredits:   totalCredits,
		TotalDebits:    totalDebits,
		ActiveCredits:  activeCredits,
		ExpiredCredits: expiredCredits,
	}, nil
}

func (s *Service) ExpireGrants(ctx context.Context, now time.Time) (int64, error) {
	count, err := s.repo.DeactivateExpired(ctx, s.db, now.UTC())
	if err != nil {
		return 0, err
	}
	if count > 0 {
		s.log.Info("deactivated expired credit grants", zap.Int64("count", count))
	}
	return count, nil
}

func (s *Service) AttachEscrowMetadata(ctx context.Context, transactionID snowflake.ID, metadata map[string]any) error {
	tx, err := s.repo.FindTransaction(ctx, s.db, transactionID)
	if err != nil {
		return err
	}
	if tx == nil {
		return ledgerdomain.ErrTransactionNotFound
	}
	return s.repo.UpdateEscrowMetadata(ctx, s.db, transactionID, metadata)
}

func validateGrantRequest(req ledgerdomain.CreateGrantRequest) error {
	if req.UserID == 0 {
		return ledgerdomain.ErrInvalidUser
	}
	if !req.Amount.IsPositive() {
		return ledgerdomain.ErrInvalidAmount
	}

	switch req.Type {
	case ledgerdomain.GrantTypeCredit, ledgerdomain.GrantTypeDebit:
	default:
		return ledgerdomain.ErrInvalidGrantType
	}

	switch req.Source {
	case ledgerdomain.SourcePayment:
		if req.PaymentID == nil || *req.PaymentID == 0 {
			return ledgerdomain.ErrMissingPaymentRef
		}
	case ledgerdomain.SourceTransaction:
		if req.TransactionID == nil || *req.TransactionID == 0 {
			return ledgerdomain.ErrMissingTxRef
		}
	case ledgerdomain.SourcePromotion, ledgerdomain.SourceRefund,
		ledgerdomain.SourceAdjustment, ledgerdomain.SourceAdminGrant:
	default:
		return ledgerdomain.ErrInvalidGrantSource
	}

	if req.ExpiresAt != nil && req.Type == ledgerdomain.GrantTypeDebit {
		return ledgerdomain.ErrExpiryOnDebit
	}

	if req.Type == ledgerdomain.GrantTypeDebit && req.Source == ledgerdomain.SourceTransaction {
		// A transaction-sourced debit without its cost basis would silently
		// skip the revenue row.
		if req.RawCost == nil || req.MarkupRate == nil {
			return ledgerdomain.ErrMissingCostBasis
		}
		if req.RawCost.IsNegative() {
			return ledgerdomain.ErrMissingCostBasis
		}
		if req.MarkupRate.LessThan(one) {
			return ledgerdomain.ErrInvalidMarkupRate
		}
	}

	return nil
}
