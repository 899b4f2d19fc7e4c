package service

import (
	"context"
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	appdomain "github.com/tollgate-ai/tollgate/internal/app/domain"
	ledgerdomain "github.com/tollgate-ai/tollgate/internal/ledger/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RecordTransaction is the hot path: it prices one proxied call and
// persists the transaction, its debit grant, and the markup revenue in one
// unit of work. Callers observe full success or full failure, never a debit
// without its transaction.
func (s *Service) RecordTransaction(ctx context.Context, req ledgerdomain.RecordTransactionRequest) (*ledgerdomain.RecordTransactionResult, error) {
	if req.UserID == 0 {
		return nil, ledgerdomain.ErrInvalidUser
	}
	if req.ApplicationID == 0 {
		return nil, ledgerdomain.ErrInvalidApplication
	}
	if req.InputTokens < 0 || req.OutputTokens < 0 {
		return nil, ledgerdomain.ErrInvalidTokenCounts
	}

	status := req.Status
	if status == "" {
		status = ledgerdomain.TransactionStatusCompleted
	}
	// Failed calls are recorded for audit but bill nothing.
	billable := status == ledgerdomain.TransactionStatusCompleted

	app, err := s.appRepo.FindByID(ctx, s.db, req.ApplicationID)
	if err != nil {
		return nil, err
	}
	if app == nil {
		return nil, ledgerdomain.ErrInvalidApplication
	}
	if app.Archived {
		return nil, ledgerdomain.ErrApplicationArchived
	}

	rawCost := decimal.Zero
	totalCost := decimal.Zero
	markupAmount := decimal.Zero
	markupRate := one
	var markupCfg *appdomain.MarkupConfig
	if billable {
		price, err := s.pricingSvc.Lookup(ctx, req.ApplicationID, req.Model)
		if err != nil {
			// No pricing entry means the call is refused, never billed at an
			// assumed price.
			return nil, err
		}

		markupCfg, err = s.appRepo.ActiveMarkupConfig(ctx, s.db, req.ApplicationID)
		if err != nil {
			return nil, err
		}

		markupRate = app.MarkupRate
		if markupRate.IsZero() {
			markupRate = one
		}
		if markupRate.LessThan(one) {
			return nil, ledgerdomain.ErrInvalidMarkupRate
		}

		inputCost := decimal.NewFromInt(req.InputTokens).Mul(price.InputPricePerToken)
		outputCost := decimal.NewFromInt(req.OutputTokens).Mul(price.OutputPricePerToken)
		rawCost = inputCost.Add(outputCost)
		totalCost = rawCost.Mul(markupRate)
		markupAmount = totalCost.Sub(rawCost)
	}

	totalTokens := req.TotalTokens
	if totalTokens == 0 {
		totalTokens = req.InputTokens + req.OutputTokens
	}

	now := time.Now().UTC()
	txRecord := &ledgerdomain.Transaction{
		ID:            s.genID.Generate(),
		RequestID:     ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
		UserID:        req.UserID,
		ApplicationID: req.ApplicationID,
		CredentialID:  req.CredentialID,
		Model:         req.Model,
		Provider:      req.Provider,
		InputTokens:   req.InputTokens,
		OutputTokens:  req.OutputTokens,
		TotalTokens:   totalTokens,
		RawCost:       rawCost,
		Status:        status,
		ErrorMessage:  req.ErrorMessage,
		CreatedAt:     now,
	}

	var grant *ledgerdomain.CreditGrant
	if billable {
		grant = &ledgerdomain.CreditGrant{
			ID:            s.genID.Generate(),
			UserID:        req.UserID,
			ApplicationID: req.ApplicationID,
			Type:          ledgerdomain.GrantTypeDebit,
			Amount:        totalCost,
			Source:        ledgerdomain.SourceTransaction,
			Active:        true,
			TransactionID: &txRecord.ID,
			CreatedAt:     now,
		}
		if markupCfg != nil {
			grant.MarkupConfigID = &markupCfg.ID
		}
	}

	var revenue *ledgerdomain.Revenue
	if grant != nil && markupAmount.IsPositive() {
		revenue = &ledgerdomain.Revenue{
			ID:            s.genID.Generate(),
			ApplicationID: req.ApplicationID,
			TransactionID: txRecord.ID,
			CreditGrantID: grant.ID,
			RawCost:       rawCost,
			MarkupRate:    markupRate,
			MarkupAmount:  markupAmount,
			CreatedAt:     now,
		}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.InsertTransaction(ctx, tx, txRecord); err != nil {
			return err
		}
		if grant != nil {
			if err := s.repo.InsertGrant(ctx, tx, grant); err != nil {
				return err
			}
		}
		if revenue != nil {
			if err := s.repo.InsertRevenue(ctx, tx, revenue); err != nil {
				return err
			}
		}
		if req.CredentialID != nil && *req.CredentialID != 0 {
			if err := s.apiKeyRepo.StampLastUsed(ctx, tx, *req.CredentialID, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordTransaction(ctx, req.Provider, req.Model, string(txRecord.Status))
	s.log.Debug("transaction recorded",
		zap.String("transaction_id", txRecord.ID.String()),
		zap.String("model", req.Model),
		zap.String("raw_cost", rawCost.String()),
		zap.String("total_cost", totalCost.String()),
	)

	return &ledgerdomain.RecordTransactionResult{
		Transaction: txRecord,
		Grant:       grant,
		Revenue:     revenue,
		TotalCost:   totalCost,
	}, nil
}
