package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/tollgate-ai/tollgate/internal/clock"
	"github.com/tollgate-ai/tollgate/internal/config"
	ledgerdomain "github.com/tollgate-ai/tollgate/internal/ledger/domain"
	"go.uber.org/zap"
)

type sweepLedgerStub struct {
	mu      sync.Mutex
	calls   []time.Time
	expired int64
	err     error
}

func (l *sweepLedgerStub) CreateGrant(ctx context.Context, req ledgerdomain.CreateGrantRequest) (*ledgerdomain.CreditGrant, error) {
	return nil, errors.New("not implemented")
}

func (l *sweepLedgerStub) GetBalance(ctx context.Context, userID snowflake.ID, opts ledgerdomain.BalanceOptions) (*ledgerdomain.Balance, error) {
	return nil, errors.New("not implemented")
}

func (l *sweepLedgerStub) RecordTransaction(ctx context.Context, req ledgerdomain.RecordTransactionRequest) (*ledgerdomain.RecordTransactionResult, error) {
	return nil, errors.New("not implemented")
}

func (l *sweepLedgerStub) ExpireGrants(ctx context.Context, now time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return 0, l.err
	}
	l.calls = append(l.calls, now)
	return l.expired, nil
}

func (l *sweepLedgerStub) AttachEscrowMetadata(ctx context.Context, transactionID snowflake.ID, metadata map[string]any) error {
	return nil
}

func (l *sweepLedgerStub) Calls() []time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]time.Time, len(l.calls))
	copy(out, l.calls)
	return out
}

func newSweeper(ledger ledgerdomain.Service, clk clock.Clock) *Sweeper {
	cfg := config.Config{}
	cfg.Sweep.Interval = time.Minute
	return New(Params{
		Log:       zap.NewNop(),
		Config:    cfg,
		Clock:     clk,
		LedgerSvc: ledger,
	})
}

func TestRunOncePassesClockTime(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fake := clock.NewFakeClock(start)
	ledger := &sweepLedgerStub{expired: 3}
	sweeper := newSweeper(ledger, fake)

	if err := sweeper.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	fake.Advance(2 * time.Hour)
	if err := sweeper.RunOnce(context.Background()); err != nil {
		t.Fatalf("run twice: %v", err)
	}

	calls := ledger.Calls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 sweeps, got %d", len(calls))
	}
	if !calls[0].Equal(start) {
		t.Fatalf("first sweep at %v, want %v", calls[0], start)
	}
	if !calls[1].Equal(start.Add(2 * time.Hour)) {
		t.Fatalf("second sweep at %v, want %v", calls[1], start.Add(2*time.Hour))
	}
}

func TestRunOnceSurfacesLedgerError(t *testing.T) {
	fake := clock.NewFakeClock(time.Now())
	ledger := &sweepLedgerStub{err: errors.New("db down")}
	sweeper := newSweeper(ledger, fake)

	if err := sweeper.RunOnce(context.Background()); err == nil {
		t.Fatal("expected sweep error surfaced")
	}
}

func TestRunForeverStopsOnCancel(t *testing.T) {
	fake := clock.NewFakeClock(time.Now())
	ledger := &sweepLedgerStub{}
	cfg := config.Config{}
	cfg.Sweep.Interval = 10 * time.Millisecond
	sweeper := New(Params{
		Log:       zap.NewNop(),
		Config:    cfg,
		Clock:     fake,
		LedgerSvc: ledger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.RunForever(ctx)
		close(done)
	}()

	time.Sleep(35 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop on cancel")
	}

	if len(ledger.Calls()) == 0 {
		t.Fatal("expected at least one sweep before cancel")
	}
}
