// Package scheduler runs the periodic credit expiry sweep.
package scheduler

import (
	"context"
	"time"

	"github.com/tollgate-ai/tollgate/internal/clock"
	"github.com/tollgate-ai/tollgate/internal/config"
	ledgerdomain "github.com/tollgate-ai/tollgate/internal/ledger/domain"
	"github.com/tollgate-ai/tollgate/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const defaultSweepInterval = 5 * time.Minute

type Params struct {
	fx.In

	Log       *zap.Logger
	Config    config.Config
	Clock     clock.Clock
	LedgerSvc ledgerdomain.Service
	Limiter   *ratelimit.ProxyLimiter `optional:"true"`
}

// Sweeper deactivates expired credit grants on an interval. Balance reads
// filter on expiry directly, so a missed sweep never misbills anyone.
type Sweeper struct {
	log      *zap.Logger
	clock    clock.Clock
	ledger   ledgerdomain.Service
	limiter  *ratelimit.ProxyLimiter
	interval time.Duration
}

func New(p Params) *Sweeper {
	interval := p.Config.Sweep.Interval
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &Sweeper{
		log:      p.Log.Named("scheduler.sweep"),
		clock:    p.Clock,
		ledger:   p.LedgerSvc,
		limiter:  p.Limiter,
		interval: interval,
	}
}

func (s *Sweeper) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("expiry sweep failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single sweep. The cross-instance lock keeps multiple
// gateways from running overlapping sweeps; losing the race is not an
// error, the winner's sweep covers the same rows.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	token, acquired, err := s.limiter.TryLockSweep(ctx)
	if err != nil {
		return err
	}
	if !acquired {
		return nil
	}
	defer func() {
		if err := s.limiter.ReleaseSweep(ctx, token); err != nil {
			s.log.Warn("sweep lock release failed", zap.Error(err))
		}
	}()

	now := s.clock.Now()
	expired, err := s.ledger.ExpireGrants(ctx, now)
	if err != nil {
		return err
	}
	if expired > 0 {
		s.log.Info("deactivated expired credit grants",
			zap.Int64("count", expired),
			zap.Time("as_of", now),
		)
	}
	return nil
}
