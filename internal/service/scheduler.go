package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/barwars/ledgerd/internal/domain"
)

// Scheduler drives round lifecycle: it waits for each market's boundary,
// closes the round, asks the resolver for an outcome over the round's
// window, and settles as the owner. A distributed lock keyed on symbol and
// period collapses redundant instances to a single settler.
type Scheduler struct {
	svc      *LedgerService
	resolver domain.Resolver
	locks    domain.LockManager
	owner    domain.Participant

	retryInterval time.Duration
	lockTTL       time.Duration
	logger        *slog.Logger
}

// SchedulerConfig holds the scheduler's tuning knobs.
type SchedulerConfig struct {
	Owner         domain.Participant
	RetryInterval time.Duration
	LockTTL       time.Duration
}

// NewScheduler creates a Scheduler. The lock manager may be nil for
// single-instance deployments.
func NewScheduler(svc *LedgerService, resolver domain.Resolver, locks domain.LockManager, cfg SchedulerConfig, logger *slog.Logger) *Scheduler {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = time.Minute
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Minute
	}
	return &Scheduler{
		svc:           svc,
		resolver:      resolver,
		locks:         locks,
		owner:         cfg.Owner,
		retryInterval: cfg.RetryInterval,
		lockTTL:       cfg.LockTTL,
		logger:        logger.With(slog.String("component", "scheduler")),
	}
}

// Run drives one settlement loop per market until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, symbol := range s.svc.Markets() {
		g.Go(func() error {
			return s.runMarket(ctx, symbol)
		})
	}
	return g.Wait()
}

// runMarket settles one market's rounds in sequence. Each pass waits out the
// current round, then closes and settles it; failures retry after the
// configured interval without skipping the round.
func (s *Scheduler) runMarket(ctx context.Context, symbol string) error {
	for {
		round, err := s.svc.CurrentRound(symbol)
		if err != nil {
			return fmt.Errorf("scheduler: %s current round: %w", symbol, err)
		}

		if wait := time.Until(round.ClosesAt); wait > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}

		if err := s.settleRound(ctx, symbol, round); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.ErrorContext(ctx, "scheduler: settlement attempt failed",
				slog.String("symbol", symbol),
				slog.Uint64("period", round.Period),
				slog.String("error", err.Error()),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.retryInterval):
			}
		}
	}
}

// settleRound performs one close-resolve-settle pass for a round. Another
// instance already settling the same round is not an error: the pass returns
// nil and the next loop iteration observes the fresh round.
func (s *Scheduler) settleRound(ctx context.Context, symbol string, round domain.Round) error {
	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, lockKey(symbol, round.Period), s.lockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			s.logger.DebugContext(ctx, "scheduler: round held by another instance",
				slog.String("symbol", symbol),
				slog.Uint64("period", round.Period),
			)
			return s.waitSettled(ctx, symbol, round.Period)
		}
		if err != nil {
			return fmt.Errorf("scheduler: acquire lock: %w", err)
		}
		defer unlock()
	}

	current, err := s.svc.CurrentRound(symbol)
	if err != nil {
		return err
	}
	if current.Period > round.Period {
		// Someone else settled it between our wait and the lock.
		return nil
	}

	closed, err := s.svc.CloseRound(ctx, symbol)
	if err != nil {
		return fmt.Errorf("scheduler: close %s/%d: %w", symbol, round.Period, err)
	}

	outcome, err := s.resolver.Decide(ctx, symbol, closed.Window())
	if err != nil {
		return fmt.Errorf("scheduler: resolve %s/%d: %w", symbol, round.Period, err)
	}

	if _, err := s.svc.Settle(ctx, s.owner, symbol, round.Period, outcome); err != nil {
		if errors.Is(err, domain.ErrAlreadySettled) {
			return nil
		}
		return fmt.Errorf("scheduler: settle %s/%d: %w", symbol, round.Period, err)
	}
	return nil
}

// waitSettled polls until the lock holder has advanced the market past the
// period, so the loop does not spin on a held lock.
func (s *Scheduler) waitSettled(ctx context.Context, symbol string, period uint64) error {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			round, err := s.svc.CurrentRound(symbol)
			if err != nil {
				return err
			}
			if round.Period > period {
				return nil
			}
		}
	}
}

func lockKey(symbol string, period uint64) string {
	return fmt.Sprintf("settle:%s:%d", symbol, period)
}
