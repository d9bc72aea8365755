package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/barwars/ledgerd/internal/domain"
)

// Restore rebuilds the accounting core from the persistent journal and
// settlement history for the given market symbols. For each market it
// replays bets and settlements in period order: every bet of a period lands
// before that period's settlement, matching the order the events originally
// happened in. Call it once at startup, on an empty core, before seeding
// fresh markets: replayed rounds must open at their recorded historical
// times, not at the current clock.
func (s *LedgerService) Restore(ctx context.Context, symbols []string) error {
	if s.bets == nil && s.settlements == nil {
		return nil
	}

	var bets, settles int
	for _, symbol := range symbols {
		b, st, err := s.restoreMarket(ctx, symbol)
		if err != nil {
			return err
		}
		bets += b
		settles += st
	}

	s.logger.InfoContext(ctx, "ledger_service: state restored",
		slog.Int("bets", bets),
		slog.Int("settlements", settles),
	)
	return nil
}

func (s *LedgerService) restoreMarket(ctx context.Context, symbol string) (int, int, error) {
	var (
		bets    []domain.BetRecord
		settled []domain.SettlementRecord
		err     error
	)

	if s.bets != nil {
		bets, err = s.bets.ListBySymbol(ctx, symbol)
		if err != nil {
			return 0, 0, fmt.Errorf("ledger_service: restore %s bets: %w", symbol, err)
		}
	}
	if s.settlements != nil {
		settled, err = s.settlements.ListBySymbol(ctx, symbol)
		if err != nil {
			return 0, 0, fmt.Errorf("ledger_service: restore %s settlements: %w", symbol, err)
		}
	}

	sort.Slice(settled, func(i, j int) bool { return settled[i].Period < settled[j].Period })

	// Bets arrive in journal order. Before replaying a bet of period p,
	// flush every settlement of an earlier period so the core's current
	// round has advanced to p.
	next := 0
	for _, bet := range bets {
		for next < len(settled) && settled[next].Period < bet.Period {
			if err := s.core.ReplaySettlement(settled[next]); err != nil {
				return 0, 0, fmt.Errorf("ledger_service: replay settlement %s/%d: %w", symbol, settled[next].Period, err)
			}
			next++
		}
		if err := s.core.ReplayBet(bet); err != nil {
			return 0, 0, fmt.Errorf("ledger_service: replay bet %s: %w", bet.ID, err)
		}
	}
	for ; next < len(settled); next++ {
		if err := s.core.ReplaySettlement(settled[next]); err != nil {
			return 0, 0, fmt.Errorf("ledger_service: replay settlement %s/%d: %w", symbol, settled[next].Period, err)
		}
	}

	return len(bets), len(settled), nil
}
