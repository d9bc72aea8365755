// Package service composes the accounting core with persistence, caching,
// and event fan-out. The core stays authoritative and synchronous; stores
// and caches hang off it here so its state machine never blocks on I/O
// internally.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/google/uuid"

	"github.com/barwars/ledgerd/internal/domain"
	"github.com/barwars/ledgerd/internal/ledger"
)

// LedgerService wraps the accounting core with the bet journal, settlement
// store, stats cache, and signal bus. Journal and settlement writes are
// required for durability and fail the operation; cache and bus writes are
// best-effort and only logged.
type LedgerService struct {
	core        *ledger.Ledger
	bets        domain.BetJournal
	settlements domain.SettlementStore
	cache       domain.StatsCache
	bus         domain.SignalBus
	logger      *slog.Logger
}

// NewLedgerService creates a LedgerService. The journal, settlement store,
// cache, and bus may each be nil, which disables that concern.
func NewLedgerService(
	core *ledger.Ledger,
	bets domain.BetJournal,
	settlements domain.SettlementStore,
	cache domain.StatsCache,
	bus domain.SignalBus,
	logger *slog.Logger,
) *LedgerService {
	return &LedgerService{
		core:        core,
		bets:        bets,
		settlements: settlements,
		cache:       cache,
		bus:         bus,
		logger:      logger,
	}
}

// Core exposes the underlying accounting core for read paths that need it
// directly, such as the settlement scheduler.
func (s *LedgerService) Core() *ledger.Ledger {
	return s.core
}

// PlaceBet stakes tickets on one side of a market's current round, journals
// the accepted wager, and publishes a bet_placed event.
func (s *LedgerService) PlaceBet(ctx context.Context, caller domain.Participant, nonce uint64, symbol string, side domain.Side, tickets uint64, paid *big.Int) (domain.BetRecord, error) {
	rec, err := s.core.PlaceBet(caller, nonce, symbol, side, tickets, paid)
	if err != nil {
		return domain.BetRecord{}, err
	}
	return s.recordBet(ctx, rec)
}

// PlaceBatchBet is PlaceBet with a combined ticket count.
func (s *LedgerService) PlaceBatchBet(ctx context.Context, caller domain.Participant, nonce uint64, symbol string, side domain.Side, tickets uint64, paid *big.Int) (domain.BetRecord, error) {
	rec, err := s.core.PlaceBatchBet(caller, nonce, symbol, side, tickets, paid)
	if err != nil {
		return domain.BetRecord{}, err
	}
	return s.recordBet(ctx, rec)
}

// recordBet journals an accepted wager under a fresh ID, refreshes the stats
// cache, and publishes the event. The wager already stands in the core: a
// journal failure is surfaced to the caller so the operator can reconcile,
// since replaying a journal with a hole would diverge from the live state.
func (s *LedgerService) recordBet(ctx context.Context, rec domain.BetRecord) (domain.BetRecord, error) {
	rec.ID = uuid.New().String()

	if s.bets != nil {
		if err := s.bets.Append(ctx, rec); err != nil {
			return rec, fmt.Errorf("ledger_service: journal bet %s: %w", rec.ID, err)
		}
	}

	s.refreshStats(ctx, rec.Symbol)
	s.publish(ctx, Event{
		Type:   EventBetPlaced,
		Symbol: rec.Symbol,
		Period: rec.Period,
		At:     rec.PlacedAt,
		Payload: betEvent{
			Participant: rec.Participant,
			Side:        rec.Side,
			Tickets:     rec.Tickets,
			Pool:        s.poolOf(rec.Symbol),
		},
	})

	return rec, nil
}

// CloseRound transitions a market's current round to closed once its
// boundary has passed and publishes a round_closed event.
func (s *LedgerService) CloseRound(ctx context.Context, symbol string) (domain.Round, error) {
	r, err := s.core.CloseRound(symbol)
	if err != nil {
		return domain.Round{}, err
	}

	s.refreshStats(ctx, symbol)
	s.publish(ctx, Event{
		Type:   EventRoundClosed,
		Symbol: symbol,
		Period: r.Period,
		At:     r.ClosesAt,
	})

	return r, nil
}

// Settle resolves a closed round, records the settlement, invalidates the
// cached stats (the next period is open now), and publishes an event.
func (s *LedgerService) Settle(ctx context.Context, caller domain.Participant, symbol string, period uint64, outcome domain.Outcome) (domain.SettlementRecord, error) {
	rec, err := s.core.Settle(caller, symbol, period, outcome)
	if err != nil {
		return domain.SettlementRecord{}, err
	}

	if s.settlements != nil {
		if err := s.settlements.Record(ctx, rec); err != nil {
			return rec, fmt.Errorf("ledger_service: record settlement %s/%d: %w", symbol, period, err)
		}
	}

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, symbol); err != nil {
			s.logger.WarnContext(ctx, "ledger_service: cache invalidate failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
		}
	}

	s.publish(ctx, Event{
		Type:   EventRoundSettled,
		Symbol: symbol,
		Period: period,
		At:     rec.SettledAt,
		Payload: settleEvent{
			Outcome:        rec.Outcome,
			Pool:           rec.Pool.String(),
			Fee:            rec.Fee.String(),
			WinningTickets: rec.WinningTickets,
			Payouts:        len(rec.Payouts),
		},
	})

	s.logger.InfoContext(ctx, "ledger_service: round settled",
		slog.String("symbol", symbol),
		slog.Uint64("period", period),
		slog.String("outcome", string(rec.Outcome)),
		slog.String("pool", rec.Pool.String()),
		slog.String("fee", rec.Fee.String()),
		slog.Int("payouts", len(rec.Payouts)),
	)

	return rec, nil
}

// MarketStats returns a market's current round stats, checking the cache
// first and falling back to the core on a miss.
func (s *LedgerService) MarketStats(ctx context.Context, symbol string) (domain.MarketStats, error) {
	if s.cache != nil {
		if stats, err := s.cache.Get(ctx, symbol); err == nil {
			return stats, nil
		}
	}

	stats, err := s.core.MarketStats(symbol)
	if err != nil {
		return domain.MarketStats{}, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, stats); err != nil {
			s.logger.WarnContext(ctx, "ledger_service: cache set failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
		}
	}

	return stats, nil
}

// CurrentRound returns a copy of a market's current round from the core.
func (s *LedgerService) CurrentRound(symbol string) (domain.Round, error) {
	return s.core.CurrentRound(symbol)
}

// SettledRounds returns the in-memory settled history of a market.
func (s *LedgerService) SettledRounds(symbol string) ([]domain.Round, error) {
	return s.core.SettledRounds(symbol)
}

// SettlementHistory returns a market's full settlement history from the
// persistent store, falling back to in-memory rounds when no store is wired.
func (s *LedgerService) SettlementHistory(ctx context.Context, symbol string) ([]domain.SettlementRecord, error) {
	if s.settlements == nil {
		return nil, fmt.Errorf("ledger_service: settlement store not configured: %w", domain.ErrNotFound)
	}
	recs, err := s.settlements.ListBySymbol(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("ledger_service: settlement history %s: %w", symbol, err)
	}
	return recs, nil
}

// Markets lists the known market symbols.
func (s *LedgerService) Markets() []string {
	return s.core.Markets()
}

// PositionOf returns a participant's open position in a market.
func (s *LedgerService) PositionOf(symbol string, p domain.Participant) (domain.Position, error) {
	return s.core.PositionOf(symbol, p)
}

// PayoutPreview projects a participant's payout from a market's current
// round under each possible outcome.
func (s *LedgerService) PayoutPreview(symbol string, p domain.Participant) (domain.PayoutPreview, error) {
	return s.core.PayoutPreview(symbol, p)
}

// AccountOf returns a participant's cross-market ticket balance and
// accumulated winnings.
func (s *LedgerService) AccountOf(p domain.Participant) domain.Account {
	return domain.Account{
		Participant: p,
		Tickets:     s.core.TicketBalanceOf(p),
		Winnings:    s.core.WinningsOf(p).String(),
	}
}

// TreasuryView is the admin-facing snapshot of house state.
type TreasuryView struct {
	Treasury    string             `json:"treasury"`
	FeeBps      uint32             `json:"fee_bps"`
	TicketPrice string             `json:"ticket_price"`
	Owner       domain.Participant `json:"owner"`
}

// Treasury returns the house treasury snapshot.
func (s *LedgerService) Treasury() TreasuryView {
	return TreasuryView{
		Treasury:    s.core.Treasury().String(),
		FeeBps:      s.core.FeeBps(),
		TicketPrice: s.core.TicketPrice().String(),
		Owner:       s.core.Owner(),
	}
}

// SetFeeBps updates the house fee and publishes a fee_changed event.
func (s *LedgerService) SetFeeBps(ctx context.Context, caller domain.Participant, bps uint32) error {
	if err := s.core.SetFeeBps(caller, bps); err != nil {
		return err
	}
	s.publish(ctx, Event{Type: EventFeeChanged, Payload: map[string]uint32{"fee_bps": bps}})
	return nil
}

// TransferRole hands the owner role to another participant.
func (s *LedgerService) TransferRole(caller, next domain.Participant) error {
	return s.core.TransferRole(caller, next)
}

// refreshStats re-caches a market's current stats, logging on failure.
func (s *LedgerService) refreshStats(ctx context.Context, symbol string) {
	if s.cache == nil {
		return
	}
	stats, err := s.core.MarketStats(symbol)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, stats); err != nil {
		s.logger.WarnContext(ctx, "ledger_service: cache set failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
	}
}

// publish sends an event to the signal bus, logging on failure. Events are
// advisory; a dropped event never fails the operation that produced it.
func (s *LedgerService) publish(ctx context.Context, e Event) {
	if s.bus == nil {
		return
	}
	payload, err := e.marshal()
	if err != nil {
		s.logger.WarnContext(ctx, "ledger_service: event marshal failed",
			slog.String("type", e.Type),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := s.bus.Publish(ctx, EventsChannel, payload); err != nil {
		s.logger.WarnContext(ctx, "ledger_service: event publish failed",
			slog.String("type", e.Type),
			slog.String("error", err.Error()),
		)
	}
}

// poolOf reads a market's current pool for event payloads.
func (s *LedgerService) poolOf(symbol string) string {
	stats, err := s.core.MarketStats(symbol)
	if err != nil {
		return "0"
	}
	return stats.Pool.String()
}
