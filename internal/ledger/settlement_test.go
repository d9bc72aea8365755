package ledger

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/barwars/ledgerd/internal/domain"
)

// closeMarket advances past the boundary and closes symbol's current round.
func closeMarket(t *testing.T, l *Ledger, clock *testClock, symbol string) domain.Round {
	t.Helper()
	clock.Advance(24 * time.Hour)
	r, err := l.CloseRound(symbol)
	if err != nil {
		t.Fatalf("CloseRound(%s): %v", symbol, err)
	}
	return r
}

func payoutOf(rec domain.SettlementRecord, p domain.Participant) *big.Int {
	total := new(big.Int)
	for _, e := range rec.Payouts {
		if e.Participant == p {
			total.Add(total, e.Amount)
		}
	}
	return total
}

func TestSettle_Preconditions(t *testing.T) {
	l, clock := newTestLedger(t, 1000, 0)
	mustBet(t, l, alice, "BTC", domain.SideBull, 1)

	// Settle while still open.
	if _, err := l.Settle(owner, "BTC", 0, domain.OutcomeBull); !errors.Is(err, domain.ErrRoundNotClosed) {
		t.Errorf("open round: err = %v, want ErrRoundNotClosed", err)
	}

	closeMarket(t, l, clock, "BTC")

	// Wrong caller.
	if _, err := l.Settle(alice, "BTC", 0, domain.OutcomeBull); !errors.Is(err, domain.ErrNotAuthorized) {
		t.Errorf("wrong caller: err = %v, want ErrNotAuthorized", err)
	}
	// Unknown market.
	if _, err := l.Settle(owner, "DOGE", 0, domain.OutcomeBull); !errors.Is(err, domain.ErrUnknownMarket) {
		t.Errorf("unknown market: err = %v, want ErrUnknownMarket", err)
	}
	// Invalid outcome.
	if _, err := l.Settle(owner, "BTC", 0, domain.OutcomeUndecided); !errors.Is(err, domain.ErrInvalidOutcome) {
		t.Errorf("undecided: err = %v, want ErrInvalidOutcome", err)
	}
	// Future period.
	if _, err := l.Settle(owner, "BTC", 9, domain.OutcomeBull); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("future period: err = %v, want ErrNotFound", err)
	}

	if _, err := l.Settle(owner, "BTC", 0, domain.OutcomeBull); err != nil {
		t.Fatalf("Settle: %v", err)
	}
	// Settling the same period again fails; only the first application has
	// effect.
	if _, err := l.Settle(owner, "BTC", 0, domain.OutcomeBull); !errors.Is(err, domain.ErrAlreadySettled) {
		t.Errorf("second settle: err = %v, want ErrAlreadySettled", err)
	}
}

// The worked scenario from the payout rule: price=1, bulls A:2 B:1, bears
// C:1, pool=4, fee 10%. Fee floors to 0, A gets 2, B gets 1, and the
// remaining unit accrues to the house, never to a participant.
func TestSettle_ProportionalPayout(t *testing.T) {
	l, clock := newTestLedger(t, 1, 1000)

	mustBet(t, l, alice, "BTC", domain.SideBull, 2)
	mustBet(t, l, bob, "BTC", domain.SideBull, 1)
	mustBet(t, l, carol, "BTC", domain.SideBear, 1)

	closeMarket(t, l, clock, "BTC")

	rec, err := l.Settle(owner, "BTC", 0, domain.OutcomeBull)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}

	if rec.Outcome != domain.OutcomeBull {
		t.Errorf("Outcome = %q, want bull", rec.Outcome)
	}
	if rec.WinningTickets != 3 {
		t.Errorf("WinningTickets = %d, want 3", rec.WinningTickets)
	}
	if got := payoutOf(rec, alice); got.Cmp(big.NewInt(2)) != 0 {
		t.Errorf("alice payout = %v, want 2", got)
	}
	if got := payoutOf(rec, bob); got.Cmp(big.NewInt(1)) != 0 {
		t.Errorf("bob payout = %v, want 1", got)
	}
	if got := payoutOf(rec, carol); got.Sign() != 0 {
		t.Errorf("carol payout = %v, want 0", got)
	}
	if rec.Fee.Cmp(big.NewInt(1)) != 0 {
		t.Errorf("Fee = %v, want 1 (residue to house)", rec.Fee)
	}
	if l.Treasury().Cmp(big.NewInt(1)) != 0 {
		t.Errorf("Treasury = %v, want 1", l.Treasury())
	}

	// Winnings credited, tickets consumed win or lose.
	if got := l.WinningsOf(alice); got.Cmp(big.NewInt(2)) != 0 {
		t.Errorf("alice winnings = %v, want 2", got)
	}
	for _, p := range []domain.Participant{alice, bob, carol} {
		if bal := l.TicketBalanceOf(p); bal != 0 {
			t.Errorf("ticket balance of %v = %d, want 0", p, bal)
		}
	}

	// Next round opened with fresh counters.
	stats, _ := l.MarketStats("BTC")
	if stats.Period != 1 || stats.State != domain.RoundStateOpen {
		t.Errorf("next round = %+v, want open period 1", stats)
	}
	if stats.Pool.Sign() != 0 || stats.BullTickets != 0 || stats.BearTickets != 0 {
		t.Errorf("next round counters not fresh: %+v", stats)
	}
}

// Conservation: sum(payouts) + fee == pool exactly, with the rounding
// residue folded into the fee and bounded by the winning ticket count.
func TestSettle_Conservation(t *testing.T) {
	tests := []struct {
		name   string
		feeBps uint32
		bulls  []int64 // tickets per bull participant
		bears  []int64
	}{
		{"even split no fee", 0, []int64{1, 1}, []int64{2}},
		{"uneven with fee", 500, []int64{3, 2, 2}, []int64{5}},
		{"single winner takes all", 1000, []int64{1}, []int64{7}},
		{"large pools", 250, []int64{97, 31, 5}, []int64{113, 11}},
		{"max fee", 10_000, []int64{2, 3}, []int64{4}},
	}

	participants := []domain.Participant{
		{0x10}, {0x11}, {0x12}, {0x13}, {0x14}, {0x15},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, clock := newTestLedger(t, 1_000_000, tt.feeBps)

			var next int
			var winning int64
			for _, n := range tt.bulls {
				mustBet(t, l, participants[next], "BTC", domain.SideBull, n)
				winning += n
				next++
			}
			for _, n := range tt.bears {
				mustBet(t, l, participants[next], "BTC", domain.SideBear, n)
				next++
			}

			pool, _ := l.MarketStats("BTC")
			closeMarket(t, l, clock, "BTC")

			rec, err := l.Settle(owner, "BTC", 0, domain.OutcomeBull)
			if err != nil {
				t.Fatalf("Settle: %v", err)
			}

			total := new(big.Int).Set(rec.Fee)
			for _, e := range rec.Payouts {
				total.Add(total, e.Amount)
			}
			if total.Cmp(pool.Pool) != 0 {
				t.Errorf("sum(payouts)+fee = %v, want pool %v", total, pool.Pool)
			}

			// Residue is what the fee holds beyond the nominal cut; worst
			// case one wei per winning ticket.
			nominal := new(big.Int).Mul(pool.Pool, big.NewInt(int64(tt.feeBps)))
			nominal.Div(nominal, big.NewInt(10_000))
			residue := new(big.Int).Sub(rec.Fee, nominal)
			if residue.Sign() < 0 {
				t.Errorf("fee %v below nominal %v", rec.Fee, nominal)
			}
			if residue.Cmp(new(big.Int).SetInt64(winning)) > 0 {
				t.Errorf("residue %v exceeds winning tickets %d", residue, winning)
			}
		})
	}
}

func TestSettle_VoidRefundsEveryone(t *testing.T) {
	l, clock := newTestLedger(t, 1000, 2500)

	mustBet(t, l, alice, "BTC", domain.SideBull, 3)
	mustBet(t, l, bob, "BTC", domain.SideBear, 2)

	closeMarket(t, l, clock, "BTC")

	rec, err := l.Settle(owner, "BTC", 0, domain.OutcomeVoid)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}

	if rec.Outcome != domain.OutcomeVoid {
		t.Errorf("Outcome = %q, want void", rec.Outcome)
	}
	if rec.Fee.Sign() != 0 {
		t.Errorf("Fee = %v, want 0 on void", rec.Fee)
	}
	if got := payoutOf(rec, alice); got.Cmp(big.NewInt(3000)) != 0 {
		t.Errorf("alice refund = %v, want 3000", got)
	}
	if got := payoutOf(rec, bob); got.Cmp(big.NewInt(2000)) != 0 {
		t.Errorf("bob refund = %v, want 2000", got)
	}
	if l.Treasury().Sign() != 0 {
		t.Errorf("Treasury = %v, want 0", l.Treasury())
	}
	if bal := l.TicketBalanceOf(alice); bal != 0 {
		t.Errorf("alice tickets = %d, want 0 after void", bal)
	}
}

// A winning side with zero tickets downgrades to VOID: the house must not
// keep stakes it did not earn.
func TestSettle_EmptyWinningSideIsVoid(t *testing.T) {
	l, clock := newTestLedger(t, 1000, 1000)

	mustBet(t, l, alice, "BTC", domain.SideBear, 4)

	closeMarket(t, l, clock, "BTC")

	rec, err := l.Settle(owner, "BTC", 0, domain.OutcomeBull)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if rec.Outcome != domain.OutcomeVoid {
		t.Errorf("Outcome = %q, want void downgrade", rec.Outcome)
	}
	if got := payoutOf(rec, alice); got.Cmp(big.NewInt(4000)) != 0 {
		t.Errorf("alice refund = %v, want 4000", got)
	}
	if rec.Fee.Sign() != 0 {
		t.Errorf("Fee = %v, want 0", rec.Fee)
	}
}

// A market with no bets at all settles as a no-op void and still advances.
func TestSettle_EmptyRoundAdvances(t *testing.T) {
	l, clock := newTestLedger(t, 1000, 1000)
	l.GetOrCreateMarket("ETH")

	closeMarket(t, l, clock, "ETH")

	rec, err := l.Settle(owner, "ETH", 0, domain.OutcomeBull)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if rec.Outcome != domain.OutcomeVoid || len(rec.Payouts) != 0 {
		t.Errorf("empty round settlement = %+v, want void with no payouts", rec)
	}

	stats, _ := l.MarketStats("ETH")
	if stats.Period != 1 {
		t.Errorf("Period = %d, want 1", stats.Period)
	}
}

func TestSettle_HistoryImmutable(t *testing.T) {
	l, clock := newTestLedger(t, 1000, 0)
	mustBet(t, l, alice, "BTC", domain.SideBull, 2)
	closeMarket(t, l, clock, "BTC")
	if _, err := l.Settle(owner, "BTC", 0, domain.OutcomeBull); err != nil {
		t.Fatalf("Settle: %v", err)
	}

	history, err := l.SettledRounds("BTC")
	if err != nil {
		t.Fatalf("SettledRounds: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("len(history) = %d, want 1", len(history))
	}
	got := history[0]
	if got.State != domain.RoundStateSettled || got.Outcome != domain.OutcomeBull {
		t.Errorf("history round = %+v", got)
	}

	// Mutating the returned copy must not touch the ledger's history.
	got.Pool.SetInt64(0)
	again, _ := l.SettledRounds("BTC")
	if again[0].Pool.Cmp(big.NewInt(2000)) != 0 {
		t.Errorf("history pool mutated through returned copy: %v", again[0].Pool)
	}
}

// Replaying the journal into a fresh ledger reproduces balances, treasury,
// and round state exactly.
func TestReplay_Deterministic(t *testing.T) {
	l, clock := newTestLedger(t, 1000, 500)

	var journal []domain.BetRecord
	record := func(p domain.Participant, symbol string, side domain.Side, n int64) {
		paid := new(big.Int).Mul(l.TicketPrice(), big.NewInt(n))
		rec, err := l.PlaceBet(p, 0, symbol, side, uint64(n), paid)
		if err != nil {
			t.Fatalf("PlaceBet: %v", err)
		}
		journal = append(journal, rec)
	}

	record(alice, "BTC", domain.SideBull, 3)
	record(bob, "BTC", domain.SideBear, 2)
	record(carol, "ETH", domain.SideBull, 1)

	closeMarket(t, l, clock, "BTC")
	settled, err := l.Settle(owner, "BTC", 0, domain.OutcomeBear)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}

	record(alice, "BTC", domain.SideBull, 1) // second-period bet

	// Rebuild.
	replayClock := &testClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	fresh, err := New(Config{
		TicketPrice:   big.NewInt(1000),
		FeeBps:        500,
		RoundDuration: 24 * time.Hour,
		Owner:         owner,
	}, replayClock.Now)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for _, rec := range journal[:2] {
		if err := fresh.ReplayBet(rec); err != nil {
			t.Fatalf("ReplayBet: %v", err)
		}
	}
	if err := fresh.ReplayBet(journal[2]); err != nil {
		t.Fatalf("ReplayBet ETH: %v", err)
	}
	if err := fresh.ReplaySettlement(settled); err != nil {
		t.Fatalf("ReplaySettlement: %v", err)
	}
	if err := fresh.ReplayBet(journal[3]); err != nil {
		t.Fatalf("ReplayBet period 1: %v", err)
	}

	for _, p := range []domain.Participant{alice, bob, carol} {
		if a, b := l.TicketBalanceOf(p), fresh.TicketBalanceOf(p); a != b {
			t.Errorf("ticket balance of %v: %d vs replayed %d", p, a, b)
		}
		if a, b := l.WinningsOf(p), fresh.WinningsOf(p); a.Cmp(b) != 0 {
			t.Errorf("winnings of %v: %v vs replayed %v", p, a, b)
		}
	}
	if a, b := l.Treasury(), fresh.Treasury(); a.Cmp(b) != 0 {
		t.Errorf("treasury: %v vs replayed %v", a, b)
	}

	s1, _ := l.MarketStats("BTC")
	s2, _ := fresh.MarketStats("BTC")
	if s1.Period != s2.Period || s1.Pool.Cmp(s2.Pool) != 0 || s1.BullTickets != s2.BullTickets {
		t.Errorf("BTC stats diverge: %+v vs %+v", s1, s2)
	}
}

// A settlement whose round had no journaled bets still replays: the market
// is backfilled so its first boundary precedes the recorded settlement time.
func TestReplaySettlement_BackfillsMarket(t *testing.T) {
	l, clock := newTestLedger(t, 1000, 500)
	l.GetOrCreateMarket("SOL")
	closeMarket(t, l, clock, "SOL")
	settled, err := l.Settle(owner, "SOL", 0, domain.OutcomeVoid)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}

	fresh, err := New(Config{
		TicketPrice:   big.NewInt(1000),
		FeeBps:        500,
		RoundDuration: 24 * time.Hour,
		Owner:         owner,
	}, clock.Now)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := fresh.ReplaySettlement(settled); err != nil {
		t.Fatalf("ReplaySettlement: %v", err)
	}

	stats, err := fresh.MarketStats("SOL")
	if err != nil {
		t.Fatalf("MarketStats: %v", err)
	}
	if stats.Period != 1 {
		t.Errorf("period = %d, want 1", stats.Period)
	}
	history, err := fresh.SettledRounds("SOL")
	if err != nil {
		t.Fatalf("SettledRounds: %v", err)
	}
	if len(history) != 1 || history[0].Outcome != domain.OutcomeVoid {
		t.Fatalf("history = %+v", history)
	}
}

// Previews mirror the settlement math at the pool's current size.
func TestPayoutPreview(t *testing.T) {
	l, _ := newTestLedger(t, 1000, 500)
	mustBet(t, l, alice, "BTC", domain.SideBull, 3)
	mustBet(t, l, bob, "BTC", domain.SideBear, 2)

	pv, err := l.PayoutPreview("BTC", alice)
	if err != nil {
		t.Fatalf("PayoutPreview: %v", err)
	}
	// Pool 5000, fee 250 at 500 bps, distributable 4750. Alice holds all
	// three bull tickets and no bear tickets.
	if pv.IfBull.Cmp(big.NewInt(4750)) != 0 {
		t.Errorf("IfBull = %v, want 4750", pv.IfBull)
	}
	if pv.IfBear.Sign() != 0 {
		t.Errorf("IfBear = %v, want 0", pv.IfBear)
	}
	if pv.IfVoid.Cmp(big.NewInt(3000)) != 0 {
		t.Errorf("IfVoid = %v, want 3000", pv.IfVoid)
	}

	if _, err := l.PayoutPreview("DOGE", alice); !errors.Is(err, domain.ErrUnknownMarket) {
		t.Errorf("unknown market err = %v", err)
	}

	empty, err := l.PayoutPreview("BTC", carol)
	if err != nil {
		t.Fatalf("PayoutPreview(carol): %v", err)
	}
	if empty.IfBull.Sign() != 0 || empty.IfBear.Sign() != 0 || empty.IfVoid.Sign() != 0 {
		t.Errorf("empty position preview = %+v", empty)
	}
}
