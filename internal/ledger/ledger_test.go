package ledger

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/barwars/ledgerd/internal/domain"
)

var (
	owner = domain.Participant{0x01}
	alice = domain.Participant{0xaa}
	bob   = domain.Participant{0xbb}
	carol = domain.Participant{0xcc}
)

// testClock is a manually advanced clock.
type testClock struct {
	t time.Time
}

func (c *testClock) Now() time.Time          { return c.t }
func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLedger(t *testing.T, price int64, feeBps uint32) (*Ledger, *testClock) {
	t.Helper()
	clock := &testClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	l, err := New(Config{
		TicketPrice:   big.NewInt(price),
		FeeBps:        feeBps,
		RoundDuration: 24 * time.Hour,
		Owner:         owner,
	}, clock.Now)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l, clock
}

func mustBet(t *testing.T, l *Ledger, p domain.Participant, symbol string, side domain.Side, tickets int64) {
	t.Helper()
	price := l.TicketPrice()
	paid := new(big.Int).Mul(price, big.NewInt(tickets))
	if _, err := l.PlaceBet(p, 0, symbol, side, uint64(tickets), paid); err != nil {
		t.Fatalf("PlaceBet(%s, %s, %d): %v", symbol, side, tickets, err)
	}
}

func TestGetOrCreateMarket_FreshRound(t *testing.T) {
	l, _ := newTestLedger(t, 1000, 0)

	stats := l.GetOrCreateMarket("BTC")
	if stats.Period != 0 {
		t.Errorf("Period = %d, want 0", stats.Period)
	}
	if stats.State != domain.RoundStateOpen {
		t.Errorf("State = %q, want open", stats.State)
	}
	if stats.Pool.Sign() != 0 {
		t.Errorf("Pool = %v, want 0", stats.Pool)
	}
	// Daily rounds close at the next UTC midnight.
	want := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	if !stats.ClosesAt.Equal(want) {
		t.Errorf("ClosesAt = %v, want %v", stats.ClosesAt, want)
	}
}

func TestMarketStats_UnknownMarket(t *testing.T) {
	l, _ := newTestLedger(t, 1000, 0)

	if _, err := l.MarketStats("DOGE"); !errors.Is(err, domain.ErrUnknownMarket) {
		t.Errorf("err = %v, want ErrUnknownMarket", err)
	}
	// The failed read must not have created the market.
	if got := l.Markets(); len(got) != 0 {
		t.Errorf("Markets() = %v, want empty", got)
	}
}

func TestPlaceBet_PoolInvariant(t *testing.T) {
	l, _ := newTestLedger(t, 1000, 0)

	bets := []struct {
		p       domain.Participant
		side    domain.Side
		tickets int64
	}{
		{alice, domain.SideBull, 2},
		{bob, domain.SideBear, 5},
		{alice, domain.SideBull, 1},
		{carol, domain.SideBear, 3},
	}

	for _, b := range bets {
		mustBet(t, l, b.p, "BTC", b.side, b.tickets)

		stats, err := l.MarketStats("BTC")
		if err != nil {
			t.Fatalf("MarketStats: %v", err)
		}
		want := new(big.Int).Mul(big.NewInt(1000), new(big.Int).SetUint64(stats.BullTickets+stats.BearTickets))
		if stats.Pool.Cmp(want) != 0 {
			t.Errorf("pool = %v, want price*(bull+bear) = %v", stats.Pool, want)
		}
	}

	stats, _ := l.MarketStats("BTC")
	if stats.BullTickets != 3 || stats.BearTickets != 8 {
		t.Errorf("tickets = (%d, %d), want (3, 8)", stats.BullTickets, stats.BearTickets)
	}
}

func TestPlaceBet_InvalidStake(t *testing.T) {
	l, _ := newTestLedger(t, 1000, 0)

	tests := []struct {
		name    string
		side    domain.Side
		tickets uint64
		paid    *big.Int
	}{
		{"underpay", domain.SideBull, 2, big.NewInt(1999)},
		{"overpay", domain.SideBull, 2, big.NewInt(2001)},
		{"zero tickets", domain.SideBull, 0, big.NewInt(0)},
		{"nil paid", domain.SideBull, 1, nil},
		{"bad side", domain.Side("sideways"), 1, big.NewInt(1000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.PlaceBet(alice, 0, "BTC", tt.side, tt.tickets, tt.paid)
			if !errors.Is(err, domain.ErrInvalidStake) {
				t.Errorf("err = %v, want ErrInvalidStake", err)
			}
		})
	}

	// Failed bets must not leave partial state behind.
	stats, err := l.MarketStats("BTC")
	if err == nil {
		if stats.Pool.Sign() != 0 || stats.BullTickets != 0 || stats.BearTickets != 0 {
			t.Errorf("failed bets mutated round: %+v", stats)
		}
	}
	if bal := l.TicketBalanceOf(alice); bal != 0 {
		t.Errorf("ticket balance = %d, want 0", bal)
	}
}

func TestPlaceBet_AfterBoundary(t *testing.T) {
	l, clock := newTestLedger(t, 1000, 0)
	l.GetOrCreateMarket("BTC")

	clock.Advance(24 * time.Hour)

	_, err := l.PlaceBet(alice, 0, "BTC", domain.SideBull, 1, big.NewInt(1000))
	if !errors.Is(err, domain.ErrRoundNotOpen) {
		t.Errorf("err = %v, want ErrRoundNotOpen", err)
	}
}

func TestPlaceBatchBet_EquivalentToSingles(t *testing.T) {
	single, _ := newTestLedger(t, 1000, 0)
	batch, _ := newTestLedger(t, 1000, 0)

	for i := 0; i < 5; i++ {
		mustBet(t, single, alice, "BTC", domain.SideBull, 1)
	}
	if _, err := batch.PlaceBatchBet(alice, 0, "BTC", domain.SideBull, 5, big.NewInt(5000)); err != nil {
		t.Fatalf("PlaceBatchBet: %v", err)
	}

	s1, _ := single.MarketStats("BTC")
	s2, _ := batch.MarketStats("BTC")
	if s1.Pool.Cmp(s2.Pool) != 0 || s1.BullTickets != s2.BullTickets || s1.BearTickets != s2.BearTickets {
		t.Errorf("batch stats %+v != singles stats %+v", s2, s1)
	}

	p1, _ := single.PositionOf("BTC", alice)
	p2, _ := batch.PositionOf("BTC", alice)
	if p1 != p2 {
		t.Errorf("batch position %+v != singles position %+v", p2, p1)
	}
	if single.TicketBalanceOf(alice) != batch.TicketBalanceOf(alice) {
		t.Errorf("ticket balances differ: %d vs %d",
			single.TicketBalanceOf(alice), batch.TicketBalanceOf(alice))
	}
}

func TestPlaceBet_TicketBalanceAggregatesAcrossMarkets(t *testing.T) {
	l, _ := newTestLedger(t, 1000, 0)

	mustBet(t, l, alice, "BTC", domain.SideBull, 2)
	mustBet(t, l, alice, "ETH", domain.SideBear, 3)

	if bal := l.TicketBalanceOf(alice); bal != 5 {
		t.Errorf("ticket balance = %d, want 5", bal)
	}
}

func TestPlaceBet_StaleNonce(t *testing.T) {
	l, _ := newTestLedger(t, 1000, 0)

	if _, err := l.PlaceBet(alice, 7, "BTC", domain.SideBull, 1, big.NewInt(1000)); err != nil {
		t.Fatalf("first bet: %v", err)
	}

	_, err := l.PlaceBet(alice, 7, "BTC", domain.SideBull, 1, big.NewInt(1000))
	if !errors.Is(err, domain.ErrStaleNonce) {
		t.Errorf("duplicate nonce: err = %v, want ErrStaleNonce", err)
	}
	_, err = l.PlaceBet(alice, 3, "BTC", domain.SideBull, 1, big.NewInt(1000))
	if !errors.Is(err, domain.ErrStaleNonce) {
		t.Errorf("lower nonce: err = %v, want ErrStaleNonce", err)
	}

	// Rejected submissions must not mutate the round.
	stats, _ := l.MarketStats("BTC")
	if stats.BullTickets != 1 {
		t.Errorf("BullTickets = %d, want 1", stats.BullTickets)
	}

	// A higher nonce proceeds.
	if _, err := l.PlaceBet(alice, 8, "BTC", domain.SideBull, 1, big.NewInt(1000)); err != nil {
		t.Errorf("higher nonce: %v", err)
	}
}

func TestCloseRound(t *testing.T) {
	l, clock := newTestLedger(t, 1000, 0)
	l.GetOrCreateMarket("BTC")

	// Before the boundary the gate rejects.
	if _, err := l.CloseRound("BTC"); !errors.Is(err, domain.ErrRoundNotClosed) {
		t.Errorf("early close: err = %v, want ErrRoundNotClosed", err)
	}

	clock.Advance(24 * time.Hour)

	r, err := l.CloseRound("BTC")
	if err != nil {
		t.Fatalf("CloseRound: %v", err)
	}
	if r.State != domain.RoundStateClosed {
		t.Errorf("State = %q, want closed", r.State)
	}

	// Idempotent: the second call is a no-op, not an error.
	r2, err := l.CloseRound("BTC")
	if err != nil {
		t.Fatalf("second CloseRound: %v", err)
	}
	if r2.State != domain.RoundStateClosed || r2.Period != r.Period {
		t.Errorf("second close changed state: %+v", r2)
	}

	if _, err := l.CloseRound("DOGE"); !errors.Is(err, domain.ErrUnknownMarket) {
		t.Errorf("unknown market: err = %v, want ErrUnknownMarket", err)
	}
}

func TestSetFeeBps(t *testing.T) {
	l, _ := newTestLedger(t, 1000, 100)

	if err := l.SetFeeBps(alice, 200); !errors.Is(err, domain.ErrNotAuthorized) {
		t.Errorf("non-owner: err = %v, want ErrNotAuthorized", err)
	}
	if err := l.SetFeeBps(owner, 10_001); !errors.Is(err, domain.ErrInvalidFee) {
		t.Errorf("over 100%%: err = %v, want ErrInvalidFee", err)
	}
	if err := l.SetFeeBps(owner, 10_000); err != nil {
		t.Errorf("exactly 100%%: %v", err)
	}
	if err := l.SetFeeBps(owner, 250); err != nil {
		t.Fatalf("SetFeeBps: %v", err)
	}
	if got := l.FeeBps(); got != 250 {
		t.Errorf("FeeBps = %d, want 250", got)
	}
}

func TestTransferRole(t *testing.T) {
	l, _ := newTestLedger(t, 1000, 0)

	if err := l.TransferRole(bob, bob); !errors.Is(err, domain.ErrNotAuthorized) {
		t.Errorf("non-owner transfer: err = %v, want ErrNotAuthorized", err)
	}
	if err := l.TransferRole(owner, bob); err != nil {
		t.Fatalf("TransferRole: %v", err)
	}
	if got := l.Owner(); got != bob {
		t.Errorf("Owner = %v, want %v", got, bob)
	}

	// The old holder lost the role entirely.
	if err := l.SetFeeBps(owner, 100); !errors.Is(err, domain.ErrNotAuthorized) {
		t.Errorf("old owner set fee: err = %v, want ErrNotAuthorized", err)
	}
	if err := l.SetFeeBps(bob, 100); err != nil {
		t.Errorf("new owner set fee: %v", err)
	}
}

func TestMarketIsolation(t *testing.T) {
	l, _ := newTestLedger(t, 1000, 0)

	mustBet(t, l, alice, "BTC", domain.SideBull, 4)
	mustBet(t, l, bob, "ETH", domain.SideBear, 2)

	btc, _ := l.MarketStats("BTC")
	eth, _ := l.MarketStats("ETH")
	if btc.Pool.Cmp(big.NewInt(4000)) != 0 {
		t.Errorf("BTC pool = %v, want 4000", btc.Pool)
	}
	if eth.Pool.Cmp(big.NewInt(2000)) != 0 {
		t.Errorf("ETH pool = %v, want 2000", eth.Pool)
	}
	if btc.BearTickets != 0 || eth.BullTickets != 0 {
		t.Errorf("cross-market leakage: btc=%+v eth=%+v", btc, eth)
	}
}
