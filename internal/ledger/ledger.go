// Package ledger implements the parimutuel accounting core: a single
// deterministic state machine that tracks per-market rounds, positions,
// ticket balances, and settlement payouts. All operations apply in one total
// order under a single mutex and either complete fully or fail fast with a
// typed error from the domain package; no operation blocks internally.
package ledger

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/barwars/ledgerd/internal/domain"
)

// feeDenominator converts basis points to a fraction.
const feeDenominator = 10_000

// Config holds the immutable parameters of a ledger instance.
type Config struct {
	// TicketPrice is the exact wei price of one ticket.
	TicketPrice *big.Int

	// FeeBps is the initial house fee in basis points of the pool.
	FeeBps uint32

	// RoundDuration aligns round boundaries; the default of 24h closes
	// rounds at UTC midnight.
	RoundDuration time.Duration

	// Owner is the initial resolver/owner identity.
	Owner domain.Participant
}

// market is the per-symbol round ledger. Each market's accounting is fully
// isolated; funds never mix across symbols.
type market struct {
	symbol  string
	current *domain.Round
	history []domain.Round

	// positions and bettors are keyed by period. bettors preserves
	// first-bet order so payout computation is deterministic.
	positions map[uint64]map[domain.Participant]*domain.Position
	bettors   map[uint64][]domain.Participant
}

// Ledger is the deterministic accounting and settlement state machine.
type Ledger struct {
	mu sync.Mutex

	now      func() time.Time
	price    *big.Int
	duration time.Duration

	feeBps uint32
	owner  domain.Participant

	markets map[string]*market
	symbols []string

	tickets  map[domain.Participant]uint64
	winnings map[domain.Participant]*big.Int
	nonces   map[domain.Participant]uint64
	treasury *big.Int
}

// New creates a Ledger from cfg. The clock is injectable so hosts and tests
// supply their own time source; pass nil for time.Now.
func New(cfg Config, clock func() time.Time) (*Ledger, error) {
	if cfg.TicketPrice == nil || cfg.TicketPrice.Sign() <= 0 {
		return nil, fmt.Errorf("ledger: ticket price must be positive: %w", domain.ErrInvalidStake)
	}
	if cfg.FeeBps > feeDenominator {
		return nil, fmt.Errorf("ledger: fee %d bps: %w", cfg.FeeBps, domain.ErrInvalidFee)
	}
	if clock == nil {
		clock = time.Now
	}
	dur := cfg.RoundDuration
	if dur <= 0 {
		dur = 24 * time.Hour
	}

	return &Ledger{
		now:      clock,
		price:    new(big.Int).Set(cfg.TicketPrice),
		duration: dur,
		feeBps:   cfg.FeeBps,
		owner:    cfg.Owner,
		markets:  make(map[string]*market),
		tickets:  make(map[domain.Participant]uint64),
		winnings: make(map[domain.Participant]*big.Int),
		nonces:   make(map[domain.Participant]uint64),
		treasury: new(big.Int),
	}, nil
}

// nextBoundary returns the first round boundary strictly after t.
func (l *Ledger) nextBoundary(t time.Time) time.Time {
	return t.UTC().Truncate(l.duration).Add(l.duration)
}

// openRound creates a fresh OPEN round for the given period.
func (l *Ledger) openRound(symbol string, period uint64, at time.Time) *domain.Round {
	return &domain.Round{
		Symbol:   symbol,
		Period:   period,
		State:    domain.RoundStateOpen,
		OpenedAt: at,
		ClosesAt: l.nextBoundary(at),
		Pool:     new(big.Int),
		Outcome:  domain.OutcomeUndecided,
	}
}

// getOrCreate returns the market for symbol, creating it with an OPEN round
// at period 0 on first reference.
func (l *Ledger) getOrCreate(symbol string, at time.Time) *market {
	if m, ok := l.markets[symbol]; ok {
		return m
	}
	m := &market{
		symbol:    symbol,
		current:   l.openRound(symbol, 0, at),
		positions: make(map[uint64]map[domain.Participant]*domain.Position),
		bettors:   make(map[uint64][]domain.Participant),
	}
	l.markets[symbol] = m
	l.symbols = append(l.symbols, symbol)
	return m
}

// GetOrCreateMarket initializes the market for symbol if needed and returns
// its current round stats.
func (l *Ledger) GetOrCreateMarket(symbol string) domain.MarketStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	m := l.getOrCreate(symbol, l.now())
	return statsOf(m.current)
}

// MarketStats returns the current round stats for symbol. It is a pure read:
// an uninitialized symbol fails with ErrUnknownMarket rather than creating
// the market.
func (l *Ledger) MarketStats(symbol string) (domain.MarketStats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.markets[symbol]
	if !ok {
		return domain.MarketStats{}, fmt.Errorf("ledger: %s: %w", symbol, domain.ErrUnknownMarket)
	}
	return statsOf(m.current), nil
}

// CurrentRound returns a copy of symbol's active round.
func (l *Ledger) CurrentRound(symbol string) (domain.Round, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.markets[symbol]
	if !ok {
		return domain.Round{}, fmt.Errorf("ledger: %s: %w", symbol, domain.ErrUnknownMarket)
	}
	return copyRound(m.current), nil
}

// SettledRounds returns copies of symbol's settled round history in period
// order.
func (l *Ledger) SettledRounds(symbol string) ([]domain.Round, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.markets[symbol]
	if !ok {
		return nil, fmt.Errorf("ledger: %s: %w", symbol, domain.ErrUnknownMarket)
	}
	out := make([]domain.Round, 0, len(m.history))
	for i := range m.history {
		out = append(out, copyRound(&m.history[i]))
	}
	return out, nil
}

// Markets returns all initialized symbols in creation order.
func (l *Ledger) Markets() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.symbols))
	copy(out, l.symbols)
	return out
}

// PositionOf returns the participant's position on symbol's current round.
func (l *Ledger) PositionOf(symbol string, p domain.Participant) (domain.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.markets[symbol]
	if !ok {
		return domain.Position{}, fmt.Errorf("ledger: %s: %w", symbol, domain.ErrUnknownMarket)
	}
	pos := domain.Position{Symbol: symbol, Period: m.current.Period, Participant: p}
	if held, ok := m.positions[m.current.Period][p]; ok {
		pos.BullTickets = held.BullTickets
		pos.BearTickets = held.BearTickets
	}
	return pos, nil
}

// TicketBalanceOf returns the participant's fungible unredeemed ticket
// balance across all markets.
func (l *Ledger) TicketBalanceOf(p domain.Participant) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tickets[p]
}

// WinningsOf returns the participant's realized winnings balance in wei.
func (l *Ledger) WinningsOf(p domain.Participant) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if w, ok := l.winnings[p]; ok {
		return new(big.Int).Set(w)
	}
	return new(big.Int)
}

// Treasury returns the accrued house balance: fees plus rounding residue.
func (l *Ledger) Treasury() *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.treasury)
}

// TicketPrice returns the fixed wei price of one ticket.
func (l *Ledger) TicketPrice() *big.Int {
	return new(big.Int).Set(l.price)
}

// FeeBps returns the current house fee in basis points.
func (l *Ledger) FeeBps() uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.feeBps
}

// Owner returns the current resolver/owner identity.
func (l *Ledger) Owner() domain.Participant {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.owner
}

// PlaceBet stakes tickets on one side of symbol's current open round. The
// paid value must equal exactly ticket price times count. A non-zero nonce
// must be strictly greater than the caller's last accepted nonce. On any
// failure no state is mutated.
func (l *Ledger) PlaceBet(caller domain.Participant, nonce uint64, symbol string, side domain.Side, tickets uint64, paid *big.Int) (domain.BetRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.applyBet(l.now(), caller, nonce, symbol, side, tickets, paid)
}

// PlaceBatchBet is PlaceBet with a combined ticket count. Its final state is
// identical to the same count of sequential single-ticket bets.
func (l *Ledger) PlaceBatchBet(caller domain.Participant, nonce uint64, symbol string, side domain.Side, tickets uint64, paid *big.Int) (domain.BetRecord, error) {
	return l.PlaceBet(caller, nonce, symbol, side, tickets, paid)
}

// applyBet holds the bet logic with an explicit timestamp so journal replay
// can reuse it. Caller must hold l.mu.
func (l *Ledger) applyBet(now time.Time, caller domain.Participant, nonce uint64, symbol string, side domain.Side, tickets uint64, paid *big.Int) (domain.BetRecord, error) {
	if !side.Valid() {
		return domain.BetRecord{}, fmt.Errorf("ledger: side %q: %w", side, domain.ErrInvalidStake)
	}
	if tickets == 0 {
		return domain.BetRecord{}, fmt.Errorf("ledger: zero tickets: %w", domain.ErrInvalidStake)
	}
	want := new(big.Int).Mul(l.price, new(big.Int).SetUint64(tickets))
	if paid == nil || paid.Cmp(want) != 0 {
		return domain.BetRecord{}, fmt.Errorf("ledger: paid %v, want %v: %w", paid, want, domain.ErrInvalidStake)
	}

	m := l.getOrCreate(symbol, now)
	r := m.current
	if r.State != domain.RoundStateOpen || !now.Before(r.ClosesAt) {
		return domain.BetRecord{}, fmt.Errorf("ledger: %s period %d: %w", symbol, r.Period, domain.ErrRoundNotOpen)
	}
	if nonce != 0 && nonce <= l.nonces[caller] {
		return domain.BetRecord{}, fmt.Errorf("ledger: nonce %d <= %d: %w", nonce, l.nonces[caller], domain.ErrStaleNonce)
	}

	// All preconditions hold; every mutation below must happen.
	if nonce != 0 {
		l.nonces[caller] = nonce
	}
	switch side {
	case domain.SideBull:
		r.BullTickets += tickets
	case domain.SideBear:
		r.BearTickets += tickets
	}
	r.Pool.Add(r.Pool, want)

	byP := m.positions[r.Period]
	if byP == nil {
		byP = make(map[domain.Participant]*domain.Position)
		m.positions[r.Period] = byP
	}
	pos, ok := byP[caller]
	if !ok {
		pos = &domain.Position{Symbol: symbol, Period: r.Period, Participant: caller}
		byP[caller] = pos
		m.bettors[r.Period] = append(m.bettors[r.Period], caller)
	}
	if side == domain.SideBull {
		pos.BullTickets += tickets
	} else {
		pos.BearTickets += tickets
	}
	l.tickets[caller] += tickets

	return domain.BetRecord{
		Symbol:      symbol,
		Period:      r.Period,
		Participant: caller,
		Side:        side,
		Tickets:     tickets,
		Paid:        want,
		PlacedAt:    now,
	}, nil
}

// CloseRound transitions symbol's current round OPEN -> CLOSED once its
// boundary has passed. Anyone may call it; repeat calls after the first are
// no-ops. Calling before the boundary fails with ErrRoundNotClosed.
func (l *Ledger) CloseRound(symbol string) (domain.Round, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.applyClose(l.now(), symbol)
}

func (l *Ledger) applyClose(now time.Time, symbol string) (domain.Round, error) {
	m, ok := l.markets[symbol]
	if !ok {
		return domain.Round{}, fmt.Errorf("ledger: %s: %w", symbol, domain.ErrUnknownMarket)
	}
	r := m.current
	if r.State == domain.RoundStateClosed {
		return copyRound(r), nil
	}
	if now.Before(r.ClosesAt) {
		return domain.Round{}, fmt.Errorf("ledger: %s closes at %s: %w", symbol, r.ClosesAt.Format(time.RFC3339), domain.ErrRoundNotClosed)
	}
	r.State = domain.RoundStateClosed
	return copyRound(r), nil
}

// SetFeeBps updates the house fee. Restricted to the owner; values above
// 100% fail with ErrInvalidFee.
func (l *Ledger) SetFeeBps(caller domain.Participant, bps uint32) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if caller != l.owner {
		return fmt.Errorf("ledger: set fee: %w", domain.ErrNotAuthorized)
	}
	if bps > feeDenominator {
		return fmt.Errorf("ledger: %d bps: %w", bps, domain.ErrInvalidFee)
	}
	l.feeBps = bps
	return nil
}

// TransferRole hands the resolver/owner role to a new identity. Only the
// current holder may transfer it.
func (l *Ledger) TransferRole(caller, next domain.Participant) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if caller != l.owner {
		return fmt.Errorf("ledger: transfer role: %w", domain.ErrNotAuthorized)
	}
	l.owner = next
	return nil
}

func statsOf(r *domain.Round) domain.MarketStats {
	return domain.MarketStats{
		Symbol:      r.Symbol,
		Period:      r.Period,
		State:       r.State,
		Pool:        new(big.Int).Set(r.Pool),
		BullTickets: r.BullTickets,
		BearTickets: r.BearTickets,
		ClosesAt:    r.ClosesAt,
	}
}

func copyRound(r *domain.Round) domain.Round {
	out := *r
	out.Pool = new(big.Int).Set(r.Pool)
	if r.Fee != nil {
		out.Fee = new(big.Int).Set(r.Fee)
	}
	if r.SettledAt != nil {
		t := *r.SettledAt
		out.SettledAt = &t
	}
	return out
}
