package ledger

import (
	"fmt"
	"math/big"
	"time"

	"github.com/barwars/ledgerd/internal/domain"
)

// payoutPlan is the fully computed result of a settlement before any balance
// is touched. Building the whole plan first keeps the commit all-or-nothing:
// nothing below the plan construction can fail.
type payoutPlan struct {
	outcome        domain.Outcome
	winningTickets uint64
	fee            *big.Int // house take incl. rounding residue
	entries        []domain.PayoutEntry
}

// Settle resolves the given period of symbol with the resolver's outcome,
// credits payouts, consumes every participant's tickets for that round, and
// opens the next round. Only the owner role may settle; the round must be
// CLOSED; a period already in history fails with ErrAlreadySettled.
//
// A BULL or BEAR outcome with zero tickets on the winning side is downgraded
// to VOID: both sides are refunded in full and no fee is taken.
func (l *Ledger) Settle(caller domain.Participant, symbol string, period uint64, outcome domain.Outcome) (domain.SettlementRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.applySettle(l.now(), caller, symbol, period, outcome)
}

func (l *Ledger) applySettle(now time.Time, caller domain.Participant, symbol string, period uint64, outcome domain.Outcome) (domain.SettlementRecord, error) {
	if caller != l.owner {
		return domain.SettlementRecord{}, fmt.Errorf("ledger: settle %s: %w", symbol, domain.ErrNotAuthorized)
	}
	m, ok := l.markets[symbol]
	if !ok {
		return domain.SettlementRecord{}, fmt.Errorf("ledger: %s: %w", symbol, domain.ErrUnknownMarket)
	}
	if !outcome.Settleable() {
		return domain.SettlementRecord{}, fmt.Errorf("ledger: outcome %q: %w", outcome, domain.ErrInvalidOutcome)
	}
	if period < m.current.Period {
		return domain.SettlementRecord{}, fmt.Errorf("ledger: %s period %d: %w", symbol, period, domain.ErrAlreadySettled)
	}
	if period > m.current.Period {
		return domain.SettlementRecord{}, fmt.Errorf("ledger: %s period %d: %w", symbol, period, domain.ErrNotFound)
	}
	r := m.current
	if r.State != domain.RoundStateClosed {
		return domain.SettlementRecord{}, fmt.Errorf("ledger: %s period %d is %s: %w", symbol, period, r.State, domain.ErrRoundNotClosed)
	}

	plan := l.buildPlan(m, r, outcome)

	// Commit. Credit every payout, then consume the round's tickets.
	for _, e := range plan.entries {
		w, ok := l.winnings[e.Participant]
		if !ok {
			w = new(big.Int)
			l.winnings[e.Participant] = w
		}
		w.Add(w, e.Amount)
	}
	for _, p := range m.bettors[period] {
		l.tickets[p] -= m.positions[period][p].Tickets()
	}
	delete(m.positions, period)
	delete(m.bettors, period)
	l.treasury.Add(l.treasury, plan.fee)

	r.State = domain.RoundStateSettled
	r.Outcome = plan.outcome
	r.Fee = new(big.Int).Set(plan.fee)
	settledAt := now
	r.SettledAt = &settledAt
	m.history = append(m.history, copyRound(r))
	m.current = l.openRound(symbol, period+1, now)

	return domain.SettlementRecord{
		Symbol:         symbol,
		Period:         period,
		Outcome:        plan.outcome,
		Pool:           new(big.Int).Set(r.Pool),
		Fee:            new(big.Int).Set(plan.fee),
		WinningTickets: plan.winningTickets,
		Payouts:        plan.entries,
		SettledAt:      settledAt,
	}, nil
}

// buildPlan computes every payout of the settlement without mutating state.
// Caller must hold l.mu.
func (l *Ledger) buildPlan(m *market, r *domain.Round, outcome domain.Outcome) payoutPlan {
	var winning uint64
	switch outcome {
	case domain.OutcomeBull:
		winning = r.BullTickets
	case domain.OutcomeBear:
		winning = r.BearTickets
	}

	// No winner to receive the pool: refund both sides in full, no fee.
	if outcome == domain.OutcomeVoid || winning == 0 {
		plan := payoutPlan{outcome: domain.OutcomeVoid, fee: new(big.Int)}
		for _, p := range m.bettors[r.Period] {
			pos := m.positions[r.Period][p]
			refund := new(big.Int).Mul(l.price, new(big.Int).SetUint64(pos.Tickets()))
			plan.entries = append(plan.entries, domain.PayoutEntry{
				Participant: p,
				Tickets:     pos.Tickets(),
				Amount:      refund,
			})
		}
		return plan
	}

	fee := new(big.Int).Mul(r.Pool, big.NewInt(int64(l.feeBps)))
	fee.Div(fee, big.NewInt(feeDenominator))
	distributable := new(big.Int).Sub(r.Pool, fee)

	plan := payoutPlan{outcome: outcome, winningTickets: winning}
	paidOut := new(big.Int)
	winningBig := new(big.Int).SetUint64(winning)
	for _, p := range m.bettors[r.Period] {
		pos := m.positions[r.Period][p]
		var held uint64
		if outcome == domain.OutcomeBull {
			held = pos.BullTickets
		} else {
			held = pos.BearTickets
		}
		if held == 0 {
			continue
		}
		// Floor division: the sum over all winners never exceeds the
		// distributable pool; the remainder accrues to the house.
		amount := new(big.Int).Mul(distributable, new(big.Int).SetUint64(held))
		amount.Div(amount, winningBig)
		paidOut.Add(paidOut, amount)
		plan.entries = append(plan.entries, domain.PayoutEntry{
			Participant: p,
			Tickets:     held,
			Amount:      amount,
		})
	}

	residue := new(big.Int).Sub(distributable, paidOut)
	plan.fee = fee.Add(fee, residue)
	return plan
}

// PayoutPreview projects the amount p would receive from symbol's current
// round under each outcome, given the pool as it stands now. A participant
// with no open position gets zero previews.
func (l *Ledger) PayoutPreview(symbol string, p domain.Participant) (domain.PayoutPreview, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.markets[symbol]
	if !ok {
		return domain.PayoutPreview{}, fmt.Errorf("ledger: %s: %w", symbol, domain.ErrUnknownMarket)
	}
	r := m.current
	pv := domain.PayoutPreview{
		Symbol: symbol,
		Period: r.Period,
		IfBull: new(big.Int),
		IfBear: new(big.Int),
		IfVoid: new(big.Int),
	}
	pos, ok := m.positions[r.Period][p]
	if !ok {
		return pv, nil
	}
	refund := new(big.Int).Mul(l.price, new(big.Int).SetUint64(pos.Tickets()))
	pv.IfVoid.Set(refund)
	pv.IfBull = l.projectShare(r, pos.BullTickets, r.BullTickets, refund)
	pv.IfBear = l.projectShare(r, pos.BearTickets, r.BearTickets, refund)
	return pv, nil
}

// projectShare is the preview counterpart of buildPlan's winner math: floor
// share of the distributable pool, or the full refund when the winning side
// would be empty (such a settlement downgrades to VOID).
func (l *Ledger) projectShare(r *domain.Round, held, winning uint64, refund *big.Int) *big.Int {
	if winning == 0 {
		return new(big.Int).Set(refund)
	}
	fee := new(big.Int).Mul(r.Pool, big.NewInt(int64(l.feeBps)))
	fee.Div(fee, big.NewInt(feeDenominator))
	distributable := new(big.Int).Sub(r.Pool, fee)
	amount := new(big.Int).Mul(distributable, new(big.Int).SetUint64(held))
	return amount.Div(amount, new(big.Int).SetUint64(winning))
}

// ReplayBet re-applies a journaled bet with its recorded timestamp. Sequence
// nonces are session state and are not replayed.
func (l *Ledger) ReplayBet(rec domain.BetRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.applyBet(rec.PlacedAt, rec.Participant, 0, rec.Symbol, rec.Side, rec.Tickets, rec.Paid)
	return err
}

// ReplaySettlement re-applies a recorded settlement: it closes the round at
// the recorded time and settles it with the recorded outcome, acting as the
// current owner.
func (l *Ledger) ReplaySettlement(rec domain.SettlementRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.markets[rec.Symbol]; !ok {
		// No journaled bets preceded this settlement, so the market does
		// not exist yet. Open it one duration back so its first boundary
		// has already passed at the recorded settlement time.
		l.getOrCreate(rec.Symbol, rec.SettledAt.Add(-l.duration))
	}
	if _, err := l.applyClose(rec.SettledAt, rec.Symbol); err != nil {
		return err
	}
	_, err := l.applySettle(rec.SettledAt, l.owner, rec.Symbol, rec.Period, rec.Outcome)
	return err
}
