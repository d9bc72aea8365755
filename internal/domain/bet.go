package domain

import (
	"math/big"
	"time"
)

// BetRecord is one accepted wager as written to the journal. Replaying the
// journal in insertion order reproduces the ledger state exactly.
type BetRecord struct {
	ID          string      `json:"id"`
	Symbol      string      `json:"symbol"`
	Period      uint64      `json:"period"`
	Participant Participant `json:"participant"`
	Side        Side        `json:"side"`
	Tickets     uint64      `json:"tickets"`
	Paid        *big.Int    `json:"paid"` // wei
	PlacedAt    time.Time   `json:"placed_at"`
}

// PayoutEntry is one participant's credit from a settlement: either a
// proportional share of the distributable pool or a full refund.
type PayoutEntry struct {
	Participant Participant `json:"participant"`
	Tickets     uint64      `json:"tickets"`
	Amount      *big.Int    `json:"amount"` // wei
}

// SettlementRecord is the immutable result of settling one round.
type SettlementRecord struct {
	Symbol         string        `json:"symbol"`
	Period         uint64        `json:"period"`
	Outcome        Outcome       `json:"outcome"`
	Pool           *big.Int      `json:"pool"`
	Fee            *big.Int      `json:"fee"` // incl. rounding residue
	WinningTickets uint64        `json:"winning_tickets"`
	Payouts        []PayoutEntry `json:"payouts"`
	SettledAt      time.Time     `json:"settled_at"`
}
