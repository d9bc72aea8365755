// Package domain defines the core types shared by the ledger, its stores,
// caches, and transport layers.
package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Side is the direction of a wager within a round.
type Side string

const (
	SideBull Side = "bull"
	SideBear Side = "bear"
)

// Valid reports whether the side is one a bet may be placed on.
func (s Side) Valid() bool {
	return s == SideBull || s == SideBear
}

// RoundState represents the lifecycle state of a round.
type RoundState string

const (
	RoundStateOpen    RoundState = "open"
	RoundStateClosed  RoundState = "closed"
	RoundStateSettled RoundState = "settled"
)

// Outcome is the resolved result of a settled round.
type Outcome string

const (
	OutcomeUndecided Outcome = "undecided"
	OutcomeBull      Outcome = "bull"
	OutcomeBear      Outcome = "bear"
	OutcomeVoid      Outcome = "void"
)

// Settleable reports whether the outcome may be submitted to settlement.
func (o Outcome) Settleable() bool {
	return o == OutcomeBull || o == OutcomeBear || o == OutcomeVoid
}

// Round is one bounded wagering window of a market. Once settled it is
// immutable history; the market's current round is always open or closed.
type Round struct {
	Symbol      string     `json:"symbol"`
	Period      uint64     `json:"period"`
	State       RoundState `json:"state"`
	OpenedAt    time.Time  `json:"opened_at"`
	ClosesAt    time.Time  `json:"closes_at"`
	Pool        *big.Int   `json:"pool"` // wei staked by both sides
	BullTickets uint64     `json:"bull_tickets"`
	BearTickets uint64     `json:"bear_tickets"`
	Outcome     Outcome    `json:"outcome"`
	Fee         *big.Int   `json:"fee"` // wei retained at settlement, incl. rounding residue
	SettledAt   *time.Time `json:"settled_at,omitempty"`
}

// Window returns the settlement window the round covers.
func (r Round) Window() RoundWindow {
	return RoundWindow{Start: r.OpenedAt, End: r.ClosesAt}
}

// RoundWindow is the time span a resolver classifies price action over.
type RoundWindow struct {
	Start time.Time
	End   time.Time
}

// MarketStats is the read-only view of a market's current round.
type MarketStats struct {
	Symbol      string     `json:"symbol"`
	Period      uint64     `json:"period"`
	State       RoundState `json:"state"`
	Pool        *big.Int   `json:"pool"`
	BullTickets uint64     `json:"bull_tickets"`
	BearTickets uint64     `json:"bear_tickets"`
	ClosesAt    time.Time  `json:"closes_at"`
}

// Participant is an opaque, host-authenticated account identity.
type Participant = common.Address
