package domain

import "math/big"

// Position is a participant's ticket holding on one round of one market. It
// is a derived view over the bet log: it only grows while the round is open
// and is consumed in full when the round settles.
type Position struct {
	Symbol      string      `json:"symbol"`
	Period      uint64      `json:"period"`
	Participant Participant `json:"participant"`
	BullTickets uint64      `json:"bull_tickets"`
	BearTickets uint64      `json:"bear_tickets"`
}

// Tickets returns the total tickets held across both sides.
func (p Position) Tickets() uint64 {
	return p.BullTickets + p.BearTickets
}

// PayoutPreview projects what a participant would receive from a market's
// current round under each outcome, at the pool's present size. The figures
// shift as further bets change the pool; they are a display aid, not a
// quote.
type PayoutPreview struct {
	Symbol string   `json:"symbol"`
	Period uint64   `json:"period"`
	IfBull *big.Int `json:"if_bull"` // wei
	IfBear *big.Int `json:"if_bear"` // wei
	IfVoid *big.Int `json:"if_void"` // wei
}

// Account is a participant's cross-market balance view: unredeemed tickets
// over all open rounds plus realized winnings in wei.
type Account struct {
	Participant Participant `json:"participant"`
	Tickets     uint64      `json:"tickets"`
	Winnings    string      `json:"winnings"` // wei, decimal string
}
