package service

import (
	"encoding/json"
	"time"

	"github.com/barwars/ledgerd/internal/domain"
)

// EventsChannel is the pub/sub channel lifecycle events are published on.
const EventsChannel = "ledger:events"

// Event types published on EventsChannel.
const (
	EventBetPlaced    = "bet_placed"
	EventRoundClosed  = "round_closed"
	EventRoundSettled = "round_settled"
	EventFeeChanged   = "fee_changed"
)

// Event is the wire form of a ledger lifecycle notification. Consumers key
// off Type; Symbol and Period identify the affected round where relevant.
type Event struct {
	Type    string    `json:"type"`
	Symbol  string    `json:"symbol,omitempty"`
	Period  uint64    `json:"period,omitempty"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload,omitempty"`
}

func (e Event) marshal() ([]byte, error) {
	return json.Marshal(e)
}

// betEvent is the payload of a bet_placed event.
type betEvent struct {
	Participant domain.Participant `json:"participant"`
	Side        domain.Side        `json:"side"`
	Tickets     uint64             `json:"tickets"`
	Pool        string             `json:"pool"`
}

// settleEvent is the payload of a round_settled event.
type settleEvent struct {
	Outcome        domain.Outcome `json:"outcome"`
	Pool           string         `json:"pool"`
	Fee            string         `json:"fee"`
	WinningTickets uint64         `json:"winning_tickets"`
	Payouts        int            `json:"payouts"`
}
