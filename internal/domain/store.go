package domain

import (
	"context"
	"io"
	"time"
)

// BetJournal persists accepted wagers in insertion order.
type BetJournal interface {
	Append(ctx context.Context, rec BetRecord) error
	ListBySymbol(ctx context.Context, symbol string) ([]BetRecord, error)
}

// SettlementStore persists the append-only history of settled rounds.
type SettlementStore interface {
	Record(ctx context.Context, rec SettlementRecord) error
	ListBySymbol(ctx context.Context, symbol string) ([]SettlementRecord, error)
	// ListBefore returns settlements settled strictly before the cutoff,
	// for archival.
	ListBefore(ctx context.Context, before time.Time) ([]SettlementRecord, error)
}

// StatsCache provides fast reads of a market's current round stats.
type StatsCache interface {
	Set(ctx context.Context, stats MarketStats) error
	Get(ctx context.Context, symbol string) (MarketStats, error)
	Invalidate(ctx context.Context, symbol string) error
}

// LockManager provides distributed locking so redundant settlement triggers
// collapse to a single winner.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub fan-out of ledger lifecycle events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// BlobWriter uploads serialized objects to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Resolver decides a round's outcome from external price data. The ledger
// trusts the returned outcome completely.
type Resolver interface {
	Decide(ctx context.Context, symbol string, window RoundWindow) (Outcome, error)
}
