package postgres

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/barwars/ledgerd/internal/domain"
)

// BetStore implements domain.BetJournal using PostgreSQL. The bigserial seq
// column fixes the replay order.
type BetStore struct {
	pool *pgxpool.Pool
}

// NewBetStore creates a BetStore backed by the given connection pool.
func NewBetStore(pool *pgxpool.Pool) *BetStore {
	return &BetStore{pool: pool}
}

// Append inserts an accepted wager at the end of the journal.
func (s *BetStore) Append(ctx context.Context, rec domain.BetRecord) error {
	const query = `
		INSERT INTO bets (id, symbol, period, participant, side, tickets, paid_wei, placed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.pool.Exec(ctx, query,
		rec.ID, rec.Symbol, int64(rec.Period), rec.Participant.Hex(),
		string(rec.Side), int64(rec.Tickets), rec.Paid.String(), rec.PlacedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append bet %s: %w", rec.ID, err)
	}
	return nil
}

// ListBySymbol returns all journaled wagers for a symbol in insertion order.
func (s *BetStore) ListBySymbol(ctx context.Context, symbol string) ([]domain.BetRecord, error) {
	const query = `
		SELECT id, symbol, period, participant, side, tickets, paid_wei::text, placed_at
		FROM bets
		WHERE symbol = $1
		ORDER BY seq`

	rows, err := s.pool.Query(ctx, query, symbol)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bets %s: %w", symbol, err)
	}
	defer rows.Close()

	var out []domain.BetRecord
	for rows.Next() {
		var (
			rec               domain.BetRecord
			period, tickets   int64
			participant, side string
			paid              string
		)
		if err := rows.Scan(&rec.ID, &rec.Symbol, &period, &participant, &side, &tickets, &paid, &rec.PlacedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan bet: %w", err)
		}
		rec.Period = uint64(period)
		rec.Participant = common.HexToAddress(participant)
		rec.Side = domain.Side(side)
		rec.Tickets = uint64(tickets)
		wei, ok := new(big.Int).SetString(paid, 10)
		if !ok {
			return nil, fmt.Errorf("postgres: bet %s: bad paid_wei %q", rec.ID, paid)
		}
		rec.Paid = wei
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Compile-time interface check.
var _ domain.BetJournal = (*BetStore)(nil)
