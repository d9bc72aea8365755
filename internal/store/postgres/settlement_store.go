package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/barwars/ledgerd/internal/domain"
)

// SettlementStore implements domain.SettlementStore using PostgreSQL.
type SettlementStore struct {
	pool *pgxpool.Pool
}

// NewSettlementStore creates a SettlementStore backed by the given pool.
func NewSettlementStore(pool *pgxpool.Pool) *SettlementStore {
	return &SettlementStore{pool: pool}
}

// Record inserts a settled round. (symbol, period) is the primary key, so a
// duplicate record for an already settled round fails rather than silently
// rewriting history.
func (s *SettlementStore) Record(ctx context.Context, rec domain.SettlementRecord) error {
	payouts, err := json.Marshal(rec.Payouts)
	if err != nil {
		return fmt.Errorf("postgres: marshal payouts %s/%d: %w", rec.Symbol, rec.Period, err)
	}

	const query = `
		INSERT INTO settlements (symbol, period, outcome, pool_wei, fee_wei, winning_tickets, payouts, settled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = s.pool.Exec(ctx, query,
		rec.Symbol, int64(rec.Period), string(rec.Outcome),
		rec.Pool.String(), rec.Fee.String(), int64(rec.WinningTickets),
		payouts, rec.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: record settlement %s/%d: %w", rec.Symbol, rec.Period, err)
	}
	return nil
}

const settlementSelectCols = `symbol, period, outcome, pool_wei::text, fee_wei::text, winning_tickets, payouts, settled_at`

func scanSettlementRows(rows pgx.Rows) ([]domain.SettlementRecord, error) {
	var out []domain.SettlementRecord
	for rows.Next() {
		var (
			rec             domain.SettlementRecord
			period, winning int64
			outcome         string
			pool, fee       string
			payouts         []byte
		)
		if err := rows.Scan(&rec.Symbol, &period, &outcome, &pool, &fee, &winning, &payouts, &rec.SettledAt); err != nil {
			return nil, fmt.Errorf("postgres: scan settlement: %w", err)
		}
		rec.Period = uint64(period)
		rec.Outcome = domain.Outcome(outcome)
		rec.WinningTickets = uint64(winning)

		var ok bool
		if rec.Pool, ok = new(big.Int).SetString(pool, 10); !ok {
			return nil, fmt.Errorf("postgres: settlement %s/%d: bad pool_wei %q", rec.Symbol, rec.Period, pool)
		}
		if rec.Fee, ok = new(big.Int).SetString(fee, 10); !ok {
			return nil, fmt.Errorf("postgres: settlement %s/%d: bad fee_wei %q", rec.Symbol, rec.Period, fee)
		}
		if err := json.Unmarshal(payouts, &rec.Payouts); err != nil {
			return nil, fmt.Errorf("postgres: settlement %s/%d: payouts: %w", rec.Symbol, rec.Period, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListBySymbol returns a symbol's settlements in period order.
func (s *SettlementStore) ListBySymbol(ctx context.Context, symbol string) ([]domain.SettlementRecord, error) {
	query := `
		SELECT ` + settlementSelectCols + `
		FROM settlements
		WHERE symbol = $1
		ORDER BY period`

	rows, err := s.pool.Query(ctx, query, symbol)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settlements %s: %w", symbol, err)
	}
	defer rows.Close()
	return scanSettlementRows(rows)
}

// ListBefore returns settlements settled strictly before the cutoff, oldest
// first, for archival.
func (s *SettlementStore) ListBefore(ctx context.Context, before time.Time) ([]domain.SettlementRecord, error) {
	query := `
		SELECT ` + settlementSelectCols + `
		FROM settlements
		WHERE settled_at < $1
		ORDER BY settled_at`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settlements before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()
	return scanSettlementRows(rows)
}

// Compile-time interface check.
var _ domain.SettlementStore = (*SettlementStore)(nil)
