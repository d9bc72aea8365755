package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/barwars/ledgerd/internal/domain"
)

// statsTTL bounds staleness when invalidation is missed; writes refresh it.
const statsTTL = 30 * time.Second

// StatsCache implements domain.StatsCache using JSON-serialized round stats
// under a per-symbol key.
//
// Key schema:
//
//	round:{symbol} - JSON MarketStats of the current round
type StatsCache struct {
	rdb *redis.Client
}

// NewStatsCache creates a StatsCache backed by the given Client.
func NewStatsCache(c *Client) *StatsCache {
	return &StatsCache{rdb: c.Underlying()}
}

func statsKey(symbol string) string { return "round:" + symbol }

// Set stores the current round stats for the symbol.
func (sc *StatsCache) Set(ctx context.Context, stats domain.MarketStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("redis: marshal stats %s: %w", stats.Symbol, err)
	}
	if err := sc.rdb.Set(ctx, statsKey(stats.Symbol), data, statsTTL).Err(); err != nil {
		return fmt.Errorf("redis: set stats %s: %w", stats.Symbol, err)
	}
	return nil
}

// Get retrieves the cached stats for a symbol. It returns domain.ErrNotFound
// when the key does not exist.
func (sc *StatsCache) Get(ctx context.Context, symbol string) (domain.MarketStats, error) {
	data, err := sc.rdb.Get(ctx, statsKey(symbol)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.MarketStats{}, domain.ErrNotFound
		}
		return domain.MarketStats{}, fmt.Errorf("redis: get stats %s: %w", symbol, err)
	}

	var stats domain.MarketStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return domain.MarketStats{}, fmt.Errorf("redis: unmarshal stats %s: %w", symbol, err)
	}
	return stats, nil
}

// Invalidate drops the cached stats for a symbol.
func (sc *StatsCache) Invalidate(ctx context.Context, symbol string) error {
	if err := sc.rdb.Del(ctx, statsKey(symbol)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate stats %s: %w", symbol, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.StatsCache = (*StatsCache)(nil)
