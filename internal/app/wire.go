package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/barwars/ledgerd/internal/blob/s3"
	"github.com/barwars/ledgerd/internal/cache/redis"
	"github.com/barwars/ledgerd/internal/config"
	"github.com/barwars/ledgerd/internal/domain"
	"github.com/barwars/ledgerd/internal/ledger"
	"github.com/barwars/ledgerd/internal/service"
	"github.com/barwars/ledgerd/internal/store/postgres"
)

// Dependencies bundles everything the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Ledger core and its service wrapper.
	Ledger  *ledger.Ledger
	Service *service.LedgerService

	// Persistence.
	Postgres    *postgres.Client
	BetJournal  domain.BetJournal
	Settlements *postgres.SettlementStore

	// Redis-backed concerns.
	Redis       *redis.Client
	StatsCache  domain.StatsCache
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage.
	BlobWriter domain.BlobWriter
	Archiver   *s3blob.Archiver
}

// needsRedis returns true for modes that cache, lock, or publish events.
func needsRedis(mode string) bool {
	switch mode {
	case "serve", "resolve", "full":
		return true
	default:
		return false
	}
}

// needsS3 returns true for modes that archive settlements.
func needsS3(mode string) bool {
	switch mode {
	case "archive", "full":
		return true
	default:
		return false
	}
}

// Wire constructs the concrete dependency implementations from the given
// configuration and returns them with a cleanup function to be called on
// shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	mode := strings.ToLower(cfg.Mode)

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL (journal and settlement history, all modes) ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	deps.Postgres = pgClient
	deps.BetJournal = postgres.NewBetStore(pgClient.Pool())
	deps.Settlements = postgres.NewSettlementStore(pgClient.Pool())

	// --- Redis ---
	if needsRedis(mode) {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Redis = redisClient
		deps.StatsCache = redis.NewStatsCache(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
	}

	// --- S3 blob storage ---
	if needsS3(mode) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.Settlements, logger)
	}

	// --- Accounting core ---
	price, err := cfg.Ledger.TicketPrice()
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	owner, err := cfg.Ledger.OwnerAddress()
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	core, err := ledger.New(ledger.Config{
		TicketPrice:   price,
		FeeBps:        cfg.Ledger.FeeBps,
		RoundDuration: cfg.Ledger.RoundDuration.Duration,
		Owner:         owner,
	}, nil)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: ledger: %w", err)
	}

	deps.Ledger = core
	deps.Service = service.NewLedgerService(
		core,
		deps.BetJournal,
		deps.Settlements,
		deps.StatsCache,
		deps.SignalBus,
		logger,
	)

	// Rebuild historical state first, then seed any market the journal has
	// never seen. The order matters: replayed rounds open at their recorded
	// times, while fresh markets open at the current clock.
	if err := deps.Service.Restore(ctx, cfg.Ledger.Markets); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: restore: %w", err)
	}
	for _, symbol := range cfg.Ledger.Markets {
		core.GetOrCreateMarket(symbol)
	}

	return deps, cleanup, nil
}
