// Package app opens the storage backends named by the configuration and
// builds the orchestrator on top of them.
package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"matrix-comp/internal/config"
	"matrix-comp/internal/ledger"
	"matrix-comp/internal/orchestrator"
	chstore "matrix-comp/internal/storage/clickhouse"
	pgstore "matrix-comp/internal/storage/postgres"
	redisstore "matrix-comp/internal/storage/redis"
)

// Runtime holds the opened stores and the connections behind them.
type Runtime struct {
	Stores orchestrator.Stores
	Sinks  []ledger.Sink // best-effort sinks behind the event store

	closers []func()
}

// Open connects every backend the configuration enables.
func Open(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Runtime, error) {
	rt := &Runtime{}

	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		rt.closers = append(rt.closers, pool.Close)
		rt.Stores = orchestrator.Stores{
			Participants: pgstore.NewParticipantStore(pool),
			TierHistory:  pgstore.NewTierHistoryStore(pool),
			Matrix:       pgstore.NewMatrixStore(pool),
			Investments:  pgstore.NewInvestmentStore(pool),
			Commissions:  pgstore.NewCommissionStore(pool),
			Withdrawals:  pgstore.NewWithdrawalStore(pool),
			CapLedger:    pgstore.NewCapLedger(pool),
			Payouts:      pgstore.NewProfitPayoutStore(pool),
			Events:       pgstore.NewLedgerEventStore(pool),
			Backend:      config.BackendPostgres,
		}
		logger.Info().Str("backend", "postgres").Msg("stores opened")
	default:
		rt.Stores = orchestrator.NewMemoryStores()
		logger.Info().Str("backend", "memory").Msg("stores opened")
	}

	if cfg.Storage.RedisCaps {
		client, err := redisstore.NewClient(ctx, cfg.Storage.RedisAddr)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		rt.closers = append(rt.closers, func() { _ = client.Close() })
		rt.Stores.CapLedger = redisstore.NewCapLedger(client, "", cfg.Commission.MoneyScale)
		logger.Info().Str("addr", cfg.Storage.RedisAddr).Msg("cap counters in redis")
	}

	if cfg.Storage.ClickhouseDSN != "" {
		conn, err := chstore.NewConn(ctx, cfg.Storage.ClickhouseDSN)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("connect to clickhouse: %w", err)
		}
		rt.closers = append(rt.closers, func() { _ = conn.Close() })
		rt.Sinks = append(rt.Sinks, ledger.StoreSink{Store: chstore.NewLedgerEventStore(conn), Backend: "clickhouse"})
		logger.Info().Msg("ledger events mirrored to clickhouse")
	}

	return rt, nil
}

// Build creates the orchestrator. extra sinks are appended after the
// configured ones.
func (rt *Runtime) Build(cfg *config.Config, logger *zerolog.Logger, extra ...ledger.Sink) (*orchestrator.Orchestrator, error) {
	settings, err := cfg.Settings()
	if err != nil {
		return nil, err
	}
	settings.ExtraSinks = append(append([]ledger.Sink{}, rt.Sinks...), extra...)
	settings.Logger = logger
	return orchestrator.Build(rt.Stores, settings)
}

// Close releases connections in reverse order of opening.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}
