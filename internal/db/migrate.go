package db

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Prices and PnL columns use NUMERIC(20,8); confidences and ratios are
// DOUBLE PRECISION since they never leave signal-generation precision.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS ualgo_signal (
		id           BIGSERIAL PRIMARY KEY,
		symbol       TEXT NOT NULL,
		direction    TEXT NOT NULL,
		confidence   DOUBLE PRECISION NOT NULL,
		source_agent TEXT NOT NULL,
		reasoning    JSONB NOT NULL DEFAULT '{}'::jsonb,
		status       TEXT NOT NULL DEFAULT 'pending',
		strategy_id  TEXT NOT NULL DEFAULT 'default',
		timeframe    TEXT NOT NULL DEFAULT '1h',
		entry_price  NUMERIC(20,8),
		stop_loss    NUMERIC(20,8),
		take_profit  NUMERIC(20,8),
		risk_reward  DOUBLE PRECISION,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ualgo_signal_symbol_created
		ON ualgo_signal (symbol, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_ualgo_signal_status
		ON ualgo_signal (status)`,

	`CREATE TABLE IF NOT EXISTS ualgo_consensus_vote (
		id         BIGSERIAL PRIMARY KEY,
		signal_id  BIGINT NOT NULL REFERENCES ualgo_signal(id),
		agent_name TEXT NOT NULL,
		vote       TEXT NOT NULL,
		confidence DOUBLE PRECISION NOT NULL,
		reasoning  JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ualgo_vote_signal
		ON ualgo_consensus_vote (signal_id)`,

	`CREATE TABLE IF NOT EXISTS ualgo_position (
		id             BIGSERIAL PRIMARY KEY,
		symbol         TEXT NOT NULL,
		side           TEXT NOT NULL,
		entry_price    NUMERIC(20,8) NOT NULL,
		current_price  NUMERIC(20,8),
		quantity       NUMERIC(20,8) NOT NULL,
		unrealized_pnl NUMERIC(20,8) NOT NULL DEFAULT 0,
		strategy_id    TEXT NOT NULL DEFAULT 'default',
		status         TEXT NOT NULL DEFAULT 'open',
		opened_at      TIMESTAMPTZ,
		closed_at      TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ualgo_position_status
		ON ualgo_position (status)`,

	`CREATE TABLE IF NOT EXISTS ualgo_portfolio_snapshot (
		snapshot_date  DATE PRIMARY KEY,
		total_value    NUMERIC(20,8) NOT NULL,
		total_pnl      NUMERIC(20,8) NOT NULL DEFAULT 0,
		total_pnl_pct  DOUBLE PRECISION NOT NULL DEFAULT 0,
		open_positions INTEGER NOT NULL DEFAULT 0,
		win_rate       DOUBLE PRECISION,
		sharpe_ratio   DOUBLE PRECISION,
		max_drawdown   DOUBLE PRECISION
	)`,

	`CREATE TABLE IF NOT EXISTS ualgo_agent_heartbeat (
		agent_name     TEXT PRIMARY KEY,
		status         TEXT NOT NULL DEFAULT 'alive',
		last_heartbeat TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		active_tasks   INTEGER NOT NULL DEFAULT 0,
		version        TEXT NOT NULL DEFAULT '0.1.0',
		uptime_seconds BIGINT NOT NULL DEFAULT 0
	)`,

	`CREATE TABLE IF NOT EXISTS ualgo_agent_memory (
		id          BIGSERIAL PRIMARY KEY,
		agent_name  TEXT NOT NULL,
		memory_type TEXT NOT NULL,
		symbol      TEXT,
		content     JSONB NOT NULL DEFAULT '{}'::jsonb,
		importance  DOUBLE PRECISION NOT NULL DEFAULT 0.5,
		ttl_hours   INTEGER,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		expires_at  TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ualgo_memory_agent
		ON ualgo_agent_memory (agent_name, memory_type, created_at DESC)`,
}

// Migrate creates the swarm schema. All statements are idempotent.
func (db *DB) Migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if err := db.exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	log.Info().Int("statements", len(migrations)).Msg("Database schema migrated")
	return nil
}
