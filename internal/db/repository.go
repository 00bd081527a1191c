package db

import (
	"context"
	"fmt"
	"time"

	"github.com/Leblepito/uAlgoTrade/internal/models"
)

// Repository is the persistence boundary the swarm depends on. Everything
// else in the engine talks to this interface, never to SQL directly.
type Repository interface {
	// Signals
	InsertPendingSignal(ctx context.Context, s *models.Signal) (int64, error)
	UpdateSignalStatus(ctx context.Context, id int64, status models.SignalStatus) error
	ListRecentSignals(ctx context.Context, symbol string, status models.SignalStatus, limit int) ([]models.Signal, error)
	ListSignalsSince(ctx context.Context, days int) ([]models.Signal, error)
	RecentSignalConfidences(ctx context.Context, symbol string, hours int) ([]float64, error)
	CountSignalsToday(ctx context.Context) (int, error)

	// Consensus votes
	InsertVote(ctx context.Context, v *models.ConsensusVote) error
	ListVotes(ctx context.Context, signalID int64) ([]models.ConsensusVote, error)
	ListVoteOutcomes(ctx context.Context, agentName string, days int) ([]models.VoteOutcome, error)

	// Positions (read-only; owned by the execution layer)
	GetClosedPositions(ctx context.Context, strategyID string, since time.Time) ([]models.Position, error)
	GetOpenPositions(ctx context.Context) ([]models.Position, error)
	CountOpenPositions(ctx context.Context, symbol string) (int, error)
	SumOpenUnrealizedPnL(ctx context.Context) (float64, error)
	OpenPositionsValue(ctx context.Context) (float64, error)

	// Portfolio snapshots
	UpsertSnapshot(ctx context.Context, snap models.PortfolioSnapshot) error
	LatestSnapshot(ctx context.Context) (*models.PortfolioSnapshot, error)
	ListSnapshots(ctx context.Context, days int) ([]models.PortfolioSnapshot, error)

	// Heartbeats
	UpsertHeartbeat(ctx context.Context, hb models.Heartbeat) error
	ListHeartbeats(ctx context.Context) ([]models.Heartbeat, error)

	// Agent memory
	InsertMemory(ctx context.Context, entry models.MemoryEntry) (int64, error)
	ListMemory(ctx context.Context, agentName string, memType models.MemoryType, symbol string, limit int) ([]models.MemoryEntry, error)
}

// compile-time check
var _ Repository = (*DB)(nil)

// InsertPendingSignal inserts a signal with status=pending and returns its ID.
func (db *DB) InsertPendingSignal(ctx context.Context, s *models.Signal) (int64, error) {
	var id int64
	err := db.pool.QueryRow(ctx,
		`INSERT INTO ualgo_signal
		   (symbol, direction, confidence, source_agent, reasoning, status,
		    strategy_id, timeframe, entry_price, stop_loss, take_profit, risk_reward)
		 VALUES ($1, $2, $3, $4, $5, 'pending', $6, $7, $8, $9, $10, $11)
		 RETURNING id`,
		s.Symbol, s.Direction, s.Confidence, s.SourceAgent, s.Reasoning,
		s.StrategyID, s.Timeframe, s.EntryPrice, s.StopLoss, s.TakeProfit, s.RiskReward,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert signal: %w", err)
	}
	return id, nil
}

// UpdateSignalStatus transitions a signal's lifecycle status.
func (db *DB) UpdateSignalStatus(ctx context.Context, id int64, status models.SignalStatus) error {
	if err := db.exec(ctx,
		`UPDATE ualgo_signal SET status = $1 WHERE id = $2`, status, id); err != nil {
		return fmt.Errorf("failed to update signal %d status: %w", id, err)
	}
	return nil
}

// ListRecentSignals returns recent signals, newest first, optionally filtered.
func (db *DB) ListRecentSignals(ctx context.Context, symbol string, status models.SignalStatus, limit int) ([]models.Signal, error) {
	query := `SELECT id, symbol, direction, confidence, source_agent, reasoning,
	                 status, strategy_id, timeframe, entry_price, stop_loss,
	                 take_profit, risk_reward, created_at
	          FROM ualgo_signal WHERE 1=1`
	args := []any{}
	idx := 1

	if symbol != "" {
		query += fmt.Sprintf(" AND symbol = $%d", idx)
		args = append(args, symbol)
		idx++
	}
	if status != "" {
		query += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, status)
		idx++
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", idx)
	args = append(args, limit)

	rows, err := db.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list signals: %w", err)
	}
	defer rows.Close()

	var signals []models.Signal
	for rows.Next() {
		var s models.Signal
		if err := rows.Scan(&s.ID, &s.Symbol, &s.Direction, &s.Confidence,
			&s.SourceAgent, &s.Reasoning, &s.Status, &s.StrategyID, &s.Timeframe,
			&s.EntryPrice, &s.StopLoss, &s.TakeProfit, &s.RiskReward, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan signal row: %w", err)
		}
		signals = append(signals, s)
	}
	return signals, rows.Err()
}

// ListSignalsSince returns all signals created within the lookback window.
func (db *DB) ListSignalsSince(ctx context.Context, days int) ([]models.Signal, error) {
	rows, err := db.query(ctx,
		`SELECT id, symbol, direction, confidence, source_agent, reasoning,
		        status, strategy_id, timeframe, entry_price, stop_loss,
		        take_profit, risk_reward, created_at
		 FROM ualgo_signal
		 WHERE created_at >= NOW() - INTERVAL '1 day' * $1`, days)
	if err != nil {
		return nil, fmt.Errorf("failed to list signals since %dd: %w", days, err)
	}
	defer rows.Close()

	var signals []models.Signal
	for rows.Next() {
		var s models.Signal
		if err := rows.Scan(&s.ID, &s.Symbol, &s.Direction, &s.Confidence,
			&s.SourceAgent, &s.Reasoning, &s.Status, &s.StrategyID, &s.Timeframe,
			&s.EntryPrice, &s.StopLoss, &s.TakeProfit, &s.RiskReward, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan signal row: %w", err)
		}
		signals = append(signals, s)
	}
	return signals, rows.Err()
}

// RecentSignalConfidences returns confidences of a symbol's recent signals,
// newest first, capped at 30 samples.
func (db *DB) RecentSignalConfidences(ctx context.Context, symbol string, hours int) ([]float64, error) {
	rows, err := db.query(ctx,
		`SELECT confidence FROM ualgo_signal
		 WHERE symbol = $1 AND created_at >= NOW() - INTERVAL '1 hour' * $2
		 ORDER BY created_at DESC LIMIT 30`, symbol, hours)
	if err != nil {
		return nil, fmt.Errorf("failed to query signal confidences: %w", err)
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var c float64
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("failed to scan confidence: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CountSignalsToday counts signals created since the current UTC day start.
func (db *DB) CountSignalsToday(ctx context.Context) (int, error) {
	var count int
	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM ualgo_signal WHERE created_at >= CURRENT_DATE`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count today's signals: %w", err)
	}
	return count, nil
}

// InsertVote stores a single consensus vote.
func (db *DB) InsertVote(ctx context.Context, v *models.ConsensusVote) error {
	if err := db.exec(ctx,
		`INSERT INTO ualgo_consensus_vote (signal_id, agent_name, vote, confidence, reasoning)
		 VALUES ($1, $2, $3, $4, $5)`,
		v.SignalID, v.AgentName, v.Vote, v.Confidence, v.Reasoning); err != nil {
		return fmt.Errorf("failed to insert vote: %w", err)
	}
	return nil
}

// ListVotes returns all votes for a signal in insertion order.
func (db *DB) ListVotes(ctx context.Context, signalID int64) ([]models.ConsensusVote, error) {
	rows, err := db.query(ctx,
		`SELECT signal_id, agent_name, vote, confidence, reasoning, created_at
		 FROM ualgo_consensus_vote WHERE signal_id = $1 ORDER BY id`, signalID)
	if err != nil {
		return nil, fmt.Errorf("failed to list votes: %w", err)
	}
	defer rows.Close()

	var votes []models.ConsensusVote
	for rows.Next() {
		var v models.ConsensusVote
		if err := rows.Scan(&v.SignalID, &v.AgentName, &v.Vote, &v.Confidence,
			&v.Reasoning, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan vote row: %w", err)
		}
		votes = append(votes, v)
	}
	return votes, rows.Err()
}

// ListVoteOutcomes joins an agent's votes with the final status of their
// signals within the lookback window.
func (db *DB) ListVoteOutcomes(ctx context.Context, agentName string, days int) ([]models.VoteOutcome, error) {
	rows, err := db.query(ctx,
		`SELECT cv.vote, cv.confidence, s.status, s.direction
		 FROM ualgo_consensus_vote cv
		 JOIN ualgo_signal s ON s.id = cv.signal_id
		 WHERE cv.agent_name = $1
		   AND s.created_at >= NOW() - INTERVAL '1 day' * $2
		 ORDER BY s.created_at DESC`, agentName, days)
	if err != nil {
		return nil, fmt.Errorf("failed to list vote outcomes: %w", err)
	}
	defer rows.Close()

	var out []models.VoteOutcome
	for rows.Next() {
		var vo models.VoteOutcome
		if err := rows.Scan(&vo.Vote, &vo.Confidence, &vo.Status, &vo.Direction); err != nil {
			return nil, fmt.Errorf("failed to scan vote outcome: %w", err)
		}
		out = append(out, vo)
	}
	return out, rows.Err()
}

// GetClosedPositions returns closed positions for a strategy since a cutoff.
func (db *DB) GetClosedPositions(ctx context.Context, strategyID string, since time.Time) ([]models.Position, error) {
	rows, err := db.query(ctx,
		`SELECT id, symbol, side, entry_price, COALESCE(current_price, entry_price),
		        quantity, unrealized_pnl, strategy_id, status, opened_at, closed_at
		 FROM ualgo_position
		 WHERE strategy_id = $1 AND status = 'closed' AND closed_at >= $2
		 ORDER BY closed_at`, strategyID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query closed positions: %w", err)
	}
	defer rows.Close()
	return scanPositions(rows)
}

// GetOpenPositions returns all open positions.
func (db *DB) GetOpenPositions(ctx context.Context) ([]models.Position, error) {
	rows, err := db.query(ctx,
		`SELECT id, symbol, side, entry_price, COALESCE(current_price, entry_price),
		        quantity, unrealized_pnl, strategy_id, status, opened_at, closed_at
		 FROM ualgo_position WHERE status = 'open'`)
	if err != nil {
		return nil, fmt.Errorf("failed to query open positions: %w", err)
	}
	defer rows.Close()
	return scanPositions(rows)
}

// CountOpenPositions counts open positions, optionally for one symbol.
func (db *DB) CountOpenPositions(ctx context.Context, symbol string) (int, error) {
	var count int
	var err error
	if symbol != "" {
		err = db.pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM ualgo_position WHERE status = 'open' AND symbol = $1`,
			symbol).Scan(&count)
	} else {
		err = db.pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM ualgo_position WHERE status = 'open'`).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count open positions: %w", err)
	}
	return count, nil
}

// SumOpenUnrealizedPnL sums unrealized PnL over open positions.
func (db *DB) SumOpenUnrealizedPnL(ctx context.Context) (float64, error) {
	var sum float64
	err := db.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(unrealized_pnl), 0) FROM ualgo_position WHERE status = 'open'`).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("failed to sum unrealized pnl: %w", err)
	}
	return sum, nil
}

// OpenPositionsValue sums mark value over open positions, defaulting to the
// initial capital when no positions exist.
func (db *DB) OpenPositionsValue(ctx context.Context) (float64, error) {
	var value float64
	err := db.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(quantity * COALESCE(current_price, entry_price)), 10000)
		 FROM ualgo_position WHERE status = 'open'`).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("failed to compute open positions value: %w", err)
	}
	return value, nil
}

// UpsertSnapshot inserts or replaces the portfolio snapshot for a date.
func (db *DB) UpsertSnapshot(ctx context.Context, snap models.PortfolioSnapshot) error {
	if err := db.exec(ctx,
		`INSERT INTO ualgo_portfolio_snapshot
		   (snapshot_date, total_value, total_pnl, total_pnl_pct,
		    open_positions, win_rate, sharpe_ratio, max_drawdown)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (snapshot_date) DO UPDATE SET
		   total_value = $2, total_pnl = $3, total_pnl_pct = $4,
		   open_positions = $5, win_rate = $6, sharpe_ratio = $7, max_drawdown = $8`,
		snap.SnapshotDate, snap.TotalValue, snap.TotalPnL, snap.TotalPnLPct,
		snap.OpenPositions, snap.WinRate, snap.SharpeRatio, snap.MaxDrawdown); err != nil {
		return fmt.Errorf("failed to upsert snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot returns the most recent portfolio snapshot, or nil.
func (db *DB) LatestSnapshot(ctx context.Context) (*models.PortfolioSnapshot, error) {
	rows, err := db.query(ctx,
		`SELECT snapshot_date, total_value, total_pnl, total_pnl_pct,
		        open_positions, win_rate, sharpe_ratio, max_drawdown
		 FROM ualgo_portfolio_snapshot ORDER BY snapshot_date DESC LIMIT 1`)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest snapshot: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	var s models.PortfolioSnapshot
	if err := rows.Scan(&s.SnapshotDate, &s.TotalValue, &s.TotalPnL, &s.TotalPnLPct,
		&s.OpenPositions, &s.WinRate, &s.SharpeRatio, &s.MaxDrawdown); err != nil {
		return nil, fmt.Errorf("failed to scan snapshot: %w", err)
	}
	return &s, nil
}

// ListSnapshots returns snapshots within the window, oldest first.
func (db *DB) ListSnapshots(ctx context.Context, days int) ([]models.PortfolioSnapshot, error) {
	rows, err := db.query(ctx,
		`SELECT snapshot_date, total_value, total_pnl, total_pnl_pct,
		        open_positions, win_rate, sharpe_ratio, max_drawdown
		 FROM ualgo_portfolio_snapshot
		 WHERE snapshot_date >= CURRENT_DATE - $1::INTEGER
		 ORDER BY snapshot_date ASC`, days)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var out []models.PortfolioSnapshot
	for rows.Next() {
		var s models.PortfolioSnapshot
		if err := rows.Scan(&s.SnapshotDate, &s.TotalValue, &s.TotalPnL, &s.TotalPnLPct,
			&s.OpenPositions, &s.WinRate, &s.SharpeRatio, &s.MaxDrawdown); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// UpsertHeartbeat records an agent's health, one row per agent.
func (db *DB) UpsertHeartbeat(ctx context.Context, hb models.Heartbeat) error {
	if err := db.exec(ctx,
		`INSERT INTO ualgo_agent_heartbeat
		   (agent_name, status, last_heartbeat, active_tasks, version, uptime_seconds)
		 VALUES ($1, $2, NOW(), $3, $4, $5)
		 ON CONFLICT (agent_name) DO UPDATE SET
		   status = $2, last_heartbeat = NOW(), active_tasks = $3,
		   version = $4, uptime_seconds = $5`,
		hb.AgentName, hb.Status, hb.ActiveTasks, hb.Version, hb.UptimeSeconds); err != nil {
		return fmt.Errorf("failed to upsert heartbeat: %w", err)
	}
	return nil
}

// ListHeartbeats returns all agent heartbeats ordered by agent name.
func (db *DB) ListHeartbeats(ctx context.Context) ([]models.Heartbeat, error) {
	rows, err := db.query(ctx,
		`SELECT agent_name, status, last_heartbeat, active_tasks, version, uptime_seconds
		 FROM ualgo_agent_heartbeat ORDER BY agent_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list heartbeats: %w", err)
	}
	defer rows.Close()

	var out []models.Heartbeat
	for rows.Next() {
		var hb models.Heartbeat
		if err := rows.Scan(&hb.AgentName, &hb.Status, &hb.LastHeartbeat,
			&hb.ActiveTasks, &hb.Version, &hb.UptimeSeconds); err != nil {
			return nil, fmt.Errorf("failed to scan heartbeat: %w", err)
		}
		out = append(out, hb)
	}
	return out, rows.Err()
}

// InsertMemory appends an agent memory entry and returns its ID.
func (db *DB) InsertMemory(ctx context.Context, entry models.MemoryEntry) (int64, error) {
	var symbol *string
	if entry.Symbol != "" {
		symbol = &entry.Symbol
	}

	var id int64
	err := db.pool.QueryRow(ctx,
		`INSERT INTO ualgo_agent_memory
		   (agent_name, memory_type, symbol, content, importance, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		entry.AgentName, entry.MemoryType, symbol, entry.Content,
		entry.Importance, entry.ExpiresAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert memory: %w", err)
	}
	return id, nil
}

// ListMemory recalls memories for an agent, excluding expired rows, ordered
// by importance then recency.
func (db *DB) ListMemory(ctx context.Context, agentName string, memType models.MemoryType, symbol string, limit int) ([]models.MemoryEntry, error) {
	query := `SELECT id, agent_name, memory_type, symbol, content, importance, created_at, expires_at
	          FROM ualgo_agent_memory
	          WHERE agent_name = $1 AND (expires_at IS NULL OR expires_at > NOW())`
	args := []any{agentName}
	idx := 2

	if memType != "" {
		query += fmt.Sprintf(" AND memory_type = $%d", idx)
		args = append(args, memType)
		idx++
	}
	if symbol != "" {
		query += fmt.Sprintf(" AND symbol = $%d", idx)
		args = append(args, symbol)
		idx++
	}
	query += fmt.Sprintf(" ORDER BY importance DESC, created_at DESC LIMIT $%d", idx)
	args = append(args, limit)

	rows, err := db.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list memory: %w", err)
	}
	defer rows.Close()

	var out []models.MemoryEntry
	for rows.Next() {
		var e models.MemoryEntry
		var sym *string
		if err := rows.Scan(&e.ID, &e.AgentName, &e.MemoryType, &sym, &e.Content,
			&e.Importance, &e.CreatedAt, &e.ExpiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan memory row: %w", err)
		}
		if sym != nil {
			e.Symbol = *sym
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanPositions(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]models.Position, error) {
	var out []models.Position
	for rows.Next() {
		var p models.Position
		if err := rows.Scan(&p.ID, &p.Symbol, &p.Side, &p.EntryPrice, &p.CurrentPrice,
			&p.Quantity, &p.UnrealizedPnL, &p.StrategyID, &p.Status,
			&p.OpenedAt, &p.ClosedAt); err != nil {
			return nil, fmt.Errorf("failed to scan position row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
