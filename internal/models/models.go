// Package models defines the shared data types of the trading agent swarm.
package models

import "time"

// Direction is the directional call of a signal or sub-signal.
type Direction string

const (
	DirectionLong    Direction = "LONG"
	DirectionShort   Direction = "SHORT"
	DirectionNeutral Direction = "NEUTRAL"
)

// SignalStatus tracks a signal through its lifecycle.
type SignalStatus string

const (
	SignalStatusPending  SignalStatus = "pending"
	SignalStatusApproved SignalStatus = "approved"
	SignalStatusRejected SignalStatus = "rejected"
	SignalStatusExecuted SignalStatus = "executed"
	SignalStatusExpired  SignalStatus = "expired"
)

// VoteType is one agent's judgment of a candidate signal.
type VoteType string

const (
	VoteApprove VoteType = "approve"
	VoteReject  VoteType = "reject"
	VoteAbstain VoteType = "abstain"
)

// Signal is a candidate trade decision with direction, confidence, and levels.
// Entry/stop/target are nil for NEUTRAL signals.
type Signal struct {
	ID          int64          `json:"id"`
	Symbol      string         `json:"symbol"`
	Direction   Direction      `json:"direction"`
	Confidence  float64        `json:"confidence"`
	SourceAgent string         `json:"source_agent"`
	Reasoning   map[string]any `json:"reasoning"`
	EntryPrice  *float64       `json:"entry_price,omitempty"`
	StopLoss    *float64       `json:"stop_loss,omitempty"`
	TakeProfit  *float64       `json:"take_profit,omitempty"`
	RiskReward  *float64       `json:"risk_reward,omitempty"`
	Timeframe   string         `json:"timeframe"`
	StrategyID  string         `json:"strategy_id"`
	Status      SignalStatus   `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
}

// ConsensusVote is one agent's approve/reject/abstain judgment of a signal.
type ConsensusVote struct {
	SignalID   int64          `json:"signal_id"`
	AgentName  string         `json:"agent_name"`
	Vote       VoteType       `json:"vote"`
	Confidence float64        `json:"confidence"`
	Reasoning  map[string]any `json:"reasoning"`
	CreatedAt  time.Time      `json:"created_at"`
}

// ConsensusResult is the outcome of a consensus voting round.
type ConsensusResult struct {
	SignalID           int64           `json:"signal_id"`
	Approved           bool            `json:"approved"`
	TotalVotes         int             `json:"total_votes"`
	ApproveCount       int             `json:"approve_count"`
	RejectCount        int             `json:"reject_count"`
	AbstainCount       int             `json:"abstain_count"`
	WeightedConfidence float64         `json:"weighted_confidence"`
	Veto               bool            `json:"veto"`
	Votes              []ConsensusVote `json:"votes"`
}

// Candle is a single OHLCV bar.
type Candle struct {
	OpenTime  int64   `json:"open_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	CloseTime int64   `json:"close_time"`
}

// Article is a parsed news item from an RSS feed.
type Article struct {
	Title     string `json:"title"`
	Summary   string `json:"summary"`
	Link      string `json:"link"`
	Published string `json:"published"`
}

// Position is an open or closed trade owned by the execution layer.
// The swarm only reads positions, it never writes them.
type Position struct {
	ID            int64      `json:"id"`
	Symbol        string     `json:"symbol"`
	Side          string     `json:"side"`
	EntryPrice    float64    `json:"entry_price"`
	CurrentPrice  float64    `json:"current_price"`
	Quantity      float64    `json:"quantity"`
	UnrealizedPnL float64    `json:"unrealized_pnl"`
	StrategyID    string     `json:"strategy_id"`
	Status        string     `json:"status"`
	OpenedAt      *time.Time `json:"opened_at,omitempty"`
	ClosedAt      *time.Time `json:"closed_at,omitempty"`
}

// PortfolioSnapshot is the daily portfolio state, one row per date.
type PortfolioSnapshot struct {
	SnapshotDate  time.Time `json:"snapshot_date"`
	TotalValue    float64   `json:"total_value"`
	TotalPnL      float64   `json:"total_pnl"`
	TotalPnLPct   float64   `json:"total_pnl_pct"`
	OpenPositions int       `json:"open_positions"`
	WinRate       *float64  `json:"win_rate,omitempty"`
	SharpeRatio   *float64  `json:"sharpe_ratio,omitempty"`
	MaxDrawdown   *float64  `json:"max_drawdown,omitempty"`
}

// AgentStatus is the health state reported in heartbeats.
type AgentStatus string

const (
	AgentAlive    AgentStatus = "alive"
	AgentDegraded AgentStatus = "degraded"
	AgentDead     AgentStatus = "dead"
)

// Heartbeat is a per-agent health record, upserted on each beat.
type Heartbeat struct {
	AgentName     string      `json:"agent_name"`
	Status        AgentStatus `json:"status"`
	LastHeartbeat time.Time   `json:"last_heartbeat"`
	ActiveTasks   int         `json:"active_tasks"`
	Version       string      `json:"version"`
	UptimeSeconds int64       `json:"uptime_seconds"`
}

// MemoryType categorizes agent memory entries.
type MemoryType string

const (
	MemoryDecision MemoryType = "decision"
	MemoryLearning MemoryType = "learning"
	MemoryPattern  MemoryType = "pattern"
	MemoryError    MemoryType = "error"
)

// MemoryEntry is one row of the append-only agent memory log.
type MemoryEntry struct {
	ID         int64          `json:"id"`
	AgentName  string         `json:"agent_name"`
	MemoryType MemoryType     `json:"memory_type"`
	Symbol     string         `json:"symbol,omitempty"`
	Content    map[string]any `json:"content"`
	Importance float64        `json:"importance"`
	CreatedAt  time.Time      `json:"created_at"`
	ExpiresAt  *time.Time     `json:"expires_at,omitempty"`
}

// VoteOutcome joins a consensus vote with the final status of its signal.
// Used for agent accuracy analysis.
type VoteOutcome struct {
	Vote       VoteType     `json:"vote"`
	Confidence float64      `json:"confidence"`
	Status     SignalStatus `json:"status"`
	Direction  Direction    `json:"direction"`
}

// Float64Ptr returns a pointer to v. Convenience for optional price fields.
func Float64Ptr(v float64) *float64 { return &v }
