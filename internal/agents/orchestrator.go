package agents

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Leblepito/uAlgoTrade/internal/decision"
	"github.com/Leblepito/uAlgoTrade/internal/metrics"
	"github.com/Leblepito/uAlgoTrade/internal/models"
)

const taskLogSize = 50

// CandleProvider feeds OHLCV data into the scan cycle.
type CandleProvider interface {
	GetRecentCandles(ctx context.Context, symbol, timeframe string, limit int) []models.Candle
}

// Notifier delivers signal alerts to an external channel. Optional.
type Notifier interface {
	NotifySignal(ctx context.Context, result *CycleResult)
}

// ConsensusInfo summarizes the vote tally in a cycle result.
type ConsensusInfo struct {
	Approved           bool    `json:"approved"`
	ApproveCount       int     `json:"approve_count"`
	RejectCount        int     `json:"reject_count"`
	WeightedConfidence float64 `json:"weighted_confidence"`
	MinRequired        float64 `json:"min_required"`
}

// RiskInfo summarizes the risk evaluation in a cycle result.
type RiskInfo struct {
	Score      float64  `json:"score"`
	Flags      []string `json:"flags"`
	KillSwitch bool     `json:"kill_switch"`
}

// SentimentInfo summarizes the sentiment read in a cycle result.
type SentimentInfo struct {
	Direction models.Direction `json:"direction"`
	Score     float64          `json:"score"`
	Regime    string           `json:"regime"`
	Agreement bool             `json:"agreement"`
}

// CycleResult describes one scan cycle's decision.
type CycleResult struct {
	Symbol            string           `json:"symbol"`
	SignalID          int64            `json:"signal_id,omitempty"`
	Direction         models.Direction `json:"direction,omitempty"`
	Action            string           `json:"action"` // "execute", "reject", "skip"
	Reason            string           `json:"reason,omitempty"`
	Confidence        float64          `json:"confidence"`
	BlendedConfidence float64          `json:"blended_confidence"`
	EntryPrice        *float64         `json:"entry_price,omitempty"`
	StopLoss          *float64         `json:"stop_loss,omitempty"`
	TakeProfit        *float64         `json:"take_profit,omitempty"`
	RiskReward        *float64         `json:"risk_reward,omitempty"`
	Timeframe         string           `json:"timeframe,omitempty"`
	Consensus         *ConsensusInfo   `json:"consensus,omitempty"`
	Risk              *RiskInfo        `json:"risk,omitempty"`
	Sentiment         *SentimentInfo   `json:"sentiment,omitempty"`
	KillSwitch        bool             `json:"kill_switch,omitempty"`
	Cycle             int64            `json:"cycle"`
	DurationMs        int64            `json:"duration_ms"`
	Timestamp         time.Time        `json:"timestamp"`
}

// TaskLogEntry is one line of the orchestrator's bounded audit trail.
type TaskLogEntry struct {
	Cycle      int64            `json:"cycle"`
	Symbol     string           `json:"symbol"`
	Direction  models.Direction `json:"direction"`
	Action     string           `json:"action"`
	Confidence float64          `json:"confidence"`
	RiskScore  float64          `json:"risk_score"`
	DurationMs int64            `json:"duration_ms"`
	Timestamp  time.Time        `json:"timestamp"`
}

// CycleStats reports aggregate orchestrator counters.
type CycleStats struct {
	CyclesRun            int64   `json:"cycles_run"`
	SignalsApproved      int64   `json:"signals_approved"`
	SignalsRejected      int64   `json:"signals_rejected"`
	ApprovalRate         float64 `json:"approval_rate"`
	MinConsensusConfidence float64 `json:"min_consensus_confidence"`
}

// Orchestrator is the brain of the swarm. It owns references to the analysis
// agents and runs the full scan cycle: fetch, parallel analysis, blend,
// risk evaluation, consensus voting, persistence, broadcast.
type Orchestrator struct {
	*BaseAgent

	candles CandleProvider
	alpha   *AlphaScout
	tech    *TechnicalAnalyst
	risk    *RiskSentinel
	quant   *QuantLab
	engine  *decision.Engine
	sizer   PositionSizer
	notifier Notifier

	minConsensusConfidence float64

	cyclesRun       atomic.Int64
	signalsApproved atomic.Int64
	signalsRejected atomic.Int64

	logMu   sync.Mutex
	taskLog []TaskLogEntry
}

// NewOrchestrator wires the swarm together.
func NewOrchestrator(actx *Context, candles CandleProvider, alpha *AlphaScout,
	tech *TechnicalAnalyst, risk *RiskSentinel, quant *QuantLab,
	engine *decision.Engine, sizer PositionSizer) *Orchestrator {
	return &Orchestrator{
		BaseAgent: NewBaseAgent("orchestrator",
			"The Brain — Consensus voting, signal aggregation, final decision",
			"1.3.0", actx),
		candles:                candles,
		alpha:                  alpha,
		tech:                   tech,
		risk:                   risk,
		quant:                  quant,
		engine:                 engine,
		sizer:                  sizer,
		minConsensusConfidence: actx.Cfg.Risk.MinConsensusConfidence,
	}
}

// SetNotifier attaches an optional alert channel for approved signals.
func (o *Orchestrator) SetNotifier(n Notifier) { o.notifier = n }

// RunScanCycle executes one full orchestration cycle for a symbol. The cycle
// is reentrant per symbol; interleaved cycles are tolerated by design.
func (o *Orchestrator) RunScanCycle(ctx context.Context, symbol, strategyID, timeframe string) *CycleResult {
	if strategyID == "" {
		strategyID = "default"
	}
	if timeframe == "" {
		timeframe = "1h"
	}

	cycle := o.cyclesRun.Add(1)
	metrics.CyclesTotal.Inc()
	start := o.ctx.now()
	monoStart := time.Now()

	o.log.Info().
		Int64("cycle", cycle).
		Str("symbol", symbol).
		Str("strategy_id", strategyID).
		Str("timeframe", timeframe).
		Msg("Scan cycle started")

	// Step 1: candles. Fetch failure is non-fatal: an empty list flows into
	// the technical analyst, which degrades to an insufficient-data result.
	candles := o.candles.GetRecentCandles(ctx, symbol, timeframe, 100)

	// Step 2: sentiment and technical analysis in parallel. Failures become
	// degraded inputs, never cycle aborts.
	var alphaResult *SentimentResult
	var techResult *TechnicalResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		result, err := o.alpha.Analyze(gctx, symbol, true)
		if err != nil {
			alphaResult = &SentimentResult{
				Agent: o.alpha.Name(), Symbol: symbol,
				Direction: models.DirectionNeutral, Confidence: 0.3,
				MarketRegime: "UNKNOWN",
			}
			return nil
		}
		alphaResult = result
		return nil
	})
	g.Go(func() error {
		result, err := o.tech.Analyze(gctx, symbol, candles, timeframe)
		if err != nil {
			techResult = &TechnicalResult{
				Agent: o.tech.Name(), Symbol: symbol, Timeframe: timeframe,
				Direction: models.DirectionNeutral, Err: err.Error(),
			}
			return nil
		}
		techResult = result
		return nil
	})
	_ = g.Wait()

	// Step 3: the technical result is the primary signal source
	if techResult.Err != "" {
		return o.skipResult(symbol, cycle, start, monoStart,
			fmt.Sprintf("Technical analysis error: %s", techResult.Err))
	}
	if techResult.Direction == models.DirectionNeutral && techResult.Confidence < 0.4 {
		return o.skipResult(symbol, cycle, start, monoStart,
			fmt.Sprintf("No clear direction (direction=%s, confidence=%.2f)",
				techResult.Direction, techResult.Confidence))
	}

	// Step 4: confidence blend — sentiment confirms or penalizes
	agreement := alphaResult.Direction == techResult.Direction
	blended := blendConfidence(techResult.Confidence, alphaResult.Confidence,
		agreement || alphaResult.Direction == models.DirectionNeutral)

	// Step 5: candidate signal
	signal := &models.Signal{
		Symbol:      symbol,
		Direction:   techResult.Direction,
		Confidence:  blended,
		SourceAgent: o.Name(),
		EntryPrice:  techResult.EntryPrice,
		StopLoss:    techResult.StopLoss,
		TakeProfit:  techResult.TakeProfit,
		RiskReward:  techResult.RiskReward,
		StrategyID:  strategyID,
		Timeframe:   timeframe,
		Reasoning: map[string]any{
			"technical": firstN(techResult.Reasoning, 5),
			"sentiment": map[string]any{
				"score":     alphaResult.SentimentScore,
				"direction": string(alphaResult.Direction),
				"regime":    alphaResult.MarketRegime,
				"summary":   alphaResult.Summary,
			},
			"confidence_blend": map[string]any{
				"technical":           round4(techResult.Confidence),
				"sentiment":           round4(alphaResult.Confidence),
				"blended":             round4(blended),
				"sentiment_agreement": agreement,
			},
		},
	}

	// Step 6: persist the candidate as pending
	signalID, err := o.ctx.Repo.InsertPendingSignal(ctx, signal)
	if err != nil {
		o.log.Error().Err(err).Str("symbol", symbol).Msg("Signal persistence failed")
		return o.skipResult(symbol, cycle, start, monoStart,
			fmt.Sprintf("Signal persistence failed: %v", err))
	}
	signal.ID = signalID

	// Step 7: position size for the risk check
	quantity := o.sizer.Size(signal)

	// Step 8: risk evaluation with hard veto authority
	proposed := &ProposedSignal{
		Direction: techResult.Direction,
		Quantity:  quantity,
	}
	if techResult.EntryPrice != nil {
		proposed.EntryPrice = *techResult.EntryPrice
	}
	if techResult.StopLoss != nil {
		proposed.StopLoss = *techResult.StopLoss
	}

	riskResult, err := o.risk.Analyze(ctx, symbol, proposed)
	if err != nil {
		riskResult = &RiskResult{
			Agent: o.risk.Name(), Symbol: symbol,
			Direction: models.DirectionNeutral, Confidence: 0.5,
			Vote: models.VoteReject, RiskScore: 1.0,
			RiskFlags: []string{fmt.Sprintf("RISK_EVALUATION_FAILED (%v)", err)},
		}
	}

	// Kill switch: immediate reject, no votes collected
	if riskResult.KillSwitchActive {
		o.markRejected(ctx, signalID)
		duration := time.Since(monoStart).Milliseconds()
		result := &CycleResult{
			Symbol:     symbol,
			SignalID:   signalID,
			Action:     "reject",
			Reason:     "Kill switch active",
			KillSwitch: true,
			Risk: &RiskInfo{
				Score:      riskResult.RiskScore,
				Flags:      riskResult.RiskFlags,
				KillSwitch: true,
			},
			Cycle:      cycle,
			DurationMs: duration,
			Timestamp:  start,
		}
		o.appendTaskLog(result, riskResult.RiskScore)
		return result
	}

	// Step 9: collect the three consensus votes
	alphaVote := models.VoteAbstain
	if agreement {
		alphaVote = models.VoteApprove
	}
	votes := []models.ConsensusVote{
		{
			SignalID:   signalID,
			AgentName:  o.alpha.Name(),
			Vote:       alphaVote,
			Confidence: alphaResult.Confidence,
			Reasoning: map[string]any{
				"sentiment_score": alphaResult.SentimentScore,
				"market_regime":   alphaResult.MarketRegime,
			},
		},
		{
			SignalID:   signalID,
			AgentName:  o.tech.Name(),
			Vote:       models.VoteApprove,
			Confidence: techResult.Confidence,
			Reasoning: map[string]any{
				"indicators":   firstN(techResult.Reasoning, 3),
				"atr":          techResult.ATR,
				"signal_count": techResult.SignalCount,
			},
		},
		{
			SignalID:   signalID,
			AgentName:  o.risk.Name(),
			Vote:       riskResult.Vote,
			Confidence: riskResult.Confidence,
			Reasoning: map[string]any{
				"risk_score": riskResult.RiskScore,
				"flags":      riskResult.RiskFlags,
			},
		},
	}

	// Step 10: decision engine aggregation, then the stricter blended floor
	consensus, err := o.engine.CollectVotes(ctx, signal, votes)
	if err != nil {
		o.log.Error().Err(err).Int64("signal_id", signalID).Msg("Vote persistence failed")
		consensus = &models.ConsensusResult{SignalID: signalID, Votes: votes}
	}
	if consensus.Approved && consensus.WeightedConfidence < o.minConsensusConfidence {
		o.log.Info().
			Int64("signal_id", signalID).
			Float64("weighted_confidence", consensus.WeightedConfidence).
			Float64("min_required", o.minConsensusConfidence).
			Msg("Consensus overridden below confidence floor")
		consensus.Approved = false
	}

	// Step 11: final status
	action := "reject"
	newStatus := models.SignalStatusRejected
	if consensus.Approved {
		action = "execute"
		newStatus = models.SignalStatusApproved
		o.signalsApproved.Add(1)
		metrics.SignalsApproved.Inc()
		o.risk.RecordTradeExecuted()
	} else {
		o.signalsRejected.Add(1)
		metrics.SignalsRejected.Inc()
	}
	if err := o.ctx.Repo.UpdateSignalStatus(ctx, signalID, newStatus); err != nil {
		o.log.Error().Err(err).Int64("signal_id", signalID).Msg("Status update failed")
	}

	// Step 12: decision memory
	if _, err := o.memory.StoreDecision(ctx, symbol, map[string]any{
		"signal_id":           signalID,
		"direction":           string(techResult.Direction),
		"approved":            consensus.Approved,
		"weighted_confidence": consensus.WeightedConfidence,
		"blended_confidence":  blended,
		"risk_flags":          riskResult.RiskFlags,
		"sentiment_agreement": agreement,
		"cycle":               cycle,
	}, 0.8); err != nil {
		o.log.Warn().Err(err).Msg("Failed to store cycle decision")
	}

	duration := time.Since(monoStart).Milliseconds()
	result := &CycleResult{
		Symbol:            symbol,
		SignalID:          signalID,
		Direction:         techResult.Direction,
		Action:            action,
		Confidence:        consensus.WeightedConfidence,
		BlendedConfidence: round4(blended),
		EntryPrice:        signal.EntryPrice,
		StopLoss:          signal.StopLoss,
		TakeProfit:        signal.TakeProfit,
		RiskReward:        signal.RiskReward,
		Timeframe:         timeframe,
		Consensus: &ConsensusInfo{
			Approved:           consensus.Approved,
			ApproveCount:       consensus.ApproveCount,
			RejectCount:        consensus.RejectCount,
			WeightedConfidence: consensus.WeightedConfidence,
			MinRequired:        o.minConsensusConfidence,
		},
		Risk: &RiskInfo{
			Score:      riskResult.RiskScore,
			Flags:      riskResult.RiskFlags,
			KillSwitch: false,
		},
		Sentiment: &SentimentInfo{
			Direction: alphaResult.Direction,
			Score:     alphaResult.SentimentScore,
			Regime:    alphaResult.MarketRegime,
			Agreement: agreement,
		},
		Cycle:      cycle,
		DurationMs: duration,
		Timestamp:  start,
	}

	o.log.Info().
		Str("symbol", symbol).
		Str("action", action).
		Float64("weighted_confidence", consensus.WeightedConfidence).
		Float64("risk_score", riskResult.RiskScore).
		Int64("duration_ms", duration).
		Msg("Scan cycle complete")

	o.appendTaskLog(result, riskResult.RiskScore)

	o.ctx.Bus.Broadcast(o.Name(), "signal.decision", map[string]any{
		"symbol":    symbol,
		"signal_id": signalID,
		"action":    action,
		"direction": string(techResult.Direction),
	})

	if consensus.Approved && o.notifier != nil {
		o.notifier.NotifySignal(ctx, result)
	}

	return result
}

// RunOptimization delegates to the quant lab. Exposed here so API callers go
// through the brain rather than holding agent references.
func (o *Orchestrator) RunOptimization(ctx context.Context, strategyID string, lookbackDays int) (*OptimizationResult, error) {
	return o.quant.RunOptimization(ctx, strategyID, lookbackDays)
}

func (o *Orchestrator) skipResult(symbol string, cycle int64, start time.Time, monoStart time.Time, reason string) *CycleResult {
	o.log.Info().Str("symbol", symbol).Str("reason", reason).Msg("Scan cycle skipped")
	return &CycleResult{
		Symbol:     symbol,
		Action:     "skip",
		Reason:     reason,
		Cycle:      cycle,
		DurationMs: time.Since(monoStart).Milliseconds(),
		Timestamp:  start,
	}
}

func (o *Orchestrator) markRejected(ctx context.Context, signalID int64) {
	o.signalsRejected.Add(1)
	metrics.SignalsRejected.Inc()
	if err := o.ctx.Repo.UpdateSignalStatus(ctx, signalID, models.SignalStatusRejected); err != nil {
		o.log.Error().Err(err).Int64("signal_id", signalID).Msg("Status update failed")
	}
}

func (o *Orchestrator) appendTaskLog(result *CycleResult, riskScore float64) {
	o.logMu.Lock()
	defer o.logMu.Unlock()
	o.taskLog = append(o.taskLog, TaskLogEntry{
		Cycle:      result.Cycle,
		Symbol:     result.Symbol,
		Direction:  result.Direction,
		Action:     result.Action,
		Confidence: result.Confidence,
		RiskScore:  riskScore,
		DurationMs: result.DurationMs,
		Timestamp:  result.Timestamp,
	})
	if len(o.taskLog) > taskLogSize {
		o.taskLog = o.taskLog[len(o.taskLog)-taskLogSize:]
	}
}

// GetCycleStats returns aggregate decision counters.
func (o *Orchestrator) GetCycleStats() CycleStats {
	approved := o.signalsApproved.Load()
	rejected := o.signalsRejected.Load()
	rate := 0.0
	if total := approved + rejected; total > 0 {
		rate = float64(approved) / float64(total)
	}
	return CycleStats{
		CyclesRun:              o.cyclesRun.Load(),
		SignalsApproved:        approved,
		SignalsRejected:        rejected,
		ApprovalRate:           rate,
		MinConsensusConfidence: o.minConsensusConfidence,
	}
}

// GetTaskLog returns the most recent task log entries.
func (o *Orchestrator) GetTaskLog(limit int) []TaskLogEntry {
	o.logMu.Lock()
	defer o.logMu.Unlock()
	entries := o.taskLog
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	out := make([]TaskLogEntry, len(entries))
	copy(out, entries)
	return out
}

// blendConfidence mixes technical and sentiment confidence: 70/30 on
// confirmation, a 15% sentiment penalty on disagreement. Clamped to [0, 0.95].
func blendConfidence(techConf, alphaConf float64, confirms bool) float64 {
	var blended float64
	if confirms {
		blended = techConf*0.70 + alphaConf*0.30
	} else {
		blended = techConf*0.70 - alphaConf*0.15
	}
	return clamp(blended, 0, 0.95)
}

func firstN(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}
