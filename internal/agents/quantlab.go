package agents

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/Leblepito/uAlgoTrade/internal/models"
)

// Performance summarizes closed-position results over the lookback window.
type Performance struct {
	TotalTrades          int      `json:"total_trades"`
	WinningTrades        int      `json:"winning_trades"`
	LosingTrades         int      `json:"losing_trades"`
	WinRate              float64  `json:"win_rate"`
	TotalPnL             float64  `json:"total_pnl"`
	AvgPnL               float64  `json:"avg_pnl"`
	BestTrade            *float64 `json:"best_trade,omitempty"`
	WorstTrade           *float64 `json:"worst_trade,omitempty"`
	AvgWin               *float64 `json:"avg_win,omitempty"`
	AvgLoss              *float64 `json:"avg_loss,omitempty"`
	ProfitFactor         *float64 `json:"profit_factor,omitempty"`
	SharpeRatio          *float64 `json:"sharpe_ratio,omitempty"`
	CalmarRatio          *float64 `json:"calmar_ratio,omitempty"`
	MaxDrawdown          *float64 `json:"max_drawdown,omitempty"`
	AvgHoldingPeriodHours *float64 `json:"avg_holding_period_hours,omitempty"`
}

// AgentAccuracy reports how well one agent's votes predicted signal outcomes.
type AgentAccuracy struct {
	TotalVotes    int      `json:"total_votes"`
	CorrectVotes  int      `json:"correct_votes"`
	Accuracy      *float64 `json:"accuracy,omitempty"`
	AvgConfidence *float64 `json:"avg_confidence,omitempty"`
	Overconfident float64  `json:"overconfident"`
}

// SignalHealth summarizes signal generation patterns.
type SignalHealth struct {
	TotalSignals     int          `json:"total_signals"`
	LongCount        int          `json:"long_count"`
	ShortCount       int          `json:"short_count"`
	NeutralCount     int          `json:"neutral_count"`
	DirectionBalance float64      `json:"direction_balance"`
	ApprovalRate     float64      `json:"approval_rate"`
	ExecutionRate    float64      `json:"execution_rate"`
	AvgConfidence    *float64     `json:"avg_confidence,omitempty"`
	ConfidenceStd    *float64     `json:"confidence_std,omitempty"`
	TopSymbol        *SymbolCount `json:"top_symbol,omitempty"`
	UniqueSymbols    int          `json:"unique_symbols"`
}

// SymbolCount pairs a symbol with its signal count.
type SymbolCount struct {
	Symbol string `json:"symbol"`
	Count  int    `json:"count"`
}

// OptimizationResult is the full output of one optimization run.
type OptimizationResult struct {
	Agent              string                   `json:"agent"`
	StrategyID         string                   `json:"strategy_id"`
	LookbackDays       int                      `json:"lookback_days"`
	Performance        Performance              `json:"performance"`
	AgentAccuracy      map[string]AgentAccuracy `json:"agent_accuracy"`
	SignalHealth       SignalHealth             `json:"signal_health"`
	Regime             string                   `json:"regime"`
	Recommendations    []string                 `json:"recommendations"`
	SnapshotCreated    bool                     `json:"snapshot_created"`
	OptimizationNumber int64                    `json:"optimization_number"`
	DurationMs         int64                    `json:"duration_ms"`
	Timestamp          time.Time                `json:"timestamp"`
}

// QuantLab analyzes trading performance nightly and produces parameter tuning
// recommendations, closing the feedback loop on agent calibration.
type QuantLab struct {
	*BaseAgent
	optimizationCount atomic.Int64
}

// NewQuantLab creates the optimizer agent.
func NewQuantLab(actx *Context) *QuantLab {
	return &QuantLab{
		BaseAgent: NewBaseAgent("quant_lab",
			"Optimizer — Performance analysis, Sharpe/Calmar metrics, agent calibration",
			"1.2.0", actx),
	}
}

// RunOptimization executes the full analysis pipeline: performance, agent
// accuracy, signal health, regime, recommendations, snapshot, and learning.
func (q *QuantLab) RunOptimization(ctx context.Context, strategyID string, lookbackDays int) (*OptimizationResult, error) {
	return runTracked(ctx, q.BaseAgent, strategyID, func(ctx context.Context) (*OptimizationResult, error) {
		return q.runOptimization(ctx, strategyID, lookbackDays)
	})
}

func (q *QuantLab) runOptimization(ctx context.Context, strategyID string, lookbackDays int) (*OptimizationResult, error) {
	if strategyID == "" {
		strategyID = "default"
	}
	if lookbackDays <= 0 {
		lookbackDays = 30
	}

	count := q.optimizationCount.Add(1)
	start := q.ctx.now()
	monoStart := time.Now()

	q.log.Info().
		Int64("optimization", count).
		Str("strategy_id", strategyID).
		Int("lookback_days", lookbackDays).
		Msg("Starting optimization")

	performance := q.computePerformance(ctx, strategyID, lookbackDays)
	accuracy := q.analyzeAgentAccuracy(ctx, 7)
	health := q.analyzeSignalHealth(ctx, lookbackDays)
	regime := classifyRegime(performance)
	recommendations := generateRecommendations(performance, accuracy, health)
	q.createSnapshot(ctx, performance)

	if _, err := q.memory.StoreLearning(ctx, map[string]any{
		"strategy_id":         strategyID,
		"lookback_days":       lookbackDays,
		"optimization_number": count,
		"performance":         performance,
		"agent_accuracy":      accuracy,
		"signal_health":       health,
		"regime":              regime,
		"recommendations":     recommendations,
	}); err != nil {
		q.log.Warn().Err(err).Msg("Failed to store optimization learning")
	}

	result := &OptimizationResult{
		Agent:              q.Name(),
		StrategyID:         strategyID,
		LookbackDays:       lookbackDays,
		Performance:        performance,
		AgentAccuracy:      accuracy,
		SignalHealth:       health,
		Regime:             regime,
		Recommendations:    recommendations,
		SnapshotCreated:    true,
		OptimizationNumber: count,
		DurationMs:         time.Since(monoStart).Milliseconds(),
		Timestamp:          start,
	}

	q.log.Info().
		Float64("win_rate", performance.WinRate).
		Str("regime", regime).
		Int("recommendations", len(recommendations)).
		Msg("Optimization complete")

	return result, nil
}

// computePerformance derives trade statistics from closed positions.
func (q *QuantLab) computePerformance(ctx context.Context, strategyID string, lookbackDays int) Performance {
	since := q.ctx.now().Add(-time.Duration(lookbackDays) * 24 * time.Hour)
	positions, err := q.ctx.Repo.GetClosedPositions(ctx, strategyID, since)
	if err != nil {
		q.log.Error().Err(err).Msg("Performance query failed")
		positions = nil
	}
	if len(positions) == 0 {
		return Performance{}
	}

	pnls := make([]float64, len(positions))
	var wins, losses []float64
	for i, p := range positions {
		pnls[i] = p.UnrealizedPnL
		if p.UnrealizedPnL > 0 {
			wins = append(wins, p.UnrealizedPnL)
		} else {
			losses = append(losses, p.UnrealizedPnL)
		}
	}

	totalPnL := sum(pnls)
	perf := Performance{
		TotalTrades:   len(pnls),
		WinningTrades: len(wins),
		LosingTrades:  len(losses),
		WinRate:       round4(float64(len(wins)) / float64(len(pnls))),
		TotalPnL:      round4(totalPnL),
		AvgPnL:        round4(mean(pnls)),
		BestTrade:     models.Float64Ptr(round4(maxOf(pnls))),
		WorstTrade:    models.Float64Ptr(round4(minOf(pnls))),
	}
	if len(wins) > 0 {
		perf.AvgWin = models.Float64Ptr(round4(mean(wins)))
	}
	if len(losses) > 0 {
		perf.AvgLoss = models.Float64Ptr(round4(mean(losses)))
		if lossSum := sum(losses); lossSum != 0 {
			pf := math.Round(math.Abs(sum(wins))/math.Abs(lossSum)*100) / 100
			perf.ProfitFactor = &pf
		}
	}

	// Annualized Sharpe, assuming daily trading cadence
	if len(pnls) >= 2 {
		if sd := std(pnls); sd > 0 {
			sharpe := round4(mean(pnls) / sd * math.Sqrt(252))
			perf.SharpeRatio = &sharpe
		}
	}

	// Max drawdown from the cumulative equity curve. The running max starts
	// at the curve's own first point, so a window that opens with losses
	// drawn down from nothing is not counted as drawdown.
	cumulative := 0.0
	runningMax := math.Inf(-1)
	maxDD := 0.0
	for _, p := range pnls {
		cumulative += p
		if cumulative > runningMax {
			runningMax = cumulative
		}
		if dd := cumulative - runningMax; dd < maxDD {
			maxDD = dd
		}
	}
	perf.MaxDrawdown = models.Float64Ptr(round4(maxDD))

	// Calmar = annualized return / |max drawdown|
	if maxDD < 0 && totalPnL != 0 {
		annualized := totalPnL * (365.0 / float64(lookbackDays))
		calmar := math.Round(annualized/math.Abs(maxDD)*1000) / 1000
		perf.CalmarRatio = &calmar
	}

	var holds []float64
	for _, p := range positions {
		if p.OpenedAt != nil && p.ClosedAt != nil {
			holds = append(holds, p.ClosedAt.Sub(*p.OpenedAt).Hours())
		}
	}
	if len(holds) > 0 {
		avgHold := math.Round(mean(holds)*10) / 10
		perf.AvgHoldingPeriodHours = &avgHold
	}

	return perf
}

// analyzeAgentAccuracy joins each agent's votes with realized signal status.
// A vote is correct when it approved a signal that went on to be approved or
// executed, or rejected one that was rejected.
func (q *QuantLab) analyzeAgentAccuracy(ctx context.Context, lookbackDays int) map[string]AgentAccuracy {
	agentNames := []string{"alpha_scout", "technical_analyst", "risk_sentinel"}
	accuracy := make(map[string]AgentAccuracy, len(agentNames))

	for _, name := range agentNames {
		outcomes, err := q.ctx.Repo.ListVoteOutcomes(ctx, name, lookbackDays)
		if err != nil {
			q.log.Error().Err(err).Str("agent", name).Msg("Accuracy query failed")
			outcomes = nil
		}
		if len(outcomes) == 0 {
			accuracy[name] = AgentAccuracy{}
			continue
		}

		correct, overconfident := 0, 0
		var confidences []float64
		for _, o := range outcomes {
			approvedOutcome := o.Status == models.SignalStatusApproved || o.Status == models.SignalStatusExecuted
			if (o.Vote == models.VoteApprove && approvedOutcome) ||
				(o.Vote == models.VoteReject && o.Status == models.SignalStatusRejected) {
				correct++
			}
			if o.Confidence > 0.8 {
				overconfident++
			}
			confidences = append(confidences, o.Confidence)
		}

		total := len(outcomes)
		acc := round4(float64(correct) / float64(total))
		avgConf := round4(mean(confidences))
		accuracy[name] = AgentAccuracy{
			TotalVotes:    total,
			CorrectVotes:  correct,
			Accuracy:      &acc,
			AvgConfidence: &avgConf,
			Overconfident: float64(overconfident) / float64(total),
		}
	}

	return accuracy
}

// analyzeSignalHealth summarizes signal volume, direction balance, and
// confidence calibration.
func (q *QuantLab) analyzeSignalHealth(ctx context.Context, lookbackDays int) SignalHealth {
	signals, err := q.ctx.Repo.ListSignalsSince(ctx, lookbackDays)
	if err != nil {
		q.log.Error().Err(err).Msg("Signal health query failed")
		return SignalHealth{}
	}
	if len(signals) == 0 {
		return SignalHealth{}
	}

	total := len(signals)
	var longCount, shortCount, approved, executed int
	var confidences []float64
	symbolCounts := make(map[string]int)

	for _, s := range signals {
		switch s.Direction {
		case models.DirectionLong:
			longCount++
		case models.DirectionShort:
			shortCount++
		}
		switch s.Status {
		case models.SignalStatusApproved:
			approved++
		case models.SignalStatusExecuted:
			executed++
		}
		confidences = append(confidences, s.Confidence)
		symbolCounts[s.Symbol]++
	}

	var topSymbol *SymbolCount
	for sym, n := range symbolCounts {
		if topSymbol == nil || n > topSymbol.Count || (n == topSymbol.Count && sym < topSymbol.Symbol) {
			topSymbol = &SymbolCount{Symbol: sym, Count: n}
		}
	}

	health := SignalHealth{
		TotalSignals:     total,
		LongCount:        longCount,
		ShortCount:       shortCount,
		NeutralCount:     total - longCount - shortCount,
		DirectionBalance: math.Round(float64(longCount)/float64(total)*1000) / 1000,
		ApprovalRate:     math.Round(float64(approved)/float64(total)*1000) / 1000,
		ExecutionRate:    math.Round(float64(executed)/float64(total)*1000) / 1000,
		TopSymbol:        topSymbol,
		UniqueSymbols:    len(symbolCounts),
	}
	if len(confidences) > 0 {
		avg := round4(mean(confidences))
		sd := round4(std(confidences))
		health.AvgConfidence = &avg
		health.ConfidenceStd = &sd
	}
	return health
}

// classifyRegime buckets recent performance into a coarse market regime.
func classifyRegime(p Performance) string {
	if p.TotalTrades == 0 {
		return "UNKNOWN"
	}
	maxDD := 0.0
	if p.MaxDrawdown != nil {
		maxDD = *p.MaxDrawdown
	}
	switch {
	case p.WinRate >= 0.6 && (p.SharpeRatio == nil || *p.SharpeRatio >= 1.0):
		return "TRENDING_FAVORABLE"
	case p.WinRate >= 0.5 && maxDD > -0.05:
		return "STABLE"
	case p.WinRate < 0.4 || maxDD < -0.10:
		return "UNFAVORABLE"
	case math.Abs(maxDD) < 0.03 && p.WinRate < 0.55:
		return "RANGING"
	default:
		return "MIXED"
	}
}

// generateRecommendations emits prioritized, actionable parameter tuning
// guidance. Severity prefixes: 🔴 critical, 🟡 attention, 🟢 healthy.
func generateRecommendations(p Performance, accuracy map[string]AgentAccuracy, health SignalHealth) []string {
	var recs []string

	maxDD := 0.0
	if p.MaxDrawdown != nil {
		maxDD = *p.MaxDrawdown
	}

	switch {
	case p.TotalTrades == 0:
		recs = append(recs, "🔴 No closed trades in lookback window — verify database connectivity and position status updates")
	case p.WinRate < 0.35:
		recs = append(recs, fmt.Sprintf("🔴 Win rate critically low (%.1f%%) — increase min_consensus_confidence to ≥0.65 and review indicator weights", p.WinRate*100))
	case p.WinRate < 0.45:
		recs = append(recs, fmt.Sprintf("🟡 Win rate below target (%.1f%%) — tighten consensus threshold by +5%% and review RSI/Bollinger weights", p.WinRate*100))
	case p.WinRate > 0.72:
		recs = append(recs, fmt.Sprintf("🟢 Win rate strong (%.1f%%) — consider lowering consensus threshold by 3-5%% to capture more opportunities", p.WinRate*100))
	}

	if maxDD < -0.10 {
		recs = append(recs, fmt.Sprintf("🔴 Max drawdown severe (%.1f%%) — reduce position sizes by 30%% and tighten stop-loss multiplier from 1.5 to 1.2 ATR", maxDD*100))
	} else if maxDD < -0.05 {
		recs = append(recs, fmt.Sprintf("🟡 Drawdown elevated (%.1f%%) — tighten stop-loss and reduce leverage for next 5 trades", maxDD*100))
	}

	if p.SharpeRatio != nil {
		switch sharpe := *p.SharpeRatio; {
		case sharpe < 0.3:
			recs = append(recs, fmt.Sprintf("🔴 Sharpe ratio very low (%.2f) — strategy is not generating risk-adjusted returns; consider pausing and reviewing", sharpe))
		case sharpe < 0.8:
			recs = append(recs, fmt.Sprintf("🟡 Sharpe ratio below target (%.2f) — improve entry timing or reduce position size variance", sharpe))
		case sharpe > 2.0:
			recs = append(recs, fmt.Sprintf("🟢 Excellent Sharpe (%.2f) — current parameters well-calibrated", sharpe))
		}
	}

	if p.ProfitFactor != nil {
		switch pf := *p.ProfitFactor; {
		case pf < 1.0:
			recs = append(recs, fmt.Sprintf("🔴 Profit factor < 1.0 (%.2f) — losing strategy; halt live trading until resolved", pf))
		case pf < 1.3:
			recs = append(recs, fmt.Sprintf("🟡 Profit factor marginal (%.2f) — target ≥1.5 by improving TP/SL ratio", pf))
		}
	}

	if health.TotalSignals > 0 {
		if health.DirectionBalance < 0.30 {
			recs = append(recs, fmt.Sprintf("🟡 SHORT bias detected (%.0f%% LONG) — check if sentiment agent is over-calibrated bearish", health.DirectionBalance*100))
		} else if health.DirectionBalance > 0.70 {
			recs = append(recs, fmt.Sprintf("🟡 LONG bias detected (%.0f%% LONG) — alpha_scout bias_correction may need negative adjustment", health.DirectionBalance*100))
		}

		if health.ApprovalRate < 0.20 {
			recs = append(recs, fmt.Sprintf("🟡 Low approval rate (%.0f%%) — risk_sentinel may be too conservative; review volatility_threshold", health.ApprovalRate*100))
		} else if health.ApprovalRate > 0.80 {
			recs = append(recs, fmt.Sprintf("🟡 High approval rate (%.0f%%) — risk_sentinel may be too permissive; tighten risk_score threshold", health.ApprovalRate*100))
		}
	}

	for _, name := range []string{"alpha_scout", "technical_analyst", "risk_sentinel"} {
		acc, ok := accuracy[name]
		if !ok || acc.Accuracy == nil {
			continue
		}
		if *acc.Accuracy < 0.45 {
			recs = append(recs, fmt.Sprintf("🟡 Agent '%s' vote accuracy low (%.1f%%) — reduce its consensus weight or review its signal logic", name, *acc.Accuracy*100))
		} else if *acc.Accuracy > 0.70 {
			recs = append(recs, fmt.Sprintf("🟢 Agent '%s' performing well (%.1f%%) — consider increasing its consensus vote weight", name, *acc.Accuracy*100))
		}
	}

	if p.AvgHoldingPeriodHours != nil {
		if *p.AvgHoldingPeriodHours < 1.0 {
			recs = append(recs, fmt.Sprintf("🟡 Very short avg hold (%.1fh) — signals may be closing too early; widen TP by 20%%", *p.AvgHoldingPeriodHours))
		} else if *p.AvgHoldingPeriodHours > 72 {
			recs = append(recs, fmt.Sprintf("🟡 Long avg hold (%.1fh) — consider time-based exits for stale positions", *p.AvgHoldingPeriodHours))
		}
	}

	if len(recs) == 0 {
		recs = append(recs, "🟢 All metrics within target ranges — no parameter changes recommended")
	}
	return recs
}

// createSnapshot upserts today's portfolio snapshot.
func (q *QuantLab) createSnapshot(ctx context.Context, p Performance) {
	totalValue, err := q.ctx.Repo.OpenPositionsValue(ctx)
	if err != nil {
		q.log.Error().Err(err).Msg("Snapshot value query failed")
		totalValue = 10000
	}
	openCount, err := q.ctx.Repo.CountOpenPositions(ctx, "")
	if err != nil {
		q.log.Error().Err(err).Msg("Snapshot count query failed")
		openCount = 0
	}

	totalPnLPct := 0.0
	if totalValue > 0 {
		totalPnLPct = p.TotalPnL / totalValue * 100
	}

	now := q.ctx.now().UTC()
	snapshot := models.PortfolioSnapshot{
		SnapshotDate:  time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC),
		TotalValue:    totalValue,
		TotalPnL:      p.TotalPnL,
		TotalPnLPct:   totalPnLPct,
		OpenPositions: openCount,
		SharpeRatio:   p.SharpeRatio,
		MaxDrawdown:   p.MaxDrawdown,
	}
	if p.TotalTrades > 0 {
		snapshot.WinRate = models.Float64Ptr(p.WinRate)
	}

	if err := q.ctx.Repo.UpsertSnapshot(ctx, snapshot); err != nil {
		q.log.Error().Err(err).Msg("Snapshot upsert failed")
	}
}

func sum(vals []float64) float64 {
	var s float64
	for _, v := range vals {
		s += v
	}
	return s
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	return sum(vals) / float64(len(vals))
}

func std(vals []float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	m := mean(vals)
	var variance float64
	for _, v := range vals {
		variance += (v - m) * (v - m)
	}
	return math.Sqrt(variance / float64(len(vals)))
}

func maxOf(vals []float64) float64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func minOf(vals []float64) float64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
