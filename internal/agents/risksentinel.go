package agents

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/Leblepito/uAlgoTrade/internal/metrics"
	"github.com/Leblepito/uAlgoTrade/internal/models"
)

const riskRejectThreshold = 0.50

// ProposedSignal is the trade the risk sentinel is asked to vet.
type ProposedSignal struct {
	Direction  models.Direction `json:"direction"`
	EntryPrice float64          `json:"entry_price"`
	StopLoss   float64          `json:"stop_loss"`
	Quantity   float64          `json:"quantity"`
}

// PortfolioState is the portfolio-level input to the risk checks.
type PortfolioState struct {
	OpenPositions  int     `json:"open_positions"`
	TotalValue     float64 `json:"total_value"`
	UnrealizedPnL  float64 `json:"unrealized_pnl"`
	DailyPnLPct    float64 `json:"daily_pnl_pct"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
}

// VolatilityCheck summarizes recent signal-confidence variance.
type VolatilityCheck struct {
	Value      float64 `json:"value"`
	IsExtreme  bool    `json:"is_extreme"`
	SampleSize int     `json:"sample_size"`
}

// RiskResult is the sentinel's evaluation of a proposal or portfolio state.
type RiskResult struct {
	Agent            string           `json:"agent"`
	Symbol           string           `json:"symbol"`
	Direction        models.Direction `json:"direction"`
	Confidence       float64          `json:"confidence"`
	Vote             models.VoteType  `json:"vote"`
	RiskScore        float64          `json:"risk_score"`
	RiskFlags        []string         `json:"risk_flags"`
	KillSwitchActive bool             `json:"kill_switch_active"`
	KillSwitchReason string           `json:"kill_switch_reason,omitempty"`
	Portfolio        PortfolioState   `json:"portfolio"`
	Volatility       VolatilityCheck  `json:"volatility"`
}

// RiskSummary reports kill-switch state and active thresholds.
type RiskSummary struct {
	KillSwitchActive      bool       `json:"kill_switch_active"`
	KillSwitchReason      string     `json:"kill_switch_reason,omitempty"`
	KillSwitchActivatedAt *time.Time `json:"kill_switch_activated_at,omitempty"`
	DailyTradeCount       int        `json:"daily_trade_count"`
	CoolDownActive        bool       `json:"cool_down_active"`
	Thresholds            map[string]any `json:"thresholds"`
}

// RiskSentinel is the last line of defense before a signal is approved.
// It exclusively owns the kill switch: one writer, many readers.
type RiskSentinel struct {
	*BaseAgent

	maxDrawdownPct      float64
	maxRiskPerTrade     float64
	maxOpenPositions    int
	maxDailyLossPct     float64
	maxConcentrationPct float64
	volatilityThreshold float64
	maxDailyTrades      int
	coolDownAfterLoss   time.Duration
	maxSingleAssetRatio float64

	mu                    sync.Mutex
	killSwitchActive      bool
	killSwitchReason      string
	killSwitchActivatedAt *time.Time
	lastLossAt            *time.Time
	dailyTradeCount       int
	dailyTradeResetDate   string
}

// NewRiskSentinel creates the risk guardian agent.
func NewRiskSentinel(actx *Context) *RiskSentinel {
	rc := actx.Cfg.Risk
	return &RiskSentinel{
		BaseAgent: NewBaseAgent("risk_sentinel",
			"Risk Guardian — Portfolio protection, kill switch, position sizing",
			"1.2.0", actx),
		maxDrawdownPct:      rc.KillSwitchDrawdown,
		maxRiskPerTrade:     rc.MaxRiskPerTrade,
		maxOpenPositions:    rc.MaxOpenPositions,
		maxDailyLossPct:     rc.MaxDailyLossPct,
		maxConcentrationPct: rc.MaxConcentrationPct,
		volatilityThreshold: rc.VolatilityThreshold,
		maxDailyTrades:      rc.MaxDailyTrades,
		coolDownAfterLoss:   time.Duration(rc.CoolDownAfterLossSeconds) * time.Second,
		maxSingleAssetRatio: rc.MaxSingleAssetRatio,
	}
}

// Analyze evaluates risk for a proposed signal, or the portfolio alone when
// proposed is nil.
func (r *RiskSentinel) Analyze(ctx context.Context, symbol string, proposed *ProposedSignal) (*RiskResult, error) {
	return runTracked(ctx, r.BaseAgent, symbol, func(ctx context.Context) (*RiskResult, error) {
		return r.analyze(ctx, symbol, proposed)
	})
}

func (r *RiskSentinel) analyze(ctx context.Context, symbol string, proposed *ProposedSignal) (*RiskResult, error) {
	portfolio := r.portfolioState(ctx)
	volatility := r.checkVolatility(ctx, symbol)

	var flags []string
	riskScore := 0.0
	raise := func(severity float64, flag string) {
		flags = append(flags, flag)
		riskScore = math.Max(riskScore, severity)
	}

	// Checks run in fixed severity order; kill-switch activations happen
	// inside the pass so later cycles observe them atomically.

	if active, reason := r.KillSwitchState(); active {
		raise(1.00, fmt.Sprintf("KILL_SWITCH_ACTIVE (reason: %s)", reason))
	}

	if portfolio.DailyPnLPct < -r.maxDailyLossPct {
		raise(0.90, fmt.Sprintf("DAILY_LOSS_EXCEEDED (%.2f%% < -%.2f%% limit)",
			portfolio.DailyPnLPct*100, r.maxDailyLossPct*100))
		r.activateKillSwitch(ctx, fmt.Sprintf("Daily loss limit exceeded: %.2f%%", portfolio.DailyPnLPct*100))
	}

	if portfolio.MaxDrawdownPct < -r.maxDrawdownPct {
		raise(0.95, fmt.Sprintf("MAX_DRAWDOWN_EXCEEDED (%.2f%% < -%.2f%% limit)",
			portfolio.MaxDrawdownPct*100, r.maxDrawdownPct*100))
		r.activateKillSwitch(ctx, fmt.Sprintf("Max drawdown exceeded: %.2f%%", portfolio.MaxDrawdownPct*100))
	}

	if portfolio.OpenPositions >= r.maxOpenPositions {
		raise(0.75, fmt.Sprintf("MAX_POSITIONS_REACHED (%d/%d)",
			portfolio.OpenPositions, r.maxOpenPositions))
	}

	if count := r.dailyTrades(); count >= r.maxDailyTrades {
		raise(0.70, fmt.Sprintf("DAILY_TRADE_LIMIT (%d/%d)", count, r.maxDailyTrades))
	}

	if remaining := r.coolDownRemaining(); remaining > 0 {
		raise(0.65, fmt.Sprintf("COOL_DOWN_ACTIVE (%ds remaining after last loss)",
			int(remaining.Seconds())))
	}

	if proposed != nil && portfolio.TotalValue > 0 {
		assetRatio := proposed.EntryPrice * proposed.Quantity / portfolio.TotalValue
		if assetRatio > r.maxSingleAssetRatio {
			raise(0.70, fmt.Sprintf("SINGLE_ASSET_OVERWEIGHT (%.0f%% > %.0f%% max)",
				assetRatio*100, r.maxSingleAssetRatio*100))
		}
	}

	if volatility.IsExtreme {
		raise(0.55, fmt.Sprintf("EXTREME_VOLATILITY (signal_std=%.3f > %.2f)",
			volatility.Value, r.volatilityThreshold))
	}

	if proposed != nil {
		tradeRisk := computeTradeRisk(proposed, portfolio)
		if tradeRisk > r.maxRiskPerTrade {
			raise(0.80, fmt.Sprintf("TRADE_RISK_EXCEEDED (%.2f%% > %.2f%% max per trade)",
				tradeRisk*100, r.maxRiskPerTrade*100))
		}
	}

	if proposed != nil {
		if ratio := r.checkConcentration(ctx, symbol); ratio > r.maxConcentrationPct {
			raise(0.60, fmt.Sprintf("CONCENTRATION_RISK (%s: %.0f%% of open positions)",
				symbol, ratio*100))
		}
	}

	vote := models.VoteApprove
	if riskScore >= riskRejectThreshold {
		vote = models.VoteReject
	}

	direction := models.DirectionNeutral
	if vote == models.VoteApprove && proposed != nil {
		direction = proposed.Direction
	}

	confidence := round4(riskScore)
	if vote == models.VoteApprove {
		confidence = round4(1.0 - riskScore)
	}

	if flags == nil {
		flags = []string{}
	}

	active, reason := r.KillSwitchState()
	result := &RiskResult{
		Agent:            r.Name(),
		Symbol:           symbol,
		Direction:        direction,
		Confidence:       confidence,
		Vote:             vote,
		RiskScore:        round4(riskScore),
		RiskFlags:        flags,
		KillSwitchActive: active,
		KillSwitchReason: reason,
		Portfolio:        portfolio,
		Volatility:       volatility,
	}

	if _, err := r.memory.StoreDecision(ctx, symbol, map[string]any{
		"vote":        string(vote),
		"risk_score":  riskScore,
		"flags":       flags,
		"kill_switch": active,
	}, 0.7); err != nil {
		r.log.Warn().Err(err).Msg("Failed to store risk decision")
	}

	if len(flags) > 0 {
		r.log.Warn().Str("symbol", symbol).Str("vote", string(vote)).
			Strs("flags", flags).Msg("Risk evaluation")
	} else {
		r.log.Info().Str("symbol", symbol).Str("vote", string(vote)).
			Msg("Risk evaluation clean")
	}

	return result, nil
}

// portfolioState queries portfolio metrics, returning safe defaults on any
// database failure so a storage blip never blocks the risk pass.
func (r *RiskSentinel) portfolioState(ctx context.Context) PortfolioState {
	fallback := PortfolioState{TotalValue: 10000}

	openCount, err := r.ctx.Repo.CountOpenPositions(ctx, "")
	if err != nil {
		r.log.Error().Err(err).Msg("Portfolio query failed")
		return fallback
	}
	unrealized, err := r.ctx.Repo.SumOpenUnrealizedPnL(ctx)
	if err != nil {
		r.log.Error().Err(err).Msg("Portfolio query failed")
		return fallback
	}
	snapshot, err := r.ctx.Repo.LatestSnapshot(ctx)
	if err != nil {
		r.log.Error().Err(err).Msg("Portfolio query failed")
		return fallback
	}

	totalValue := 10000.0
	maxDD := 0.0
	if snapshot != nil {
		totalValue = snapshot.TotalValue
		if snapshot.MaxDrawdown != nil {
			maxDD = *snapshot.MaxDrawdown
		}
	}

	dailyPnLPct := 0.0
	if totalValue > 0 {
		dailyPnLPct = unrealized / totalValue
	}

	return PortfolioState{
		OpenPositions:  openCount,
		TotalValue:     totalValue,
		UnrealizedPnL:  unrealized,
		DailyPnLPct:    dailyPnLPct,
		MaxDrawdownPct: maxDD,
	}
}

// checkVolatility uses the std dev of recent signal confidences as a cheap
// volatility proxy. Needs at least 3 samples to flag.
func (r *RiskSentinel) checkVolatility(ctx context.Context, symbol string) VolatilityCheck {
	confidences, err := r.ctx.Repo.RecentSignalConfidences(ctx, symbol, 24)
	if err != nil {
		r.log.Error().Err(err).Msg("Volatility check failed")
		return VolatilityCheck{}
	}
	if len(confidences) < 3 {
		return VolatilityCheck{SampleSize: len(confidences)}
	}

	var sum float64
	for _, c := range confidences {
		sum += c
	}
	mean := sum / float64(len(confidences))
	var variance float64
	for _, c := range confidences {
		variance += (c - mean) * (c - mean)
	}
	std := math.Sqrt(variance / float64(len(confidences)))

	return VolatilityCheck{
		Value:      round4(std),
		IsExtreme:  std > r.volatilityThreshold,
		SampleSize: len(confidences),
	}
}

// checkConcentration returns the share of open positions this symbol would
// hold if the proposed trade opened.
func (r *RiskSentinel) checkConcentration(ctx context.Context, symbol string) float64 {
	totalOpen, err := r.ctx.Repo.CountOpenPositions(ctx, "")
	if err != nil {
		r.log.Error().Err(err).Msg("Concentration check failed")
		return 0
	}
	if totalOpen == 0 {
		// An empty book cannot be concentrated
		return 0
	}
	symbolOpen, err := r.ctx.Repo.CountOpenPositions(ctx, symbol)
	if err != nil {
		r.log.Error().Err(err).Msg("Concentration check failed")
		return 0
	}
	return float64(symbolOpen+1) / float64(totalOpen+1)
}

// computeTradeRisk is |entry - stop| * quantity as a fraction of portfolio.
func computeTradeRisk(proposed *ProposedSignal, portfolio PortfolioState) float64 {
	totalValue := portfolio.TotalValue
	if totalValue == 0 {
		totalValue = 10000
	}
	if proposed.EntryPrice == 0 || proposed.StopLoss == 0 || proposed.Quantity == 0 {
		return 0
	}
	return math.Abs(proposed.EntryPrice-proposed.StopLoss) * proposed.Quantity / totalValue
}

// activateKillSwitch latches the kill switch. Idempotent: re-activation with
// any reason is a no-op while already active.
func (r *RiskSentinel) activateKillSwitch(ctx context.Context, reason string) {
	r.mu.Lock()
	if r.killSwitchActive {
		r.mu.Unlock()
		return
	}
	now := r.ctx.now()
	r.killSwitchActive = true
	r.killSwitchReason = reason
	r.killSwitchActivatedAt = &now
	r.mu.Unlock()

	metrics.KillSwitchActive.Set(1)
	r.log.Error().Str("reason", reason).Msg("KILL SWITCH ACTIVATED")

	r.ctx.Bus.Broadcast(r.Name(), "risk.kill_switch", map[string]any{
		"active":       true,
		"reason":       reason,
		"activated_at": now.Format(time.RFC3339),
	})

	// Maximum importance: this event must never be forgotten
	if _, err := r.memory.Store(ctx, models.MemoryPattern, map[string]any{
		"event":        "kill_switch_activated",
		"reason":       reason,
		"activated_at": now.Format(time.RFC3339),
	}, "", 1.0, 0); err != nil {
		r.log.Warn().Err(err).Msg("Failed to memoize kill switch activation")
	}
}

// DeactivateKillSwitch releases the latch. Manual operator action only.
func (r *RiskSentinel) DeactivateKillSwitch(operator string) {
	r.mu.Lock()
	prevReason := r.killSwitchReason
	r.killSwitchActive = false
	r.killSwitchReason = ""
	r.killSwitchActivatedAt = nil
	r.mu.Unlock()

	metrics.KillSwitchActive.Set(0)
	r.log.Info().Str("operator", operator).Str("previous_reason", prevReason).
		Msg("Kill switch deactivated")

	r.ctx.Bus.Broadcast(r.Name(), "risk.kill_switch", map[string]any{
		"active":          false,
		"operator":        operator,
		"previous_reason": prevReason,
		"deactivated_at":  r.ctx.now().Format(time.RFC3339),
	})
}

// KillSwitchState returns the current latch state and its reason.
func (r *RiskSentinel) KillSwitchState() (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.killSwitchActive, r.killSwitchReason
}

// RecordTradeExecuted increments the daily trade counter. Called by the
// orchestrator after each approved signal.
func (r *RiskSentinel) RecordTradeExecuted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetDailyCountLocked()
	r.dailyTradeCount++
}

// RecordLoss starts the cool-down clock after a realized loss.
func (r *RiskSentinel) RecordLoss() {
	now := r.ctx.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastLossAt = &now
}

// dailyTrades returns today's trade count, resetting at UTC day boundary.
func (r *RiskSentinel) dailyTrades() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetDailyCountLocked()
	return r.dailyTradeCount
}

func (r *RiskSentinel) resetDailyCountLocked() {
	today := r.ctx.now().UTC().Format("2006-01-02")
	if r.dailyTradeResetDate != today {
		r.dailyTradeCount = 0
		r.dailyTradeResetDate = today
	}
}

func (r *RiskSentinel) coolDownRemaining() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastLossAt == nil {
		return 0
	}
	elapsed := r.ctx.now().Sub(*r.lastLossAt)
	if elapsed >= r.coolDownAfterLoss {
		return 0
	}
	return r.coolDownAfterLoss - elapsed
}

// GetRiskSummary reports the sentinel's state and thresholds.
func (r *RiskSentinel) GetRiskSummary() RiskSummary {
	r.mu.Lock()
	defer r.mu.Unlock()

	coolDown := false
	if r.lastLossAt != nil {
		coolDown = r.ctx.now().Sub(*r.lastLossAt) < r.coolDownAfterLoss
	}

	return RiskSummary{
		KillSwitchActive:      r.killSwitchActive,
		KillSwitchReason:      r.killSwitchReason,
		KillSwitchActivatedAt: r.killSwitchActivatedAt,
		DailyTradeCount:       r.dailyTradeCount,
		CoolDownActive:        coolDown,
		Thresholds: map[string]any{
			"max_daily_loss_pct":           r.maxDailyLossPct,
			"max_drawdown_pct":             r.maxDrawdownPct,
			"max_open_positions":           r.maxOpenPositions,
			"max_risk_per_trade":           r.maxRiskPerTrade,
			"max_concentration_pct":        r.maxConcentrationPct,
			"volatility_threshold":         r.volatilityThreshold,
			"max_daily_trades":             r.maxDailyTrades,
			"cool_down_after_loss_seconds": int(r.coolDownAfterLoss.Seconds()),
			"max_single_asset_ratio":       r.maxSingleAssetRatio,
		},
	}
}
