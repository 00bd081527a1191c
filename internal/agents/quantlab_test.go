package agents

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Leblepito/uAlgoTrade/internal/models"
)

func closedPosition(pnl float64, holdHours float64, closedAt time.Time) models.Position {
	opened := closedAt.Add(-time.Duration(holdHours * float64(time.Hour)))
	return models.Position{
		Symbol:        "BTCUSDT",
		Side:          "LONG",
		EntryPrice:    50000,
		CurrentPrice:  50000 + pnl,
		Quantity:      1,
		UnrealizedPnL: pnl,
		StrategyID:    "default",
		Status:        "closed",
		OpenedAt:      &opened,
		ClosedAt:      &closedAt,
	}
}

func TestOptimizationUnfavorableRegime(t *testing.T) {
	repo := newStubRepo()
	now := time.Now()

	// 10 wins, 20 losses: win rate 33%, grinding drawdown
	for i := 0; i < 30; i++ {
		pnl := -20.0
		if i%3 == 0 {
			pnl = 25.0
		}
		repo.closedPositions = append(repo.closedPositions,
			closedPosition(pnl, 6, now.Add(-time.Duration(i)*time.Hour)))
	}

	quant := NewQuantLab(testContext(repo))
	result, err := quant.RunOptimization(context.Background(), "default", 30)
	require.NoError(t, err)

	assert.Equal(t, 30, result.Performance.TotalTrades)
	assert.Equal(t, 10, result.Performance.WinningTrades)
	assert.Equal(t, 20, result.Performance.LosingTrades)
	assert.InDelta(t, 0.3333, result.Performance.WinRate, 1e-3)
	assert.Equal(t, "UNFAVORABLE", result.Regime)

	// Critical win-rate recommendation plus a drawdown warning
	var hasRedWinRate, hasDrawdown bool
	for _, rec := range result.Recommendations {
		if strings.HasPrefix(rec, "🔴") && strings.Contains(rec, "Win rate") {
			hasRedWinRate = true
		}
		if strings.Contains(rec, "drawdown") || strings.Contains(rec, "Drawdown") {
			hasDrawdown = true
		}
	}
	assert.True(t, hasRedWinRate, "expected a critical win-rate recommendation: %v", result.Recommendations)
	assert.True(t, hasDrawdown, "expected a drawdown recommendation: %v", result.Recommendations)

	// Snapshot upserted for today
	require.Len(t, repo.snapshots, 1)
	assert.Equal(t, 10000.0, repo.snapshots[0].TotalValue)

	// Learning memory stored with a TTL
	learnings := repo.memoriesOf("quant_lab", models.MemoryLearning)
	require.Len(t, learnings, 1)
	require.NotNil(t, learnings[0].ExpiresAt)
}

func TestOptimizationNoTrades(t *testing.T) {
	repo := newStubRepo()
	quant := NewQuantLab(testContext(repo))

	result, err := quant.RunOptimization(context.Background(), "default", 30)
	require.NoError(t, err)
	assert.Equal(t, "UNKNOWN", result.Regime)
	assert.Zero(t, result.Performance.TotalTrades)
	require.NotEmpty(t, result.Recommendations)
	assert.Contains(t, result.Recommendations[0], "No closed trades")
}

func TestOptimizationProfitableRun(t *testing.T) {
	repo := newStubRepo()
	now := time.Now()

	// 13 wins, 7 losses with positive expectancy
	for i := 0; i < 20; i++ {
		pnl := 30.0
		if i%3 == 1 {
			pnl = -10.0
		}
		repo.closedPositions = append(repo.closedPositions,
			closedPosition(pnl, 12, now.Add(-time.Duration(i)*time.Hour)))
	}

	quant := NewQuantLab(testContext(repo))
	result, err := quant.RunOptimization(context.Background(), "default", 30)
	require.NoError(t, err)

	assert.InDelta(t, 0.65, result.Performance.WinRate, 1e-3)
	require.NotNil(t, result.Performance.ProfitFactor)
	assert.Greater(t, *result.Performance.ProfitFactor, 1.0)
	require.NotNil(t, result.Performance.AvgHoldingPeriodHours)
	assert.InDelta(t, 12.0, *result.Performance.AvgHoldingPeriodHours, 0.1)
	assert.Contains(t, []string{"TRENDING_FAVORABLE", "STABLE", "MIXED"}, result.Regime)
}

func TestAgentAccuracyAnalysis(t *testing.T) {
	repo := newStubRepo()
	repo.voteOutcomes = map[string][]models.VoteOutcome{
		"technical_analyst": {
			{Vote: models.VoteApprove, Confidence: 0.9, Status: models.SignalStatusApproved},
			{Vote: models.VoteApprove, Confidence: 0.85, Status: models.SignalStatusExecuted},
			{Vote: models.VoteApprove, Confidence: 0.6, Status: models.SignalStatusRejected},
			{Vote: models.VoteReject, Confidence: 0.7, Status: models.SignalStatusRejected},
		},
	}

	quant := NewQuantLab(testContext(repo))
	result, err := quant.RunOptimization(context.Background(), "default", 30)
	require.NoError(t, err)

	acc := result.AgentAccuracy["technical_analyst"]
	assert.Equal(t, 4, acc.TotalVotes)
	assert.Equal(t, 3, acc.CorrectVotes)
	require.NotNil(t, acc.Accuracy)
	assert.InDelta(t, 0.75, *acc.Accuracy, 1e-9)
	assert.InDelta(t, 0.5, acc.Overconfident, 1e-9)

	// Agents without votes report zeroes
	assert.Zero(t, result.AgentAccuracy["alpha_scout"].TotalVotes)
	assert.Nil(t, result.AgentAccuracy["alpha_scout"].Accuracy)
}

func TestSignalHealthAnalysis(t *testing.T) {
	repo := newStubRepo()
	repo.recentSignals = []models.Signal{
		{Symbol: "BTCUSDT", Direction: models.DirectionLong, Status: models.SignalStatusApproved, Confidence: 0.8},
		{Symbol: "BTCUSDT", Direction: models.DirectionLong, Status: models.SignalStatusRejected, Confidence: 0.5},
		{Symbol: "ETHUSDT", Direction: models.DirectionShort, Status: models.SignalStatusExecuted, Confidence: 0.7},
		{Symbol: "BTCUSDT", Direction: models.DirectionNeutral, Status: models.SignalStatusRejected, Confidence: 0.3},
	}

	quant := NewQuantLab(testContext(repo))
	result, err := quant.RunOptimization(context.Background(), "default", 30)
	require.NoError(t, err)

	health := result.SignalHealth
	assert.Equal(t, 4, health.TotalSignals)
	assert.Equal(t, 2, health.LongCount)
	assert.Equal(t, 1, health.ShortCount)
	assert.Equal(t, 1, health.NeutralCount)
	assert.InDelta(t, 0.5, health.DirectionBalance, 1e-9)
	assert.InDelta(t, 0.25, health.ApprovalRate, 1e-9)
	assert.InDelta(t, 0.25, health.ExecutionRate, 1e-9)
	require.NotNil(t, health.TopSymbol)
	assert.Equal(t, "BTCUSDT", health.TopSymbol.Symbol)
	assert.Equal(t, 3, health.TopSymbol.Count)
	assert.Equal(t, 2, health.UniqueSymbols)
}

func TestClassifyRegime(t *testing.T) {
	tests := []struct {
		name string
		perf Performance
		want string
	}{
		{"no trades", Performance{}, "UNKNOWN"},
		{"trending", Performance{TotalTrades: 10, WinRate: 0.65,
			SharpeRatio: models.Float64Ptr(1.5)}, "TRENDING_FAVORABLE"},
		{"stable", Performance{TotalTrades: 10, WinRate: 0.52,
			MaxDrawdown: models.Float64Ptr(-0.02)}, "STABLE"},
		{"unfavorable by win rate", Performance{TotalTrades: 10, WinRate: 0.3,
			MaxDrawdown: models.Float64Ptr(-0.02)}, "UNFAVORABLE"},
		{"unfavorable by drawdown", Performance{TotalTrades: 10, WinRate: 0.45,
			MaxDrawdown: models.Float64Ptr(-0.15)}, "UNFAVORABLE"},
		{"ranging", Performance{TotalTrades: 10, WinRate: 0.45,
			MaxDrawdown: models.Float64Ptr(-0.01)}, "RANGING"},
		{"mixed", Performance{TotalTrades: 10, WinRate: 0.48,
			MaxDrawdown: models.Float64Ptr(-0.07)}, "MIXED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyRegime(tt.perf))
		})
	}
}

func TestMaxDrawdownMeasuredFromEquityPeak(t *testing.T) {
	repo := newStubRepo()
	now := time.Now()

	// Window opens with a loss, then recovers past it: the equity curve never
	// retreats from its own running peak, so drawdown is zero.
	for _, pnl := range []float64{-5, 3, 4} {
		repo.closedPositions = append(repo.closedPositions,
			closedPosition(pnl, 6, now))
	}

	quant := NewQuantLab(testContext(repo))
	result, err := quant.RunOptimization(context.Background(), "default", 30)
	require.NoError(t, err)

	require.NotNil(t, result.Performance.MaxDrawdown)
	assert.Zero(t, *result.Performance.MaxDrawdown)
	assert.Nil(t, result.Performance.CalmarRatio)
}

func TestMaxDrawdownDeepestPeakToTrough(t *testing.T) {
	repo := newStubRepo()
	now := time.Now()

	// Cumulative curve: -5, -8, -9, -7, -11; peak -5, trough -11
	for _, pnl := range []float64{-5, -3, -1, 2, -4} {
		repo.closedPositions = append(repo.closedPositions,
			closedPosition(pnl, 6, now))
	}

	quant := NewQuantLab(testContext(repo))
	result, err := quant.RunOptimization(context.Background(), "default", 30)
	require.NoError(t, err)

	require.NotNil(t, result.Performance.MaxDrawdown)
	assert.InDelta(t, -6.0, *result.Performance.MaxDrawdown, 1e-9)
}

func TestSnapshotUpsertIdempotentPerDate(t *testing.T) {
	repo := newStubRepo()
	quant := NewQuantLab(testContext(repo))

	_, err := quant.RunOptimization(context.Background(), "default", 30)
	require.NoError(t, err)
	_, err = quant.RunOptimization(context.Background(), "default", 30)
	require.NoError(t, err)

	assert.Len(t, repo.snapshots, 1)
}
