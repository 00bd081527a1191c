package agents

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Leblepito/uAlgoTrade/internal/bus"
	"github.com/Leblepito/uAlgoTrade/internal/models"
)

func newSentinel(repo *stubRepo) (*RiskSentinel, *Context) {
	actx := testContext(repo)
	return NewRiskSentinel(actx), actx
}

func proposal() *ProposedSignal {
	return &ProposedSignal{
		Direction:  models.DirectionLong,
		EntryPrice: 50000,
		StopLoss:   49500,
		Quantity:   0.01,
	}
}

func TestRiskSentinelCleanApprove(t *testing.T) {
	sentinel, _ := newSentinel(newStubRepo())

	result, err := sentinel.Analyze(context.Background(), "BTCUSDT", proposal())
	require.NoError(t, err)
	assert.Equal(t, models.VoteApprove, result.Vote)
	assert.Equal(t, models.DirectionLong, result.Direction)
	assert.Empty(t, result.RiskFlags)
	assert.Zero(t, result.RiskScore)
	assert.Equal(t, 1.0, result.Confidence)
	assert.False(t, result.KillSwitchActive)
}

func TestRiskSentinelMaxPositionsReached(t *testing.T) {
	repo := newStubRepo()
	repo.openPositions = 5
	sentinel, _ := newSentinel(repo)

	result, err := sentinel.Analyze(context.Background(), "BTCUSDT", proposal())
	require.NoError(t, err)
	assert.Equal(t, models.VoteReject, result.Vote)
	assert.InDelta(t, 0.75, result.RiskScore, 1e-9)
	assert.InDelta(t, 0.75, result.Confidence, 1e-9)
	assert.Contains(t, result.RiskFlags, "MAX_POSITIONS_REACHED (5/5)")
	assert.Equal(t, models.DirectionNeutral, result.Direction)
	assert.False(t, result.KillSwitchActive)
}

func TestRiskSentinelDrawdownTripsKillSwitch(t *testing.T) {
	repo := newStubRepo()
	repo.latestSnapshot = &models.PortfolioSnapshot{
		TotalValue:  10000,
		MaxDrawdown: models.Float64Ptr(-0.12),
	}
	sentinel, actx := newSentinel(repo)

	var killEvents []bus.Message
	actx.Bus.Subscribe("risk.kill_switch", func(msg bus.Message) {
		killEvents = append(killEvents, msg)
	})

	result, err := sentinel.Analyze(context.Background(), "BTCUSDT", proposal())
	require.NoError(t, err)
	assert.Equal(t, models.VoteReject, result.Vote)
	assert.True(t, result.KillSwitchActive)
	assert.Contains(t, result.RiskFlags[0], "MAX_DRAWDOWN_EXCEEDED")

	// Broadcast fired
	require.Len(t, killEvents, 1)
	assert.Equal(t, true, killEvents[0].Payload["active"])

	// Memoized at maximum importance
	patterns := repo.memoriesOf("risk_sentinel", models.MemoryPattern)
	require.Len(t, patterns, 1)
	assert.Equal(t, 1.0, patterns[0].Importance)

	// Subsequent evaluations observe the latch: risk score pinned at 1.0
	result2, err := sentinel.Analyze(context.Background(), "ETHUSDT", proposal())
	require.NoError(t, err)
	assert.True(t, result2.KillSwitchActive)
	assert.Equal(t, 1.0, result2.RiskScore)
	assert.Contains(t, result2.RiskFlags[0], "KILL_SWITCH_ACTIVE")
}

func TestKillSwitchActivationIdempotent(t *testing.T) {
	repo := newStubRepo()
	sentinel, actx := newSentinel(repo)

	events := 0
	actx.Bus.Subscribe("risk.kill_switch", func(msg bus.Message) { events++ })

	sentinel.activateKillSwitch(context.Background(), "test reason")
	sentinel.activateKillSwitch(context.Background(), "test reason")
	sentinel.activateKillSwitch(context.Background(), "another reason")

	assert.Equal(t, 1, events)
	active, reason := sentinel.KillSwitchState()
	assert.True(t, active)
	assert.Equal(t, "test reason", reason)
}

func TestKillSwitchDeactivation(t *testing.T) {
	sentinel, actx := newSentinel(newStubRepo())

	sentinel.activateKillSwitch(context.Background(), "daily loss")

	var lastEvent bus.Message
	actx.Bus.Subscribe("risk.kill_switch", func(msg bus.Message) { lastEvent = msg })

	sentinel.DeactivateKillSwitch("operator-1")

	active, reason := sentinel.KillSwitchState()
	assert.False(t, active)
	assert.Empty(t, reason)
	assert.Equal(t, false, lastEvent.Payload["active"])
	assert.Equal(t, "operator-1", lastEvent.Payload["operator"])

	summary := sentinel.GetRiskSummary()
	assert.False(t, summary.KillSwitchActive)
	assert.Nil(t, summary.KillSwitchActivatedAt)
}

func TestDailyLossTripsKillSwitch(t *testing.T) {
	repo := newStubRepo()
	repo.latestSnapshot = &models.PortfolioSnapshot{TotalValue: 10000}
	repo.unrealizedPnL = -400 // -4% of total value, beyond the 3% limit
	sentinel, _ := newSentinel(repo)

	result, err := sentinel.Analyze(context.Background(), "BTCUSDT", proposal())
	require.NoError(t, err)
	assert.True(t, result.KillSwitchActive)
	assert.Contains(t, result.RiskFlags[0], "DAILY_LOSS_EXCEEDED")
}

func TestDailyTradeLimit(t *testing.T) {
	sentinel, _ := newSentinel(newStubRepo())

	for i := 0; i < 10; i++ {
		sentinel.RecordTradeExecuted()
	}

	result, err := sentinel.Analyze(context.Background(), "BTCUSDT", proposal())
	require.NoError(t, err)
	assert.Equal(t, models.VoteReject, result.Vote)
	assert.InDelta(t, 0.70, result.RiskScore, 1e-9)
	assert.Contains(t, result.RiskFlags, "DAILY_TRADE_LIMIT (10/10)")
}

func TestDailyTradeCounterResetsAtUTCDayBoundary(t *testing.T) {
	repo := newStubRepo()
	actx := testContext(repo)
	current := time.Date(2025, 6, 1, 23, 50, 0, 0, time.UTC)
	actx.Now = func() time.Time { return current }
	sentinel := NewRiskSentinel(actx)

	for i := 0; i < 10; i++ {
		sentinel.RecordTradeExecuted()
	}
	assert.Equal(t, 10, sentinel.dailyTrades())

	current = time.Date(2025, 6, 2, 0, 5, 0, 0, time.UTC)
	assert.Zero(t, sentinel.dailyTrades())
}

func TestCoolDownAfterLoss(t *testing.T) {
	sentinel, _ := newSentinel(newStubRepo())
	sentinel.RecordLoss()

	result, err := sentinel.Analyze(context.Background(), "BTCUSDT", proposal())
	require.NoError(t, err)
	assert.Equal(t, models.VoteReject, result.Vote)
	assert.InDelta(t, 0.65, result.RiskScore, 1e-9)
	require.NotEmpty(t, result.RiskFlags)
	assert.Contains(t, result.RiskFlags[0], "COOL_DOWN_ACTIVE")
	assert.True(t, sentinel.GetRiskSummary().CoolDownActive)
}

func TestTradeRiskExceeded(t *testing.T) {
	sentinel, _ := newSentinel(newStubRepo())

	// |50000 - 45000| * 0.1 = 500 = 5% of the 10k default portfolio
	risky := &ProposedSignal{
		Direction:  models.DirectionLong,
		EntryPrice: 50000,
		StopLoss:   45000,
		Quantity:   0.1,
	}

	result, err := sentinel.Analyze(context.Background(), "BTCUSDT", risky)
	require.NoError(t, err)
	assert.Equal(t, models.VoteReject, result.Vote)
	assert.True(t, hasFlagPrefix(result.RiskFlags, "TRADE_RISK_EXCEEDED"),
		"expected TRADE_RISK_EXCEEDED flag, got %v", result.RiskFlags)
}

func TestSingleAssetOverweight(t *testing.T) {
	sentinel, _ := newSentinel(newStubRepo())

	// 50000 * 0.06 = 3000 = 30% of the 10k portfolio, above the 25% cap
	heavy := &ProposedSignal{
		Direction:  models.DirectionLong,
		EntryPrice: 50000,
		StopLoss:   49900,
		Quantity:   0.06,
	}

	result, err := sentinel.Analyze(context.Background(), "BTCUSDT", heavy)
	require.NoError(t, err)
	assert.True(t, hasFlagPrefix(result.RiskFlags, "SINGLE_ASSET_OVERWEIGHT"),
		"expected SINGLE_ASSET_OVERWEIGHT flag, got %v", result.RiskFlags)
}

func TestVolatilityFlag(t *testing.T) {
	repo := newStubRepo()
	repo.confidences = []float64{0.1, 0.9, 0.1, 0.9, 0.1, 0.9}
	sentinel, _ := newSentinel(repo)

	result, err := sentinel.Analyze(context.Background(), "BTCUSDT", proposal())
	require.NoError(t, err)
	assert.True(t, result.Volatility.IsExtreme)
	assert.Equal(t, 6, result.Volatility.SampleSize)
	require.NotEmpty(t, result.RiskFlags)
	assert.Contains(t, result.RiskFlags[0], "EXTREME_VOLATILITY")
}

func TestVolatilityNeedsThreeSamples(t *testing.T) {
	repo := newStubRepo()
	repo.confidences = []float64{0.1, 0.9}
	sentinel, _ := newSentinel(repo)

	result, err := sentinel.Analyze(context.Background(), "BTCUSDT", nil)
	require.NoError(t, err)
	assert.False(t, result.Volatility.IsExtreme)
}

func TestConcentrationFlag(t *testing.T) {
	repo := newStubRepo()
	repo.openPositions = 3
	repo.symbolOpen["BTCUSDT"] = 2
	sentinel, _ := newSentinel(repo)

	// (2+1)/(3+1) = 75% > 40%
	result, err := sentinel.Analyze(context.Background(), "BTCUSDT", proposal())
	require.NoError(t, err)
	assert.True(t, hasFlagPrefix(result.RiskFlags, "CONCENTRATION_RISK"),
		"expected CONCENTRATION_RISK flag, got %v", result.RiskFlags)
}

func TestPortfolioOnlySweepHasNoTradeChecks(t *testing.T) {
	sentinel, _ := newSentinel(newStubRepo())

	result, err := sentinel.Analyze(context.Background(), "BTCUSDT", nil)
	require.NoError(t, err)
	assert.Equal(t, models.VoteApprove, result.Vote)
	assert.Equal(t, models.DirectionNeutral, result.Direction)
	assert.Empty(t, result.RiskFlags)
}

func hasFlagPrefix(flags []string, prefix string) bool {
	for _, flag := range flags {
		if strings.HasPrefix(flag, prefix) {
			return true
		}
	}
	return false
}
