package agents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Leblepito/uAlgoTrade/internal/models"
)

func newScout(fetcher *stubFetcher) (*AlphaScout, *stubRepo) {
	repo := newStubRepo()
	return NewAlphaScout(testContext(repo), fetcher), repo
}

func TestAlphaScoutEmptyFeeds(t *testing.T) {
	scout, _ := newScout(&stubFetcher{articles: map[string][]models.Article{}})

	result, err := scout.Analyze(context.Background(), "BTCUSDT", false)
	require.NoError(t, err)
	assert.Equal(t, models.DirectionNeutral, result.Direction)
	assert.Equal(t, 0.2, result.Confidence)
	assert.Zero(t, result.ArticleCount)
	assert.Equal(t, "UNKNOWN", result.MarketRegime)
}

func TestAlphaScoutFallbackAfterTwoEmptyFetches(t *testing.T) {
	fetcher := &stubFetcher{articles: map[string][]models.Article{
		"http://fallback/feed": {
			{Title: "Bitcoin surge continues as rally extends", Summary: "btc breakout and adoption news"},
		},
	}}
	scout, _ := newScout(fetcher)

	// Two empty rounds against the primary list
	_, err := scout.Analyze(context.Background(), "BTCUSDT", false)
	require.NoError(t, err)
	_, err = scout.Analyze(context.Background(), "BTCUSDT", false)
	require.NoError(t, err)

	// Third call consults the fallback list
	result, err := scout.Analyze(context.Background(), "BTCUSDT", false)
	require.NoError(t, err)
	assert.Positive(t, result.ArticleCount)
	assert.Contains(t, fetcher.fetchedURLs(), "http://fallback/feed")
}

func TestAlphaScoutBullishArticles(t *testing.T) {
	fetcher := &stubFetcher{articles: map[string][]models.Article{
		"http://primary/feed": {
			{Title: "BTC surge: rally and breakout signal new ath", Summary: "institutional adoption and etf approval boost bitcoin"},
			{Title: "Crypto boom continues as prices soar", Summary: "btc accumulation at record levels"},
			{Title: "Bitcoin mainnet upgrade drives bullish momentum", Summary: "btc staking integration expands"},
		},
	}}
	scout, repo := newScout(fetcher)

	result, err := scout.Analyze(context.Background(), "BTCUSDT", false)
	require.NoError(t, err)
	assert.Equal(t, models.DirectionLong, result.Direction)
	assert.Greater(t, result.SentimentScore, 0.25)
	assert.Equal(t, 3, result.ArticleCount)
	assert.GreaterOrEqual(t, result.Confidence, 0.2)
	assert.LessOrEqual(t, result.Confidence, 0.95)

	// Decision memoized
	assert.NotEmpty(t, repo.memoriesOf("alpha_scout", models.MemoryDecision))
}

func TestAlphaScoutBearishArticles(t *testing.T) {
	fetcher := &stubFetcher{articles: map[string][]models.Article{
		"http://primary/feed": {
			{Title: "BTC crash deepens after exchange hack", Summary: "panic selling, liquidation cascade and fear grip bitcoin"},
			{Title: "Crypto collapse: fraud lawsuit and sec fine", Summary: "btc plunge amid bankrupt exchange scandal"},
		},
	}}
	scout, _ := newScout(fetcher)

	result, err := scout.Analyze(context.Background(), "BTCUSDT", false)
	require.NoError(t, err)
	assert.Equal(t, models.DirectionShort, result.Direction)
	assert.Less(t, result.SentimentScore, -0.20)
	assert.Equal(t, "RISK_OFF", result.MarketRegime)
}

func TestAlphaScoutMacroOverlayDampens(t *testing.T) {
	fetcher := &stubFetcher{articles: map[string][]models.Article{
		"http://primary/feed": {
			{Title: "BTC surge and rally toward ath", Summary: "breakout, adoption, institutional approval"},
		},
		"http://macro/feed": {
			{Title: "Inflation fears as fed signals rate hike"},
			{Title: "Recession risk mounts amid geopolitical crisis"},
			{Title: "War escalation rattles markets"},
			{Title: "Bank run contagion spreads"},
			{Title: "Systemic crisis warnings grow"},
		},
	}}
	scout, _ := newScout(fetcher)

	withMacro, err := scout.Analyze(context.Background(), "BTCUSDT", true)
	require.NoError(t, err)
	require.NotNil(t, withMacro.MacroOverlay)
	assert.Equal(t, -1.0, *withMacro.MacroOverlay)

	scoutNoMacro, _ := newScout(&stubFetcher{articles: map[string][]models.Article{
		"http://primary/feed": fetcher.articles["http://primary/feed"],
	}})
	withoutMacro, err := scoutNoMacro.Analyze(context.Background(), "BTCUSDT", false)
	require.NoError(t, err)

	assert.Less(t, withMacro.SentimentScore, withoutMacro.SentimentScore)
}

func TestApplyFeedbackKeepsBiasClamped(t *testing.T) {
	scout, _ := newScout(&stubFetcher{})

	for i := 0; i < 500; i++ {
		scout.ApplyFeedback(1.0)
	}
	assert.LessOrEqual(t, scout.BiasCorrection(), 0.3)

	for i := 0; i < 500; i++ {
		scout.ApplyFeedback(-1.0)
	}
	assert.GreaterOrEqual(t, scout.BiasCorrection(), -0.3)
}

func TestApplyFeedbackMovesTowardOutcome(t *testing.T) {
	scout, _ := newScout(&stubFetcher{})

	scout.ApplyFeedback(0.5)
	first := scout.BiasCorrection()
	assert.InDelta(t, 0.015, first, 1e-9) // 0.03 * 0.5

	scout.ApplyFeedback(0.5)
	assert.Greater(t, scout.BiasCorrection(), first)
}

func TestBiasCalibrationQuality(t *testing.T) {
	scout, _ := newScout(&stubFetcher{})
	assert.Equal(t, "insufficient_data", scout.BiasCalibrationQuality())

	// Consistent small outcomes: bias converges toward them
	for i := 0; i < 50; i++ {
		scout.ApplyFeedback(0.02)
	}
	assert.Equal(t, "well_calibrated", scout.BiasCalibrationQuality())
}

func TestAnalyzeSentimentLabels(t *testing.T) {
	scout, _ := newScout(&stubFetcher{})

	positive := scout.AnalyzeSentiment("This is a great, wonderful success")
	assert.Equal(t, "positive", positive.Label)
	assert.Greater(t, positive.Polarity, 0.1)

	negative := scout.AnalyzeSentiment("This is a terrible, horrible disaster")
	assert.Equal(t, "negative", negative.Label)
	assert.Less(t, negative.Polarity, -0.1)

	neutral := scout.AnalyzeSentiment("The meeting is on Tuesday")
	assert.Equal(t, "neutral", neutral.Label)
}
