package agents

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/jonreiter/govader"
	"golang.org/x/sync/errgroup"

	"github.com/Leblepito/uAlgoTrade/internal/feeds"
	"github.com/Leblepito/uAlgoTrade/internal/models"
)

const (
	maxArticles        = 25
	maxArticlesPerFeed = 15
	feedbackWindow     = 100
	biasLearningRate   = 0.03
	biasLimit          = 0.30
)

// Negative sentiment keywords with severity weights [-1.0, 0.0].
var panicWords = map[string]float64{
	"crash": -0.85, "plunge": -0.75, "hack": -0.95, "exploit": -0.90,
	"ban": -0.65, "fraud": -0.85, "liquidation": -0.60, "bearish": -0.45,
	"sell-off": -0.65, "dump": -0.60, "fear": -0.45, "collapse": -0.80,
	"scam": -0.90, "rug pull": -0.95, "bankrupt": -0.85, "shutdown": -0.70,
	"regulation": -0.35, "sec": -0.40, "fine": -0.50, "lawsuit": -0.55,
	"congestion": -0.25, "delay": -0.20, "outage": -0.55, "vulnerability": -0.65,
}

// Positive sentiment keywords with intensity weights [0.0, 1.0].
var euphoriaWords = map[string]float64{
	"surge": 0.75, "rally": 0.65, "bullish": 0.55, "ath": 0.85, "all-time high": 0.90,
	"moon": 0.45, "breakout": 0.65, "adoption": 0.55, "approval": 0.75,
	"institutional": 0.60, "record": 0.45, "boom": 0.65, "soar": 0.75,
	"etf": 0.70, "partnership": 0.50, "launch": 0.45, "upgrade": 0.50,
	"halving": 0.60, "accumulation": 0.55, "whale": 0.40, "staking": 0.35,
	"integration": 0.45, "mainnet": 0.55, "listing": 0.50,
}

// Macro risk-off indicators affecting all crypto markets.
var riskOffMacro = []string{
	"inflation", "rate hike", "fed", "recession", "geopolitical", "war", "crisis",
	"bank run", "contagion", "systemic",
}

// SentimentResult is the alpha scout's analysis of market mood for a symbol.
type SentimentResult struct {
	Agent          string           `json:"agent"`
	Symbol         string           `json:"symbol"`
	SentimentScore float64          `json:"sentiment_score"`
	RawScore       float64          `json:"raw_score"`
	Confidence     float64          `json:"confidence"`
	Direction      models.Direction `json:"direction"`
	ArticleCount   int              `json:"article_count"`
	BiasCorrection float64          `json:"bias_correction"`
	MacroOverlay   *float64         `json:"macro_overlay,omitempty"`
	MarketRegime   string           `json:"market_regime"`
	Summary        string           `json:"summary"`
	Timestamp      time.Time        `json:"timestamp"`
}

// AlphaScout aggregates market mood from news feeds: keyword lexicons blended
// with NLP polarity, a macro risk-off overlay, and an adaptive bias that
// learns from realized outcomes.
type AlphaScout struct {
	*BaseAgent

	fetcher      feeds.Fetcher
	primaryFeeds []string
	fallback     []string
	macroFeed    string
	analyzer     *govader.SentimentIntensityAnalyzer

	mu                  sync.Mutex
	biasCorrection      float64
	feedbackHistory     []float64
	consecutiveFailures int
}

// NewAlphaScout creates the sentiment agent.
func NewAlphaScout(actx *Context, fetcher feeds.Fetcher) *AlphaScout {
	return &AlphaScout{
		BaseAgent: NewBaseAgent("alpha_scout",
			"Sentiment Hunter — RSS aggregation, NLP, market regime detection",
			"1.2.0", actx),
		fetcher:      fetcher,
		primaryFeeds: actx.Cfg.Feeds.Primary,
		fallback:     actx.Cfg.Feeds.Fallback,
		macroFeed:    actx.Cfg.Feeds.Macro,
		analyzer:     govader.NewSentimentIntensityAnalyzer(),
	}
}

// Analyze scans news feeds and computes directional sentiment for a symbol.
// Tracked: heartbeats, broadcasts, and never returns an error for empty feeds.
func (a *AlphaScout) Analyze(ctx context.Context, symbol string, includeMacro bool) (*SentimentResult, error) {
	return runTracked(ctx, a.BaseAgent, symbol, func(ctx context.Context) (*SentimentResult, error) {
		return a.analyze(ctx, symbol, includeMacro)
	})
}

func (a *AlphaScout) analyze(ctx context.Context, symbol string, includeMacro bool) (*SentimentResult, error) {
	articles := a.fetchFromFeeds(ctx, symbol, a.primaryFeeds)

	a.mu.Lock()
	failures := a.consecutiveFailures
	a.mu.Unlock()

	if len(articles) == 0 && failures >= 2 {
		a.log.Warn().Str("symbol", symbol).Msg("Falling back to secondary feeds")
		articles = a.fetchFromFeeds(ctx, symbol, a.fallback)
	}

	if len(articles) == 0 {
		a.mu.Lock()
		a.consecutiveFailures++
		failures = a.consecutiveFailures
		a.mu.Unlock()

		return &SentimentResult{
			Agent:        a.Name(),
			Symbol:       symbol,
			Confidence:   0.2,
			Direction:    models.DirectionNeutral,
			MarketRegime: "UNKNOWN",
			Summary:      fmt.Sprintf("No articles found for %s (consecutive failures: %d)", symbol, failures),
			Timestamp:    a.ctx.now(),
		}, nil
	}

	a.mu.Lock()
	a.consecutiveFailures = 0
	bias := a.biasCorrection
	a.mu.Unlock()

	var sum float64
	for _, article := range articles {
		sum += a.scoreArticle(article)
	}
	rawScore := sum / float64(len(articles))
	correctedScore := clamp(rawScore+bias, -1, 1)

	var macroOverlay *float64
	if includeMacro {
		overlay := a.computeMacroOverlay(ctx)
		macroOverlay = &overlay
		if overlay < -0.3 {
			// Risk-off macro drags the signal toward negative
			correctedScore = correctedScore*0.6 + overlay*0.4
		}
	}

	volumeBoost := math.Min(float64(len(articles))/10, 0.3)
	confidence := math.Min(math.Abs(correctedScore)*0.6+volumeBoost+0.15, 0.95)

	// Asymmetric thresholds: bearish news travels faster
	direction := models.DirectionNeutral
	switch {
	case correctedScore > 0.25:
		direction = models.DirectionLong
	case correctedScore < -0.20:
		direction = models.DirectionShort
	}

	regime := "NEUTRAL"
	switch {
	case correctedScore > 0.4:
		regime = "RISK_ON"
	case correctedScore < -0.35:
		regime = "RISK_OFF"
	}

	result := &SentimentResult{
		Agent:          a.Name(),
		Symbol:         symbol,
		SentimentScore: round4(correctedScore),
		RawScore:       round4(rawScore),
		Confidence:     round4(confidence),
		Direction:      direction,
		ArticleCount:   len(articles),
		BiasCorrection: round4(bias),
		MacroOverlay:   macroOverlay,
		MarketRegime:   regime,
		Summary: fmt.Sprintf("Analyzed %d articles for %s: sentiment=%+.2f, regime=%s",
			len(articles), symbol, correctedScore, regime),
		Timestamp: a.ctx.now(),
	}

	if _, err := a.memory.StoreDecision(ctx, symbol, map[string]any{
		"sentiment_score": result.SentimentScore,
		"direction":       string(result.Direction),
		"confidence":      result.Confidence,
		"market_regime":   result.MarketRegime,
		"article_count":   result.ArticleCount,
	}, 0.7); err != nil {
		a.log.Warn().Err(err).Msg("Failed to store sentiment decision")
	}

	return result, nil
}

// fetchFromFeeds fetches all feeds concurrently and filters articles by
// symbol relevance.
func (a *AlphaScout) fetchFromFeeds(ctx context.Context, symbol string, urls []string) []models.Article {
	symbolStem := strings.ToLower(symbol)
	for _, suffix := range []string{"usdt", "usdc", "busd"} {
		symbolStem = strings.ReplaceAll(symbolStem, suffix, "")
	}

	var mu sync.Mutex
	var articles []models.Article

	g, gctx := errgroup.WithContext(ctx)
	for _, url := range urls {
		g.Go(func() error {
			fetched := a.fetcher.Fetch(gctx, url)
			if len(fetched) > maxArticlesPerFeed {
				fetched = fetched[:maxArticlesPerFeed]
			}

			var relevant []models.Article
			for _, article := range fetched {
				title := strings.ToLower(article.Title)
				summary := strings.ToLower(article.Summary)
				if strings.Contains(title, symbolStem) ||
					strings.Contains(summary, symbolStem) ||
					strings.Contains(title, "crypto") {
					relevant = append(relevant, article)
				}
			}

			mu.Lock()
			articles = append(articles, relevant...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if len(articles) > maxArticles {
		articles = articles[:maxArticles]
	}
	return articles
}

// TextSentiment is the polarity read of a single piece of text.
type TextSentiment struct {
	Polarity float64 `json:"polarity"`
	Label    string  `json:"label"` // "positive", "negative", "neutral"
}

// AnalyzeSentiment scores arbitrary text with the NLP analyzer.
func (a *AlphaScout) AnalyzeSentiment(text string) TextSentiment {
	polarity := a.analyzer.PolarityScores(text).Compound

	label := "neutral"
	switch {
	case polarity > 0.1:
		label = "positive"
	case polarity < -0.1:
		label = "negative"
	}

	return TextSentiment{Polarity: round4(polarity), Label: label}
}

// scoreArticle blends keyword severity with NLP polarity into [-1, 1]:
// 50% keyword average, 30% title polarity, 20% full-text polarity.
func (a *AlphaScout) scoreArticle(article models.Article) float64 {
	text := strings.ToLower(article.Title + " " + article.Summary)

	var keywordScore float64
	var keywordMatches int
	for word, weight := range panicWords {
		if strings.Contains(text, word) {
			keywordScore += weight
			keywordMatches++
		}
	}
	for word, weight := range euphoriaWords {
		if strings.Contains(text, word) {
			keywordScore += weight
			keywordMatches++
		}
	}
	keywordAvg := keywordScore / math.Max(float64(keywordMatches), 1)

	titlePolarity := a.AnalyzeSentiment(article.Title).Polarity
	bodyPolarity := a.AnalyzeSentiment(article.Title + " " + article.Summary).Polarity

	combined := 0.50*keywordAvg + 0.30*titlePolarity + 0.20*bodyPolarity
	return clamp(combined, -1, 1)
}

// computeMacroOverlay counts risk-off terms in recent macro headlines and
// maps them to [-1, 0].
func (a *AlphaScout) computeMacroOverlay(ctx context.Context) float64 {
	articles := a.fetcher.Fetch(ctx, a.macroFeed)
	if len(articles) > 10 {
		articles = articles[:10]
	}
	if len(articles) == 0 {
		return 0
	}

	riskOffCount := 0
	for _, article := range articles {
		title := strings.ToLower(article.Title)
		for _, term := range riskOffMacro {
			if strings.Contains(title, term) {
				riskOffCount++
				break
			}
		}
	}
	return -math.Min(float64(riskOffCount)/5, 1.0)
}

// ApplyFeedback nudges the bias correction toward the realized outcome
// (online learning) and records it in the rolling feedback window.
func (a *AlphaScout) ApplyFeedback(actualOutcome float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.biasCorrection += biasLearningRate * (actualOutcome - a.biasCorrection)
	a.biasCorrection = clamp(a.biasCorrection, -biasLimit, biasLimit)

	a.feedbackHistory = append(a.feedbackHistory, actualOutcome)
	if len(a.feedbackHistory) > feedbackWindow {
		a.feedbackHistory = a.feedbackHistory[len(a.feedbackHistory)-feedbackWindow:]
	}

	a.log.Info().
		Float64("outcome", actualOutcome).
		Float64("bias", a.biasCorrection).
		Msg("Feedback applied")
}

// BiasCorrection returns the current bias correction value.
func (a *AlphaScout) BiasCorrection() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.biasCorrection
}

// BiasCalibrationQuality reports how well the bias tracks recent outcomes.
func (a *AlphaScout) BiasCalibrationQuality() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.feedbackHistory) < 10 {
		return "insufficient_data"
	}
	recent := a.feedbackHistory
	if len(recent) > 20 {
		recent = recent[len(recent)-20:]
	}
	var sum float64
	for _, v := range recent {
		sum += v
	}
	avgError := math.Abs(sum/float64(len(recent)) - a.biasCorrection)
	switch {
	case avgError < 0.05:
		return "well_calibrated"
	case avgError < 0.15:
		return "moderate"
	default:
		return "needs_recalibration"
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
