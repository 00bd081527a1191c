package agents

import (
	"context"
	"fmt"
	"math"

	"github.com/Leblepito/uAlgoTrade/internal/indicators"
	"github.com/Leblepito/uAlgoTrade/internal/models"
)

// Minimum candles required for reliable analysis.
const minCandles = 50

// Indicator weights in the synthesis — sum to 1.0. Order blocks carry the
// highest weight as the institutional-bias signal.
const (
	weightRSI       = 0.20
	weightBollinger = 0.18
	weightOrderBlock = 0.22
	weightFVG       = 0.15
	weightSR        = 0.15
	weightElliott   = 0.10
)

// ATR multipliers for stop and target distances.
const (
	atrMultiplierSL = 1.5
	atrMultiplierTP = 2.5
)

// Minimum winning-side lead over total score to emit a directional signal.
const minDirectionalLead = 0.15

// subSignal is one indicator's weighted contribution.
type subSignal struct {
	direction  models.Direction
	confidence float64
	weight     float64
	label      string
}

// TechnicalResult is the technical analyst's full output for one symbol.
// Err is set instead of failing the cycle when inputs are insufficient.
type TechnicalResult struct {
	Agent       string           `json:"agent"`
	Symbol      string           `json:"symbol"`
	Timeframe   string           `json:"timeframe"`
	Direction   models.Direction `json:"direction"`
	Confidence  float64          `json:"confidence"`
	EntryPrice  *float64         `json:"entry_price,omitempty"`
	StopLoss    *float64         `json:"stop_loss,omitempty"`
	TakeProfit  *float64         `json:"take_profit,omitempty"`
	RiskReward  *float64         `json:"risk_reward,omitempty"`
	ATR         float64          `json:"atr"`
	Indicators  map[string]any   `json:"indicators,omitempty"`
	Reasoning   []string         `json:"reasoning"`
	SignalCount int              `json:"signal_count"`
	Err         string           `json:"error,omitempty"`
}

// TechnicalAnalyst synthesizes RSI, Bollinger, order blocks, fair value gaps,
// support/resistance, and Elliott wave structure into one directional
// conviction with ATR-derived levels.
type TechnicalAnalyst struct {
	*BaseAgent
}

// NewTechnicalAnalyst creates the technical analysis agent.
func NewTechnicalAnalyst(actx *Context) *TechnicalAnalyst {
	return &TechnicalAnalyst{
		BaseAgent: NewBaseAgent("technical_analyst",
			"Technical Analysis — SMC, RSI, Bollinger, Elliott, S/R",
			"1.3.0", actx),
	}
}

// Analyze runs the full indicator stack for a symbol.
func (t *TechnicalAnalyst) Analyze(ctx context.Context, symbol string, candles []models.Candle, timeframe string) (*TechnicalResult, error) {
	return runTracked(ctx, t.BaseAgent, symbol, func(ctx context.Context) (*TechnicalResult, error) {
		return t.analyze(ctx, symbol, candles, timeframe)
	})
}

func (t *TechnicalAnalyst) analyze(ctx context.Context, symbol string, candles []models.Candle, timeframe string) (*TechnicalResult, error) {
	if len(candles) < minCandles {
		return &TechnicalResult{
			Agent:     t.Name(),
			Symbol:    symbol,
			Timeframe: timeframe,
			Direction: models.DirectionNeutral,
			Reasoning: []string{},
			Err:       fmt.Sprintf("Insufficient candle data: %d < %d required", len(candles), minCandles),
		}, nil
	}

	closes := make([]float64, len(candles))
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
	}
	price := closes[len(closes)-1]

	rsi := indicators.RSI(closes, 14)
	bb := indicators.Bollinger(closes, 20, 2.0)
	sr := indicators.SupportResistance(highs, lows, closes, 5)
	obs := indicators.DetectOrderBlocks(candles, 50)
	fvg := indicators.DetectFVG(candles, 50)
	elliott := indicators.ElliottWave(closes, 0.02)
	atr := indicators.ATR(highs, lows, closes, 14)

	var signals []subSignal

	// RSI momentum
	switch {
	case rsi.Current < 30:
		signals = append(signals, subSignal{models.DirectionLong, 0.80, weightRSI,
			fmt.Sprintf("RSI oversold (%.1f)", rsi.Current)})
	case rsi.Current < 40:
		signals = append(signals, subSignal{models.DirectionLong, 0.50, weightRSI,
			fmt.Sprintf("RSI approaching oversold (%.1f)", rsi.Current)})
	case rsi.Current > 70:
		signals = append(signals, subSignal{models.DirectionShort, 0.80, weightRSI,
			fmt.Sprintf("RSI overbought (%.1f)", rsi.Current)})
	case rsi.Current > 60:
		signals = append(signals, subSignal{models.DirectionShort, 0.50, weightRSI,
			fmt.Sprintf("RSI approaching overbought (%.1f)", rsi.Current)})
	default:
		signals = append(signals, subSignal{models.DirectionNeutral, 0.30, weightRSI,
			fmt.Sprintf("RSI neutral (%.1f)", rsi.Current)})
	}

	// Bollinger envelope
	switch {
	case price <= bb.Lower:
		signals = append(signals, subSignal{models.DirectionLong, 0.75, weightBollinger,
			"Price at/below lower Bollinger — mean reversion likely"})
	case price >= bb.Upper:
		signals = append(signals, subSignal{models.DirectionShort, 0.75, weightBollinger,
			"Price at/above upper Bollinger — mean reversion likely"})
	case price > bb.Middle && bb.Bandwidth < 0.02:
		signals = append(signals, subSignal{models.DirectionLong, 0.35, weightBollinger,
			"Bollinger squeeze — breakout pending"})
	default:
		signals = append(signals, subSignal{models.DirectionNeutral, 0.20, weightBollinger,
			"Price within Bollinger bands"})
	}

	// Support / resistance proximity
	if sr.NearestSupport != nil && price <= *sr.NearestSupport*1.008 {
		proximity := math.Abs(price-*sr.NearestSupport) / price
		conf := math.Max(0.70-proximity*10, 0.40)
		signals = append(signals, subSignal{models.DirectionLong, conf, weightSR,
			fmt.Sprintf("Near support %.4f (%.2f%% away)", *sr.NearestSupport, proximity*100)})
	} else if sr.NearestResistance != nil && price >= *sr.NearestResistance*0.992 {
		proximity := math.Abs(price-*sr.NearestResistance) / price
		conf := math.Max(0.70-proximity*10, 0.40)
		signals = append(signals, subSignal{models.DirectionShort, conf, weightSR,
			fmt.Sprintf("Near resistance %.4f (%.2f%% away)", *sr.NearestResistance, proximity*100)})
	}

	// Order blocks
	if len(obs.Bullish) > 0 {
		lastBull := obs.Bullish[len(obs.Bullish)-1]
		if price <= lastBull.High*1.005 {
			signals = append(signals, subSignal{models.DirectionLong, 0.75, weightOrderBlock,
				fmt.Sprintf("Bullish OB at %.4f-%.4f", lastBull.Low, lastBull.High)})
		}
	}
	if len(obs.Bearish) > 0 {
		lastBear := obs.Bearish[len(obs.Bearish)-1]
		if price >= lastBear.Low*0.995 {
			signals = append(signals, subSignal{models.DirectionShort, 0.75, weightOrderBlock,
				fmt.Sprintf("Bearish OB at %.4f-%.4f", lastBear.Low, lastBear.High)})
		}
	}

	// Fair value gaps
	if len(fvg.Bullish) > 0 {
		signals = append(signals, subSignal{models.DirectionLong, 0.60, weightFVG,
			fmt.Sprintf("%d bullish FVG(s) — price likely to fill gap upward", len(fvg.Bullish))})
	}
	if len(fvg.Bearish) > 0 {
		signals = append(signals, subSignal{models.DirectionShort, 0.60, weightFVG,
			fmt.Sprintf("%d bearish FVG(s) — price likely to fill gap downward", len(fvg.Bearish))})
	}

	// Elliott wave structure
	switch elliott.WaveCount {
	case 2, 4: // corrective waves — expect impulse continuation
		signals = append(signals, subSignal{models.DirectionLong, 0.55, weightElliott,
			fmt.Sprintf("Elliott wave %d (corrective end — impulse expected)", elliott.WaveCount)})
	case 3: // strongest impulse wave — could be topping
		signals = append(signals, subSignal{models.DirectionShort, 0.45, weightElliott,
			fmt.Sprintf("Elliott wave %d (impulse peak region)", elliott.WaveCount)})
	case 5: // terminal impulse — reversal setup
		signals = append(signals, subSignal{models.DirectionShort, 0.60, weightElliott,
			"Elliott wave 5 (terminal impulse — reversal likely)"})
	}

	direction, confidence, reasoning := synthesizeWeighted(signals)

	var stopLoss, takeProfit, riskReward *float64
	var entryPrice *float64
	if direction != models.DirectionNeutral {
		entryPrice = models.Float64Ptr(price)
		var sl, tp float64
		if direction == models.DirectionLong {
			sl = price - atrMultiplierSL*atr
			tp = price + atrMultiplierTP*atr
		} else {
			sl = price + atrMultiplierSL*atr
			tp = price - atrMultiplierTP*atr
		}
		stopLoss = &sl
		takeProfit = &tp
		if slDist := math.Abs(sl - price); slDist > 0 {
			rr := math.Round(math.Abs(tp-price)/slDist*100) / 100
			riskReward = &rr
		}
	}

	result := &TechnicalResult{
		Agent:      t.Name(),
		Symbol:     symbol,
		Timeframe:  timeframe,
		Direction:  direction,
		Confidence: round4(confidence),
		EntryPrice: entryPrice,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
		RiskReward: riskReward,
		ATR:        atr,
		Indicators: map[string]any{
			"rsi":                rsi,
			"bollinger":          bb,
			"support_resistance": sr,
			"order_blocks": map[string]int{
				"bullish_count": len(obs.Bullish),
				"bearish_count": len(obs.Bearish),
			},
			"fvg": map[string]int{
				"bullish_count": len(fvg.Bullish),
				"bearish_count": len(fvg.Bearish),
			},
			"elliott_wave": elliott,
		},
		Reasoning:   reasoning,
		SignalCount: len(signals),
	}

	if _, err := t.memory.StoreDecision(ctx, symbol, map[string]any{
		"direction":   string(direction),
		"confidence":  confidence,
		"entry_price": price,
		"timeframe":   timeframe,
	}, 0.7); err != nil {
		t.log.Warn().Err(err).Msg("Failed to store technical decision")
	}

	return result, nil
}

// synthesizeWeighted folds sub-signals into a single conviction. A winning
// side must lead by minDirectionalLead of the total score, otherwise the
// call stays NEUTRAL to avoid noise trades.
func synthesizeWeighted(signals []subSignal) (models.Direction, float64, []string) {
	if len(signals) == 0 {
		return models.DirectionNeutral, 0.0, []string{}
	}

	var longScore, shortScore float64
	reasoning := make([]string, 0, len(signals))
	for _, s := range signals {
		reasoning = append(reasoning, s.label)
		switch s.direction {
		case models.DirectionLong:
			longScore += s.confidence * s.weight
		case models.DirectionShort:
			shortScore += s.confidence * s.weight
		}
	}

	total := longScore + shortScore
	if total == 0 {
		return models.DirectionNeutral, 0.25, reasoning
	}

	switch {
	case longScore > shortScore:
		if (longScore-shortScore)/total < minDirectionalLead {
			return models.DirectionNeutral, 0.35, reasoning
		}
		return models.DirectionLong, math.Min(longScore/total, 0.95), reasoning
	case shortScore > longScore:
		if (shortScore-longScore)/total < minDirectionalLead {
			return models.DirectionNeutral, 0.35, reasoning
		}
		return models.DirectionShort, math.Min(shortScore/total, 0.95), reasoning
	default:
		return models.DirectionNeutral, 0.50, reasoning
	}
}
