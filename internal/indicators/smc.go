package indicators

import (
	"math"

	"github.com/Leblepito/uAlgoTrade/internal/models"
)

// OrderBlock is the last opposing candle before a strong impulsive move,
// treated as an institutional interest zone.
type OrderBlock struct {
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Index    int     `json:"index"`
	Strength float64 `json:"strength"`
}

// OrderBlocks holds the most recent bullish and bearish zones.
type OrderBlocks struct {
	Bullish []OrderBlock `json:"bullish"`
	Bearish []OrderBlock `json:"bearish"`
}

// DetectOrderBlocks scans the trailing lookback window for order blocks.
// A bullish block is a bearish candle whose successor's bullish body is at
// least 1.5x its own body; bearish blocks mirror that.
func DetectOrderBlocks(candles []models.Candle, lookback int) OrderBlocks {
	result := OrderBlocks{Bullish: []OrderBlock{}, Bearish: []OrderBlock{}}
	if len(candles) < 3 {
		return result
	}

	recent := candles
	if len(candles) > lookback {
		recent = candles[len(candles)-lookback:]
	}

	for i := 1; i < len(recent)-1; i++ {
		curr, next := recent[i], recent[i+1]
		currBody := curr.Close - curr.Open
		nextBody := next.Close - next.Open

		strength := 0.0
		if math.Abs(currBody) > 0 {
			strength = math.Abs(nextBody) / math.Abs(currBody)
		}

		if currBody < 0 && nextBody > 0 && math.Abs(nextBody) > math.Abs(currBody)*1.5 {
			result.Bullish = append(result.Bullish, OrderBlock{
				High: curr.High, Low: curr.Low, Index: i, Strength: strength,
			})
		}
		if currBody > 0 && nextBody < 0 && math.Abs(nextBody) > math.Abs(currBody)*1.5 {
			result.Bearish = append(result.Bearish, OrderBlock{
				High: curr.High, Low: curr.Low, Index: i, Strength: strength,
			})
		}
	}

	result.Bullish = lastBlocks(result.Bullish, 5)
	result.Bearish = lastBlocks(result.Bearish, 5)
	return result
}

// FairValueGap is a three-candle price imbalance with no overlap between the
// outer candles.
type FairValueGap struct {
	Top     float64 `json:"top"`
	Bottom  float64 `json:"bottom"`
	GapSize float64 `json:"gap_size"`
	Index   int     `json:"index"`
}

// FVGZones holds the most recent bullish and bearish gaps.
type FVGZones struct {
	Bullish []FairValueGap `json:"bullish"`
	Bearish []FairValueGap `json:"bearish"`
}

// DetectFVG scans for fair value gaps: bullish when the third candle's low
// clears the first candle's high, bearish when its high sits under the first
// candle's low.
func DetectFVG(candles []models.Candle, lookback int) FVGZones {
	result := FVGZones{Bullish: []FairValueGap{}, Bearish: []FairValueGap{}}
	if len(candles) < 3 {
		return result
	}

	recent := candles
	if len(candles) > lookback {
		recent = candles[len(candles)-lookback:]
	}

	for i := 2; i < len(recent); i++ {
		c1, c3 := recent[i-2], recent[i]

		if c3.Low > c1.High {
			result.Bullish = append(result.Bullish, FairValueGap{
				Top: c3.Low, Bottom: c1.High, GapSize: c3.Low - c1.High, Index: i,
			})
		}
		if c3.High < c1.Low {
			result.Bearish = append(result.Bearish, FairValueGap{
				Top: c1.Low, Bottom: c3.High, GapSize: c1.Low - c3.High, Index: i,
			})
		}
	}

	result.Bullish = lastGaps(result.Bullish, 5)
	result.Bearish = lastGaps(result.Bearish, 5)
	return result
}

func lastBlocks(blocks []OrderBlock, n int) []OrderBlock {
	if len(blocks) > n {
		return blocks[len(blocks)-n:]
	}
	return blocks
}

func lastGaps(gaps []FairValueGap, n int) []FairValueGap {
	if len(gaps) > n {
		return gaps[len(gaps)-n:]
	}
	return gaps
}
