package indicators

import "math"

// BollingerResult holds Bollinger Band levels relative to the latest close.
type BollingerResult struct {
	Upper     float64 `json:"upper"`
	Middle    float64 `json:"middle"`
	Lower     float64 `json:"lower"`
	Bandwidth float64 `json:"bandwidth"`
	PercentB  float64 `json:"percent_b"`
}

// Bollinger computes Bollinger Bands over the trailing period.
// Short series collapse all three bands onto the current price.
func Bollinger(closes []float64, period int, stdDev float64) BollingerResult {
	if len(closes) < period {
		price := 0.0
		if len(closes) > 0 {
			price = closes[len(closes)-1]
		}
		return BollingerResult{Upper: price, Middle: price, Lower: price, PercentB: 0.5}
	}

	window := closes[len(closes)-period:]
	var sum float64
	for _, c := range window {
		sum += c
	}
	sma := sum / float64(period)

	var variance float64
	for _, c := range window {
		variance += (c - sma) * (c - sma)
	}
	std := math.Sqrt(variance / float64(period))

	upper := sma + stdDev*std
	lower := sma - stdDev*std
	price := closes[len(closes)-1]

	bandwidth := 0.0
	if sma > 0 {
		bandwidth = (upper - lower) / sma
	}
	percentB := 0.5
	if upper-lower > 0 {
		percentB = (price - lower) / (upper - lower)
	}

	return BollingerResult{
		Upper:     upper,
		Middle:    sma,
		Lower:     lower,
		Bandwidth: bandwidth,
		PercentB:  percentB,
	}
}
