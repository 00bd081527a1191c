package indicators

import "math"

// ATR computes the average true range over the last period bars.
// Series shorter than period+1 fall back to the mean high-low range.
func ATR(highs, lows, closes []float64, period int) float64 {
	n := len(highs)
	if n == 0 {
		return 0
	}
	if n < period+1 {
		var sum float64
		for i := 0; i < n; i++ {
			sum += highs[i] - lows[i]
		}
		return sum / float64(n)
	}

	trs := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		tr := math.Max(
			highs[i]-lows[i],
			math.Max(
				math.Abs(highs[i]-closes[i-1]),
				math.Abs(lows[i]-closes[i-1]),
			),
		)
		trs = append(trs, tr)
	}

	window := trs[len(trs)-period:]
	var sum float64
	for _, tr := range window {
		sum += tr
	}
	return sum / float64(period)
}
