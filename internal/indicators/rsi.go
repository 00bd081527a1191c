// Package indicators provides deterministic technical indicator math.
// All functions are pure: numeric slices in, plain result structs out, no I/O.
package indicators

// RSIResult holds the Wilder-smoothed RSI state for a price series.
type RSIResult struct {
	Current    float64   `json:"current"`
	Values     []float64 `json:"values"` // last 20 values
	Overbought bool      `json:"overbought"`
	Oversold   bool      `json:"oversold"`
}

// RSI computes the Wilder-smoothed Relative Strength Index.
// Series shorter than period+1 return a neutral 50.0 with no history.
func RSI(closes []float64, period int) RSIResult {
	if len(closes) < period+1 {
		return RSIResult{Current: 50.0, Values: []float64{}}
	}

	deltas := make([]float64, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		deltas[i-1] = closes[i] - closes[i-1]
	}

	var avgGain, avgLoss float64
	for i := 0; i < period; i++ {
		if deltas[i] > 0 {
			avgGain += deltas[i]
		} else {
			avgLoss += -deltas[i]
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	var values []float64
	for i := period; i < len(deltas); i++ {
		gain, loss := 0.0, 0.0
		if deltas[i] > 0 {
			gain = deltas[i]
		} else {
			loss = -deltas[i]
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)

		if avgLoss == 0 {
			values = append(values, 100.0)
		} else {
			rs := avgGain / avgLoss
			values = append(values, 100.0-(100.0/(1.0+rs)))
		}
	}

	current := 50.0
	if len(values) > 0 {
		current = values[len(values)-1]
	}
	if len(values) > 20 {
		values = values[len(values)-20:]
	}

	return RSIResult{
		Current:    current,
		Values:     values,
		Overbought: current > 70,
		Oversold:   current < 30,
	}
}
