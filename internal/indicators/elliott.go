package indicators

import "math"

// Pivot is a swing high or low in the price series.
type Pivot struct {
	Index int     `json:"index"`
	Price float64 `json:"price"`
	Type  string  `json:"type"` // "high" or "low"
}

// Wave is a single move between consecutive pivots.
type Wave struct {
	FromPrice float64 `json:"from_price"`
	ToPrice   float64 `json:"to_price"`
	Type      string  `json:"type"` // "impulse" or "correction"
	MovePct   float64 `json:"move_pct"`
}

// ElliottResult holds a simplified pivot-cadence wave count.
type ElliottResult struct {
	WaveCount       int     `json:"wave_count"` // 1-5 impulse, 1-3 mapped to A/B/C correction
	TotalWaves      int     `json:"total_waves_detected"`
	Pivots          []Pivot `json:"pivots"` // last 10
	Trend           string  `json:"trend"`  // "bullish", "bearish", "unknown"
	CurrentWaveType string  `json:"current_wave_type,omitempty"`
}

// ElliottWave counts alternating pivot-to-pivot moves of at least minWavePct.
// The count wraps modulo 8 (5 impulse + 3 correction); counts 6 and 7 remap
// to the correction leg (1=A, 2=B). A count of 8 wraps to 0, so C is never
// reported.
func ElliottWave(closes []float64, minWavePct float64) ElliottResult {
	if len(closes) < 20 {
		return ElliottResult{Pivots: []Pivot{}, Trend: "unknown"}
	}

	pivots := findPivots(closes, 5)
	if len(pivots) < 3 {
		return ElliottResult{Pivots: pivots, Trend: "unknown"}
	}

	var waves []Wave
	for i := 1; i < len(pivots); i++ {
		prev, curr := pivots[i-1], pivots[i]
		movePct := math.Abs(curr.Price-prev.Price) / prev.Price
		if movePct < minWavePct {
			continue
		}
		waveType := "correction"
		if curr.Type != prev.Type {
			waveType = "impulse"
		}
		waves = append(waves, Wave{
			FromPrice: prev.Price,
			ToPrice:   curr.Price,
			Type:      waveType,
			MovePct:   movePct,
		})
	}

	waveCount := len(waves) % 8
	currentType := "impulse"
	if waveCount > 5 {
		waveCount -= 5 // correction phase: 1=A, 2=B, 3=C
		currentType = "correction"
	}

	trend := "bearish"
	if pivots[len(pivots)-1].Price > pivots[len(pivots)-2].Price {
		trend = "bullish"
	}

	if len(pivots) > 10 {
		pivots = pivots[len(pivots)-10:]
	}

	return ElliottResult{
		WaveCount:       waveCount,
		TotalWaves:      len(waves),
		Pivots:          pivots,
		Trend:           trend,
		CurrentWaveType: currentType,
	}
}

// findPivots locates swing highs and lows with a symmetric lookback window.
func findPivots(closes []float64, lookback int) []Pivot {
	var pivots []Pivot
	for i := lookback; i < len(closes)-lookback; i++ {
		window := closes[i-lookback : i+lookback+1]
		switch {
		case closes[i] == maxOf(window):
			pivots = append(pivots, Pivot{Index: i, Price: closes[i], Type: "high"})
		case closes[i] == minOf(window):
			pivots = append(pivots, Pivot{Index: i, Price: closes[i], Type: "low"})
		}
	}
	return pivots
}
