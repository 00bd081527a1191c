package indicators

import "sort"

// SRLevels holds detected support and resistance levels around the last close.
type SRLevels struct {
	Supports          []float64 `json:"supports"`
	Resistances       []float64 `json:"resistances"`
	NearestSupport    *float64  `json:"nearest_support,omitempty"`
	NearestResistance *float64  `json:"nearest_resistance,omitempty"`
}

// SupportResistance detects key price levels using local pivot highs and lows.
// A bar is a pivot when it equals the max/min of its +-lookback window.
func SupportResistance(highs, lows, closes []float64, lookback int) SRLevels {
	if len(highs) < lookback*2+1 {
		return SRLevels{Supports: []float64{}, Resistances: []float64{}}
	}

	var supports, resistances []float64
	for i := lookback; i < len(lows)-lookback; i++ {
		if lows[i] == minOf(lows[i-lookback:i+lookback+1]) {
			supports = append(supports, lows[i])
		}
		if highs[i] == maxOf(highs[i-lookback:i+lookback+1]) {
			resistances = append(resistances, highs[i])
		}
	}

	price := closes[len(closes)-1]

	var nearestSupport, nearestResistance *float64
	for _, s := range supports {
		if s < price && (nearestSupport == nil || s > *nearestSupport) {
			v := s
			nearestSupport = &v
		}
	}
	for _, r := range resistances {
		if r > price && (nearestResistance == nil || r < *nearestResistance) {
			v := r
			nearestResistance = &v
		}
	}

	return SRLevels{
		Supports:          dedupeSorted(lastN(supports, 10), 5),
		Resistances:       dedupeSorted(lastN(resistances, 10), 5),
		NearestSupport:    nearestSupport,
		NearestResistance: nearestResistance,
	}
}

func minOf(vals []float64) float64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxOf(vals []float64) float64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func lastN(vals []float64, n int) []float64 {
	if len(vals) > n {
		return vals[len(vals)-n:]
	}
	return vals
}

func dedupeSorted(vals []float64, limit int) []float64 {
	seen := make(map[float64]struct{}, len(vals))
	out := make([]float64, 0, len(vals))
	for _, v := range vals {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Float64s(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
