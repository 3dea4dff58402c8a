package utils

import (
	"math"
	"sort"
)

// Percentile returns the p-th percentile (0-100) of values using linear interpolation
// between closest ranks. The input slice is not modified. Empty input yields 0.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	rank := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}
	frac := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*frac
}

// AllEqual reports whether every value equals the first.
func AllEqual(values []int) bool {
	for _, v := range values[min(1, len(values)):] {
		if v != values[0] {
			return false
		}
	}
	return true
}
