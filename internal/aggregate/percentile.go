package aggregate

import (
	"math"
	"sort"
)

// Percentile returns the p-th percentile (0 <= p <= 100) of values using linear
// interpolation between closest ranks (Hyndman and Fan type 7, the numpy
// default). NaN is returned for an empty input.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 || p < 0 || p > 100 {
		return math.NaN()
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	h := float64(len(sorted)-1) * p / 100
	lo := math.Floor(h)
	i := int(lo)
	if i+1 >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	return sorted[i] + (h-lo)*(sorted[i+1]-sorted[i])
}

// IQR is the 75th minus the 25th percentile.
func IQR(values []float64) float64 {
	return Percentile(values, 75) - Percentile(values, 25)
}
