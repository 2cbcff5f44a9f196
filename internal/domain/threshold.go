package domain

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// FitThreshold returns the value at quantile q of the historical samples,
// interpolating linearly between order statistics. No-data samples are
// ignored; fewer than minSamples usable values yields no-data instead of an
// unreliable threshold. Quantile ordering is preserved by construction:
// for q1 < q2 on the same samples, FitThreshold(q1) <= FitThreshold(q2).
func FitThreshold(samples []float64, q float64, minSamples int) float64 {
	vals := make([]float64, 0, len(samples))
	for _, v := range samples {
		if !IsNoData(v) {
			vals = append(vals, v)
		}
	}
	if len(vals) < minSamples || len(vals) == 0 {
		return math.NaN()
	}
	sort.Float64s(vals)
	return stat.Quantile(q, stat.LinInterp, vals, nil)
}
