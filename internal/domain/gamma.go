package domain

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// GammaFit is the zero-inflated gamma climatology of one pixel at one
// calendar slot: the fraction of exactly-zero historical observations (P0)
// and the gamma shape/scale fit on the strictly positive remainder.
// An invalid fit means the pixel/slot has no usable climatology and every
// index value derived from it is no-data.
type GammaFit struct {
	Shape float64
	Scale float64
	P0    float64
	Valid bool
}

// FitGamma estimates a zero-inflated gamma from historical samples using the
// Thom maximum-likelihood approximation, the standard estimator for SPI.
// No-data samples are ignored. The fit is invalid when fewer than minSamples
// positive observations remain, when all observations are zero, or when the
// positive subset is degenerate (all equal), rather than extrapolating.
func FitGamma(samples []float64, minSamples int) GammaFit {
	var zeros int
	var sum, sumLog float64
	var n int
	for _, v := range samples {
		if IsNoData(v) {
			continue
		}
		if v <= 0 {
			zeros++
			continue
		}
		sum += v
		sumLog += math.Log(v)
		n++
	}
	if n < minSamples || n == 0 {
		return GammaFit{}
	}

	p0 := float64(zeros) / float64(zeros+n)
	mean := sum / float64(n)

	// Thom (1958): A = ln(mean) - mean(ln x); shape = (1 + sqrt(1+4A/3)) / 4A.
	a := math.Log(mean) - sumLog/float64(n)
	if a <= 0 || math.IsInf(a, 0) {
		return GammaFit{}
	}
	shape := (1 + math.Sqrt(1+4*a/3)) / (4 * a)
	scale := mean / shape
	if !(shape > 0) || !(scale > 0) || math.IsInf(shape, 0) || math.IsInf(scale, 0) {
		return GammaFit{}
	}
	return GammaFit{Shape: shape, Scale: scale, P0: p0, Valid: true}
}

// CDF returns the cumulative probability of x under the zero-inflated fit.
// A zero observation maps to P0/2 so the standardized value stays finite.
// Returns no-data for an invalid fit or no-data observation.
func (f GammaFit) CDF(x float64) float64 {
	if !f.Valid || IsNoData(x) {
		return math.NaN()
	}
	if x <= 0 {
		return f.P0 / 2
	}
	g := distuv.Gamma{Alpha: f.Shape, Beta: 1 / f.Scale}
	return f.P0 + (1-f.P0)*g.CDF(x)
}
