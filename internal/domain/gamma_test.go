package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFitGamma_RecoversReasonableParameters(t *testing.T) {
	// Samples from a gamma-ish positive distribution with mean 30.
	samples := []float64{12, 18, 22, 25, 28, 31, 35, 38, 44, 47}

	fit := FitGamma(samples, 5)
	require.True(t, fit.Valid)
	assert.Equal(t, 0.0, fit.P0)
	assert.Greater(t, fit.Shape, 0.0)
	assert.Greater(t, fit.Scale, 0.0)
	// The fitted mean (shape*scale) tracks the sample mean.
	assert.InDelta(t, 30.0, fit.Shape*fit.Scale, 1.0)
}

func TestFitGamma_ZeroMass(t *testing.T) {
	samples := []float64{0, 0, 0, 10, 12, 14, 16, 18, 20, 22}
	fit := FitGamma(samples, 5)
	require.True(t, fit.Valid)
	assert.InDelta(t, 0.3, fit.P0, 1e-12, "three of ten observations are dry")
}

func TestFitGamma_IgnoresNoData(t *testing.T) {
	samples := []float64{math.NaN(), 10, 12, 14, 16, 18, math.NaN()}
	fit := FitGamma(samples, 5)
	assert.True(t, fit.Valid)
}

func TestFitGamma_TooFewSamples(t *testing.T) {
	fit := FitGamma([]float64{10, 12, 14}, 5)
	assert.False(t, fit.Valid)
}

func TestFitGamma_AllZeros(t *testing.T) {
	fit := FitGamma([]float64{0, 0, 0, 0, 0, 0}, 5)
	assert.False(t, fit.Valid, "no positive observations, nothing to fit")
}

func TestFitGamma_DegenerateConstantSamples(t *testing.T) {
	fit := FitGamma([]float64{7, 7, 7, 7, 7, 7}, 5)
	assert.False(t, fit.Valid, "zero spread cannot support a gamma fit")
}

func TestGammaCDF_Monotone(t *testing.T) {
	fit := FitGamma([]float64{12, 18, 22, 25, 28, 31, 35, 38, 44, 47}, 5)
	require.True(t, fit.Valid)

	prev := 0.0
	for x := 1.0; x <= 80; x += 1 {
		p := fit.CDF(x)
		assert.GreaterOrEqual(t, p, prev, "CDF must not decrease at x=%g", x)
		prev = p
	}
	assert.Greater(t, prev, 0.95, "far right tail approaches 1")
}

func TestGammaCDF_ZeroObservationMapsToHalfP0(t *testing.T) {
	fit := GammaFit{Shape: 2, Scale: 3, P0: 0.4, Valid: true}
	assert.Equal(t, 0.2, fit.CDF(0))
	assert.Equal(t, 0.2, fit.CDF(-1), "negative input treated as dry")
}

func TestGammaCDF_InvalidFit(t *testing.T) {
	assert.True(t, math.IsNaN(GammaFit{}.CDF(10)))
}

func TestGammaCDF_NoDataObservation(t *testing.T) {
	fit := GammaFit{Shape: 2, Scale: 3, P0: 0, Valid: true}
	assert.True(t, math.IsNaN(fit.CDF(math.NaN())))
}
