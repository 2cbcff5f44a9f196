package domain

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// probEps clamps cumulative probabilities away from 0 and 1 so the normal
// quantile stays finite. Corresponds to |SPI| ≈ 4.75.
const probEps = 1e-6

// SPIValue maps one aggregated observation through its fitted climatology
// into a standard-normal anomaly. No-data fit or observation yields no-data.
func SPIValue(x float64, fit GammaFit) float64 {
	p := fit.CDF(x)
	if math.IsNaN(p) {
		return math.NaN()
	}
	if p < probEps {
		p = probEps
	}
	if p > 1-probEps {
		p = 1 - probEps
	}
	return distuv.UnitNormal.Quantile(p)
}

// GammaParams bundles the three per-pixel parameter grids of one calendar
// slot, as read back from the store.
type GammaParams struct {
	Shape *Grid
	Scale *Grid
	P0    *Grid
}

// FitAt reconstructs the fit for one pixel. Any no-data parameter makes the
// whole fit invalid.
func (p GammaParams) FitAt(i int) GammaFit {
	sh, sc, p0 := p.Shape.Cells[i], p.Scale.Cells[i], p.P0.Cells[i]
	if IsNoData(sh) || IsNoData(sc) || IsNoData(p0) {
		return GammaFit{}
	}
	return GammaFit{Shape: sh, Scale: sc, P0: p0, Valid: true}
}

// ComputeSPI standardizes a full observation grid against the slot's
// parameter grids.
func ComputeSPI(obs *Grid, params GammaParams) *Grid {
	out := NewGrid(obs.Width, obs.Height)
	for i, v := range obs.Cells {
		out.Cells[i] = SPIValue(v, params.FitAt(i))
	}
	return out
}

// SmoothGaussian applies a spatial Gaussian blur with the given kernel
// standard deviation in pixels. No-data cells are excluded from the kernel
// rather than treated as zero, and the remaining weights renormalized, so valid
// neighbors of a gap are not biased toward it. A no-data center stays
// no-data. Sigma <= 0 returns the input unchanged.
func SmoothGaussian(g *Grid, sigma float64) *Grid {
	if sigma <= 0 {
		return g
	}
	radius := int(math.Ceil(3 * sigma))
	out := NewGrid(g.Width, g.Height)
	twoSigmaSq := 2 * sigma * sigma

	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			if IsNoData(g.At(x, y)) {
				continue
			}
			var wsum, vsum float64
			for dy := -radius; dy <= radius; dy++ {
				ny := y + dy
				if ny < 0 || ny >= g.Height {
					continue
				}
				for dx := -radius; dx <= radius; dx++ {
					nx := x + dx
					if nx < 0 || nx >= g.Width {
						continue
					}
					v := g.At(nx, ny)
					if IsNoData(v) {
						continue
					}
					w := math.Exp(-float64(dx*dx+dy*dy) / twoSigmaSq)
					wsum += w
					vsum += w * v
				}
			}
			out.Set(x, y, vsum/wsum)
		}
	}
	return out
}
