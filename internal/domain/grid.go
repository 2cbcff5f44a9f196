package domain

import (
	"errors"
	"math"
)

// ErrNotFound marks a grid absent from the store for the requested key.
var ErrNotFound = errors.New("grid not found")

// Grid is a single-band raster: row-major float64 cells with NaN as the
// no-data sentinel. Grids are treated as immutable once a pipeline stage has
// produced them; stages allocate fresh grids instead of mutating inputs.
type Grid struct {
	Width  int
	Height int
	Cells  []float64
}

// NewGrid returns a width×height grid with every cell set to no-data.
func NewGrid(width, height int) *Grid {
	cells := make([]float64, width*height)
	for i := range cells {
		cells[i] = math.NaN()
	}
	return &Grid{Width: width, Height: height, Cells: cells}
}

// NewGridFilled returns a width×height grid with every cell set to v.
func NewGridFilled(width, height int, v float64) *Grid {
	cells := make([]float64, width*height)
	for i := range cells {
		cells[i] = v
	}
	return &Grid{Width: width, Height: height, Cells: cells}
}

// IsNoData reports whether v is the no-data sentinel.
func IsNoData(v float64) bool { return math.IsNaN(v) }

// Len returns the number of cells.
func (g *Grid) Len() int { return len(g.Cells) }

// At returns the value at column x, row y.
func (g *Grid) At(x, y int) float64 { return g.Cells[y*g.Width+x] }

// Set stores v at column x, row y.
func (g *Grid) Set(x, y int, v float64) { g.Cells[y*g.Width+x] = v }

// Clone returns a deep copy.
func (g *Grid) Clone() *Grid {
	cells := make([]float64, len(g.Cells))
	copy(cells, g.Cells)
	return &Grid{Width: g.Width, Height: g.Height, Cells: cells}
}

// SameShape reports whether two grids cover the same extent.
func (g *Grid) SameShape(o *Grid) bool {
	return o != nil && g.Width == o.Width && g.Height == o.Height
}

// ValidCount returns the number of cells holding data.
func (g *Grid) ValidCount() int {
	n := 0
	for _, v := range g.Cells {
		if !IsNoData(v) {
			n++
		}
	}
	return n
}
