// Command validate performs integrity checks on a completed run's artifacts:
// timestep coverage, grid extent consistency, climatology sanity, and index
// value ranges. It reads the same raster store the engine writes, so it
// catches torn runs, shape drift, and out-of-range outputs before anyone
// builds a bulletin on them.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -root ./rasters -index spi -tag 1m \
//	  -start 2024-01-01 -end 2024-12-31 -timesteps-per-year 12
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/ltrotter/dryes-revisited/internal/adapter/rasterfs"
	"github.com/ltrotter/dryes-revisited/internal/config"
	"github.com/ltrotter/dryes-revisited/internal/domain"
	"github.com/ltrotter/dryes-revisited/internal/pipeline"
)

// phase tracks pass/fail for one validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	root := flag.String("root", "", "raster store root directory")
	index := flag.String("index", config.IndexSPI, "index to validate: spi or lfi")
	tag := flag.String("tag", "", "parameter tag (aggregation or threshold name)")
	startStr := flag.String("start", "", "first scored timestep (YYYY-MM-DD)")
	endStr := flag.String("end", "", "last scored timestep (YYYY-MM-DD)")
	perYear := flag.Int("timesteps-per-year", 12, "calendar subdivision of the run")
	flag.Parse()

	if *root == "" || *tag == "" || *startStr == "" || *endStr == "" {
		flag.Usage()
		os.Exit(1)
	}

	start, err := time.ParseInLocation(time.DateOnly, *startStr, time.UTC)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: invalid -start: %v\n", err)
		os.Exit(1)
	}
	end, err := time.ParseInLocation(time.DateOnly, *endStr, time.UTC)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: invalid -end: %v\n", err)
		os.Exit(1)
	}

	if code := run(*root, *index, *tag, start, end, *perYear); code != 0 {
		os.Exit(code)
	}
}

func run(root, index, tag string, start, end time.Time, perYear int) int {
	fmt.Println("=== Drought Index Run Validation ===")
	fmt.Println()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	store := rasterfs.New(root, logger)
	ctx := context.Background()

	steps, err := domain.Timesteps(start, end, perYear)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 1
	}

	indexDataset := pipeline.DatasetIndexSPI
	if index == config.IndexLFI {
		indexDataset = pipeline.DatasetIndexLFI
	}

	grids, coverage := loadRun(ctx, store, indexDataset, tag, steps)

	phases := []*phase{
		coverage,
		validateExtent(grids),
		validateIndexValues(index, grids),
	}
	if index == config.IndexSPI {
		phases = append(phases, validateGammaClimatology(ctx, store, tag, perYear))
	} else {
		phases = append(phases, validateEventGrids(ctx, store, tag, steps))
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Timesteps: %d expected, %d present\n", len(steps), len(grids))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// loadRun reads every expected index grid, recording gaps as coverage errors.
func loadRun(ctx context.Context, store *rasterfs.Store, dataset, tag string, steps []time.Time) (map[string]*domain.Grid, *phase) {
	p := &phase{name: "Phase 1: Timestep Coverage"}
	grids := make(map[string]*domain.Grid, len(steps))
	for _, t := range steps {
		g, err := store.Read(ctx, dataset, tag, t)
		if errors.Is(err, domain.ErrNotFound) {
			p.errorf("%s: no index grid", t.Format(time.DateOnly))
			continue
		}
		if err != nil {
			p.errorf("%s: %v", t.Format(time.DateOnly), err)
			continue
		}
		grids[t.Format(time.DateOnly)] = g
	}
	return grids, p
}

// validateExtent checks every grid against the first one found.
func validateExtent(grids map[string]*domain.Grid) *phase {
	p := &phase{name: "Phase 2: Extent Consistency"}

	var refKey string
	var ref *domain.Grid
	for k, g := range grids {
		if ref == nil || k < refKey {
			refKey, ref = k, g
		}
	}
	if ref == nil {
		p.errorf("no grids to compare")
		return p
	}
	for k, g := range grids {
		if !g.SameShape(ref) {
			p.errorf("%s: extent %dx%d differs from %s (%dx%d)", k, g.Width, g.Height, refKey, ref.Width, ref.Height)
		}
	}
	return p
}

// validateIndexValues checks value ranges: SPI is a standardized anomaly and
// must stay inside the quantile clamp; LFI is a non-negative severity.
func validateIndexValues(index string, grids map[string]*domain.Grid) *phase {
	p := &phase{name: "Phase 3: Index Value Ranges"}
	for k, g := range grids {
		valid := 0
		for i, v := range g.Cells {
			if domain.IsNoData(v) {
				continue
			}
			valid++
			switch {
			case math.IsInf(v, 0):
				p.errorf("%s cell %d: infinite value", k, i)
			case index == config.IndexSPI && math.Abs(v) > 5:
				p.errorf("%s cell %d: |SPI| = %.2f exceeds the clamp", k, i, math.Abs(v))
			case index == config.IndexLFI && v < 0:
				p.errorf("%s cell %d: negative severity %.2f", k, i, v)
			}
		}
		if valid == 0 {
			p.errorf("%s: grid is entirely no-data", k)
		}
	}
	return p
}

// validateGammaClimatology spot-checks the fitted parameter grids: p0 is a
// probability, shape and scale are strictly positive, and the three grids of
// a slot agree on which pixels have a climatology.
func validateGammaClimatology(ctx context.Context, store *rasterfs.Store, tag string, perYear int) *phase {
	p := &phase{name: "Phase 4: Gamma Climatology"}

	slots, err := domain.Slots(perYear)
	if err != nil {
		p.errorf("%v", err)
		return p
	}
	for _, slot := range slots {
		shape, err1 := store.ReadSlot(ctx, pipeline.DatasetGammaShape, tag, slot)
		scale, err2 := store.ReadSlot(ctx, pipeline.DatasetGammaScale, tag, slot)
		p0, err3 := store.ReadSlot(ctx, pipeline.DatasetGammaP0, tag, slot)
		if errors.Is(err1, domain.ErrNotFound) && errors.Is(err2, domain.ErrNotFound) && errors.Is(err3, domain.ErrNotFound) {
			p.errorf("slot %s: no parameter grids", slot)
			continue
		}
		for _, err := range []error{err1, err2, err3} {
			if err != nil {
				p.errorf("slot %s: %v", slot, err)
			}
		}
		if err1 != nil || err2 != nil || err3 != nil {
			continue
		}

		for i := range shape.Cells {
			sh, sc, pz := shape.Cells[i], scale.Cells[i], p0.Cells[i]
			switch {
			case domain.IsNoData(sh) != domain.IsNoData(sc) || domain.IsNoData(sh) != domain.IsNoData(pz):
				p.errorf("slot %s cell %d: parameter grids disagree on no-data", slot, i)
			case domain.IsNoData(sh):
				// No climatology here; nothing more to check.
			case sh <= 0 || sc <= 0:
				p.errorf("slot %s cell %d: non-positive shape/scale (%.4f, %.4f)", slot, i, sh, sc)
			case pz < 0 || pz > 1:
				p.errorf("slot %s cell %d: p0 %.4f outside [0,1]", slot, i, pz)
			}
		}
	}
	return p
}

// validateEventGrids checks the LFI companion outputs: deficit volumes and
// durations are non-negative, and durations are whole step counts.
func validateEventGrids(ctx context.Context, store *rasterfs.Store, tag string, steps []time.Time) *phase {
	p := &phase{name: "Phase 4: Event Grids"}
	for _, t := range steps {
		key := t.Format(time.DateOnly)
		deficit, err := store.Read(ctx, pipeline.DatasetDeficit, tag, t)
		if err != nil {
			p.errorf("%s: deficit: %v", key, err)
			continue
		}
		duration, err := store.Read(ctx, pipeline.DatasetDuration, tag, t)
		if err != nil {
			p.errorf("%s: duration: %v", key, err)
			continue
		}
		for i := range deficit.Cells {
			d, n := deficit.Cells[i], duration.Cells[i]
			if domain.IsNoData(d) {
				continue
			}
			if d < 0 {
				p.errorf("%s cell %d: negative deficit %.2f", key, i, d)
			}
			if n < 0 || n != math.Trunc(n) {
				p.errorf("%s cell %d: duration %.2f is not a whole step count", key, i, n)
			}
			if d > 0 && n == 0 {
				p.errorf("%s cell %d: deficit %.2f with zero duration", key, i, d)
			}
		}
	}
	return p
}
