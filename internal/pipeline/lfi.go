package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ltrotter/dryes-revisited/internal/config"
	"github.com/ltrotter/dryes-revisited/internal/domain"
)

// runLFI executes one LFI run per configured threshold: fit the per-slot flow
// thresholds over the history window, derive the per-pixel event frequency
// (lambda), then walk the current period day by day through the drought state
// machine. The daily walk is stateful, so resume goes through checkpoints
// rather than skip-if-exists.
func (r *Runner) runLFI(ctx context.Context) error {
	cfg := r.cfg

	current, err := domain.Timesteps(cfg.CurrentStart, cfg.CurrentEnd, cfg.TimestepsPerYear)
	if err != nil {
		return err
	}
	slots, err := domain.Slots(cfg.TimestepsPerYear)
	if err != nil {
		return err
	}

	r.setTotal(len(current) * len(cfg.Thresholds))

	for _, thr := range cfg.Thresholds {
		thresholds, err := r.ensureThresholds(ctx, thr, slots)
		if err != nil {
			return fmt.Errorf("thresholds %s: %w", thr.Name, err)
		}
		lambda, err := r.ensureLambda(ctx, thr, slots, thresholds)
		if err != nil {
			return fmt.Errorf("lambda %s: %w", thr.Name, err)
		}
		if err := r.scoreLFI(ctx, thr, thresholds, lambda, current); err != nil {
			return fmt.Errorf("score %s: %w", thr.Name, err)
		}
	}
	return nil
}

// ensureThresholds fits (or loads) the per-slot quantile threshold grids. The
// fit for a slot pools the historical observations of every day within
// ThresholdDayWindow days of the slot across all history years, which smooths
// the day-to-day noise of a single 30-year column.
func (r *Runner) ensureThresholds(ctx context.Context, thr config.ThresholdSpec, slots []domain.Slot) (map[domain.Slot]*domain.Grid, error) {
	history := r.cfg.History()
	years := 0
	for y := r.cfg.HistoryStart.Year(); y <= r.cfg.HistoryEnd.Year(); y++ {
		years++
	}
	window := r.cfg.ThresholdDayWindow
	reader := newCachedDailyReader(r.store, DatasetRaw, years*(2*window+2))
	reader.metrics = r.metrics

	out := make(map[domain.Slot]*domain.Grid, len(slots))
	fitted := 0
	for _, slot := range slots {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ok, err := r.store.SlotExists(ctx, DatasetThreshold, thr.Name, slot)
		if err != nil {
			return nil, err
		}
		if ok {
			g, err := r.store.ReadSlot(ctx, DatasetThreshold, thr.Name, slot)
			if err != nil {
				return nil, err
			}
			r.metrics.GridsRead.Inc()
			out[slot] = g
			fitted++
			continue
		}

		var samples []*domain.Grid
		for year := r.cfg.HistoryStart.Year(); year <= r.cfg.HistoryEnd.Year(); year++ {
			center := slot.Date(year)
			for off := -window; off <= window; off++ {
				day := center.AddDate(0, 0, off)
				if !history.Contains(day) {
					continue
				}
				g, err := reader.ReadDaily(ctx, day)
				if errors.Is(err, domain.ErrNotFound) {
					r.metrics.MissingInputs.Inc()
					continue
				}
				if err != nil {
					return nil, err
				}
				samples = append(samples, g)
			}
		}
		if len(samples) == 0 {
			r.logger.Warn("no historical flow for slot, no threshold", "tag", thr.Name, "slot", slot.String())
			continue
		}

		g, err := r.fitThresholdSlot(ctx, samples, thr.Quantile)
		if err != nil {
			return nil, err
		}
		if err := r.store.WriteSlot(ctx, DatasetThreshold, thr.Name, slot, g); err != nil {
			return nil, fmt.Errorf("write threshold %s/%s: %w", thr.Name, slot, err)
		}
		r.metrics.GridsWritten.Inc()
		out[slot] = g
		fitted++
	}
	r.logger.Info("thresholds ready", "tag", thr.Name, "slots", fitted, "total", len(slots))
	return out, nil
}

func (r *Runner) fitThresholdSlot(ctx context.Context, samples []*domain.Grid, q float64) (*domain.Grid, error) {
	w, h := samples[0].Width, samples[0].Height
	for _, g := range samples {
		if !g.SameShape(samples[0]) {
			return nil, fmt.Errorf("sample grids disagree on extent: %dx%d vs %dx%d", g.Width, g.Height, w, h)
		}
	}
	out := domain.NewGrid(w, h)

	err := parallelRows(ctx, h, r.cfg.Workers, func(y int) error {
		vals := make([]float64, len(samples))
		for x := 0; x < w; x++ {
			i := y*w + x
			for k, g := range samples {
				vals[k] = g.Cells[i]
			}
			v := domain.FitThreshold(vals, q, r.cfg.MinFitSamples)
			if domain.IsNoData(v) {
				r.metrics.FitFailures.Inc()
				continue
			}
			out.Cells[i] = v
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ensureLambda derives (or loads) the per-pixel mean number of qualifying
// deficit events per year over the history window. The historical scan uses
// the same state machine as live scoring, with decay disabled, so the two can
// never disagree on what counts as an event.
func (r *Runner) ensureLambda(ctx context.Context, thr config.ThresholdSpec, slots []domain.Slot, thresholds map[domain.Slot]*domain.Grid) (*domain.Grid, error) {
	ok, err := r.store.StaticExists(ctx, DatasetLambda, thr.Name)
	if err != nil {
		return nil, err
	}
	if ok {
		g, err := r.store.ReadStatic(ctx, DatasetLambda, thr.Name)
		if err != nil {
			return nil, err
		}
		r.metrics.GridsRead.Inc()
		return g, nil
	}

	ref := thresholds[slots[0]]
	if ref == nil {
		return nil, fmt.Errorf("no threshold grid for slot %s", slots[0])
	}
	w, h := ref.Width, ref.Height
	n := w * h

	histDays, err := domain.Timesteps(r.cfg.HistoryStart, r.cfg.HistoryEnd, r.cfg.TimestepsPerYear)
	if err != nil {
		return nil, err
	}

	params := domain.LFIParams{
		PoolingSteps: r.cfg.PoolingSteps,
		MinVolume:    r.cfg.MinEventVolume,
		Decay:        1,
	}
	states := make([]domain.PixelState, n)
	counts := make([]int, n)

	for _, day := range histDays {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, err := r.store.Read(ctx, DatasetRaw, "", day)
		if errors.Is(err, domain.ErrNotFound) {
			r.metrics.MissingInputs.Inc()
			continue
		}
		if err != nil {
			return nil, err
		}
		r.metrics.GridsRead.Inc()
		if raw.Width != w || raw.Height != h {
			return nil, fmt.Errorf("flow grid for %s is %dx%d, thresholds are %dx%d",
				day.Format(time.DateOnly), raw.Width, raw.Height, w, h)
		}

		thrGrid := thresholds[domain.SlotOf(day)]
		if thrGrid == nil {
			continue
		}
		err = parallelRows(ctx, h, r.cfg.Workers, func(y int) error {
			tr := domain.Tracker{Params: params, Lambda: 1}
			for x := 0; x < w; x++ {
				i := y*w + x
				if _, ev := tr.Step(&states[i], raw.Cells[i], thrGrid.Cells[i]); ev != nil {
					counts[i]++
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	// Close anything still open at the end of the history; a qualifying
	// tail event counts.
	tr := domain.Tracker{Params: params, Lambda: 1}
	for i := range states {
		if ev := tr.Flush(&states[i]); ev != nil {
			counts[i]++
		}
	}

	lambda := domain.NewGrid(w, h)
	yearsSpan := r.cfg.History().Years()
	for i := range counts {
		if domain.IsNoData(ref.Cells[i]) {
			continue
		}
		lambda.Cells[i] = float64(counts[i]) / yearsSpan
	}

	if err := r.store.WriteStatic(ctx, DatasetLambda, thr.Name, lambda); err != nil {
		return nil, fmt.Errorf("write lambda %s: %w", thr.Name, err)
	}
	r.metrics.GridsWritten.Inc()
	r.logger.Info("lambda ready", "tag", thr.Name, "years", yearsSpan)
	return lambda, nil
}

// scoreLFI walks the current period chronologically, committing four grids
// per day: the index itself plus the open-event deficit, duration, and
// inter-event interval. State is checkpointed every CheckpointEvery days and
// once more at the end.
func (r *Runner) scoreLFI(ctx context.Context, thr config.ThresholdSpec, thresholds map[domain.Slot]*domain.Grid, lambda *domain.Grid, current []time.Time) error {
	w, h := lambda.Width, lambda.Height
	n := w * h

	states := make([]domain.PixelState, n)
	var resumeAfter time.Time
	ck, err := r.loadCheckpoint(thr.Name)
	if err != nil {
		return err
	}
	if ck != nil {
		if ck.Width != w || ck.Height != h {
			return fmt.Errorf("checkpoint extent %dx%d does not match inputs %dx%d", ck.Width, ck.Height, w, h)
		}
		states = ck.States
		resumeAfter = ck.LastTime
		r.logger.Info("resuming from checkpoint", "tag", thr.Name, "last_time", resumeAfter.Format(time.DateOnly))
	}

	params := domain.LFIParams{
		PoolingSteps: r.cfg.PoolingSteps,
		MinVolume:    r.cfg.MinEventVolume,
		Decay:        domain.DecayPerStep(r.cfg.DecayYears, r.cfg.TimestepsPerYear),
	}

	sinceCheckpoint := 0
	for _, day := range current {
		if err := ctx.Err(); err != nil {
			return err
		}
		if ck != nil && !day.After(resumeAfter) {
			r.markSkipped()
			continue
		}
		start := time.Now()

		raw, err := r.store.Read(ctx, DatasetRaw, "", day)
		if errors.Is(err, domain.ErrNotFound) {
			// A missing day holds every pixel's state; the index still gets
			// a grid so the output series has no calendar holes.
			r.metrics.MissingInputs.Inc()
			r.logger.Warn("no flow grid for day, holding state", "tag", thr.Name, "time", day.Format(time.DateOnly))
			raw = nil
		} else if err != nil {
			return err
		} else {
			r.metrics.GridsRead.Inc()
			if raw.Width != w || raw.Height != h {
				return fmt.Errorf("flow grid for %s is %dx%d, run extent is %dx%d",
					day.Format(time.DateOnly), raw.Width, raw.Height, w, h)
			}
		}

		thrGrid := thresholds[domain.SlotOf(day)]
		if thrGrid == nil {
			return fmt.Errorf("no threshold grid for slot %s", domain.SlotOf(day))
		}

		index := domain.NewGrid(w, h)
		deficit := domain.NewGrid(w, h)
		duration := domain.NewGrid(w, h)
		interval := domain.NewGrid(w, h)

		err = parallelRows(ctx, h, r.cfg.Workers, func(y int) error {
			tr := domain.Tracker{Params: params}
			for x := 0; x < w; x++ {
				i := y*w + x
				tr.Lambda = lambda.Cells[i]

				v := math.NaN()
				if raw != nil {
					v = raw.Cells[i]
				}
				val, ev := tr.Step(&states[i], v, thrGrid.Cells[i])
				if ev != nil {
					r.metrics.EventsClosed.Inc()
				}
				index.Cells[i] = val

				if domain.IsNoData(thrGrid.Cells[i]) {
					continue
				}
				s := &states[i]
				if s.Phase == domain.PhaseSurplus {
					deficit.Cells[i] = 0
					duration.Cells[i] = 0
					interval.Cells[i] = float64(s.SinceLast)
				} else {
					deficit.Cells[i] = s.Volume
					duration.Cells[i] = float64(s.Duration)
					interval.Cells[i] = float64(s.Interval)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}

		for dataset, g := range map[string]*domain.Grid{
			DatasetIndexLFI: index,
			DatasetDeficit:  deficit,
			DatasetDuration: duration,
			DatasetInterval: interval,
		} {
			if err := r.writeWithRetry(ctx, dataset, thr.Name, day, g); err != nil {
				return err
			}
		}

		r.metrics.TimestepDuration.Observe(time.Since(start).Seconds())
		r.markCommitted(day)
		r.notify(ctx, DatasetIndexLFI, thr.Name, day, index)

		sinceCheckpoint++
		if sinceCheckpoint >= r.cfg.CheckpointEvery {
			if err := r.saveCheckpoint(thr.Name, w, h, day, states); err != nil {
				return err
			}
			sinceCheckpoint = 0
		}
	}

	if len(current) > 0 {
		if err := r.saveCheckpoint(thr.Name, w, h, current[len(current)-1], states); err != nil {
			return err
		}
	}
	return nil
}
