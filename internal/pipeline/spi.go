package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ltrotter/dryes-revisited/internal/domain"
)

// runSPI executes one SPI run: rolling aggregates over history and current,
// per-slot gamma climatology over the history window, then standardized
// scores for every current timestep. Each phase skips artifacts that already
// exist, so a rerun only fills gaps.
func (r *Runner) runSPI(ctx context.Context) error {
	cfg := r.cfg

	current, err := domain.Timesteps(cfg.CurrentStart, cfg.CurrentEnd, cfg.TimestepsPerYear)
	if err != nil {
		return err
	}
	history, err := domain.Timesteps(cfg.HistoryStart, cfg.HistoryEnd, cfg.TimestepsPerYear)
	if err != nil {
		return err
	}
	slots, err := domain.Slots(cfg.TimestepsPerYear)
	if err != nil {
		return err
	}

	r.setTotal(len(current) * len(cfg.Aggregations))

	for _, agg := range cfg.Aggregations {
		steps := make([]time.Time, 0, len(history)+len(current))
		steps = append(steps, history...)
		steps = append(steps, current...)

		if err := r.ensureAggregates(ctx, agg.Name, agg.Window, steps); err != nil {
			return fmt.Errorf("aggregate %s: %w", agg.Name, err)
		}
		if err := r.ensureGammaParams(ctx, agg.Name, slots, history); err != nil {
			return fmt.Errorf("fit %s: %w", agg.Name, err)
		}
		if err := r.scoreSPI(ctx, agg.Name, current); err != nil {
			return fmt.Errorf("score %s: %w", agg.Name, err)
		}
	}
	return nil
}

// ensureAggregates computes the rolling sum for every timestep whose
// aggregate is not yet on disk. A day missing anywhere in a window leaves
// that timestep without an aggregate; the scoring phase then emits no index
// for it.
func (r *Runner) ensureAggregates(ctx context.Context, tag string, w domain.Window, steps []time.Time) error {
	reader := newCachedDailyReader(r.store, DatasetRaw, 400)
	reader.metrics = r.metrics

	done := 0
	for _, t := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		ok, err := r.store.Exists(ctx, DatasetAggregate, tag, t)
		if err != nil {
			return err
		}
		if ok {
			done++
			continue
		}

		sum, err := domain.AggregateSum(ctx, reader, w, t)
		var missing *domain.MissingInputError
		if errors.As(err, &missing) {
			r.metrics.MissingInputs.Inc()
			r.logger.Warn("aggregate window incomplete, skipping timestep",
				"tag", tag, "time", t.Format(time.DateOnly), "missing_day", missing.Time.Format(time.DateOnly))
			continue
		}
		if err != nil {
			return err
		}
		if err := r.writeWithRetry(ctx, DatasetAggregate, tag, t, sum); err != nil {
			return err
		}
		done++
	}
	r.logger.Info("aggregates ready", "tag", tag, "done", done, "total", len(steps))
	return nil
}

// ensureGammaParams fits the zero-inflated gamma climatology for every
// calendar slot that does not yet have its three parameter grids.
func (r *Runner) ensureGammaParams(ctx context.Context, tag string, slots []domain.Slot, history []time.Time) error {
	bySlot := make(map[domain.Slot][]time.Time, len(slots))
	for _, t := range history {
		s := domain.SlotOf(t)
		bySlot[s] = append(bySlot[s], t)
	}

	fitted := 0
	for _, slot := range slots {
		if err := ctx.Err(); err != nil {
			return err
		}
		exists, err := r.slotParamsExist(ctx, tag, slot)
		if err != nil {
			return err
		}
		if exists {
			fitted++
			continue
		}

		samples := make([]*domain.Grid, 0, len(bySlot[slot]))
		for _, t := range bySlot[slot] {
			g, err := r.store.Read(ctx, DatasetAggregate, tag, t)
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			r.metrics.GridsRead.Inc()
			samples = append(samples, g)
		}
		if len(samples) == 0 {
			r.logger.Warn("no historical aggregates for slot, no climatology", "tag", tag, "slot", slot.String())
			continue
		}

		shape, scale, p0, err := r.fitSlot(ctx, samples)
		if err != nil {
			return err
		}
		for dataset, g := range map[string]*domain.Grid{
			DatasetGammaShape: shape,
			DatasetGammaScale: scale,
			DatasetGammaP0:    p0,
		} {
			if err := r.store.WriteSlot(ctx, dataset, tag, slot, g); err != nil {
				return fmt.Errorf("write %s %s/%s: %w", dataset, tag, slot, err)
			}
			r.metrics.GridsWritten.Inc()
		}
		fitted++
	}
	r.logger.Info("climatology ready", "tag", tag, "slots", fitted, "total", len(slots))
	return nil
}

// fitSlot fits every pixel of one slot across its yearly samples, rows in
// parallel.
func (r *Runner) fitSlot(ctx context.Context, samples []*domain.Grid) (shape, scale, p0 *domain.Grid, err error) {
	w, h := samples[0].Width, samples[0].Height
	for _, g := range samples {
		if !g.SameShape(samples[0]) {
			return nil, nil, nil, fmt.Errorf("sample grids disagree on extent: %dx%d vs %dx%d", g.Width, g.Height, w, h)
		}
	}
	shape, scale, p0 = domain.NewGrid(w, h), domain.NewGrid(w, h), domain.NewGrid(w, h)

	err = parallelRows(ctx, h, r.cfg.Workers, func(y int) error {
		vals := make([]float64, len(samples))
		for x := 0; x < w; x++ {
			i := y*w + x
			for k, g := range samples {
				vals[k] = g.Cells[i]
			}
			fit := domain.FitGamma(vals, r.cfg.MinFitSamples)
			if !fit.Valid {
				r.metrics.FitFailures.Inc()
				continue
			}
			shape.Cells[i] = fit.Shape
			scale.Cells[i] = fit.Scale
			p0.Cells[i] = fit.P0
		}
		return nil
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return shape, scale, p0, nil
}

func (r *Runner) slotParamsExist(ctx context.Context, tag string, slot domain.Slot) (bool, error) {
	for _, dataset := range []string{DatasetGammaShape, DatasetGammaScale, DatasetGammaP0} {
		ok, err := r.store.SlotExists(ctx, dataset, tag, slot)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// scoreSPI standardizes every current timestep against its slot climatology
// and commits the index grid.
func (r *Runner) scoreSPI(ctx context.Context, tag string, steps []time.Time) error {
	paramsBySlot := make(map[domain.Slot]domain.GammaParams)

	for _, t := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		ok, err := r.store.Exists(ctx, DatasetIndexSPI, tag, t)
		if err != nil {
			return err
		}
		if ok {
			r.markSkipped()
			continue
		}
		start := time.Now()

		obs, err := r.store.Read(ctx, DatasetAggregate, tag, t)
		if errors.Is(err, domain.ErrNotFound) {
			r.metrics.MissingInputs.Inc()
			r.logger.Warn("no aggregate for timestep, no index", "tag", tag, "time", t.Format(time.DateOnly))
			continue
		}
		if err != nil {
			return err
		}
		r.metrics.GridsRead.Inc()

		slot := domain.SlotOf(t)
		params, ok := paramsBySlot[slot]
		if !ok {
			params, err = r.readSlotParams(ctx, tag, slot)
			if errors.Is(err, domain.ErrNotFound) {
				r.logger.Warn("no climatology for slot, no index", "tag", tag, "slot", slot.String())
				continue
			}
			if err != nil {
				return err
			}
			paramsBySlot[slot] = params
		}

		out := domain.NewGrid(obs.Width, obs.Height)
		err = parallelRows(ctx, obs.Height, r.cfg.Workers, func(y int) error {
			for x := 0; x < obs.Width; x++ {
				i := y*obs.Width + x
				out.Cells[i] = domain.SPIValue(obs.Cells[i], params.FitAt(i))
			}
			return nil
		})
		if err != nil {
			return err
		}
		if r.cfg.SmoothingSigma > 0 {
			out = domain.SmoothGaussian(out, r.cfg.SmoothingSigma)
		}

		if err := r.writeWithRetry(ctx, DatasetIndexSPI, tag, t, out); err != nil {
			return err
		}
		r.metrics.TimestepDuration.Observe(time.Since(start).Seconds())
		r.markCommitted(t)
		r.notify(ctx, DatasetIndexSPI, tag, t, out)
	}
	return nil
}

func (r *Runner) readSlotParams(ctx context.Context, tag string, slot domain.Slot) (domain.GammaParams, error) {
	var params domain.GammaParams
	for dataset, dst := range map[string]**domain.Grid{
		DatasetGammaShape: &params.Shape,
		DatasetGammaScale: &params.Scale,
		DatasetGammaP0:    &params.P0,
	} {
		g, err := r.store.ReadSlot(ctx, dataset, tag, slot)
		if err != nil {
			return domain.GammaParams{}, err
		}
		r.metrics.GridsRead.Inc()
		*dst = g
	}
	return params, nil
}
