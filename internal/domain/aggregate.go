package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DailyReader provides the raw daily grids an aggregation consumes.
type DailyReader interface {
	ReadDaily(ctx context.Context, t time.Time) (*Grid, error)
}

// MissingInputError reports a raster absent for a date the computation needs.
// It is recoverable: the affected output is no-data, the run continues.
type MissingInputError struct {
	Dataset string
	Time    time.Time
}

func (e *MissingInputError) Error() string {
	return fmt.Sprintf("missing input %s for %s", e.Dataset, e.Time.Format(time.DateOnly))
}

// AggregateSum computes the rolling sum of the window ending at timestep t,
// reading one raw grid per day. A day with no raster at all aborts the
// aggregate with a MissingInputError; a present grid with no-data pixels
// propagates no-data into those pixels of the sum. Missing inputs are never
// treated as zero.
func AggregateSum(ctx context.Context, src DailyReader, w Window, t time.Time) (*Grid, error) {
	rng, err := w.Range(t)
	if err != nil {
		return nil, err
	}

	var sum *Grid
	for day := rng.Start; !day.After(rng.End); day = day.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		g, err := src.ReadDaily(ctx, day)
		if errors.Is(err, ErrNotFound) {
			return nil, &MissingInputError{Time: day}
		}
		if err != nil {
			return nil, fmt.Errorf("read daily grid for %s: %w", day.Format(time.DateOnly), err)
		}
		if sum == nil {
			sum = NewGridFilled(g.Width, g.Height, 0)
		} else if !sum.SameShape(g) {
			return nil, fmt.Errorf("grid for %s is %dx%d, window started as %dx%d",
				day.Format(time.DateOnly), g.Width, g.Height, sum.Width, sum.Height)
		}
		for i, v := range g.Cells {
			sum.Cells[i] += v // NaN + x = NaN: no-data propagates
		}
	}
	if sum == nil {
		return nil, fmt.Errorf("window %d %s ending at %s covers no days", w.Size, w.Unit, t.Format(time.DateOnly))
	}
	return sum, nil
}
