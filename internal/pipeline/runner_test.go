package pipeline

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ltrotter/dryes-revisited/internal/config"
	"github.com/ltrotter/dryes-revisited/internal/domain"
	"github.com/ltrotter/dryes-revisited/internal/observability"
)

func TestRunner_SPIEndToEnd(t *testing.T) {
	cfg := spiTestConfig(t)
	store := newMemStore()
	notifier := &mockNotifier{}
	// Raw data must reach back one window before the history start.
	seedDailyPrecip(t, store, day(1999, time.December, 1), cfg.CurrentEnd)

	r := New(cfg, store, notifier, testLogger(), observability.NewMetricsForTesting())
	require.Error(t, r.CheckReadiness(context.Background()), "not ready before the run")

	require.NoError(t, r.Run(context.Background()))

	steps, err := domain.Timesteps(cfg.CurrentStart, cfg.CurrentEnd, cfg.TimestepsPerYear)
	require.NoError(t, err)
	require.Len(t, steps, 6)

	for _, ts := range steps {
		g, err := store.Read(context.Background(), DatasetIndexSPI, "1m", ts)
		require.NoError(t, err, "index grid for %s", ts.Format(time.DateOnly))

		// Three live pixels, one permanent no-data pixel.
		assert.Equal(t, 3, g.ValidCount(), "valid cells at %s", ts.Format(time.DateOnly))
		assert.True(t, math.IsNaN(g.At(1, 1)), "no-data pixel stays no-data")
		for _, v := range []float64{g.At(0, 0), g.At(1, 0), g.At(0, 1)} {
			assert.False(t, math.IsInf(v, 0), "index values stay finite")
			assert.Less(t, math.Abs(v), 5.0, "standardized values sit inside the clamp")
		}
	}

	assert.NoError(t, r.CheckReadiness(context.Background()))
	assert.Equal(t, 6, notifier.count(), "one notification per committed timestep")

	p := r.Progress()
	assert.Equal(t, config.IndexSPI, p.Index)
	assert.Equal(t, 6, p.Committed)
	assert.Equal(t, 6, p.Total)
	require.NotNil(t, p.LastCommitted)
	assert.True(t, p.LastCommitted.Equal(steps[5]))
}

func TestRunner_SPIMedianObservationScoresNearZero(t *testing.T) {
	cfg := spiTestConfig(t)
	store := newMemStore()
	seedDailyPrecip(t, store, day(1999, time.December, 1), cfg.CurrentEnd)

	r := New(cfg, store, nil, testLogger(), observability.NewMetricsForTesting())
	require.NoError(t, r.Run(context.Background()))

	// The 2004 observations sit inside the historical spread, so the
	// standardized values are moderate anomalies, not tail events.
	g, err := store.Read(context.Background(), DatasetIndexSPI, "1m", day(2004, time.March, 1))
	require.NoError(t, err)
	assert.Less(t, math.Abs(g.At(0, 0)), 3.0)
}

func TestRunner_SPIRerunIsIdempotent(t *testing.T) {
	cfg := spiTestConfig(t)
	store := newMemStore()
	seedDailyPrecip(t, store, day(1999, time.December, 1), cfg.CurrentEnd)

	r1 := New(cfg, store, nil, testLogger(), observability.NewMetricsForTesting())
	require.NoError(t, r1.Run(context.Background()))

	firstRunWrites := store.writeCount()
	snapshot := make(map[string]*domain.Grid, len(store.grids))
	for k, g := range store.grids {
		snapshot[k] = g.Clone()
	}

	r2 := New(cfg, store, nil, testLogger(), observability.NewMetricsForTesting())
	require.NoError(t, r2.Run(context.Background()))

	assert.Equal(t, firstRunWrites, store.writeCount(), "rerun writes nothing new")
	for k, want := range snapshot {
		if diff := cmp.Diff(want, store.grids[k]); diff != "" {
			t.Errorf("grid %s changed on rerun (-first +second):\n%s", k, diff)
		}
	}

	// The rerun still reports full progress and readiness.
	assert.NoError(t, r2.CheckReadiness(context.Background()))
	assert.Equal(t, 6, r2.Progress().Committed)
}

func TestRunner_SPIResumesPartialRun(t *testing.T) {
	cfg := spiTestConfig(t)
	store := newMemStore()
	seedDailyPrecip(t, store, day(1999, time.December, 1), cfg.CurrentEnd)

	// First run covers January through March only.
	short := *cfg
	short.CurrentEnd = day(2004, time.March, 31)
	r1 := New(&short, store, nil, testLogger(), observability.NewMetricsForTesting())
	require.NoError(t, r1.Run(context.Background()))

	notifier := &mockNotifier{}
	r2 := New(cfg, store, notifier, testLogger(), observability.NewMetricsForTesting())
	require.NoError(t, r2.Run(context.Background()))

	// Only the three missing months are computed and announced.
	assert.Equal(t, 3, notifier.count())
	for _, ts := range []time.Time{day(2004, time.April, 1), day(2004, time.May, 1), day(2004, time.June, 1)} {
		ok, err := store.Exists(context.Background(), DatasetIndexSPI, "1m", ts)
		require.NoError(t, err)
		assert.True(t, ok, "index for %s", ts.Format(time.DateOnly))
	}
	assert.Equal(t, 6, r2.Progress().Committed, "skipped timesteps still count toward progress")
}

func TestRunner_SPIMissingWindowYieldsNoIndex(t *testing.T) {
	cfg := spiTestConfig(t)
	store := newMemStore()
	seedDailyPrecip(t, store, day(1999, time.December, 1), cfg.CurrentEnd)

	// Remove one day inside June's window: the June aggregate, and hence its
	// index, must not appear. Earlier months are unaffected.
	store.mu.Lock()
	delete(store.grids, datedKey(DatasetRaw, "", day(2004, time.May, 15)))
	store.mu.Unlock()

	r := New(cfg, store, nil, testLogger(), observability.NewMetricsForTesting())
	require.NoError(t, r.Run(context.Background()))

	ok, err := store.Exists(context.Background(), DatasetIndexSPI, "1m", day(2004, time.June, 1))
	require.NoError(t, err)
	assert.False(t, ok, "no index for a timestep with an incomplete window")

	ok, err = store.Exists(context.Background(), DatasetIndexSPI, "1m", day(2004, time.May, 1))
	require.NoError(t, err)
	assert.True(t, ok, "other timesteps still computed")
}

func TestRunner_CancelledContextStopsRun(t *testing.T) {
	cfg := spiTestConfig(t)
	store := newMemStore()
	seedDailyPrecip(t, store, day(1999, time.December, 1), cfg.CurrentEnd)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := New(cfg, store, nil, testLogger(), observability.NewMetricsForTesting())
	err := r.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
