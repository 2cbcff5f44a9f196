package pipeline

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ltrotter/dryes-revisited/internal/config"
	"github.com/ltrotter/dryes-revisited/internal/domain"
	"github.com/ltrotter/dryes-revisited/internal/observability"
)

func checkpointTestRunner(t *testing.T) *Runner {
	t.Helper()
	cfg := &config.Config{Index: config.IndexLFI, CheckpointDir: t.TempDir()}
	return New(cfg, newMemStore(), nil, testLogger(), observability.NewMetricsForTesting())
}

func TestCheckpoint_RoundTrip(t *testing.T) {
	frozen := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	domain.SetClock(clockwork.NewFakeClockAt(frozen))
	t.Cleanup(func() { domain.SetClock(nil) })

	r := checkpointTestRunner(t)
	states := []domain.PixelState{
		{Phase: domain.PhaseInDeficit, Volume: 4.5, Duration: 3, Interval: 7, SinceLast: 7, Accum: 1.25},
		{Phase: domain.PhaseSurplus, SinceLast: 12},
	}
	last := day(2024, time.May, 31)

	require.NoError(t, r.saveCheckpoint("thr05", 2, 1, last, states))

	ck, err := r.loadCheckpoint("thr05")
	require.NoError(t, err)
	require.NotNil(t, ck)
	assert.Equal(t, "thr05", ck.Tag)
	assert.Equal(t, 2, ck.Width)
	assert.Equal(t, 1, ck.Height)
	assert.True(t, ck.LastTime.Equal(last))
	assert.True(t, ck.SavedAt.Equal(frozen), "checkpoint timestamp comes from the injected clock")
	assert.Equal(t, states, ck.States)
}

func TestCheckpoint_MissingIsNil(t *testing.T) {
	r := checkpointTestRunner(t)
	ck, err := r.loadCheckpoint("thr05")
	require.NoError(t, err)
	assert.Nil(t, ck)
}

func TestCheckpoint_OverwriteKeepsLatest(t *testing.T) {
	r := checkpointTestRunner(t)
	states := make([]domain.PixelState, 4)

	require.NoError(t, r.saveCheckpoint("thr05", 2, 2, day(2024, time.March, 1), states))
	require.NoError(t, r.saveCheckpoint("thr05", 2, 2, day(2024, time.March, 2), states))

	ck, err := r.loadCheckpoint("thr05")
	require.NoError(t, err)
	assert.True(t, ck.LastTime.Equal(day(2024, time.March, 2)))
}
