package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ltrotter/dryes-revisited/internal/domain"
)

// setRequiredDates fills the four date variables every run needs.
func setRequiredDates(t *testing.T) {
	t.Helper()
	t.Setenv("CURRENT_START", "2024-01-01")
	t.Setenv("CURRENT_END", "2024-12-31")
	t.Setenv("HISTORY_START", "1991-01-01")
	t.Setenv("HISTORY_END", "2020-12-31")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredDates(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "./rasters", cfg.RasterRoot)
	assert.Equal(t, "./checkpoints", cfg.CheckpointDir)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, IndexSPI, cfg.Index)
	assert.Equal(t, 12, cfg.TimestepsPerYear)
	assert.Equal(t, 5, cfg.MinFitSamples)
	assert.Equal(t, 5, cfg.ThresholdDayWindow)
	assert.Equal(t, 2, cfg.PoolingSteps)
	assert.Equal(t, 0.5, cfg.MinEventVolume)
	assert.Equal(t, 1.0, cfg.DecayYears)
	assert.Equal(t, 0.0, cfg.SmoothingSigma)
	assert.Equal(t, 3, cfg.WriteRetries)
	assert.Equal(t, 30, cfg.CheckpointEvery)
	assert.False(t, cfg.KafkaEnabled)
	assert.Empty(t, cfg.KafkaBrokers)

	require.Len(t, cfg.Aggregations, 1)
	assert.Equal(t, "1m", cfg.Aggregations[0].Name)
	assert.Equal(t, domain.Window{Size: 1, Unit: domain.WindowMonths}, cfg.Aggregations[0].Window)
}

func TestLoad_CustomEnv(t *testing.T) {
	setRequiredDates(t)
	t.Setenv("INDEX", "lfi")
	t.Setenv("TIMESTEPS_PER_YEAR", "365")
	t.Setenv("THRESHOLDS", "thr05=0.05,thr10=0.10")
	t.Setenv("LFI_POOLING_STEPS", "1")
	t.Setenv("LFI_MIN_VOLUME", "2.5")
	t.Setenv("LFI_DECAY_YEARS", "0.5")
	t.Setenv("WORKERS", "4")
	t.Setenv("KAFKA_BROKERS", "broker1:9092,broker2:9092")
	t.Setenv("KAFKA_TOPIC", "custom-updates")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, IndexLFI, cfg.Index)
	assert.Equal(t, 365, cfg.TimestepsPerYear)
	assert.Equal(t, 1, cfg.PoolingSteps)
	assert.Equal(t, 2.5, cfg.MinEventVolume)
	assert.Equal(t, 0.5, cfg.DecayYears)
	assert.Equal(t, 4, cfg.Workers)
	assert.True(t, cfg.KafkaEnabled)
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "custom-updates", cfg.KafkaTopic)

	require.Len(t, cfg.Thresholds, 2)
	assert.Equal(t, ThresholdSpec{Name: "thr05", Quantile: 0.05}, cfg.Thresholds[0])
	assert.Equal(t, ThresholdSpec{Name: "thr10", Quantile: 0.10}, cfg.Thresholds[1])
}

func TestLoad_TimeRanges(t *testing.T) {
	setRequiredDates(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, time.Date(1991, 1, 1, 0, 0, 0, 0, time.UTC), cfg.History().Start)
	assert.Equal(t, time.Date(2020, 12, 31, 0, 0, 0, 0, time.UTC), cfg.History().End)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), cfg.Current().Start)
}

func TestLoad_MissingDates(t *testing.T) {
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CURRENT_START")
}

func TestLoad_InvalidDate(t *testing.T) {
	setRequiredDates(t)
	t.Setenv("HISTORY_END", "31/12/2020")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HISTORY_END")
}

func TestLoad_HistoryEndBeforeStart(t *testing.T) {
	setRequiredDates(t)
	t.Setenv("HISTORY_START", "2020-12-31")
	t.Setenv("HISTORY_END", "1991-01-01")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HISTORY_END")
}

func TestLoad_InvalidIndex(t *testing.T) {
	setRequiredDates(t)
	t.Setenv("INDEX", "pdsi")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INDEX")
}

func TestLoad_InvalidTimestepsPerYear(t *testing.T) {
	setRequiredDates(t)
	t.Setenv("TIMESTEPS_PER_YEAR", "52")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TIMESTEPS_PER_YEAR")
}

func TestLoad_MalformedAggregation(t *testing.T) {
	setRequiredDates(t)
	t.Setenv("AGGREGATIONS", "1m=months")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "aggregation")
}

func TestLoad_DekadWindowRequiresDekadalCalendar(t *testing.T) {
	setRequiredDates(t)
	t.Setenv("AGGREGATIONS", "10d=1:dekads")
	t.Setenv("TIMESTEPS_PER_YEAR", "12")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dekad")
}

func TestLoad_LFIRequiresDailyCalendar(t *testing.T) {
	setRequiredDates(t)
	t.Setenv("INDEX", "lfi")
	t.Setenv("TIMESTEPS_PER_YEAR", "12")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TIMESTEPS_PER_YEAR")
}

func TestLoad_ThresholdQuantileOutOfRange(t *testing.T) {
	setRequiredDates(t)
	t.Setenv("INDEX", "lfi")
	t.Setenv("TIMESTEPS_PER_YEAR", "365")
	t.Setenv("THRESHOLDS", "thr=1.5")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quantile")
}

func TestLoad_KafkaEnabledWithoutBrokers(t *testing.T) {
	setRequiredDates(t)
	t.Setenv("KAFKA_ENABLED", "true")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KAFKA_BROKERS")
}

func TestLoad_KafkaExplicitlyDisabled(t *testing.T) {
	setRequiredDates(t)
	t.Setenv("KAFKA_BROKERS", "broker1:9092")
	t.Setenv("KAFKA_ENABLED", "false")
	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.KafkaEnabled)
}
