package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ltrotter/dryes-revisited/internal/domain"
)

// IndexSPI and IndexLFI select which product a run computes.
const (
	IndexSPI = "spi"
	IndexLFI = "lfi"
)

// AggregationSpec names one rolling-sum case, e.g. 1-month or 3-month
// precipitation. The name becomes the parameter tag on every derived
// artifact.
type AggregationSpec struct {
	Name   string
	Window domain.Window
}

// ThresholdSpec names one quantile-threshold case for LFI, e.g. thr05 at
// the 5th percentile flow.
type ThresholdSpec struct {
	Name     string
	Quantile float64
}

// Config holds all run settings, populated from environment variables.
// It is read-only after Load: every component receives it explicitly,
// nothing consults the environment at run time.
type Config struct {
	RasterRoot    string
	CheckpointDir string
	HTTPAddr      string
	LogLevel      string
	LogFormat     string

	Index            string
	CurrentStart     time.Time
	CurrentEnd       time.Time
	HistoryStart     time.Time
	HistoryEnd       time.Time
	TimestepsPerYear int

	Aggregations []AggregationSpec
	Thresholds   []ThresholdSpec

	MinFitSamples      int
	ThresholdDayWindow int
	SmoothingSigma     float64

	PoolingSteps   int
	MinEventVolume float64
	DecayYears     float64

	Workers         int
	WriteRetries    int
	CheckpointEvery int

	// Kafka completion notifications (feature-flagged: disabled unless
	// KAFKA_BROKERS is set or KAFKA_ENABLED forces it).
	KafkaBrokers []string
	KafkaTopic   string
	KafkaEnabled bool
}

// History returns the climatology reference window.
func (c *Config) History() domain.TimeRange {
	return domain.TimeRange{Start: c.HistoryStart, End: c.HistoryEnd}
}

// Current returns the scored period.
func (c *Config) Current() domain.TimeRange {
	return domain.TimeRange{Start: c.CurrentStart, End: c.CurrentEnd}
}

// Load reads configuration from environment variables, applying defaults
// where unset, and fails fast on anything invalid or inconsistent.
func Load() (*Config, error) {
	cfg := &Config{
		RasterRoot:    envOrDefault("RASTER_ROOT", "./rasters"),
		CheckpointDir: envOrDefault("CHECKPOINT_DIR", "./checkpoints"),
		HTTPAddr:      envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:      envOrDefault("LOG_LEVEL", "info"),
		LogFormat:     envOrDefault("LOG_FORMAT", "json"),
		Index:         envOrDefault("INDEX", IndexSPI),
		KafkaTopic:    envOrDefault("KAFKA_TOPIC", "drought-index-updates"),
	}

	var err error
	if cfg.CurrentStart, err = parseDate("CURRENT_START"); err != nil {
		return nil, err
	}
	if cfg.CurrentEnd, err = parseDate("CURRENT_END"); err != nil {
		return nil, err
	}
	if cfg.HistoryStart, err = parseDate("HISTORY_START"); err != nil {
		return nil, err
	}
	if cfg.HistoryEnd, err = parseDate("HISTORY_END"); err != nil {
		return nil, err
	}

	if cfg.TimestepsPerYear, err = parseIntDefault("TIMESTEPS_PER_YEAR", 12); err != nil {
		return nil, err
	}
	if cfg.MinFitSamples, err = parseIntDefault("MIN_FIT_SAMPLES", 5); err != nil {
		return nil, err
	}
	if cfg.ThresholdDayWindow, err = parseIntDefault("THRESHOLD_DAY_WINDOW", 5); err != nil {
		return nil, err
	}
	if cfg.PoolingSteps, err = parseIntDefault("LFI_POOLING_STEPS", 2); err != nil {
		return nil, err
	}
	if cfg.Workers, err = parseIntDefault("WORKERS", 0); err != nil {
		return nil, err
	}
	if cfg.WriteRetries, err = parseIntDefault("WRITE_RETRIES", 3); err != nil {
		return nil, err
	}
	if cfg.CheckpointEvery, err = parseIntDefault("CHECKPOINT_EVERY", 30); err != nil {
		return nil, err
	}
	if cfg.MinEventVolume, err = parseFloatDefault("LFI_MIN_VOLUME", 0.5); err != nil {
		return nil, err
	}
	if cfg.DecayYears, err = parseFloatDefault("LFI_DECAY_YEARS", 1.0); err != nil {
		return nil, err
	}
	if cfg.SmoothingSigma, err = parseFloatDefault("SPI_SMOOTHING_SIGMA", 0); err != nil {
		return nil, err
	}

	if cfg.Aggregations, err = parseAggregations(envOrDefault("AGGREGATIONS", "1m=1:months")); err != nil {
		return nil, err
	}
	if cfg.Thresholds, err = parseThresholds(envOrDefault("THRESHOLDS", "thr05=0.05")); err != nil {
		return nil, err
	}

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.KafkaBrokers = splitAndTrim(v)
		cfg.KafkaEnabled = true
	}
	if v := os.Getenv("KAFKA_ENABLED"); v != "" {
		cfg.KafkaEnabled = v == "true"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate enforces the run contract before any processing starts.
func (c *Config) validate() error {
	if c.Index != IndexSPI && c.Index != IndexLFI {
		return fmt.Errorf("INDEX must be %q or %q, got %q", IndexSPI, IndexLFI, c.Index)
	}
	if !c.HistoryEnd.After(c.HistoryStart) {
		return fmt.Errorf("HISTORY_END (%s) must be after HISTORY_START (%s)",
			c.HistoryEnd.Format(time.DateOnly), c.HistoryStart.Format(time.DateOnly))
	}
	if c.CurrentEnd.Before(c.CurrentStart) {
		return fmt.Errorf("CURRENT_END (%s) must not be before CURRENT_START (%s)",
			c.CurrentEnd.Format(time.DateOnly), c.CurrentStart.Format(time.DateOnly))
	}
	if !domain.ValidTimestepsPerYear(c.TimestepsPerYear) {
		return fmt.Errorf("TIMESTEPS_PER_YEAR %d: must be one of 1, 2, 3, 4, 6, 12, 24, 36, 365", c.TimestepsPerYear)
	}
	if c.MinFitSamples < 2 {
		return errors.New("MIN_FIT_SAMPLES must be at least 2")
	}
	if c.ThresholdDayWindow < 0 {
		return errors.New("THRESHOLD_DAY_WINDOW must not be negative")
	}
	if c.PoolingSteps < 0 {
		return errors.New("LFI_POOLING_STEPS must not be negative")
	}
	if c.MinEventVolume < 0 {
		return errors.New("LFI_MIN_VOLUME must not be negative")
	}
	if c.SmoothingSigma < 0 {
		return errors.New("SPI_SMOOTHING_SIGMA must not be negative")
	}
	if c.WriteRetries < 0 {
		return errors.New("WRITE_RETRIES must not be negative")
	}
	if c.CheckpointEvery < 1 {
		return errors.New("CHECKPOINT_EVERY must be at least 1")
	}

	switch c.Index {
	case IndexSPI:
		if len(c.Aggregations) == 0 {
			return errors.New("AGGREGATIONS is required for an SPI run")
		}
		for _, agg := range c.Aggregations {
			if err := agg.Window.Validate(); err != nil {
				return fmt.Errorf("aggregation %q: %w", agg.Name, err)
			}
			// Dekad windows only line up with dekadal or daily scoring.
			if agg.Window.Unit == domain.WindowDekads && c.TimestepsPerYear != 36 && c.TimestepsPerYear != 365 {
				return fmt.Errorf("aggregation %q: dekad windows require TIMESTEPS_PER_YEAR 36 or 365, got %d",
					agg.Name, c.TimestepsPerYear)
			}
		}
	case IndexLFI:
		if len(c.Thresholds) == 0 {
			return errors.New("THRESHOLDS is required for an LFI run")
		}
		if c.TimestepsPerYear != 365 {
			return fmt.Errorf("LFI runs on the daily series: TIMESTEPS_PER_YEAR must be 365, got %d", c.TimestepsPerYear)
		}
		for _, thr := range c.Thresholds {
			if thr.Quantile <= 0 || thr.Quantile >= 1 {
				return fmt.Errorf("threshold %q: quantile %g must be strictly between 0 and 1", thr.Name, thr.Quantile)
			}
		}
	}

	if c.KafkaEnabled && len(c.KafkaBrokers) == 0 {
		return errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is not set")
	}
	return nil
}

// parseAggregations parses "1m=1:months,3m=3:months,10d=1:dekads".
func parseAggregations(s string) ([]AggregationSpec, error) {
	var specs []AggregationSpec
	for _, part := range splitAndTrim(s) {
		name, def, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("aggregation %q: want name=size:unit", part)
		}
		sizeStr, unit, ok := strings.Cut(def, ":")
		if !ok {
			return nil, fmt.Errorf("aggregation %q: want name=size:unit", part)
		}
		size, err := strconv.Atoi(sizeStr)
		if err != nil {
			return nil, fmt.Errorf("aggregation %q: bad size: %w", part, err)
		}
		specs = append(specs, AggregationSpec{
			Name:   name,
			Window: domain.Window{Size: size, Unit: domain.WindowUnit(unit)},
		})
	}
	return specs, nil
}

// parseThresholds parses "thr05=0.05,thr10=0.10".
func parseThresholds(s string) ([]ThresholdSpec, error) {
	var specs []ThresholdSpec
	for _, part := range splitAndTrim(s) {
		name, qStr, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("threshold %q: want name=quantile", part)
		}
		q, err := strconv.ParseFloat(qStr, 64)
		if err != nil {
			return nil, fmt.Errorf("threshold %q: bad quantile: %w", part, err)
		}
		specs = append(specs, ThresholdSpec{Name: name, Quantile: q})
	}
	return specs, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseDate(key string) (time.Time, error) {
	v := os.Getenv(key)
	if v == "" {
		return time.Time{}, fmt.Errorf("%s is required (YYYY-MM-DD)", key)
	}
	t, err := time.ParseInLocation(time.DateOnly, v, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s: %w", key, err)
	}
	return t, nil
}

func parseIntDefault(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func parseFloatDefault(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func splitAndTrim(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
