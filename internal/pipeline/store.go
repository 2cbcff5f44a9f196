package pipeline

import (
	"context"
	"time"

	"github.com/ltrotter/dryes-revisited/internal/domain"
)

// Dataset names under the raster store root. Dated artifacts carry a full
// date, climatology artifacts a calendar slot, and per-pixel constants
// neither.
const (
	// DatasetRaw holds the daily input grids: precipitation for SPI runs,
	// discharge for LFI runs.
	DatasetRaw = "data"

	// SPI chain.
	DatasetAggregate  = "agg"
	DatasetGammaShape = "gamma-shape"
	DatasetGammaScale = "gamma-scale"
	DatasetGammaP0    = "gamma-p0"
	DatasetIndexSPI   = "spi"

	// LFI chain.
	DatasetThreshold = "threshold"
	DatasetLambda    = "lambda"
	DatasetIndexLFI  = "lfi"
	DatasetDeficit   = "deficit"
	DatasetDuration  = "duration"
	DatasetInterval  = "interval"
)

// GridStore is the persistence boundary of the engine. Implementations must
// make writes atomic: a reader sees either a complete grid or NotFound,
// never a partial one.
type GridStore interface {
	Read(ctx context.Context, dataset, tag string, t time.Time) (*domain.Grid, error)
	Write(ctx context.Context, dataset, tag string, t time.Time, g *domain.Grid) error
	Exists(ctx context.Context, dataset, tag string, t time.Time) (bool, error)

	ReadSlot(ctx context.Context, dataset, tag string, slot domain.Slot) (*domain.Grid, error)
	WriteSlot(ctx context.Context, dataset, tag string, slot domain.Slot, g *domain.Grid) error
	SlotExists(ctx context.Context, dataset, tag string, slot domain.Slot) (bool, error)

	ReadStatic(ctx context.Context, dataset, tag string) (*domain.Grid, error)
	WriteStatic(ctx context.Context, dataset, tag string, g *domain.Grid) error
	StaticExists(ctx context.Context, dataset, tag string) (bool, error)
}

// Notifier announces committed index grids to downstream consumers.
type Notifier interface {
	NotifyIndex(ctx context.Context, note domain.IndexNotification) error
}
