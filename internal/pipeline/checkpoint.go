package pipeline

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ltrotter/dryes-revisited/internal/domain"
)

// checkpoint captures the full drought state of one threshold tag so a run
// can resume without replaying the series from the start. States are keyed by
// cell index in row-major order; Width and Height pin the extent so a resume
// against differently shaped inputs fails loudly instead of scoring garbage.
type checkpoint struct {
	Tag      string
	Width    int
	Height   int
	LastTime time.Time
	SavedAt  time.Time
	States   []domain.PixelState
}

func (r *Runner) checkpointPath(tag string) string {
	return filepath.Join(r.cfg.CheckpointDir, r.cfg.Index+"-"+tag+".ckpt")
}

// saveCheckpoint writes the state atomically via temp file and rename, the
// same commit discipline as the raster store.
func (r *Runner) saveCheckpoint(tag string, width, height int, lastTime time.Time, states []domain.PixelState) error {
	path := r.checkpointPath(tag)
	if err := os.MkdirAll(r.cfg.CheckpointDir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", r.cfg.CheckpointDir, err)
	}

	tmp, err := os.CreateTemp(r.cfg.CheckpointDir, ".tmp-*.ckpt")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	defer os.Remove(tmp.Name())

	ck := checkpoint{
		Tag:      tag,
		Width:    width,
		Height:   height,
		LastTime: lastTime,
		SavedAt:  domain.Now(),
		States:   states,
	}
	if err := gob.NewEncoder(tmp).Encode(&ck); err != nil {
		tmp.Close()
		return fmt.Errorf("encode checkpoint %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename checkpoint %s: %w", path, err)
	}

	r.logger.Debug("checkpoint saved", "tag", tag, "last_time", lastTime.Format(time.DateOnly))
	return nil
}

// loadCheckpoint returns the saved state for tag, or nil when no checkpoint
// exists.
func (r *Runner) loadCheckpoint(tag string) (*checkpoint, error) {
	path := r.checkpointPath(tag)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open checkpoint %s: %w", path, err)
	}
	defer f.Close()

	var ck checkpoint
	if err := gob.NewDecoder(f).Decode(&ck); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", path, err)
	}
	if len(ck.States) != ck.Width*ck.Height {
		return nil, fmt.Errorf("checkpoint %s: state count %d does not match %dx%d", path, len(ck.States), ck.Width, ck.Height)
	}
	return &ck, nil
}
