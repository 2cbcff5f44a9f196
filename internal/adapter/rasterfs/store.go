// Package rasterfs stores grids as gob-encoded files under a directory tree.
//
// Dated artifacts live at <root>/<dataset>/<tag>/<YYYY>/<YYYYMMDD>.grd,
// per-slot climatology at <root>/<dataset>/<tag>/<MMDD>.grd, and static
// per-pixel artifacts at <root>/<dataset>/<tag>.grd. An empty tag collapses
// its path segment, so untagged datasets sit directly under the dataset
// directory.
package rasterfs

import (
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ltrotter/dryes-revisited/internal/domain"
)

// Store reads and writes grids on the local filesystem. Writes go through a
// temp file and rename, so a crashed run never leaves a torn grid behind: a
// path either holds a complete artifact or does not exist.
type Store struct {
	root   string
	logger *slog.Logger
}

// New creates a Store rooted at dir.
func New(dir string, logger *slog.Logger) *Store {
	return &Store{root: dir, logger: logger}
}

// Read loads the grid for one dated artifact. Returns domain.ErrNotFound if
// it has never been written.
func (s *Store) Read(ctx context.Context, dataset, tag string, t time.Time) (*domain.Grid, error) {
	return s.load(ctx, s.datedPath(dataset, tag, t))
}

// Write commits the grid for one dated artifact.
func (s *Store) Write(ctx context.Context, dataset, tag string, t time.Time, g *domain.Grid) error {
	return s.save(ctx, s.datedPath(dataset, tag, t), g)
}

// Exists reports whether the dated artifact has been committed.
func (s *Store) Exists(ctx context.Context, dataset, tag string, t time.Time) (bool, error) {
	return s.exists(ctx, s.datedPath(dataset, tag, t))
}

// ReadSlot loads a per-slot climatology grid.
func (s *Store) ReadSlot(ctx context.Context, dataset, tag string, slot domain.Slot) (*domain.Grid, error) {
	return s.load(ctx, s.slotPath(dataset, tag, slot))
}

// WriteSlot commits a per-slot climatology grid.
func (s *Store) WriteSlot(ctx context.Context, dataset, tag string, slot domain.Slot, g *domain.Grid) error {
	return s.save(ctx, s.slotPath(dataset, tag, slot), g)
}

// SlotExists reports whether the per-slot artifact has been committed.
func (s *Store) SlotExists(ctx context.Context, dataset, tag string, slot domain.Slot) (bool, error) {
	return s.exists(ctx, s.slotPath(dataset, tag, slot))
}

// ReadStatic loads a time-invariant per-pixel grid.
func (s *Store) ReadStatic(ctx context.Context, dataset, tag string) (*domain.Grid, error) {
	return s.load(ctx, s.staticPath(dataset, tag))
}

// WriteStatic commits a time-invariant per-pixel grid.
func (s *Store) WriteStatic(ctx context.Context, dataset, tag string, g *domain.Grid) error {
	return s.save(ctx, s.staticPath(dataset, tag), g)
}

// StaticExists reports whether the static artifact has been committed.
func (s *Store) StaticExists(ctx context.Context, dataset, tag string) (bool, error) {
	return s.exists(ctx, s.staticPath(dataset, tag))
}

func (s *Store) datedPath(dataset, tag string, t time.Time) string {
	return filepath.Join(s.dir(dataset, tag), t.Format("2006"), t.Format("20060102")+".grd")
}

func (s *Store) slotPath(dataset, tag string, slot domain.Slot) string {
	return filepath.Join(s.dir(dataset, tag), slot.String()+".grd")
}

func (s *Store) staticPath(dataset, tag string) string {
	if tag == "" {
		return filepath.Join(s.root, dataset+".grd")
	}
	return filepath.Join(s.root, dataset, tag+".grd")
}

func (s *Store) dir(dataset, tag string) string {
	if tag == "" {
		return filepath.Join(s.root, dataset)
	}
	return filepath.Join(s.root, dataset, tag)
}

func (s *Store) load(ctx context.Context, path string) (*domain.Grid, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var g domain.Grid
	if err := gob.NewDecoder(f).Decode(&g); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if len(g.Cells) != g.Width*g.Height {
		return nil, fmt.Errorf("decode %s: cell count %d does not match %dx%d", path, len(g.Cells), g.Width, g.Height)
	}
	return &g, nil
}

func (s *Store) save(ctx context.Context, path string, g *domain.Grid) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*.grd")
	if err != nil {
		return fmt.Errorf("create temp in %s: %w", dir, err)
	}
	defer os.Remove(tmp.Name())

	if err := gob.NewEncoder(tmp).Encode(g); err != nil {
		tmp.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp for %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}

	s.logger.Debug("grid written", "path", path, "cells", g.Len())
	return nil
}

func (s *Store) exists(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat %s: %w", path, err)
}
