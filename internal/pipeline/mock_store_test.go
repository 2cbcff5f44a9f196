package pipeline

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/ltrotter/dryes-revisited/internal/config"
	"github.com/ltrotter/dryes-revisited/internal/domain"
)

// memStore is an in-memory GridStore for tests. It stores deep copies so a
// later mutation of a written grid cannot leak into the store.
type memStore struct {
	mu     sync.Mutex
	grids  map[string]*domain.Grid
	writes int
}

func newMemStore() *memStore {
	return &memStore{grids: make(map[string]*domain.Grid)}
}

func datedKey(dataset, tag string, t time.Time) string {
	return dataset + "|" + tag + "|" + t.Format("20060102")
}

func slotKey(dataset, tag string, slot domain.Slot) string {
	return dataset + "|" + tag + "|slot:" + slot.String()
}

func staticKey(dataset, tag string) string {
	return dataset + "|" + tag + "|static"
}

func (m *memStore) get(key string) (*domain.Grid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.grids[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return g.Clone(), nil
}

func (m *memStore) put(key string, g *domain.Grid) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grids[key] = g.Clone()
	m.writes++
}

func (m *memStore) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.grids[key]
	return ok
}

func (m *memStore) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *memStore) Read(_ context.Context, dataset, tag string, t time.Time) (*domain.Grid, error) {
	return m.get(datedKey(dataset, tag, t))
}

func (m *memStore) Write(_ context.Context, dataset, tag string, t time.Time, g *domain.Grid) error {
	m.put(datedKey(dataset, tag, t), g)
	return nil
}

func (m *memStore) Exists(_ context.Context, dataset, tag string, t time.Time) (bool, error) {
	return m.has(datedKey(dataset, tag, t)), nil
}

func (m *memStore) ReadSlot(_ context.Context, dataset, tag string, slot domain.Slot) (*domain.Grid, error) {
	return m.get(slotKey(dataset, tag, slot))
}

func (m *memStore) WriteSlot(_ context.Context, dataset, tag string, slot domain.Slot, g *domain.Grid) error {
	m.put(slotKey(dataset, tag, slot), g)
	return nil
}

func (m *memStore) SlotExists(_ context.Context, dataset, tag string, slot domain.Slot) (bool, error) {
	return m.has(slotKey(dataset, tag, slot)), nil
}

func (m *memStore) ReadStatic(_ context.Context, dataset, tag string) (*domain.Grid, error) {
	return m.get(staticKey(dataset, tag))
}

func (m *memStore) WriteStatic(_ context.Context, dataset, tag string, g *domain.Grid) error {
	m.put(staticKey(dataset, tag), g)
	return nil
}

func (m *memStore) StaticExists(_ context.Context, dataset, tag string) (bool, error) {
	return m.has(staticKey(dataset, tag)), nil
}

// mockNotifier records every published notification.
type mockNotifier struct {
	mu    sync.Mutex
	notes []domain.IndexNotification
}

func (n *mockNotifier) NotifyIndex(_ context.Context, note domain.IndexNotification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note)
	return nil
}

func (n *mockNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notes)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// spiTestConfig is a 12-timesteps-per-year run with a 1-month window and a
// short synthetic history.
func spiTestConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		CheckpointDir:    t.TempDir(),
		Index:            config.IndexSPI,
		CurrentStart:     day(2004, time.January, 1),
		CurrentEnd:       day(2004, time.June, 30),
		HistoryStart:     day(2000, time.January, 1),
		HistoryEnd:       day(2003, time.December, 31),
		TimestepsPerYear: 12,
		Aggregations: []config.AggregationSpec{
			{Name: "1m", Window: domain.Window{Size: 1, Unit: domain.WindowMonths}},
		},
		MinFitSamples:   3,
		Workers:         2,
		WriteRetries:    1,
		CheckpointEvery: 30,
	}
}

// seedDailyPrecip writes one synthetic precipitation grid per day over
// [from, to]. Values vary by month and year so every slot has a
// non-degenerate positive sample set; cell 3 (bottom-right of the 2x2 grid)
// is permanently no-data.
func seedDailyPrecip(t *testing.T, store *memStore, from, to time.Time) {
	t.Helper()
	ctx := context.Background()
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		g := domain.NewGrid(2, 2)
		base := 1.0 + 0.2*float64(d.Month()) + 0.11*float64(d.Year()%7)
		g.Set(0, 0, base)
		g.Set(1, 0, base*1.5)
		g.Set(0, 1, base*0.4)
		if err := store.Write(ctx, DatasetRaw, "", d, g); err != nil {
			t.Fatalf("seed %s: %v", d.Format(time.DateOnly), err)
		}
	}
}
