package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ltrotter/dryes-revisited/internal/domain"
	"github.com/ltrotter/dryes-revisited/internal/observability"
)

// cachedDailyReader wraps raw daily reads with an in-memory LRU cache. The
// threshold fitter revisits each daily grid once per calendar slot inside its
// day window, so a small cache turns O(slots x window) disk reads into one
// read per day.
type cachedDailyReader struct {
	store   GridStore
	dataset string
	cache   *gridCache
	metrics *observability.Metrics // optional; counts actual store reads
}

func newCachedDailyReader(store GridStore, dataset string, maxEntries int) *cachedDailyReader {
	return &cachedDailyReader{
		store:   store,
		dataset: dataset,
		cache:   newGridCache(maxEntries),
	}
}

// ReadDaily returns the raw grid for t, from cache when possible. NotFound is
// cached too: an absent raster stays absent for the duration of a fit pass.
func (r *cachedDailyReader) ReadDaily(ctx context.Context, t time.Time) (*domain.Grid, error) {
	key := t.Format("20060102")
	if g, found, ok := r.cache.get(key); ok {
		if !found {
			return nil, domain.ErrNotFound
		}
		return g, nil
	}
	g, err := r.store.Read(ctx, r.dataset, "", t)
	if errors.Is(err, domain.ErrNotFound) {
		r.cache.put(key, nil, false)
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if r.metrics != nil {
		r.metrics.GridsRead.Inc()
	}
	r.cache.put(key, g, true)
	return g, nil
}

// gridCache is a simple thread-safe LRU cache of read-only grids. A nil grid
// with found=false records a confirmed miss in the store.
type gridCache struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*cacheEntry
	head       *cacheEntry // most recently used
	tail       *cacheEntry // least recently used
}

type cacheEntry struct {
	key   string
	grid  *domain.Grid
	found bool
	prev  *cacheEntry
	next  *cacheEntry
}

func newGridCache(maxEntries int) *gridCache {
	return &gridCache{
		maxEntries: maxEntries,
		entries:    make(map[string]*cacheEntry),
	}
}

func (c *gridCache) get(key string) (*domain.Grid, bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false, false
	}
	c.moveToFront(e)
	return e.grid, e.found, true
}

func (c *gridCache) put(key string, g *domain.Grid, found bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.grid, e.found = g, found
		c.moveToFront(e)
		return
	}

	e := &cacheEntry{key: key, grid: g, found: found}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *gridCache) moveToFront(e *cacheEntry) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *gridCache) addToFront(e *cacheEntry) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *gridCache) remove(e *cacheEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *gridCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}
