package geocode

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/singleflight"

	appLog "transitcal/internal/log"
	"transitcal/internal/model"
)

// Cached memoizes another Geocoder by normalized address. Results are
// permanent for the lifetime of the process: successes and ErrNotFound are
// stored, transport errors are not. Concurrent lookups of the same address
// share one upstream call.
type Cached struct {
	next Geocoder

	mu      sync.RWMutex
	entries map[string]cacheEntry

	group singleflight.Group
}

type cacheEntry struct {
	coords model.Coordinates
	found  bool
}

func NewCached(next Geocoder) *Cached {
	return &Cached{
		next:    next,
		entries: make(map[string]cacheEntry),
	}
}

func (c *Cached) Geocode(ctx context.Context, address string) (model.Coordinates, error) {
	key := cacheKey(address)
	if key == "" {
		return model.Coordinates{}, ErrNotFound
	}

	if e, ok := c.lookup(key); ok {
		appLog.Debug("geocode cache hit", "address", key)
		return e.result()
	}

	// Waiters share this lookup; it must outlive any single caller's ctx.
	upstream := context.WithoutCancel(ctx)
	v, err, _ := c.group.Do(key, func() (any, error) {
		// Another caller may have filled the entry while we queued.
		if e, ok := c.lookup(key); ok {
			return e, nil
		}
		coords, err := c.next.Geocode(upstream, NormalizeAddress(address))
		switch {
		case err == nil:
			return c.store(key, cacheEntry{coords: coords, found: true}), nil
		case errors.Is(err, ErrNotFound):
			return c.store(key, cacheEntry{}), nil
		default:
			return nil, err
		}
	})
	if err != nil {
		return model.Coordinates{}, err
	}
	return v.(cacheEntry).result()
}

// Len reports the number of cached addresses.
func (c *Cached) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cached) lookup(key string) (cacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	return e, ok
}

// store inserts e unless key is already present, returning the winner.
func (c *Cached) store(key string, e cacheEntry) cacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[key]; ok {
		return existing
	}
	c.entries[key] = e
	return e
}

func (e cacheEntry) result() (model.Coordinates, error) {
	if !e.found {
		return model.Coordinates{}, ErrNotFound
	}
	return e.coords, nil
}
