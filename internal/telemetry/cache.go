package telemetry

import (
	"context"
	"sync"
	"time"

	"controlling_reservoir/internal/models"
)

// Cache keeps the latest reading per reservoir for a short TTL.
type Cache interface {
	Get(ctx context.Context, reservoirID string) (models.Reading, bool, error)
	Set(ctx context.Context, reservoirID string, r models.Reading, ttl time.Duration) error
	Delete(ctx context.Context, reservoirID string) error
}

type memItem struct {
	reading models.Reading
	expires time.Time
}

// MemoryCache is the in-process Cache.
type MemoryCache struct {
	mu    sync.Mutex
	items map[string]memItem
	now   func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: make(map[string]memItem), now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, reservoirID string) (models.Reading, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[reservoirID]
	if !ok {
		return models.Reading{}, false, nil
	}
	if !c.now().Before(it.expires) {
		delete(c.items, reservoirID)
		return models.Reading{}, false, nil
	}
	return it.reading, true, nil
}

func (c *MemoryCache) Set(_ context.Context, reservoirID string, r models.Reading, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[reservoirID] = memItem{reading: r, expires: c.now().Add(ttl)}
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, reservoirID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, reservoirID)
	return nil
}
