package store

import (
	"context"
	"slices"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/23skdu/attnscope/internal/attention"
	"github.com/23skdu/attnscope/internal/logger"
	"github.com/23skdu/attnscope/internal/metrics"
)

// ModelLoader is satisfied by *Loader.
type ModelLoader interface {
	Load(ctx context.Context, model string) (*attention.Store, *attention.OutputStore, bool, error)
}

type entry struct {
	store   *attention.Store
	outputs *attention.OutputStore
}

// Cache keeps every successfully loaded model for the life of the process.
// Misses are not cached, so an artifact that appears later is picked up on
// the next request.
type Cache struct {
	loader ModelLoader

	mu      sync.RWMutex
	entries map[string]entry
	group   singleflight.Group
}

func NewCache(loader ModelLoader) *Cache {
	return &Cache{loader: loader, entries: make(map[string]entry)}
}

type loadResult struct {
	entry entry
	found bool
}

func (c *Cache) Load(ctx context.Context, model string) (*attention.Store, *attention.OutputStore, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[model]
	c.mu.RUnlock()
	if ok {
		metrics.RecordCache(true)
		logger.Log.Debug("Cache hit", "model", model)
		return e.store, e.outputs, true, nil
	}
	metrics.RecordCache(false)

	v, err, _ := c.group.Do(model, func() (any, error) {
		// One caller cancelling must not fail the others sharing this load.
		s, o, found, err := c.loader.Load(context.WithoutCancel(ctx), model)
		if err != nil {
			return nil, err
		}
		res := loadResult{entry: entry{store: s, outputs: o}, found: found}
		if found {
			c.mu.Lock()
			c.entries[model] = res.entry
			n := len(c.entries)
			c.mu.Unlock()
			metrics.RecordCacheSize(n)
		}
		return res, nil
	})
	if err != nil {
		return attention.NewStore(), attention.NewOutputStore(), false, err
	}
	res := v.(loadResult)
	return res.entry.store, res.entry.outputs, res.found, nil
}

// Models lists the cached model ids, sorted.
func (c *Cache) Models() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.entries))
	for m := range c.entries {
		out = append(out, m)
	}
	slices.Sort(out)
	return out
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
