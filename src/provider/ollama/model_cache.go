package ollama

import (
	"context"
	"sync"
	"time"
)

// ModelCache caches the installed model list for a TTL.
type ModelCache struct {
	mu        sync.RWMutex
	models    []ModelInfo
	fetchedAt time.Time
	ttl       time.Duration
	fetch     func(ctx context.Context) ([]ModelInfo, error)
	now       func() time.Time
}

// NewModelCache creates a new model cache
func NewModelCache(fetch func(ctx context.Context) ([]ModelInfo, error), ttl time.Duration) *ModelCache {
	return &ModelCache{
		ttl:   ttl,
		fetch: fetch,
		now:   time.Now,
	}
}

// Models returns the cached list or fetches it. Failures are not cached.
func (mc *ModelCache) Models(ctx context.Context) ([]ModelInfo, error) {
	mc.mu.RLock()
	if !mc.fetchedAt.IsZero() && mc.now().Sub(mc.fetchedAt) < mc.ttl {
		models := mc.models
		mc.mu.RUnlock()
		return models, nil
	}
	mc.mu.RUnlock()

	models, err := mc.fetch(ctx)
	if err != nil {
		return nil, err
	}

	mc.mu.Lock()
	mc.models = models
	mc.fetchedAt = mc.now()
	mc.mu.Unlock()

	return models, nil
}

// Invalidate drops the cached list.
func (mc *ModelCache) Invalidate() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.models = nil
	mc.fetchedAt = time.Time{}
}
