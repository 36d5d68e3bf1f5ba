package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/roach88/edgesync/internal/queue"
	"github.com/roach88/edgesync/internal/record"
)

// CacheStrategy controls how Entity reads are served.
type CacheStrategy string

const (
	// CacheFirst serves the cached value and fetches only on a miss.
	CacheFirst CacheStrategy = "cache-first"

	// NetworkFirst fetches while the network allows it and falls back to
	// the cache when the fetch fails.
	NetworkFirst CacheStrategy = "network-first"

	// CacheOnly never contacts the authority.
	CacheOnly CacheStrategy = "cache-only"
)

// Entity returns the last known server value of an entity according to
// the configured cache strategy. Fetched values are written to the cache.
func (e *Engine) Entity(ctx context.Context, entityType, entityID string) (queue.CachedEntity, bool, error) {
	cache := e.queue.Cache()

	cached, found, err := cache.Get(ctx, entityType, entityID)
	if err != nil {
		return queue.CachedEntity{}, false, record.StorageError("read entity", err)
	}

	switch e.cacheBy {
	case CacheOnly:
		return cached, found, nil
	case CacheFirst:
		if found || !e.canSync() {
			return cached, found, nil
		}
		return e.fetch(ctx, entityType, entityID)
	default:
		if !e.canSync() {
			return cached, found, nil
		}
		ent, ok, err := e.fetch(ctx, entityType, entityID)
		if err != nil && record.IsNetwork(err) {
			e.logger.Debug("fetch failed, serving cache", zap.String("entity", record.EntityKey(entityType, entityID)), zap.Error(err))
			return cached, found, nil
		}
		return ent, ok, err
	}
}

func (e *Engine) fetch(ctx context.Context, entityType, entityID string) (queue.CachedEntity, bool, error) {
	cache := e.queue.Cache()

	ent, err := e.remote.Fetch(ctx, entityType, entityID)
	if record.CodeOf(err) == record.CodeNotFound {
		return queue.CachedEntity{}, false, nil
	}
	if err != nil {
		return queue.CachedEntity{}, false, err
	}
	if ent.Deleted {
		if err := cache.Delete(ctx, entityType, entityID); err != nil {
			return queue.CachedEntity{}, false, record.StorageError("cache entity", err)
		}
		return queue.CachedEntity{}, false, nil
	}

	c := queue.CachedEntity{
		Type:      ent.Type,
		ID:        ent.ID,
		Data:      ent.Data,
		Version:   ent.Version,
		UpdatedAt: ent.UpdatedAt,
	}
	if err := cache.Put(ctx, c); err != nil {
		return queue.CachedEntity{}, false, record.StorageError("cache entity", err)
	}
	return c, true, nil
}
