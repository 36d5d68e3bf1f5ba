package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/edgesync/internal/record"
	"github.com/roach88/edgesync/internal/store"
)

// EntitiesCollection caches the last known server value of each entity.
const EntitiesCollection = "entities"

// EntitiesSchema declares the entity cache collection.
var EntitiesSchema = store.Collection{
	Name:    EntitiesCollection,
	KeyPath: "key",
	Indices: []store.Index{{Name: "entity_type", KeyPath: "entity_type"}},
}

// CachedEntity is an entity value as last confirmed by the authority.
type CachedEntity struct {
	Type      string
	ID        string
	Data      record.Object
	Version   int64
	UpdatedAt time.Time
}

// Key returns the entity key.
func (e CachedEntity) Key() string { return record.EntityKey(e.Type, e.ID) }

func (e CachedEntity) toObject() record.Object {
	obj := record.Obj(
		record.O("key", record.String(e.Key())),
		record.O("entity_type", record.String(e.Type)),
		record.O("entity_id", record.String(e.ID)),
		record.O("version", record.Int(e.Version)),
		record.O("updated_at", record.Int(e.UpdatedAt.UnixMilli())),
	)
	if e.Data != nil {
		obj["data"] = e.Data
	}
	return obj
}

func cachedFromObject(obj record.Object) CachedEntity {
	return CachedEntity{
		Type:      obj.GetString("entity_type"),
		ID:        obj.GetString("entity_id"),
		Data:      obj.GetObject("data"),
		Version:   obj.GetInt("version"),
		UpdatedAt: time.UnixMilli(obj.GetInt("updated_at")),
	}
}

// EntityCache reads and writes the entities collection.
type EntityCache struct {
	store *store.Store
}

// NewEntityCache returns a cache over s, whose schema must declare EntitiesSchema.
func NewEntityCache(s *store.Store) *EntityCache {
	return &EntityCache{store: s}
}

// Get returns the cached value of an entity.
func (c *EntityCache) Get(ctx context.Context, entityType, entityID string) (CachedEntity, bool, error) {
	obj, found, err := c.store.Get(ctx, EntitiesCollection, record.String(record.EntityKey(entityType, entityID)))
	if err != nil || !found {
		return CachedEntity{}, false, err
	}
	return cachedFromObject(obj), true, nil
}

// Put stores e.
func (c *EntityCache) Put(ctx context.Context, e CachedEntity) error {
	if _, err := c.store.Put(ctx, EntitiesCollection, e.toObject()); err != nil {
		return fmt.Errorf("cache entity %s: %w", e.Key(), err)
	}
	return nil
}

// Delete removes a cached entity.
func (c *EntityCache) Delete(ctx context.Context, entityType, entityID string) error {
	if err := c.store.Delete(ctx, EntitiesCollection, record.String(record.EntityKey(entityType, entityID))); err != nil {
		return fmt.Errorf("uncache entity %s: %w", record.EntityKey(entityType, entityID), err)
	}
	return nil
}

// List returns every cached entity of entityType, or all when empty.
func (c *EntityCache) List(ctx context.Context, entityType string) ([]CachedEntity, error) {
	opts := store.QueryOptions{}
	if entityType != "" {
		opts = store.QueryOptions{Index: "entity_type", Range: store.Only(record.String(entityType))}
	}
	objs, err := c.store.Query(ctx, EntitiesCollection, opts)
	if err != nil {
		return nil, fmt.Errorf("list cached entities: %w", err)
	}
	out := make([]CachedEntity, len(objs))
	for i, obj := range objs {
		out[i] = cachedFromObject(obj)
	}
	return out, nil
}
