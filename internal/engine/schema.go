package engine

import (
	"context"

	"github.com/roach88/edgesync/internal/config"
	"github.com/roach88/edgesync/internal/conflict"
	"github.com/roach88/edgesync/internal/identity"
	"github.com/roach88/edgesync/internal/queue"
	"github.com/roach88/edgesync/internal/store"
)

// Schema returns the store schema the engine needs, named and versioned
// from cfg, followed by the application's own collections.
func Schema(cfg config.EdgeConfig, extra ...store.Collection) store.Schema {
	collections := []store.Collection{
		queue.RecordsSchema,
		queue.EntitiesSchema,
		conflict.CollectionSchema,
		identity.CollectionSchema,
	}
	return store.Schema{
		Name:        cfg.AppName,
		Version:     cfg.StoreVersion,
		Collections: append(collections, extra...),
	}
}

// OpenStore opens cfg.DatabasePath with Schema(cfg, extra...).
func OpenStore(ctx context.Context, cfg config.EdgeConfig, extra ...store.Collection) (*store.Store, error) {
	return store.Open(ctx, cfg.DatabasePath, Schema(cfg, extra...))
}
