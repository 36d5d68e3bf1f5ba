// Package identity provides the per-installation device id stamped on
// every sync record.
package identity

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/edgesync/internal/record"
	"github.com/roach88/edgesync/internal/store"
)

// Provider returns the device id.
type Provider interface {
	DeviceID(ctx context.Context) (string, error)
}

// Static is a Provider with a fixed id.
type Static string

// DeviceID returns s.
func (s Static) DeviceID(context.Context) (string, error) { return string(s), nil }

// Collection is the store collection holding the device document.
const Collection = "device"

const deviceKey = "self"

// CollectionSchema declares the device collection.
var CollectionSchema = store.Collection{Name: Collection, KeyPath: "key"}

// StoreProvider generates a random UUIDv4 on first use, persists it and
// returns the same id for the life of the database.
type StoreProvider struct {
	store *store.Store

	mu sync.Mutex
	id string
}

// NewStoreProvider returns a provider backed by s. The store schema must
// declare CollectionSchema.
func NewStoreProvider(s *store.Store) *StoreProvider {
	return &StoreProvider{store: s}
}

// DeviceID returns the persisted id, creating it if necessary.
func (p *StoreProvider) DeviceID(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.id != "" {
		return p.id, nil
	}

	doc, found, err := p.store.Get(ctx, Collection, record.String(deviceKey))
	if err != nil {
		return "", fmt.Errorf("load device id: %w", err)
	}
	if found && doc.GetString("id") != "" {
		p.id = doc.GetString("id")
		return p.id, nil
	}

	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate device id: %w", err)
	}
	doc = record.Obj(
		record.O("key", record.String(deviceKey)),
		record.O("id", record.String(id.String())),
	)
	if _, err := p.store.Add(ctx, Collection, doc); err != nil {
		return "", fmt.Errorf("persist device id: %w", err)
	}
	p.id = id.String()
	return p.id, nil
}
