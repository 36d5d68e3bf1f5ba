// Package conflict adjudicates divergence between a client change and
// the server value under a configurable strategy, and keeps manual
// conflicts in the sync_conflicts collection until someone picks a
// winner.
package conflict

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/roach88/edgesync/internal/record"
	"github.com/roach88/edgesync/internal/store"
)

// Strategy is a conflict resolution policy.
type Strategy string

const (
	StrategyClientWins Strategy = "client-wins"
	StrategyServerWins Strategy = "server-wins"
	StrategyTimestamp  Strategy = "timestamp"
	StrategyManual     Strategy = "manual"
)

// ParseStrategy validates a strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(s)); st {
	case StrategyClientWins, StrategyServerWins, StrategyTimestamp, StrategyManual:
		return st, nil
	default:
		return "", fmt.Errorf("invalid conflict strategy %q: must be client-wins, server-wins, timestamp or manual", s)
	}
}

// Collection holds persisted conflicts.
const Collection = "sync_conflicts"

// CollectionSchema declares the conflict collection and its indices.
var CollectionSchema = store.Collection{
	Name:    Collection,
	KeyPath: "id",
	Indices: []store.Index{
		{Name: "state", KeyPath: "state"},
		{Name: "entity", KeyPath: "entity"},
		{Name: "record_id", KeyPath: "record_id"},
	},
}

// Verdict is the decision for one conflict.
type Verdict struct {
	Resolution record.Resolution
	Data       record.Object
	Resolved   bool

	// ConflictID is set when the conflict was persisted for manual resolution.
	ConflictID string
}

// Manager resolves conflicts.
type Manager struct {
	store     *store.Store
	strategy  Strategy
	overrides map[string]Strategy
	newID     func() string
	now       func() time.Time
	logger    *zap.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithStrategy sets the default strategy.
func WithStrategy(s Strategy) Option {
	return func(m *Manager) { m.strategy = s }
}

// WithEntityStrategies sets per-entity-type strategies. Entity types
// match case-insensitively.
func WithEntityStrategies(overrides map[string]Strategy) Option {
	return func(m *Manager) {
		for k, v := range overrides {
			m.overrides[strings.ToLower(k)] = v
		}
	}
}

// WithIDGenerator sets the conflict id source.
func WithIDGenerator(fn func() string) Option {
	return func(m *Manager) { m.newID = fn }
}

// WithClock sets the time source for resolution timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// New returns a Manager persisting to s, whose schema must declare
// CollectionSchema. The default strategy is server-wins.
func New(s *store.Store, opts ...Option) *Manager {
	m := &Manager{
		store:     s,
		strategy:  StrategyServerWins,
		overrides: make(map[string]Strategy),
		newID:     uuid.NewString,
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// StrategyFor returns the strategy applied to entityType.
func (m *Manager) StrategyFor(entityType string) Strategy {
	if s, ok := m.overrides[strings.ToLower(entityType)]; ok {
		return s
	}
	return m.strategy
}

// Resolve decides c. The same inputs always produce the same verdict:
// identical payloads resolve to the server value, and a manual conflict
// for a record that already has an open conflict reuses it.
func (m *Manager) Resolve(ctx context.Context, c record.SyncConflict) (Verdict, error) {
	strategy := m.StrategyFor(c.EntityType)

	if sameContent(c.ClientData, c.ServerData) {
		return Verdict{Resolution: record.ResolutionServerWins, Data: c.ServerData, Resolved: true}, nil
	}

	switch strategy {
	case StrategyClientWins:
		return clientWins(c), nil
	case StrategyServerWins:
		return serverWins(c), nil
	case StrategyTimestamp:
		// A tie goes to the server.
		if c.Timestamp.After(c.ServerTimestamp) {
			return clientWins(c), nil
		}
		return serverWins(c), nil
	case StrategyManual:
		return m.park(ctx, c)
	default:
		return Verdict{}, fmt.Errorf("resolve conflict: unknown strategy %q", strategy)
	}
}

func clientWins(c record.SyncConflict) Verdict {
	return Verdict{Resolution: record.ResolutionClientWins, Data: c.ClientData, Resolved: true}
}

func serverWins(c record.SyncConflict) Verdict {
	return Verdict{Resolution: record.ResolutionServerWins, Data: c.ServerData, Resolved: true}
}

func sameContent(a, b record.Object) bool {
	if a == nil || b == nil {
		return false
	}
	fa, err := record.Fingerprint(a)
	if err != nil {
		return false
	}
	fb, err := record.Fingerprint(b)
	if err != nil {
		return false
	}
	return fa == fb
}

// park persists c for manual resolution.
func (m *Manager) park(ctx context.Context, c record.SyncConflict) (Verdict, error) {
	existing, err := m.store.Query(ctx, Collection, store.QueryOptions{
		Index:  "record_id",
		Range:  store.Only(record.String(c.SyncRecord.ID)),
		Filter: isOpen,
		Limit:  1,
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("find open conflict: %w", err)
	}
	if len(existing) > 0 {
		return Verdict{Resolved: false, ConflictID: existing[0].GetString("id")}, nil
	}

	c.ID = m.newID()
	c.Strategy = string(StrategyManual)
	c.Resolved = false
	if _, err := m.store.Add(ctx, Collection, c.ToObject()); err != nil {
		return Verdict{}, fmt.Errorf("persist conflict: %w", err)
	}
	m.logger.Info("conflict parked for manual resolution",
		zap.String("conflict_id", c.ID),
		zap.String("record_id", c.SyncRecord.ID),
		zap.String("entity", c.EntityKey()),
	)
	return Verdict{Resolved: false, ConflictID: c.ID}, nil
}

func isOpen(obj record.Object) bool {
	return obj.GetString("state") == record.ConflictOpen
}

// Get returns a stored conflict.
func (m *Manager) Get(ctx context.Context, id string) (record.SyncConflict, bool, error) {
	obj, found, err := m.store.Get(ctx, Collection, record.String(id))
	if err != nil || !found {
		return record.SyncConflict{}, false, err
	}
	c, err := record.ConflictFromObject(obj)
	if err != nil {
		return record.SyncConflict{}, false, err
	}
	return c, true, nil
}

// ResolveConflict records winner for a stored conflict. Resolving again
// with the same winner is a no-op; picking a different winner is an error.
func (m *Manager) ResolveConflict(ctx context.Context, id string, winner record.Resolution) (record.SyncConflict, error) {
	if _, err := record.ParseResolution(string(winner)); err != nil {
		return record.SyncConflict{}, record.ValidationError("resolve conflict", err.Error())
	}
	c, found, err := m.Get(ctx, id)
	if err != nil {
		return record.SyncConflict{}, record.StorageError("resolve conflict", err)
	}
	if !found {
		return record.SyncConflict{}, record.NewError(record.CodeNotFound, "resolve conflict",
			fmt.Sprintf("conflict %s not found", id))
	}
	if c.Resolved {
		if c.Resolution == winner {
			return c, nil
		}
		return record.SyncConflict{}, record.ValidationError("resolve conflict",
			fmt.Sprintf("conflict %s already resolved as %s", id, c.Resolution))
	}

	c.Resolved = true
	c.Resolution = winner
	c.ResolvedAt = m.now()
	if _, err := m.store.Put(ctx, Collection, c.ToObject()); err != nil {
		return record.SyncConflict{}, record.StorageError("resolve conflict", err)
	}
	m.logger.Info("conflict resolved",
		zap.String("conflict_id", id),
		zap.String("resolution", string(winner)),
	)
	return c, nil
}

// List returns stored conflicts ordered by client change time, then id.
func (m *Manager) List(ctx context.Context, openOnly bool) ([]record.SyncConflict, error) {
	opts := store.QueryOptions{}
	if openOnly {
		opts = store.QueryOptions{Index: "state", Range: store.Only(record.String(record.ConflictOpen))}
	}
	objs, err := m.store.Query(ctx, Collection, opts)
	if err != nil {
		return nil, fmt.Errorf("list conflicts: %w", err)
	}
	out := make([]record.SyncConflict, 0, len(objs))
	for _, obj := range objs {
		c, err := record.ConflictFromObject(obj)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b record.SyncConflict) int {
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

// HasOpenConflict reports whether the entity has an unresolved conflict.
func (m *Manager) HasOpenConflict(ctx context.Context, entityType, entityID string) (bool, error) {
	objs, err := m.store.Query(ctx, Collection, store.QueryOptions{
		Index:  "entity",
		Range:  store.Only(record.String(record.EntityKey(entityType, entityID))),
		Filter: isOpen,
		Limit:  1,
	})
	if err != nil {
		return false, fmt.Errorf("check open conflict: %w", err)
	}
	return len(objs) > 0, nil
}

// OpenEntities returns the keys of entities with an unresolved conflict.
func (m *Manager) OpenEntities(ctx context.Context) (map[string]bool, error) {
	open, err := m.List(ctx, true)
	if err != nil {
		return nil, err
	}
	keys := make(map[string]bool, len(open))
	for _, c := range open {
		keys[c.EntityKey()] = true
	}
	return keys, nil
}

// CleanupResolved deletes resolved conflicts resolved before cutoff.
func (m *Manager) CleanupResolved(ctx context.Context, cutoff time.Time) (int, error) {
	before := func(obj record.Object) bool {
		return obj.GetInt("resolved_at") < cutoff.UnixMilli()
	}
	objs, err := m.store.Query(ctx, Collection, store.QueryOptions{
		Index:  "state",
		Range:  store.Only(record.String(record.ConflictResolved)),
		Filter: before,
	})
	if err != nil {
		return 0, fmt.Errorf("cleanup conflicts: %w", err)
	}
	if len(objs) == 0 {
		return 0, nil
	}
	ops := make([]store.Op, len(objs))
	for i, obj := range objs {
		ops[i] = store.DeleteOp(obj["id"])
	}
	if err := m.store.Batch(ctx, Collection, ops); err != nil {
		return 0, fmt.Errorf("cleanup conflicts: %w", err)
	}
	return len(objs), nil
}
