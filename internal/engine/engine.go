package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/roach88/edgesync/internal/config"
	"github.com/roach88/edgesync/internal/conflict"
	"github.com/roach88/edgesync/internal/events"
	"github.com/roach88/edgesync/internal/identity"
	"github.com/roach88/edgesync/internal/netmon"
	"github.com/roach88/edgesync/internal/queue"
	"github.com/roach88/edgesync/internal/record"
	"github.com/roach88/edgesync/internal/remote"
	"github.com/roach88/edgesync/internal/store"
)

// OfflineMode controls when passes start on their own.
type OfflineMode string

const (
	// OfflineAggressive syncs only while online.
	OfflineAggressive OfflineMode = "aggressive"

	// OfflineConservative also syncs over a limited link.
	OfflineConservative OfflineMode = "conservative"

	// OfflineManual never starts a pass on its own; only Sync and the
	// auto-sync timer do.
	OfflineManual OfflineMode = "manual"
)

// Engine is the sync manager.
//
// Thread-safety: all methods are safe for concurrent use. The engine
// does not own the store; callers close it after Close.
type Engine struct {
	cfg      config.EdgeConfig
	mode     OfflineMode
	cacheBy  CacheStrategy
	store    *store.Store
	remote   remote.Remote
	queue    *queue.Manager
	resolver *conflict.Manager
	network  *netmon.Monitor
	identity identity.Provider
	ids      IDGenerator
	bus      *events.Bus
	now      func() time.Time
	logger   *zap.Logger

	// conflictIDs names persisted conflicts; nil keeps the resolver default.
	conflictIDs IDGenerator

	// syncing is the single-flight guard for passes.
	syncing atomic.Bool

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bg       sync.WaitGroup

	mu       sync.Mutex
	lastSync time.Time
	abort    *queue.AbortToken
	cron     *cron.Cron
	netSub   *events.Subscription
	closed   bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithNetwork sets the network monitor. The default monitor never checks
// and reports online until told otherwise.
func WithNetwork(m *netmon.Monitor) Option {
	return func(e *Engine) { e.network = m }
}

// WithIdentity sets the device id provider. The default persists a
// random id in the store.
func WithIdentity(p identity.Provider) Option {
	return func(e *Engine) { e.identity = p }
}

// WithIDGenerator sets the record id source. Default UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) { e.ids = g }
}

// WithConflictIDGenerator sets the source of conflict ids.
func WithConflictIDGenerator(g IDGenerator) Option {
	return func(e *Engine) { e.conflictIDs = g }
}

// WithBus sets the event bus.
func WithBus(b *events.Bus) Option {
	return func(e *Engine) { e.bus = b }
}

// WithClock sets the wall clock used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New returns an engine over s, whose schema must include the
// collections of Schema. Background work starts with Start.
func New(cfg config.EdgeConfig, s *store.Store, r remote.Remote, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:     cfg,
		mode:    OfflineMode(cfg.OfflineMode),
		cacheBy: CacheStrategy(cfg.CacheStrategy),
		store:   s,
		remote:  r,
		ids:     UUIDv7Generator{},
		now:     time.Now,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.bus == nil {
		e.bus = events.NewBus(e.logger)
	}
	if e.network == nil {
		e.network = netmon.New(netmon.WithLogger(e.logger))
	}
	if e.identity == nil {
		e.identity = identity.NewStoreProvider(s)
	}

	resolver, err := e.newResolver(s)
	if err != nil {
		return nil, err
	}
	e.resolver = resolver
	e.queue = queue.New(s, r, resolver,
		queue.WithMaxRetries(cfg.MaxRetries),
		queue.WithMaxQueueSize(cfg.MaxQueueSize),
		queue.WithClock(e.now),
		queue.WithLogger(e.logger.Named("queue")),
	)
	e.bgCtx, e.bgCancel = context.WithCancel(context.Background())
	return e, nil
}

func (e *Engine) newResolver(s *store.Store) (*conflict.Manager, error) {
	cfg := e.cfg
	def, err := conflict.ParseStrategy(cfg.ConflictResolutionStrategy)
	if err != nil {
		return nil, err
	}
	overrides := make(map[string]conflict.Strategy, len(cfg.ConflictStrategies))
	for entityType, name := range cfg.ConflictStrategies {
		st, err := conflict.ParseStrategy(name)
		if err != nil {
			return nil, fmt.Errorf("entity type %s: %w", entityType, err)
		}
		overrides[strings.ToLower(entityType)] = st
	}
	opts := []conflict.Option{
		conflict.WithStrategy(def),
		conflict.WithEntityStrategies(overrides),
		conflict.WithClock(e.now),
		conflict.WithLogger(e.logger.Named("conflict")),
	}
	if e.conflictIDs != nil {
		opts = append(opts, conflict.WithIDGenerator(e.conflictIDs.Generate))
	}
	return conflict.New(s, opts...), nil
}

// Events returns the bus the engine publishes on.
func (e *Engine) Events() *events.Bus { return e.bus }

// Unsubscribe removes a listener registered on Events().
func (e *Engine) Unsubscribe(sub events.Subscription) { e.bus.Unsubscribe(sub) }

// Network returns the network monitor.
func (e *Engine) Network() *netmon.Monitor { return e.network }

// Start primes the device id and subscribes to network transitions.
// Calling it again is a no-op.
func (e *Engine) Start(ctx context.Context) error {
	if _, err := e.identity.DeviceID(ctx); err != nil {
		return record.StorageError("device id", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return record.NewError(record.CodeValidation, "start", "engine is closed")
	}
	if e.netSub == nil {
		sub := e.network.Subscribe(e.onNetworkChange)
		e.netSub = &sub
	}
	return nil
}

// Close stops the auto-sync timer, aborts dispatch of a running pass and
// waits for background passes to finish.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	sub, abort, c := e.netSub, e.abort, e.cron
	e.netSub, e.cron = nil, nil
	e.mu.Unlock()

	if sub != nil {
		e.network.Unsubscribe(*sub)
	}
	abort.Abort()
	if c != nil {
		<-c.Stop().Done()
	}
	e.bg.Wait()
	e.bgCancel()
	return nil
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// canSync reports whether the network allows a pass.
func (e *Engine) canSync() bool {
	switch e.network.Status().Status {
	case netmon.StatusOnline:
		return true
	case netmon.StatusLimited:
		return e.mode != OfflineAggressive
	default:
		return false
	}
}

func (e *Engine) onNetworkChange(info netmon.NetworkInfo) {
	if e.mode == OfflineManual {
		return
	}
	if info.Status == netmon.StatusOffline || !e.canSync() {
		return
	}
	e.logger.Debug("network available, starting sync", zap.String("status", string(info.Status)))
	e.syncInBackground()
}

// syncInBackground starts a pass on its own goroutine unless one is
// already running.
func (e *Engine) syncInBackground() {
	if e.syncing.Load() {
		return
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.bg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.bg.Done()
		e.Sync(e.bgCtx)
	}()
}

// ChangeOption configures RegisterChange.
type ChangeOption func(*changeOptions)

type changeOptions struct {
	priority    int
	baseVersion int64
	baseSet     bool
	metadata    record.Object
}

// WithPriority sets the record priority; higher dispatches first. It is
// clamped into the configured priority levels. Default 1.
func WithPriority(p int) ChangeOption {
	return func(o *changeOptions) { o.priority = p }
}

// WithBaseVersion sets the server version the change was made against.
// By default the version of the cached entity is used.
func WithBaseVersion(v int64) ChangeOption {
	return func(o *changeOptions) {
		o.baseVersion = v
		o.baseSet = true
	}
}

// WithMetadata attaches diagnostic metadata to the record.
func WithMetadata(md record.Object) ChangeOption {
	return func(o *changeOptions) { o.metadata = md }
}

// RegisterChange records a local change and returns its record id. The
// record is durable when RegisterChange returns. Writes to an entity
// with an unresolved manual conflict fail with ENTITY_BLOCKED.
func (e *Engine) RegisterChange(ctx context.Context, entityType, entityID string, changeType record.ChangeType, data record.Object, opts ...ChangeOption) (string, error) {
	co := changeOptions{priority: 1}
	for _, opt := range opts {
		opt(&co)
	}
	if e.isClosed() {
		return "", record.NewError(record.CodeValidation, "register change", "engine is closed")
	}

	blocked, err := e.resolver.HasOpenConflict(ctx, entityType, entityID)
	if err != nil {
		return "", record.StorageError("register change", err)
	}
	if blocked {
		return "", record.NewError(record.CodeEntityBlocked, "register change",
			fmt.Sprintf("entity %s has an unresolved conflict", record.EntityKey(entityType, entityID)))
	}

	device, err := e.identity.DeviceID(ctx)
	if err != nil {
		return "", record.StorageError("device id", err)
	}

	base := co.baseVersion
	if !co.baseSet {
		cached, found, err := e.queue.Cache().Get(ctx, entityType, entityID)
		if err != nil {
			return "", record.StorageError("register change", err)
		}
		if found {
			base = cached.Version
		}
	}

	rec := record.SyncRecord{
		ID:          e.ids.Generate(),
		EntityType:  entityType,
		EntityID:    entityID,
		ChangeType:  changeType,
		Data:        data,
		Timestamp:   e.now(),
		DeviceID:    device,
		Priority:    clamp(co.priority, 0, e.cfg.PriorityLevels-1),
		Metadata:    co.metadata,
		BaseVersion: base,
	}
	if err := e.queue.Enqueue(ctx, rec); err != nil {
		return "", err
	}
	e.logger.Info("change registered",
		zap.String("record_id", rec.ID),
		zap.String("entity", rec.EntityKey()),
		zap.String("change_type", string(changeType)),
	)

	if e.mode != OfflineManual && e.canSync() {
		e.syncInBackground()
	}
	return rec.ID, nil
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		hi = lo
	}
	return min(max(v, lo), hi)
}

// Status is a snapshot of the engine for status indicators.
type Status struct {
	SyncInProgress    bool               `json:"sync_in_progress" yaml:"sync_in_progress"`
	LastSyncTime      time.Time          `json:"last_sync_time" yaml:"last_sync_time"`
	PendingChanges    int                `json:"pending_changes" yaml:"pending_changes"`
	OpenConflicts     int                `json:"open_conflicts" yaml:"open_conflicts"`
	IsAutoSyncEnabled bool               `json:"is_auto_sync_enabled" yaml:"is_auto_sync_enabled"`
	SyncInterval      time.Duration      `json:"sync_interval" yaml:"sync_interval"`
	NetworkStatus     netmon.NetworkInfo `json:"network_status" yaml:"network_status"`
}

// SyncStatus returns the current status.
func (e *Engine) SyncStatus(ctx context.Context) (Status, error) {
	pending, err := e.queue.QueueSize(ctx)
	if err != nil {
		return Status{}, err
	}
	open, err := e.resolver.List(ctx, true)
	if err != nil {
		return Status{}, record.StorageError("sync status", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		SyncInProgress:    e.syncing.Load(),
		LastSyncTime:      e.lastSync,
		PendingChanges:    pending,
		OpenConflicts:     len(open),
		IsAutoSyncEnabled: e.cron != nil,
		SyncInterval:      e.cfg.SyncInterval,
		NetworkStatus:     e.network.Status(),
	}, nil
}

// PendingSyncRecords returns records filtered by entity type and
// status, either of which may be empty.
func (e *Engine) PendingSyncRecords(ctx context.Context, entityType string, status record.Status) ([]record.SyncRecord, error) {
	return e.queue.Records(ctx, entityType, status)
}

// CleanupCompletedRecords deletes completed records and resolved
// conflicts older than maxAge and returns the number of records removed.
func (e *Engine) CleanupCompletedRecords(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := e.now().Add(-maxAge)
	n, err := e.queue.CleanupRecords(ctx, record.StatusCompleted, cutoff)
	if err != nil {
		return 0, err
	}
	conflicts, err := e.resolver.CleanupResolved(ctx, cutoff)
	if err != nil {
		return n, record.StorageError("cleanup conflicts", err)
	}
	if n > 0 || conflicts > 0 {
		e.logger.Info("cleanup finished", zap.Int("records", n), zap.Int("conflicts", conflicts))
	}
	return n, nil
}

// Conflicts returns stored conflicts, optionally only unresolved ones.
func (e *Engine) Conflicts(ctx context.Context, openOnly bool) ([]record.SyncConflict, error) {
	cs, err := e.resolver.List(ctx, openOnly)
	if err != nil {
		return nil, record.StorageError("list conflicts", err)
	}
	return cs, nil
}

// ResolveConflict settles a manual conflict. With client-wins the parked
// record is queued again and will overwrite the server value; with
// server-wins it is completed and the server value is cached. Resolving
// again with the same winner is a no-op.
func (e *Engine) ResolveConflict(ctx context.Context, conflictID string, winner record.Resolution) (record.SyncConflict, error) {
	c, err := e.resolver.ResolveConflict(ctx, conflictID, winner)
	if err != nil {
		return record.SyncConflict{}, err
	}

	rec, found, err := e.queue.Get(ctx, c.SyncRecord.ID)
	if err != nil {
		return c, err
	}
	if !found || rec.Status != record.StatusConflict {
		return c, nil
	}

	switch winner {
	case record.ResolutionClientWins:
		if _, err := e.queue.Requeue(ctx, rec.ID, true); err != nil {
			return c, err
		}
		if e.mode != OfflineManual && e.canSync() {
			e.syncInBackground()
		}
	case record.ResolutionServerWins:
		if _, err := e.queue.Complete(ctx, rec.ID, record.ResolutionServerWins); err != nil {
			return c, err
		}
		if err := e.adoptServerValue(ctx, c); err != nil {
			return c, record.StorageError("resolve conflict", err)
		}
	}
	e.logger.Info("manual conflict settled",
		zap.String("conflict_id", conflictID),
		zap.String("record_id", rec.ID),
		zap.String("winner", string(winner)),
	)
	return c, nil
}

func (e *Engine) adoptServerValue(ctx context.Context, c record.SyncConflict) error {
	if c.ServerData == nil {
		return e.queue.Cache().Delete(ctx, c.EntityType, c.EntityID)
	}
	return e.queue.Cache().Put(ctx, queue.CachedEntity{
		Type:      c.EntityType,
		ID:        c.EntityID,
		Data:      c.ServerData,
		Version:   c.ServerVersion,
		UpdatedAt: c.ServerTimestamp,
	})
}
