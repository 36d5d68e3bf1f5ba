package queue

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/edgesync/internal/conflict"
	"github.com/roach88/edgesync/internal/record"
	"github.com/roach88/edgesync/internal/remote"
	"github.com/roach88/edgesync/internal/store"
)

// RecordsCollection holds sync records keyed by id.
const RecordsCollection = "sync_records"

// RecordsSchema declares the sync record collection and its indices.
var RecordsSchema = store.Collection{
	Name:    RecordsCollection,
	KeyPath: record.FieldID,
	Indices: []store.Index{
		{Name: "status", KeyPath: record.FieldStatus},
		{Name: "entity_type", KeyPath: record.FieldEntityType},
		{Name: "entity", KeyPath: record.FieldEntity},
		{Name: "priority", KeyPath: record.FieldPriority},
	},
}

// Resolver decides conflicts. *conflict.Manager implements it.
type Resolver interface {
	Resolve(ctx context.Context, c record.SyncConflict) (conflict.Verdict, error)
	OpenEntities(ctx context.Context) (map[string]bool, error)
}

// DefaultMaxRetries is the retry ceiling when none is configured.
const DefaultMaxRetries = 3

// Manager owns the sync_records collection.
type Manager struct {
	store    *store.Store
	remote   remote.Remote
	resolver Resolver
	cache    *EntityCache

	maxRetries   int
	maxQueueSize int
	now          func() time.Time
	logger       *zap.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithMaxRetries sets the retry ceiling. A record that fails this many
// retryable pushes is marked failed.
func WithMaxRetries(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxRetries = n
		}
	}
}

// WithMaxQueueSize bounds the number of pending records. Zero means unbounded.
func WithMaxQueueSize(n int) Option {
	return func(m *Manager) { m.maxQueueSize = n }
}

// WithClock sets the time source for UpdatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// New returns a Manager. The store schema must declare RecordsSchema and
// EntitiesSchema.
func New(s *store.Store, r remote.Remote, res Resolver, opts ...Option) *Manager {
	m := &Manager{
		store:      s,
		remote:     r,
		resolver:   res,
		cache:      NewEntityCache(s),
		maxRetries: DefaultMaxRetries,
		now:        time.Now,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Cache returns the entity cache maintained by the queue.
func (m *Manager) Cache() *EntityCache { return m.cache }

// Enqueue validates rec, stamps it pending and persists it.
func (m *Manager) Enqueue(ctx context.Context, rec record.SyncRecord) error {
	rec.Status = record.StatusPending
	rec.UpdatedAt = m.now()
	if err := rec.Validate(); err != nil {
		return err
	}

	if m.maxQueueSize > 0 {
		n, err := m.QueueSize(ctx)
		if err != nil {
			return err
		}
		if n >= m.maxQueueSize {
			return &record.Error{
				Code:     record.CodeQueueFull,
				Op:       "enqueue",
				Message:  fmt.Sprintf("%d pending records (max %d)", n, m.maxQueueSize),
				RecordID: rec.ID,
			}
		}
	}

	if _, err := m.store.Add(ctx, RecordsCollection, rec.ToObject()); err != nil {
		if errors.Is(err, store.ErrConstraint) {
			return &record.Error{Code: record.CodeValidation, Op: "enqueue", Message: "duplicate record id", RecordID: rec.ID}
		}
		return &record.Error{Code: record.CodeStorage, Op: "enqueue", Err: err, RecordID: rec.ID}
	}
	m.logger.Debug("record enqueued",
		zap.String("record_id", rec.ID),
		zap.String("entity", rec.EntityKey()),
		zap.String("change_type", string(rec.ChangeType)),
		zap.Int("priority", rec.Priority),
	)
	return nil
}

// QueueSize returns the number of pending records.
func (m *Manager) QueueSize(ctx context.Context) (int, error) {
	n, err := m.store.Count(ctx, RecordsCollection, store.CountOptions{
		Index: "status",
		Range: store.Only(record.String(record.StatusPending)),
	})
	if err != nil {
		return 0, record.StorageError("queue size", err)
	}
	return n, nil
}

// Get returns one record.
func (m *Manager) Get(ctx context.Context, id string) (record.SyncRecord, bool, error) {
	obj, found, err := m.store.Get(ctx, RecordsCollection, record.String(id))
	if err != nil {
		return record.SyncRecord{}, false, record.StorageError("get record", err)
	}
	if !found {
		return record.SyncRecord{}, false, nil
	}
	rec, err := record.RecordFromObject(obj)
	if err != nil {
		return record.SyncRecord{}, false, record.StorageError("get record", err)
	}
	return rec, true, nil
}

// Records returns records filtered by entity type and status, either of
// which may be empty, ordered oldest first.
func (m *Manager) Records(ctx context.Context, entityType string, status record.Status) ([]record.SyncRecord, error) {
	var opts store.QueryOptions
	switch {
	case status != "":
		opts = store.QueryOptions{Index: "status", Range: store.Only(record.String(status))}
		if entityType != "" {
			opts.Filter = func(obj record.Object) bool {
				return obj.GetString(record.FieldEntityType) == entityType
			}
		}
	case entityType != "":
		opts = store.QueryOptions{Index: "entity_type", Range: store.Only(record.String(entityType))}
	}

	recs, err := m.query(ctx, opts)
	if err != nil {
		return nil, record.StorageError("get records", err)
	}
	sortByAge(recs)
	return recs, nil
}

func (m *Manager) query(ctx context.Context, opts store.QueryOptions) ([]record.SyncRecord, error) {
	objs, err := m.store.Query(ctx, RecordsCollection, opts)
	if err != nil {
		return nil, err
	}
	recs := make([]record.SyncRecord, 0, len(objs))
	for _, obj := range objs {
		rec, err := record.RecordFromObject(obj)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// CleanupRecords deletes records in status last updated before cutoff
// and returns how many were removed.
func (m *Manager) CleanupRecords(ctx context.Context, status record.Status, cutoff time.Time) (int, error) {
	limit := cutoff.UnixMilli()
	older := func(obj record.Object) bool {
		ts := obj.GetInt(record.FieldUpdatedAt)
		if ts == 0 {
			ts = obj.GetInt(record.FieldTimestamp)
		}
		return ts < limit
	}
	objs, err := m.store.Query(ctx, RecordsCollection, store.QueryOptions{
		Index:  "status",
		Range:  store.Only(record.String(status)),
		Filter: older,
	})
	if err != nil {
		return 0, record.StorageError("cleanup records", err)
	}
	if len(objs) == 0 {
		return 0, nil
	}
	ops := make([]store.Op, len(objs))
	for i, obj := range objs {
		ops[i] = store.DeleteOp(obj[record.FieldID])
	}
	if err := m.store.Batch(ctx, RecordsCollection, ops); err != nil {
		return 0, record.StorageError("cleanup records", err)
	}
	m.logger.Info("records cleaned up",
		zap.String("status", string(status)),
		zap.Int("removed", len(objs)),
	)
	return len(objs), nil
}

// Requeue returns a parked or failed record to pending with a fresh
// retry budget. With force, the next push overwrites server state and
// the record is marked client-wins.
func (m *Manager) Requeue(ctx context.Context, id string, force bool) (record.SyncRecord, error) {
	rec, err := m.mustGet(ctx, "requeue", id)
	if err != nil {
		return record.SyncRecord{}, err
	}
	if rec.Status == record.StatusCompleted || rec.Status == record.StatusProcessing {
		return record.SyncRecord{}, &record.Error{
			Code:     record.CodeValidation,
			Op:       "requeue",
			Message:  fmt.Sprintf("record is %s", rec.Status),
			RecordID: id,
		}
	}
	rec.Status = record.StatusPending
	rec.RetryCount = 0
	rec.Error = ""
	if force {
		rec.Force = true
		rec.ConflictResolution = record.ResolutionClientWins
	}
	if err := m.write(ctx, &rec); err != nil {
		return record.SyncRecord{}, &record.Error{Code: record.CodeStorage, Op: "requeue", Err: err, RecordID: id}
	}
	return rec, nil
}

// Complete marks a record completed with resolution, without pushing it.
func (m *Manager) Complete(ctx context.Context, id string, resolution record.Resolution) (record.SyncRecord, error) {
	rec, err := m.mustGet(ctx, "complete", id)
	if err != nil {
		return record.SyncRecord{}, err
	}
	rec.Status = record.StatusCompleted
	rec.ConflictResolution = resolution
	rec.Error = ""
	if err := m.write(ctx, &rec); err != nil {
		return record.SyncRecord{}, &record.Error{Code: record.CodeStorage, Op: "complete", Err: err, RecordID: id}
	}
	return rec, nil
}

func (m *Manager) mustGet(ctx context.Context, op, id string) (record.SyncRecord, error) {
	rec, found, err := m.Get(ctx, id)
	if err != nil {
		return record.SyncRecord{}, err
	}
	if !found {
		return record.SyncRecord{}, &record.Error{Code: record.CodeNotFound, Op: op, Message: "no such record", RecordID: id}
	}
	return rec, nil
}

// write persists rec after stamping UpdatedAt.
func (m *Manager) write(ctx context.Context, rec *record.SyncRecord) error {
	rec.UpdatedAt = m.now()
	_, err := m.store.Put(ctx, RecordsCollection, rec.ToObject())
	return err
}

func sortByAge(recs []record.SyncRecord) {
	slices.SortStableFunc(recs, func(a, b record.SyncRecord) int {
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

func sortByPriority(recs []record.SyncRecord) {
	slices.SortStableFunc(recs, func(a, b record.SyncRecord) int {
		if a.Priority != b.Priority {
			return b.Priority - a.Priority
		}
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
