package queue

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/edgesync/internal/conflict"
	"github.com/roach88/edgesync/internal/record"
	"github.com/roach88/edgesync/internal/remote"
	"github.com/roach88/edgesync/internal/store"
)

const (
	DefaultBatchSize     = 50
	DefaultMaxConcurrent = 4
)

// ProcessOptions configures one pass over the queue.
type ProcessOptions struct {
	BatchSize     int
	MaxConcurrent int

	// PriorityFirst orders by priority descending, then age. Otherwise
	// records are taken oldest first.
	PriorityFirst bool

	// OnProgress runs after every record with the running totals.
	// Calls are serialized.
	OnProgress func(Progress)

	// OnConflict runs for every conflict the authority reports, after the
	// resolver decided it.
	OnConflict func(record.SyncConflict, conflict.Verdict)

	Abort *AbortToken
}

// Progress is the running state of a pass.
type Progress struct {
	Total     int
	Processed int
	Succeeded int
	Failed    int
	RecordID  string
	Status    record.Status
}

// RecordError is one per-record failure of a pass.
type RecordError struct {
	RecordID string           `json:"record_id" yaml:"record_id"`
	Entity   string           `json:"entity" yaml:"entity"`
	Code     record.ErrorCode `json:"code" yaml:"code"`
	Message  string           `json:"message" yaml:"message"`
}

// Result summarizes a pass.
type Result struct {
	RecordsProcessed  int           `json:"records_processed" yaml:"records_processed"`
	RecordsSucceeded  int           `json:"records_succeeded" yaml:"records_succeeded"`
	RecordsFailed     int           `json:"records_failed" yaml:"records_failed"`
	ConflictsDetected int           `json:"conflicts_detected" yaml:"conflicts_detected"`
	ConflictsResolved int           `json:"conflicts_resolved" yaml:"conflicts_resolved"`
	Errors            []RecordError `json:"errors,omitempty" yaml:"errors,omitempty"`

	// Recovered counts records found in processing and returned to pending.
	Recovered int `json:"recovered,omitempty" yaml:"recovered,omitempty"`

	// Aborted is set when dispatch stopped before the batch was exhausted.
	Aborted bool `json:"aborted,omitempty" yaml:"aborted,omitempty"`
}

type outcome int

const (
	outcomeCompleted outcome = iota
	outcomeRetry
	outcomeFailed
	outcomeParked
	outcomeStorage
)

// ProcessQueue runs one pass. The returned error is set only when the
// pass could not start; per-record failures are reported in Result.
func (m *Manager) ProcessQueue(ctx context.Context, opts ProcessOptions) (Result, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}

	recovered, err := m.recoverOrphans(ctx)
	if err != nil {
		return Result{}, err
	}
	chains, total, err := m.plan(ctx, opts)
	if err != nil {
		return Result{}, err
	}

	p := &pass{opts: opts, total: total}
	p.res.Recovered = recovered

	var g errgroup.Group
	g.SetLimit(opts.MaxConcurrent)
	for _, chain := range chains {
		if p.stopped(ctx) {
			break
		}
		chain := chain
		g.Go(func() error {
			m.runChain(ctx, p, chain)
			return nil
		})
	}
	g.Wait()

	m.logger.Info("queue pass finished",
		zap.Int("processed", p.res.RecordsProcessed),
		zap.Int("succeeded", p.res.RecordsSucceeded),
		zap.Int("failed", p.res.RecordsFailed),
		zap.Int("conflicts", p.res.ConflictsDetected),
		zap.Bool("aborted", p.res.Aborted),
	)
	return p.res, nil
}

// recoverOrphans returns records stuck in processing to pending.
func (m *Manager) recoverOrphans(ctx context.Context) (int, error) {
	stuck, err := m.query(ctx, store.QueryOptions{
		Index: "status",
		Range: store.Only(record.String(record.StatusProcessing)),
	})
	if err != nil {
		return 0, record.StorageError("recover records", err)
	}
	for i := range stuck {
		stuck[i].Status = record.StatusPending
		if err := m.write(ctx, &stuck[i]); err != nil {
			return i, &record.Error{Code: record.CodeStorage, Op: "recover records", Err: err, RecordID: stuck[i].ID}
		}
		m.logger.Warn("recovered abandoned record", zap.String("record_id", stuck[i].ID))
	}
	return len(stuck), nil
}

// plan selects up to BatchSize pending records and groups them into
// per-entity chains. Chains are ordered by their most urgent record;
// each chain is oldest first and is never missing an older record of
// its entity.
func (m *Manager) plan(ctx context.Context, opts ProcessOptions) ([][]record.SyncRecord, int, error) {
	pending, err := m.query(ctx, store.QueryOptions{
		Index: "status",
		Range: store.Only(record.String(record.StatusPending)),
	})
	if err != nil {
		return nil, 0, record.StorageError("select records", err)
	}

	blocked := map[string]bool{}
	if m.resolver != nil {
		if blocked, err = m.resolver.OpenEntities(ctx); err != nil {
			return nil, 0, record.StorageError("select records", err)
		}
	}

	byEntity := make(map[string][]record.SyncRecord)
	for _, rec := range pending {
		if blocked[rec.EntityKey()] {
			continue
		}
		byEntity[rec.EntityKey()] = append(byEntity[rec.EntityKey()], rec)
	}

	ranked := make([]record.SyncRecord, 0, len(pending))
	for key, recs := range byEntity {
		sortByAge(recs)
		byEntity[key] = recs
		ranked = append(ranked, recs...)
	}
	if opts.PriorityFirst {
		sortByPriority(ranked)
	} else {
		sortByAge(ranked)
	}

	var (
		chains [][]record.SyncRecord
		seen   = make(map[string]bool)
		total  int
	)
	for _, rec := range ranked {
		if total >= opts.BatchSize {
			break
		}
		key := rec.EntityKey()
		if seen[key] {
			continue
		}
		seen[key] = true
		chain := byEntity[key]
		if len(chain) > opts.BatchSize-total {
			chain = chain[:opts.BatchSize-total]
		}
		chains = append(chains, slices.Clone(chain))
		total += len(chain)
	}
	return chains, total, nil
}

func (m *Manager) runChain(ctx context.Context, p *pass, chain []record.SyncRecord) {
	for _, rec := range chain {
		if p.stopped(ctx) {
			return
		}
		if m.processOne(ctx, p, rec) != outcomeCompleted {
			// Later edits of this entity wait for the next pass.
			return
		}
	}
}

func (m *Manager) processOne(ctx context.Context, p *pass, rec record.SyncRecord) outcome {
	rec.Status = record.StatusProcessing
	if err := m.write(ctx, &rec); err != nil {
		m.logger.Error("mark processing failed", zap.String("record_id", rec.ID), zap.Error(err))
		return p.done(rec, outcomeStorage, record.StorageError("mark processing", err))
	}

	res, err := m.remote.Push(ctx, rec)
	if err == nil && res.Outcome == remote.OutcomeConflict {
		out, repush := m.handleConflict(ctx, p, &rec, res)
		if !repush {
			return out
		}
		res, err = m.remote.Push(ctx, rec)
		if err == nil && res.Outcome == remote.OutcomeConflict {
			err = &record.Error{Code: record.CodeConflict, Op: "push", Message: "forced push rejected", RecordID: rec.ID}
		}
	}
	if err != nil {
		return m.handleFailure(ctx, p, rec, err)
	}

	rec.Status = record.StatusCompleted
	rec.Error = ""
	if werr := m.write(ctx, &rec); werr != nil {
		return m.statusWriteFailed(p, rec, werr)
	}
	m.updateCache(ctx, p, rec, rec.Data, res)
	return p.done(rec, outcomeCompleted, nil)
}

// handleConflict applies the resolver's verdict. It reports repush when
// the client won and rec must be pushed again with Force set.
func (m *Manager) handleConflict(ctx context.Context, p *pass, rec *record.SyncRecord, res remote.PushResult) (out outcome, repush bool) {
	p.conflictDetected()
	c := record.NewConflict(*rec, res.ServerData, res.Version, res.ServerTimestamp)

	verdict, err := m.resolver.Resolve(ctx, c)
	if err != nil {
		m.logger.Error("resolve conflict failed", zap.String("record_id", rec.ID), zap.Error(err))
		return m.handleFailure(ctx, p, *rec, record.WrapError(record.CodeStorage, "resolve conflict", err)), false
	}
	c.ID = verdict.ConflictID
	c.Resolution = verdict.Resolution
	c.Resolved = verdict.Resolved
	if p.opts.OnConflict != nil {
		p.opts.OnConflict(c, verdict)
	}

	switch {
	case !verdict.Resolved:
		rec.Status = record.StatusConflict
		rec.Error = fmt.Sprintf("awaiting manual resolution of conflict %s", verdict.ConflictID)
		if werr := m.write(ctx, rec); werr != nil {
			return m.statusWriteFailed(p, *rec, werr), false
		}
		return p.done(*rec, outcomeParked, nil), false

	case verdict.Resolution == record.ResolutionServerWins:
		p.conflictResolved()
		rec.ConflictResolution = record.ResolutionServerWins
		rec.Status = record.StatusCompleted
		rec.Error = ""
		if werr := m.write(ctx, rec); werr != nil {
			return m.statusWriteFailed(p, *rec, werr), false
		}
		m.updateCache(ctx, p, *rec, verdict.Data, res)
		return p.done(*rec, outcomeCompleted, nil), false

	default:
		p.conflictResolved()
		rec.ConflictResolution = record.ResolutionClientWins
		rec.Force = true
		return 0, true
	}
}

func (m *Manager) handleFailure(ctx context.Context, p *pass, rec record.SyncRecord, cause error) outcome {
	out := outcomeFailed
	if record.Retryable(cause) {
		rec.RetryCount++
		if rec.RetryCount < m.maxRetries {
			out = outcomeRetry
		}
	}
	rec.Status = record.StatusFailed
	if out == outcomeRetry {
		rec.Status = record.StatusPending
	}
	rec.Error = cause.Error()

	m.logger.Warn("push failed",
		zap.String("record_id", rec.ID),
		zap.String("entity", rec.EntityKey()),
		zap.Int("retry_count", rec.RetryCount),
		zap.String("status", string(rec.Status)),
		zap.Error(cause),
	)
	if err := m.write(ctx, &rec); err != nil {
		return m.statusWriteFailed(p, rec, err)
	}
	return p.done(rec, out, cause)
}

// statusWriteFailed reports a record whose new status could not be
// persisted. It stays processing on disk and is recovered next pass.
func (m *Manager) statusWriteFailed(p *pass, rec record.SyncRecord, err error) outcome {
	m.logger.Error("status write failed",
		zap.String("record_id", rec.ID),
		zap.String("status", string(rec.Status)),
		zap.Error(err),
	)
	return p.done(rec, outcomeStorage, record.StorageError("write status", err))
}

func (m *Manager) updateCache(ctx context.Context, p *pass, rec record.SyncRecord, data record.Object, res remote.PushResult) {
	var err error
	if data == nil || (rec.ChangeType == record.ChangeDelete && rec.ConflictResolution != record.ResolutionServerWins) {
		err = m.cache.Delete(ctx, rec.EntityType, rec.EntityID)
	} else {
		updated := res.ServerTimestamp
		if updated.IsZero() {
			updated = m.now()
		}
		err = m.cache.Put(ctx, CachedEntity{
			Type:      rec.EntityType,
			ID:        rec.EntityID,
			Data:      data,
			Version:   res.Version,
			UpdatedAt: updated,
		})
	}
	if err != nil {
		m.logger.Error("entity cache update failed", zap.String("entity", rec.EntityKey()), zap.Error(err))
		p.addError(rec, record.StorageError("cache entity", err))
	}
}

// pass is the shared state of one ProcessQueue call.
type pass struct {
	opts  ProcessOptions
	total int

	mu  sync.Mutex
	res Result
}

func (p *pass) stopped(ctx context.Context) bool {
	if p.opts.Abort.Aborted() || ctx.Err() != nil {
		p.mu.Lock()
		p.res.Aborted = true
		p.mu.Unlock()
		return true
	}
	return false
}

func (p *pass) conflictDetected() {
	p.mu.Lock()
	p.res.ConflictsDetected++
	p.mu.Unlock()
}

func (p *pass) conflictResolved() {
	p.mu.Lock()
	p.res.ConflictsResolved++
	p.mu.Unlock()
}

func (p *pass) addError(rec record.SyncRecord, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.addErrorLocked(rec, err)
}

func (p *pass) addErrorLocked(rec record.SyncRecord, err error) {
	code := record.CodeOf(err)
	if code == "" {
		code = record.CodeNetwork
	}
	p.res.Errors = append(p.res.Errors, RecordError{
		RecordID: rec.ID,
		Entity:   rec.EntityKey(),
		Code:     code,
		Message:  err.Error(),
	})
}

// done tallies one finished record and reports progress.
func (p *pass) done(rec record.SyncRecord, out outcome, err error) outcome {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.res.RecordsProcessed++
	switch out {
	case outcomeCompleted:
		p.res.RecordsSucceeded++
	case outcomeRetry, outcomeFailed, outcomeStorage:
		p.res.RecordsFailed++
	}
	if err != nil {
		p.addErrorLocked(rec, err)
	}
	if p.opts.OnProgress != nil {
		p.opts.OnProgress(Progress{
			Total:     p.total,
			Processed: p.res.RecordsProcessed,
			Succeeded: p.res.RecordsSucceeded,
			Failed:    p.res.RecordsFailed,
			RecordID:  rec.ID,
			Status:    rec.Status,
		})
	}
	return out
}
