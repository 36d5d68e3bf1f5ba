package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/edgesync/internal/conflict"
	"github.com/roach88/edgesync/internal/events"
	"github.com/roach88/edgesync/internal/queue"
	"github.com/roach88/edgesync/internal/record"
)

// Reasons a pass did not run.
const (
	ReasonOffline    = "offline"
	ReasonInProgress = "sync in progress"
	ReasonClosed     = "engine closed"
)

// SyncResult is the outcome of one Sync call.
type SyncResult struct {
	queue.Result `yaml:",inline"`

	// Success is set when the pass ran and no record reported an error.
	Success bool `json:"success" yaml:"success"`

	// Skipped is set when another pass was already running.
	Skipped bool `json:"skipped,omitempty" yaml:"skipped,omitempty"`

	// Reason explains why no pass ran.
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`

	// Error describes an engine-level failure.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`

	StartedAt time.Time     `json:"started_at" yaml:"started_at"`
	Duration  time.Duration `json:"duration" yaml:"duration"`
}

// Sync runs one queue pass. It never returns an error: a pass that
// cannot run, or fails as a whole, yields a failed result and, for
// failures after the pass started, a SyncError event.
func (e *Engine) Sync(ctx context.Context) (res SyncResult) {
	start := e.now()
	res.StartedAt = start

	switch {
	case e.isClosed():
		res.Reason = ReasonClosed
		return res
	case !e.canSync():
		res.Reason = ReasonOffline
		e.logger.Debug("sync skipped, network unavailable")
		return res
	case !e.syncing.CompareAndSwap(false, true):
		res.Skipped = true
		res.Reason = ReasonInProgress
		return res
	}
	defer e.syncing.Store(false)

	token := queue.NewAbortToken()
	e.setAbort(token)
	defer e.setAbort(nil)

	defer func() {
		if r := recover(); r != nil {
			res.Success = false
			res.Error = fmt.Sprintf("sync panicked: %v", r)
			res.Duration = e.now().Sub(start)
			e.logger.Error("sync panicked", zap.Any("panic", r))
			events.Publish(e.bus, SyncError, res)
		}
	}()

	pending, err := e.queue.QueueSize(ctx)
	if err != nil {
		return e.failed(res, err)
	}
	events.Publish(e.bus, SyncStart, SyncStartEvent{StartedAt: start, Pending: pending})

	qres, err := e.queue.ProcessQueue(ctx, queue.ProcessOptions{
		BatchSize:     e.cfg.BatchSize,
		MaxConcurrent: e.cfg.MaxConcurrentRequests,
		PriorityFirst: true,
		OnProgress: func(p queue.Progress) {
			events.Publish(e.bus, SyncProgress, p)
		},
		OnConflict: func(c record.SyncConflict, v conflict.Verdict) {
			events.Publish(e.bus, ConflictDetected, ConflictEvent{Conflict: c, Verdict: v})
		},
		Abort: token,
	})
	if err != nil {
		return e.failed(res, err)
	}

	res.Result = qres
	res.Success = len(qres.Errors) == 0
	res.Duration = e.now().Sub(start)

	e.mu.Lock()
	e.lastSync = e.now()
	e.mu.Unlock()

	e.logger.Info("sync complete",
		zap.Int("processed", qres.RecordsProcessed),
		zap.Int("succeeded", qres.RecordsSucceeded),
		zap.Int("failed", qres.RecordsFailed),
		zap.Int("conflicts", qres.ConflictsDetected),
		zap.Duration("duration", res.Duration),
	)
	events.Publish(e.bus, SyncComplete, res)
	return res
}

func (e *Engine) failed(res SyncResult, err error) SyncResult {
	res.Success = false
	res.Error = err.Error()
	res.Duration = e.now().Sub(res.StartedAt)
	e.logger.Error("sync failed", zap.Error(err))
	events.Publish(e.bus, SyncError, res)
	return res
}

func (e *Engine) setAbort(t *queue.AbortToken) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.abort = t
}
