package engine

import (
	"time"

	"github.com/roach88/edgesync/internal/conflict"
	"github.com/roach88/edgesync/internal/events"
	"github.com/roach88/edgesync/internal/queue"
	"github.com/roach88/edgesync/internal/record"
)

// SyncStartEvent is published when a pass begins.
type SyncStartEvent struct {
	StartedAt time.Time `json:"started_at" yaml:"started_at"`
	Pending   int       `json:"pending" yaml:"pending"`
}

// ConflictEvent is published for every conflict the authority reports.
type ConflictEvent struct {
	Conflict record.SyncConflict
	Verdict  conflict.Verdict
}

// Topics published on Events().
var (
	SyncStart        = events.NewName[SyncStartEvent]("syncStart")
	SyncProgress     = events.NewName[queue.Progress]("syncProgress")
	SyncComplete     = events.NewName[SyncResult]("syncComplete")
	SyncError        = events.NewName[SyncResult]("syncError")
	ConflictDetected = events.NewName[ConflictEvent]("conflictDetected")
)
