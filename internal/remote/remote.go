// Package remote defines the contract between the sync engine and the
// remote authority, plus an in-memory authority and an HTTP binding of
// it used for development and tests.
//
// A push has three outcomes:
//   - applied: the server accepted the change and returns its new version
//   - conflict: the server value diverged from the client's base; the
//     result carries the server value, version and update time
//   - error: NETWORK errors are retryable, VALIDATION errors are terminal
package remote

import (
	"context"
	"time"

	"github.com/roach88/edgesync/internal/record"
)

// Outcome is the result class of a successful push call.
type Outcome string

const (
	OutcomeApplied  Outcome = "applied"
	OutcomeConflict Outcome = "conflict"
)

// PushResult is what the authority reports for one pushed record.
type PushResult struct {
	Outcome Outcome

	// Version is the entity's server version after the push (applied)
	// or its current version (conflict).
	Version int64

	// ServerData and ServerTimestamp describe the server value on conflict.
	ServerData      record.Object
	ServerTimestamp time.Time
}

// Entity is the authority's current value for one entity.
type Entity struct {
	Type      string
	ID        string
	Data      record.Object
	Version   int64
	Deleted   bool
	DeviceID  string
	UpdatedAt time.Time
}

// Key returns the entity key.
func (e Entity) Key() string { return record.EntityKey(e.Type, e.ID) }

// Remote is the remote authority.
type Remote interface {
	// Push sends one record. A returned error is either NETWORK or
	// VALIDATION; conflicts are reported through PushResult.
	Push(ctx context.Context, rec record.SyncRecord) (PushResult, error)

	// Fetch returns the current server value. An unknown entity is a
	// NOT_FOUND error.
	Fetch(ctx context.Context, entityType, entityID string) (Entity, error)
}
