package remote

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/roach88/edgesync/internal/record"
)

// Memory is an in-process authority.
//
// Each entity carries a version that increases on every applied push and
// remembers the device that wrote it last. A push conflicts when the
// entity exists, the record's BaseVersion differs from the server
// version and the last writer is another device. Force skips the check.
// Replaying a record id that was already applied returns the original
// result without applying it again.
type Memory struct {
	mu       sync.Mutex
	now      func() time.Time
	entities map[string]*Entity
	applied  map[string]PushResult
	failures []error
	pushes   int
}

// MemoryOption configures a Memory.
type MemoryOption func(*Memory)

// WithMemoryClock sets the time source for server timestamps.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// NewMemory returns an empty authority.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		now:      time.Now,
		entities: make(map[string]*Entity),
		applied:  make(map[string]PushResult),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// FailNext makes the next len(errs) pushes fail with errs, in order.
func (m *Memory) FailNext(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, errs...)
}

// Seed sets the server value of an entity as if deviceID had written it
// and returns the new version.
func (m *Memory) Seed(entityType, entityID string, data record.Object, deviceID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := record.EntityKey(entityType, entityID)
	ent, ok := m.entities[key]
	if !ok {
		ent = &Entity{Type: entityType, ID: entityID}
		m.entities[key] = ent
	}
	ent.Version++
	ent.Data = data.Clone()
	ent.Deleted = false
	ent.DeviceID = deviceID
	ent.UpdatedAt = m.now()
	return ent.Version
}

// Pushes returns the number of push calls received.
func (m *Memory) Pushes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pushes
}

// Entities returns a snapshot of every entity.
func (m *Memory) Entities() []Entity {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entity, 0, len(m.entities))
	for _, ent := range m.entities {
		e := *ent
		e.Data = ent.Data.Clone()
		out = append(out, e)
	}
	return out
}

// Push implements Remote.
func (m *Memory) Push(ctx context.Context, rec record.SyncRecord) (PushResult, error) {
	if err := ctx.Err(); err != nil {
		return PushResult{}, record.NetworkError("push", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.pushes++

	if len(m.failures) > 0 {
		err := m.failures[0]
		m.failures = m.failures[1:]
		return PushResult{}, err
	}
	if res, ok := m.applied[rec.ID]; ok {
		return res, nil
	}
	if err := validatePush(rec); err != nil {
		return PushResult{}, err
	}

	key := rec.EntityKey()
	ent, exists := m.entities[key]
	if exists && !rec.Force && ent.Version != rec.BaseVersion && ent.DeviceID != rec.DeviceID {
		return PushResult{
			Outcome:         OutcomeConflict,
			Version:         ent.Version,
			ServerData:      ent.Data.Clone(),
			ServerTimestamp: ent.UpdatedAt,
		}, nil
	}

	if !exists {
		ent = &Entity{Type: rec.EntityType, ID: rec.EntityID}
		m.entities[key] = ent
	}
	ent.Version++
	ent.DeviceID = rec.DeviceID
	ent.UpdatedAt = m.now()
	if rec.ChangeType == record.ChangeDelete {
		ent.Data = nil
		ent.Deleted = true
	} else {
		ent.Data = rec.Data.Clone()
		ent.Deleted = false
	}

	res := PushResult{Outcome: OutcomeApplied, Version: ent.Version, ServerTimestamp: ent.UpdatedAt}
	m.applied[rec.ID] = res
	return res, nil
}

// Fetch implements Remote.
func (m *Memory) Fetch(ctx context.Context, entityType, entityID string) (Entity, error) {
	if err := ctx.Err(); err != nil {
		return Entity{}, record.NetworkError("fetch", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ent, ok := m.entities[record.EntityKey(entityType, entityID)]
	if !ok {
		return Entity{}, record.NewError(record.CodeNotFound, "fetch",
			fmt.Sprintf("entity %s not found", record.EntityKey(entityType, entityID)))
	}
	e := *ent
	e.Data = ent.Data.Clone()
	return e, nil
}

func validatePush(rec record.SyncRecord) error {
	switch {
	case rec.ID == "":
		return record.ValidationError("push", "record id is required")
	case rec.EntityType == "" || rec.EntityID == "":
		return &record.Error{Code: record.CodeValidation, Op: "push", Message: "entity type and id are required", RecordID: rec.ID}
	case rec.ChangeType != record.ChangeCreate && rec.ChangeType != record.ChangeUpdate && rec.ChangeType != record.ChangeDelete:
		return &record.Error{Code: record.CodeValidation, Op: "push", Message: fmt.Sprintf("unknown change type %q", rec.ChangeType), RecordID: rec.ID}
	case rec.ChangeType != record.ChangeDelete && rec.Data == nil:
		return &record.Error{Code: record.CodeValidation, Op: "push", Message: "payload is required", RecordID: rec.ID}
	}
	return nil
}
