package harness

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/roach88/edgesync/internal/engine"
	"github.com/roach88/edgesync/internal/queue"
	"github.com/roach88/edgesync/internal/record"
	"github.com/roach88/edgesync/internal/remote"
)

// Assertion checks the final state or the trace.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Record and Status are used by record_status.
	Record string `yaml:"record,omitempty"`
	Status string `yaml:"status,omitempty"`

	// Count is used by queue_size, open_conflicts and event_count.
	Count *int `yaml:"count,omitempty"`

	// EntityType, EntityID, Expect, Version and Absent are used by
	// server_entity and cached_entity. Expect is a subset match.
	EntityType string         `yaml:"entity_type,omitempty"`
	EntityID   string         `yaml:"entity_id,omitempty"`
	Expect     map[string]any `yaml:"expect,omitempty"`
	Version    *int64         `yaml:"version,omitempty"`
	Absent     bool           `yaml:"absent,omitempty"`

	// Event is used by event_count, Events by event_order.
	Event  string   `yaml:"event,omitempty"`
	Events []string `yaml:"events,omitempty"`
}

// Assertion types.
const (
	AssertRecordStatus  = "record_status"
	AssertQueueSize     = "queue_size"
	AssertOpenConflicts = "open_conflicts"
	AssertServerEntity  = "server_entity"
	AssertCachedEntity  = "cached_entity"
	AssertEventOrder    = "event_order"
	AssertEventCount    = "event_count"
)

func validateAssertion(a Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("type is required")
	case AssertRecordStatus:
		if a.Record == "" {
			return fmt.Errorf("record is required for record_status")
		}
		if a.Status == "" {
			return fmt.Errorf("status is required for record_status")
		}
		if _, err := record.ParseStatus(a.Status); err != nil {
			return err
		}
	case AssertQueueSize, AssertOpenConflicts:
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("non-negative count is required for %s", a.Type)
		}
	case AssertServerEntity, AssertCachedEntity:
		if a.EntityType == "" || a.EntityID == "" {
			return fmt.Errorf("entity_type and entity_id are required for %s", a.Type)
		}
	case AssertEventOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("events list is required for event_order")
		}
	case AssertEventCount:
		if a.Event == "" {
			return fmt.Errorf("event is required for event_count")
		}
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("non-negative count is required for event_count")
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

// AssertionError describes a failed assertion.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("assertion %s failed: expected %s, got %s", e.Type, e.Expected, e.Actual)
}

// AssertionContext gives assertions access to the finished session.
type AssertionContext struct {
	Ctx    context.Context
	Engine *engine.Engine
	Cache  *queue.EntityCache
	Remote *remote.Memory
}

// EvaluateAssertions runs every assertion and returns the failure
// messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var failures []string
	for i, a := range assertions {
		if err := evaluate(result, a, actx); err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return failures
}

func evaluate(result *Result, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertRecordStatus:
		return assertRecordStatus(a, actx)
	case AssertQueueSize:
		return assertQueueSize(a, actx)
	case AssertOpenConflicts:
		return assertOpenConflicts(a, actx)
	case AssertServerEntity:
		return assertServerEntity(a, actx)
	case AssertCachedEntity:
		return assertCachedEntity(a, actx)
	case AssertEventOrder:
		return assertEventOrder(result.Trace, a)
	case AssertEventCount:
		return assertEventCount(result.Trace, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func assertRecordStatus(a Assertion, actx *AssertionContext) error {
	recs, err := actx.Engine.PendingSyncRecords(actx.Ctx, "", "")
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if rec.ID == a.Record {
			if string(rec.Status) != a.Status {
				return &AssertionError{Type: a.Type, Expected: a.Status, Actual: string(rec.Status)}
			}
			return nil
		}
	}
	return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("record %s", a.Record), Actual: "no such record"}
}

func assertQueueSize(a Assertion, actx *AssertionContext) error {
	status, err := actx.Engine.SyncStatus(actx.Ctx)
	if err != nil {
		return err
	}
	if status.PendingChanges != *a.Count {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprint(*a.Count), Actual: fmt.Sprint(status.PendingChanges)}
	}
	return nil
}

func assertOpenConflicts(a Assertion, actx *AssertionContext) error {
	open, err := actx.Engine.Conflicts(actx.Ctx, true)
	if err != nil {
		return err
	}
	if len(open) != *a.Count {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprint(*a.Count), Actual: fmt.Sprint(len(open))}
	}
	return nil
}

func assertServerEntity(a Assertion, actx *AssertionContext) error {
	ent, err := actx.Remote.Fetch(actx.Ctx, a.EntityType, a.EntityID)
	key := record.EntityKey(a.EntityType, a.EntityID)
	if record.CodeOf(err) == record.CodeNotFound || (err == nil && ent.Deleted) {
		if a.Absent {
			return nil
		}
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("server entity %s", key), Actual: "absent"}
	}
	if err != nil {
		return err
	}
	if a.Absent {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%s absent", key), Actual: fmt.Sprintf("version %d", ent.Version)}
	}
	return matchEntity(a, ent.Data, ent.Version)
}

func assertCachedEntity(a Assertion, actx *AssertionContext) error {
	cached, found, err := actx.Cache.Get(actx.Ctx, a.EntityType, a.EntityID)
	if err != nil {
		return err
	}
	key := record.EntityKey(a.EntityType, a.EntityID)
	switch {
	case !found && a.Absent:
		return nil
	case !found:
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("cached entity %s", key), Actual: "absent"}
	case a.Absent:
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%s absent", key), Actual: fmt.Sprintf("version %d", cached.Version)}
	}
	return matchEntity(a, cached.Data, cached.Version)
}

func matchEntity(a Assertion, data record.Object, version int64) error {
	if a.Version != nil && *a.Version != version {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("version %d", *a.Version), Actual: fmt.Sprintf("version %d", version)}
	}
	want, err := record.ObjectFromGo(a.Expect)
	if err != nil {
		return fmt.Errorf("expect: %w", err)
	}
	if field, ok := subsetMatch(data, want); !ok {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s = %s", field, render(want[field])),
			Actual:   render(data[field]),
		}
	}
	return nil
}

// subsetMatch reports whether every field of want equals the same field
// of got. On mismatch it returns the first differing field in key order.
func subsetMatch(got, want record.Object) (string, bool) {
	for _, k := range want.SortedKeys() {
		v, ok := got[k]
		if !ok || !sameValue(v, want[k]) {
			return k, false
		}
	}
	return "", true
}

func sameValue(a, b record.Value) bool {
	ab, err := record.MarshalCanonical(a)
	if err != nil {
		return false
	}
	bb, err := record.MarshalCanonical(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}

func render(v record.Value) string {
	if v == nil {
		return "<missing>"
	}
	b, err := record.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// assertEventOrder checks that the events appear in the trace in order.
// Other events may come between them.
func assertEventOrder(trace []TraceEvent, a Assertion) error {
	next := 0
	for _, ev := range trace {
		if next < len(a.Events) && ev.Kind == a.Events[next] {
			next++
		}
	}
	if next < len(a.Events) {
		kinds := make([]string, len(trace))
		for i, ev := range trace {
			kinds[i] = ev.Kind
		}
		return &AssertionError{
			Type:     a.Type,
			Expected: strings.Join(a.Events, " -> "),
			Actual:   fmt.Sprintf("missing %s in %s", a.Events[next], strings.Join(kinds, ", ")),
		}
	}
	return nil
}

func assertEventCount(trace []TraceEvent, a Assertion) error {
	n := 0
	for _, ev := range trace {
		if ev.Kind == a.Event {
			n++
		}
	}
	if n != *a.Count {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%d %s events", *a.Count, a.Event), Actual: fmt.Sprint(n)}
	}
	return nil
}
