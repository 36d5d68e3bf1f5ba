package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/roach88/edgesync/internal/engine"
	"github.com/roach88/edgesync/internal/queue"
	"github.com/roach88/edgesync/internal/record"
)

// StatusView is the output of the status command.
type StatusView struct {
	engine.Status `yaml:",inline"`
}

func (v StatusView) WriteText(w io.Writer) {
	fmt.Fprintf(w, "Network:         %s\n", v.NetworkStatus.Status)
	fmt.Fprintf(w, "Pending changes: %d\n", v.PendingChanges)
	fmt.Fprintf(w, "Open conflicts:  %d\n", v.OpenConflicts)
	fmt.Fprintf(w, "Last sync:       %s\n", formatTime(v.LastSyncTime))
	fmt.Fprintf(w, "Auto-sync:       %s\n", onOff(v.IsAutoSyncEnabled, v.SyncInterval))
}

// RecordView is one sync record.
type RecordView struct {
	ID         string    `json:"id" yaml:"id"`
	Entity     string    `json:"entity" yaml:"entity"`
	ChangeType string    `json:"change_type" yaml:"change_type"`
	Status     string    `json:"status" yaml:"status"`
	Priority   int       `json:"priority" yaml:"priority"`
	RetryCount int       `json:"retry_count" yaml:"retry_count"`
	Error      string    `json:"error,omitempty" yaml:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp" yaml:"timestamp"`
	Data       any       `json:"data,omitempty" yaml:"data,omitempty"`
}

func newRecordView(r record.SyncRecord) RecordView {
	v := RecordView{
		ID:         r.ID,
		Entity:     r.EntityKey(),
		ChangeType: string(r.ChangeType),
		Status:     string(r.Status),
		Priority:   r.Priority,
		RetryCount: r.RetryCount,
		Error:      r.Error,
		Timestamp:  r.Timestamp,
	}
	if r.Data != nil {
		v.Data = record.ToGo(r.Data)
	}
	return v
}

// RecordList is the output of the pending command.
type RecordList []RecordView

func (l RecordList) WriteText(w io.Writer) {
	if len(l) == 0 {
		fmt.Fprintln(w, "No records.")
		return
	}
	for _, r := range l {
		fmt.Fprintf(w, "%s  %-10s %-7s p%d  %s", r.ID, r.Status, r.ChangeType, r.Priority, r.Entity)
		if r.RetryCount > 0 {
			fmt.Fprintf(w, "  retries=%d", r.RetryCount)
		}
		if r.Error != "" {
			fmt.Fprintf(w, "  (%s)", r.Error)
		}
		fmt.Fprintln(w)
	}
}

// ConflictView is one stored conflict.
type ConflictView struct {
	ID         string `json:"id" yaml:"id"`
	RecordID   string `json:"record_id" yaml:"record_id"`
	Entity     string `json:"entity" yaml:"entity"`
	Strategy   string `json:"strategy" yaml:"strategy"`
	Resolved   bool   `json:"resolved" yaml:"resolved"`
	Resolution string `json:"resolution,omitempty" yaml:"resolution,omitempty"`
	ClientData any    `json:"client_data,omitempty" yaml:"client_data,omitempty"`
	ServerData any    `json:"server_data,omitempty" yaml:"server_data,omitempty"`
}

func newConflictView(c record.SyncConflict) ConflictView {
	v := ConflictView{
		ID:         c.ID,
		RecordID:   c.SyncRecord.ID,
		Entity:     c.EntityKey(),
		Strategy:   c.Strategy,
		Resolved:   c.Resolved,
		Resolution: string(c.Resolution),
	}
	if c.ClientData != nil {
		v.ClientData = record.ToGo(c.ClientData)
	}
	if c.ServerData != nil {
		v.ServerData = record.ToGo(c.ServerData)
	}
	return v
}

// ConflictList is the output of the conflicts command.
type ConflictList []ConflictView

func (l ConflictList) WriteText(w io.Writer) {
	if len(l) == 0 {
		fmt.Fprintln(w, "No conflicts.")
		return
	}
	for _, c := range l {
		state := "open"
		if c.Resolved {
			state = c.Resolution
		}
		fmt.Fprintf(w, "%s  %-11s %s  record=%s\n", c.ID, state, c.Entity, c.RecordID)
	}
}

// SyncView is the output of the sync command.
type SyncView struct {
	engine.SyncResult `yaml:",inline"`
}

func (v SyncView) WriteText(w io.Writer) {
	if v.Reason != "" {
		fmt.Fprintf(w, "Sync did not run: %s\n", v.Reason)
		return
	}
	if v.Error != "" {
		fmt.Fprintf(w, "Sync failed: %s\n", v.Error)
		return
	}
	fmt.Fprintf(w, "Processed %d records: %d succeeded, %d failed\n",
		v.RecordsProcessed, v.RecordsSucceeded, v.RecordsFailed)
	if v.ConflictsDetected > 0 {
		fmt.Fprintf(w, "Conflicts: %d detected, %d resolved\n", v.ConflictsDetected, v.ConflictsResolved)
	}
	if v.Recovered > 0 {
		fmt.Fprintf(w, "Recovered %d interrupted records\n", v.Recovered)
	}
	for _, e := range v.Errors {
		writeRecordError(w, e)
	}
}

func writeRecordError(w io.Writer, e queue.RecordError) {
	fmt.Fprintf(w, "  %s %s [%s]: %s\n", e.RecordID, e.Entity, e.Code, e.Message)
}

// CountView reports a number of affected items.
type CountView struct {
	Label string `json:"-" yaml:"-"`
	Count int    `json:"count" yaml:"count"`
}

func (v CountView) WriteText(w io.Writer) {
	fmt.Fprintf(w, "%s: %d\n", v.Label, v.Count)
}

// RegisteredView is the output of the register command.
type RegisteredView struct {
	RecordID string `json:"record_id" yaml:"record_id"`
}

func (v RegisteredView) WriteText(w io.Writer) {
	fmt.Fprintf(w, "Registered %s\n", v.RecordID)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Format(time.RFC3339)
}

func onOff(on bool, interval time.Duration) string {
	if !on {
		return "off"
	}
	return fmt.Sprintf("every %s", interval)
}
