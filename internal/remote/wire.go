package remote

import (
	"time"

	"github.com/roach88/edgesync/internal/record"
)

// Wire types of the HTTP binding. Times are Unix milliseconds.

type wireRecord struct {
	ID          string        `json:"id"`
	EntityType  string        `json:"entity_type"`
	EntityID    string        `json:"entity_id"`
	ChangeType  string        `json:"change_type"`
	Data        record.Object `json:"data,omitempty"`
	Timestamp   int64         `json:"timestamp"`
	DeviceID    string        `json:"device_id"`
	BaseVersion int64         `json:"base_version"`
	Force       bool          `json:"force,omitempty"`
	Metadata    record.Object `json:"metadata,omitempty"`
}

func toWireRecord(rec record.SyncRecord) wireRecord {
	return wireRecord{
		ID:          rec.ID,
		EntityType:  rec.EntityType,
		EntityID:    rec.EntityID,
		ChangeType:  string(rec.ChangeType),
		Data:        rec.Data,
		Timestamp:   rec.Timestamp.UnixMilli(),
		DeviceID:    rec.DeviceID,
		BaseVersion: rec.BaseVersion,
		Force:       rec.Force,
		Metadata:    rec.Metadata,
	}
}

func (w wireRecord) record() record.SyncRecord {
	return record.SyncRecord{
		ID:          w.ID,
		EntityType:  w.EntityType,
		EntityID:    w.EntityID,
		ChangeType:  record.ChangeType(w.ChangeType),
		Data:        w.Data,
		Timestamp:   time.UnixMilli(w.Timestamp),
		DeviceID:    w.DeviceID,
		BaseVersion: w.BaseVersion,
		Force:       w.Force,
		Metadata:    w.Metadata,
	}
}

type wirePushResult struct {
	Outcome         string        `json:"outcome"`
	Version         int64         `json:"version"`
	ServerData      record.Object `json:"server_data,omitempty"`
	ServerTimestamp int64         `json:"server_timestamp,omitempty"`
}

func toWirePushResult(res PushResult) wirePushResult {
	w := wirePushResult{
		Outcome:    string(res.Outcome),
		Version:    res.Version,
		ServerData: res.ServerData,
	}
	if !res.ServerTimestamp.IsZero() {
		w.ServerTimestamp = res.ServerTimestamp.UnixMilli()
	}
	return w
}

func (w wirePushResult) result() PushResult {
	res := PushResult{
		Outcome:    Outcome(w.Outcome),
		Version:    w.Version,
		ServerData: w.ServerData,
	}
	if w.ServerTimestamp != 0 {
		res.ServerTimestamp = time.UnixMilli(w.ServerTimestamp)
	}
	return res
}

type wireEntity struct {
	Type      string        `json:"type"`
	ID        string        `json:"id"`
	Data      record.Object `json:"data,omitempty"`
	Version   int64         `json:"version"`
	Deleted   bool          `json:"deleted,omitempty"`
	DeviceID  string        `json:"device_id,omitempty"`
	UpdatedAt int64         `json:"updated_at"`
}

func toWireEntity(e Entity) wireEntity {
	return wireEntity{
		Type:      e.Type,
		ID:        e.ID,
		Data:      e.Data,
		Version:   e.Version,
		Deleted:   e.Deleted,
		DeviceID:  e.DeviceID,
		UpdatedAt: e.UpdatedAt.UnixMilli(),
	}
}

func (w wireEntity) entity() Entity {
	return Entity{
		Type:      w.Type,
		ID:        w.ID,
		Data:      w.Data,
		Version:   w.Version,
		Deleted:   w.Deleted,
		DeviceID:  w.DeviceID,
		UpdatedAt: time.UnixMilli(w.UpdatedAt),
	}
}

type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
