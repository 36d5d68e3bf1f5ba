package record

import (
	"fmt"
	"time"
)

// SyncConflict is a detected divergence between the client's assumed
// base value and the server's current value for the same entity.
type SyncConflict struct {
	ID              string
	SyncRecord      SyncRecord
	ServerData      Object
	ClientData      Object
	EntityType      string
	EntityID        string
	Timestamp       time.Time // client change time
	ServerTimestamp time.Time // last server write time
	ServerVersion   int64
	Strategy        string
	Resolution      Resolution
	Resolved        bool
	ResolvedAt      time.Time
}

// NewConflict builds a conflict for rec against the server state.
func NewConflict(rec SyncRecord, serverData Object, serverVersion int64, serverTimestamp time.Time) SyncConflict {
	return SyncConflict{
		SyncRecord:      rec,
		ServerData:      serverData,
		ClientData:      rec.Data,
		EntityType:      rec.EntityType,
		EntityID:        rec.EntityID,
		Timestamp:       rec.Timestamp,
		ServerTimestamp: serverTimestamp,
		ServerVersion:   serverVersion,
	}
}

// EntityKey returns the conflicting entity's key.
func (c SyncConflict) EntityKey() string {
	return EntityKey(c.EntityType, c.EntityID)
}

// State values of the conflict document's "state" index.
const (
	ConflictOpen     = "open"
	ConflictResolved = "resolved"
)

// ToObject converts the conflict into its stored document form.
func (c SyncConflict) ToObject() Object {
	state := ConflictOpen
	if c.Resolved {
		state = ConflictResolved
	}
	obj := Object{
		"id":               String(c.ID),
		"record_id":        String(c.SyncRecord.ID),
		"record":           c.SyncRecord.ToObject(),
		"entity_type":      String(c.EntityType),
		"entity_id":        String(c.EntityID),
		"entity":           String(c.EntityKey()),
		"timestamp":        Int(c.Timestamp.UnixMilli()),
		"server_timestamp": Int(c.ServerTimestamp.UnixMilli()),
		"server_version":   Int(c.ServerVersion),
		"strategy":         String(c.Strategy),
		"state":            String(state),
	}
	if c.ServerData != nil {
		obj["server_data"] = c.ServerData
	}
	if c.ClientData != nil {
		obj["client_data"] = c.ClientData
	}
	if c.Resolution != "" {
		obj["resolution"] = String(c.Resolution)
	}
	if !c.ResolvedAt.IsZero() {
		obj["resolved_at"] = Int(c.ResolvedAt.UnixMilli())
	}
	return obj
}

// ConflictFromObject rebuilds a conflict from its stored document.
func ConflictFromObject(obj Object) (SyncConflict, error) {
	id := obj.GetString("id")
	if id == "" {
		return SyncConflict{}, fmt.Errorf("conflict document missing %q", "id")
	}
	rec, err := RecordFromObject(obj.GetObject("record"))
	if err != nil {
		return SyncConflict{}, fmt.Errorf("conflict %s: %w", id, err)
	}
	c := SyncConflict{
		ID:              id,
		SyncRecord:      rec,
		ServerData:      obj.GetObject("server_data"),
		ClientData:      obj.GetObject("client_data"),
		EntityType:      obj.GetString("entity_type"),
		EntityID:        obj.GetString("entity_id"),
		Timestamp:       time.UnixMilli(obj.GetInt("timestamp")),
		ServerTimestamp: time.UnixMilli(obj.GetInt("server_timestamp")),
		ServerVersion:   obj.GetInt("server_version"),
		Strategy:        obj.GetString("strategy"),
		Resolution:      Resolution(obj.GetString("resolution")),
		Resolved:        obj.GetString("state") == ConflictResolved,
	}
	if ms := obj.GetInt("resolved_at"); ms != 0 {
		c.ResolvedAt = time.UnixMilli(ms)
	}
	return c, nil
}
