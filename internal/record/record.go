package record

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ChangeType is the kind of mutation a record carries.
type ChangeType string

const (
	ChangeCreate ChangeType = "create"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// ParseChangeType validates a change type string.
func ParseChangeType(s string) (ChangeType, error) {
	switch ct := ChangeType(strings.ToLower(s)); ct {
	case ChangeCreate, ChangeUpdate, ChangeDelete:
		return ct, nil
	default:
		return "", fmt.Errorf("invalid change type %q: must be create, update or delete", s)
	}
}

// Status is the lifecycle state of a sync record.
//
//	pending -> processing -> completed | failed
//	processing -> pending            (retry, bounded by max retries)
//	processing -> conflict           (manual strategy, parked)
//	conflict -> pending | completed  (explicit conflict resolution)
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusConflict   Status = "conflict"
)

// ParseStatus validates a status string. The empty string is allowed
// and means "any status".
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(s)); st {
	case "", StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusConflict:
		return st, nil
	default:
		return "", fmt.Errorf("invalid status %q", s)
	}
}

// Terminal reports whether no further processing will happen.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Resolution is the verdict of conflict adjudication.
type Resolution string

const (
	ResolutionClientWins Resolution = "client-wins"
	ResolutionServerWins Resolution = "server-wins"
)

// ParseResolution validates a winner chosen for a manual conflict.
func ParseResolution(s string) (Resolution, error) {
	switch r := Resolution(strings.ToLower(s)); r {
	case ResolutionClientWins, ResolutionServerWins:
		return r, nil
	default:
		return "", fmt.Errorf("invalid resolution %q: must be client-wins or server-wins", s)
	}
}

// SyncRecord is one pending local mutation awaiting reconciliation.
type SyncRecord struct {
	ID                 string     `validate:"required"`
	EntityType         string     `validate:"required,max=128"`
	EntityID           string     `validate:"required,max=512"`
	ChangeType         ChangeType `validate:"oneof=create update delete"`
	Data               Object
	Timestamp          time.Time `validate:"required"`
	DeviceID           string    `validate:"required"`
	Status             Status    `validate:"oneof=pending processing completed failed conflict"`
	RetryCount         int       `validate:"min=0"`
	Priority           int       `validate:"min=0"`
	ConflictResolution Resolution
	Error              string
	Metadata           Object

	// BaseVersion is the server version the change was made against.
	// Zero means the client never saw a server version.
	BaseVersion int64 `validate:"min=0"`

	// Force makes the next push overwrite server state.
	Force bool

	UpdatedAt time.Time
}

// EntityKey joins entity type and id into the cache/conflict key.
func EntityKey(entityType, entityID string) string {
	return entityType + "/" + entityID
}

// EntityKey returns the record's entity key.
func (r SyncRecord) EntityKey() string {
	return EntityKey(r.EntityType, r.EntityID)
}

var validate = validator.New()

// Validate checks the record's shape. Returns a VALIDATION *Error.
func (r SyncRecord) Validate() error {
	if err := validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
			}
			return &Error{
				Code:     CodeValidation,
				Op:       "validate",
				Message:  strings.Join(fields, "; "),
				RecordID: r.ID,
			}
		}
		return &Error{Code: CodeValidation, Op: "validate", Err: err, RecordID: r.ID}
	}
	if r.ChangeType != ChangeDelete && r.Data == nil {
		return &Error{
			Code:     CodeValidation,
			Op:       "validate",
			Message:  fmt.Sprintf("%s change requires data", r.ChangeType),
			RecordID: r.ID,
		}
	}
	return nil
}

// Field names of the persisted record document.
const (
	FieldID          = "id"
	FieldEntityType  = "entity_type"
	FieldEntityID    = "entity_id"
	FieldEntity      = "entity"
	FieldChangeType  = "change_type"
	FieldData        = "data"
	FieldTimestamp   = "timestamp"
	FieldDeviceID    = "device_id"
	FieldStatus      = "status"
	FieldRetryCount  = "retry_count"
	FieldPriority    = "priority"
	FieldResolution  = "conflict_resolution"
	FieldError       = "error"
	FieldMetadata    = "metadata"
	FieldBaseVersion = "base_version"
	FieldForce       = "force"
	FieldUpdatedAt   = "updated_at"
)

// ToObject converts the record into its stored document form.
// Timestamps are Unix milliseconds.
func (r SyncRecord) ToObject() Object {
	obj := Object{
		FieldID:          String(r.ID),
		FieldEntityType:  String(r.EntityType),
		FieldEntityID:    String(r.EntityID),
		FieldEntity:      String(r.EntityKey()),
		FieldChangeType:  String(r.ChangeType),
		FieldTimestamp:   Int(r.Timestamp.UnixMilli()),
		FieldDeviceID:    String(r.DeviceID),
		FieldStatus:      String(r.Status),
		FieldRetryCount:  Int(r.RetryCount),
		FieldPriority:    Int(r.Priority),
		FieldBaseVersion: Int(r.BaseVersion),
		FieldForce:       Bool(r.Force),
	}
	if r.Data != nil {
		obj[FieldData] = r.Data
	}
	if r.ConflictResolution != "" {
		obj[FieldResolution] = String(r.ConflictResolution)
	}
	if r.Error != "" {
		obj[FieldError] = String(r.Error)
	}
	if len(r.Metadata) > 0 {
		obj[FieldMetadata] = r.Metadata
	}
	if !r.UpdatedAt.IsZero() {
		obj[FieldUpdatedAt] = Int(r.UpdatedAt.UnixMilli())
	}
	return obj
}

// RecordFromObject rebuilds a record from its stored document.
func RecordFromObject(obj Object) (SyncRecord, error) {
	id := obj.GetString(FieldID)
	if id == "" {
		return SyncRecord{}, fmt.Errorf("record document missing %q", FieldID)
	}
	r := SyncRecord{
		ID:                 id,
		EntityType:         obj.GetString(FieldEntityType),
		EntityID:           obj.GetString(FieldEntityID),
		ChangeType:         ChangeType(obj.GetString(FieldChangeType)),
		Data:               obj.GetObject(FieldData),
		Timestamp:          time.UnixMilli(obj.GetInt(FieldTimestamp)),
		DeviceID:           obj.GetString(FieldDeviceID),
		Status:             Status(obj.GetString(FieldStatus)),
		RetryCount:         int(obj.GetInt(FieldRetryCount)),
		Priority:           int(obj.GetInt(FieldPriority)),
		ConflictResolution: Resolution(obj.GetString(FieldResolution)),
		Error:              obj.GetString(FieldError),
		Metadata:           obj.GetObject(FieldMetadata),
		BaseVersion:        obj.GetInt(FieldBaseVersion),
		Force:              obj.GetBool(FieldForce),
	}
	if ms := obj.GetInt(FieldUpdatedAt); ms != 0 {
		r.UpdatedAt = time.UnixMilli(ms)
	}
	return r, nil
}
