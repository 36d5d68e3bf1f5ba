package engine

import "github.com/google/uuid"

// IDGenerator produces sync record ids.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 record ids.
//
// Safe for concurrent use. Panics if the system random source fails.
type UUIDv7Generator struct{}

// Generate returns a hyphenated UUIDv7.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// IDFunc adapts a function to IDGenerator.
type IDFunc func() string

// Generate calls f.
func (f IDFunc) Generate() string { return f() }
