// Package record defines the value model, the sync record and conflict
// types, and the error taxonomy shared by all edgesync components.
//
// This package imports nothing internal. Every other package depends on
// it, so it stays the foundational layer.
//
// Key constraints:
//   - No float values anywhere, integers only
//   - Persisted documents use canonical JSON (MarshalCanonical)
//   - Document field names are snake_case
package record
