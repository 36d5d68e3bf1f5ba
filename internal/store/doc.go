// Package store provides the SQLite-backed local document store.
//
// A store holds named collections of record.Object items. Each
// collection declares a key path and any number of secondary indices;
// the schema also carries a version and a migration callback.
//
// # Layout
//
//   - items: one row per item, canonical JSON body keyed by (collection, pk)
//   - index_entries: one row per (index, key, pk), unique indices enforced
//     by a partial unique index
//   - collections, indices: the catalog of the declared schema
//   - PRAGMA user_version: the schema version on disk
//
// Keys are String or Int values. Ordering is SQLite's native ordering,
// so integer keys sort before text keys.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - single connection: operations are serialized
//
// Batch is the only multi-item atomicity boundary. SQLITE_BUSY and
// SQLITE_LOCKED failures are retried a bounded number of times.
package store
