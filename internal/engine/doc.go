// Package engine is the sync manager: the public entry point that
// records local changes, drives queue passes while connectivity allows
// and reports status and events.
//
// Flow of a change:
//
//  1. RegisterChange builds a SyncRecord stamped with the device id and
//     persists it before returning.
//  2. If the network allows it and no pass is running, a background Sync
//     starts; otherwise the record waits for the next trigger (auto-sync
//     timer, transition to online, or an explicit Sync).
//  3. Sync runs one queue pass. Conflicts are decided by the configured
//     strategy; manual conflicts park the record and block further writes
//     to the entity until ResolveConflict picks a winner.
//
// At most one pass runs at a time. Concurrent Sync calls return a
// skipped result.
package engine
