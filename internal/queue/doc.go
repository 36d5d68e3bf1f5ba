// Package queue is the durable sync queue.
//
// Every local mutation becomes a record.SyncRecord in the sync_records
// collection. ProcessQueue pushes pending records to the remote
// authority, in priority-then-age order, with bounded fan-out:
//
//	pending -> processing -> completed
//	                      -> pending    (retryable failure, under the ceiling)
//	                      -> failed     (terminal or out of retries)
//	                      -> conflict   (manual strategy, parked)
//
// Records of the same entity are pushed one after another, oldest first,
// so the authority sees a device's edits in the order they were made.
// When one of them does not complete, the rest of that entity's records
// wait for the next pass.
//
// A record found in processing at the start of a pass was abandoned by a
// crash or by a failed status write. It is returned to pending; the
// authority deduplicates replays by record id.
package queue
