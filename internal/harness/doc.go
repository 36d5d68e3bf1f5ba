// Package harness runs scripted sync sessions against a real engine.
//
// A scenario drives a fresh engine over an in-memory store and an
// in-memory authority. It seeds server values, registers local changes,
// flips the network, injects push failures, runs passes and settles
// conflicts, then asserts on the final state and on the trace of engine
// events it observed.
//
// # Scenario Format
//
//	name: manual_conflict
//	description: "A manual conflict parks the record and blocks the entity"
//	config:
//	  conflict_resolution_strategy: manual
//	seed:
//	  - entity_type: task
//	    entity_id: t1
//	    data: { title: server }
//	steps:
//	  - register: { entity_type: task, entity_id: t1, change: update, data: { title: client } }
//	  - sync: { expect: { conflicts_detected: 1 } }
//	  - register: { entity_type: task, entity_id: t1, change: update, data: { title: x }, expect_error: ENTITY_BLOCKED }
//	  - resolve: { conflict: conflict-1, winner: client-wins }
//	  - sync: {}
//	assertions:
//	  - type: server_entity
//	    entity_type: task
//	    entity_id: t1
//	    expect: { title: client }
//
// Step actions: register, sync, network (online, limited, offline),
// fail_next (NETWORK or VALIDATION codes), resolve, cleanup, fetch and
// advance (a duration for the scenario clock).
//
// Assertion types: record_status, queue_size, open_conflicts,
// server_entity, cached_entity, event_order and event_count.
//
// # Determinism
//
// The clock starts at testutil.Epoch and steps one second per reading,
// ids are sequential, the local device is "device-a" and pushes run one
// at a time. The offline mode is pinned to manual so passes only happen
// in sync steps. The same scenario therefore always yields the same
// trace, which golden files under testdata/golden pin down.
package harness
