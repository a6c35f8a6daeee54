// Package sim provides the discrete-event core of the urgencias digital
// twin: one deterministic emergency-department engine per hospital.
//
// # Reading Guide
//
// Start with these three files to understand the simulation kernel:
//   - patient.go: Patient lifecycle (reception → triage → consult → exit) and outcomes
//   - event.go / heap.go: Events that drive the engine and their deterministic ordering
//   - engine.go: Event execution, stage pumps, the gravity hold and diversion hooks
//
// # Architecture
//
// Each hospital runs as an isolated Engine owned by a single goroutine
// (the sim/network runner). Engines never share state; everything that
// crosses hospital boundaries travels through the bus package. Supporting
// pieces:
//   - hospital.go / triage.go: the hospital catalogue and triage level table (YAML-overridable)
//   - pathology.go: weighted pathology catalogue with per-tag triage distributions
//   - demand.go: demand factors (hour/day/month profiles plus advisories)
//   - generator.go: exponential inter-arrival patient synthesis
//   - pools.go: resource pools (desks, triage boxes, consult rooms, beds)
//   - stats.go: rolling windows, last-hour rings and the saturation composite
//
// # Determinism
//
// Time is an int64 tick count of simulated milliseconds. Everything random
// flows from a PartitionedRNG keyed by hospital and subsystem, and the
// event heap breaks ties by (tick, event class, sequence), so a run with
// the same seed and catalogue reproduces tick-for-tick.
package sim
