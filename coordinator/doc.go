// Package coordinator reacts to the live hospital telemetry: it derives
// per-hospital saturation states, decides patient diversions and scales
// the reference center's consult-room staffing from its on-call pool.
//
// All mutable state in this package (the saturation table, the diversion
// counters, the on-call pool) is updated exclusively from the
// coordinator's single consumer goroutine; none of it needs locking.
package coordinator
