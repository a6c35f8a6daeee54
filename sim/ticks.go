package sim

import (
	"math"
	"time"
)

// Simulation time is measured in ticks of one simulated millisecond.
const (
	// TicksPerMinute is the number of ticks in one simulated minute.
	TicksPerMinute int64 = 60_000

	// TicksPerHour is the number of ticks in one simulated hour.
	TicksPerHour = 60 * TicksPerMinute
)

// MinutesToTicks converts simulated minutes to ticks, rounding to the
// nearest tick.
func MinutesToTicks(minutes float64) int64 {
	return int64(math.Round(minutes * float64(TicksPerMinute)))
}

// TicksToMinutes converts ticks to simulated minutes.
func TicksToMinutes(ticks int64) float64 {
	return float64(ticks) / float64(TicksPerMinute)
}

// WallAt maps a tick onto the simulated wall clock anchored at start.
// Published timestamps are always derived this way, never from the host
// clock, so one wall second of host time has no bearing on them.
func WallAt(start time.Time, tick int64) time.Time {
	return start.Add(time.Duration(tick) * time.Millisecond)
}
