// Package predictor provides per-hospital arrival forecasts and anomaly
// signals: a Holt-Winters model trained on (synthetic) hourly history,
// with a profile-only fallback when the model cannot fit.
package predictor

import (
	"hash/fnv"
	"math"
	"math/rand"
	"time"

	"github.com/urgencias-sim/urgencias-sim/sim"
)

// HistoryDays is the synthetic training horizon.
const HistoryDays = 90

// HourCount is one hourly arrival observation.
type HourCount struct {
	Hour  time.Time
	Count int
}

// SyntheticHistory generates a deterministic hourly arrival series for a
// hospital, ending just before end. The draws are Poisson around the
// profile-modulated base rate, seeded by a hash of the hospital id so
// each hospital gets its own stable history.
func SyntheticHistory(cfg sim.HospitalConfig, profiles sim.FactorProfiles, days int, end time.Time) []HourCount {
	rng := rand.New(rand.NewSource(historySeed(cfg.ID)))
	end = end.UTC().Truncate(time.Hour)
	hours := days * 24

	out := make([]HourCount, 0, hours)
	for i := hours; i > 0; i-- {
		hour := end.Add(-time.Duration(i) * time.Hour)
		fHour, fDay, fMonth := profiles.At(hour)
		rate := cfg.HourlyRate() * fHour * fDay * fMonth
		out = append(out, HourCount{Hour: hour, Count: poisson(rng, rate)})
	}
	return out
}

func historySeed(id sim.HospitalID) int64 {
	h := fnv.New64a()
	h.Write([]byte(id))
	return int64(h.Sum64())
}

// poisson draws a Poisson count (Knuth's method; the twin's hourly rates
// stay far below the regime where this loses precision).
func poisson(rng *rand.Rand, lambda float64) int {
	if lambda <= 0 {
		return 0
	}
	limit := math.Exp(-lambda)
	k := 0
	p := 1.0
	for {
		p *= rng.Float64()
		if p <= limit {
			return k
		}
		k++
	}
}
