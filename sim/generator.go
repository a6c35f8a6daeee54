package sim

import (
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/urgencias-sim/urgencias-sim/bus"
)

// GeneratedArrival pairs a wire arrival record with its engine tick.
type GeneratedArrival struct {
	Arrival PatientArrival
	Tick    int64
}

// Generator synthesizes one hospital's walk-in arrivals: exponential
// inter-arrival gaps around the context-modulated rate, demographics from
// the bucketed population model, pathology from the weighted catalogue.
// The rate is re-evaluated at every arrival's simulated wall time, so the
// stream follows the hour/day/month profiles as the clock crosses them.
//
// Thread-safety: NOT thread-safe. Owned by the hospital's runner.
type Generator struct {
	cfg        HospitalConfig
	rng        *rand.Rand
	provider   ContextProvider
	paths      *PathologyCatalog
	clockStart time.Time

	nextTick int64
	primed   bool
}

// NewGenerator builds a generator for one hospital. provider may be nil
// for a neutral context; paths may be nil for the default catalogue.
func NewGenerator(cfg HospitalConfig, rng *PartitionedRNG, provider ContextProvider, paths *PathologyCatalog, clockStart time.Time) *Generator {
	if provider == nil {
		provider = StaticFactors{F: NeutralFactors()}
	}
	if paths == nil {
		paths = DefaultPathologies()
	}
	return &Generator{
		cfg:        cfg,
		rng:        rng.ForSubsystem(SubsystemHospital(cfg.ID, SubsystemArrivals)),
		provider:   provider,
		paths:      paths,
		clockStart: clockStart,
	}
}

// NextUpTo returns every arrival due at or before now, in tick order.
// The RNG is consumed in arrival order, so slicing the same horizon into
// different NextUpTo calls yields the same stream.
func (g *Generator) NextUpTo(now int64) []GeneratedArrival {
	if !g.primed {
		g.nextTick = g.gapTicks(g.rateAt(WallAt(g.clockStart, 0)))
		g.primed = true
	}

	var out []GeneratedArrival
	for g.nextTick <= now {
		tick := g.nextTick
		wall := WallAt(g.clockStart, tick)
		factors := g.factorsAt(wall)
		rate := EffectiveRate(g.cfg.HourlyRate(), factors)

		out = append(out, GeneratedArrival{
			Arrival: g.synthesize(wall, factors, rate),
			Tick:    tick,
		})
		g.nextTick = tick + g.gapTicks(rate)
	}
	return out
}

// synthesize draws one patient record.
func (g *Generator) synthesize(wall time.Time, factors Factors, rate float64) PatientArrival {
	pathology := g.paths.Sample(g.rng, factors)
	return PatientArrival{
		PatientID:       "p-" + uuid.NewString(),
		HospitalID:      g.cfg.ID,
		Age:             SampleAge(g.rng),
		Sex:             SampleSex(g.rng),
		PathologyTag:    pathology.Tag,
		ArrivalWallTime: bus.NewUTCTime(wall),
		DemandFactor:    rate / g.cfg.HourlyRate(),
	}
}

// gapTicks draws an exponential inter-arrival gap for an hourly rate.
// Always at least one tick.
func (g *Generator) gapTicks(hourlyRate float64) int64 {
	meanMinutes := 60.0 / hourlyRate
	gap := MinutesToTicks(g.rng.ExpFloat64() * meanMinutes)
	if gap < 1 {
		return 1
	}
	return gap
}

func (g *Generator) rateAt(wall time.Time) float64 {
	return EffectiveRate(g.cfg.HourlyRate(), g.factorsAt(wall))
}

func (g *Generator) factorsAt(wall time.Time) Factors {
	factors, err := g.provider.CurrentFactors(wall)
	if err != nil {
		logrus.Debugf("generator %s: context provider failed, using neutral factors: %v", g.cfg.ID, err)
		return NeutralFactors()
	}
	return factors
}
