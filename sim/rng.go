package sim

import (
	"fmt"
	"hash/fnv"
	"math/rand"
)

// === SimulationKey ===

// SimulationKey uniquely identifies a reproducible simulation run.
// Two runs with the same SimulationKey and identical catalogue MUST
// produce tick-for-tick identical engine behavior.
type SimulationKey int64

// NewSimulationKey creates a SimulationKey from a seed value.
func NewSimulationKey(seed int64) SimulationKey {
	return SimulationKey(seed)
}

// === Subsystem Constants ===

const (
	// SubsystemArrivals is the RNG subsystem for patient arrival synthesis
	// (inter-arrival gaps, age, sex, pathology draw).
	SubsystemArrivals = "arrivals"

	// SubsystemStages is the RNG subsystem for stage duration noise.
	SubsystemStages = "stages"

	// SubsystemTriage is the RNG subsystem for triage level sampling and
	// the observation coin flip.
	SubsystemTriage = "triage"

	// SubsystemIncident is the RNG subsystem for incident casualty
	// synthesis.
	SubsystemIncident = "incident"
)

// SubsystemHospital scopes a subsystem name to one hospital so that
// hospitals with the same master seed still draw independent streams.
func SubsystemHospital(id HospitalID, subsystem string) string {
	return fmt.Sprintf("%s_%s", id, subsystem)
}

// === PartitionedRNG ===

// PartitionedRNG provides deterministic, isolated RNG instances per
// subsystem. Every subsystem seed derives as masterSeed XOR
// fnv1a64(subsystemName), so adding a consumer of randomness never
// perturbs the draws of existing ones.
//
// Thread-safety: NOT thread-safe. Must be called from a single goroutine.
type PartitionedRNG struct {
	key        SimulationKey
	subsystems map[string]*rand.Rand
}

// NewPartitionedRNG creates a PartitionedRNG from a SimulationKey.
func NewPartitionedRNG(key SimulationKey) *PartitionedRNG {
	return &PartitionedRNG{
		key:        key,
		subsystems: make(map[string]*rand.Rand),
	}
}

// ForSubsystem returns a deterministically-seeded RNG for the named
// subsystem. The same subsystem name always returns the same *rand.Rand
// instance (cached). Never returns nil.
func (p *PartitionedRNG) ForSubsystem(name string) *rand.Rand {
	if rng, ok := p.subsystems[name]; ok {
		return rng
	}
	rng := rand.New(rand.NewSource(int64(p.key) ^ fnv1a64(name)))
	p.subsystems[name] = rng
	return rng
}

// Key returns the SimulationKey used to create this PartitionedRNG.
func (p *PartitionedRNG) Key() SimulationKey {
	return p.key
}

// fnv1a64 computes a 64-bit FNV-1a hash of the input string.
func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}
