package sim

import (
	"math"
	"testing"
)

// === SimulationKey Tests ===

func TestSimulationKey_Creation(t *testing.T) {
	tests := []struct {
		name string
		seed int64
	}{
		{"positive seed", 42},
		{"zero seed", 0},
		{"negative seed", -1},
		{"max int64", math.MaxInt64},
		{"min int64", math.MinInt64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := NewSimulationKey(tt.seed)
			if int64(key) != tt.seed {
				t.Errorf("NewSimulationKey(%d) = %d, want %d", tt.seed, key, tt.seed)
			}
		})
	}
}

// === PartitionedRNG Tests ===

func TestPartitionedRNG_DeterministicDerivation(t *testing.T) {
	// Same key+name produces the same sequence.
	rng1 := NewPartitionedRNG(NewSimulationKey(42))
	rng2 := NewPartitionedRNG(NewSimulationKey(42))

	name := SubsystemHospital(HospitalCHUAC, SubsystemArrivals)
	for i := 0; i < 3; i++ {
		v1 := rng1.ForSubsystem(name).Float64()
		v2 := rng2.ForSubsystem(name).Float64()
		if v1 != v2 {
			t.Errorf("draw %d: got %v and %v, want identical", i, v1, v2)
		}
	}
}

func TestPartitionedRNG_SubsystemIsolation(t *testing.T) {
	// Drawing from one subsystem never perturbs another: the triage
	// stream must be identical whether or not arrivals drew first.
	name := SubsystemHospital(HospitalCHUAC, SubsystemTriage)

	rngA := NewPartitionedRNG(NewSimulationKey(42))
	for i := 0; i < 100; i++ {
		rngA.ForSubsystem(SubsystemHospital(HospitalCHUAC, SubsystemArrivals)).Float64()
	}
	rngB := NewPartitionedRNG(NewSimulationKey(42))

	for i := 0; i < 10; i++ {
		vA := rngA.ForSubsystem(name).Float64()
		vB := rngB.ForSubsystem(name).Float64()
		if vA != vB {
			t.Errorf("draw %d: subsystem leaked, got %v and %v", i, vA, vB)
		}
	}
}

func TestPartitionedRNG_HospitalScoping(t *testing.T) {
	// The same subsystem at two hospitals draws independent streams.
	rng := NewPartitionedRNG(NewSimulationKey(42))
	a := rng.ForSubsystem(SubsystemHospital(HospitalCHUAC, SubsystemStages))
	b := rng.ForSubsystem(SubsystemHospital(HospitalModelo, SubsystemStages))

	same := true
	for i := 0; i < 10; i++ {
		if a.Float64() != b.Float64() {
			same = false
		}
	}
	if same {
		t.Error("CHUAC and Modelo stage streams are identical across 10 draws")
	}
}

func TestPartitionedRNG_CachesInstances(t *testing.T) {
	rng := NewPartitionedRNG(NewSimulationKey(7))
	name := SubsystemHospital(HospitalSanRafael, SubsystemIncident)
	if rng.ForSubsystem(name) != rng.ForSubsystem(name) {
		t.Error("same subsystem name returned distinct RNG instances")
	}
}

func TestPartitionedRNG_DifferentKeysDiverge(t *testing.T) {
	name := SubsystemHospital(HospitalCHUAC, SubsystemArrivals)
	a := NewPartitionedRNG(NewSimulationKey(1)).ForSubsystem(name)
	b := NewPartitionedRNG(NewSimulationKey(2)).ForSubsystem(name)

	same := true
	for i := 0; i < 10; i++ {
		if a.Float64() != b.Float64() {
			same = false
		}
	}
	if same {
		t.Error("different simulation keys produced identical streams")
	}
}

func TestPartitionedRNG_KeyRoundTrip(t *testing.T) {
	key := NewSimulationKey(1234)
	if got := NewPartitionedRNG(key).Key(); got != key {
		t.Errorf("Key() = %d, want %d", got, key)
	}
}
