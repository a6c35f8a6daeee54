// Package incident turns a mass-casualty report into per-hospital
// casualty assignments: a multi-factor score ranks the hospitals, the
// inverted scores apportion the total, and the casualty synthesizer
// produces the individual records injected through the bus.
package incident

import (
	"math/rand"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/urgencias-sim/urgencias-sim/sim"
)

// Incident kinds with a built-in casualty profile.
const (
	KindAccident     = "ACCIDENT"
	KindFire         = "FIRE"
	KindCollapse     = "COLLAPSE"
	KindIntoxication = "INTOXICATION"
)

// Location is an optional incident site.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Incident is one mass-casualty event to apportion.
type Incident struct {
	IncidentID string
	Kind       string

	// TriageDistribution is the casualty severity profile; probabilities
	// sum to 1.
	TriageDistribution map[sim.TriageLevel]float64

	TotalPatients int
	Location      *Location
}

// kindProfile holds a kind's severity distribution and its pathology
// pools, split by severity so that a drawn level maps to a plausible
// complaint.
type kindProfile struct {
	levels map[sim.TriageLevel]float64
	severe []string // pathologies for RED and ORANGE casualties
	mild   []string // pathologies for YELLOW, GREEN and BLUE casualties
}

var kindProfiles = map[string]kindProfile{
	KindAccident: {
		levels: map[sim.TriageLevel]float64{
			sim.LevelRed: 0.10, sim.LevelOrange: 0.25, sim.LevelYellow: 0.35, sim.LevelGreen: 0.25, sim.LevelBlue: 0.05,
		},
		severe: []string{"traumatismo", "fractura"},
		mild:   []string{"traumatismo", "fractura", "herida"},
	},
	KindFire: {
		levels: map[sim.TriageLevel]float64{
			sim.LevelRed: 0.15, sim.LevelOrange: 0.30, sim.LevelYellow: 0.30, sim.LevelGreen: 0.20, sim.LevelBlue: 0.05,
		},
		severe: []string{"quemadura", "intoxicacion_humo"},
		mild:   []string{"quemadura", "intoxicacion_humo", "herida"},
	},
	KindCollapse: {
		levels: map[sim.TriageLevel]float64{
			sim.LevelRed: 0.20, sim.LevelOrange: 0.30, sim.LevelYellow: 0.30, sim.LevelGreen: 0.15, sim.LevelBlue: 0.05,
		},
		severe: []string{"traumatismo", "fractura"},
		mild:   []string{"traumatismo", "herida"},
	},
	KindIntoxication: {
		levels: map[sim.TriageLevel]float64{
			sim.LevelRed: 0.05, sim.LevelOrange: 0.20, sim.LevelYellow: 0.40, sim.LevelGreen: 0.30, sim.LevelBlue: 0.05,
		},
		severe: []string{"intoxicacion"},
		mild:   []string{"intoxicacion", "gastroenteritis"},
	},
}

// defaultProfile covers unknown kinds: mostly walking wounded.
var defaultProfile = kindProfile{
	levels: map[sim.TriageLevel]float64{
		sim.LevelOrange: 0.10, sim.LevelYellow: 0.40, sim.LevelGreen: 0.40, sim.LevelBlue: 0.10,
	},
	severe: []string{"traumatismo"},
	mild:   []string{"herida", "traumatismo"},
}

func profileFor(kind string) kindProfile {
	if p, ok := kindProfiles[strings.ToUpper(kind)]; ok {
		return p
	}
	return defaultProfile
}

// New builds an incident from a kind name. Unknown kinds fall back to a
// mild default profile; the kind string is kept as reported.
func New(kind string, totalPatients int, location *Location) Incident {
	return Incident{
		IncidentID:         "inc-" + uuid.NewString(),
		Kind:               strings.ToUpper(kind),
		TriageDistribution: profileFor(kind).levels,
		TotalPatients:      totalPatients,
		Location:           location,
	}
}

// Casualty is the wire record published to incident-patients, one per
// victim.
type Casualty struct {
	PatientID  string         `json:"patientId"`
	HospitalID sim.HospitalID `json:"hospitalId"`
	Age        int            `json:"age"`
	Sex        string         `json:"sex"`
	Pathology  string         `json:"pathology"`
}

// Casualties synthesizes the individual victim records for a computed
// distribution: severity drawn from the incident's triage distribution,
// pathology from the matching severity pool, demographics from the same
// population model as walk-in arrivals.
func Casualties(inc Incident, counts map[sim.HospitalID]int, rng *rand.Rand) []Casualty {
	profile := profileFor(inc.Kind)
	var out []Casualty
	for _, id := range sortedHospitals(counts) {
		for i := 0; i < counts[id]; i++ {
			level := sampleLevel(inc.TriageDistribution, rng)
			pool := profile.mild
			if level <= sim.LevelOrange {
				pool = profile.severe
			}
			out = append(out, Casualty{
				PatientID:  "vic-" + uuid.NewString(),
				HospitalID: id,
				Age:        sim.SampleAge(rng),
				Sex:        sim.SampleSex(rng),
				Pathology:  pool[rng.Intn(len(pool))],
			})
		}
	}
	return out
}

func sampleLevel(dist map[sim.TriageLevel]float64, rng *rand.Rand) sim.TriageLevel {
	target := rng.Float64()
	for level := sim.LevelRed; level <= sim.LevelBlue; level++ {
		target -= dist[level]
		if target < 0 {
			return level
		}
	}
	return sim.LevelGreen
}

// sortedHospitals returns the count keys in id order so that casualty
// synthesis consumes the RNG deterministically.
func sortedHospitals(counts map[sim.HospitalID]int) []sim.HospitalID {
	ids := make([]sim.HospitalID, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
