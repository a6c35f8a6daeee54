package sim

import (
	"math/rand"
)

// Pathology groups. Context bias keys on the group, not the tag.
const (
	GroupRespiratory  = "respiratory"
	GroupCardiac      = "cardiac"
	GroupTrauma       = "trauma"
	GroupDigestive    = "digestive"
	GroupNeurological = "neurological"
	GroupIntoxication = "intoxication"
	GroupGeneral      = "general"
)

// Pathology is one presenting complaint: a weighted draw at arrival time
// plus the triage level distribution it resolves to.
type Pathology struct {
	Tag    string
	Group  string
	Weight float64

	// Levels is the triage outcome distribution; probabilities sum to 1.
	Levels map[TriageLevel]float64
}

// PathologyCatalog is the weighted complaint catalogue.
type PathologyCatalog struct {
	items []Pathology
	byTag map[string]int
}

// NewPathologyCatalog builds a catalogue from an explicit item list.
func NewPathologyCatalog(items []Pathology) *PathologyCatalog {
	c := &PathologyCatalog{
		items: items,
		byTag: make(map[string]int, len(items)),
	}
	for i := range items {
		c.byTag[items[i].Tag] = i
	}
	return c
}

// DefaultPathologies returns the built-in complaint catalogue. Tags keep
// the Spanish names used across the hospital dashboards.
func DefaultPathologies() *PathologyCatalog {
	return NewPathologyCatalog([]Pathology{
		{Tag: "dolor_toracico", Group: GroupCardiac, Weight: 0.06,
			Levels: map[TriageLevel]float64{LevelRed: 0.12, LevelOrange: 0.38, LevelYellow: 0.34, LevelGreen: 0.14, LevelBlue: 0.02}},
		{Tag: "disnea", Group: GroupRespiratory, Weight: 0.07,
			Levels: map[TriageLevel]float64{LevelRed: 0.08, LevelOrange: 0.30, LevelYellow: 0.40, LevelGreen: 0.18, LevelBlue: 0.04}},
		{Tag: "infeccion_respiratoria", Group: GroupRespiratory, Weight: 0.09,
			Levels: map[TriageLevel]float64{LevelOrange: 0.08, LevelYellow: 0.32, LevelGreen: 0.45, LevelBlue: 0.15}},
		{Tag: "traumatismo", Group: GroupTrauma, Weight: 0.10,
			Levels: map[TriageLevel]float64{LevelRed: 0.04, LevelOrange: 0.16, LevelYellow: 0.35, LevelGreen: 0.38, LevelBlue: 0.07}},
		{Tag: "fractura", Group: GroupTrauma, Weight: 0.07,
			Levels: map[TriageLevel]float64{LevelOrange: 0.12, LevelYellow: 0.48, LevelGreen: 0.36, LevelBlue: 0.04}},
		{Tag: "herida", Group: GroupTrauma, Weight: 0.08,
			Levels: map[TriageLevel]float64{LevelOrange: 0.05, LevelYellow: 0.25, LevelGreen: 0.50, LevelBlue: 0.20}},
		{Tag: "dolor_abdominal", Group: GroupDigestive, Weight: 0.09,
			Levels: map[TriageLevel]float64{LevelRed: 0.02, LevelOrange: 0.18, LevelYellow: 0.42, LevelGreen: 0.32, LevelBlue: 0.06}},
		{Tag: "gastroenteritis", Group: GroupDigestive, Weight: 0.06,
			Levels: map[TriageLevel]float64{LevelOrange: 0.04, LevelYellow: 0.26, LevelGreen: 0.50, LevelBlue: 0.20}},
		{Tag: "cefalea", Group: GroupNeurological, Weight: 0.06,
			Levels: map[TriageLevel]float64{LevelRed: 0.02, LevelOrange: 0.12, LevelYellow: 0.36, LevelGreen: 0.40, LevelBlue: 0.10}},
		{Tag: "ictus", Group: GroupNeurological, Weight: 0.03,
			Levels: map[TriageLevel]float64{LevelRed: 0.45, LevelOrange: 0.40, LevelYellow: 0.12, LevelGreen: 0.03}},
		{Tag: "intoxicacion", Group: GroupIntoxication, Weight: 0.04,
			Levels: map[TriageLevel]float64{LevelRed: 0.06, LevelOrange: 0.24, LevelYellow: 0.40, LevelGreen: 0.25, LevelBlue: 0.05}},
		{Tag: "intoxicacion_humo", Group: GroupIntoxication, Weight: 0.01,
			Levels: map[TriageLevel]float64{LevelRed: 0.10, LevelOrange: 0.35, LevelYellow: 0.35, LevelGreen: 0.18, LevelBlue: 0.02}},
		{Tag: "quemadura", Group: GroupTrauma, Weight: 0.02,
			Levels: map[TriageLevel]float64{LevelRed: 0.08, LevelOrange: 0.27, LevelYellow: 0.40, LevelGreen: 0.22, LevelBlue: 0.03}},
		{Tag: "fiebre", Group: GroupGeneral, Weight: 0.08,
			Levels: map[TriageLevel]float64{LevelOrange: 0.06, LevelYellow: 0.30, LevelGreen: 0.46, LevelBlue: 0.18}},
		{Tag: "mareo", Group: GroupGeneral, Weight: 0.06,
			Levels: map[TriageLevel]float64{LevelOrange: 0.08, LevelYellow: 0.30, LevelGreen: 0.44, LevelBlue: 0.18}},
		{Tag: "dolor_lumbar", Group: GroupGeneral, Weight: 0.07,
			Levels: map[TriageLevel]float64{LevelYellow: 0.20, LevelGreen: 0.55, LevelBlue: 0.25}},
		{Tag: "reaccion_alergica", Group: GroupGeneral, Weight: 0.04,
			Levels: map[TriageLevel]float64{LevelRed: 0.05, LevelOrange: 0.20, LevelYellow: 0.35, LevelGreen: 0.32, LevelBlue: 0.08}},
	})
}

// defaultLevels is the fallback triage distribution for tags not in the
// catalogue (incident pathologies injected from outside).
var defaultLevels = map[TriageLevel]float64{
	LevelOrange: 0.10, LevelYellow: 0.40, LevelGreen: 0.40, LevelBlue: 0.10,
}

// Sample draws one pathology, reweighting groups by the demand context:
// adverse weather favors respiratory complaints, mass events favor trauma,
// football days favor trauma and intoxication.
func (c *PathologyCatalog) Sample(rng *rand.Rand, f Factors) Pathology {
	if len(c.items) == 0 {
		return Pathology{Tag: "general", Group: GroupGeneral, Levels: defaultLevels}
	}

	weights := make([]float64, len(c.items))
	total := 0.0
	for i, item := range c.items {
		w := item.Weight
		if f.FWeather > 1.0 && item.Group == GroupRespiratory {
			w *= 1.5
		}
		if f.FEvents > 1.0 && item.Group == GroupTrauma {
			w *= 1.4
		}
		if f.FFootball > 1.0 {
			switch item.Group {
			case GroupTrauma:
				w *= 1.3
			case GroupIntoxication:
				w *= 1.5
			}
		}
		weights[i] = w
		total += w
	}

	target := rng.Float64() * total
	for i, w := range weights {
		target -= w
		if target < 0 {
			return c.items[i]
		}
	}
	return c.items[len(c.items)-1]
}

// LevelFor samples the triage level for a tag. Unknown tags use the
// fallback distribution.
func (c *PathologyCatalog) LevelFor(tag string, rng *rand.Rand) TriageLevel {
	levels := defaultLevels
	if i, ok := c.byTag[tag]; ok {
		levels = c.items[i].Levels
	}
	target := rng.Float64()
	for level := LevelRed; level <= LevelBlue; level++ {
		target -= levels[level]
		if target < 0 {
			return level
		}
	}
	return LevelBlue
}

// Tags returns the catalogue's tags in declaration order.
func (c *PathologyCatalog) Tags() []string {
	tags := make([]string, len(c.items))
	for i, item := range c.items {
		tags[i] = item.Tag
	}
	return tags
}

// === Demographics ===

// Age buckets and their draw weights for synthesized patients.
var (
	ageBuckets = [7][2]int{{0, 4}, {5, 14}, {15, 29}, {30, 44}, {45, 59}, {60, 74}, {75, 95}}
	ageWeights = [7]float64{0.08, 0.10, 0.18, 0.20, 0.18, 0.15, 0.11}
)

// probabilityFemale is the sex draw bias of the synthesized population.
const probabilityFemale = 0.52

// SampleAge draws an age from the bucketed distribution, uniform within
// the bucket.
func SampleAge(rng *rand.Rand) int {
	target := rng.Float64()
	bucket := ageBuckets[len(ageBuckets)-1]
	for i, w := range ageWeights {
		target -= w
		if target < 0 {
			bucket = ageBuckets[i]
			break
		}
	}
	return bucket[0] + rng.Intn(bucket[1]-bucket[0]+1)
}

// SampleSex draws "F" or "M".
func SampleSex(rng *rand.Rand) string {
	if rng.Float64() < probabilityFemale {
		return "F"
	}
	return "M"
}
