package sim

import (
	"encoding/json"
	"fmt"
)

// TriageLevel is a Manchester-style urgency level. The ordinal encodes
// priority: lower values are seen first.
type TriageLevel int

const (
	LevelRed TriageLevel = iota
	LevelOrange
	LevelYellow
	LevelGreen
	LevelBlue

	levelCount = 5
)

var levelNames = [levelCount]string{"RED", "ORANGE", "YELLOW", "GREEN", "BLUE"}

func (l TriageLevel) String() string {
	if l < 0 || int(l) >= levelCount {
		return fmt.Sprintf("TriageLevel(%d)", int(l))
	}
	return levelNames[l]
}

// Valid reports whether l is one of the five defined levels.
func (l TriageLevel) Valid() bool {
	return l >= LevelRed && l <= LevelBlue
}

// ParseTriageLevel converts a wire name ("RED".."BLUE") to a TriageLevel.
func ParseTriageLevel(s string) (TriageLevel, error) {
	for i, name := range levelNames {
		if name == s {
			return TriageLevel(i), nil
		}
	}
	return 0, fmt.Errorf("unknown triage level %q", s)
}

// MarshalJSON encodes the level as its wire name.
func (l TriageLevel) MarshalJSON() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("cannot marshal invalid triage level %d", int(l))
	}
	return json.Marshal(l.String())
}

// UnmarshalJSON decodes a wire name into the level.
func (l *TriageLevel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseTriageLevel(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// MarshalYAML / UnmarshalYAML let catalogue files key the level table by
// wire name.
func (l TriageLevel) MarshalYAML() (interface{}, error) {
	return l.String(), nil
}

func (l *TriageLevel) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := ParseTriageLevel(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// TriageParams are the per-level care parameters.
type TriageParams struct {
	// MaxWaitMinutes is the target maximum wait before consult.
	MaxWaitMinutes float64 `yaml:"maxWaitMinutes"`

	// BaseConsultMinutes is the consult duration for a single doctor,
	// before the doctor speed-up divisor and noise.
	BaseConsultMinutes float64 `yaml:"baseConsultMinutes"`

	// ProbabilityObservation is the chance the consult ends in an
	// observation stay instead of a discharge.
	ProbabilityObservation float64 `yaml:"probabilityObservation"`

	// RequiresReference marks levels that must be treated at the reference
	// center (candidates for a gravity diversion elsewhere).
	RequiresReference bool `yaml:"requiresReference"`
}

// TriageTable maps every level to its parameters.
type TriageTable map[TriageLevel]TriageParams

// DefaultTriageTable returns the built-in level table.
func DefaultTriageTable() TriageTable {
	return TriageTable{
		LevelRed:    {MaxWaitMinutes: 0, BaseConsultMinutes: 45, ProbabilityObservation: 0.85, RequiresReference: true},
		LevelOrange: {MaxWaitMinutes: 15, BaseConsultMinutes: 30, ProbabilityObservation: 0.50, RequiresReference: true},
		LevelYellow: {MaxWaitMinutes: 60, BaseConsultMinutes: 20, ProbabilityObservation: 0.25, RequiresReference: false},
		LevelGreen:  {MaxWaitMinutes: 120, BaseConsultMinutes: 15, ProbabilityObservation: 0.10, RequiresReference: false},
		LevelBlue:   {MaxWaitMinutes: 240, BaseConsultMinutes: 10, ProbabilityObservation: 0.02, RequiresReference: false},
	}
}
