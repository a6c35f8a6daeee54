package sim

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrUnknownHospital marks a reference to a hospital id absent from the
// catalogue.
var ErrUnknownHospital = errors.New("unknown hospital")

// HospitalID identifies one hospital of the network.
// Uses a distinct type (not an alias) to prevent accidental string mixing.
type HospitalID string

const (
	HospitalCHUAC     HospitalID = "CHUAC"
	HospitalModelo    HospitalID = "Modelo"
	HospitalSanRafael HospitalID = "San_Rafael"
)

// HospitalConfig describes one hospital's fixed capacity and demand base.
type HospitalConfig struct {
	ID              HospitalID `yaml:"id"`
	Name            string     `yaml:"name"`
	ReceptionDesks  int        `yaml:"receptionDesks"`
	TriageBoxes     int        `yaml:"triageBoxes"`
	ConsultRooms    int        `yaml:"consultRooms"`
	ObservationBeds int        `yaml:"observationBeds"`

	// BaseDailyArrivals is the expected patient count per day with all
	// demand factors at 1.0.
	BaseDailyArrivals float64 `yaml:"baseDailyArrivals"`

	Lat float64 `yaml:"lat"`
	Lon float64 `yaml:"lon"`

	// ReferenceCenter marks the hospital that receives gravity diversions.
	// Exactly one per catalogue.
	ReferenceCenter bool `yaml:"referenceCenter"`
}

// HourlyRate is the base arrival rate λ₀ in patients per hour.
func (c HospitalConfig) HourlyRate() float64 {
	return c.BaseDailyArrivals / 24.0
}

// Catalog is the full network description: hospitals, the triage level
// table and the demand factor profiles. All sections are YAML-overridable;
// omitted sections keep the built-in defaults.
type Catalog struct {
	Hospitals []HospitalConfig `yaml:"hospitals"`
	Levels    TriageTable      `yaml:"levels"`
	Factors   FactorProfiles   `yaml:"factors"`
}

// DefaultCatalog returns the built-in three-hospital network of the
// A Coruña area.
func DefaultCatalog() *Catalog {
	return &Catalog{
		Hospitals: []HospitalConfig{
			{
				ID: HospitalCHUAC, Name: "Complexo Hospitalario Universitario A Coruña",
				ReceptionDesks: 4, TriageBoxes: 5, ConsultRooms: 10, ObservationBeds: 30,
				BaseDailyArrivals: 300, Lat: 43.2840, Lon: -8.3890, ReferenceCenter: true,
			},
			{
				ID: HospitalModelo, Name: "Hospital Modelo",
				ReceptionDesks: 2, TriageBoxes: 2, ConsultRooms: 5, ObservationBeds: 12,
				BaseDailyArrivals: 120, Lat: 43.3623, Lon: -8.4115,
			},
			{
				ID: HospitalSanRafael, Name: "Hospital San Rafael",
				ReceptionDesks: 2, TriageBoxes: 2, ConsultRooms: 4, ObservationBeds: 10,
				BaseDailyArrivals: 96, Lat: 43.3500, Lon: -8.3950,
			},
		},
		Levels:  DefaultTriageTable(),
		Factors: DefaultFactorProfiles(),
	}
}

// Get returns the config for id, or ErrUnknownHospital.
func (c *Catalog) Get(id HospitalID) (HospitalConfig, error) {
	for _, h := range c.Hospitals {
		if h.ID == id {
			return h, nil
		}
	}
	return HospitalConfig{}, fmt.Errorf("%w: %s", ErrUnknownHospital, id)
}

// Reference returns the reference center, ok=false if the catalogue has
// none.
func (c *Catalog) Reference() (HospitalConfig, bool) {
	for _, h := range c.Hospitals {
		if h.ReferenceCenter {
			return h, true
		}
	}
	return HospitalConfig{}, false
}

// IDs returns the hospital ids in catalogue order.
func (c *Catalog) IDs() []HospitalID {
	ids := make([]HospitalID, 0, len(c.Hospitals))
	for _, h := range c.Hospitals {
		ids = append(ids, h.ID)
	}
	return ids
}

// Validate checks capacities, rates and the reference-center count.
func (c *Catalog) Validate() error {
	if len(c.Hospitals) == 0 {
		return fmt.Errorf("catalog: at least one hospital required")
	}
	references := 0
	seen := map[HospitalID]bool{}
	for i, h := range c.Hospitals {
		prefix := fmt.Sprintf("hospital[%d] (%s)", i, h.ID)
		if h.ID == "" {
			return fmt.Errorf("%s: id must not be empty", prefix)
		}
		if seen[h.ID] {
			return fmt.Errorf("%s: duplicate id", prefix)
		}
		seen[h.ID] = true
		if h.ReceptionDesks < 1 || h.TriageBoxes < 1 || h.ConsultRooms < 1 || h.ObservationBeds < 1 {
			return fmt.Errorf("%s: every capacity must be >= 1", prefix)
		}
		if h.BaseDailyArrivals <= 0 {
			return fmt.Errorf("%s: baseDailyArrivals must be positive, got %f", prefix, h.BaseDailyArrivals)
		}
		if h.ReferenceCenter {
			references++
		}
	}
	if references != 1 {
		return fmt.Errorf("catalog: exactly one reference center required, got %d", references)
	}
	for level := LevelRed; level <= LevelBlue; level++ {
		params, ok := c.Levels[level]
		if !ok {
			return fmt.Errorf("catalog: missing triage level %s", level)
		}
		if params.BaseConsultMinutes <= 0 {
			return fmt.Errorf("catalog: level %s: baseConsultMinutes must be positive", level)
		}
		if params.ProbabilityObservation < 0 || params.ProbabilityObservation > 1 {
			return fmt.Errorf("catalog: level %s: probabilityObservation must be in [0,1]", level)
		}
	}
	return c.Factors.Validate()
}

// LoadCatalog reads a catalogue override file. Sections missing from the
// file keep the defaults, so a file may override just the hospital list.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	var override Catalog
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&override); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}

	catalog := DefaultCatalog()
	if len(override.Hospitals) > 0 {
		catalog.Hospitals = override.Hospitals
	}
	for level, params := range override.Levels {
		if !level.Valid() {
			return nil, fmt.Errorf("parsing catalog: invalid triage level %d", int(level))
		}
		catalog.Levels[level] = params
	}
	catalog.Factors.merge(override.Factors)

	if err := catalog.Validate(); err != nil {
		return nil, err
	}
	return catalog, nil
}
