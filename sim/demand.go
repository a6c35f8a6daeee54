package sim

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Demand modulation. The effective arrival rate of a hospital is
//
//	λ = λ₀ · fHour · fDay · fMonth · fWeather · fEvents · fFootball
//
// clamped to [0.5·λ₀, 3·λ₀]. The first three factors come from fixed
// profiles (overridable through the catalogue); the last three from an
// optional AdvisorySource.

// Factors is one full set of demand multipliers.
type Factors struct {
	FHour     float64 `json:"fHour"`
	FDay      float64 `json:"fDay"`
	FMonth    float64 `json:"fMonth"`
	FWeather  float64 `json:"fWeather"`
	FEvents   float64 `json:"fEvents"`
	FFootball float64 `json:"fFootball"`
}

// NeutralFactors returns all factors at 1.0.
func NeutralFactors() Factors {
	return Factors{FHour: 1, FDay: 1, FMonth: 1, FWeather: 1, FEvents: 1, FFootball: 1}
}

// Product is the combined multiplier before clamping.
func (f Factors) Product() float64 {
	return f.FHour * f.FDay * f.FMonth * f.FWeather * f.FEvents * f.FFootball
}

// EffectiveRate applies the factors to a base hourly rate and clamps the
// result to [0.5·base, 3·base]. base must be positive.
func EffectiveRate(base float64, f Factors) float64 {
	rate := base * f.Product()
	if low := 0.5 * base; rate < low {
		return low
	}
	if high := 3.0 * base; rate > high {
		return high
	}
	return rate
}

// ContextProvider yields the demand factors in force at a simulated wall
// time.
type ContextProvider interface {
	CurrentFactors(wall time.Time) (Factors, error)
}

// StaticFactors is a ContextProvider that always returns the same set.
// Useful for tests and for pinning scenarios.
type StaticFactors struct {
	F Factors
}

func (s StaticFactors) CurrentFactors(time.Time) (Factors, error) {
	return s.F, nil
}

// Advisory is the external slice of the demand context: weather severity,
// mass events and football matches, each as a multiplier around 1.0.
type Advisory struct {
	Weather  float64
	Events   float64
	Football float64
}

// AdvisorySource supplies advisories for a simulated wall time. Errors are
// tolerated: the provider falls back to neutral advisories and logs at
// most once per simulated hour.
type AdvisorySource interface {
	Current(wall time.Time) (Advisory, error)
}

// FactorProfiles are the hour/day/month multiplier tables.
type FactorProfiles struct {
	Hour  []float64 `yaml:"hour"`  // 24 entries, index = wall.Hour()
	Day   []float64 `yaml:"day"`   // 7 entries, Monday first
	Month []float64 `yaml:"month"` // 12 entries, January first
}

// DefaultFactorProfiles returns the built-in demand profiles: a morning
// peak around noon, heavier weekends and winter months.
func DefaultFactorProfiles() FactorProfiles {
	return FactorProfiles{
		Hour: []float64{
			0.4, 0.3, 0.25, 0.25, 0.3, 0.4, 0.6, 0.8, 1.1, 1.3, 1.4, 1.45,
			1.3, 1.2, 1.15, 1.1, 1.2, 1.35, 1.5, 1.4, 1.2, 1.0, 0.8, 0.6,
		},
		Day:   []float64{1.15, 1.0, 0.95, 0.95, 1.05, 1.2, 1.25},
		Month: []float64{1.25, 1.2, 1.1, 1.0, 0.95, 0.9, 1.0, 1.05, 0.95, 1.0, 1.1, 1.3},
	}
}

// Validate checks table lengths and positivity.
func (p FactorProfiles) Validate() error {
	if len(p.Hour) != 24 {
		return fmt.Errorf("factors: hour profile needs 24 entries, got %d", len(p.Hour))
	}
	if len(p.Day) != 7 {
		return fmt.Errorf("factors: day profile needs 7 entries, got %d", len(p.Day))
	}
	if len(p.Month) != 12 {
		return fmt.Errorf("factors: month profile needs 12 entries, got %d", len(p.Month))
	}
	for _, table := range [][]float64{p.Hour, p.Day, p.Month} {
		for i, v := range table {
			if v <= 0 {
				return fmt.Errorf("factors: entry %d must be positive, got %f", i, v)
			}
		}
	}
	return nil
}

// merge overwrites the tables present in the override.
func (p *FactorProfiles) merge(override FactorProfiles) {
	if len(override.Hour) > 0 {
		p.Hour = override.Hour
	}
	if len(override.Day) > 0 {
		p.Day = override.Day
	}
	if len(override.Month) > 0 {
		p.Month = override.Month
	}
}

// At looks up the profile factors for a wall time. Day indexing is Monday
// first.
func (p FactorProfiles) At(wall time.Time) (fHour, fDay, fMonth float64) {
	fHour = p.Hour[wall.Hour()]
	fDay = p.Day[(int(wall.Weekday())+6)%7]
	fMonth = p.Month[int(wall.Month())-1]
	return fHour, fDay, fMonth
}

// ProfileProvider is the standard ContextProvider: profile tables plus an
// optional advisory source.
//
// Thread-safety: NOT thread-safe. Owned by one generator goroutine.
type ProfileProvider struct {
	Profiles FactorProfiles
	Advisory AdvisorySource

	lastWarnHour time.Time
}

// NewProfileProvider builds a provider over the catalogue's profiles.
// advisory may be nil.
func NewProfileProvider(profiles FactorProfiles, advisory AdvisorySource) *ProfileProvider {
	return &ProfileProvider{Profiles: profiles, Advisory: advisory}
}

func (p *ProfileProvider) CurrentFactors(wall time.Time) (Factors, error) {
	f := NeutralFactors()
	f.FHour, f.FDay, f.FMonth = p.Profiles.At(wall)

	if p.Advisory != nil {
		adv, err := p.Advisory.Current(wall)
		if err != nil {
			hour := wall.Truncate(time.Hour)
			if !hour.Equal(p.lastWarnHour) {
				p.lastWarnHour = hour
				logrus.Warnf("demand: advisory source failed, using neutral advisories: %v", err)
			}
		} else {
			if adv.Weather > 0 {
				f.FWeather = adv.Weather
			}
			if adv.Events > 0 {
				f.FEvents = adv.Events
			}
			if adv.Football > 0 {
				f.FFootball = adv.Football
			}
		}
	}
	return f, nil
}
