package predictor

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/urgencias-sim/urgencias-sim/sim"
)

// ErrPredictorUnavailable marks a forecaster that cannot serve: too
// little history, or a fit that failed. Callers fall back to the
// profile-only forecaster.
var ErrPredictorUnavailable = errors.New("predictor unavailable")

// SeasonHours is the seasonal period: arrivals repeat on a daily cycle.
const SeasonHours = 24

// Default Holt-Winters smoothing coefficients. The slow trend term keeps
// a quiet overnight stretch from dragging the whole level down.
const (
	DefaultAlpha = 0.25
	DefaultBeta  = 0.02
	DefaultGamma = 0.30
)

// confidenceZ is the half-width multiplier of the forecast band (~95%).
const confidenceZ = 1.96

// Point is one forecast hour.
type Point struct {
	Hour     time.Time
	Expected float64
	Lower    float64
	Upper    float64
}

// Forecaster fits an hourly series and projects it forward.
type Forecaster interface {
	Fit(series []HourCount) error
	Forecast(from time.Time, hours int) []Point
}

// === Holt-Winters ===

// HoltWinters is an additive triple-exponential-smoothing forecaster
// with a 24-hour season. Fit requires at least two full seasons.
type HoltWinters struct {
	Alpha, Beta, Gamma float64

	level    float64
	trend    float64
	seasonal [SeasonHours]float64
	sigma    float64
	lastHour time.Time
	fitted   bool
}

// NewHoltWinters returns a forecaster with the default coefficients.
func NewHoltWinters() *HoltWinters {
	return &HoltWinters{Alpha: DefaultAlpha, Beta: DefaultBeta, Gamma: DefaultGamma}
}

// Fit estimates level, trend and the seasonal profile from an hourly
// series, then measures the in-sample residual spread for the bands.
func (hw *HoltWinters) Fit(series []HourCount) error {
	if len(series) < 2*SeasonHours {
		return fmt.Errorf("%w: need %d hourly samples, got %d", ErrPredictorUnavailable, 2*SeasonHours, len(series))
	}

	first := seasonMean(series[:SeasonHours])
	second := seasonMean(series[SeasonHours : 2*SeasonHours])
	hw.level = first
	hw.trend = (second - first) / SeasonHours

	// Initial seasonal indices: mean deviation from each season's own
	// mean, indexed by hour of day.
	var sums [SeasonHours]float64
	var counts [SeasonHours]int
	seasons := len(series) / SeasonHours
	for s := 0; s < seasons; s++ {
		block := series[s*SeasonHours : (s+1)*SeasonHours]
		mean := seasonMean(block)
		for _, sample := range block {
			idx := sample.Hour.UTC().Hour()
			sums[idx] += float64(sample.Count) - mean
			counts[idx]++
		}
	}
	for i := range hw.seasonal {
		if counts[i] > 0 {
			hw.seasonal[i] = sums[i] / float64(counts[i])
		}
	}

	residuals := make([]float64, 0, len(series))
	for _, sample := range series {
		idx := sample.Hour.UTC().Hour()
		x := float64(sample.Count)
		fitted := hw.level + hw.trend + hw.seasonal[idx]
		residuals = append(residuals, x-fitted)

		level := hw.Alpha*(x-hw.seasonal[idx]) + (1-hw.Alpha)*(hw.level+hw.trend)
		hw.trend = hw.Beta*(level-hw.level) + (1-hw.Beta)*hw.trend
		hw.seasonal[idx] = hw.Gamma*(x-level) + (1-hw.Gamma)*hw.seasonal[idx]
		hw.level = level
	}

	hw.sigma = stat.StdDev(residuals, nil)
	if math.IsNaN(hw.sigma) || math.IsInf(hw.sigma, 0) {
		return fmt.Errorf("%w: degenerate residuals", ErrPredictorUnavailable)
	}
	hw.lastHour = series[len(series)-1].Hour.UTC().Truncate(time.Hour)
	hw.fitted = true
	return nil
}

// Forecast projects hours points starting at from. Calling before a
// successful Fit yields nil.
func (hw *HoltWinters) Forecast(from time.Time, hours int) []Point {
	if !hw.fitted {
		return nil
	}
	from = from.UTC().Truncate(time.Hour)
	out := make([]Point, 0, hours)
	for i := 0; i < hours; i++ {
		hour := from.Add(time.Duration(i) * time.Hour)
		steps := hour.Sub(hw.lastHour).Hours()
		expected := math.Max(0, hw.level+steps*hw.trend+hw.seasonal[hour.Hour()])
		width := confidenceZ * hw.sigma
		out = append(out, Point{
			Hour:     hour,
			Expected: expected,
			Lower:    math.Max(0, expected-width),
			Upper:    expected + width,
		})
	}
	return out
}

func seasonMean(block []HourCount) float64 {
	values := make([]float64, len(block))
	for i, sample := range block {
		values[i] = float64(sample.Count)
	}
	return stat.Mean(values, nil)
}

// === Profile fallback ===

// profileBandRatio is the fallback band half-width as a share of the
// expected value.
const profileBandRatio = 0.30

// ProfileForecaster is the degraded-mode forecaster: no training, just
// the same factor tables the generator runs on. Fit accepts anything.
type ProfileForecaster struct {
	Config   sim.HospitalConfig
	Profiles sim.FactorProfiles
}

// NewProfileForecaster builds the fallback for one hospital.
func NewProfileForecaster(cfg sim.HospitalConfig, profiles sim.FactorProfiles) *ProfileForecaster {
	return &ProfileForecaster{Config: cfg, Profiles: profiles}
}

// Fit is a no-op; the profile tables are the model.
func (p *ProfileForecaster) Fit([]HourCount) error { return nil }

// Forecast reads the expected rate straight off the profiles with a
// fixed ±30% band.
func (p *ProfileForecaster) Forecast(from time.Time, hours int) []Point {
	from = from.UTC().Truncate(time.Hour)
	out := make([]Point, 0, hours)
	for i := 0; i < hours; i++ {
		hour := from.Add(time.Duration(i) * time.Hour)
		fHour, fDay, fMonth := p.Profiles.At(hour)
		expected := p.Config.HourlyRate() * fHour * fDay * fMonth
		out = append(out, Point{
			Hour:     hour,
			Expected: expected,
			Lower:    math.Max(0, expected*(1-profileBandRatio)),
			Upper:    expected * (1 + profileBandRatio),
		})
	}
	return out
}
