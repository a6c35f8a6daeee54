package sim

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEffectiveRateClamps(t *testing.T) {
	base := 10.0

	// Neutral factors pass the base through.
	assert.InDelta(t, 10.0, EffectiveRate(base, NeutralFactors()), 1e-9)

	// A big combined multiplier caps at 3x.
	spike := Factors{FHour: 1.5, FDay: 1.25, FMonth: 1.3, FWeather: 1.5, FEvents: 1.25, FFootball: 1.15}
	assert.InDelta(t, 30.0, EffectiveRate(base, spike), 1e-9)

	// A collapse floors at 0.5x.
	quiet := Factors{FHour: 0.25, FDay: 0.95, FMonth: 0.9, FWeather: 1, FEvents: 1, FFootball: 1}
	assert.InDelta(t, 5.0, EffectiveRate(base, quiet), 1e-9)

	// Mid-range factors apply unclamped.
	mild := Factors{FHour: 1.2, FDay: 1.0, FMonth: 1.0, FWeather: 1, FEvents: 1, FFootball: 1}
	assert.InDelta(t, 12.0, EffectiveRate(base, mild), 1e-9)
}

func TestFactorsProduct(t *testing.T) {
	f := Factors{FHour: 2, FDay: 3, FMonth: 0.5, FWeather: 1, FEvents: 1, FFootball: 2}
	assert.InDelta(t, 6.0, f.Product(), 1e-9)
	assert.InDelta(t, 1.0, NeutralFactors().Product(), 1e-9)
}

func TestDefaultFactorProfilesShape(t *testing.T) {
	profiles := DefaultFactorProfiles()
	require.NoError(t, profiles.Validate())

	require.Len(t, profiles.Hour, 24)
	require.Len(t, profiles.Day, 7)
	require.Len(t, profiles.Month, 12)

	// Morning build-up towards the late-morning peak, night trough.
	assert.Equal(t, 1.45, profiles.Hour[11])
	assert.Equal(t, 0.25, profiles.Hour[2])
	assert.Equal(t, 1.5, profiles.Hour[18])

	// Monday-first day profile: weekend heavier than midweek.
	assert.Equal(t, 1.15, profiles.Day[0]) // Monday
	assert.Equal(t, 1.25, profiles.Day[6]) // Sunday

	// Winter months run hotter than early summer.
	assert.Equal(t, 1.25, profiles.Month[0]) // January
	assert.Equal(t, 0.9, profiles.Month[5])  // June
	assert.Equal(t, 1.3, profiles.Month[11]) // December
}

func TestFactorProfilesValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(p *FactorProfiles)
		wantErr string
	}{
		{"short hour table", func(p *FactorProfiles) { p.Hour = p.Hour[:23] }, "24 entries"},
		{"short day table", func(p *FactorProfiles) { p.Day = p.Day[:6] }, "7 entries"},
		{"long month table", func(p *FactorProfiles) { p.Month = append(p.Month, 1.0) }, "12 entries"},
		{"zero entry", func(p *FactorProfiles) { p.Hour[3] = 0 }, "must be positive"},
		{"negative entry", func(p *FactorProfiles) { p.Day[1] = -0.5 }, "must be positive"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			profiles := DefaultFactorProfiles()
			tc.mutate(&profiles)
			err := profiles.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestFactorProfilesAt_MondayFirstIndexing(t *testing.T) {
	profiles := FactorProfiles{
		Hour:  make([]float64, 24),
		Day:   []float64{1, 2, 3, 4, 5, 6, 7}, // Monday..Sunday markers
		Month: make([]float64, 12),
	}
	for i := range profiles.Hour {
		profiles.Hour[i] = 1
	}
	for i := range profiles.Month {
		profiles.Month[i] = 1
	}

	// 2026-08-24 is a Monday; walk the whole week.
	monday := time.Date(2026, time.August, 24, 12, 0, 0, 0, time.UTC)
	for offset := 0; offset < 7; offset++ {
		wall := monday.AddDate(0, 0, offset)
		_, fDay, _ := profiles.At(wall)
		want := float64(offset + 1)
		assert.Equalf(t, want, fDay, "day factor for %s", wall.Weekday())
	}
}

func TestFactorProfilesAt_HourAndMonth(t *testing.T) {
	profiles := DefaultFactorProfiles()

	wall := time.Date(2026, time.January, 7, 18, 30, 0, 0, time.UTC)
	fHour, _, fMonth := profiles.At(wall)
	assert.Equal(t, profiles.Hour[18], fHour)
	assert.Equal(t, profiles.Month[0], fMonth)

	wall = time.Date(2026, time.December, 7, 2, 0, 0, 0, time.UTC)
	fHour, _, fMonth = profiles.At(wall)
	assert.Equal(t, profiles.Hour[2], fHour)
	assert.Equal(t, profiles.Month[11], fMonth)
}

type stubAdvisory struct {
	adv   Advisory
	err   error
	calls int
}

func (s *stubAdvisory) Current(time.Time) (Advisory, error) {
	s.calls++
	return s.adv, s.err
}

func TestProfileProvider_AppliesAdvisories(t *testing.T) {
	provider := NewProfileProvider(DefaultFactorProfiles(), &stubAdvisory{
		adv: Advisory{Weather: 1.4, Events: 1.2, Football: 1.3},
	})

	wall := time.Date(2026, time.March, 10, 11, 0, 0, 0, time.UTC)
	f, err := provider.CurrentFactors(wall)
	require.NoError(t, err)

	assert.Equal(t, 1.4, f.FWeather)
	assert.Equal(t, 1.2, f.FEvents)
	assert.Equal(t, 1.3, f.FFootball)
	assert.Equal(t, DefaultFactorProfiles().Hour[11], f.FHour)
}

func TestProfileProvider_ZeroAdvisoryKeptNeutral(t *testing.T) {
	// A source returning zeros (unset fields) must not zero the rate.
	provider := NewProfileProvider(DefaultFactorProfiles(), &stubAdvisory{
		adv: Advisory{Weather: 1.5},
	})

	f, err := provider.CurrentFactors(time.Date(2026, time.March, 10, 11, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1.5, f.FWeather)
	assert.Equal(t, 1.0, f.FEvents)
	assert.Equal(t, 1.0, f.FFootball)
}

func TestProfileProvider_AdvisoryErrorFallsBackNeutral(t *testing.T) {
	src := &stubAdvisory{err: errors.New("feed down")}
	provider := NewProfileProvider(DefaultFactorProfiles(), src)

	wall := time.Date(2026, time.March, 10, 11, 5, 0, 0, time.UTC)
	f, err := provider.CurrentFactors(wall)
	require.NoError(t, err)

	// Profile factors still apply, advisory factors stay neutral.
	assert.Equal(t, DefaultFactorProfiles().Hour[11], f.FHour)
	assert.Equal(t, 1.0, f.FWeather)
	assert.Equal(t, 1.0, f.FEvents)
	assert.Equal(t, 1.0, f.FFootball)

	// Repeated calls inside the same simulated hour keep querying the
	// source but only the first failure of the hour is logged.
	_, _ = provider.CurrentFactors(wall.Add(10 * time.Minute))
	assert.Equal(t, 2, src.calls)
	assert.Equal(t, wall.Truncate(time.Hour), provider.lastWarnHour)

	// A new hour re-arms the warning.
	_, _ = provider.CurrentFactors(wall.Add(time.Hour))
	assert.Equal(t, wall.Add(time.Hour).Truncate(time.Hour), provider.lastWarnHour)
}

func TestProfileProvider_NilAdvisorySource(t *testing.T) {
	provider := NewProfileProvider(DefaultFactorProfiles(), nil)
	f, err := provider.CurrentFactors(time.Date(2026, time.July, 4, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1.0, f.FWeather)
	assert.Equal(t, 1.0, f.FEvents)
	assert.Equal(t, 1.0, f.FFootball)
}

func TestStaticFactors(t *testing.T) {
	s := StaticFactors{F: Factors{FHour: 2, FDay: 1, FMonth: 1, FWeather: 1, FEvents: 1, FFootball: 1}}
	f, err := s.CurrentFactors(time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2.0, f.FHour)
}
