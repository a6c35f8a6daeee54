package predictor

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urgencias-sim/urgencias-sim/bus"
	"github.com/urgencias-sim/urgencias-sim/sim"
)

// capturingPublisher records events per topic in publish order.
type capturingPublisher struct {
	events []captured
}

type captured struct {
	topic   string
	payload any
}

func (p *capturingPublisher) Publish(topic, _ string, payload any) {
	p.events = append(p.events, captured{topic: topic, payload: payload})
}

func (p *capturingPublisher) byTopic(topic string) []any {
	var out []any
	for _, e := range p.events {
		if e.topic == topic {
			out = append(out, e.payload)
		}
	}
	return out
}

var serviceNow = time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

func newPredictor(pub sim.Publisher) *Predictor {
	p := New(sim.DefaultCatalog(), pub, time.Hour)
	p.SetNow(func() time.Time { return serviceNow })
	return p
}

func TestScenarioFactor(t *testing.T) {
	assert.InDelta(t, 1.0, Scenario{}.Factor(), 1e-9)
	assert.InDelta(t, 1.12, Scenario{Rain: true}.Factor(), 1e-9)
	assert.InDelta(t, 1.25, Scenario{MassEvent: true}.Factor(), 1e-9)
	assert.InDelta(t, 1.18, Scenario{ExtremeTemp: true}.Factor(), 1e-9)
	assert.InDelta(t, 1.15, Scenario{FootballMatch: true}.Factor(), 1e-9)
	assert.InDelta(t, 1.12*1.25, Scenario{Rain: true, MassEvent: true}.Factor(), 1e-9)
}

func TestPredictValidation(t *testing.T) {
	p := newPredictor(nil)

	_, err := p.Predict(sim.HospitalCHUAC, 0, Scenario{})
	require.Error(t, err)

	_, err = p.Predict(sim.HospitalID("Nowhere"), 24, Scenario{})
	require.ErrorIs(t, err, sim.ErrUnknownHospital)
}

func TestPredictAppliesScenarioToBaseline(t *testing.T) {
	p := newPredictor(nil)

	baseline, err := p.Predict(sim.HospitalCHUAC, 24, Scenario{})
	require.NoError(t, err)
	require.Len(t, baseline, 24)

	whatIf, err := p.Predict(sim.HospitalCHUAC, 24, Scenario{MassEvent: true})
	require.NoError(t, err)
	require.Len(t, whatIf, 24)

	for i := range baseline {
		assert.Equal(t, baseline[i].Hour, whatIf[i].Hour)
		assert.InDelta(t, baseline[i].Expected*1.25, whatIf[i].Expected, 1e-9)
		assert.InDelta(t, 1.25, whatIf[i].ScenarioFactor, 1e-9)
	}
	assert.InDelta(t, 1.0, baseline[0].ScenarioFactor, 1e-9)
}

func TestPredictMemoizesUntilRetrain(t *testing.T) {
	p := newPredictor(sim.NopPublisher{})

	first, err := p.Predict(sim.HospitalModelo, 6, Scenario{})
	require.NoError(t, err)
	again, err := p.Predict(sim.HospitalModelo, 6, Scenario{})
	require.NoError(t, err)
	assert.Equal(t, first, again)

	p.Retrain()
	after, err := p.Predict(sim.HospitalModelo, 6, Scenario{})
	require.NoError(t, err)
	// Same deterministic history and clock, so the values agree even
	// though the cache was flushed.
	assert.Equal(t, first, after)
}

func TestObserveFlagsArrivalSpikeOnce(t *testing.T) {
	p := newPredictor(nil)
	hour := serviceNow

	baseline, err := p.Predict(sim.HospitalCHUAC, 1, Scenario{})
	require.NoError(t, err)
	expected := baseline[0].Expected
	require.Greater(t, expected, 1.0)

	spike := int(math.Ceil(3 * expected))
	alert, ok := p.Observe(sim.HospitalCHUAC, hour, spike)
	require.True(t, ok)
	assert.Equal(t, sim.HospitalCHUAC, alert.HospitalID)
	assert.Equal(t, spike, alert.Observed)
	assert.Greater(t, alert.ZScore, AnomalyThreshold)
	assert.InDelta(t, expected, alert.Expected, 1e-6)
	assert.NotEmpty(t, alert.Message)

	// Same (hospital, hour) never alerts twice.
	_, ok = p.Observe(sim.HospitalCHUAC, hour, spike)
	assert.False(t, ok)

	// A different hour is a fresh slate.
	_, ok = p.Observe(sim.HospitalCHUAC, hour.Add(time.Hour), spike)
	assert.True(t, ok)
}

func TestObserveStaysQuietOnNormalLoad(t *testing.T) {
	p := newPredictor(nil)

	baseline, err := p.Predict(sim.HospitalCHUAC, 1, Scenario{})
	require.NoError(t, err)

	_, ok := p.Observe(sim.HospitalCHUAC, serviceNow, int(math.Round(baseline[0].Expected)))
	assert.False(t, ok)
}

func TestRetrainPublishesDailySnapshots(t *testing.T) {
	pub := &capturingPublisher{}
	p := newPredictor(pub)

	p.Retrain()

	updates := pub.byTopic(bus.TopicPredictionUpdates)
	require.Len(t, updates, 3)
	seen := make(map[sim.HospitalID]bool)
	for _, raw := range updates {
		update := raw.(PredictionUpdate)
		seen[update.HospitalID] = true
		assert.Equal(t, 24, update.HorizonHours)
		require.Len(t, update.Points, 24)
		assert.InDelta(t, 1.0, update.Points[0].ScenarioFactor, 1e-9)
		assert.Equal(t, serviceNow, update.Points[0].Hour.Time)
	}
	assert.Len(t, seen, 3)
}

func TestIngestClosesBucketAndPublishesAlert(t *testing.T) {
	pub := &capturingPublisher{}
	p := newPredictor(pub)

	baseline, err := p.Predict(sim.HospitalModelo, 1, Scenario{})
	require.NoError(t, err)
	spike := int(math.Ceil(3*baseline[0].Expected)) + 1

	arrival := func(at time.Time) sim.PatientArrival {
		return sim.PatientArrival{
			PatientID:       "p-test",
			HospitalID:      sim.HospitalModelo,
			ArrivalWallTime: bus.NewUTCTime(at),
		}
	}
	for i := 0; i < spike; i++ {
		p.ingest(arrival(serviceNow.Add(time.Duration(i) * time.Second)))
	}
	assert.Empty(t, pub.byTopic(bus.TopicPredictionAlerts))

	// Crossing into the next hour closes the spike bucket.
	p.ingest(arrival(serviceNow.Add(time.Hour)))

	alerts := pub.byTopic(bus.TopicPredictionAlerts)
	require.Len(t, alerts, 1)
	alert := alerts[0].(AnomalyAlert)
	assert.Equal(t, sim.HospitalModelo, alert.HospitalID)
	assert.Equal(t, spike, alert.Observed)
	assert.Equal(t, serviceNow, alert.Hour.Time)
	assert.Greater(t, math.Abs(alert.ZScore), AnomalyThreshold)
}
