package network

import (
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

var runStart = time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)

func newTestRunner(t *testing.T, pub sim.Publisher, speed *float64, horizonTicks int64) *Runner {
	t.Helper()
	catalog := sim.DefaultCatalog()
	cfg, err := catalog.Get(sim.HospitalCHUAC)
	require.NoError(t, err)

	rng := sim.NewPartitionedRNG(sim.NewSimulationKey(42))
	engine := sim.NewEngine(cfg, catalog.Levels, nil, rng, pub, sim.EngineOpts{ClockStart: runStart})
	gen := sim.NewGenerator(cfg, rng, sim.NewProfileProvider(catalog.Factors, nil), nil, runStart)

	return NewRunner(RunnerOpts{
		Engine:       engine,
		Generator:    gen,
		Provider:     sim.NewProfileProvider(catalog.Factors, nil),
		Publisher:    pub,
		Speed:        func() float64 { return *speed },
		HorizonTicks: horizonTicks,
	})
}

func TestAdvanceScalesWithSpeed(t *testing.T) {
	speed := 1.0
	r := newTestRunner(t, sim.NopPublisher{}, &speed, 0)

	// One wall second at speed 1 is one simulated minute.
	r.advance(time.Second)
	assert.Equal(t, int64(sim.TicksPerMinute), r.engine.Clock())

	speed = 60
	r.advance(time.Second)
	assert.Equal(t, int64(61*sim.TicksPerMinute), r.engine.Clock())

	// Sub-tick elapsed time is dropped, never rounded up.
	speed = 1.0
	before := r.engine.Clock()
	r.advance(time.Nanosecond)
	assert.Equal(t, before, r.engine.Clock())
}

func TestAdvanceStopsAtHorizon(t *testing.T) {
	speed := 1.0
	horizon := sim.MinutesToTicks(5)
	r := newTestRunner(t, sim.NopPublisher{}, &speed, horizon)

	r.advance(10 * time.Minute) // 600 simulated minutes requested
	assert.Equal(t, horizon, r.engine.Clock())

	select {
	case <-r.Finished():
	default:
		t.Fatal("horizon reached but Finished not closed")
	}

	// Further wall time does not move a finished clock.
	r.advance(time.Minute)
	assert.Equal(t, horizon, r.engine.Clock())
}

func TestAdvancePublishesArrivalsAndCadencedSnapshots(t *testing.T) {
	pub := &capturingPublisher{}
	speed := 1.0
	r := newTestRunner(t, pub, &speed, 0)

	// Two simulated hours, fed in wall-sized bites.
	for i := 0; i < 120; i++ {
		r.advance(time.Second)
	}

	arrivals := pub.byTopic(bus.TopicPatientArrivals)
	assert.NotEmpty(t, arrivals)
	first := arrivals[0].(sim.PatientArrival)
	assert.Equal(t, sim.HospitalCHUAC, first.HospitalID)
	assert.NotEmpty(t, first.PatientID)

	statsMsgs := pub.byTopic(bus.TopicHospitalStats)
	require.NotEmpty(t, statsMsgs)
	// Two hours at one snapshot per two simulated minutes.
	assert.GreaterOrEqual(t, len(statsMsgs), 50)
	stats := statsMsgs[len(statsMsgs)-1].(sim.HospitalStats)
	assert.Equal(t, sim.HospitalCHUAC, stats.HospitalID)
	assert.Equal(t, 10, stats.ConsultRoomsTotal)
	assert.Positive(t, stats.ArrivalsLastHour)

	contexts := pub.byTopic(bus.TopicSystemContext)
	require.NotEmpty(t, contexts)
	sc := contexts[0].(SystemContext)
	assert.Equal(t, sim.HospitalCHUAC, sc.HospitalID)
	assert.Positive(t, sc.EffectiveRate)
	assert.Positive(t, sc.Factors.FHour)

	// Latest snapshot mirrors the last publish.
	assert.Equal(t, stats, r.Stats())
}

func TestAdvanceDeterministicForSameSeed(t *testing.T) {
	run := func() []any {
		pub := &capturingPublisher{}
		speed := 60.0
		r := newTestRunner(t, pub, &speed, 0)
		r.advance(time.Second) // one simulated hour in one bite
		return pub.byTopic(bus.TopicPatientArrivals)
	}
	a, b := run(), run()
	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i].(sim.PatientArrival).PathologyTag, b[i].(sim.PatientArrival).PathologyTag)
		assert.Equal(t, a[i].(sim.PatientArrival).ArrivalWallTime, b[i].(sim.PatientArrival).ArrivalWallTime)
	}
}
