package network

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urgencias-sim/urgencias-sim/bus"
	"github.com/urgencias-sim/urgencias-sim/coordinator"
	"github.com/urgencias-sim/urgencias-sim/incident"
	"github.com/urgencias-sim/urgencias-sim/sim"
)

func newSimulatorUnderTest(t *testing.T) (*Simulator, *bus.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := bus.New(bus.Config{Addr: mr.Addr(), GroupID: "simulator-test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.EnsureTopics(context.Background(), bus.Topics()))

	s, err := NewSimulator(SimulatorOpts{
		Catalog:    sim.DefaultCatalog(),
		Client:     client,
		Seed:       sim.NewSimulationKey(7),
		Speed:      1,
		ClockStart: runStart,
	})
	require.NoError(t, err)
	return s, client
}

// collect subscribes a fresh group to one topic and funnels payloads into
// a channel.
func collect(t *testing.T, client *bus.Client, topic, group string) <-chan []byte {
	t.Helper()
	out := make(chan []byte, 64)
	cons := client.Subscribe([]string{topic}, group)
	cons.On(topic, func(m bus.Message) error {
		out <- m.Payload
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = cons.Run(ctx) }()
	t.Cleanup(cons.Stop)
	return out
}

func TestSetSpeedClampsAndStartStopIdempotent(t *testing.T) {
	s, _ := newSimulatorUnderTest(t)

	assert.InDelta(t, 1.0, s.Speed(), 1e-9)
	s.SetSpeed(0.01)
	assert.InDelta(t, MinSpeed, s.Speed(), 1e-9)
	s.SetSpeed(2.5)
	s.SetSpeed(2.5)
	assert.InDelta(t, 2.5, s.Speed(), 1e-9)

	s.Stop()
	s.Stop()
	assert.False(t, s.running.Load())
	s.Start()
	s.Start()
	assert.True(t, s.running.Load())
}

func TestInjectIncidentPublishesDistributionAndCasualties(t *testing.T) {
	s, client := newSimulatorUnderTest(t)
	distributions := collect(t, client, bus.TopicIncidentDistribution, "dist-probe")
	casualties := collect(t, client, bus.TopicIncidentPatients, "casualty-probe")

	s.InjectIncident("accident", 10, &incident.Location{Lat: 43.36, Lon: -8.41})

	select {
	case payload := <-distributions:
		var msg incident.Message
		require.NoError(t, json.Unmarshal(payload, &msg))
		assert.Equal(t, "ACCIDENT", msg.TipoEmergencia)
		assert.Equal(t, 10, msg.TotalPacientes)
		total := 0
		for _, n := range msg.Distribucion {
			total += n
		}
		assert.Equal(t, 10, total)
	case <-time.After(5 * time.Second):
		t.Fatal("no incident distribution within deadline")
	}

	seen := 0
	deadline := time.After(5 * time.Second)
	for seen < 10 {
		select {
		case payload := <-casualties:
			var c incident.Casualty
			require.NoError(t, json.Unmarshal(payload, &c))
			assert.NotEmpty(t, c.PatientID)
			assert.Contains(t, sim.DefaultCatalog().IDs(), c.HospitalID)
			seen++
		case <-deadline:
			t.Fatalf("only %d of 10 casualties within deadline", seen)
		}
	}
}

func TestDoctorAssignmentAppliesOnce(t *testing.T) {
	s, _ := newSimulatorUnderTest(t)
	ref := s.Runner(sim.HospitalCHUAC)
	require.NotNil(t, ref)

	ev := coordinator.DoctorAssigned{
		MedicoID:               "oc-1",
		HospitalID:             sim.HospitalCHUAC,
		ConsultID:              3,
		MedicosTotalesConsulta: 2,
	}
	require.NoError(t, s.applyDoctorAssigned(ev))
	require.NoError(t, s.applyDoctorAssigned(ev)) // redelivery

	assert.Len(t, s.attached[3], 1)
	// Only the first delivery enqueued a staffing change.
	assert.Len(t, ref.commands, 1)

	require.NoError(t, s.applyDoctorUnassigned(coordinator.DoctorUnassigned{
		MedicoID:                 "oc-1",
		HospitalID:               sim.HospitalCHUAC,
		ConsultID:                3,
		MedicosRestantesConsulta: 1,
	}))
	assert.Empty(t, s.attached[3])
	assert.Len(t, ref.commands, 2)

	// Another hospital's staffing is not ours to apply.
	require.NoError(t, s.applyDoctorAssigned(coordinator.DoctorAssigned{
		MedicoID: "oc-2", HospitalID: sim.HospitalModelo, ConsultID: 1, MedicosTotalesConsulta: 2,
	}))
	assert.Len(t, ref.commands, 2)
}

func TestDiversionMissesClosedWindow(t *testing.T) {
	s, _ := newSimulatorUnderTest(t)
	s.Stop() // hold the clocks; only the command plumbing runs

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for _, id := range sim.DefaultCatalog().IDs() {
		s.Runner(id).Start(ctx)
	}

	err := s.applyDiversion(coordinator.DiversionAlert{
		PatientID:                "p-ghost",
		OriginHospital:           sim.HospitalModelo,
		DestinationHospital:      sim.HospitalCHUAC,
		EstimatedTransferMinutes: 10,
	})
	assert.NoError(t, err)
}

func TestControlCommandsOverTheBus(t *testing.T) {
	s, client := newSimulatorUnderTest(t)
	s.Stop() // keep the engines idle; this test is about the consumers

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	require.NoError(t, client.Produce(ctx, bus.TopicSimulationControl, "",
		ControlCommand{Command: "set_speed", Speed: 3}))

	require.Eventually(t, func() bool { return s.Speed() == 3 },
		5*time.Second, 20*time.Millisecond, "set_speed not applied")

	require.NoError(t, client.Produce(ctx, bus.TopicSimulationControl, "",
		ControlCommand{Command: "start"}))
	require.Eventually(t, func() bool { return s.running.Load() },
		5*time.Second, 20*time.Millisecond, "start not applied")
}
