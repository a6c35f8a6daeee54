package coordinator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urgencias-sim/urgencias-sim/bus"
	"github.com/urgencias-sim/urgencias-sim/sim"
)

func newServiceUnderTest(t *testing.T) (*Service, *bus.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := bus.New(bus.Config{Addr: mr.Addr(), GroupID: "coordinator-test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.EnsureTopics(context.Background(), bus.Topics()))

	svc, err := NewService(client, sim.DefaultCatalog(), time.Minute)
	require.NoError(t, err)
	return svc, client
}

// collect subscribes a fresh group to one topic and funnels payloads into
// a channel.
func collect(t *testing.T, client *bus.Client, topic, group string) <-chan []byte {
	t.Helper()
	out := make(chan []byte, 16)
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

func produceJSON(t *testing.T, client *bus.Client, topic string, payload any) {
	t.Helper()
	require.NoError(t, client.Produce(context.Background(), topic, "", payload))
}

func fullStats(id sim.HospitalID, saturation float64) sim.HospitalStats {
	return sim.HospitalStats{
		HospitalID:           id,
		DesksTotal:           2,
		TriageBoxesTotal:     2,
		ConsultRoomsTotal:    5,
		ObservationBedsTotal: 12,
		GlobalSaturation:     saturation,
		Timestamp:            bus.NewUTCTime(time.Now()),
	}
}

func TestServicePublishesAlertOnLevelChange(t *testing.T) {
	svc, client := newServiceUnderTest(t)
	alerts := collect(t, client, bus.TopicCoordinatorAlerts, "alerts-probe")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.Run(ctx) }()

	produceJSON(t, client, bus.TopicHospitalStats, fullStats(sim.HospitalModelo, 0.90))

	select {
	case payload := <-alerts:
		var alert CoordinatorAlert
		require.NoError(t, json.Unmarshal(payload, &alert))
		assert.Equal(t, sim.HospitalModelo, alert.HospitalID)
		assert.Equal(t, AlertWarning, alert.Level)
		assert.Contains(t, alert.Message, "HIGH")
	case <-time.After(5 * time.Second):
		t.Fatal("no coordinator alert within deadline")
	}

	// A second snapshot inside the same band stays quiet.
	produceJSON(t, client, bus.TopicHospitalStats, fullStats(sim.HospitalModelo, 0.88))
	select {
	case <-alerts:
		t.Fatal("debounce failed: repeated alert inside one band")
	case <-time.After(500 * time.Millisecond):
	}
}

func TestServiceEmitsGravityDiversion(t *testing.T) {
	svc, client := newServiceUnderTest(t)
	diversions := collect(t, client, bus.TopicDiversionAlerts, "diversion-probe")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.Run(ctx) }()

	// Reference center nearly idle, then a RED patient triaged at Modelo.
	produceJSON(t, client, bus.TopicHospitalStats, fullStats(sim.HospitalCHUAC, 0.20))
	produceJSON(t, client, bus.TopicTriageResults, sim.TriageResult{
		PatientID:         "p-grave",
		HospitalID:        sim.HospitalModelo,
		TriageLevel:       sim.LevelRed,
		BoxID:             0,
		RequiresDiversion: true,
	})

	select {
	case payload := <-diversions:
		var alert DiversionAlert
		require.NoError(t, json.Unmarshal(payload, &alert))
		assert.Equal(t, "p-grave", alert.PatientID)
		assert.Equal(t, sim.HospitalModelo, alert.OriginHospital)
		assert.Equal(t, sim.HospitalCHUAC, alert.DestinationHospital)
		assert.Equal(t, ReasonGravity, alert.Reason)
	case <-time.After(5 * time.Second):
		t.Fatal("no diversion alert within deadline")
	}
}

func TestServiceAutoscalesReferenceCenter(t *testing.T) {
	svc, client := newServiceUnderTest(t)
	changes := collect(t, client, bus.TopicCapacityChange, "capacity-probe")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.Run(ctx) }()

	produceJSON(t, client, bus.TopicHospitalStats, fullStats(sim.HospitalCHUAC, 0.92))

	select {
	case payload := <-changes:
		var change CapacityChange
		require.NoError(t, json.Unmarshal(payload, &change))
		assert.Equal(t, sim.HospitalCHUAC, change.HospitalID)
		assert.Equal(t, 1, change.MedicosPrevios)
		assert.Equal(t, 2, change.MedicosNuevos)
		assert.Equal(t, "autoscale_up", change.Motivo)
	case <-time.After(5 * time.Second):
		t.Fatal("no capacity change within deadline")
	}
}
