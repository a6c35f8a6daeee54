package coordinator

import (
	"errors"
	"testing"

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

func newController(pub sim.Publisher) *ScalingController {
	return NewScalingController(sim.HospitalCHUAC, 10, nil, pub)
}

func TestScaleUpPublishesAssignmentsThenChange(t *testing.T) {
	pub := &capturingPublisher{}
	s := newController(pub)

	require.NoError(t, s.ScaleConsult(3, 3, "manual"))

	assigned := pub.byTopic(bus.TopicDoctorAssigned)
	require.Len(t, assigned, 2)
	first := assigned[0].(DoctorAssigned)
	assert.Equal(t, "oc-1", first.MedicoID)
	assert.Equal(t, 3, first.ConsultID)
	assert.Equal(t, 2, first.MedicosTotalesConsulta)
	second := assigned[1].(DoctorAssigned)
	assert.Equal(t, "oc-2", second.MedicoID)
	assert.Equal(t, 3, second.MedicosTotalesConsulta)

	changes := pub.byTopic(bus.TopicCapacityChange)
	require.Len(t, changes, 1)
	change := changes[0].(CapacityChange)
	assert.Equal(t, 1, change.MedicosPrevios)
	assert.Equal(t, 3, change.MedicosNuevos)
	assert.Equal(t, 1.0, change.VelocidadPrevia)
	assert.Equal(t, 3.0, change.VelocidadNueva)

	// The change event comes after every assignment.
	assert.Equal(t, bus.TopicCapacityChange, pub.events[len(pub.events)-1].topic)

	doctors, err := s.Doctors(3)
	require.NoError(t, err)
	assert.Equal(t, 3, doctors)
	assert.Equal(t, 4, s.PoolSize())
}

func TestScaleDownReleasesYoungestFirst(t *testing.T) {
	pub := &capturingPublisher{}
	s := newController(pub)
	require.NoError(t, s.ScaleConsult(0, 4, "manual")) // attaches oc-1, oc-2, oc-3

	require.NoError(t, s.ScaleConsult(0, 2, "manual"))

	unassigned := pub.byTopic(bus.TopicDoctorUnassigned)
	require.Len(t, unassigned, 2)
	assert.Equal(t, "oc-3", unassigned[0].(DoctorUnassigned).MedicoID)
	assert.Equal(t, "oc-2", unassigned[1].(DoctorUnassigned).MedicoID)

	// Released doctors rejoin at the pool tail: the next scale-up picks
	// the doctor who has rested longest, not the one just released.
	require.NoError(t, s.ScaleConsult(1, 2, "manual"))
	assigned := pub.byTopic(bus.TopicDoctorAssigned)
	assert.Equal(t, "oc-4", assigned[len(assigned)-1].(DoctorAssigned).MedicoID)
}

func TestScaleUpWithEmptyPoolFailsAtomically(t *testing.T) {
	pub := &capturingPublisher{}
	s := NewScalingController(sim.HospitalCHUAC, 10, []OnCallDoctor{}, pub)

	err := s.ScaleConsult(3, 2, "manual")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientOnCall))
	assert.Empty(t, pub.events, "no events on a failed scale-up")

	doctors, derr := s.Doctors(3)
	require.NoError(t, derr)
	assert.Equal(t, 1, doctors)
}

func TestScaleUpPartialPoolFailsAtomically(t *testing.T) {
	pub := &capturingPublisher{}
	s := NewScalingController(sim.HospitalCHUAC, 10, []OnCallDoctor{{DoctorID: "oc-1"}}, pub)

	err := s.ScaleConsult(0, 3, "manual")
	require.ErrorIs(t, err, ErrInsufficientOnCall)
	assert.Empty(t, pub.events)
	assert.Equal(t, 1, s.PoolSize(), "the lone doctor stays in the pool")
}

func TestScaleConsultValidation(t *testing.T) {
	s := newController(nil)
	assert.ErrorIs(t, s.ScaleConsult(99, 2, "manual"), sim.ErrUnknownConsultRoom)
	assert.ErrorIs(t, s.ScaleConsult(0, 0, "manual"), sim.ErrDoctorsOutOfRange)
	assert.ErrorIs(t, s.ScaleConsult(0, 5, "manual"), sim.ErrDoctorsOutOfRange)
}

func TestScaleConsultEqualTargetIsNoop(t *testing.T) {
	pub := &capturingPublisher{}
	s := newController(pub)
	require.NoError(t, s.ScaleConsult(0, 1, "manual"))
	assert.Empty(t, pub.events)
}

func TestDoctorsConservedAcrossScaling(t *testing.T) {
	s := newController(nil)
	total := s.PoolSize() + s.AttachedCount()

	require.NoError(t, s.ScaleConsult(0, 4, "manual"))
	require.NoError(t, s.ScaleConsult(1, 3, "manual"))
	require.NoError(t, s.ScaleConsult(0, 1, "manual"))
	require.NoError(t, s.ScaleConsult(2, 2, "manual"))
	assert.ErrorIs(t, s.ScaleConsult(3, 4, "manual"), ErrInsufficientOnCall)

	assert.Equal(t, total, s.PoolSize()+s.AttachedCount())
}

func TestSetOnCallPoolKeepsAttachments(t *testing.T) {
	s := newController(nil)
	require.NoError(t, s.ScaleConsult(0, 3, "manual")) // oc-1, oc-2 attached

	s.SetOnCallPool([]OnCallDoctor{{DoctorID: "night-1"}, {DoctorID: "night-2"}})

	doctors, err := s.Doctors(0)
	require.NoError(t, err)
	assert.Equal(t, 3, doctors, "attached doctors survive a pool swap")
	assert.Equal(t, 2, s.PoolSize())

	// Scaling down releases the old attachments into the new pool.
	require.NoError(t, s.ScaleConsult(0, 1, "manual"))
	assert.Equal(t, 4, s.PoolSize())
}

func TestAutoscaleUpAndDown(t *testing.T) {
	pub := &capturingPublisher{}
	s := newController(pub)

	// High saturation: exactly one change per stats event.
	changed := s.Autoscale(statsFor(sim.HospitalCHUAC, 0.85))
	assert.True(t, changed)
	assert.Len(t, pub.byTopic(bus.TopicCapacityChange), 1)
	doctors, _ := s.Doctors(0)
	assert.Equal(t, 2, doctors)

	// Low saturation scales the same room back down.
	changed = s.Autoscale(statsFor(sim.HospitalCHUAC, 0.40))
	assert.True(t, changed)
	doctors, _ = s.Doctors(0)
	assert.Equal(t, 1, doctors)

	// Mid-band makes no change.
	assert.False(t, s.Autoscale(statsFor(sim.HospitalCHUAC, 0.65)))

	// Other hospitals are ignored.
	assert.False(t, s.Autoscale(statsFor(sim.HospitalModelo, 0.99)))
}

func TestAutoscaleDownSkipsBaseStaffedRooms(t *testing.T) {
	s := newController(nil)
	assert.False(t, s.Autoscale(statsFor(sim.HospitalCHUAC, 0.10)),
		"nothing to release when every room is at base staffing")
}
