package coordinator

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/urgencias-sim/urgencias-sim/bus"
	"github.com/urgencias-sim/urgencias-sim/sim"
)

// ErrInsufficientOnCall marks a scale-up that the free pool cannot cover.
// Nothing is applied: scale-ups are all or nothing.
var ErrInsufficientOnCall = errors.New("insufficient on-call doctors")

// Autoscale thresholds for the reference center.
const (
	AutoscaleUpThreshold   = 0.80
	AutoscaleDownThreshold = 0.50
)

// OnCallDoctor is one entry of the on-call pool.
type OnCallDoctor struct {
	DoctorID string `yaml:"doctorId"`
	Name     string `yaml:"name"`
}

// DefaultOnCallPool returns the built-in six-doctor pool.
func DefaultOnCallPool() []OnCallDoctor {
	pool := make([]OnCallDoctor, 6)
	for i := range pool {
		pool[i] = OnCallDoctor{
			DoctorID: fmt.Sprintf("oc-%d", i+1),
			Name:     fmt.Sprintf("On-call doctor %d", i+1),
		}
	}
	return pool
}

// DoctorAssigned is the wire record published to doctor-assigned. Field
// names follow the dashboards' contract.
type DoctorAssigned struct {
	MedicoID               string         `json:"medicoId"`
	HospitalID             sim.HospitalID `json:"hospitalId"`
	ConsultID              int            `json:"consultId"`
	MedicosTotalesConsulta int            `json:"medicosTotalesConsulta"`
	VelocidadFactor        float64        `json:"velocidadFactor"`
}

// DoctorUnassigned is the wire record published to doctor-unassigned.
type DoctorUnassigned struct {
	MedicoID                 string         `json:"medicoId"`
	HospitalID               sim.HospitalID `json:"hospitalId"`
	ConsultID                int            `json:"consultId"`
	MedicosRestantesConsulta int            `json:"medicosRestantesConsulta"`
	VelocidadFactor          float64        `json:"velocidadFactor"`
	Motivo                   string         `json:"motivo"`
}

// CapacityChange is the wire record published to capacity-change, one per
// applied scaling operation.
type CapacityChange struct {
	HospitalID      sim.HospitalID `json:"hospitalId"`
	ConsultID       int            `json:"consultId"`
	MedicosPrevios  int            `json:"medicosPrevios"`
	MedicosNuevos   int            `json:"medicosNuevos"`
	VelocidadPrevia float64        `json:"velocidadPrevia"`
	VelocidadNueva  float64        `json:"velocidadNueva"`
	Motivo          string         `json:"motivo"`
}

// roomState mirrors one reference-center consult room: a base doctor
// plus the on-call attachments, youngest last.
type roomState struct {
	id       int
	attached []OnCallDoctor
}

func (r *roomState) doctors() int { return 1 + len(r.attached) }

// speedFactor is the consult duration divisor a staffing level buys.
func speedFactor(doctors int) float64 {
	if doctors > sim.MaxDoctorsPerRoom {
		doctors = sim.MaxDoctorsPerRoom
	}
	return float64(doctors)
}

// ScalingController manages the reference center's on-call pool and its
// per-room doctor counts. The pool is FIFO: scale-ups pop the head,
// released doctors rejoin at the tail. Scale-downs release the youngest
// attachments first, so a doctor freshly pulled in is the first sent
// back.
//
// Thread-safety: NOT thread-safe. Owned by the coordinator consumer
// goroutine.
type ScalingController struct {
	hospital sim.HospitalID
	pub      sim.Publisher
	rooms    []roomState
	pool     []OnCallDoctor
}

// NewScalingController builds the controller for the reference center's
// consult rooms, every room starting at its base doctor. pool may be nil
// for the default; pub may be nil to discard events.
func NewScalingController(hospital sim.HospitalID, consultRooms int, pool []OnCallDoctor, pub sim.Publisher) *ScalingController {
	if pool == nil {
		pool = DefaultOnCallPool()
	}
	if pub == nil {
		pub = sim.NopPublisher{}
	}
	rooms := make([]roomState, consultRooms)
	for i := range rooms {
		rooms[i] = roomState{id: i}
	}
	return &ScalingController{
		hospital: hospital,
		pub:      pub,
		rooms:    rooms,
		pool:     append([]OnCallDoctor(nil), pool...),
	}
}

// ScaleConsult sets a room's staffing to target doctors. A scale-up is
// all or nothing: if the free pool cannot cover the difference the call
// fails with ErrInsufficientOnCall and no event is published.
func (s *ScalingController) ScaleConsult(consultID, target int, motivo string) error {
	if consultID < 0 || consultID >= len(s.rooms) {
		return fmt.Errorf("%w: %d", sim.ErrUnknownConsultRoom, consultID)
	}
	if target < sim.MinDoctorsPerRoom || target > sim.MaxDoctorsPerRoom {
		return fmt.Errorf("%w: %d", sim.ErrDoctorsOutOfRange, target)
	}

	room := &s.rooms[consultID]
	current := room.doctors()
	switch {
	case target > current:
		need := target - current
		if len(s.pool) < need {
			return fmt.Errorf("%w: need %d, pool holds %d", ErrInsufficientOnCall, need, len(s.pool))
		}
		for i := 0; i < need; i++ {
			doctor := s.pool[0]
			s.pool = s.pool[1:]
			room.attached = append(room.attached, doctor)
			s.pub.Publish(bus.TopicDoctorAssigned, string(s.hospital), DoctorAssigned{
				MedicoID:               doctor.DoctorID,
				HospitalID:             s.hospital,
				ConsultID:              consultID,
				MedicosTotalesConsulta: room.doctors(),
				VelocidadFactor:        speedFactor(room.doctors()),
			})
		}
	case target < current:
		for room.doctors() > target {
			doctor := room.attached[len(room.attached)-1]
			room.attached = room.attached[:len(room.attached)-1]
			s.pool = append(s.pool, doctor)
			s.pub.Publish(bus.TopicDoctorUnassigned, string(s.hospital), DoctorUnassigned{
				MedicoID:                 doctor.DoctorID,
				HospitalID:               s.hospital,
				ConsultID:                consultID,
				MedicosRestantesConsulta: room.doctors(),
				VelocidadFactor:          speedFactor(room.doctors()),
				Motivo:                   motivo,
			})
		}
	default:
		return nil
	}

	s.pub.Publish(bus.TopicCapacityChange, string(s.hospital), CapacityChange{
		HospitalID:      s.hospital,
		ConsultID:       consultID,
		MedicosPrevios:  current,
		MedicosNuevos:   target,
		VelocidadPrevia: speedFactor(current),
		VelocidadNueva:  speedFactor(target),
		Motivo:          motivo,
	})
	logrus.Infof("scaling: %s consult %d %d -> %d doctors (%s)", s.hospital, consultID, current, target, motivo)
	return nil
}

// Autoscale applies at most one staffing change for a reference-center
// stats event: past the up threshold the first under-staffed room gains
// a doctor, below the down threshold the first over-staffed room loses
// one. Returns whether a change was applied.
func (s *ScalingController) Autoscale(stats sim.HospitalStats) bool {
	if stats.HospitalID != s.hospital {
		return false
	}
	switch {
	case stats.GlobalSaturation >= AutoscaleUpThreshold:
		for i := range s.rooms {
			if s.rooms[i].doctors() < sim.MaxDoctorsPerRoom {
				if err := s.ScaleConsult(i, s.rooms[i].doctors()+1, "autoscale_up"); err != nil {
					logrus.Warnf("scaling: autoscale up blocked: %v", err)
					return false
				}
				return true
			}
		}
	case stats.GlobalSaturation <= AutoscaleDownThreshold:
		for i := range s.rooms {
			if s.rooms[i].doctors() > sim.MinDoctorsPerRoom {
				if err := s.ScaleConsult(i, s.rooms[i].doctors()-1, "autoscale_down"); err != nil {
					logrus.Warnf("scaling: autoscale down blocked: %v", err)
					return false
				}
				return true
			}
		}
	}
	return false
}

// SetOnCallPool replaces the free pool. Doctors currently attached to a
// room are not disturbed; only the unattached pool is swapped.
func (s *ScalingController) SetOnCallPool(entries []OnCallDoctor) {
	s.pool = append([]OnCallDoctor(nil), entries...)
}

// Doctors reports a room's current staffing.
func (s *ScalingController) Doctors(consultID int) (int, error) {
	if consultID < 0 || consultID >= len(s.rooms) {
		return 0, fmt.Errorf("%w: %d", sim.ErrUnknownConsultRoom, consultID)
	}
	return s.rooms[consultID].doctors(), nil
}

// PoolSize reports the free pool headcount.
func (s *ScalingController) PoolSize() int { return len(s.pool) }

// AttachedCount reports how many on-call doctors are attached to rooms.
// PoolSize plus AttachedCount stays constant across any sequence of
// scaling operations: doctors are conserved.
func (s *ScalingController) AttachedCount() int {
	total := 0
	for i := range s.rooms {
		total += len(s.rooms[i].attached)
	}
	return total
}
