package network

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/urgencias-sim/urgencias-sim/bus"
	"github.com/urgencias-sim/urgencias-sim/coordinator"
	"github.com/urgencias-sim/urgencias-sim/incident"
	"github.com/urgencias-sim/urgencias-sim/sim"
)

// ConsumerGroup is the simulator's bus consumer group.
const ConsumerGroup = "simulator"

// MinSpeed is the floor for the wall-to-sim ratio.
const MinSpeed = 0.1

// ControlCommand is the wire record consumed from simulation-control.
type ControlCommand struct {
	Command        string   `json:"command"`
	Speed          float64  `json:"speed,omitempty"`
	Tipo           string   `json:"tipo,omitempty"`
	Lat            *float64 `json:"lat,omitempty"`
	Lon            *float64 `json:"lon,omitempty"`
	TotalPacientes int      `json:"totalPacientes,omitempty"`
}

// SimulatorOpts configure the process orchestrator.
type SimulatorOpts struct {
	Catalog *sim.Catalog
	Client  *bus.Client
	Seed    sim.SimulationKey

	// Speed is the initial wall-to-sim ratio; clamped to MinSpeed.
	Speed float64

	// DurationMinutes bounds the run in simulated minutes; 0 means
	// unbounded.
	DurationMinutes float64

	// ClockStart anchors tick 0; zero means time.Now().UTC().
	ClockStart time.Time
}

// Simulator hosts all hospital runners and reacts to the network's
// control and staffing topics. One per process.
type Simulator struct {
	catalog *sim.Catalog
	client  *bus.Client
	runners map[sim.HospitalID]*Runner
	order   []sim.HospitalID

	reference   sim.HospitalID
	distributor *incident.Distributor
	incidentRNG *rand.Rand

	// attached mirrors the reference center's on-call attachments per
	// consult room, so repeated assignment events apply once.
	attached map[int]map[string]bool

	speedBits atomic.Uint64
	running   atomic.Bool
}

// NewSimulator builds the simulator and its runners. Nothing moves until
// Run.
func NewSimulator(opts SimulatorOpts) (*Simulator, error) {
	if err := opts.Catalog.Validate(); err != nil {
		return nil, fmt.Errorf("catalogue: %w", err)
	}
	if opts.ClockStart.IsZero() {
		opts.ClockStart = time.Now().UTC()
	}
	ref, ok := opts.Catalog.Reference()
	if !ok {
		return nil, fmt.Errorf("catalogue has no reference center")
	}

	s := &Simulator{
		catalog:   opts.Catalog,
		client:    opts.Client,
		runners:   make(map[sim.HospitalID]*Runner),
		order:     opts.Catalog.IDs(),
		reference: ref.ID,
		attached:  make(map[int]map[string]bool),
	}
	s.SetSpeed(opts.Speed)
	s.running.Store(true)

	var horizon int64
	if opts.DurationMinutes > 0 {
		horizon = sim.MinutesToTicks(opts.DurationMinutes)
	}

	rng := sim.NewPartitionedRNG(opts.Seed)
	s.incidentRNG = rng.ForSubsystem(sim.SubsystemIncident)
	for _, cfg := range opts.Catalog.Hospitals {
		provider := sim.NewProfileProvider(opts.Catalog.Factors, nil)
		engine := sim.NewEngine(cfg, opts.Catalog.Levels, nil, rng, opts.Client, sim.EngineOpts{
			ClockStart: opts.ClockStart,
		})
		gen := sim.NewGenerator(cfg, rng, provider, nil, opts.ClockStart)
		s.runners[cfg.ID] = NewRunner(RunnerOpts{
			Engine:       engine,
			Generator:    gen,
			Provider:     provider,
			Publisher:    opts.Client,
			Speed:        s.Speed,
			Running:      s.running.Load,
			HorizonTicks: horizon,
		})
	}
	s.distributor = incident.NewDistributor(opts.Catalog, s.snapshotStats)
	return s, nil
}

// Speed returns the current wall-to-sim ratio.
func (s *Simulator) Speed() float64 {
	return math.Float64frombits(s.speedBits.Load())
}

// SetSpeed clamps and applies a new ratio; all runners pick it up on
// their next wall tick. Idempotent.
func (s *Simulator) SetSpeed(speed float64) {
	if speed < MinSpeed {
		speed = MinSpeed
	}
	if s.speedBits.Swap(math.Float64bits(speed)) != math.Float64bits(speed) {
		logrus.Infof("simulator: speed set to %.2f", speed)
	}
}

// Start resumes the clocks. Idempotent.
func (s *Simulator) Start() {
	if s.running.CompareAndSwap(false, true) {
		logrus.Info("simulator: started")
	}
}

// Stop freezes the clocks; consumers and injections stay live. Idempotent.
func (s *Simulator) Stop() {
	if s.running.CompareAndSwap(true, false) {
		logrus.Info("simulator: stopped")
	}
}

// Runner returns the runner for one hospital, nil if unknown.
func (s *Simulator) Runner(id sim.HospitalID) *Runner { return s.runners[id] }

// snapshotStats is the distributor's live stats source.
func (s *Simulator) snapshotStats() map[sim.HospitalID]sim.HospitalStats {
	out := make(map[sim.HospitalID]sim.HospitalStats, len(s.runners))
	for id, r := range s.runners {
		out[id] = r.Stats()
	}
	return out
}

// Run starts every runner and the control consumers, and blocks until
// ctx is cancelled or the simulated horizon is reached on every runner.
func (s *Simulator) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, id := range s.order {
		s.runners[id].Start(ctx)
	}
	go s.watchHorizon(ctx, cancel)

	consumer := s.client.Subscribe([]string{
		bus.TopicSimulationControl,
		bus.TopicIncidentPatients,
		bus.TopicDiversionAlerts,
		bus.TopicDoctorAssigned,
		bus.TopicDoctorUnassigned,
		bus.TopicCapacityChange,
	}, ConsumerGroup)
	consumer.On(bus.TopicSimulationControl, decoding(s.applyControl))
	consumer.On(bus.TopicIncidentPatients, decoding(s.applyCasualty))
	consumer.On(bus.TopicDiversionAlerts, decoding(s.applyDiversion))
	consumer.On(bus.TopicDoctorAssigned, decoding(s.applyDoctorAssigned))
	consumer.On(bus.TopicDoctorUnassigned, decoding(s.applyDoctorUnassigned))
	consumer.On(bus.TopicCapacityChange, decoding(s.applyCapacityChange))

	logrus.Infof("simulator: running %d hospitals at speed %.2f", len(s.runners), s.Speed())
	return consumer.Run(ctx)
}

// watchHorizon cancels the run once every bounded runner finishes.
func (s *Simulator) watchHorizon(ctx context.Context, cancel context.CancelFunc) {
	for _, r := range s.runners {
		select {
		case <-r.Finished():
		case <-ctx.Done():
			return
		}
	}
	logrus.Info("simulator: horizon reached on all hospitals, shutting down")
	cancel()
}

// decoding adapts a typed handler to the bus contract.
func decoding[T any](apply func(T) error) bus.Handler {
	return func(msg bus.Message) error {
		var payload T
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return fmt.Errorf("decoding %s: %w", msg.Topic, err)
		}
		return apply(payload)
	}
}

func (s *Simulator) applyControl(cmd ControlCommand) error {
	switch cmd.Command {
	case "start":
		s.Start()
	case "stop":
		s.Stop()
	case "set_speed":
		s.SetSpeed(cmd.Speed)
	case "inject_incident":
		var loc *incident.Location
		if cmd.Lat != nil && cmd.Lon != nil {
			loc = &incident.Location{Lat: *cmd.Lat, Lon: *cmd.Lon}
		}
		s.InjectIncident(cmd.Tipo, cmd.TotalPacientes, loc)
	default:
		logrus.Warnf("simulator: unknown control command %q", cmd.Command)
	}
	return nil
}

// InjectIncident apportions a mass-casualty event over the network and
// feeds the victims back through incident-patients.
func (s *Simulator) InjectIncident(kind string, totalPatients int, loc *incident.Location) {
	if totalPatients <= 0 {
		logrus.Warnf("simulator: incident %q with no patients, ignored", kind)
		return
	}
	inc := incident.New(kind, totalPatients, loc)
	dist := s.distributor.Distribute(inc)
	s.client.Publish(bus.TopicIncidentDistribution, inc.IncidentID, dist.Payload())
	for _, line := range dist.Analysis {
		logrus.Info("simulator: " + line)
	}
	for _, c := range incident.Casualties(inc, dist.Counts, s.incidentRNG) {
		s.client.Publish(bus.TopicIncidentPatients, string(c.HospitalID), c)
	}
}

func (s *Simulator) applyCasualty(c incident.Casualty) error {
	runner, ok := s.runners[c.HospitalID]
	if !ok {
		logrus.Warnf("simulator: casualty %s for unknown hospital %s, dropped", c.PatientID, c.HospitalID)
		return nil
	}
	runner.InjectCasualty(sim.PatientArrival{
		PatientID:    c.PatientID,
		HospitalID:   c.HospitalID,
		Age:          c.Age,
		Sex:          c.Sex,
		PathologyTag: c.Pathology,
		DemandFactor: 1,
	})
	return nil
}

// applyDiversion executes a coordinator decision: pull the patient out
// of the origin, re-inject at the destination after the transfer ride.
func (s *Simulator) applyDiversion(alert coordinator.DiversionAlert) error {
	origin, ok := s.runners[alert.OriginHospital]
	if !ok {
		logrus.Warnf("simulator: diversion from unknown hospital %s, dropped", alert.OriginHospital)
		return nil
	}
	dest, ok := s.runners[alert.DestinationHospital]
	if !ok {
		logrus.Warnf("simulator: diversion to unknown hospital %s, dropped", alert.DestinationHospital)
		return nil
	}
	arr, ok := origin.Divert(alert.PatientID, alert.DestinationHospital)
	if !ok {
		// Already in consult, discharged, or never held: the decision
		// arrived too late.
		logrus.Debugf("simulator: diversion of %s missed its window", alert.PatientID)
		return nil
	}
	dest.InjectDiverted(arr, alert.EstimatedTransferMinutes)
	return nil
}

func (s *Simulator) applyDoctorAssigned(ev coordinator.DoctorAssigned) error {
	if ev.HospitalID != s.reference {
		logrus.Warnf("simulator: doctor assignment for non-reference hospital %s, ignored", ev.HospitalID)
		return nil
	}
	room := s.attached[ev.ConsultID]
	if room == nil {
		room = make(map[string]bool)
		s.attached[ev.ConsultID] = room
	}
	if room[ev.MedicoID] {
		return nil // repeat delivery, already applied
	}
	room[ev.MedicoID] = true
	s.runners[s.reference].SetDoctors(ev.ConsultID, ev.MedicosTotalesConsulta)
	return nil
}

func (s *Simulator) applyDoctorUnassigned(ev coordinator.DoctorUnassigned) error {
	if ev.HospitalID != s.reference {
		logrus.Warnf("simulator: doctor release for non-reference hospital %s, ignored", ev.HospitalID)
		return nil
	}
	if room := s.attached[ev.ConsultID]; room != nil {
		delete(room, ev.MedicoID)
	}
	s.runners[s.reference].SetDoctors(ev.ConsultID, ev.MedicosRestantesConsulta)
	return nil
}

func (s *Simulator) applyCapacityChange(ev coordinator.CapacityChange) error {
	if ev.HospitalID != s.reference {
		return nil
	}
	// Absolute totals, so applying after the per-doctor events is a
	// no-op unless one of them was lost.
	s.runners[s.reference].SetDoctors(ev.ConsultID, ev.MedicosNuevos)
	return nil
}
