package sim

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/urgencias-sim/urgencias-sim/bus"
)

// Stage service parameters in simulated minutes. Reception and triage are
// fixed-base with ±20% noise; consult scales with the room's doctors;
// observation stays are uniform.
const (
	receptionBaseMinutes  = 2.0
	triageBaseMinutes     = 5.0
	observationMinMinutes = 60.0
	observationMaxMinutes = 240.0
)

// DefaultDivertDecisionWindowMinutes is how long a gravity-flagged patient
// holds after triage before joining the consult queue, giving the
// coordinator its diversion window.
const DefaultDivertDecisionWindowMinutes = 5.0

// EngineOpts tune one engine instance.
type EngineOpts struct {
	// ClockStart anchors tick 0 on the simulated wall clock. Zero means
	// time.Now().UTC() at construction.
	ClockStart time.Time

	// DivertDecisionWindowMinutes overrides the gravity hold length.
	// Zero means DefaultDivertDecisionWindowMinutes.
	DivertDecisionWindowMinutes float64
}

// Engine is one hospital's emergency department as a discrete-event
// machine: reception → triage → (hold) → consult → observation/exit.
//
// Thread-safety: NOT thread-safe. Owned by exactly one runner goroutine;
// every method below must be called from it.
type Engine struct {
	cfg    HospitalConfig
	levels TriageTable
	paths  *PathologyCatalog
	pub    Publisher

	stageRNG  *rand.Rand
	triageRNG *rand.Rand

	clockStart time.Time
	clock      int64
	eventSeq   uint64
	patientSeq uint64
	events     *EventHeap

	desks   countPool
	boxes   *slotPool
	consult *consultPool
	beds    countPool

	receptionQ   waitQueue
	triageQ      waitQueue
	observationQ waitQueue

	holds    map[string]*Patient
	patients map[string]*Patient

	holdTicks int64

	arrivalsRing  tickRing
	attendedRing  tickRing
	emergencyRing tickRing

	triageWaits  *rollingWindow
	consultWaits *rollingWindow
	totalTimes   *rollingWindow

	divertsSent     int
	divertsReceived int
	errorCount      int
}

// NewEngine builds an engine for one hospital. levels and paths may be nil
// to use the defaults; pub may be nil to discard publications.
func NewEngine(cfg HospitalConfig, levels TriageTable, paths *PathologyCatalog, rng *PartitionedRNG, pub Publisher, opts EngineOpts) *Engine {
	if levels == nil {
		levels = DefaultTriageTable()
	}
	if paths == nil {
		paths = DefaultPathologies()
	}
	if pub == nil {
		pub = NopPublisher{}
	}
	if opts.ClockStart.IsZero() {
		opts.ClockStart = time.Now().UTC()
	}
	holdMinutes := opts.DivertDecisionWindowMinutes
	if holdMinutes <= 0 {
		holdMinutes = DefaultDivertDecisionWindowMinutes
	}

	return &Engine{
		cfg:        cfg,
		levels:     levels,
		paths:      paths,
		pub:        pub,
		stageRNG:   rng.ForSubsystem(SubsystemHospital(cfg.ID, SubsystemStages)),
		triageRNG:  rng.ForSubsystem(SubsystemHospital(cfg.ID, SubsystemTriage)),
		clockStart: opts.ClockStart,
		events:     NewEventHeap(),
		desks:      countPool{name: "desks", capacity: cfg.ReceptionDesks},
		boxes:      newSlotPool("triage boxes", cfg.TriageBoxes),
		consult:    newConsultPool(cfg.ConsultRooms),
		beds:       countPool{name: "beds", capacity: cfg.ObservationBeds},
		holds:      make(map[string]*Patient),
		patients:   make(map[string]*Patient),
		holdTicks:  MinutesToTicks(holdMinutes),

		triageWaits:  newRollingWindow(RollingWindowSize),
		consultWaits: newRollingWindow(RollingWindowSize),
		totalTimes:   newRollingWindow(RollingWindowSize),
	}
}

// Clock returns the current engine tick.
func (en *Engine) Clock() int64 { return en.clock }

// Config returns the hospital configuration this engine runs.
func (en *Engine) Config() HospitalConfig { return en.cfg }

// ClockStart returns the wall anchor of tick 0.
func (en *Engine) ClockStart() time.Time { return en.clockStart }

// InSystem returns the number of patients currently inside the hospital.
func (en *Engine) InSystem() int { return len(en.patients) }

// ErrorCount returns how many patients were failed by internal errors.
func (en *Engine) ErrorCount() int { return en.errorCount }

func (en *Engine) newBase(due int64, kind EventKind) baseEvent {
	if due < en.clock {
		due = en.clock
	}
	en.eventSeq++
	return baseEvent{timestamp: due, eventID: en.eventSeq, kind: kind}
}

// === Injection ===

// Inject schedules a patient arrival at a stage. Generator arrivals enter
// at reception; injected patients (diversions, casualties) at triage. A
// tick before the current clock is clamped to it.
func (en *Engine) Inject(arr PatientArrival, stage Stage, tick int64) {
	if tick < en.clock {
		tick = en.clock
	}
	en.patientSeq++
	p := &Patient{PatientArrival: arr, BoxID: -1, ConsultID: -1, seq: en.patientSeq}
	en.events.Schedule(&arrivalEvent{baseEvent: en.newBase(tick, EventArrival), patient: p, stage: stage})
}

// InjectDiverted enters a diverted patient at triage and counts the
// received diversion.
func (en *Engine) InjectDiverted(arr PatientArrival, tick int64) {
	en.divertsReceived++
	en.Inject(arr, StageTriage, tick)
}

// InjectEmergency enters an incident casualty at triage and arms the
// emergency window.
func (en *Engine) InjectEmergency(arr PatientArrival, tick int64) {
	if tick < en.clock {
		tick = en.clock
	}
	en.emergencyRing.Add(tick)
	en.Inject(arr, StageTriage, tick)
}

// === Event loop ===

// AdvanceTo executes every due event and moves the clock to now.
// The clock is monotonic; calling with an earlier tick is a programmer
// error and panics.
func (en *Engine) AdvanceTo(now int64) {
	if now < en.clock {
		panic(fmt.Sprintf("engine %s: clock went backwards: %d -> %d", en.cfg.ID, en.clock, now))
	}
	for {
		next := en.events.Peek()
		if next == nil || next.Timestamp() > now {
			break
		}
		ev := en.events.PopNext()
		en.clock = ev.Timestamp()
		en.executeEvent(ev)
	}
	en.clock = now
}

// executeEvent isolates handler failures: a panic fails the event's
// patient and the engine keeps serving everyone else.
func (en *Engine) executeEvent(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logrus.Errorf("engine %s: %s event panicked: %v", en.cfg.ID, ev.Kind(), r)
			if p := eventPatient(ev); p != nil && p.Outcome == OutcomeNone {
				en.failPatient(p, fmt.Errorf("stage handler panic: %v", r))
			} else {
				en.errorCount++
			}
			// The handler may have freed a resource before unwinding and
			// never reached its pump; wake every stage so queued patients
			// cannot stall behind the failure.
			en.pumpAll()
		}
	}()
	ev.Execute(en)
}

func (en *Engine) pumpAll() {
	en.pumpReception()
	en.pumpTriage()
	en.pumpConsult()
	en.pumpObservation()
}

// noise is the ±20% stage duration multiplier.
func (en *Engine) noise() float64 {
	return 0.8 + en.stageRNG.Float64()*0.4
}

// === Stage handlers ===

func (en *Engine) handleArrival(e *arrivalEvent) {
	p := e.patient
	p.ArrivalTick = en.clock
	en.patients[p.PatientID] = p
	en.arrivalsRing.Add(en.clock)

	switch e.stage {
	case StageTriage:
		p.pos = posTriageQueue
		p.TriageQueuedAt = en.clock
		en.triageQ.Enqueue(p)
		en.pumpTriage()
	default:
		p.pos = posReceptionQueue
		en.receptionQ.Enqueue(p)
		en.pumpReception()
	}
}

func (en *Engine) pumpReception() {
	for en.receptionQ.Len() > 0 {
		if en.receptionQ.Peek().Outcome != OutcomeNone {
			en.receptionQ.Dequeue()
			continue
		}
		if !en.desks.acquire() {
			return
		}
		p := en.receptionQ.Dequeue()
		p.pos = posReceptionDesk
		p.ReceptionStart = en.clock
		due := en.clock + MinutesToTicks(receptionBaseMinutes*en.noise())
		en.events.Schedule(&receptionDoneEvent{baseEvent: en.newBase(due, EventStageComplete), patient: p})
	}
}

func (en *Engine) handleReceptionDone(e *receptionDoneEvent) {
	p := e.patient
	if p.Outcome != OutcomeNone {
		return
	}
	if err := en.desks.release(); err != nil {
		p.pos = posNone
		en.failPatient(p, err)
		return
	}
	p.ReceptionEnd = en.clock
	p.pos = posTriageQueue
	p.TriageQueuedAt = en.clock
	en.triageQ.Enqueue(p)
	en.pumpTriage()
	en.pumpReception()
}

func (en *Engine) pumpTriage() {
	for en.triageQ.Len() > 0 {
		if en.triageQ.Peek().Outcome != OutcomeNone {
			en.triageQ.Dequeue()
			continue
		}
		box, ok := en.boxes.acquire()
		if !ok {
			return
		}
		p := en.triageQ.Dequeue()
		p.pos = posTriageBox
		p.BoxID = box
		p.TriageStart = en.clock
		en.triageWaits.Add(TicksToMinutes(en.clock - p.TriageQueuedAt))
		duration := triageBaseMinutes * en.noise()
		due := en.clock + MinutesToTicks(duration)
		en.events.Schedule(&triageDoneEvent{baseEvent: en.newBase(due, EventStageComplete), patient: p, durationMinutes: duration})
	}
}

func (en *Engine) handleTriageDone(e *triageDoneEvent) {
	p := e.patient
	if p.Outcome != OutcomeNone {
		return
	}
	if err := en.boxes.release(p.BoxID); err != nil {
		p.pos = posNone
		en.failPatient(p, err)
		return
	}
	p.TriageEnd = en.clock
	p.Level = en.paths.LevelFor(p.PathologyTag, en.triageRNG)

	requiresDiversion := en.levels[p.Level].RequiresReference && !en.cfg.ReferenceCenter
	en.pub.Publish(bus.TopicTriageResults, string(en.cfg.ID), TriageResult{
		PatientID:             p.PatientID,
		HospitalID:            en.cfg.ID,
		TriageLevel:           p.Level,
		BoxID:                 p.BoxID,
		TriageDurationMinutes: e.durationMinutes,
		RequiresDiversion:     requiresDiversion,
	})

	if requiresDiversion {
		p.pos = posHold
		en.holds[p.PatientID] = p
		due := en.clock + en.holdTicks
		en.events.Schedule(&holdReleaseEvent{baseEvent: en.newBase(due, EventHoldRelease), patient: p})
	} else {
		en.enqueueConsult(p)
	}
	en.pumpTriage()
}

func (en *Engine) handleHoldRelease(e *holdReleaseEvent) {
	p := e.patient
	if _, held := en.holds[p.PatientID]; !held {
		return // diverted or failed during the window
	}
	delete(en.holds, p.PatientID)
	en.enqueueConsult(p)
}

func (en *Engine) enqueueConsult(p *Patient) {
	p.pos = posConsultQueue
	p.ConsultQueuedAt = en.clock
	en.consult.enqueue(p)
	en.pumpConsult()
}

func (en *Engine) pumpConsult() {
	for en.consult.queueLen() > 0 {
		roomID, ok := en.consult.freeRoom()
		if !ok {
			return
		}
		p := en.consult.next()
		if err := en.consult.start(roomID, p); err != nil {
			p.pos = posNone
			en.failPatient(p, err)
			continue
		}
		p.pos = posConsultRoom
		p.ConsultID = roomID
		p.ConsultStart = en.clock
		en.consultWaits.Add(TicksToMinutes(en.clock - p.ConsultQueuedAt))

		doctors, err := en.consult.doctors(roomID)
		if err != nil {
			doctors = MinDoctorsPerRoom
		}
		speed := doctors
		if speed > MaxDoctorsPerRoom {
			speed = MaxDoctorsPerRoom
		}
		duration := en.levels[p.Level].BaseConsultMinutes / float64(speed) * en.noise()

		en.pub.Publish(bus.TopicConsultationEvents, string(en.cfg.ID), ConsultationEvent{
			PatientID:        p.PatientID,
			HospitalID:       en.cfg.ID,
			ConsultID:        roomID,
			Phase:            PhaseStart,
			TriageLevel:      p.Level,
			DoctorsAttending: doctors,
		})

		due := en.clock + MinutesToTicks(duration)
		en.events.Schedule(&consultDoneEvent{
			baseEvent:       en.newBase(due, EventStageComplete),
			patient:         p,
			consultID:       roomID,
			doctors:         doctors,
			durationMinutes: duration,
		})
	}
}

func (en *Engine) handleConsultDone(e *consultDoneEvent) {
	p := e.patient
	if p.Outcome != OutcomeNone {
		return
	}
	if err := en.consult.finish(e.consultID); err != nil {
		p.pos = posNone
		en.failPatient(p, err)
		return
	}
	p.ConsultEnd = en.clock
	en.attendedRing.Add(en.clock)

	outcome := OutcomeDischarge
	if en.triageRNG.Float64() < en.levels[p.Level].ProbabilityObservation {
		outcome = OutcomeObservation
	}

	en.pub.Publish(bus.TopicConsultationEvents, string(en.cfg.ID), ConsultationEvent{
		PatientID:              p.PatientID,
		HospitalID:             en.cfg.ID,
		ConsultID:              e.consultID,
		Phase:                  PhaseEnd,
		TriageLevel:            p.Level,
		DoctorsAttending:       e.doctors,
		ConsultDurationMinutes: e.durationMinutes,
		Outcome:                outcome,
	})

	// Set only after the publish: a publisher panic must leave the episode
	// recoverable as an error, not half terminated.
	p.Outcome = outcome

	if outcome == OutcomeObservation {
		p.pos = posObservationQueue
		en.observationQ.Enqueue(p)
		en.pumpObservation()
	} else {
		en.exit(p)
	}
	en.pumpConsult()
}

func (en *Engine) pumpObservation() {
	for en.observationQ.Len() > 0 {
		head := en.observationQ.Peek()
		if head.Outcome != OutcomeObservation {
			// Failed while queued; observation entrants always carry
			// OutcomeObservation.
			en.observationQ.Dequeue()
			continue
		}
		if !en.beds.acquire() {
			return
		}
		p := en.observationQ.Dequeue()
		p.pos = posObservationBed
		p.ObservationStart = en.clock
		stay := observationMinMinutes + en.stageRNG.Float64()*(observationMaxMinutes-observationMinMinutes)
		due := en.clock + MinutesToTicks(stay)
		en.events.Schedule(&observationDoneEvent{baseEvent: en.newBase(due, EventStageComplete), patient: p})
	}
}

func (en *Engine) handleObservationDone(e *observationDoneEvent) {
	p := e.patient
	if p.Outcome != OutcomeObservation {
		return
	}
	if err := en.beds.release(); err != nil {
		p.pos = posNone
		en.failPatient(p, err)
		return
	}
	p.ObservationEnd = en.clock
	en.exit(p)
	en.pumpObservation()
}

// exit finishes an episode and records the door-to-exit time.
func (en *Engine) exit(p *Patient) {
	p.pos = posNone
	en.totalTimes.Add(p.TotalMinutes(en.clock))
	delete(en.patients, p.PatientID)
}

// === Diversion ===

// Divert removes a pre-consult patient for transfer to dest. It succeeds
// while the patient is in the gravity hold or still waiting for a consult;
// once the consult started it is too late and ok=false is returned. The
// returned arrival carries the destination hospital id, ready for
// re-injection there.
func (en *Engine) Divert(patientID string, dest HospitalID) (PatientArrival, bool) {
	p, ok := en.patients[patientID]
	if !ok {
		return PatientArrival{}, false
	}
	switch p.pos {
	case posHold:
		delete(en.holds, patientID)
	case posConsultQueue:
		if en.consult.removeWaiting(patientID) == nil {
			return PatientArrival{}, false
		}
	default:
		logrus.Debugf("engine %s: diversion of %s arrived too late", en.cfg.ID, patientID)
		return PatientArrival{}, false
	}
	p.pos = posNone
	p.Outcome = OutcomeDiverted
	p.DivertedTo = dest
	en.divertsSent++
	delete(en.patients, patientID)

	arr := p.PatientArrival
	arr.HospitalID = dest
	return arr, true
}

// === Staffing ===

// SetDoctors changes a consult room's staffing within [1,4]. Takes effect
// at the next consult start in that room.
func (en *Engine) SetDoctors(consultID, doctors int) error {
	return en.consult.setDoctors(consultID, doctors)
}

// Doctors reports a consult room's staffing.
func (en *Engine) Doctors(consultID int) (int, error) {
	return en.consult.doctors(consultID)
}

// === Reporting ===

// Saturation returns the current composite saturation.
func (en *Engine) Saturation() float64 {
	return CompositeSaturation(
		en.desks.busy, en.desks.capacity,
		en.boxes.busy, en.boxes.capacity(),
		en.consult.busyCount(), en.consult.roomCount(),
		en.consult.queueLen(),
	)
}

// Snapshot builds the stats record as of now. It never advances the
// clock; call AdvanceTo(now) first for a settled view.
func (en *Engine) Snapshot(now int64) HospitalStats {
	cutoff := now - LastHourTicks
	return HospitalStats{
		HospitalID:           en.cfg.ID,
		DesksBusy:            en.desks.busy,
		DesksTotal:           en.desks.capacity,
		TriageBoxesBusy:      en.boxes.busy,
		TriageBoxesTotal:     en.boxes.capacity(),
		ConsultRoomsBusy:     en.consult.busyCount(),
		ConsultRoomsTotal:    en.consult.roomCount(),
		ObservationBedsBusy:  en.beds.busy,
		ObservationBedsTotal: en.beds.capacity,
		QueueLengths: QueueLengths{
			Reception:   en.receptionQ.Len(),
			Triage:      en.triageQ.Len(),
			Consult:     en.consult.queueLen(),
			Observation: en.observationQ.Len(),
		},
		RollingMeanWaits: RollingMeanWaits{
			TriageWait:  en.triageWaits.Mean(),
			ConsultWait: en.consultWaits.Mean(),
			TotalTime:   en.totalTimes.Mean(),
		},
		ArrivalsLastHour: en.arrivalsRing.CountSince(cutoff),
		AttendedLastHour: en.attendedRing.CountSince(cutoff),
		DivertsSent:      en.divertsSent,
		DivertsReceived:  en.divertsReceived,
		GlobalSaturation: en.Saturation(),
		EmergencyActive:  en.emergencyRing.CountSince(cutoff) > 0,
		Timestamp:        bus.NewUTCTime(WallAt(en.clockStart, now)),
	}
}

// === Shutdown ===

// Shutdown drains the hospital: every in-system patient is abandoned,
// all resources are released and pending events are dropped. Returns the
// abandoned count.
func (en *Engine) Shutdown(now int64) int {
	if now > en.clock {
		en.clock = now
	}
	count := 0
	for id, p := range en.patients {
		p.Outcome = OutcomeAbandoned
		p.pos = posNone
		delete(en.patients, id)
		count++
	}
	en.holds = make(map[string]*Patient)
	en.receptionQ.reset()
	en.triageQ.reset()
	en.observationQ.reset()
	en.desks.reset()
	en.boxes.reset()
	en.consult.reset()
	en.beds.reset()
	en.events = NewEventHeap()
	if count > 0 {
		logrus.Infof("engine %s: shutdown abandoned %d in-flight patients", en.cfg.ID, count)
	}
	return count
}

// failPatient ends an episode on an internal error: the resource the
// patient held is released, the episode is marked ERROR and the engine
// keeps serving everyone else.
func (en *Engine) failPatient(p *Patient, err error) {
	en.errorCount++
	logrus.Errorf("engine %s: patient %s failed: %v", en.cfg.ID, p.PatientID, err)
	switch p.pos {
	case posReceptionDesk:
		if rerr := en.desks.release(); rerr != nil {
			logrus.Errorf("engine %s: release after failure: %v", en.cfg.ID, rerr)
		}
	case posTriageBox:
		if rerr := en.boxes.release(p.BoxID); rerr != nil {
			logrus.Errorf("engine %s: release after failure: %v", en.cfg.ID, rerr)
		}
	case posConsultRoom:
		if rerr := en.consult.finish(p.ConsultID); rerr != nil {
			logrus.Errorf("engine %s: release after failure: %v", en.cfg.ID, rerr)
		}
	case posObservationBed:
		if rerr := en.beds.release(); rerr != nil {
			logrus.Errorf("engine %s: release after failure: %v", en.cfg.ID, rerr)
		}
	case posHold:
		delete(en.holds, p.PatientID)
	case posConsultQueue:
		en.consult.removeWaiting(p.PatientID)
	}
	p.pos = posNone
	p.Outcome = OutcomeError
	delete(en.patients, p.PatientID)
}
