package sim

// EventKind classifies engine events for deterministic ordering.
type EventKind string

const (
	EventStageComplete EventKind = "StageComplete"
	EventHoldRelease   EventKind = "HoldRelease"
	EventArrival       EventKind = "Arrival"
)

// EventKindPriority defines ordering for simultaneous events.
// Lower values are processed first: completions must free their resources
// before arrivals at the same tick compete for them.
var EventKindPriority = map[EventKind]int{
	EventStageComplete: 1,
	EventHoldRelease:   2,
	EventArrival:       3,
}

// Event is one scheduled engine action.
type Event interface {
	Timestamp() int64
	EventID() uint64
	Kind() EventKind
	Execute(en *Engine)
}

// baseEvent provides common event fields.
type baseEvent struct {
	timestamp int64
	eventID   uint64
	kind      EventKind
}

func (e *baseEvent) Timestamp() int64 { return e.timestamp }
func (e *baseEvent) EventID() uint64  { return e.eventID }
func (e *baseEvent) Kind() EventKind  { return e.kind }

// arrivalEvent enters a patient into the flow at a stage.
type arrivalEvent struct {
	baseEvent
	patient *Patient
	stage   Stage
}

func (e *arrivalEvent) Execute(en *Engine) { en.handleArrival(e) }

// receptionDoneEvent completes a patient's reception service.
type receptionDoneEvent struct {
	baseEvent
	patient *Patient
}

func (e *receptionDoneEvent) Execute(en *Engine) { en.handleReceptionDone(e) }

// triageDoneEvent completes a patient's triage and resolves the level.
type triageDoneEvent struct {
	baseEvent
	patient         *Patient
	durationMinutes float64
}

func (e *triageDoneEvent) Execute(en *Engine) { en.handleTriageDone(e) }

// holdReleaseEvent ends the diversion decision window of a held patient.
type holdReleaseEvent struct {
	baseEvent
	patient *Patient
}

func (e *holdReleaseEvent) Execute(en *Engine) { en.handleHoldRelease(e) }

// consultDoneEvent completes a consultation.
type consultDoneEvent struct {
	baseEvent
	patient         *Patient
	consultID       int
	doctors         int
	durationMinutes float64
}

func (e *consultDoneEvent) Execute(en *Engine) { en.handleConsultDone(e) }

// observationDoneEvent releases an observation bed and ends the episode.
type observationDoneEvent struct {
	baseEvent
	patient *Patient
}

func (e *observationDoneEvent) Execute(en *Engine) { en.handleObservationDone(e) }

// eventPatient extracts the patient an event acts on, for failure
// isolation.
func eventPatient(ev Event) *Patient {
	switch e := ev.(type) {
	case *arrivalEvent:
		return e.patient
	case *receptionDoneEvent:
		return e.patient
	case *triageDoneEvent:
		return e.patient
	case *holdReleaseEvent:
		return e.patient
	case *consultDoneEvent:
		return e.patient
	case *observationDoneEvent:
		return e.patient
	default:
		return nil
	}
}
