package sim

import (
	"github.com/urgencias-sim/urgencias-sim/bus"
)

// Outcome is the terminal state of a patient's episode.
type Outcome string

const (
	OutcomeNone        Outcome = ""
	OutcomeDischarge   Outcome = "DISCHARGE"
	OutcomeObservation Outcome = "OBSERVATION"
	OutcomeDiverted    Outcome = "DIVERTED"
	OutcomeAbandoned   Outcome = "ABANDONED"
	OutcomeError       Outcome = "ERROR"
)

// Phase marks the two consultation events.
type Phase string

const (
	PhaseStart Phase = "START"
	PhaseEnd   Phase = "END"
)

// Stage identifies a point of entry into the patient flow.
type Stage string

const (
	StageReception   Stage = "reception"
	StageTriage      Stage = "triage"
	StageConsult     Stage = "consult"
	StageObservation Stage = "observation"
)

// PatientArrival is the wire record published to patient-arrivals.
// Immutable once published; diversions re-inject a copy with the
// destination hospital id.
type PatientArrival struct {
	PatientID       string      `json:"patientId"`
	HospitalID      HospitalID  `json:"hospitalId"`
	Age             int         `json:"age"`
	Sex             string      `json:"sex"`
	PathologyTag    string      `json:"pathologyTag"`
	ArrivalWallTime bus.UTCTime `json:"arrivalWallTime"`
	DemandFactor    float64     `json:"demandFactor"`
}

// TriageResult is the wire record published to triage-results.
type TriageResult struct {
	PatientID             string      `json:"patientId"`
	HospitalID            HospitalID  `json:"hospitalId"`
	TriageLevel           TriageLevel `json:"triageLevel"`
	BoxID                 int         `json:"boxId"`
	TriageDurationMinutes float64     `json:"triageDurationMinutes"`
	RequiresDiversion     bool        `json:"requiresDiversion"`
}

// ConsultationEvent is the wire record published to consultation-events,
// once per phase. Duration and outcome only appear on END.
type ConsultationEvent struct {
	PatientID              string      `json:"patientId"`
	HospitalID             HospitalID  `json:"hospitalId"`
	ConsultID              int         `json:"consultId"`
	Phase                  Phase       `json:"phase"`
	TriageLevel            TriageLevel `json:"triageLevel"`
	DoctorsAttending       int         `json:"doctorsAttending"`
	ConsultDurationMinutes float64     `json:"consultDurationMinutes,omitempty"`
	Outcome                Outcome     `json:"outcome,omitempty"`
}

// patientPos tracks which resource or queue currently holds the patient,
// so that a failure can release exactly what was acquired.
type patientPos int

const (
	posNone patientPos = iota
	posReceptionQueue
	posReceptionDesk
	posTriageQueue
	posTriageBox
	posHold
	posConsultQueue
	posConsultRoom
	posObservationQueue
	posObservationBed
)

// Patient is the in-engine episode record. Owned by exactly one Engine;
// never shared across goroutines.
type Patient struct {
	PatientArrival

	Level     TriageLevel
	BoxID     int
	ConsultID int

	// Tick timeline. Zero means the stage was never reached.
	ArrivalTick      int64
	ReceptionStart   int64
	ReceptionEnd     int64
	TriageQueuedAt   int64
	TriageStart      int64
	TriageEnd        int64
	ConsultQueuedAt  int64
	ConsultStart     int64
	ConsultEnd       int64
	ObservationStart int64
	ObservationEnd   int64

	Outcome    Outcome
	DivertedTo HospitalID

	pos patientPos
	seq uint64
}

// TotalMinutes is the door-to-exit time, valid once the episode ended.
func (p *Patient) TotalMinutes(exitTick int64) float64 {
	return TicksToMinutes(exitTick - p.ArrivalTick)
}

// Publisher is the engine's outbound edge. Implementations must be cheap
// and non-blocking; the bus client's fire-and-forget Produce qualifies.
type Publisher interface {
	Publish(topic, key string, payload any)
}

// NopPublisher discards everything. Used by tests and drills.
type NopPublisher struct{}

func (NopPublisher) Publish(string, string, any) {}
