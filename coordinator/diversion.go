package coordinator

import (
	"github.com/urgencias-sim/urgencias-sim/sim"
)

// Reason classifies why a patient was diverted.
type Reason string

const (
	// ReasonGravity sends high-urgency patients to the reference center.
	ReasonGravity Reason = "GRAVITY"

	// ReasonSaturation sheds mild patients from a saturated hospital to
	// the least loaded receivable one.
	ReasonSaturation Reason = "SATURATION"
)

// DefaultTransferMinutes covers origin/destination pairs missing from the
// transfer table.
const DefaultTransferMinutes = 12

// DiversionAlert is the wire record published to diversion-alerts.
type DiversionAlert struct {
	PatientID                string          `json:"patientId"`
	OriginHospital           sim.HospitalID  `json:"originHospital"`
	DestinationHospital      sim.HospitalID  `json:"destinationHospital"`
	Reason                   Reason          `json:"reason"`
	TriageLevel              sim.TriageLevel `json:"triageLevel"`
	EstimatedTransferMinutes float64         `json:"estimatedTransferMinutes"`
}

// DiversionCounters accumulate over the process lifetime; the twin keeps
// no persistent history, so day boundaries do not reset them.
type DiversionCounters struct {
	ByOrigin      map[sim.HospitalID]int `json:"byOrigin"`
	ByDestination map[sim.HospitalID]int `json:"byDestination"`
	ByReason      map[Reason]int         `json:"byReason"`
}

type transferPair struct {
	from, to sim.HospitalID
}

// DefaultTransferTable returns the built-in inter-hospital transfer
// estimates in minutes, symmetric per pair.
func DefaultTransferTable() map[transferPair]float64 {
	table := make(map[transferPair]float64)
	put := func(a, b sim.HospitalID, minutes float64) {
		table[transferPair{a, b}] = minutes
		table[transferPair{b, a}] = minutes
	}
	put(sim.HospitalCHUAC, sim.HospitalModelo, 10)
	put(sim.HospitalCHUAC, sim.HospitalSanRafael, 15)
	put(sim.HospitalModelo, sim.HospitalSanRafael, 8)
	return table
}

// DiversionManager turns triage results into diversion decisions.
//
// Thread-safety: NOT thread-safe. Owned by the coordinator consumer
// goroutine.
type DiversionManager struct {
	reference sim.HospitalID
	monitor   *SaturationMonitor
	transfers map[transferPair]float64
	counters  DiversionCounters
}

// NewDiversionManager builds a manager over the monitor's live table.
// transfers may be nil for the default table.
func NewDiversionManager(reference sim.HospitalID, monitor *SaturationMonitor, transfers map[transferPair]float64) *DiversionManager {
	if transfers == nil {
		transfers = DefaultTransferTable()
	}
	return &DiversionManager{
		reference: reference,
		monitor:   monitor,
		transfers: transfers,
		counters: DiversionCounters{
			ByOrigin:      make(map[sim.HospitalID]int),
			ByDestination: make(map[sim.HospitalID]int),
			ByReason:      make(map[Reason]int),
		},
	}
}

// Evaluate applies the diversion rules to one triage result; the first
// rule that fires wins.
//
// Rule 1, gravity: the engine flagged the result because the level needs
// the reference center and the patient is elsewhere; divert there if it
// can receive, otherwise care continues locally.
//
// Rule 2, saturation: a hospital past the high threshold sheds GREEN and
// BLUE patients to the least saturated receivable hospital, if any.
func (d *DiversionManager) Evaluate(tr sim.TriageResult) (DiversionAlert, bool) {
	if tr.RequiresDiversion && tr.HospitalID != d.reference {
		if d.monitor.CanReceive(d.reference) {
			return d.emit(tr, d.reference, ReasonGravity), true
		}
		return DiversionAlert{}, false
	}

	if d.monitor.ShouldDivertFrom(tr.HospitalID) &&
		(tr.TriageLevel == sim.LevelGreen || tr.TriageLevel == sim.LevelBlue) {
		if dest, ok := d.monitor.LeastSaturated(tr.HospitalID); ok {
			return d.emit(tr, dest, ReasonSaturation), true
		}
	}
	return DiversionAlert{}, false
}

func (d *DiversionManager) emit(tr sim.TriageResult, dest sim.HospitalID, reason Reason) DiversionAlert {
	d.counters.ByOrigin[tr.HospitalID]++
	d.counters.ByDestination[dest]++
	d.counters.ByReason[reason]++
	return DiversionAlert{
		PatientID:                tr.PatientID,
		OriginHospital:           tr.HospitalID,
		DestinationHospital:      dest,
		Reason:                   reason,
		TriageLevel:              tr.TriageLevel,
		EstimatedTransferMinutes: d.TransferMinutes(tr.HospitalID, dest),
	}
}

// TransferMinutes estimates the origin→destination transfer time.
func (d *DiversionManager) TransferMinutes(from, to sim.HospitalID) float64 {
	if minutes, ok := d.transfers[transferPair{from, to}]; ok {
		return minutes
	}
	return DefaultTransferMinutes
}

// Counters returns the accumulated diversion tallies.
func (d *DiversionManager) Counters() DiversionCounters { return d.counters }
