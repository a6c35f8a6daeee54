package coordinator

import (
	"time"

	"github.com/samber/lo"

	"github.com/urgencias-sim/urgencias-sim/sim"
)

// Saturation thresholds. A hospital can receive diversions only while it
// stays below the warning band.
const (
	ThresholdWarning  = 0.70
	ThresholdHigh     = 0.85
	ThresholdCritical = 0.95
)

// Level classifies one hospital's saturation band.
type Level string

const (
	LevelNormal   Level = "NORMAL"
	LevelWarning  Level = "WARNING"
	LevelHigh     Level = "HIGH"
	LevelCritical Level = "CRITICAL"
)

// ClassifyLevel maps a saturation value onto its band.
func ClassifyLevel(saturation float64) Level {
	switch {
	case saturation > ThresholdCritical:
		return LevelCritical
	case saturation > ThresholdHigh:
		return LevelHigh
	case saturation > ThresholdWarning:
		return LevelWarning
	default:
		return LevelNormal
	}
}

// SaturationState is the derived view of one hospital.
type SaturationState struct {
	HospitalID           sim.HospitalID `json:"hospitalId"`
	Saturation           float64        `json:"saturation"`
	IsWarning            bool           `json:"isWarning"`
	IsHigh               bool           `json:"isHigh"`
	IsCritical           bool           `json:"isCritical"`
	CanReceiveDiversions bool           `json:"canReceiveDiversions"`
	LastUpdate           time.Time      `json:"lastUpdate"`
}

// Level returns the hospital's band.
func (s SaturationState) Level() Level { return ClassifyLevel(s.Saturation) }

// LevelChange reports a debounced band transition.
type LevelChange struct {
	HospitalID sim.HospitalID
	From       Level
	To         Level
	Saturation float64
}

// SystemLevel aggregates the whole network's condition.
type SystemLevel string

const (
	SystemNormal    SystemLevel = "NORMAL"
	SystemAttention SystemLevel = "ATTENTION"
	SystemAlert     SystemLevel = "ALERT"
	SystemCritical  SystemLevel = "CRITICAL"
)

// SystemStatus is the aggregate snapshot behind coordinator-status.
type SystemStatus struct {
	Status         SystemLevel
	MeanSaturation float64
	CriticalCount  int
	SaturatedCount int
	PerHospital    map[sim.HospitalID]SaturationState
}

// SaturationMonitor keeps the derived saturation table. Hospitals are
// remembered in first-seen order; LeastSaturated breaks ties that way.
//
// Thread-safety: NOT thread-safe. Owned by the coordinator consumer
// goroutine.
type SaturationMonitor struct {
	order    []sim.HospitalID
	states   map[sim.HospitalID]SaturationState
	reported map[sim.HospitalID]Level
}

// NewSaturationMonitor returns an empty monitor.
func NewSaturationMonitor() *SaturationMonitor {
	return &SaturationMonitor{
		states:   make(map[sim.HospitalID]SaturationState),
		reported: make(map[sim.HospitalID]Level),
	}
}

// Update folds one stats snapshot into the table. The returned change is
// debounced: it fires only when the hospital's band differs from the
// last reported one, so a hospital riding inside the warning band alerts
// once, not on every snapshot.
func (m *SaturationMonitor) Update(stats sim.HospitalStats) (LevelChange, bool) {
	id := stats.HospitalID
	if _, seen := m.states[id]; !seen {
		m.order = append(m.order, id)
		m.reported[id] = LevelNormal
	}

	sat := stats.GlobalSaturation
	m.states[id] = SaturationState{
		HospitalID:           id,
		Saturation:           sat,
		IsWarning:            sat > ThresholdWarning,
		IsHigh:               sat > ThresholdHigh,
		IsCritical:           sat > ThresholdCritical,
		CanReceiveDiversions: sat < ThresholdWarning,
		LastUpdate:           stats.Timestamp.Time,
	}

	level := ClassifyLevel(sat)
	last := m.reported[id]
	if level == last {
		return LevelChange{}, false
	}
	m.reported[id] = level
	return LevelChange{HospitalID: id, From: last, To: level, Saturation: sat}, true
}

// State returns the current derived state for a hospital.
func (m *SaturationMonitor) State(id sim.HospitalID) (SaturationState, bool) {
	s, ok := m.states[id]
	return s, ok
}

// Saturation returns a hospital's last saturation, 0 when unknown.
func (m *SaturationMonitor) Saturation(id sim.HospitalID) float64 {
	return m.states[id].Saturation
}

// CanReceive reports whether a hospital may accept diversions. Unknown
// hospitals cannot: without telemetry there is no basis to send patients.
func (m *SaturationMonitor) CanReceive(id sim.HospitalID) bool {
	s, ok := m.states[id]
	return ok && s.CanReceiveDiversions
}

// ShouldDivertFrom reports whether a hospital is saturated enough to
// shed its mild patients.
func (m *SaturationMonitor) ShouldDivertFrom(id sim.HospitalID) bool {
	s, ok := m.states[id]
	return ok && s.Saturation > ThresholdHigh
}

// LeastSaturated picks the receivable hospital with the lowest
// saturation, skipping the excluded ids. Ties go to the hospital seen
// first. ok=false when no hospital is below the warning threshold.
func (m *SaturationMonitor) LeastSaturated(exclude ...sim.HospitalID) (sim.HospitalID, bool) {
	var best sim.HospitalID
	found := false
	for _, id := range m.order {
		if lo.Contains(exclude, id) {
			continue
		}
		s := m.states[id]
		if !s.CanReceiveDiversions {
			continue
		}
		if !found || s.Saturation < m.states[best].Saturation {
			best = id
			found = true
		}
	}
	return best, found
}

// SystemStatus aggregates the table: CRITICAL if any hospital is
// critical, ALERT when at least half are saturated past the high
// threshold, ATTENTION when any sits in the warning band or above.
func (m *SaturationMonitor) SystemStatus() SystemStatus {
	status := SystemStatus{
		Status:      SystemNormal,
		PerHospital: make(map[sim.HospitalID]SaturationState, len(m.states)),
	}
	for id, s := range m.states {
		status.PerHospital[id] = s
	}
	if len(m.states) == 0 {
		return status
	}

	states := lo.Values(status.PerHospital)
	status.MeanSaturation = lo.SumBy(states, func(s SaturationState) float64 { return s.Saturation }) / float64(len(states))
	status.CriticalCount = lo.CountBy(states, func(s SaturationState) bool { return s.IsCritical })
	status.SaturatedCount = lo.CountBy(states, func(s SaturationState) bool { return s.IsHigh })

	switch {
	case status.CriticalCount > 0:
		status.Status = SystemCritical
	case status.SaturatedCount*2 >= len(states):
		status.Status = SystemAlert
	case lo.SomeBy(states, func(s SaturationState) bool { return s.IsWarning }):
		status.Status = SystemAttention
	}
	return status
}
