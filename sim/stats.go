package sim

import (
	"math"

	"github.com/urgencias-sim/urgencias-sim/bus"
)

// RollingWindowSize is the sample count behind every rolling mean wait.
const RollingWindowSize = 20

// LastHourTicks is the lookback window for the per-hour counters.
const LastHourTicks = 60 * TicksPerMinute

// rollingWindow keeps the most recent samples of one wait measurement.
type rollingWindow struct {
	limit   int
	samples []float64
}

func newRollingWindow(limit int) *rollingWindow {
	return &rollingWindow{limit: limit}
}

func (w *rollingWindow) Add(v float64) {
	w.samples = append(w.samples, v)
	if len(w.samples) > w.limit {
		w.samples = w.samples[len(w.samples)-w.limit:]
	}
}

// Mean returns the window mean, 0 with no samples yet.
func (w *rollingWindow) Mean() float64 {
	if len(w.samples) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range w.samples {
		sum += v
	}
	return sum / float64(len(w.samples))
}

func (w *rollingWindow) Count() int { return len(w.samples) }

// tickRing records event ticks and counts how many fall inside a
// trailing window. Ticks arrive in order, so pruning is a head cut.
type tickRing struct {
	ticks []int64
}

func (r *tickRing) Add(tick int64) {
	r.ticks = append(r.ticks, tick)
}

// CountSince prunes entries before cutoff and returns the remainder.
func (r *tickRing) CountSince(cutoff int64) int {
	drop := 0
	for drop < len(r.ticks) && r.ticks[drop] < cutoff {
		drop++
	}
	if drop > 0 {
		r.ticks = r.ticks[drop:]
	}
	return len(r.ticks)
}

// Saturation composite weights. Observation beds stay out of the
// composite: an occupied bed is planned load, not front-door pressure.
const (
	saturationWeightDesks   = 0.15
	saturationWeightTriage  = 0.20
	saturationWeightConsult = 0.40
	saturationWeightQueue   = 0.25
)

// CompositeSaturation folds resource occupancies and consult queue
// pressure into one [0,1] figure. Each term is bounded [0,1] and
// non-decreasing in its input.
func CompositeSaturation(desksBusy, desksTotal, boxesBusy, boxesTotal, roomsBusy, roomsTotal, consultQueue int) float64 {
	occupancy := func(busy, total int) float64 {
		if total <= 0 {
			return 0
		}
		return math.Min(1, float64(busy)/float64(total))
	}
	queuePressure := 0.0
	if roomsTotal > 0 {
		queuePressure = math.Min(1, float64(consultQueue)/(3*float64(roomsTotal)))
	}
	s := saturationWeightDesks*occupancy(desksBusy, desksTotal) +
		saturationWeightTriage*occupancy(boxesBusy, boxesTotal) +
		saturationWeightConsult*occupancy(roomsBusy, roomsTotal) +
		saturationWeightQueue*queuePressure
	return math.Min(1, math.Max(0, s))
}

// QueueLengths is the per-stage wait count slice of a stats record.
type QueueLengths struct {
	Reception   int `json:"reception"`
	Triage      int `json:"triage"`
	Consult     int `json:"consult"`
	Observation int `json:"observation"`
}

// RollingMeanWaits reports the rolling mean waits in simulated minutes.
type RollingMeanWaits struct {
	TriageWait  float64 `json:"triageWait"`
	ConsultWait float64 `json:"consultWait"`
	TotalTime   float64 `json:"totalTime"`
}

// HospitalStats is the wire record published to hospital-stats.
type HospitalStats struct {
	HospitalID           HospitalID       `json:"hospitalId"`
	DesksBusy            int              `json:"desksBusy"`
	DesksTotal           int              `json:"desksTotal"`
	TriageBoxesBusy      int              `json:"triageBoxesBusy"`
	TriageBoxesTotal     int              `json:"triageBoxesTotal"`
	ConsultRoomsBusy     int              `json:"consultRoomsBusy"`
	ConsultRoomsTotal    int              `json:"consultRoomsTotal"`
	ObservationBedsBusy  int              `json:"observationBedsBusy"`
	ObservationBedsTotal int              `json:"observationBedsTotal"`
	QueueLengths         QueueLengths     `json:"queueLengths"`
	RollingMeanWaits     RollingMeanWaits `json:"rollingMeanWaits"`
	ArrivalsLastHour     int              `json:"arrivalsLastHour"`
	AttendedLastHour     int              `json:"attendedLastHour"`
	DivertsSent          int              `json:"divertsSent"`
	DivertsReceived      int              `json:"divertsReceived"`
	GlobalSaturation     float64          `json:"globalSaturation"`
	EmergencyActive      bool             `json:"emergencyActive"`
	Timestamp            bus.UTCTime      `json:"timestamp"`
}
