package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/urgencias-sim/urgencias-sim/bus"
	"github.com/urgencias-sim/urgencias-sim/sim"
)

// DefaultStatusInterval is the wall cadence of coordinator-status
// publications.
const DefaultStatusInterval = 30 * time.Second

// ConsumerGroup is the coordinator's bus consumer group.
const ConsumerGroup = "coordinator"

// AlertLevel is the severity scale of coordinator-alerts.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "info"
	AlertWarning  AlertLevel = "warning"
	AlertCritical AlertLevel = "critical"
)

// alertLevelFor maps a saturation band onto the alert severity.
func alertLevelFor(level Level) AlertLevel {
	switch level {
	case LevelCritical:
		return AlertCritical
	case LevelHigh, LevelWarning:
		return AlertWarning
	default:
		return AlertInfo
	}
}

// CoordinatorAlert is the wire record published to coordinator-alerts.
type CoordinatorAlert struct {
	HospitalID sim.HospitalID `json:"hospitalId"`
	Level      AlertLevel     `json:"level"`
	Message    string         `json:"message"`
	Timestamp  bus.UTCTime    `json:"timestamp"`
}

// hospitalStatus is the per-hospital slice of coordinator-status.
type hospitalStatus struct {
	Saturation           float64 `json:"saturation"`
	Level                Level   `json:"level"`
	CanReceiveDiversions bool    `json:"canReceiveDiversions"`
}

// statusPayload is the wire record published to coordinator-status.
type statusPayload struct {
	Status         SystemLevel               `json:"status"`
	MeanSaturation float64                   `json:"meanSaturation"`
	CriticalCount  int                       `json:"criticalCount"`
	SaturatedCount int                       `json:"saturatedCount"`
	Hospitals      map[string]hospitalStatus `json:"hospitals"`
	Diversions     diversionsPayload         `json:"diversions"`
	Timestamp      bus.UTCTime               `json:"timestamp"`
}

type diversionsPayload struct {
	ByOrigin      map[string]int `json:"byOrigin"`
	ByDestination map[string]int `json:"byDestination"`
	ByReason      map[string]int `json:"byReason"`
}

// Service is the coordinator process: one consumer over triage-results
// and hospital-stats feeding the monitor, the diversion manager and the
// scaling controller, all living on the consumer goroutine.
type Service struct {
	client         *bus.Client
	monitor        *SaturationMonitor
	diversion      *DiversionManager
	scaling        *ScalingController
	statusInterval time.Duration
	lastStatus     time.Time
}

// NewService wires a coordinator over the hospital catalogue. The
// catalogue must have a reference center (catalogues are validated at
// load time).
func NewService(client *bus.Client, catalog *sim.Catalog, statusInterval time.Duration) (*Service, error) {
	reference, ok := catalog.Reference()
	if !ok {
		return nil, fmt.Errorf("coordinator: catalogue has no reference center")
	}
	if statusInterval <= 0 {
		statusInterval = DefaultStatusInterval
	}
	monitor := NewSaturationMonitor()
	return &Service{
		client:         client,
		monitor:        monitor,
		diversion:      NewDiversionManager(reference.ID, monitor, nil),
		scaling:        NewScalingController(reference.ID, reference.ConsultRooms, nil, client),
		statusInterval: statusInterval,
	}, nil
}

// Monitor exposes the saturation table (single-goroutine access only).
func (s *Service) Monitor() *SaturationMonitor { return s.monitor }

// Scaling exposes the scaling controller (single-goroutine access only).
func (s *Service) Scaling() *ScalingController { return s.scaling }

// Run consumes until ctx is cancelled. Status publications ride the
// stats flow: after each handled snapshot the service checks whether the
// status interval elapsed, so everything stays on one goroutine.
func (s *Service) Run(ctx context.Context) error {
	consumer := s.client.Subscribe([]string{bus.TopicHospitalStats, bus.TopicTriageResults}, ConsumerGroup)
	consumer.On(bus.TopicHospitalStats, s.handleStats)
	consumer.On(bus.TopicTriageResults, s.handleTriage)
	s.lastStatus = time.Now()
	logrus.Infof("coordinator: running, status every %s", s.statusInterval)
	return consumer.Run(ctx)
}

func (s *Service) handleStats(msg bus.Message) error {
	var stats sim.HospitalStats
	if err := json.Unmarshal(msg.Payload, &stats); err != nil {
		return fmt.Errorf("decoding hospital stats: %w", err)
	}

	if change, changed := s.monitor.Update(stats); changed {
		s.publishAlert(change, stats.Timestamp)
	}
	s.scaling.Autoscale(stats)
	s.maybePublishStatus()
	return nil
}

func (s *Service) handleTriage(msg bus.Message) error {
	var tr sim.TriageResult
	if err := json.Unmarshal(msg.Payload, &tr); err != nil {
		return fmt.Errorf("decoding triage result: %w", err)
	}
	if alert, ok := s.diversion.Evaluate(tr); ok {
		s.client.Publish(bus.TopicDiversionAlerts, string(alert.OriginHospital), alert)
		logrus.Infof("coordinator: diverting %s %s -> %s (%s)",
			alert.PatientID, alert.OriginHospital, alert.DestinationHospital, alert.Reason)
	}
	return nil
}

func (s *Service) publishAlert(change LevelChange, ts bus.UTCTime) {
	message := fmt.Sprintf("%s saturation %.0f%%: %s -> %s",
		change.HospitalID, change.Saturation*100, change.From, change.To)
	s.client.Publish(bus.TopicCoordinatorAlerts, string(change.HospitalID), CoordinatorAlert{
		HospitalID: change.HospitalID,
		Level:      alertLevelFor(change.To),
		Message:    message,
		Timestamp:  ts,
	})
}

func (s *Service) maybePublishStatus() {
	if time.Since(s.lastStatus) < s.statusInterval {
		return
	}
	s.lastStatus = time.Now()
	s.client.Publish(bus.TopicCoordinatorStatus, "", s.statusPayload())
}

// statusPayload freezes the aggregate status into its wire shape.
func (s *Service) statusPayload() statusPayload {
	status := s.monitor.SystemStatus()
	counters := s.diversion.Counters()
	ts := time.Now().UTC()
	for _, state := range status.PerHospital {
		if state.LastUpdate.After(ts) {
			ts = state.LastUpdate
		}
	}
	return statusPayload{
		Status:         status.Status,
		MeanSaturation: status.MeanSaturation,
		CriticalCount:  status.CriticalCount,
		SaturatedCount: status.SaturatedCount,
		Hospitals: lo.MapEntries(status.PerHospital, func(id sim.HospitalID, state SaturationState) (string, hospitalStatus) {
			return string(id), hospitalStatus{
				Saturation:           state.Saturation,
				Level:                state.Level(),
				CanReceiveDiversions: state.CanReceiveDiversions,
			}
		}),
		Diversions: diversionsPayload{
			ByOrigin:      lo.MapKeys(counters.ByOrigin, func(_ int, id sim.HospitalID) string { return string(id) }),
			ByDestination: lo.MapKeys(counters.ByDestination, func(_ int, id sim.HospitalID) string { return string(id) }),
			ByReason:      lo.MapKeys(counters.ByReason, func(_ int, r Reason) string { return string(r) }),
		},
		Timestamp: bus.NewUTCTime(ts),
	}
}
