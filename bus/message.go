package bus

import "time"

// Topic names carried on the bus. One Redis stream per topic.
const (
	TopicPatientArrivals      = "patient-arrivals"
	TopicTriageResults        = "triage-results"
	TopicConsultationEvents   = "consultation-events"
	TopicDiversionAlerts      = "diversion-alerts"
	TopicHospitalStats        = "hospital-stats"
	TopicDoctorAssigned       = "doctor-assigned"
	TopicDoctorUnassigned     = "doctor-unassigned"
	TopicCapacityChange       = "capacity-change"
	TopicIncidentPatients     = "incident-patients"
	TopicIncidentDistribution = "incident-distribution"
	TopicSimulationControl    = "simulation-control"
	TopicCoordinatorAlerts    = "coordinator-alerts"
	TopicCoordinatorStatus    = "coordinator-status"
	TopicSystemContext        = "system-context"
	TopicPredictionAlerts     = "prediction-alerts"
	TopicPredictionUpdates    = "prediction-updates"
)

// Topics returns every topic the twin publishes or consumes, in a stable
// order. EnsureTopics at process start takes this list.
func Topics() []string {
	return []string{
		TopicPatientArrivals,
		TopicTriageResults,
		TopicConsultationEvents,
		TopicDiversionAlerts,
		TopicHospitalStats,
		TopicDoctorAssigned,
		TopicDoctorUnassigned,
		TopicCapacityChange,
		TopicIncidentPatients,
		TopicIncidentDistribution,
		TopicSimulationControl,
		TopicCoordinatorAlerts,
		TopicCoordinatorStatus,
		TopicSystemContext,
		TopicPredictionAlerts,
		TopicPredictionUpdates,
	}
}

// Message is one consumed bus record. Partition is always 0 on Redis
// Streams; Offset is the stream entry ID and is unique and increasing
// within a topic.
type Message struct {
	Topic             string
	Key               string
	Payload           []byte
	Partition         int
	Offset            string
	ProducerTimestamp time.Time
}

// Handler processes one message. A returned error marks the message as
// skipped (logged and counted); the offset advances either way.
type Handler func(msg Message) error
