package bus

// Built-in JSON Schemas, one per recognized topic. Payload shapes follow
// the twin's wire contract: camelCase field names, triage levels and
// phases as closed enums, timestamps RFC3339 UTC, unknown fields rejected.
// The staffing and incident topics keep the Spanish field names consumed
// by the hospital dashboards (medicoId, medicosTotalesConsulta, ...).

const schemaPatientArrival = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["patientId", "hospitalId", "age", "sex", "pathologyTag", "arrivalWallTime", "demandFactor"],
  "properties": {
    "patientId": {"type": "string", "minLength": 1},
    "hospitalId": {"type": "string", "minLength": 1},
    "age": {"type": "integer", "minimum": 0, "maximum": 120},
    "sex": {"type": "string", "enum": ["F", "M"]},
    "pathologyTag": {"type": "string", "minLength": 1},
    "arrivalWallTime": {"type": "string", "format": "date-time"},
    "demandFactor": {"type": "number", "minimum": 0}
  }
}`

const schemaTriageResult = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["patientId", "hospitalId", "triageLevel", "boxId", "triageDurationMinutes", "requiresDiversion"],
  "properties": {
    "patientId": {"type": "string", "minLength": 1},
    "hospitalId": {"type": "string", "minLength": 1},
    "triageLevel": {"type": "string", "enum": ["RED", "ORANGE", "YELLOW", "GREEN", "BLUE"]},
    "boxId": {"type": "integer", "minimum": 0},
    "triageDurationMinutes": {"type": "number", "minimum": 0},
    "requiresDiversion": {"type": "boolean"}
  }
}`

const schemaConsultationEvent = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["patientId", "hospitalId", "consultId", "phase", "triageLevel", "doctorsAttending"],
  "properties": {
    "patientId": {"type": "string", "minLength": 1},
    "hospitalId": {"type": "string", "minLength": 1},
    "consultId": {"type": "integer", "minimum": 0},
    "phase": {"type": "string", "enum": ["START", "END"]},
    "triageLevel": {"type": "string", "enum": ["RED", "ORANGE", "YELLOW", "GREEN", "BLUE"]},
    "doctorsAttending": {"type": "integer", "minimum": 1, "maximum": 4},
    "consultDurationMinutes": {"type": "number", "minimum": 0},
    "outcome": {"type": "string", "enum": ["DISCHARGE", "OBSERVATION", "DIVERTED", "ABANDONED", "ERROR"]}
  }
}`

const schemaDiversionAlert = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["patientId", "originHospital", "destinationHospital", "reason", "triageLevel", "estimatedTransferMinutes"],
  "properties": {
    "patientId": {"type": "string", "minLength": 1},
    "originHospital": {"type": "string", "minLength": 1},
    "destinationHospital": {"type": "string", "minLength": 1},
    "reason": {"type": "string", "enum": ["GRAVITY", "SATURATION"]},
    "triageLevel": {"type": "string", "enum": ["RED", "ORANGE", "YELLOW", "GREEN", "BLUE"]},
    "estimatedTransferMinutes": {"type": "number", "minimum": 0}
  }
}`

const schemaHospitalStats = `{
  "type": "object",
  "additionalProperties": false,
  "required": [
    "hospitalId", "desksBusy", "desksTotal", "triageBoxesBusy", "triageBoxesTotal",
    "consultRoomsBusy", "consultRoomsTotal", "observationBedsBusy", "observationBedsTotal",
    "queueLengths", "rollingMeanWaits", "arrivalsLastHour", "attendedLastHour",
    "divertsSent", "divertsReceived", "globalSaturation", "emergencyActive", "timestamp"
  ],
  "properties": {
    "hospitalId": {"type": "string", "minLength": 1},
    "desksBusy": {"type": "integer", "minimum": 0},
    "desksTotal": {"type": "integer", "minimum": 0},
    "triageBoxesBusy": {"type": "integer", "minimum": 0},
    "triageBoxesTotal": {"type": "integer", "minimum": 0},
    "consultRoomsBusy": {"type": "integer", "minimum": 0},
    "consultRoomsTotal": {"type": "integer", "minimum": 0},
    "observationBedsBusy": {"type": "integer", "minimum": 0},
    "observationBedsTotal": {"type": "integer", "minimum": 0},
    "queueLengths": {
      "type": "object",
      "additionalProperties": false,
      "required": ["reception", "triage", "consult", "observation"],
      "properties": {
        "reception": {"type": "integer", "minimum": 0},
        "triage": {"type": "integer", "minimum": 0},
        "consult": {"type": "integer", "minimum": 0},
        "observation": {"type": "integer", "minimum": 0}
      }
    },
    "rollingMeanWaits": {
      "type": "object",
      "additionalProperties": false,
      "required": ["triageWait", "consultWait", "totalTime"],
      "properties": {
        "triageWait": {"type": "number", "minimum": 0},
        "consultWait": {"type": "number", "minimum": 0},
        "totalTime": {"type": "number", "minimum": 0}
      }
    },
    "arrivalsLastHour": {"type": "integer", "minimum": 0},
    "attendedLastHour": {"type": "integer", "minimum": 0},
    "divertsSent": {"type": "integer", "minimum": 0},
    "divertsReceived": {"type": "integer", "minimum": 0},
    "globalSaturation": {"type": "number", "minimum": 0, "maximum": 1},
    "emergencyActive": {"type": "boolean"},
    "timestamp": {"type": "string", "format": "date-time"}
  }
}`

const schemaDoctorAssigned = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["medicoId", "hospitalId", "consultId", "medicosTotalesConsulta", "velocidadFactor"],
  "properties": {
    "medicoId": {"type": "string", "minLength": 1},
    "hospitalId": {"type": "string", "minLength": 1},
    "consultId": {"type": "integer", "minimum": 0},
    "medicosTotalesConsulta": {"type": "integer", "minimum": 1, "maximum": 4},
    "velocidadFactor": {"type": "number", "minimum": 1, "maximum": 4}
  }
}`

const schemaDoctorUnassigned = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["medicoId", "hospitalId", "consultId", "medicosRestantesConsulta", "velocidadFactor", "motivo"],
  "properties": {
    "medicoId": {"type": "string", "minLength": 1},
    "hospitalId": {"type": "string", "minLength": 1},
    "consultId": {"type": "integer", "minimum": 0},
    "medicosRestantesConsulta": {"type": "integer", "minimum": 1, "maximum": 4},
    "velocidadFactor": {"type": "number", "minimum": 1, "maximum": 4},
    "motivo": {"type": "string"}
  }
}`

const schemaCapacityChange = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["hospitalId", "consultId", "medicosPrevios", "medicosNuevos", "velocidadPrevia", "velocidadNueva", "motivo"],
  "properties": {
    "hospitalId": {"type": "string", "minLength": 1},
    "consultId": {"type": "integer", "minimum": 0},
    "medicosPrevios": {"type": "integer", "minimum": 1, "maximum": 4},
    "medicosNuevos": {"type": "integer", "minimum": 1, "maximum": 4},
    "velocidadPrevia": {"type": "number", "minimum": 1, "maximum": 4},
    "velocidadNueva": {"type": "number", "minimum": 1, "maximum": 4},
    "motivo": {"type": "string"}
  }
}`

const schemaIncidentPatient = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["patientId", "hospitalId", "age", "sex", "pathology"],
  "properties": {
    "patientId": {"type": "string", "minLength": 1},
    "hospitalId": {"type": "string", "minLength": 1},
    "age": {"type": "integer", "minimum": 0, "maximum": 120},
    "sex": {"type": "string", "enum": ["F", "M"]},
    "pathology": {"type": "string", "minLength": 1}
  }
}`

const schemaIncidentDistribution = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["tipoEmergencia", "totalPacientes", "distribucion", "analisis"],
  "properties": {
    "tipoEmergencia": {"type": "string", "minLength": 1},
    "ubicacion": {
      "type": "object",
      "additionalProperties": false,
      "required": ["lat", "lon"],
      "properties": {
        "lat": {"type": "number", "minimum": -90, "maximum": 90},
        "lon": {"type": "number", "minimum": -180, "maximum": 180}
      }
    },
    "totalPacientes": {"type": "integer", "minimum": 0},
    "distribucion": {
      "type": "object",
      "additionalProperties": {"type": "integer", "minimum": 0}
    },
    "analisis": {
      "type": "array",
      "items": {"type": "string"}
    }
  }
}`

const schemaSimulationControl = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["command"],
  "properties": {
    "command": {"type": "string", "enum": ["start", "stop", "set_speed", "inject_incident"]},
    "speed": {"type": "number", "minimum": 0.1},
    "tipo": {"type": "string"},
    "lat": {"type": "number", "minimum": -90, "maximum": 90},
    "lon": {"type": "number", "minimum": -180, "maximum": 180},
    "totalPacientes": {"type": "integer", "minimum": 1}
  }
}`

const schemaCoordinatorAlert = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["hospitalId", "level", "message", "timestamp"],
  "properties": {
    "hospitalId": {"type": "string", "minLength": 1},
    "level": {"type": "string", "enum": ["info", "warning", "critical"]},
    "message": {"type": "string", "minLength": 1},
    "timestamp": {"type": "string", "format": "date-time"}
  }
}`

const schemaCoordinatorStatus = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["status", "meanSaturation", "criticalCount", "saturatedCount", "hospitals", "timestamp"],
  "properties": {
    "status": {"type": "string", "enum": ["NORMAL", "ATTENTION", "ALERT", "CRITICAL"]},
    "meanSaturation": {"type": "number", "minimum": 0, "maximum": 1},
    "criticalCount": {"type": "integer", "minimum": 0},
    "saturatedCount": {"type": "integer", "minimum": 0},
    "hospitals": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "additionalProperties": false,
        "required": ["saturation", "level", "canReceiveDiversions"],
        "properties": {
          "saturation": {"type": "number", "minimum": 0, "maximum": 1},
          "level": {"type": "string", "enum": ["NORMAL", "WARNING", "HIGH", "CRITICAL"]},
          "canReceiveDiversions": {"type": "boolean"}
        }
      }
    },
    "diversions": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "byOrigin": {"type": "object", "additionalProperties": {"type": "integer", "minimum": 0}},
        "byDestination": {"type": "object", "additionalProperties": {"type": "integer", "minimum": 0}},
        "byReason": {"type": "object", "additionalProperties": {"type": "integer", "minimum": 0}}
      }
    },
    "timestamp": {"type": "string", "format": "date-time"}
  }
}`

const schemaSystemContext = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["hospitalId", "factors", "effectiveRate", "demandFactor", "timestamp"],
  "properties": {
    "hospitalId": {"type": "string", "minLength": 1},
    "factors": {
      "type": "object",
      "additionalProperties": false,
      "required": ["fHour", "fDay", "fMonth", "fWeather", "fEvents", "fFootball"],
      "properties": {
        "fHour": {"type": "number", "minimum": 0},
        "fDay": {"type": "number", "minimum": 0},
        "fMonth": {"type": "number", "minimum": 0},
        "fWeather": {"type": "number", "minimum": 0},
        "fEvents": {"type": "number", "minimum": 0},
        "fFootball": {"type": "number", "minimum": 0}
      }
    },
    "effectiveRate": {"type": "number", "minimum": 0},
    "demandFactor": {"type": "number", "minimum": 0},
    "timestamp": {"type": "string", "format": "date-time"}
  }
}`

const schemaPredictionAlert = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["hospitalId", "hour", "observed", "expected", "zscore", "message", "timestamp"],
  "properties": {
    "hospitalId": {"type": "string", "minLength": 1},
    "hour": {"type": "string", "format": "date-time"},
    "observed": {"type": "integer", "minimum": 0},
    "expected": {"type": "number", "minimum": 0},
    "zscore": {"type": "number"},
    "message": {"type": "string", "minLength": 1},
    "timestamp": {"type": "string", "format": "date-time"}
  }
}`

const schemaPredictionUpdate = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["hospitalId", "generatedAt", "horizonHours", "points"],
  "properties": {
    "hospitalId": {"type": "string", "minLength": 1},
    "generatedAt": {"type": "string", "format": "date-time"},
    "horizonHours": {"type": "integer", "minimum": 1},
    "points": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["hour", "expectedArrivals", "lower", "upper", "scenarioFactor"],
        "properties": {
          "hour": {"type": "string", "format": "date-time"},
          "expectedArrivals": {"type": "number", "minimum": 0},
          "lower": {"type": "number", "minimum": 0},
          "upper": {"type": "number", "minimum": 0},
          "scenarioFactor": {"type": "number", "minimum": 0}
        }
      }
    }
  }
}`

// topicSchemas binds each topic to its schema document.
var topicSchemas = map[string]string{
	TopicPatientArrivals:      schemaPatientArrival,
	TopicTriageResults:        schemaTriageResult,
	TopicConsultationEvents:   schemaConsultationEvent,
	TopicDiversionAlerts:      schemaDiversionAlert,
	TopicHospitalStats:        schemaHospitalStats,
	TopicDoctorAssigned:       schemaDoctorAssigned,
	TopicDoctorUnassigned:     schemaDoctorUnassigned,
	TopicCapacityChange:       schemaCapacityChange,
	TopicIncidentPatients:     schemaIncidentPatient,
	TopicIncidentDistribution: schemaIncidentDistribution,
	TopicSimulationControl:    schemaSimulationControl,
	TopicCoordinatorAlerts:    schemaCoordinatorAlert,
	TopicCoordinatorStatus:    schemaCoordinatorStatus,
	TopicSystemContext:        schemaSystemContext,
	TopicPredictionAlerts:     schemaPredictionAlert,
	TopicPredictionUpdates:    schemaPredictionUpdate,
}

func init() {
	for topic, schema := range topicSchemas {
		Registry.MustRegister(topic, schema)
	}
}
