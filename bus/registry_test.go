package bus

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryAllTopicsRegistered(t *testing.T) {
	for _, topic := range Topics() {
		if !Registry.Known(topic) {
			t.Errorf("topic %s has no registered schema", topic)
		}
	}
}

func TestRegistryValidateAcceptsCanonicalPayload(t *testing.T) {
	doc := []byte(`{
		"patientId": "p-1", "hospitalId": "CHUAC", "age": 34, "sex": "F",
		"pathologyTag": "trauma_menor", "arrivalWallTime": "2025-03-01T10:00:00.000Z",
		"demandFactor": 1.2
	}`)
	assert.NoError(t, Registry.Validate(TopicPatientArrivals, doc))
}

func TestRegistryValidateRejectsUnknownFields(t *testing.T) {
	doc := []byte(`{
		"patientId": "p-1", "hospitalId": "CHUAC", "age": 34, "sex": "F",
		"pathologyTag": "trauma_menor", "arrivalWallTime": "2025-03-01T10:00:00.000Z",
		"demandFactor": 1.2, "extra": true
	}`)
	err := Registry.Validate(TopicPatientArrivals, doc)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidPayload))
}

func TestRegistryValidateNarrowsEnums(t *testing.T) {
	doc := []byte(`{
		"patientId": "p-1", "hospitalId": "Modelo", "triageLevel": "PURPLE",
		"boxId": 1, "triageDurationMinutes": 4.5, "requiresDiversion": false
	}`)
	err := Registry.Validate(TopicTriageResults, doc)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestRegistryValidateRejectsMissingRequired(t *testing.T) {
	doc := []byte(`{"command": "set_speed"}`) // speed missing is fine
	assert.NoError(t, Registry.Validate(TopicSimulationControl, doc))

	doc = []byte(`{"speed": 2.0}`) // command missing is not
	assert.ErrorIs(t, Registry.Validate(TopicSimulationControl, doc), ErrInvalidPayload)
}

func TestRegistryUnknownTopicIsNoOp(t *testing.T) {
	assert.NoError(t, Registry.Validate("some-future-topic", []byte(`{"anything": 1}`)))
}

func TestRegistryRegisterRejectsMalformedSchema(t *testing.T) {
	r := NewSchemaRegistry()
	err := r.Register("broken", `{"type": ["not", 7]}`)
	assert.Error(t, err)
}

func TestRegistryDiversionReasonEnum(t *testing.T) {
	valid := []byte(`{
		"patientId": "p-9", "originHospital": "Modelo", "destinationHospital": "CHUAC",
		"reason": "GRAVITY", "triageLevel": "RED", "estimatedTransferMinutes": 10
	}`)
	require.NoError(t, Registry.Validate(TopicDiversionAlerts, valid))

	invalid := []byte(`{
		"patientId": "p-9", "originHospital": "Modelo", "destinationHospital": "CHUAC",
		"reason": "WEATHER", "triageLevel": "RED", "estimatedTransferMinutes": 10
	}`)
	assert.ErrorIs(t, Registry.Validate(TopicDiversionAlerts, invalid), ErrInvalidPayload)
}
