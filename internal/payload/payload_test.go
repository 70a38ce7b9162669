package payload

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedbackloop/engage-sdk/internal/conversation"
)

func TestEventWireBody(t *testing.T) {
	p := NewEvent("local#app#launch", "")
	require.NotEmpty(t, p.Nonce)
	assert.Equal(t, "events", p.Path())

	raw, err := p.WireBody()
	require.NoError(t, err)

	var body map[string]map[string]any
	require.NoError(t, json.Unmarshal(raw, &body))
	event, ok := body["event"]
	require.True(t, ok, "expected event container key")
	assert.Equal(t, "local#app#launch", event["label"])
	assert.Equal(t, p.Nonce, event["nonce"])
	assert.NotEmpty(t, event["client_created_at"])
}

func TestSurveyResponsePath(t *testing.T) {
	p := NewSurveyResponse(SurveyResponse{
		SurveyID: "survey_1",
		Answers:  []conversation.Answer{{QuestionID: "q1", Value: "5"}},
	})
	assert.Equal(t, "surveys/survey_1/responses", p.Path())

	raw, err := p.WireBody()
	require.NoError(t, err)
	var body map[string]map[string]any
	require.NoError(t, json.Unmarshal(raw, &body))
	_, ok := body["survey_response"]
	assert.True(t, ok)
}

func TestProfileUpdatePayloads(t *testing.T) {
	person := NewPerson(conversation.Person{Name: "Testy"})
	assert.Equal(t, "person", person.Path())

	device := NewDevice(conversation.Device{OSName: "iOS"})
	assert.Equal(t, "device", device.Path())

	release := NewAppRelease(conversation.AppRelease{Version: "1.0"})
	assert.Equal(t, "app_release", release.Path())
}

func TestUnknownKindWireBodyFails(t *testing.T) {
	p := Payload{Kind: Kind("bogus")}
	_, err := p.WireBody()
	assert.Error(t, err)
}

func TestPayloadRoundtripsThroughJSON(t *testing.T) {
	p := NewEvent("local#app#rate", "modal_1")
	raw, err := json.Marshal(p)
	require.NoError(t, err)

	var decoded Payload
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, p.Nonce, decoded.Nonce)
	assert.Equal(t, KindEvent, decoded.Kind)
	require.NotNil(t, decoded.Event)
	assert.Equal(t, "modal_1", decoded.Event.InteractionID)
}
