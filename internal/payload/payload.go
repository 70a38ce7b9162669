// Package payload defines the durable outbound mutations destined for the
// engagement API and the ordered, retrying queue that delivers them.
package payload

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/feedbackloop/engage-sdk/internal/conversation"
)

// Kind tags the mutation a payload carries.
type Kind string

const (
	KindEvent          Kind = "event"
	KindSurveyResponse Kind = "survey_response"
	KindPerson         Kind = "person"
	KindDevice         Kind = "device"
	KindAppRelease     Kind = "app_release"
)

// EventContent is the wire content for an engaged event.
type EventContent struct {
	Label         string `json:"label"`
	InteractionID string `json:"interaction_id,omitempty"`
}

// SurveyResponse is the wire content for a submitted survey.
type SurveyResponse struct {
	SurveyID string                `json:"survey_id"`
	Answers  []conversation.Answer `json:"answers"`
}

// Payload is one immutable outbound mutation. It is created at the moment
// of the state change that necessitates it and carries everything needed
// to be sent independently of later conversation state.
type Payload struct {
	Nonce     string    `json:"nonce"`
	CreatedAt time.Time `json:"created_at"`
	Kind      Kind      `json:"kind"`

	Event          *EventContent            `json:"event,omitempty"`
	SurveyResponse *SurveyResponse          `json:"response,omitempty"`
	Person         *conversation.Person     `json:"person,omitempty"`
	Device         *conversation.Device     `json:"device,omitempty"`
	AppRelease     *conversation.AppRelease `json:"app_release,omitempty"`
}

func newPayload(kind Kind) Payload {
	return Payload{
		Nonce:     uuid.NewString(),
		CreatedAt: time.Now(),
		Kind:      kind,
	}
}

// NewEvent wraps an engaged event's code point.
func NewEvent(label, interactionID string) Payload {
	p := newPayload(KindEvent)
	p.Event = &EventContent{Label: label, InteractionID: interactionID}
	return p
}

// NewSurveyResponse wraps a submitted survey response.
func NewSurveyResponse(response SurveyResponse) Payload {
	p := newPayload(KindSurveyResponse)
	p.SurveyResponse = &response
	return p
}

// NewPerson wraps a person update.
func NewPerson(person conversation.Person) Payload {
	p := newPayload(KindPerson)
	p.Person = &person
	return p
}

// NewDevice wraps a device update.
func NewDevice(device conversation.Device) Payload {
	p := newPayload(KindDevice)
	p.Device = &device
	return p
}

// NewAppRelease wraps an app release update.
func NewAppRelease(release conversation.AppRelease) Payload {
	p := newPayload(KindAppRelease)
	p.AppRelease = &release
	return p
}

// Path returns the API route suffix for this payload, relative to the
// conversation resource.
func (p Payload) Path() string {
	switch p.Kind {
	case KindEvent:
		return "events"
	case KindSurveyResponse:
		return "surveys/" + p.SurveyResponse.SurveyID + "/responses"
	case KindPerson:
		return "person"
	case KindDevice:
		return "device"
	case KindAppRelease:
		return "app_release"
	default:
		return ""
	}
}

func (p Payload) content() any {
	switch p.Kind {
	case KindEvent:
		return p.Event
	case KindSurveyResponse:
		return p.SurveyResponse
	case KindPerson:
		return p.Person
	case KindDevice:
		return p.Device
	case KindAppRelease:
		return p.AppRelease
	default:
		return nil
	}
}

// WireBody encodes the payload for transmission: the content object,
// stamped with the nonce and creation time, nested under a container key
// named for the payload kind.
func (p Payload) WireBody() ([]byte, error) {
	content := p.content()
	if content == nil {
		return nil, fmt.Errorf("payload: unknown kind %q", p.Kind)
	}
	raw, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("payload: marshal content: %w", err)
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("payload: reshape content: %w", err)
	}
	body["nonce"] = p.Nonce
	body["client_created_at"] = p.CreatedAt.Format(time.RFC3339)
	return json.Marshal(map[string]any{string(p.Kind): body})
}
