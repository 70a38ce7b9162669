// Package targeting evaluates a declarative engagement manifest against
// the current conversation state to decide which interaction, if any,
// should be shown for an event.
package targeting

import (
	"encoding/json"
	"time"
)

// Interaction is one presentable UI unit referenced by id from the
// manifest. Configuration is kept raw; the presenter dispatches on Type
// and decodes the configuration it understands.
type Interaction struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Configuration json.RawMessage `json:"configuration,omitempty"`
}

// Invocation is one candidate within a manifest's per-event list: an
// interaction reference plus the criteria gating it.
type Invocation struct {
	InteractionID string   `json:"interaction_id"`
	Criteria      Criteria `json:"criteria,omitempty"`
}

// Manifest is a versioned, expiring document mapping event code points to
// candidate invocations.
type Manifest struct {
	Interactions []Interaction           `json:"interactions"`
	Targets      map[string][]Invocation `json:"targets"`
	Expiry       *time.Time              `json:"expiry,omitempty"`

	index map[string]*Interaction
}

// Interaction resolves an interaction id against the manifest.
func (m *Manifest) Interaction(id string) (*Interaction, bool) {
	if m.index == nil {
		m.index = make(map[string]*Interaction, len(m.Interactions))
		for i := range m.Interactions {
			m.index[m.Interactions[i].ID] = &m.Interactions[i]
		}
	}
	interaction, ok := m.index[id]
	return interaction, ok
}

// Invocations returns the ordered candidate list for a code point.
func (m *Manifest) Invocations(codePoint string) []Invocation {
	return m.Targets[codePoint]
}

// Expired reports whether the manifest should be refreshed. A manifest
// without an expiry is treated as already expired.
func (m *Manifest) Expired(now time.Time) bool {
	if m == nil || m.Expiry == nil {
		return true
	}
	return m.Expiry.Before(now)
}

// Event names something that happened in the host app or inside an
// interaction, and maps onto a manifest code point.
type Event struct {
	Name string
	// InteractionID is set for events raised from within an interaction,
	// namespacing the code point to that interaction.
	InteractionID string
}

// NewEvent creates a host-app event.
func NewEvent(name string) Event {
	return Event{Name: name}
}

// CodePointName returns the namespaced identifier used for metric
// bookkeeping and manifest targeting.
func (e Event) CodePointName() string {
	if e.InteractionID != "" {
		return "sdk#" + e.InteractionID + "#" + e.Name
	}
	return "local#app#" + e.Name
}
