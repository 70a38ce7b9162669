package targeting

import (
	"errors"
	"fmt"
	"time"

	"github.com/feedbackloop/engage-sdk/internal/conversation"
	"github.com/feedbackloop/engage-sdk/pkg/logging"
)

// ErrUnknownInteraction indicates an invocation referenced an interaction
// id absent from the active manifest.
var ErrUnknownInteraction = errors.New("targeting: unknown interaction id")

// Targeter holds the active engagement manifest and answers which
// interaction, if any, an event should trigger.
//
// A local manifest override, when set, takes priority over the remotely
// fetched one. The targeter is not safe for concurrent use; the backend's
// serial run loop is its only caller.
type Targeter struct {
	manifest      *Manifest
	localManifest *Manifest
	evaluator     Evaluator
	logger        *logging.Logger
}

// New creates a targeter with no manifest.
func New(logger *logging.Logger) *Targeter {
	if logger == nil {
		logger = logging.Default()
	}
	return &Targeter{logger: logger}
}

// SetManifest swaps the remotely fetched manifest. Takes effect for
// subsequent evaluations.
func (t *Targeter) SetManifest(m *Manifest) {
	t.manifest = m
}

// SetLocalManifest installs or clears (nil) the local override manifest.
func (t *Targeter) SetLocalManifest(m *Manifest) {
	t.localManifest = m
}

// SetRandomSource overrides the random source behind percentage gates.
func (t *Targeter) SetRandomSource(random func() float64) {
	t.evaluator.Random = random
}

// ActiveManifest returns the local override if present, else the remote
// manifest, else nil.
func (t *Targeter) ActiveManifest() *Manifest {
	if t.localManifest != nil {
		return t.localManifest
	}
	return t.manifest
}

// ManifestExpired reports whether the remote manifest is missing or past
// its expiry. The local override never forces a refresh.
func (t *Targeter) ManifestExpired(now time.Time) bool {
	return t.manifest.Expired(now)
}

// InteractionData evaluates the manifest's invocation list for the event's
// code point, returning the first interaction whose criteria hold, or nil.
func (t *Targeter) InteractionData(event Event, conv *conversation.Conversation) (*Interaction, error) {
	manifest := t.ActiveManifest()
	if manifest == nil {
		return nil, nil
	}
	return t.firstMatch(manifest, manifest.Invocations(event.CodePointName()), conv)
}

// InteractionDataForInvocations evaluates an explicit invocation list,
// used when an interaction branches to another.
func (t *Targeter) InteractionDataForInvocations(invocations []Invocation, conv *conversation.Conversation) (*Interaction, error) {
	manifest := t.ActiveManifest()
	if manifest == nil {
		return nil, nil
	}
	return t.firstMatch(manifest, invocations, conv)
}

func (t *Targeter) firstMatch(manifest *Manifest, invocations []Invocation, conv *conversation.Conversation) (*Interaction, error) {
	state := NewState(conv, time.Now())
	for _, invocation := range invocations {
		ok, err := t.evaluator.Eval(invocation.Criteria, state)
		if err != nil {
			return nil, fmt.Errorf("targeting: evaluate criteria for %q: %w", invocation.InteractionID, err)
		}
		if !ok {
			continue
		}
		interaction, found := manifest.Interaction(invocation.InteractionID)
		if !found {
			return nil, fmt.Errorf("%w: %q", ErrUnknownInteraction, invocation.InteractionID)
		}
		t.logger.Debug("invocation criteria met", "interaction_id", interaction.ID, "type", interaction.Type)
		return interaction, nil
	}
	return nil, nil
}
