package targeting

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedbackloop/engage-sdk/internal/conversation"
)

func manifestFromJSON(t *testing.T, raw string) *Manifest {
	t.Helper()
	var m Manifest
	require.NoError(t, json.Unmarshal([]byte(raw), &m))
	return &m
}

func launchManifest(t *testing.T) *Manifest {
	return manifestFromJSON(t, `{
		"interactions": [
			{"id": "survey_1", "type": "Survey", "configuration": {"title": "How are we doing?"}},
			{"id": "modal_1", "type": "TextModal", "configuration": {"title": "Love the app?"}}
		],
		"targets": {
			"local#app#launch": [
				{"interaction_id": "survey_1", "criteria": {"code_point/local#app#launch/invokes/version": {"$eq": 1}}},
				{"interaction_id": "modal_1", "criteria": {"code_point/local#app#launch/invokes/version": {"$gt": 3}}}
			]
		}
	}`)
}

func newConversation() conversation.Conversation {
	return conversation.New(conversation.Environment{
		OSName:     "iOS",
		AppVersion: "1.0.0",
		AppBuild:   "1",
	})
}

func TestFirstLaunchShowsInteraction(t *testing.T) {
	targeter := New(nil)
	targeter.SetManifest(launchManifest(t))
	conv := newConversation()

	event := NewEvent("launch")

	// First launch: the engage path bumps the metric before targeting runs.
	conv.CodePoints.Invoke(event.CodePointName(), time.Now())
	interaction, err := targeter.InteractionData(event, &conv)
	require.NoError(t, err)
	require.NotNil(t, interaction)
	assert.Equal(t, "survey_1", interaction.ID)
	assert.Equal(t, "Survey", interaction.Type)

	// Second launch on the same version: criteria no longer hold.
	conv.CodePoints.Invoke(event.CodePointName(), time.Now())
	interaction, err = targeter.InteractionData(event, &conv)
	require.NoError(t, err)
	assert.Nil(t, interaction)
}

func TestOrderedInvocationListFirstMatchWins(t *testing.T) {
	m := manifestFromJSON(t, `{
		"interactions": [
			{"id": "a", "type": "TextModal"},
			{"id": "b", "type": "TextModal"}
		],
		"targets": {
			"local#app#launch": [
				{"interaction_id": "a"},
				{"interaction_id": "b"}
			]
		}
	}`)
	targeter := New(nil)
	targeter.SetManifest(m)
	conv := newConversation()

	interaction, err := targeter.InteractionData(NewEvent("launch"), &conv)
	require.NoError(t, err)
	require.NotNil(t, interaction)
	assert.Equal(t, "a", interaction.ID)
}

func TestUnknownInteractionID(t *testing.T) {
	m := manifestFromJSON(t, `{
		"interactions": [],
		"targets": {
			"local#app#launch": [{"interaction_id": "missing"}]
		}
	}`)
	targeter := New(nil)
	targeter.SetManifest(m)
	conv := newConversation()

	_, err := targeter.InteractionData(NewEvent("launch"), &conv)
	assert.ErrorIs(t, err, ErrUnknownInteraction)
}

func TestNoManifestMeansNoInteraction(t *testing.T) {
	targeter := New(nil)
	conv := newConversation()

	interaction, err := targeter.InteractionData(NewEvent("launch"), &conv)
	require.NoError(t, err)
	assert.Nil(t, interaction)
}

func TestLocalManifestTakesPrecedence(t *testing.T) {
	remote := launchManifest(t)
	local := manifestFromJSON(t, `{
		"interactions": [{"id": "local_note", "type": "TextModal"}],
		"targets": {
			"local#app#launch": [{"interaction_id": "local_note"}]
		}
	}`)
	targeter := New(nil)
	targeter.SetManifest(remote)
	targeter.SetLocalManifest(local)
	conv := newConversation()

	interaction, err := targeter.InteractionData(NewEvent("launch"), &conv)
	require.NoError(t, err)
	require.NotNil(t, interaction)
	assert.Equal(t, "local_note", interaction.ID)

	// Clearing the override restores the remote manifest.
	targeter.SetLocalManifest(nil)
	conv.CodePoints.Invoke(NewEvent("launch").CodePointName(), time.Now())
	interaction, err = targeter.InteractionData(NewEvent("launch"), &conv)
	require.NoError(t, err)
	require.NotNil(t, interaction)
	assert.Equal(t, "survey_1", interaction.ID)
}

func TestInteractionDataForInvocations(t *testing.T) {
	targeter := New(nil)
	targeter.SetManifest(launchManifest(t))
	conv := newConversation()

	invocations := []Invocation{{InteractionID: "modal_1"}}
	interaction, err := targeter.InteractionDataForInvocations(invocations, &conv)
	require.NoError(t, err)
	require.NotNil(t, interaction)
	assert.Equal(t, "modal_1", interaction.ID)
}

func TestTargeterRandomPercentGate(t *testing.T) {
	m := manifestFromJSON(t, `{
		"interactions": [{"id": "sampled_survey", "type": "Survey"}],
		"targets": {
			"local#app#launch": [
				{"interaction_id": "sampled_survey", "criteria": {"random/percent": {"$lt": 25}}}
			]
		}
	}`)
	targeter := New(nil)
	targeter.SetManifest(m)
	conv := newConversation()

	targeter.SetRandomSource(func() float64 { return 0.10 })
	interaction, err := targeter.InteractionData(NewEvent("launch"), &conv)
	require.NoError(t, err)
	require.NotNil(t, interaction)
	assert.Equal(t, "sampled_survey", interaction.ID)

	targeter.SetRandomSource(func() float64 { return 0.90 })
	interaction, err = targeter.InteractionData(NewEvent("launch"), &conv)
	require.NoError(t, err)
	assert.Nil(t, interaction)
}

func TestManifestExpiry(t *testing.T) {
	targeter := New(nil)
	now := time.Now()

	// Missing manifest counts as expired.
	assert.True(t, targeter.ManifestExpired(now))

	fresh := launchManifest(t)
	expiry := now.Add(time.Hour)
	fresh.Expiry = &expiry
	targeter.SetManifest(fresh)
	assert.False(t, targeter.ManifestExpired(now))

	stale := now.Add(-time.Minute)
	fresh.Expiry = &stale
	assert.True(t, targeter.ManifestExpired(now))

	// A local override does not satisfy the refresh check.
	targeter.SetManifest(nil)
	targeter.SetLocalManifest(launchManifest(t))
	assert.True(t, targeter.ManifestExpired(now))
}

func TestEventCodePointName(t *testing.T) {
	assert.Equal(t, "local#app#launch", NewEvent("launch").CodePointName())
	internal := Event{Name: "dismiss", InteractionID: "survey_1"}
	assert.Equal(t, "sdk#survey_1#dismiss", internal.CodePointName())
}
