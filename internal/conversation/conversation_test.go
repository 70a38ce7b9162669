package conversation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEnvironment() Environment {
	return Environment{
		DeviceUUID: "device-1",
		OSName:     "iOS",
		OSVersion:  "17.4",
		Locale:     "en_US",
		TimeZone:   "America/New_York",
		AppVersion: "1.2.3",
		AppBuild:   "42",
		SDKVersion: "0.9.0",
	}
}

func TestSetAppCredentials(t *testing.T) {
	conv := New(testEnvironment())
	creds := AppCredentials{Key: "key", Signature: "sig"}

	require.NoError(t, conv.SetAppCredentials(creds))
	require.NoError(t, conv.SetAppCredentials(creds)) // same value is fine

	err := conv.SetAppCredentials(AppCredentials{Key: "other", Signature: "sig"})
	assert.ErrorIs(t, err, ErrMismatchedCredentials)
}

func TestMergePrecedence(t *testing.T) {
	env := testEnvironment()
	saved := New(env)
	saved.ConversationCredentials = &ConversationCredentials{Token: "tok", ID: "conv-1"}
	saved.Person.Name = "Old Name"
	saved.Person.Email = "old@example.com"

	current := New(env)
	current.Person.Name = "Testy McTesterson"

	merged, err := saved.Merged(current)
	require.NoError(t, err)

	// In-memory wins for mutable profile fields it has set.
	assert.Equal(t, "Testy McTesterson", merged.Person.Name)
	// Fields the in-memory copy never set are preserved from disk.
	assert.Equal(t, "old@example.com", merged.Person.Email)
	// Identity only present on disk survives.
	require.NotNil(t, merged.ConversationCredentials)
	assert.Equal(t, "conv-1", merged.ConversationCredentials.ID)
	assert.Equal(t, saved.LocalIdentifier, merged.LocalIdentifier)
	assert.Equal(t, "device-1", merged.Device.UUID)
}

func TestMergeIdempotence(t *testing.T) {
	conv := New(testEnvironment())
	conv.Person.Name = "Testy McTesterson"
	require.NoError(t, conv.SetAppCredentials(AppCredentials{Key: "k", Signature: "s"}))
	conv.ConversationCredentials = &ConversationCredentials{Token: "tok", ID: "conv-1"}

	merged, err := conv.Merged(conv)
	require.NoError(t, err)

	assert.Equal(t, conv.LocalIdentifier, merged.LocalIdentifier)
	assert.Equal(t, conv.Person, merged.Person)
	assert.True(t, merged.Device.Equal(conv.Device))
	assert.Equal(t, conv.AppCredentials, merged.AppCredentials)
	assert.Equal(t, conv.ConversationCredentials, merged.ConversationCredentials)
}

func TestMergeAddsMetrics(t *testing.T) {
	env := testEnvironment()
	now := time.Now()

	saved := New(env)
	saved.CodePoints.Invoke("app#launch", now.Add(-time.Hour))
	saved.CodePoints.Invoke("app#launch", now.Add(-time.Hour))

	current := New(env)
	current.CodePoints.Invoke("app#launch", now)

	merged, err := saved.Merged(current)
	require.NoError(t, err)

	metric := merged.CodePoints.Metric("app#launch")
	assert.Equal(t, 3, metric.TotalCount)
	require.NotNil(t, metric.LastInvoked)
	assert.True(t, metric.LastInvoked.Equal(now))
}

func TestMergeMismatchedAppCredentials(t *testing.T) {
	env := testEnvironment()
	saved := New(env)
	require.NoError(t, saved.SetAppCredentials(AppCredentials{Key: "a", Signature: "1"}))

	current := New(env)
	require.NoError(t, current.SetAppCredentials(AppCredentials{Key: "b", Signature: "2"}))

	_, err := saved.Merged(current)
	assert.ErrorIs(t, err, ErrMismatchedCredentials)
}

func TestMergeVersionChangeResetsCounts(t *testing.T) {
	env := testEnvironment()
	saved := New(env)
	saved.CodePoints.Invoke("app#launch", time.Now())

	env.AppVersion = "2.0.0"
	env.AppBuild = "50"
	current := New(env)

	merged, err := saved.Merged(current)
	require.NoError(t, err)

	assert.True(t, merged.AppRelease.IsUpdatedVersion)
	assert.True(t, merged.AppRelease.IsUpdatedBuild)
	assert.Equal(t, "2.0.0", merged.AppRelease.Version)
	metric := merged.CodePoints.Metric("app#launch")
	assert.Equal(t, 1, metric.TotalCount)
	assert.Equal(t, 0, metric.VersionCount)
	assert.Equal(t, 0, metric.BuildCount)
}

func TestCloneIsDeep(t *testing.T) {
	conv := New(testEnvironment())
	conv.Person.CustomData = map[string]string{"tier": "gold"}
	conv.CodePoints.Invoke("app#launch", time.Now())

	clone := conv.Clone()
	clone.Person.CustomData["tier"] = "silver"
	clone.CodePoints.Invoke("app#launch", time.Now())

	assert.Equal(t, "gold", conv.Person.CustomData["tier"])
	assert.Equal(t, 1, conv.CodePoints.Metric("app#launch").TotalCount)
	assert.Equal(t, 2, clone.CodePoints.Metric("app#launch").TotalCount)
}
