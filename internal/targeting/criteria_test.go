package targeting

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedbackloop/engage-sdk/internal/conversation"
)

func parseCriteria(t *testing.T, raw string) Criteria {
	t.Helper()
	var criteria Criteria
	require.NoError(t, json.Unmarshal([]byte(raw), &criteria))
	return criteria
}

func stateForTest(t *testing.T, mutate func(*conversation.Conversation)) *State {
	t.Helper()
	conv := conversation.New(conversation.Environment{
		DeviceUUID: "device-1",
		OSName:     "iOS",
		OSVersion:  "17.4",
		Locale:     "en_US",
		AppVersion: "1.2.3",
		AppBuild:   "42",
	})
	if mutate != nil {
		mutate(&conv)
	}
	return NewState(&conv, time.Now())
}

func TestCriteriaOperators(t *testing.T) {
	state := stateForTest(t, func(c *conversation.Conversation) {
		c.Person.Name = "Testy"
		c.Person.Email = "testy@example.com"
		c.CodePoints.Invoke("local#app#launch", time.Now())
	})

	tests := []struct {
		name     string
		criteria string
		want     bool
	}{
		{"empty criteria passes", `{}`, true},
		{"implicit eq", `{"device/os_name": "iOS"}`, true},
		{"implicit eq mismatch", `{"device/os_name": "Android"}`, false},
		{"eq number", `{"code_point/local#app#launch/invokes/total": {"$eq": 1}}`, true},
		{"ne", `{"code_point/local#app#launch/invokes/total": {"$ne": 2}}`, true},
		{"gt", `{"code_point/local#app#launch/invokes/total": {"$gt": 0}}`, true},
		{"gte boundary", `{"code_point/local#app#launch/invokes/total": {"$gte": 1}}`, true},
		{"lt fails", `{"code_point/local#app#launch/invokes/total": {"$lt": 1}}`, false},
		{"lte boundary", `{"code_point/local#app#launch/invokes/total": {"$lte": 1}}`, true},
		{"exists true", `{"person/name": {"$exists": true}}`, true},
		{"exists false on missing", `{"person/custom_data/tier": {"$exists": false}}`, true},
		{"contains", `{"person/email": {"$contains": "EXAMPLE.com"}}`, true},
		{"and", `{"$and": [{"device/os_name": "iOS"}, {"person/name": "Testy"}]}`, true},
		{"and short-circuits false", `{"$and": [{"device/os_name": "Android"}, {"person/name": "Testy"}]}`, false},
		{"or", `{"$or": [{"device/os_name": "Android"}, {"person/name": "Testy"}]}`, true},
		{"or all false", `{"$or": [{"device/os_name": "Android"}, {"person/name": "Nobody"}]}`, false},
		{"not", `{"$not": {"device/os_name": "Android"}}`, true},
		{"multiple keys and together", `{"device/os_name": "iOS", "person/name": "Testy"}`, true},
		{"missing field fails eq", `{"device/custom_data/carrier": "batelco"}`, false},
		{"missing field passes ne", `{"person/custom_data/tier": {"$ne": "gold"}}`, true},
		{"unengaged code point counts as zero", `{"code_point/local#app#rate/invokes/total": {"$eq": 0}}`, true},
	}

	var e Evaluator
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Eval(parseCriteria(t, tt.criteria), state)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCriteriaErrors(t *testing.T) {
	state := stateForTest(t, nil)
	var e Evaluator

	tests := []struct {
		name     string
		criteria string
	}{
		{"unknown operator", `{"device/os_name": {"$like": "iOS"}}`},
		{"and requires array", `{"$and": {"device/os_name": "iOS"}}`},
		{"not requires object", `{"$not": "device/os_name"}`},
		{"contains requires strings", `{"application/version": {"$contains": 5}}`},
		{"exists requires bool", `{"device/os_name": {"$exists": "yes"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Eval(parseCriteria(t, tt.criteria), state)
			assert.Error(t, err)
		})
	}
}

func TestCriteriaTimeComparison(t *testing.T) {
	lastWeek := time.Now().Add(-7 * 24 * time.Hour)
	state := stateForTest(t, func(c *conversation.Conversation) {
		c.CodePoints.Invoke("local#app#launch", lastWeek)
	})
	var e Evaluator

	ok, err := e.Eval(parseCriteria(t,
		`{"code_point/local#app#launch/last_invoked_at": {"$before": "`+time.Now().Format(time.RFC3339)+`"}}`), state)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.Eval(parseCriteria(t,
		`{"code_point/local#app#launch/last_invoked_at": {"$after": "`+time.Now().Format(time.RFC3339)+`"}}`), state)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRandomPercentGate(t *testing.T) {
	state := stateForTest(t, nil)

	e := Evaluator{Random: func() float64 { return 0.25 }} // 25 percent
	ok, err := e.Eval(parseCriteria(t, `{"random/percent": {"$lt": 50}}`), state)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.Eval(parseCriteria(t, `{"random/percent": {"$lt": 10}}`), state)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTimeSinceInstall(t *testing.T) {
	state := stateForTest(t, func(c *conversation.Conversation) {
		c.AppRelease.InstallTime = time.Now().Add(-time.Hour)
	})
	var e Evaluator

	ok, err := e.Eval(parseCriteria(t, `{"time_since_install/total": {"$gt": 3000}}`), state)
	require.NoError(t, err)
	assert.True(t, ok)
}
