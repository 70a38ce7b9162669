package conversation

import "time"

// Answer is one recorded response associated with a metric, e.g. a survey
// choice or freeform text keyed by question identifier.
type Answer struct {
	QuestionID string `json:"question_id"`
	Value      string `json:"value"`
}

// EngagementMetric records invocation counts for all time, the current app
// version, and the current build, along with the last invocation time and
// any recorded answers.
type EngagementMetric struct {
	TotalCount   int        `json:"total_count"`
	VersionCount int        `json:"version_count"`
	BuildCount   int        `json:"build_count"`
	LastInvoked  *time.Time `json:"last_invoked,omitempty"`
	Answers      []Answer   `json:"answers,omitempty"`
}

// Invoke increments all counts and updates the last invocation time.
func (m *EngagementMetric) Invoke(now time.Time) {
	m.TotalCount++
	m.VersionCount++
	m.BuildCount++
	m.LastInvoked = &now
}

// ResetVersion zeroes the count for the current app version.
func (m *EngagementMetric) ResetVersion() {
	m.VersionCount = 0
}

// ResetBuild zeroes the count for the current build.
func (m *EngagementMetric) ResetBuild() {
	m.BuildCount = 0
}

// Record unions answers into the metric's answer set.
func (m *EngagementMetric) Record(answers []Answer) {
	for _, a := range answers {
		if !m.hasAnswer(a) {
			m.Answers = append(m.Answers, a)
		}
	}
}

func (m *EngagementMetric) hasAnswer(answer Answer) bool {
	for _, a := range m.Answers {
		if a == answer {
			return true
		}
	}
	return false
}

// Adding combines this metric with a newer one: counts add, the last
// invocation time takes the later of the two, answer sets union.
func (m EngagementMetric) Adding(newer EngagementMetric) EngagementMetric {
	combined := EngagementMetric{
		TotalCount:   m.TotalCount + newer.TotalCount,
		VersionCount: m.VersionCount + newer.VersionCount,
		BuildCount:   m.BuildCount + newer.BuildCount,
	}
	switch {
	case m.LastInvoked != nil && newer.LastInvoked != nil:
		later := *m.LastInvoked
		if newer.LastInvoked.After(later) {
			later = *newer.LastInvoked
		}
		combined.LastInvoked = &later
	case m.LastInvoked != nil:
		t := *m.LastInvoked
		combined.LastInvoked = &t
	case newer.LastInvoked != nil:
		t := *newer.LastInvoked
		combined.LastInvoked = &t
	}
	combined.Record(m.Answers)
	combined.Record(newer.Answers)
	return combined
}

// EngagementMetrics maps an identifier (event code point or interaction id)
// to its metric.
type EngagementMetrics map[string]EngagementMetric

// Invoke bumps the metric for id, creating it if absent.
func (ms EngagementMetrics) Invoke(id string, now time.Time) {
	metric := ms[id]
	metric.Invoke(now)
	ms[id] = metric
}

// Record unions answers into the metric for id, creating it if absent.
func (ms EngagementMetrics) Record(id string, answers []Answer) {
	metric := ms[id]
	metric.Record(answers)
	ms[id] = metric
}

// Metric returns the metric for id; the zero metric if never invoked.
func (ms EngagementMetrics) Metric(id string) EngagementMetric {
	return ms[id]
}

// Adding merges two metric maps key by key.
func (ms EngagementMetrics) Adding(newer EngagementMetrics) EngagementMetrics {
	combined := make(EngagementMetrics, len(ms)+len(newer))
	for id, metric := range ms {
		combined[id] = metric
	}
	for id, metric := range newer {
		combined[id] = combined[id].Adding(metric)
	}
	return combined
}

// ResetVersion zeroes the version counts across all metrics.
func (ms EngagementMetrics) ResetVersion() {
	for id, metric := range ms {
		metric.ResetVersion()
		ms[id] = metric
	}
}

// ResetBuild zeroes the build counts across all metrics.
func (ms EngagementMetrics) ResetBuild() {
	for id, metric := range ms {
		metric.ResetBuild()
		ms[id] = metric
	}
}

func (ms EngagementMetrics) clone() EngagementMetrics {
	copied := make(EngagementMetrics, len(ms))
	for id, metric := range ms {
		if metric.LastInvoked != nil {
			t := *metric.LastInvoked
			metric.LastInvoked = &t
		}
		metric.Answers = append([]Answer(nil), metric.Answers...)
		copied[id] = metric
	}
	return copied
}
