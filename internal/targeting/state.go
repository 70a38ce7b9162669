package targeting

import (
	"strings"
	"time"

	"github.com/feedbackloop/engage-sdk/internal/conversation"
)

// State adapts a conversation snapshot to the field paths criteria can
// reference.
type State struct {
	conv *conversation.Conversation
	now  time.Time
}

// NewState wraps a conversation for criteria evaluation at time now.
func NewState(conv *conversation.Conversation, now time.Time) *State {
	return &State{conv: conv, now: now}
}

// Value resolves a field path such as "code_point/local#app#launch/invokes/version"
// or "person/email" against the conversation. The second return reports
// whether the field exists.
func (s *State) Value(path string) (any, bool) {
	parts := strings.Split(path, "/")
	switch parts[0] {
	case "current_time":
		return s.now, true
	case "code_point":
		return s.metricValue(s.conv.CodePoints, parts)
	case "interaction":
		return s.metricValue(s.conv.Interactions, parts)
	case "device":
		return s.deviceValue(parts)
	case "person":
		return s.personValue(parts)
	case "application":
		return s.applicationValue(parts)
	case "sdk":
		if len(parts) == 2 && parts[1] == "version" {
			return s.conv.AppRelease.SDKVersion, true
		}
	case "is_update":
		if len(parts) == 2 {
			switch parts[1] {
			case "version":
				return s.conv.AppRelease.IsUpdatedVersion, true
			case "build":
				return s.conv.AppRelease.IsUpdatedBuild, true
			}
		}
	case "time_since_install":
		return s.timeSinceInstall(parts)
	}
	return nil, false
}

func (s *State) metricValue(metrics conversation.EngagementMetrics, parts []string) (any, bool) {
	if len(parts) < 3 {
		return nil, false
	}
	metric := metrics.Metric(parts[1])
	switch parts[2] {
	case "invokes":
		if len(parts) != 4 {
			return nil, false
		}
		switch parts[3] {
		case "total":
			return metric.TotalCount, true
		case "version":
			return metric.VersionCount, true
		case "build":
			return metric.BuildCount, true
		}
	case "last_invoked_at":
		if metric.LastInvoked == nil {
			return nil, false
		}
		return *metric.LastInvoked, true
	}
	return nil, false
}

func (s *State) deviceValue(parts []string) (any, bool) {
	if len(parts) < 2 {
		return nil, false
	}
	switch parts[1] {
	case "os_name":
		return s.conv.Device.OSName, true
	case "os_version":
		return s.conv.Device.OSVersion, true
	case "locale":
		return s.conv.Device.Locale, true
	case "time_zone":
		return s.conv.Device.TimeZone, true
	case "custom_data":
		if len(parts) == 3 {
			value, ok := s.conv.Device.CustomData[parts[2]]
			return value, ok
		}
	}
	return nil, false
}

func (s *State) personValue(parts []string) (any, bool) {
	if len(parts) < 2 {
		return nil, false
	}
	switch parts[1] {
	case "name":
		if s.conv.Person.Name == "" {
			return nil, false
		}
		return s.conv.Person.Name, true
	case "email":
		if s.conv.Person.Email == "" {
			return nil, false
		}
		return s.conv.Person.Email, true
	case "custom_data":
		if len(parts) == 3 {
			value, ok := s.conv.Person.CustomData[parts[2]]
			return value, ok
		}
	}
	return nil, false
}

func (s *State) applicationValue(parts []string) (any, bool) {
	if len(parts) != 2 {
		return nil, false
	}
	switch parts[1] {
	case "version":
		return s.conv.AppRelease.Version, true
	case "build":
		return s.conv.AppRelease.Build, true
	}
	return nil, false
}

func (s *State) timeSinceInstall(parts []string) (any, bool) {
	if len(parts) != 2 {
		return nil, false
	}
	switch parts[1] {
	case "total":
		return s.now.Sub(s.conv.AppRelease.InstallTime).Seconds(), true
	case "version":
		if s.conv.AppRelease.VersionInstallTime == nil {
			return s.now.Sub(s.conv.AppRelease.InstallTime).Seconds(), true
		}
		return s.now.Sub(*s.conv.AppRelease.VersionInstallTime).Seconds(), true
	case "build":
		if s.conv.AppRelease.BuildInstallTime == nil {
			return s.now.Sub(s.conv.AppRelease.InstallTime).Seconds(), true
		}
		return s.now.Sub(*s.conv.AppRelease.BuildInstallTime).Seconds(), true
	}
	return nil, false
}
