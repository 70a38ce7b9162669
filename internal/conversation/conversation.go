// Package conversation holds the per-installation persistent identity and
// engagement state record.
package conversation

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrMismatchedCredentials indicates an attempt to switch app credentials
// after they were already set to a different value.
var ErrMismatchedCredentials = errors.New("conversation: mismatched app credentials")

// AppCredentials identify the host app to the engagement API. Once set on
// a conversation they never change.
type AppCredentials struct {
	Key       string `json:"key"`
	Signature string `json:"signature"`
}

// ConversationCredentials are granted by the server and gate all further
// network activity for this installation.
type ConversationCredentials struct {
	Token string `json:"token"`
	ID    string `json:"id"`
}

// Environment supplies the platform-derived defaults for a fresh record.
type Environment struct {
	DeviceUUID string
	OSName     string
	OSVersion  string
	Locale     string
	TimeZone   string
	AppVersion string
	AppBuild   string
	SDKVersion string
}

// Conversation is the single mutable record describing this installation:
// identity, credentials, profile sub-records, and engagement metrics.
type Conversation struct {
	LocalIdentifier         string                   `json:"local_identifier"`
	AppCredentials          *AppCredentials          `json:"app_credentials,omitempty"`
	ConversationCredentials *ConversationCredentials `json:"conversation_credentials,omitempty"`
	Device                  Device                   `json:"device"`
	Person                  Person                   `json:"person"`
	AppRelease              AppRelease               `json:"app_release"`
	CodePoints              EngagementMetrics        `json:"code_points"`
	Interactions            EngagementMetrics        `json:"interactions"`
}

// New builds an in-memory conversation with environment-derived defaults
// and no credentials.
func New(env Environment) Conversation {
	deviceUUID := env.DeviceUUID
	if deviceUUID == "" {
		deviceUUID = uuid.NewString()
	}
	return Conversation{
		LocalIdentifier: uuid.NewString(),
		Device: Device{
			UUID:      deviceUUID,
			OSName:    env.OSName,
			OSVersion: env.OSVersion,
			Locale:    env.Locale,
			TimeZone:  env.TimeZone,
		},
		AppRelease: AppRelease{
			Version:     env.AppVersion,
			Build:       env.AppBuild,
			SDKVersion:  env.SDKVersion,
			InstallTime: time.Now(),
		},
		CodePoints:   make(EngagementMetrics),
		Interactions: make(EngagementMetrics),
	}
}

// SetAppCredentials records the app credentials, rejecting an attempt to
// silently change identity once they are set.
func (c *Conversation) SetAppCredentials(creds AppCredentials) error {
	if c.AppCredentials != nil && *c.AppCredentials != creds {
		return ErrMismatchedCredentials
	}
	c.AppCredentials = &creds
	return nil
}

// Clone returns a deep copy of the conversation, used to snapshot the
// prior value for change detection.
func (c Conversation) Clone() Conversation {
	copied := c
	if c.AppCredentials != nil {
		creds := *c.AppCredentials
		copied.AppCredentials = &creds
	}
	if c.ConversationCredentials != nil {
		creds := *c.ConversationCredentials
		copied.ConversationCredentials = &creds
	}
	copied.Device = c.Device.clone()
	copied.Person = c.Person.clone()
	copied.AppRelease = c.AppRelease.clone()
	copied.CodePoints = c.CodePoints.clone()
	copied.Interactions = c.Interactions.clone()
	return copied
}

// Merged combines a saved (on-disk) conversation with the in-memory one.
//
// The receiver is the saved record. Identity and server-granted state from
// disk are preserved; newer non-default profile fields from the in-memory
// copy win; metrics are added together. If the app version or build
// changed versus the saved record, the corresponding per-version counts
// are reset and the update is recorded on the app release.
func (saved Conversation) Merged(current Conversation) (Conversation, error) {
	merged := saved.Clone()

	if current.AppCredentials != nil {
		if merged.AppCredentials != nil && *merged.AppCredentials != *current.AppCredentials {
			return Conversation{}, ErrMismatchedCredentials
		}
		creds := *current.AppCredentials
		merged.AppCredentials = &creds
	}
	// Conversation credentials are never downgraded: disk wins if present.
	if merged.ConversationCredentials == nil && current.ConversationCredentials != nil {
		creds := *current.ConversationCredentials
		merged.ConversationCredentials = &creds
	}

	merged.Device = mergeDevice(saved.Device, current.Device)
	merged.Person = mergePerson(saved.Person, current.Person)

	merged.CodePoints = saved.CodePoints.Adding(current.CodePoints)
	merged.Interactions = saved.Interactions.Adding(current.Interactions)

	merged.AppRelease = mergeAppRelease(saved.AppRelease, current.AppRelease)
	if merged.AppRelease.IsUpdatedVersion && saved.AppRelease.Version != current.AppRelease.Version {
		merged.CodePoints.ResetVersion()
		merged.Interactions.ResetVersion()
	}
	if merged.AppRelease.IsUpdatedBuild && saved.AppRelease.Build != current.AppRelease.Build {
		merged.CodePoints.ResetBuild()
		merged.Interactions.ResetBuild()
	}

	return merged, nil
}

func mergeDevice(saved, current Device) Device {
	merged := current.clone()
	// The device UUID is identity: the saved one survives a merge.
	if saved.UUID != "" {
		merged.UUID = saved.UUID
	}
	if merged.CustomData == nil {
		merged.CustomData = saved.clone().CustomData
	}
	return merged
}

func mergePerson(saved, current Person) Person {
	merged := saved.clone()
	if current.Name != "" {
		merged.Name = current.Name
	}
	if current.Email != "" {
		merged.Email = current.Email
	}
	if current.CustomData != nil {
		merged.CustomData = current.clone().CustomData
	}
	return merged
}

func mergeAppRelease(saved, current AppRelease) AppRelease {
	merged := current.clone()
	merged.InstallTime = saved.InstallTime
	merged.IsUpdatedVersion = saved.IsUpdatedVersion
	merged.IsUpdatedBuild = saved.IsUpdatedBuild

	now := time.Now()
	if saved.Version != current.Version && saved.Version != "" {
		merged.IsUpdatedVersion = true
		merged.VersionInstallTime = &now
	} else if saved.VersionInstallTime != nil {
		t := *saved.VersionInstallTime
		merged.VersionInstallTime = &t
	}
	if saved.Build != current.Build && saved.Build != "" {
		merged.IsUpdatedBuild = true
		merged.BuildInstallTime = &now
	} else if saved.BuildInstallTime != nil {
		t := *saved.BuildInstallTime
		merged.BuildInstallTime = &t
	}
	return merged
}
