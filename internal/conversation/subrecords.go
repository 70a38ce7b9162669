package conversation

import (
	"maps"
	"time"
)

// Device describes the installation's hardware and OS environment.
type Device struct {
	UUID       string            `json:"uuid"`
	OSName     string            `json:"os_name"`
	OSVersion  string            `json:"os_version"`
	Locale     string            `json:"locale"`
	TimeZone   string            `json:"time_zone"`
	CustomData map[string]string `json:"custom_data,omitempty"`
}

// Equal reports whether two device records carry the same data.
func (d Device) Equal(other Device) bool {
	return d.UUID == other.UUID &&
		d.OSName == other.OSName &&
		d.OSVersion == other.OSVersion &&
		d.Locale == other.Locale &&
		d.TimeZone == other.TimeZone &&
		maps.Equal(d.CustomData, other.CustomData)
}

func (d Device) clone() Device {
	d.CustomData = maps.Clone(d.CustomData)
	return d
}

// Person describes the app user, as far as the host app has told us.
type Person struct {
	Name       string            `json:"name,omitempty"`
	Email      string            `json:"email,omitempty"`
	CustomData map[string]string `json:"custom_data,omitempty"`
}

// Equal reports whether two person records carry the same data.
func (p Person) Equal(other Person) bool {
	return p.Name == other.Name &&
		p.Email == other.Email &&
		maps.Equal(p.CustomData, other.CustomData)
}

func (p Person) clone() Person {
	p.CustomData = maps.Clone(p.CustomData)
	return p
}

// AppRelease describes the host app version this installation is running,
// plus install/update bookkeeping used by targeting criteria.
type AppRelease struct {
	Version            string     `json:"version"`
	Build              string     `json:"build"`
	SDKVersion         string     `json:"sdk_version"`
	InstallTime        time.Time  `json:"install_time"`
	VersionInstallTime *time.Time `json:"version_install_time,omitempty"`
	BuildInstallTime   *time.Time `json:"build_install_time,omitempty"`
	IsUpdatedVersion   bool       `json:"is_updated_version"`
	IsUpdatedBuild     bool       `json:"is_updated_build"`
}

// Equal reports whether two app release records carry the same data.
func (a AppRelease) Equal(other AppRelease) bool {
	return a.Version == other.Version &&
		a.Build == other.Build &&
		a.SDKVersion == other.SDKVersion &&
		a.InstallTime.Equal(other.InstallTime) &&
		timesEqual(a.VersionInstallTime, other.VersionInstallTime) &&
		timesEqual(a.BuildInstallTime, other.BuildInstallTime) &&
		a.IsUpdatedVersion == other.IsUpdatedVersion &&
		a.IsUpdatedBuild == other.IsUpdatedBuild
}

func (a AppRelease) clone() AppRelease {
	if a.VersionInstallTime != nil {
		t := *a.VersionInstallTime
		a.VersionInstallTime = &t
	}
	if a.BuildInstallTime != nil {
		t := *a.BuildInstallTime
		a.BuildInstallTime = &t
	}
	return a
}

func timesEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
