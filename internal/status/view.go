// Package status shapes a presence snapshot into the read model published
// by GET /status. It is a pure transformation: nothing is added, nothing
// is mutated, and staleness of telemetry is left to the consumer.
package status

import (
	"time"

	"github.com/dreamware/presence/internal/presence"
)

// View is the external read model.
type View struct {
	Occupied      bool                     `json:"occupied" yaml:"occupied"`
	SessionID     string                   `json:"sessionId,omitempty" yaml:"sessionId,omitempty"`
	User          string                   `json:"user,omitempty" yaml:"user,omitempty"`
	Target        string                   `json:"target,omitempty" yaml:"target,omitempty"`
	Start         *time.Time               `json:"start,omitempty" yaml:"start,omitempty"`
	PlannedEnd    *time.Time               `json:"plannedEnd,omitempty" yaml:"plannedEnd,omitempty"`
	LastHeartbeat *time.Time               `json:"lastHeartbeat,omitempty" yaml:"lastHeartbeat,omitempty"`
	Hosts         map[string]HostView      `json:"hosts" yaml:"hosts"`
	Telescope     map[string]TelescopeView `json:"telescope" yaml:"telescope"`
}

// HostView mirrors presence.HostStatus with the wire field names.
type HostView struct {
	HostID          string    `json:"hostId" yaml:"hostId"`
	Timestamp       time.Time `json:"ts" yaml:"ts"`
	UptimeSeconds   int64     `json:"uptimeSec" yaml:"uptimeSec"`
	CPUPercent      float64   `json:"cpuPercent" yaml:"cpuPercent"`
	MemPercent      float64   `json:"memPercent" yaml:"memPercent"`
	DiskFreePercent float64   `json:"diskCPercent" yaml:"diskCPercent"`
	OSVersion       string    `json:"osVersion" yaml:"osVersion"`
}

// TelescopeView mirrors presence.TelescopeStatus. Tracking and Slewing are
// nil when the reporter did not know.
type TelescopeView struct {
	HostID              string    `json:"hostId" yaml:"hostId"`
	Timestamp           time.Time `json:"ts" yaml:"ts"`
	RightAscensionHours float64   `json:"raHours" yaml:"raHours"`
	DeclinationDegrees  float64   `json:"decDeg" yaml:"decDeg"`
	Frame               string    `json:"frame" yaml:"frame"`
	Tracking            *bool     `json:"tracking" yaml:"tracking"`
	Slewing             *bool     `json:"slewing" yaml:"slewing"`
}

// Build converts a snapshot into a View. Registries are always non-nil
// maps so consumers can range over them without checks.
func Build(state presence.State) View {
	v := View{
		Occupied:  state.Session.Occupied,
		Hosts:     make(map[string]HostView, len(state.Hosts)),
		Telescope: make(map[string]TelescopeView, len(state.Telescopes)),
	}

	if s := state.Session; s.Occupied {
		v.SessionID = s.ID
		v.User = s.User
		v.Target = s.Target
		v.Start = timePtr(s.Start)
		v.PlannedEnd = timePtr(s.PlannedEnd)
		v.LastHeartbeat = timePtr(s.LastHeartbeat)
	}

	for id, h := range state.Hosts {
		v.Hosts[id] = HostView{
			HostID:          h.HostID,
			Timestamp:       h.Timestamp,
			UptimeSeconds:   h.UptimeSeconds,
			CPUPercent:      h.CPUPercent,
			MemPercent:      h.MemPercent,
			DiskFreePercent: h.DiskFreePercent,
			OSVersion:       h.OSVersion,
		}
	}
	for id, t := range state.Telescopes {
		v.Telescope[id] = TelescopeView{
			HostID:              t.HostID,
			Timestamp:           t.Timestamp,
			RightAscensionHours: t.RightAscensionHours,
			DeclinationDegrees:  t.DeclinationDegrees,
			Frame:               t.Frame,
			Tracking:            t.Tracking.Ptr(),
			Slewing:             t.Slewing.Ptr(),
		}
	}
	return v
}

// Snapshotter is satisfied by *presence.Store.
type Snapshotter interface {
	Snapshot() presence.State
}

// Facade is the only read path the transport layer uses. It never touches
// disk.
type Facade struct {
	source Snapshotter
}

// NewFacade wraps source.
func NewFacade(source Snapshotter) *Facade {
	return &Facade{source: source}
}

// Current returns the view of the latest snapshot.
func (f *Facade) Current() View {
	return Build(f.source.Snapshot())
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
