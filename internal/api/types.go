package api

import (
	"time"

	"github.com/dreamware/presence/internal/presence"
	"github.com/dreamware/presence/internal/status"
)

// StartRequest is the body of POST /start.
type StartRequest struct {
	User         string     `json:"user"`
	Target       string     `json:"target,omitempty"`
	PlannedHours float64    `json:"plannedHours,omitempty"`
	PlannedEnd   *time.Time `json:"plannedEnd,omitempty"`
	Force        bool       `json:"force,omitempty"`
}

// Presence converts the wire request into the store's form.
func (r StartRequest) Presence() presence.StartRequest {
	req := presence.StartRequest{
		User:         r.User,
		Target:       r.Target,
		PlannedHours: r.PlannedHours,
		Force:        r.Force,
	}
	if r.PlannedEnd != nil {
		req.PlannedEnd = *r.PlannedEnd
	}
	return req
}

// HeartbeatRequest is the body of POST /heartbeat.
type HeartbeatRequest struct {
	User string `json:"user"`
}

// HostReport is the body of POST /host_status.
type HostReport struct {
	HostID          string    `json:"hostId"`
	Timestamp       time.Time `json:"ts"`
	UptimeSeconds   int64     `json:"uptimeSec"`
	CPUPercent      float64   `json:"cpuPercent"`
	MemPercent      float64   `json:"memPercent"`
	DiskFreePercent float64   `json:"diskCPercent"`
	OSVersion       string    `json:"osVersion"`
}

// Presence converts the report into a registry record.
func (r HostReport) Presence() presence.HostStatus {
	return presence.HostStatus{
		HostID:          r.HostID,
		Timestamp:       r.Timestamp,
		UptimeSeconds:   r.UptimeSeconds,
		CPUPercent:      r.CPUPercent,
		MemPercent:      r.MemPercent,
		DiskFreePercent: r.DiskFreePercent,
		OSVersion:       r.OSVersion,
	}
}

// TelescopeReport is the body of POST /telescope_status. A missing or null
// tracking/slewing field means the reporter does not know.
type TelescopeReport struct {
	HostID              string    `json:"hostId"`
	Timestamp           time.Time `json:"ts"`
	RightAscensionHours float64   `json:"raHours"`
	DeclinationDegrees  float64   `json:"decDeg"`
	Frame               string    `json:"frame,omitempty"`
	Tracking            *bool     `json:"tracking"`
	Slewing             *bool     `json:"slewing"`
}

// Presence converts the report into a registry record.
func (r TelescopeReport) Presence() presence.TelescopeStatus {
	return presence.TelescopeStatus{
		HostID:              r.HostID,
		Timestamp:           r.Timestamp,
		RightAscensionHours: r.RightAscensionHours,
		DeclinationDegrees:  r.DeclinationDegrees,
		Frame:               r.Frame,
		Tracking:            presence.TriStateFromPtr(r.Tracking),
		Slewing:             presence.TriStateFromPtr(r.Slewing),
	}
}

// Response is the envelope returned by every mutating endpoint.
type Response struct {
	OK       bool         `json:"ok"`
	Message  string       `json:"msg,omitempty"`
	Occupant string       `json:"occupant,omitempty"`
	Since    *time.Time   `json:"since,omitempty"`
	State    *status.View `json:"state,omitempty"`
}
