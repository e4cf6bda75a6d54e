package presence

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Session is the current occupancy of the observatory.
//
// Invariants:
//   - Occupied == false: every other field holds its zero value
//   - Occupied == true: User is non-empty and LastHeartbeat is not before Start
//
// PlannedEnd is optional; the zero time means no planned end was given.
type Session struct {
	Occupied      bool      `json:"occupied"`
	ID            string    `json:"id,omitempty"`
	User          string    `json:"user,omitempty"`
	Target        string    `json:"target,omitempty"`
	Start         time.Time `json:"start"`
	PlannedEnd    time.Time `json:"plannedEnd"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`
}

// HasPlannedEnd reports whether the occupant announced an end time.
func (s Session) HasPlannedEnd() bool { return !s.PlannedEnd.IsZero() }

// HostStatus is the latest telemetry sample reported by one auxiliary
// machine. A new report replaces the previous one for the same HostID
// entirely; fields are never merged.
type HostStatus struct {
	HostID          string    `json:"hostId"`
	Timestamp       time.Time `json:"ts"`
	UptimeSeconds   int64     `json:"uptimeSec"`
	CPUPercent      float64   `json:"cpuPercent"`
	MemPercent      float64   `json:"memPercent"`
	DiskFreePercent float64   `json:"diskCPercent"`
	OSVersion       string    `json:"osVersion"`
}

// TelescopeStatus is the latest pointing and tracking report for one
// device, keyed by the host that drives it. Same replace-on-report
// semantics as HostStatus, separate keyspace.
type TelescopeStatus struct {
	HostID              string    `json:"hostId"`
	Timestamp           time.Time `json:"ts"`
	RightAscensionHours float64   `json:"raHours"`
	DeclinationDegrees  float64   `json:"decDeg"`
	Frame               string    `json:"frame"`
	Tracking            TriState  `json:"tracking"`
	Slewing             TriState  `json:"slewing"`
}

// State is everything the presence store owns: the session and both
// registries. It is the unit written to and read from the snapshot file
// and the value handed out by Store.Snapshot.
type State struct {
	Session    Session                    `json:"session"`
	Hosts      map[string]HostStatus      `json:"hosts"`
	Telescopes map[string]TelescopeStatus `json:"telescopes"`
}

// NewState returns an unoccupied state with empty registries.
func NewState() State {
	return State{
		Hosts:      make(map[string]HostStatus),
		Telescopes: make(map[string]TelescopeStatus),
	}
}

// Clone returns a deep copy. Registry values are plain structs, so copying
// the maps is enough.
func (s State) Clone() State {
	out := State{
		Session:    s.Session,
		Hosts:      make(map[string]HostStatus, len(s.Hosts)),
		Telescopes: make(map[string]TelescopeStatus, len(s.Telescopes)),
	}
	for id, h := range s.Hosts {
		out.Hosts[id] = h
	}
	for id, t := range s.Telescopes {
		out.Telescopes[id] = t
	}
	return out
}

// TriState is an optional boolean reported by telescope drivers that may
// not know whether the mount is tracking or slewing.
type TriState int8

const (
	// Unknown means the reporter did not supply a value.
	Unknown TriState = iota
	// True is an explicit yes.
	True
	// False is an explicit no.
	False
)

// TriStateOf converts a definite boolean.
func TriStateOf(b bool) TriState {
	if b {
		return True
	}
	return False
}

// TriStateFromPtr maps nil to Unknown.
func TriStateFromPtr(b *bool) TriState {
	if b == nil {
		return Unknown
	}
	return TriStateOf(*b)
}

// ParseTriState accepts true/false/unknown and the usual yes/no spellings.
func ParseTriState(s string) (TriState, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "on", "1":
		return True, nil
	case "false", "no", "off", "0":
		return False, nil
	case "", "unknown", "null", "none":
		return Unknown, nil
	}
	return Unknown, fmt.Errorf("%w: %q is not true, false or unknown", ErrInvalid, s)
}

// Ptr returns nil for Unknown and a pointer to the value otherwise.
func (t TriState) Ptr() *bool {
	switch t {
	case True:
		v := true
		return &v
	case False:
		v := false
		return &v
	}
	return nil
}

func (t TriState) String() string {
	switch t {
	case True:
		return "true"
	case False:
		return "false"
	}
	return "unknown"
}

// MarshalJSON encodes Unknown as null.
func (t TriState) MarshalJSON() ([]byte, error) {
	switch t {
	case True:
		return []byte("true"), nil
	case False:
		return []byte("false"), nil
	}
	return []byte("null"), nil
}

// UnmarshalJSON accepts true, false and null.
func (t *TriState) UnmarshalJSON(data []byte) error {
	var b *bool
	if err := json.Unmarshal(data, &b); err != nil {
		return fmt.Errorf("tri-state: %w", err)
	}
	*t = TriStateFromPtr(b)
	return nil
}

// utc strips the monotonic reading and location so that values survive an
// encode/decode round trip unchanged.
func utc(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	return t.UTC()
}
