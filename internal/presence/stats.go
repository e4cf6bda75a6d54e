package presence

import (
	"sync"
	"sync/atomic"
)

// Stats counts store operations since process start. It is served by the
// daemon's /stats endpoint and is the place where persistence failures
// become visible, since they never fail the request that caused them.
type Stats struct {
	Starts             uint64 `json:"starts"`
	ForcedStarts       uint64 `json:"forcedStarts"`
	Conflicts          uint64 `json:"conflicts"`
	Heartbeats         uint64 `json:"heartbeats"`
	RejectedHeartbeats uint64 `json:"rejectedHeartbeats"`
	Releases           uint64 `json:"releases"`
	Timeouts           uint64 `json:"timeouts"`
	HostReports        uint64 `json:"hostReports"`
	TelescopeReports   uint64 `json:"telescopeReports"`
	Saves              uint64 `json:"saves"`
	SaveFailures       uint64 `json:"saveFailures"`
	LastSaveError      string `json:"lastSaveError,omitempty"`
}

// counters is the live form of Stats. Counters are updated with atomics so
// they never extend the store's critical section.
type counters struct {
	starts             atomic.Uint64
	forcedStarts       atomic.Uint64
	conflicts          atomic.Uint64
	heartbeats         atomic.Uint64
	rejectedHeartbeats atomic.Uint64
	releases           atomic.Uint64
	timeouts           atomic.Uint64
	hostReports        atomic.Uint64
	telescopeReports   atomic.Uint64
	saves              atomic.Uint64
	saveFailures       atomic.Uint64

	mu      sync.Mutex
	lastErr string
}

func (c *counters) saveFailed(err error) {
	c.saveFailures.Add(1)
	c.mu.Lock()
	c.lastErr = err.Error()
	c.mu.Unlock()
}

func (c *counters) saved() {
	c.saves.Add(1)
	c.mu.Lock()
	c.lastErr = ""
	c.mu.Unlock()
}

func (c *counters) read() Stats {
	c.mu.Lock()
	lastErr := c.lastErr
	c.mu.Unlock()

	return Stats{
		Starts:             c.starts.Load(),
		ForcedStarts:       c.forcedStarts.Load(),
		Conflicts:          c.conflicts.Load(),
		Heartbeats:         c.heartbeats.Load(),
		RejectedHeartbeats: c.rejectedHeartbeats.Load(),
		Releases:           c.releases.Load(),
		Timeouts:           c.timeouts.Load(),
		HostReports:        c.hostReports.Load(),
		TelescopeReports:   c.telescopeReports.Load(),
		Saves:              c.saves.Load(),
		SaveFailures:       c.saveFailures.Load(),
		LastSaveError:      lastErr,
	}
}
