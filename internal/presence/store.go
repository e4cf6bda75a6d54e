// Package presence implements the occupancy state machine of the observatory.
// See doc.go for complete package documentation.
package presence

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gologging "github.com/op/go-logging"

	"github.com/dreamware/presence/internal/clock"
)

var log = gologging.MustGetLogger("presence")

// Persister receives a full copy of the state after every mutation.
// Implementations must not retain the value beyond the call.
type Persister interface {
	Save(State) error
}

// StartRequest describes a StartSession call.
//
// PlannedHours and PlannedEnd are both optional. When both are supplied
// PlannedEnd wins. A PlannedHours value of zero or less means "no planned
// end" rather than an error.
type StartRequest struct {
	User         string
	Target       string
	PlannedHours float64
	PlannedEnd   time.Time
	Force        bool
}

// Store owns the session and the host and telescope registries, and is the
// only component allowed to mutate them.
//
// Architecture:
//
//	┌──────────────────────────────────────────┐
//	│                 Store                    │
//	├──────────────────────────────────────────┤
//	│  mu (RWMutex)                            │
//	│   ├─ session     Free | Occupied(user)   │
//	│   ├─ hosts       hostID → HostStatus     │
//	│   ├─ telescopes  hostID → TelescopeStatus│
//	│   └─ revision    bumped on every commit  │
//	├──────────────────────────────────────────┤
//	│  saveMu: orders snapshot writes          │
//	│  persister: snapshot.FileStore           │
//	└──────────────────────────────────────────┘
//
// Concurrency Model:
//   - Every mutation runs in one write-locked critical section
//   - Snapshot runs under the read lock and returns a deep copy
//   - The state copy for persistence is taken inside the critical section
//     and written after the lock is released
//   - saveMu serialises writers; a copy older than the last revision on
//     disk is dropped, so the file never moves backwards
//
// Persistence failures are logged and counted but never roll back the
// in-memory change and never fail the operation: availability of the
// Free/Occupied signal is preferred over durability of a single write.
// The next successful save repairs the file.
type Store struct {
	// mu guards session, hosts, telescopes and revision.
	mu         sync.RWMutex
	session    Session
	hosts      registry[HostStatus]
	telescopes registry[TelescopeStatus]
	revision   uint64

	// saveMu guards savedRevision and orders calls into persister.
	saveMu        sync.Mutex
	savedRevision uint64

	clock     clock.Clock
	persister Persister
	newID     func() string
	stats     counters
}

// NewStore creates an unoccupied store with empty registries.
//
// Parameters:
//   - clk: time source; nil selects clock.Real()
//   - persister: receives the state after each mutation; nil disables persistence
//
// Example:
//
//	files := snapshot.NewFileStore(path, snapshot.JSON)
//	store := presence.NewStore(clock.Real(), files)
func NewStore(clk clock.Clock, persister Persister) *Store {
	if clk == nil {
		clk = clock.Real()
	}
	return &Store{
		hosts:      newRegistry[HostStatus](),
		telescopes: newRegistry[TelescopeStatus](),
		clock:      clk,
		persister:  persister,
		newID:      uuid.NewString,
	}
}

// SetIDGenerator overrides how session IDs are minted.
// This is useful for tests that assert on whole Session values.
func (s *Store) SetIDGenerator(fn func() string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.newID = fn
}

// Restore installs a previously persisted state, typically the result of
// snapshot.FileStore.Load at startup. Records that violate the session
// invariants are repaired rather than rejected:
//   - an occupied session without a user is reset to unoccupied
//   - an unoccupied session has its leftover fields cleared
//   - a heartbeat older than the start is raised to the start
//   - registry entries with a blank key are dropped; HostID is forced to the key
//
// Restore does not write the state back; the restored revision counts as
// already persisted.
func (s *Store) Restore(state State) {
	state = sanitize(state)

	s.mu.Lock()
	s.session = state.Session
	s.hosts.replaceAll(state.Hosts)
	s.telescopes.replaceAll(state.Telescopes)
	s.revision++
	rev := s.revision
	hostIDs, telescopeIDs := s.hosts.ids(), s.telescopes.ids()
	session := s.session
	s.mu.Unlock()

	s.saveMu.Lock()
	if rev > s.savedRevision {
		s.savedRevision = rev
	}
	s.saveMu.Unlock()

	if session.Occupied {
		log.Infof("restored session of %s (started %s, last heartbeat %s)",
			session.User, session.Start.Format(time.RFC3339), session.LastHeartbeat.Format(time.RFC3339))
	} else {
		log.Info("restored state: observatory free")
	}
	log.Infof("restored %d host(s) %v and %d telescope(s) %v",
		len(hostIDs), hostIDs, len(telescopeIDs), telescopeIDs)
}

// StartSession makes user the occupant.
//
// Behavior:
//   - Free, or Force set: the session is replaced; Start and LastHeartbeat
//     are now, a fresh ID is issued, PlannedEnd comes from req.PlannedEnd,
//     else now+PlannedHours when positive, else stays absent
//   - Occupied and Force unset: returns *ConflictError naming the occupant;
//     nothing changes
//
// Returns:
//   - Session: the new session on success
//   - error: ErrInvalid for a blank user or a non-finite PlannedHours,
//     *ConflictError (errors.Is ErrConflict) when occupied
//
// Example:
//
//	_, err := store.StartSession(presence.StartRequest{User: "bob"})
//	var conflict *presence.ConflictError
//	if errors.As(err, &conflict) {
//	    // ask the user, then retry with Force: true
//	}
func (s *Store) StartSession(req StartRequest) (Session, error) {
	user := strings.TrimSpace(req.User)
	if user == "" {
		return Session{}, fmt.Errorf("%w: user is required", ErrInvalid)
	}
	if math.IsNaN(req.PlannedHours) || math.IsInf(req.PlannedHours, 0) {
		return Session{}, fmt.Errorf("%w: plannedHours must be a finite number", ErrInvalid)
	}

	s.mu.Lock()
	if s.session.Occupied && !req.Force {
		occupant := s.session
		s.mu.Unlock()
		s.stats.conflicts.Add(1)
		return Session{}, &ConflictError{Occupant: occupant.User, Since: occupant.Start}
	}

	now := utc(s.clock.Now())
	evicted := s.session
	next := Session{
		Occupied:      true,
		ID:            s.newID(),
		User:          user,
		Target:        strings.TrimSpace(req.Target),
		Start:         now,
		LastHeartbeat: now,
	}
	switch {
	case !req.PlannedEnd.IsZero():
		next.PlannedEnd = utc(req.PlannedEnd)
	case req.PlannedHours > 0:
		next.PlannedEnd = now.Add(time.Duration(req.PlannedHours * float64(time.Hour)))
	}
	s.session = next
	state, rev := s.commitLocked()
	s.mu.Unlock()

	s.stats.starts.Add(1)
	if evicted.Occupied {
		s.stats.forcedStarts.Add(1)
		log.Noticef("session of %s taken over by %s", evicted.User, next.User)
	} else {
		log.Infof("session started by %s (target %q)", next.User, next.Target)
	}

	s.persist(state, rev)
	return next, nil
}

// Heartbeat refreshes LastHeartbeat for the current occupant.
//
// A heartbeat never creates a session. When it is rejected the caller is
// expected to stop its heartbeat loop or start a new session.
//
// Returns:
//   - Session: the refreshed session on success
//   - error: ErrNoSession when free, ErrNotOccupant when user is someone
//     else (both satisfy errors.Is(err, ErrMismatch))
func (s *Store) Heartbeat(user string) (Session, error) {
	user = strings.TrimSpace(user)

	s.mu.Lock()
	if !s.session.Occupied {
		s.mu.Unlock()
		s.stats.rejectedHeartbeats.Add(1)
		return Session{}, ErrNoSession
	}
	if s.session.User != user {
		s.mu.Unlock()
		s.stats.rejectedHeartbeats.Add(1)
		return Session{}, ErrNotOccupant
	}

	now := utc(s.clock.Now())
	if now.After(s.session.LastHeartbeat) {
		s.session.LastHeartbeat = now
	}
	current := s.session
	state, rev := s.commitLocked()
	s.mu.Unlock()

	s.stats.heartbeats.Add(1)
	s.persist(state, rev)
	return current, nil
}

// Release frees the observatory whoever holds it. Releasing a free
// observatory is a successful no-op apart from the snapshot write.
//
// Returns the session that was ended, or the zero Session when it was
// already free.
func (s *Store) Release() Session {
	s.mu.Lock()
	ended := s.session
	s.session = Session{}
	state, rev := s.commitLocked()
	s.mu.Unlock()

	s.stats.releases.Add(1)
	if ended.Occupied {
		log.Infof("session of %s released", ended.User)
	}

	s.persist(state, rev)
	return ended
}

// CheckTimeout releases the session when its last heartbeat is more than
// timeout before now. This is the only automatic release path.
//
// Parameters:
//   - now: the instant to evaluate against (normally the sweeper's clock)
//   - timeout: maximum allowed silence; exactly timeout is still alive
//
// Returns:
//   - bool: true when a session was released
func (s *Store) CheckTimeout(now time.Time, timeout time.Duration) bool {
	now = utc(now)

	s.mu.Lock()
	if !s.session.Occupied || now.Sub(s.session.LastHeartbeat) <= timeout {
		s.mu.Unlock()
		return false
	}
	stale := s.session
	s.session = Session{}
	state, rev := s.commitLocked()
	s.mu.Unlock()

	s.stats.timeouts.Add(1)
	log.Warningf("releasing stale session for %s: no heartbeat for %s (timeout %s)",
		stale.User, now.Sub(stale.LastHeartbeat).Round(time.Second), timeout)

	s.persist(state, rev)
	return true
}

// ReportHost stores the latest telemetry for a host, replacing any earlier
// report for the same HostID. A zero Timestamp is stamped with the
// receive time.
//
// Returns ErrInvalid for a blank HostID or non-finite metrics.
func (s *Store) ReportHost(h HostStatus) error {
	h.HostID = strings.TrimSpace(h.HostID)
	if h.HostID == "" {
		return fmt.Errorf("%w: hostId is required", ErrInvalid)
	}
	for name, v := range map[string]float64{
		"cpuPercent":   h.CPUPercent,
		"memPercent":   h.MemPercent,
		"diskCPercent": h.DiskFreePercent,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s must be a finite number", ErrInvalid, name)
		}
	}

	s.mu.Lock()
	h.Timestamp = s.stamp(h.Timestamp)
	s.hosts.upsert(h.HostID, h)
	state, rev := s.commitLocked()
	s.mu.Unlock()

	s.stats.hostReports.Add(1)
	log.Debugf("host %s reported cpu=%.1f%% mem=%.1f%% disk free=%.1f%%",
		h.HostID, h.CPUPercent, h.MemPercent, h.DiskFreePercent)

	s.persist(state, rev)
	return nil
}

// ReportTelescope stores the latest pointing report for a device, replacing
// any earlier report for the same HostID.
//
// Returns ErrInvalid for a blank HostID, non-finite coordinates, right
// ascension outside [0, 24) hours or declination outside [-90, 90] degrees.
func (s *Store) ReportTelescope(t TelescopeStatus) error {
	t.HostID = strings.TrimSpace(t.HostID)
	if t.HostID == "" {
		return fmt.Errorf("%w: hostId is required", ErrInvalid)
	}
	ra, dec := t.RightAscensionHours, t.DeclinationDegrees
	if math.IsNaN(ra) || math.IsInf(ra, 0) || ra < 0 || ra >= 24 {
		return fmt.Errorf("%w: raHours %v outside [0, 24)", ErrInvalid, ra)
	}
	if math.IsNaN(dec) || math.IsInf(dec, 0) || dec < -90 || dec > 90 {
		return fmt.Errorf("%w: decDeg %v outside [-90, 90]", ErrInvalid, dec)
	}
	t.Frame = strings.TrimSpace(t.Frame)

	s.mu.Lock()
	t.Timestamp = s.stamp(t.Timestamp)
	s.telescopes.upsert(t.HostID, t)
	state, rev := s.commitLocked()
	s.mu.Unlock()

	s.stats.telescopeReports.Add(1)
	log.Debugf("telescope %s at RA %.4fh Dec %+.4f° (%s) tracking=%s slewing=%s",
		t.HostID, ra, dec, t.Frame, t.Tracking, t.Slewing)

	s.persist(state, rev)
	return nil
}

// Snapshot returns a deep copy of the session and both registries, taken
// under the read lock so no record is ever observed mid-update.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stateLocked()
}

// Stats returns the operation counters.
func (s *Store) Stats() Stats {
	return s.stats.read()
}

// stamp fills a missing report time with the current time. Caller holds mu.
func (s *Store) stamp(ts time.Time) time.Time {
	if ts.IsZero() {
		return utc(s.clock.Now())
	}
	return utc(ts)
}

// stateLocked copies the owned collections. Caller holds mu (read or write).
func (s *Store) stateLocked() State {
	return State{
		Session:    s.session,
		Hosts:      s.hosts.snapshot(),
		Telescopes: s.telescopes.snapshot(),
	}
}

// commitLocked bumps the revision and returns the copy to persist.
// Caller holds mu for writing.
func (s *Store) commitLocked() (State, uint64) {
	s.revision++
	return s.stateLocked(), s.revision
}

// persist writes state outside of mu. Writers are serialised by saveMu and
// a copy that is older than what is already on disk is skipped.
func (s *Store) persist(state State, rev uint64) {
	if s.persister == nil {
		return
	}

	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	if rev <= s.savedRevision {
		return
	}
	if err := s.persister.Save(state); err != nil {
		err = fmt.Errorf("%w: revision %d: %w", ErrPersistence, rev, err)
		s.stats.saveFailed(err)
		log.Errorf("%v; in-memory state kept, next save will retry", err)
		return
	}
	s.savedRevision = rev
	s.stats.saved()
}

// sanitize repairs a loaded state so that it satisfies the invariants.
func sanitize(state State) State {
	out := NewState()

	sess := state.Session
	sess.User = strings.TrimSpace(sess.User)
	switch {
	case !sess.Occupied:
		sess = Session{}
	case sess.User == "":
		log.Warning("persisted session is occupied without a user; treating as free")
		sess = Session{}
	default:
		sess.Start = utc(sess.Start)
		sess.PlannedEnd = utc(sess.PlannedEnd)
		sess.LastHeartbeat = utc(sess.LastHeartbeat)
		if sess.LastHeartbeat.Before(sess.Start) {
			sess.LastHeartbeat = sess.Start
		}
	}
	out.Session = sess

	for id, h := range state.Hosts {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		h.HostID = id
		h.Timestamp = utc(h.Timestamp)
		out.Hosts[id] = h
	}
	for id, t := range state.Telescopes {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		t.HostID = id
		t.Timestamp = utc(t.Timestamp)
		out.Telescopes[id] = t
	}
	return out
}
