// Package presence implements the occupancy state machine of the observatory
// together with the host and telescope telemetry registries that share its
// lock, and the background sweeper that releases abandoned sessions.
//
// # Overview
//
// The observatory workstation can be used by one observer at a time. An
// observer's client starts a session at login, sends a heartbeat every few
// seconds and releases the session on logout. If the client disappears
// without releasing, the sweeper notices the missing heartbeats and frees
// the observatory. Auxiliary agents report host metrics and telescope
// pointing independently; their latest values are published next to the
// session.
//
// # State Machine
//
//	            StartSession              Heartbeat(occupant)
//	  ┌──────┐ ─────────────────► ┌──────────┐ ◄──────┐
//	  │ Free │                    │ Occupied │ ───────┘
//	  └──────┘ ◄───────────────── └──────────┘
//	      ▲      Release                │  ▲
//	      │      CheckTimeout (stale)   │  │ StartSession(force)
//	      │                             └──┘ replaces the occupant
//	      └── Release on Free is a no-op
//
// A StartSession without force on an occupied observatory fails with
// ErrConflict and the occupant's name. Requests are never queued.
//
// # Core Components
//
// Store: sole owner of the session and both registries
//   - StartSession, Heartbeat, Release, CheckTimeout
//   - ReportHost, ReportTelescope (replace-on-report upserts)
//   - Snapshot (deep copy for readers), Restore (startup load)
//
// Sweeper: periodic CheckTimeout driven by an injectable clock
//   - Runs once at start and then every interval (default timeout/3)
//   - Recovers from a failing pass and retries on the next tick
//
// # Concurrency and Thread Safety
//
// Locking Strategy:
//   - One sync.RWMutex covers the session, the registries and the revision
//   - Mutations hold the write lock for the whole operation
//   - Snapshot holds the read lock; readers never see a half-written record
//   - The sweeper takes the same lock through CheckTimeout
//   - No disk or network I/O happens under the lock
//
// Persistence Ordering:
//   - Each mutation copies the state and bumps a revision while locked
//   - The copy is handed to the Persister after unlocking
//   - A second mutex orders writes; stale revisions are skipped
//
// # Error Handling
//
//	ErrInvalid      malformed input, nothing changed          → 400
//	ErrConflict     occupied and not forced, nothing changed  → 409
//	ErrNoSession    heartbeat while free, nothing changed     → 404
//	ErrNotOccupant  heartbeat from someone else               → 409
//	ErrPersistence  save failed; logged, counted, not returned
//
// A failed save does not undo the mutation. The operation has succeeded
// from the caller's point of view and the next successful save brings the
// file up to date. Stats exposes the failure count and the last error.
//
// # Time
//
// All timestamps are normalised to UTC without a monotonic reading on the
// way in, so a State survives a save/load round trip unchanged. Timeout
// evaluation is strict: a heartbeat exactly timeout old is still alive.
package presence
