// Package snapshot persists the full presence state so a restart of the
// daemon does not forget who is observing.
//
// # Overview
//
// The presence store hands a copy of its state to Save after every
// mutation; Load is called once at startup. Nothing reads the file while
// the daemon runs.
//
//	┌──────────────────┐  Save(copy)   ┌──────────────────────────┐
//	│  presence.Store  │ ────────────► │ FileStore                │
//	└──────────────────┘               │  write .presence.*.tmp   │
//	         ▲                         │  fsync, rename, fsync dir│
//	         │ Restore(Load())         └──────────────────────────┘
//	   startup only
//
// # Crash Safety
//
// The target file is never opened for writing. A crash before the rename
// leaves the previous snapshot in place plus an orphaned temp file; a
// crash after it leaves the new snapshot. Load therefore never sees a
// partial write.
//
// # Formats
//
// JSON (default) is indented and readable. CBOR uses Core Deterministic
// Encoding with RFC 3339 nanosecond timestamps. Both round-trip every
// presence.State exactly.
//
// # Error Handling
//
// Load distinguishes a missing file (ErrNotFound) from an undecodable one
// (ErrCorrupt). The daemon treats both as "start empty" and logs them.
package snapshot
