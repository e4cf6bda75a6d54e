package snapshot

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dreamware/presence/internal/presence"
)

var (
	// ErrNotFound is returned by Load when nothing has been saved yet.
	ErrNotFound = errors.New("snapshot not found")

	// ErrCorrupt is returned by Load when the saved bytes cannot be decoded.
	ErrCorrupt = errors.New("snapshot corrupt")
)

// Store defines durable storage for the full presence state.
// All implementations must be safe for concurrent use.
type Store interface {
	// Load returns the last saved state.
	// Returns ErrNotFound if nothing was saved, ErrCorrupt if unreadable.
	Load() (presence.State, error)

	// Save replaces the stored state.
	// A failed Save must leave the previously saved state loadable.
	Save(presence.State) error
}

// FileStore keeps the state in a single file. Save never writes the
// target in place: it writes a temporary file in the same directory,
// syncs it and renames it over the target, so a crash leaves either the
// old or the new file, never a torn one.
type FileStore struct {
	path  string
	codec Codec
	mu    sync.Mutex // serialises Save on this path
}

// NewFileStore creates a store for path. A nil codec selects JSON.
func NewFileStore(path string, codec Codec) *FileStore {
	if codec == nil {
		codec = JSON
	}
	return &FileStore{path: path, codec: codec}
}

// Path returns the snapshot file location.
func (f *FileStore) Path() string { return f.path }

// Codec returns the encoding used for the file.
func (f *FileStore) Codec() Codec { return f.codec }

// Load reads and decodes the snapshot file.
func (f *FileStore) Load() (presence.State, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return presence.State{}, ErrNotFound
		}
		return presence.State{}, fmt.Errorf("failed to read snapshot %s: %w", f.path, err)
	}
	return decode(f.codec, data)
}

// Save encodes state and atomically replaces the snapshot file.
func (f *FileStore) Save(state presence.State) error {
	data, err := f.codec.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp snapshot: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("failed to set snapshot permissions: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	committed = true

	syncDir(dir)
	return nil
}

// syncDir makes the rename durable. Some platforms cannot fsync a
// directory; the rename itself is already atomic there.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	d.Close()
}

// MemoryStore keeps the encoded state in memory. It goes through the
// codec so tests see the same round-trip behaviour as FileStore.
type MemoryStore struct {
	mu      sync.RWMutex
	codec   Codec
	data    []byte
	saves   int
	failErr error
}

// NewMemoryStore creates an empty in-memory store. A nil codec selects JSON.
func NewMemoryStore(codec Codec) *MemoryStore {
	if codec == nil {
		codec = JSON
	}
	return &MemoryStore{codec: codec}
}

// Load returns the last saved state.
func (m *MemoryStore) Load() (presence.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.data == nil {
		return presence.State{}, ErrNotFound
	}
	return decode(m.codec, m.data)
}

// Save stores an encoded copy of state, or returns the injected failure.
func (m *MemoryStore) Save(state presence.State) error {
	data, err := m.codec.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	m.data = data
	m.saves++
	return nil
}

// FailSaves makes every following Save return err; nil heals the store.
func (m *MemoryStore) FailSaves(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

// Saves returns the number of successful saves.
func (m *MemoryStore) Saves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}

func decode(codec Codec, data []byte) (presence.State, error) {
	var state presence.State
	if err := codec.Unmarshal(data, &state); err != nil {
		return presence.State{}, fmt.Errorf("%w: %s: %v", ErrCorrupt, codec.Name(), err)
	}
	if state.Hosts == nil {
		state.Hosts = make(map[string]presence.HostStatus)
	}
	if state.Telescopes == nil {
		state.Telescopes = make(map[string]presence.TelescopeStatus)
	}
	return state, nil
}
