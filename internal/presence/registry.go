package presence

import "golang.org/x/exp/slices"

// registry is a latest-value map keyed by host ID. It does no locking of
// its own; Store.mu guards every registry together with the session so the
// three collections change inside one critical section.
//
// Values are plain structs, so the copies handed out by snapshot cannot be
// used to reach the stored entries.
type registry[T any] struct {
	entries map[string]T
}

func newRegistry[T any]() registry[T] {
	return registry[T]{entries: make(map[string]T)}
}

// upsert replaces the entry for id wholesale.
func (r registry[T]) upsert(id string, v T) {
	r.entries[id] = v
}

// ids returns the keys in lexical order.
func (r registry[T]) ids() []string {
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// snapshot returns a copy of the entries.
func (r registry[T]) snapshot() map[string]T {
	out := make(map[string]T, len(r.entries))
	for id, v := range r.entries {
		out[id] = v
	}
	return out
}

// replaceAll swaps the contents for a copy of m.
func (r *registry[T]) replaceAll(m map[string]T) {
	r.entries = make(map[string]T, len(m))
	for id, v := range m {
		r.entries[id] = v
	}
}
