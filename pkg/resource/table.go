// Package resource implements the runtime's Resource Table: a typed slab
// mapping an opaque, non-zero integer Rid to a host-owned value of type T.
//
// A Table owns every value it holds. Script code never sees anything but
// the Rid; the native extension that pushed the value is the only code
// that calls Get/Remove on it.
package resource

import "sync"

// Rid is an opaque, non-zero resource id, unique within one Table until
// the entry is removed. Ids are never reused within the same Table
// instance (the internal counter only increments).
type Rid uint32

// IsGlobalRef satisfies jsagent.GlobalRef: a promise table is just
// another resource.Table[*promiseHandles], so its Rid doubles as the
// rooted handle async tasks carry back to the event loop.
func (Rid) IsGlobalRef() {}

// Table is a generic, mutex-guarded slab of T values keyed by Rid.
// It is safe for concurrent use from multiple goroutines (native ops run
// on the agent thread, but async tasks that touch resource contents may
// need to look an entry up from another goroutine).
type Table[T any] struct {
	mu      sync.Mutex
	entries map[Rid]T
	next    Rid
}

// NewTable creates an empty resource table.
func NewTable[T any]() *Table[T] {
	return &Table[T]{entries: make(map[Rid]T)}
}

// Push inserts a value and returns its freshly minted Rid.
func (t *Table[T]) Push(v T) Rid {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	rid := t.next
	t.entries[rid] = v
	return rid
}

// Get returns the value for rid and whether it was present.
func (t *Table[T]) Get(rid Rid) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.entries[rid]
	return v, ok
}

// Remove deletes and returns the value for rid, if present.
func (t *Table[T]) Remove(rid Rid) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.entries[rid]
	if ok {
		delete(t.entries, rid)
	}
	return v, ok
}

// Len reports the number of live entries.
func (t *Table[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Each calls fn for every live entry. fn must not mutate the table.
func (t *Table[T]) Each(fn func(Rid, T)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for rid, v := range t.entries {
		fn(rid, v)
	}
}

// Drain removes and returns every entry, in an unspecified order. Used at
// agent teardown to release resources in reverse dependency order by
// calling Drain on tables from the most-dependent to least-dependent.
func (t *Table[T]) Drain() []T {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]T, 0, len(t.entries))
	for rid, v := range t.entries {
		out = append(out, v)
		delete(t.entries, rid)
	}
	return out
}
