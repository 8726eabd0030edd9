package replayshare

import "sync/atomic"

// lastSeen is a single-slot cache of the most recent value seen on a shared
// pipeline. It is empty until the first store; a store always supersedes the
// previous value. A load observes either nothing or one complete value, never
// a partially written one, so the cell is safe to share between the tap and
// concurrently attaching consumers.
//
// The cell stores a pointer rather than a value so that emptiness is a state
// of its own: every value of T, including the zero value, is a legitimate
// emission and can be replayed.
type lastSeen[T any] struct {
	value atomic.Pointer[T]
}

func (l *lastSeen[T]) store(v T) {
	l.value.Store(&v)
}

func (l *lastSeen[T]) load() (T, bool) {
	p := l.value.Load()
	if p == nil {
		var zero T
		return zero, false
	}
	return *p, true
}
