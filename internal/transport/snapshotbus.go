package transport

import "sync/atomic"

// SnapshotBus publishes immutable snapshots of type T to any number of
// readers without ever holding a lock across a reader's access. Writers
// call Publish; readers call Latest. This replaces the Arc/RwLock-wrapped
// change-tracked snapshot pattern: the change-tracker's diff becomes
// whatever the reader computes between two observed values.
type SnapshotBus[T any] struct {
	ptr atomic.Pointer[T]
}

// NewSnapshotBus creates a bus with no published value yet; Latest
// returns nil until the first Publish.
func NewSnapshotBus[T any]() *SnapshotBus[T] {
	return &SnapshotBus[T]{}
}

// Publish makes snapshot the latest value visible to readers. Safe for
// concurrent callers; the last write wins.
func (b *SnapshotBus[T]) Publish(snapshot T) {
	b.ptr.Store(&snapshot)
}

// Latest returns the most recently published snapshot, or nil if
// Publish has never been called.
func (b *SnapshotBus[T]) Latest() *T {
	return b.ptr.Load()
}
