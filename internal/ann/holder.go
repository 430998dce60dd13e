package ann

import "sync/atomic"

// snapshot pairs a published index with the write generation it reflects
type snapshot struct {
	idx        *Index
	generation uint64
}

// Holder publishes the active index and counts store writes, so readers can
// tell when the index no longer covers everything stored. The zero value
// holds nothing.
type Holder struct {
	current atomic.Pointer[snapshot]
	writes  atomic.Uint64
}

// Current returns the published index, or nil. It may be stale.
func (h *Holder) Current() *Index {
	if s := h.current.Load(); s != nil {
		return s.idx
	}
	return nil
}

// Snapshot returns the published index and whether a write has landed
// since the vectors it was built from were read
func (h *Holder) Snapshot() (*Index, bool) {
	s := h.current.Load()
	if s == nil {
		return nil, false
	}
	return s.idx, s.generation != h.writes.Load()
}

// Generation returns the current write generation. Read it before listing
// the vectors an index is built from and hand it to PublishAt.
func (h *Holder) Generation() uint64 {
	return h.writes.Load()
}

// MarkWrite records a store write, making any published index stale
func (h *Holder) MarkWrite() {
	h.writes.Add(1)
}

// Publish swaps in idx as current with the store; readers holding the old
// index keep using it
func (h *Holder) Publish(idx *Index) {
	h.PublishAt(idx, h.writes.Load())
}

// PublishAt swaps in idx built from vectors read at generation
func (h *Holder) PublishAt(idx *Index, generation uint64) {
	h.current.Store(&snapshot{idx: idx, generation: generation})
}

// Clear unpublishes the index
func (h *Holder) Clear() {
	h.current.Store(nil)
}

// RebuildLock provides non-blocking lock semantics using atomic operations,
// so a second rebuild request returns immediately instead of queueing.
type RebuildLock struct {
	state atomic.Int32 // 0 = idle, 1 = rebuilding
}

// TryAcquire attempts to acquire the lock without blocking
func (l *RebuildLock) TryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Release releases the lock. Only the holder may call it.
func (l *RebuildLock) Release() {
	l.state.Store(0)
}

// Held reports whether a rebuild is in progress
func (l *RebuildLock) Held() bool {
	return l.state.Load() == 1
}
