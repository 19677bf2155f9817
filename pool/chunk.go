package pool

import "sync/atomic"

// State is the lifecycle of a pooled Chunk.
type State int32

const (
	// StateNew is the zero value: allocated but never borrowed.
	StateNew State = iota
	// StateUsed means the chunk is currently checked out to a holder.
	StateUsed
	// StateReturned means the chunk is back on its pool's free list.
	StateReturned
	// StateDisposed means the chunk (or its pool) has been shut down; it
	// will never be reused.
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateUsed:
		return "used"
	case StateReturned:
		return "returned"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// Chunk owns a fixed-size byte array plus the bookkeeping the pool needs to
// reclaim it: a back-reference to its pool (nil for wrapped/foreign memory,
// which never participates in pooling), a lifecycle State, and an atomic
// reference count. A chunk is returned to its pool exactly when its refcount
// reaches zero while it is StateUsed.
type Chunk struct {
	data []byte
	pool *Pool
	id   uint64

	state State32
	refs  atomic.Int32
}

// State32 is a thin atomic wrapper so Chunk.state reads/writes are
// lock-free; kept as a named type so the CAS sites below read as state
// transitions rather than bit-twiddling.
type State32 struct{ v atomic.Int32 }

func (s *State32) Load() State        { return State(s.v.Load()) }
func (s *State32) Store(st State)     { s.v.Store(int32(st)) }
func (s *State32) CAS(old, new State) bool {
	return s.v.CompareAndSwap(int32(old), int32(new))
}

// Bytes returns the chunk's backing array. Callers must respect whatever
// offset/length a buffer node declares; Bytes itself has no notion of a
// logical length.
func (c *Chunk) Bytes() []byte { return c.data }

// Cap is the capacity of the chunk's backing array.
func (c *Chunk) Cap() int { return len(c.data) }

// Pool returns the owning pool, or nil for wrapped/foreign memory.
func (c *Chunk) Pool() *Pool { return c.pool }

// State returns the chunk's current lifecycle state.
func (c *Chunk) State() State { return c.state.Load() }

// ID is a per-pool monotonic identity, used by the pool as the key of its
// checked-out table and in its log messages; it has no bearing on equality
// (chunks are compared by pointer).
func (c *Chunk) ID() uint64 { return c.id }

// RefCount reports the current reference count, mostly for tests.
func (c *Chunk) RefCount() int32 { return c.refs.Load() }

// Retain increments the reference count. Callers must call Retain exactly
// once per enqueue-into-a-buffer operation (see buffer.OfferChunk/Write),
// never per byte-range view.
func (c *Chunk) Retain() {
	c.refs.Add(1)
}

// Release decrements the reference count. When it reaches zero the chunk is
// handed back to its pool (if any); wrapped/foreign chunks (pool == nil)
// are simply dropped. Callers must call Release exactly once per
// drain/flush/dispose traversal step, matching Retain one-for-one.
func (c *Chunk) Release() {
	if n := c.refs.Add(-1); n == 0 {
		if c.pool != nil {
			c.pool.reclaim(c)
		}
	} else if n < 0 {
		// Defensive: a double-release is a caller bug, not a pool bug.
		// Restore to zero so a subsequent legitimate release doesn't
		// drive the counter further negative.
		c.refs.Store(0)
	}
}
