// Package pool implements the reusable byte-chunk factory the
// chunked buffer borrows from: fixed-size arrays, explicit borrow/return,
// per-chunk reference counting, and finalizer-assisted reclamation of chunks
// a caller abandons without returning.
//
// Modeled on the teacher's habit of a small struct plus functional options
// (http2's Server{MaxStreams int} / ConfigureServer) rather than a package
// of free functions, and on the pack's runtime.SetFinalizer idiom
// (coder-websocket's Conn, SagerNet/smux's Stream) for GC-assisted cleanup.
package pool

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/corvidlabs/gds/gdserr"
)

// DefaultChunkSize is the default fixed chunk size in bytes (spec §2).
const DefaultChunkSize = 1024

// Pool is a thread-safe, fixed-size chunk factory with explicit
// borrow/return and GC-assisted leak reclamation.
type Pool struct {
	chunkSize int
	log       zerolog.Logger

	mu   sync.Mutex
	free []*Chunk

	// live tracks chunk ids currently checked out (borrowed, not yet
	// returned), mapping id -> struct{} only — never the chunk pointer
	// itself, so holding an entry here can never pin the chunk against
	// GC. This is the "weak-reference table" spec §4.1 asks for.
	live sync.Map

	nextID         atomic.Uint64
	totalAllocated atomic.Int64
	leaked         atomic.Int64
	closed         atomic.Bool
}

// Option configures a Pool at construction.
type Option func(*Pool)

// WithChunkSize overrides DefaultChunkSize.
func WithChunkSize(n int) Option {
	return func(p *Pool) { p.chunkSize = n }
}

// WithLogger attaches a logger for pool-accounting warnings (leaked chunks,
// double-returns). Defaults to a no-op logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Pool) { p.log = l }
}

// New constructs a Pool. With no options it allocates DefaultChunkSize
// chunks and logs nothing.
func New(opts ...Option) *Pool {
	p := &Pool{
		chunkSize: DefaultChunkSize,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.chunkSize <= 0 {
		p.chunkSize = DefaultChunkSize
	}
	return p
}

// ChunkSize returns the fixed size of chunks this pool vends.
func (p *Pool) ChunkSize() int { return p.chunkSize }

// Stats reports pool-wide counters for observability (spec §4.1).
type Stats struct {
	TotalAllocated int64 // chunks ever allocated, minus ones reclaimed as leaked
	InPool         int64 // chunks currently sitting on the free list
	Leaked         int64 // chunks reclaimed by the finalizer sweep, lifetime count
}

// Stats returns a snapshot of the pool's counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	inPool := int64(len(p.free))
	p.mu.Unlock()
	return Stats{
		TotalAllocated: p.totalAllocated.Load(),
		InPool:         inPool,
		Leaked:         p.leaked.Load(),
	}
}

// Borrow returns a chunk in StateUsed with a reference count of zero, either
// freshly allocated or reused from the free list (StateReturned ->
// StateUsed, counter reset to zero).
func (p *Pool) Borrow() (*Chunk, error) {
	if p.closed.Load() {
		return nil, fmt.Errorf("pool: %w", gdserr.ErrObjectDisposed)
	}

	p.mu.Lock()
	var c *Chunk
	if n := len(p.free); n > 0 {
		c = p.free[n-1]
		p.free = p.free[:n-1]
	}
	p.mu.Unlock()

	if c == nil {
		c = &Chunk{
			data: make([]byte, p.chunkSize),
			pool: p,
			id:   p.nextID.Add(1),
		}
		p.totalAllocated.Add(1)
		c.state.Store(StateUsed)
	} else if !c.state.CAS(StateReturned, StateUsed) {
		return nil, fmt.Errorf("pool: chunk %d in state %s: %w", c.id, c.state.Load(), gdserr.ErrInvalidArgument)
	}
	c.refs.Store(0)

	p.live.Store(c.id, struct{}{})
	runtime.SetFinalizer(c, p.leakSweep)

	return c, nil
}

// Return gives a chunk back to its pool's free list. It requires the chunk
// currently be StateUsed. Returning an already-StateReturned chunk is an
// error (a caller double-return bug); returning a StateDisposed chunk (one
// that sat on the free list when the pool was closed, or was returned after
// the close) is silently ignored. A StateUsed chunk returned after the
// close becomes StateDisposed instead of rejoining the free list.
func (p *Pool) Return(c *Chunk) error {
	if c.pool != p {
		return fmt.Errorf("pool: chunk belongs to a different pool: %w", gdserr.ErrInvalidArgument)
	}

	switch c.state.Load() {
	case StateDisposed:
		return nil
	case StateReturned:
		return fmt.Errorf("pool: chunk %d already returned: %w", c.id, gdserr.ErrInvalidArgument)
	}

	if !c.state.CAS(StateUsed, StateReturned) {
		return fmt.Errorf("pool: chunk %d not in used state: %w", c.id, gdserr.ErrInvalidArgument)
	}

	p.live.Delete(c.id)
	runtime.SetFinalizer(c, nil)

	if p.closed.Load() {
		c.state.Store(StateDisposed)
		return nil
	}

	p.mu.Lock()
	p.free = append(p.free, c)
	p.mu.Unlock()
	return nil
}

// reclaim is the automatic counterpart of Return, invoked when a chunk's
// reference count drops to zero via Chunk.Release. Pool accounting leaks
// (a chunk somehow not StateUsed at refcount zero) are logged, not failed,
// per spec §7.
func (p *Pool) reclaim(c *Chunk) {
	if err := p.Return(c); err != nil {
		p.log.Warn().Err(err).Uint64("chunk_id", c.id).Msg("pool accounting: release of chunk in unexpected state")
	}
}

// leakSweep is armed as c's finalizer while it is checked out. If it fires,
// the caller abandoned the chunk without returning it: the chunk (and its
// backing array) is being garbage collected, so it can never rejoin the
// free list. Discount it from TotalAllocated and bump the leaked counter.
func (p *Pool) leakSweep(c *Chunk) {
	if _, stillLive := p.live.LoadAndDelete(c.id); !stillLive {
		return
	}
	p.totalAllocated.Add(-1)
	p.leaked.Add(1)
	p.log.Warn().Uint64("chunk_id", c.id).Msg("pool: reclaimed leaked chunk via finalizer")
}

// Close shuts the pool down: every chunk currently on the free list
// transitions to StateDisposed, and any chunk still checked out transitions
// to StateDisposed the moment it is returned instead of rejoining the free
// list. Close is idempotent.
func (p *Pool) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	p.mu.Lock()
	free := p.free
	p.free = nil
	p.mu.Unlock()

	for _, c := range free {
		c.state.Store(StateDisposed)
	}
}
