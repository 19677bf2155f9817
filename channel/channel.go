// Package channel defines the channel contract the pipeline and codecs
// consume: buffer-pool access, send/close futures, endpoints, module and
// attribute bookkeeping. Socket acquisition, TLS, and DNS are external
// collaborators out of scope for this package (spec §1/§4.7) — Channel is
// an interface only here; a concrete net.Conn-backed implementation lives
// in the sibling conn package, which also owns the per-connection pipeline
// instance, keeping this package free of any dependency on pipeline.
package channel

import (
	"context"
	"net"
	"sync"

	"github.com/corvidlabs/gds/buffer"
	"github.com/corvidlabs/gds/pool"
)

// State is the channel's lifecycle tag.
type State int

const (
	StateIdle State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Channel is the contract the pipeline and every codec/handshake module
// acts on (spec §4.7). Nothing in this package opens sockets; an
// implementation is expected to wrap a net.Conn or equivalent.
type Channel interface {
	// BufferPool returns the pool this channel's buffers are borrowed
	// from.
	BufferPool() *pool.Pool

	// Send submits buf for writing and returns a channel that receives
	// exactly one value: nil on success, or an error (ErrChannelClosed
	// if the channel closes mid-send).
	Send(ctx context.Context, buf *buffer.Buffer) <-chan error

	// Close requests the channel close. It is idempotent; the returned
	// channel receives exactly one value once the close completes.
	Close(ctx context.Context) <-chan error

	IsActive() bool
	State() State
	Protocol() string

	LocalAddr() net.Addr
	RemoteAddr() net.Addr

	// Modules lets collaborators (e.g. the handshake module installing
	// the WebSocket codec, or uninstalling the HTTP collaborator) track
	// which protocol modules are active on this channel.
	AddModule(name string, module any)
	RemoveModule(name string) (any, bool)
	HasModule(name string) bool

	// Attr is the per-channel attribute map: concurrent, keyed by
	// string, values of any type. Reserved key prefixes are not defined
	// by the core (spec §6).
	Attr(key string) (any, bool)
	SetAttr(key string, value any)
	RemoveAttr(key string) (any, bool)
}

// AttrMap is a concurrent string-keyed attribute map: Get is lock-free,
// Set/Remove are atomic, matching spec §5's shared-resource policy for
// per-channel attributes (method names match the Channel interface so a
// concrete implementation can embed AttrMap to satisfy Attr/SetAttr/
// RemoveAttr directly).
type AttrMap struct {
	m sync.Map
}

func (a *AttrMap) Attr(key string) (any, bool) { return a.m.Load(key) }
func (a *AttrMap) SetAttr(key string, value any) { a.m.Store(key, value) }
func (a *AttrMap) RemoveAttr(key string) (any, bool) {
	return a.m.LoadAndDelete(key)
}

// ModuleMap is the same concurrent map shape, reused for per-channel
// protocol module bookkeeping (AddModule/RemoveModule/HasModule).
type ModuleMap struct {
	m sync.Map
}

func (m *ModuleMap) AddModule(name string, module any) { m.m.Store(name, module) }
func (m *ModuleMap) RemoveModule(name string) (any, bool) {
	return m.m.LoadAndDelete(name)
}
func (m *ModuleMap) HasModule(name string) bool {
	_, ok := m.m.Load(name)
	return ok
}
