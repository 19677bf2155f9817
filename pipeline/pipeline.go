// Package pipeline implements the ordered, lockable handler chains a
// channel dispatches opened/closed/incoming/outgoing events through.
//
// Dispatch is a runtime-type pattern match, the design note in spec §9:
// Message is simply any, and a handler registered via Typed[T] only fires
// for messages whose runtime type is assignable to T. This package never
// imports wsframe/gds/buffer/handshake — codecs import pipeline to install
// themselves, not the other way around, the same direction the teacher's
// serverConn pulls in hpack rather than hpack knowing about HTTP/2 frames.
package pipeline

import (
	"reflect"

	"github.com/rs/zerolog"

	"github.com/corvidlabs/gds/channel"
)

// Message is the payload a handler receives: an HTTP request/response, a
// *buffer.Buffer, a *wsframe.Frame, a *gds.Frame, or any caller-defined
// extension type. The pipeline never names these concretely.
type Message = any

// EventHandler handles a channel-opened or channel-closed event; there is
// no type-tag filter for these (spec §4.3).
type EventHandler func(ch channel.Channel) error

// TypedHandler wraps a generic, type-filtered handler for the incoming or
// outgoing chains. Construct one with Typed.
type TypedHandler struct {
	tag reflect.Type
	fn  func(ch channel.Channel, msg *Message) error
}

// Typed registers fn to run only when the dispatched message's runtime
// type is assignable to T (an interface type tests via Implements; a
// concrete type tests via equality) — the "handler.tag ⊒
// runtime_type(message)" test from spec §4.3. fn may replace the message by
// assigning through its *T parameter; the replacement is visible to
// subsequent handlers in the same walk.
func Typed[T any](fn func(ch channel.Channel, msg *T) error) TypedHandler {
	tag := reflect.TypeOf((*T)(nil)).Elem()
	return TypedHandler{
		tag: tag,
		fn: func(ch channel.Channel, msg *Message) error {
			v, ok := (*msg).(T)
			if !ok {
				return nil
			}
			if err := fn(ch, &v); err != nil {
				return err
			}
			*msg = Message(v)
			return nil
		},
	}
}

func (h TypedHandler) accepts(t reflect.Type) bool {
	if t == nil {
		return false
	}
	if h.tag.Kind() == reflect.Interface {
		return t.Implements(h.tag)
	}
	return t == h.tag
}

// Pipeline owns the four ordered handler chains for a channel: opened,
// closed, incoming, outgoing. Each chain has its own lock (spec §5); a
// Pipeline is cloned per connection from a shared template (Clone).
type Pipeline struct {
	Opened   *orderedList[EventHandler]
	Closed   *orderedList[EventHandler]
	Incoming *orderedList[TypedHandler]
	Outgoing *orderedList[TypedHandler]

	log zerolog.Logger
}

// Option configures a Pipeline at construction.
type Option func(*Pipeline)

// WithLogger attaches a logger used to report (and swallow) handler errors
// and panics, matching the teacher's optional ErrorLog-with-fallback.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// New constructs an empty template pipeline.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		Opened:   &orderedList[EventHandler]{},
		Closed:   &orderedList[EventHandler]{},
		Incoming: &orderedList[TypedHandler]{},
		Outgoing: &orderedList[TypedHandler]{},
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Clone returns a per-connection copy preserving handler ordering; the
// clone shares no mutable state with the template (spec §4.3 clone
// semantics), so installing/removing handlers on one never affects the
// other.
func (p *Pipeline) Clone() *Pipeline {
	return &Pipeline{
		Opened:   p.Opened.clone(),
		Closed:   p.Closed.clone(),
		Incoming: p.Incoming.clone(),
		Outgoing: p.Outgoing.clone(),
		log:      p.log,
	}
}

func (p *Pipeline) logHandlerErr(event string) func(Handle, error) {
	return func(id Handle, err error) {
		p.log.Error().Err(err).Str("event", event).Uint64("handler", uint64(id)).
			Msg("pipeline: handler error swallowed, chain continues")
	}
}

// FireOpened walks the opened chain. Errors/panics from a handler are
// logged and swallowed; the walk always completes.
func (p *Pipeline) FireOpened(ch channel.Channel) {
	p.Opened.Walk(func(h EventHandler) error { return h(ch) }, p.logHandlerErr("opened"))
}

// FireClosed walks the closed chain, same contract as FireOpened.
func (p *Pipeline) FireClosed(ch channel.Channel) {
	p.Closed.Walk(func(h EventHandler) error { return h(ch) }, p.logHandlerErr("closed"))
}

// FireIncoming walks the incoming chain starting from msg, returning the
// (possibly replaced) message after every matching handler has run.
// Ordering within one channel is wire order (spec §5): callers are
// responsible for serializing calls per channel (the conn package's
// receive loop does this).
func (p *Pipeline) FireIncoming(ch channel.Channel, msg Message) Message {
	p.Incoming.Walk(func(h TypedHandler) error {
		if !h.accepts(reflect.TypeOf(msg)) {
			return nil
		}
		return h.fn(ch, &msg)
	}, p.logHandlerErr("incoming"))
	return msg
}

// FireOutgoing walks the outgoing chain starting from msg, same contract
// as FireIncoming. The outgoing chain is walked to completion before bytes
// are handed to the transport (spec §5(b)).
func (p *Pipeline) FireOutgoing(ch channel.Channel, msg Message) Message {
	p.Outgoing.Walk(func(h TypedHandler) error {
		if !h.accepts(reflect.TypeOf(msg)) {
			return nil
		}
		return h.fn(ch, &msg)
	}, p.logHandlerErr("outgoing"))
	return msg
}
