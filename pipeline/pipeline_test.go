package pipeline

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corvidlabs/gds/buffer"
	"github.com/corvidlabs/gds/channel"
	"github.com/corvidlabs/gds/pool"
)

// fakeChannel is a minimal channel.Channel stub for pipeline tests, not a
// real network adapter (the conn package owns that).
type fakeChannel struct {
	p *pool.Pool
	channel.AttrMap
	channel.ModuleMap
}

func newFakeChannel() *fakeChannel { return &fakeChannel{p: pool.New()} }

func (f *fakeChannel) BufferPool() *pool.Pool { return f.p }
func (f *fakeChannel) Send(ctx context.Context, buf *buffer.Buffer) <-chan error {
	c := make(chan error, 1)
	c <- nil
	return c
}
func (f *fakeChannel) Close(ctx context.Context) <-chan error {
	c := make(chan error, 1)
	c <- nil
	return c
}
func (f *fakeChannel) IsActive() bool       { return true }
func (f *fakeChannel) State() channel.State { return channel.StateActive }
func (f *fakeChannel) Protocol() string     { return "tcp" }
func (f *fakeChannel) LocalAddr() net.Addr  { return nil }
func (f *fakeChannel) RemoteAddr() net.Addr { return nil }

var _ channel.Channel = (*fakeChannel)(nil)

func TestTypedDispatchOnlyMatchingType(t *testing.T) {
	p := New()
	var gotString, gotInt bool

	p.Incoming.AddLast(Typed(func(ch channel.Channel, s *string) error {
		gotString = true
		return nil
	}))
	p.Incoming.AddLast(Typed(func(ch channel.Channel, n *int) error {
		gotInt = true
		return nil
	}))

	ch := newFakeChannel()
	p.FireIncoming(ch, "hello")
	require.True(t, gotString)
	require.False(t, gotInt)
}

func TestHandlerCanReplaceMessage(t *testing.T) {
	p := New()
	p.Incoming.AddLast(Typed(func(ch channel.Channel, s *string) error {
		*s = *s + "-first"
		return nil
	}))
	var seenSecond string
	p.Incoming.AddLast(Typed(func(ch channel.Channel, s *string) error {
		seenSecond = *s
		return nil
	}))

	ch := newFakeChannel()
	out := p.FireIncoming(ch, "msg")
	require.Equal(t, "msg-first", out)
	require.Equal(t, "msg-first", seenSecond)
}

func TestOrderingAddFirstLastBeforeAfter(t *testing.T) {
	p := New()
	var order []string
	record := func(name string) TypedHandler {
		return Typed(func(ch channel.Channel, s *string) error {
			order = append(order, name)
			return nil
		})
	}

	hB := p.Incoming.AddLast(record("b"))
	p.Incoming.AddFirst(record("a"))
	hD, _ := p.Incoming.AddAfter(hB, record("d"))
	p.Incoming.AddBefore(hD, record("c"))

	ch := newFakeChannel()
	p.FireIncoming(ch, "x")
	require.Equal(t, []string{"a", "b", "c", "d"}, order)
}

func TestRemove(t *testing.T) {
	p := New()
	var fired bool
	h := p.Incoming.AddLast(Typed(func(ch channel.Channel, s *string) error {
		fired = true
		return nil
	}))
	require.True(t, p.Incoming.Remove(h))
	require.False(t, p.Incoming.Remove(h))

	p.FireIncoming(newFakeChannel(), "x")
	require.False(t, fired)
}

func TestHandlerErrorIsSwallowed(t *testing.T) {
	p := New()
	var secondRan bool
	p.Incoming.AddLast(Typed(func(ch channel.Channel, s *string) error {
		return errBoom
	}))
	p.Incoming.AddLast(Typed(func(ch channel.Channel, s *string) error {
		secondRan = true
		return nil
	}))
	p.FireIncoming(newFakeChannel(), "x")
	require.True(t, secondRan)
}

func TestHandlerPanicIsRecovered(t *testing.T) {
	p := New()
	var secondRan bool
	p.Incoming.AddLast(Typed(func(ch channel.Channel, s *string) error {
		panic("boom")
	}))
	p.Incoming.AddLast(Typed(func(ch channel.Channel, s *string) error {
		secondRan = true
		return nil
	}))
	p.FireIncoming(newFakeChannel(), "x")
	require.True(t, secondRan)
}

func TestCloneSharesNoMutableState(t *testing.T) {
	template := New()
	template.Incoming.AddLast(Typed(func(ch channel.Channel, s *string) error { return nil }))

	clone := template.Clone()
	clone.Incoming.AddLast(Typed(func(ch channel.Channel, s *string) error { return nil }))

	require.Len(t, template.Incoming.entries, 1)
	require.Len(t, clone.Incoming.entries, 2)
}

func TestIngressEgressDisjoint(t *testing.T) {
	p := New()
	var incomingFired, outgoingFired bool
	p.Incoming.AddLast(Typed(func(ch channel.Channel, s *string) error {
		incomingFired = true
		return nil
	}))
	p.Outgoing.AddLast(Typed(func(ch channel.Channel, s *string) error {
		outgoingFired = true
		return nil
	}))

	ch := newFakeChannel()
	p.FireOutgoing(ch, "x")
	require.False(t, incomingFired)
	require.True(t, outgoingFired)
}

type testErr string

func (e testErr) Error() string { return string(e) }

const errBoom = testErr("boom")
