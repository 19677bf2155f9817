// Package conn is the integration glue: a channel.Channel implementation
// wrapping a net.Conn, owning a per-connection pipeline cloned from a
// shared template and a receive-side accumulation buffer. This is the only
// library package that imports both channel and pipeline (spec §4.7's Channel
// contract deliberately omits a pipeline accessor to keep channel a leaf
// package), the same way the teacher's serverConn is the one type that
// wires together Framer, hpack, and the stream table.
package conn

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/corvidlabs/gds/buffer"
	"github.com/corvidlabs/gds/channel"
	"github.com/corvidlabs/gds/gdserr"
	"github.com/corvidlabs/gds/internal/neterr"
	"github.com/corvidlabs/gds/pipeline"
	"github.com/corvidlabs/gds/pool"
)

// Decoder parses as many complete protocol messages as buf currently holds.
// wsframe.Codec.DecodeAll and gds.Codec.DecodeAll are adapted to this shape
// by the caller installing the handshake-selected codec.
type Decoder func(buf *buffer.Buffer) ([]pipeline.Message, error)

// Conn is a TCP-backed channel.Channel: send/close futures, endpoints, the
// module and attribute maps, and a cloned per-connection pipeline.
type Conn struct {
	channel.AttrMap
	channel.ModuleMap

	nc   net.Conn
	pool *pool.Pool
	pipe *pipeline.Pipeline
	log  zerolog.Logger

	state atomic.Int32 // channel.State

	recvMu  sync.Mutex
	recvBuf *buffer.Buffer

	sendMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
	decodeMu  sync.Mutex // serializes receive-side dispatch (spec §5)
}

// Option configures a Conn at construction.
type Option func(*Conn)

// WithLogger attaches a logger for receive-loop and close diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Conn) { c.log = l }
}

// New wraps nc as an active channel, cloning template into this
// connection's own pipeline and firing the opened chain.
func New(nc net.Conn, p *pool.Pool, template *pipeline.Pipeline, opts ...Option) *Conn {
	c := &Conn{
		nc:      nc,
		pool:    p,
		pipe:    template.Clone(),
		log:     zerolog.Nop(),
		recvBuf: buffer.New(p),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.state.Store(int32(channel.StateActive))
	c.pipe.FireOpened(c)
	return c
}

// Pipeline returns this connection's cloned pipeline, for installing or
// removing handlers (e.g. the handshake module swapping the HTTP
// collaborator out for the negotiated frame codec on upgrade).
func (c *Conn) Pipeline() *pipeline.Pipeline { return c.pipe }

func (c *Conn) BufferPool() *pool.Pool { return c.pool }

func (c *Conn) IsActive() bool { return channel.State(c.state.Load()) == channel.StateActive }

func (c *Conn) State() channel.State { return channel.State(c.state.Load()) }

func (c *Conn) Protocol() string { return "tcp" }

func (c *Conn) LocalAddr() net.Addr  { return c.nc.LocalAddr() }
func (c *Conn) RemoteAddr() net.Addr { return c.nc.RemoteAddr() }

// Send drains buf onto the wire synchronously, reporting the outcome on the
// returned channel (a single value, per the Channel contract). Send fails
// fast with ErrChannelClosed if the channel isn't active.
func (c *Conn) Send(ctx context.Context, buf *buffer.Buffer) <-chan error {
	result := make(chan error, 1)
	if !c.IsActive() {
		result <- fmt.Errorf("conn: %w", gdserr.ErrChannelClosed)
		return result
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if dl, ok := ctx.Deadline(); ok {
		_ = c.nc.SetWriteDeadline(dl)
	}
	err := buf.DrainSync(c.nc)
	if err != nil {
		if !c.IsActive() {
			err = fmt.Errorf("conn: write: %w: %w", gdserr.ErrChannelClosed, err)
		} else {
			err = fmt.Errorf("conn: write: %w", err)
		}
	}
	result <- err
	return result
}

// SendMessage walks the outgoing pipeline chain starting from msg and sends
// whatever buffer the chain produces. Handlers that translate a typed frame
// (e.g. a *wsframe.Frame or *gds.Frame) into wire bytes are expected to
// replace msg with a *buffer.Buffer by the time the chain finishes (spec
// "On send: the codec handler transforms the typed frame into a chunked
// buffer before the channel writes it").
func (c *Conn) SendMessage(ctx context.Context, msg pipeline.Message) <-chan error {
	out := c.pipe.FireOutgoing(c, msg)
	buf, ok := out.(*buffer.Buffer)
	if !ok {
		result := make(chan error, 1)
		result <- fmt.Errorf("conn: outgoing chain did not produce a buffer (got %T): %w", out, gdserr.ErrInvalidArgument)
		return result
	}
	return c.Send(ctx, buf)
}

// Close is idempotent: it marks the channel closing, closes the underlying
// socket, disposes the receive buffer, fires the closed chain, and settles
// to closed. Subsequent Send calls fail with ErrChannelClosed.
func (c *Conn) Close(ctx context.Context) <-chan error {
	c.closeOnce.Do(func() {
		c.state.Store(int32(channel.StateClosing))
		c.closeErr = c.nc.Close()

		c.recvMu.Lock()
		c.recvBuf.Dispose()
		c.recvMu.Unlock()

		c.state.Store(int32(channel.StateClosed))
		c.pipe.FireClosed(c)
	})
	result := make(chan error, 1)
	result <- c.closeErr
	return result
}

// ReceiveOnce reads one batch of bytes off the socket, feeds it into the
// accumulation buffer, and decodes as many complete messages as decode can
// produce, dispatching each through the incoming pipeline chain in order
// (spec §5(a) wire order, serialized per channel via decodeMu). It returns
// the read error unwrapped (io.EOF when the peer closes), and any decode
// error, wrapped, is a
// malformed-frame signal the caller should treat as fatal for this
// connection.
func (c *Conn) ReceiveOnce(decode Decoder) error {
	chunk, err := c.pool.Borrow()
	if err != nil {
		return fmt.Errorf("conn: borrowing receive chunk: %w", err)
	}

	n, rerr := c.nc.Read(chunk.Bytes())
	if n > 0 {
		c.recvMu.Lock()
		offerErr := c.recvBuf.OfferChunk(chunk, 0, n)
		c.recvMu.Unlock()
		if offerErr != nil {
			_ = c.pool.Return(chunk)
			return fmt.Errorf("conn: buffering received bytes: %w", offerErr)
		}
	} else {
		_ = c.pool.Return(chunk)
	}

	if n > 0 {
		c.decodeMu.Lock()
		defer c.decodeMu.Unlock()

		c.recvMu.Lock()
		msgs, derr := decode(c.recvBuf)
		c.recvMu.Unlock()

		for _, msg := range msgs {
			c.pipe.FireIncoming(c, msg)
		}
		if derr != nil {
			return fmt.Errorf("conn: decode: %w", derr)
		}
	}

	c.condlogf(rerr)
	return rerr
}

// condlogf logs a ReceiveOnce read error at the level its severity deserves,
// the way the teacher's serverConn.condlogf downgraded "use of closed
// network connection" and friends to the verbose channel instead of
// treating every connection teardown as an operational failure.
func (c *Conn) condlogf(err error) {
	if err == nil {
		return
	}
	if neterr.IsBoringClose(err) {
		c.log.Debug().Err(err).Msg("conn: read ended")
		return
	}
	c.log.Warn().Err(err).Msg("conn: read failed")
}

var _ channel.Channel = (*Conn)(nil)
