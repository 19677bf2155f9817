package wsframe

import (
	"errors"

	"github.com/corvidlabs/gds/buffer"
	"github.com/corvidlabs/gds/gdserr"
	"github.com/corvidlabs/gds/pool"
)

// Codec is the handler-facing entry point: decode as many complete frames as
// are currently buffered, reassembling fragmented messages, and encode
// outgoing frames to a pooled buffer.
type Codec struct {
	reassemble bool
	r          *Reassembler
}

// Option configures a Codec at construction.
type Option func(*Codec)

// WithReassembly toggles continuation-frame reassembly (enabled by default).
// Disabling it is useful for tests/tools that want to observe raw wire
// frames, including continuations, one at a time.
func WithReassembly(enabled bool) Option {
	return func(c *Codec) { c.reassemble = enabled }
}

func NewCodec(opts ...Option) *Codec {
	c := &Codec{reassemble: true, r: NewReassembler()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DecodeAll parses as many complete frames as buf currently holds. It stops
// cleanly (nil error) once the next frame is incomplete, leaving buf's read
// cursor positioned right after the last fully-consumed frame — the
// remaining bytes stay buffered for the next read. A malformed frame aborts
// the loop and returns the frames decoded so far alongside the error; the
// caller should dispatch those, then close the channel.
func (c *Codec) DecodeAll(buf *buffer.Buffer) ([]*Frame, error) {
	var out []*Frame
	for {
		f, err := decodeOne(buf)
		if err != nil {
			if errors.Is(err, gdserr.ErrIncompleteFrame) {
				return out, nil
			}
			return out, err
		}
		if !c.reassemble {
			out = append(out, f)
			continue
		}
		merged, rerr := c.r.Feed(f)
		if rerr != nil {
			return out, rerr
		}
		if merged != nil {
			out = append(out, merged)
		}
	}
}

// Encode serializes f to a fresh buffer borrowed from p.
func (c *Codec) Encode(f *Frame, p *pool.Pool) (*buffer.Buffer, error) {
	return Encode(f, p)
}
