package gds

import (
	"errors"

	"github.com/corvidlabs/gds/buffer"
	"github.com/corvidlabs/gds/gdserr"
	"github.com/corvidlabs/gds/pool"
)

// Codec is the handler-facing entry point for GDS: decode as many complete
// frames as are currently buffered (reassembling per-stream fragments) and
// encode outgoing frames to a pooled buffer.
type Codec struct {
	pool    *pool.Pool
	streams *StreamTable
}

func NewCodec(p *pool.Pool) *Codec {
	return &Codec{pool: p, streams: NewStreamTable()}
}

// DecodeAll parses as many complete GDS frames as buf currently holds,
// folding fragments through the stream table. It stops cleanly once the
// next frame is incomplete, leaving buf's cursor positioned after the last
// fully-consumed frame. A malformed frame aborts the loop and returns the
// frames decoded so far alongside the error.
func (c *Codec) DecodeAll(buf *buffer.Buffer) ([]*Frame, error) {
	var out []*Frame
	for {
		f, err := decodeOne(buf, c.pool)
		if err != nil {
			if errors.Is(err, gdserr.ErrIncompleteFrame) {
				return out, nil
			}
			return out, err
		}
		merged, err := c.streams.Feed(f, c.pool)
		if err != nil {
			return out, err
		}
		if merged != nil {
			out = append(out, merged)
		}
	}
}

// Encode serializes f to a fresh buffer borrowed from the codec's pool.
func (c *Codec) Encode(f *Frame) (*buffer.Buffer, error) {
	return Encode(f, c.pool)
}
