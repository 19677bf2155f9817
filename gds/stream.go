package gds

import (
	"sync"

	"github.com/corvidlabs/gds/buffer"
	"github.com/corvidlabs/gds/pool"
)

// pendingStream is the per-stream aggregation state for a content frame
// sequence not yet complete (spec §3 "Stream Continuation State").
type pendingStream struct {
	headers  *Headers
	body     *buffer.Buffer
	lastType Type
}

// StreamTable holds the per-connection map of in-progress fragmented GDS
// streams, keyed by stream id. A content frame with complete=false enters
// the table; subsequent fragments for the same id merge headers
// (last-writer-wins) and append body bytes; complete=true emits the
// aggregated frame and removes the entry, freeing the stream id for reuse.
type StreamTable struct {
	mu      sync.Mutex
	pending map[uint32]*pendingStream
}

func NewStreamTable() *StreamTable {
	return &StreamTable{pending: make(map[uint32]*pendingStream)}
}

// Feed folds f into the stream's aggregation state. Control frames
// (Ping/Pong/Close) always pass straight through since they carry no
// headers or body and are always complete. For content frames, Feed returns
// the merged frame once f.Complete is true; otherwise it buffers f and
// returns nil.
func (t *StreamTable) Feed(f *Frame, p *pool.Pool) (*Frame, error) {
	if !f.Type.hasHeaders() && !f.Type.hasBody() {
		return f, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	ps, ok := t.pending[f.StreamID]
	if !ok {
		ps = &pendingStream{headers: NewHeaders(), body: buffer.New(p)}
		t.pending[f.StreamID] = ps
	}
	ps.lastType = f.Type

	if f.Headers != nil {
		ps.headers.Merge(f.Headers)
	}
	if f.Body != nil {
		if err := appendBody(ps.body, f.Body); err != nil {
			return nil, err
		}
	}

	if !f.Complete {
		return nil, nil
	}

	delete(t.pending, f.StreamID)

	out := &Frame{
		Complete: true,
		Type:     TypeFull,
		StreamID: f.StreamID,
	}
	if ps.headers.Len() > 0 {
		out.Headers = ps.headers
	}
	if ps.body.Available() > 0 {
		out.Body = ps.body
	}
	switch {
	case out.Headers != nil && out.Body != nil:
		out.Type = TypeFull
	case out.Headers != nil:
		out.Type = TypeHeadersOnly
	default:
		out.Type = TypeBodyOnly
		if out.Body == nil {
			out.Body = ps.body
		}
	}
	return out, nil
}

// appendBody copies every currently-available byte of src into dst, leaving
// src's own read cursor advanced (src is the just-decoded fragment body,
// owned solely by the aggregation step, not reused afterward).
func appendBody(dst, src *buffer.Buffer) error {
	chunk := make([]byte, 32*1024)
	for {
		n, err := src.Read(chunk)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		if _, err := dst.Write(chunk[:n], 0, n); err != nil {
			return err
		}
	}
}
