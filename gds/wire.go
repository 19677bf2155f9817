package gds

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/corvidlabs/gds/buffer"
	"github.com/corvidlabs/gds/gdserr"
	"github.com/corvidlabs/gds/pool"
)

func readExact(buf *buffer.Buffer, n int) ([]byte, bool) {
	if buf.Available() < int64(n) {
		return nil, false
	}
	b := make([]byte, n)
	k, err := buf.Read(b)
	if err != nil || k != n {
		return nil, false
	}
	return b, true
}

// decodeOne parses exactly one GDS frame off buf's current read cursor,
// per §4.5/§6: a 32-bit header, then an optional headers block, then an
// optional length-prefixed body. Insufficient bytes at any stage rewinds
// buf to the entry snapshot and returns gdserr.ErrIncompleteFrame.
func decodeOne(buf *buffer.Buffer, p *pool.Pool) (*Frame, error) {
	snap := buf.Snapshot()

	hdr, ok := readExact(buf, 4)
	if !ok {
		buf.Restore(snap)
		return nil, gdserr.ErrIncompleteFrame
	}
	word := binary.BigEndian.Uint32(hdr)

	f := &Frame{
		Complete: word&0x80000000 != 0,
		Type:     Type((word >> 24) & 0x0F),
		StreamID: word & 0x00FFFFFF,
	}
	if !f.Type.valid() {
		return nil, fmt.Errorf("gds: %w", &gdserr.ProtocolError{Reason: "invalid-type", StreamID: f.StreamID})
	}

	if f.Type.hasHeaders() {
		h, err := decodeHeadersBlock(buf)
		if err != nil {
			if err == gdserr.ErrIncompleteFrame {
				buf.Restore(snap)
			}
			return nil, err
		}
		f.Headers = h
	}

	if f.Type.hasBody() {
		lenBytes, ok := readExact(buf, 4)
		if !ok {
			buf.Restore(snap)
			return nil, gdserr.ErrIncompleteFrame
		}
		bodyLen := binary.BigEndian.Uint32(lenBytes)
		if bodyLen > math.MaxInt32 {
			return nil, fmt.Errorf("gds: %w", &gdserr.ProtocolError{Reason: "body-too-large", StreamID: f.StreamID})
		}
		if buf.Available() < int64(bodyLen) {
			buf.Restore(snap)
			return nil, gdserr.ErrIncompleteFrame
		}
		body := buffer.New(p)
		var copied int64
		chunk := make([]byte, 32*1024)
		for copied < int64(bodyLen) {
			want := int64(len(chunk))
			if remain := int64(bodyLen) - copied; remain < want {
				want = remain
			}
			n, err := buf.Read(chunk[:want])
			if err != nil {
				buf.Restore(snap)
				return nil, err
			}
			if n == 0 {
				buf.Restore(snap)
				return nil, gdserr.ErrIncompleteFrame
			}
			if _, err := body.Write(chunk[:n], 0, n); err != nil {
				buf.Restore(snap)
				return nil, err
			}
			copied += int64(n)
		}
		f.Body = body
	}

	return f, nil
}

// Encode serializes f to a fresh chunked buffer: the 32-bit header, then the
// headers block (descriptor plus raw-or-compressed body) if f.Type carries
// headers, then the 32-bit body length and body bytes if it carries one.
func Encode(f *Frame, p *pool.Pool) (*buffer.Buffer, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}

	var word uint32
	if f.Complete {
		word |= 0x80000000
	}
	word |= uint32(f.Type&0x0F) << 24
	word |= f.StreamID & 0x00FFFFFF

	out := buffer.New(p)
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], word)
	if _, err := out.Write(hdr[:], 0, 4); err != nil {
		return nil, err
	}

	if f.Type.hasHeaders() {
		block, err := encodeHeadersBlock(f.Headers, f.HeadersCompressed)
		if err != nil {
			return nil, err
		}
		if _, err := out.Write(block, 0, len(block)); err != nil {
			return nil, err
		}
	}

	if f.Type.hasBody() {
		bodyLen := f.Body.Available()
		var lenBytes [4]byte
		binary.BigEndian.PutUint32(lenBytes[:], uint32(bodyLen))
		if _, err := out.Write(lenBytes[:], 0, 4); err != nil {
			return nil, err
		}
		// Encode only observes the body, it never consumes it: callers may
		// encode the same frame more than once (e.g. a retry).
		bodySnap := f.Body.Snapshot()
		chunk := make([]byte, 32*1024)
		for {
			n, err := f.Body.Read(chunk)
			if err != nil {
				f.Body.Restore(bodySnap)
				return nil, err
			}
			if n == 0 {
				break
			}
			if _, err := out.Write(chunk[:n], 0, n); err != nil {
				f.Body.Restore(bodySnap)
				return nil, err
			}
		}
		f.Body.Restore(bodySnap)
	}

	return out, nil
}
