package gds

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"

	"github.com/corvidlabs/gds/buffer"
	"github.com/corvidlabs/gds/gdserr"
)

// encodeHeadersRaw serializes h as a sequence of count entries: 16-bit key
// length, 16-bit value length, key bytes (UTF-8), value bytes.
func encodeHeadersRaw(h *Headers) []byte {
	var buf bytes.Buffer
	h.Range(func(key string, value []byte) {
		var lens [4]byte
		binary.BigEndian.PutUint16(lens[0:2], uint16(len(key)))
		binary.BigEndian.PutUint16(lens[2:4], uint16(len(value)))
		buf.Write(lens[:])
		buf.WriteString(key)
		buf.Write(value)
	})
	return buf.Bytes()
}

// encodeHeadersBlock builds the descriptor word plus the (optionally
// DEFLATE-compressed) headers body, the payload written after a GDS frame's
// 32-bit header when the type carries headers.
func encodeHeadersBlock(h *Headers, compressed bool) ([]byte, error) {
	raw := encodeHeadersRaw(h)

	var descriptor uint16
	count := h.Len()
	if count > 0x7FFF {
		return nil, fmt.Errorf("gds: too many headers: %w", gdserr.ErrInvalidArgument)
	}
	descriptor = uint16(count)

	body := raw
	if compressed {
		descriptor |= 0x8000
		var compBuf bytes.Buffer
		w, err := flate.NewWriter(&compBuf, flate.DefaultCompression)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(raw); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		body = compBuf.Bytes()
	}

	out := make([]byte, 2+len(body))
	binary.BigEndian.PutUint16(out[0:2], descriptor)
	copy(out[2:], body)
	return out, nil
}

// byteReader adapts buffer.Buffer to io.ByteReader, reading one byte at a
// time. Presenting io.ByteReader to flate.NewReader keeps it from wrapping
// the source in its own internal bufio.Reader, which would pull input far
// past the end of the DEFLATE stream (compress/flate reads ahead in large
// chunks by default) and leave the buffer's cursor positioned inside the
// following body bytes instead of right after the header block. Reading
// one byte at a time means the buffer's read cursor lands exactly at the
// end of the compressed stream once the final block is decoded, with
// nothing left to rewind.
type byteReader struct {
	buf *buffer.Buffer
}

func (r *byteReader) ReadByte() (byte, error) {
	var b [1]byte
	k, err := r.buf.Read(b[:])
	if k == 0 {
		if err == nil {
			err = io.EOF
		}
		return 0, err
	}
	return b[0], nil
}

func (r *byteReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	p[0] = b
	return 1, nil
}

// decodeHeadersBlock reads the descriptor word then count entries (raw or
// DEFLATE-decompressed per the descriptor's compressed bit) off buf.
func decodeHeadersBlock(buf *buffer.Buffer) (*Headers, error) {
	descBytes, ok := readExact(buf, 2)
	if !ok {
		return nil, gdserr.ErrIncompleteFrame
	}
	descriptor := binary.BigEndian.Uint16(descBytes)
	compressed := descriptor&0x8000 != 0
	count := int(descriptor & 0x7FFF)

	h := NewHeaders()
	if count == 0 {
		return h, nil
	}

	if !compressed {
		for i := 0; i < count; i++ {
			lenBytes, ok := readExact(buf, 4)
			if !ok {
				return nil, gdserr.ErrIncompleteFrame
			}
			klen := int(binary.BigEndian.Uint16(lenBytes[0:2]))
			vlen := int(binary.BigEndian.Uint16(lenBytes[2:4]))
			kv, ok := readExact(buf, klen+vlen)
			if !ok {
				return nil, gdserr.ErrIncompleteFrame
			}
			h.Set(string(kv[:klen]), append([]byte(nil), kv[klen:]...))
		}
		return h, nil
	}

	snap := buf.Snapshot()
	src := &byteReader{buf: buf}
	zr := flate.NewReader(src)
	defer zr.Close()

	for i := 0; i < count; i++ {
		var lens [4]byte
		if _, err := io.ReadFull(zr, lens[:]); err != nil {
			buf.Restore(snap)
			return nil, classifyFlateErr(err)
		}
		klen := int(binary.BigEndian.Uint16(lens[0:2]))
		vlen := int(binary.BigEndian.Uint16(lens[2:4]))
		kv := make([]byte, klen+vlen)
		if _, err := io.ReadFull(zr, kv); err != nil {
			buf.Restore(snap)
			return nil, classifyFlateErr(err)
		}
		h.Set(string(kv[:klen]), append([]byte(nil), kv[klen:]...))
	}
	// Run the decompressor to its end-of-stream marker so any trailing
	// (e.g. empty final) block is consumed off buf as well.
	if _, err := io.Copy(io.Discard, zr); err != nil {
		buf.Restore(snap)
		return nil, classifyFlateErr(err)
	}
	return h, nil
}

// classifyFlateErr distinguishes "ran out of input" (the wire just hasn't
// delivered the rest of the compressed block yet, a retryable
// incomplete-frame) from a genuinely corrupt DEFLATE stream (malformed).
func classifyFlateErr(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return gdserr.ErrIncompleteFrame
	}
	return fmt.Errorf("gds: compressed headers corrupt: %w", gdserr.ErrMalformedFrame)
}
