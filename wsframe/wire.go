package wsframe

import (
	"encoding/binary"
	"math"

	"github.com/corvidlabs/gds/buffer"
	"github.com/corvidlabs/gds/gdserr"
	"github.com/corvidlabs/gds/pool"
)

// readExact reads exactly n bytes off buf, reporting false (and leaving buf
// untouched from the caller's point of view — the caller is expected to have
// snapshotted already) if fewer than n bytes were available.
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

// decodeOne parses exactly one wire frame from buf's current read cursor. On
// insufficient bytes it rewinds buf to the snapshot taken at entry and
// returns gdserr.ErrIncompleteFrame, so the caller can retry once more bytes
// arrive without losing any already-buffered data.
func decodeOne(buf *buffer.Buffer) (*Frame, error) {
	snap := buf.Snapshot()

	hdr, ok := readExact(buf, 2)
	if !ok {
		buf.Restore(snap)
		return nil, gdserr.ErrIncompleteFrame
	}
	b0, b1 := hdr[0], hdr[1]

	f := &Frame{
		Fin:    b0&0x80 != 0,
		RSV1:   b0&0x40 != 0,
		RSV2:   b0&0x20 != 0,
		RSV3:   b0&0x10 != 0,
		Opcode: Opcode(b0 & 0x0F),
	}
	if !f.Opcode.valid() {
		return nil, &gdserr.ProtocolError{Reason: "unknown-opcode"}
	}

	masked := b1&0x80 != 0
	len7 := b1 & 0x7F

	var payloadLen uint64
	switch {
	case len7 < 126:
		payloadLen = uint64(len7)
	case len7 == 126:
		ext, ok := readExact(buf, 2)
		if !ok {
			buf.Restore(snap)
			return nil, gdserr.ErrIncompleteFrame
		}
		payloadLen = uint64(binary.BigEndian.Uint16(ext))
	default: // 127
		ext, ok := readExact(buf, 8)
		if !ok {
			buf.Restore(snap)
			return nil, gdserr.ErrIncompleteFrame
		}
		payloadLen = binary.BigEndian.Uint64(ext)
	}
	if payloadLen > math.MaxInt32 {
		return nil, &gdserr.ProtocolError{Reason: "payload-too-large"}
	}

	var key [4]byte
	if masked {
		k, ok := readExact(buf, 4)
		if !ok {
			buf.Restore(snap)
			return nil, gdserr.ErrIncompleteFrame
		}
		copy(key[:], k)
	}

	var payload []byte
	if payloadLen > 0 {
		p, ok := readExact(buf, int(payloadLen))
		if !ok {
			buf.Restore(snap)
			return nil, gdserr.ErrIncompleteFrame
		}
		payload = p
	}

	if masked {
		applyMask(payload, key)
		f.Mask = &key
	}
	f.Payload = payload
	return f, nil
}

// Encode serializes f to a fresh chunked buffer borrowed from p: header,
// optional extended length, optional mask key, then the (masked, if Mask is
// set) payload.
func Encode(f *Frame, p *pool.Pool) (*buffer.Buffer, error) {
	header := make([]byte, 0, 14)

	b0 := byte(f.Opcode) & 0x0F
	if f.Fin {
		b0 |= 0x80
	}
	if f.RSV1 {
		b0 |= 0x40
	}
	if f.RSV2 {
		b0 |= 0x20
	}
	if f.RSV3 {
		b0 |= 0x10
	}
	header = append(header, b0)

	length := len(f.Payload)
	var b1 byte
	if f.Mask != nil {
		b1 |= 0x80
	}
	switch {
	case length < 126:
		header = append(header, b1|byte(length))
	case length <= math.MaxUint16:
		header = append(header, b1|126)
		var ext [2]byte
		binary.BigEndian.PutUint16(ext[:], uint16(length))
		header = append(header, ext[:]...)
	default:
		header = append(header, b1|127)
		var ext [8]byte
		binary.BigEndian.PutUint64(ext[:], uint64(length))
		header = append(header, ext[:]...)
	}

	payload := f.Payload
	if f.Mask != nil {
		key := *f.Mask
		header = append(header, key[:]...)
		masked := make([]byte, len(payload))
		copy(masked, payload)
		applyMask(masked, key)
		payload = masked
	}

	buf := buffer.New(p)
	if _, err := buf.Write(header, 0, len(header)); err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		if _, err := buf.Write(payload, 0, len(payload)); err != nil {
			return nil, err
		}
	}
	return buf, nil
}
