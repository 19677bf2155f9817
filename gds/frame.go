// Package gds implements the GDS (Generic Data Stream) wire codec: a
// stream-multiplexed framing protocol with an optional DEFLATE-compressed
// headers block and per-stream fragment reassembly.
//
// Like wsframe, this package is pure protocol logic over buffer.Buffer and
// never imports pipeline or channel — codecs install themselves into a
// pipeline, not the reverse.
package gds

import (
	"fmt"
	"strings"

	"github.com/corvidlabs/gds/buffer"
	"github.com/corvidlabs/gds/gdserr"
)

// Type is the 4-bit GDS frame type (spec §4.5/§6). Reserved values 0, 4-7,
// 10-14 are illegal and must fail parse with invalid-type.
type Type uint8

const (
	TypeHeadersOnly Type = 1
	TypeBodyOnly    Type = 2
	TypeFull        Type = 3
	TypePing        Type = 8
	TypePong        Type = 9
	TypeClose       Type = 15
)

func (t Type) valid() bool {
	switch t {
	case TypeHeadersOnly, TypeBodyOnly, TypeFull, TypePing, TypePong, TypeClose:
		return true
	default:
		return false
	}
}

func (t Type) hasHeaders() bool { return t == TypeHeadersOnly || t == TypeFull }
func (t Type) hasBody() bool    { return t == TypeBodyOnly || t == TypeFull }

// Headers is a case-insensitive mapping from header name to header value
// bytes, preserving the case of whichever write last set a given key.
type Headers struct {
	entries map[string]headerEntry
}

type headerEntry struct {
	key   string
	value []byte
}

// NewHeaders returns an empty header map.
func NewHeaders() *Headers {
	return &Headers{entries: make(map[string]headerEntry)}
}

// Set stores value under key, case-insensitively; a later Set with a
// differently-cased same key overwrites the value and adopts the new case.
func (h *Headers) Set(key string, value []byte) {
	h.entries[strings.ToLower(key)] = headerEntry{key: key, value: value}
}

// Get returns the value stored for key (case-insensitive) and whether it
// was present.
func (h *Headers) Get(key string) ([]byte, bool) {
	e, ok := h.entries[strings.ToLower(key)]
	if !ok {
		return nil, false
	}
	return e.value, true
}

// Len reports the number of distinct header keys.
func (h *Headers) Len() int { return len(h.entries) }

// Merge copies other's entries into h, last-writer-wins per key — the
// fragment-reassembly merge rule (spec §4.5).
func (h *Headers) Merge(other *Headers) {
	if other == nil {
		return
	}
	for _, e := range other.entries {
		h.Set(e.key, e.value)
	}
}

// Equal reports whether h and o have the same case-insensitive keys mapping
// to byte-equal values.
func (h *Headers) Equal(o *Headers) bool {
	if h == nil || o == nil {
		return h == o
	}
	if len(h.entries) != len(o.entries) {
		return false
	}
	for k, e := range h.entries {
		oe, ok := o.entries[k]
		if !ok || string(oe.value) != string(e.value) {
			return false
		}
	}
	return true
}

// Range calls fn for every entry in unspecified order.
func (h *Headers) Range(fn func(key string, value []byte)) {
	for _, e := range h.entries {
		fn(e.key, e.value)
	}
}

// Frame is one GDS frame. Headers is nil when the type carries no headers;
// Body is nil when the type carries no body (spec §3 invariants).
type Frame struct {
	Complete          bool
	Type              Type
	StreamID          uint32 // 24-bit; top byte must be zero
	HeadersCompressed bool
	Headers           *Headers
	Body              *buffer.Buffer
}

func (f *Frame) validate() error {
	if !f.Type.valid() {
		return fmt.Errorf("gds: %w", &gdserr.ProtocolError{Reason: "invalid-type", StreamID: f.StreamID})
	}
	if f.StreamID > 0x00FFFFFF {
		return fmt.Errorf("gds: stream id exceeds 24 bits: %w", gdserr.ErrInvalidArgument)
	}
	switch f.Type {
	case TypeHeadersOnly:
		if f.Headers == nil || f.Body != nil {
			return fmt.Errorf("gds: HeadersOnly requires headers, no body: %w", gdserr.ErrInvalidArgument)
		}
	case TypeBodyOnly:
		if f.Body == nil || (f.Headers != nil && f.Headers.Len() > 0) {
			return fmt.Errorf("gds: BodyOnly requires body, empty headers: %w", gdserr.ErrInvalidArgument)
		}
	case TypeFull:
		if f.Headers == nil || f.Body == nil {
			return fmt.Errorf("gds: Full requires both headers and body: %w", gdserr.ErrInvalidArgument)
		}
	case TypePing, TypePong, TypeClose:
		if f.Headers != nil || f.Body != nil {
			return fmt.Errorf("gds: control frame carries no headers or body: %w", gdserr.ErrInvalidArgument)
		}
	}
	return nil
}

// NewPingFrame, NewPongFrame, NewCloseFrame build the three control frames,
// always complete and carrying neither headers nor body.
func NewPingFrame(streamID uint32) *Frame  { return &Frame{Complete: true, Type: TypePing, StreamID: streamID} }
func NewPongFrame(streamID uint32) *Frame  { return &Frame{Complete: true, Type: TypePong, StreamID: streamID} }
func NewCloseFrame(streamID uint32) *Frame { return &Frame{Complete: true, Type: TypeClose, StreamID: streamID} }

// NewHeadersFrame builds a HeadersOnly frame.
func NewHeadersFrame(streamID uint32, h *Headers, compressed, complete bool) *Frame {
	return &Frame{
		Complete:          complete,
		Type:              TypeHeadersOnly,
		StreamID:          streamID,
		HeadersCompressed: compressed,
		Headers:           h,
	}
}

// NewBodyFrame builds a BodyOnly frame.
func NewBodyFrame(streamID uint32, body *buffer.Buffer, complete bool) *Frame {
	return &Frame{Complete: complete, Type: TypeBodyOnly, StreamID: streamID, Body: body}
}

// NewFullFrame builds a Full frame carrying both headers and body.
func NewFullFrame(streamID uint32, h *Headers, compressed bool, body *buffer.Buffer, complete bool) *Frame {
	return &Frame{
		Complete:          complete,
		Type:              TypeFull,
		StreamID:          streamID,
		HeadersCompressed: compressed,
		Headers:           h,
		Body:              body,
	}
}
