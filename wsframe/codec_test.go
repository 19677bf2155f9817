package wsframe

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corvidlabs/gds/buffer"
	"github.com/corvidlabs/gds/pool"
)

func TestEncodeDecodeRoundTripUnmasked(t *testing.T) {
	p := pool.New()
	f := TextFrame("hello, gds", false, false, true)

	buf, err := Encode(f, p)
	require.NoError(t, err)

	c := NewCodec()
	frames, err := c.DecodeAll(buf)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	require.Equal(t, OpText, frames[0].Opcode)
	require.True(t, frames[0].Fin)
	require.Nil(t, frames[0].Mask)
	require.Equal(t, "hello, gds", string(frames[0].Payload))
}

func TestEncodeDecodeRoundTripMasked(t *testing.T) {
	p := pool.New()
	f := TextFrame("masked payload", true, false, true)
	require.NotNil(t, f.Mask)
	originalKey := *f.Mask
	originalPayload := append([]byte(nil), f.Payload...)

	buf, err := Encode(f, p)
	require.NoError(t, err)

	c := NewCodec()
	frames, err := c.DecodeAll(buf)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	require.Equal(t, originalKey, *frames[0].Mask)
	require.Equal(t, originalPayload, frames[0].Payload)
}

func TestLengthClasses(t *testing.T) {
	p := pool.New()
	c := NewCodec()

	cases := []int{0, 1, 125, 126, 127, 1000, 65535, 65536, 200000}
	for _, n := range cases {
		data := bytes.Repeat([]byte{0x5a}, n)
		f := BinaryFrame(data, false, false)
		buf, err := Encode(f, p)
		require.NoError(t, err)
		frames, err := c.DecodeAll(buf)
		require.NoError(t, err)
		require.Len(t, frames, 1)
		require.Equal(t, n, len(frames[0].Payload))
	}
}

func TestIncompleteFrameRewindsAndRetries(t *testing.T) {
	p := pool.New()
	f := TextFrame("a complete message body", true, false, true)
	full, err := Encode(f, p)
	require.NoError(t, err)

	var all bytes.Buffer
	require.NoError(t, full.DrainSync(&all))
	wire := all.Bytes()

	buf := buffer.New(p)
	c := NewCodec()

	// Feed everything but the last 3 bytes: decode should find nothing yet
	// and leave buf positioned so the retry (once the rest arrives) sees the
	// whole frame from the start.
	_, err = buf.Write(wire[:len(wire)-3], 0, len(wire)-3)
	require.NoError(t, err)
	frames, err := c.DecodeAll(buf)
	require.NoError(t, err)
	require.Empty(t, frames)

	_, err = buf.Write(wire[len(wire)-3:], 0, 3)
	require.NoError(t, err)
	frames, err = c.DecodeAll(buf)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	require.Equal(t, "a complete message body", string(frames[0].Payload))
}

func TestFragmentedMessageReassembly(t *testing.T) {
	p := pool.New()
	c := NewCodec()
	buf := buffer.New(p)

	start := TextFrame("hello ", false, false, false)
	mid := &Frame{Opcode: OpContinuation, Payload: []byte("cruel ")}
	end := &Frame{Opcode: OpContinuation, Fin: true, Payload: []byte("world")}

	for _, f := range []*Frame{start, mid, end} {
		wire, err := Encode(f, p)
		require.NoError(t, err)
		var b bytes.Buffer
		require.NoError(t, wire.DrainSync(&b))
		_, err = buf.Write(b.Bytes(), 0, b.Len())
		require.NoError(t, err)
	}

	frames, err := c.DecodeAll(buf)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	require.Equal(t, OpText, frames[0].Opcode)
	require.True(t, frames[0].Fin)
	require.Equal(t, "hello cruel world", string(frames[0].Payload))
}

func TestContinuationWithoutStartIsMalformed(t *testing.T) {
	p := pool.New()
	c := NewCodec()
	buf := buffer.New(p)

	cont := &Frame{Opcode: OpContinuation, Fin: true, Payload: []byte("x")}
	wire, err := Encode(cont, p)
	require.NoError(t, err)
	var b bytes.Buffer
	require.NoError(t, wire.DrainSync(&b))
	_, err = buf.Write(b.Bytes(), 0, b.Len())
	require.NoError(t, err)

	_, err = c.DecodeAll(buf)
	require.Error(t, err)
}

func TestControlFramePassesThroughDuringFragmentation(t *testing.T) {
	p := pool.New()
	c := NewCodec()
	buf := buffer.New(p)

	start := TextFrame("partial", false, false, false)
	ping := ControlFrame(OpPing, []byte("ping"))

	for _, f := range []*Frame{start, ping} {
		wire, err := Encode(f, p)
		require.NoError(t, err)
		var b bytes.Buffer
		require.NoError(t, wire.DrainSync(&b))
		_, err = buf.Write(b.Bytes(), 0, b.Len())
		require.NoError(t, err)
	}

	frames, err := c.DecodeAll(buf)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	require.Equal(t, OpPing, frames[0].Opcode)
}

func TestUnknownOpcodeIsMalformed(t *testing.T) {
	p := pool.New()
	buf := buffer.New(p)
	// Reserved opcode 0x3, FIN set, no mask, zero length payload.
	_, err := buf.Write([]byte{0x83, 0x00}, 0, 2)
	require.NoError(t, err)

	c := NewCodec()
	_, err = c.DecodeAll(buf)
	require.Error(t, err)
}
