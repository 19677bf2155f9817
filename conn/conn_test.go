package conn

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/corvidlabs/gds/buffer"
	"github.com/corvidlabs/gds/channel"
	"github.com/corvidlabs/gds/pipeline"
	"github.com/corvidlabs/gds/pool"
)

// lineDecoder splits buf on newlines, emitting each complete line (sans the
// newline) as a string message and leaving any trailing partial line
// buffered for the next call — a minimal stand-in for a real codec's
// DecodeAll in these tests.
func lineDecoder(buf *buffer.Buffer) ([]pipeline.Message, error) {
	var out []pipeline.Message
	for {
		snap := buf.Snapshot()
		avail := int(buf.Available())
		if avail == 0 {
			return out, nil
		}
		data := make([]byte, avail)
		n, err := buf.Read(data)
		if err != nil {
			return out, err
		}
		data = data[:n]
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			buf.Restore(snap)
			return out, nil
		}
		// Re-read up through just past the newline, leaving the remainder
		// for the next iteration.
		buf.Restore(snap)
		consume := make([]byte, idx+1)
		buf.Read(consume)
		out = append(out, string(consume[:idx]))
	}
}

func TestConnOpenSendReceiveClose(t *testing.T) {
	serverNC, clientNC := net.Pipe()
	defer clientNC.Close()

	p := pool.New()
	tmpl := pipeline.New()

	received := make(chan string, 4)
	tmpl.Incoming.AddLast(pipeline.Typed(func(ch channel.Channel, s *string) error {
		received <- *s
		return nil
	}))

	var openedFired bool
	tmpl.Opened.AddLast(func(ch channel.Channel) error {
		openedFired = true
		return nil
	})

	c := New(serverNC, p, tmpl)
	require.True(t, openedFired)
	require.True(t, c.IsActive())

	go func() {
		clientNC.Write([]byte("hello\n"))
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- c.ReceiveOnce(lineDecoder) }()

	select {
	case msg := <-received:
		require.Equal(t, "hello", msg)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatched message")
	}
	require.NoError(t, <-errCh)

	sendBuf := buffer.New(p)
	_, err := sendBuf.Write([]byte("reply\n"), 0, len("reply\n"))
	require.NoError(t, err)

	readDone := make(chan struct{})
	var gotReply []byte
	go func() {
		buf := make([]byte, 64)
		n, _ := clientNC.Read(buf)
		gotReply = buf[:n]
		close(readDone)
	}()

	sendErr := <-c.Send(context.Background(), sendBuf)
	require.NoError(t, sendErr)

	select {
	case <-readDone:
		require.Equal(t, "reply\n", string(gotReply))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for write to arrive")
	}

	closeErr1 := <-c.Close(context.Background())
	require.NoError(t, closeErr1)
	require.False(t, c.IsActive())

	closeErr2 := <-c.Close(context.Background())
	require.NoError(t, closeErr2)
}

func TestConnSendAfterCloseFails(t *testing.T) {
	serverNC, clientNC := net.Pipe()
	defer clientNC.Close()

	p := pool.New()
	tmpl := pipeline.New()
	c := New(serverNC, p, tmpl)

	<-c.Close(context.Background())

	buf := buffer.New(p)
	_, _ = buf.Write([]byte("x"), 0, 1)
	err := <-c.Send(context.Background(), buf)
	require.Error(t, err)
}
