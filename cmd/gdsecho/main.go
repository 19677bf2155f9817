// Command gdsecho is a minimal example wiring the whole stack together: a
// TCP listener accepts WebSocket upgrades, installs the frame codec once
// the handshake completes, and echoes every Text/Binary frame it receives.
// It exists to exercise pool -> buffer -> channel -> pipeline -> handshake
// -> wsframe end to end, not as a general-purpose server.
package main

import (
	"bufio"
	"context"
	"flag"
	"net"
	"net/http"
	"os"

	"github.com/rs/zerolog"

	"github.com/corvidlabs/gds/buffer"
	"github.com/corvidlabs/gds/channel"
	"github.com/corvidlabs/gds/conn"
	"github.com/corvidlabs/gds/handshake"
	"github.com/corvidlabs/gds/internal/neterr"
	"github.com/corvidlabs/gds/pipeline"
	"github.com/corvidlabs/gds/pool"
	"github.com/corvidlabs/gds/wsframe"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8765", "listen address")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		log.Fatal().Err(err).Msg("gdsecho: listen")
	}
	log.Info().Str("addr", *addr).Msg("gdsecho: listening")

	p := pool.New(pool.WithLogger(log))
	template := buildTemplate(log)

	for {
		nc, err := ln.Accept()
		if err != nil {
			log.Error().Err(err).Msg("gdsecho: accept")
			continue
		}
		go serveConn(nc, p, template, log)
	}
}

// buildTemplate installs only the opened/closed logging; the WebSocket
// codec's incoming handler is added per-connection once the handshake
// completes, since it closes over that connection's wsframe.Codec.
func buildTemplate(log zerolog.Logger) *pipeline.Pipeline {
	tmpl := pipeline.New(pipeline.WithLogger(log))
	tmpl.Opened.AddLast(func(ch channel.Channel) error {
		log.Info().Str("remote", ch.RemoteAddr().String()).Msg("gdsecho: channel opened")
		return nil
	})
	tmpl.Closed.AddLast(func(ch channel.Channel) error {
		log.Info().Str("remote", ch.RemoteAddr().String()).Msg("gdsecho: channel closed")
		return nil
	})
	return tmpl
}

func serveConn(nc net.Conn, p *pool.Pool, template *pipeline.Pipeline, log zerolog.Logger) {
	c := conn.New(nc, p, template, conn.WithLogger(log))
	defer c.Close(context.Background())

	req, err := http.ReadRequest(bufio.NewReader(nc))
	if err != nil {
		log.Warn().Err(err).Msg("gdsecho: reading handshake request")
		return
	}

	var upgraded bool
	hs := handshake.NewServerHandshake(func(ok bool) { upgraded = ok })
	resp, err := hs.HandleRequest(req, nil)
	if err != nil {
		log.Error().Err(err).Msg("gdsecho: handshake")
		return
	}
	if err := resp.Write(nc); err != nil {
		log.Warn().Err(err).Msg("gdsecho: writing handshake response")
		return
	}
	if !upgraded {
		return
	}

	codec := wsframe.NewCodec()
	c.Pipeline().Incoming.AddLast(pipeline.Typed(func(ch channel.Channel, f *wsframe.Frame) error {
		if f.Opcode != wsframe.OpText && f.Opcode != wsframe.OpBinary {
			return nil
		}
		echoed := &wsframe.Frame{Fin: true, Opcode: f.Opcode, Payload: f.Payload}
		buf, err := wsframe.Encode(echoed, ch.BufferPool())
		if err != nil {
			return err
		}
		return <-ch.Send(context.Background(), buf)
	}))

	decode := func(buf *buffer.Buffer) ([]pipeline.Message, error) {
		frames, err := codec.DecodeAll(buf)
		msgs := make([]pipeline.Message, len(frames))
		for i, f := range frames {
			msgs[i] = *f
		}
		return msgs, err
	}

	for {
		if err := c.ReceiveOnce(decode); err != nil {
			if neterr.IsBoringClose(err) {
				log.Debug().Err(err).Msg("gdsecho: connection ended")
			} else {
				log.Warn().Err(err).Msg("gdsecho: connection ended with error")
			}
			return
		}
	}
}
