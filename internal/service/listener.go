package service

import (
	"context"
	"io"
	"net"

	"golang.org/x/time/rate"

	"github.com/yechoo0321/fdircore/internal/fdirerr"
	"github.com/yechoo0321/fdircore/internal/wire"
)

// ListenerConfig bounds one client-facing TCP listener: how large a
// single frame's body may be, and the sustained request rate allowed
// per connection before a caller is throttled. The accept-and-frame
// loop itself is deliberately the simplest thing that works — a
// goroutine per connection reading length-prefixed frames — not a
// custom reactor.
type ListenerConfig struct {
	MaxBodyBytes uint32
	RateLimit    rate.Limit
	RateBurst    int
}

// Serve accepts connections on ln until it is closed, handling each on
// its own goroutine. It returns the error that caused ln.Accept to
// stop; after ln.Close that is the listener's "closed" error, never nil.
func Serve(ln net.Listener, srv *Server, cfg ListenerConfig) error {
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = 4 << 20
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = 1
	}
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				continue
			}
			return err
		}
		go handleConn(conn, srv, cfg)
	}
}

func handleConn(conn net.Conn, srv *Server, cfg ListenerConfig) {
	defer conn.Close()
	limiter := rate.NewLimiter(cfg.RateLimit, cfg.RateBurst)
	log := srv.log.WithField("remote", conn.RemoteAddr())

	hdrBuf := make([]byte, wire.HeaderLen)
	for {
		if _, err := io.ReadFull(conn, hdrBuf); err != nil {
			if err != io.EOF {
				log.WithError(err).Debug("connection read failed")
			}
			return
		}
		h, err := wire.DecodeHeader(hdrBuf)
		if err != nil {
			log.WithError(err).Debug("bad frame header")
			return
		}
		if h.BodyLen > cfg.MaxBodyBytes {
			log.WithField("body_len", h.BodyLen).Warn("frame exceeds max body size")
			return
		}

		if err := limiter.Wait(context.Background()); err != nil {
			log.WithError(err).Debug("rate limiter wait failed")
			return
		}

		var body []byte
		if h.BodyLen > 0 {
			body = make([]byte, h.BodyLen)
			if _, err := io.ReadFull(conn, body); err != nil {
				log.WithError(err).Debug("reading frame body failed")
				return
			}
		}

		respCmd, respBody, dispatchErr := srv.Dispatch(h.Cmd, body)
		status := uint16(0)
		if dispatchErr != nil {
			status = uint16(fdirerr.CodeOf(dispatchErr))
			respCmd = h.Cmd
			respBody = nil
		}
		out := wire.Header{BodyLen: uint32(len(respBody)), Status: status, Cmd: respCmd}
		if _, err := conn.Write(out.Encode()); err != nil {
			return
		}
		if len(respBody) > 0 {
			if _, err := conn.Write(respBody); err != nil {
				return
			}
		}
	}
}
