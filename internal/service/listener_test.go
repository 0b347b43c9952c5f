package service

import (
	"io"
	"net"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/yechoo0321/fdircore/internal/fdirerr"
	"github.com/yechoo0321/fdircore/internal/wire"
)

func startTestListener(t *testing.T, srv *Server) net.Addr {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go Serve(ln, srv, ListenerConfig{MaxBodyBytes: 1 << 20, RateLimit: rate.Inf, RateBurst: 1})
	return ln.Addr()
}

func sendFrame(t *testing.T, conn net.Conn, cmd wire.Cmd, body []byte) (wire.Header, []byte) {
	t.Helper()
	h := wire.Header{BodyLen: uint32(len(body)), Cmd: cmd}
	if _, err := conn.Write(h.Encode()); err != nil {
		t.Fatalf("writing request header: %v", err)
	}
	if len(body) > 0 {
		if _, err := conn.Write(body); err != nil {
			t.Fatalf("writing request body: %v", err)
		}
	}
	respHdrBuf := make([]byte, wire.HeaderLen)
	if _, err := io.ReadFull(conn, respHdrBuf); err != nil {
		t.Fatalf("reading response header: %v", err)
	}
	respHdr, err := wire.DecodeHeader(respHdrBuf)
	if err != nil {
		t.Fatalf("decoding response header: %v", err)
	}
	respBody := make([]byte, respHdr.BodyLen)
	if respHdr.BodyLen > 0 {
		if _, err := io.ReadFull(conn, respBody); err != nil {
			t.Fatalf("reading response body: %v", err)
		}
	}
	return respHdr, respBody
}

func TestServeActiveTestRoundtrip(t *testing.T) {
	srv := newTestServer(t, true)
	addr := startTestListener(t, srv)

	conn, err := net.DialTimeout("tcp", addr.String(), time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	respHdr, _ := sendFrame(t, conn, wire.CmdActiveTestReq, nil)
	if respHdr.Cmd != wire.CmdActiveTestResp {
		t.Errorf("resp cmd = %v, want CmdActiveTestResp", respHdr.Cmd)
	}
	if respHdr.Status != 0 {
		t.Errorf("resp status = %d, want 0", respHdr.Status)
	}
}

func TestServeUnknownCommandReturnsErrorStatus(t *testing.T) {
	srv := newTestServer(t, true)
	addr := startTestListener(t, srv)

	conn, err := net.DialTimeout("tcp", addr.String(), time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	respHdr, _ := sendFrame(t, conn, wire.Cmd(250), nil)
	if respHdr.Status != uint16(fdirerr.EINVAL) {
		t.Errorf("resp status = %d, want EINVAL", respHdr.Status)
	}
}

func TestServeRejectsOversizedFrame(t *testing.T) {
	srv := newTestServer(t, true)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go Serve(ln, srv, ListenerConfig{MaxBodyBytes: 8, RateLimit: rate.Inf, RateBurst: 1})

	conn, err := net.DialTimeout("tcp", ln.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	h := wire.Header{BodyLen: 9000, Cmd: wire.CmdActiveTestReq}
	if _, err := conn.Write(h.Encode()); err != nil {
		t.Fatalf("writing oversized header: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err == nil {
		t.Error("expected connection to be closed after an oversized frame")
	}
}
