package replication

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/yechoo0321/fdircore/internal/wire"
)

// TCPTransport dials a slave's cluster listener over plain TCP,
// framing every request/response with the shared 16-byte wire.Header.
type TCPTransport struct {
	// MaxBodyBytes bounds a single frame's body, mirroring the
	// service listener's own limit (internal/config's
	// server.max_body_bytes).
	MaxBodyBytes uint32
}

// Dial implements Transport.
func (t TCPTransport) Dial(ctx context.Context, addr string, timeout time.Duration) (Conn, error) {
	d := net.Dialer{Timeout: timeout}
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	maxBody := t.MaxBodyBytes
	if maxBody == 0 {
		maxBody = 4 << 20
	}
	return &tcpConn{conn: c, maxBodyBytes: maxBody}, nil
}

type tcpConn struct {
	conn         net.Conn
	maxBodyBytes uint32
}

func (c *tcpConn) writeFrame(cmd wire.Cmd, body []byte) error {
	h := wire.Header{BodyLen: uint32(len(body)), Cmd: cmd}
	if _, err := c.conn.Write(h.Encode()); err != nil {
		return fmt.Errorf("replication: writing header: %w", err)
	}
	if len(body) == 0 {
		return nil
	}
	if _, err := c.conn.Write(body); err != nil {
		return fmt.Errorf("replication: writing body: %w", err)
	}
	return nil
}

func (c *tcpConn) readFrame(timeout time.Duration) (wire.Header, []byte, error) {
	if timeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(timeout))
		defer c.conn.SetReadDeadline(time.Time{})
	}
	hdrBuf := make([]byte, wire.HeaderLen)
	if _, err := readFull(c.conn, hdrBuf); err != nil {
		return wire.Header{}, nil, fmt.Errorf("replication: reading header: %w", err)
	}
	h, err := wire.DecodeHeader(hdrBuf)
	if err != nil {
		return wire.Header{}, nil, err
	}
	if h.BodyLen > c.maxBodyBytes {
		return wire.Header{}, nil, fmt.Errorf("replication: body_len %d exceeds limit %d", h.BodyLen, c.maxBodyBytes)
	}
	if h.BodyLen == 0 {
		return h, nil, nil
	}
	body := make([]byte, h.BodyLen)
	if _, err := readFull(c.conn, body); err != nil {
		return wire.Header{}, nil, fmt.Errorf("replication: reading body: %w", err)
	}
	if h.Status != 0 {
		return h, body, fmt.Errorf("replication: remote returned status %d", h.Status)
	}
	return h, body, nil
}

func readFull(c net.Conn, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := c.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

func (c *tcpConn) SendJoinSlaveReq(req JoinSlaveReq) error {
	return c.writeFrame(wire.CmdReplicaJoinSlaveReq, req.Encode())
}

func (c *tcpConn) RecvJoinSlaveResp(timeout time.Duration) (JoinSlaveResp, error) {
	_, body, err := c.readFrame(timeout)
	if err != nil {
		return JoinSlaveResp{}, err
	}
	return DecodeJoinSlaveResp(body)
}

func (c *tcpConn) SendPushBinlogReq(req PushBinlogReq) error {
	return c.writeFrame(wire.CmdReplicaPushBinlogReq, req.Encode())
}

func (c *tcpConn) RecvPushBinlogResp(timeout time.Duration) (PushBinlogResp, error) {
	_, body, err := c.readFrame(timeout)
	if err != nil {
		return PushBinlogResp{}, err
	}
	return DecodePushBinlogResp(body)
}

func (c *tcpConn) Close() error { return c.conn.Close() }
