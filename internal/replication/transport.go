package replication

import (
	"context"
	"time"
)

// Conn is one established connection to a slave, carrying the
// handshake and push/ack roundtrips the state machine drives.
// TCPTransport (tcp.go) implements it over plain TCP with wire.Header
// framing; the state machine only depends on this contract.
type Conn interface {
	SendJoinSlaveReq(JoinSlaveReq) error
	RecvJoinSlaveResp(timeout time.Duration) (JoinSlaveResp, error)
	SendPushBinlogReq(PushBinlogReq) error
	RecvPushBinlogResp(timeout time.Duration) (PushBinlogResp, error)
	Close() error
}

// Transport dials a slave by address, producing a Conn once the
// socket is ready.
type Transport interface {
	Dial(ctx context.Context, addr string, timeout time.Duration) (Conn, error)
}
