package replication

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/yechoo0321/fdircore/internal/wire"
)

// serveOneJoinRoundtrip accepts a single connection on ln, reads a
// JoinSlaveReq frame and replies with resp, then reads a
// PushBinlogReq frame and answers with a single clean ack for the
// request's LastDataVersion (the pushed bytes are not unpacked).
func serveOneJoinRoundtrip(t *testing.T, ln net.Listener, resp JoinSlaveResp) {
	t.Helper()
	conn, err := ln.Accept()
	if err != nil {
		t.Errorf("accept: %v", err)
		return
	}
	defer conn.Close()

	hdrBuf := make([]byte, wire.HeaderLen)
	if _, err := io.ReadFull(conn, hdrBuf); err != nil {
		t.Errorf("reading join header: %v", err)
		return
	}
	h, err := wire.DecodeHeader(hdrBuf)
	if err != nil {
		t.Errorf("decoding join header: %v", err)
		return
	}
	if h.Cmd != wire.CmdReplicaJoinSlaveReq {
		t.Errorf("cmd = %v, want CmdReplicaJoinSlaveReq", h.Cmd)
	}
	body := make([]byte, h.BodyLen)
	if _, err := io.ReadFull(conn, body); err != nil {
		t.Errorf("reading join body: %v", err)
		return
	}
	if _, err := DecodeJoinSlaveReq(body); err != nil {
		t.Errorf("decoding join req: %v", err)
		return
	}

	respBody := resp.Encode()
	respHdr := wire.Header{BodyLen: uint32(len(respBody)), Cmd: wire.CmdReplicaJoinSlaveResp}
	if _, err := conn.Write(respHdr.Encode()); err != nil {
		t.Errorf("writing join resp header: %v", err)
		return
	}
	if _, err := conn.Write(respBody); err != nil {
		t.Errorf("writing join resp body: %v", err)
		return
	}

	if _, err := io.ReadFull(conn, hdrBuf); err != nil {
		t.Errorf("reading push header: %v", err)
		return
	}
	h, err = wire.DecodeHeader(hdrBuf)
	if err != nil {
		t.Errorf("decoding push header: %v", err)
		return
	}
	pushBody := make([]byte, h.BodyLen)
	if _, err := io.ReadFull(conn, pushBody); err != nil {
		t.Errorf("reading push body: %v", err)
		return
	}
	req, err := DecodePushBinlogReq(pushBody)
	if err != nil {
		t.Errorf("decoding push req: %v", err)
		return
	}

	ack := PushBinlogResp{Acks: []PushAck{{DataVersion: req.LastDataVersion, ErrNo: 0}}}
	ackBody := ack.Encode()
	ackHdr := wire.Header{BodyLen: uint32(len(ackBody)), Cmd: wire.CmdReplicaPushBinlogResp}
	conn.Write(ackHdr.Encode())
	conn.Write(ackBody)
}

func TestTCPTransportJoinAndPushRoundtrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	wantResp := JoinSlaveResp{LastDataVersion: 7, BinlogIndex: 1, Offset: 42}
	done := make(chan struct{})
	go func() {
		defer close(done)
		serveOneJoinRoundtrip(t, ln, wantResp)
	}()

	transport := TCPTransport{}
	conn, err := transport.Dial(context.Background(), ln.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if err := conn.SendJoinSlaveReq(JoinSlaveReq{ClusterID: 1, ServerID: 2, ReplicaKey: "k"}); err != nil {
		t.Fatalf("SendJoinSlaveReq: %v", err)
	}
	gotResp, err := conn.RecvJoinSlaveResp(time.Second)
	if err != nil {
		t.Fatalf("RecvJoinSlaveResp: %v", err)
	}
	if gotResp != wantResp {
		t.Errorf("join resp = %+v, want %+v", gotResp, wantResp)
	}

	if err := conn.SendPushBinlogReq(PushBinlogReq{LastDataVersion: 9, Bytes: []byte("x")}); err != nil {
		t.Fatalf("SendPushBinlogReq: %v", err)
	}
	ack, err := conn.RecvPushBinlogResp(time.Second)
	if err != nil {
		t.Fatalf("RecvPushBinlogResp: %v", err)
	}
	if len(ack.Acks) != 1 || ack.Acks[0].DataVersion != 9 || ack.Acks[0].ErrNo != 0 {
		t.Errorf("ack = %+v, want one clean ack for data_version 9", ack)
	}

	<-done
}

func TestTCPTransportDialRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	transport := TCPTransport{}
	if _, err := transport.Dial(context.Background(), addr, 200*time.Millisecond); err == nil {
		t.Fatal("Dial succeeded against a closed listener")
	}
}
