// Package replication implements the master-side per-slave
// replication state machine: connect
// back-off, disk catch-up, live queue streaming, the push-result ring
// and brain-split detection.
package replication

import "github.com/yechoo0321/fdircore/internal/wire"

// JoinSlaveReq is sent by the master right after a connection to a
// slave is established, carrying the cluster id, server id, the
// master's task buffer size, and a shared replica key.
type JoinSlaveReq struct {
	ClusterID     uint32
	ServerID      uint32
	TaskBufferLen uint32
	ReplicaKey    string
}

// Encode packs req into cmd 81's body.
func (req JoinSlaveReq) Encode() []byte {
	w := wire.NewWriter(32 + len(req.ReplicaKey))
	w.PutUint32(req.ClusterID)
	w.PutUint32(req.ServerID)
	w.PutUint32(req.TaskBufferLen)
	w.PutString16(req.ReplicaKey)
	return w.Bytes()
}

// DecodeJoinSlaveReq unpacks a JoinSlaveReq body.
func DecodeJoinSlaveReq(body []byte) (JoinSlaveReq, error) {
	r := wire.NewReader(body)
	var req JoinSlaveReq
	var err error
	if req.ClusterID, err = r.Uint32(); err != nil {
		return req, err
	}
	if req.ServerID, err = r.Uint32(); err != nil {
		return req, err
	}
	if req.TaskBufferLen, err = r.Uint32(); err != nil {
		return req, err
	}
	req.ReplicaKey, err = r.String16()
	return req, err
}

// JoinSlaveResp is the slave's reply: its current last_data_version
// and a (binlog_index, offset) resume hint telling the master where
// to start streaming from disk.
type JoinSlaveResp struct {
	MasterInconsistent bool
	LastDataVersion    uint64
	BinlogIndex        uint32
	Offset             uint64
}

// Encode packs resp into cmd 82's body.
func (resp JoinSlaveResp) Encode() []byte {
	w := wire.NewWriter(24)
	if resp.MasterInconsistent {
		w.PutUint8(1)
	} else {
		w.PutUint8(0)
	}
	w.PutUint64(resp.LastDataVersion)
	w.PutUint32(resp.BinlogIndex)
	w.PutUint64(resp.Offset)
	return w.Bytes()
}

// DecodeJoinSlaveResp unpacks a JoinSlaveResp body.
func DecodeJoinSlaveResp(body []byte) (JoinSlaveResp, error) {
	r := wire.NewReader(body)
	var resp JoinSlaveResp
	flag, err := r.Uint8()
	if err != nil {
		return resp, err
	}
	resp.MasterInconsistent = flag != 0
	if resp.LastDataVersion, err = r.Uint64(); err != nil {
		return resp, err
	}
	if resp.BinlogIndex, err = r.Uint32(); err != nil {
		return resp, err
	}
	resp.Offset, err = r.Uint64()
	return resp, err
}

// PushBinlogReq carries one chunk of packed binlog records, from disk
// catch-up or from the live queue.
type PushBinlogReq struct {
	LastDataVersion uint64
	Bytes           []byte
}

// Encode packs req into cmd 83's body.
func (req PushBinlogReq) Encode() []byte {
	w := wire.NewWriter(12 + len(req.Bytes))
	w.PutUint32(uint32(len(req.Bytes)))
	w.PutUint64(req.LastDataVersion)
	w.PutBytes(req.Bytes)
	return w.Bytes()
}

// DecodePushBinlogReq unpacks a PushBinlogReq body.
func DecodePushBinlogReq(body []byte) (PushBinlogReq, error) {
	r := wire.NewReader(body)
	var req PushBinlogReq
	length, err := r.Uint32()
	if err != nil {
		return req, err
	}
	if req.LastDataVersion, err = r.Uint64(); err != nil {
		return req, err
	}
	req.Bytes, err = r.Bytes(int(length))
	return req, err
}

// PushAck is one (data_version, errno) pair in a PushBinlogResp.
type PushAck struct {
	DataVersion uint64
	ErrNo       uint32
}

// PushBinlogResp acknowledges a PushBinlogReq, one entry per record
// the slave applied (or failed to apply).
type PushBinlogResp struct {
	Acks []PushAck
}

// Encode packs resp into cmd 84's body.
func (resp PushBinlogResp) Encode() []byte {
	w := wire.NewWriter(4 + 12*len(resp.Acks))
	w.PutUint32(uint32(len(resp.Acks)))
	for _, a := range resp.Acks {
		w.PutUint64(a.DataVersion)
		w.PutUint32(a.ErrNo)
	}
	return w.Bytes()
}

// DecodePushBinlogResp unpacks a PushBinlogResp body.
func DecodePushBinlogResp(body []byte) (PushBinlogResp, error) {
	r := wire.NewReader(body)
	var resp PushBinlogResp
	count, err := r.Uint32()
	if err != nil {
		return resp, err
	}
	resp.Acks = make([]PushAck, count)
	for i := range resp.Acks {
		if resp.Acks[i].DataVersion, err = r.Uint64(); err != nil {
			return resp, err
		}
		if resp.Acks[i].ErrNo, err = r.Uint32(); err != nil {
			return resp, err
		}
	}
	return resp, nil
}
