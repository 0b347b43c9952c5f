package wire

// Cmd is the single-byte command code in a frame header.
type Cmd uint8

const (
	CmdActiveTestReq Cmd = 21
	CmdActiveTestResp Cmd = 22

	CmdCreateDentryByPathReq  Cmd = 23
	CmdCreateDentryByPathResp Cmd = 24

	CmdCreateDentryByPNameReq  Cmd = 25
	CmdCreateDentryByPNameResp Cmd = 26

	CmdRemoveDentryReq  Cmd = 27
	CmdRemoveDentryResp Cmd = 28

	CmdListDentryFirstReq Cmd = 29
	CmdListDentryNextReq  Cmd = 31
	CmdListDentryResp     Cmd = 32

	CmdLookupInodeByPathReq  Cmd = 33
	CmdLookupInodeByPathResp Cmd = 34

	CmdStatByPathReq   Cmd = 35
	CmdStatByPathResp  Cmd = 36
	CmdStatByInodeReq  Cmd = 37
	CmdStatByInodeResp Cmd = 38
	CmdStatByPNameReq  Cmd = 39
	CmdStatByPNameResp Cmd = 40

	CmdSetDentrySizeReq  Cmd = 41
	CmdSetDentrySizeResp Cmd = 42

	CmdModifyDentryStatReq  Cmd = 43
	CmdModifyDentryStatResp Cmd = 44

	CmdFlockReq    Cmd = 45
	CmdFlockResp   Cmd = 46
	CmdGetlkReq    Cmd = 47
	CmdGetlkResp   Cmd = 48

	CmdSysLockReq    Cmd = 49
	CmdSysUnlockReq  Cmd = 52

	CmdClusterStatsReq   Cmd = 55
	CmdClusterMastersReq Cmd = 60
	CmdClusterSlavesReq  Cmd = 66

	CmdClusterJoinReq    Cmd = 71
	CmdClusterPingReq    Cmd = 75
	CmdClusterNextMaster Cmd = 78

	CmdReplicaJoinSlaveReq   Cmd = 81
	CmdReplicaJoinSlaveResp  Cmd = 82
	CmdReplicaPushBinlogReq  Cmd = 83
	CmdReplicaPushBinlogResp Cmd = 84
)

// StatusMasterInconsistent mirrors fdirerr.StatusMasterInconsistent
// on the wire; kept as a separate constant here so this package has
// no dependency on internal/fdirerr.
const StatusMasterInconsistent = 9999
