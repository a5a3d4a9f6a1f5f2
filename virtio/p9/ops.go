package p9

// Request op IDs (§4.4, 9P2000.L subset). Reply IDs are op+1, except
// RLERROR which is always 6.
const (
	opStatfs     = 8
	opLopen      = 12
	opLcreate    = 14
	opSymlink    = 16
	opMknod      = 18
	opReadlink   = 22
	opGetattr    = 24
	opSetattr    = 26
	opXattrwalk  = 30
	opReaddir    = 40
	opFsync      = 50
	opLock       = 52
	opGetlock    = 54
	opLink       = 70
	opMkdir      = 72
	opRenameat   = 74
	opUnlinkat   = 76
	opVersion    = 100
	opAttach     = 104
	opFlush      = 108
	opWalk       = 110
	opRead       = 116
	opWrite      = 118
	opClunk      = 120
)

// frameHeaderSize is the 7-byte {size, id, tag} frame header every request
// and reply carries (§4.4).
const frameHeaderSize = 7

// versionString is the only protocol version this device speaks.
const versionString = "9P2000.L"

// defaultMsize is the session frame-size ceiling in effect before a
// version negotiation has taken place.
const defaultMsize = 8192
