package p9

// Qid is a server-assigned file identity (§4.4): {type, version, path}.
type Qid struct {
	Type    uint8
	Version uint32
	Path    uint64
}

// Qid type bits, matching the subset of 9P2000.L's QTDIR/QTSYMLINK/QTFILE
// this device needs to distinguish.
const (
	QTDir     = 0x80
	QTSymlink = 0x02
	QTFile    = 0x00
)
