package p9

// Handle is opaque per-FID server state returned by Attach and Walk; this
// device never interprets it, only threads it back through the FileService
// methods that follow (§6, "File-service back-end").
type Handle interface{}

// Stat is the getattr reply payload, minus the leading mask/qid fields
// Device already knows how to encode (§4.4).
type Stat struct {
	Mode    uint32
	Uid     uint32
	Gid     uint32
	Nlink   uint64
	Rdev    uint64
	Size    uint64
	Blksize uint64
	Blocks  uint64

	AtimeSec, AtimeNsec uint64
	MtimeSec, MtimeNsec uint64
	CtimeSec, CtimeNsec uint64
}

// StatFS is the statfs reply payload (§4.4).
type StatFS struct {
	Bsize  uint32
	Blocks uint64
	Bfree  uint64
	Bavail uint64
	Files  uint64
	Ffree  uint64
}

// DirEntry is one readdir record (§4.4, readdir).
type DirEntry struct {
	Qid    Qid
	Offset uint64
	Type   uint8
	Name   string
}

// FileService is the host-side collaborator this device drives (§6,
// "File-service back-end"). hostfs.FS is the concrete implementation
// backing a real directory; tests may substitute a fake.
type FileService interface {
	Attach(uname, aname string, uid uint32) (Handle, Qid, error)
	Walk(h Handle, names []string) (Handle, []Qid, error)

	Open(h Handle, flags uint32) (Qid, error)
	Create(h Handle, name string, flags, mode, gid uint32) (Handle, Qid, error)
	Mkdir(h Handle, name string, mode, gid uint32) (Qid, error)
	Symlink(h Handle, name, target string, gid uint32) (Qid, error)
	Mknod(h Handle, name string, mode, major, minor, gid uint32) (Qid, error)
	Link(dir, h Handle, name string) error
	Readlink(h Handle) (string, error)

	GetAttr(h Handle, mask uint64) (Qid, Stat, error)
	SetAttr(h Handle, valid, mode, uid, gid uint32, size, atimeSec, atimeNsec, mtimeSec, mtimeNsec uint64) error

	Read(h Handle, offset uint64, count uint32) ([]byte, error)
	Write(h Handle, offset uint64, data []byte) (uint32, error)
	Readdir(h Handle, offset uint64, count uint32) ([]DirEntry, error)
	Fsync(h Handle) error

	RenameAt(oldDir Handle, oldName string, newDir Handle, newName string) error
	UnlinkAt(dir Handle, name string, flags uint32) error

	StatFS(h Handle) (StatFS, error)

	Lock(h Handle, typ uint8, flags uint32, start, length uint64, procID uint32, clientID string) (uint8, error)
	GetLock(h Handle, typ uint8, start, length uint64, procID uint32, clientID string) (uint8, uint64, uint64, uint32, string, error)

	Clunk(h Handle) error
}
