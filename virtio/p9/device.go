// Package p9 implements the virtio 9P filesystem device (§4.4): wire
// codec, FID table, and the 9P2000.L operation subset, dispatched over a
// FileService collaborator that actually touches the host filesystem
// (see virtio/p9/hostfs for the concrete implementation).
package p9

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/riscv-sim/virtio-core/virtio"
	"github.com/riscv-sim/virtio-core/virtio/virtq"
)

// Device is a virtio 9P device bound to a FileService and a mount tag.
type Device struct {
	FS       FileService
	MountTag string

	msize int
	fids  map[uint32]Handle

	// reqInProgress mirrors the source's single-in-flight discipline
	// (§4.4, "Request serialization"): every FileService call in this
	// package completes synchronously, so it is never actually observed
	// set across a RecvRequest call, but RecvRequest and the completion
	// path are shaped so a real asynchronous FileService can set it and
	// resume dispatch by calling back into the owning queue's RunNotify.
	reqInProgress bool
}

// New constructs a Device. mountTag defaults to "/dev/root" if empty,
// matching the source's default (§6, "CLI surface").
func New(fs FileService, mountTag string) *Device {
	if mountTag == "" {
		mountTag = "/dev/root"
	}

	return &Device{
		FS:       fs,
		MountTag: mountTag,
		msize:    defaultMsize,
		fids:     make(map[uint32]Handle),
	}
}

// NewFromArgs builds a Device bound to fs from CLI-style key=value
// arguments, applying tag= (default /dev/root) (§6, "CLI surface"). fs is
// already rooted at the path= argument; see HostPath to extract it before
// constructing fs.
func NewFromArgs(fs FileService, args []string) *Device {
	var tag string

	for _, arg := range args {
		key, val, ok := strings.Cut(arg, "=")
		if ok && key == "tag" {
			tag = val
		}
	}

	return New(fs, tag)
}

// HostPath extracts the required path= argument from a 9P device's
// CLI-style key=value arguments (§6, "CLI surface"). Callers use it to
// construct a FileService (e.g. hostfs.New) before calling NewFromArgs.
func HostPath(args []string) (string, error) {
	for _, arg := range args {
		key, val, ok := strings.Cut(arg, "=")
		if ok && key == "path" {
			return val, nil
		}
	}

	return "", fmt.Errorf("p9: missing required path= argument")
}

func (d *Device) DeviceID() virtio.DeviceID { return virtio.P9DeviceID }

func (d *Device) Features() uint64 { return virtio.P9FMountTag }

func (d *Device) Ready(negotiatedFeatures uint64) error { return nil }

// ReadConfig reports the mount tag as a 2-byte length followed by its
// bytes (§4.4).
func (d *Device) ReadConfig(p []byte, off int) {
	cfg := NewEncoder().S(d.MountTag).Bytes()

	for i := range p {
		if off+i < len(cfg) {
			p[i] = cfg[off+i]
		}
	}
}

func (d *Device) WriteConfig(p []byte, off int) {}

// RecvRequest implements the 9P request/reply cycle (§4.4).
func (d *Device) RecvRequest(q *virtq.Queue, queueIdx int, descIdx uint16, readSize, writeSize int) int {
	if d.reqInProgress {
		return -1
	}

	req := make([]byte, readSize)
	if err := q.CopyFrom(descIdx, 0, readSize, req); err != nil {
		return 0
	}

	if len(req) < frameHeaderSize {
		return 0
	}

	dec := NewDecoder(req)
	dec.W() // size: recomputed on the way out, not trusted on the way in
	reqID := dec.B()
	tag := dec.H()

	if dec.Err() != nil {
		d.sendReply(q, descIdx, rlerror, tag, NewEncoder().W(uint32(ErrProto.errno)).Bytes())
		return 0
	}

	payload, replyID, err := d.dispatch(reqID, dec)
	if err != nil {
		d.sendReply(q, descIdx, rlerror, tag, NewEncoder().W(uint32(errnoOf(err))).Bytes())
		return 0
	}

	d.sendReply(q, descIdx, replyID, tag, payload)
	return 0
}

func (d *Device) sendReply(q *virtq.Queue, descIdx uint16, id uint8, tag uint16, payload []byte) {
	frame := NewEncoder().W(uint32(frameHeaderSize + len(payload))).B(id).H(tag).Raw(payload).Bytes()

	if err := q.CopyTo(descIdx, 0, frame); err != nil {
		slog.Error("9p reply write failed", "err", err)
		return
	}

	q.Consume(descIdx, len(frame))
}

// fid resolves fidNum through the FID table, returning ErrProto if it
// isn't bound (§4.4, "FID table").
func (d *Device) fid(fidNum uint32) (Handle, error) {
	h, ok := d.fids[fidNum]
	if !ok {
		return nil, ErrProto
	}
	return h, nil
}

// dispatch decodes the payload for reqID from dec and invokes the
// matching FileService method, returning the reply payload and reply ID.
// A decode failure anywhere is reported as ErrProto (§4.4, §7).
func (d *Device) dispatch(reqID uint8, dec *Decoder) ([]byte, uint8, error) {
	payload, err := d.dispatchOp(reqID, dec)
	if err != nil {
		return nil, 0, err
	}

	if dec.Err() != nil {
		return nil, 0, ErrProto
	}

	return payload, reqID + 1, nil
}

func (d *Device) dispatchOp(reqID uint8, dec *Decoder) ([]byte, error) {
	switch reqID {
	case opVersion:
		return d.version(dec)
	case opStatfs:
		return d.statfs(dec)
	case opAttach:
		return d.attach(dec)
	case opWalk:
		return d.walk(dec)
	case opLopen:
		return d.lopen(dec)
	case opLcreate:
		return d.lcreate(dec)
	case opSymlink:
		return d.symlink(dec)
	case opMknod:
		return d.mknod(dec)
	case opReadlink:
		return d.readlink(dec)
	case opGetattr:
		return d.getattr(dec)
	case opSetattr:
		return d.setattr(dec)
	case opXattrwalk:
		return nil, ErrNotSupported
	case opReaddir:
		return d.readdir(dec)
	case opFsync:
		return d.fsync(dec)
	case opLock:
		return d.lock(dec)
	case opGetlock:
		return d.getlock(dec)
	case opLink:
		return d.link(dec)
	case opMkdir:
		return d.mkdir(dec)
	case opRenameat:
		return d.renameat(dec)
	case opUnlinkat:
		return d.unlinkat(dec)
	case opFlush:
		dec.H() // oldtag, nothing in flight to cancel (every op is synchronous)
		return nil, nil
	case opRead:
		return d.read(dec)
	case opWrite:
		return d.write(dec)
	case opClunk:
		return d.clunk(dec)
	default:
		return nil, ErrProto
	}
}

func (d *Device) version(dec *Decoder) ([]byte, error) {
	msize := dec.W()
	dec.S() // client-requested version string, ignored: this device only speaks one

	d.msize = int(msize)

	return NewEncoder().W(msize).S(versionString).Bytes(), nil
}

func (d *Device) statfs(dec *Decoder) ([]byte, error) {
	fidNum := dec.W()

	h, err := d.fid(fidNum)
	if err != nil {
		return nil, err
	}

	st, err := d.FS.StatFS(h)
	if err != nil {
		return nil, err
	}

	const namelenMax = 256

	return NewEncoder().
		W(0). // type: not meaningful for a host-backed filesystem
		W(st.Bsize).
		D(st.Blocks).D(st.Bfree).D(st.Bavail).
		D(st.Files).D(st.Ffree).
		D(0). // fsid
		W(namelenMax).
		Bytes(), nil
}

func (d *Device) attach(dec *Decoder) ([]byte, error) {
	fidNum := dec.W()
	dec.W() // afid, unused: auth is not modeled
	uname := dec.S()
	aname := dec.S()
	uid := dec.W()

	h, qid, err := d.FS.Attach(uname, aname, uid)
	if err != nil {
		return nil, err
	}

	d.fids[fidNum] = h
	return NewEncoder().Qid(qid).Bytes(), nil
}

func (d *Device) walk(dec *Decoder) ([]byte, error) {
	fidNum := dec.W()
	newfidNum := dec.W()
	nwname := dec.H()

	names := make([]string, nwname)
	for i := range names {
		names[i] = dec.S()
	}

	h, err := d.fid(fidNum)
	if err != nil {
		return nil, err
	}

	newH, qids, err := d.FS.Walk(h, names)
	if err != nil {
		return nil, err
	}

	d.fids[newfidNum] = newH

	enc := NewEncoder().H(uint16(len(qids)))
	for _, q := range qids {
		enc.Qid(q)
	}
	return enc.Bytes(), nil
}

func (d *Device) lopen(dec *Decoder) ([]byte, error) {
	fidNum := dec.W()
	flags := dec.W()

	h, err := d.fid(fidNum)
	if err != nil {
		return nil, err
	}

	qid, err := d.FS.Open(h, flags)
	if err != nil {
		return nil, err
	}

	return NewEncoder().Qid(qid).W(uint32(d.msize - 24)).Bytes(), nil
}

func (d *Device) lcreate(dec *Decoder) ([]byte, error) {
	fidNum := dec.W()
	name := dec.S()
	flags := dec.W()
	mode := dec.W()
	gid := dec.W()

	h, err := d.fid(fidNum)
	if err != nil {
		return nil, err
	}

	newH, qid, err := d.FS.Create(h, name, flags, mode, gid)
	if err != nil {
		return nil, err
	}

	d.fids[fidNum] = newH
	return NewEncoder().Qid(qid).W(uint32(d.msize - 24)).Bytes(), nil
}

func (d *Device) symlink(dec *Decoder) ([]byte, error) {
	fidNum := dec.W()
	name := dec.S()
	target := dec.S()
	gid := dec.W()

	h, err := d.fid(fidNum)
	if err != nil {
		return nil, err
	}

	qid, err := d.FS.Symlink(h, name, target, gid)
	if err != nil {
		return nil, err
	}

	return NewEncoder().Qid(qid).Bytes(), nil
}

func (d *Device) mknod(dec *Decoder) ([]byte, error) {
	fidNum := dec.W()
	name := dec.S()
	mode := dec.W()
	major := dec.W()
	minor := dec.W()
	gid := dec.W()

	h, err := d.fid(fidNum)
	if err != nil {
		return nil, err
	}

	qid, err := d.FS.Mknod(h, name, mode, major, minor, gid)
	if err != nil {
		return nil, err
	}

	return NewEncoder().Qid(qid).Bytes(), nil
}

func (d *Device) readlink(dec *Decoder) ([]byte, error) {
	fidNum := dec.W()

	h, err := d.fid(fidNum)
	if err != nil {
		return nil, err
	}

	target, err := d.FS.Readlink(h)
	if err != nil {
		return nil, err
	}

	return NewEncoder().S(target).Bytes(), nil
}

func (d *Device) getattr(dec *Decoder) ([]byte, error) {
	fidNum := dec.W()
	mask := dec.D()

	h, err := d.fid(fidNum)
	if err != nil {
		return nil, err
	}

	qid, st, err := d.FS.GetAttr(h, mask)
	if err != nil {
		return nil, err
	}

	enc := NewEncoder().
		D(mask).
		Qid(qid).
		W(st.Mode).W(st.Uid).W(st.Gid).
		D(st.Nlink).D(st.Rdev).D(st.Size).D(st.Blksize).D(st.Blocks).
		D(st.AtimeSec).D(st.AtimeNsec).D(st.MtimeSec).D(st.MtimeNsec).D(st.CtimeSec).D(st.CtimeNsec).
		D(0).D(0).D(0).D(0) // btime_s, btime_ns, gen, data_version: unsupported

	return enc.Bytes(), nil
}

func (d *Device) setattr(dec *Decoder) ([]byte, error) {
	fidNum := dec.W()
	valid := dec.W()
	mode := dec.W()
	uid := dec.W()
	gid := dec.W()
	size := dec.D()
	atimeSec := dec.D()
	atimeNsec := dec.D()
	mtimeSec := dec.D()
	mtimeNsec := dec.D()

	h, err := d.fid(fidNum)
	if err != nil {
		return nil, err
	}

	if err := d.FS.SetAttr(h, valid, mode, uid, gid, size, atimeSec, atimeNsec, mtimeSec, mtimeNsec); err != nil {
		return nil, err
	}

	return nil, nil
}

func (d *Device) readdir(dec *Decoder) ([]byte, error) {
	fidNum := dec.W()
	offset := dec.D()
	count := dec.W()

	h, err := d.fid(fidNum)
	if err != nil {
		return nil, err
	}

	entries, err := d.FS.Readdir(h, offset, count)
	if err != nil {
		return nil, err
	}

	body := NewEncoder()
	for _, e := range entries {
		body.Qid(e.Qid).D(e.Offset).B(e.Type).S(e.Name)
	}

	return NewEncoder().W(uint32(len(body.Bytes()))).Raw(body.Bytes()).Bytes(), nil
}

func (d *Device) fsync(dec *Decoder) ([]byte, error) {
	fidNum := dec.W()

	h, err := d.fid(fidNum)
	if err != nil {
		return nil, err
	}

	return nil, d.FS.Fsync(h)
}

func (d *Device) lock(dec *Decoder) ([]byte, error) {
	fidNum := dec.W()
	typ := dec.B()
	flags := dec.W()
	start := dec.D()
	length := dec.D()
	procID := dec.W()
	clientID := dec.S()

	h, err := d.fid(fidNum)
	if err != nil {
		return nil, err
	}

	status, err := d.FS.Lock(h, typ, flags, start, length, procID, clientID)
	if err != nil {
		return nil, err
	}

	return NewEncoder().B(status).Bytes(), nil
}

func (d *Device) getlock(dec *Decoder) ([]byte, error) {
	fidNum := dec.W()
	typ := dec.B()
	start := dec.D()
	length := dec.D()
	procID := dec.W()
	clientID := dec.S()

	h, err := d.fid(fidNum)
	if err != nil {
		return nil, err
	}

	gotType, gotStart, gotLength, gotProcID, gotClientID, err := d.FS.GetLock(h, typ, start, length, procID, clientID)
	if err != nil {
		return nil, err
	}

	return NewEncoder().B(gotType).D(gotStart).D(gotLength).W(gotProcID).S(gotClientID).Bytes(), nil
}

func (d *Device) link(dec *Decoder) ([]byte, error) {
	dfidNum := dec.W()
	fidNum := dec.W()
	name := dec.S()

	dir, err := d.fid(dfidNum)
	if err != nil {
		return nil, err
	}

	h, err := d.fid(fidNum)
	if err != nil {
		return nil, err
	}

	return nil, d.FS.Link(dir, h, name)
}

func (d *Device) mkdir(dec *Decoder) ([]byte, error) {
	fidNum := dec.W()
	name := dec.S()
	mode := dec.W()
	gid := dec.W()

	h, err := d.fid(fidNum)
	if err != nil {
		return nil, err
	}

	qid, err := d.FS.Mkdir(h, name, mode, gid)
	if err != nil {
		return nil, err
	}

	return NewEncoder().Qid(qid).Bytes(), nil
}

func (d *Device) renameat(dec *Decoder) ([]byte, error) {
	oldDirFidNum := dec.W()
	oldName := dec.S()
	newDirFidNum := dec.W()
	newName := dec.S()

	oldDir, err := d.fid(oldDirFidNum)
	if err != nil {
		return nil, err
	}

	newDir, err := d.fid(newDirFidNum)
	if err != nil {
		return nil, err
	}

	return nil, d.FS.RenameAt(oldDir, oldName, newDir, newName)
}

func (d *Device) unlinkat(dec *Decoder) ([]byte, error) {
	dirFidNum := dec.W()
	name := dec.S()
	flags := dec.W()

	dir, err := d.fid(dirFidNum)
	if err != nil {
		return nil, err
	}

	return nil, d.FS.UnlinkAt(dir, name, flags)
}

func (d *Device) read(dec *Decoder) ([]byte, error) {
	fidNum := dec.W()
	offset := dec.D()
	count := dec.W()

	h, err := d.fid(fidNum)
	if err != nil {
		return nil, err
	}

	data, err := d.FS.Read(h, offset, count)
	if err != nil {
		return nil, err
	}

	return NewEncoder().W(uint32(len(data))).Raw(data).Bytes(), nil
}

func (d *Device) write(dec *Decoder) ([]byte, error) {
	fidNum := dec.W()
	offset := dec.D()
	count := dec.W()
	data := dec.Raw(int(count))

	h, err := d.fid(fidNum)
	if err != nil {
		return nil, err
	}

	n, err := d.FS.Write(h, offset, data)
	if err != nil {
		return nil, err
	}

	return NewEncoder().W(n).Bytes(), nil
}

func (d *Device) clunk(dec *Decoder) ([]byte, error) {
	fidNum := dec.W()

	h, err := d.fid(fidNum)
	if err != nil {
		return nil, err
	}

	err = d.FS.Clunk(h)
	delete(d.fids, fidNum)
	return nil, err
}
