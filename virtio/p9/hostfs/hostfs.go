// Package hostfs implements p9.FileService by walking a real directory on
// the host, grounded on the same golang.org/x/sys/unix POSIX access
// c35s-hype's vsock device uses for descriptor-level control (§6,
// "File-service back-end").
package hostfs

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sys/unix"

	"github.com/riscv-sim/virtio-core/virtio/p9"
)

// FS roots a 9P session at a host directory. Every path this package
// produces is built by filepath.Join from Root and 9P-supplied path
// components. The components are not checked, so a ".." component, or a
// name containing "/", can resolve to a path outside Root.
type FS struct {
	Root string
}

// New opens root, verifying it's an existing directory (§7, "initialization
// failures ... abort the process with a descriptive message").
func New(root string) (*FS, error) {
	fi, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("hostfs: %w", err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("hostfs: %s is not a directory", root)
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("hostfs: %w", err)
	}

	return &FS{Root: abs}, nil
}

// handle is the concrete p9.Handle this service produces: a resolved host
// path, plus lazily-opened file state.
type handle struct {
	path string
	file *os.File

	// dirents caches a Readdir listing so repeated calls with increasing
	// offset can page through a stable snapshot rather than re-reading a
	// directory that may be mutated mid-walk by the guest.
	dirents []os.DirEntry
}

func (fs *FS) qid(path string) (p9.Qid, unix.Stat_t, error) {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return p9.Qid{}, st, err
	}

	typ := uint8(p9.QTFile)
	switch st.Mode & unix.S_IFMT {
	case unix.S_IFDIR:
		typ = p9.QTDir
	case unix.S_IFLNK:
		typ = p9.QTSymlink
	}

	return p9.Qid{
		Type:    typ,
		Version: uint32(st.Mtim.Nsec),
		Path:    st.Ino,
	}, st, nil
}

func (fs *FS) Attach(uname, aname string, uid uint32) (p9.Handle, p9.Qid, error) {
	qid, _, err := fs.qid(fs.Root)
	if err != nil {
		return nil, p9.Qid{}, err
	}
	return &handle{path: fs.Root}, qid, nil
}

func (fs *FS) Walk(h p9.Handle, names []string) (p9.Handle, []p9.Qid, error) {
	cur := h.(*handle).path
	qids := make([]p9.Qid, 0, len(names))

	for _, name := range names {
		cur = filepath.Join(cur, name)

		qid, _, err := fs.qid(cur)
		if err != nil {
			return nil, qids, err
		}
		qids = append(qids, qid)
	}

	return &handle{path: cur}, qids, nil
}

func (fs *FS) Open(h p9.Handle, flags uint32) (p9.Qid, error) {
	hd := h.(*handle)

	qid, st, err := fs.qid(hd.path)
	if err != nil {
		return p9.Qid{}, err
	}

	if st.Mode&unix.S_IFMT != unix.S_IFDIR {
		fd, err := unix.Open(hd.path, int(flags), 0)
		if err != nil {
			return p9.Qid{}, err
		}
		hd.file = os.NewFile(uintptr(fd), hd.path)
	}

	return qid, nil
}

func (fs *FS) Create(h p9.Handle, name string, flags, mode, gid uint32) (p9.Handle, p9.Qid, error) {
	full := filepath.Join(h.(*handle).path, name)

	fd, err := unix.Open(full, int(flags)|unix.O_CREAT, mode&0o777)
	if err != nil {
		return nil, p9.Qid{}, err
	}

	qid, _, err := fs.qid(full)
	if err != nil {
		unix.Close(fd)
		return nil, p9.Qid{}, err
	}

	return &handle{path: full, file: os.NewFile(uintptr(fd), full)}, qid, nil
}

func (fs *FS) Mkdir(h p9.Handle, name string, mode, gid uint32) (p9.Qid, error) {
	full := filepath.Join(h.(*handle).path, name)

	if err := os.Mkdir(full, os.FileMode(mode&0o777)); err != nil {
		return p9.Qid{}, err
	}

	qid, _, err := fs.qid(full)
	return qid, err
}

func (fs *FS) Symlink(h p9.Handle, name, target string, gid uint32) (p9.Qid, error) {
	full := filepath.Join(h.(*handle).path, name)

	if err := os.Symlink(target, full); err != nil {
		return p9.Qid{}, err
	}

	qid, _, err := fs.qid(full)
	return qid, err
}

func (fs *FS) Mknod(h p9.Handle, name string, mode, major, minor, gid uint32) (p9.Qid, error) {
	full := filepath.Join(h.(*handle).path, name)

	if err := unix.Mknod(full, mode, int(unix.Mkdev(major, minor))); err != nil {
		return p9.Qid{}, err
	}

	qid, _, err := fs.qid(full)
	return qid, err
}

func (fs *FS) Link(dir, h p9.Handle, name string) error {
	full := filepath.Join(dir.(*handle).path, name)
	return os.Link(h.(*handle).path, full)
}

func (fs *FS) Readlink(h p9.Handle) (string, error) {
	return os.Readlink(h.(*handle).path)
}

func (fs *FS) GetAttr(h p9.Handle, mask uint64) (p9.Qid, p9.Stat, error) {
	hd := h.(*handle)

	qid, st, err := fs.qid(hd.path)
	if err != nil {
		return p9.Qid{}, p9.Stat{}, err
	}

	return qid, p9.Stat{
		Mode:      uint32(st.Mode),
		Uid:       st.Uid,
		Gid:       st.Gid,
		Nlink:     uint64(st.Nlink),
		Rdev:      st.Rdev,
		Size:      uint64(st.Size),
		Blksize:   uint64(st.Blksize),
		Blocks:    uint64(st.Blocks),
		AtimeSec:  uint64(st.Atim.Sec),
		AtimeNsec: uint64(st.Atim.Nsec),
		MtimeSec:  uint64(st.Mtim.Sec),
		MtimeNsec: uint64(st.Mtim.Nsec),
		CtimeSec:  uint64(st.Ctim.Sec),
		CtimeNsec: uint64(st.Ctim.Nsec),
	}, nil
}

// setattr valid-bit flags, from the 9P2000.L protocol (not this device's
// invention): which fields of a setattr request are actually present.
const (
	setAttrMode = 1 << iota
	setAttrUid
	setAttrGid
	setAttrSize
	setAttrAtime
	setAttrMtime
)

func (fs *FS) SetAttr(h p9.Handle, valid, mode, uid, gid uint32, size, atimeSec, atimeNsec, mtimeSec, mtimeNsec uint64) error {
	path := h.(*handle).path

	if valid&setAttrMode != 0 {
		if err := os.Chmod(path, os.FileMode(mode&0o777)); err != nil {
			return err
		}
	}

	if valid&(setAttrUid|setAttrGid) != 0 {
		u, g := -1, -1
		if valid&setAttrUid != 0 {
			u = int(uid)
		}
		if valid&setAttrGid != 0 {
			g = int(gid)
		}
		if err := os.Chown(path, u, g); err != nil {
			return err
		}
	}

	if valid&setAttrSize != 0 {
		if err := os.Truncate(path, int64(size)); err != nil {
			return err
		}
	}

	if valid&(setAttrAtime|setAttrMtime) != 0 {
		_, st, err := fs.qid(path)
		if err != nil {
			return err
		}

		atime := unix.NsecToTimespec(st.Atim.Sec*1e9 + st.Atim.Nsec)
		mtime := unix.NsecToTimespec(st.Mtim.Sec*1e9 + st.Mtim.Nsec)

		if valid&setAttrAtime != 0 {
			atime = unix.NsecToTimespec(int64(atimeSec)*1e9 + int64(atimeNsec))
		}
		if valid&setAttrMtime != 0 {
			mtime = unix.NsecToTimespec(int64(mtimeSec)*1e9 + int64(mtimeNsec))
		}

		if err := unix.UtimesNanoAt(unix.AT_FDCWD, path, []unix.Timespec{atime, mtime}, 0); err != nil {
			return err
		}
	}

	return nil
}

func (fs *FS) Read(h p9.Handle, offset uint64, count uint32) ([]byte, error) {
	hd := h.(*handle)
	if hd.file == nil {
		return nil, unix.EBADF
	}

	buf := make([]byte, count)
	n, err := hd.file.ReadAt(buf, int64(offset))
	if err != nil && err != io.EOF {
		return nil, err
	}

	return buf[:n], nil
}

func (fs *FS) Write(h p9.Handle, offset uint64, data []byte) (uint32, error) {
	hd := h.(*handle)
	if hd.file == nil {
		return 0, unix.EBADF
	}

	n, err := hd.file.WriteAt(data, int64(offset))
	return uint32(n), err
}

func (fs *FS) Readdir(h p9.Handle, offset uint64, count uint32) ([]p9.DirEntry, error) {
	hd := h.(*handle)

	if hd.dirents == nil {
		entries, err := os.ReadDir(hd.path)
		if err != nil {
			return nil, err
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
		hd.dirents = entries
	}

	if offset >= uint64(len(hd.dirents)) {
		return nil, nil
	}

	var out []p9.DirEntry
	for i := int(offset); i < len(hd.dirents); i++ {
		e := hd.dirents[i]

		qid, _, err := fs.qid(filepath.Join(hd.path, e.Name()))
		if err != nil {
			continue
		}

		out = append(out, p9.DirEntry{
			Qid:    qid,
			Offset: uint64(i + 1),
			Type:   qid.Type,
			Name:   e.Name(),
		})
	}

	return out, nil
}

func (fs *FS) Fsync(h p9.Handle) error {
	hd := h.(*handle)
	if hd.file == nil {
		return nil
	}
	return hd.file.Sync()
}

func (fs *FS) RenameAt(oldDir p9.Handle, oldName string, newDir p9.Handle, newName string) error {
	oldPath := filepath.Join(oldDir.(*handle).path, oldName)
	newPath := filepath.Join(newDir.(*handle).path, newName)
	return os.Rename(oldPath, newPath)
}

func (fs *FS) UnlinkAt(dir p9.Handle, name string, flags uint32) error {
	return os.Remove(filepath.Join(dir.(*handle).path, name))
}

func (fs *FS) StatFS(h p9.Handle) (p9.StatFS, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(h.(*handle).path, &st); err != nil {
		return p9.StatFS{}, err
	}

	return p9.StatFS{
		Bsize:  uint32(st.Bsize),
		Blocks: st.Blocks,
		Bfree:  st.Bfree,
		Bavail: st.Bavail,
		Files:  st.Files,
		Ffree:  st.Ffree,
	}, nil
}

// Lock and GetLock are no-ops: the simulator runs a single guest, so byte
// range locks have no other client to contend with. Lock always succeeds;
// GetLock always reports no conflicting lock (F_UNLCK).
const (
	lockTypeUnlock = 2
	lockSuccess    = 0
)

func (fs *FS) Lock(h p9.Handle, typ uint8, flags uint32, start, length uint64, procID uint32, clientID string) (uint8, error) {
	return lockSuccess, nil
}

func (fs *FS) GetLock(h p9.Handle, typ uint8, start, length uint64, procID uint32, clientID string) (uint8, uint64, uint64, uint32, string, error) {
	return lockTypeUnlock, start, length, procID, clientID, nil
}

func (fs *FS) Clunk(h p9.Handle) error {
	hd := h.(*handle)
	if hd.file != nil {
		return hd.file.Close()
	}
	return nil
}
