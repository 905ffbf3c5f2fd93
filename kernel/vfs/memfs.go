package vfs

import (
	"rvkernel/kernel"
	"rvkernel/kernel/sync"
	"sync/atomic"
)

// memInodeIDCounter hands out the unique, mount-lifetime IDs ID() promises
// (flock's LockTable is keyed on them) and Pipe's own nextPipeID in
// syscall/ uses the same idiom independently, since a pipe has no
// directory entry in any MemFS tree.
var memInodeIDCounter uint64

func nextMemInodeID() uint64 {
	return atomic.AddUint64(&memInodeIDCounter, 1)
}

// AllocInodeID hands out an ID from the same counter for inodes
// implemented outside this package (device nodes mounted into a MemDir),
// so they can never collide with a MemFS inode in the lock table.
func AllocInodeID() uint64 {
	return nextMemInodeID()
}

// MemFile is a regular file's in-memory content and metadata.
type MemFile struct {
	lock        sync.Spinlock
	id          uint64
	data        []byte
	mode        uint32
	uid, gid    uint32
	pollWaiters []PollWaiter
}

// NewMemFile returns an empty regular file, mode 0644, owned by uid/gid 0.
func NewMemFile() *MemFile {
	return &MemFile{id: nextMemInodeID(), mode: 0o644}
}

func (f *MemFile) Type() Type { return TypeFile }
func (f *MemFile) Size() uint64 {
	f.lock.Acquire()
	defer f.lock.Release()
	return uint64(len(f.data))
}
func (f *MemFile) ID() uint64 { return f.id }

func (f *MemFile) ReadAt(off int64, buf []byte) (int, *kernel.Error) {
	f.lock.Acquire()
	defer f.lock.Release()
	if off < 0 || off >= int64(len(f.data)) {
		return 0, nil
	}
	n := copy(buf, f.data[off:])
	return n, nil
}

func (f *MemFile) WriteAt(off int64, buf []byte) (int, *kernel.Error) {
	f.lock.Acquire()
	defer f.lock.Release()
	end := off + int64(len(buf))
	if end > int64(len(f.data)) {
		grown := make([]byte, end)
		copy(grown, f.data)
		f.data = grown
	}
	n := copy(f.data[off:end], buf)
	return n, nil
}

func (f *MemFile) Truncate(size uint64) *kernel.Error {
	f.lock.Acquire()
	defer f.lock.Release()
	if size <= uint64(len(f.data)) {
		f.data = f.data[:size]
		return nil
	}
	grown := make([]byte, size)
	copy(grown, f.data)
	f.data = grown
	return nil
}

func (f *MemFile) Sync() *kernel.Error { return nil }

func (f *MemFile) ListDir() ([]DirEntry, *kernel.Error)          { return nil, errNotDir("listdir") }
func (f *MemFile) FindChild(string) (Inode, *kernel.Error)       { return nil, errNotDir("lookup") }
func (f *MemFile) CreateFile(string) (Inode, *kernel.Error)      { return nil, errNotDir("create") }
func (f *MemFile) CreateDirectory(string) (Inode, *kernel.Error) { return nil, errNotDir("mkdir") }
func (f *MemFile) Remove(string) *kernel.Error                   { return errNotDir("remove") }

func (f *MemFile) Mode() uint32 { return f.mode }
func (f *MemFile) UID() uint32  { return f.uid }
func (f *MemFile) GID() uint32  { return f.gid }
func (f *MemFile) SetMode(mode uint32) *kernel.Error {
	f.lock.Acquire()
	defer f.lock.Release()
	f.mode = mode
	return nil
}
func (f *MemFile) SetOwner(uid, gid uint32) *kernel.Error {
	f.lock.Acquire()
	defer f.lock.Release()
	f.uid, f.gid = uid, gid
	return nil
}

func (f *MemFile) PollMask() PollMask { return PollReadable | PollWritable }
func (f *MemFile) RegisterPollWaiter(w PollWaiter) {
	f.lock.Acquire()
	defer f.lock.Release()
	f.pollWaiters = append(f.pollWaiters, w)
}
func (f *MemFile) ClearPollWaiter(w PollWaiter) {
	f.lock.Acquire()
	defer f.lock.Release()
	for i, existing := range f.pollWaiters {
		if existing == w {
			f.pollWaiters = append(f.pollWaiters[:i], f.pollWaiters[i+1:]...)
			return
		}
	}
}

// MemDir is a directory's in-memory child-name -> Inode map, the
// tmpfs/devfs-style backing store this package's own doc comment names as
// an external collaborator -- kept in-tree here since this core's single
// mount point has to be backed by something concrete to actually boot.
type MemDir struct {
	lock     sync.Spinlock
	id       uint64
	children map[string]Inode
	mode     uint32
	uid, gid uint32
}

// NewMemDir returns an empty directory, mode 0755, owned by uid/gid 0.
func NewMemDir() *MemDir {
	return &MemDir{id: nextMemInodeID(), children: make(map[string]Inode), mode: 0o755}
}

func (d *MemDir) Type() Type   { return TypeDirectory }
func (d *MemDir) Size() uint64 { return 0 }
func (d *MemDir) ID() uint64   { return d.id }

func (d *MemDir) ReadAt(int64, []byte) (int, *kernel.Error)  { return 0, errIsDir("read") }
func (d *MemDir) WriteAt(int64, []byte) (int, *kernel.Error) { return 0, errIsDir("write") }
func (d *MemDir) Truncate(uint64) *kernel.Error              { return errIsDir("truncate") }
func (d *MemDir) Sync() *kernel.Error                        { return nil }

func (d *MemDir) ListDir() ([]DirEntry, *kernel.Error) {
	d.lock.Acquire()
	defer d.lock.Release()
	entries := make([]DirEntry, 0, len(d.children))
	for name, child := range d.children {
		entries = append(entries, DirEntry{Name: name, Type: child.Type()})
	}
	return entries, nil
}

func (d *MemDir) FindChild(name string) (Inode, *kernel.Error) {
	d.lock.Acquire()
	defer d.lock.Release()
	child, found := d.children[name]
	if !found {
		return nil, errNotFound("lookup")
	}
	return child, nil
}

func (d *MemDir) CreateFile(name string) (Inode, *kernel.Error) {
	d.lock.Acquire()
	defer d.lock.Release()
	if _, exists := d.children[name]; exists {
		return nil, errExists("create")
	}
	f := NewMemFile()
	d.children[name] = f
	return f, nil
}

func (d *MemDir) CreateDirectory(name string) (Inode, *kernel.Error) {
	d.lock.Acquire()
	defer d.lock.Release()
	if _, exists := d.children[name]; exists {
		return nil, errExists("mkdir")
	}
	sub := NewMemDir()
	d.children[name] = sub
	return sub, nil
}

// Mount installs an already-constructed inode as name within d, for device
// and pipe nodes that aren't themselves MemFile/MemDir (virtio block and
// input devices, and the stdio/dev endpoints boot-time setup wires in)
// rather than something CreateFile/CreateDirectory can produce.
func (d *MemDir) Mount(name string, inode Inode) *kernel.Error {
	d.lock.Acquire()
	defer d.lock.Release()
	if _, exists := d.children[name]; exists {
		return errExists("mount")
	}
	d.children[name] = inode
	return nil
}

func (d *MemDir) Remove(name string) *kernel.Error {
	d.lock.Acquire()
	defer d.lock.Release()
	child, found := d.children[name]
	if !found {
		return errNotFound("remove")
	}
	if child.Type() == TypeDirectory {
		if entries, _ := child.ListDir(); len(entries) > 0 {
			return &kernel.Error{Module: "vfs", Message: "remove: directory not empty", Errno: ErrnoNotEmpty}
		}
	}
	delete(d.children, name)
	return nil
}

func (d *MemDir) Mode() uint32 { return d.mode }
func (d *MemDir) UID() uint32  { return d.uid }
func (d *MemDir) GID() uint32  { return d.gid }
func (d *MemDir) SetMode(mode uint32) *kernel.Error {
	d.lock.Acquire()
	defer d.lock.Release()
	d.mode = mode
	return nil
}
func (d *MemDir) SetOwner(uid, gid uint32) *kernel.Error {
	d.lock.Acquire()
	defer d.lock.Release()
	d.uid, d.gid = uid, gid
	return nil
}

func (d *MemDir) PollMask() PollMask             { return PollReadable }
func (d *MemDir) RegisterPollWaiter(PollWaiter)   {}
func (d *MemDir) ClearPollWaiter(PollWaiter)      {}

func errIsDir(op string) *kernel.Error {
	return &kernel.Error{Module: "vfs", Message: op + ": is a directory", Errno: ErrnoIsDir}
}
