package vfs

import (
	"rvkernel/kernel"
	"rvkernel/kernel/sync"
)

// File pairs an open inode with the per-fd cursor and open mode.
// Several fds (e.g. after dup2) may reference the same File, so
// Offset access is itself guarded.
type File struct {
	Inode Inode
	Mode  OpenMode

	lock   sync.Spinlock
	offset int64
}

// OpenMode mirrors the open(2) access-mode bits the core needs.
type OpenMode uint32

const (
	OpenReadOnly OpenMode = iota
	OpenWriteOnly
	OpenReadWrite
)

// OpenAppend is ORed into a File's Mode to make every Write seek to the
// inode's current end first, independent of the read/write access bits
// above.
const OpenAppend OpenMode = 1 << 16

// NewFile wraps inode opened with mode at offset 0.
func NewFile(inode Inode, mode OpenMode) *File {
	return &File{Inode: inode, Mode: mode}
}

// Read reads into buf starting at the file's current offset and advances
// it by the number of bytes actually read.
func (f *File) Read(buf []byte) (int, *kernel.Error) {
	f.lock.Acquire()
	defer f.lock.Release()
	n, err := f.Inode.ReadAt(f.offset, buf)
	f.offset += int64(n)
	return n, err
}

// Write writes buf at the file's current offset (or at the inode's current
// end if opened with append) and advances the offset.
func (f *File) Write(buf []byte) (int, *kernel.Error) {
	f.lock.Acquire()
	defer f.lock.Release()
	if f.Mode&OpenAppend != 0 {
		f.offset = int64(f.Inode.Size())
	}
	n, err := f.Inode.WriteAt(f.offset, buf)
	f.offset += int64(n)
	return n, err
}

// SeekWhence mirrors lseek(2)'s whence argument.
type SeekWhence int

const (
	SeekSet SeekWhence = iota
	SeekCur
	SeekEnd
)

// Seek repositions the file's offset per whence and returns the resulting
// absolute offset.
func (f *File) Seek(off int64, whence SeekWhence) int64 {
	f.lock.Acquire()
	defer f.lock.Release()
	switch whence {
	case SeekSet:
		f.offset = off
	case SeekCur:
		f.offset += off
	case SeekEnd:
		f.offset = int64(f.Inode.Size()) + off
	}
	return f.offset
}

// Table is a per-task fd -> *File map. Fd 0 is never
// assigned by Open; callers install stdio fds directly.
type Table struct {
	lock  sync.Spinlock
	files map[int]*File
	next  int
}

// NewTable returns an empty file table whose first Open-assigned fd is 3,
// leaving 0/1/2 free for stdio.
func NewTable() *Table {
	return &Table{files: make(map[int]*File), next: 3}
}

// Install assigns the next available fd to f and returns it.
func (t *Table) Install(f *File) int {
	t.lock.Acquire()
	defer t.lock.Release()
	fd := t.next
	t.next++
	t.files[fd] = f
	return fd
}

// InstallAt assigns f to exactly fd, replacing whatever was there (dup2's
// contract), and returns the file dup2 needs to close, if any.
func (t *Table) InstallAt(fd int, f *File) (closed *File) {
	t.lock.Acquire()
	defer t.lock.Release()
	closed = t.files[fd]
	t.files[fd] = f
	if fd >= t.next {
		t.next = fd + 1
	}
	return closed
}

// Get returns the file at fd, or nil if fd is not open.
func (t *Table) Get(fd int) *File {
	t.lock.Acquire()
	defer t.lock.Release()
	return t.files[fd]
}

// Close removes fd from the table and returns the file that was there, or
// nil if fd was not open.
func (t *Table) Close(fd int) *File {
	t.lock.Acquire()
	defer t.lock.Release()
	f := t.files[fd]
	delete(t.files, fd)
	return f
}

// Clone shallow-copies every (fd, *File) pair into a new table, for
// fork -- the *File (and its shared offset)
// is the same object in both tables, matching POSIX fork's fd-sharing
// semantics.
func (t *Table) Clone() *Table {
	t.lock.Acquire()
	defer t.lock.Release()
	c := &Table{files: make(map[int]*File, len(t.files)), next: t.next}
	for fd, f := range t.files {
		c.files[fd] = f
	}
	return c
}

// CloseAll closes every fd in the table, e.g. on exit.
func (t *Table) CloseAll() {
	t.lock.Acquire()
	defer t.lock.Release()
	t.files = make(map[int]*File)
}
