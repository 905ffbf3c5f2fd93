package vfs

import "rvkernel/kernel"

// Type classifies an inode for stat and dispatch purposes.
type Type int

const (
	TypeFile Type = iota
	TypeDirectory
	TypeFIFO
	TypeCharDevice
	TypeBlockDevice
)

// PollMask bits, matching poll(2)'s readable/writable/error flags.
type PollMask uint32

const (
	PollReadable PollMask = 1 << iota
	PollWritable
	PollError
)

// DirEntry is one entry yielded by ListDir.
type DirEntry struct {
	Name string
	Type Type
}

// Inode is the capability object every mounted filesystem implements.
// A concrete filesystem (tmpfs, devfs, an on-disk format) lives
// outside this core as an external collaborator; vfs only depends on this
// contract.
type Inode interface {
	Type() Type
	Size() uint64

	ReadAt(off int64, buf []byte) (int, *kernel.Error)
	WriteAt(off int64, buf []byte) (int, *kernel.Error)
	Truncate(size uint64) *kernel.Error
	Sync() *kernel.Error

	ListDir() ([]DirEntry, *kernel.Error)
	FindChild(name string) (Inode, *kernel.Error)
	CreateFile(name string) (Inode, *kernel.Error)
	CreateDirectory(name string) (Inode, *kernel.Error)
	Remove(name string) *kernel.Error

	Mode() uint32
	UID() uint32
	GID() uint32
	SetMode(mode uint32) *kernel.Error
	SetOwner(uid, gid uint32) *kernel.Error

	// ID uniquely identifies this inode within its filesystem for the
	// lifetime of the mount; flock's lock table is keyed on it.
	ID() uint64

	PollMask() PollMask
	RegisterPollWaiter(w PollWaiter)
	ClearPollWaiter(w PollWaiter)
}

// PollWaiter is notified when an inode's PollMask changes in a way that
// might satisfy a blocked poll/select caller. No type in this tree
// implements it, and no syscall registers one.
type PollWaiter interface {
	NotifyPollReady(mask PollMask)
}
