package virtio

import (
	"rvkernel/kernel"
	"rvkernel/kernel/sync"
	"rvkernel/kernel/vfs"
)

var errBlockNodeDir = &kernel.Error{Module: "virtio", Message: "block device nodes have no directory operations", Errno: errnoNotSupported}

// BlockNode exposes a BlockDevice as a /dev block-device inode, so the
// ordinary read/write/lseek syscalls reach the disk through the same path
// they reach every other file. Byte offsets are mapped onto whole-sector
// device transfers; a write that covers part of a sector reads it, patches
// it, and writes it back.
type BlockNode struct {
	lock     sync.Spinlock
	dev      *BlockDevice
	id       uint64
	mode     uint32
	uid, gid uint32
}

// NewBlockNode wraps dev as a block-device inode with the given mount-wide
// inode ID.
func NewBlockNode(dev *BlockDevice, id uint64) *BlockNode {
	return &BlockNode{dev: dev, id: id, mode: 0o660}
}

func (n *BlockNode) Type() vfs.Type { return vfs.TypeBlockDevice }
func (n *BlockNode) Size() uint64   { return n.dev.NumSectors() * blkSectorSize }
func (n *BlockNode) ID() uint64     { return n.id }

func (n *BlockNode) ReadAt(off int64, buf []byte) (int, *kernel.Error) {
	if off < 0 {
		return 0, errBadSector
	}
	size := int64(n.Size())
	if off >= size {
		return 0, nil
	}
	if max := size - off; int64(len(buf)) > max {
		buf = buf[:max]
	}

	n.lock.Acquire()
	defer n.lock.Release()

	sector := make([]byte, blkSectorSize)
	done := 0
	for done < len(buf) {
		pos := off + int64(done)
		if err := n.dev.ReadBlock(uint64(pos)/blkSectorSize, sector); err != nil {
			if done > 0 {
				return done, nil
			}
			return 0, err
		}
		done += copy(buf[done:], sector[pos%blkSectorSize:])
	}
	return done, nil
}

func (n *BlockNode) WriteAt(off int64, buf []byte) (int, *kernel.Error) {
	if off < 0 || uint64(off)+uint64(len(buf)) > n.Size() {
		return 0, errBadSector
	}

	n.lock.Acquire()
	defer n.lock.Release()

	sector := make([]byte, blkSectorSize)
	done := 0
	for done < len(buf) {
		pos := off + int64(done)
		idx := uint64(pos) / blkSectorSize
		in := int(pos % blkSectorSize)
		span := blkSectorSize - in
		if span > len(buf)-done {
			span = len(buf) - done
		}

		if in != 0 || span != blkSectorSize {
			if err := n.dev.ReadBlock(idx, sector); err != nil {
				return done, err
			}
		}
		copy(sector[in:], buf[done:done+span])
		if err := n.dev.WriteBlock(idx, sector); err != nil {
			return done, err
		}
		done += span
	}
	return done, nil
}

func (n *BlockNode) Truncate(uint64) *kernel.Error { return errBlockNodeDir }
func (n *BlockNode) Sync() *kernel.Error           { return nil }

func (n *BlockNode) ListDir() ([]vfs.DirEntry, *kernel.Error)          { return nil, errBlockNodeDir }
func (n *BlockNode) FindChild(string) (vfs.Inode, *kernel.Error)       { return nil, errBlockNodeDir }
func (n *BlockNode) CreateFile(string) (vfs.Inode, *kernel.Error)      { return nil, errBlockNodeDir }
func (n *BlockNode) CreateDirectory(string) (vfs.Inode, *kernel.Error) { return nil, errBlockNodeDir }
func (n *BlockNode) Remove(string) *kernel.Error                       { return errBlockNodeDir }

func (n *BlockNode) Mode() uint32 { return n.mode }
func (n *BlockNode) UID() uint32  { return n.uid }
func (n *BlockNode) GID() uint32  { return n.gid }
func (n *BlockNode) SetMode(mode uint32) *kernel.Error {
	n.lock.Acquire()
	defer n.lock.Release()
	n.mode = mode
	return nil
}
func (n *BlockNode) SetOwner(uid, gid uint32) *kernel.Error {
	n.lock.Acquire()
	defer n.lock.Release()
	n.uid, n.gid = uid, gid
	return nil
}

func (n *BlockNode) PollMask() vfs.PollMask           { return vfs.PollReadable | vfs.PollWritable }
func (n *BlockNode) RegisterPollWaiter(vfs.PollWaiter) {}
func (n *BlockNode) ClearPollWaiter(vfs.PollWaiter)    {}
