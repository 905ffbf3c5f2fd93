package console

import (
	"rvkernel/kernel"
	"rvkernel/kernel/vfs"
)

const errnoNotSupported kernel.Errno = 95 // EOPNOTSUPP

var errNodeUnsupported = &kernel.Error{Module: "console", Message: "operation not supported on the console device", Errno: errnoNotSupported}

// Node is the /dev/console character device: a thin vfs.Inode shim over
// the UART, giving the init task (and anything that opens /dev/console
// after it) somewhere to read and write before a real line-discipline
// adapter exists. A future driver/tty/ can wrap this the same way a real
// terminal driver sits on top of a raw serial device.
type Node struct {
	uart *UART
	id   uint64
}

// NewNode wraps uart as a character-device inode with the given mount-wide
// inode ID.
func NewNode(uart *UART, id uint64) *Node {
	return &Node{uart: uart, id: id}
}

func (n *Node) Type() vfs.Type { return vfs.TypeCharDevice }
func (n *Node) Size() uint64   { return 0 }
func (n *Node) ID() uint64     { return n.id }

// ReadAt ignores off and returns whatever bytes are immediately available
// from the UART's receive buffer, never blocking -- matching a raw tty
// device opened without line discipline.
func (n *Node) ReadAt(off int64, buf []byte) (int, *kernel.Error) {
	count := 0
	for count < len(buf) {
		b, ok := n.uart.ReadByte()
		if !ok {
			break
		}
		buf[count] = b
		count++
	}
	return count, nil
}

// WriteAt ignores off and writes buf straight to the UART.
func (n *Node) WriteAt(off int64, buf []byte) (int, *kernel.Error) {
	return n.uart.Write(buf)
}

func (n *Node) Truncate(uint64) *kernel.Error { return errNodeUnsupported }
func (n *Node) Sync() *kernel.Error           { return nil }

func (n *Node) ListDir() ([]vfs.DirEntry, *kernel.Error)          { return nil, errNodeUnsupported }
func (n *Node) FindChild(string) (vfs.Inode, *kernel.Error)       { return nil, errNodeUnsupported }
func (n *Node) CreateFile(string) (vfs.Inode, *kernel.Error)      { return nil, errNodeUnsupported }
func (n *Node) CreateDirectory(string) (vfs.Inode, *kernel.Error) { return nil, errNodeUnsupported }
func (n *Node) Remove(string) *kernel.Error                       { return errNodeUnsupported }

func (n *Node) Mode() uint32                        { return 0o620 }
func (n *Node) UID() uint32                         { return 0 }
func (n *Node) GID() uint32                         { return 0 }
func (n *Node) SetMode(uint32) *kernel.Error        { return nil }
func (n *Node) SetOwner(uint32, uint32) *kernel.Error { return nil }

func (n *Node) PollMask() vfs.PollMask            { return vfs.PollWritable }
func (n *Node) RegisterPollWaiter(vfs.PollWaiter)  {}
func (n *Node) ClearPollWaiter(vfs.PollWaiter)     {}
