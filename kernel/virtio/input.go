package virtio

import (
	"rvkernel/kernel"
	"rvkernel/kernel/sync"
	"rvkernel/kernel/vfs"
)

const (
	inputQueueSize  = 64
	inputEventBytes = 8 // le16 type, le16 code, le32 value
)

const (
	errnoNotSupported kernel.Errno = 95 // EOPNOTSUPP
)

var (
	errInputWrite     = &kernel.Error{Module: "virtio", Message: "input device nodes are read-only", Errno: errnoNotSupported}
	errNotInputDevice = &kernel.Error{Module: "virtio", Message: "MMIO window does not hold an input device", Errno: errnoInvalid}
)

// InputEvent is one decoded virtio_input_event.
type InputEvent struct {
	Type  uint16
	Code  uint16
	Value uint32
}

func decodeInputEvent(buf []byte) InputEvent {
	return InputEvent{
		Type:  uint16(buf[0]) | uint16(buf[1])<<8,
		Code:  uint16(buf[2]) | uint16(buf[3])<<8,
		Value: uint32(buf[4]) | uint32(buf[5])<<8 | uint32(buf[6])<<16 | uint32(buf[7])<<24,
	}
}

// InputNode is the /dev/input/eventX inode a VirtIO input device's decoded
// events are forwarded into. It implements vfs.Inode directly rather than
// wrapping a MemFile, since reads here are event-sized pops off a queue,
// never an offset-addressed byte range.
type InputNode struct {
	lock     sync.Spinlock
	id       uint64
	mode     uint32
	uid, gid uint32

	pending  []InputEvent
	waiters  []vfs.PollWaiter
}

func newInputNode(id uint64) *InputNode {
	return &InputNode{id: id, mode: 0o440}
}

func (n *InputNode) push(e InputEvent) {
	n.lock.Acquire()
	waiters := func() []vfs.PollWaiter {
		n.pending = append(n.pending, e)
		if len(n.pending) > 1 {
			return nil
		}
		return append([]vfs.PollWaiter(nil), n.waiters...)
	}()
	n.lock.Release()
	for _, w := range waiters {
		w.NotifyPollReady(vfs.PollReadable)
	}
}

func (n *InputNode) Type() vfs.Type { return vfs.TypeCharDevice }
func (n *InputNode) Size() uint64   { return 0 }
func (n *InputNode) ID() uint64     { return n.id }

// ReadAt ignores off -- an input device node is a stream of fixed-size
// events, not a byte range -- and pops at most one pending event per
// call, never blocking. A caller with a buffer
// too small for one event gets io read of 0 rather than a partial event.
func (n *InputNode) ReadAt(off int64, buf []byte) (int, *kernel.Error) {
	n.lock.Acquire()
	defer n.lock.Release()
	if len(n.pending) == 0 || len(buf) < inputEventBytes {
		return 0, nil
	}
	e := n.pending[0]
	n.pending = n.pending[1:]
	buf[0] = byte(e.Type)
	buf[1] = byte(e.Type >> 8)
	buf[2] = byte(e.Code)
	buf[3] = byte(e.Code >> 8)
	buf[4] = byte(e.Value)
	buf[5] = byte(e.Value >> 8)
	buf[6] = byte(e.Value >> 16)
	buf[7] = byte(e.Value >> 24)
	return inputEventBytes, nil
}

func (n *InputNode) WriteAt(int64, []byte) (int, *kernel.Error) { return 0, errInputWrite }
func (n *InputNode) Truncate(uint64) *kernel.Error               { return errInputWrite }
func (n *InputNode) Sync() *kernel.Error                         { return nil }

func (n *InputNode) ListDir() ([]vfs.DirEntry, *kernel.Error) { return nil, errInputWrite }
func (n *InputNode) FindChild(string) (vfs.Inode, *kernel.Error) { return nil, errInputWrite }
func (n *InputNode) CreateFile(string) (vfs.Inode, *kernel.Error) { return nil, errInputWrite }
func (n *InputNode) CreateDirectory(string) (vfs.Inode, *kernel.Error) {
	return nil, errInputWrite
}
func (n *InputNode) Remove(string) *kernel.Error { return errInputWrite }

func (n *InputNode) Mode() uint32 { return n.mode }
func (n *InputNode) UID() uint32  { return n.uid }
func (n *InputNode) GID() uint32  { return n.gid }
func (n *InputNode) SetMode(mode uint32) *kernel.Error {
	n.lock.Acquire()
	defer n.lock.Release()
	n.mode = mode
	return nil
}
func (n *InputNode) SetOwner(uid, gid uint32) *kernel.Error {
	n.lock.Acquire()
	defer n.lock.Release()
	n.uid, n.gid = uid, gid
	return nil
}

func (n *InputNode) PollMask() vfs.PollMask {
	n.lock.Acquire()
	defer n.lock.Release()
	if len(n.pending) > 0 {
		return vfs.PollReadable
	}
	return 0
}
func (n *InputNode) RegisterPollWaiter(w vfs.PollWaiter) {
	n.lock.Acquire()
	defer n.lock.Release()
	n.waiters = append(n.waiters, w)
}
func (n *InputNode) ClearPollWaiter(w vfs.PollWaiter) {
	n.lock.Acquire()
	defer n.lock.Release()
	for i, existing := range n.waiters {
		if existing == w {
			n.waiters = append(n.waiters[:i], n.waiters[i+1:]...)
			return
		}
	}
}

// InputDevice drives a virtio-input device: it keeps inputQueueSize 8-byte
// receive buffers perpetually posted on queue 0 and decodes each completion
// into the node's event queue.
//
// There is no PLIC driver: Drain runs from kmain's drainInputDevices,
// installed as trap.ExternalInterruptFn, so events reach the node only
// when a supervisor external interrupt traps in from user mode.
// InputNode.ReadAt never calls Drain itself.
type InputDevice struct {
	mmio  *MMIO
	queue *Virtqueue
	node  *InputNode

	// buffers maps a descriptor chain's head index to the receive buffer
	// posted under it, so a completion (identified only by that index)
	// can be decoded and the same buffer recycled back onto the queue.
	buffers map[uint16][]byte
}

// NewInputDevice probes base for a virtio-input device, negotiates
// features, brings its event queue online and pre-posts every receive
// buffer.
func NewInputDevice(base uintptr, nodeID uint64) (*InputDevice, *kernel.Error) {
	m := NewMMIO(base)
	if !m.Probe() || m.DeviceID() != DeviceIDInput {
		return nil, errNotInputDevice
	}
	if !m.Negotiate() {
		return nil, errNegotiate
	}

	m.SelectQueue(0)
	max := m.QueueMaxSize()
	size := uint16(inputQueueSize)
	if max < uint32(size) {
		size = uint16(max)
	}
	queue, err := NewVirtqueue(size)
	if err != nil {
		m.SetStatus(StatusFailed)
		return nil, err
	}
	m.SetQueueSize(uint32(size))
	m.SetQueueAlign(PageSizeForAlign)
	m.SetQueuePFN(queue.PFN())
	m.SetQueueReady(1)
	m.SetStatus(StatusAcknowledge | StatusDriver | StatusFeaturesOK | StatusDriverOK)

	d := &InputDevice{mmio: m, queue: queue, node: newInputNode(nodeID), buffers: make(map[uint16][]byte, size)}
	for i := uint16(0); i < size; i++ {
		d.postBuffer()
	}
	return d, nil
}

// Node returns the /dev/input/eventX inode this device forwards decoded
// events into.
func (d *InputDevice) Node() *InputNode { return d.node }

func (d *InputDevice) postBuffer() {
	buf := make([]byte, inputEventBytes)
	head, ok := d.queue.AddBuffer(nil, [][]byte{buf})
	if !ok {
		return
	}
	d.buffers[head] = buf
	d.queue.AddToAvail(head)
	d.mmio.NotifyQueue(0)
}

// Drain pulls every completed receive buffer off the queue, decodes it into
// an InputEvent on the node, and re-posts a fresh buffer in its place.
// Its one caller is kmain's external-interrupt hook (see InputDevice).
func (d *InputDevice) Drain() {
	for {
		elem, ok := d.queue.Used()
		if !ok {
			return
		}
		buf, found := d.buffers[uint16(elem.ID)]
		if found {
			delete(d.buffers, uint16(elem.ID))
			if elem.Len >= inputEventBytes {
				d.node.push(decodeInputEvent(buf))
			}
		}
		d.postBuffer()
	}
}
