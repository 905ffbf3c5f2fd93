package virtio

import (
	"encoding/binary"
	"rvkernel/kernel"
	"rvkernel/kernel/mem"
	"rvkernel/kernel/mem/pmm/allocator"
	"rvkernel/kernel/mem/vmm"
	"rvkernel/kernel/sync"
	"unsafe"
)

// Descriptor flags.
const (
	descFNext     uint16 = 1
	descFWrite    uint16 = 2
	descFIndirect uint16 = 4
)

var (
	errQueueSize  = &kernel.Error{Module: "virtio", Message: "queue size must be a non-zero power of 2"}
	errQueueFull  = &kernel.Error{Module: "virtio", Message: "virtqueue has no free descriptors for this request"}
)

// VirtqDesc is one entry of the device-visible descriptor table, laid out
// exactly as the VirtIO legacy spec requires (16 bytes: 8+4+2+2).
type VirtqDesc struct {
	Addr  uint64
	Len   uint32
	Flags uint16
	Next  uint16
}

const descSize = 16 // unsafe.Sizeof(VirtqDesc{}), spelled out since the ABI layout matters more than the Go value here

// allocQueueFrames reserves n physically contiguous, zeroed pages and
// returns the kernel VA the caller can read/write them through plus a
// release callback. Indirected so host tests can back a queue with a plain
// Go allocation instead of the real frame allocator (which is unseeded
// outside of a booted kernel) -- the same seam idiom as `driver/console`'s
// `regLoadFn`/`driver/console`'s MMIO load/store functions.
var allocQueueFrames = func(pages int) (uintptr, func(), *kernel.Error) {
	tracker, err := allocator.AllocContiguous(pages)
	if err != nil {
		return 0, nil, err
	}
	va := vmm.PhysToVirtOffset + tracker.Frame().Address()
	mem.Memset(va, 0, mem.Size(pages)*mem.PageSize)
	return va, tracker.Release, nil
}

// Virtqueue is one legacy split virtqueue: a descriptor table, an available
// ring and a used ring, all carved out of one physically contiguous
// allocation so a single page-frame-number publishes the whole queue to
// the device (the legacy MMIO transport's QUEUE_PFN register).
type Virtqueue struct {
	lock sync.Spinlock

	size     uint16
	base     uintptr // kernel VA of the whole queue allocation
	descVA   uintptr
	availVA  uintptr
	usedVA   uintptr

	freeHead    uint16
	numFree     uint16
	lastUsedIdx uint16
	availIdx    uint16

	// shadow holds the driver's view of the descriptor table in ordinary
	// memory; writes land here first and are only then copied into the
	// device-visible table (descVA), so the device never observes a
	// half-updated descriptor while the driver is still rebuilding a
	// chain.
	shadow []VirtqDesc

	release func()
}

// NewVirtqueue allocates and initializes a virtqueue of size descriptors.
// size must be a power of 2, matching the legacy transport's requirement.
func NewVirtqueue(size uint16) (*Virtqueue, *kernel.Error) {
	if size == 0 || size&(size-1) != 0 {
		return nil, errQueueSize
	}

	descBytes := int(size) * descSize
	availBytes := 4 + 2*int(size) + 2
	availOffset := descBytes
	usedOffset := (availOffset + availBytes + PageSizeForAlign - 1) &^ (PageSizeForAlign - 1)
	usedBytes := 4 + 8*int(size) + 2
	total := usedOffset + usedBytes
	pages := (total + int(mem.PageSize) - 1) / int(mem.PageSize)

	base, release, err := allocQueueFrames(pages)
	if err != nil {
		return nil, err
	}

	q := &Virtqueue{
		size:    size,
		base:    base,
		descVA:  base,
		availVA: base + uintptr(availOffset),
		usedVA:  base + uintptr(usedOffset),
		numFree: size,
		shadow:  make([]VirtqDesc, size),
		release: release,
	}
	for i := uint16(0); i < size; i++ {
		next := i + 1
		if i == size-1 {
			next = 0
		}
		q.shadow[i] = VirtqDesc{Next: next}
		q.writeDesc(i)
	}
	return q, nil
}

// PFN returns the queue's base address as a page frame number, the value
// the legacy transport's QUEUE_PFN register expects.
func (q *Virtqueue) PFN() uint32 { return uint32(q.base >> mem.PageShift) }

// Release returns the queue's backing pages to the frame allocator. Not
// called anywhere in the normal boot path -- devices live for the lifetime
// of the kernel -- but kept for symmetry with every other frame owner in
// this tree.
func (q *Virtqueue) Release() {
	if q.release != nil {
		q.release()
	}
}

func (q *Virtqueue) descSlot(i uint16) uintptr { return q.descVA + uintptr(i)*descSize }

func (q *Virtqueue) writeDesc(i uint16) {
	d := q.shadow[i]
	addr := q.descSlot(i)
	binary.LittleEndian.PutUint64(memAt(addr, 8), d.Addr)
	binary.LittleEndian.PutUint32(memAt(addr+8, 4), d.Len)
	binary.LittleEndian.PutUint16(memAt(addr+12, 2), d.Flags)
	binary.LittleEndian.PutUint16(memAt(addr+14, 2), d.Next)
}

// memAt views count bytes of raw memory at addr as a byte slice, used only
// to route descriptor/ring field updates through encoding/binary instead of
// unaligned pointer casts.
func memAt(addr uintptr, count int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), count)
}

// AddBuffer chains descriptors for inputs (device-readable) followed by
// outputs (device-writable) starting at freeHead, updating the shadow table
// first and then the device-visible one. Returns the chain's head index and
// true, or false if the queue does not have enough free descriptors.
func (q *Virtqueue) AddBuffer(inputs [][]byte, outputs [][]byte) (uint16, bool) {
	q.lock.Acquire()
	defer q.lock.Release()

	total := uint16(len(inputs) + len(outputs))
	if total == 0 || q.numFree < total {
		return 0, false
	}

	head := q.freeHead
	idx := head

	place := func(addr uint64, length uint32, flags uint16, hasMore bool) {
		if hasMore {
			flags |= descFNext
		}
		next := q.shadow[idx].Next
		q.shadow[idx] = VirtqDesc{Addr: addr, Len: length, Flags: flags, Next: next}
		q.writeDesc(idx)
		if hasMore {
			idx = next
		}
	}

	for i, in := range inputs {
		more := i < len(inputs)-1 || len(outputs) > 0
		place(bufAddr(in), uint32(len(in)), 0, more)
	}
	for i, out := range outputs {
		more := i < len(outputs)-1
		place(bufAddr(out), uint32(len(out)), descFWrite, more)
	}

	q.freeHead = q.shadow[idx].Next
	q.numFree -= total
	return head, true
}

// bufAddr returns the address a real device would DMA to/from for buf. This
// core's DRAM is mapped 1:1 under vmm.PhysToVirtOffset, so a buffer's
// device-visible address is just its Go address with that offset
// subtracted back out -- there is no separate bounce-buffer or IOMMU step.
func bufAddr(buf []byte) uint64 {
	if len(buf) == 0 {
		return 0
	}
	return uint64(uintptr(unsafe.Pointer(&buf[0])) - vmm.PhysToVirtOffset)
}

// AddToAvail publishes head to the device by writing it into the available
// ring and advancing avail.idx. The ring-slot write and the idx update are
// two separate stores; the device must never observe the idx advance
// before the slot write. That ordering is provided by this queue's own
// spinlock rather than a hardware fence, since
// every producer and the (software, polling) consumer of this core's
// virtqueues only ever observe it while holding or having just released
// that lock.
func (q *Virtqueue) AddToAvail(head uint16) {
	q.lock.Acquire()
	defer q.lock.Release()

	slot := q.availIdx & (q.size - 1)
	ringAddr := q.availVA + 4 + uintptr(slot)*2
	binary.LittleEndian.PutUint16(memAt(ringAddr, 2), head)

	q.availIdx++
	binary.LittleEndian.PutUint16(memAt(q.availVA+2, 2), q.availIdx)
}

// usedElem mirrors one VirtqUsedElem: a descriptor chain's head
// index and the number of bytes the device wrote into it.
type usedElem struct {
	ID  uint32
	Len uint32
}

// Used reports the next completed descriptor chain the device has not yet
// handed back to the driver, recycling its descriptors into the free list
// before returning. Returns false once the driver has caught up to the
// device's used.idx.
func (q *Virtqueue) Used() (usedElem, bool) {
	q.lock.Acquire()
	defer q.lock.Release()

	usedIdx := binary.LittleEndian.Uint16(memAt(q.usedVA+2, 2))
	if q.lastUsedIdx == usedIdx {
		return usedElem{}, false
	}

	slot := q.lastUsedIdx & (q.size - 1)
	elemAddr := q.usedVA + 4 + uintptr(slot)*8
	elem := usedElem{
		ID:  binary.LittleEndian.Uint32(memAt(elemAddr, 4)),
		Len: binary.LittleEndian.Uint32(memAt(elemAddr+4, 4)),
	}
	q.lastUsedIdx++

	if elem.ID >= uint32(q.size) {
		return usedElem{}, false
	}
	q.recycle(uint16(elem.ID))
	return elem, true
}

func (q *Virtqueue) recycle(head uint16) {
	idx := head
	for {
		d := q.shadow[idx]
		hasNext := d.Flags&descFNext != 0
		q.shadow[idx] = VirtqDesc{Next: q.freeHead}
		q.writeDesc(idx)
		q.freeHead = idx
		q.numFree++
		if !hasNext {
			return
		}
		idx = d.Next
		if idx >= q.size {
			return
		}
	}
}

// NumFree reports how many descriptors are currently unused, mostly useful
// to tests asserting a full recycle round-trip.
func (q *Virtqueue) NumFree() uint16 {
	q.lock.Acquire()
	defer q.lock.Release()
	return q.numFree
}
