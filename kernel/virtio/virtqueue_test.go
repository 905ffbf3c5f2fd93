package virtio

import (
	"encoding/binary"
	"testing"
	"unsafe"

	"rvkernel/kernel"
	"rvkernel/kernel/mem"
)

// liveQueueMem pins the Go allocations backing stubbed queues so the GC
// cannot collect memory a test's fake device still reads through raw
// addresses.
var liveQueueMem [][]byte

// stubQueueFrames backs allocQueueFrames with a plain page-aligned Go
// allocation so queues can be built without a seeded frame allocator.
func stubQueueFrames(t *testing.T) {
	t.Helper()
	orig := allocQueueFrames
	t.Cleanup(func() { allocQueueFrames = orig })
	allocQueueFrames = func(pages int) (uintptr, func(), *kernel.Error) {
		backing := make([]byte, (pages+1)*int(mem.PageSize))
		base := (uintptr(unsafe.Pointer(&backing[0])) + uintptr(mem.PageSize) - 1) &^ (uintptr(mem.PageSize) - 1)
		liveQueueMem = append(liveQueueMem, backing)
		return base, func() {}, nil
	}
}

// The helpers below play the device's half of the protocol: they read the
// device-visible table (not the shadow) and write the used ring, exactly
// as a hardware implementation observing the shared pages would.

func devDesc(q *Virtqueue, i uint16) VirtqDesc {
	addr := q.descSlot(i)
	return VirtqDesc{
		Addr:  binary.LittleEndian.Uint64(memAt(addr, 8)),
		Len:   binary.LittleEndian.Uint32(memAt(addr+8, 4)),
		Flags: binary.LittleEndian.Uint16(memAt(addr+12, 2)),
		Next:  binary.LittleEndian.Uint16(memAt(addr+14, 2)),
	}
}

func devAvailIdx(q *Virtqueue) uint16 {
	return binary.LittleEndian.Uint16(memAt(q.availVA+2, 2))
}

func devAvailRing(q *Virtqueue, slot uint16) uint16 {
	return binary.LittleEndian.Uint16(memAt(q.availVA+4+uintptr(slot)*2, 2))
}

func devComplete(q *Virtqueue, deviceUsedIdx *uint16, head uint32, length uint32) {
	slot := *deviceUsedIdx & (q.size - 1)
	elem := q.usedVA + 4 + uintptr(slot)*8
	binary.LittleEndian.PutUint32(memAt(elem, 4), head)
	binary.LittleEndian.PutUint32(memAt(elem+4, 4), length)
	*deviceUsedIdx++
	binary.LittleEndian.PutUint16(memAt(q.usedVA+2, 2), *deviceUsedIdx)
}

func TestNewVirtqueueRejectsBadSizes(t *testing.T) {
	stubQueueFrames(t)
	for _, size := range []uint16{0, 3, 100} {
		if _, err := NewVirtqueue(size); err != errQueueSize {
			t.Errorf("size %d: expected errQueueSize; got %v", size, err)
		}
	}
}

func TestAddBufferChainsDescriptors(t *testing.T) {
	stubQueueFrames(t)
	q, err := NewVirtqueue(8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	header := []byte{1, 2, 3, 4}
	data := make([]byte, 16)
	status := make([]byte, 1)

	head, ok := q.AddBuffer([][]byte{header}, [][]byte{data, status})
	if !ok {
		t.Fatal("expected AddBuffer to succeed on an empty queue")
	}
	if head != 0 {
		t.Fatalf("expected the first chain to start at descriptor 0; got %d", head)
	}
	if free := q.NumFree(); free != 5 {
		t.Errorf("expected 5 free descriptors after a 3-buffer chain; got %d", free)
	}

	d0 := devDesc(q, head)
	if d0.Flags != descFNext || d0.Len != uint32(len(header)) {
		t.Errorf("head descriptor: expected device-readable with NEXT, len %d; got flags %#x len %d", len(header), d0.Flags, d0.Len)
	}
	d1 := devDesc(q, d0.Next)
	if d1.Flags != descFNext|descFWrite || d1.Len != uint32(len(data)) {
		t.Errorf("data descriptor: expected WRITE|NEXT, len %d; got flags %#x len %d", len(data), d1.Flags, d1.Len)
	}
	d2 := devDesc(q, d1.Next)
	if d2.Flags != descFWrite || d2.Len != 1 {
		t.Errorf("status descriptor: expected WRITE and no NEXT; got flags %#x len %d", d2.Flags, d2.Len)
	}
}

func TestAddBufferFullQueue(t *testing.T) {
	stubQueueFrames(t)
	q, err := NewVirtqueue(2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	buf := make([]byte, 8)
	if _, ok := q.AddBuffer([][]byte{buf}, [][]byte{buf}); !ok {
		t.Fatal("expected the first 2-descriptor chain to fit in a size-2 queue")
	}
	if _, ok := q.AddBuffer([][]byte{buf}, nil); ok {
		t.Error("expected AddBuffer to fail once every descriptor is in flight")
	}
}

func TestAddToAvailPublishes(t *testing.T) {
	stubQueueFrames(t)
	q, err := NewVirtqueue(4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	head, _ := q.AddBuffer([][]byte{make([]byte, 8)}, nil)
	q.AddToAvail(head)

	if got := devAvailIdx(q); got != 1 {
		t.Errorf("expected avail.idx to advance to 1; got %d", got)
	}
	if got := devAvailRing(q, 0); got != head {
		t.Errorf("expected avail.ring[0] to hold head %d; got %d", head, got)
	}
}

func TestUsedRecyclesChain(t *testing.T) {
	stubQueueFrames(t)
	q, err := NewVirtqueue(8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	head, _ := q.AddBuffer([][]byte{make([]byte, 8)}, [][]byte{make([]byte, 8)})
	q.AddToAvail(head)

	var deviceUsed uint16
	devComplete(q, &deviceUsed, uint32(head), 8)

	elem, ok := q.Used()
	if !ok {
		t.Fatal("expected Used to report the completed chain")
	}
	if elem.ID != uint32(head) || elem.Len != 8 {
		t.Errorf("expected used element (%d, 8); got (%d, %d)", head, elem.ID, elem.Len)
	}
	if free := q.NumFree(); free != 8 {
		t.Errorf("expected all 8 descriptors free after the recycle; got %d", free)
	}

	// Re-posting a same-size chain must succeed and land the free count
	// back where it started.
	head2, ok := q.AddBuffer([][]byte{make([]byte, 8)}, [][]byte{make([]byte, 8)})
	if !ok {
		t.Fatal("expected a re-post after recycle to succeed")
	}
	q.AddToAvail(head2)
	devComplete(q, &deviceUsed, uint32(head2), 8)
	if _, ok := q.Used(); !ok {
		t.Fatal("expected the re-posted chain to complete")
	}
	if free := q.NumFree(); free != 8 {
		t.Errorf("expected the free count restored after the round trip; got %d", free)
	}
}

func TestUsedEmptyAndBogusID(t *testing.T) {
	stubQueueFrames(t)
	q, err := NewVirtqueue(4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := q.Used(); ok {
		t.Error("expected Used to report nothing on an idle queue")
	}

	var deviceUsed uint16
	devComplete(q, &deviceUsed, 99, 8)
	if _, ok := q.Used(); ok {
		t.Error("expected Used to discard an element whose id is out of range")
	}
}
