package heap

import (
	"testing"
	"unsafe"
)

// newTestSlab builds a slab backed by an ordinary Go byte slice instead of a
// physical frame, so the free-list bookkeeping can be exercised without the
// frame allocator or vmm.PhysToVirtOffset.
func newTestSlab(objectSize uint32, pageSize int) (*slab, []byte) {
	buf := make([]byte, pageSize)
	base := uintptr(unsafe.Pointer(&buf[0]))
	count := uint32(pageSize) / objectSize

	s := &slab{
		base:        base,
		objectSize:  objectSize,
		objectCount: count,
		freeCount:   count,
	}
	for i := uint32(0); i < count; i++ {
		s.nodeAt(i).next = i + 1
	}
	s.freeHead = 0
	return s, buf
}

func TestSlabAllocFreeRoundTrip(t *testing.T) {
	s, _ := newTestSlab(64, 4096)
	if s.freeCount != 64 {
		t.Fatalf("expected 64 free objects; got %d", s.freeCount)
	}

	var allocated []uintptr
	for i := 0; i < int(s.objectCount); i++ {
		addr := s.allocObject()
		allocated = append(allocated, addr)
	}
	if s.freeCount != 0 {
		t.Errorf("expected slab to be fully allocated; freeCount=%d", s.freeCount)
	}

	seen := make(map[uintptr]bool)
	for _, addr := range allocated {
		if seen[addr] {
			t.Fatalf("address %x handed out twice", addr)
		}
		seen[addr] = true
		if !s.owns(addr) {
			t.Errorf("slab does not claim ownership of its own object %x", addr)
		}
	}

	for _, addr := range allocated {
		s.freeObject(addr)
	}
	if s.freeCount != s.objectCount {
		t.Errorf("expected every object to be free again; freeCount=%d objectCount=%d", s.freeCount, s.objectCount)
	}

	reAlloc := s.allocObject()
	if !s.owns(reAlloc) {
		t.Errorf("reallocated address %x not owned by slab", reAlloc)
	}
}

func TestSlabOwnership(t *testing.T) {
	s, _ := newTestSlab(128, 4096)
	if !s.owns(s.base) {
		t.Error("slab should own its first byte")
	}
	if s.owns(s.base - 1) {
		t.Error("slab should not own the byte before it starts")
	}
	if s.owns(s.base + 4096) {
		t.Error("slab should not own the byte past its last page")
	}
}

func TestClassFor(t *testing.T) {
	specs := []struct {
		size, align uint32
		want        int
	}{
		{size: 1, align: 0, want: 0},
		{size: 8, align: 0, want: 0},
		{size: 9, align: 0, want: 1},
		{size: 2048, align: 0, want: len(sizeClasses) - 1},
		{size: 2049, align: 0, want: -1},
		{size: 4, align: 64, want: 3},
	}
	for i, spec := range specs {
		got := classFor(spec.size, spec.align)
		if got != spec.want {
			t.Errorf("[spec %d] classFor(%d, %d) = %d; want %d", i, spec.size, spec.align, got, spec.want)
		}
	}
}
