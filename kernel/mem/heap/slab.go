// Package heap implements the kernel's SLAB allocator: a fixed set of
// object-size classes, each backed by a list of slabs where one slab is one
// physical frame subdivided into fixed-size objects. Free objects within a
// slab are linked by index rather than by pointer, the same arena+index
// trick the virtqueue free chain uses, so a slab can be validated and its
// shadow state reasoned about without ever trusting a raw pointer handed
// back by a caller.
package heap

import (
	"rvkernel/kernel"
	"rvkernel/kernel/mem"
	"rvkernel/kernel/mem/pmm"
	"rvkernel/kernel/mem/pmm/allocator"
	"rvkernel/kernel/mem/vmm"
	"rvkernel/kernel/sync"
	"unsafe"
)

// sizeClasses are the object sizes this cache serves, smallest first.
var sizeClasses = [...]uint32{8, 16, 32, 64, 128, 256, 512, 1024, 2048}

var (
	errRequestTooLarge = &kernel.Error{Module: "heap", Message: "requested size exceeds the largest slab class"}
	errBadPointer      = &kernel.Error{Module: "heap", Message: "pointer does not belong to any slab"}
	errOutOfMemory     = &kernel.Error{Module: "heap", Message: "out of memory"}

	caches [len(sizeClasses)]cache
)

// Init prepares every size-class cache. Must run once, after the frame
// allocator has been seeded.
func Init() {
	for i, class := range sizeClasses {
		caches[i].objectSize = class
	}
}

// Alloc reserves size bytes, satisfying align if requested, from the
// smallest class able to hold it. Requests larger than the largest class
// (2048 bytes) fail; callers are expected to fall back to direct page
// allocation.
func Alloc(size, align uint32) (uintptr, *kernel.Error) {
	classIndex := classFor(size, align)
	if classIndex < 0 {
		return 0, errRequestTooLarge
	}
	return caches[classIndex].alloc()
}

// Dealloc returns an object previously returned by Alloc to its slab's free
// list.
func Dealloc(addr uintptr, size, align uint32) *kernel.Error {
	classIndex := classFor(size, align)
	if classIndex < 0 {
		return errRequestTooLarge
	}
	return caches[classIndex].dealloc(addr)
}

func classFor(size, align uint32) int {
	need := size
	if align > need {
		need = align
	}
	for i, class := range sizeClasses {
		if class >= need {
			return i
		}
	}
	return -1
}

// cache owns every slab serving one size class.
type cache struct {
	lock       sync.Spinlock
	objectSize uint32
	slabs      []*slab
}

// reserveSlabs is the number of fully-empty slabs a cache keeps around
// before returning frames to the frame allocator.
const reserveSlabs = 1

func (c *cache) alloc() (uintptr, *kernel.Error) {
	c.lock.Acquire()
	defer c.lock.Release()

	for _, s := range c.slabs {
		if s.freeCount > 0 {
			return s.allocObject(), nil
		}
	}

	s, err := newSlab(c.objectSize)
	if err != nil {
		return 0, err
	}
	c.slabs = append(c.slabs, s)
	return s.allocObject(), nil
}

func (c *cache) dealloc(addr uintptr) *kernel.Error {
	c.lock.Acquire()
	defer c.lock.Release()

	for i, s := range c.slabs {
		if !s.owns(addr) {
			continue
		}
		s.freeObject(addr)

		if s.freeCount == s.objectCount {
			emptyCount := 0
			for _, other := range c.slabs {
				if other.freeCount == other.objectCount {
					emptyCount++
				}
			}
			if emptyCount > reserveSlabs {
				s.frame.Release()
				c.slabs = append(c.slabs[:i], c.slabs[i+1:]...)
			}
		}
		return nil
	}
	return errBadPointer
}

// slab subdivides one physical frame into fixed-size objects, linked into a
// free list by index via the first bytes of each free object.
type slab struct {
	base        uintptr // kernel-accessible VA of the frame
	objectSize  uint32
	objectCount uint32
	freeHead    uint32 // index of first free object, or objectCount if empty
	freeCount   uint32
	frame       *pmm.Tracker
}

func newSlab(objectSize uint32) (*slab, *kernel.Error) {
	frame, err := allocator.Alloc()
	if err != nil {
		return nil, errOutOfMemory
	}

	base := frame.Frame().Address() + vmm.PhysToVirtOffset
	count := uint32(mem.PageSize) / objectSize

	s := &slab{
		base:        base,
		objectSize:  objectSize,
		objectCount: count,
		freeCount:   count,
		frame:       frame,
	}

	for i := uint32(0); i < count; i++ {
		next := i + 1
		s.nodeAt(i).next = next
	}
	s.freeHead = 0
	return s, nil
}

// freeNode is the free-list link embedded in every free object's first
// four bytes.
type freeNode struct {
	next uint32
}

// nodePtrFn resolves a VA to the memory backing it. Overridden in tests so a
// slab can be exercised against an ordinary Go byte slice instead of a frame
// mapped through vmm.PhysToVirtOffset.
var nodePtrFn = func(addr uintptr) unsafe.Pointer {
	return unsafe.Pointer(addr)
}

func (s *slab) nodeAt(index uint32) *freeNode {
	addr := s.base + uintptr(index)*uintptr(s.objectSize)
	return (*freeNode)(nodePtrFn(addr))
}

func (s *slab) owns(addr uintptr) bool {
	return addr >= s.base && addr < s.base+uintptr(mem.PageSize)
}

func (s *slab) allocObject() uintptr {
	index := s.freeHead
	s.freeHead = s.nodeAt(index).next
	s.freeCount--
	return s.base + uintptr(index)*uintptr(s.objectSize)
}

func (s *slab) freeObject(addr uintptr) {
	index := uint32((addr - s.base) / uintptr(s.objectSize))
	s.nodeAt(index).next = s.freeHead
	s.freeHead = index
	s.freeCount++
}
