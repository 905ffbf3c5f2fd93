package vmm

import (
	"rvkernel/kernel"
	"rvkernel/kernel/mem"
	"rvkernel/kernel/mem/pmm"
	"rvkernel/kernel/mem/pmm/allocator"
	"unsafe"
)

var (
	// ErrInvalidMapping is returned when translating a virtual address
	// that has no present mapping.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}

	// errHugePageUnsupported signals an attempt to walk through a leaf
	// entry at a non-terminal level; the core never constructs huge
	// pages, so if one is observed it indicates in-tree corruption.
	errHugePageUnsupported = &kernel.Error{Module: "vmm", Message: "unexpected leaf entry at non-terminal paging level"}

	// PhysToVirtOffset is the delta such that kernelVA = physAddr +
	// PhysToVirtOffset. It is set once, by Init, to the offset the
	// kernel's own identity-style mapping of all DRAM uses; every table
	// walk dereferences physical addresses through it since the MMU is
	// already enabled once paging starts.
	PhysToVirtOffset uintptr
)

// Init records the kernel's physical-to-virtual offset used to dereference
// page table frames. Must run before any AddressSpace is built.
func Init(kernelOffset uintptr) {
	PhysToVirtOffset = kernelOffset
}

func physToVirt(addr uintptr) uintptr {
	return addr + PhysToVirtOffset
}

func tableAt(frame pmm.Frame) *[512]pageTableEntry {
	return (*[512]pageTableEntry)(unsafe.Pointer(physToVirt(frame.Address())))
}

// vpnParts splits a virtual address into its three Sv39 VPN fields,
// most-significant (level 2) first.
func vpnParts(va uintptr) [3]uint64 {
	return [3]uint64{
		(uint64(va) >> 30) & 0x1FF,
		(uint64(va) >> 21) & 0x1FF,
		(uint64(va) >> 12) & 0x1FF,
	}
}

// RootTable owns the physical frame holding the top-level (level-2) page
// table for one address space.
type RootTable struct {
	root *pmm.Tracker

	// tables tracks every intermediate (non-leaf) page-table frame this
	// root owns, keyed by its physical frame number, so Teardown can
	// release them without re-walking.
	tables map[pmm.Frame]*pmm.Tracker
}

// NewRootTable allocates and zeroes a fresh level-2 page table.
func NewRootTable() (*RootTable, *kernel.Error) {
	frame, err := allocator.Alloc()
	if err != nil {
		return nil, err
	}
	mem.Memset(physToVirt(frame.Frame().Address()), 0, mem.PageSize)
	return &RootTable{root: frame, tables: make(map[pmm.Frame]*pmm.Tracker)}, nil
}

// Root returns the physical frame of the top-level table, used to build the
// satp token.
func (rt *RootTable) Root() pmm.Frame {
	return rt.root.Frame()
}

// Map installs a leaf mapping from va's page to frame with the given
// permission, allocating any missing intermediate tables along the way.
func (rt *RootTable) Map(va uintptr, frame pmm.Frame, perm Permission) *kernel.Error {
	parts := vpnParts(va)
	table := tableAt(rt.root.Frame())

	for level := 0; level < 2; level++ {
		pte := &table[parts[level]]
		if !pte.HasFlags(FlagValid) {
			childFrame, err := allocator.Alloc()
			if err != nil {
				return err
			}
			mem.Memset(physToVirt(childFrame.Frame().Address()), 0, mem.PageSize)
			rt.tables[childFrame.Frame()] = childFrame

			*pte = 0
			pte.SetFrame(childFrame.Frame())
			pte.SetFlags(FlagValid)
		} else if pte.IsLeaf() {
			return errHugePageUnsupported
		}
		table = tableAt(pte.Frame())
	}

	leaf := &table[parts[2]]
	*leaf = 0
	leaf.SetFrame(frame)
	leaf.SetFlags(FlagValid | perm.pteFlags())
	return nil
}

// Unmap clears the leaf entry for va's page. It does not reclaim now-empty
// intermediate tables.
func (rt *RootTable) Unmap(va uintptr) *kernel.Error {
	pte, err := rt.leafEntry(va)
	if err != nil {
		return err
	}
	pte.ClearFlags(FlagValid)
	return nil
}

// Translate returns the physical address va maps to, or ErrInvalidMapping.
func (rt *RootTable) Translate(va uintptr) (uintptr, *kernel.Error) {
	pte, err := rt.leafEntry(va)
	if err != nil {
		return 0, err
	}
	return pte.Frame().Address() | (va & uintptr(mem.PageSize-1)), nil
}

func (rt *RootTable) leafEntry(va uintptr) (*pageTableEntry, *kernel.Error) {
	parts := vpnParts(va)
	table := tableAt(rt.root.Frame())

	for level := 0; level < 2; level++ {
		pte := &table[parts[level]]
		if !pte.HasFlags(FlagValid) {
			return nil, ErrInvalidMapping
		}
		table = tableAt(pte.Frame())
	}

	leaf := &table[parts[2]]
	if !leaf.HasFlags(FlagValid) {
		return nil, ErrInvalidMapping
	}
	return leaf, nil
}

// Teardown releases every frame this root table owns: its own frame and
// every intermediate table frame. Leaf (region) frames are released
// separately by the owning Region.
func (rt *RootTable) Teardown() {
	for _, t := range rt.tables {
		t.Release()
	}
	rt.tables = nil
	rt.root.Release()
}
