package vmm

import (
	"rvkernel/kernel"
	"rvkernel/kernel/cpu"
	"rvkernel/kernel/mem"
	"rvkernel/kernel/mem/pmm"
	"rvkernel/kernel/mem/pmm/allocator"
	"rvkernel/kernel/sync"
)

var (
	errRegionOverlap  = &kernel.Error{Module: "vmm", Message: "region overlaps an existing region"}
	errNoSuchRegion   = &kernel.Error{Module: "vmm", Message: "no region starts at the given address"}
	errNotTrailing    = &kernel.Error{Module: "vmm", Message: "shrink/append only operate on a region's trailing pages"}

	// trampolineFrame backs the single kernel trampoline page shared,
	// read-only from the mapping's perspective, by every address space.
	// Set once by trap.InstallTrampoline.
	trampolineFrame pmm.Frame
	trampolineSet    bool
)

// SetTrampolineFrame records the physical frame holding the trampoline code
// so that every subsequently created AddressSpace maps it. Called once
// during boot after the trampoline page has been populated.
func SetTrampolineFrame(frame pmm.Frame) {
	trampolineFrame = frame
	trampolineSet = true
}

// AddressSpace is an ordered collection of non-overlapping Regions over a
// single Sv39 page table, plus the heap and stack bookkeeping syscalls like
// brk/mmap need.
type AddressSpace struct {
	lock sync.Spinlock

	Table   *RootTable
	regions []*Region

	HeapBase, HeapTop uintptr
	StackTop          uintptr // exclusive end of the user stack region (guard page sits below it)
}

// New creates an empty address space with the trampoline page already
// mapped.
func New() (*AddressSpace, *kernel.Error) {
	table, err := NewRootTable()
	if err != nil {
		return nil, err
	}
	as := &AddressSpace{Table: table}
	if err := as.mapTrampoline(); err != nil {
		table.Teardown()
		return nil, err
	}
	return as, nil
}

func (as *AddressSpace) mapTrampoline() *kernel.Error {
	if !trampolineSet {
		return nil
	}
	return as.Table.Map(mem.TrampolineVA, trampolineFrame, PermRead|PermExec)
}

// SetTrapContext maps the per-task trap-context frame at its fixed VA with
// R+W, no U, permissions.
func (as *AddressSpace) SetTrapContext(frame pmm.Frame) *kernel.Error {
	return as.Table.Map(mem.TrapContextVA, frame, PermRead|PermWrite)
}

// PushRegion creates a new region spanning [start, start+size), backs it
// with freshly allocated frames (unless kind is KindIdentity), copies
// initData into the beginning of the region and zero-fills the rest, then
// installs the mappings. size is rounded up to a page boundary.
func (as *AddressSpace) PushRegion(start uintptr, size mem.Size, kind RegionKind, perm Permission, initData []byte) (*Region, *kernel.Error) {
	as.lock.Acquire()
	defer as.lock.Release()

	size = (size + mem.PageSize - 1) &^ (mem.PageSize - 1)
	end := start + uintptr(size)

	for _, r := range as.regions {
		if start < r.End && end > r.Start {
			return nil, errRegionOverlap
		}
	}

	region := &Region{Start: start, End: end, Kind: kind, Perm: perm}
	if kind == KindFramed {
		region.frames = make(map[uintptr]*pmm.Tracker)
	}

	copied := 0
	for page := start; page < end; page += uintptr(mem.PageSize) {
		var frame pmm.Frame
		if kind == KindFramed {
			tracker, err := allocator.Alloc()
			if err != nil {
				as.releaseRegionFrames(region)
				return nil, err
			}
			region.frames[page] = tracker
			frame = tracker.Frame()

			dst := physToVirt(frame.Address())
			mem.Memset(dst, 0, mem.PageSize)
			if copied < len(initData) {
				n := len(initData) - copied
				if n > int(mem.PageSize) {
					n = int(mem.PageSize)
				}
				copy(pageBytes(dst)[:n], initData[copied:copied+n])
				copied += n
			}
		} else {
			frame = pmm.FrameFromAddress(page)
		}

		if err := as.Table.Map(page, frame, perm); err != nil {
			as.releaseRegionFrames(region)
			return nil, err
		}
	}

	as.regions = append(as.regions, region)
	return region, nil
}

func (as *AddressSpace) releaseRegionFrames(r *Region) {
	for _, t := range r.frames {
		t.Release()
	}
}

// AppendRegion grows the region that starts at start so that it ends at
// newEnd, mapping freshly allocated, zeroed frames for the new pages.
// Rejected (errNotTrailing) if newEnd is not strictly greater than the
// region's current end.
func (as *AddressSpace) AppendRegion(start uintptr, newEnd uintptr) *kernel.Error {
	as.lock.Acquire()
	defer as.lock.Release()

	region := as.findRegionLocked(start)
	if region == nil {
		return errNoSuchRegion
	}
	if newEnd <= region.End {
		return errNotTrailing
	}

	newEnd = (newEnd + uintptr(mem.PageSize) - 1) &^ (uintptr(mem.PageSize) - 1)
	for page := region.End; page < newEnd; page += uintptr(mem.PageSize) {
		tracker, err := allocator.Alloc()
		if err != nil {
			return err
		}
		mem.Memset(physToVirt(tracker.Frame().Address()), 0, mem.PageSize)
		if err := as.Table.Map(page, tracker.Frame(), region.Perm); err != nil {
			tracker.Release()
			return err
		}
		region.frames[page] = tracker
	}
	region.End = newEnd
	return nil
}

// ShrinkRegion shrinks the region that starts at start so that it ends at
// newEnd, unmapping and releasing the frames for the removed trailing
// pages. Rejected (errNotTrailing) unless start <= newEnd < region.End;
// newEnd == start shrinks the region to zero length.
func (as *AddressSpace) ShrinkRegion(start uintptr, newEnd uintptr) *kernel.Error {
	as.lock.Acquire()
	defer as.lock.Release()

	region := as.findRegionLocked(start)
	if region == nil {
		return errNoSuchRegion
	}
	if newEnd >= region.End || newEnd < region.Start {
		return errNotTrailing
	}

	newEnd = (newEnd + uintptr(mem.PageSize) - 1) &^ (uintptr(mem.PageSize) - 1)
	for page := newEnd; page < region.End; page += uintptr(mem.PageSize) {
		as.Table.Unmap(page)
		if t, ok := region.frames[page]; ok {
			t.Release()
			delete(region.frames, page)
		}
		cpu.FlushTLBEntry(page)
	}
	region.End = newEnd
	return nil
}

// RemoveRegion unmaps and releases every frame owned by the region starting
// at start, then drops it from the address space.
func (as *AddressSpace) RemoveRegion(start uintptr) *kernel.Error {
	as.lock.Acquire()
	defer as.lock.Release()

	for i, r := range as.regions {
		if r.Start != start {
			continue
		}
		for page := r.Start; page < r.End; page += uintptr(mem.PageSize) {
			as.Table.Unmap(page)
			cpu.FlushTLBEntry(page)
		}
		as.releaseRegionFrames(r)
		as.regions = append(as.regions[:i], as.regions[i+1:]...)
		return nil
	}
	return errNoSuchRegion
}

// FindRegion returns the region containing va, or nil.
func (as *AddressSpace) FindRegion(va uintptr) *Region {
	as.lock.Acquire()
	defer as.lock.Release()
	for _, r := range as.regions {
		if r.Contains(va) {
			return r
		}
	}
	return nil
}

func (as *AddressSpace) findRegionLocked(start uintptr) *Region {
	for _, r := range as.regions {
		if r.Start == start {
			return r
		}
	}
	return nil
}

// Translate walks this address space's page table and returns the physical
// address va maps to.
func (as *AddressSpace) Translate(va uintptr) (uintptr, *kernel.Error) {
	return as.Table.Translate(va)
}

// Activate installs this address space's root table into satp and performs
// the full-fence TLB invalidate the switch requires.
func (as *AddressSpace) Activate() {
	cpu.WriteSatp(as.Token())
}

// Token returns the satp value (mode, ASID=0, root PPN) that activates this
// address space, for callers (task/sched's context-switch path) that hand
// it to trap.ReturnToUser rather than writing satp directly.
func (as *AddressSpace) Token() uint64 {
	return cpu.SatpToken(uint64(as.Table.Root()))
}

// Clone derives a new, independent AddressSpace from as: every region is
// reproduced with the same VA range and permissions but freshly allocated
// frames whose contents are copied verbatim. No copy-on-write is performed.
func (as *AddressSpace) Clone() (*AddressSpace, *kernel.Error) {
	as.lock.Acquire()
	defer as.lock.Release()

	child, err := New()
	if err != nil {
		return nil, err
	}
	child.HeapBase, child.HeapTop, child.StackTop = as.HeapBase, as.HeapTop, as.StackTop

	for _, r := range as.regions {
		size := mem.Size(r.End - r.Start)
		var initData []byte
		if r.Kind == KindFramed {
			// Stage the parent's bytes page by page since pages
			// backing a single region need not be physically
			// contiguous.
			initData = make([]byte, 0, size)
			for page := r.Start; page < r.End; page += uintptr(mem.PageSize) {
				src := physToVirt(r.frames[page].Frame().Address())
				initData = append(initData, pageBytes(src)...)
			}
		}
		if _, err := child.PushRegion(r.Start, size, r.Kind, r.Perm, initData); err != nil {
			return nil, err
		}
	}
	return child, nil
}

// Teardown releases every region's frames and the page table itself. Called
// on task exit.
func (as *AddressSpace) Teardown() {
	as.lock.Acquire()
	regions := as.regions
	as.regions = nil
	as.lock.Release()

	for _, r := range regions {
		as.releaseRegionFrames(r)
	}
	as.Table.Teardown()
}
