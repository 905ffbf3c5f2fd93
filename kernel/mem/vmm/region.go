package vmm

import (
	"rvkernel/kernel/mem"
	"rvkernel/kernel/mem/pmm"
)

// RegionKind distinguishes a region backed by dedicated physical frames from
// one that maps physical memory directly (used only for the kernel's own
// address space, which identity-maps all of DRAM).
type RegionKind uint8

const (
	// KindFramed regions own one physical frame per mapped page.
	KindFramed RegionKind = iota
	// KindIdentity regions map VA == PA and own no frames of their own.
	KindIdentity
)

// Region is a contiguous, non-overlapping slice of an AddressSpace's virtual
// address range.
type Region struct {
	Start, End uintptr // [Start, End), page-aligned
	Kind       RegionKind
	Perm       Permission

	// frames maps a page-aligned VA within [Start, End) to the tracker
	// that owns its backing frame. Only populated for KindFramed
	// regions.
	frames map[uintptr]*pmm.Tracker
}

// Contains reports whether va falls within this region.
func (r *Region) Contains(va uintptr) bool {
	return va >= r.Start && va < r.End
}

// Pages returns the number of pages spanned by the region.
func (r *Region) Pages() int {
	return int((r.End - r.Start) / uintptr(mem.PageSize))
}
