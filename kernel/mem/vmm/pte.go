// Package vmm implements the Sv39 page tables and the region-based address
// spaces built on top of them.
package vmm

import (
	"rvkernel/kernel/mem/pmm"
)

// PTEFlag describes a single bit of a Sv39 page table entry.
type PTEFlag uint64

const (
	// FlagValid marks the entry as present; a walk stops at the first
	// entry missing this flag.
	FlagValid PTEFlag = 1 << 0
	// FlagRead / FlagWrite / FlagExec control the access permitted to a
	// leaf entry. A non-leaf (pointer-to-next-table) entry has all three
	// clear.
	FlagRead  PTEFlag = 1 << 1
	FlagWrite PTEFlag = 1 << 2
	FlagExec  PTEFlag = 1 << 3
	// FlagUser allows U-mode access; without it only S-mode code may use
	// the mapping.
	FlagUser PTEFlag = 1 << 4
	// FlagGlobal marks a mapping present in every address space so the
	// hardware need not flush it on an satp switch. No mapping in this
	// tree sets it; the trampoline page is mapped without it.
	FlagGlobal PTEFlag = 1 << 5
	// FlagAccessed / FlagDirty are set by hardware (or, on
	// implementations without hardware A/D management, must be
	// pre-set by software) on first access / first write.
	FlagAccessed PTEFlag = 1 << 6
	FlagDirty    PTEFlag = 1 << 7
)

const (
	ptePPNShift = 10
	ptePPNMask  = uint64(0xFFF_FFFF_FFFF) << ptePPNShift
)

// pageTableEntry is a single 8-byte Sv39 PTE.
type pageTableEntry uint64

// HasFlags returns true if every bit in flags is set.
func (pte pageTableEntry) HasFlags(flags PTEFlag) bool {
	return uint64(pte)&uint64(flags) == uint64(flags)
}

// SetFlags ORs flags into the entry.
func (pte *pageTableEntry) SetFlags(flags PTEFlag) {
	*pte = pageTableEntry(uint64(*pte) | uint64(flags))
}

// ClearFlags clears flags from the entry.
func (pte *pageTableEntry) ClearFlags(flags PTEFlag) {
	*pte = pageTableEntry(uint64(*pte) &^ uint64(flags))
}

// IsLeaf returns true if this entry maps a frame directly rather than
// pointing at the next-level table, i.e. R or X is set (W without R is a
// reserved encoding, so W alone is not checked).
func (pte pageTableEntry) IsLeaf() bool {
	return pte.HasFlags(FlagRead) || pte.HasFlags(FlagExec)
}

// Frame returns the physical frame this entry points to, whether it is a
// leaf mapping or the next page-table level.
func (pte pageTableEntry) Frame() pmm.Frame {
	return pmm.Frame((uint64(pte) & ptePPNMask) >> ptePPNShift)
}

// SetFrame updates the PPN field to point at frame.
func (pte *pageTableEntry) SetFrame(frame pmm.Frame) {
	*pte = pageTableEntry((uint64(*pte) &^ ptePPNMask) | (uint64(frame) << ptePPNShift))
}

// Permission is the RWXU set a Region (or a single Map call) establishes.
type Permission uint8

const (
	PermRead Permission = 1 << iota
	PermWrite
	PermExec
	PermUser
)

func (p Permission) pteFlags() PTEFlag {
	var f PTEFlag
	if p&PermRead != 0 {
		f |= FlagRead
	}
	if p&PermWrite != 0 {
		f |= FlagWrite
	}
	if p&PermExec != 0 {
		f |= FlagExec
	}
	if p&PermUser != 0 {
		f |= FlagUser
	}
	return f
}
