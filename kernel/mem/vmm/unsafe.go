package vmm

import (
	"rvkernel/kernel/mem"
	"unsafe"
)

// pageBytes returns a byte slice view of the single page whose kernel VA is
// addr. Used to move data into and out of frames that are already mapped
// into the kernel's own address space via PhysToVirtOffset.
func pageBytes(addr uintptr) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(mem.PageSize))
}
