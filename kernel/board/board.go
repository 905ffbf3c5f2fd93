// Package board holds the process-wide board description produced by
// parsing the device tree blob exactly once on the boot hart. Every other
// subsystem that needs to know the hart count, the UART base or the
// available memory regions calls Get after Init has run.
package board

import "rvkernel/kernel/dtb"

var current *dtb.BoardInfo

// Init records info as the kernel-wide board description. Must be called
// exactly once, by the boot hart, before any other hart or subsystem calls
// Get.
func Init(info *dtb.BoardInfo) {
	current = info
}

// Get returns the board description recorded by Init. Calling Get before
// Init has run returns nil; callers on the boot path are expected to order
// their initialization so that never happens.
func Get() *dtb.BoardInfo {
	return current
}

// HartCount returns the number of harts discovered in the device tree.
func HartCount() int {
	if current == nil {
		return 0
	}
	return len(current.Harts)
}

// VisitMemRegions invokes fn for every available memory region reported by
// the device tree, in the order they were discovered. Modeled on the
// bootloader-info visitor pattern the early frame allocator relies on.
func VisitMemRegions(fn func(dtb.MemRegion) bool) {
	if current == nil {
		return
	}
	for _, r := range current.Memory {
		if !fn(r) {
			return
		}
	}
}
