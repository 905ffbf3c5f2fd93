// Package goruntime contains code for bootstrapping Go runtime features such
// as the memory allocator.
package goruntime

import (
	"rvkernel/kernel"
	"rvkernel/kernel/board"
	"rvkernel/kernel/mem"
	"rvkernel/kernel/mem/pmm"
	"rvkernel/kernel/mem/pmm/allocator"
	"rvkernel/kernel/mem/vmm"
	"unsafe"
)

var (
	mapFn                = vmm.Map
	earlyReserveRegionFn = vmm.EarlyReserveRegion
	memsetFn             = mem.Memset
	frameAllocFn         = allocFrame
	mallocInitFn         = mallocInit
	algInitFn            = algInit
	modulesInitFn        = modulesInit
	typeLinksInitFn      = typeLinksInit
	itabsInitFn          = itabsInit
	initGoPackagesFn     = initGoPackages
	procResizeFn         = procResize

	// heapFrames keeps every frame handed to the Go runtime's own heap
	// reachable for the program's lifetime. Nothing ever calls Release on
	// them: the finalizer backing pmm.Tracker would otherwise hand a frame
	// the allocator is actively using back to the free list the moment the
	// Tracker value itself became unreachable.
	heapFrames []*pmm.Tracker

	// A seed for the pseudo-random number generator used by getRandomData
	prngSeed = 0xdeadc0de
)

//go:linkname algInit runtime.alginit
func algInit()

//go:linkname modulesInit runtime.modulesinit
func modulesInit()

//go:linkname typeLinksInit runtime.typelinksinit
func typeLinksInit()

//go:linkname itabsInit runtime.itabsinit
func itabsInit()

//go:linkname mallocInit runtime.mallocinit
func mallocInit()

//go:linkname mSysStatInc runtime.mSysStatInc
func mSysStatInc(*uint64, uintptr)

// allocFrame draws one physical frame from the stack allocator and pins its
// owning Tracker in heapFrames so the frame is never handed back.
func allocFrame() (pmm.Frame, *kernel.Error) {
	tracker, err := allocator.Alloc()
	if err != nil {
		return pmm.InvalidFrame, err
	}
	heapFrames = append(heapFrames, tracker)
	return tracker.Frame(), nil
}

// initGoPackages runs every kernel package's compiler-generated init()
// bodies now that malloc, maps, and interfaces are all usable. Nothing in
// this tree currently registers a package init task that depends on heap
// allocation, so this is presently a deliberate no-op kept as the hook
// future packages will need.
func initGoPackages() {}

// sysReserve reserves address space without allocating any memory or
// establishing any page mappings.
//
// This function replaces runtime.sysReserve and is required for initializing
// the Go allocator.
//
//go:redirect-from runtime.sysReserve
//go:nosplit
func sysReserve(_ unsafe.Pointer, size uintptr, reserved *bool) unsafe.Pointer {
	regionSize := (mem.Size(size) + mem.PageSize - 1) & ^(mem.PageSize - 1)
	regionStartAddr, err := earlyReserveRegionFn(regionSize)
	if err != nil {
		panic(err)
	}

	*reserved = true
	return unsafe.Pointer(regionStartAddr)
}

// sysMap commits a region previously reserved via sysReserve by mapping
// real, zeroed frames into it.
//
// The upstream runtime.sysMap this replaces maps a shared copy-on-write zero
// page and relies on a page-fault handler to materialize real frames lazily.
// That scheme needs a working fault path back into this same allocator,
// which does not exist this early in boot, so sysMap instead commits real
// frames up front; see DESIGN.md for the tradeoff.
//
//go:redirect-from runtime.sysMap
//go:nosplit
func sysMap(virtAddr unsafe.Pointer, size uintptr, reserved bool, sysStat *uint64) unsafe.Pointer {
	if !reserved {
		panic("sysMap should only be called with reserved=true")
	}

	// We trust the allocator to call sysMap with an address inside a reserved region.
	regionStartAddr := (uintptr(virtAddr) + uintptr(mem.PageSize-1)) & ^uintptr(mem.PageSize-1)
	regionSize := (mem.Size(size) + mem.PageSize - 1) & ^(mem.PageSize - 1)

	perm := vmm.PermRead | vmm.PermWrite
	for page, mapped := regionStartAddr, mem.Size(0); mapped < regionSize; mapped += mem.PageSize {
		frame, err := frameAllocFn()
		if err != nil {
			return unsafe.Pointer(uintptr(0))
		}

		if err := mapFn(page, frame, perm); err != nil {
			return unsafe.Pointer(uintptr(0))
		}
		memsetFn(page, 0, mem.PageSize)
		page += uintptr(mem.PageSize)
	}

	mSysStatInc(sysStat, uintptr(regionSize))
	return unsafe.Pointer(regionStartAddr)
}

// sysAlloc reserves enough physical frames to satisfy the allocation request
// and establishes a contiguous virtual page mapping for them, returning a
// pointer to the start of the mapped region.
//
// This function replaces runtime.sysAlloc and is required for initializing
// the Go allocator.
//
//go:redirect-from runtime.sysAlloc
//go:nosplit
func sysAlloc(size uintptr, sysStat *uint64) unsafe.Pointer {
	regionSize := (mem.Size(size) + mem.PageSize - 1) & ^(mem.PageSize - 1)
	regionStartAddr, err := earlyReserveRegionFn(regionSize)
	if err != nil {
		return unsafe.Pointer(uintptr(0))
	}

	perm := vmm.PermRead | vmm.PermWrite
	for page, mapped := regionStartAddr, mem.Size(0); mapped < regionSize; mapped += mem.PageSize {
		frame, err := frameAllocFn()
		if err != nil {
			return unsafe.Pointer(uintptr(0))
		}

		if err = mapFn(page, frame, perm); err != nil {
			return unsafe.Pointer(uintptr(0))
		}
		memsetFn(page, 0, mem.PageSize)
		page += uintptr(mem.PageSize)
	}

	mSysStatInc(sysStat, uintptr(regionSize))
	return unsafe.Pointer(regionStartAddr)
}

// nanotime returns a monotonically increasing clock value. This is a dummy
// implementation and will be replaced once the timer package is wired in.
//
// This function replaces runtime.nanotime and is invoked by the Go allocator
// when a span allocation is performed.
//
//go:redirect-from runtime.nanotime
//go:nosplit
func nanotime() uint64 {
	// Use a dummy loop to prevent the compiler from inlining this function.
	for i := 0; i < 100; i++ {
	}
	return 1
}

// getRandomData populates the given slice with random data. The upstream
// runtime reads a random stream from /dev/random; with no such device here
// a simple PRNG stands in.
//
//go:redirect-from runtime.getRandomData
func getRandomData(r []byte) {
	for i := 0; i < len(r); i++ {
		prngSeed = (prngSeed * 58321) + 11113
		r[i] = byte((prngSeed >> 16) & 255)
	}
}

// Init enables support for various Go runtime features. After a call to init
// the following runtime features become available for use:
//   - heap memory allocation (new, make e.t.c)
//   - map primitives
//   - interfaces
//   - GOMAXPROCS scaled to the discovered hart count
func Init() *kernel.Error {
	mallocInitFn()
	algInitFn()       // setup hash implementation for map keys
	modulesInitFn()   // provides activeModules
	typeLinksInitFn() // uses maps, activeModules
	itabsInitFn()     // uses activeModules
	initGoPackagesFn()
	procResizeFn(int32(board.HartCount()))

	return nil
}

func init() {
	// Dummy calls so the compiler does not optimize away the functions in
	// this file.
	var (
		reserved bool
		stat     uint64
		zeroPtr  = unsafe.Pointer(uintptr(0))
	)

	sysReserve(zeroPtr, 0, &reserved)
	sysMap(zeroPtr, 0, reserved, &stat)
	sysAlloc(0, &stat)
	getRandomData(nil)
	stat = nanotime()
}
