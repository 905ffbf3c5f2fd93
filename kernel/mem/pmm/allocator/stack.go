package allocator

import (
	"rvkernel/kernel"
	"rvkernel/kernel/mem/pmm"
	"rvkernel/kernel/sync"
)

var (
	errOutOfMemory = &kernel.Error{Module: "frame_alloc", Message: "out of memory"}

	// global is the process-wide frame allocator, seeded once by Seed and
	// used by every Alloc/AllocContiguous call thereafter.
	global StackAllocator
)

// StackAllocator is the frame allocator described in the core's memory
// design: a stack of free frames plus a flat "not yet ever allocated"
// watermark, guarded by a single spinlock. It does not zero frames on
// alloc; callers that need a zeroed page clear it themselves.
type StackAllocator struct {
	mu sync.Spinlock

	// free holds frames that have been allocated and released at least
	// once; Alloc pops from its tail before advancing the watermark.
	free []pmm.Frame

	// next is the lowest frame number never handed out by this
	// allocator. Frames below next but not in free are in use.
	next pmm.Frame

	// limit is one past the highest frame index usable by this
	// allocator.
	limit pmm.Frame

	// inUse records every frame currently handed out, by Alloc or by
	// AllocContiguous; release drops a frame's entry when it goes back on
	// the free stack.
	inUse map[pmm.Frame]bool
}

// Seed hands the stack allocator ownership of [startFrame, limitFrame) after
// the boot allocator has reserved the frames the kernel image itself
// occupies. Called exactly once, after the kernel's own address space has
// been built.
func Seed(startFrame, limitFrame pmm.Frame) {
	global.mu.Acquire()
	defer global.mu.Release()
	global.next = startFrame
	global.limit = limitFrame
	global.free = nil
	global.inUse = make(map[pmm.Frame]bool)
}

// Alloc reserves a single physical frame and returns a Tracker that owns it.
func Alloc() (*pmm.Tracker, *kernel.Error) {
	return global.alloc()
}

// AllocContiguous reserves n physically contiguous frames and returns a
// Tracker for the first frame in the run. Releasing that Tracker returns
// every frame of the run to the free stack.
func AllocContiguous(n int) (*pmm.Tracker, *kernel.Error) {
	return global.allocContiguous(n)
}

func (a *StackAllocator) alloc() (*pmm.Tracker, *kernel.Error) {
	a.mu.Acquire()
	defer a.mu.Release()

	frame, err := a.allocLocked()
	if err != nil {
		return nil, err
	}
	return pmm.NewTracker(frame, a.release), nil
}

func (a *StackAllocator) allocLocked() (pmm.Frame, *kernel.Error) {
	if n := len(a.free); n > 0 {
		frame := a.free[n-1]
		a.free = a.free[:n-1]
		a.inUse[frame] = true
		return frame, nil
	}

	if a.next >= a.limit {
		return pmm.InvalidFrame, errOutOfMemory
	}

	frame := a.next
	a.next++
	a.inUse[frame] = true
	return frame, nil
}

// release returns frame to the free stack. Registered as the Tracker release
// callback so a Tracker drop (explicit Release, or the finalizer backstop)
// recycles the frame without the caller needing to know which allocator
// produced it.
func (a *StackAllocator) release(frame pmm.Frame) {
	a.mu.Acquire()
	defer a.mu.Release()
	delete(a.inUse, frame)
	a.free = append(a.free, frame)
}

// allocContiguous takes the run from the bottom of the never-allocated
// watermark range. Frames on the free stack are never used for a run, so
// the request fails once fewer than n frames remain below limit, however
// many frames the free stack holds.
func (a *StackAllocator) allocContiguous(n int) (*pmm.Tracker, *kernel.Error) {
	if n <= 0 {
		return nil, errOutOfMemory
	}

	a.mu.Acquire()
	defer a.mu.Release()

	if a.next+pmm.Frame(n) > a.limit {
		return nil, errOutOfMemory
	}

	start := a.next
	for f := start; f < start+pmm.Frame(n); f++ {
		a.inUse[f] = true
	}
	a.next += pmm.Frame(n)

	return pmm.NewTracker(start, func(pmm.Frame) {
		for f := start; f < start+pmm.Frame(n); f++ {
			a.release(f)
		}
	}), nil
}
