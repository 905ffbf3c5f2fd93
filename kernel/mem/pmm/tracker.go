package pmm

import "runtime"

// releaseFn is invoked by a Tracker's Release to return its frame to the
// allocator that produced it. Allocators register one closure over their own
// free list/stack when they hand out a Tracker.
type releaseFn func(Frame)

// Tracker owns exactly one physical frame. The frame is returned to its
// allocator when Release is called; a Tracker must never be copied after
// being handed out; pass it by pointer or move it by re-assigning and
// zeroing the source. A finalizer is installed as a backstop against a
// forgotten Release so that a leaked Tracker does not permanently strand
// its frame -- this is the same role Drop plays in an ownership-tracking
// language, expressed the way Go expresses it for files and other scarce
// handles.
type Tracker struct {
	frame     Frame
	released  bool
	releaseFn releaseFn
}

// NewTracker wraps frame so that exactly one owner is responsible for
// returning it via Release.
func NewTracker(frame Frame, release releaseFn) *Tracker {
	t := &Tracker{frame: frame, releaseFn: release}
	runtime.SetFinalizer(t, (*Tracker).Release)
	return t
}

// Frame returns the physical frame owned by this tracker.
func (t *Tracker) Frame() Frame {
	return t.frame
}

// Release returns the frame to its allocator. Calling Release more than once
// is a no-op so that the finalizer is safe to run after an explicit Release.
func (t *Tracker) Release() {
	if t.released {
		return
	}
	t.released = true
	runtime.SetFinalizer(t, nil)
	if t.releaseFn != nil {
		t.releaseFn(t.frame)
	}
}
