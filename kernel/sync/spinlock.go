// Package sync provides the kernel's synchronization primitives: spinlocks,
// a reader/writer spinlock and an all-to-all rendezvous barrier. None of
// these primitives ever suspend the caller -- they busy-wait -- so they must
// never be held across a call that may schedule.
package sync

import "sync/atomic"

// Spinlock implements a lock where each task trying to acquire it busy-waits
// till the lock becomes available.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the currently active task.
// Any attempt to re-acquire a lock already held by the current task will cause
// a deadlock.
func (l *Spinlock) Acquire() {
	archAcquireSpinlock(&l.state, 1)
}

// TryAcquire attempts to acquire the lock and returns true if the lock could
// be acquired or false otherwise.
func (l *Spinlock) TryAcquire() bool {
	return atomic.SwapUint32(&l.state, 1) == 0
}

// Release relinquishes a held lock allowing other tasks to acquire it. Calling
// Release while the lock is free has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}

// ForceUnlock clears the lock state regardless of the current holder. It
// exists only for the panic-freeze path and debug builds that need to break
// a lock a crashed hart never released; using it on a healthy system
// corrupts whatever the lock protects.
func (l *Spinlock) ForceUnlock() {
	atomic.StoreUint32(&l.state, 0)
}

// archAcquireSpinlock is an arch-specific implementation for acquiring the
// lock; it busy-waits, occasionally issuing a `pause`-equivalent hint, until
// the CAS from 0 to 1 succeeds.
func archAcquireSpinlock(state *uint32, attemptsBeforeYielding uint32)

// Guarded pairs a Spinlock with the value it protects so that callers cannot
// reach the value without holding the lock. Go has no destructors, so unlike
// the source's RAII guard the returned Guard's Unlock must be called
// explicitly -- typically via defer immediately after Lock returns.
type Guarded[T any] struct {
	lock  Spinlock
	value T
}

// NewGuarded wraps value behind a fresh spinlock.
func NewGuarded[T any](value T) *Guarded[T] {
	return &Guarded[T]{value: value}
}

// Guard is the token returned by Lock; it must be released via Unlock
// exactly once.
type Guard[T any] struct {
	owner *Guarded[T]
}

// Lock acquires the underlying spinlock and returns a Guard granting access
// to the protected value until Unlock is called.
func (g *Guarded[T]) Lock() *Guard[T] {
	g.lock.Acquire()
	return &Guard[T]{owner: g}
}

// TryLock attempts to acquire the lock without blocking. ok is false if the
// lock was already held, in which case the returned Guard is nil.
func (g *Guarded[T]) TryLock() (guard *Guard[T], ok bool) {
	if !g.lock.TryAcquire() {
		return nil, false
	}
	return &Guard[T]{owner: g}, true
}

// Value returns a pointer to the protected value. Only valid while the
// guard that produced it has not been unlocked.
func (gd *Guard[T]) Value() *T {
	return &gd.owner.value
}

// Unlock releases the lock. Calling Unlock more than once on the same Guard
// releases a lock that may since have been re-acquired by someone else; the
// caller is responsible for calling it exactly once.
func (gd *Guard[T]) Unlock() {
	gd.owner.lock.Release()
}
