package vfs

import (
	"rvkernel/kernel"
	"rvkernel/kernel/sync"
)

// LockKind distinguishes BSD flock's two lock flavors.
type LockKind int

const (
	LockShared LockKind = iota
	LockExclusive
)

type lockHolder struct {
	pid  int32
	kind LockKind
}

// Blocker lets task/ supply how "block this task" and "wake it back up"
// actually work without vfs/ importing task/ or sched/.
type Blocker interface {
	Park()
	Wake()
}

type waiter struct {
	pid  int32
	kind LockKind
	b    Blocker
}

// LockTable is the global inode-identity -> holder-list map, plus a
// per-inode waiter list used to implement true blocking (a blocking flock
// request parks the calling task on that inode's waiter list rather than
// failing with EWOULDBLOCK). One instance
// is shared across every mounted filesystem since inode IDs are only
// required to be unique within their own filesystem's namespace, but this
// core mounts few enough filesystems that a single flat table is simpler
// than per-filesystem tables and never collides in practice.
type LockTable struct {
	lock    sync.Spinlock
	holders map[uint64][]lockHolder
	waiters map[uint64][]waiter
}

// NewLockTable returns an empty advisory-lock table.
func NewLockTable() *LockTable {
	return &LockTable{holders: make(map[uint64][]lockHolder), waiters: make(map[uint64][]waiter)}
}

func conflicts(list []lockHolder, pid int32, kind LockKind) bool {
	for _, h := range list {
		if h.pid == pid {
			continue // a repeat request from the same owner only ever replaces its kind
		}
		if kind == LockExclusive || h.kind == LockExclusive {
			return true
		}
	}
	return false
}

// Lock implements the BSD flock rules: a process may hold at most one lock
// per inode (a repeat request from the same pid replaces its existing
// kind); Exclusive conflicts with any other holder; Shared conflicts only
// with an Exclusive held by a different pid. On conflict, a non-blocking
// request returns errWouldBlock immediately; a blocking request joins the
// tail of inodeID's waiter queue and calls b.Park, which must block the
// calling task until a release hands the lock forward, then retries.
// Waiters are released strictly in arrival order: only the queue's head
// may acquire, a parked waiter keeps its position across spurious wakes,
// and a head that takes a Shared lock wakes the next waiter in turn when
// that waiter also wants Shared, so a run of readers drains one by one
// without letting anyone jump the queue.
// b is supplied by task/ (which owns what "block this task" means) so vfs
// never has to import task/ or sched/.
func (lt *LockTable) Lock(inodeID uint64, pid int32, kind LockKind, nonBlocking bool, b Blocker) *kernel.Error {
	queued := false
	for {
		lt.lock.Acquire()
		queue := lt.waiters[inodeID]
		atHead := !queued || (len(queue) > 0 && queue[0].b == b)
		if atHead && !conflicts(lt.holders[inodeID], pid, kind) {
			if queued {
				lt.waiters[inodeID] = queue[1:]
			}
			lt.holders[inodeID] = replaceOrAppend(lt.holders[inodeID], pid, kind)
			next := lt.nextWakableLocked(inodeID)
			lt.lock.Release()
			if next != nil {
				next.Wake()
			}
			return nil
		}
		if nonBlocking {
			lt.lock.Release()
			return errWouldBlock("flock")
		}
		if !queued {
			lt.waiters[inodeID] = append(queue, waiter{pid: pid, kind: kind, b: b})
			queued = true
		}
		lt.lock.Release()
		b.Park()
	}
}

// nextWakableLocked returns the head of inodeID's waiter queue if the
// current holder set no longer conflicts with it, nil otherwise. Called
// with lt.lock held from every transition that can unblock a waiter -- a
// lock release, and a head acquisition whose kind still admits the next
// waiter (Shared after Shared) -- but the Wake itself happens after the
// table lock is dropped, since waking reaches into the scheduler.
func (lt *LockTable) nextWakableLocked(inodeID uint64) Blocker {
	queue := lt.waiters[inodeID]
	if len(queue) == 0 {
		return nil
	}
	head := queue[0]
	if conflicts(lt.holders[inodeID], head.pid, head.kind) {
		return nil
	}
	return head.b
}

func replaceOrAppend(list []lockHolder, pid int32, kind LockKind) []lockHolder {
	for i, h := range list {
		if h.pid == pid {
			list[i].kind = kind
			return list
		}
	}
	return append(list, lockHolder{pid: pid, kind: kind})
}

// Unlock drops pid's lock on inodeID, if any, then hands the lock to the
// waiter at the head of the queue (and only that one) if it no longer
// conflicts. The head removes itself from the queue as it acquires, and a
// Shared acquisition wakes the next Shared waiter in turn, so the queue
// drains strictly in arrival order.
func (lt *LockTable) Unlock(inodeID uint64, pid int32) {
	lt.lock.Acquire()
	next := lt.dropLocked(inodeID, pid)
	lt.lock.Release()
	if next != nil {
		next.Wake()
	}
}

// dropLocked removes pid's holder entry on inodeID and returns the queue
// head's blocker if that release unblocked it. Called with lt.lock held;
// the caller wakes after releasing the table lock.
func (lt *LockTable) dropLocked(inodeID uint64, pid int32) Blocker {
	list := lt.holders[inodeID]
	for i, h := range list {
		if h.pid == pid {
			lt.holders[inodeID] = append(list[:i], list[i+1:]...)
			return lt.nextWakableLocked(inodeID)
		}
	}
	return nil
}

// ReleaseAll drops every lock held by pid across every inode, called
// from task exit. Each release hands the lock forward the same way an
// explicit Unlock does.
func (lt *LockTable) ReleaseAll(pid int32) {
	lt.lock.Acquire()
	var wakes []Blocker
	for id := range lt.holders {
		if next := lt.dropLocked(id, pid); next != nil {
			wakes = append(wakes, next)
		}
	}
	lt.lock.Release()
	for _, b := range wakes {
		b.Wake()
	}
}
