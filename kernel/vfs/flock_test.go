package vfs

import (
	"rvkernel/kernel"
	"testing"
)

type fakeBlocker struct {
	parked int
	woken  chan struct{}
}

func newFakeBlocker() *fakeBlocker { return &fakeBlocker{woken: make(chan struct{}, 8)} }

func (b *fakeBlocker) Park() {
	b.parked++
	<-b.woken
}

func (b *fakeBlocker) Wake() {
	b.woken <- struct{}{}
}

func TestTryLockNonBlockingSameOwnerReplacesKind(t *testing.T) {
	lt := NewLockTable()
	if err := lt.Lock(1, 10, LockShared, true, nil); err != nil {
		t.Fatalf("first Lock() error = %v", err)
	}
	if err := lt.Lock(1, 10, LockExclusive, true, nil); err != nil {
		t.Fatalf("same-owner re-lock error = %v", err)
	}
}

func TestTryLockNonBlockingConflictReturnsWouldBlock(t *testing.T) {
	lt := NewLockTable()
	if err := lt.Lock(1, 10, LockExclusive, true, nil); err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	if err := lt.Lock(1, 20, LockShared, true, nil); err == nil {
		t.Fatalf("expected conflicting non-blocking Lock() to fail")
	}
}

func TestSharedLocksFromDifferentOwnersDoNotConflict(t *testing.T) {
	lt := NewLockTable()
	if err := lt.Lock(1, 10, LockShared, true, nil); err != nil {
		t.Fatalf("owner 10 Lock() error = %v", err)
	}
	if err := lt.Lock(1, 20, LockShared, true, nil); err != nil {
		t.Fatalf("owner 20 shared Lock() should not conflict, error = %v", err)
	}
}

func TestBlockingLockParksAndRetriesAfterUnlock(t *testing.T) {
	lt := NewLockTable()
	if err := lt.Lock(1, 10, LockExclusive, true, nil); err != nil {
		t.Fatalf("Lock() error = %v", err)
	}

	blocker := newFakeBlocker()
	done := make(chan *kernel.Error)
	go func() {
		done <- lt.Lock(1, 20, LockExclusive, false, blocker)
	}()

	// Give the goroutine a chance to register as a waiter and park.
	waitParked(t, lt, 1, blocker)

	lt.Unlock(1, 10)

	if err := <-done; err != nil {
		t.Fatalf("blocking Lock() after wake error = %v", err)
	}
	if blocker.parked == 0 {
		t.Fatalf("expected the conflicting request to have parked at least once")
	}
}

func TestReleaseAllDropsEveryLockForPid(t *testing.T) {
	lt := NewLockTable()
	lt.Lock(1, 10, LockExclusive, true, nil)
	lt.Lock(2, 10, LockShared, true, nil)

	lt.ReleaseAll(10)

	if err := lt.Lock(1, 20, LockExclusive, true, nil); err != nil {
		t.Fatalf("expected inode 1 to be free after ReleaseAll, error = %v", err)
	}
	if err := lt.Lock(2, 20, LockExclusive, true, nil); err != nil {
		t.Fatalf("expected inode 2 to be free after ReleaseAll, error = %v", err)
	}
}

// waitParked spins until b appears on inodeID's waiter queue, meaning the
// goroutine driving it has registered and is parking. Checked under the
// table lock so the test never races the queue append itself.
func waitParked(t *testing.T, lt *LockTable, inodeID uint64, b Blocker) {
	t.Helper()
	for i := 0; i < 1_000_000; i++ {
		lt.lock.Acquire()
		for _, w := range lt.waiters[inodeID] {
			if w.b == b {
				lt.lock.Release()
				return
			}
		}
		lt.lock.Release()
	}
	t.Fatal("waiter never registered on the queue")
}

func TestUnlockHandsLockToWaitersInArrivalOrder(t *testing.T) {
	lt := NewLockTable()
	if err := lt.Lock(1, 10, LockExclusive, true, nil); err != nil {
		t.Fatalf("Lock() error = %v", err)
	}

	first, second := newFakeBlocker(), newFakeBlocker()
	firstDone, secondDone := make(chan *kernel.Error), make(chan *kernel.Error)

	go func() { firstDone <- lt.Lock(1, 20, LockExclusive, false, first) }()
	waitParked(t, lt, 1, first)
	go func() { secondDone <- lt.Lock(1, 30, LockExclusive, false, second) }()
	waitParked(t, lt, 1, second)

	lt.Unlock(1, 10)

	if err := <-firstDone; err != nil {
		t.Fatalf("first waiter Lock() error = %v", err)
	}
	select {
	case <-secondDone:
		t.Fatal("expected the second waiter still queued behind the first")
	default:
	}

	lt.Unlock(1, 20)
	if err := <-secondDone; err != nil {
		t.Fatalf("second waiter Lock() error = %v", err)
	}
}

func TestSharedWaitersDrainInOrderPastAnExclusiveHold(t *testing.T) {
	lt := NewLockTable()
	if err := lt.Lock(1, 10, LockExclusive, true, nil); err != nil {
		t.Fatalf("Lock() error = %v", err)
	}

	readerA, readerB, writer := newFakeBlocker(), newFakeBlocker(), newFakeBlocker()
	aDone, bDone, wDone := make(chan *kernel.Error), make(chan *kernel.Error), make(chan *kernel.Error)

	go func() { aDone <- lt.Lock(1, 20, LockShared, false, readerA) }()
	waitParked(t, lt, 1, readerA)
	go func() { bDone <- lt.Lock(1, 30, LockShared, false, readerB) }()
	waitParked(t, lt, 1, readerB)
	go func() { wDone <- lt.Lock(1, 40, LockExclusive, false, writer) }()
	waitParked(t, lt, 1, writer)

	// Releasing the exclusive hold admits the first reader, whose shared
	// acquisition hands the lock on to the second reader in turn; the
	// writer behind them stays parked.
	lt.Unlock(1, 10)

	if err := <-aDone; err != nil {
		t.Fatalf("first shared waiter Lock() error = %v", err)
	}
	if err := <-bDone; err != nil {
		t.Fatalf("second shared waiter Lock() error = %v", err)
	}
	select {
	case <-wDone:
		t.Fatal("expected the exclusive waiter still queued behind both readers")
	default:
	}

	lt.Unlock(1, 20)
	select {
	case <-wDone:
		t.Fatal("expected the exclusive waiter blocked until every shared holder releases")
	default:
	}
	lt.Unlock(1, 30)
	if err := <-wDone; err != nil {
		t.Fatalf("exclusive waiter Lock() error = %v", err)
	}
}
