package sync

import "sync/atomic"

// writerBit marks bit 31 of an RwSpinlock's word as held-for-write; the
// remaining 31 bits count active readers.
const writerBit = uint32(1) << 31

// RwSpinlock is a single 32-bit word whose top bit is the writer flag and
// whose lower 31 bits are the reader count. Writer acquisition spins until
// the whole word is zero; reader acquisition CAS-increments only when the
// writer bit is clear.
type RwSpinlock struct {
	word uint32
}

// AcquireWrite blocks until no reader or writer holds the lock, then claims
// it exclusively.
func (l *RwSpinlock) AcquireWrite() {
	for !atomic.CompareAndSwapUint32(&l.word, 0, writerBit) {
	}
}

// ReleaseWrite releases a lock held via AcquireWrite.
func (l *RwSpinlock) ReleaseWrite() {
	atomic.StoreUint32(&l.word, 0)
}

// AcquireRead blocks until the writer bit is clear, then registers as one
// more reader. Multiple readers may hold the lock concurrently.
func (l *RwSpinlock) AcquireRead() {
	for {
		cur := atomic.LoadUint32(&l.word)
		if cur&writerBit != 0 {
			continue
		}
		if atomic.CompareAndSwapUint32(&l.word, cur, cur+1) {
			return
		}
	}
}

// ReleaseRead drops this caller's read registration.
func (l *RwSpinlock) ReleaseRead() {
	atomic.AddUint32(&l.word, ^uint32(0)) // -1
}

// TryAcquireWrite attempts to claim the lock for writing without blocking.
func (l *RwSpinlock) TryAcquireWrite() bool {
	return atomic.CompareAndSwapUint32(&l.word, 0, writerBit)
}
