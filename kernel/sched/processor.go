// Package sched turns task/'s TCBs into actual hart-local execution: a
// priority-banded, vruntime-ordered runqueue per hart and a global sleep
// queue driven by the timer tick. It installs itself into task/'s,
// trap/'s and timer/'s function-variable seams at Init so none of those
// packages needs to import this one.
package sched

import (
	"rvkernel/kernel/cpu"
	"rvkernel/kernel/sync"
	"rvkernel/kernel/task"
	"rvkernel/kernel/timer"
	"rvkernel/kernel/trap"
)

// maxHarts matches task's and ipi's own bound.
const maxHarts = 64

// bandCount is the number of priority bands a TCB's Sched.Band selects
// among: 0 (high, strict FIFO), 1 (normal, vruntime-ordered), 2 (low,
// strict FIFO, only ever runs when 0 and 1 are both empty).
const bandCount = 3

type processor struct {
	lock  sync.Spinlock
	ready [bandCount][]*task.TCB
}

var procs [maxHarts]*processor

// Init brings up nHarts processors and wires this package into every
// hook task/, trap/ and timer/ expose for it. Called once, on the boot
// hart, before any secondary hart is started.
func Init(nHarts int) {
	for h := 0; h < nHarts && h < maxHarts; h++ {
		procs[h] = &processor{}
	}

	task.EnqueueFn = Enqueue
	task.EnqueueHomeFn = EnqueueHome
	task.YieldFn = Yield
	task.ParkCurrentFn = ParkCurrent
	task.WakeFn = Wake

	trap.RescheduleFn = func() { Reschedule(cpu.HartID()) }
	timer.TickFn = func() { Tick(cpu.HartID()) }
}

// Enqueue places t on the least-loaded hart's runqueue and records that
// hart as its home, for a task with no
// scheduling history yet -- freshly forked or exec'd.
func Enqueue(t *task.TCB) {
	hart := leastLoadedHart()
	t.Sched.HomeHart = hart
	EnqueueHome(t)
}

// EnqueueHome places t back on the specific hart recorded in
// t.Sched.HomeHart, for a task that already has one (woken from sleep,
// resumed from a stop, or simply yielding).
func EnqueueHome(t *task.TCB) {
	t.Status = task.StatusReady
	p := procs[t.Sched.HomeHart]
	p.lock.Acquire()
	band := t.Sched.Band
	p.ready[band] = append(p.ready[band], t)
	p.lock.Release()
}

func leastLoadedHart() uint64 {
	var best uint64
	bestLoad := -1
	for h, p := range procs {
		if p == nil {
			continue
		}
		load := p.load()
		if bestLoad == -1 || load < bestLoad {
			bestLoad, best = load, uint64(h)
		}
	}
	return best
}

func (p *processor) load() int {
	p.lock.Acquire()
	defer p.lock.Release()
	n := 0
	for _, q := range p.ready {
		n += len(q)
	}
	return n
}

// PickNext removes and returns the next task hart should run, scanning
// bands high to low and, within the normal band, picking the lowest
// VRuntime. Returns nil if hart has nothing Ready.
func PickNext(hart uint64) *task.TCB {
	p := procs[hart]
	p.lock.Acquire()
	defer p.lock.Release()

	for band := 0; band < bandCount; band++ {
		q := p.ready[band]
		if len(q) == 0 {
			continue
		}
		idx := 0
		if band == 1 {
			for i, t := range q {
				if t.Sched.VRuntime < q[idx].Sched.VRuntime {
					idx = i
				}
			}
		}
		t := q[idx]
		p.ready[band] = append(q[:idx], q[idx+1:]...)
		return t
	}
	return nil
}
