package vfs

import (
	"rvkernel/kernel"
	"rvkernel/kernel/sync"
)

// pipeCapacity bounds a pipe's in-memory ring buffer; a writer that fills
// it blocks the same way a reader on an empty pipe does.
const pipeCapacity = 4096

// PipeYieldFn lets a blocked Pipe.ReadAt/WriteAt give the hart back to the
// scheduler between polls instead of spinning, without pipe.go importing
// task/ or sched/ -- the same function-variable seam LockTable's Blocker
// interface uses for the same reason. Defaults to a no-op busy-wait until
// syscall.Init installs task.Yield.
var PipeYieldFn = func() {}

var errBrokenPipe = &kernel.Error{Module: "vfs", Message: "write end of pipe has no readers", Errno: ErrnoBrokenPipe}

// Pipe is the in-memory FIFO backing the pipe(2) syscall.
// It implements Inode directly rather than wrapping a generic
// in-memory file, since a pipe has no directory entry, no size in the
// usual sense, and two independent open-end reference counts instead of
// one.
type Pipe struct {
	lock           sync.Spinlock
	buf            []byte
	readers        int
	writers        int
	id             uint64
	pollWaiters    []PollWaiter
}

// NewPipe returns a pipe with one reader and one writer reference already
// counted, matching pipe(2)'s own contract that both fds it returns are
// open from the start.
func NewPipe(id uint64) *Pipe {
	return &Pipe{id: id, readers: 1, writers: 1}
}

func (p *Pipe) Type() Type  { return TypeFIFO }
func (p *Pipe) Size() uint64 {
	p.lock.Acquire()
	defer p.lock.Release()
	return uint64(len(p.buf))
}
func (p *Pipe) ID() uint64 { return p.id }

// ReadAt ignores off (a pipe has no addressable position) and blocks,
// yielding between polls, until data is available or every writer has
// closed its end, at which point it returns (0, nil) for EOF.
func (p *Pipe) ReadAt(off int64, buf []byte) (int, *kernel.Error) {
	for {
		p.lock.Acquire()
		if len(p.buf) > 0 {
			n := copy(buf, p.buf)
			p.buf = p.buf[n:]
			p.lock.Release()
			return n, nil
		}
		writersGone := p.writers == 0
		p.lock.Release()
		if writersGone {
			return 0, nil
		}
		PipeYieldFn()
	}
}

// WriteAt ignores off and blocks until there is room in the ring buffer,
// failing with errBrokenPipe once every reader has closed its end.
func (p *Pipe) WriteAt(off int64, buf []byte) (int, *kernel.Error) {
	for {
		p.lock.Acquire()
		if p.readers == 0 {
			p.lock.Release()
			return 0, errBrokenPipe
		}
		avail := pipeCapacity - len(p.buf)
		if avail > 0 {
			n := len(buf)
			if n > avail {
				n = avail
			}
			p.buf = append(p.buf, buf[:n]...)
			p.lock.Release()
			return n, nil
		}
		p.lock.Release()
		PipeYieldFn()
	}
}

func (p *Pipe) Truncate(size uint64) *kernel.Error { return errNotSupported("pipe truncate") }
func (p *Pipe) Sync() *kernel.Error                { return nil }

func (p *Pipe) ListDir() ([]DirEntry, *kernel.Error)         { return nil, errNotDir("pipe") }
func (p *Pipe) FindChild(string) (Inode, *kernel.Error)      { return nil, errNotDir("pipe") }
func (p *Pipe) CreateFile(string) (Inode, *kernel.Error)     { return nil, errNotDir("pipe") }
func (p *Pipe) CreateDirectory(string) (Inode, *kernel.Error) { return nil, errNotDir("pipe") }
func (p *Pipe) Remove(string) *kernel.Error                  { return errNotDir("pipe") }

func (p *Pipe) Mode() uint32                          { return 0o600 }
func (p *Pipe) UID() uint32                           { return 0 }
func (p *Pipe) GID() uint32                           { return 0 }
func (p *Pipe) SetMode(uint32) *kernel.Error          { return errNotSupported("pipe chmod") }
func (p *Pipe) SetOwner(uint32, uint32) *kernel.Error { return errNotSupported("pipe chown") }

func (p *Pipe) PollMask() PollMask {
	p.lock.Acquire()
	defer p.lock.Release()
	var mask PollMask
	if len(p.buf) > 0 || p.writers == 0 {
		mask |= PollReadable
	}
	if len(p.buf) < pipeCapacity || p.readers == 0 {
		mask |= PollWritable
	}
	return mask
}

func (p *Pipe) RegisterPollWaiter(w PollWaiter) {
	p.lock.Acquire()
	defer p.lock.Release()
	p.pollWaiters = append(p.pollWaiters, w)
}

func (p *Pipe) ClearPollWaiter(w PollWaiter) {
	p.lock.Acquire()
	defer p.lock.Release()
	for i, existing := range p.pollWaiters {
		if existing == w {
			p.pollWaiters = append(p.pollWaiters[:i], p.pollWaiters[i+1:]...)
			return
		}
	}
}

// CloseReadEnd and CloseWriteEnd drop one reference to the corresponding
// end, called from the fs syscall group's close handler when it detects
// the closed File's Inode is a *Pipe. A pipe with no directory entry is
// never reached through Remove, so this is its only path to actually
// freeing the buffer (left to the garbage collector once both ends and
// every dup'd fd referencing them are gone).
func (p *Pipe) CloseReadEnd() {
	p.lock.Acquire()
	p.readers--
	p.lock.Release()
}

func (p *Pipe) CloseWriteEnd() {
	p.lock.Acquire()
	p.writers--
	p.lock.Release()
}
