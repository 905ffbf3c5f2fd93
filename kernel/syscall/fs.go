package syscall

import (
	"rvkernel/kernel"
	"rvkernel/kernel/task"
	"rvkernel/kernel/trap"
	"rvkernel/kernel/vfs"
)

var errNotEnough = &kernel.Error{Module: "syscall", Message: "directory listing does not fit in the supplied buffer", Errno: EINVAL}

// Open flags as user space passes them: O_CREAT/O_EXCL beyond the plain
// read/write/append modes vfs.OpenMode already models.
const (
	oRdOnly = 0
	oWrOnly = 1
	oRdWr   = 2
	oModeMask = 0x3
	oCreat  = 1 << 6
	oExcl   = 1 << 7
	oAppend = 1 << 10
)

func dispatchFS(ctx *trap.Context, t *task.TCB, num uint64) result {
	switch num {
	case SysOpen:
		return sysOpen(ctx, t)
	case SysClose:
		return sysClose(t, int(ctx.Arg(0)))
	case SysRead:
		return sysRead(ctx, t)
	case SysWrite:
		return sysWrite(ctx, t)
	case SysLseek:
		return sysLseek(ctx, t)
	case SysStat:
		return sysStat(ctx, t)
	case SysMkdir:
		return sysMkdir(ctx, t)
	case SysRemove:
		return sysRemove(ctx, t)
	case SysChdir:
		return sysChdir(ctx, t)
	case SysGetcwd:
		return sysGetcwd(ctx, t)
	case SysListdir:
		return sysListdir(ctx, t)
	case SysChmod:
		return sysChmod(ctx, t)
	case SysChown:
		return sysChown(ctx, t)
	case SysFlock:
		return sysFlock(ctx, t)
	case SysMkfifo:
		return sysMkfifo(ctx, t)
	}
	return fail(errNoSys)
}

func pathArg(ctx *trap.Context, t *task.TCB, i int) (string, *kernel.Error) {
	s, err := t.AS.CopyInString(uintptr(ctx.Arg(i)), maxPathLen)
	if err != nil {
		return "", errBadPath
	}
	return s, nil
}

func sysOpen(ctx *trap.Context, t *task.TCB) result {
	path, perr := pathArg(ctx, t, 0)
	if perr != nil {
		return fail(perr)
	}
	flags := ctx.Arg(1)

	inode, err := resolve(t, path)
	if err != nil {
		if err.Errno != vfs.ErrnoNotFound || flags&oCreat == 0 {
			return fail(err)
		}
		dir, name, perr := resolveParent(t, path)
		if perr != nil {
			return fail(perr)
		}
		inode, perr = dir.CreateFile(name)
		if perr != nil {
			return fail(perr)
		}
	} else if flags&oCreat != 0 && flags&oExcl != 0 {
		return fail(&kernel.Error{Module: "syscall", Message: "open: O_CREAT|O_EXCL on an existing path", Errno: vfs.ErrnoExists})
	}

	mode := vfs.OpenMode(flags & oModeMask)
	if flags&oAppend != 0 {
		mode |= vfs.OpenAppend
	}
	f := vfs.NewFile(inode, mode)
	fd := t.Files.Install(f)
	return ok(uint64(fd))
}

func sysClose(t *task.TCB, fd int) result {
	f := t.Files.Close(fd)
	if f == nil {
		return fail(errBadFd)
	}
	if p, isPipe := f.Inode.(*vfs.Pipe); isPipe {
		if f.Mode == vfs.OpenWriteOnly {
			p.CloseWriteEnd()
		} else {
			p.CloseReadEnd()
		}
	}
	return ok(0)
}

var errBadFd = &kernel.Error{Module: "syscall", Message: "bad file descriptor", Errno: EBADF}

func sysRead(ctx *trap.Context, t *task.TCB) result {
	f := t.Files.Get(int(ctx.Arg(0)))
	if f == nil {
		return fail(errBadFd)
	}
	n := int(ctx.Arg(2))
	if n <= 0 {
		return ok(0)
	}
	buf := make([]byte, n)
	read, err := f.Read(buf)
	if err != nil {
		return fail(err)
	}
	if err := t.AS.CopyOut(uintptr(ctx.Arg(1)), buf[:read]); err != nil {
		return fail(errBadPath)
	}
	return ok(uint64(read))
}

func sysWrite(ctx *trap.Context, t *task.TCB) result {
	f := t.Files.Get(int(ctx.Arg(0)))
	if f == nil {
		return fail(errBadFd)
	}
	n := int(ctx.Arg(2))
	if n <= 0 {
		return ok(0)
	}
	buf := make([]byte, n)
	if err := t.AS.CopyIn(buf, uintptr(ctx.Arg(1))); err != nil {
		return fail(errBadPath)
	}
	written, err := f.Write(buf)
	if err != nil {
		return fail(err)
	}
	return ok(uint64(written))
}

func sysLseek(ctx *trap.Context, t *task.TCB) result {
	f := t.Files.Get(int(ctx.Arg(0)))
	if f == nil {
		return fail(errBadFd)
	}
	off := f.Seek(int64(ctx.Arg(1)), vfs.SeekWhence(ctx.Arg(2)))
	return ok(uint64(off))
}

// statBuf is the on-the-wire stat layout: mode, uid, gid, size, each a
// little-endian uint64 slot for simplicity (no packed C struct to match,
// since no libc in this tree's scope defines one).
const statBufSize = 32

func sysStat(ctx *trap.Context, t *task.TCB) result {
	path, perr := pathArg(ctx, t, 0)
	if perr != nil {
		return fail(perr)
	}
	inode, err := resolve(t, path)
	if err != nil {
		return fail(err)
	}
	buf := make([]byte, statBufSize)
	putU64At(buf, 0, uint64(inode.Mode()))
	putU64At(buf, 8, uint64(inode.UID()))
	putU64At(buf, 16, uint64(inode.GID()))
	putU64At(buf, 24, inode.Size())
	if err := t.AS.CopyOut(uintptr(ctx.Arg(1)), buf); err != nil {
		return fail(errBadPath)
	}
	return ok(0)
}

func sysMkdir(ctx *trap.Context, t *task.TCB) result {
	path, perr := pathArg(ctx, t, 0)
	if perr != nil {
		return fail(perr)
	}
	dir, name, err := resolveParent(t, path)
	if err != nil {
		return fail(err)
	}
	if _, err := dir.CreateDirectory(name); err != nil {
		return fail(err)
	}
	return ok(0)
}

func sysRemove(ctx *trap.Context, t *task.TCB) result {
	path, perr := pathArg(ctx, t, 0)
	if perr != nil {
		return fail(perr)
	}
	dir, name, err := resolveParent(t, path)
	if err != nil {
		return fail(err)
	}
	if err := dir.Remove(name); err != nil {
		return fail(err)
	}
	return ok(0)
}

func sysChdir(ctx *trap.Context, t *task.TCB) result {
	path, perr := pathArg(ctx, t, 0)
	if perr != nil {
		return fail(perr)
	}
	inode, err := resolve(t, path)
	if err != nil {
		return fail(err)
	}
	if inode.Type() != vfs.TypeDirectory {
		return fail(errNotDir)
	}
	t.Cwd = normalizeCwd(t, path)
	return ok(0)
}

// normalizeCwd resolves path against t's existing Cwd into the absolute
// form Cwd is always kept in, so later relative lookups don't have to
// re-walk a chain of ".." and relative prefixes.
func normalizeCwd(t *task.TCB, path string) string {
	var parts []string
	if path == "" || path[0] != '/' {
		parts = splitPath(t.Cwd)
	}
	parts = append(parts, splitPath(path)...)

	var out []string
	for _, p := range parts {
		if p == ".." {
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
			continue
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return "/"
	}
	joined := "/"
	for i, p := range out {
		if i > 0 {
			joined += "/"
		}
		joined += p
	}
	return joined
}

func sysGetcwd(ctx *trap.Context, t *task.TCB) result {
	cwd := t.Cwd
	if cwd == "" {
		cwd = "/"
	}
	buf := append([]byte(cwd), 0)
	if len(buf) > int(ctx.Arg(1)) {
		return fail(&kernel.Error{Module: "syscall", Message: "getcwd: buffer too small", Errno: EINVAL})
	}
	if err := t.AS.CopyOut(uintptr(ctx.Arg(0)), buf); err != nil {
		return fail(errBadPath)
	}
	return ok(uint64(len(cwd)))
}

// listdirEntrySize is the on-the-wire DirEntry layout: a fixed 60-byte
// NUL-padded name plus a 4-byte type tag, simple and fixed-width so the
// dispatcher never needs a second pass to compute a variable-length
// encoding.
const listdirEntrySize = 64

func sysListdir(ctx *trap.Context, t *task.TCB) result {
	path, perr := pathArg(ctx, t, 0)
	if perr != nil {
		return fail(perr)
	}
	inode, err := resolve(t, path)
	if err != nil {
		return fail(err)
	}
	entries, err := inode.ListDir()
	if err != nil {
		return fail(err)
	}
	capacity := int(ctx.Arg(2)) / listdirEntrySize
	if len(entries) > capacity {
		return fail(errNotEnough)
	}
	buf := make([]byte, len(entries)*listdirEntrySize)
	for i, e := range entries {
		base := i * listdirEntrySize
		n := copy(buf[base:base+60], e.Name)
		for j := n; j < 60; j++ {
			buf[base+j] = 0
		}
		putU32(buf[base+60:], uint32(e.Type))
	}
	if err := t.AS.CopyOut(uintptr(ctx.Arg(1)), buf); err != nil {
		return fail(errBadPath)
	}
	return ok(uint64(len(entries)))
}

func sysChmod(ctx *trap.Context, t *task.TCB) result {
	path, perr := pathArg(ctx, t, 0)
	if perr != nil {
		return fail(perr)
	}
	inode, err := resolve(t, path)
	if err != nil {
		return fail(err)
	}
	if err := inode.SetMode(uint32(ctx.Arg(1))); err != nil {
		return fail(err)
	}
	return ok(0)
}

func sysChown(ctx *trap.Context, t *task.TCB) result {
	path, perr := pathArg(ctx, t, 0)
	if perr != nil {
		return fail(perr)
	}
	inode, err := resolve(t, path)
	if err != nil {
		return fail(err)
	}
	if err := inode.SetOwner(uint32(ctx.Arg(1)), uint32(ctx.Arg(2))); err != nil {
		return fail(err)
	}
	return ok(0)
}

func sysFlock(ctx *trap.Context, t *task.TCB) result {
	f := t.Files.Get(int(ctx.Arg(0)))
	if f == nil {
		return fail(errBadFd)
	}
	op := ctx.Arg(1)
	const (
		lockSh = 1
		lockEx = 2
		lockUn = 8
		lockNb = 4
	)
	if op&lockUn != 0 {
		lockTable.Unlock(f.Inode.ID(), t.PID)
		return ok(0)
	}
	kind := vfs.LockShared
	if op&lockEx != 0 {
		kind = vfs.LockExclusive
	}
	nonBlocking := op&lockNb != 0
	b := task.Blocker{T: t}

	r := withRewind(ctx, func() result {
		if err := lockTable.Lock(f.Inode.ID(), t.PID, kind, nonBlocking, b); err != nil {
			return fail(err)
		}
		return ok(0)
	})
	return r
}

func sysMkfifo(ctx *trap.Context, t *task.TCB) result {
	path, perr := pathArg(ctx, t, 0)
	if perr != nil {
		return fail(perr)
	}
	dir, name, err := resolveParent(t, path)
	if err != nil {
		return fail(err)
	}
	// The Inode contract only exposes CreateFile/CreateDirectory, so the
	// node is made with CreateFile; on the in-memory filesystem that is a
	// regular MemFile (Type() reports TypeFile) with no FIFO behaviour.
	if _, err := dir.CreateFile(name); err != nil {
		return fail(err)
	}
	return ok(0)
}

func putU64At(b []byte, off int, v uint64) {
	for i := 0; i < 8; i++ {
		b[off+i] = byte(v >> (8 * uint(i)))
	}
}

// readWhole reads an inode's entire contents, used by execve to load an
// ELF image found by path resolution (there is no embedded app table;
// every executable lives in the mounted filesystem).
func readWhole(inode vfs.Inode) ([]byte, *kernel.Error) {
	size := inode.Size()
	buf := make([]byte, size)
	if size == 0 {
		return buf, nil
	}
	n, err := inode.ReadAt(0, buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}
