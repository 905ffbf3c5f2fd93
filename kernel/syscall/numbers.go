package syscall

// Syscall numbers, carried in a7. Grouped into per-subsystem blocks so
// Dispatch can route on a range check, with the graphics block parked at
// 300+ out of the way of everything else.
const (
	SysExit = iota + 1
	SysFork
	SysExecve
	SysWaitpid
	SysGetpid
	SysGettid
	SysYield
	SysKill
	SysSchedSetscheduler
	SysSchedGetscheduler
	SysSetpriority
	SysGetpriority
)

const (
	SysBrk = iota + 20
	SysSbrk
	SysMmap
	SysMunmap
)

const (
	SysOpen = iota + 40
	SysClose
	SysRead
	SysWrite
	SysLseek
	SysStat
	SysMkdir
	SysRemove
	SysChdir
	SysGetcwd
	SysListdir
	SysChmod
	SysChown
	SysFlock
	SysMkfifo
)

const (
	SysSignal = iota + 70
	SysSigaction
	SysSigprocmask
	SysSigreturn
	SysPause
	SysAlarm
)

const (
	SysNanosleep = iota + 90
	SysGettimeofday
)

const (
	SysPipe = iota + 100
	SysDup2
	SysUdsListen
	SysUdsAccept
	SysShmMap
	SysShmClose
)

const (
	SysThreadCreate = iota + 120
	SysThreadJoin
	SysThreadExit
)

// Graphics calls belong to the framebuffer stack, which lives outside
// this kernel; the dispatcher only needs to recognise the range and
// return ENOSYS, since no in-tree framebuffer device exists to service
// them.
const (
	SysGuiFirst = 300
	SysGuiLast  = 311
)
