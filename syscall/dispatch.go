package syscall

import (
	"defs"
	"stats"
	"task"
)

// handlerFunc is one syscall's implementation: given the calling task
// and its trap frame, return the value to place in the frame's return
// register and an error (0 on success).
type handlerFunc func(t *task.Task_t, tf *InterruptFrame_t) (int, defs.Err_t)

// blocking marks syscalls that can sleep inside a Fdops_i call, so
// Dispatch brackets them with the signal-interrupt check documented in
// DESIGN.md's "No current-task TLS" Open Question: pipe/socket/tty
// block on a raw sync.Cond with no Task_t in hand, so the dispatch gate
// (which does have the Task_t) is where a pending signal gets a chance
// to cut the block short instead of leaving it uninterruptible.
var blocking = map[int]bool{
	defs.SYS_READ: true, defs.SYS_WRITE: true, defs.SYS_WAITPID: true,
	defs.SYS_ACCEPT: true, defs.SYS_RECVFROM: true, defs.SYS_SENDTO: true,
}

var table = map[int]handlerFunc{
	defs.SYS_EXIT:        sysExit,
	defs.SYS_FORK:        sysFork,
	defs.SYS_READ:        sysRead,
	defs.SYS_WRITE:       sysWrite,
	defs.SYS_OPEN:        sysOpen,
	defs.SYS_CLOSE:       sysClose,
	defs.SYS_WAITPID:     sysWaitpid,
	defs.SYS_CREAT:       sysCreat,
	defs.SYS_UNLINK:      sysUnlink,
	defs.SYS_EXECVE:      sysExecve,
	defs.SYS_CHDIR:       sysChdir,
	defs.SYS_CHMOD:       sysChmod,
	defs.SYS_STAT:        sysStat,
	defs.SYS_LSEEK:       sysLseek,
	defs.SYS_GETPID:      sysGetpid,
	defs.SYS_MOUNT:       sysMount,
	defs.SYS_UMOUNT:      sysUmount,
	defs.SYS_KILL:        sysKill,
	defs.SYS_MKDIR:       sysMkdir,
	defs.SYS_RMDIR:       sysRmdir,
	defs.SYS_PIPE:        sysPipe,
	defs.SYS_SIGNAL:      sysSignal,
	defs.SYS_SETPGID:     sysSetpgid,
	defs.SYS_GETPPID:     sysGetppid,
	defs.SYS_GETPGRP:     sysGetpgrp,
	defs.SYS_SETSID:      sysSetsid,
	defs.SYS_SIGACTION:   sysSigaction,
	defs.SYS_TRUNCATE:    sysTruncate,
	defs.SYS_SIGRETURN:   sysSigreturn,
	defs.SYS_GETPGID:     sysGetpgid,
	defs.SYS_GETDENTS:    sysGetdents,
	defs.SYS_GETSID:      sysGetsid,
	defs.SYS_SCHED_YIELD: sysSchedYield,
	defs.SYS_MMAP:        sysMmap,
	defs.SYS_GETUID:      sysGetuid,
	defs.SYS_GETGID:      sysGetgid,
	defs.SYS_CHOWN:       sysChown,
	defs.SYS_SETUID:      sysSetuid,
	defs.SYS_SETGID:      sysSetgid,
	defs.SYS_STATFS:      sysStatfs,
	defs.SYS_STATX:       sysStatx,
	defs.SYS_SOCKET:      sysSocket,
	defs.SYS_BIND:        sysBind,
	defs.SYS_LISTEN:      sysListen,
	defs.SYS_ACCEPT:      sysAccept,
	defs.SYS_CONNECT:     sysConnect,
	defs.SYS_SENDTO:      sysSendto,
	defs.SYS_RECVFROM:    sysRecvfrom,
	defs.SYS_IOCTL:       sysIoctl,
}

// Dispatch decodes tf's syscall number and argument registers, runs
// the matching handler, and writes the sign-flipped eax-convention
// result back into tf (§4.8). Returns true if the task exited or was
// killed as a direct result of this syscall (SYS_EXIT, or a delivered
// fatal signal found on the way out) so the caller (the per-task
// goroutine loop) knows to stop running it.
func Dispatch(t *task.Task_t, tf *InterruptFrame_t) (exited bool) {
	sysno := tf.Sysno()
	stats.Global.Syscalls.Inc()
	h, ok := table[sysno]
	if !ok {
		tf.SetRet(defs.ENOSYS.AsErr().Rc())
		return false
	}
	if blocking[sysno] && deliverSignals(t, tf) {
		return true
	}
	start := stats.Now()
	ret, err := h(t, tf)
	stats.Global.SyscallNs.Add(start)
	// sys_sigreturn replaces tf wholesale with the pre-handler frame;
	// clobbering TF_RAX afterward would overwrite the restored return
	// value with this call's own (meaningless) result.
	if sysno != defs.SYS_SIGRETURN {
		if err != 0 {
			tf.SetRet(err.Rc())
		} else {
			tf.SetRet(ret)
		}
	}
	if sysno == defs.SYS_EXIT {
		return true
	}
	if deliverSignals(t, tf) {
		return true
	}
	return false
}
