// Package task implements the task/scheduler model (§4.6): Task_t
// lifecycle (spawn, fork, exit, wait4), sleep/wake states, and a
// cooperative/preemptive yield point. Grounded on the teacher's
// src/proc (fork/exit/wait bookkeeping) but re-architected so a task's
// execution is an ordinary Go goroutine: the teacher's literal
// register-level context switch has no portable Go equivalent, so
// "context switch" here means parking/waking a goroutine rather than
// swapping a stack, the same substitution block/cache.go already made
// for blocking I/O (its doc comment: "the Go runtime descheduler takes
// the place of the scheduler's own block/wake path").
package task

import (
	"fmt"
	"sync"
	"sync/atomic"

	"accnt"
	"caller"
	"defs"
	"fd"
	"limits"
	"sig"
	"tinfo"
	"uas"
)

// Sleepstate_t mirrors spec.md §4.6's Light/Deep sleep distinction:
// Light sleep is interruptible by a pending signal (so recv_signal can
// cut it short), Deep sleep runs to completion (disk I/O, a held lock)
// before the task becomes runnable again.
type Sleepstate_t int

const (
	Running Sleepstate_t = iota
	Runnable
	Light
	Deep
	Dead
)

var pidCounter int64
var tidCounter int64

// procSlots mirrors limits.Syslimit.Sysprocs as a live countdown: the
// static Syslimit_t field is just the configured cap, so admission
// control needs its own Sysatomic_t seeded from it (Init below).
var procSlots limits.Sysatomic_t

// Init seeds the process-admission counter from the configured system
// limits. Must run once at boot before any Spawn/Fork.
func Init() {
	procSlots.Given(uint(limits.Syslimit.Sysprocs))
}

func newPid() defs.Pid_t { return defs.Pid_t(atomic.AddInt64(&pidCounter, 1)) }
func newTid() defs.Tid_t { return defs.Tid_t(atomic.AddInt64(&tidCounter, 1)) }

// waitres_t is what Wait4 hands back for a reaped child.
type waitres_t struct {
	pid    defs.Pid_t
	status int
	rusage []uint8
}

// Task_t is one schedulable unit: one address space, one fd table, one
// Go goroutine. Grounded on the teacher's Proc_t/Tid_t split, folded
// into a single struct since this rewrite is single-threaded-per-task
// (no thread-group fan-out within one address space).
type Task_t struct {
	Pid   defs.Pid_t
	Tid   defs.Tid_t
	Tnote *tinfo.Tnote_t
	Accnt *accnt.Accnt_t
	As    *uas.AddrSpace_t
	Fds   *fd.Fdtable_t
	Cwd   *fd.Cwd_t
	Sig   *sig.SigState_t

	entry func(*Task_t)

	mu       sync.Mutex
	state    Sleepstate_t
	wake     chan struct{}
	parent   *Task_t
	children map[defs.Pid_t]*Task_t
	waiters  chan waitres_t
	exited   bool
	status   int

	pgid defs.Pid_t
	sid  defs.Pid_t

	uid uint32
	gid uint32

	preempt int32 // preempt_disable/enable nesting depth
}

// Ppid returns the parent's pid, or 0 for a task with no parent
// (init/forkless-spawned tasks), for SYS_GETPPID.
func (t *Task_t) Ppid() defs.Pid_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.parent == nil {
		return 0
	}
	return t.parent.Pid
}

// Setpgid moves t into process group pgid (0 means "use t's own pid",
// POSIX setpgid semantics, §4.8).
func (t *Task_t) Setpgid(pgid defs.Pid_t) defs.Err_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	if pgid == 0 {
		pgid = t.Pid
	}
	t.pgid = pgid
	return 0
}

// Getpgrp returns t's own process group.
func (t *Task_t) Getpgrp() defs.Pid_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pgid
}

// Getpgid returns the process group of pid (or ESRCH if it is not a
// live task), for SYS_GETPGID.
func Getpgid(pid defs.Pid_t) (defs.Pid_t, defs.Err_t) {
	other, ok := Lookup(pid)
	if !ok {
		return 0, defs.ESRCH.AsErr()
	}
	return other.Getpgrp(), 0
}

// Setsid starts a new session with t as leader and its own process
// group, returning the new session id (§4.8 SYS_SETSID).
func (t *Task_t) Setsid() (defs.Pid_t, defs.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sid = t.Pid
	t.pgid = t.Pid
	return t.sid, 0
}

// Getsid returns t's session id.
func (t *Task_t) Getsid() defs.Pid_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sid
}

// GetsidOf returns the session id of pid, for SYS_GETSID.
func GetsidOf(pid defs.Pid_t) (defs.Pid_t, defs.Err_t) {
	other, ok := Lookup(pid)
	if !ok {
		return 0, defs.ESRCH.AsErr()
	}
	return other.Getsid(), 0
}

// Uid/Gid track POSIX identity only (§9 Non-goals: no per-task
// permission enforcement against them — ext2 stores a single owning
// uid/gid per inode and nothing in this core checks it against the
// caller's). Spawn/Fork default a task to uid/gid 0; setuid/setgid just
// record the requested value.
func (t *Task_t) Getuid() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.uid
}

func (t *Task_t) Getgid() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.gid
}

func (t *Task_t) Setuid(uid uint32) defs.Err_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.uid = uid
	return 0
}

func (t *Task_t) Setgid(gid uint32) defs.Err_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gid = gid
	return 0
}

// registry is the global pid/tid → Task_t table, the hosted stand-in
// for the teacher's proc table, consulted by wait4, kill, and procfs.
var registry = struct {
	sync.Mutex
	byPid map[defs.Pid_t]*Task_t
	byTid map[defs.Tid_t]*Task_t
}{byPid: map[defs.Pid_t]*Task_t{}, byTid: map[defs.Tid_t]*Task_t{}}

func register(t *Task_t) {
	registry.Lock()
	defer registry.Unlock()
	registry.byPid[t.Pid] = t
	registry.byTid[t.Tid] = t
}

func unregister(t *Task_t) {
	registry.Lock()
	defer registry.Unlock()
	delete(registry.byPid, t.Pid)
	delete(registry.byTid, t.Tid)
}

// Lookup finds a live task by pid, for kill/signal delivery.
func Lookup(pid defs.Pid_t) (*Task_t, bool) {
	registry.Lock()
	defer registry.Unlock()
	t, ok := registry.byPid[pid]
	return t, ok
}

// All returns a snapshot of every live task, for procfs's /proc listing.
func All() []*Task_t {
	registry.Lock()
	defer registry.Unlock()
	out := make([]*Task_t, 0, len(registry.byPid))
	for _, t := range registry.byPid {
		out = append(out, t)
	}
	return out
}

// Spawn creates the first task of a new process (the fork-less path
// used for init and for forkless helper kernel tasks): a fresh address
// space, fd table rooted at root, and a goroutine running entry.
func Spawn(root *fd.Cwd_t, entry func(*Task_t)) (*Task_t, defs.Err_t) {
	if !procSlots.Take() {
		return nil, defs.EAGAIN.AsErr()
	}
	as, err := uas.NewAddrSpace()
	if err != 0 {
		procSlots.Give()
		return nil, err
	}
	pid := newPid()
	t := &Task_t{
		Pid:      pid,
		Tid:      newTid(),
		Tnote:    tinfo.MkTnote(),
		Accnt:    &accnt.Accnt_t{},
		As:       as,
		Fds:      fd.MkFdtable(),
		Cwd:      root,
		Sig:      sig.NewSigState(),
		entry:    entry,
		wake:     make(chan struct{}, 1),
		children: map[defs.Pid_t]*Task_t{},
		waiters:  make(chan waitres_t, 64),
		pgid:     pid,
		sid:      pid,
	}
	register(t)
	go t.run()
	return t, 0
}

// Fork duplicates parent into a child task: eager-copy address space
// (uas.Clone, no COW — §9 Open Question resolution), cloned fd table,
// shared cwd. The child re-runs the parent's entry closure: a hosted
// Go process has no register/stack state to literally duplicate at an
// arbitrary PC, so "resuming in the child" is approximated as
// re-entering the task's top-level function with the freshly forked
// Task_t (§4.6/§4.8 Open Question — documented in DESIGN.md).
func (parent *Task_t) Fork() (*Task_t, defs.Err_t) {
	if !procSlots.Take() {
		return nil, defs.EAGAIN.AsErr()
	}
	childAs, err := parent.As.Clone()
	if err != 0 {
		procSlots.Give()
		return nil, err
	}
	childFds, err := parent.Fds.Clone()
	if err != 0 {
		parent.As.Free()
		procSlots.Give()
		return nil, err
	}
	child := &Task_t{
		Pid:      newPid(),
		Tid:      newTid(),
		Tnote:    tinfo.MkTnote(),
		Accnt:    &accnt.Accnt_t{},
		As:       childAs,
		Fds:      childFds,
		Cwd:      parent.Cwd,
		Sig:      parent.Sig.ForkCopy(),
		entry:    parent.entry,
		wake:     make(chan struct{}, 1),
		parent:   parent,
		children: map[defs.Pid_t]*Task_t{},
		waiters:  make(chan waitres_t, 64),
		pgid:     parent.pgid,
		sid:      parent.sid,
	}
	parent.mu.Lock()
	parent.children[child.Pid] = child
	parent.mu.Unlock()
	register(child)
	go child.run()
	return child, 0
}

// run is the goroutine body standing in for a task's execution
// (package doc comment). A panic inside entry is the hosted analogue
// of a fault the kernel would catch at the trap gate: rather than
// taking the whole process down, it dumps the offending goroutine's
// call stack the way a real kernel's fault handler prints a backtrace
// before killing just the faulting task, then exits this one task.
func (t *Task_t) run() {
	t.mu.Lock()
	t.state = Running
	t.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			fmt.Printf("task %d: panic: %v\n", t.Pid, r)
			caller.Callerdump(2)
			t.Exit(1)
		}
	}()
	if t.entry != nil {
		t.entry(t)
	}
}

// Exit tears the task down: frees its address space, reparents no one
// (single-level process tree is all §4.8's wait4 needs), and delivers
// status to a blocked or future Wait4 on the parent.
func (t *Task_t) Exit(status int) {
	t.mu.Lock()
	if t.exited {
		t.mu.Unlock()
		return
	}
	t.exited = true
	t.status = status
	t.state = Dead
	t.mu.Unlock()

	t.Tnote.Lock()
	t.Tnote.Alive = false
	t.Tnote.Killnaps.Cond.Broadcast()
	t.Tnote.Unlock()

	t.As.Free()
	procSlots.Give()
	unregister(t)

	if t.parent != nil {
		t.parent.mu.Lock()
		delete(t.parent.children, t.Pid)
		t.parent.mu.Unlock()
		select {
		case t.parent.waiters <- waitres_t{pid: t.Pid, status: status, rusage: t.Accnt.To_rusage()}:
		default:
		}
	}
}

// Wait4 blocks until any direct child exits, returning its pid and
// status (§4.8 SYS_WAIT4). pid == -1 waits for any child.
func (t *Task_t) Wait4(pid defs.Pid_t) (defs.Pid_t, int, defs.Err_t) {
	t.mu.Lock()
	n := len(t.children)
	t.mu.Unlock()
	if n == 0 && pid != -1 {
		if _, ok := t.children[pid]; !ok {
			return 0, 0, defs.ECHILD.AsErr()
		}
	}
	for {
		w := <-t.waiters
		if pid == -1 || w.pid == pid {
			return w.pid, w.status, 0
		}
		// not the child being waited for; requeue for another waiter
		select {
		case t.waiters <- w:
		default:
		}
	}
}
