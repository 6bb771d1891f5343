// Package sig implements signal delivery (§4.7): a priority queue (KILL
// always at the front, STOP/CONT mutually displacing), the handler
// table, recv_signal/do_signal/sys_sigreturn, and the trampoline
// context POSIX's SA_RESTART convention needs. Grounded on the
// teacher's proc signal fields, generalized into its own package since
// the teacher folded signal state directly into Proc_t.
package sig

import (
	"sync"

	"defs"
)

// Sigaction_t is one signal's disposition, mirroring struct sigaction
// (§4.7). Handler 0 means "default action", 1 means SIG_IGN; any other
// value is a user handler address.
type Sigaction_t struct {
	Handler uintptr
	Mask    uint32
	Flags   int
}

func (a Sigaction_t) restart() bool { return a.Flags&defs.SA_RESTART != 0 }

// SigInfo_t is what the trampoline pushes alongside a handler
// invocation so the handler can inspect who sent the signal (§4.7
// SA_SIGINFO).
type SigInfo_t struct {
	Signo defs.Signo_t
	Code  int
	Pid   defs.Pid_t
}

// SigCtx_t is the saved pre-handler state sys_sigreturn restores: the
// mask in effect before delivery, plus an opaque trampoline-supplied
// machine context (syscall's InterruptFrame, which this package does
// not know the shape of to avoid an import cycle).
type SigCtx_t struct {
	OldMask uint32
	Saved   []byte
}

// Disposition is the effect do_signal reports a delivered signal
// should have on the receiving task.
type Disposition int

const (
	DispIgnore Disposition = iota
	DispTerminate
	DispCore
	DispStop
	DispContinue
	DispHandler
)

// SigState_t is one task's signal state: handler table, blocked mask,
// pending queue, and the sigreturn context stack.
type SigState_t struct {
	mu       sync.Mutex
	handlers [defs.NSIG]Sigaction_t
	mask     uint32
	pending  []defs.Signo_t
	ctxStack []SigCtx_t
}

// NewSigState returns a SigState_t with every signal at its default
// disposition and nothing blocked.
func NewSigState() *SigState_t {
	return &SigState_t{}
}

// ForkCopy duplicates handler table and mask per POSIX fork semantics;
// the pending queue and any in-flight sigreturn contexts are NOT
// inherited (a forked child starts with a clean slate of signals
// actually in flight).
func (s *SigState_t) ForkCopy() *SigState_t {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := &SigState_t{handlers: s.handlers, mask: s.mask}
	return n
}

func bit(signo defs.Signo_t) uint32 { return 1 << uint(signo-1) }

// SetMask installs a new blocked-signal mask, returning the previous
// one (sigprocmask).
func (s *SigState_t) SetMask(newmask uint32) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.mask
	s.mask = newmask
	return old
}

// Mask returns the current blocked-signal mask.
func (s *SigState_t) Mask() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mask
}

// Action installs a handler for sig, returning the previous one
// (sigaction).
func (s *SigState_t) Action(signo defs.Signo_t, act Sigaction_t) Sigaction_t {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.handlers[signo-1]
	s.handlers[signo-1] = act
	return old
}

func filterOut(q []defs.Signo_t, drop func(defs.Signo_t) bool) []defs.Signo_t {
	out := q[:0]
	for _, s := range q {
		if !drop(s) {
			out = append(out, s)
		}
	}
	return out
}

// RecvSignal enqueues signo, applying the spec's priority rules: KILL
// always jumps to the front of the queue (and cannot be blocked or
// displaced); delivering CONT cancels any pending STOP-class signal
// and vice versa (§3 Signal state, §4.7).
func (s *SigState_t) RecvSignal(signo defs.Signo_t) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if signo == defs.SIGKILL {
		s.pending = append([]defs.Signo_t{signo}, s.pending...)
		return
	}
	if signo == defs.SIGCONT {
		s.pending = filterOut(s.pending, defs.IsStopClass)
	} else if defs.IsStopClass(signo) {
		s.pending = filterOut(s.pending, func(x defs.Signo_t) bool { return x == defs.SIGCONT })
	}
	for _, p := range s.pending {
		if p == signo {
			return
		}
	}
	s.pending = append(s.pending, signo)
}

// Pending reports whether any unmasked signal (or SIGKILL regardless
// of mask) is queued, the condition Light sleep checks to cut a wait
// short (§4.6).
func (s *SigState_t) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.pending {
		if p == defs.SIGKILL || s.mask&bit(p) == 0 {
			return true
		}
	}
	return false
}

func (s *SigState_t) dequeue() (defs.Signo_t, bool) {
	for i, signo := range s.pending {
		if signo == defs.SIGKILL || s.mask&bit(signo) == 0 {
			s.pending = append(s.pending[:i:i], s.pending[i+1:]...)
			return signo, true
		}
	}
	return 0, false
}

// DoSignal pops the next deliverable signal (if any) and reports what
// the caller (package task) should do with it: ignore it, apply a
// default terminate/core/stop/continue action, or run a user handler
// (in which case act.Handler is the trampoline entry point).
func (s *SigState_t) DoSignal() (defs.Signo_t, Disposition, Sigaction_t) {
	s.mu.Lock()
	defer s.mu.Unlock()
	signo, ok := s.dequeue()
	if !ok {
		return 0, DispIgnore, Sigaction_t{}
	}
	act := s.handlers[signo-1]
	switch act.Handler {
	case 1: // SIG_IGN
		return signo, DispIgnore, act
	case 0: // SIG_DFL
		switch defs.DefaultAction(signo) {
		case defs.DefaultIgnore:
			return signo, DispIgnore, act
		case defs.DefaultCore:
			return signo, DispCore, act
		case defs.DefaultStop:
			return signo, DispStop, act
		case defs.DefaultContinue:
			return signo, DispContinue, act
		default:
			return signo, DispTerminate, act
		}
	default:
		return signo, DispHandler, act
	}
}

// PushTrampoline records the pre-handler mask/machine-context and, per
// SA_NODEFER, blocks signo (and whatever act.Mask additionally blocks)
// for the handler's duration.
func (s *SigState_t) PushTrampoline(signo defs.Signo_t, act Sigaction_t, saved []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctxStack = append(s.ctxStack, SigCtx_t{OldMask: s.mask, Saved: saved})
	blocked := act.Mask
	if act.Flags&defs.SA_NODEFER == 0 {
		blocked |= bit(signo)
	}
	s.mask |= blocked
}

// SysSigreturn pops the innermost trampoline context, restoring the
// pre-handler mask and returning the saved machine context for the
// caller to resume (sys_sigreturn, §4.7).
func (s *SigState_t) SysSigreturn() ([]byte, defs.Err_t) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ctxStack) == 0 {
		return nil, defs.EINVAL.AsErr()
	}
	top := s.ctxStack[len(s.ctxStack)-1]
	s.ctxStack = s.ctxStack[:len(s.ctxStack)-1]
	s.mask = top.OldMask
	return top.Saved, 0
}

// Restartable reports whether a syscall interrupted by signo (whose
// handler was act) should be automatically restarted (SA_RESTART,
// §4.7).
func Restartable(act Sigaction_t) bool { return act.restart() }
