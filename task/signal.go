package task

import (
	"defs"
	"sig"
)

// Signal delivers signo to t: it enqueues the signal on the task's
// sig.SigState_t and, if the task is in Light sleep (interruptible) or
// the signal is SIGKILL (never blockable), wakes it immediately so
// do_signal runs before the task goes back to sleep (§4.6/§4.7).
func (t *Task_t) Signal(signo defs.Signo_t) {
	t.Sig.RecvSignal(signo)
	if signo == defs.SIGKILL {
		t.Tnote.Doom()
		t.Wake()
		return
	}
	if t.State() == Light {
		t.Wake()
	}
}

// CheckSignals runs do_signal once and applies whatever disposition it
// reports, the way a syscall dispatcher calls into this right before
// returning to user mode (§4.7). Returns true if the task should now
// terminate (handled SIGKILL or a default-terminate/core action).
// DispHandler is swallowed as a no-op here: this entry point is for
// code paths (kernel-only tasks, the blocking-wait interrupt check)
// that have no InterruptFrame to push a trampoline onto. The syscall
// package's own dispatch loop calls t.Sig.DoSignal directly instead of
// this method so it can run HandleDisposition for everything else and
// handle DispHandler itself, since it owns the frame.
func (t *Task_t) CheckSignals() bool {
	for {
		signo, disp, _ := t.Sig.DoSignal()
		if signo == 0 {
			return false
		}
		if disp == sig.DispHandler {
			continue
		}
		if t.HandleDisposition(signo, disp) {
			return true
		}
	}
}

// HandleDisposition applies every disposition DoSignal can report
// except DispHandler, which requires a machine context (InterruptFrame)
// this package doesn't have — syscall's dispatch loop handles that case
// itself. Returns true if the task has now terminated.
func (t *Task_t) HandleDisposition(signo defs.Signo_t, disp sig.Disposition) bool {
	switch disp {
	case sig.DispTerminate, sig.DispCore:
		t.Exit(128 + int(signo))
		return true
	case sig.DispStop:
		t.mu.Lock()
		t.state = Light
		t.mu.Unlock()
		<-t.wake
	}
	return false
}
