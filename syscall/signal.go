package syscall

import (
	"encoding/binary"

	"defs"
	"sig"
	"task"
)

// encodeFrame/decodeFrame serialize an InterruptFrame_t for sig's
// opaque SigCtx_t.Saved, the machine-context blob sys_sigreturn later
// hands back unchanged (§4.7).
func encodeFrame(tf *InterruptFrame_t) []byte {
	buf := make([]byte, TFSIZE*4)
	for i, v := range tf {
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(v))
	}
	return buf
}

func decodeFrame(buf []byte, tf *InterruptFrame_t) {
	for i := range tf {
		tf[i] = int(int32(binary.LittleEndian.Uint32(buf[i*4:])))
	}
}

// deliverSignals runs do_signal until no deliverable signal remains,
// applying every disposition task.HandleDisposition covers and handling
// DispHandler itself by diverting tf to the registered handler — the
// seam task.CheckSignals documents leaving open, since only the caller
// holding the InterruptFrame can redirect a return to user mode. Called
// by Dispatch around blocking syscalls and at every return to user mode
// (§4.7: signals are delivered "when a task returns to user mode").
func deliverSignals(t *task.Task_t, tf *InterruptFrame_t) (exited bool) {
	for {
		signo, disp, act := t.Sig.DoSignal()
		if signo == 0 {
			return false
		}
		if disp != sig.DispHandler {
			if t.HandleDisposition(signo, disp) {
				return true
			}
			continue
		}
		saved := encodeFrame(tf)
		t.Sig.PushTrampoline(signo, act, saved)
		tf[TF_RDI] = int(signo)
		tf[TF_RIP] = int(act.Handler)
		return false
	}
}

func sysKill(t *task.Task_t, tf *InterruptFrame_t) (int, defs.Err_t) {
	target, ok := task.Lookup(defs.Pid_t(tf.Arg0()))
	if !ok {
		return 0, defs.ESRCH.AsErr()
	}
	target.Signal(defs.Signo_t(tf.Arg1()))
	return 0, 0
}

// sysSignal is the historical signal(2) call: installs a handler with
// the default mask/flags and returns the previous one.
func sysSignal(t *task.Task_t, tf *InterruptFrame_t) (int, defs.Err_t) {
	signo := defs.Signo_t(tf.Arg0())
	old := t.Sig.Action(signo, sig.Sigaction_t{Handler: uintptr(tf.Arg1())})
	return int(old.Handler), 0
}

func sysSigaction(t *task.Task_t, tf *InterruptFrame_t) (int, defs.Err_t) {
	signo := defs.Signo_t(tf.Arg0())
	act := sig.Sigaction_t{
		Handler: uintptr(tf.Arg1()),
		Mask:    uint32(tf.Arg2()),
		Flags:   tf.Arg3(),
	}
	old := t.Sig.Action(signo, act)
	if tf.Arg4() != 0 {
		buf := make([]byte, 12)
		binary.LittleEndian.PutUint32(buf[0:], uint32(old.Handler))
		binary.LittleEndian.PutUint32(buf[4:], old.Mask)
		binary.LittleEndian.PutUint32(buf[8:], uint32(old.Flags))
		if err := t.As.K2user(buf, tf.Arg4()); err != 0 {
			return 0, err
		}
	}
	return 0, 0
}

// sysSigreturn restores the InterruptFrame sys_sigreturn's trampoline
// saved before running the handler, overwriting tf in place. Dispatch
// special-cases SYS_SIGRETURN so it does not clobber the restored
// return value afterward.
func sysSigreturn(t *task.Task_t, tf *InterruptFrame_t) (int, defs.Err_t) {
	saved, err := t.Sig.SysSigreturn()
	if err != 0 {
		return 0, err
	}
	decodeFrame(saved, tf)
	return 0, 0
}
