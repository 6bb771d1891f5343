package syscall

import (
	"defs"
	"elf"
	"fdops"
	"mem"
	"stat"
	"stats"
	"task"
	"uas"
	"vfs"
)

func sysExit(t *task.Task_t, tf *InterruptFrame_t) (int, defs.Err_t) {
	t.Exit(tf.Arg0())
	return 0, 0
}

// sysFork duplicates t per task.Fork's documented semantics: the child
// is a fresh goroutine re-entering the task's entry closure rather than
// a literal resume-at-PC (§4.6/§4.8 Open Question), so only the parent
// observes this call return; the child's own view of "having forked"
// begins at entry, not here.
func sysFork(t *task.Task_t, tf *InterruptFrame_t) (int, defs.Err_t) {
	child, err := t.Fork()
	if err != 0 {
		return 0, err
	}
	stats.Global.Forks.Inc()
	return int(child.Pid), 0
}

func sysWaitpid(t *task.Task_t, tf *InterruptFrame_t) (int, defs.Err_t) {
	pid, status, err := t.Wait4(defs.Pid_t(tf.Arg0()))
	if err != 0 {
		return 0, err
	}
	if statusVa := tf.Arg1(); statusVa != 0 {
		buf := []uint8{uint8(status), uint8(status >> 8), uint8(status >> 16), uint8(status >> 24)}
		if werr := t.As.K2user(buf, statusVa); werr != 0 {
			return 0, werr
		}
	}
	return int(pid), 0
}

// readWholeFile slurps an open handle's contents into a kernel buffer
// via a Fakeubuf_t (uas), the same host-side Userio_i stand-in
// cmd/mkfs uses to drive Fdops_i.Read without a real user address
// space.
func readWholeFile(fops fdops.Fdops_i, size int) ([]uint8, defs.Err_t) {
	buf := make([]uint8, size)
	var fb uas.Fakeubuf_t
	fb.Fake_init(buf)
	got := 0
	for got < size {
		n, err := fops.Read(&fb)
		if err != 0 {
			return nil, err
		}
		if n == 0 {
			break
		}
		got += n
	}
	return buf[:got], 0
}

// sysExecve replaces t's address space with a freshly loaded ELF32
// image (§4.14), preserving pid/parent/pgid/sid per spec.md's execve
// semantics; only the address space, entry point, and descriptor
// table's close-on-exec set change. Argv/envp are not copied onto the
// new stack (§9 Non-goals: no process argument-vector plumbing), so
// the new image starts with an empty stack save for its auxv.
func sysExecve(t *task.Task_t, tf *InterruptFrame_t) (int, defs.Err_t) {
	path, err := userPath(t, tf.Arg0())
	if err != 0 {
		return 0, err
	}
	h, err := vfs.Open(path, defs.O_RDONLY, 0)
	if err != 0 {
		return 0, err
	}
	defer h.Close()

	var st stat.Stat_t
	if err := h.Stat(&st); err != 0 {
		return 0, err
	}
	data, err := readWholeFile(h, int(st.Size()))
	if err != 0 {
		return 0, err
	}

	as, aerr := uas.NewAddrSpace()
	if aerr != 0 {
		return 0, aerr
	}
	info, eerr := elf.LoadExecutable(data, as)
	if eerr != 0 {
		return 0, eerr
	}
	stackPgn := defs.USTACK_TOP/mem.PGSIZE - defs.USTACK_PAGES
	if _, err := as.AllocateFixedArea(stackPgn, defs.USTACK_PAGES, mem.PTE_U|mem.PTE_W, uas.Anon, nil, 0); err != 0 {
		return 0, err
	}

	sp, err := pushAuxv(as, t, info)
	if err != 0 {
		return 0, err
	}

	t.Fds.CloseExeced()
	t.As = as
	tf.SetRip(int(info.Entry))
	tf.SetRsp(sp)
	stats.Global.Execs.Inc()
	return 0, 0
}

// pushAuxv writes the AT_PHDR/AT_PHENT/AT_PHNUM/AT_PAGESZ/AT_ENTRY/
// AT_UID/AT_EUID/AT_GID/AT_EGID/AT_NULL auxiliary vector below
// USTACK_TOP, the only part of the new image's initial stack this core
// builds (§9 Non-goals excludes argv/envp plumbing).
func pushAuxv(as *uas.AddrSpace_t, t *task.Task_t, info elf.ExecInfo_t) (int, defs.Err_t) {
	type auxEnt struct{ typ, val uint32 }
	uid := t.Getuid()
	gid := t.Getgid()
	ents := []auxEnt{
		{defs.AT_PHDR, info.Phdr},
		{defs.AT_PHENT, info.Phentsize},
		{defs.AT_PHNUM, info.Phnum},
		{defs.AT_PAGESZ, uint32(mem.PGSIZE)},
		{defs.AT_ENTRY, info.Entry},
		{defs.AT_UID, uid},
		{defs.AT_EUID, uid},
		{defs.AT_GID, gid},
		{defs.AT_EGID, gid},
		{defs.AT_NULL, 0},
	}
	buf := make([]uint8, len(ents)*8)
	for i, e := range ents {
		off := i * 8
		buf[off] = uint8(e.typ)
		buf[off+1] = uint8(e.typ >> 8)
		buf[off+2] = uint8(e.typ >> 16)
		buf[off+3] = uint8(e.typ >> 24)
		buf[off+4] = uint8(e.val)
		buf[off+5] = uint8(e.val >> 8)
		buf[off+6] = uint8(e.val >> 16)
		buf[off+7] = uint8(e.val >> 24)
	}
	sp := defs.USTACK_TOP - len(buf)
	sp &^= 0xf
	if err := as.K2user(buf, sp); err != 0 {
		return 0, err
	}
	return sp, 0
}

func sysGetpid(t *task.Task_t, tf *InterruptFrame_t) (int, defs.Err_t) {
	return int(t.Pid), 0
}

func sysGetppid(t *task.Task_t, tf *InterruptFrame_t) (int, defs.Err_t) {
	return int(t.Ppid()), 0
}

// targetOrSelf resolves a (possibly zero, meaning "t itself") pid
// argument to the Task_t it names, for the setpgid/getpgid/getsid
// family (§4.8: "0 means the calling process").
func targetOrSelf(t *task.Task_t, pid int) (*task.Task_t, defs.Err_t) {
	if pid == 0 {
		return t, 0
	}
	other, ok := task.Lookup(defs.Pid_t(pid))
	if !ok {
		return nil, defs.ESRCH.AsErr()
	}
	return other, 0
}

func sysSetpgid(t *task.Task_t, tf *InterruptFrame_t) (int, defs.Err_t) {
	target, err := targetOrSelf(t, tf.Arg0())
	if err != 0 {
		return 0, err
	}
	return 0, target.Setpgid(defs.Pid_t(tf.Arg1()))
}

func sysGetpgrp(t *task.Task_t, tf *InterruptFrame_t) (int, defs.Err_t) {
	return int(t.Getpgrp()), 0
}

func sysGetpgid(t *task.Task_t, tf *InterruptFrame_t) (int, defs.Err_t) {
	target, err := targetOrSelf(t, tf.Arg0())
	if err != 0 {
		return 0, err
	}
	return int(target.Getpgrp()), 0
}

func sysSetsid(t *task.Task_t, tf *InterruptFrame_t) (int, defs.Err_t) {
	sid, err := t.Setsid()
	return int(sid), err
}

func sysGetsid(t *task.Task_t, tf *InterruptFrame_t) (int, defs.Err_t) {
	target, err := targetOrSelf(t, tf.Arg0())
	if err != 0 {
		return 0, err
	}
	return int(target.Getsid()), 0
}

func sysSchedYield(t *task.Task_t, tf *InterruptFrame_t) (int, defs.Err_t) {
	task.YieldNow()
	return 0, 0
}

func sysGetuid(t *task.Task_t, tf *InterruptFrame_t) (int, defs.Err_t) {
	return int(t.Getuid()), 0
}

func sysGetgid(t *task.Task_t, tf *InterruptFrame_t) (int, defs.Err_t) {
	return int(t.Getgid()), 0
}

func sysSetuid(t *task.Task_t, tf *InterruptFrame_t) (int, defs.Err_t) {
	return 0, t.Setuid(uint32(tf.Arg0()))
}

func sysSetgid(t *task.Task_t, tf *InterruptFrame_t) (int, defs.Err_t) {
	return 0, t.Setgid(uint32(tf.Arg0()))
}

// sysChown resolves the target path purely to surface ENOENT for a
// missing file; like chmod there is no uid/gid ownership check to
// apply the new owner against (§9 Non-goals).
func sysChown(t *task.Task_t, tf *InterruptFrame_t) (int, defs.Err_t) {
	raw, err := t.As.Userstr(tf.Arg0(), int(defs.PATH_MAX))
	if err != 0 {
		return 0, err
	}
	full := t.Cwd.Canonicalpath(raw)
	_, err = vfs.Resolve(full)
	return 0, err
}
