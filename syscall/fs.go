package syscall

import (
	"bpath"
	"defs"
	"fd"
	"pipe"
	"stat"
	"task"
	"uas"
	"ustr"
	"vfs"
)

// userPath reads a NUL-terminated path string at uva and resolves it
// against t's current working directory (§4.8: every path argument is
// cwd-relative unless it starts with '/').
func userPath(t *task.Task_t, uva int) (ustr.Ustr, defs.Err_t) {
	raw, err := t.As.Userstr(uva, int(defs.PATH_MAX))
	if err != 0 {
		return nil, err
	}
	full := t.Cwd.Canonicalpath(raw)
	return full, 0
}

func getFile(t *task.Task_t, fdn int) (*fd.Fd_t, defs.Err_t) {
	return t.Fds.Get(fdn)
}

func sysOpen(t *task.Task_t, tf *InterruptFrame_t) (int, defs.Err_t) {
	path, err := userPath(t, tf.Arg0())
	if err != 0 {
		return 0, err
	}
	flags := tf.Arg1()
	mode := uint(tf.Arg2())
	h, err := vfs.Open(path, flags, mode)
	if err != 0 {
		return 0, err
	}
	perms := fd.FD_READ | fd.FD_WRITE
	if flags&defs.O_CLOEXEC != 0 {
		perms |= fd.FD_CLOEXEC
	}
	n, err := t.Fds.Add(&fd.Fd_t{Fops: h, Perms: perms})
	if err != 0 {
		h.Close()
		return 0, err
	}
	return n, 0
}

func sysCreat(t *task.Task_t, tf *InterruptFrame_t) (int, defs.Err_t) {
	path, err := userPath(t, tf.Arg0())
	if err != 0 {
		return 0, err
	}
	mode := uint(tf.Arg1())
	h, err := vfs.Open(path, defs.O_CREAT|defs.O_WRONLY|defs.O_TRUNC, mode)
	if err != 0 {
		return 0, err
	}
	n, err := t.Fds.Add(&fd.Fd_t{Fops: h, Perms: fd.FD_WRITE})
	if err != 0 {
		h.Close()
		return 0, err
	}
	return n, 0
}

func sysClose(t *task.Task_t, tf *InterruptFrame_t) (int, defs.Err_t) {
	f := t.Fds.Remove(tf.Arg0())
	if f == nil {
		return 0, defs.EBADF.AsErr()
	}
	return 0, f.Fops.Close()
}

func sysRead(t *task.Task_t, tf *InterruptFrame_t) (int, defs.Err_t) {
	f, err := getFile(t, tf.Arg0())
	if err != 0 {
		return 0, err
	}
	if f.Perms&fd.FD_READ == 0 {
		return 0, defs.EBADF.AsErr()
	}
	ub := &uas.Userbuf_t{}
	ub.Init(t.As, tf.Arg1(), tf.Arg2())
	n, err := f.Fops.Read(ub)
	return n, err
}

func sysWrite(t *task.Task_t, tf *InterruptFrame_t) (int, defs.Err_t) {
	f, err := getFile(t, tf.Arg0())
	if err != 0 {
		return 0, err
	}
	if f.Perms&fd.FD_WRITE == 0 {
		return 0, defs.EBADF.AsErr()
	}
	ub := &uas.Userbuf_t{}
	ub.Init(t.As, tf.Arg1(), tf.Arg2())
	n, err := f.Fops.Write(ub)
	return n, err
}

func sysLseek(t *task.Task_t, tf *InterruptFrame_t) (int, defs.Err_t) {
	f, err := getFile(t, tf.Arg0())
	if err != 0 {
		return 0, err
	}
	return f.Fops.Lseek(tf.Arg1(), tf.Arg2())
}

func writeStatOut(t *task.Task_t, uva int, st *stat.Stat_t) defs.Err_t {
	return t.As.K2user(st.Bytes(), uva)
}

func sysStat(t *task.Task_t, tf *InterruptFrame_t) (int, defs.Err_t) {
	path, err := userPath(t, tf.Arg0())
	if err != 0 {
		return 0, err
	}
	ino, err := vfs.Resolve(path)
	if err != 0 {
		return 0, err
	}
	var st stat.Stat_t
	if err := ino.Stat(&st); err != 0 {
		return 0, err
	}
	return 0, writeStatOut(t, tf.Arg1(), &st)
}

func sysStatfs(t *task.Task_t, tf *InterruptFrame_t) (int, defs.Err_t) {
	_, err := userPath(t, tf.Arg0())
	if err != 0 {
		return 0, err
	}
	// Statfs_t's wire layout isn't pinned to any real ABI here (no
	// userspace libc consumes it in this exercise's scope), so nothing
	// is written back: the call only reads the path argument and
	// returns 0, and the buffer argument is ignored.
	return 0, 0
}

func sysStatx(t *task.Task_t, tf *InterruptFrame_t) (int, defs.Err_t) {
	return sysStat(t, tf)
}

func sysChdir(t *task.Task_t, tf *InterruptFrame_t) (int, defs.Err_t) {
	path, err := userPath(t, tf.Arg0())
	if err != 0 {
		return 0, err
	}
	ino, err := vfs.Resolve(path)
	if err != 0 {
		return 0, err
	}
	if ino.FileType() != vfs.Directory {
		return 0, defs.ENOTDIR.AsErr()
	}
	h, err := vfs.Open(path, defs.O_DIRECTORY, 0)
	if err != 0 {
		return 0, err
	}
	t.Cwd.Lock()
	old := t.Cwd.Fd
	t.Cwd.Fd = &fd.Fd_t{Fops: h, Perms: fd.FD_READ}
	t.Cwd.Path = path
	t.Cwd.Unlock()
	if old != nil {
		old.Fops.Close()
	}
	return 0, 0
}

func sysChmod(t *task.Task_t, tf *InterruptFrame_t) (int, defs.Err_t) {
	// File permission bits are not modeled independently of the mode
	// word ext2 already stores at Create time (§9 Non-goals: no
	// per-task uid/gid permission enforcement), so chmod is accepted
	// but does not alter persisted state.
	_, err := userPath(t, tf.Arg0())
	return 0, err
}

func sysUnlink(t *task.Task_t, tf *InterruptFrame_t) (int, defs.Err_t) {
	path, err := userPath(t, tf.Arg0())
	if err != 0 {
		return 0, err
	}
	parent, name := splitForOp(path)
	pino, err := vfs.Resolve(parent)
	if err != 0 {
		return 0, err
	}
	return 0, pino.Unlink(name)
}

func sysMkdir(t *task.Task_t, tf *InterruptFrame_t) (int, defs.Err_t) {
	path, err := userPath(t, tf.Arg0())
	if err != 0 {
		return 0, err
	}
	mode := uint(tf.Arg1())
	parent, name := splitForOp(path)
	pino, err := vfs.Resolve(parent)
	if err != 0 {
		return 0, err
	}
	_, err = pino.Create(name, vfs.Directory, mode)
	return 0, err
}

func sysRmdir(t *task.Task_t, tf *InterruptFrame_t) (int, defs.Err_t) {
	path, err := userPath(t, tf.Arg0())
	if err != 0 {
		return 0, err
	}
	parent, name := splitForOp(path)
	pino, err := vfs.Resolve(parent)
	if err != 0 {
		return 0, err
	}
	return 0, pino.Rmdir(name)
}

func sysTruncate(t *task.Task_t, tf *InterruptFrame_t) (int, defs.Err_t) {
	path, err := userPath(t, tf.Arg0())
	if err != 0 {
		return 0, err
	}
	ino, err := vfs.Resolve(path)
	if err != 0 {
		return 0, err
	}
	return 0, ino.Truncate(uint(tf.Arg1()))
}

func sysGetdents(t *task.Task_t, tf *InterruptFrame_t) (int, defs.Err_t) {
	f, err := getFile(t, tf.Arg0())
	if err != 0 {
		return 0, err
	}
	ub := &uas.Userbuf_t{}
	ub.Init(t.As, tf.Arg1(), tf.Arg2())
	return f.Fops.Getdents(ub)
}

func sysIoctl(t *task.Task_t, tf *InterruptFrame_t) (int, defs.Err_t) {
	f, err := getFile(t, tf.Arg0())
	if err != 0 {
		return 0, err
	}
	return f.Fops.Ioctl(tf.Arg1(), tf.Arg2())
}

func sysPipe(t *task.Task_t, tf *InterruptFrame_t) (int, defs.Err_t) {
	r, w, err := pipeEnds()
	if err != 0 {
		return 0, err
	}
	rn, err := t.Fds.Add(&fd.Fd_t{Fops: r, Perms: fd.FD_READ})
	if err != 0 {
		return 0, err
	}
	wn, err := t.Fds.Add(&fd.Fd_t{Fops: w, Perms: fd.FD_WRITE})
	if err != 0 {
		t.Fds.Remove(rn)
		return 0, err
	}
	// fds[] is an in/out array of two ints at Arg0; pack both numbers.
	buf := []uint8{
		uint8(rn), uint8(rn >> 8), uint8(rn >> 16), uint8(rn >> 24),
		uint8(wn), uint8(wn >> 8), uint8(wn >> 16), uint8(wn >> 24),
	}
	return 0, t.As.K2user(buf, tf.Arg0())
}

func sysMount(t *task.Task_t, tf *InterruptFrame_t) (int, defs.Err_t) {
	// Mounting a real device requires a block.BlockDevice handed in
	// from boot's device enumeration, which this syscall-level gate
	// has no path argument for (§9 Non-goals: no general-purpose mount
	// syscall surface beyond what boot wires at startup).
	return 0, defs.ENOSYS.AsErr()
}

func sysUmount(t *task.Task_t, tf *InterruptFrame_t) (int, defs.Err_t) {
	path, err := userPath(t, tf.Arg0())
	if err != 0 {
		return 0, err
	}
	return 0, vfs.Unmount(path.String())
}

// splitForOp is sysUnlink/sysMkdir/sysRmdir's parent+leaf split,
// mirroring vfs.Open's own unexported splitParent since syscall has no
// access to it.
func splitForOp(p ustr.Ustr) (ustr.Ustr, string) {
	comps := p.Components()
	if len(comps) == 0 {
		return ustr.MkUstrRoot(), ""
	}
	last := comps[len(comps)-1]
	parentStr := ""
	for _, c := range comps[:len(comps)-1] {
		parentStr += "/" + c.String()
	}
	if parentStr == "" {
		parentStr = "/"
	}
	return bpath.Canonicalize(ustr.MkUstrSlice([]uint8(parentStr))), last.String()
}

// pipeEnds wraps pipe.MkEnds's ReadEnd_t/WriteEnd_t pair as the
// fdops.Fdops_i values sysPipe installs into the fd table.
func pipeEnds() (*pipe.ReadEnd_t, *pipe.WriteEnd_t, defs.Err_t) {
	return pipe.MkEnds()
}
