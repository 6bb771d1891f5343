// Package fdops defines the interfaces a VFS handle and a process's
// user-memory views present to the rest of the kernel, breaking the
// import cycle between fd, vfs, uas, and pipe/socket/tty (the teacher
// draws the same seam between fd and the packages that implement
// Fdops_i, e.g. fs).
package fdops

import "defs"

// Userio_i abstracts a source or sink of bytes addressed by user
// virtual memory: a Userbuf_t (uas package) for syscall read/write, or
// a Fakeubuf_t (tests, cmd/mkfs) for host-side callers with no address
// space at all.
type Userio_i interface {
	// Uioread copies up to len(dst) bytes into dst and returns the
	// count copied.
	Uioread(dst []uint8) (int, defs.Err_t)
	// Uiowrite copies up to len(src) bytes from src.
	Uiowrite(src []uint8) (int, defs.Err_t)
	// Remain reports how many bytes are left unconsumed.
	Remain() int
	// Totalsz reports the buffer's original size.
	Totalsz() int
}

// Fdops_i is implemented by every kind of open handle — a VFS file, a
// pipe end, a socket, a TTY line — so that fd.Fd_t can hold any of them
// behind one vtable (§4.9 Handle operations).
type Fdops_i interface {
	Read(dst Userio_i) (int, defs.Err_t)
	Write(src Userio_i) (int, defs.Err_t)
	// Fullpath returns the canonical path backing this handle, used
	// by /proc/<pid>/fd/<n> symlinks.
	Fullpath() (string, defs.Err_t)
	Close() defs.Err_t
	Stat(st Stat_i) defs.Err_t
	// Lseek repositions the handle; ESPIPE/EISDIR for non-seekable
	// kinds per §4.9.
	Lseek(off, whence int) (int, defs.Err_t)
	Reopen() defs.Err_t
	// Getdents appends directory entries into dst, returning bytes
	// written; ENOTDIR if the handle is not a directory.
	Getdents(dst Userio_i) (int, defs.Err_t)
	Ioctl(cmd int, arg int) (int, defs.Err_t)
	Accept(sa Userio_i, salen Userio_i) (Fdops_i, defs.Err_t)
	Bind(sa []uint8) defs.Err_t
	Connect(sa []uint8) defs.Err_t
	Listen(backlog int) (Fdops_i, defs.Err_t)
	Sendto(src Userio_i, sa []uint8, flags int) (int, defs.Err_t)
	Recvfrom(dst Userio_i, fromsa Userio_i) (int, defs.Err_t, int)
	Pathi() Inode_i
}

// Stat_i is the subset of stat.Stat_t's writers Fdops_i.Stat needs,
// expressed as an interface to avoid a dependency cycle with package
// stat from fdops.
type Stat_i interface {
	Wdev(uint)
	Wino(uint)
	Wmode(uint)
	Wsize(uint)
	Wrdev(uint)
}

// Inode_i is the minimal inode identity a handle exposes, enough for
// mmap's file-backed VMAs (uas package) and /proc/<pid>/fd resolution
// without importing the full vfs package from fdops.
type Inode_i interface {
	Key() uint
}

// Unimplemented_t is embedded by Fdops_i implementations (pipe, socket,
// tty, the in-memory filesystems) that only need a handful of the
// sixteen methods: embedding this gives every other method a
// spec-appropriate stub (ENOTCONN for the socket-only ops, ESPIPE for
// Lseek, etc.) instead of forcing every kind to restate boilerplate
// "not supported here" bodies.
type Unimplemented_t struct{}

func (Unimplemented_t) Read(Userio_i) (int, defs.Err_t)            { return 0, defs.EINVAL.AsErr() }
func (Unimplemented_t) Write(Userio_i) (int, defs.Err_t)           { return 0, defs.EINVAL.AsErr() }
func (Unimplemented_t) Fullpath() (string, defs.Err_t)             { return "", 0 }
func (Unimplemented_t) Close() defs.Err_t                          { return 0 }
func (Unimplemented_t) Stat(Stat_i) defs.Err_t                     { return defs.EINVAL.AsErr() }
func (Unimplemented_t) Lseek(int, int) (int, defs.Err_t)           { return 0, defs.ESPIPE.AsErr() }
func (Unimplemented_t) Reopen() defs.Err_t                         { return 0 }
func (Unimplemented_t) Getdents(Userio_i) (int, defs.Err_t)        { return 0, defs.ENOTDIR.AsErr() }
func (Unimplemented_t) Ioctl(int, int) (int, defs.Err_t)           { return 0, defs.ENOTTY.AsErr() }
func (Unimplemented_t) Accept(Userio_i, Userio_i) (Fdops_i, defs.Err_t) {
	return nil, defs.ENOTCONN.AsErr()
}
func (Unimplemented_t) Bind(sa []uint8) defs.Err_t    { return defs.ENOTCONN.AsErr() }
func (Unimplemented_t) Connect(sa []uint8) defs.Err_t { return defs.ENOTCONN.AsErr() }
func (Unimplemented_t) Listen(int) (Fdops_i, defs.Err_t) {
	return nil, defs.ENOTCONN.AsErr()
}
func (Unimplemented_t) Sendto(Userio_i, []uint8, int) (int, defs.Err_t) {
	return 0, defs.ENOTCONN.AsErr()
}
func (Unimplemented_t) Recvfrom(Userio_i, Userio_i) (int, defs.Err_t, int) {
	return 0, defs.ENOTCONN.AsErr(), 0
}
func (Unimplemented_t) Pathi() Inode_i { return nil }
