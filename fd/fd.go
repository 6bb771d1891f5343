package fd

import "sync"

import "bpath"
import "defs"
import "fdops"
import "ustr"

/// File descriptor permission bits.
const (
	FD_READ    = 0x1 /// read permission
	FD_WRITE   = 0x2 /// write permission
	FD_CLOEXEC = 0x4 /// close-on-exec flag
)

/// Fd_t represents an open file descriptor.
type Fd_t struct {
       // fops is an interface implemented via a "pointer receiver", thus fops
       // is a reference, not a value
       Fops  fdops.Fdops_i /// descriptor operations
       Perms int           /// permission bits
}

/// Copyfd duplicates an open file descriptor by reopening it.
func Copyfd(fd *Fd_t) (*Fd_t, defs.Err_t) {
	nfd := &Fd_t{}
	*nfd = *fd
	err := nfd.Fops.Reopen()
	if err != 0 {
		return nil, err
	}
	return nfd, 0
}

/// Close_panic closes the descriptor and panics on failure.
func Close_panic(f *Fd_t) {
	if f.Fops.Close() != 0 {
		panic("must succeed")
	}
}

/// Cwd_t tracks the current working directory for a process.
type Cwd_t struct {
       sync.Mutex // to serialize chdirs
       Fd   *Fd_t    /// current directory fd
       Path ustr.Ustr /// canonical path
}

/// Fullpath joins cwd with p if p is not already absolute.
func (cwd *Cwd_t) Fullpath(p ustr.Ustr) ustr.Ustr {
	if p.IsAbsolute() {
		return p
	} else {
		full := append(cwd.Path, '/')
		return append(full, p...)
	}
}

/// Canonicalpath resolves path components relative to cwd.
func (cwd *Cwd_t) Canonicalpath(p ustr.Ustr) ustr.Ustr {
	p1 := cwd.Fullpath(p)
	return bpath.Canonicalize(p1)
}

/// MkRootCwd constructs a Cwd_t rooted at "/".
func MkRootCwd(fd *Fd_t) *Cwd_t {
	c := &Cwd_t{}
	c.Fd = fd
	c.Path = ustr.MkUstrRoot()
	return c
}

// NFDS bounds the number of file descriptors a single process may hold
// open simultaneously (EMFILE beyond this, §6 errno list).
const NFDS = 1024

/// Fdtable_t is a process's open file descriptor table (§3 Task
/// user_ext). It is protected by its own mutex so fork can duplicate it
/// independently of the parent's VMA or signal locks (§5 fork lock
/// ordering: self before child).
type Fdtable_t struct {
	sync.Mutex
	Fds []*Fd_t
}

/// MkFdtable returns an empty descriptor table.
func MkFdtable() *Fdtable_t {
	return &Fdtable_t{Fds: make([]*Fd_t, NFDS)}
}

/// Add installs fd at the lowest unused descriptor number, POSIX-style.
func (ft *Fdtable_t) Add(fd *Fd_t) (int, defs.Err_t) {
	ft.Lock()
	defer ft.Unlock()
	for i, f := range ft.Fds {
		if f == nil {
			ft.Fds[i] = fd
			return i, 0
		}
	}
	return 0, defs.EMFILE.AsErr()
}

/// Get returns the descriptor at n, or EBADF if unset or out of range.
func (ft *Fdtable_t) Get(n int) (*Fd_t, defs.Err_t) {
	ft.Lock()
	defer ft.Unlock()
	if n < 0 || n >= len(ft.Fds) || ft.Fds[n] == nil {
		return nil, defs.EBADF.AsErr()
	}
	return ft.Fds[n], 0
}

/// Remove clears descriptor n and returns the Fd_t that was there, if
/// any, so the caller can close it outside the table lock.
func (ft *Fdtable_t) Remove(n int) *Fd_t {
	ft.Lock()
	defer ft.Unlock()
	if n < 0 || n >= len(ft.Fds) {
		return nil
	}
	f := ft.Fds[n]
	ft.Fds[n] = nil
	return f
}

/// Clone deep-copies the table by reopening every live descriptor
/// (fork semantics, §4.8: "duplicate FD table").
func (ft *Fdtable_t) Clone() (*Fdtable_t, defs.Err_t) {
	ft.Lock()
	defer ft.Unlock()
	nt := MkFdtable()
	for i, f := range ft.Fds {
		if f == nil {
			continue
		}
		nf, err := Copyfd(f)
		if err != 0 {
			return nil, err
		}
		nt.Fds[i] = nf
	}
	return nt, 0
}

/// Each calls f for every live descriptor number and its Fd_t, in
/// ascending order, snapshotting under the table lock first so f runs
/// without holding it — procfs's /proc/<pid>/fd listing (§6) is the
/// only caller that needs to walk the whole table.
func (ft *Fdtable_t) Each(f func(n int, fd *Fd_t)) {
	ft.Lock()
	snap := make([]*Fd_t, len(ft.Fds))
	copy(snap, ft.Fds)
	ft.Unlock()
	for i, fd := range snap {
		if fd != nil {
			f(i, fd)
		}
	}
}

/// CloseExeced closes every descriptor with FD_CLOEXEC set, called on
/// successful execve (§4.8 Exec semantics).
func (ft *Fdtable_t) CloseExeced() {
	ft.Lock()
	defer ft.Unlock()
	for i, f := range ft.Fds {
		if f != nil && f.Perms&FD_CLOEXEC != 0 {
			Close_panic(f)
			ft.Fds[i] = nil
		}
	}
}
