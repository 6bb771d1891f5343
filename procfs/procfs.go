// Package procfs implements the /proc in-memory filesystem (§6):
// per-task accounting records and the /proc/<pid>/fd/<n> and
// /proc/<pid>/cwd symlinks spec.md calls out by name. Built on
// memfs's shared inode tree; the one piece memfs can't supply is a
// directory whose children come from the live task.All() registry
// rather than a fixed map, so the process list and per-pid
// directories are synthesized here on every Lookup/Readdir instead of
// built once at mount time. Grounded on the supplemented
// /proc/<pid>/stat field ordering SPEC_FULL.md's SUPPLEMENTED
// FEATURES section calls out (utime/stime/vsize/rss), the same shape
// ja7ad-consumption/pkg/system/proc and guillermo-go.procstat/stat.go
// parse.
package procfs

import (
	"fmt"
	"strconv"

	"defs"
	"fd"
	"fdops"
	"memfs"
	"task"
	"vfs"
)

// root_t is /proc itself: its only children are numeric pid
// directories, generated fresh from task.All() rather than stored.
type root_t struct{}

func (root_t) Key() uint                { return 1 }
func (root_t) FileType() vfs.FileType_t { return vfs.Directory }
func (root_t) Size() uint               { return 0 }

func (root_t) Lookup(name string) (vfs.Inode_i, defs.Err_t) {
	pid, convErr := strconv.Atoi(name)
	if convErr != nil {
		return nil, defs.ENOENT.AsErr()
	}
	t, ok := task.Lookup(defs.Pid_t(pid))
	if !ok {
		return nil, defs.ENOENT.AsErr()
	}
	return pidDir(t), 0
}

func (root_t) Readdir() ([]vfs.Dirent_t, defs.Err_t) {
	all := task.All()
	out := make([]vfs.Dirent_t, 0, len(all))
	for _, t := range all {
		out = append(out, vfs.Dirent_t{Name: strconv.Itoa(int(t.Pid)), Ino: uint(t.Pid), Type: vfs.Directory})
	}
	return out, 0
}

func (root_t) Create(string, vfs.FileType_t, uint) (vfs.Inode_i, defs.Err_t) {
	return nil, defs.EPERM.AsErr()
}
func (root_t) Unlink(string) defs.Err_t { return defs.EPERM.AsErr() }
func (root_t) Rmdir(string) defs.Err_t  { return defs.EPERM.AsErr() }
func (root_t) Symlink(string, string) (vfs.Inode_i, defs.Err_t) {
	return nil, defs.EPERM.AsErr()
}
func (root_t) Readlink() (string, defs.Err_t) { return "", defs.EINVAL.AsErr() }
func (root_t) Truncate(uint) defs.Err_t       { return defs.EPERM.AsErr() }

func (root_t) Stat(st fdops.Stat_i) defs.Err_t {
	st.Wino(1)
	st.Wmode(0755 | 0x4000)
	return 0
}

func (root_t) Open(int) (fdops.Fdops_i, defs.Err_t) {
	return &dirHandle_t{readdir: root_t{}.Readdir}, 0
}

// dirHandle_t is Getdents-only: every procfs directory (root and each
// pidDir's "fd" subdirectory) is generated fresh, so reads never need
// anything beyond the entry list.
type dirHandle_t struct {
	fdops.Unimplemented_t
	readdir func() ([]vfs.Dirent_t, defs.Err_t)
}

func (h *dirHandle_t) Getdents(dst fdops.Userio_i) (int, defs.Err_t) {
	ents, err := h.readdir()
	if err != 0 {
		return 0, err
	}
	wrote := 0
	for _, e := range ents {
		rec := append([]byte(e.Name), 0)
		n, err := dst.Uiowrite(rec)
		wrote += n
		if err != 0 || n < len(rec) {
			break
		}
	}
	return wrote, 0
}

// sleepstateName mirrors task.Sleepstate_t's Running/Runnable/Light/
// Deep/Dead constants with the single-letter codes Linux's own
// /proc/<pid>/stat uses for its state field.
func sleepstateName(s task.Sleepstate_t) string {
	switch s {
	case task.Running:
		return "R"
	case task.Runnable:
		return "R"
	case task.Light:
		return "S"
	case task.Deep:
		return "D"
	case task.Dead:
		return "Z"
	default:
		return "?"
	}
}

// pidDir builds /proc/<pid>'s tree from a live snapshot of t: "stat"
// (utime/stime/state), "cwd" (a symlink to t's working directory),
// and "fd" (a directory of symlinks to each open descriptor's
// backing path, or "/[unknown]" per spec.md §6 when Fullpath fails).
func pidDir(t *task.Task_t) *memfs.Node_t {
	dir := memfs.NewDir(strconv.Itoa(int(t.Pid)), false)

	dir.AddChild(memfs.NewFile("stat", func() ([]uint8, defs.Err_t) {
		t.Accnt.Lock()
		utime, stime := t.Accnt.Userns, t.Accnt.Sysns
		t.Accnt.Unlock()
		line := fmt.Sprintf("%d (task) %s %d %d %d\n",
			t.Pid, sleepstateName(t.State()), int(t.Ppid()), utime, stime)
		return []uint8(line), 0
	}))

	dir.AddChild(memfs.NewSymlink("cwd", func() (string, defs.Err_t) {
		t.Cwd.Lock()
		defer t.Cwd.Unlock()
		return t.Cwd.Path.String(), 0
	}))

	dir.AddChild(fdDir(t))
	return dir
}

// fdDir builds /proc/<pid>/fd: a live listing of t's descriptor table,
// each entry a symlink to its Fullpath (or "/[unknown]" when Fullpath
// fails or returns an empty path, per spec.md §6; pipe ends and
// sockets report "pipe:" and "socket:").
func fdDir(t *task.Task_t) *memfs.Node_t {
	dir := memfs.NewDir("fd", false)
	t.Fds.Each(func(n int, entry *fd.Fd_t) {
		fops := entry.Fops
		dir.AddChild(memfs.NewSymlink(strconv.Itoa(n), func() (string, defs.Err_t) {
			path, err := fops.Fullpath()
			if err != 0 || path == "" {
				return "/[unknown]", 0
			}
			return path, 0
		}))
	})
	return dir
}

// fs_t is procfs's vfs.Filesystem_i: its root is the dynamic root_t
// rather than a memfs.FS_t, since memfs.NewFS only wraps a static
// *memfs.Node_t tree.
type fs_t struct{}

func (fs_t) Root() vfs.Inode_i { return root_t{} }

func (fs_t) Statfs() vfs.Statfs_t {
	return vfs.Statfs_t{Magic: vfs.MagicProc, Bsize: 4096, NameLen: 255}
}

func (fs_t) Sync() defs.Err_t { return 0 }

// Mount installs procfs at /proc.
func Mount() defs.Err_t {
	return vfs.Mount("/proc", fs_t{})
}
