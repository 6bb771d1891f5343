// Package vfs implements the virtual filesystem layer (§4.9): path
// resolution across mounts, a dentry cache, and the Handle operations
// (read/write/lseek/ioctl/close/getdents) every open file descriptor
// goes through regardless of which concrete filesystem backs it.
// No pack teacher carries a VFS layer of its own (the teacher's `fs`
// package conflated path resolution with its own on-disk format), so
// this package is grounded directly on spec.md §4.9's own description
// of sub_mount/sub_tree/lookup-and-cache, expressed in the teacher's
// general idiom (Ustr-keyed lookups, Err_t returns, a mutex-guarded
// table) and wired to the adapted `hashtable.Hashtable_t` for the
// dentry cache the spec calls "the cached sub_tree."
package vfs

import (
	"sync"

	"defs"
	"fdops"
	"hashtable"
	"stat"
	"ustr"
)

// FileType_t is one of the kinds a directory entry can name (§4.9).
type FileType_t int

const (
	Regular FileType_t = iota
	Directory
	CharDevice
	BlockDevice
	Pipe
	Socket
	SymLink
)

// Dirent_t is one VFS-level directory entry, returned by Getdents and
// consulted during path resolution before falling through to the
// backing filesystem's own Lookup.
type Dirent_t struct {
	Name string
	Ino  uint
	Type FileType_t
}

// Inode_i is implemented by a concrete filesystem's in-memory inode
// (ext2.Inode_t, or a procfs/sysfs/devfs/tmpfs node) — the contract
// vfs needs to resolve paths, open handles, and fill stat/statx
// without depending on any specific on-disk format.
type Inode_i interface {
	fdops.Inode_i // Key() uint, reused as the inode number

	Lookup(name string) (Inode_i, defs.Err_t)
	Create(name string, ft FileType_t, mode uint) (Inode_i, defs.Err_t)
	Unlink(name string) defs.Err_t
	Rmdir(name string) defs.Err_t
	Readdir() ([]Dirent_t, defs.Err_t)
	Symlink(name, target string) (Inode_i, defs.Err_t)
	Readlink() (string, defs.Err_t)
	Truncate(newlen uint) defs.Err_t

	Open(flags int) (fdops.Fdops_i, defs.Err_t)
	Stat(st *stat.Stat_t) defs.Err_t
	FileType() FileType_t
	Size() uint
}

// Filesystem_i is implemented by a mountable filesystem; ext2.FS_t is
// the disk-backed instance, while the in-memory filesystems (procfs,
// sysfs, devfs, tmpfs) implement it directly in terms of a synthesized
// inode tree.
type Filesystem_i interface {
	Root() Inode_i
	// Statfs fills the statfs64 fields (§4.9): magic, block size,
	// block/inode counts, max filename length.
	Statfs() Statfs_t
	// Sync flushes dirty state (ext2's superblock/bitmap writeback;
	// a no-op for the in-memory filesystems).
	Sync() defs.Err_t
}

// Statfs_t backs the statfs64 syscall.
type Statfs_t struct {
	Magic      uint32
	Bsize      uint32
	Blocks     uint64
	BlocksFree uint64
	Files      uint64
	FilesFree  uint64
	NameLen    uint32
}

// Magic numbers for Statfs_t.Magic (§4.9: "among {ext2, proc, devfs,
// tmpfs, sysfs}").
const (
	MagicExt2  = 0xEF53
	MagicProc  = 0x9fa0
	MagicDevfs = 0x1373
	MagicTmpfs = 0x01021994
	MagicSysfs = 0x62656572
)

// mount_t is one entry in the mount table: path is the mountpoint,
// prior is the dentry it displaced (restored atomically on unmount,
// §4.9's "next_mount points to the prior entry").
type mount_t struct {
	fs    Filesystem_i
	prior *mount_t
}

var mounts = struct {
	sync.Mutex
	byPath map[string]*mount_t
}{byPath: map[string]*mount_t{}}

// dentryCache is the "cached sub_tree": resolved absolute path ->
// Inode_i, consulted before calling back into the owning filesystem's
// Lookup. Grounded on the adapted hashtable.Hashtable_t (DOMAIN STACK:
// wired here as the dentry cache it names).
var dentryCache = hashtable.MkHash(1024)

// Mount installs fs at path, privileged-only per §4.9 (the caller —
// package syscall — is expected to have already checked the task's
// privilege). Replaces any existing mount at the same path, chaining
// through `prior` so Unmount can restore it.
func Mount(path string, fs Filesystem_i) defs.Err_t {
	mounts.Lock()
	defer mounts.Unlock()
	prior := mounts.byPath[path]
	mounts.byPath[path] = &mount_t{fs: fs, prior: prior}
	invalidatePrefix(path)
	return 0
}

// Unmount restores whatever was mounted at path before the topmost
// mount there, or removes the mount entirely if there was nothing
// underneath.
func Unmount(path string) defs.Err_t {
	mounts.Lock()
	defer mounts.Unlock()
	cur, ok := mounts.byPath[path]
	if !ok {
		return defs.EINVAL.AsErr()
	}
	if err := cur.fs.Sync(); err != 0 {
		return err
	}
	if cur.prior != nil {
		mounts.byPath[path] = cur.prior
	} else {
		delete(mounts.byPath, path)
	}
	invalidatePrefix(path)
	return 0
}

func invalidatePrefix(prefix string) {
	for _, p := range dentryCache.Elems() {
		if key, ok := p.Key.(string); ok && len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			dentryCache.Del(key)
		}
	}
}

// subMount returns the filesystem mounted exactly at path, if any
// (§4.9's "lookup consults sub_mount first").
func subMount(path string) (Filesystem_i, bool) {
	mounts.Lock()
	defer mounts.Unlock()
	m, ok := mounts.byPath[path]
	if !ok {
		return nil, false
	}
	return m.fs, true
}

const maxSymlinkDepth = 8

// Resolve walks p's components starting from root (an absolute
// canonical path already joined with cwd by fd.Cwd_t.Canonicalpath),
// consulting sub_mount, then the dentry cache, then falling through to
// the owning filesystem's Lookup and caching the result (§4.9). No
// Execute-permission check is made on intermediate directories, here
// or in package syscall: vfs only performs the name resolution.
func Resolve(p ustr.Ustr) (Inode_i, defs.Err_t) {
	return resolveDepth(p, 0)
}

func resolveDepth(p ustr.Ustr, depth int) (Inode_i, defs.Err_t) {
	if depth > maxSymlinkDepth {
		return nil, defs.ELOOP.AsErr()
	}
	rootFs, ok := subMount("/")
	if !ok {
		return nil, defs.ENOENT.AsErr()
	}
	cur := rootFs.Root()
	var stack []string // components resolved so far, for ".." and dentry-cache keys
	for _, comp := range p.Components() {
		switch {
		case comp.Isdot():
			continue
		case comp.Isdotdot():
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			path := pathOf(stack)
			if fs, ok := subMount(path); ok {
				cur = fs.Root()
			} else if cached, ok := dentryCache.Get(path); ok {
				cur = cached.(Inode_i)
			}
			continue
		}
		name := comp.String()
		stack = append(stack, name)
		path := pathOf(stack)
		if fs, ok := subMount(path); ok {
			cur = fs.Root()
			continue
		}
		if cached, ok := dentryCache.Get(path); ok {
			cur = cached.(Inode_i)
			continue
		}
		next, err := cur.Lookup(name)
		if err != 0 {
			return nil, err
		}
		if next.FileType() == SymLink {
			target, err := next.Readlink()
			if err != 0 {
				return nil, err
			}
			resolved, err := resolveDepth(ustr.MkUstr().ExtendStr(target), depth+1)
			if err != 0 {
				return nil, err
			}
			next = resolved
		}
		dentryCache.Set(path, next)
		cur = next
	}
	return cur, 0
}

func pathOf(stack []string) string {
	if len(stack) == 0 {
		return "/"
	}
	out := ""
	for _, s := range stack {
		out += "/" + s
	}
	return out
}

// Handle_t wraps a filesystem's fdops.Fdops_i with the path it was
// opened from, satisfying /proc/<pid>/fd's Fullpath requirement
// uniformly across every backing filesystem.
type Handle_t struct {
	fdops.Fdops_i
	path string
}

// Open resolves path and opens it with flags, returning a Handle_t
// ready to install in a task's fd table.
func Open(path ustr.Ustr, flags int, mode uint) (*Handle_t, defs.Err_t) {
	ino, err := Resolve(path)
	if err != 0 {
		if err != defs.ENOENT.AsErr() || flags&defs.O_CREAT == 0 {
			return nil, err
		}
		parentPath, name := splitParent(path)
		parent, perr := Resolve(parentPath)
		if perr != 0 {
			return nil, perr
		}
		created, cerr := parent.Create(name, Regular, mode)
		if cerr != 0 {
			return nil, cerr
		}
		ino = created
	} else if flags&defs.O_CREAT != 0 && flags&defs.O_EXCL != 0 {
		return nil, defs.EEXIST.AsErr()
	}
	if flags&defs.O_DIRECTORY != 0 && ino.FileType() != Directory {
		return nil, defs.ENOTDIR.AsErr()
	}
	if flags&defs.O_TRUNC != 0 {
		if err := ino.Truncate(0); err != 0 {
			return nil, err
		}
	}
	fops, err := ino.Open(flags)
	if err != 0 {
		return nil, err
	}
	return &Handle_t{Fdops_i: fops, path: path.String()}, 0
}

func splitParent(p ustr.Ustr) (ustr.Ustr, string) {
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
	return ustr.MkUstrSlice([]uint8(parentStr)), last.String()
}

func (h *Handle_t) Fullpath() (string, defs.Err_t) { return h.path, 0 }
