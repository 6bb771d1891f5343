// Package memfs is the shared in-memory inode tree procfs, sysfs,
// devfs, and tmpfs (§6) all build on — the same seam role fdops plays
// between fd/vfs/pipe/socket/tty: a single Inode_i/Fdops_i
// implementation so each of the four filesystems only has to supply
// its own tree shape and dynamic content, not reimplement
// lookup/readdir/open/stat four times. No pack teacher carries an
// in-memory filesystem (the teacher's only filesystem is its on-disk
// `fs` package), so the tree/node structure here is grounded on
// ext2's own Inode_i implementation (ext2/inode.go's Lookup/Create/
// Readdir/Open shape), generalized from disk blocks to an in-process
// map and a mutability flag so read-only synthetic trees (procfs,
// sysfs, devfs) and a fully writable one (tmpfs) share one type.
package memfs

import (
	"sync"
	"sync/atomic"

	"defs"
	"fdops"
	"stat"
	"vfs"
)

var inoCounter uint64

func nextIno() uint { return uint(atomic.AddUint64(&inoCounter, 1)) }

// Node_t is one synthetic inode. A Node_t with mutable set to false
// rejects Create/Unlink/Rmdir/Symlink/Truncate/Write with EPERM —
// procfs/sysfs/devfs's trees are shaped by the kernel, not by a
// process; tmpfs sets mutable true and behaves like a normal
// writable filesystem.
type Node_t struct {
	mu sync.Mutex

	ino  uint
	name string
	ft   vfs.FileType_t
	mode uint

	mutable  bool
	parent   *Node_t
	children map[string]*Node_t

	buf    []byte // tmpfs regular-file contents
	target string // symlink target, static

	// Content, when set, generates a read-only regular file's bytes
	// fresh on every open — procfs's /proc/<pid>/stat and sysfs's
	// attribute files are computed, not stored.
	Content func() ([]byte, defs.Err_t)
	// LinkTarget, when set, computes a symlink's target fresh on every
	// readlink — procfs's /proc/<pid>/fd/<n> entries track a live fd
	// table, not a fixed string.
	LinkTarget func() (string, defs.Err_t)

	rdev      uint                   // devfs char/block device number
	devFops   fdops.Fdops_i          // non-nil for a shared singleton device (console, null)
	devFactory func() fdops.Fdops_i // non-nil for a device needing fresh per-open state (stat, prof)
}

// NewDir allocates an empty, unparented directory node.
func NewDir(name string, mutable bool) *Node_t {
	return &Node_t{ino: nextIno(), name: name, ft: vfs.Directory, mode: 0755,
		mutable: mutable, children: map[string]*Node_t{}}
}

// AddChild links child under dir, overwriting any prior entry of the
// same name — used by procfs/sysfs/devfs to build their static trees
// at mount time.
func (dir *Node_t) AddChild(child *Node_t) *Node_t {
	dir.mu.Lock()
	defer dir.mu.Unlock()
	child.parent = dir
	dir.children[child.name] = child
	return child
}

// NewFile allocates a read-only synthetic regular file whose contents
// are produced by content each time it is opened.
func NewFile(name string, content func() ([]byte, defs.Err_t)) *Node_t {
	return &Node_t{ino: nextIno(), name: name, ft: vfs.Regular, mode: 0444, Content: content}
}

// NewSymlink allocates a read-only synthetic symlink whose target is
// produced by target each time it is followed.
func NewSymlink(name string, target func() (string, defs.Err_t)) *Node_t {
	return &Node_t{ino: nextIno(), name: name, ft: vfs.SymLink, mode: 0777, LinkTarget: target}
}

// NewDevice allocates a char or block device node backed by fops — the
// Fdops_i devfs installs under /dev for the console, /dev/null, and
// the D_STAT/D_PROF pseudo-devices.
func NewDevice(name string, ft vfs.FileType_t, rdev uint, fops fdops.Fdops_i) *Node_t {
	n := &Node_t{ino: nextIno(), name: name, ft: ft, mode: 0666, rdev: rdev}
	n.devFops = fops
	return n
}

// NewDeviceFunc allocates a char or block device node whose Fdops_i is
// constructed fresh on every open via factory, for a device that
// keeps per-handle state (e.g. a read offset into a rendered
// snapshot) and so cannot share one Fdops_i across concurrent opens
// the way the console's line discipline does.
func NewDeviceFunc(name string, ft vfs.FileType_t, rdev uint, factory func() fdops.Fdops_i) *Node_t {
	return &Node_t{ino: nextIno(), name: name, ft: ft, mode: 0666, rdev: rdev, devFactory: factory}
}

func (n *Node_t) Key() uint            { return n.ino }
func (n *Node_t) FileType() vfs.FileType_t { return n.ft }

func (n *Node_t) Size() uint {
	n.mu.Lock()
	defer n.mu.Unlock()
	return uint(len(n.buf))
}

func (n *Node_t) Lookup(name string) (vfs.Inode_i, defs.Err_t) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.ft != vfs.Directory {
		return nil, defs.ENOTDIR.AsErr()
	}
	c, ok := n.children[name]
	if !ok {
		return nil, defs.ENOENT.AsErr()
	}
	return c, 0
}

func (n *Node_t) Create(name string, ft vfs.FileType_t, mode uint) (vfs.Inode_i, defs.Err_t) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.mutable {
		return nil, defs.EPERM.AsErr()
	}
	if n.ft != vfs.Directory {
		return nil, defs.ENOTDIR.AsErr()
	}
	if _, ok := n.children[name]; ok {
		return nil, defs.EEXIST.AsErr()
	}
	c := &Node_t{ino: nextIno(), name: name, ft: ft, mode: mode, mutable: true, parent: n}
	if ft == vfs.Directory {
		c.children = map[string]*Node_t{}
	}
	n.children[name] = c
	return c, 0
}

func (n *Node_t) Unlink(name string) defs.Err_t {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.mutable {
		return defs.EPERM.AsErr()
	}
	c, ok := n.children[name]
	if !ok {
		return defs.ENOENT.AsErr()
	}
	if c.ft == vfs.Directory {
		return defs.EISDIR.AsErr()
	}
	delete(n.children, name)
	return 0
}

func (n *Node_t) Rmdir(name string) defs.Err_t {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.mutable {
		return defs.EPERM.AsErr()
	}
	c, ok := n.children[name]
	if !ok {
		return defs.ENOENT.AsErr()
	}
	if c.ft != vfs.Directory {
		return defs.ENOTDIR.AsErr()
	}
	if len(c.children) != 0 {
		return defs.ENOTEMPTY.AsErr()
	}
	delete(n.children, name)
	return 0
}

func (n *Node_t) Readdir() ([]vfs.Dirent_t, defs.Err_t) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.ft != vfs.Directory {
		return nil, defs.ENOTDIR.AsErr()
	}
	out := make([]vfs.Dirent_t, 0, len(n.children))
	for name, c := range n.children {
		out = append(out, vfs.Dirent_t{Name: name, Ino: c.ino, Type: c.ft})
	}
	return out, 0
}

func (n *Node_t) Symlink(name, target string) (vfs.Inode_i, defs.Err_t) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.mutable {
		return nil, defs.EPERM.AsErr()
	}
	if _, ok := n.children[name]; ok {
		return nil, defs.EEXIST.AsErr()
	}
	c := &Node_t{ino: nextIno(), name: name, ft: vfs.SymLink, mode: 0777, target: target, parent: n}
	n.children[name] = c
	return c, 0
}

func (n *Node_t) Readlink() (string, defs.Err_t) {
	n.mu.Lock()
	link := n.LinkTarget
	target := n.target
	n.mu.Unlock()
	if n.ft != vfs.SymLink {
		return "", defs.EINVAL.AsErr()
	}
	if link != nil {
		return link()
	}
	return target, 0
}

func (n *Node_t) Truncate(newlen uint) defs.Err_t {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.mutable {
		return defs.EPERM.AsErr()
	}
	if uint(len(n.buf)) == newlen {
		return 0
	}
	if newlen < uint(len(n.buf)) {
		n.buf = n.buf[:newlen]
		return 0
	}
	grown := make([]byte, newlen)
	copy(grown, n.buf)
	n.buf = grown
	return 0
}

func (n *Node_t) Stat(st *stat.Stat_t) defs.Err_t {
	n.mu.Lock()
	defer n.mu.Unlock()
	st.Wino(n.ino)
	st.Wmode(n.mode | uint(modeBitsFor(n.ft)))
	st.Wsize(uint(len(n.buf)))
	if n.rdev != 0 {
		st.Wrdev(n.rdev)
	}
	return 0
}

func modeBitsFor(ft vfs.FileType_t) uint {
	switch ft {
	case vfs.Directory:
		return 0x4000
	case vfs.CharDevice:
		return 0x2000
	case vfs.BlockDevice:
		return 0x6000
	case vfs.SymLink:
		return 0xA000
	default:
		return 0x8000
	}
}

// Open returns a handle over n: a device node hands back its own
// Fdops_i directly (console, /dev/null, the stat/prof devices), a
// regular Content-bearing node snapshots its generator once per open,
// and a mutable tmpfs file reads/writes n.buf in place.
func (n *Node_t) Open(flags int) (fdops.Fdops_i, defs.Err_t) {
	if n.devFactory != nil {
		return n.devFactory(), 0
	}
	if n.devFops != nil {
		return n.devFops, 0
	}
	if n.ft == vfs.Directory {
		return &handle_t{node: n}, 0
	}
	if n.Content != nil {
		snap, err := n.Content()
		if err != 0 {
			return nil, err
		}
		return &handle_t{node: n, snapshot: snap}, 0
	}
	if flags&defs.O_TRUNC != 0 {
		n.Truncate(0)
	}
	return &handle_t{node: n}, 0
}

// handle_t is the Fdops_i a Node_t's Open hands out: an offset plus a
// reference to either the node's mutable buffer or a Content
// snapshot taken at open time, the same "read is stable across
// concurrent writers" guarantee a procfs read gets from the real
// Linux kernel's own snapshot-at-open behavior for /proc files.
type handle_t struct {
	fdops.Unimplemented_t
	node     *Node_t
	snapshot []byte // nil unless this handle wraps a Content() file
	off      int
}

func (h *handle_t) bytes() []byte {
	if h.snapshot != nil {
		return h.snapshot
	}
	return h.node.buf
}

func (h *handle_t) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	h.node.mu.Lock()
	src := h.bytes()
	if h.off >= len(src) {
		h.node.mu.Unlock()
		return 0, 0
	}
	chunk := src[h.off:]
	h.node.mu.Unlock()
	n, err := dst.Uiowrite(chunk)
	h.off += n
	return n, err
}

func (h *handle_t) Write(src fdops.Userio_i) (int, defs.Err_t) {
	if h.snapshot != nil || !h.node.mutable {
		return 0, defs.EPERM.AsErr()
	}
	buf := make([]uint8, src.Remain())
	n, err := src.Uioread(buf)
	if err != 0 {
		return 0, err
	}
	h.node.mu.Lock()
	defer h.node.mu.Unlock()
	end := h.off + n
	if end > len(h.node.buf) {
		grown := make([]byte, end)
		copy(grown, h.node.buf)
		h.node.buf = grown
	}
	copy(h.node.buf[h.off:end], buf[:n])
	h.off = end
	return n, 0
}

func (h *handle_t) Lseek(off, whence int) (int, defs.Err_t) {
	switch whence {
	case 0:
		h.off = off
	case 1:
		h.off += off
	case 2:
		h.node.mu.Lock()
		h.off = len(h.bytes()) + off
		h.node.mu.Unlock()
	default:
		return 0, defs.EINVAL.AsErr()
	}
	return h.off, 0
}

func (h *handle_t) Getdents(dst fdops.Userio_i) (int, defs.Err_t) {
	ents, err := h.node.Readdir()
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

func (h *handle_t) Stat(st fdops.Stat_i) defs.Err_t {
	var full stat.Stat_t
	if err := h.node.Stat(&full); err != 0 {
		return err
	}
	st.Wino(full.Rino())
	st.Wmode(full.Mode())
	st.Wsize(full.Size())
	return 0
}

func (h *handle_t) Fullpath() (string, defs.Err_t) { return h.node.name, 0 }
func (h *handle_t) Pathi() fdops.Inode_i            { return h.node }

// FS_t is a mountable in-memory filesystem: a root Node_t plus the
// statfs64 magic the owning package (procfs/sysfs/devfs/tmpfs)
// selects from vfs's Magic* constants.
type FS_t struct {
	root  *Node_t
	magic uint32
}

func NewFS(root *Node_t, magic uint32) *FS_t { return &FS_t{root: root, magic: magic} }

func (fs *FS_t) Root() vfs.Inode_i { return fs.root }

func (fs *FS_t) Statfs() vfs.Statfs_t {
	return vfs.Statfs_t{Magic: fs.magic, Bsize: 4096, NameLen: 255}
}

func (fs *FS_t) Sync() defs.Err_t { return 0 }
