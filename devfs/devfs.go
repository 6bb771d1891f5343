// Package devfs implements the /dev in-memory filesystem (§6): the
// console (D_CONSOLE), /dev/null (D_DEVNULL), and the /dev/stat and
// /dev/prof pseudo-devices (D_STAT, D_PROF) that serve the stats
// package's counters. Built on memfs's shared inode tree the same way
// procfs and sysfs are; the one piece specific to devfs is that each
// node's devFops hook hands off directly to another package's
// fdops.Fdops_i instead of memfs's own read/write buffer, since a
// device's semantics (line discipline, discard-on-write) belong to
// the device's own package, not to the filesystem.
package devfs

import (
	"bytes"

	"defs"
	"fdops"
	"memfs"
	"stats"
	"tty"
	"vfs"
)

// console is the system console device. boot installs the real driver
// through SetConsole once interrupts and the keyboard/framebuffer
// drivers are up; until then it is a usable but disconnected tty so
// early mounts and tests don't need a live driver to construct devfs.
var console = tty.New()

// SetConsole lets boot replace the console device with the driver
// wired to real hardware, mirroring sysfs.SetVersion's pattern for a
// value only known once boot runs.
func SetConsole(t *tty.Tty_t) { console = t }

// Console returns the current console device, e.g. for boot to print
// early panic output before devfs has even been mounted.
func Console() *tty.Tty_t { return console }

// nullDevice implements /dev/null: writes are discarded, reads return
// EOF immediately.
type nullDevice struct{ fdops.Unimplemented_t }

func (nullDevice) Read(fdops.Userio_i) (int, defs.Err_t)  { return 0, 0 }
func (nullDevice) Write(dst fdops.Userio_i) (int, defs.Err_t) {
	return dst.Totalsz(), 0
}
func (nullDevice) Reopen() defs.Err_t { return 0 }

// readonlyDevice wraps a func that renders a device's whole content on
// every Read, for /dev/stat and /dev/prof: both are snapshot reads of
// live counters, not a seekable byte stream anyone appends to.
type readonlyDevice struct {
	fdops.Unimplemented_t
	render func() []uint8
	off    int
}

func (d *readonlyDevice) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	buf := d.render()
	if d.off >= len(buf) {
		return 0, 0
	}
	n, err := dst.Uiowrite(buf[d.off:])
	d.off += n
	return n, err
}

func (d *readonlyDevice) Reopen() defs.Err_t {
	d.off = 0
	return 0
}

func statRender() []uint8 {
	return []uint8(stats.Stats2String(&stats.Global))
}

func profRender() []uint8 {
	var buf bytes.Buffer
	if err := stats.WriteProfile(&buf, &stats.Global); err != nil {
		return nil
	}
	return buf.Bytes()
}

func buildTree() *memfs.Node_t {
	root := memfs.NewDir("", false)

	root.AddChild(memfs.NewDevice("console", vfs.CharDevice,
		defs.Mkdev(defs.D_CONSOLE, 0), console))
	root.AddChild(memfs.NewDevice("null", vfs.CharDevice,
		defs.Mkdev(defs.D_DEVNULL, 0), nullDevice{}))
	root.AddChild(memfs.NewDeviceFunc("stat", vfs.CharDevice,
		defs.Mkdev(defs.D_STAT, 0), func() fdops.Fdops_i {
			return &readonlyDevice{render: statRender}
		}))
	root.AddChild(memfs.NewDeviceFunc("prof", vfs.CharDevice,
		defs.Mkdev(defs.D_PROF, 0), func() fdops.Fdops_i {
			return &readonlyDevice{render: profRender}
		}))

	return root
}

type fs_t struct{ root *memfs.Node_t }

func (f fs_t) Root() vfs.Inode_i { return f.root }

func (fs_t) Statfs() vfs.Statfs_t {
	return vfs.Statfs_t{Magic: vfs.MagicDevfs, Bsize: 4096, NameLen: 255}
}

func (fs_t) Sync() defs.Err_t { return 0 }

// Mount installs devfs at /dev.
func Mount() defs.Err_t {
	return vfs.Mount("/dev", fs_t{root: buildTree()})
}
