// Package tmpfs implements the /tmp in-memory filesystem (§6): a
// fully writable tree with no backing store, reclaimed entirely by
// garbage collection once unmounted. Unlike procfs/sysfs/devfs, every
// node memfs builds here is mutable, so Create/Write/Unlink/Rmdir/
// Symlink/Truncate all go through memfs's own buffer-backed path
// rather than a read-only Content hook — tmpfs needs nothing beyond
// what memfs.Node_t already implements for a writable tree.
package tmpfs

import (
	"defs"
	"memfs"
	"vfs"
)

// Mount installs tmpfs at /tmp.
func Mount() defs.Err_t {
	return vfs.Mount("/tmp", memfs.NewFS(memfs.NewDir("", true), vfs.MagicTmpfs))
}
