package vfs

import (
	"testing"

	"github.com/kylelemons/godebug/pretty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"defs"
	"memfs"
	"ustr"
)

func mountMemfs(t *testing.T, at string) {
	t.Helper()
	fs := memfs.NewFS(memfs.NewDir("", true), MagicTmpfs)
	require.Zero(t, int(Mount(at, fs)))
	t.Cleanup(func() { Unmount(at) })
}

func TestOpenCreateResolvesThroughDentryCache(t *testing.T) {
	mountMemfs(t, "/")

	h, err := Open(ustr.Ustr("/greeting"), defs.O_CREAT|defs.O_RDONLY, 0644)
	require.Zero(t, int(err))
	require.NotNil(t, h)

	ino, err := Resolve(ustr.Ustr("/greeting"))
	require.Zero(t, int(err))
	assert.Equal(t, Regular, ino.FileType())

	// a second Resolve should hit the dentry cache and return the same
	// underlying inode rather than a fresh Lookup.
	again, err := Resolve(ustr.Ustr("/greeting"))
	require.Zero(t, int(err))
	assert.Equal(t, ino.Key(), again.Key())
}

func TestOpenExclRefusesExistingFile(t *testing.T) {
	mountMemfs(t, "/")

	_, err := Open(ustr.Ustr("/dup"), defs.O_CREAT|defs.O_RDONLY, 0644)
	require.Zero(t, int(err))

	_, err = Open(ustr.Ustr("/dup"), defs.O_CREAT|defs.O_EXCL|defs.O_RDONLY, 0644)
	assert.Equal(t, defs.EEXIST.AsErr(), err)
}

func TestMountReplacesAndUnmountRestores(t *testing.T) {
	mountMemfs(t, "/")
	_, err := Open(ustr.Ustr("/under"), defs.O_CREAT|defs.O_RDONLY, 0644)
	require.Zero(t, int(err))

	inner := memfs.NewFS(memfs.NewDir("", true), MagicTmpfs)
	require.Zero(t, int(Mount("/mnt", inner)))

	wantStatfs := Statfs_t{Magic: MagicTmpfs, Bsize: 4096, NameLen: 255}
	gotStatfs := inner.Statfs()
	if diff := pretty.Compare(wantStatfs, gotStatfs); diff != "" {
		t.Fatalf("statfs mismatch (-want +got):\n%s", diff)
	}

	_, err = Resolve(ustr.Ustr("/mnt"))
	require.Zero(t, int(err))

	require.Zero(t, int(Unmount("/mnt")))
	_, err = Resolve(ustr.Ustr("/mnt"))
	assert.Equal(t, defs.ENOENT.AsErr(), err)
}
