// Command mkfs builds a bootable ext2 image: format a fresh
// filesystem onto a host file, then replicate a skeleton directory
// tree into it (§4.10 mkfs external interface). Unlike the teacher's
// original, which linked directly against biscuit's in-tree fs/ufs
// packages, this build goes entirely through the same block/ext2/vfs
// stack the running kernel core uses, so the image mkfs produces and
// the image ext2.Mount later reads are exercised by identical code.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"block"
	"defs"
	"ext2"
	"mem"
	"uas"
	"vfs"
)

// hostMem is the Blockmem_i the block cache uses when mkfs runs as an
// ordinary host process with no kernel physical allocator underneath
// it — every page is a freshly heap-allocated Bytepg_t, refcounting is
// irrelevant outside a live kernel. Grounded on block/cache_test.go's
// countingMem test double, the pack's only other Blockmem_i
// implementation.
type hostMem struct{}

func (hostMem) Alloc() (mem.Pa_t, *mem.Bytepg_t, bool) { return 0, &mem.Bytepg_t{}, true }
func (hostMem) Free(mem.Pa_t)                          {}
func (hostMem) Refup(mem.Pa_t)                         {}

const (
	formatBlockSize = 1024
	blockCachePages = 256
	defaultBlocks   = 8 * formatBlockSize // one bitmap block's worth, the single-group ceiling
	defaultInodes   = 4096
)

func main() {
	var blocks, inodes uint32

	root := &cobra.Command{
		Use:   "mkfs <image> <skeleton-dir>",
		Short: "Format an ext2 image and populate it from a host directory tree",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0], args[1], blocks, inodes)
		},
	}
	root.Flags().Uint32Var(&blocks, "blocks", defaultBlocks, "total block count (single group, capped at 8*blocksize)")
	root.Flags().Uint32Var(&inodes, "inodes", defaultInodes, "total inode count")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(image, skeldir string, blocks, inodes uint32) error {
	disk, err := block.OpenFileDisk(image, formatBlockSize, int64(blocks))
	if err != nil {
		return fmt.Errorf("open %s: %w", image, err)
	}
	defer disk.Close()

	if rc := ext2.Format(disk, ext2.FormatParams{
		BlockSize:   formatBlockSize,
		BlocksCount: blocks,
		InodesCount: inodes,
	}); rc != 0 {
		return fmt.Errorf("format %s: %s", image, rc.ToErrno())
	}

	fs, rc := ext2.Mount(disk, hostMem{}, blockCachePages)
	if rc != 0 {
		return fmt.Errorf("mount freshly formatted %s: %s", image, rc.ToErrno())
	}

	if err := addTree(fs.Root(), skeldir); err != nil {
		return err
	}

	if rc := fs.Sync(); rc != 0 {
		return fmt.Errorf("sync %s: %s", image, rc.ToErrno())
	}
	return nil
}

// addTree walks skeldir on the host and replicates its contents
// underneath root, mirroring the teacher's addfiles/copydata pair but
// driven through vfs.Inode_i.Create instead of the deleted ufs.Ufs_t.
func addTree(root vfs.Inode_i, skeldir string) error {
	dirs := map[string]vfs.Inode_i{".": root}

	return filepath.WalkDir(skeldir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walk %s: %w", path, err)
		}
		rel, err := filepath.Rel(skeldir, path)
		if err != nil || rel == "." {
			return err
		}
		rel = filepath.ToSlash(rel)
		parent, name := splitRel(rel)
		parentIno, ok := dirs[parent]
		if !ok {
			return fmt.Errorf("%s: parent directory %q not yet created", rel, parent)
		}

		if d.IsDir() {
			in, rc := parentIno.Create(name, vfs.Directory, 0755)
			if rc != 0 {
				return fmt.Errorf("mkdir %s: %s", rel, rc.ToErrno())
			}
			dirs[rel] = in
			return nil
		}

		in, rc := parentIno.Create(name, vfs.Regular, 0644)
		if rc != 0 {
			return fmt.Errorf("create %s: %s", rel, rc.ToErrno())
		}
		return copyInto(in, path)
	})
}

// splitRel splits a slash-separated relative path into its parent
// directory key (as stored in addTree's dirs map) and final component.
func splitRel(rel string) (parent, name string) {
	if i := strings.LastIndexByte(rel, '/'); i >= 0 {
		return rel[:i], rel[i+1:]
	}
	return ".", rel
}

// copyInto streams src's contents into the freshly created inode in
// through the same fdops.Fdops_i/Userio_i seam a live syscall write
// would use, with uas.Fakeubuf_t standing in for a process's address
// space (fdops's own doc comment names this exact use).
func copyInto(in vfs.Inode_i, src string) error {
	h, rc := in.Open(defs.O_WRONLY)
	if rc != 0 {
		return fmt.Errorf("open %s for write: %s", src, rc.ToErrno())
	}
	defer h.Close()

	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := make([]uint8, 64*1024)
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			var fb uas.Fakeubuf_t
			fb.Fake_init(buf[:n])
			if _, rc := h.Write(&fb); rc != 0 {
				return fmt.Errorf("write %s: %s", src, rc.ToErrno())
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}
