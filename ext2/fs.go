package ext2

import (
	"encoding/binary"
	"sync"

	"block"
	"defs"
	"hashtable"
	"vfs"
)

// FS_t is a mounted ext2 filesystem instance: the block cache, the
// decoded superblock/BGDT, the staged allocator, and an in-memory
// inode cache keyed by inode number so repeated Lookups of the same
// file share one Inode_t (and its dirty state) rather than diverging
// copies.
type FS_t struct {
	pool    *block.Pool
	sb      *superblock_t
	bgdt    *bgdt_t
	alloc   *allocator_t
	inodes  *hashtable.Hashtable_t
	rootMu  sync.Mutex
	rootIno *Inode_t
}

// Mount reads the superblock and block group descriptor table off dev
// and returns a ready-to-use ext2 filesystem (§4.10 mount protocol).
func Mount(dev block.BlockDevice, mem block.Blockmem_i, cap int) (*FS_t, defs.Err_t) {
	bsz := dev.BlockSize()
	pool := block.NewPool(dev, mem, cap)
	sb, err := readSuperblock(pool, bsz)
	if err != 0 {
		return nil, err
	}
	bgdt, err := readBGDT(pool, sb)
	if err != 0 {
		return nil, err
	}
	fs := &FS_t{
		pool:   pool,
		sb:     sb,
		bgdt:   bgdt,
		alloc:  &allocator_t{pool: pool, sb: sb, bgdt: bgdt},
		inodes: hashtable.MkHash(256),
	}
	return fs, 0
}

func (fs *FS_t) inodeLocation(ino uint32) (blockID block.BlockId, off int) {
	group := (ino - 1) / fs.sb.InodesPerGroup
	index := (ino - 1) % fs.sb.InodesPerGroup
	bsz := fs.sb.blockSize
	perBlock := uint32(bsz / inodeSize)
	table := fs.bgdt.groups[group].InodeTable
	blockID = block.BlockId(table + index/perBlock)
	off = int(index%perBlock) * inodeSize
	return
}

func (fs *FS_t) writeInodeLocked(ino uint32, d diskInode_t) defs.Err_t {
	bid, off := fs.inodeLocation(ino)
	blk, err := fs.pool.GetOrLoad(bid)
	if err != 0 {
		return err
	}
	d.encode(blk.Data[off:])
	fs.pool.MarkDirty(bid)
	fs.pool.Put(bid)
	return 0
}

// getInode loads (or returns the cached) in-memory inode for ino.
func (fs *FS_t) getInode(ino uint32) (*Inode_t, defs.Err_t) {
	if v, ok := fs.inodes.Get(int(ino)); ok {
		return v.(*Inode_t), 0
	}
	bid, off := fs.inodeLocation(ino)
	blk, err := fs.pool.GetOrLoad(bid)
	if err != 0 {
		return nil, err
	}
	d := decodeInode(blk.Data[off:])
	fs.pool.Put(bid)
	in := &Inode_t{fs: fs, ino: ino, disk: d}
	if v, inserted := fs.inodes.Set(int(ino), in); !inserted {
		// a racing loader already cached this inode first.
		return v.(*Inode_t), 0
	}
	return in, 0
}

func (fs *FS_t) cacheInode(in *Inode_t) {
	fs.inodes.Set(int(in.ino), in)
}

// freeInodeAndBlocks stages-frees every block the inode owns (direct
// and indirect index blocks alike) and then the inode slot itself
// (§4.10 Remove step 4), then drops it from the cache.
func (fs *FS_t) freeInodeAndBlocks(in *Inode_t) defs.Err_t {
	in.mu.Lock()
	bsz := fs.sb.blockSize
	nblocks := (int(in.disk.Size) + bsz - 1) / bsz
	in.mu.Unlock()
	for idx := 0; idx < nblocks; idx++ {
		id, err := in.blockAt(idx, false)
		if err == 0 && id != 0 {
			fs.alloc.freeBlock(id)
		}
	}
	fs.freeIndirectBlocks(in)
	fs.alloc.freeInode(in.ino)
	fs.inodes.Del(int(in.ino))
	return 0
}

func (fs *FS_t) freeIndirectBlocks(in *Inode_t) {
	in.mu.Lock()
	ptrs := [3]uint32{in.disk.Block[12], in.disk.Block[13], in.disk.Block[14]}
	in.mu.Unlock()
	for depth, p := range ptrs {
		if p != 0 {
			fs.freeIndirectTree(p, depth+1)
		}
	}
}

func (fs *FS_t) freeIndirectTree(blockID uint32, depth int) {
	if depth > 1 {
		blk, err := fs.pool.GetOrLoad(block.BlockId(blockID))
		if err == 0 {
			ptrsPerBlock := fs.sb.blockSize / 4
			for i := 0; i < ptrsPerBlock; i++ {
				child := binary.LittleEndian.Uint32(blk.Data[i*4:])
				if child != 0 {
					fs.freeIndirectTree(child, depth-1)
				}
			}
			fs.pool.Put(block.BlockId(blockID))
		}
	}
	fs.alloc.freeBlock(blockID)
}

// Root returns the inode-2 root directory, loading it on first use.
func (fs *FS_t) Root() vfs.Inode_i {
	fs.rootMu.Lock()
	defer fs.rootMu.Unlock()
	if fs.rootIno != nil {
		return fs.rootIno
	}
	in, err := fs.getInode(rootIno)
	if err != 0 {
		return nil
	}
	fs.rootIno = in
	return in
}

func (fs *FS_t) Statfs() vfs.Statfs_t {
	fs.sb.mu.Lock()
	defer fs.sb.mu.Unlock()
	return vfs.Statfs_t{
		Magic:      magicExt2,
		Bsize:      uint32(fs.sb.blockSize),
		Blocks:     uint64(fs.sb.BlocksCount),
		BlocksFree: uint64(fs.sb.FreeBlocksCount),
		Files:      uint64(fs.sb.InodesCount),
		FilesFree:  uint64(fs.sb.FreeInodesCount),
		NameLen:    255,
	}
}

// Sync flushes dirty inodes, bitmaps, the BGDT and the superblock,
// restoring State to stateValid on a clean unmount (§4.10).
func (fs *FS_t) Sync() defs.Err_t {
	if err := fs.bgdt.writeback(fs.pool); err != 0 {
		return err
	}
	fs.sb.mu.Lock()
	fs.sb.State = stateValid
	fs.sb.mu.Unlock()
	if err := fs.sb.writeback(fs.pool, fs.sb.blockSize); err != 0 {
		return err
	}
	return fs.pool.Sync()
}
