package ext2

import (
	"sync"

	"block"
	"defs"
)

// stageToken_t is a reserved-but-not-yet-committed bitmap bit (§4.10:
// "callers request a staging token from the superblock, commit it only
// after all dependent updates succeed; on error the stage drops and
// the bitmap bit is restored"). The bit is set in the in-memory bitmap
// page the instant it is staged, so no other allocator can hand out
// the same bit, but the superblock/BGDT free counts are not touched
// until Commit.
type stageToken_t struct {
	isInode bool
	group   int
	bit     int
	id      uint32
}

// allocator_t staged-allocates blocks and inodes out of the bitmaps
// the BGDT points to.
type allocator_t struct {
	mu   sync.Mutex
	pool *block.Pool
	sb   *superblock_t
	bgdt *bgdt_t
}

func bitmapGetBit(data []uint8, bit int) bool {
	return data[bit/8]&(1<<uint(bit%8)) != 0
}

func bitmapSetBit(data []uint8, bit int, v bool) {
	mask := uint8(1 << uint(bit%8))
	if v {
		data[bit/8] |= mask
	} else {
		data[bit/8] &^= mask
	}
}

// stageBlock reserves one free block, preferring group hint, and
// returns a token the caller must Commit or Abort.
func (a *allocator_t) stageBlock(hint int) (*stageToken_t, defs.Err_t) {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := len(a.bgdt.groups)
	for i := 0; i < n; i++ {
		g := (hint + i) % n
		if a.bgdt.groups[g].FreeBlocksCount == 0 {
			continue
		}
		blk, err := a.pool.GetOrLoad(block.BlockId(a.bgdt.groups[g].BlockBitmap))
		if err != 0 {
			return nil, err
		}
		bitsInGroup := int(a.sb.BlocksPerGroup)
		for bit := 0; bit < bitsInGroup; bit++ {
			if !bitmapGetBit(blk.Data[:], bit) {
				bitmapSetBit(blk.Data[:], bit, true)
				a.pool.MarkDirty(block.BlockId(a.bgdt.groups[g].BlockBitmap))
				a.pool.Put(block.BlockId(a.bgdt.groups[g].BlockBitmap))
				id := a.sb.FirstDataBlock + uint32(g)*a.sb.BlocksPerGroup + uint32(bit)
				return &stageToken_t{group: g, bit: bit, id: id}, 0
			}
		}
		a.pool.Put(block.BlockId(a.bgdt.groups[g].BlockBitmap))
	}
	return nil, defs.ENOMEM.AsErr()
}

// stageInode reserves one free inode the same way.
func (a *allocator_t) stageInode(hint int) (*stageToken_t, defs.Err_t) {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := len(a.bgdt.groups)
	for i := 0; i < n; i++ {
		g := (hint + i) % n
		if a.bgdt.groups[g].FreeInodesCount == 0 {
			continue
		}
		blk, err := a.pool.GetOrLoad(block.BlockId(a.bgdt.groups[g].InodeBitmap))
		if err != 0 {
			return nil, err
		}
		bitsInGroup := int(a.sb.InodesPerGroup)
		for bit := 0; bit < bitsInGroup; bit++ {
			if !bitmapGetBit(blk.Data[:], bit) {
				bitmapSetBit(blk.Data[:], bit, true)
				a.pool.MarkDirty(block.BlockId(a.bgdt.groups[g].InodeBitmap))
				a.pool.Put(block.BlockId(a.bgdt.groups[g].InodeBitmap))
				ino := uint32(g)*a.sb.InodesPerGroup + uint32(bit) + 1
				return &stageToken_t{isInode: true, group: g, bit: bit, id: ino}, 0
			}
		}
		a.pool.Put(block.BlockId(a.bgdt.groups[g].InodeBitmap))
	}
	return nil, defs.ENOMEM.AsErr()
}

// Commit makes a staged allocation permanent: the free counts drop and
// the BGDT/superblock become dirty for the next Sync.
func (a *allocator_t) commit(tok *stageToken_t) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sb.mu.Lock()
	if tok.isInode {
		a.bgdt.groups[tok.group].FreeInodesCount--
		a.sb.FreeInodesCount--
	} else {
		a.bgdt.groups[tok.group].FreeBlocksCount--
		a.sb.FreeBlocksCount--
	}
	a.sb.dirty = true
	a.sb.mu.Unlock()
}

// abort drops a staged allocation, restoring the bitmap bit (§4.10:
// "on error the stage drops and the bitmap bit is restored").
func (a *allocator_t) abort(tok *stageToken_t) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var bitmapBlock uint32
	if tok.isInode {
		bitmapBlock = a.bgdt.groups[tok.group].InodeBitmap
	} else {
		bitmapBlock = a.bgdt.groups[tok.group].BlockBitmap
	}
	blk, err := a.pool.GetOrLoad(block.BlockId(bitmapBlock))
	if err != 0 {
		return
	}
	bitmapSetBit(blk.Data[:], tok.bit, false)
	a.pool.MarkDirty(block.BlockId(bitmapBlock))
	a.pool.Put(block.BlockId(bitmapBlock))
}

// freeBlock releases a previously committed block, the unlink/rmdir/
// truncate-shrink path (§4.10 Remove step 4: "for each of the inode's
// blocks, stage a block free").
func (a *allocator_t) freeBlock(id uint32) {
	a.mu.Lock()
	g := int((id - a.sb.FirstDataBlock) / a.sb.BlocksPerGroup)
	bit := int((id - a.sb.FirstDataBlock) % a.sb.BlocksPerGroup)
	bitmapBlock := a.bgdt.groups[g].BlockBitmap
	a.mu.Unlock()

	blk, err := a.pool.GetOrLoad(block.BlockId(bitmapBlock))
	if err != 0 {
		return
	}
	bitmapSetBit(blk.Data[:], bit, false)
	a.pool.MarkDirty(block.BlockId(bitmapBlock))
	a.pool.Put(block.BlockId(bitmapBlock))

	a.mu.Lock()
	a.bgdt.groups[g].FreeBlocksCount++
	a.sb.mu.Lock()
	a.sb.FreeBlocksCount++
	a.sb.dirty = true
	a.sb.mu.Unlock()
	a.mu.Unlock()
}

func (a *allocator_t) freeInode(ino uint32) {
	a.mu.Lock()
	g := int((ino - 1) / a.sb.InodesPerGroup)
	bit := int((ino - 1) % a.sb.InodesPerGroup)
	bitmapBlock := a.bgdt.groups[g].InodeBitmap
	a.mu.Unlock()

	blk, err := a.pool.GetOrLoad(block.BlockId(bitmapBlock))
	if err != 0 {
		return
	}
	bitmapSetBit(blk.Data[:], bit, false)
	a.pool.MarkDirty(block.BlockId(bitmapBlock))
	a.pool.Put(block.BlockId(bitmapBlock))

	a.mu.Lock()
	a.bgdt.groups[g].FreeInodesCount++
	a.sb.mu.Lock()
	a.sb.FreeInodesCount++
	a.sb.dirty = true
	a.sb.mu.Unlock()
	a.mu.Unlock()
}
