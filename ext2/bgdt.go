package ext2

import (
	"encoding/binary"
	"sync"

	"block"
	"defs"
)

const bgdSize = 32 // on-disk block group descriptor size

// bgd_t is one block group descriptor: the location of that group's
// block/inode bitmaps and inode table, plus its free counts.
type bgd_t struct {
	BlockBitmap     uint32
	InodeBitmap     uint32
	InodeTable      uint32
	FreeBlocksCount uint16
	FreeInodesCount uint16
	UsedDirsCount   uint16
}

func decodeBGD(b []uint8) bgd_t {
	le := binary.LittleEndian
	return bgd_t{
		BlockBitmap:     le.Uint32(b[0:]),
		InodeBitmap:     le.Uint32(b[4:]),
		InodeTable:      le.Uint32(b[8:]),
		FreeBlocksCount: le.Uint16(b[12:]),
		FreeInodesCount: le.Uint16(b[14:]),
		UsedDirsCount:   le.Uint16(b[16:]),
	}
}

func (g bgd_t) encode(b []uint8) {
	le := binary.LittleEndian
	le.PutUint32(b[0:], g.BlockBitmap)
	le.PutUint32(b[4:], g.InodeBitmap)
	le.PutUint32(b[8:], g.InodeTable)
	le.PutUint16(b[12:], g.FreeBlocksCount)
	le.PutUint16(b[14:], g.FreeInodesCount)
	le.PutUint16(b[16:], g.UsedDirsCount)
}

// bgdt_t is the full block group descriptor table, cached in memory
// and staged-allocated alongside the superblock (§4.10).
type bgdt_t struct {
	mu      sync.Mutex
	groups  []bgd_t
	dirtyAt map[int]bool // which BGDT block(s) need writeback
	bsz     int
	startBlock block.BlockId // the block right after the superblock's block
}

func readBGDT(pool *block.Pool, sb *superblock_t) (*bgdt_t, defs.Err_t) {
	bsz := sb.blockSize
	n := int(sb.groupCount())
	startBlock := block.BlockId(sb.FirstDataBlock + 1)
	perBlock := bsz / bgdSize
	bt := &bgdt_t{groups: make([]bgd_t, n), bsz: bsz, dirtyAt: map[int]bool{}, startBlock: startBlock}
	for i := 0; i < n; i++ {
		blkIdx := i / perBlock
		off := (i % perBlock) * bgdSize
		blk, err := pool.GetOrLoad(startBlock + block.BlockId(blkIdx))
		if err != 0 {
			return nil, err
		}
		bt.groups[i] = decodeBGD(blk.Data[off:])
		pool.Put(startBlock + block.BlockId(blkIdx))
	}
	return bt, 0
}

func (bt *bgdt_t) writeback(pool *block.Pool) defs.Err_t {
	bt.mu.Lock()
	defer bt.mu.Unlock()
	perBlock := bt.bsz / bgdSize
	for i, g := range bt.groups {
		blkIdx := i / perBlock
		off := (i % perBlock) * bgdSize
		blk, err := pool.GetOrLoad(bt.startBlock + block.BlockId(blkIdx))
		if err != 0 {
			return err
		}
		g.encode(blk.Data[off:])
		pool.MarkDirty(bt.startBlock + block.BlockId(blkIdx))
		pool.Put(bt.startBlock + block.BlockId(blkIdx))
	}
	return 0
}
