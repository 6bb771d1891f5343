// Package ext2 implements the on-disk classic ext2 rev1 filesystem
// (§4.10): superblock/BGDT, 12-direct + single/double/triple-indirect
// inode block addressing, variable-length directory entries, and
// staged (reserve-then-commit-or-abort) bitmap allocation. No pack
// teacher carries a real ext2 driver — the teacher's own `ufs`/`fs`
// packages implemented a custom log-structured format, which is why
// they were deleted rather than adapted (see DESIGN.md) — so the wire
// layout here follows the standard ext2 on-disk structures directly
// (the same structures `mkfs.ext2`/the Linux kernel use), expressed in
// the teacher's idiom: `block.Pool`-mediated I/O and `defs.Err_t`
// returns.
package ext2

import (
	"encoding/binary"
	"sync"
	"time"

	"block"
	"defs"
)

const (
	magicExt2 = 0xEF53

	sbOffset = 1024 // superblock always lives at byte 1024 regardless of block size

	// classic rev1 on-disk inode size; the superblock may declare a
	// different value but 128 is what this implementation writes.
	inodeSize = 128

	stateValid = 1
	stateError = 2

	rootIno = 2 // ext2 reserves inode 2 for the root directory
)

// superblock_t is the in-memory, decoded form of the 1024-byte ext2
// superblock (only the rev0/rev1 fields this implementation uses).
type superblock_t struct {
	mu sync.Mutex

	InodesCount      uint32
	BlocksCount      uint32
	RBlocksCount     uint32
	FreeBlocksCount  uint32
	FreeInodesCount  uint32
	FirstDataBlock   uint32
	LogBlockSize     uint32
	BlocksPerGroup   uint32
	InodesPerGroup   uint32
	Mtime            uint32
	Wtime            uint32
	MntCount         uint16
	MaxMntCount      uint16
	Magic            uint16
	State            uint16
	RevLevel         uint32
	FirstIno         uint32
	InodeSize        uint16

	blockSize int // 1024 << LogBlockSize
	dirty     bool
}

func (sb *superblock_t) decode(b []uint8) defs.Err_t {
	if len(b) < 90 {
		return defs.EIO.AsErr()
	}
	le := binary.LittleEndian
	sb.InodesCount = le.Uint32(b[0:])
	sb.BlocksCount = le.Uint32(b[4:])
	sb.RBlocksCount = le.Uint32(b[8:])
	sb.FreeBlocksCount = le.Uint32(b[12:])
	sb.FreeInodesCount = le.Uint32(b[16:])
	sb.FirstDataBlock = le.Uint32(b[20:])
	sb.LogBlockSize = le.Uint32(b[24:])
	sb.BlocksPerGroup = le.Uint32(b[32:])
	sb.InodesPerGroup = le.Uint32(b[40:])
	sb.Mtime = le.Uint32(b[44:])
	sb.Wtime = le.Uint32(b[48:])
	sb.MntCount = le.Uint16(b[52:])
	sb.MaxMntCount = le.Uint16(b[54:])
	sb.Magic = le.Uint16(b[56:])
	sb.State = le.Uint16(b[58:])
	sb.RevLevel = le.Uint32(b[76:])
	if sb.Magic != magicExt2 {
		return defs.EINVAL.AsErr()
	}
	sb.FirstIno = 11
	sb.InodeSize = inodeSize
	if sb.RevLevel >= 1 && len(b) >= 90 {
		sb.FirstIno = le.Uint32(b[84:])
		sb.InodeSize = le.Uint16(b[88:])
	}
	sb.blockSize = 1024 << sb.LogBlockSize
	return 0
}

func (sb *superblock_t) encode(b []uint8) {
	le := binary.LittleEndian
	le.PutUint32(b[0:], sb.InodesCount)
	le.PutUint32(b[4:], sb.BlocksCount)
	le.PutUint32(b[8:], sb.RBlocksCount)
	le.PutUint32(b[12:], sb.FreeBlocksCount)
	le.PutUint32(b[16:], sb.FreeInodesCount)
	le.PutUint32(b[20:], sb.FirstDataBlock)
	le.PutUint32(b[24:], sb.LogBlockSize)
	le.PutUint32(b[32:], sb.BlocksPerGroup)
	le.PutUint32(b[40:], sb.InodesPerGroup)
	le.PutUint32(b[44:], sb.Mtime)
	le.PutUint32(b[48:], sb.Wtime)
	le.PutUint16(b[52:], sb.MntCount)
	le.PutUint16(b[54:], sb.MaxMntCount)
	le.PutUint16(b[56:], sb.Magic)
	le.PutUint16(b[58:], sb.State)
	le.PutUint32(b[76:], sb.RevLevel)
	if sb.RevLevel >= 1 {
		le.PutUint32(b[84:], sb.FirstIno)
		le.PutUint16(b[88:], sb.InodeSize)
	}
}

// groupCount returns the number of block groups the filesystem is
// divided into.
func (sb *superblock_t) groupCount() uint32 {
	n := (sb.BlocksCount - sb.FirstDataBlock + sb.BlocksPerGroup - 1) / sb.BlocksPerGroup
	return n
}

// readSuperblock loads and decodes the superblock via the block pool,
// marking it Error in memory per §4.10's mount protocol (the on-disk
// copy is only overwritten back to Valid on a clean unmount).
func readSuperblock(pool *block.Pool, bsz int) (*superblock_t, defs.Err_t) {
	// the superblock occupies bytes [1024,2048) regardless of block
	// size: with bsz==1024 it is block 1 at offset 0, with a larger
	// bsz it is block 0 at offset 1024. Format only writes bsz==1024
	// images, the conventional ext2 default mkfs.ext2 itself uses
	// without -b.
	blk, err := pool.GetOrLoad(block.BlockId(sbOffset / bsz))
	if err != 0 {
		return nil, err
	}
	defer pool.Put(block.BlockId(sbOffset / bsz))
	off := sbOffset % bsz
	sb := &superblock_t{}
	if err := sb.decode(blk.Data[off:]); err != 0 {
		return nil, err
	}
	sb.State = stateError
	sb.MntCount++
	sb.Wtime = uint32(nowSeconds())
	sb.dirty = true
	return sb, 0
}

// writeback encodes the current state into the superblock's block and
// marks that block dirty in the pool (§4.10 mount/unmount protocol);
// the caller (FS_t.Sync) is responsible for calling pool.Sync.
func (sb *superblock_t) writeback(pool *block.Pool, bsz int) defs.Err_t {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	blk, err := pool.GetOrLoad(block.BlockId(sbOffset / bsz))
	if err != 0 {
		return err
	}
	defer pool.Put(block.BlockId(sbOffset / bsz))
	off := sbOffset % bsz
	sb.encode(blk.Data[off:])
	pool.MarkDirty(block.BlockId(sbOffset / bsz))
	sb.dirty = false
	return 0
}

// nowSeconds stands in for the on-disk mtime/wtime clock source; this
// package is hosted, not bare-metal, so time.Now is the real wall
// clock rather than a simulated RTC read.
func nowSeconds() int64 { return time.Now().Unix() }
