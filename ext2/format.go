package ext2

import (
	"block"
	"defs"
	"mem"
)

// FormatParams configures a freshly formatted single-block-group ext2
// image (§4.10's on-disk layout, built from scratch rather than read).
// Single-group only: BlocksCount must fit in one block's worth of
// bitmap bits (8*BlockSize), the same ceiling a real multi-group
// mkfs.ext2 works around with additional groups — out of scope here
// since cmd/mkfs only ever builds small student-sized images.
type FormatParams struct {
	BlockSize   int // must be 1024: see readSuperblock's comment on sbOffset
	BlocksCount uint32
	InodesCount uint32
}

// Format writes a minimal valid ext2 filesystem directly to dev: an
// empty boot block, superblock, one-entry BGDT, block and inode
// bitmaps, a zeroed inode table, and the root directory inode (#2)
// with its "." and ".." entries — everything ext2.Mount expects to
// find before any Create call can run. Grounded on the standard ext2
// on-disk layout this package's superblock.go/bgdt.go/dirent.go
// already decode; nothing in the pack formats a filesystem from
// scratch, so this is the one place the layout is built forward
// instead of parsed.
func Format(dev block.BlockDevice, p FormatParams) defs.Err_t {
	bsz := p.BlockSize
	if bsz != 1024 {
		return defs.EINVAL.AsErr()
	}
	if p.BlocksCount > uint32(bsz*8) {
		return defs.EINVAL.AsErr() // exceeds single block group capacity
	}

	const firstDataBlock = 1
	const bgdtBlock = firstDataBlock + 1 // block 2

	bgdtBlocks := uint32((bgdSize + bsz - 1) / bsz)
	bitmapBlock := bgdtBlock + bgdtBlocks
	inodeBitmapBlock := bitmapBlock + 1
	inodeTableBlocks := (p.InodesCount*inodeSize + uint32(bsz) - 1) / uint32(bsz)
	inodeTableBlock := inodeBitmapBlock + 1
	firstFreeBlock := inodeTableBlock + inodeTableBlocks

	// root directory gets exactly one data block, allocated right
	// after the metadata region.
	rootDataBlock := firstFreeBlock
	usedBlocks := rootDataBlock + 1 - firstDataBlock // from FirstDataBlock through rootDataBlock, inclusive

	if rootDataBlock >= p.BlocksCount {
		return defs.ENOSPC.AsErr()
	}

	sb := &superblock_t{
		InodesCount:     p.InodesCount,
		BlocksCount:     p.BlocksCount,
		FreeBlocksCount: p.BlocksCount - firstDataBlock - usedBlocks,
		FreeInodesCount: p.InodesCount - (rootIno), // inodes 1..rootIno reserved/used
		FirstDataBlock:  firstDataBlock,
		LogBlockSize:    0, // 1024 << 0
		BlocksPerGroup:  p.BlocksCount,
		InodesPerGroup:  p.InodesCount,
		Mtime:           uint32(nowSeconds()),
		Wtime:           uint32(nowSeconds()),
		MntCount:        0,
		MaxMntCount:     20,
		Magic:           magicExt2,
		State:           stateValid,
		RevLevel:        1,
		FirstIno:        11,
		InodeSize:       inodeSize,
		blockSize:       bsz,
	}
	var sbBuf mem.Bytepg_t
	sb.encode(sbBuf[sbOffset-bsz:]) // superblock lives at byte 1024 = offset 0 of block 1
	if err := dev.WriteBack(block.BlockId(firstDataBlock), &sbBuf); err != 0 {
		return err
	}

	bgd := bgd_t{
		BlockBitmap:     bitmapBlock,
		InodeBitmap:     inodeBitmapBlock,
		InodeTable:      inodeTableBlock,
		FreeBlocksCount: uint16(sb.FreeBlocksCount),
		FreeInodesCount: uint16(sb.FreeInodesCount),
		UsedDirsCount:   1, // root
	}
	var bgdtBuf mem.Bytepg_t
	bgd.encode(bgdtBuf[0:])
	if err := dev.WriteBack(block.BlockId(bgdtBlock), &bgdtBuf); err != 0 {
		return err
	}

	// block bitmap: mark every block from FirstDataBlock through
	// rootDataBlock used (metadata region + root's one data block).
	var blockBitmap mem.Bytepg_t
	for b := uint32(0); b < usedBlocks; b++ {
		bitmapSetBit(blockBitmap[:], int(b), true)
	}
	if err := dev.WriteBack(block.BlockId(bitmapBlock), &blockBitmap); err != 0 {
		return err
	}

	// inode bitmap: inodes are 1-indexed; mark 1..rootIno used (ext2
	// reserves 1-10, root is 2).
	var inodeBitmap mem.Bytepg_t
	for i := uint32(0); i < rootIno; i++ {
		bitmapSetBit(inodeBitmap[:], int(i), true)
	}
	if err := dev.WriteBack(block.BlockId(inodeBitmapBlock), &inodeBitmap); err != 0 {
		return err
	}

	// inode table: every entry zero except the root directory's.
	root := diskInode_t{
		Mode:       sIFDIR | 0755,
		LinksCount: 2, // "." plus the entry root's own parent would hold
		Size:       uint32(bsz),
		Blocks:     uint32(bsz / 512),
		Block:      [15]uint32{0: rootDataBlock},
	}
	perBlock := uint32(bsz) / inodeSize
	for blk := uint32(0); blk < inodeTableBlocks; blk++ {
		var buf mem.Bytepg_t
		if blk == (rootIno-1)/perBlock {
			off := ((rootIno - 1) % perBlock) * inodeSize
			root.encode(buf[off : off+inodeSize])
		}
		if err := dev.WriteBack(block.BlockId(inodeTableBlock+blk), &buf); err != 0 {
			return err
		}
	}

	// root directory data block: "." and ".." both point at inode 2,
	// matching initDirBlock's own layout for any directory ext2
	// creates post-mount.
	var dirBuf mem.Bytepg_t
	dotLen := align4(direntHeaderLen + 1)
	encodeDirent(dirBuf[:], 0, direntRec_t{ino: rootIno, recLen: uint16(dotLen), nameLen: 1, ftype: 2, name: "."})
	encodeDirent(dirBuf[:], dotLen, direntRec_t{ino: rootIno, recLen: uint16(bsz - dotLen), nameLen: 2, ftype: 2, name: ".."})
	if err := dev.WriteBack(block.BlockId(rootDataBlock), &dirBuf); err != 0 {
		return err
	}

	return 0
}
