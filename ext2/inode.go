package ext2

import (
	"encoding/binary"
	"sync"

	"block"
	"defs"
	"fdops"
	"stat"
	"vfs"
)

// on-disk i_mode file-type bits (S_IFxxx).
const (
	sIFSOCK = 0xC000
	sIFLNK  = 0xA000
	sIFREG  = 0x8000
	sIFBLK  = 0x6000
	sIFDIR  = 0x4000
	sIFCHR  = 0x2000
	sIFIFO  = 0x1000
	sIFMT   = 0xF000
)

func modeToFileType(mode uint16) vfs.FileType_t {
	switch mode & sIFMT {
	case sIFDIR:
		return vfs.Directory
	case sIFLNK:
		return vfs.SymLink
	case sIFCHR:
		return vfs.CharDevice
	case sIFBLK:
		return vfs.BlockDevice
	case sIFIFO:
		return vfs.Pipe
	case sIFSOCK:
		return vfs.Socket
	default:
		return vfs.Regular
	}
}

func fileTypeToMode(ft vfs.FileType_t) uint16 {
	switch ft {
	case vfs.Directory:
		return sIFDIR
	case vfs.SymLink:
		return sIFLNK
	case vfs.CharDevice:
		return sIFCHR
	case vfs.BlockDevice:
		return sIFBLK
	case vfs.Pipe:
		return sIFIFO
	case vfs.Socket:
		return sIFSOCK
	default:
		return sIFREG
	}
}

// diskInode_t is the decoded 128-byte on-disk inode record (§4.10:
// "12 direct + 1 singly + 1 doubly + 1 triply indirect block-id
// slots").
type diskInode_t struct {
	Mode       uint16
	Uid        uint16
	Size       uint32
	Atime      uint32
	Ctime      uint32
	Mtime      uint32
	Dtime      uint32
	Gid        uint16
	LinksCount uint16
	Blocks     uint32 // 512-byte sectors, not fs blocks
	Flags      uint32
	Block      [15]uint32 // 12 direct, then single/double/triple indirect
	Generation uint32
}

func decodeInode(b []uint8) diskInode_t {
	le := binary.LittleEndian
	var d diskInode_t
	d.Mode = le.Uint16(b[0:])
	d.Uid = le.Uint16(b[2:])
	d.Size = le.Uint32(b[4:])
	d.Atime = le.Uint32(b[8:])
	d.Ctime = le.Uint32(b[12:])
	d.Mtime = le.Uint32(b[16:])
	d.Dtime = le.Uint32(b[20:])
	d.Gid = le.Uint16(b[24:])
	d.LinksCount = le.Uint16(b[26:])
	d.Blocks = le.Uint32(b[28:])
	d.Flags = le.Uint32(b[32:])
	for i := 0; i < 15; i++ {
		d.Block[i] = le.Uint32(b[40+4*i:])
	}
	d.Generation = le.Uint32(b[100:])
	return d
}

func (d diskInode_t) encode(b []uint8) {
	le := binary.LittleEndian
	le.PutUint16(b[0:], d.Mode)
	le.PutUint16(b[2:], d.Uid)
	le.PutUint32(b[4:], d.Size)
	le.PutUint32(b[8:], d.Atime)
	le.PutUint32(b[12:], d.Ctime)
	le.PutUint32(b[16:], d.Mtime)
	le.PutUint32(b[20:], d.Dtime)
	le.PutUint16(b[24:], d.Gid)
	le.PutUint16(b[26:], d.LinksCount)
	le.PutUint32(b[28:], d.Blocks)
	le.PutUint32(b[32:], d.Flags)
	for i := 0; i < 15; i++ {
		le.PutUint32(b[40+4*i:], d.Block[i])
	}
	le.PutUint32(b[100:], d.Generation)
}

// Inode_t is the in-memory inode (§4.10: "keeps chunks: Vec<BlockId>
// plus synced_len" — here `chunks` is computed on demand by walking
// the indirect hierarchy rather than cached permanently, a
// simplification since this implementation is not chasing the
// teacher's own caching of that vector).
type Inode_t struct {
	mu   sync.Mutex
	fs   *FS_t
	ino  uint32
	disk diskInode_t
}

func (in *Inode_t) Key() uint { return uint(in.ino) }

func (in *Inode_t) FileType() vfs.FileType_t {
	in.mu.Lock()
	defer in.mu.Unlock()
	return modeToFileType(in.disk.Mode)
}

func (in *Inode_t) Size() uint {
	in.mu.Lock()
	defer in.mu.Unlock()
	return uint(in.disk.Size)
}

func (in *Inode_t) Stat(st *stat.Stat_t) defs.Err_t {
	in.mu.Lock()
	defer in.mu.Unlock()
	st.Wino(uint(in.ino))
	st.Wmode(uint(in.disk.Mode))
	st.Wsize(uint(in.disk.Size))
	st.Wdev(0)
	st.Wrdev(0)
	return 0
}

func (in *Inode_t) sync() defs.Err_t {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.fs.writeInodeLocked(in.ino, in.disk)
}

// blockAt returns the fs block id holding file-relative block index
// idx, allocating (and staging+committing) it on demand when grow is
// true and the slot is currently a hole.
func (in *Inode_t) blockAt(idx int, grow bool) (uint32, defs.Err_t) {
	ptrsPerBlock := in.fs.sb.blockSize / 4
	switch {
	case idx < 12:
		return in.slot(&in.disk.Block[idx], grow)
	case idx < 12+ptrsPerBlock:
		return in.indirect(&in.disk.Block[12], 1, idx-12, ptrsPerBlock, grow)
	case idx < 12+ptrsPerBlock+ptrsPerBlock*ptrsPerBlock:
		return in.indirect(&in.disk.Block[13], 2, idx-12-ptrsPerBlock, ptrsPerBlock, grow)
	default:
		rem := idx - 12 - ptrsPerBlock - ptrsPerBlock*ptrsPerBlock
		return in.indirect(&in.disk.Block[14], 3, rem, ptrsPerBlock, grow)
	}
}

// slot allocates *ptr if it is zero (a hole) and grow is requested.
func (in *Inode_t) slot(ptr *uint32, grow bool) (uint32, defs.Err_t) {
	if *ptr != 0 {
		return *ptr, 0
	}
	if !grow {
		return 0, 0
	}
	tok, err := in.fs.alloc.stageBlock(int(in.ino))
	if err != 0 {
		return 0, err
	}
	in.fs.alloc.commit(tok)
	*ptr = tok.id
	in.zeroBlock(tok.id)
	return tok.id, 0
}

// indirect walks `depth` levels of indirection to reach the leaf block
// for a relative index, allocating intermediate index blocks (and the
// leaf) on demand when grow is set — the "push/pop stack traversal"
// §4.10 describes for expanding a file's id-space.
func (in *Inode_t) indirect(ptr *uint32, depth int, rel int, ptrsPerBlock int, grow bool) (uint32, defs.Err_t) {
	cur, err := in.slot(ptr, grow)
	if err != 0 || cur == 0 {
		return 0, err
	}
	// Walk one level at a time: at depth d, each entry in the current
	// index block spans ptrsPerBlock^(d-1) leaf blocks.
	return in.walkIndirect(cur, depth, rel, ptrsPerBlock, grow)
}

func (in *Inode_t) walkIndirect(blockID uint32, depth, rel, ptrsPerBlock int, grow bool) (uint32, defs.Err_t) {
	span := 1
	for i := 1; i < depth; i++ {
		span *= ptrsPerBlock
	}
	entry := rel / span
	subrel := rel % span

	blk, err := in.fs.pool.GetOrLoad(block.BlockId(blockID))
	if err != 0 {
		return 0, err
	}
	off := entry * 4
	ptrVal := binary.LittleEndian.Uint32(blk.Data[off:])
	if ptrVal == 0 {
		if !grow {
			in.fs.pool.Put(block.BlockId(blockID))
			return 0, 0
		}
		tok, err := in.fs.alloc.stageBlock(int(in.ino))
		if err != 0 {
			in.fs.pool.Put(block.BlockId(blockID))
			return 0, err
		}
		in.fs.alloc.commit(tok)
		ptrVal = tok.id
		binary.LittleEndian.PutUint32(blk.Data[off:], ptrVal)
		in.fs.pool.MarkDirty(block.BlockId(blockID))
		if depth > 1 {
			in.zeroBlock(ptrVal)
		}
	}
	in.fs.pool.Put(block.BlockId(blockID))

	if depth == 1 {
		return ptrVal, 0
	}
	return in.walkIndirect(ptrVal, depth-1, subrel, ptrsPerBlock, grow)
}

func (in *Inode_t) zeroBlock(id uint32) {
	blk, err := in.fs.pool.GetOrLoad(block.BlockId(id))
	if err != 0 {
		return
	}
	for i := range blk.Data {
		blk.Data[i] = 0
	}
	in.fs.pool.MarkDirty(block.BlockId(id))
	in.fs.pool.Put(block.BlockId(id))
}

func (in *Inode_t) Truncate(newlen uint) defs.Err_t {
	in.mu.Lock()
	defer in.mu.Unlock()
	bsz := uint(in.fs.sb.blockSize)
	oldBlocks := (uint(in.disk.Size) + bsz - 1) / bsz
	newBlocks := (newlen + bsz - 1) / bsz
	for idx := int(newBlocks); idx < int(oldBlocks); idx++ {
		id, err := in.blockAt(idx, false)
		if err == 0 && id != 0 {
			in.fs.alloc.freeBlock(id)
		}
	}
	in.disk.Size = uint32(newlen)
	return in.fs.writeInodeLocked(in.ino, in.disk)
}

func (in *Inode_t) readAt(off int, dst []uint8) (int, defs.Err_t) {
	in.mu.Lock()
	size := int(in.disk.Size)
	in.mu.Unlock()
	if off >= size {
		return 0, 0
	}
	if off+len(dst) > size {
		dst = dst[:size-off]
	}
	bsz := in.fs.sb.blockSize
	n := 0
	for n < len(dst) {
		idx := (off + n) / bsz
		within := (off + n) % bsz
		id, err := in.blockAt(idx, false)
		if err != 0 {
			return n, err
		}
		take := bsz - within
		if take > len(dst)-n {
			take = len(dst) - n
		}
		if id == 0 {
			for i := 0; i < take; i++ {
				dst[n+i] = 0
			}
		} else {
			blk, err := in.fs.pool.GetOrLoad(block.BlockId(id))
			if err != 0 {
				return n, err
			}
			copy(dst[n:n+take], blk.Data[within:within+take])
			in.fs.pool.Put(block.BlockId(id))
		}
		n += take
	}
	return n, 0
}

func (in *Inode_t) writeAt(off int, src []uint8) (int, defs.Err_t) {
	bsz := in.fs.sb.blockSize
	n := 0
	for n < len(src) {
		idx := (off + n) / bsz
		within := (off + n) % bsz
		id, err := in.blockAt(idx, true)
		if err != 0 {
			return n, err
		}
		take := bsz - within
		if take > len(src)-n {
			take = len(src) - n
		}
		blk, err := in.fs.pool.GetOrLoad(block.BlockId(id))
		if err != 0 {
			return n, err
		}
		copy(blk.Data[within:within+take], src[n:n+take])
		in.fs.pool.MarkDirty(block.BlockId(id))
		in.fs.pool.Put(block.BlockId(id))
		n += take
	}
	in.mu.Lock()
	if uint32(off+n) > in.disk.Size {
		in.disk.Size = uint32(off + n)
	}
	err := in.fs.writeInodeLocked(in.ino, in.disk)
	in.mu.Unlock()
	return n, err
}

// Open returns a handle appropriate to the inode's type: a seekable
// file handle for regular files, a directory handle for Getdents.
func (in *Inode_t) Open(flags int) (fdops.Fdops_i, defs.Err_t) {
	if in.FileType() == vfs.Directory {
		return &dirHandle_t{ino: in}, 0
	}
	h := &fileHandle_t{ino: in}
	if flags&defs.O_APPEND != 0 {
		h.off = int(in.Size())
	}
	return h, 0
}
