package ext2

import (
	"encoding/binary"

	"defs"
	"vfs"
)

const direntHeaderLen = 8 // ino(4) + rec_len(2) + name_len(1) + file_type(1)

func direntFileType(ft vfs.FileType_t) uint8 {
	switch ft {
	case vfs.Directory:
		return 2
	case vfs.CharDevice:
		return 3
	case vfs.BlockDevice:
		return 4
	case vfs.Pipe:
		return 5
	case vfs.Socket:
		return 6
	case vfs.SymLink:
		return 7
	default:
		return 1
	}
}

func direntTypeToVfs(t uint8) vfs.FileType_t {
	switch t {
	case 2:
		return vfs.Directory
	case 3:
		return vfs.CharDevice
	case 4:
		return vfs.BlockDevice
	case 5:
		return vfs.Pipe
	case 6:
		return vfs.Socket
	case 7:
		return vfs.SymLink
	default:
		return vfs.Regular
	}
}

// direntRec_t is one decoded directory entry plus its byte offset
// within the directory's data (needed to edit rec_len in place for
// point-split/remove, §4.10).
type direntRec_t struct {
	ino     uint32
	recLen  uint16
	nameLen uint8
	ftype   uint8
	name    string
	off     int
}

func decodeDirent(b []uint8, off int) direntRec_t {
	le := binary.LittleEndian
	r := direntRec_t{
		ino:     le.Uint32(b[off:]),
		recLen:  le.Uint16(b[off+4:]),
		nameLen: b[off+6],
		ftype:   b[off+7],
		off:     off,
	}
	if r.recLen == 0 {
		return r
	}
	end := off + direntHeaderLen + int(r.nameLen)
	if end <= len(b) {
		r.name = string(b[off+direntHeaderLen : end])
	}
	return r
}

func encodeDirent(b []uint8, off int, r direntRec_t) {
	le := binary.LittleEndian
	le.PutUint32(b[off:], r.ino)
	le.PutUint16(b[off+4:], r.recLen)
	b[off+6] = r.nameLen
	b[off+7] = r.ftype
	copy(b[off+direntHeaderLen:], r.name)
}

// walkDir reads every data block of a directory inode and calls f with
// the full block buffer (so callers can both scan and, for
// create/unlink, rewrite rec_len/ino in place before a writeback).
func (in *Inode_t) walkDir(f func(blockIdx int, buf []uint8) (stop bool)) defs.Err_t {
	bsz := in.fs.sb.blockSize
	size := int(in.Size())
	nblocks := (size + bsz - 1) / bsz
	for idx := 0; idx < nblocks; idx++ {
		id, err := in.blockAt(idx, false)
		if err != 0 {
			return err
		}
		buf := make([]uint8, bsz)
		if id != 0 {
			if _, err := in.readAt(idx*bsz, buf); err != 0 {
				return err
			}
		}
		stop := f(idx, buf)
		if stop {
			return 0
		}
	}
	return 0
}

// Lookup scans this directory's entries for name (§4.9/§4.10).
func (in *Inode_t) Lookup(name string) (vfs.Inode_i, defs.Err_t) {
	if in.FileType() != vfs.Directory {
		return nil, defs.ENOTDIR.AsErr()
	}
	var found uint32
	in.walkDir(func(_ int, buf []uint8) bool {
		off := 0
		bsz := len(buf)
		for off < bsz {
			r := decodeDirent(buf, off)
			if r.recLen == 0 {
				break
			}
			if r.ino != 0 && r.name == name {
				found = r.ino
				return true
			}
			off += int(r.recLen)
		}
		return false
	})
	if found == 0 {
		return nil, defs.ENOENT.AsErr()
	}
	return in.fs.getInode(found)
}

// Readdir lists every live entry (§4.9 Getdents).
func (in *Inode_t) Readdir() ([]vfs.Dirent_t, defs.Err_t) {
	if in.FileType() != vfs.Directory {
		return nil, defs.ENOTDIR.AsErr()
	}
	var out []vfs.Dirent_t
	err := in.walkDir(func(_ int, buf []uint8) bool {
		off := 0
		for off < len(buf) {
			r := decodeDirent(buf, off)
			if r.recLen == 0 {
				break
			}
			if r.ino != 0 {
				out = append(out, vfs.Dirent_t{Name: r.name, Ino: uint(r.ino), Type: direntTypeToVfs(r.ftype)})
			}
			off += int(r.recLen)
		}
		return false
	})
	return out, err
}

// addDirent inserts {name, ino, ft} into this directory, either by
// point-splitting an oversized existing record or appending a new
// block when no record has slack (§4.10 Create/mkdir/symlink step 2).
func (in *Inode_t) addDirent(name string, ino uint32, ft vfs.FileType_t) defs.Err_t {
	needed := align4(direntHeaderLen + len(name))
	placed := false
	err := in.walkDir(func(idx int, buf []uint8) bool {
		off := 0
		bsz := len(buf)
		for off < bsz {
			r := decodeDirent(buf, off)
			if r.recLen == 0 {
				break
			}
			used := 0
			if r.ino != 0 {
				used = align4(direntHeaderLen + int(r.nameLen))
			}
			slack := int(r.recLen) - used
			if slack >= needed {
				newOff := off
				if r.ino != 0 {
					// point-split: shrink the existing record, the
					// new one takes the freed tail.
					oldRec := r.recLen
					r.recLen = uint16(used)
					encodeDirent(buf, off, r)
					newOff = off + used
					encodeDirent(buf, newOff, direntRec_t{
						ino: ino, recLen: uint16(int(oldRec) - used),
						nameLen: uint8(len(name)), ftype: direntFileType(ft), name: name,
					})
				} else {
					encodeDirent(buf, off, direntRec_t{
						ino: ino, recLen: r.recLen,
						nameLen: uint8(len(name)), ftype: direntFileType(ft), name: name,
					})
				}
				in.writeAt(idx*in.fs.sb.blockSize, buf)
				placed = true
				return true
			}
			off += int(r.recLen)
		}
		return false
	})
	if err != 0 {
		return err
	}
	if placed {
		return 0
	}
	// no slack anywhere: append a fresh block wholly occupied by one
	// record spanning the block.
	bsz := in.fs.sb.blockSize
	newIdx := (int(in.Size()) + bsz - 1) / bsz
	buf := make([]uint8, bsz)
	encodeDirent(buf, 0, direntRec_t{ino: ino, recLen: uint16(bsz), nameLen: uint8(len(name)), ftype: direntFileType(ft), name: name})
	_, err = in.writeAt(newIdx*bsz, buf)
	return err
}

func align4(n int) int { return (n + 3) &^ 3 }

// removeDirent finds name's record and swallows it into its
// predecessor's rec_len (§4.10 Remove steps 1-2); the first record in
// a block has no predecessor, so it is simply zeroed in place instead.
func (in *Inode_t) removeDirent(name string) (uint32, defs.Err_t) {
	var removed uint32
	err := in.walkDir(func(idx int, buf []uint8) bool {
		off := 0
		prevOff := -1
		for off < len(buf) {
			r := decodeDirent(buf, off)
			if r.recLen == 0 {
				break
			}
			if r.ino != 0 && r.name == name {
				removed = r.ino
				if prevOff >= 0 {
					prev := decodeDirent(buf, prevOff)
					prev.recLen += r.recLen
					encodeDirent(buf, prevOff, prev)
				} else {
					r.ino = 0
					encodeDirent(buf, off, r)
				}
				in.writeAt(idx*in.fs.sb.blockSize, buf)
				return true
			}
			prevOff = off
			off += int(r.recLen)
		}
		return false
	})
	if err != 0 {
		return 0, err
	}
	if removed == 0 {
		return 0, defs.ENOENT.AsErr()
	}
	return removed, 0
}

func (in *Inode_t) initDirBlock(selfIno, parentIno uint32) defs.Err_t {
	bsz := in.fs.sb.blockSize
	buf := make([]uint8, bsz)
	dotLen := align4(direntHeaderLen + 1)
	encodeDirent(buf, 0, direntRec_t{ino: selfIno, recLen: uint16(dotLen), nameLen: 1, ftype: 2, name: "."})
	encodeDirent(buf, dotLen, direntRec_t{ino: parentIno, recLen: uint16(bsz - dotLen), nameLen: 2, ftype: 2, name: ".."})
	_, err := in.writeAt(0, buf)
	return err
}

// Create allocates a fresh inode of the requested type and links it
// into this directory (§4.10 Create/mkdir/symlink).
func (in *Inode_t) Create(name string, ft vfs.FileType_t, mode uint) (vfs.Inode_i, defs.Err_t) {
	if in.FileType() != vfs.Directory {
		return nil, defs.ENOTDIR.AsErr()
	}
	if _, err := in.Lookup(name); err == 0 {
		return nil, defs.EEXIST.AsErr()
	}
	tok, err := in.fs.alloc.stageInode(int(in.ino))
	if err != 0 {
		return nil, err
	}
	child := &Inode_t{fs: in.fs, ino: tok.id}
	child.disk.Mode = fileTypeToMode(ft) | uint16(mode&0xFFF)
	child.disk.LinksCount = 1
	if ft == vfs.Directory {
		child.disk.LinksCount = 2
	}
	if werr := in.fs.writeInodeLocked(tok.id, child.disk); werr != 0 {
		in.fs.alloc.abort(tok)
		return nil, werr
	}
	in.fs.alloc.commit(tok)
	in.fs.cacheInode(child)

	if ft == vfs.Directory {
		if err := child.initDirBlock(tok.id, in.ino); err != 0 {
			return nil, err
		}
		in.mu.Lock()
		in.disk.LinksCount++
		werr := in.fs.writeInodeLocked(in.ino, in.disk)
		in.mu.Unlock()
		if werr != 0 {
			return nil, werr
		}
	}
	if err := in.addDirent(name, tok.id, ft); err != 0 {
		return nil, err
	}
	in.fs.sb.mu.Lock()
	in.fs.sb.dirty = true
	in.fs.sb.mu.Unlock()
	return child, 0
}

func (in *Inode_t) Symlink(name, target string) (vfs.Inode_i, defs.Err_t) {
	child, err := in.Create(name, vfs.SymLink, 0777)
	if err != 0 {
		return nil, err
	}
	ci := child.(*Inode_t)
	if _, err := ci.writeAt(0, []uint8(target)); err != 0 {
		return nil, err
	}
	return child, 0
}

func (in *Inode_t) Readlink() (string, defs.Err_t) {
	if in.FileType() != vfs.SymLink {
		return "", defs.EINVAL.AsErr()
	}
	buf := make([]uint8, in.Size())
	if _, err := in.readAt(0, buf); err != 0 {
		return "", err
	}
	return string(buf), 0
}

// Unlink removes name from this directory, freeing the target inode
// and its blocks once its link count reaches zero (§4.10 Remove).
func (in *Inode_t) Unlink(name string) defs.Err_t {
	if in.FileType() != vfs.Directory {
		return defs.ENOTDIR.AsErr()
	}
	targetIno, err := in.removeDirent(name)
	if err != 0 {
		return err
	}
	target, err := in.fs.getInode(targetIno)
	if err != 0 {
		return err
	}
	t := target.(*Inode_t)
	t.mu.Lock()
	if t.disk.LinksCount > 0 {
		t.disk.LinksCount--
	}
	remaining := t.disk.LinksCount
	t.mu.Unlock()
	if remaining == 0 {
		return in.fs.freeInodeAndBlocks(t)
	}
	return t.sync()
}

// Rmdir removes an empty subdirectory (only "." and ".." present).
func (in *Inode_t) Rmdir(name string) defs.Err_t {
	sub, err := in.Lookup(name)
	if err != 0 {
		return err
	}
	ents, err := sub.Readdir()
	if err != 0 {
		return err
	}
	for _, e := range ents {
		if e.Name != "." && e.Name != ".." {
			return defs.ENOTEMPTY.AsErr()
		}
	}
	if _, err := in.removeDirent(name); err != 0 {
		return err
	}
	in.mu.Lock()
	if in.disk.LinksCount > 0 {
		in.disk.LinksCount--
	}
	werr := in.fs.writeInodeLocked(in.ino, in.disk)
	in.mu.Unlock()
	if werr != 0 {
		return werr
	}
	return in.fs.freeInodeAndBlocks(sub.(*Inode_t))
}
