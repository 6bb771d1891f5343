package ext2

import (
	"fdops"
	"stat"
	"vfs"

	"defs"
)

const (
	seekSet = 0
	seekCur = 1
	seekEnd = 2
)

// fileHandle_t is an open regular-file handle: the position is
// per-open (§4.9), the backing Inode_t is shared and reference-counted
// by the VFS's dentry cache.
type fileHandle_t struct {
	fdops.Unimplemented_t
	ino *Inode_t
	off int
}

func (h *fileHandle_t) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	buf := make([]uint8, dst.Remain())
	n, err := h.ino.readAt(h.off, buf)
	if err != 0 {
		return 0, err
	}
	if n == 0 {
		return 0, 0
	}
	wn, err := dst.Uiowrite(buf[:n])
	h.off += wn
	return wn, err
}

func (h *fileHandle_t) Write(src fdops.Userio_i) (int, defs.Err_t) {
	buf := make([]uint8, src.Remain())
	n, err := src.Uioread(buf)
	if err != 0 {
		return 0, err
	}
	wn, err := h.ino.writeAt(h.off, buf[:n])
	h.off += wn
	return wn, err
}

func (h *fileHandle_t) Lseek(off, whence int) (int, defs.Err_t) {
	switch whence {
	case seekSet:
		h.off = off
	case seekCur:
		h.off += off
	case seekEnd:
		h.off = int(h.ino.Size()) + off
	default:
		return 0, defs.EINVAL.AsErr()
	}
	if h.off < 0 {
		h.off = 0
	}
	return h.off, 0
}

func (h *fileHandle_t) Stat(st fdops.Stat_i) defs.Err_t {
	var s stat.Stat_t
	if err := h.ino.Stat(&s); err != 0 {
		return err
	}
	st.Wdev(0)
	st.Wino(s.Rino())
	st.Wmode(s.Mode())
	st.Wsize(s.Size())
	st.Wrdev(s.Rdev())
	return 0
}

func (h *fileHandle_t) Close() defs.Err_t { return 0 }

func (h *fileHandle_t) Pathi() fdops.Inode_i { return h.ino }

// dirHandle_t is an open directory handle, supporting only Getdents
// (ESPIPE for Lseek and EINVAL for Read, both via Unimplemented_t).
type dirHandle_t struct {
	fdops.Unimplemented_t
	ino  *Inode_t
	pos  int
	ents []vfs.Dirent_t
}

func (h *dirHandle_t) Getdents(dst fdops.Userio_i) (int, defs.Err_t) {
	if h.ents == nil {
		ents, err := h.ino.Readdir()
		if err != 0 {
			return 0, err
		}
		h.ents = ents
	}
	total := 0
	for h.pos < len(h.ents) {
		e := h.ents[h.pos]
		rec := encodeGetdent(e)
		if len(rec) > dst.Remain() {
			break
		}
		n, err := dst.Uiowrite(rec)
		if err != 0 {
			return total, err
		}
		total += n
		h.pos++
	}
	return total, 0
}

// encodeGetdent packs one directory entry as {ino uint32, type uint8,
// name_len uint8, name[]} — a host-native record since no consuming
// syscall ABI constrains this to Linux's actual struct linux_dirent64
// layout (§4.9's Getdents just specifies "append entries").
func encodeGetdent(e vfs.Dirent_t) []uint8 {
	b := make([]uint8, 6+len(e.Name))
	ino := uint32(e.Ino)
	b[0], b[1], b[2], b[3] = uint8(ino), uint8(ino>>8), uint8(ino>>16), uint8(ino>>24)
	b[4] = uint8(e.Type)
	b[5] = uint8(len(e.Name))
	copy(b[6:], e.Name)
	return b
}

func (h *dirHandle_t) Stat(st fdops.Stat_i) defs.Err_t {
	var s stat.Stat_t
	if err := h.ino.Stat(&s); err != 0 {
		return err
	}
	st.Wdev(0)
	st.Wino(s.Rino())
	st.Wmode(s.Mode())
	st.Wsize(s.Size())
	st.Wrdev(s.Rdev())
	return 0
}

func (h *dirHandle_t) Close() defs.Err_t { return 0 }

func (h *dirHandle_t) Pathi() fdops.Inode_i { return h.ino }
