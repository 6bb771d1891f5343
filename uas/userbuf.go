package uas

import (
	"sync"

	"bounds"
	"defs"
	"res"
)

// Userbuf_t assists reading and writing user memory as a
// fdops.Userio_i, the way the teacher's vm/userbuf.go Userbuf_t does.
// Address lookups and copies are atomic with respect to page faults.
type Userbuf_t struct {
	userva int
	len    int
	off    int // 0 <= off <= len
	as     *AddrSpace_t
}

func (ub *Userbuf_t) Init(as *AddrSpace_t, uva, n int) {
	if n < 0 {
		panic("uas: negative user buffer length")
	}
	ub.userva = uva
	ub.len = n
	ub.off = 0
	ub.as = as
}

func (ub *Userbuf_t) Remain() int  { return ub.len - ub.off }
func (ub *Userbuf_t) Totalsz() int { return ub.len }

func (ub *Userbuf_t) Uioread(dst []uint8) (int, defs.Err_t) {
	ub.as.lockPmap()
	defer ub.as.unlockPmap()
	return ub.tx(dst, false)
}

func (ub *Userbuf_t) Uiowrite(src []uint8) (int, defs.Err_t) {
	ub.as.lockPmap()
	defer ub.as.unlockPmap()
	return ub.tx(src, true)
}

// tx copies min(len(buf), Remain()) bytes, updating ub.off as it goes
// so a short copy (error mid-transfer) can be resumed by the caller.
func (ub *Userbuf_t) tx(buf []uint8, write bool) (int, defs.Err_t) {
	ret := 0
	for len(buf) != 0 && ub.off != ub.len {
		if !res.Resadd_noblock(bounds.Bounds(bounds.B_USERBUF_T__TX)) {
			return ret, defs.ENOHEAP.AsErr()
		}
		va := ub.userva + ub.off
		ubuf, err := ub.as.Userdmap8(va, write)
		if err != 0 {
			return ret, err
		}
		if left := ub.len - ub.off; left < len(ubuf) {
			ubuf = ubuf[:left]
		}
		var c int
		if write {
			c = copy(ubuf, buf)
		} else {
			c = copy(buf, ubuf)
		}
		buf = buf[c:]
		ub.off += c
		ret += c
	}
	return ret, 0
}

type iove_t struct {
	uva uint
	sz  int
}

// Useriovec_t sequences several Userbuf_t-style transfers over a
// readv/writev-style iovec array read out of user memory.
type Useriovec_t struct {
	iovs []iove_t
	tsz  int
	as   *AddrSpace_t
}

// IovInit reads niovs {base uintptr, len uintptr} pairs starting at
// iovarn out of user memory.
func (iov *Useriovec_t) IovInit(as *AddrSpace_t, iovarn uint, niovs int) defs.Err_t {
	if niovs > 10 {
		return defs.EINVAL.AsErr()
	}
	iov.iovs = make([]iove_t, niovs)
	iov.as = as
	iov.tsz = 0

	as.lockPmap()
	defer as.unlockPmap()
	const elmsz = 16
	for i := range iov.iovs {
		va := iovarn + uint(i)*elmsz
		base, err := readn(as, int(va), 8)
		if err != 0 {
			return err
		}
		sz, err := readn(as, int(va)+8, 8)
		if err != 0 {
			return err
		}
		iov.iovs[i] = iove_t{uva: uint(base), sz: sz}
		iov.tsz += sz
	}
	return 0
}

func readn(as *AddrSpace_t, va, n int) (int, defs.Err_t) {
	var ret int
	for i := 0; i < n; {
		src, err := as.Userdmap8(va+i, false)
		if err != 0 {
			return 0, err
		}
		l := n - i
		if len(src) < l {
			l = len(src)
		}
		for j := 0; j < l; j++ {
			ret |= int(src[j]) << (8 * uint(i+j))
		}
		i += l
	}
	return ret, 0
}

func (iov *Useriovec_t) Remain() int  { return iov.tsz }
func (iov *Useriovec_t) Totalsz() int { return iov.tsz }

func (iov *Useriovec_t) tx(buf []uint8, touser bool) (int, defs.Err_t) {
	var ub Userbuf_t
	did := 0
	for len(buf) > 0 && len(iov.iovs) > 0 {
		cur := &iov.iovs[0]
		ub.Init(iov.as, int(cur.uva), cur.sz)
		c, err := ub.tx(buf, touser)
		cur.uva += uint(c)
		cur.sz -= c
		if cur.sz == 0 {
			iov.iovs = iov.iovs[1:]
		}
		buf = buf[c:]
		did += c
		if err != 0 {
			return did, err
		}
	}
	return did, 0
}

func (iov *Useriovec_t) Uioread(dst []uint8) (int, defs.Err_t) {
	iov.as.lockPmap()
	defer iov.as.unlockPmap()
	return iov.tx(dst, false)
}

func (iov *Useriovec_t) Uiowrite(src []uint8) (int, defs.Err_t) {
	iov.as.lockPmap()
	defer iov.as.unlockPmap()
	return iov.tx(src, true)
}

// Fakeubuf_t implements fdops.Userio_i over an ordinary kernel byte
// slice, for callers (tests, cmd/mkfs, in-kernel page-cache fills)
// that have no user address space to speak of.
type Fakeubuf_t struct {
	fbuf []uint8
	len  int
}

func (fb *Fakeubuf_t) Fake_init(buf []uint8) {
	fb.fbuf = buf
	fb.len = len(buf)
}

func (fb *Fakeubuf_t) Remain() int  { return len(fb.fbuf) }
func (fb *Fakeubuf_t) Totalsz() int { return fb.len }

func (fb *Fakeubuf_t) tx(buf []uint8, tofbuf bool) (int, defs.Err_t) {
	var c int
	if tofbuf {
		c = copy(fb.fbuf, buf)
	} else {
		c = copy(buf, fb.fbuf)
	}
	fb.fbuf = fb.fbuf[c:]
	return c, 0
}

func (fb *Fakeubuf_t) Uioread(dst []uint8) (int, defs.Err_t)  { return fb.tx(dst, false) }
func (fb *Fakeubuf_t) Uiowrite(src []uint8) (int, defs.Err_t) { return fb.tx(src, true) }

// Ubpool recycles Userbuf_t allocations the way the teacher's
// vm.Ubpool sync.Pool does for hot read/write syscall paths.
var Ubpool = sync.Pool{New: func() interface{} { return new(Userbuf_t) }}
