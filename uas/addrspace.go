// Package uas implements a process's user virtual address space
// (§4.5): a set of VMAs over a two-level page directory, eager-copy
// fork, and zero-page-backed lazy allocation for private mappings.
// Grounded on the teacher's vm/as.go Vm_t (address space struct
// layout, Lock_pmap/page-fault/K2user/User2k/Userstr copy-loop idiom),
// reworked from the teacher's real copy-on-write fault handler into
// the spec's mandated no-COW model: fork copies every present page up
// front instead of sharing frames behind PTE_COW, and a private VMA's
// pages start out mapped to a single shared read-only zero frame,
// materializing a private frame only on the first write fault.
package uas

import (
	"sort"
	"sync"
	"time"

	"bounds"
	"defs"
	"fdops"
	"mem"
	"paging"
	"res"
	"stats"
	"ustr"
	"util"
)

// Mtype_t distinguishes how a VMA's pages are populated on fault.
type Mtype_t int

const (
	Anon Mtype_t = iota // demand-zero, backed by the shared zero frame until written
	File                // demand-paged in from fops at Foff+pgoff
)

// Vma_t describes one mapped virtual region, page-aligned (§4.5).
type Vma_t struct {
	Start int // first virtual page number this VMA covers
	Pglen int // length in pages
	Perms mem.Pa_t
	Mtype Mtype_t
	Fops  fdops.Fdops_i // nil for Anon
	Foff  int           // file byte offset of Start, for File VMAs
}

func (v *Vma_t) end() int { return v.Start + v.Pglen }

// AddrSpace_t is a process's user address space. The mutex serializes
// all VMA-list and page-table mutation, matching the teacher's single
// Vm_t.Mutex covering Vmregion/Pmap/P_pmap together.
type AddrSpace_t struct {
	sync.Mutex

	vmas []*Vma_t // sorted by Start, non-overlapping

	Dir   *mem.Pmap_t
	DirPa mem.Pa_t

	pgfltaken bool
}

// NewAddrSpace allocates an empty address space with a fresh page
// directory.
func NewAddrSpace() (*AddrSpace_t, defs.Err_t) {
	dir, dirpa, ok := paging.NewDirectory()
	if !ok {
		return nil, defs.ENOMEM.AsErr()
	}
	return &AddrSpace_t{Dir: dir, DirPa: dirpa}, 0
}

func (as *AddrSpace_t) lockPmap() {
	as.Lock()
	as.pgfltaken = true
}

func (as *AddrSpace_t) unlockPmap() {
	as.pgfltaken = false
	as.Unlock()
}

func (as *AddrSpace_t) lockassertPmap() {
	if !as.pgfltaken {
		panic("uas: pmap lock must be held")
	}
}

// Lookup returns the VMA covering virtual page pgn, if any.
func (as *AddrSpace_t) Lookup(pgn int) (*Vma_t, bool) {
	i := sort.Search(len(as.vmas), func(i int) bool { return as.vmas[i].end() > pgn })
	if i < len(as.vmas) && as.vmas[i].Start <= pgn {
		return as.vmas[i], true
	}
	return nil, false
}

func (as *AddrSpace_t) overlaps(start, pglen int) bool {
	end := start + pglen
	for _, v := range as.vmas {
		if start < v.end() && v.Start < end {
			return true
		}
	}
	return false
}

// FindArea searches upward from minva for a hole of pglen free pages
// (§4.5 find_area), returning its starting virtual page number.
func (as *AddrSpace_t) FindArea(minva, pglen int) (int, bool) {
	as.Lock()
	defer as.Unlock()
	cand := minva
	for {
		if !as.overlaps(cand, pglen) {
			return cand, true
		}
		// advance past whichever VMA we collided with
		moved := false
		for _, v := range as.vmas {
			if cand < v.end() && v.Start < cand+pglen {
				cand = v.end()
				moved = true
				break
			}
		}
		if !moved {
			return 0, false
		}
	}
}

// AllocateArea reserves [minva, ...) for a new VMA of the given type
// and permissions without yet populating any pages (§4.5
// allocate_area).
func (as *AddrSpace_t) AllocateArea(minva, pglen int, perms mem.Pa_t, mt Mtype_t,
	fops fdops.Fdops_i, foff int) (*Vma_t, defs.Err_t) {
	start, ok := as.FindArea(minva, pglen)
	if !ok {
		return nil, defs.ENOMEM.AsErr()
	}
	return as.AllocateFixedArea(start, pglen, perms, mt, fops, foff)
}

// AllocateFixedArea installs a VMA at an exact page number, failing
// with EINVAL if it would overlap an existing mapping (§4.5
// allocate_fixed_area).
func (as *AddrSpace_t) AllocateFixedArea(start, pglen int, perms mem.Pa_t, mt Mtype_t,
	fops fdops.Fdops_i, foff int) (*Vma_t, defs.Err_t) {
	as.Lock()
	defer as.Unlock()
	if as.overlaps(start, pglen) {
		return nil, defs.EINVAL.AsErr()
	}
	v := &Vma_t{Start: start, Pglen: pglen, Perms: perms, Mtype: mt, Fops: fops, Foff: foff}
	i := sort.Search(len(as.vmas), func(i int) bool { return as.vmas[i].Start >= start })
	as.vmas = append(as.vmas, nil)
	copy(as.vmas[i+1:], as.vmas[i:])
	as.vmas[i] = v
	return v, 0
}

// DeallocateArea unmaps and releases the pages in [start, start+pglen)
// and removes any VMA fully covered by that range (§4.5
// deallocate_area). A VMA only partly inside the range is not split:
// it stays mapped and untouched, and the call still returns 0.
func (as *AddrSpace_t) DeallocateArea(start, pglen int) defs.Err_t {
	as.lockPmap()
	defer as.unlockPmap()
	for i := 0; i < len(as.vmas); i++ {
		v := as.vmas[i]
		if v.Start >= start && v.end() <= start+pglen {
			for pgn := v.Start; pgn < v.end(); pgn++ {
				as.unmapPage(pgn)
			}
			as.vmas = append(as.vmas[:i], as.vmas[i+1:]...)
			i--
		}
	}
	return 0
}

func (as *AddrSpace_t) unmapPage(pgn int) {
	va := uint32(pgn) << PGSHIFT
	old := paging.Unmap(as.Dir, va)
	if old != 0 && old != zeroFramePa() {
		mem.Physmem.RefdownRank(old, 0)
	}
}

const PGSHIFT = 12

// zeroFrame is a single, permanently-resident, zero-filled frame
// shared read-only by every Anon VMA page that hasn't been written
// yet (§4.5: "zero-page read-only mapping until a write fault").
var (
	zeroOnce sync.Once
	zeroPa   mem.Pa_t
)

func zeroFramePa() mem.Pa_t {
	zeroOnce.Do(func() {
		pa, ok := mem.Physmem.AllocRank(mem.ZoneNormal, 0)
		if !ok {
			panic("uas: cannot allocate zero frame")
		}
		mem.Physmem.Refup(pa) // never released
		zeroPa = pa
	})
	return zeroPa
}

// PageFault resolves a fault at virtual address va (§4.5): Anon VMAs
// fault in the shared zero frame on read, a fresh private frame
// (zero-filled) on write; File VMAs demand-page from Fops. There is no
// copy-on-write path — a write fault always either claims a
// freshly-allocated private frame or, if one is already private and
// present, is a spurious concurrent fault.
func (as *AddrSpace_t) PageFault(va uint32, iswrite bool) defs.Err_t {
	stats.Global.Pagefaults.Inc()
	as.lockPmap()
	defer as.unlockPmap()

	pgn := int(va >> PGSHIFT)
	vmi, ok := as.Lookup(pgn)
	if !ok {
		return defs.EFAULT.AsErr()
	}
	if vmi.Perms == 0 || (iswrite && vmi.Perms&mem.PTE_W == 0) {
		return defs.EFAULT.AsErr()
	}

	alignedVa := uint32(pgn) << PGSHIFT
	pte, ok := paging.Walk(as.Dir, alignedVa, true)
	if !ok {
		return defs.ENOMEM.AsErr()
	}
	if *pte&mem.PTE_P != 0 {
		// concurrent fault already resolved this page
		if !iswrite || *pte&mem.PTE_W != 0 {
			return 0
		}
	}

	if !iswrite {
		var pa mem.Pa_t
		var err defs.Err_t
		if vmi.Mtype == File {
			pa, err = as.readFilePage(vmi, pgn)
			if err != 0 {
				return err
			}
		} else {
			pa = zeroFramePa()
			mem.Physmem.Refup(pa)
		}
		*pte = (pa &^ mem.PGOFFSET) | mem.PTE_P | mem.PTE_U
		return 0
	}

	// write fault: always materialize a fresh private frame, per the
	// no-COW model.
	newpa, ok := mem.Physmem.AllocRank(mem.ZoneNormal, 0)
	if !ok {
		return defs.ENOMEM.AsErr()
	}
	if vmi.Mtype == File {
		srcpa, err := as.readFilePage(vmi, pgn)
		if err != 0 {
			mem.Physmem.RefdownRank(newpa, 0)
			return err
		}
		*mem.Physmem.Dmap(newpa) = *mem.Physmem.Dmap(srcpa)
		mem.Physmem.RefdownRank(srcpa, 0)
	}
	old := *pte & mem.PTE_ADDR
	if *pte&mem.PTE_P != 0 && old != 0 {
		mem.Physmem.RefdownRank(old, 0)
	}
	*pte = (newpa &^ mem.PGOFFSET) | mem.PTE_P | mem.PTE_U | mem.PTE_W
	return 0
}

func (as *AddrSpace_t) readFilePage(vmi *Vma_t, pgn int) (mem.Pa_t, defs.Err_t) {
	pa, ok := mem.Physmem.AllocRank(mem.ZoneNormal, 0)
	if !ok {
		return 0, defs.ENOMEM.AsErr()
	}
	pg := mem.Physmem.Dmap(pa)
	bpg := mem.Pg2bytes(pg)
	fb := &Fakeubuf_t{}
	fb.Fake_init(bpg[:])
	off := vmi.Foff + (pgn-vmi.Start)*mem.PGSIZE
	if _, err := vmi.Fops.Lseek(off, 0); err != 0 {
		mem.Physmem.RefdownRank(pa, 0)
		return 0, err
	}
	if _, err := vmi.Fops.Read(fb); err != 0 {
		mem.Physmem.RefdownRank(pa, 0)
		return 0, err
	}
	return pa, 0
}

// Clone duplicates the address space for fork (§4.5, Open Question
// resolution: no COW). Every present page in the parent is copied
// into a freshly allocated frame in the child; VMAs backed by a File
// with shared semantics would instead refup the same frame, but
// spec.md's fork only supports private mappings so every copy is
// independent.
func (as *AddrSpace_t) Clone() (*AddrSpace_t, defs.Err_t) {
	as.lockPmap()
	defer as.unlockPmap()

	child, err := NewAddrSpace()
	if err != 0 {
		return nil, err
	}
	child.vmas = make([]*Vma_t, len(as.vmas))
	for i, v := range as.vmas {
		cv := *v
		child.vmas[i] = &cv
		for pgn := v.Start; pgn < v.end(); pgn++ {
			va := uint32(pgn) << PGSHIFT
			pte, ok := paging.Lookup(as.Dir, va)
			if !ok || *pte&mem.PTE_P == 0 {
				continue
			}
			srcpa := *pte & mem.PTE_ADDR
			newpa, ok := mem.Physmem.AllocRank(mem.ZoneNormal, 0)
			if !ok {
				return nil, defs.ENOMEM.AsErr()
			}
			*mem.Physmem.Dmap(newpa) = *mem.Physmem.Dmap(srcpa)
			perms := mem.PTE_P | mem.PTE_U
			if *pte&mem.PTE_W != 0 {
				perms |= mem.PTE_W
			}
			if !paging.Map(child.Dir, va, newpa, perms&^mem.PTE_P) {
				return nil, defs.ENOMEM.AsErr()
			}
		}
	}
	return child, 0
}

// Free tears down every mapping and releases the page directory
// (§4.5 Uvmfree equivalent).
func (as *AddrSpace_t) Free() {
	as.lockPmap()
	for _, v := range as.vmas {
		for pgn := v.Start; pgn < v.end(); pgn++ {
			as.unmapPage(pgn)
		}
	}
	as.vmas = nil
	as.unlockPmap()
	paging.FreeDirectory(as.Dir, as.DirPa)
}

// Userdmap8 maps the user address va for reading (k2u=false) or a
// kernel write into user memory (k2u=true), faulting the page in if
// necessary, and returns the byte slice from va to the end of its
// page.
func (as *AddrSpace_t) Userdmap8(va int, k2u bool) ([]uint8, defs.Err_t) {
	as.lockassertPmap()
	voff := va & (mem.PGSIZE - 1)
	pgn := va >> PGSHIFT

	_, ok := as.Lookup(pgn)
	if !ok {
		return nil, defs.EFAULT.AsErr()
	}
	alignedVa := uint32(pgn) << PGSHIFT
	pte, ok := paging.Lookup(as.Dir, alignedVa)
	needfault := !ok || *pte&mem.PTE_P == 0
	if !needfault && k2u && *pte&mem.PTE_W == 0 {
		needfault = true
	}
	if needfault {
		if err := as.PageFault(uint32(va), k2u); err != 0 {
			return nil, err
		}
		pte, _ = paging.Lookup(as.Dir, alignedVa)
	}
	pg := mem.Physmem.Dmap(*pte & mem.PTE_ADDR)
	bpg := mem.Pg2bytes(pg)
	return bpg[voff:], 0
}

// K2user copies src into user memory starting at uva.
func (as *AddrSpace_t) K2user(src []uint8, uva int) defs.Err_t {
	as.lockPmap()
	defer as.unlockPmap()
	cnt := 0
	for cnt != len(src) {
		if !res.Resadd_noblock(bounds.Bounds(bounds.B_ASPACE_T_K2USER_INNER)) {
			return defs.ENOHEAP.AsErr()
		}
		dst, err := as.Userdmap8(uva+cnt, true)
		if err != 0 {
			return err
		}
		n := copy(dst, src)
		src = src[n:]
		cnt += n
	}
	return 0
}

// User2k copies len(dst) bytes from user memory at uva into dst.
func (as *AddrSpace_t) User2k(dst []uint8, uva int) defs.Err_t {
	as.lockPmap()
	defer as.unlockPmap()
	cnt := 0
	for len(dst) != 0 {
		if !res.Resadd_noblock(bounds.Bounds(bounds.B_ASPACE_T_USER2K_INNER)) {
			return defs.ENOHEAP.AsErr()
		}
		src, err := as.Userdmap8(uva+cnt, false)
		if err != 0 {
			return err
		}
		n := copy(dst, src)
		dst = dst[n:]
		cnt += n
	}
	return 0
}

// Userstr copies a NUL-terminated string from user memory, capped at
// lenmax bytes (§4.8 syscall argument validation).
func (as *AddrSpace_t) Userstr(uva, lenmax int) (ustr.Ustr, defs.Err_t) {
	if lenmax < 0 {
		return nil, 0
	}
	as.lockPmap()
	defer as.unlockPmap()
	s := ustr.MkUstr()
	i := 0
	for {
		chunk, err := as.Userdmap8(uva+i, false)
		if err != 0 {
			return s, err
		}
		for j, c := range chunk {
			if c == 0 {
				if len(s)+j >= lenmax {
					return nil, defs.ENAMETOOLONG.AsErr()
				}
				return append(s, chunk[:j]...), 0
			}
		}
		s = append(s, chunk...)
		i += len(chunk)
		if len(s) >= lenmax {
			return nil, defs.ENAMETOOLONG.AsErr()
		}
	}
}

// Usertimespec reads a {secs, nsecs} pair from user memory.
func (as *AddrSpace_t) Usertimespec(va int) (time.Duration, time.Time, defs.Err_t) {
	secsBuf := make([]uint8, 8)
	if err := as.User2k(secsBuf, va); err != 0 {
		return 0, time.Time{}, err
	}
	nsecsBuf := make([]uint8, 8)
	if err := as.User2k(nsecsBuf, va+8); err != 0 {
		return 0, time.Time{}, err
	}
	secs := util.Readn(secsBuf, 8, 0)
	nsecs := util.Readn(nsecsBuf, 8, 0)
	if secs < 0 || nsecs < 0 {
		return 0, time.Time{}, defs.EINVAL.AsErr()
	}
	tot := time.Duration(secs)*time.Second + time.Duration(nsecs)*time.Nanosecond
	return tot, time.Unix(int64(secs), int64(nsecs)), 0
}
