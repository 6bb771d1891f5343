// Package paging implements the x86-32 two-level page table (§4.2):
// a page directory of 1024 PDEs, each either a 4MiB PTE_PS mapping or
// pointing at a page table of 1024 4KiB PTEs. Grounded on the
// teacher's mem/dmap.go page-table walk style (caddr/pgbits helpers,
// PTE_* constant vocabulary), rewritten from its x86-64 4-level
// PML4/recursive-mapping scheme down to the spec's 2-level format.
package paging

import "mem"

const (
	pdShift = 22 // bits [31:22] select the PDE
	ptShift = 12 // bits [21:12] select the PTE
	idxMask = 0x3ff
)

func pdIndex(va uint32) uint32 { return (va >> pdShift) & idxMask }
func ptIndex(va uint32) uint32 { return (va >> ptShift) & idxMask }

// Walk returns a pointer to the PTE mapping va in the two-level table
// rooted at dir, creating intermediate page tables (from the Normal
// zone, since page tables must remain kernel-addressable) when create
// is set. It returns (nil, false) if the entry doesn't exist and
// create is false, or on allocation failure.
func Walk(dir *mem.Pmap_t, va uint32, create bool) (*mem.Pa_t, bool) {
	pdi := pdIndex(va)
	pde := &dir[pdi]
	if *pde&mem.PTE_PS != 0 {
		// 4MiB leaf: the "PTE" the caller wants is the PDE itself.
		return pde, true
	}
	if *pde&mem.PTE_P == 0 {
		if !create {
			return nil, false
		}
		pa, ok := mem.Physmem.AllocRank(mem.ZoneNormal, 0)
		if !ok {
			return nil, false
		}
		*pde = pa | mem.PTE_P | mem.PTE_W | mem.PTE_U
	}
	pt := mem.Physmem.DmapPmap(*pde & mem.PTE_ADDR)
	return &pt[ptIndex(va)], true
}

// Lookup is Walk with create=false, for read-only translation checks.
func Lookup(dir *mem.Pmap_t, va uint32) (*mem.Pa_t, bool) {
	return Walk(dir, va, false)
}

// Map installs a 4KiB mapping of va to pa with the given permission
// bits (PTE_W/PTE_U, PTE_P is added automatically), allocating a page
// table if necessary. It returns false only on allocation failure.
func Map(dir *mem.Pmap_t, va uint32, pa mem.Pa_t, perms mem.Pa_t) bool {
	pte, ok := Walk(dir, va, true)
	if !ok {
		return false
	}
	*pte = (pa &^ mem.PGOFFSET) | perms | mem.PTE_P
	return true
}

// Unmap clears the mapping for va, returning the physical frame that
// was mapped there (0 if none was).
func Unmap(dir *mem.Pmap_t, va uint32) mem.Pa_t {
	pte, ok := Lookup(dir, va)
	if !ok || *pte&mem.PTE_P == 0 {
		return 0
	}
	old := *pte & mem.PTE_ADDR
	*pte = 0
	return old
}

// NewDirectory allocates a zeroed page directory.
func NewDirectory() (*mem.Pmap_t, mem.Pa_t, bool) {
	pa, ok := mem.Physmem.AllocRank(mem.ZoneNormal, 0)
	if !ok {
		return nil, 0, false
	}
	return mem.Physmem.DmapPmap(pa), pa, true
}

// FreeDirectory releases every page table referenced by dir (but not
// the frames they in turn mapped — callers unmap and Refdown those
// individually first) and the directory itself.
func FreeDirectory(dir *mem.Pmap_t, dirPa mem.Pa_t) {
	for _, pde := range dir {
		if pde&mem.PTE_P != 0 && pde&mem.PTE_PS == 0 {
			mem.Physmem.RefdownRank(pde&mem.PTE_ADDR, 0)
		}
	}
	mem.Physmem.RefdownRank(dirPa, 0)
}
