// Package varena implements vmalloc and kmap (§4.4): the only two
// routes by which kernel code turns physical frames it does not
// already have a direct mapping for into byte-addressable memory.
// vmalloc stitches a run of non-contiguous physical frames into one
// virtually-contiguous kernel range; kmap hands out a short-lived
// window onto a single arbitrary frame (in particular a user frame,
// which is what makes copy_to_user_page possible). Grounded on the
// teacher's mem/dmap.go direct-map/vmalloc vocabulary (Vdirect,
// Dmaplen), rewritten against the 32-bit two-level paging package
// instead of the teacher's PML4 recursive mapping.
package varena

import (
	"fmt"
	"sync"
	"sync/atomic"

	"mem"
	"paging"
)

// Kernel-virtual layout: vmalloc gets a reserved range, kmap gets the
// single page table immediately above it (§4.4: "kmap pool is one
// page table's worth of windows").
const (
	VmallocBase uint32 = 0xd0000000
	VmallocLen  uint32 = 0x10000000 // 256MiB of reservable virtual space

	KmapBase    uint32 = VmallocBase + VmallocLen
	KmapWindows int    = 1024 // one PT's worth of 4KiB windows
	KmapLen     uint32 = uint32(KmapWindows) * uint32(mem.PGSIZE)
)

var (
	mu   sync.Mutex
	kdir *mem.Pmap_t
	kpa  mem.Pa_t

	// vmalloc's virtual space is tracked as a sorted list of in-use
	// [start, start+pages) runs; everything else in
	// [VmallocBase, VmallocBase+VmallocLen) is free.
	vmRuns []vmrun_t

	// kmap's bitmap of free/used windows.
	kmapUsed [KmapWindows / 64]uint64

	// held counts outstanding kmap windows across the whole kernel.
	// varena has no per-task notion (no TLS survives the rewrite away
	// from tinfo's fictional runtime.Gptr), so the assertion below is
	// best-effort: it catches the common "forgot to Kunmap before
	// blocking" bug, not a precise per-goroutine violation.
	held int32
)

type vmrun_t struct {
	startPage uint32 // offset in pages from VmallocBase
	pages     int
	frames    []mem.Pa_t
}

// Init builds varena's private kernel page directory and resets its
// bookkeeping. Must run once after mem.Phys_init.
func Init() {
	mu.Lock()
	defer mu.Unlock()
	dir, pa, ok := paging.NewDirectory()
	if !ok {
		panic("varena: out of memory building kernel directory")
	}
	kdir = dir
	kpa = pa
	vmRuns = nil
	kmapUsed = [KmapWindows / 64]uint64{}
	held = 0
}

// --- vmalloc ---------------------------------------------------------

// findFreeRun locates the first gap of at least pages pages in the
// vmalloc region, first-fit.
func findFreeRun(pages int) (uint32, bool) {
	total := VmallocLen / uint32(mem.PGSIZE)
	var cursor uint32
	for _, r := range vmRuns {
		if r.startPage-cursor >= uint32(pages) {
			return cursor, true
		}
		cursor = r.startPage + uint32(r.pages)
	}
	if total-cursor >= uint32(pages) {
		return cursor, true
	}
	return 0, false
}

// Alloc reserves pages virtually-contiguous pages backed by
// non-contiguous physical frames drawn one at a time from z (§4.4:
// vmalloc is how the kernel gets a big virtually-contiguous buffer
// when the buddy allocator has no single run of that rank left). On
// any failure partway through, every frame already taken is returned
// before Alloc reports the error.
func Alloc(pages int, z mem.Zone) (uint32, bool) {
	if pages <= 0 {
		return 0, false
	}
	mu.Lock()
	defer mu.Unlock()

	startPage, ok := findFreeRun(pages)
	if !ok {
		return 0, false
	}

	frames := make([]mem.Pa_t, 0, pages)
	ok = true
	for i := 0; i < pages; i++ {
		pa, got := mem.Physmem.AllocRank(z, 0)
		if !got {
			ok = false
			break
		}
		frames = append(frames, pa)
	}
	if !ok {
		for _, pa := range frames {
			mem.Physmem.RefdownRank(pa, 0)
		}
		return 0, false
	}

	base := VmallocBase + startPage*uint32(mem.PGSIZE)
	for i, pa := range frames {
		va := base + uint32(i)*uint32(mem.PGSIZE)
		if !paging.Map(kdir, va, pa, mem.PTE_W) {
			for j := 0; j < i; j++ {
				paging.Unmap(kdir, base+uint32(j)*uint32(mem.PGSIZE))
			}
			for _, fpa := range frames {
				mem.Physmem.RefdownRank(fpa, 0)
			}
			return 0, false
		}
	}

	run := vmrun_t{startPage: startPage, pages: pages, frames: frames}
	idx := 0
	for idx < len(vmRuns) && vmRuns[idx].startPage < startPage {
		idx++
	}
	vmRuns = append(vmRuns, vmrun_t{})
	copy(vmRuns[idx+1:], vmRuns[idx:])
	vmRuns[idx] = run
	return base, true
}

// Free releases a vmalloc allocation previously returned by Alloc.
func Free(va uint32) {
	mu.Lock()
	defer mu.Unlock()
	if va < VmallocBase || va >= VmallocBase+VmallocLen {
		panic("varena: Free of address outside the vmalloc region")
	}
	startPage := (va - VmallocBase) / uint32(mem.PGSIZE)
	for i, r := range vmRuns {
		if r.startPage != startPage {
			continue
		}
		base := VmallocBase + r.startPage*uint32(mem.PGSIZE)
		for j, pa := range r.frames {
			paging.Unmap(kdir, base+uint32(j)*uint32(mem.PGSIZE))
			mem.Physmem.RefdownRank(pa, 0)
		}
		vmRuns = append(vmRuns[:i], vmRuns[i+1:]...)
		return
	}
	panic("varena: Free of unknown vmalloc address")
}

// Bytes returns a byte view over a live vmalloc allocation, walking
// the kernel directory one page at a time (the run's frames are not
// necessarily contiguous in Physmem's backing store, unlike a plain
// buddy allocation, so unlike slab's bytes() this cannot be a single
// unsafe.Slice).
func Bytes(va uint32, pages int) []uint8 {
	out := make([]uint8, 0, pages*mem.PGSIZE)
	for i := 0; i < pages; i++ {
		pa, ok := paging.Lookup(kdir, va+uint32(i)*uint32(mem.PGSIZE))
		if !ok {
			panic("varena: Bytes over unmapped vmalloc page")
		}
		pg := mem.Physmem.Dmap(*pa)
		out = append(out, mem.Pg2bytes(pg)[:]...)
	}
	return out
}

// --- kmap -------------------------------------------------------------

// Window_t is a short-lived mapping of one physical frame into kernel
// virtual space, the only sanctioned way to touch an arbitrary
// (possibly user, possibly High-zone) frame by address (§4.4).
type Window_t struct {
	va  uint32
	slt int
}

func findFreeBit() (int, bool) {
	for w, word := range kmapUsed {
		if word == ^uint64(0) {
			continue
		}
		for b := 0; b < 64; b++ {
			if word&(1<<uint(b)) == 0 {
				return w*64 + b, true
			}
		}
	}
	return 0, false
}

// Kmap maps pa into a free window and returns it. The caller must
// Kunmap before doing anything that might suspend the calling
// goroutine (§4.4 Open Question: kmap windows are not held across a
// sleep/yield).
func Kmap(pa mem.Pa_t) (Window_t, bool) {
	mu.Lock()
	slot, ok := findFreeBit()
	if !ok {
		mu.Unlock()
		return Window_t{}, false
	}
	kmapUsed[slot/64] |= 1 << uint(slot%64)
	va := KmapBase + uint32(slot)*uint32(mem.PGSIZE)
	mapped := paging.Map(kdir, va, pa, mem.PTE_W)
	if !mapped {
		kmapUsed[slot/64] &^= 1 << uint(slot%64)
		mu.Unlock()
		return Window_t{}, false
	}
	mu.Unlock()
	atomic.AddInt32(&held, 1)
	return Window_t{va: va, slt: slot}, true
}

// Kunmap releases a window obtained from Kmap.
func Kunmap(w Window_t) {
	mu.Lock()
	paging.Unmap(kdir, w.va)
	kmapUsed[w.slt/64] &^= 1 << uint(w.slt%64)
	mu.Unlock()
	atomic.AddInt32(&held, -1)
}

// Bytes returns the page-sized byte view backing a kmap window.
func (w Window_t) Bytes() []uint8 {
	pa, ok := paging.Lookup(kdir, w.va)
	if !ok {
		panic("varena: Bytes on a released kmap window")
	}
	pg := mem.Physmem.Dmap(*pa)
	return mem.Pg2bytes(pg)[:]
}

// CopyToUserPage copies src into the user frame pa, the operation
// spec.md §4.2/§4.4 singles out as requiring kmap: the destination
// frame has no kernel-resident mapping of its own.
func CopyToUserPage(pa mem.Pa_t, off int, src []uint8) bool {
	w, ok := Kmap(pa)
	if !ok {
		return false
	}
	defer Kunmap(w)
	n := copy(w.Bytes()[off:], src)
	return n == len(src)
}

// CopyFromUserPage is CopyToUserPage's mirror image, for reading an
// arbitrary user frame's contents into kernel memory.
func CopyFromUserPage(dst []uint8, pa mem.Pa_t, off int) bool {
	w, ok := Kmap(pa)
	if !ok {
		return false
	}
	defer Kunmap(w)
	n := copy(dst, w.Bytes()[off:])
	return n == len(dst)
}

// AssertNoneHeld panics if any kmap window is currently outstanding.
// package task's yield_now/sleep_and_yield_atomic call this before
// descheduling, enforcing the "never sleep while holding a kmap"
// invariant (§4.4 Open Question resolution).
func AssertNoneHeld() {
	if n := atomic.LoadInt32(&held); n != 0 {
		panic(fmt.Sprintf("varena: %d kmap window(s) still held across a suspension point", n))
	}
}
