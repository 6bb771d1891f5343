// Package slab implements the six fixed size-class object caches
// (§4.3) that back small kernel allocations in front of the buddy
// allocator (package mem). Grounded on the teacher's mem/mem.go
// Physmem_t free-list bookkeeping style (intrusive free lists, no
// separate allocator metadata heap) generalized from whole-page
// objects into sub-page size classes, since the teacher never needed
// anything smaller than a page.
package slab

import (
	"sync"
	"unsafe"

	"defs"
	"mem"
	"oommsg"
	"util"
)

// SizeClasses are the six slab-backed allocation sizes (§4.3).
var SizeClasses = [...]int{64, 128, 256, 512, 1024, 2048}

// minObjsPerGroup is the spec's "≥7 slots" growth threshold (§4.3).
const minObjsPerGroup = 7

// classIndex returns the index into SizeClasses/caches satisfying a
// request of n bytes, or -1 if n exceeds the largest class.
func classIndex(n int) int {
	for i, c := range SizeClasses {
		if n <= c {
			return i
		}
	}
	return -1
}

// slabGroup_t is one frame group carved into equal objsize slots, the
// spec's "slab" (§4.3).
type slabGroup_t struct {
	pa      mem.Pa_t
	rank    int
	objsize int
	nobj    int
	free    []int32 // stack of free object indices
	inuse   int
}

func newSlabGroup(objsize int) (*slabGroup_t, bool) {
	perPageObjs := mem.PGSIZE / objsize
	rank := 0
	for rank <= mem.MaxRank && mem.Rank2pages(rank)*perPageObjs < minObjsPerGroup {
		rank++
	}
	pa, ok := mem.Physmem.AllocRank(mem.ZoneNormal, rank)
	if !ok {
		return nil, false
	}
	nobj := mem.Rank2pages(rank) * perPageObjs
	g := &slabGroup_t{pa: pa, rank: rank, objsize: objsize, nobj: nobj}
	g.free = make([]int32, nobj)
	for i := range g.free {
		g.free[i] = int32(nobj - 1 - i)
	}
	return g, true
}

// bytes returns the group's full backing memory as a contiguous byte
// slice. Safe across multiple pages because Physmem's backing store is
// one contiguous Go slice per zone (mem.Physmem_t.backing) and
// AllocRank only ever hands out rank-aligned contiguous runs within it.
func (g *slabGroup_t) bytes() []uint8 {
	pg := mem.Physmem.Dmap(g.pa)
	base := (*uint8)(unsafe.Pointer(pg))
	return unsafe.Slice(base, mem.Rank2pages(g.rank)*mem.PGSIZE)
}

func (g *slabGroup_t) full() bool  { return len(g.free) == 0 }
func (g *slabGroup_t) empty() bool { return g.inuse == 0 }

func (g *slabGroup_t) alloc() []uint8 {
	idx := g.free[len(g.free)-1]
	g.free = g.free[:len(g.free)-1]
	g.inuse++
	b := g.bytes()
	off := int(idx) * g.objsize
	return b[off : off+g.objsize]
}

// contains reports whether obj is a slot of this group, and if so its
// object index.
func (g *slabGroup_t) contains(obj []uint8) (int32, bool) {
	b := g.bytes()
	base := uintptr(unsafe.Pointer(&b[0]))
	p := uintptr(unsafe.Pointer(&obj[0]))
	if p < base || p >= base+uintptr(len(b)) {
		return 0, false
	}
	idx := int32((p - base) / uintptr(g.objsize))
	return idx, true
}

func (g *slabGroup_t) release(idx int32) {
	g.free = append(g.free, idx)
	g.inuse--
}

func (g *slabGroup_t) reclaim() {
	mem.Physmem.RefdownRank(g.pa, g.rank)
}

// Cache_t is one size class's set of slabs, split into partial/full/
// empty lists the way the spec describes (§4.3: "allocate fast-paths
// the partial-list head").
type Cache_t struct {
	mu      sync.Mutex
	objsize int
	partial []*slabGroup_t
	full    []*slabGroup_t
	spare   []*slabGroup_t // emptied groups kept pooled until shrunk
	pageCap int
}

func newCache(objsize, pageCap int) *Cache_t {
	return &Cache_t{objsize: objsize, pageCap: pageCap}
}

func popLast(s *[]*slabGroup_t) *slabGroup_t {
	n := len(*s)
	g := (*s)[n-1]
	*s = (*s)[:n-1]
	return g
}

func removeGroup(s *[]*slabGroup_t, g *slabGroup_t) {
	for i, c := range *s {
		if c == g {
			*s = append((*s)[:i], (*s)[i+1:]...)
			return
		}
	}
	panic("slab: group not on expected list")
}

// Alloc returns one objsize-byte slot, growing the cache by one group
// (§4.3 growth: "rank sufficient for ≥7 slots") if no partial group is
// available. On allocator exhaustion it asks the reclaimer (via
// oommsg) for one opportunistic shrink-and-retry (§4.1 Failure, §7
// resource exhaustion) before surfacing ENOMEM.
func (c *Cache_t) Alloc() ([]uint8, defs.Err_t) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.partial) == 0 {
		if len(c.spare) > 0 {
			c.partial = append(c.partial, popLast(&c.spare))
		} else if g, ok := newSlabGroup(c.objsize); ok {
			c.partial = append(c.partial, g)
		} else {
			c.mu.Unlock()
			resume := oommsg.Notify(mem.Rank2pages(0))
			<-resume
			c.mu.Lock()
			if len(c.spare) > 0 {
				c.partial = append(c.partial, popLast(&c.spare))
			} else if g, ok := newSlabGroup(c.objsize); ok {
				c.partial = append(c.partial, g)
			} else {
				return nil, defs.ENOMEM.AsErr()
			}
		}
	}
	g := c.partial[len(c.partial)-1]
	obj := g.alloc()
	if g.full() {
		popLast(&c.partial)
		c.full = append(c.full, g)
	}
	return obj, 0
}

// Free returns obj to its owning slab, moving the slab between the
// full/partial/spare lists as its occupancy changes.
func (c *Cache_t) Free(obj []uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g := c.find(obj)
	idx, ok := g.contains(obj)
	if !ok {
		panic("slab: free of foreign object")
	}
	wasFull := g.full()
	g.release(idx)
	if wasFull {
		removeGroup(&c.full, g)
		c.partial = append(c.partial, g)
	}
	if g.empty() {
		removeGroup(&c.partial, g)
		c.spare = append(c.spare, g)
		c.shrinkIfOver()
	}
}

func (c *Cache_t) find(obj []uint8) *slabGroup_t {
	for _, g := range c.full {
		if _, ok := g.contains(obj); ok {
			return g
		}
	}
	for _, g := range c.partial {
		if _, ok := g.contains(obj); ok {
			return g
		}
	}
	panic("slab: free of object not owned by this cache")
}

// pages reports the cache's total resident page count across all
// lists, for the per-cache page budget (§4.3).
func (c *Cache_t) pages() int {
	n := 0
	for _, g := range c.full {
		n += mem.Rank2pages(g.rank)
	}
	for _, g := range c.partial {
		n += mem.Rank2pages(g.rank)
	}
	for _, g := range c.spare {
		n += mem.Rank2pages(g.rank)
	}
	return n
}

func (c *Cache_t) shrinkIfOver() {
	for c.pageCap > 0 && c.pages() > c.pageCap && len(c.spare) > 0 {
		popLast(&c.spare).reclaim()
	}
}

// Shrink releases every pooled-but-unused (empty) group back to the
// buddy allocator (§4.3 cache_shrink), regardless of the page budget.
// Returns the number of pages reclaimed.
func (c *Cache_t) Shrink() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for len(c.spare) > 0 {
		g := popLast(&c.spare)
		n += mem.Rank2pages(g.rank)
		g.reclaim()
	}
	return n
}

// caches holds one Cache_t per SizeClasses entry, installed by Init.
var caches [len(SizeClasses)]*Cache_t

// Init installs the six size-class caches, each with a budget of
// pageCap resident pages: when an emptied slab leaves a cache over
// budget, pooled-but-idle slabs are released until it fits or none
// are left.
func Init(pageCap int) {
	for i, sz := range SizeClasses {
		caches[i] = newCache(sz, pageCap)
	}
}

func rankForBytes(n int) int {
	bits := util.CeilLog2(uint(n))
	if int(bits) <= int(mem.PGSHIFT) {
		return 0
	}
	return int(bits) - int(mem.PGSHIFT)
}

// Handle_t is a single allocation made through package slab, tracking
// enough to free it again regardless of whether it came from a
// size-class cache or bypassed straight to the buddy allocator.
type Handle_t struct {
	Buf  []uint8
	cls  int
	pa   mem.Pa_t
	rank int
}

// Alloc returns an n-byte allocation. Requests above the largest size
// class (2048 bytes) bypass the caches and go directly to the buddy
// allocator at rank = ceil(log2(size)) - PAGE_SHIFT (§4.3).
func Alloc(n int) (*Handle_t, defs.Err_t) {
	if cls := classIndex(n); cls >= 0 {
		buf, err := caches[cls].Alloc()
		if err != 0 {
			return nil, err
		}
		return &Handle_t{Buf: buf[:n], cls: cls}, 0
	}
	rank := rankForBytes(n)
	pa, ok := mem.Physmem.AllocRank(mem.ZoneNormal, rank)
	if !ok {
		return nil, defs.ENOMEM.AsErr()
	}
	pg := mem.Physmem.Dmap(pa)
	buf := unsafe.Slice((*uint8)(unsafe.Pointer(pg)), n)
	return &Handle_t{Buf: buf, cls: -1, pa: pa, rank: rank}, 0
}

// Free releases an allocation made by Alloc.
func Free(h *Handle_t) {
	if h.cls >= 0 {
		caches[h.cls].Free(h.Buf)
		return
	}
	mem.Physmem.RefdownRank(h.pa, h.rank)
}

// ShrinkAll drains every size class's pooled-but-idle slabs back to
// the buddy allocator, the reclaim step package task's OOM listener
// runs before resuming callers blocked in Alloc (§4.1 Failure: "ask
// the object caches ... to shrink").
func ShrinkAll() int {
	n := 0
	for _, c := range caches {
		n += c.Shrink()
	}
	return n
}
