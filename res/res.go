// Package res implements the non-blocking admission control that
// guards retry loops identified by package bounds. A call site reserves
// a small, statically-known number of "heap credits" before touching
// physical memory it cannot cleanly unwind from; when the system is low
// on memory, Resadd_noblock refuses the reservation immediately (it
// never suspends the caller — suspension points are enumerated in spec
// §5 and this is not one of them) and the caller surfaces ENOHEAP.
package res

import (
	"sync/atomic"

	"bounds"
)

// cost is the worst-case number of heap credits a single iteration of
// each bound call site can consume. These are small, fixed constants —
// one page-table walk step, one slab object, etc. — not a function of
// request size, since the loops these guard process data one page at a
// time.
var cost = [bounds.Count]int64{
	bounds.B_ASPACE_T_K2USER_INNER: 1,
	bounds.B_ASPACE_T_USER2K_INNER: 1,
	bounds.B_USERBUF_T__TX:         1,
	bounds.B_VFS_T_NAMEI:           2,
	bounds.B_EXT2_T_BALLOC:         3,
	bounds.B_EXT2_T_IALLOC:         3,
	bounds.B_BLOCK_T_GETORLOAD:     2,
	bounds.B_TASK_T_FORK_COPY:      1,
}

var (
	outstanding int64
	ceiling     int64 = 1 << 20 // generous default; boot raises/lowers via SetCeiling
)

// SetCeiling configures the maximum number of outstanding heap credits
// the admission controller will hand out at once. Called once during
// boot once the real size of physical memory (§4.1 Phys_init) is known.
func SetCeiling(pages int64) {
	atomic.StoreInt64(&ceiling, pages)
}

// Resadd_noblock attempts to reserve the credits for bound id b. It
// returns true if the reservation succeeded (the caller may proceed)
// or false if granting it would exceed the configured ceiling, in
// which case the caller must surface ENOHEAP rather than retry.
func Resadd_noblock(b bounds.Bounds_t) bool {
	c := cost[b]
	for {
		cur := atomic.LoadInt64(&outstanding)
		next := cur + c
		if next > atomic.LoadInt64(&ceiling) {
			return false
		}
		if atomic.CompareAndSwapInt64(&outstanding, cur, next) {
			return true
		}
	}
}

// Resend releases the credits previously reserved for bound id b. Call
// sites release once their loop iteration's memory has either been
// durably installed (mapped, written to a cache) or freed back.
func Resend(b bounds.Bounds_t) {
	c := cost[b]
	if atomic.AddInt64(&outstanding, -c) < 0 {
		panic("res: released more than reserved")
	}
}

// Outstanding reports the current number of reserved credits, for
// tests and the stats/prof device.
func Outstanding() int64 {
	return atomic.LoadInt64(&outstanding)
}
