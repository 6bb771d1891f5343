// Package oommsg carries out-of-memory notifications from allocators
// (slab, mem) to whatever reclaim loop is listening for them (task's
// slow-work reclaimer, §4.6 work queues; §4.1 Failure, §7 resource
// exhaustion: "attempt one opportunistic shrink ... and retry once
// before surfacing").
package oommsg

// Oommsg_t is sent on OomCh when memory is exhausted.
type Oommsg_t struct {
	Need   int
	Resume chan bool
}

// OomCh is notified when an allocator runs out of memory. Buffered by
// one so a shrink request is never dropped just because the reclaimer
// hasn't reached its next iteration yet.
var OomCh = make(chan Oommsg_t, 1)

// Notify publishes an OOM for need pages and returns the Resume
// channel the caller should wait on. It never blocks: if a
// notification is already pending, Notify piggybacks on it rather
// than queuing a second one, since one reclaim pass satisfies every
// waiter.
func Notify(need int) chan bool {
	resume := make(chan bool, 1)
	select {
	case OomCh <- Oommsg_t{Need: need, Resume: resume}:
	default:
	}
	return resume
}
