// fast_work/slow_work queues (§4.6): fast_work is for short, latency-
// sensitive kernel work (waking a waiter, finishing a quick I/O
// completion); slow_work is for anything that might block for a while
// (OOM reclaim, a filesystem flush). Grounded on the DOMAIN STACK's
// wiring of golang.org/x/sync's errgroup+semaphore into this package.
package task

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"oommsg"
	"slab"
)

const (
	fastWorkers = 4
	slowWorkers = 2
)

var (
	fastCh = make(chan func(), 256)
	slowCh = make(chan func(), 64)
)

// StartWorkQueues launches the fast/slow worker pools and the OOM
// reclaimer loop. Idempotent is not needed here since boot calls it
// exactly once.
func StartWorkQueues() {
	fastSem := semaphore.NewWeighted(fastWorkers)
	slowSem := semaphore.NewWeighted(slowWorkers)
	ctx := context.Background()

	var fastGrp errgroup.Group
	for i := 0; i < fastWorkers; i++ {
		fastGrp.Go(func() error {
			for job := range fastCh {
				fastSem.Acquire(ctx, 1)
				job()
				fastSem.Release(1)
			}
			return nil
		})
	}

	var slowGrp errgroup.Group
	for i := 0; i < slowWorkers; i++ {
		slowGrp.Go(func() error {
			for job := range slowCh {
				slowSem.Acquire(ctx, 1)
				job()
				slowSem.Release(1)
			}
			return nil
		})
	}

	go reclaimLoop()
}

// SubmitFast enqueues latency-sensitive kernel work.
func SubmitFast(job func()) { fastCh <- job }

// SubmitSlow enqueues work that may block for a while.
func SubmitSlow(job func()) { slowCh <- job }

// reclaimLoop drains oommsg.OomCh, asking the slab allocator to shrink
// its idle slabs before waking whoever is stuck in an Alloc retry loop
// (§4.1 Failure, §7 resource exhaustion: "one opportunistic shrink and
// retry").
func reclaimLoop() {
	for msg := range oommsg.OomCh {
		slab.ShrinkAll()
		select {
		case msg.Resume <- true:
		default:
		}
	}
}
