package task

import (
	"runtime"
	"sync/atomic"
	"time"

	"varena"
)

// YieldNow cooperatively gives up the CPU, the hosted stand-in for the
// teacher's yield_now trap into the scheduler (§4.6). Safe to call with
// no locks held; like the real yield_now it does not change the task's
// sleep state.
func YieldNow() {
	varena.AssertNoneHeld()
	runtime.Gosched()
}

// Locker is satisfied by *sync.Mutex and friends.
type Locker interface {
	Lock()
	Unlock()
}

// SleepAndYieldAtomic atomically releases lock and parks the calling
// task in the given sleep state, exactly the teacher's
// sleep_and_yield_atomic: the unlock-then-block must be atomic with
// respect to a concurrent Wake, which is why lock is held until the
// task has registered itself as parked.
func (t *Task_t) SleepAndYieldAtomic(lock Locker, state Sleepstate_t) {
	varena.AssertNoneHeld()
	t.mu.Lock()
	t.state = state
	t.mu.Unlock()
	lock.Unlock()
	<-t.wake
	lock.Lock()
	t.mu.Lock()
	t.state = Running
	t.mu.Unlock()
}

// Wake marks t runnable and, if it is parked in SleepAndYieldAtomic,
// releases it.
func (t *Task_t) Wake() {
	t.mu.Lock()
	if t.state == Light || t.state == Deep {
		t.state = Runnable
	}
	t.mu.Unlock()
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// State reports the task's current sleep state, for procfs's
// /proc/<pid>/stat (SUPPLEMENTED FEATURES).
func (t *Task_t) State() Sleepstate_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// PreemptDisable/PreemptEnable bracket a region that must not be
// descheduled at an inconvenient point (§4.6: "preempt_disable nests").
// Grounded on the teacher's preempt counter; enforced cooperatively
// here since Go gives no way to forbid the runtime from moving a
// goroutine off its P, so these mark intent/accounting rather than
// actually blocking the Go scheduler.
func (t *Task_t) PreemptDisable() { atomic.AddInt32(&t.preempt, 1) }
func (t *Task_t) PreemptEnable()  { atomic.AddInt32(&t.preempt, -1) }
func (t *Task_t) Preemptible() bool {
	return atomic.LoadInt32(&t.preempt) == 0
}

// tickPeriod is the simulated timer-interrupt interval (§4.6 "timer
// tick").
const tickPeriod = 10 * time.Millisecond

var tickerStarted int32

// StartTimer launches the periodic tick that accrues scheduling
// ticks onto every live, preemptible, running task — the hosted
// analogue of the hardware timer interrupt driving preemption.
// Idempotent: a second call is a no-op.
func StartTimer() {
	if !atomic.CompareAndSwapInt32(&tickerStarted, 0, 1) {
		return
	}
	go func() {
		tk := time.NewTicker(tickPeriod)
		for range tk.C {
			for _, t := range All() {
				if t.State() == Running && t.Preemptible() {
					t.Accnt.Systadd(int(tickPeriod / time.Millisecond))
				}
			}
		}
	}()
}
