// Package tinfo tracks per-task kill/doom/wait state (§4.6, §4.7). The
// teacher's original kept the "current" note in goroutine-local
// storage via a patched runtime (runtime.Gptr/Setgptr); stock Go has
// no such hook, so here a Tnote_t is an explicit field owned by
// task.Task_t instead of something ambiently recovered by the
// scheduler.
package tinfo

import (
	"sync"

	"defs"
)

// Tnote_t stores the per-task state the scheduler and signal delivery
// (package sig) need to kill, doom, or wait for a task.
type Tnote_t struct {
	State    interface{}
	Alive    bool
	Killed   bool
	Isdoomed bool
	// protects Killed, Isdoomed, Killnaps.Cond and Kerr, and is a leaf lock
	sync.Mutex
	Killnaps struct {
		Killch chan bool
		Cond   *sync.Cond
		Kerr   defs.Err_t
	}
}

// MkTnote allocates a Tnote_t ready for use, wiring Killnaps.Cond to
// the note's own mutex the way the teacher's task constructor did.
func MkTnote() *Tnote_t {
	t := &Tnote_t{Alive: true}
	t.Killnaps.Killch = make(chan bool, 1)
	t.Killnaps.Cond = sync.NewCond(&t.Mutex)
	return t
}

// Doomed reports whether the task is marked as doomed.
func (t *Tnote_t) Doomed() bool {
	t.Lock()
	defer t.Unlock()
	return t.Isdoomed
}

// Doom marks the task doomed and wakes anyone waiting on Killnaps.
func (t *Tnote_t) Doom() {
	t.Lock()
	t.Isdoomed = true
	t.Killnaps.Cond.Broadcast()
	t.Unlock()
	select {
	case t.Killnaps.Killch <- true:
	default:
	}
}

// Threadinfo_t tracks every live task's note, keyed by tid, the way
// the teacher's global registry did.
type Threadinfo_t struct {
	sync.Mutex
	Notes map[defs.Tid_t]*Tnote_t
}

// Init initializes the thread info map.
func (t *Threadinfo_t) Init() {
	t.Notes = make(map[defs.Tid_t]*Tnote_t)
}

// Put registers note under tid.
func (t *Threadinfo_t) Put(tid defs.Tid_t, note *Tnote_t) {
	t.Lock()
	defer t.Unlock()
	t.Notes[tid] = note
}

// Get returns the note registered for tid, if any.
func (t *Threadinfo_t) Get(tid defs.Tid_t) (*Tnote_t, bool) {
	t.Lock()
	defer t.Unlock()
	n, ok := t.Notes[tid]
	return n, ok
}

// Del removes tid's note, called when a task is fully reaped.
func (t *Threadinfo_t) Del(tid defs.Tid_t) {
	t.Lock()
	defer t.Unlock()
	delete(t.Notes, tid)
}
