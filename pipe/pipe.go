// Package pipe implements anonymous pipes (§4.13): a bounded ring
// buffer with blocking read/write and widowed-end/SIGPIPE handling.
// Grounded on the teacher's fs pipe (same widowed-pipe vocabulary),
// rewritten atop the adapted circbuf.Circbuf_t ring buffer instead of
// the teacher's inline byte-array implementation.
package pipe

import (
	"sync"

	"circbuf"
	"defs"
	"fdops"
	"limits"
	"mem"
)

// Pipe_t is the shared state between a pipe's two ends.
type Pipe_t struct {
	mu      sync.Mutex
	cb      circbuf.Circbuf_t
	readers int
	writers int
	rcond   *sync.Cond
	wcond   *sync.Cond
}

// MkPipe allocates a pipe with both ends open, admission-controlled by
// limits.Syslimit.Pipes (§7 resource exhaustion).
func MkPipe() (*Pipe_t, defs.Err_t) {
	if !limits.Syslimit.Pipes.Take() {
		return nil, defs.ENOMEM.AsErr()
	}
	p := &Pipe_t{readers: 1, writers: 1}
	p.cb.Cb_init(mem.PGSIZE, mem.Physmem)
	p.rcond = sync.NewCond(&p.mu)
	p.wcond = sync.NewCond(&p.mu)
	return p, 0
}

// ReadEnd_t is the read half of a pipe, implementing fdops.Fdops_i.
type ReadEnd_t struct {
	fdops.Unimplemented_t
	p *Pipe_t
}

// WriteEnd_t is the write half of a pipe, implementing fdops.Fdops_i.
// OnSigpipe, when set, is invoked (instead of the write silently
// failing) the moment Write discovers every reader is gone, the hook
// package sig/task use to actually deliver SIGPIPE to the writer.
type WriteEnd_t struct {
	fdops.Unimplemented_t
	p         *Pipe_t
	OnSigpipe func()
}

// MkEnds returns both ends of a fresh pipe.
func MkEnds() (*ReadEnd_t, *WriteEnd_t, defs.Err_t) {
	p, err := MkPipe()
	if err != 0 {
		return nil, nil, err
	}
	return &ReadEnd_t{p: p}, &WriteEnd_t{p: p}, 0
}

// Clone duplicates a read end's reference, bumping the shared
// reader count (dup/fork).
func (r *ReadEnd_t) Clone() *ReadEnd_t {
	r.p.mu.Lock()
	r.p.readers++
	r.p.mu.Unlock()
	return &ReadEnd_t{p: r.p}
}

// Clone duplicates a write end's reference, bumping the shared
// writer count (dup/fork).
func (w *WriteEnd_t) Clone() *WriteEnd_t {
	w.p.mu.Lock()
	w.p.writers++
	w.p.mu.Unlock()
	return &WriteEnd_t{p: w.p, OnSigpipe: w.OnSigpipe}
}

func (r *ReadEnd_t) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	p := r.p
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.cb.Empty() && p.writers > 0 {
		p.rcond.Wait()
	}
	if p.cb.Empty() {
		return 0, 0 // all writers gone: EOF
	}
	n, err := p.cb.Copyout(dst)
	p.wcond.Broadcast()
	return n, err
}

func (r *ReadEnd_t) Close() defs.Err_t {
	p := r.p
	p.mu.Lock()
	p.readers--
	done := p.readers == 0
	p.mu.Unlock()
	if done {
		p.wcond.Broadcast()
		limits.Syslimit.Pipes.Give()
	}
	return 0
}

func (w *WriteEnd_t) Write(src fdops.Userio_i) (int, defs.Err_t) {
	p := w.p
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.readers == 0 {
		if w.OnSigpipe != nil {
			w.OnSigpipe()
		}
		return 0, defs.EPIPE.AsErr()
	}
	total := 0
	for src.Remain() > 0 {
		for p.cb.Full() && p.readers > 0 {
			p.wcond.Wait()
		}
		if p.readers == 0 {
			if w.OnSigpipe != nil {
				w.OnSigpipe()
			}
			if total > 0 {
				return total, 0
			}
			return 0, defs.EPIPE.AsErr()
		}
		n, err := p.cb.Copyin(src)
		total += n
		p.rcond.Broadcast()
		if err != 0 {
			return total, err
		}
		if n == 0 {
			break
		}
	}
	return total, 0
}

func (w *WriteEnd_t) Close() defs.Err_t {
	p := w.p
	p.mu.Lock()
	p.writers--
	done := p.writers == 0
	p.mu.Unlock()
	if done {
		p.rcond.Broadcast()
	}
	return 0
}

func (r *ReadEnd_t) Fullpath() (string, defs.Err_t)  { return "pipe:", 0 }
func (w *WriteEnd_t) Fullpath() (string, defs.Err_t) { return "pipe:", 0 }
