// Package tty implements the console line discipline (§4.12): termios
// (shaped like golang.org/x/sys/unix.Termios, the TCGETS/TCSETS wire
// layout), canonical/raw input processing,
// and an ANSI CSI parser for output escape sequences. Grounded on the
// teacher's console driver for the echo/erase/kill/line-buffering
// vocabulary, rewritten against golang.org/x/sys/unix's termios
// constants instead of the teacher's own hand-rolled flag bits.
package tty

import (
	"sync"

	"golang.org/x/sys/unix"

	"circbuf"
	"defs"
	"fdops"
	"mem"
)

// Termios_t is golang.org/x/sys/unix's termios layout, used directly
// so TCGETS/TCSETS can copy it to/from user memory byte-for-byte.
type Termios_t = unix.Termios

func defaultTermios() Termios_t {
	var t Termios_t
	t.Iflag = unix.ICRNL
	t.Oflag = unix.OPOST
	t.Lflag = unix.ICANON | unix.ECHO | unix.ISIG
	t.Cc[unix.VINTR] = 3   // ^C
	t.Cc[unix.VEOF] = 4    // ^D
	t.Cc[unix.VERASE] = 127 // DEL
	t.Cc[unix.VKILL] = 21  // ^U
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0
	return t
}

// Winsize_t mirrors struct winsize for TIOCGWINSZ/TIOCSWINSZ.
type Winsize_t struct {
	Row, Col, Xpixel, Ypixel uint16
}

// Tty_t is the console device (§6, D_CONSOLE): one line discipline
// feeding a canonical-mode line buffer, plus an ANSI CSI-parsing
// output side.
type Tty_t struct {
	fdops.Unimplemented_t

	mu      sync.Mutex
	termios Termios_t
	winsz   Winsize_t
	pgrp    int
	sess    int

	raw   []uint8 // bytes typed since the last line delivery (canonical mode)
	lines circbuf.Circbuf_t
	rcond *sync.Cond

	out  ansiState_t
	disp []uint8 // rendered output bytes (what a real console would blit)

	// OnSignal, if set, is called with the job-control signal a
	// control character (VINTR/VQUIT) raises for the foreground
	// process group. Nothing in the kernel assigns it, so while it is
	// nil those characters are consumed without any signal being sent.
	OnSignal func(pgrp int, signo defs.Signo_t)
}

// New returns a console tty with default termios settings.
func New() *Tty_t {
	t := &Tty_t{termios: defaultTermios(), winsz: Winsize_t{Row: 25, Col: 80}}
	t.lines.Cb_init(mem.PGSIZE, mem.Physmem)
	t.rcond = sync.NewCond(&t.mu)
	return t
}

func (t *Tty_t) canon() bool { return t.termios.Lflag&unix.ICANON != 0 }
func (t *Tty_t) echo() bool  { return t.termios.Lflag&unix.ECHO != 0 }
func (t *Tty_t) isig() bool  { return t.termios.Lflag&unix.ISIG != 0 }

// Input feeds raw keystrokes into the line discipline, the path the
// console's interrupt handler drives (§4.12). In canonical mode,
// complete lines (terminated by \n, \r or VEOF, each stored with a
// trailing \n) are pushed to the pending-lines ring for Read; the
// in-progress line has no length limit and is never delivered early.
// VERASE/VKILL edit the in-progress line. In raw mode every byte is queued immediately.
func (t *Tty_t) Input(b []uint8) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range b {
		if t.isig() {
			if c == t.termios.Cc[unix.VINTR] {
				if t.OnSignal != nil {
					t.OnSignal(t.pgrp, defs.SIGINT)
				}
				continue
			}
			if c == t.termios.Cc[unix.VQUIT] {
				if t.OnSignal != nil {
					t.OnSignal(t.pgrp, defs.SIGQUIT)
				}
				continue
			}
		}
		if !t.canon() {
			t.deliverLocked([]uint8{c})
			continue
		}
		switch {
		case c == t.termios.Cc[unix.VERASE]:
			if len(t.raw) > 0 {
				t.raw = t.raw[:len(t.raw)-1]
			}
		case c == t.termios.Cc[unix.VKILL]:
			t.raw = t.raw[:0]
		case c == '\n' || c == '\r' || c == t.termios.Cc[unix.VEOF]:
			t.raw = append(t.raw, '\n')
			t.deliverLocked(t.raw)
			t.raw = t.raw[:0]
		default:
			t.raw = append(t.raw, c)
		}
		if t.echo() {
			t.renderLocked([]uint8{c})
		}
	}
}

func (t *Tty_t) deliverLocked(line []uint8) {
	var fb fakeio_t
	fb.b = line
	t.lines.Copyin(&fb)
	t.rcond.Broadcast()
}

// Read blocks on the tty's condition variable until a full line
// (canonical) or any byte (raw mode) is available. The wait is not a
// tracked Light sleep and no signal ends it; package syscall delivers
// pending signals only before the call and after it returns.
func (t *Tty_t) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for t.lines.Empty() {
		t.rcond.Wait()
	}
	return t.lines.Copyout(dst)
}

// Write renders application output, interpreting ANSI CSI escapes via
// the ansiState_t scanner and appending literal bytes to the rendered
// display buffer.
func (t *Tty_t) Write(src fdops.Userio_i) (int, defs.Err_t) {
	buf := make([]uint8, src.Remain())
	n, err := src.Uioread(buf)
	if err != 0 {
		return n, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range buf[:n] {
		if out, ok := t.out.feed(c); ok {
			t.disp = append(t.disp, out...)
		}
	}
	return n, 0
}

func (t *Tty_t) Ioctl(cmd int, arg int) (int, defs.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch cmd {
	case defs.TIOCGPGRP:
		return t.pgrp, 0
	case defs.TIOCSPGRP:
		t.pgrp = arg
		return 0, 0
	case defs.TIOCSCTTY:
		t.sess = arg
		return 0, 0
	case defs.TIOCNOTTY:
		t.sess = 0
		return 0, 0
	default:
		return 0, defs.ENOTTY.AsErr()
	}
}

// GetTermios/SetTermios read and replace the in-kernel termios copy.
// Ioctl has no TCGETS/TCSETS case (those requests return ENOTTY), so
// termios is reachable only through these two methods.
func (t *Tty_t) GetTermios() Termios_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.termios
}

func (t *Tty_t) SetTermios(tio Termios_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.termios = tio
}

func (t *Tty_t) GetWinsize() Winsize_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.winsz
}

func (t *Tty_t) SetWinsize(w Winsize_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.winsz = w
}

func (t *Tty_t) Fullpath() (string, defs.Err_t) { return "/dev/console", 0 }
func (t *Tty_t) Close() defs.Err_t              { return 0 }

// fakeio_t adapts a plain byte slice to fdops.Userio_i for circbuf's
// internal use, the same role uas.Fakeubuf_t plays for real callers —
// kept local so tty does not need an AddrSpace to talk to its own ring
// buffer.
type fakeio_t struct {
	b []uint8
}

func (f *fakeio_t) Uioread(dst []uint8) (int, defs.Err_t) {
	n := copy(dst, f.b)
	f.b = f.b[n:]
	return n, 0
}
func (f *fakeio_t) Uiowrite(src []uint8) (int, defs.Err_t) {
	f.b = append(f.b, src...)
	return len(src), 0
}
func (f *fakeio_t) Remain() int  { return len(f.b) }
func (f *fakeio_t) Totalsz() int { return len(f.b) }
