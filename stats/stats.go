// Package stats implements the kernel's in-memory counters (§6, D_STAT)
// and profiling sample source (§6, D_PROF). The teacher's Rdtsc used a
// cycle counter intrinsic (runtime.Rdtsc) only its forked Go runtime
// exposes; stock Go has no such hook, so timing here is wall-clock
// nanoseconds instead of TSC cycles. The counter/reflection machinery
// below is otherwise unchanged from the teacher's stats.go.
package stats

import (
	"reflect"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
	"unsafe"
)

// Stats and Timing gate whether Counter_t/Cycles_t fields actually
// accumulate; both default on so D_STAT/D_PROF have something to
// report. Setting either to false sheds the bookkeeping cost; devfs's
// /dev/stat and /dev/prof handlers (§6) only read the counters.
var Stats = true
var Timing = true

var Nirqs [100]int
var Irqs int

// Now returns a wall-clock timestamp in nanoseconds, standing in for
// the teacher's cycle counter (Rdtsc/runtime.Rdtsc) which has no
// stock-runtime equivalent.
func Now() uint64 {
	if Stats {
		return uint64(time.Now().UnixNano())
	}
	return 0
}

// Counter_t is a statistical counter.
type Counter_t int64

// Cycles_t holds an elapsed-time accumulator, keyed in nanoseconds
// rather than TSC cycles (see package doc).
type Cycles_t int64

// Inc increments the counter.
func (c *Counter_t) Inc() {
	if Stats {
		n := (*int64)(unsafe.Pointer(c))
		atomic.AddInt64(n, 1)
	}
}

// Add adds elapsed time since start (as returned by Now) to the
// accumulator.
func (c *Cycles_t) Add(start uint64) {
	if Timing {
		n := (*int64)(unsafe.Pointer(c))
		atomic.AddInt64(n, int64(Now()-start))
	}
}

// Stats2String converts a struct of counters to a printable string,
// the format devfs serves under /dev/stat.
func Stats2String(st interface{}) string {
	if !Stats {
		return ""
	}
	v := reflect.ValueOf(st)
	s := ""
	for i := 0; i < v.NumField(); i++ {
		t := v.Field(i).Type().String()
		if strings.HasSuffix(t, "Counter_t") {
			n := v.Field(i).Interface().(Counter_t)
			s += "\n\t#" + v.Type().Field(i).Name + ": " + strconv.FormatInt(int64(n), 10)
		}
		if strings.HasSuffix(t, "Cycles_t") {
			n := v.Field(i).Interface().(Cycles_t)
			s += "\n\t#" + v.Type().Field(i).Name + ": " + strconv.FormatInt(int64(n), 10)
		}
	}
	return s + "\n"
}
