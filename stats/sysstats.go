package stats

// Sysstats_t is the kernel-wide counters devfs serves through
// /dev/stat (Stats2String) and /dev/prof (BuildProfile/WriteProfile),
// the D_STAT and D_PROF pseudo-devices' payload (§6). The teacher's
// stats.go defined the Counter_t/Cycles_t reflection machinery but
// never an instantiated struct of its own — every subsystem that
// wants a counter adds a field here and increments it at its own call
// site.
type Sysstats_t struct {
	Syscalls   Counter_t
	Forks      Counter_t
	Execs      Counter_t
	Pagefaults Counter_t
	SyscallNs  Cycles_t
}

// Global is the single process-wide instance every subsystem's hot
// path increments.
var Global Sysstats_t
