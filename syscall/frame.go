// Package syscall implements the int 0x80 dispatch gate (§4.8): it
// decodes a trap frame's syscall number and argument registers, runs
// the matching handler against the calling task's fd table, address
// space, and the vfs/ext2/pipe/socket/tty/sig/task packages underneath
// it, and writes the sign-flipped result back into the frame the way
// the teacher's own trap return path expects. No pack teacher carries
// a real int 0x80 gate (the justanotherdot biscuit fork in
// other_examples/ is the closest reference for the tf[TF_*]-indexed
// trap frame vocabulary this package's InterruptFrame_t borrows), so
// the dispatch loop itself is grounded directly on spec.md §4.8's
// syscall table.
package syscall

// InterruptFrame_t is the register save area a syscall trap pushes,
// indexed the way the teacher lineage's tf[TF_RAX]-style trapframes
// are: one flat array, named offsets.
type InterruptFrame_t [TFSIZE]int

// Trap frame register indices (x86-32 cdecl syscall convention: rax
// holds the syscall number and return value, rdi/rsi/rdx/rcx/r8 carry
// up to five arguments).
const (
	TF_RAX = iota
	TF_RDI
	TF_RSI
	TF_RDX
	TF_RCX
	TF_R8
	TF_RIP
	TF_RSP
	TFSIZE
)

func (tf *InterruptFrame_t) Sysno() int    { return tf[TF_RAX] }
func (tf *InterruptFrame_t) Arg0() int     { return tf[TF_RDI] }
func (tf *InterruptFrame_t) Arg1() int     { return tf[TF_RSI] }
func (tf *InterruptFrame_t) Arg2() int     { return tf[TF_RDX] }
func (tf *InterruptFrame_t) Arg3() int     { return tf[TF_RCX] }
func (tf *InterruptFrame_t) Arg4() int     { return tf[TF_R8] }
func (tf *InterruptFrame_t) SetRet(v int)  { tf[TF_RAX] = v }
func (tf *InterruptFrame_t) SetRip(v int)  { tf[TF_RIP] = v }
func (tf *InterruptFrame_t) SetRsp(v int)  { tf[TF_RSP] = v }
