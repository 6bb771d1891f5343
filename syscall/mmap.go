package syscall

import (
	"defs"
	"fdops"
	"mem"
	"task"
	"uas"
)

// toPerms translates the PROT_* bits of §4.8's SYS_MMAP into the
// mem.Pa_t page-table permission bits uas.AllocateArea expects. Every
// user mapping is implicitly PTE_U; PROT_EXEC has no separate
// no-execute bit in this core's two-level paging model (§4.5 Non-goals:
// no NX enforcement), so it maps to nothing extra.
func toPerms(prot int) mem.Pa_t {
	perms := mem.PTE_U
	if prot&defs.PROT_WRITE != 0 {
		perms |= mem.PTE_W
	}
	return perms
}

// sysMmap implements the mmap syscall's anonymous and file-backed VMA
// allocation (§4.5/§4.8). The trap frame's five argument slots carry
// addr/length/prot/flags/fd; a file mapping always starts at byte
// offset 0 of the backing descriptor, since there is no sixth slot for
// an explicit offset argument.
func sysMmap(t *task.Task_t, tf *InterruptFrame_t) (int, defs.Err_t) {
	addrHint := tf.Arg0()
	length := tf.Arg1()
	prot := tf.Arg2()
	flags := tf.Arg3()
	fdn := tf.Arg4()

	if length <= 0 {
		return 0, defs.EINVAL.AsErr()
	}
	pglen := (length + mem.PGSIZE - 1) / mem.PGSIZE
	perms := toPerms(prot)

	mt := uas.Anon
	var backing fdops.Fdops_i
	if flags&defs.MAP_ANON == 0 {
		if f, err := t.Fds.Get(fdn); err == 0 {
			backing = f.Fops
			mt = uas.File
		}
	}

	pgn := addrHint / mem.PGSIZE
	var (
		v   *uas.Vma_t
		err defs.Err_t
	)
	if flags&defs.MAP_FIXED != 0 && addrHint != 0 {
		v, err = t.As.AllocateFixedArea(pgn, pglen, perms, mt, backing, 0)
	} else {
		v, err = t.As.AllocateArea(pgn, pglen, perms, mt, backing, 0)
	}
	if err != 0 {
		return 0, err
	}
	return v.Start * mem.PGSIZE, 0
}
