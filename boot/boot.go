package boot

import (
	"fmt"

	"block"
	"defs"
	"devfs"
	"elf"
	"ext2"
	"fd"
	"mem"
	"procfs"
	"stat"
	"sysfs"
	"task"
	"tmpfs"
	"tty"
	"uas"
	"ustr"
	"vfs"
)

// Version is stamped by the build (a linker flag in a real build);
// boot forwards it to sysfs so /sys/kernel/version reports
// something other than "unknown" once a real build sets it.
var Version = "unknown"

// physmemAdapter satisfies block.Blockmem_i over the global physical
// allocator: the block cache needs whole pages for DMA buffers, the
// same Normal-zone, rank-0 allocation the teacher's own block cache
// used before every other subsystem's allocations were unified under
// mem.Physmem.
type physmemAdapter struct{}

func (physmemAdapter) Alloc() (mem.Pa_t, *mem.Bytepg_t, bool) {
	pa, ok := mem.Physmem.AllocRank(mem.ZoneNormal, 0)
	if !ok {
		return 0, nil, false
	}
	return pa, mem.Pg2bytes(mem.Physmem.Dmap(pa)), true
}

func (physmemAdapter) Free(pa mem.Pa_t)  { mem.Physmem.Free(pa, 0) }
func (physmemAdapter) Refup(pa mem.Pa_t) { mem.Physmem.Refup(pa) }

// blockCachePages is how many pages the root filesystem's block cache
// is allowed to pin, an arbitrary but documented boot-time tunable
// (§9 design notes: "ambient configuration is plain Go structs", not a
// config file the kernel could not yet read before its own VFS exists).
const blockCachePages = 256

// initPath is where boot looks for the first user program to exec,
// the conventional Unix init location the teacher's own boot sequence
// assumed (spec.md §2: "creating an init user task that execs a
// filesystem-resident binary").
const initPath = "/sbin/init"

// Init runs the kernel's entry sequence (§2 control flow): validates
// the Multiboot2 info blob, sizes the physical allocator from its
// memory map, mounts the root ext2 filesystem plus the in-memory
// /proc, /sys, /dev, /tmp trees, and spawns the idle and init tasks.
// disk is the external BlockDevice collaborator (§1 Non-goals: the
// concrete AHCI/IDE driver behind it is out of scope) carrying the
// root filesystem image.
func Init(mbMagic uint32, mbInfo []uint8, disk block.BlockDevice) defs.Err_t {
	mbi, err := ParseMbi(mbMagic, mbInfo)
	if err != 0 {
		return err
	}
	region, err := mbi.LargestRegion()
	if err != 0 {
		return err
	}
	normalPages := int(region.Length / uint64(mem.PGSIZE))
	mem.Phys_init(uint32(region.Base), normalPages, 0, 0)
	if !mbi.HasElfSyms {
		fmt.Printf("boot: no ELF sections tag; panic backtraces unavailable\n")
	}

	task.Init()
	task.StartWorkQueues()

	fs, err := ext2.Mount(disk, physmemAdapter{}, blockCachePages)
	if err != 0 {
		return err
	}
	if err := vfs.Mount("/", fs); err != 0 {
		return err
	}
	if err := procfs.Mount(); err != 0 {
		return err
	}
	sysfs.SetVersion(Version)
	if err := sysfs.Mount(); err != 0 {
		return err
	}
	devfs.SetConsole(tty.New())
	if err := devfs.Mount(); err != 0 {
		return err
	}
	if err := tmpfs.Mount(); err != 0 {
		return err
	}

	rooth, err := vfs.Open(ustr.MkUstrRoot(), defs.O_RDONLY|defs.O_DIRECTORY, 0)
	if err != 0 {
		return err
	}
	rootCwd := fd.MkRootCwd(&fd.Fd_t{Fops: rooth, Perms: fd.FD_READ})

	if _, err := task.Spawn(rootCwd, idleEntry); err != 0 {
		return err
	}
	if _, err := task.Spawn(rootCwd, initEntry); err != 0 {
		return err
	}
	return 0
}

// idleEntry is the task the scheduler falls back to when nothing else
// is runnable. There is no real HLT-in-a-loop here since task.Task_t's
// "execution" is an ordinary goroutine (see package task's doc
// comment); blocking forever on an empty select is the hosted
// equivalent of halting until the next interrupt.
func idleEntry(t *task.Task_t) {
	select {}
}

// initEntry loads and validates the first user program's ELF image
// and maps its segments into the task's address space, exercising the
// same elf.LoadExecutable path sysExecve uses (§4.14, §4.8). Past that
// point there is no x86 instruction interpreter in this hosted core to
// actually run the mapped entry point at — the same approximation
// documented for task.Fork's entry-closure re-entry — so initEntry
// parks rather than claiming to execute user code it cannot.
func initEntry(t *task.Task_t) {
	h, err := vfs.Open(ustr.Ustr(initPath), defs.O_RDONLY, 0)
	if err != 0 {
		fmt.Printf("boot: cannot open %s: %d\n", initPath, err)
		t.Exit(1)
		return
	}
	defer h.Close()
	var st stat.Stat_t
	if err := h.Stat(&st); err != 0 {
		fmt.Printf("boot: cannot stat %s: %d\n", initPath, err)
		t.Exit(1)
		return
	}
	data := make([]uint8, st.Size())
	var fb uas.Fakeubuf_t
	fb.Fake_init(data)
	if _, err := h.Read(&fb); err != 0 {
		fmt.Printf("boot: cannot read %s: %d\n", initPath, err)
		t.Exit(1)
		return
	}
	if _, err := elf.LoadExecutable(data, t.As); err != 0 {
		fmt.Printf("boot: cannot load %s: %d\n", initPath, err)
		t.Exit(1)
		return
	}
	select {}
}
