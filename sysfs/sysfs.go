// Package sysfs implements the /sys in-memory filesystem (§6): a
// static attribute tree exposing kernel build identity and the
// physical-memory zone's free-frame count, the same "one fact per
// file" shape sysfs.go's memfs.NewFile Content hook was designed for.
// Grounded on memfs (see that package's doc comment for why no pack
// teacher has an in-memory filesystem to copy from directly).
package sysfs

import (
	"fmt"

	"defs"
	"mem"
	"memfs"
	"vfs"
)

const ostype = "kcore"

// version is overwritten by boot with the build's reported version
// string; until then it reports "unknown" rather than a baked-in
// constant no build step actually set.
var version = "unknown"

// SetVersion lets boot record the kernel build identity sysfs reports
// under /sys/kernel/version.
func SetVersion(v string) { version = v }

func buildTree() *memfs.Node_t {
	root := memfs.NewDir("", false)

	kernel := memfs.NewDir("kernel", false)
	kernel.AddChild(memfs.NewFile("ostype", func() ([]uint8, defs.Err_t) {
		return []uint8(ostype + "\n"), 0
	}))
	kernel.AddChild(memfs.NewFile("version", func() ([]uint8, defs.Err_t) {
		return []uint8(version + "\n"), 0
	}))
	root.AddChild(kernel)

	devices := memfs.NewDir("devices", false)
	system := memfs.NewDir("system", false)
	cpu := memfs.NewDir("cpu", false)
	cpu.AddChild(memfs.NewFile("online", func() ([]uint8, defs.Err_t) {
		return []uint8("0\n"), 0 // single-CPU core, §1 Non-goals: no SMP/APIC
	}))
	system.AddChild(cpu)
	devices.AddChild(system)
	root.AddChild(devices)

	memNode := memfs.NewDir("memory", false)
	memNode.AddChild(memfs.NewFile("free_frames", func() ([]uint8, defs.Err_t) {
		n := mem.Physmem.Freeframes(mem.ZoneNormal)
		return []uint8(fmt.Sprintf("%d\n", n)), 0
	}))
	root.AddChild(memNode)

	return root
}

// Mount installs sysfs at /sys, rebuilding the tree so /sys/memory's
// free_frames content hook always reads the current allocator state.
func Mount() defs.Err_t {
	return vfs.Mount("/sys", memfs.NewFS(buildTree(), vfs.MagicSysfs))
}
