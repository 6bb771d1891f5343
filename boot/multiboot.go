// Package boot implements the kernel's entry sequence (§2 control
// flow, §6 Boot external interface): Multiboot2 info validation,
// physical memory sizing, and constructing the idle and init tasks.
// The BIOS/Multiboot entry shim itself is an explicit §1 Non-goal —
// this package starts from the point a real shim would already have
// handed control to Go code, with the Multiboot2 info blob and magic
// value as plain arguments.
package boot

import (
	"encoding/binary"

	"defs"
)

// Magic is the value a Multiboot2-compliant loader passes in eax,
// validated against spec.md §6's "validates magic 0x36d76289".
const Magic = 0x36d76289

const (
	tagEnd       = 0
	tagMemoryMap = 6
	tagElfSyms   = 9
)

// MemRegion_t is one Multiboot2 memory map entry whose type is
// "available" (type 1); reserved/ACPI/NVS/bad-RAM regions are parsed
// but discarded since nothing here ever allocates out of them.
type MemRegion_t struct {
	Base   uint64
	Length uint64
}

// Mbi_t is the subset of a parsed Multiboot2 info blob this kernel
// core actually consumes: the available memory regions (§4.1 frame
// allocator sizing) and whether an ELF sections tag was present (the
// symtab/strtab panic-backtrace printer that would consume it is
// itself a §1 Non-goal, so boot only records the tag's presence, not
// its contents).
type Mbi_t struct {
	Regions    []MemRegion_t
	HasElfSyms bool
}

// ParseMbi walks a Multiboot2 info blob's tag stream (total_size u32,
// reserved u32, then tag{type u32, size u32, data...} each padded to
// an 8-byte boundary) and extracts the memory map and ELF-sections
// tags, grounded directly on the Multiboot2 specification since no
// pack example or teacher parses firmware boot data.
func ParseMbi(magic uint32, info []uint8) (*Mbi_t, defs.Err_t) {
	if magic != Magic {
		return nil, defs.EINVAL.AsErr()
	}
	if len(info) < 8 {
		return nil, defs.EINVAL.AsErr()
	}
	total := binary.LittleEndian.Uint32(info[0:4])
	if int(total) > len(info) {
		return nil, defs.EINVAL.AsErr()
	}
	mbi := &Mbi_t{}
	off := 8
	for off+8 <= int(total) {
		typ := binary.LittleEndian.Uint32(info[off : off+4])
		size := binary.LittleEndian.Uint32(info[off+4 : off+8])
		if typ == tagEnd {
			break
		}
		if off+int(size) > len(info) {
			return nil, defs.EINVAL.AsErr()
		}
		data := info[off+8 : off+int(size)]
		switch typ {
		case tagMemoryMap:
			mbi.Regions = parseMemoryMap(data)
		case tagElfSyms:
			mbi.HasElfSyms = true
		}
		off += int(size)
		if pad := off % 8; pad != 0 {
			off += 8 - pad
		}
	}
	if len(mbi.Regions) == 0 {
		return nil, defs.EINVAL.AsErr()
	}
	return mbi, 0
}

// parseMemoryMap decodes a memory map tag's entries (entry_size u32,
// entry_version u32, then entry_size-byte records: base u64,
// length u64, type u32, reserved u32), keeping only type-1
// ("available") regions.
func parseMemoryMap(data []uint8) []MemRegion_t {
	if len(data) < 8 {
		return nil
	}
	entrySize := binary.LittleEndian.Uint32(data[0:4])
	if entrySize == 0 {
		return nil
	}
	var out []MemRegion_t
	for off := 8; off+int(entrySize) <= len(data); off += int(entrySize) {
		base := binary.LittleEndian.Uint64(data[off : off+8])
		length := binary.LittleEndian.Uint64(data[off+8 : off+16])
		kind := binary.LittleEndian.Uint32(data[off+16 : off+20])
		if kind == 1 {
			out = append(out, MemRegion_t{Base: base, Length: length})
		}
	}
	return out
}

// LargestRegion returns the memory map's biggest available region at
// or above 1MiB, matching spec.md §6's "expects at least one area
// starting at 1 MiB" — the region the Normal zone is sized from.
func (m *Mbi_t) LargestRegion() (MemRegion_t, defs.Err_t) {
	const oneMiB = 1 << 20
	var best MemRegion_t
	for _, r := range m.Regions {
		if r.Base < oneMiB {
			continue
		}
		if r.Length > best.Length {
			best = r
		}
	}
	if best.Length == 0 {
		return best, defs.EINVAL.AsErr()
	}
	return best, 0
}
