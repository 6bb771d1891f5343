package elf

import (
	"encoding/binary"

	"golang.org/x/arch/x86/x86asm"

	"defs"
)

// resolveSymbol returns the link-time address of the n'th symbol: its
// section's base plus its value, or a bare absolute value for symbols
// with no section (SHN_ABS).
func (img *Image_t) resolveSymbol(n uint32) (uint32, defs.Err_t) {
	if int(n) >= len(img.symbols) {
		return 0, defs.ENOEXEC.AsErr()
	}
	sym := img.symbols[n]
	const shnAbs = 0xfff1
	if sym.Shndx == shnAbs || int(sym.Shndx) >= len(img.sections) {
		return sym.Value, 0
	}
	return img.sections[sym.Shndx].hdr.Addr + sym.Value, 0
}

// applyRelocations patches every SHT_REL section's target against the
// module's resolved symbol addresses (§4.14: "relocations are resolved
// against an internal symbol table"). Before rewriting a site's bytes,
// the instruction starting there is decoded with x86asm.Decode so a
// malformed or truncated module can't smear a relocation across an
// instruction boundary it doesn't actually own.
func (img *Image_t) applyRelocations() defs.Err_t {
	for _, relSec := range img.sections {
		if relSec.hdr.Type != SHT_REL {
			continue
		}
		if int(relSec.hdr.Info) >= len(img.sections) {
			return defs.ENOEXEC.AsErr()
		}
		target := &img.sections[relSec.hdr.Info]
		n := len(relSec.data) / relSize
		for i := 0; i < n; i++ {
			off := i * relSize
			r := parseRel(relSec.data[off : off+relSize])
			if err := img.applyOne(target, r); err != 0 {
				return err
			}
		}
	}
	return 0
}

func (img *Image_t) applyOne(target *section_t, r rel32_t) defs.Err_t {
	patchOff := int(r.Offset)
	if patchOff+4 > len(target.data) {
		return defs.ENOEXEC.AsErr()
	}

	inst, err := x86asm.Decode(target.data[patchOff:], 32)
	if err != nil || inst.Len < 4 {
		return defs.ENOEXEC.AsErr()
	}

	symAddr, e := img.resolveSymbol(r.symIdx())
	if e != 0 {
		return e
	}

	le := binary.LittleEndian
	switch r.relType() {
	case R_386_32:
		addend := le.Uint32(target.data[patchOff:])
		le.PutUint32(target.data[patchOff:], symAddr+addend)
	case R_386_PC32:
		addend := le.Uint32(target.data[patchOff:])
		pc := target.hdr.Addr + r.Offset + 4
		le.PutUint32(target.data[patchOff:], symAddr+addend-pc)
	default:
		return defs.ENOEXEC.AsErr()
	}
	return 0
}
