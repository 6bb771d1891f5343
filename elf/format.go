// Package elf implements the ELF32 module/executable loader (§4.14):
// section/program-header parsing, text/data/bss grouping, and
// relocation resolution against an internal symbol table. The spec
// keeps this module's interior out of scope ("interface only"), so the
// wire-format layer here is grounded directly on the ELF32 spec rather
// than any pack teacher (none of them load ELF images — hosted Go
// binaries need no loader of their own). Relocation target validation
// uses golang.org/x/arch/x86/x86asm, the teacher's declared but
// previously unwired dependency, to decode the instruction a patched
// address lands in before rewriting its bytes — the one place this
// core touches raw x86 machine code outside the signal trampoline.
package elf

import (
	"encoding/binary"

	"defs"
)

const (
	ehdrSize = 52
	shdrSize = 40
	phdrSize = 32
	symSize  = 16
	relSize  = 8
)

// Section header types (§4.14: "identifies SHT_REL, SHT_PROGBITS,
// SHT_NOBITS sections").
const (
	SHT_NULL     = 0
	SHT_PROGBITS = 1
	SHT_SYMTAB   = 2
	SHT_STRTAB   = 3
	SHT_NOBITS   = 8
	SHT_REL      = 9
)

const (
	SHF_WRITE     = 0x1
	SHF_ALLOC     = 0x2
	SHF_EXECINSTR = 0x4
)

// Program header types, used by the executable loading path (execve).
const (
	PT_NULL = 0
	PT_LOAD = 1
)

const (
	PF_X = 0x1
	PF_W = 0x2
	PF_R = 0x4
)

// 386 relocation types, the only two the spec's relocation model needs
// (absolute and pc-relative word patches).
const (
	R_386_32   = 1
	R_386_PC32 = 2
)

type ehdr32_t struct {
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint32
	Phoff     uint32
	Shoff     uint32
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

func parseEhdr(b []uint8) (ehdr32_t, defs.Err_t) {
	if len(b) < ehdrSize {
		return ehdr32_t{}, defs.ENOEXEC.AsErr()
	}
	if b[0] != 0x7f || b[1] != 'E' || b[2] != 'L' || b[3] != 'F' {
		return ehdr32_t{}, defs.ENOEXEC.AsErr()
	}
	if b[4] != 1 { // ELFCLASS32
		return ehdr32_t{}, defs.ENOEXEC.AsErr()
	}
	if b[5] != 1 { // ELFDATA2LSB
		return ehdr32_t{}, defs.ENOEXEC.AsErr()
	}
	le := binary.LittleEndian
	return ehdr32_t{
		Type:      le.Uint16(b[16:]),
		Machine:   le.Uint16(b[18:]),
		Version:   le.Uint32(b[20:]),
		Entry:     le.Uint32(b[24:]),
		Phoff:     le.Uint32(b[28:]),
		Shoff:     le.Uint32(b[32:]),
		Flags:     le.Uint32(b[36:]),
		Ehsize:    le.Uint16(b[40:]),
		Phentsize: le.Uint16(b[42:]),
		Phnum:     le.Uint16(b[44:]),
		Shentsize: le.Uint16(b[46:]),
		Shnum:     le.Uint16(b[48:]),
		Shstrndx:  le.Uint16(b[50:]),
	}, 0
}

type shdr32_t struct {
	Name      uint32
	Type      uint32
	Flags     uint32
	Addr      uint32
	Offset    uint32
	Size      uint32
	Link      uint32
	Info      uint32
	Addralign uint32
	Entsize   uint32
}

func parseShdr(b []uint8) shdr32_t {
	le := binary.LittleEndian
	return shdr32_t{
		Name:      le.Uint32(b[0:]),
		Type:      le.Uint32(b[4:]),
		Flags:     le.Uint32(b[8:]),
		Addr:      le.Uint32(b[12:]),
		Offset:    le.Uint32(b[16:]),
		Size:      le.Uint32(b[20:]),
		Link:      le.Uint32(b[24:]),
		Info:      le.Uint32(b[28:]),
		Addralign: le.Uint32(b[32:]),
		Entsize:   le.Uint32(b[36:]),
	}
}

type phdr32_t struct {
	Type   uint32
	Offset uint32
	Vaddr  uint32
	Paddr  uint32
	Filesz uint32
	Memsz  uint32
	Flags  uint32
	Align  uint32
}

func parsePhdr(b []uint8) phdr32_t {
	le := binary.LittleEndian
	return phdr32_t{
		Type:   le.Uint32(b[0:]),
		Offset: le.Uint32(b[4:]),
		Vaddr:  le.Uint32(b[8:]),
		Paddr:  le.Uint32(b[12:]),
		Filesz: le.Uint32(b[16:]),
		Memsz:  le.Uint32(b[20:]),
		Flags:  le.Uint32(b[24:]),
		Align:  le.Uint32(b[28:]),
	}
}

type sym32_t struct {
	Name  uint32
	Value uint32
	Size  uint32
	Info  uint8
	Other uint8
	Shndx uint16
}

func parseSym(b []uint8) sym32_t {
	le := binary.LittleEndian
	return sym32_t{
		Name:  le.Uint32(b[0:]),
		Value: le.Uint32(b[4:]),
		Size:  le.Uint32(b[8:]),
		Info:  b[12],
		Other: b[13],
		Shndx: le.Uint16(b[14:]),
	}
}

type rel32_t struct {
	Offset uint32
	Info   uint32
}

func (r rel32_t) symIdx() uint32 { return r.Info >> 8 }
func (r rel32_t) relType() uint32 { return r.Info & 0xff }

func parseRel(b []uint8) rel32_t {
	le := binary.LittleEndian
	return rel32_t{Offset: le.Uint32(b[0:]), Info: le.Uint32(b[4:])}
}

func cstr(b []uint8, off uint32) string {
	if int(off) >= len(b) {
		return ""
	}
	end := off
	for end < uint32(len(b)) && b[end] != 0 {
		end++
	}
	return string(b[off:end])
}
