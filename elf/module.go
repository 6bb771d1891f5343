package elf

import "defs"

// Module_t is a loaded relocatable kernel module (§4.14): its
// relocated text/data/bss buffers, the virtual addresses the image
// said they belong at, and the module's entry point.
//
// Hosted Go cannot branch into arbitrary patched machine code the way
// a freestanding kernel's loader does, so Entry here is a link-time
// address recorded for bookkeeping rather than something this core
// ever calls through — the same approximation §4.3's Fork takes for a
// child's saved return address (an entry closure stands in for a real
// register-state resume). A module's "invoked once at load time"
// semantics are represented by LoadModule returning successfully, not
// by executing anything.
type Module_t struct {
	Text, Data, Bss []uint8
	TextAddr        uint32
	DataAddr        uint32
	BssAddr         uint32
	Entry           uint32
	Symbols         map[string]uint32
}

// LoadModule parses a relocatable ELF32 object, groups its allocated
// PROGBITS/NOBITS sections into text/data/bss, resolves its symbol
// table, and applies every SHT_REL section's relocations in place.
func LoadModule(data []uint8) (*Module_t, defs.Err_t) {
	img, err := Parse(data)
	if err != 0 {
		return nil, err
	}
	if err := img.applyRelocations(); err != 0 {
		return nil, err
	}

	mod := &Module_t{Symbols: make(map[string]uint32)}
	for _, s := range img.allocSections() {
		switch {
		case s.hdr.Flags&SHF_EXECINSTR != 0:
			mod.Text = append(mod.Text, s.data...)
			if mod.TextAddr == 0 {
				mod.TextAddr = s.hdr.Addr
			}
		case s.hdr.Type == SHT_NOBITS:
			mod.Bss = append(mod.Bss, make([]uint8, s.hdr.Size)...)
			if mod.BssAddr == 0 {
				mod.BssAddr = s.hdr.Addr
			}
		default:
			mod.Data = append(mod.Data, s.data...)
			if mod.DataAddr == 0 {
				mod.DataAddr = s.hdr.Addr
			}
		}
	}

	for _, sym := range img.symbols {
		if sym.Name != "" {
			mod.Symbols[sym.Name] = sym.Value
		}
	}
	mod.Entry = img.ehdr.Entry
	return mod, 0
}
