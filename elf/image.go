package elf

import "defs"

// section_t is one parsed section: its header plus the slice of the
// original file it occupies (empty for SHT_NOBITS/.bss).
type section_t struct {
	hdr  shdr32_t
	name string
	data []uint8
}

// symbol_t is one parsed symbol table entry, name-resolved against its
// string table.
type symbol_t struct {
	Name  string
	Value uint32
	Shndx uint16
}

// Image_t is a fully parsed ELF32 file: every section with its bytes,
// every program header, and the symbol table if one was present
// (object files built for module loading carry one; linked executables
// may not).
type Image_t struct {
	raw      []uint8
	ehdr     ehdr32_t
	sections []section_t
	phdrs    []phdr32_t
	symbols  []symbol_t
}

// Entry is the file's ELF entry point (e_entry), the executable
// loading path's process entry virtual address.
func (img *Image_t) Entry() uint32 { return img.ehdr.Entry }

// Parse decodes an ELF32 image's headers, sections, program headers,
// and symbol table (§4.14).
func Parse(data []uint8) (*Image_t, defs.Err_t) {
	ehdr, err := parseEhdr(data)
	if err != 0 {
		return nil, err
	}
	img := &Image_t{raw: data, ehdr: ehdr}

	if ehdr.Shnum > 0 {
		if err := img.parseSections(); err != 0 {
			return nil, err
		}
	}
	if ehdr.Phnum > 0 {
		if err := img.parsePhdrs(); err != 0 {
			return nil, err
		}
	}
	return img, 0
}

func (img *Image_t) parseSections() defs.Err_t {
	data := img.raw
	ehdr := img.ehdr
	shoff := int(ehdr.Shoff)
	if shoff+int(ehdr.Shnum)*shdrSize > len(data) {
		return defs.ENOEXEC.AsErr()
	}
	hdrs := make([]shdr32_t, ehdr.Shnum)
	for i := range hdrs {
		off := shoff + i*shdrSize
		hdrs[i] = parseShdr(data[off : off+shdrSize])
	}
	if int(ehdr.Shstrndx) >= len(hdrs) {
		return defs.ENOEXEC.AsErr()
	}
	shstrtab := sectionBytes(data, hdrs[ehdr.Shstrndx])

	img.sections = make([]section_t, len(hdrs))
	for i, h := range hdrs {
		s := section_t{hdr: h, name: cstr(shstrtab, h.Name)}
		if h.Type != SHT_NOBITS {
			s.data = sectionBytes(data, h)
		}
		img.sections[i] = s
	}

	for _, s := range img.sections {
		if s.hdr.Type == SHT_SYMTAB {
			if err := img.parseSymtab(s); err != 0 {
				return err
			}
		}
	}
	return 0
}

func sectionBytes(data []uint8, h shdr32_t) []uint8 {
	start := int(h.Offset)
	end := start + int(h.Size)
	if start < 0 || end > len(data) || start > end {
		return nil
	}
	return data[start:end]
}

func (img *Image_t) parseSymtab(symSec section_t) defs.Err_t {
	if int(symSec.hdr.Link) >= len(img.sections) {
		return defs.ENOEXEC.AsErr()
	}
	strtab := img.sections[symSec.hdr.Link].data
	n := len(symSec.data) / symSize
	img.symbols = make([]symbol_t, n)
	for i := 0; i < n; i++ {
		off := i * symSize
		s := parseSym(symSec.data[off : off+symSize])
		img.symbols[i] = symbol_t{Name: cstr(strtab, s.Name), Value: s.Value, Shndx: s.Shndx}
	}
	return 0
}

func (img *Image_t) parsePhdrs() defs.Err_t {
	data := img.raw
	ehdr := img.ehdr
	phoff := int(ehdr.Phoff)
	if phoff+int(ehdr.Phnum)*phdrSize > len(data) {
		return defs.ENOEXEC.AsErr()
	}
	img.phdrs = make([]phdr32_t, ehdr.Phnum)
	for i := range img.phdrs {
		off := phoff + i*phdrSize
		img.phdrs[i] = parsePhdr(data[off : off+phdrSize])
	}
	return 0
}

// Sections exposing SHT_PROGBITS/SHT_NOBITS with SHF_ALLOC set are the
// module loader's text/data/bss grouping (§4.14); everything else
// (.symtab, .strtab, .rel.*, .comment, ...) is metadata the loader
// consults but never maps.
func (img *Image_t) allocSections() []section_t {
	var out []section_t
	for _, s := range img.sections {
		if s.hdr.Flags&SHF_ALLOC == 0 {
			continue
		}
		if s.hdr.Type != SHT_PROGBITS && s.hdr.Type != SHT_NOBITS {
			continue
		}
		out = append(out, s)
	}
	return out
}
