package elf

import (
	"defs"
	"mem"
	"uas"
)

func segPerms(flags uint32) mem.Pa_t {
	perms := mem.PTE_U
	if flags&PF_W != 0 {
		perms |= mem.PTE_W
	}
	return perms
}

// ExecInfo_t is what execve needs beyond "the image is mapped": the
// entry point and the program-header location the AT_PHDR/AT_PHENT/
// AT_PHNUM auxv entries describe (§4.14).
type ExecInfo_t struct {
	Entry     uint32
	Phdr      uint32
	Phentsize uint32
	Phnum     uint32
}

// LoadExecutable maps every PT_LOAD segment of an ELF32 executable
// into a fresh address space and returns its ExecInfo_t (§4.14,
// consumed by execve per spec.md's "loads a new ELF... enters user
// mode by IRET"). Segments are mapped as Anon VMAs and populated via
// K2user rather than demand-paged from the backing file, since this
// core's File-backed VMAs page in whole pages at a Fops/Foff the
// loader would otherwise have to fabricate per segment; bytes beyond
// Filesz within Memsz (.bss) are left at the zero-page default.
func LoadExecutable(data []uint8, as *uas.AddrSpace_t) (ExecInfo_t, defs.Err_t) {
	img, err := Parse(data)
	if err != 0 {
		return ExecInfo_t{}, err
	}
	var firstLoad *phdr32_t
	for i := range img.phdrs {
		ph := img.phdrs[i]
		if ph.Type != PT_LOAD {
			continue
		}
		if firstLoad == nil {
			firstLoad = &img.phdrs[i]
		}
		if err := mapSegment(data, as, ph); err != 0 {
			return ExecInfo_t{}, err
		}
	}
	info := ExecInfo_t{
		Entry:     img.ehdr.Entry,
		Phentsize: uint32(img.ehdr.Phentsize),
		Phnum:     uint32(img.ehdr.Phnum),
	}
	if firstLoad != nil {
		info.Phdr = firstLoad.Vaddr + img.ehdr.Phoff
	}
	return info, 0
}

func mapSegment(data []uint8, as *uas.AddrSpace_t, ph phdr32_t) defs.Err_t {
	start := int(ph.Vaddr) &^ (mem.PGSIZE - 1)
	skew := int(ph.Vaddr) - start
	pglen := (skew + int(ph.Memsz) + mem.PGSIZE - 1) / mem.PGSIZE
	if pglen == 0 {
		return 0
	}
	perms := segPerms(ph.Flags)
	_, err := as.AllocateFixedArea(start/mem.PGSIZE, pglen, perms, uas.Anon, nil, 0)
	if err != 0 {
		return err
	}
	if ph.Filesz == 0 {
		return 0
	}
	fend := int(ph.Offset) + int(ph.Filesz)
	if fend > len(data) || int(ph.Offset) < 0 {
		return defs.ENOEXEC.AsErr()
	}
	return as.K2user(data[ph.Offset:fend], int(ph.Vaddr))
}
