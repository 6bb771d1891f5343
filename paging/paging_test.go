package paging

import (
	"testing"

	"mem"
)

func init() {
	mem.Physmem.Init(0, 4096, mem.ZoneNormal)
}

func TestMapLookupUnmap(t *testing.T) {
	dir, dirPa, ok := NewDirectory()
	if !ok {
		t.Fatal("NewDirectory failed")
	}
	defer FreeDirectory(dir, dirPa)

	frame, framePa, ok := mem.Physmem.Refpg_new()
	if !ok {
		t.Fatal("Refpg_new failed")
	}
	_ = frame

	va := uint32(0x08048000)
	if !Map(dir, va, framePa, mem.PTE_U|mem.PTE_W) {
		t.Fatal("Map failed")
	}
	pte, ok := Lookup(dir, va)
	if !ok || *pte&mem.PTE_P == 0 {
		t.Fatal("expected present mapping")
	}
	if *pte&mem.PTE_ADDR != framePa {
		t.Fatalf("expected %#x, got %#x", framePa, *pte&mem.PTE_ADDR)
	}

	old := Unmap(dir, va)
	if old != framePa {
		t.Fatalf("expected unmap to return %#x, got %#x", framePa, old)
	}
	if pte, ok := Lookup(dir, va); ok && *pte&mem.PTE_P != 0 {
		t.Fatal("expected mapping gone after unmap")
	}
}
