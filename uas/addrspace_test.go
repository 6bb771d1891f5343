package uas

import (
	"testing"

	"mem"
)

func init() {
	mem.Physmem.Init(0, 16384, mem.ZoneNormal)
}

func TestMmapAnonReadWritesFault(t *testing.T) {
	as, err := NewAddrSpace()
	if err != 0 {
		t.Fatalf("NewAddrSpace: %v", err)
	}
	v, err := as.AllocateFixedArea(0x1000, 4, mem.PTE_U|mem.PTE_W, Anon, nil, 0)
	if err != 0 {
		t.Fatalf("AllocateFixedArea: %v", err)
	}
	if v.Pglen != 4 {
		t.Fatalf("expected 4 pages, got %d", v.Pglen)
	}

	data := []byte("hello, kernel")
	va := 0x1000 * mem.PGSIZE
	if err := as.K2user(data, va); err != 0 {
		t.Fatalf("K2user: %v", err)
	}
	out := make([]byte, len(data))
	if err := as.User2k(out, va); err != 0 {
		t.Fatalf("User2k: %v", err)
	}
	if string(out) != string(data) {
		t.Fatalf("roundtrip mismatch: got %q", out)
	}
}

func TestCloneCopiesPagesEagerly(t *testing.T) {
	as, _ := NewAddrSpace()
	as.AllocateFixedArea(0x2000, 1, mem.PTE_U|mem.PTE_W, Anon, nil, 0)
	va := 0x2000 * mem.PGSIZE
	as.K2user([]byte("parent"), va)

	child, err := as.Clone()
	if err != 0 {
		t.Fatalf("Clone: %v", err)
	}
	// Mutate the parent; the child's copy must be unaffected (no COW
	// sharing survives fork).
	as.K2user([]byte("mutate"), va)

	out := make([]byte, 6)
	if err := child.User2k(out, va); err != 0 {
		t.Fatalf("child User2k: %v", err)
	}
	if string(out) != "parent" {
		t.Fatalf("expected child to retain pre-fork contents, got %q", out)
	}
}

func TestDeallocateAreaUnmapsPages(t *testing.T) {
	as, _ := NewAddrSpace()
	as.AllocateFixedArea(0x3000, 2, mem.PTE_U|mem.PTE_W, Anon, nil, 0)
	va := 0x3000 * mem.PGSIZE
	as.K2user([]byte("x"), va)

	if err := as.DeallocateArea(0x3000, 2); err != 0 {
		t.Fatalf("DeallocateArea: %v", err)
	}
	if _, ok := as.Lookup(0x3000); ok {
		t.Fatal("expected VMA to be gone after deallocate")
	}
}
