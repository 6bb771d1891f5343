package block

import (
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"defs"
	"mem"
)

type countingMem struct{}

func (countingMem) Alloc() (mem.Pa_t, *mem.Bytepg_t, bool) { return 0, &mem.Bytepg_t{}, true }
func (countingMem) Free(mem.Pa_t)                          {}
func (countingMem) Refup(mem.Pa_t)                         {}

// countingDisk counts concurrent LoadAsync calls to verify the pool
// never issues more than one DMA read per BlockId at a time (§8
// invariant).
type countingDisk struct {
	inflight int32
	maxSeen  int32
	bsz      int
}

func (d *countingDisk) BlockSize() int             { return d.bsz }
func (d *countingDisk) ValidateBid(n BlockId) bool { return n >= 0 }
func (d *countingDisk) LoadPio(bid BlockId) (*mem.Bytepg_t, defs.Err_t) {
	return &mem.Bytepg_t{}, 0
}
func (d *countingDisk) WriteBack(bid BlockId, data *mem.Bytepg_t) defs.Err_t { return 0 }
func (d *countingDisk) LoadAsync(bid BlockId, cleanup func(*mem.Bytepg_t, defs.Err_t)) {
	n := atomic.AddInt32(&d.inflight, 1)
	for {
		m := atomic.LoadInt32(&d.maxSeen)
		if n <= m || atomic.CompareAndSwapInt32(&d.maxSeen, m, n) {
			break
		}
	}
	go func() {
		atomic.AddInt32(&d.inflight, -1)
		cleanup(&mem.Bytepg_t{}, 0)
	}()
}

func TestGetOrLoadSingleFlight(t *testing.T) {
	d := &countingDisk{bsz: BSIZE}
	p := NewPool(d, countingMem{}, 16)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, err := p.GetOrLoad(7)
			if err != 0 {
				t.Errorf("GetOrLoad: %v", err)
				return
			}
			p.Put(BlockId(b.Block))
		}()
	}
	wg.Wait()
	if d.maxSeen > 1 {
		t.Fatalf("expected at most one in-flight DMA read per bid, saw %d", d.maxSeen)
	}
}

func TestPoolEvictionSkipsReferenced(t *testing.T) {
	d := &countingDisk{bsz: BSIZE}
	p := NewPool(d, countingMem{}, 2)

	b0, _ := p.GetOrLoad(0)
	_, _ = p.GetOrLoad(1)
	_, _ = p.GetOrLoad(2) // pool now over capacity; bid 0 held, should survive

	if p.Len() > 3 {
		t.Fatalf("unexpected pool size %d", p.Len())
	}
	p.Put(BlockId(b0.Block))
}

func TestFileDiskRoundTrip(t *testing.T) {
	path := t.TempDir() + "/disk.img"
	fd, err := OpenFileDisk(path, 512, 64)
	if err != nil {
		t.Fatal(err)
	}
	defer fd.Close()
	defer os.Remove(path)

	data := &mem.Bytepg_t{}
	data[0] = 0xab
	if e := fd.WriteBack(3, data); e != 0 {
		t.Fatalf("WriteBack: %v", e)
	}
	got, e := fd.LoadPio(3)
	if e != 0 {
		t.Fatalf("LoadPio: %v", e)
	}
	if got[0] != 0xab {
		t.Fatalf("expected 0xab, got %#x", got[0])
	}
}
