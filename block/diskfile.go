package block

import (
	"os"
	"sync"

	"defs"
	"mem"
)

// FileDisk backs a BlockDevice with a regular host file, standing in
// for AHCI DMA the way the teacher's ufs/driver.go ahci_disk_t stood
// in for a real disk in tests and the mkfs image builder.
type FileDisk struct {
	mu   sync.Mutex
	f    *os.File
	size int64
	bsz  int
}

// OpenFileDisk opens (or creates, truncating to nblocks*bsz) a
// host-file-backed disk image.
func OpenFileDisk(path string, bsz int, nblocks int64) (*FileDisk, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	sz := nblocks * int64(bsz)
	if err := f.Truncate(sz); err != nil {
		f.Close()
		return nil, err
	}
	return &FileDisk{f: f, size: sz, bsz: bsz}, nil
}

func (d *FileDisk) BlockSize() int { return d.bsz }

func (d *FileDisk) ValidateBid(n BlockId) bool {
	return n >= 0 && int64(n)*int64(d.bsz) < d.size
}

func (d *FileDisk) LoadPio(bid BlockId) (*mem.Bytepg_t, defs.Err_t) {
	if !d.ValidateBid(bid) {
		return nil, defs.EINVAL.AsErr()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	buf := &mem.Bytepg_t{}
	n, err := d.f.ReadAt(buf[:d.bsz], int64(bid)*int64(d.bsz))
	if err != nil && n == 0 {
		return nil, defs.EIO.AsErr()
	}
	return buf, 0
}

// LoadAsync on FileDisk runs the read on its own goroutine; real DMA
// hardware would instead complete cleanup from an interrupt handler.
func (d *FileDisk) LoadAsync(bid BlockId, cleanup func(*mem.Bytepg_t, defs.Err_t)) {
	go func() {
		data, err := d.LoadPio(bid)
		cleanup(data, err)
	}()
}

func (d *FileDisk) WriteBack(bid BlockId, data *mem.Bytepg_t) defs.Err_t {
	if !d.ValidateBid(bid) {
		return defs.EINVAL.AsErr()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.f.WriteAt(data[:d.bsz], int64(bid)*int64(d.bsz)); err != nil {
		return defs.EIO.AsErr()
	}
	return 0
}

func (d *FileDisk) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.f.Close()
}
