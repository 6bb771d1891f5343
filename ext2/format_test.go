package ext2

import (
	"testing"

	"github.com/kylelemons/godebug/pretty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"block"
	"mem"
	"uas"
)

type countingMem struct{}

func (countingMem) Alloc() (mem.Pa_t, *mem.Bytepg_t, bool) { return 0, &mem.Bytepg_t{}, true }
func (countingMem) Free(mem.Pa_t)                          {}
func (countingMem) Refup(mem.Pa_t)                         {}

func TestFormatProducesMountableImage(t *testing.T) {
	path := t.TempDir() + "/image.ext2"
	disk, err := block.OpenFileDisk(path, 1024, 64)
	require.NoError(t, err)
	defer disk.Close()

	rc := Format(disk, FormatParams{BlockSize: 1024, BlocksCount: 64, InodesCount: 32})
	require.Zero(t, int(rc))

	fs, rc := Mount(disk, countingMem{}, 8)
	require.Zero(t, int(rc))

	wantSb := &superblock_t{
		InodesCount:     32,
		BlocksCount:     64,
		FirstDataBlock:  1,
		BlocksPerGroup:  64,
		InodesPerGroup:  32,
		Magic:           magicExt2,
		State:           stateError,
		RevLevel:        1,
		FirstIno:        11,
		InodeSize:       inodeSize,
	}
	gotSb := &superblock_t{
		InodesCount:    fs.sb.InodesCount,
		BlocksCount:    fs.sb.BlocksCount,
		FirstDataBlock: fs.sb.FirstDataBlock,
		BlocksPerGroup: fs.sb.BlocksPerGroup,
		InodesPerGroup: fs.sb.InodesPerGroup,
		Magic:          fs.sb.Magic,
		State:          fs.sb.State,
		RevLevel:       fs.sb.RevLevel,
		FirstIno:       fs.sb.FirstIno,
		InodeSize:      fs.sb.InodeSize,
	}
	if diff := pretty.Compare(wantSb, gotSb); diff != "" {
		t.Fatalf("superblock mismatch (-want +got):\n%s", diff)
	}

	root := fs.Root()
	ents, rc := root.Readdir()
	require.Zero(t, int(rc))
	names := map[string]bool{}
	for _, e := range ents {
		names[e.Name] = true
	}
	assert.True(t, names["."])
	assert.True(t, names[".."])
}

func TestFormatThenCreateRoundTrips(t *testing.T) {
	path := t.TempDir() + "/image.ext2"
	disk, err := block.OpenFileDisk(path, 1024, 128)
	require.NoError(t, err)
	defer disk.Close()

	require.Zero(t, int(Format(disk, FormatParams{BlockSize: 1024, BlocksCount: 128, InodesCount: 64})))

	fs, rc := Mount(disk, countingMem{}, 8)
	require.Zero(t, int(rc))

	child, rc := fs.Root().Create("hello", 0, 0644) // vfs.Regular == 0
	require.Zero(t, int(rc))

	h, rc := child.Open(0)
	require.Zero(t, int(rc))
	var wb uas.Fakeubuf_t
	wb.Fake_init([]uint8("hi there"))
	n, rc := h.Write(&wb)
	require.Zero(t, int(rc))
	assert.Equal(t, 8, n)

	looked, rc := fs.Root().Lookup("hello")
	require.Zero(t, int(rc))
	assert.Equal(t, child.Key(), looked.Key())
	assert.EqualValues(t, 8, looked.Size())
}

func TestFormatRejectsOversizedBlockGroup(t *testing.T) {
	path := t.TempDir() + "/image.ext2"
	disk, err := block.OpenFileDisk(path, 1024, 20000)
	require.NoError(t, err)
	defer disk.Close()

	rc := Format(disk, FormatParams{BlockSize: 1024, BlocksCount: 20000, InodesCount: 32})
	assert.NotZero(t, int(rc))
}
