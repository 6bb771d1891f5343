package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundupRounddown(t *testing.T) {
	assert.Equal(t, 16, Roundup(13, 4))
	assert.Equal(t, 12, Rounddown(13, 4))
	assert.Equal(t, 16, Roundup(16, 4))
}

func TestLog2(t *testing.T) {
	cases := map[uint]uint{1: 0, 2: 1, 3: 1, 4: 2, 1023: 9, 1024: 10}
	for v, want := range cases {
		assert.Equal(t, want, Log2(v), "Log2(%d)", v)
	}
	assert.Equal(t, uint(10), CeilLog2(1024))
	assert.Equal(t, uint(11), CeilLog2(1025))
}

func TestReadWriten(t *testing.T) {
	buf := make([]uint8, 16)
	Writen(buf, 4, 4, 0xdeadbeef)
	assert.Equal(t, int(uint32(0xdeadbeef)), Readn(buf, 4, 4))
}
