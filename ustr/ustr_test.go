package ustr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComponents(t *testing.T) {
	got := Ustr("/a//b/c/").Components()
	var want []Ustr
	for _, s := range []string{"a", "b", "c"} {
		want = append(want, Ustr(s))
	}
	assert.Len(t, got, len(want))
	for i := range got {
		assert.Equal(t, []byte(want[i]), []byte(got[i]), "component %d", i)
	}
}

func TestDotHelpers(t *testing.T) {
	assert.True(t, MkUstrDot().Isdot())
	assert.True(t, DotDot.Isdotdot())
	assert.True(t, MkUstrRoot().IsAbsolute())
}
