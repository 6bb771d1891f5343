package bpath

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"ustr"
)

func TestCanonicalize(t *testing.T) {
	cases := map[string]string{
		"/a/b/../c": "/a/c",
		"/a/./b/":   "/a/b",
		"/../../a":  "/a",
		"/":         "/",
		"/a/b/c":    "/a/b/c",
	}
	for in, want := range cases {
		got := Canonicalize(ustr.Ustr(in)).String()
		assert.Equal(t, want, got, "Canonicalize(%q)", in)
	}
}
