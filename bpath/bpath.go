// Package bpath canonicalizes paths built from a process's current
// working directory and a user-supplied (possibly relative, possibly
// "."/".."-laden) path, the way fd.Cwd_t.Canonicalpath needs before
// handing a path to vfs path resolution.
package bpath

import "ustr"

// Canonicalize resolves "." and ".." components of an absolute path
// purely lexically (no symlink following — that happens during actual
// vfs lookup) and returns an absolute, slash-separated path with no
// redundant separators.
func Canonicalize(p ustr.Ustr) ustr.Ustr {
	comps := p.Components()
	var stack []ustr.Ustr
	for _, c := range comps {
		switch {
		case c.Isdot():
			continue
		case c.Isdotdot():
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, c)
		}
	}
	ret := ustr.MkUstrRoot()
	if len(stack) == 0 {
		return ret
	}
	full := ustr.Ustr{}
	for _, c := range stack {
		full = append(full, '/')
		full = append(full, c...)
	}
	return full
}
