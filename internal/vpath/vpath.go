// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

// Package vpath normalizes logical paths used for extension resources and
// vault files.
//
// A logical path always uses forward slashes, never starts with a slash,
// has no empty or "." segments, and never contains "..". Normalize is
// idempotent: Normalize(Normalize(p)) == Normalize(p).
package vpath

import (
	"strings"

	"github.com/samber/oops"
)

// CodePathInvalid is the oops code for rejected paths.
const CodePathInvalid = "PATH_INVALID"

// Normalize converts p into its canonical logical form.
//
// Backslashes become slashes, leading "./" and "/" are dropped, repeated
// separators collapse, and "." segments are removed. Any ".." segment is
// rejected rather than resolved so that a path can never climb out of its
// namespace, and so is a leading drive or volume segment such as "C:".
func Normalize(p string) (string, error) {
	raw := p
	p = strings.ReplaceAll(p, `\`, "/")

	segments := strings.Split(p, "/")
	out := make([]string, 0, len(segments))
	for _, seg := range segments {
		switch seg {
		case "", ".":
			continue
		case "..":
			return "", oops.Code(CodePathInvalid).
				With("path", raw).
				Errorf("path %q contains a traversal segment", raw)
		}
		if strings.ContainsRune(seg, 0) {
			return "", oops.Code(CodePathInvalid).
				With("path", raw).
				Errorf("path %q contains a NUL byte", raw)
		}
		if len(out) == 0 && isVolume(seg) {
			return "", oops.Code(CodePathInvalid).
				With("path", raw).
				Errorf("path %q names a drive", raw)
		}
		out = append(out, seg)
	}

	if len(out) == 0 {
		return "", oops.Code(CodePathInvalid).
			With("path", raw).
			Errorf("path %q is empty", raw)
	}
	return strings.Join(out, "/"), nil
}

func isVolume(seg string) bool {
	if len(seg) != 2 || seg[1] != ':' {
		return false
	}
	c := seg[0] | 0x20
	return c >= 'a' && c <= 'z'
}

// Ext returns the lower-cased extension of a normalized path including the
// leading dot, or "" when the final segment has none.
func Ext(p string) string {
	base := p
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		base = p[i+1:]
	}
	i := strings.LastIndexByte(base, '.')
	if i <= 0 {
		return ""
	}
	return strings.ToLower(base[i:])
}

// Join joins a normalized directory and name into a normalized path.
func Join(dir, name string) (string, error) {
	if dir == "" {
		return Normalize(name)
	}
	return Normalize(dir + "/" + name)
}
