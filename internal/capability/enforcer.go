// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

// Package capability decides which declared capabilities an extension is
// actually granted.
//
// Host policy is a list of glob patterns per extension, matched with
// gobwas/glob using ':' as the segment separator:
//   - "file:read" matches only file:read
//   - "ui:*" matches every ui capability
//   - "**" matches everything
//
// A capability is usable only when the manifest declares it AND a policy
// pattern grants it.
package capability

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/gobwas/glob"

	"github.com/quire-editor/quire/internal/manifest"
)

type compiledGrant struct {
	pattern string
	glob    glob.Glob
}

// grantSet is the effective state for one extension.
type grantSet struct {
	declared []manifest.Capability
	grants   []compiledGrant
}

// Enforcer checks extension capabilities at runtime. The zero value is
// ready to use and it is safe for concurrent use.
type Enforcer struct {
	exts map[string]grantSet
	mu   sync.RWMutex
}

// NewEnforcer creates a capability enforcer.
func NewEnforcer() *Enforcer {
	return &Enforcer{exts: make(map[string]grantSet)}
}

func compile(patterns []string) ([]compiledGrant, error) {
	compiled := make([]compiledGrant, len(patterns))
	for i, pattern := range patterns {
		if pattern == "" {
			return nil, fmt.Errorf("grant %d: empty pattern", i)
		}
		if err := checkBrackets(pattern); err != nil {
			return nil, fmt.Errorf("grant %d (%q): %w", i, pattern, err)
		}
		g, err := glob.Compile(pattern, ':')
		if err != nil {
			return nil, fmt.Errorf("grant %d (%q): %w", i, pattern, err)
		}
		compiled[i] = compiledGrant{pattern: pattern, glob: g}
	}
	return compiled, nil
}

// checkBrackets rejects unbalanced {} and [] groups, which gobwas/glob
// would otherwise compile as literal text or an open-ended alternation.
func checkBrackets(pattern string) error {
	var stack []byte
	for i := 0; i < len(pattern); i++ {
		switch c := pattern[i]; c {
		case '\\':
			i++
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			want := byte('{')
			if c == ']' {
				want = '['
			}
			if len(stack) == 0 || stack[len(stack)-1] != want {
				return fmt.Errorf("unmatched %q at offset %d", c, i)
			}
			stack = stack[:len(stack)-1]
		}
	}
	if len(stack) > 0 {
		return fmt.Errorf("unclosed %q", stack[len(stack)-1])
	}
	return nil
}

// SetGrants records the declared capabilities and policy patterns for an
// extension, replacing any previous state. On error nothing changes.
func (e *Enforcer) SetGrants(ext string, declared []manifest.Capability, patterns []string) error {
	if ext == "" {
		return errors.New("extension id cannot be empty")
	}
	compiled, err := compile(patterns)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.exts == nil {
		e.exts = make(map[string]grantSet)
	}
	e.exts[ext] = grantSet{declared: slices.Clone(declared), grants: compiled}
	return nil
}

// RemoveGrants forgets an extension. Unknown ids are ignored.
func (e *Enforcer) RemoveGrants(ext string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.exts, ext)
}

// IsRegistered distinguishes "unknown extension" from "capability missing".
func (e *Enforcer) IsRegistered(ext string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.exts[ext]
	return ok
}

// Check reports whether ext may use c. Unknown extensions, undeclared
// capabilities and capabilities outside policy are all denied.
func (e *Enforcer) Check(ext string, c manifest.Capability) bool {
	if c == "" {
		return false
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	gs, ok := e.exts[ext]
	if !ok || !slices.Contains(gs.declared, c) {
		return false
	}
	for _, g := range gs.grants {
		if g.glob.Match(string(c)) {
			return true
		}
	}
	return false
}

// Effective returns the capabilities ext can actually use, in declaration
// order.
func (e *Enforcer) Effective(ext string) []manifest.Capability {
	e.mu.RLock()
	gs, ok := e.exts[ext]
	e.mu.RUnlock()
	if !ok {
		return nil
	}

	out := make([]manifest.Capability, 0, len(gs.declared))
	for _, c := range gs.declared {
		if e.Check(ext, c) {
			out = append(out, c)
		}
	}
	return out
}
