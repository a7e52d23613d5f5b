// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

// Package dispose provides handles that reverse a registration or
// subscription.
package dispose

import (
	"maps"
	"slices"
	"sync"
)

// Func reverses one registration. Calling it more than once has no effect
// beyond the first call.
type Func func()

// Once wraps fn so that only the first call runs it.
func Once(fn func()) Func {
	var once sync.Once
	return func() { once.Do(fn) }
}

// Noop is a Func that does nothing.
func Noop() {}

// Stack collects Funcs and runs them last-in first-out.
type Stack struct {
	mu    sync.Mutex
	seq   uint64
	funcs map[uint64]Func
}

// Push adds fn to the stack.
func (s *Stack) Push(fn Func) {
	s.Track(fn)
}

// Track adds fn to the stack and returns a Func that runs fn at most once
// and removes it from the stack, so handles disposed by their owner do not
// accumulate. Whichever of the returned Func and Run comes first runs fn.
func (s *Stack) Track(fn Func) Func {
	if fn == nil {
		return Noop
	}
	s.mu.Lock()
	s.seq++
	id := s.seq
	if s.funcs == nil {
		s.funcs = make(map[uint64]Func)
	}
	s.funcs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		f, ok := s.funcs[id]
		delete(s.funcs, id)
		s.mu.Unlock()
		if ok {
			f()
		}
	}
}

// Len returns the number of pending Funcs.
func (s *Stack) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.funcs)
}

// Run pops and calls every Func, newest first. A panicking Func does not
// stop the rest; the first recovered value is returned.
func (s *Stack) Run() (panicked any) {
	s.mu.Lock()
	funcs := s.funcs
	s.funcs = nil
	s.mu.Unlock()

	for _, id := range slices.Backward(slices.Sorted(maps.Keys(funcs))) {
		func() {
			defer func() {
				if r := recover(); r != nil && panicked == nil {
					panicked = r
				}
			}()
			funcs[id]()
		}()
	}
	return panicked
}
