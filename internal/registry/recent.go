// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

package registry

import (
	"slices"
	"sync"
)

// DefaultRecentLimit is the number of recently used commands kept.
const DefaultRecentLimit = 10

// Recent tracks recently used command ids, most recent first.
type Recent struct {
	mu    sync.Mutex
	limit int
	ids   []string
}

// NewRecent creates a Recent list holding at most limit ids.
func NewRecent(limit int) *Recent {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	return &Recent{limit: limit}
}

// Touch moves id to the front.
func (r *Recent) Touch(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = slices.DeleteFunc(r.ids, func(s string) bool { return s == id })
	r.ids = slices.Insert(r.ids, 0, id)
	if len(r.ids) > r.limit {
		r.ids = r.ids[:r.limit]
	}
}

// Forget drops id.
func (r *Recent) Forget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = slices.DeleteFunc(r.ids, func(s string) bool { return s == id })
}

// List returns the ids, most recent first.
func (r *Recent) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.ids)
}
