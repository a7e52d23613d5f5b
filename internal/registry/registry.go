// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

// Package registry holds the observable, id-keyed collections behind the
// host UI surfaces: commands, panels, sidebar, status bar and toolbar.
package registry

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/samber/oops"

	"github.com/quire-editor/quire/internal/dispose"
)

// Error codes.
const (
	CodeDuplicateRegistration = "DUPLICATE_REGISTRATION"
	CodeInvalidEntry          = "INVALID_ENTRY"
	CodeEntryNotFound         = "ENTRY_NOT_FOUND"
)

// Entry is an item that can be stored in a Registry.
type Entry interface {
	EntryID() string
	EntryOwner() string
	Validate() error
}

// ChangeKind tags a registry mutation.
type ChangeKind int

// Change kinds.
const (
	Added ChangeKind = iota + 1
	Replaced
	Updated
	Removed
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Replaced:
		return "replaced"
	case Updated:
		return "updated"
	case Removed:
		return "removed"
	}
	return "unknown"
}

// Snapshot is the ordered contents of a registry at one version.
type Snapshot[T Entry] struct {
	Version uint64
	Items   []T
}

// Change describes one mutation and the snapshot that resulted from it.
type Change[T Entry] struct {
	Kind     ChangeKind
	ID       string
	Owner    string
	Snapshot Snapshot[T]
}

// Observer is notified of every mutation.
type Observer[T Entry] func(Change[T])

type slot[T Entry] struct {
	item T
	gen  uint64
}

type observer[T Entry] struct {
	fn     Observer[T]
	since  uint64
	active bool
}

// Registry is an ordered, id-keyed collection. Registering an id that
// already exists replaces the entry in place and logs a warning.
//
// Observers are called outside the registry lock, one change at a time, in
// mutation order. An observer may mutate the registry; the resulting
// change is delivered after the current one finishes.
type Registry[T Entry] struct {
	name   string
	logger *slog.Logger

	mu        sync.Mutex
	items     []slot[T]
	version   uint64
	gen       uint64
	observers []*observer[T]

	queueMu  sync.Mutex
	queue    []Change[T]
	draining bool
}

// New creates an empty registry. name is used in log lines and errors.
func New[T Entry](name string, logger *slog.Logger) *Registry[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry[T]{name: name, logger: logger.With("registry", name)}
}

// Name returns the registry name.
func (r *Registry[T]) Name() string { return r.name }

// Register inserts item or replaces the entry with the same id. The
// returned Func removes this registration; it is a no-op once the entry
// has been replaced or removed by someone else.
func (r *Registry[T]) Register(item T) (dispose.Func, error) {
	if err := item.Validate(); err != nil {
		return nil, oops.In("registry").Code(CodeInvalidEntry).
			With("registry", r.name).
			With("id", item.EntryID()).
			Wrap(err)
	}

	r.mu.Lock()
	r.gen++
	gen := r.gen
	id := item.EntryID()
	kind := Added
	if i := r.indexLocked(id); i >= 0 {
		prev := r.items[i].item
		r.logger.Warn("duplicate registration replaces existing entry",
			"code", CodeDuplicateRegistration,
			"id", id,
			"previous_owner", prev.EntryOwner(),
			"owner", item.EntryOwner())
		r.items[i] = slot[T]{item: item, gen: gen}
		kind = Replaced
	} else {
		r.items = append(r.items, slot[T]{item: item, gen: gen})
	}
	r.commitLocked(kind, id, item.EntryOwner())

	return dispose.Once(func() { r.removeGen(id, gen) }), nil
}

// Update replaces the entry with the given id using fn. fn receives the
// current entry and returns the new one; its id must not change. fn runs
// under the registry lock and must not call back into the registry.
func (r *Registry[T]) Update(id string, fn func(T) (T, error)) error {
	r.mu.Lock()
	i := r.indexLocked(id)
	if i < 0 {
		r.mu.Unlock()
		return oops.In("registry").Code(CodeEntryNotFound).
			With("registry", r.name).
			With("id", id).
			Errorf("%s %q is not registered", r.name, id)
	}
	next, err := fn(r.items[i].item)
	if err == nil && next.EntryID() != id {
		err = oops.In("registry").Errorf("update may not change id %q to %q", id, next.EntryID())
	}
	if err != nil {
		r.mu.Unlock()
		return err
	}
	r.items[i].item = next
	r.commitLocked(Updated, id, next.EntryOwner())
	return nil
}

// Remove deletes the entry with id regardless of who registered it.
func (r *Registry[T]) Remove(id string) bool {
	r.mu.Lock()
	i := r.indexLocked(id)
	if i < 0 {
		r.mu.Unlock()
		return false
	}
	owner := r.items[i].item.EntryOwner()
	r.items = slices.Delete(r.items, i, i+1)
	r.commitLocked(Removed, id, owner)
	return true
}

// RemoveOwner deletes every entry registered by owner and returns how many
// were removed.
func (r *Registry[T]) RemoveOwner(owner string) int {
	var ids []string
	r.mu.Lock()
	for _, s := range r.items {
		if s.item.EntryOwner() == owner {
			ids = append(ids, s.item.EntryID())
		}
	}
	r.mu.Unlock()

	n := 0
	for _, id := range ids {
		r.mu.Lock()
		i := r.indexLocked(id)
		if i < 0 || r.items[i].item.EntryOwner() != owner {
			r.mu.Unlock()
			continue
		}
		r.items = slices.Delete(r.items, i, i+1)
		r.commitLocked(Removed, id, owner)
		n++
	}
	return n
}

// Get returns the entry with id.
func (r *Registry[T]) Get(id string) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := r.indexLocked(id); i >= 0 {
		return r.items[i].item, true
	}
	var zero T
	return zero, false
}

// List returns the entries in registration order.
func (r *Registry[T]) List() []T {
	return r.Snapshot().Items
}

// Len returns the number of entries.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// Snapshot returns the current contents and version.
func (r *Registry[T]) Snapshot() Snapshot[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Subscribe registers fn for every later mutation.
func (r *Registry[T]) Subscribe(fn Observer[T]) dispose.Func {
	r.mu.Lock()
	o := &observer[T]{fn: fn, since: r.version, active: true}
	r.observers = append(r.observers, o)
	r.mu.Unlock()
	return dispose.Once(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		o.active = false
		r.observers = slices.DeleteFunc(r.observers, func(x *observer[T]) bool { return x == o })
	})
}

func (r *Registry[T]) removeGen(id string, gen uint64) {
	r.mu.Lock()
	i := r.indexLocked(id)
	if i < 0 || r.items[i].gen != gen {
		r.mu.Unlock()
		return
	}
	owner := r.items[i].item.EntryOwner()
	r.items = slices.Delete(r.items, i, i+1)
	r.commitLocked(Removed, id, owner)
}

func (r *Registry[T]) indexLocked(id string) int {
	return slices.IndexFunc(r.items, func(s slot[T]) bool { return s.item.EntryID() == id })
}

func (r *Registry[T]) snapshotLocked() Snapshot[T] {
	items := make([]T, len(r.items))
	for i, s := range r.items {
		items[i] = s.item
	}
	return Snapshot[T]{Version: r.version, Items: items}
}

// commitLocked bumps the version, queues the change, releases r.mu and
// delivers pending changes.
func (r *Registry[T]) commitLocked(kind ChangeKind, id, owner string) {
	r.version++
	hasObservers := len(r.observers) > 0
	var change Change[T]
	if hasObservers {
		change = Change[T]{Kind: kind, ID: id, Owner: owner, Snapshot: r.snapshotLocked()}
		r.queueMu.Lock()
		r.queue = append(r.queue, change)
		r.queueMu.Unlock()
	}
	r.mu.Unlock()
	if hasObservers {
		r.drain()
	}
}

// drain delivers queued changes. Only one caller drains at a time; a
// mutation made while draining (including from an observer) is picked up
// by the active drainer.
func (r *Registry[T]) drain() {
	r.queueMu.Lock()
	if r.draining {
		r.queueMu.Unlock()
		return
	}
	r.draining = true
	for len(r.queue) > 0 {
		change := r.queue[0]
		r.queue = r.queue[1:]
		r.queueMu.Unlock()

		r.mu.Lock()
		observers := slices.Clone(r.observers)
		r.mu.Unlock()
		for _, o := range observers {
			r.notify(o, change)
		}

		r.queueMu.Lock()
	}
	r.draining = false
	r.queueMu.Unlock()
}

func (r *Registry[T]) notify(o *observer[T], change Change[T]) {
	r.mu.Lock()
	active := o.active
	r.mu.Unlock()
	if !active || change.Snapshot.Version <= o.since {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("registry observer panicked", "id", change.ID, "kind", change.Kind.String(), "panic", p)
		}
	}()
	o.fn(change)
}
