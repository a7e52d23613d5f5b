// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

// Package eventbus delivers host lifecycle events to subscribers.
package eventbus

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/quire-editor/quire/internal/dispose"
	"github.com/quire-editor/quire/pkg/errutil"
)

// CodeUnknownTopic is returned when subscribing to a topic the bus does
// not carry.
const CodeUnknownTopic = "UNKNOWN_TOPIC"

// Topic names a fixed event stream.
type Topic string

// Topics.
const (
	ActiveFileChanged Topic = "active-file-changed"
	FileSaved         Topic = "file-saved"
	WorkspaceOpened   Topic = "workspace-opened"
	VaultChanged      Topic = "vault-changed"
)

var topics = []Topic{ActiveFileChanged, FileSaved, WorkspaceOpened, VaultChanged}

// Topics returns every topic.
func Topics() []Topic { return slices.Clone(topics) }

// Valid reports whether t is a known topic.
func (t Topic) Valid() bool { return slices.Contains(topics, t) }

// ChangeKind is the kind of a vault-changed event.
type ChangeKind string

// Vault change kinds.
const (
	Create ChangeKind = "create"
	Modify ChangeKind = "modify"
	Rename ChangeKind = "rename"
	Delete ChangeKind = "delete"
)

// Event is one emission. Which fields are set depends on Topic: Path for
// file topics, OldPath and Kind for vault changes, Root for workspace-opened.
type Event struct {
	ID      ulid.ULID
	Topic   Topic
	Time    time.Time
	Path    string
	OldPath string
	Kind    ChangeKind
	Root    string
}

// Handler receives events. A returned error is logged against the
// subscriber's owner.
type Handler func(ctx context.Context, e Event) error

type subscription struct {
	owner  string
	fn     Handler
	active atomic.Bool
}

// Bus is a topic-based publish/subscribe hub. Emit calls every current
// subscriber of the topic synchronously, in subscription order. A failing
// or panicking handler does not stop the others.
type Bus struct {
	logger *slog.Logger

	mu   sync.Mutex
	subs map[Topic][]*subscription
}

// New creates a Bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger, subs: make(map[Topic][]*subscription)}
}

// Subscribe adds h for topic on behalf of owner.
func (b *Bus) Subscribe(owner string, topic Topic, h Handler) (dispose.Func, error) {
	if !topic.Valid() {
		return nil, oops.In("eventbus").Code(CodeUnknownTopic).
			With("topic", string(topic)).
			With("owner", owner).
			Errorf("unknown topic %q", topic)
	}
	s := &subscription{owner: owner, fn: h}
	s.active.Store(true)

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], s)
	b.mu.Unlock()

	return dispose.Once(func() { b.remove(topic, s) }), nil
}

// OnActiveFileChanged subscribes to ActiveFileChanged.
func (b *Bus) OnActiveFileChanged(owner string, h Handler) dispose.Func {
	return b.mustSubscribe(owner, ActiveFileChanged, h)
}

// OnFileSaved subscribes to FileSaved.
func (b *Bus) OnFileSaved(owner string, h Handler) dispose.Func {
	return b.mustSubscribe(owner, FileSaved, h)
}

// OnWorkspaceOpened subscribes to WorkspaceOpened.
func (b *Bus) OnWorkspaceOpened(owner string, h Handler) dispose.Func {
	return b.mustSubscribe(owner, WorkspaceOpened, h)
}

// OnVaultChanged subscribes to VaultChanged.
func (b *Bus) OnVaultChanged(owner string, h Handler) dispose.Func {
	return b.mustSubscribe(owner, VaultChanged, h)
}

func (b *Bus) mustSubscribe(owner string, topic Topic, h Handler) dispose.Func {
	d, err := b.Subscribe(owner, topic, h)
	if err != nil {
		panic(err)
	}
	return d
}

// Emit delivers e to the current subscribers of e.Topic and returns the
// number of handlers that failed. ID and Time are filled in when zero.
// Subscriptions added during the emission do not see it.
func (b *Bus) Emit(ctx context.Context, e Event) int {
	if e.ID == (ulid.ULID{}) {
		e.ID = ulid.Make()
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.Lock()
	subs := slices.Clone(b.subs[e.Topic])
	b.mu.Unlock()

	EventEmissions.WithLabelValues(string(e.Topic)).Inc()
	failed := 0
	for _, s := range subs {
		if !s.active.Load() {
			continue
		}
		if err := b.invoke(ctx, s, e); err != nil {
			failed++
			HandlerFailures.WithLabelValues(string(e.Topic)).Inc()
			errutil.LogWarn(b.logger, "event handler failed", err,
				"extension", s.owner,
				"topic", string(e.Topic),
				"event_id", e.ID.String())
		}
	}
	return failed
}

// EmitActiveFileChanged emits ActiveFileChanged for path.
func (b *Bus) EmitActiveFileChanged(ctx context.Context, path string) int {
	return b.Emit(ctx, Event{Topic: ActiveFileChanged, Path: path})
}

// EmitFileSaved emits FileSaved for path.
func (b *Bus) EmitFileSaved(ctx context.Context, path string) int {
	return b.Emit(ctx, Event{Topic: FileSaved, Path: path})
}

// EmitWorkspaceOpened emits WorkspaceOpened for root.
func (b *Bus) EmitWorkspaceOpened(ctx context.Context, root string) int {
	return b.Emit(ctx, Event{Topic: WorkspaceOpened, Root: root})
}

// EmitVaultChanged emits VaultChanged. oldPath is set for renames.
func (b *Bus) EmitVaultChanged(ctx context.Context, kind ChangeKind, path, oldPath string) int {
	return b.Emit(ctx, Event{Topic: VaultChanged, Kind: kind, Path: path, OldPath: oldPath})
}

func (b *Bus) invoke(ctx context.Context, s *subscription, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = oops.In("eventbus").
				With("topic", string(e.Topic)).
				Errorf("handler panicked: %v", r)
		}
	}()
	return s.fn(ctx, e)
}

// RemoveOwner drops every subscription held by owner and returns how many
// were removed.
func (b *Bus) RemoveOwner(owner string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for topic, subs := range b.subs {
		b.subs[topic] = slices.DeleteFunc(subs, func(s *subscription) bool {
			if s.owner == owner {
				s.active.Store(false)
				n++
				return true
			}
			return false
		})
	}
	return n
}

// Count returns the number of subscribers for topic.
func (b *Bus) Count(topic Topic) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[topic])
}

func (b *Bus) remove(topic Topic, s *subscription) {
	s.active.Store(false)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic] = slices.DeleteFunc(b.subs[topic], func(x *subscription) bool { return x == s })
}
