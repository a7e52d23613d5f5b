// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

package eventbus

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quire-editor/quire/pkg/errutil"
)

func TestBus_DeliversInSubscriptionOrder(t *testing.T) {
	b := New(nil)
	var got []string
	for _, name := range []string{"a", "b", "c"} {
		b.OnFileSaved(name, func(_ context.Context, e Event) error {
			got = append(got, name+":"+e.Path)
			return nil
		})
	}
	assert.Zero(t, b.EmitFileSaved(context.Background(), "notes/today.md"))
	assert.Equal(t, []string{"a:notes/today.md", "b:notes/today.md", "c:notes/today.md"}, got)
}

func TestBus_TopicsAreIndependent(t *testing.T) {
	b := New(nil)
	saved := 0
	b.OnFileSaved("ext", func(context.Context, Event) error { saved++; return nil })
	b.EmitActiveFileChanged(context.Background(), "a.md")
	b.EmitWorkspaceOpened(context.Background(), "/vault")
	assert.Zero(t, saved)
}

func TestBus_FailuresAreIsolated(t *testing.T) {
	var buf bytes.Buffer
	b := New(slog.New(slog.NewTextHandler(&buf, nil)))
	before := testutil.ToFloat64(HandlerFailures.WithLabelValues(string(VaultChanged)))

	var ran []string
	b.OnVaultChanged("bad-error", func(context.Context, Event) error { return errors.New("nope") })
	b.OnVaultChanged("bad-panic", func(context.Context, Event) error { panic("kaboom") })
	b.OnVaultChanged("good", func(_ context.Context, e Event) error {
		ran = append(ran, string(e.Kind)+":"+e.OldPath+"->"+e.Path)
		return nil
	})

	failed := b.EmitVaultChanged(context.Background(), Rename, "b.md", "a.md")
	assert.Equal(t, 2, failed)
	assert.Equal(t, []string{"rename:a.md->b.md"}, ran)
	assert.Contains(t, buf.String(), "extension=bad-error")
	assert.Contains(t, buf.String(), "extension=bad-panic")
	assert.Contains(t, buf.String(), "kaboom")
	assert.InDelta(t, before+2, testutil.ToFloat64(HandlerFailures.WithLabelValues(string(VaultChanged))), 0.001)
}

func TestBus_NoReplay(t *testing.T) {
	b := New(nil)
	b.EmitWorkspaceOpened(context.Background(), "/first")
	var roots []string
	b.OnWorkspaceOpened("ext", func(_ context.Context, e Event) error {
		roots = append(roots, e.Root)
		return nil
	})
	b.EmitWorkspaceOpened(context.Background(), "/second")
	assert.Equal(t, []string{"/second"}, roots)
}

func TestBus_SubscribeDuringEmitSeesOnlyLaterEvents(t *testing.T) {
	b := New(nil)
	late := 0
	b.OnActiveFileChanged("ext", func(context.Context, Event) error {
		b.OnActiveFileChanged("late", func(context.Context, Event) error { late++; return nil })
		return nil
	})
	b.EmitActiveFileChanged(context.Background(), "a.md")
	assert.Zero(t, late)
	b.EmitActiveFileChanged(context.Background(), "b.md")
	assert.Equal(t, 1, late)
}

func TestBus_DisposeDuringEmitSkipsLaterHandlers(t *testing.T) {
	b := New(nil)
	calls := 0
	var second func()
	b.OnFileSaved("first", func(context.Context, Event) error { second(); return nil })
	second = b.OnFileSaved("second", func(context.Context, Event) error { calls++; return nil })
	b.EmitFileSaved(context.Background(), "a.md")
	assert.Zero(t, calls)
	assert.Equal(t, 1, b.Count(FileSaved))
}

func TestBus_RemoveOwner(t *testing.T) {
	b := New(nil)
	fired := map[string]int{}
	handler := func(owner string) Handler {
		return func(context.Context, Event) error { fired[owner]++; return nil }
	}
	b.OnFileSaved("x", handler("x"))
	b.OnActiveFileChanged("x", handler("x"))
	b.OnFileSaved("y", handler("y"))

	assert.Equal(t, 2, b.RemoveOwner("x"))
	b.EmitFileSaved(context.Background(), "a.md")
	b.EmitActiveFileChanged(context.Background(), "a.md")
	assert.Equal(t, map[string]int{"y": 1}, fired)
}

func TestBus_EventMetadata(t *testing.T) {
	b := New(nil)
	var got Event
	b.OnActiveFileChanged("ext", func(_ context.Context, e Event) error { got = e; return nil })
	b.EmitActiveFileChanged(context.Background(), "a.md")
	assert.NotZero(t, got.ID)
	assert.False(t, got.Time.IsZero())
	assert.Equal(t, ActiveFileChanged, got.Topic)
}

func TestBus_UnknownTopic(t *testing.T) {
	_, err := New(nil).Subscribe("ext", Topic("layout-changed"), func(context.Context, Event) error { return nil })
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, CodeUnknownTopic)
	assert.Len(t, Topics(), 4)
}
