// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

package uiserver_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quire-editor/quire/internal/extension"
	"github.com/quire-editor/quire/internal/registry"
	"github.com/quire-editor/quire/internal/resource"
	"github.com/quire-editor/quire/internal/store"
	"github.com/quire-editor/quire/internal/uiserver"
)

type fixture struct {
	host   *extension.Host
	native *extension.NativeRuntime
	ui     *uiserver.Server
	srv    *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	backend := store.NewMemoryStore()
	native := extension.NewNativeRuntime()
	host := extension.New(resource.NewRepository(backend), extension.Options{
		Runtimes: []extension.Runtime{native},
		KV:       backend,
	})
	ui := uiserver.New(host, nil)
	srv := httptest.NewServer(ui.Handler())
	t.Cleanup(func() {
		ui.Close()
		srv.Close()
		_ = host.Close(context.Background())
	})
	return &fixture{host: host, native: native, ui: ui, srv: srv}
}

func (f *fixture) install(t *testing.T, id string, perms []string, activate func(context.Context, *extension.Context) error) {
	t.Helper()
	f.native.Register(id, extension.NativeFuncs{OnActivate: activate})
	var b strings.Builder
	fmt.Fprintf(&b, "id: %s\nname: %s\nversion: 1.0.0\ntype: native\npermissions:\n", id, id)
	for _, p := range perms {
		fmt.Fprintf(&b, "  - %q\n", p)
	}
	raw, err := json.Marshal(b.String())
	require.NoError(t, err)
	st, err := f.host.Install(context.Background(), &resource.PackageFile{Manifest: raw})
	require.NoError(t, err)
	require.Equal(t, extension.StateActivated, st.State, st.Error)
}

func (f *fixture) get(t *testing.T, path string, out any) int {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (f *fixture) post(t *testing.T, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	resp, err := http.Post(f.srv.URL+path, "application/json", &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, out.Bytes()
}

func noop(context.Context) error { return nil }

func layoutExtension(_ context.Context, c *extension.Context) error {
	regs := []func() error{
		func() error {
			_, err := c.Sidebar().Register(registry.SidebarItem{ID: "s.top", Title: "Top", Position: registry.SidebarTop})
			return err
		},
		func() error {
			_, err := c.Sidebar().Register(registry.SidebarItem{ID: "s.bottom", Title: "Bottom", Position: registry.SidebarBottom})
			return err
		},
		func() error {
			_, err := c.StatusBar().Register(registry.StatusBarItem{ID: "sb.right", Title: "R", Position: registry.StatusBarRight, Run: noop})
			return err
		},
		func() error {
			_, err := c.Toolbar().Register(registry.ToolbarItem{ID: "t.a", Title: "A", Group: "format", Run: noop})
			return err
		},
		func() error {
			_, err := c.Toolbar().Register(registry.ToolbarItem{ID: "t.b", Title: "B", Run: noop})
			return err
		},
		func() error {
			_, err := c.Toolbar().Register(registry.ToolbarItem{ID: "t.c", Title: "C", Group: "format", Run: noop})
			return err
		},
	}
	for _, r := range regs {
		if err := r(); err != nil {
			return err
		}
	}
	return nil
}

func TestServer_RegistryViews(t *testing.T) {
	f := newFixture(t)
	f.install(t, "demo.layout", []string{"ui:sidebar", "ui:statusbar", "ui:toolbar"}, layoutExtension)

	var sidebar uiserver.SidebarView
	require.Equal(t, http.StatusOK, f.get(t, "/ui/sidebar", &sidebar))
	require.Len(t, sidebar.Top, 1)
	require.Len(t, sidebar.Bottom, 1)
	assert.Equal(t, "s.top", sidebar.Top[0].ID)
	assert.Equal(t, "demo.layout", sidebar.Top[0].Owner)
	assert.Equal(t, "s.bottom", sidebar.Bottom[0].ID)

	var status uiserver.StatusBarView
	require.Equal(t, http.StatusOK, f.get(t, "/ui/statusbar", &status))
	assert.Empty(t, status.Left)
	require.Len(t, status.Right, 1)
	assert.True(t, status.Right[0].Clickable)

	var toolbar uiserver.ToolbarView
	require.Equal(t, http.StatusOK, f.get(t, "/ui/toolbar", &toolbar))
	require.Len(t, toolbar.Groups, 2)
	assert.Equal(t, "format", toolbar.Groups[0].Name)
	assert.Equal(t, []string{"t.a", "t.c"}, []string{toolbar.Groups[0].Items[0].ID, toolbar.Groups[0].Items[1].ID})
	assert.Equal(t, registry.DefaultToolbarGroup, toolbar.Groups[1].Name)
	assert.Equal(t, uint64(3), toolbar.Version)

	assert.Equal(t, http.StatusNotFound, f.get(t, "/ui/nonsense", nil))
}

func TestServer_ExecuteCommandAndRecent(t *testing.T) {
	f := newFixture(t)
	ran := make(chan string, 4)
	f.install(t, "demo.cmds", []string{"ui:commands"}, func(_ context.Context, c *extension.Context) error {
		for _, id := range []string{"demo.cmds.one", "demo.cmds.two"} {
			if _, err := c.Commands().Register(registry.Command{
				ID:    id,
				Title: id,
				Run: func(context.Context) error {
					ran <- id
					return nil
				},
			}); err != nil {
				return err
			}
		}
		_, err := c.Commands().Register(registry.Command{
			ID:    "demo.cmds.fail",
			Title: "Fail",
			Run:   func(context.Context) error { return errors.New("boom") },
		})
		return err
	})

	resp, _ := f.post(t, "/ui/commands/demo.cmds.two", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = f.post(t, "/ui/commands/demo.cmds.one", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "demo.cmds.two", <-ran)
	assert.Equal(t, "demo.cmds.one", <-ran)

	var cmds uiserver.CommandsView
	require.Equal(t, http.StatusOK, f.get(t, "/ui/commands", &cmds))
	assert.Len(t, cmds.Items, 3)
	assert.Equal(t, []string{"demo.cmds.one", "demo.cmds.two"}, cmds.Recent)

	resp, body := f.post(t, "/ui/commands/demo.missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(body), extension.CodeCommandNotFound)

	resp, body = f.post(t, "/ui/commands/demo.cmds.fail", nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, string(body), "boom")
}

func TestServer_Keys(t *testing.T) {
	f := newFixture(t)
	ran := make(chan struct{}, 1)
	f.install(t, "demo.keys", []string{"ui:commands"}, func(_ context.Context, c *extension.Context) error {
		_, err := c.Commands().Register(registry.Command{
			ID:       "demo.keys.save",
			Title:    "Save",
			Shortcut: "Ctrl+S",
			Run: func(context.Context) error {
				ran <- struct{}{}
				return nil
			},
		})
		return err
	})

	type result struct {
		Handled bool   `json:"handled"`
		Command string `json:"command"`
	}

	resp, body := f.post(t, "/ui/keys", map[string]any{"key": "s", "ctrl": true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res result
	require.NoError(t, json.Unmarshal(body, &res))
	assert.True(t, res.Handled)
	assert.Equal(t, "demo.keys.save", res.Command)
	<-ran

	resp, body = f.post(t, "/ui/keys", map[string]any{"key": "x"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res = result{}
	require.NoError(t, json.Unmarshal(body, &res))
	assert.False(t, res.Handled)

	resp, err := http.Post(f.srv.URL+"/ui/keys", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_PanelsAndExtensions(t *testing.T) {
	f := newFixture(t)
	f.install(t, "demo.panels", []string{"ui:panels"}, func(_ context.Context, c *extension.Context) error {
		if _, err := c.Panels().Register(registry.Panel{
			ID: "p.static", Title: "Static", Position: registry.PanelLeft, Data: map[string]any{"n": 1},
		}); err != nil {
			return err
		}
		_, err := c.Panels().Register(registry.Panel{
			ID: "p.live", Title: "Live", Position: registry.PanelRight,
			Render: func(context.Context) (any, error) { return "rendered", nil },
		})
		return err
	})

	var panels uiserver.PanelsView
	require.Equal(t, http.StatusOK, f.get(t, "/ui/panels", &panels))
	require.Len(t, panels.Left, 1)
	require.Len(t, panels.Right, 1)
	assert.True(t, panels.Right[0].Dynamic)

	var content struct {
		ID      string `json:"id"`
		Content any    `json:"content"`
	}
	require.Equal(t, http.StatusOK, f.get(t, "/ui/panels/p.live", &content))
	assert.Equal(t, "rendered", content.Content)
	require.Equal(t, http.StatusOK, f.get(t, "/ui/panels/p.static", &content))
	assert.Equal(t, map[string]any{"n": float64(1)}, content.Content)
	assert.Equal(t, http.StatusNotFound, f.get(t, "/ui/panels/p.nope", nil))

	var exts []extension.Status
	require.Equal(t, http.StatusOK, f.get(t, "/ui/extensions", &exts))
	require.Len(t, exts, 1)
	assert.Equal(t, "demo.panels", exts[0].ID)
	assert.Equal(t, extension.StateActivated, exts[0].State)
}

func TestServer_Stream(t *testing.T) {
	f := newFixture(t)
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ui/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	read := func() uiserver.Message {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var m uiserver.Message
		require.NoError(t, conn.ReadJSON(&m))
		return m
	}

	seen := map[string]bool{}
	for range 5 {
		m := read()
		assert.Equal(t, uiserver.MessageSnapshot, m.Type)
		seen[m.Registry] = true
	}
	assert.Len(t, seen, 5)

	f.install(t, "demo.live", []string{"ui:statusbar"}, func(_ context.Context, c *extension.Context) error {
		_, err := c.StatusBar().Register(registry.StatusBarItem{ID: "live.item", Title: "hi", Position: registry.StatusBarLeft})
		return err
	})

	m := read()
	assert.Equal(t, uiserver.MessageChange, m.Type)
	assert.Equal(t, uiserver.RegistryStatusBar, m.Registry)
	assert.Equal(t, "added", m.Kind)
	assert.Equal(t, "live.item", m.ID)
	assert.Equal(t, "demo.live", m.Owner)

	require.NoError(t, f.host.Disable(context.Background(), "demo.live"))
	m = read()
	assert.Equal(t, "removed", m.Kind)
	view, ok := m.View.(map[string]any)
	require.True(t, ok)
	assert.Empty(t, view["left"])

	f.ui.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseGoingAway, closeErr.Code)
}
