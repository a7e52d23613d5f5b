// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

package uiserver

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quire-editor/quire/internal/dispose"
	"github.com/quire-editor/quire/internal/registry"
)

// Stream message types.
const (
	MessageSnapshot = "snapshot"
	MessageChange   = "change"
)

const (
	sendBuffer   = 64
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 50 * time.Second
)

// Message is one stream frame. View carries the registry's full view at
// Version, so clients never apply diffs.
type Message struct {
	Type     string `json:"type"`
	Registry string `json:"registry"`
	Kind     string `json:"kind,omitempty"`
	ID       string `json:"id,omitempty"`
	Owner    string `json:"owner,omitempty"`
	Version  uint64 `json:"version"`
	View     any    `json:"view"`
}

// handleStream upgrades to a websocket, sends a snapshot of every
// registry, then one message per change until either side hangs up.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}
	s.conns.Add(1)
	s.mu.Unlock()
	defer s.conns.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("stream upgrade failed", "error", err)
		return
	}

	send := make(chan Message, sendBuffer)
	overflow := make(chan struct{})
	overflowOnce := dispose.Once(func() { close(overflow) })
	push := func(m Message) {
		select {
		case send <- m:
		default:
			overflowOnce()
		}
	}

	var subs dispose.Stack
	defer subs.Run()
	regs := s.host.Registries()
	subs.Push(subscribe(regs.Commands, RegistryCommands, push, func(snap registry.Snapshot[registry.Command]) any {
		return commandsView(snap, regs.Recent.List())
	}))
	subs.Push(subscribe(regs.Panels, RegistryPanels, push, func(snap registry.Snapshot[registry.Panel]) any {
		return panelsView(snap)
	}))
	subs.Push(subscribe(regs.Sidebar, RegistrySidebar, push, func(snap registry.Snapshot[registry.SidebarItem]) any {
		return sidebarView(snap)
	}))
	subs.Push(subscribe(regs.StatusBar, RegistryStatusBar, push, func(snap registry.Snapshot[registry.StatusBarItem]) any {
		return statusBarView(snap)
	}))
	subs.Push(subscribe(regs.Toolbar, RegistryToolbar, push, func(snap registry.Snapshot[registry.ToolbarItem]) any {
		return toolbarView(snap)
	}))

	// Snapshots are taken after subscribing so no change is lost; changes
	// already covered by a snapshot are skipped by version below.
	initial := []Message{
		snapshotMessage(RegistryCommands, commandsView(regs.Commands.Snapshot(), regs.Recent.List())),
		snapshotMessage(RegistryPanels, panelsView(regs.Panels.Snapshot())),
		snapshotMessage(RegistrySidebar, sidebarView(regs.Sidebar.Snapshot())),
		snapshotMessage(RegistryStatusBar, statusBarView(regs.StatusBar.Snapshot())),
		snapshotMessage(RegistryToolbar, toolbarView(regs.Toolbar.Snapshot())),
	}

	closed := make(chan struct{})
	go s.readPump(conn, closed)
	defer func() {
		_ = conn.Close()
		<-closed
	}()

	sent := make(map[string]uint64, len(initial))
	for _, m := range initial {
		if err := s.write(conn, m); err != nil {
			return
		}
		sent[m.Registry] = m.Version
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case m := <-send:
			if m.Version <= sent[m.Registry] {
				continue
			}
			if err := s.write(conn, m); err != nil {
				return
			}
			sent[m.Registry] = m.Version
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-overflow:
			s.logger.Warn("stream client too slow, closing")
			s.closeWith(conn, websocket.ClosePolicyViolation, "client too slow")
			return
		case <-closed:
			return
		case <-s.done:
			s.closeWith(conn, websocket.CloseGoingAway, "server shutting down")
			return
		}
	}
}

// readPump discards client frames, keeps the read deadline fresh on pongs
// and closes closed when the connection ends.
func (s *Server) readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("stream read ended", "error", err)
			}
			return
		}
	}
}

func (s *Server) write(conn *websocket.Conn, m Message) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(m); err != nil {
		s.logger.Debug("stream write failed", "error", err)
		return err
	}
	return nil
}

func (s *Server) closeWith(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
}

func subscribe[T registry.Entry](reg *registry.Registry[T], name string, push func(Message), render func(registry.Snapshot[T]) any) dispose.Func {
	return reg.Subscribe(func(c registry.Change[T]) {
		push(Message{
			Type:     MessageChange,
			Registry: name,
			Kind:     c.Kind.String(),
			ID:       c.ID,
			Owner:    c.Owner,
			Version:  c.Snapshot.Version,
			View:     render(c.Snapshot),
		})
	})
}

func snapshotMessage(name string, v any) Message {
	var version uint64
	switch t := v.(type) {
	case CommandsView:
		version = t.Version
	case PanelsView:
		version = t.Version
	case SidebarView:
		version = t.Version
	case StatusBarView:
		version = t.Version
	case ToolbarView:
		version = t.Version
	}
	return Message{Type: MessageSnapshot, Registry: name, Version: version, View: v}
}
