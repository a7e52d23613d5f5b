// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

// Package uiserver exposes the UI registries, command execution and the
// shortcut dispatcher over HTTP and a websocket change stream.
package uiserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/quire-editor/quire/internal/extension"
	"github.com/quire-editor/quire/internal/registry"
	"github.com/quire-editor/quire/internal/shortcut"
	"github.com/quire-editor/quire/pkg/errutil"
)

// maxBodyBytes bounds POST bodies.
const maxBodyBytes = 64 << 10

// Server serves the UI surface of one host.
type Server struct {
	host     *extension.Host
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu     sync.Mutex
	done   chan struct{}
	closed bool
	conns  sync.WaitGroup
}

// New creates a Server for host. A nil logger uses slog.Default.
func New(host *extension.Host, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		host:   host,
		logger: logger.With("component", "uiserver"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The stream is read-only, so any origin may watch it.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		done: make(chan struct{}),
	}
}

// Register adds the UI routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /ui/stream", s.handleStream)
	mux.HandleFunc("GET /ui/extensions", s.handleExtensions)
	mux.HandleFunc("GET /ui/panels/{id}", s.handlePanel)
	mux.HandleFunc("GET /ui/{registry}", s.handleRegistry)
	mux.HandleFunc("POST /ui/commands/{id}", s.handleExecute)
	mux.HandleFunc("POST /ui/keys", s.handleKeys)
}

// Handler returns a mux serving only the UI routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return mux
}

// Close ends every open stream and waits for them to finish. Hijacked
// websocket connections are not covered by http.Server.Shutdown.
func (s *Server) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	s.mu.Unlock()
	s.conns.Wait()
}

func (s *Server) handleRegistry(w http.ResponseWriter, r *http.Request) {
	v, ok := view(s.host.Registries(), r.PathValue("registry"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleExtensions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.host.Extensions())
}

type panelContent struct {
	ID      string `json:"id"`
	Content any    `json:"content"`
}

// handlePanel returns a panel's rendered content, or its static data when
// it has no render function.
func (s *Server) handlePanel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	p, ok := s.host.Registries().Panels.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, registry.CodeEntryNotFound, "panel not found: "+id)
		return
	}
	if p.Render == nil {
		writeJSON(w, http.StatusOK, panelContent{ID: id, Content: p.Data})
		return
	}
	out, err := p.Render(r.Context())
	if err != nil {
		errutil.Log(r.Context(), s.logger, slog.LevelWarn, "panel render failed", err, "panel", id)
		writeError(w, http.StatusInternalServerError, errutil.Code(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, panelContent{ID: id, Content: out})
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.host.ExecuteCommand(r.Context(), id)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errutil.HasCode(err, extension.CodeCommandNotFound):
		writeError(w, http.StatusNotFound, extension.CodeCommandNotFound, err.Error())
	case errutil.HasCode(err, extension.CodeHostClosed):
		writeError(w, http.StatusServiceUnavailable, extension.CodeHostClosed, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, errutil.Code(err), err.Error())
	}
}

type keysResponse struct {
	shortcut.Result
	Error string `json:"error,omitempty"`
}

// handleKeys runs the dispatcher on one key event. A matched command that
// fails still reports handled.
func (s *Server) handleKeys(w http.ResponseWriter, r *http.Request) {
	var ev shortcut.KeyEvent
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid key event: "+err.Error())
		return
	}
	res, err := s.host.Dispatch(r.Context(), ev)
	out := keysResponse{Result: res}
	if err != nil {
		out.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, out)
}

type errorBody struct {
	Code  string `json:"code,omitempty"`
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Code: code, Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	//nolint:errcheck // client may disconnect
	json.NewEncoder(w).Encode(v)
}
