// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

// Package observability serves metrics, health probes and the host's
// mounted HTTP handlers (extension assets, UI endpoints) on one listener.
package observability

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"
)

// ReadinessChecker reports whether the host should receive traffic.
type ReadinessChecker func() bool

// Metrics are the request metrics of mounted routes.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// NewMetrics creates the route metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quire_http_requests_total",
			Help: "Requests served by mounted routes, by route and status code",
		}, []string{"route", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "quire_http_request_duration_seconds",
			Help:    "Time spent serving mounted routes",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
	reg.MustRegister(m.RequestsTotal, m.RequestDuration)
	return m
}

type route struct {
	pattern string
	name    string
	handler http.Handler
}

// Server is the host's single HTTP listener.
type Server struct {
	addr     string
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *Metrics
	ready    ReadinessChecker
	routes   []route

	running  atomic.Bool
	listener net.Listener
	srv      *http.Server
}

// NewServer creates a server for addr ("host:port", port 0 picks a free
// one). Each register func adds collectors to the registry served on
// /metrics, next to the Go and process collectors. A nil ready is always
// ready.
func NewServer(addr string, ready ReadinessChecker, register ...func(prometheus.Registerer)) *Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	for _, fn := range register {
		fn(reg)
	}
	return &Server{
		addr:     addr,
		logger:   slog.Default().With("component", "http"),
		registry: reg,
		metrics:  NewMetrics(reg),
		ready:    ready,
	}
}

// Metrics returns the route metrics.
func (s *Server) Metrics() *Metrics { return s.metrics }

// Registry returns the registry served on /metrics.
func (s *Server) Registry() *prometheus.Registry { return s.registry }

// Handle mounts h at pattern and records its requests under name. Mounts
// added after Start are ignored until the next Start.
func (s *Server) Handle(pattern, name string, h http.Handler) {
	s.routes = append(s.routes, route{pattern: pattern, name: name, handler: h})
}

func (s *Server) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	mux.Handle("/healthz/liveness", probe(nil))
	mux.Handle("/healthz/readiness", probe(s.ready))
	for _, r := range s.routes {
		mux.Handle(r.pattern, s.instrument(r.name, r.handler))
	}
	return mux
}

// Start listens and serves in the background. The returned channel carries
// a fatal serve error and is closed once the server has stopped.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.In("observability").With("addr", s.addr).New("server already started")
	}
	l, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.In("observability").With("addr", s.addr).Wrapf(err, "listen")
	}
	s.listener = l
	s.srv = &http.Server{Handler: s.mux(), ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func(srv *http.Server) {
		defer close(errCh)
		if err := srv.Serve(l); !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server failed", "addr", l.Addr().String(), "error", err)
			errCh <- oops.In("observability").Wrapf(err, "serve")
		}
	}(s.srv)

	s.logger.Info("http server listening", "addr", l.Addr().String(), "routes", len(s.routes))
	return errCh, nil
}

// Stop shuts the server down, waiting for in-flight requests until ctx is
// done. Stopping a server that is not running is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		s.running.Store(true)
		return oops.In("observability").With("addr", s.Addr()).Wrapf(err, "shutdown")
	}
	s.logger.Info("http server stopped")
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// probe answers a health check: 200 "ok" when check is nil or true, 503
// "not ready" otherwise.
func probe(check ReadinessChecker) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		status, body := http.StatusOK, "ok\n"
		if check != nil && !check() {
			status, body = http.StatusServiceUnavailable, "not ready\n"
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	})
}

func (s *Server) instrument(name string, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}
		h.ServeHTTP(sw, req)
		s.metrics.RequestDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		s.metrics.RequestsTotal.WithLabelValues(name, strconv.Itoa(sw.code())).Inc()
	})
}

// statusWriter remembers the first status code written. A hijacked
// connection counts as 101.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) code() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b) //nolint:wrapcheck // passthrough
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, oops.In("observability").New("connection cannot be hijacked")
	}
	if w.status == 0 {
		w.status = http.StatusSwitchingProtocols
	}
	return hj.Hijack() //nolint:wrapcheck // passthrough
}
