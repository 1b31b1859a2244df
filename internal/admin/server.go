// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ariesd Contributors

// Package admin serves the agent's HTTP admin surface: health probes,
// metrics, the plugin listing and every route contributed by plugins.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"

	"github.com/ariesgo/agent/internal/plugin"
	"github.com/ariesgo/agent/pkg/errutil"
)

// Source is the agent state the admin server reads. *agent.Context
// implements it.
type Source interface {
	// RegisterAdminRoutes collects plugin routes into rc.
	RegisterAdminRoutes(ctx context.Context, rc *plugin.RouteCollector) error
	// Plugins returns the plugin registry.
	Plugins() *plugin.Registry
}

// ReadinessChecker returns whether the agent is ready to serve.
type ReadinessChecker func() bool

// Option configures the Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithReadiness sets the readiness probe. Without one the server always
// reports ready.
func WithReadiness(fn ReadinessChecker) Option {
	return func(s *Server) {
		s.isReady = fn
	}
}

// Server is the admin HTTP server.
//
// Plugin routes are collected on every request that no built-in endpoint
// matches, from a fresh collector, so a failing plugin only fails the
// request that triggered the pass.
type Server struct {
	addr       string
	source     Source
	listener   net.Listener
	httpServer *http.Server
	registry   *prometheus.Registry
	metrics    *Metrics
	isReady    ReadinessChecker
	logger     *slog.Logger
	handler    http.Handler
	running    atomic.Bool
}

// NewServer creates an admin server listening on addr ("host:port"; port 0
// picks a free port) that serves routes from source.
func NewServer(addr string, source Source, opts ...Option) *Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	s := &Server{
		addr:     addr,
		source:   source,
		registry: registry,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.metrics = NewMetrics(registry, func() int { return source.Plugins().Len() })
	s.handler = s.routes()
	return s
}

// Metrics returns the admin metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Handler returns the admin HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})).Methods(http.MethodGet)
	r.HandleFunc("/healthz/liveness", s.handleLiveness).Methods(http.MethodGet)
	r.HandleFunc("/healthz/readiness", s.handleReadiness).Methods(http.MethodGet)
	r.HandleFunc("/plugins", s.handlePlugins).Methods(http.MethodGet)
	r.NotFoundHandler = http.HandlerFunc(s.servePluginRoute)
	r.MethodNotAllowedHandler = http.HandlerFunc(s.servePluginRoute)
	return r
}

// Start begins serving. The returned channel receives a serve error, if
// any, and is closed when the server stops.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("admin server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	httpSrv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("admin server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	s.logger.Info("admin server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.running.Store(true)
			return oops.With("operation", "shutdown_admin_server").Wrap(err)
		}
	}

	s.logger.Info("admin server stopped")
	return nil
}

// Addr returns the listening address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// servePluginRoute runs one route-setup pass and dispatches the request to
// the matching plugin route.
func (s *Server) servePluginRoute(w http.ResponseWriter, r *http.Request) {
	passID := ulid.Make().String()
	logger := s.logger.With("pass_id", passID)

	rc := plugin.NewRouteCollector()
	if err := s.source.RegisterAdminRoutes(r.Context(), rc); err != nil {
		owner, _ := errutil.ContextValue(err, "plugin")
		label, _ := owner.(string)
		s.metrics.RouteSetupFailures.WithLabelValues(label).Inc()
		errutil.LogError(logger, "admin route setup failed", err)
		http.Error(w, "admin route setup failed", http.StatusInternalServerError)
		return
	}
	s.metrics.RoutesContributed.Set(float64(rc.Len()))

	router := mux.NewRouter()
	for _, route := range rc.Routes() {
		router.Handle(route.Path, route.Handler).Methods(route.Method)
	}

	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	router.ServeHTTP(rec, r)
	s.metrics.RequestsTotal.WithLabelValues(strconv.Itoa(rec.status/100) + "xx").Inc()

	logger.Debug("admin request routed",
		"method", r.Method,
		"path", r.URL.Path,
		"routes", rc.Len(),
		"status", rec.status)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// pluginInfo is one entry of the GET /plugins listing.
type pluginInfo struct {
	ID           string   `json:"id"`
	Kind         string   `json:"kind"`
	Capabilities []string `json:"capabilities"`
	Parent       string   `json:"parent,omitempty"`
}

func (s *Server) handlePlugins(w http.ResponseWriter, _ *http.Request) {
	descriptors := s.source.Plugins().Descriptors()
	out := make([]pluginInfo, 0, len(descriptors))
	for _, d := range descriptors {
		caps := make([]string, 0, len(d.Capabilities()))
		for _, c := range d.Capabilities() {
			caps = append(caps, string(c))
		}
		out = append(out, pluginInfo{
			ID:           d.ID(),
			Kind:         d.Kind().String(),
			Capabilities: caps,
			Parent:       d.Parent(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"plugins": out}); err != nil {
		s.logger.Warn("failed to write plugin listing", "error", err)
	}
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // client may disconnect
	w.Write([]byte("ok\n"))
}

func (s *Server) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	if s.isReady == nil || s.isReady() {
		w.WriteHeader(http.StatusOK)
		//nolint:errcheck // client may disconnect
		w.Write([]byte("ok\n"))
		return
	}

	w.WriteHeader(http.StatusServiceUnavailable)
	//nolint:errcheck // client may disconnect
	w.Write([]byte("not ready\n"))
}
