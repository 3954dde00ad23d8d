// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyloom Contributors

// Package observability provides HTTP endpoints for metrics and health checks.
package observability

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"
)

// ReadinessChecker returns whether the service is ready to accept requests.
type ReadinessChecker func() bool

// Package-level counters so the auth service can record security events
// without holding a Server reference. Infrastructure failures are counted
// separately from authentication failures; conflating them would corrupt
// lockout auditing.
var (
	loginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keyloom_logins_total",
			Help: "Total number of login attempts by result",
		},
		[]string{"result"},
	)
	lockoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "keyloom_lockouts_total",
			Help: "Total number of account lockouts triggered",
		},
	)
	rotationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keyloom_token_rotations_total",
			Help: "Total number of refresh token rotations by result",
		},
		[]string{"result"},
	)
	cacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keyloom_session_cache_total",
			Help: "Total number of session cache lookups by result",
		},
		[]string{"result"},
	)
)

// RecordLogin increments the login counter for a result
// (success, failure, locked, inactive).
func RecordLogin(result string) {
	loginsTotal.WithLabelValues(result).Inc()
}

// RecordLockout increments the lockout counter.
func RecordLockout() {
	lockoutsTotal.Inc()
}

// RecordRotation increments the rotation counter for a result
// (success, invalid, inactive, reuse). The "reuse" result is the
// stale-refresh-token security signal.
func RecordRotation(result string) {
	rotationsTotal.WithLabelValues(result).Inc()
}

// RecordCacheLookup increments the session cache counter for a result
// (hit, miss, error).
func RecordCacheLookup(result string) {
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// Server provides HTTP endpoints for observability (metrics and health probes).
type Server struct {
	addr       string
	listener   net.Listener
	httpServer *http.Server
	registry   *prometheus.Registry
	isReady    ReadinessChecker
	running    atomic.Bool
}

// NewServer creates a new observability server.
// addr: listen address in "host:port" format (e.g., "127.0.0.1:9100").
func NewServer(addr string, readinessChecker ReadinessChecker) *Server {
	// Own registry to avoid polluting the global one.
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(loginsTotal, lockoutsTotal, rotationsTotal, cacheLookupsTotal)

	return &Server{
		addr:     addr,
		registry: registry,
		isReady:  readinessChecker,
	}
}

// Addr returns the bound listen address. Valid after Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Start begins serving observability endpoints. It returns an error channel
// that receives any serve error; the channel is closed when the server stops
// gracefully.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("observability server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.Code("OBS_LISTEN_FAILED").With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok")) //nolint:errcheck // best effort
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if s.isReady != nil && !s.isReady() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready")) //nolint:errcheck // best effort
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready")) //nolint:errcheck // best effort
	})

	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	slog.Info("observability server started", "addr", s.Addr())
	return errCh, nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return oops.Code("OBS_SHUTDOWN_FAILED").Wrap(err)
	}
	return nil
}
