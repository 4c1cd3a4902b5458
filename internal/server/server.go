// Package server provides the HTTP sidecar for notula: Prometheus metrics
// scraping plus liveness and readiness probes. The recording pipeline itself
// has no HTTP surface; this server exists for operators.
//
// Endpoints:
//
//   - /metrics  — Prometheus scrape endpoint (via the OTel exporter bridge).
//   - /healthz  — liveness probe; always returns 200 OK.
//   - /readyz   — readiness probe; returns 200 only when all registered
//     [Probe] functions pass.
//
// Probe responses are JSON objects with a top-level "status" field ("ok" or
// "fail") and a "checks" map containing the result of each named probe.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mkarols/notula/internal/observe"
)

// probeTimeout bounds a single readiness probe.
const probeTimeout = 5 * time.Second

// shutdownTimeout bounds graceful shutdown after the run context ends.
const shutdownTimeout = 10 * time.Second

// Probe is a named readiness check. Check must return nil when the
// dependency is healthy and respect context cancellation.
type Probe struct {
	// Name labels this probe in the JSON response (e.g. "store",
	// "transcription").
	Name string

	Check func(ctx context.Context) error
}

// probeResult is the JSON response body for the probe endpoints.
type probeResult struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Server is the HTTP sidecar. Construct with [New], then call [Server.Run].
type Server struct {
	addr   string
	probes []Probe
	http   *http.Server
}

// New builds a sidecar listening on addr. The probes are evaluated in order
// on each /readyz request. Metrics m feeds the request-duration middleware.
func New(addr string, m *observe.Metrics, probes ...Probe) *Server {
	s := &Server{
		addr:   addr,
		probes: append([]Probe(nil), probes...),
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", s.healthz)
	mux.HandleFunc("GET /readyz", s.readyz)

	s.http = &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(m)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully. A nil error
// is returned on clean shutdown.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http sidecar listening", "addr", s.addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: listen on %q: %w", s.addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return <-errCh
}

// healthz always returns 200: a process that can serve HTTP is alive.
func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, probeResult{Status: "ok"})
}

// readyz returns 200 only when every registered [Probe] passes. Each probe
// runs with a [probeTimeout] deadline derived from the request context.
func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(s.probes))
	allOK := true

	for _, p := range s.probes {
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		err := p.Check(ctx)
		cancel()

		if err != nil {
			checks[p.Name] = "fail: " + err.Error()
			allOK = false
		} else {
			checks[p.Name] = "ok"
		}
	}

	res := probeResult{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// writeJSON encodes v with the given status code. On encoding failure it
// falls back to a plain 500 body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
