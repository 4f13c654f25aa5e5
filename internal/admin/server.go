package admin

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sengoo/sengoohost/internal/logx"
	"github.com/sengoo/sengoohost/internal/metrics"
)

// Server is the optional read-only admin HTTP surface: /healthz,
// /status, /metrics. It never mutates anything it serves — mutating
// server state from an HTTP goroutine would break the single-writer
// tick loop.
type Server struct {
	pub        *Publisher
	metrics    *metrics.Collector
	httpServer *http.Server
}

// NewServer builds a Server reading from pub and serving m's registry
// on /metrics.
func NewServer(pub *Publisher, m *metrics.Collector) *Server {
	return &Server{pub: pub, metrics: m}
}

// Start binds addr and begins serving in the background. A non-nil
// error means the listener itself failed to bind; errors after that
// point are only logged, from a fire-and-forget Serve goroutine.
func (s *Server) Start(addr string) error {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.healthzHandler).Methods(http.MethodGet)
	r.HandleFunc("/status", s.statusHandler).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
	}

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	logx.Logf(logx.Info, logx.Admin, "admin http surface listening on %s", addr)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			logx.Logf(logx.Warn, logx.Admin, "admin http server error: %v", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the admin server.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthzHandler(w http.ResponseWriter, r *http.Request) {
	snap := s.pub.Load()
	if snap.Ticks == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	snap := s.pub.Load()
	status := http.StatusOK
	if snap.Ticks == 0 {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"uptime_seconds":       time.Since(snap.StartedAt).Seconds(),
		"ticks":                snap.Ticks,
		"active_connections":   snap.ActiveConnections,
		"capacity":             snap.Capacity,
		"registry_fingerprint": snap.RegistryFingerprint,
		"extension_slot_count": snap.ExtensionSlotCount,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
