// Package metrics serves the Prometheus scrape endpoint and the health
// probe.
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"premium_trader/internal/core"
)

// Server exposes /metrics for Prometheus and /healthz for orchestration.
type Server struct {
	port   int
	health core.IHealthMonitor
	logger core.ILogger
	srv    *http.Server
}

func NewServer(port int, health core.IHealthMonitor, logger core.ILogger) *Server {
	return &Server{
		port:   port,
		health: health,
		logger: logger.WithField("component", "metrics_server"),
	}
}

// Start serves in a background goroutine.
func (s *Server) Start() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)

	s.srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: mux,
	}

	go func() {
		s.logger.Info("Starting Prometheus metrics server", "port", s.port)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Metrics server failed", "error", err)
		}
	}()
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	code := http.StatusOK
	if s.health != nil && !s.health.IsHealthy() {
		code = http.StatusServiceUnavailable
	}

	var components map[string]string
	if s.health != nil {
		components = s.health.GetStatus()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"healthy":    code == http.StatusOK,
		"components": components,
	})
}

// Stop gracefully stops the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	s.logger.Info("Stopping metrics server")
	return s.srv.Shutdown(ctx)
}
