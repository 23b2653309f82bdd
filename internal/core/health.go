package core

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/care/postura/internal/capture"
	"github.com/care/postura/internal/emitter"
	"github.com/care/postura/internal/types"
	"github.com/care/postura/internal/voice"
)

// HealthStatus represents the health state of the service
type HealthStatus struct {
	Status        string              `json:"status"` // "healthy", "degraded", "unhealthy"
	UptimeSeconds int64               `json:"uptime_seconds"`
	MQTTConnected bool                `json:"mqtt_connected"`
	Estimator     types.WorkerMetrics `json:"estimator"`
	Capture       capture.Snapshot    `json:"capture"`
	Emitter       emitter.Stats       `json:"emitter"`
	Voice         *voice.Stats        `json:"voice,omitempty"`
	OverlaysDrawn uint64              `json:"overlays_drawn"`
}

// ToJSON converts the status to JSON bytes
func (h HealthStatus) ToJSON() ([]byte, error) {
	return json.Marshal(h)
}

// HealthCheck returns the current health status of the service
func (s *Service) HealthCheck() HealthStatus {
	s.mu.RLock()
	running := s.isRunning
	started := s.started
	s.mu.RUnlock()

	status := HealthStatus{
		Status:        "healthy",
		UptimeSeconds: int64(time.Since(started).Seconds()),
		Estimator:     s.estimator.Metrics(),
		Capture:       s.controller.Snapshot(),
		Emitter:       s.emitter.Stats(),
		OverlaysDrawn: s.canvas.Drawn(),
	}
	status.MQTTConnected = status.Emitter.Connected
	if s.speaker != nil {
		v := s.speaker.Stats()
		status.Voice = &v
	}

	switch {
	case !running, !status.Estimator.ProcessAlive, !status.Estimator.ModelReady:
		status.Status = "unhealthy"
	case !status.MQTTConnected:
		status.Status = "degraded"
	}
	return status
}

// LivenessHandler handles /health endpoint (simple liveness check)
func (s *Service) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "alive",
		"uptime": int64(time.Since(started).Seconds()),
	})
}

// ReadinessHandler handles /readiness endpoint (detailed readiness check)
func (s *Service) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	health := s.HealthCheck()

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(health)
}

// CueHandler serves the most recent voice cue as mp3.
func (s *Service) CueHandler(w http.ResponseWriter, r *http.Request) {
	if s.speaker == nil {
		http.Error(w, "voice cues disabled", http.StatusNotFound)
		return
	}
	cue, ok := s.speaker.Latest()
	if !ok {
		http.Error(w, "no cue yet", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("X-Cue-Message", cue.Message)
	http.ServeFile(w, r, cue.Path)
}

// routes returns the HTTP handler of the health server.
func (s *Service) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.LivenessHandler)
	mux.HandleFunc("/readiness", s.ReadinessHandler)
	mux.Handle("/metrics", s.metricsHandler())
	mux.Handle("/overlay.png", s.canvas)
	mux.HandleFunc("/cue.mp3", s.CueHandler)
	return mux
}

// startHealthServer starts the HTTP health check server on the given port
// in the background.
func (s *Service) startHealthServer(port int) {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.routes(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("starting health check server",
		"port", port,
		"endpoints", []string{"/health", "/readiness", "/metrics", "/overlay.png", "/cue.mp3"},
	)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("health check server failed", "error", err)
		}
	}()
}
