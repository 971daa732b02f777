package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// HealthStatus represents the health state of the sentry service
type HealthStatus struct {
	Status           string `json:"status"` // "healthy", "degraded", "unhealthy"
	UptimeSeconds    int64  `json:"uptime_seconds"`
	SessionState     State  `json:"session_state"`
	CaptureConnected bool   `json:"capture_connected"`
	MQTTEnabled      bool   `json:"mqtt_enabled"`
	MQTTConnected    bool   `json:"mqtt_connected"`
}

// HealthCheck returns the current health status of the service. An
// idle daemon with no session is healthy; degraded means a surface the
// operator relies on is down.
func (s *Sentry) HealthCheck() HealthStatus {
	s.mu.RLock()
	started := s.started
	running := s.isRunning
	s.mu.RUnlock()

	status := HealthStatus{
		Status:        "healthy",
		UptimeSeconds: int64(time.Since(started).Seconds()),
		SessionState:  s.engine.State(),
		MQTTEnabled:   s.cfg.MQTT.Enabled(),
	}

	if stats, ok := s.engine.CameraStats(); ok {
		status.CaptureConnected = stats.IsConnected
	}
	if s.emitter != nil && s.emitter.Client != nil && s.emitter.Client.IsConnected() {
		status.MQTTConnected = true
	}

	switch {
	case !running:
		status.Status = "unhealthy"
	case s.engine.Running() && !status.CaptureConnected:
		status.Status = "degraded"
	case status.MQTTEnabled && !status.MQTTConnected:
		status.Status = "degraded"
	}

	return status
}

// LivenessHandler handles /health (simple liveness check)
func (s *Sentry) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()

	response := map[string]interface{}{
		"status": "alive",
		"uptime": int64(time.Since(started).Seconds()),
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

// ReadinessHandler handles /readiness (detailed readiness check).
// Degraded still answers 200; only an unhealthy service returns 503.
func (s *Sentry) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	health := s.HealthCheck()

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(health)
}

// StatusHandler handles /status with the full component status map
func (s *Sentry) StatusHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(s.getStatus())
}

// PreviewHandler streams the rendered overlay as MJPEG on /preview.
// Each connected client gets the latest composited frame at the redraw
// cadence; before the first render it simply waits.
func (s *Sentry) PreviewHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	interval := s.cfg.Overlay.RedrawInterval()

	for {
		select {
		case <-r.Context().Done():
			return
		default:
		}

		frame, ok := s.rendered.Peek()
		if !ok {
			time.Sleep(interval)
			continue
		}

		fmt.Fprintf(w, "--frame\r\n")
		fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
		fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(frame.Data))
		if _, err := w.Write(frame.Data); err != nil {
			return
		}
		fmt.Fprintf(w, "\r\n")

		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}

		time.Sleep(interval)
	}
}

// StartHealthServer starts the HTTP server on the given port. Runs in
// a goroutine and does not block.
func (s *Sentry) StartHealthServer(port string) error {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.LivenessHandler)
	mux.HandleFunc("/readiness", s.ReadinessHandler)
	mux.HandleFunc("/status", s.StatusHandler)
	mux.HandleFunc("/preview", s.PreviewHandler)

	server := &http.Server{
		Addr:        ":" + port,
		Handler:     mux,
		ReadTimeout: 5 * time.Second,
		// No write timeout: the preview stream is long-lived.
		IdleTimeout: 60 * time.Second,
	}

	s.mu.Lock()
	s.healthServer = server
	s.mu.Unlock()

	slog.Info("starting health server",
		"port", port,
		"endpoints", []string{"/health", "/readiness", "/status", "/preview"},
	)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("health server failed", "error", err)
		}
	}()

	return nil
}

// stopHealthServer shuts the HTTP server down gracefully
func (s *Sentry) stopHealthServer(ctx context.Context) error {
	s.mu.RLock()
	server := s.healthServer
	s.mu.RUnlock()

	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}
