package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Control plane callbacks. Commands are processed one at a time, so a
// still detection blocks later commands until it resolves; that is the
// intended serialization for operator actions.

func (s *Sentry) runContext() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.runCtx != nil {
		return s.runCtx
	}
	return context.Background()
}

// getStatus assembles the full component status map
func (s *Sentry) getStatus() map[string]interface{} {
	s.mu.RLock()
	started := s.started
	running := s.isRunning
	s.mu.RUnlock()

	status := map[string]interface{}{
		"instance_id": s.cfg.InstanceID,
		"uptime_s":    time.Since(started).Seconds(),
		"running":     running,
		"session":     s.engine.Stats(),
		"channels":    s.engine.Slots().Stats(),
		"pools":       s.pools.Stats(),
		"renderer":    s.renderer.Stats(),
		"alerts":      s.deduper.Stats(),
		"detector":    s.detector.Stats(),
	}
	if stats, ok := s.engine.CameraStats(); ok {
		status["capture"] = stats
	}
	if s.emitter != nil {
		status["mqtt"] = s.emitter.Stats()
	}
	return status
}

func (s *Sentry) startSession() error {
	camera, err := s.buildCamera()
	if err != nil {
		return err
	}
	return s.engine.StartSession(s.runContext(), camera)
}

func (s *Sentry) stopSession() error {
	return s.engine.StopSession()
}

func (s *Sentry) detectImage(path string) (map[string]interface{}, error) {
	return s.engine.DetectImageFile(s.runContext(), path)
}

func (s *Sentry) detectSketch(path string) (map[string]interface{}, error) {
	return s.engine.DetectSketchFile(s.runContext(), path)
}

func (s *Sentry) detectVideo(path string) error {
	return s.engine.SubmitVideo(s.runContext(), path)
}

func (s *Sentry) cancelVideo() error {
	if !s.engine.CancelVideo() {
		return fmt.Errorf("no video detection in flight")
	}
	return nil
}

func (s *Sentry) setDetectInterval(intervalMS int) error {
	return s.engine.SetDetectInterval(time.Duration(intervalMS) * time.Millisecond)
}

func (s *Sentry) clearPools() error {
	s.engine.ClearPools()
	return nil
}

func (s *Sentry) shutdownViaControl() error {
	s.mu.RLock()
	cancel := s.cancelCtx
	s.mu.RUnlock()

	if cancel == nil {
		return fmt.Errorf("service is not running")
	}
	slog.Info("shutdown requested via control plane")
	cancel()
	return nil
}

func statusJSON(status map[string]interface{}) ([]byte, error) {
	return json.Marshal(status)
}
