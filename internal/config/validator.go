package config

import (
	"fmt"
	"regexp"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate checks the configuration and fills defaults. Invalid values
// fail here, before any capture device or timer is touched.
func Validate(cfg *Config) error {
	// Validate instance_id
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	if cfg.HealthPort == "" {
		cfg.HealthPort = "8080"
	}
	if cfg.ShutdownTimeoutS <= 0 {
		cfg.ShutdownTimeoutS = 10
	}

	// Capture
	switch cfg.Capture.Source {
	case "":
		cfg.Capture.Source = "mock"
	case "mock":
	case "rtsp":
		if cfg.Capture.RTSPURL == "" {
			return fmt.Errorf("capture.rtsp_url is required when capture.source is rtsp")
		}
	default:
		return fmt.Errorf("capture.source must be 'mock' or 'rtsp', got %q", cfg.Capture.Source)
	}
	if cfg.Capture.Width <= 0 {
		cfg.Capture.Width = 1280
	}
	if cfg.Capture.Height <= 0 {
		cfg.Capture.Height = 720
	}
	if cfg.Capture.FPS <= 0 {
		cfg.Capture.FPS = 10
	}
	if cfg.Capture.FPS > 30 {
		return fmt.Errorf("capture.fps must be 1-30, got %d", cfg.Capture.FPS)
	}
	if cfg.Capture.JPEGQuality == 0 {
		cfg.Capture.JPEGQuality = 85
	}
	if cfg.Capture.JPEGQuality < 1 || cfg.Capture.JPEGQuality > 100 {
		return fmt.Errorf("capture.jpeg_quality must be 1-100, got %d", cfg.Capture.JPEGQuality)
	}
	if cfg.Capture.WarmupDurationS < 0 {
		return fmt.Errorf("capture.warmup_duration_s must be >= 0")
	}

	// Detector
	if cfg.Detector.BaseURL == "" {
		cfg.Detector.BaseURL = "http://127.0.0.1:8000"
	}
	if cfg.Detector.RequestTimeoutS <= 0 {
		cfg.Detector.RequestTimeoutS = 30
	}

	// Session
	if cfg.Session.PreviewIntervalMS <= 0 {
		cfg.Session.PreviewIntervalMS = 200
	}
	if cfg.Session.DetectIntervalMS <= 0 {
		cfg.Session.DetectIntervalMS = 1500
	}
	if cfg.Session.MaxWidth <= 0 {
		cfg.Session.MaxWidth = 640
	}
	if cfg.Session.JPEGQuality == 0 {
		cfg.Session.JPEGQuality = 70
	}
	if cfg.Session.JPEGQuality < 1 || cfg.Session.JPEGQuality > 100 {
		return fmt.Errorf("session.jpeg_quality must be 1-100, got %d", cfg.Session.JPEGQuality)
	}

	// Pools
	if cfg.Pools.ConfirmedTTLSeconds <= 0 {
		cfg.Pools.ConfirmedTTLSeconds = 60
	}
	if cfg.Pools.UnknownTTLSeconds <= 0 {
		cfg.Pools.UnknownTTLSeconds = 5
	}
	if cfg.Pools.MatchTolerancePx <= 0 {
		cfg.Pools.MatchTolerancePx = 50
	}
	if cfg.Pools.UnknownGraceMS <= 0 {
		cfg.Pools.UnknownGraceMS = 1000
	}
	if cfg.Pools.AlertWindowS <= 0 {
		cfg.Pools.AlertWindowS = 10
	}

	// Overlay
	if cfg.Overlay.RedrawIntervalMS <= 0 {
		cfg.Overlay.RedrawIntervalMS = 200
	}
	if cfg.Overlay.ConfirmedFloor == 0 {
		cfg.Overlay.ConfirmedFloor = 0.45
	}
	if cfg.Overlay.UnknownFloor == 0 {
		cfg.Overlay.UnknownFloor = 0.40
	}
	if cfg.Overlay.ConfirmedFloor < 0 || cfg.Overlay.ConfirmedFloor > 1 {
		return fmt.Errorf("overlay.confirmed_floor must be in (0, 1], got %v", cfg.Overlay.ConfirmedFloor)
	}
	if cfg.Overlay.UnknownFloor < 0 || cfg.Overlay.UnknownFloor > 1 {
		return fmt.Errorf("overlay.unknown_floor must be in (0, 1], got %v", cfg.Overlay.UnknownFloor)
	}
	if cfg.Overlay.BannerTTLS <= 0 {
		cfg.Overlay.BannerTTLS = 4
	}
	if cfg.Overlay.JPEGQuality == 0 {
		cfg.Overlay.JPEGQuality = 85
	}
	if cfg.Overlay.JPEGQuality < 1 || cfg.Overlay.JPEGQuality > 100 {
		return fmt.Errorf("overlay.jpeg_quality must be 1-100, got %d", cfg.Overlay.JPEGQuality)
	}

	// Alerts
	if cfg.Alerts.CooldownS <= 0 {
		cfg.Alerts.CooldownS = 30
	}

	// MQTT (optional; empty broker means standalone operation)
	if cfg.MQTT.Enabled() {
		if cfg.MQTT.ClientID == "" {
			cfg.MQTT.ClientID = fmt.Sprintf("sentry-%s", cfg.InstanceID)
		}
		prefix := fmt.Sprintf("sentry/%s", cfg.InstanceID)
		if cfg.MQTT.Topics.Control == "" {
			cfg.MQTT.Topics.Control = prefix + "/control"
		}
		if cfg.MQTT.Topics.Response == "" {
			cfg.MQTT.Topics.Response = prefix + "/response"
		}
		if cfg.MQTT.Topics.Alerts == "" {
			cfg.MQTT.Topics.Alerts = prefix + "/alerts"
		}
		if cfg.MQTT.Topics.Events == "" {
			cfg.MQTT.Topics.Events = prefix + "/events"
		}
		if cfg.MQTT.Topics.Status == "" {
			cfg.MQTT.Topics.Status = prefix + "/status"
		}
		if cfg.MQTT.Topics.Frames == "" {
			cfg.MQTT.Topics.Frames = prefix + "/frames"
		}
		if cfg.MQTT.QoS == nil {
			cfg.MQTT.QoS = map[string]byte{
				"control":  1,
				"response": 1,
				"alerts":   1,
				"events":   0,
				"status":   0,
				"frames":   0,
			}
		}
	}

	return nil
}
