package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete sentry configuration
type Config struct {
	InstanceID       string         `yaml:"instance_id"`
	HealthPort       string         `yaml:"health_port"`
	ShutdownTimeoutS int            `yaml:"shutdown_timeout_s"` // Graceful shutdown timeout in seconds (default: 10)
	Capture          CaptureConfig  `yaml:"capture"`
	Detector         DetectorConfig `yaml:"detector"`
	Session          SessionConfig  `yaml:"session"`
	Pools            PoolsConfig    `yaml:"pools"`
	Overlay          OverlayConfig  `yaml:"overlay"`
	Alerts           AlertsConfig   `yaml:"alerts"`
	MQTT             MQTTConfig     `yaml:"mqtt"`
}

// CaptureConfig contains capture device settings
type CaptureConfig struct {
	Source          string `yaml:"source"`   // mock, rtsp
	RTSPURL         string `yaml:"rtsp_url"` // required when source is rtsp
	Width           int    `yaml:"width"`
	Height          int    `yaml:"height"`
	FPS             int    `yaml:"fps"`
	JPEGQuality     int    `yaml:"jpeg_quality"`      // capture encode quality, 1-100
	WarmupDurationS int    `yaml:"warmup_duration_s"` // 0 disables pre-session warmup
}

// DetectorConfig contains remote detector settings
type DetectorConfig struct {
	BaseURL         string `yaml:"base_url"`
	RequestTimeoutS int    `yaml:"request_timeout_s"` // image/sketch request timeout (default: 30)
}

// SessionConfig contains live capture session settings
type SessionConfig struct {
	AutoStart         bool `yaml:"auto_start"`
	PreviewIntervalMS int  `yaml:"preview_interval_ms"` // raw feed tick (default: 200)
	DetectIntervalMS  int  `yaml:"detect_interval_ms"`  // throttled detection tick (default: 1500)
	MaxWidth          int  `yaml:"max_width"`           // downscale bound for detection uploads
	JPEGQuality       int  `yaml:"jpeg_quality"`        // encode quality for detection uploads, 1-100
}

// PoolsConfig contains detection pool retention settings
type PoolsConfig struct {
	ConfirmedTTLSeconds int `yaml:"confirmed_ttl_s"`    // confirmed-identity retention (default: 60)
	UnknownTTLSeconds   int `yaml:"unknown_ttl_s"`      // unknown-face retention (default: 5)
	MatchTolerancePx    int `yaml:"match_tolerance_px"` // corner jitter tolerance (default: 50)
	UnknownGraceMS      int `yaml:"unknown_grace_ms"`   // unknown refresh grace window (default: 1000)
	AlertWindowS        int `yaml:"alert_window_s"`     // per-name confirmed alert suppression (default: 10)
}

// OverlayConfig contains renderer settings
type OverlayConfig struct {
	RedrawIntervalMS int     `yaml:"redraw_interval_ms"` // fade animation tick (default: 200)
	ConfirmedFloor   float64 `yaml:"confirmed_floor"`    // minimum opacity for confirmed boxes
	UnknownFloor     float64 `yaml:"unknown_floor"`      // minimum opacity for unknown boxes
	BannerTTLS       int     `yaml:"banner_ttl_s"`       // transient banner lifetime (default: 4)
	JPEGQuality      int     `yaml:"jpeg_quality"`       // rendered output quality, 1-100
}

// AlertsConfig contains notification dedup settings
type AlertsConfig struct {
	CooldownS int `yaml:"cooldown_s"` // per-pair and global notify cooldown (default: 30)
}

// MQTTConfig contains MQTT broker settings. An empty broker disables
// MQTT entirely and the daemon runs standalone.
type MQTTConfig struct {
	Broker   string          `yaml:"broker"`
	ClientID string          `yaml:"client_id"`
	Topics   MQTTTopics      `yaml:"topics"`
	QoS      map[string]byte `yaml:"qos"`
}

// MQTTTopics contains topic templates
type MQTTTopics struct {
	Control  string `yaml:"control"`
	Response string `yaml:"response"`
	Alerts   string `yaml:"alerts"`
	Events   string `yaml:"events"`
	Status   string `yaml:"status"`
	Frames   string `yaml:"frames"`
}

// Enabled reports whether an MQTT broker is configured
func (m MQTTConfig) Enabled() bool {
	return m.Broker != ""
}

// Duration accessors keep ticker call sites free of unit arithmetic.

// PreviewInterval returns the preview tick period
func (s SessionConfig) PreviewInterval() time.Duration {
	return time.Duration(s.PreviewIntervalMS) * time.Millisecond
}

// DetectInterval returns the detection tick period
func (s SessionConfig) DetectInterval() time.Duration {
	return time.Duration(s.DetectIntervalMS) * time.Millisecond
}

// ConfirmedTTL returns the confirmed-pool time-to-live
func (p PoolsConfig) ConfirmedTTL() time.Duration {
	return time.Duration(p.ConfirmedTTLSeconds) * time.Second
}

// UnknownTTL returns the unknown-pool time-to-live
func (p PoolsConfig) UnknownTTL() time.Duration {
	return time.Duration(p.UnknownTTLSeconds) * time.Second
}

// UnknownGrace returns the unknown refresh grace window
func (p PoolsConfig) UnknownGrace() time.Duration {
	return time.Duration(p.UnknownGraceMS) * time.Millisecond
}

// AlertWindow returns the per-name confirmed alert suppression window
func (p PoolsConfig) AlertWindow() time.Duration {
	return time.Duration(p.AlertWindowS) * time.Second
}

// RedrawInterval returns the renderer fade tick period
func (o OverlayConfig) RedrawInterval() time.Duration {
	return time.Duration(o.RedrawIntervalMS) * time.Millisecond
}

// BannerTTL returns the transient banner lifetime
func (o OverlayConfig) BannerTTL() time.Duration {
	return time.Duration(o.BannerTTLS) * time.Second
}

// Cooldown returns the notification cooldown window
func (a AlertsConfig) Cooldown() time.Duration {
	return time.Duration(a.CooldownS) * time.Second
}

// RequestTimeout returns the image/sketch request timeout
func (d DetectorConfig) RequestTimeout() time.Duration {
	return time.Duration(d.RequestTimeoutS) * time.Second
}

// WarmupDuration returns the pre-session warmup length (0 disables)
func (c CaptureConfig) WarmupDuration() time.Duration {
	return time.Duration(c.WarmupDurationS) * time.Second
}

// ShutdownTimeout returns the graceful shutdown bound
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutS) * time.Second
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}
