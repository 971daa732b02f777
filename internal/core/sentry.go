package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Madhusudan-6304/ApnaCriminal/internal/alert"
	"github.com/Madhusudan-6304/ApnaCriminal/internal/capture"
	"github.com/Madhusudan-6304/ApnaCriminal/internal/config"
	"github.com/Madhusudan-6304/ApnaCriminal/internal/control"
	"github.com/Madhusudan-6304/ApnaCriminal/internal/detect"
	"github.com/Madhusudan-6304/ApnaCriminal/internal/emitter"
	"github.com/Madhusudan-6304/ApnaCriminal/internal/overlay"
	"github.com/Madhusudan-6304/ApnaCriminal/internal/pool"
	"github.com/Madhusudan-6304/ApnaCriminal/internal/types"
)

// Sentry is the main service orchestrator
type Sentry struct {
	cfg *config.Config

	// Core components
	engine         *Engine
	pools          *pool.Manager
	renderer       *overlay.Renderer
	deduper        *alert.Deduper
	detector       *detect.Client
	emitter        *emitter.MQTTEmitter // nil when no broker is configured
	controlHandler *control.Handler
	rendered       *capture.Holder // latest rendered frame for the HTTP preview
	healthServer   *http.Server

	// Lifecycle management
	started   time.Time
	mu        sync.RWMutex
	wg        sync.WaitGroup
	isRunning bool
	runCtx    context.Context    // Run context for session starts
	cancelCtx context.CancelFunc // For the MQTT shutdown command
}

// NewSentry creates a new sentry service instance
func NewSentry(configPath string) (*Sentry, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("configuration loaded",
		"instance_id", cfg.InstanceID,
		"capture_source", cfg.Capture.Source,
		"mqtt", cfg.MQTT.Enabled(),
	)

	pools := pool.New(pool.Config{
		ConfirmedTTL: cfg.Pools.ConfirmedTTL(),
		UnknownTTL:   cfg.Pools.UnknownTTL(),
		TolerancePx:  cfg.Pools.MatchTolerancePx,
		UnknownGrace: cfg.Pools.UnknownGrace(),
		AlertWindow:  cfg.Pools.AlertWindow(),
	})

	renderer, err := overlay.NewRenderer(overlay.Config{
		Width:          cfg.Capture.Width,
		Height:         cfg.Capture.Height,
		ConfirmedTTL:   cfg.Pools.ConfirmedTTL(),
		UnknownTTL:     cfg.Pools.UnknownTTL(),
		ConfirmedFloor: cfg.Overlay.ConfirmedFloor,
		UnknownFloor:   cfg.Overlay.UnknownFloor,
		BannerTTL:      cfg.Overlay.BannerTTL(),
		RedrawInterval: cfg.Overlay.RedrawInterval(),
		JPEGQuality:    cfg.Overlay.JPEGQuality,
	}, pools, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create renderer: %w", err)
	}

	detector := detect.NewClient(cfg.Detector.BaseURL, cfg.Detector.RequestTimeout())

	// Alerts always reach the log; the broker is an additional sink.
	var em *emitter.MQTTEmitter
	notifiers := alert.Fanout{alert.LogNotifier{}}
	if cfg.MQTT.Enabled() {
		em = emitter.NewMQTTEmitter(cfg.MQTT)
		notifiers = append(notifiers, em)
	}

	deduper, err := alert.NewDeduper(cfg.Alerts.Cooldown(), notifiers, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create alert deduper: %w", err)
	}

	s := &Sentry{
		cfg:      cfg,
		pools:    pools,
		renderer: renderer,
		deduper:  deduper,
		detector: detector,
		emitter:  em,
		rendered: capture.NewHolder(),
	}
	s.engine = NewEngine(cfg, detector, pools, renderer, deduper, nil)
	s.engine.OnEvent(s.publishEvent)

	// Banner side effects ride on pool sightings; rendered frames feed
	// the HTTP preview and the frames topic.
	pools.OnSighting(s.onSighting)
	renderer.OnRender(s.onRendered)

	return s, nil
}

// Run starts the sentry service and blocks until context is cancelled
func (s *Sentry) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("service is already running")
	}
	s.isRunning = true
	s.started = time.Now()
	s.mu.Unlock()

	// Create cancellable context for the MQTT shutdown command
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	s.runCtx = ctx
	s.cancelCtx = cancel
	s.mu.Unlock()

	slog.Info("sentry service starting", "instance_id", s.cfg.InstanceID)

	// The renderer paints with or without a live session: before the
	// first session it shows the waiting placeholder.
	if err := s.renderer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start renderer: %w", err)
	}

	if s.emitter != nil {
		if err := s.emitter.Connect(ctx); err != nil {
			return fmt.Errorf("failed to connect mqtt: %w", err)
		}

		s.controlHandler = control.NewHandler(s.cfg.MQTT, s.emitter.Client, control.CommandCallbacks{
			OnGetStatus:         s.getStatus,
			OnStartSession:      s.startSession,
			OnStopSession:       s.stopSession,
			OnDetectImage:       s.detectImage,
			OnDetectSketch:      s.detectSketch,
			OnDetectVideo:       s.detectVideo,
			OnCancelVideo:       s.cancelVideo,
			OnSetDetectInterval: s.setDetectInterval,
			OnClearPools:        s.clearPools,
			OnShutdown:          s.shutdownViaControl,
		})
		if err := s.controlHandler.Start(ctx); err != nil {
			return fmt.Errorf("failed to start control plane: %w", err)
		}

		// Periodic status heartbeat on the status topic
		s.wg.Add(1)
		go s.statusLoop(ctx)
	}

	if err := s.StartHealthServer(s.cfg.HealthPort); err != nil {
		return fmt.Errorf("failed to start health server: %w", err)
	}

	if s.cfg.Session.AutoStart {
		if err := s.startSession(); err != nil {
			return fmt.Errorf("failed to auto-start session: %w", err)
		}
	}

	slog.Info("sentry service running",
		"auto_start", s.cfg.Session.AutoStart,
		"health_port", s.cfg.HealthPort,
	)

	// Wait for context cancellation
	<-ctx.Done()

	slog.Info("sentry service run loop exiting")
	return nil
}

// Shutdown performs graceful shutdown of all components
func (s *Sentry) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	slog.Info("shutting down sentry service")

	// Shutdown sequence (order is important!):
	// 1. Engine first: the live session, its camera and any in-flight
	//    channel operations.
	if err := s.engine.Close(); err != nil {
		slog.Error("failed to close engine", "error", err)
	}

	// 2. Renderer (nothing feeds it anymore)
	s.renderer.Stop()

	// 3. Control plane
	if s.controlHandler != nil {
		if err := s.controlHandler.Stop(); err != nil {
			slog.Error("failed to stop control handler", "error", err)
		}
	}

	// 4. Health server
	if err := s.stopHealthServer(ctx); err != nil {
		slog.Error("failed to stop health server", "error", err)
	}

	// 5. Wait for goroutines to finish
	s.wg.Wait()

	// 6. Disconnect MQTT
	if s.emitter != nil {
		if err := s.emitter.Disconnect(); err != nil {
			slog.Error("failed to disconnect mqtt", "error", err)
		}
	}

	s.mu.Lock()
	uptime := time.Since(s.started)
	s.isRunning = false
	s.mu.Unlock()

	slog.Info("sentry service shutdown complete", "uptime", uptime)

	return nil
}

// ShutdownTimeout returns the configured graceful shutdown bound
func (s *Sentry) ShutdownTimeout() time.Duration {
	return s.cfg.ShutdownTimeout()
}

// buildCamera constructs the configured capture device. Each session
// start acquires a fresh device so a stop fully releases it.
func (s *Sentry) buildCamera() (Camera, error) {
	cc := s.cfg.Capture

	if cc.Source == "rtsp" {
		cam, err := capture.NewRTSPCamera(capture.RTSPConfig{
			URL:     cc.RTSPURL,
			Width:   cc.Width,
			Height:  cc.Height,
			FPS:     cc.FPS,
			Quality: cc.JPEGQuality,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create rtsp camera: %w", err)
		}
		slog.Info("using rtsp capture", "url", cc.RTSPURL)
		return cam, nil
	}

	cam, err := capture.NewMockCamera(cc.Width, cc.Height, cc.FPS, cc.JPEGQuality)
	if err != nil {
		return nil, fmt.Errorf("failed to create mock camera: %w", err)
	}
	slog.Info("using mock capture")
	return cam, nil
}

// statusLoop publishes the full status map periodically
func (s *Sentry) statusLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			payload, err := statusJSON(s.getStatus())
			if err != nil {
				slog.Error("failed to marshal status", "error", err)
				continue
			}
			if err := s.emitter.PublishStatus(payload); err != nil {
				slog.Debug("status publish failed", "error", err)
			}
		}
	}
}

// onSighting raises the overlay banner for a pool sighting and mirrors
// it onto the events topic.
func (s *Sentry) onSighting(kind string, det types.Detection) {
	var text string
	switch kind {
	case types.AlertCriminal:
		text = "CRIMINAL MATCH: " + det.DisplayLabel()
	case types.AlertMask:
		text = "MASKED FACE DETECTED"
	default:
		text = "UNKNOWN FACE: " + det.DisplayLabel()
	}

	s.renderer.RaiseBanner(kind, text)
	s.publishEvent("sighting", map[string]interface{}{
		"kind":  kind,
		"label": det.DisplayLabel(),
	})
}

// onRendered stores the latest composited frame and forwards it to the
// frames topic when a broker is connected.
func (s *Sentry) onRendered(f types.Frame) {
	s.rendered.Store(f)

	if s.emitter != nil {
		if err := s.emitter.PublishFrame(f); err != nil {
			slog.Debug("frame publish failed", "error", err)
		}
	}
}

// publishEvent forwards an engine event to the events topic
func (s *Sentry) publishEvent(kind string, data map[string]interface{}) {
	if s.emitter == nil {
		return
	}
	if err := s.emitter.PublishEvent(kind, data); err != nil {
		slog.Debug("event publish failed", "error", err, "kind", kind)
	}
}
