// Package core coordinates the overlay engine: the live capture
// session, the single-shot and batch detection channels, the detection
// pools feeding the renderer, and alert delivery. One Engine owns the
// shared pipeline state; the Sentry orchestrator wires it to the
// capture device, the MQTT surfaces and the health server.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/Madhusudan-6304/ApnaCriminal/internal/alert"
	"github.com/Madhusudan-6304/ApnaCriminal/internal/capture"
	"github.com/Madhusudan-6304/ApnaCriminal/internal/config"
	"github.com/Madhusudan-6304/ApnaCriminal/internal/overlay"
	"github.com/Madhusudan-6304/ApnaCriminal/internal/pool"
	"github.com/Madhusudan-6304/ApnaCriminal/internal/reqslot"
	"github.com/Madhusudan-6304/ApnaCriminal/internal/types"
)

// State names the live session phase
type State string

// Session states. The session cycles previewing and detecting while
// running; stopped is reached only by an explicit stop and a restart
// begins from clean state.
const (
	StateIdle       State = "idle"
	StatePreviewing State = "previewing"
	StateDetecting  State = "detecting"
	StateStopped    State = "stopped"
)

// EventFunc receives engine events (session transitions, video
// progress, sightings) for publication.
type EventFunc func(kind string, data map[string]interface{})

// Engine drives the overlay pipeline. The live session feeds captured
// frames through the holder into two independent ticks: a fast preview
// tick that keeps the visible feed fresh and a throttled detection
// tick that submits at most one frame at a time to the remote
// detector. Image, sketch and video detection run on their own request
// channels and share the pools, renderer and deduplicator.
type Engine struct {
	cfg      *config.Config
	detector Detector
	pools    *pool.Manager
	renderer *overlay.Renderer
	deduper  *alert.Deduper
	slots    *reqslot.Table
	holder   *capture.Holder
	clk      clock.Clock

	onEvent EventFunc

	mu             sync.Mutex
	state          State
	camera         Camera
	cancel         context.CancelFunc
	detectInterval time.Duration
	previewTicks   uint64
	detectApplied  uint64
	detectFailed   uint64

	wg    sync.WaitGroup // session loops
	opsWG sync.WaitGroup // video stream consumers
}

// EngineStats contains live session counters
type EngineStats struct {
	State            State  `json:"state"`
	PreviewTicks     uint64 `json:"preview_ticks"`
	DetectApplied    uint64 `json:"detect_applied"`
	DetectFailed     uint64 `json:"detect_failed"`
	DetectIntervalMS int64  `json:"detect_interval_ms"`
}

// NewEngine wires the pipeline. A nil clk uses the wall clock.
func NewEngine(cfg *config.Config, detector Detector, pools *pool.Manager, renderer *overlay.Renderer, deduper *alert.Deduper, clk clock.Clock) *Engine {
	if clk == nil {
		clk = clock.New()
	}
	return &Engine{
		cfg:            cfg,
		detector:       detector,
		pools:          pools,
		renderer:       renderer,
		deduper:        deduper,
		slots:          reqslot.NewTable(),
		holder:         capture.NewHolder(),
		clk:            clk,
		state:          StateIdle,
		detectInterval: cfg.Session.DetectInterval(),
	}
}

// OnEvent registers the event callback. Must be set before the first
// session or video operation.
func (e *Engine) OnEvent(fn EventFunc) {
	e.onEvent = fn
}

func (e *Engine) event(kind string, data map[string]interface{}) {
	if e.onEvent != nil {
		e.onEvent(kind, data)
	}
}

// StartSession acquires the capture device and starts the live loops.
// Device acquisition and warm-up failure are fatal to the start and
// surfaced immediately; no timers run afterwards.
func (e *Engine) StartSession(ctx context.Context, camera Camera) error {
	e.mu.Lock()
	if e.state == StatePreviewing || e.state == StateDetecting {
		e.mu.Unlock()
		return fmt.Errorf("session already running")
	}
	e.mu.Unlock()

	if err := camera.Start(ctx); err != nil {
		return fmt.Errorf("capture device unavailable: %w", err)
	}

	if warmup := e.cfg.Capture.WarmupDuration(); warmup > 0 {
		if _, err := capture.Warmup(ctx, camera.Frames(), warmup); err != nil {
			if stopErr := camera.Stop(); stopErr != nil {
				slog.Error("failed to release capture device after warm-up failure", "error", stopErr)
			}
			return fmt.Errorf("capture warm-up failed: %w", err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)

	e.mu.Lock()
	e.camera = camera
	e.cancel = cancel
	e.state = StatePreviewing
	e.mu.Unlock()

	e.wg.Add(3)
	go e.intakeLoop(runCtx, camera.Frames())
	go e.previewLoop(runCtx)
	go e.detectLoop(runCtx)

	slog.Info("live session started",
		"source", camera.Stats().Source,
		"preview_interval", e.cfg.Session.PreviewInterval(),
		"detect_interval", e.DetectInterval(),
	)
	e.event("session_started", map[string]interface{}{"source": camera.Stats().Source})

	return nil
}

// StopSession tears the live session down: cancels the in-flight
// detection, stops both ticks, releases the capture device and clears
// every piece of per-session state so a restart begins clean.
func (e *Engine) StopSession() error {
	e.mu.Lock()
	if e.state != StatePreviewing && e.state != StateDetecting {
		e.mu.Unlock()
		return nil
	}
	cancel := e.cancel
	camera := e.camera
	e.state = StateStopped
	e.camera = nil
	e.cancel = nil
	e.mu.Unlock()

	e.slots.Live.Cancel()
	cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		slog.Warn("timeout waiting for session loops to stop")
	}

	if camera != nil {
		if err := camera.Stop(); err != nil {
			slog.Error("failed to stop capture device", "error", err)
		}
	}

	// No stale state may survive into a restarted session.
	e.holder.Clear()
	e.pools.Clear()
	e.deduper.Reset()
	e.renderer.ClearBase()

	slog.Info("live session stopped")
	e.event("session_stopped", nil)

	return nil
}

// intakeLoop drains the capture channel into the single-frame holder.
// A closed channel means the device stopped delivering; the session
// stays up with a stale feed and the operator sees the last base image.
func (e *Engine) intakeLoop(ctx context.Context, frames <-chan types.Frame) {
	defer e.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				slog.Warn("capture channel closed, feed is stale")
				return
			}
			e.holder.Store(f)
		}
	}
}

// previewLoop refreshes the renderer base at the preview cadence. It
// peeks the holder without consuming so the same frame remains
// available to the detection tick.
func (e *Engine) previewLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := e.clk.Ticker(e.cfg.Session.PreviewInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if f, ok := e.holder.Peek(); ok {
				e.renderer.SetBase(f)
				e.mu.Lock()
				e.previewTicks++
				e.mu.Unlock()
			}
		}
	}
}

// detectLoop submits frames at the detection cadence. The interval is
// re-read each tick so set_detect_interval takes effect on the next
// cycle without restarting the session.
func (e *Engine) detectLoop(ctx context.Context) {
	defer e.wg.Done()

	interval := e.DetectInterval()
	ticker := e.clk.Ticker(interval)
	defer func() { ticker.Stop() }()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if cur := e.DetectInterval(); cur != interval {
				interval = cur
				ticker.Stop()
				ticker = e.clk.Ticker(interval)
				slog.Info("detection interval applied", "interval", interval)
			}
			e.detectTick(ctx)
		}
	}
}

// detectTick submits the latest frame on the live channel. A tick with
// a request still in flight is skipped whole; the preview loop is
// never touched by any branch here.
func (e *Engine) detectTick(ctx context.Context) {
	tok, err := e.slots.Live.TryBegin(ctx)
	if err != nil {
		slog.Debug("detection tick skipped, request in flight")
		return
	}

	frame, ok := e.holder.Consume()
	if !ok {
		tok.Release()
		return
	}

	upload, err := prepareUpload(frame.Data, e.cfg.Session.MaxWidth, e.cfg.Session.JPEGQuality)
	if err != nil {
		tok.Release()
		slog.Warn("failed to encode detection upload", "error", err, "seq", frame.Seq)
		return
	}

	e.beginDetecting()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.endDetecting()

		res, err := e.detector.DetectFrame(tok.Context(), upload)
		if err != nil {
			tok.Release()
			if errors.Is(err, context.Canceled) {
				slog.Debug("live detection cancelled", "seq", frame.Seq)
				return
			}
			e.mu.Lock()
			e.detectFailed++
			e.mu.Unlock()
			slog.Warn("live detection failed, overlay unchanged", "error", err, "seq", frame.Seq)
			return
		}

		var fire []types.MatchRecord
		applied := tok.Complete(func() {
			e.pools.Ingest(res.Detections, e.clk.Now())
			fire = res.Matches
		})
		if !applied {
			slog.Debug("live detection result discarded", "seq", frame.Seq)
			return
		}

		e.mu.Lock()
		e.detectApplied++
		e.mu.Unlock()

		if len(fire) > 0 {
			e.deduper.Submit(ctx, fire)
		}

		slog.Debug("live detections merged",
			"seq", frame.Seq,
			"detections", len(res.Detections),
			"matches", len(fire),
		)
	}()
}

// beginDetecting marks the in-flight phase. endDetecting drops back to
// previewing only if the session was not stopped meanwhile.
func (e *Engine) beginDetecting() {
	e.mu.Lock()
	if e.state == StatePreviewing {
		e.state = StateDetecting
	}
	e.mu.Unlock()
}

func (e *Engine) endDetecting() {
	e.mu.Lock()
	if e.state == StateDetecting {
		e.state = StatePreviewing
	}
	e.mu.Unlock()
}

// State returns the current session phase
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Running reports whether the live session is up
func (e *Engine) Running() bool {
	s := e.State()
	return s == StatePreviewing || s == StateDetecting
}

// DetectInterval returns the current detection tick period
func (e *Engine) DetectInterval() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.detectInterval
}

// SetDetectInterval changes the detection cadence. Takes effect on the
// next tick of a running session.
func (e *Engine) SetDetectInterval(d time.Duration) error {
	if d < 100*time.Millisecond {
		return fmt.Errorf("detect interval must be at least 100ms, got %v", d)
	}
	e.mu.Lock()
	e.detectInterval = d
	e.mu.Unlock()
	return nil
}

// ClearPools empties both detection pools and the alert history
func (e *Engine) ClearPools() {
	e.pools.Clear()
	e.deduper.Reset()
	slog.Info("detection pools and alert history cleared")
}

// Close tears the engine down for daemon shutdown: the live session,
// then every remaining in-flight channel operation.
func (e *Engine) Close() error {
	if err := e.StopSession(); err != nil {
		slog.Error("failed to stop session during engine close", "error", err)
	}
	e.slots.CancelAll()

	done := make(chan struct{})
	go func() {
		e.opsWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		slog.Warn("timeout waiting for channel operations to stop")
	}

	return nil
}

// CameraStats returns capture statistics for the running session, if any
func (e *Engine) CameraStats() (types.CaptureStats, bool) {
	e.mu.Lock()
	camera := e.camera
	e.mu.Unlock()
	if camera == nil {
		return types.CaptureStats{}, false
	}
	return camera.Stats(), true
}

// Stats returns live session counters
func (e *Engine) Stats() EngineStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return EngineStats{
		State:            e.state,
		PreviewTicks:     e.previewTicks,
		DetectApplied:    e.detectApplied,
		DetectFailed:     e.detectFailed,
		DetectIntervalMS: e.detectInterval.Milliseconds(),
	}
}

// Slots exposes the request channel table for status reporting
func (e *Engine) Slots() *reqslot.Table {
	return e.slots
}
