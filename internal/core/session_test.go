package core

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Madhusudan-6304/ApnaCriminal/internal/alert"
	"github.com/Madhusudan-6304/ApnaCriminal/internal/config"
	"github.com/Madhusudan-6304/ApnaCriminal/internal/detect"
	"github.com/Madhusudan-6304/ApnaCriminal/internal/overlay"
	"github.com/Madhusudan-6304/ApnaCriminal/internal/pool"
	"github.com/Madhusudan-6304/ApnaCriminal/internal/types"
)

// testJPEG encodes a small blank image for use as frame data.
func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h)), &jpeg.Options{Quality: 80}); err != nil {
		t.Fatalf("Failed to encode test jpeg: %v", err)
	}
	return buf.Bytes()
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(d time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}

type fakeCamera struct {
	frames   chan types.Frame
	startErr error

	mu      sync.Mutex
	running bool
	stops   int
}

func newFakeCamera() *fakeCamera {
	return &fakeCamera{frames: make(chan types.Frame, 16)}
}

func (c *fakeCamera) Start(ctx context.Context) error {
	if c.startErr != nil {
		return c.startErr
	}
	c.mu.Lock()
	c.running = true
	c.mu.Unlock()
	return nil
}

func (c *fakeCamera) Frames() <-chan types.Frame { return c.frames }

func (c *fakeCamera) Stop() error {
	c.mu.Lock()
	c.running = false
	c.stops++
	c.mu.Unlock()
	return nil
}

func (c *fakeCamera) Stats() types.CaptureStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return types.CaptureStats{Source: "fake", IsConnected: c.running}
}

func (c *fakeCamera) stopCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stops
}

// feed pushes frames at a steady cadence until the returned func is
// called. Frames are dropped when the channel is full, like a real
// capture source outpacing the consumer.
func (c *fakeCamera) feed(data []byte) func() {
	stop := make(chan struct{})
	go func() {
		var seq uint64
		for {
			select {
			case <-stop:
				return
			case <-time.After(5 * time.Millisecond):
				seq++
				select {
				case c.frames <- types.Frame{Seq: seq, Timestamp: time.Now(), Data: data, SourceStream: "fake"}:
				default:
				}
			}
		}
	}()
	return func() { close(stop) }
}

// fakeDetector scripts detector behavior per call kind. Nil funcs
// answer with an empty result.
type fakeDetector struct {
	imageFn  func(ctx context.Context, jpeg []byte) (*detect.ImageResult, error)
	sketchFn func(ctx context.Context, jpeg []byte) (*detect.ImageResult, error)
	frameFn  func(ctx context.Context, jpeg []byte) (*detect.ImageResult, error)
	videoFn  func(ctx context.Context, video io.Reader, filename string) (*detect.StreamDecoder, error)
}

func (d *fakeDetector) DetectImage(ctx context.Context, jpeg []byte) (*detect.ImageResult, error) {
	if d.imageFn != nil {
		return d.imageFn(ctx, jpeg)
	}
	return &detect.ImageResult{}, nil
}

func (d *fakeDetector) DetectSketch(ctx context.Context, jpeg []byte) (*detect.ImageResult, error) {
	if d.sketchFn != nil {
		return d.sketchFn(ctx, jpeg)
	}
	return &detect.ImageResult{}, nil
}

func (d *fakeDetector) DetectFrame(ctx context.Context, jpeg []byte) (*detect.ImageResult, error) {
	if d.frameFn != nil {
		return d.frameFn(ctx, jpeg)
	}
	return &detect.ImageResult{}, nil
}

func (d *fakeDetector) DetectVideo(ctx context.Context, video io.Reader, filename string) (*detect.StreamDecoder, error) {
	if d.videoFn != nil {
		return d.videoFn(ctx, video, filename)
	}
	return detect.NewStreamDecoder(io.NopCloser(strings.NewReader(""))), nil
}

func (d *fakeDetector) Stats() detect.ClientStats { return detect.ClientStats{} }

// recordingNotifier captures deduped alert batches.
type recordingNotifier struct {
	mu      sync.Mutex
	batches [][]types.MatchRecord
}

func (n *recordingNotifier) Notify(_ context.Context, matches []types.MatchRecord) error {
	n.mu.Lock()
	n.batches = append(n.batches, matches)
	n.mu.Unlock()
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.batches)
}

// eventRecorder captures engine events.
type eventRecorder struct {
	mu     sync.Mutex
	kinds  []string
	byKind map[string]map[string]interface{}
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{byKind: make(map[string]map[string]interface{})}
}

func (r *eventRecorder) record(kind string, data map[string]interface{}) {
	r.mu.Lock()
	r.kinds = append(r.kinds, kind)
	r.byKind[kind] = data
	r.mu.Unlock()
}

func (r *eventRecorder) seen(kind string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byKind[kind]
	return ok
}

func (r *eventRecorder) data(kind string) map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byKind[kind]
}

func (r *eventRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.kinds...)
}

// newTestEngine builds an engine with fast tick intervals and an
// in-memory alert sink.
func newTestEngine(t *testing.T, det Detector) (*Engine, *pool.Manager, *recordingNotifier) {
	t.Helper()

	cfg := &config.Config{}
	cfg.Session.PreviewIntervalMS = 10
	cfg.Session.DetectIntervalMS = 25
	cfg.Session.JPEGQuality = 80

	pools := pool.New(pool.Config{
		ConfirmedTTL: time.Minute,
		UnknownTTL:   5 * time.Second,
		TolerancePx:  50,
		UnknownGrace: time.Second,
		AlertWindow:  10 * time.Second,
	})

	renderer, err := overlay.NewRenderer(overlay.Config{
		Width:          64,
		Height:         48,
		ConfirmedTTL:   time.Minute,
		UnknownTTL:     5 * time.Second,
		ConfirmedFloor: 0.45,
		UnknownFloor:   0.25,
		BannerTTL:      4 * time.Second,
		RedrawInterval: 200 * time.Millisecond,
		JPEGQuality:    80,
	}, pools, nil)
	if err != nil {
		t.Fatalf("Failed to create renderer: %v", err)
	}

	rec := &recordingNotifier{}
	deduper, err := alert.NewDeduper(30*time.Second, rec, nil)
	if err != nil {
		t.Fatalf("Failed to create deduper: %v", err)
	}

	return NewEngine(cfg, det, pools, renderer, deduper, nil), pools, rec
}

// TestSessionLifecycle verifies the start/stop cycle: previewing after
// start, stopped after stop with the device released, and a clean
// restart afterwards.
func TestSessionLifecycle(t *testing.T) {
	engine, _, _ := newTestEngine(t, &fakeDetector{})
	cam := newFakeCamera()

	if engine.State() != StateIdle {
		t.Errorf("Expected idle before start, got %s", engine.State())
	}

	if err := engine.StartSession(context.Background(), cam); err != nil {
		t.Fatalf("Failed to start session: %v", err)
	}
	if !engine.Running() {
		t.Errorf("Expected session running after start")
	}

	stop := cam.feed(testJPEG(t, 32, 24))
	defer stop()

	if !waitFor(time.Second, func() bool { return engine.Stats().PreviewTicks > 0 }) {
		t.Fatalf("Expected preview ticks after start, got %d", engine.Stats().PreviewTicks)
	}

	if err := engine.StopSession(); err != nil {
		t.Fatalf("Failed to stop session: %v", err)
	}
	if engine.State() != StateStopped {
		t.Errorf("Expected stopped after stop, got %s", engine.State())
	}
	if cam.stopCount() != 1 {
		t.Errorf("Expected capture device released once, got %d", cam.stopCount())
	}
	if _, ok := engine.CameraStats(); ok {
		t.Errorf("Expected no camera stats after stop")
	}

	if err := engine.StartSession(context.Background(), cam); err != nil {
		t.Fatalf("Failed to restart session: %v", err)
	}
	if engine.State() != StatePreviewing {
		t.Errorf("Expected previewing after restart, got %s", engine.State())
	}
	if err := engine.StopSession(); err != nil {
		t.Fatalf("Failed to stop restarted session: %v", err)
	}
}

// TestStartSessionCaptureUnavailable verifies that a failing capture
// device is fatal to session start and leaves the engine idle.
func TestStartSessionCaptureUnavailable(t *testing.T) {
	engine, _, _ := newTestEngine(t, &fakeDetector{})
	cam := newFakeCamera()
	cam.startErr = io.ErrUnexpectedEOF

	err := engine.StartSession(context.Background(), cam)
	if err == nil {
		t.Fatalf("Expected error when capture device fails to start")
	}
	if !strings.Contains(err.Error(), "capture device unavailable") {
		t.Errorf("Expected capture device unavailable error, got %v", err)
	}
	if engine.State() != StateIdle {
		t.Errorf("Expected idle after failed start, got %s", engine.State())
	}
}

// TestStartSessionAlreadyRunning verifies that a second start is
// refused while a session is up.
func TestStartSessionAlreadyRunning(t *testing.T) {
	engine, _, _ := newTestEngine(t, &fakeDetector{})
	cam := newFakeCamera()

	if err := engine.StartSession(context.Background(), cam); err != nil {
		t.Fatalf("Failed to start session: %v", err)
	}
	defer engine.StopSession()

	if err := engine.StartSession(context.Background(), newFakeCamera()); err == nil {
		t.Errorf("Expected error starting a second session")
	}
}

// TestDetectTickMergesResults verifies the live detection path end to
// end: a frame is submitted, the response detections land in the pools
// and the match reaches the notifier.
func TestDetectTickMergesResults(t *testing.T) {
	det := &fakeDetector{
		frameFn: func(ctx context.Context, jpeg []byte) (*detect.ImageResult, error) {
			return &detect.ImageResult{
				Detections: []types.Detection{{
					Box:   types.PixelRect{X1: 10, Y1: 10, X2: 60, Y2: 60},
					Name:  "ravi",
					Score: 0.91,
				}},
				Matches: []types.MatchRecord{{Name: "ravi", Score: 0.91}},
			}, nil
		},
	}
	engine, pools, rec := newTestEngine(t, det)
	cam := newFakeCamera()

	if err := engine.StartSession(context.Background(), cam); err != nil {
		t.Fatalf("Failed to start session: %v", err)
	}
	defer engine.StopSession()

	stop := cam.feed(testJPEG(t, 32, 24))
	defer stop()

	if !waitFor(2*time.Second, func() bool { return engine.Stats().DetectApplied > 0 }) {
		t.Fatalf("Expected applied detections, got %+v", engine.Stats())
	}
	if pools.Stats().ConfirmedActive != 1 {
		t.Errorf("Expected 1 confirmed pool entry, got %d", pools.Stats().ConfirmedActive)
	}
	if rec.count() == 0 {
		t.Errorf("Expected match to reach the notifier")
	}
}

// TestDetectBackpressureSkipsTicks verifies that detection ticks are
// skipped whole while a request is in flight and that the preview tick
// keeps running meanwhile.
func TestDetectBackpressureSkipsTicks(t *testing.T) {
	entered := make(chan struct{})
	gate := make(chan struct{})
	var once sync.Once
	det := &fakeDetector{
		frameFn: func(ctx context.Context, jpeg []byte) (*detect.ImageResult, error) {
			once.Do(func() { close(entered) })
			select {
			case <-gate:
				return &detect.ImageResult{}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}
	engine, _, _ := newTestEngine(t, det)
	cam := newFakeCamera()

	if err := engine.StartSession(context.Background(), cam); err != nil {
		t.Fatalf("Failed to start session: %v", err)
	}
	defer engine.StopSession()

	stop := cam.feed(testJPEG(t, 32, 24))
	defer stop()

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("Detector never received a frame")
	}

	if engine.State() != StateDetecting {
		t.Errorf("Expected detecting while a request is in flight, got %s", engine.State())
	}

	slots := engine.Slots().Live
	if !waitFor(time.Second, func() bool { return slots.Stats().SkippedBusy >= 2 }) {
		t.Fatalf("Expected skipped ticks during the in-flight request, got %+v", slots.Stats())
	}
	if got := slots.Stats().Submitted; got != 1 {
		t.Errorf("Expected a single submitted request, got %d", got)
	}

	base := engine.Stats().PreviewTicks
	if !waitFor(time.Second, func() bool { return engine.Stats().PreviewTicks >= base+2 }) {
		t.Errorf("Expected preview ticks to continue during detection, got %d after %d", engine.Stats().PreviewTicks, base)
	}

	close(gate)
	if !waitFor(time.Second, func() bool { return engine.Stats().DetectApplied >= 1 }) {
		t.Errorf("Expected the in-flight request to apply after release, got %+v", engine.Stats())
	}
	if !waitFor(time.Second, func() bool { return engine.State() == StatePreviewing }) {
		t.Errorf("Expected previewing after the request finished, got %s", engine.State())
	}
}

// TestStopSessionCancelsInflightDetection verifies that stop aborts the
// in-flight live request and its late result never lands.
func TestStopSessionCancelsInflightDetection(t *testing.T) {
	entered := make(chan struct{})
	var once sync.Once
	det := &fakeDetector{
		frameFn: func(ctx context.Context, jpeg []byte) (*detect.ImageResult, error) {
			once.Do(func() { close(entered) })
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	engine, pools, rec := newTestEngine(t, det)
	cam := newFakeCamera()

	if err := engine.StartSession(context.Background(), cam); err != nil {
		t.Fatalf("Failed to start session: %v", err)
	}

	stop := cam.feed(testJPEG(t, 32, 24))
	defer stop()

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("Detector never received a frame")
	}

	if err := engine.StopSession(); err != nil {
		t.Fatalf("Failed to stop session: %v", err)
	}

	stats := engine.Stats()
	if stats.DetectApplied != 0 {
		t.Errorf("Expected no applied detections after cancelled request, got %d", stats.DetectApplied)
	}
	if stats.DetectFailed != 0 {
		t.Errorf("Expected cancellation not to count as failure, got %d", stats.DetectFailed)
	}
	if pools.Stats().Ingested != 0 {
		t.Errorf("Expected no pool mutation from the cancelled request, got %d", pools.Stats().Ingested)
	}
	if rec.count() != 0 {
		t.Errorf("Expected no notification from the cancelled request, got %d", rec.count())
	}
}

// TestStopSessionClearsState verifies that stop clears the pools and
// the alert history so a restarted session begins clean.
func TestStopSessionClearsState(t *testing.T) {
	det := &fakeDetector{
		frameFn: func(ctx context.Context, jpeg []byte) (*detect.ImageResult, error) {
			return &detect.ImageResult{
				Detections: []types.Detection{{
					Box:   types.PixelRect{X1: 10, Y1: 10, X2: 60, Y2: 60},
					Name:  "ravi",
					Score: 0.91,
				}},
				Matches: []types.MatchRecord{{Name: "ravi", Score: 0.91}},
			}, nil
		},
	}
	engine, pools, rec := newTestEngine(t, det)
	cam := newFakeCamera()

	if err := engine.StartSession(context.Background(), cam); err != nil {
		t.Fatalf("Failed to start session: %v", err)
	}

	stop := cam.feed(testJPEG(t, 32, 24))
	defer stop()

	if !waitFor(2*time.Second, func() bool { return engine.Stats().DetectApplied > 0 }) {
		t.Fatalf("Expected applied detections before stop")
	}
	if err := engine.StopSession(); err != nil {
		t.Fatalf("Failed to stop session: %v", err)
	}

	if pools.Stats().ConfirmedActive != 0 {
		t.Errorf("Expected pools cleared after stop, got %d confirmed", pools.Stats().ConfirmedActive)
	}

	// The alert history is gone too: the same match fires again after
	// a restart instead of being suppressed by the old cooldown.
	sent := rec.count()
	if err := engine.StartSession(context.Background(), cam); err != nil {
		t.Fatalf("Failed to restart session: %v", err)
	}
	defer engine.StopSession()

	if !waitFor(2*time.Second, func() bool { return rec.count() > sent }) {
		t.Errorf("Expected the same match to notify again after restart, got %d batches", rec.count())
	}
}

// TestSetDetectIntervalBounds verifies the interval floor and that a
// valid change is reflected in the stats.
func TestSetDetectIntervalBounds(t *testing.T) {
	engine, _, _ := newTestEngine(t, &fakeDetector{})

	if err := engine.SetDetectInterval(50 * time.Millisecond); err == nil {
		t.Errorf("Expected error for interval below 100ms")
	}
	if err := engine.SetDetectInterval(200 * time.Millisecond); err != nil {
		t.Errorf("Failed to set valid interval: %v", err)
	}
	if got := engine.Stats().DetectIntervalMS; got != 200 {
		t.Errorf("Expected interval 200ms, got %d", got)
	}
}

// TestStopSessionIdle verifies that stopping without a session is a
// harmless no-op.
func TestStopSessionIdle(t *testing.T) {
	engine, _, _ := newTestEngine(t, &fakeDetector{})

	if err := engine.StopSession(); err != nil {
		t.Errorf("Expected nil stopping an idle engine, got %v", err)
	}
	if engine.State() != StateIdle {
		t.Errorf("Expected state unchanged, got %s", engine.State())
	}
}
