package overlay

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/Madhusudan-6304/ApnaCriminal/internal/pool"
	"github.com/Madhusudan-6304/ApnaCriminal/internal/types"
)

// fakePool is a PoolSource with settable entries.
type fakePool struct {
	mu      sync.Mutex
	entries []pool.Entry
}

func (f *fakePool) set(entries []pool.Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = entries
}

func (f *fakePool) Snapshot(now time.Time) []pool.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]pool.Entry(nil), f.entries...)
}

func testRendererConfig() Config {
	return Config{
		Width:          160,
		Height:         120,
		ConfirmedTTL:   60 * time.Second,
		UnknownTTL:     5 * time.Second,
		ConfirmedFloor: 0.45,
		UnknownFloor:   0.40,
		BannerTTL:      4 * time.Second,
		RedrawInterval: 200 * time.Millisecond,
		JPEGQuality:    70,
	}
}

func encodeTestJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: 80, G: 90, B: 100, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		t.Fatalf("encode test jpeg: %v", err)
	}
	return buf.Bytes()
}

// TestEntryAlphaFadeCurve verifies opacity follows max(floor, 1-age/ttl).
func TestEntryAlphaFadeCurve(t *testing.T) {
	r, err := NewRenderer(testRendererConfig(), &fakePool{}, clock.NewMock())
	if err != nil {
		t.Fatalf("NewRenderer failed: %v", err)
	}

	now := time.Now()
	tests := []struct {
		name string
		kind pool.Kind
		age  time.Duration
		want float64
	}{
		{"confirmed fresh", pool.KindConfirmed, 0, 1.0},
		{"confirmed half life", pool.KindConfirmed, 30 * time.Second, 0.5},
		{"confirmed at floor", pool.KindConfirmed, 57 * time.Second, 0.45},
		{"unknown fresh", pool.KindUnknown, 0, 1.0},
		{"unknown one second", pool.KindUnknown, 1 * time.Second, 0.8},
		{"unknown at floor", pool.KindUnknown, 4800 * time.Millisecond, 0.40},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := pool.Entry{Kind: tt.kind, Timestamp: now.Add(-tt.age)}
			got := r.entryAlpha(e, now)
			if math.Abs(got-tt.want) > 0.001 {
				t.Errorf("Expected alpha %.3f, got %.3f", tt.want, got)
			}
		})
	}
}

// TestRenderPlaceholderWithoutBase verifies a decodable placeholder is
// produced before any frame arrives.
func TestRenderPlaceholderWithoutBase(t *testing.T) {
	r, err := NewRenderer(testRendererConfig(), &fakePool{}, clock.NewMock())
	if err != nil {
		t.Fatalf("NewRenderer failed: %v", err)
	}

	frame, err := r.Render(time.Now())
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	img, err := jpeg.Decode(bytes.NewReader(frame.Data))
	if err != nil {
		t.Fatalf("Placeholder is not valid JPEG: %v", err)
	}
	if img.Bounds().Dx() != 160 || img.Bounds().Dy() != 120 {
		t.Errorf("Expected 160x120 placeholder, got %dx%d", img.Bounds().Dx(), img.Bounds().Dy())
	}
	if frame.Seq != 0 {
		t.Errorf("Expected zero seq for placeholder, got %d", frame.Seq)
	}
}

// TestRenderCompositesDetections verifies boxes change the output and
// frame identity is carried from the base.
func TestRenderCompositesDetections(t *testing.T) {
	pools := &fakePool{}
	r, err := NewRenderer(testRendererConfig(), pools, clock.NewMock())
	if err != nil {
		t.Fatalf("NewRenderer failed: %v", err)
	}

	now := time.Now()
	base := types.Frame{
		Seq:     42,
		TraceID: "trace-42",
		Width:   160,
		Height:  120,
		Data:    encodeTestJPEG(t, 160, 120),
	}
	r.SetBase(base)

	plain, err := r.Render(now)
	if err != nil {
		t.Fatalf("Render without entries failed: %v", err)
	}

	pools.set([]pool.Entry{{
		Detection: types.Detection{
			Name:  "John Doe",
			Score: 0.9,
			Box:   types.PixelRect{X1: 20, Y1: 20, X2: 100, Y2: 100},
		},
		Kind:      pool.KindConfirmed,
		Timestamp: now,
	}})

	painted, err := r.Render(now)
	if err != nil {
		t.Fatalf("Render with entries failed: %v", err)
	}

	if painted.Seq != 42 || painted.TraceID != "trace-42" {
		t.Errorf("Expected base identity carried, got seq=%d trace=%s", painted.Seq, painted.TraceID)
	}
	if bytes.Equal(plain.Data, painted.Data) {
		t.Error("Expected painted frame to differ from plain frame")
	}
	if _, err := jpeg.Decode(bytes.NewReader(painted.Data)); err != nil {
		t.Fatalf("Painted frame is not valid JPEG: %v", err)
	}

	stats := r.Stats()
	if stats.Rendered != 2 {
		t.Errorf("Expected 2 rendered, got %d", stats.Rendered)
	}
}

// TestRenderRejectsCorruptBase verifies a bad base frame is an error,
// not a panic.
func TestRenderRejectsCorruptBase(t *testing.T) {
	r, err := NewRenderer(testRendererConfig(), &fakePool{}, clock.NewMock())
	if err != nil {
		t.Fatalf("NewRenderer failed: %v", err)
	}

	r.SetBase(types.Frame{Data: []byte("not a jpeg")})

	if _, err := r.Render(time.Now()); err == nil {
		t.Fatal("Expected error for corrupt base frame")
	}
	if r.Stats().RenderErrors != 1 {
		t.Errorf("Expected 1 render error, got %d", r.Stats().RenderErrors)
	}
}

// TestBannerLifecycle verifies banners expire on TTL and can be
// dismissed early.
func TestBannerLifecycle(t *testing.T) {
	mock := clock.NewMock()
	r, err := NewRenderer(testRendererConfig(), &fakePool{}, mock)
	if err != nil {
		t.Fatalf("NewRenderer failed: %v", err)
	}

	id1 := r.RaiseBanner(types.AlertCriminal, "Criminal detected: John Doe")
	r.RaiseBanner(types.AlertMask, "Masked face detected")

	if got := len(r.Banners()); got != 2 {
		t.Fatalf("Expected 2 banners, got %d", got)
	}

	r.DismissBanner(id1)
	if got := len(r.Banners()); got != 1 {
		t.Fatalf("Expected 1 banner after dismiss, got %d", got)
	}

	mock.Add(5 * time.Second)
	if got := len(r.Banners()); got != 0 {
		t.Fatalf("Expected banners expired, got %d", got)
	}

	stats := r.Stats()
	if stats.BannersRaised != 2 || stats.BannersDismissed != 1 || stats.BannersExpired != 1 {
		t.Errorf("Unexpected banner stats: %+v", stats)
	}
}

// TestBannerStackKeepsNewest verifies the stack cap drops the oldest.
func TestBannerStackKeepsNewest(t *testing.T) {
	r, err := NewRenderer(testRendererConfig(), &fakePool{}, clock.NewMock())
	if err != nil {
		t.Fatalf("NewRenderer failed: %v", err)
	}

	for i := 0; i < 6; i++ {
		r.RaiseBanner(types.AlertFace, "Face sighted")
	}

	banners := r.Banners()
	if len(banners) != maxBanners {
		t.Fatalf("Expected %d banners, got %d", maxBanners, len(banners))
	}
	if banners[0].ID != 3 {
		t.Errorf("Expected oldest surviving banner id 3, got %d", banners[0].ID)
	}
}

// TestRenderLoopDeliversToSink verifies the redraw ticker pushes frames
// without any new input.
func TestRenderLoopDeliversToSink(t *testing.T) {
	cfg := testRendererConfig()
	cfg.RedrawInterval = 20 * time.Millisecond

	r, err := NewRenderer(cfg, &fakePool{}, clock.New())
	if err != nil {
		t.Fatalf("NewRenderer failed: %v", err)
	}

	frames := make(chan types.Frame, 16)
	r.OnRender(func(f types.Frame) {
		select {
		case frames <- f:
		default:
		}
	})

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer r.Stop()

	for i := 0; i < 2; i++ {
		select {
		case <-frames:
		case <-time.After(2 * time.Second):
			t.Fatal("Timeout waiting for rendered frame")
		}
	}

	r.Stop()
	r.Stop() // second stop is a no-op
}
