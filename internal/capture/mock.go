package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Madhusudan-6304/ApnaCriminal/internal/types"
)

// MockCamera generates synthetic JPEG frames for development and tests.
// Each frame shows a light block sweeping across a dark field so motion
// is visible in previews.
type MockCamera struct {
	width   int
	height  int
	fps     int
	quality int

	framesCh chan types.Frame
	stopCh   chan struct{}
	wg       sync.WaitGroup

	mu            sync.RWMutex
	seq           uint64
	framesEmitted uint64
	isRunning     bool
	startTime     time.Time
}

// NewMockCamera creates a mock camera. Quality is the JPEG encode
// quality, 1 to 100.
func NewMockCamera(width, height, fps, quality int) (*MockCamera, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid resolution: %dx%d", width, height)
	}
	if fps <= 0 || fps > 30 {
		return nil, fmt.Errorf("invalid fps: %d (must be between 1 and 30)", fps)
	}
	if quality < 1 || quality > 100 {
		return nil, fmt.Errorf("invalid jpeg quality: %d", quality)
	}
	return &MockCamera{
		width:    width,
		height:   height,
		fps:      fps,
		quality:  quality,
		framesCh: make(chan types.Frame, 10),
		stopCh:   make(chan struct{}),
	}, nil
}

// Start begins generating frames.
func (m *MockCamera) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.isRunning {
		m.mu.Unlock()
		return fmt.Errorf("mock camera already running")
	}
	m.isRunning = true
	m.startTime = time.Now()
	m.mu.Unlock()

	slog.Info("mock camera starting",
		"width", m.width,
		"height", m.height,
		"fps", m.fps,
	)

	m.wg.Add(1)
	go m.generateFrames(ctx)

	return nil
}

// Frames returns the frames channel.
func (m *MockCamera) Frames() <-chan types.Frame {
	return m.framesCh
}

// Stop stops the camera.
func (m *MockCamera) Stop() error {
	m.mu.Lock()
	if !m.isRunning {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	close(m.stopCh)
	m.wg.Wait()
	close(m.framesCh)

	m.mu.Lock()
	m.isRunning = false
	m.mu.Unlock()

	slog.Info("mock camera stopped",
		"frames_emitted", m.framesEmitted,
		"duration", time.Since(m.startTime),
	)

	return nil
}

// Stats returns capture statistics.
func (m *MockCamera) Stats() types.CaptureStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var fpsReal float64
	if m.isRunning && m.framesEmitted > 0 {
		elapsed := time.Since(m.startTime).Seconds()
		if elapsed > 0 {
			fpsReal = float64(m.framesEmitted) / elapsed
		}
	}

	return types.CaptureStats{
		FrameCount:  m.framesEmitted,
		FPSTarget:   m.fps,
		FPSReal:     fpsReal,
		Source:      "mock",
		Resolution:  fmt.Sprintf("%dx%d", m.width, m.height),
		IsConnected: m.isRunning,
	}
}

func (m *MockCamera) generateFrames(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(time.Second / time.Duration(m.fps))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			frame, err := m.createFrame()
			if err != nil {
				slog.Warn("mock frame encode failed", "error", err)
				continue
			}
			select {
			case m.framesCh <- frame:
				m.mu.Lock()
				m.framesEmitted++
				m.mu.Unlock()
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			}
		}
	}
}

func (m *MockCamera) createFrame() (types.Frame, error) {
	m.mu.Lock()
	seq := m.seq
	m.seq++
	m.mu.Unlock()

	img := image.NewRGBA(image.Rect(0, 0, m.width, m.height))
	bg := color.RGBA{R: 24, G: 28, B: 32, A: 255}
	for y := 0; y < m.height; y++ {
		for x := 0; x < m.width; x++ {
			img.SetRGBA(x, y, bg)
		}
	}

	// Sweep a block left to right, one lap per 100 frames.
	block := m.width / 8
	if block < 8 {
		block = 8
	}
	x0 := int(seq%100) * (m.width - block) / 100
	y0 := m.height/2 - block/2
	fg := color.RGBA{R: 200, G: 200, B: 210, A: 255}
	for y := y0; y < y0+block && y < m.height; y++ {
		for x := x0; x < x0+block && x < m.width; x++ {
			if x >= 0 && y >= 0 {
				img.SetRGBA(x, y, fg)
			}
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: m.quality}); err != nil {
		return types.Frame{}, fmt.Errorf("jpeg encode: %w", err)
	}

	return types.Frame{
		Seq:          seq,
		Timestamp:    time.Now(),
		Width:        m.width,
		Height:       m.height,
		Data:         buf.Bytes(),
		SourceStream: "mock",
		TraceID:      uuid.New().String(),
	}, nil
}
