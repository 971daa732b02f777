package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/Madhusudan-6304/ApnaCriminal/internal/types"
)

// RTSPCamera captures frames from an RTSP source through GStreamer.
// The pipeline decodes H.264, scales to the configured resolution,
// rate-limits at the source and re-encodes to JPEG, so every frame on
// the channel is ready for upload or preview without further work.
type RTSPCamera struct {
	rtspURL string
	width   int
	height  int
	fps     int
	quality int

	pipeline *gst.Pipeline
	appsink  *app.Sink

	frames chan types.Frame
	mu     sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	frameCount  uint64
	bytesRead   uint64
	errorCount  uint64
	reconnects  uint32
	started     time.Time
	lastFrameAt time.Time

	maxRetries     int
	retryDelay     time.Duration
	maxRetryDelay  time.Duration
	currentRetries int
}

// RTSPConfig contains RTSP capture configuration.
type RTSPConfig struct {
	URL     string
	Width   int
	Height  int
	FPS     int
	Quality int
}

// NewRTSPCamera validates the configuration and creates a camera. The
// pipeline is not built until Start.
func NewRTSPCamera(cfg RTSPConfig) (*RTSPCamera, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("rtsp_url is required")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid resolution: %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.FPS <= 0 || cfg.FPS > 30 {
		return nil, fmt.Errorf("invalid fps: %d (must be between 1 and 30)", cfg.FPS)
	}
	if cfg.Quality < 1 || cfg.Quality > 100 {
		return nil, fmt.Errorf("invalid jpeg quality: %d", cfg.Quality)
	}

	return &RTSPCamera{
		rtspURL:       cfg.URL,
		width:         cfg.Width,
		height:        cfg.Height,
		fps:           cfg.FPS,
		quality:       cfg.Quality,
		frames:        make(chan types.Frame, 10),
		maxRetries:    5,
		retryDelay:    1 * time.Second,
		maxRetryDelay: 30 * time.Second,
	}, nil
}

// Start initializes GStreamer and runs the pipeline in the background.
func (s *RTSPCamera) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return fmt.Errorf("camera already started")
	}

	gst.Init(nil)

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = time.Now()

	s.wg.Add(1)
	go s.runPipeline()

	slog.Info("rtsp camera starting",
		"url", s.rtspURL,
		"resolution", fmt.Sprintf("%dx%d", s.width, s.height),
		"fps", s.fps,
	)

	return nil
}

// runPipeline keeps the pipeline alive, reconnecting with exponential
// backoff until the retry budget is spent or the context ends.
func (s *RTSPCamera) runPipeline() {
	defer s.wg.Done()
	defer close(s.frames)

	for {
		select {
		case <-s.ctx.Done():
			slog.Info("rtsp pipeline context cancelled")
			return
		default:
		}

		if err := s.connectAndStream(); err != nil {
			atomic.AddUint64(&s.errorCount, 1)
			slog.Error("rtsp pipeline error", "error", err)
		}

		select {
		case <-s.ctx.Done():
			return
		default:
		}

		s.currentRetries++
		atomic.AddUint32(&s.reconnects, 1)

		if s.currentRetries > s.maxRetries {
			slog.Error("max retries exceeded, stopping camera",
				"retries", s.currentRetries,
				"max_retries", s.maxRetries,
			)
			return
		}

		delay := s.retryDelay * time.Duration(1<<uint(s.currentRetries-1))
		if delay > s.maxRetryDelay {
			delay = s.maxRetryDelay
		}

		slog.Warn("reconnecting to rtsp source",
			"retry", s.currentRetries,
			"delay", delay,
		)

		select {
		case <-time.After(delay):
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *RTSPCamera) connectAndStream() error {
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	s.pipeline = pipeline

	// protocols=4 forces TCP, required for go2rtc compatibility
	rtspsrc, err := gst.NewElement("rtspsrc")
	if err != nil {
		return fmt.Errorf("failed to create rtspsrc: %w", err)
	}
	rtspsrc.SetProperty("location", s.rtspURL)
	rtspsrc.SetProperty("protocols", 4)
	rtspsrc.SetProperty("latency", 200)

	rtph264depay, _ := gst.NewElement("rtph264depay")
	avdecH264, _ := gst.NewElement("avdec_h264")
	videoconvert, _ := gst.NewElement("videoconvert")
	videoscale, _ := gst.NewElement("videoscale")

	videorate, _ := gst.NewElement("videorate")
	videorate.SetProperty("drop-only", true)
	videorate.SetProperty("skip-to-first", true)

	capsfilter, _ := gst.NewElement("capsfilter")
	caps := gst.NewCapsFromString(fmt.Sprintf(
		"video/x-raw,format=RGB,width=%d,height=%d,framerate=%d/1",
		s.width, s.height, s.fps,
	))
	capsfilter.SetProperty("caps", caps)

	jpegenc, _ := gst.NewElement("jpegenc")
	jpegenc.SetProperty("quality", s.quality)

	appsink, err := app.NewAppSink()
	if err != nil {
		return fmt.Errorf("failed to create appsink: %w", err)
	}
	s.appsink = appsink

	appsink.SetProperty("sync", false)
	appsink.SetProperty("max-buffers", 1)
	appsink.SetProperty("drop", true)

	appsink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			return s.onNewSample(sink)
		},
	})

	pipeline.AddMany(rtspsrc, rtph264depay, avdecH264, videoconvert, videoscale, videorate, capsfilter, jpegenc, appsink.Element)

	// rtspsrc pads are dynamic, linked in the pad-added callback below
	gst.ElementLinkMany(rtph264depay, avdecH264, videoconvert, videoscale, videorate, capsfilter, jpegenc, appsink.Element)

	rtspsrc.Connect("pad-added", func(self *gst.Element, srcPad *gst.Pad) {
		slog.Debug("rtspsrc pad added", "pad", srcPad.GetName())
		sinkPad := rtph264depay.GetStaticPad("sink")
		if sinkPad != nil {
			srcPad.Link(sinkPad)
		}
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("failed to set pipeline to playing: %w", err)
	}

	bus := pipeline.GetPipelineBus()
	for {
		select {
		case <-s.ctx.Done():
			pipeline.SetState(gst.StateNull)
			return nil
		default:
		}

		// Short poll keeps shutdown responsive.
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			slog.Info("rtsp end of stream")
			return nil

		case gst.MessageError:
			gerr := msg.ParseError()
			slog.Error("pipeline error",
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
			)
			return fmt.Errorf("pipeline error: %w", gerr)

		case gst.MessageStateChanged:
			if msg.Source() == pipeline.GetName() {
				_, newState := msg.ParseStateChanged()
				if newState == gst.StatePlaying {
					s.currentRetries = 0
					slog.Info("rtsp camera connected")
				}
			}
		}
	}
}

// onNewSample copies one encoded JPEG out of the pipeline.
func (s *RTSPCamera) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowEOS
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowError
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	defer buffer.Unmap()

	if len(data) == 0 {
		return gst.FlowOK
	}

	frameData := make([]byte, len(data))
	copy(frameData, data)

	frame := types.Frame{
		Seq:          atomic.AddUint64(&s.frameCount, 1),
		Timestamp:    time.Now(),
		Width:        s.width,
		Height:       s.height,
		Data:         frameData,
		SourceStream: "rtsp",
		TraceID:      uuid.New().String(),
	}

	s.mu.Lock()
	s.lastFrameAt = frame.Timestamp
	s.mu.Unlock()
	atomic.AddUint64(&s.bytesRead, uint64(len(data)))

	select {
	case s.frames <- frame:
	default:
		slog.Debug("dropping frame, channel full",
			"seq", frame.Seq,
			"trace_id", frame.TraceID,
		)
	}

	return gst.FlowOK
}

// Frames returns the channel of captured frames.
func (s *RTSPCamera) Frames() <-chan types.Frame {
	return s.frames
}

// Stop shuts the pipeline down and resets state so the camera can be
// started again.
func (s *RTSPCamera) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return fmt.Errorf("camera not started")
	}

	slog.Info("stopping rtsp camera")

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("rtsp camera stopped",
			"frames_received", atomic.LoadUint64(&s.frameCount),
			"reconnects", atomic.LoadUint32(&s.reconnects),
			"uptime", time.Since(s.started),
		)
	case <-time.After(3 * time.Second):
		slog.Warn("rtsp camera stop timeout, pipeline may still be running",
			"frames_received", atomic.LoadUint64(&s.frameCount),
			"uptime", time.Since(s.started),
		)
	}

	s.cancel = nil
	s.ctx = nil
	s.pipeline = nil
	s.appsink = nil
	s.currentRetries = 0
	s.frames = make(chan types.Frame, 10)

	return nil
}

// Stats returns current capture statistics.
func (s *RTSPCamera) Stats() types.CaptureStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	frameCount := atomic.LoadUint64(&s.frameCount)
	uptime := time.Since(s.started).Seconds()

	var fpsReal float64
	if uptime > 0 {
		fpsReal = float64(frameCount) / uptime
	}

	var latencyMS int64
	if !s.lastFrameAt.IsZero() {
		latencyMS = time.Since(s.lastFrameAt).Milliseconds()
	}

	return types.CaptureStats{
		FrameCount:  frameCount,
		FPSTarget:   s.fps,
		FPSReal:     fpsReal,
		LatencyMS:   latencyMS,
		Source:      "rtsp",
		Resolution:  fmt.Sprintf("%dx%d", s.width, s.height),
		Reconnects:  atomic.LoadUint32(&s.reconnects),
		BytesRead:   atomic.LoadUint64(&s.bytesRead),
		IsConnected: s.cancel != nil,
		Errors:      atomic.LoadUint64(&s.errorCount),
	}
}
