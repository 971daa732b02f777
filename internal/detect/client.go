package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Madhusudan-6304/ApnaCriminal/internal/types"
)

// Detector endpoints
const (
	pathDetectImage  = "/api/detect/image"
	pathDetectSketch = "/api/detect/sketch"
	pathDetectVideo  = "/api/detect/video"
)

// ImageResult is the detector's answer for a single image: the annotated
// JPEG body plus the structured sidecar carried in response headers.
type ImageResult struct {
	Annotated  []byte
	Detections []types.Detection
	Matches    []types.MatchRecord
}

// Client talks to the remote detector. Single-image requests are bounded
// by the configured timeout; live frames and video streams rely on
// caller cancellation instead (a failed live frame is naturally
// superseded by the next tick).
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client

	images   uint64
	sketches uint64
	videos   uint64
	failures uint64
}

// ClientStats contains request counters
type ClientStats struct {
	Images   uint64 `json:"images"`
	Sketches uint64 `json:"sketches"`
	Videos   uint64 `json:"videos"`
	Failures uint64 `json:"failures"`
}

// NewClient creates a detector client for the given base URL
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		// No overall client timeout: video responses stream for minutes.
		// Single-shot requests wrap their context instead.
		http: &http.Client{},
	}
}

// DetectImage submits one image and waits for the annotated response,
// bounded by the request timeout.
func (c *Client) DetectImage(ctx context.Context, jpeg []byte) (*ImageResult, error) {
	atomic.AddUint64(&c.images, 1)
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.postImage(ctx, pathDetectImage, jpeg, "image.jpg")
}

// DetectSketch submits a sketch image, bounded by the request timeout.
func (c *Client) DetectSketch(ctx context.Context, jpeg []byte) (*ImageResult, error) {
	atomic.AddUint64(&c.sketches, 1)
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.postImage(ctx, pathDetectSketch, jpeg, "sketch.jpg")
}

// DetectFrame submits one live frame with no timeout: a stalled frame is
// superseded by the next detection tick rather than timed out.
func (c *Client) DetectFrame(ctx context.Context, jpeg []byte) (*ImageResult, error) {
	atomic.AddUint64(&c.images, 1)
	return c.postImage(ctx, pathDetectImage, jpeg, "frame.jpg")
}

// DetectVideo streams a video file to the detector and returns a decoder
// over the NDJSON response. The caller owns the decoder and must Close
// it; cancelling ctx aborts the upload and the stream.
func (c *Client) DetectVideo(ctx context.Context, video io.Reader, filename string) (*StreamDecoder, error) {
	atomic.AddUint64(&c.videos, 1)

	// Stream the multipart body through a pipe so the file is never
	// buffered whole in memory.
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", filename)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, video); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+pathDetectVideo, pr)
	if err != nil {
		atomic.AddUint64(&c.failures, 1)
		return nil, fmt.Errorf("detect: failed to build video request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		atomic.AddUint64(&c.failures, 1)
		return nil, fmt.Errorf("detect: video request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		atomic.AddUint64(&c.failures, 1)
		return nil, fmt.Errorf("detect: video request failed: %s", resp.Status)
	}

	slog.Debug("detect: video stream opened",
		"filename", filename,
		"content_type", resp.Header.Get("Content-Type"),
	)

	return NewStreamDecoder(resp.Body), nil
}

// Stats returns request counters
func (c *Client) Stats() ClientStats {
	return ClientStats{
		Images:   atomic.LoadUint64(&c.images),
		Sketches: atomic.LoadUint64(&c.sketches),
		Videos:   atomic.LoadUint64(&c.videos),
		Failures: atomic.LoadUint64(&c.failures),
	}
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// postImage uploads one image and parses the annotated-JPEG-plus-headers
// response envelope.
func (c *Client) postImage(ctx context.Context, path string, jpeg []byte, filename string) (*ImageResult, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("detect: failed to build upload: %w", err)
	}
	if _, err := part.Write(jpeg); err != nil {
		return nil, fmt.Errorf("detect: failed to build upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("detect: failed to build upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &body)
	if err != nil {
		return nil, fmt.Errorf("detect: failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		atomic.AddUint64(&c.failures, 1)
		return nil, fmt.Errorf("detect: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		atomic.AddUint64(&c.failures, 1)
		return nil, fmt.Errorf("detect: request failed: %s", resp.Status)
	}

	annotated, err := io.ReadAll(resp.Body)
	if err != nil {
		atomic.AddUint64(&c.failures, 1)
		return nil, fmt.Errorf("detect: failed to read response body: %w", err)
	}

	res := &ImageResult{Annotated: annotated}

	// Structured results ride out-of-band in response headers; a missing
	// header means an empty list, a corrupt one poisons only this unit.
	if h := resp.Header.Get("X-Detections"); h != "" {
		if err := json.Unmarshal([]byte(h), &res.Detections); err != nil {
			return nil, fmt.Errorf("detect: malformed X-Detections header: %w", err)
		}
	}
	if h := resp.Header.Get("X-Matches"); h != "" {
		if err := json.Unmarshal([]byte(h), &res.Matches); err != nil {
			return nil, fmt.Errorf("detect: malformed X-Matches header: %w", err)
		}
	}

	return res, nil
}
