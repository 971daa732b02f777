package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/nfnt/resize"

	"github.com/Madhusudan-6304/ApnaCriminal/internal/detect"
	"github.com/Madhusudan-6304/ApnaCriminal/internal/reqslot"
	"github.com/Madhusudan-6304/ApnaCriminal/internal/types"
)

// DetectImageFile submits a photo from disk on the image channel
func (e *Engine) DetectImageFile(ctx context.Context, path string) (map[string]interface{}, error) {
	return e.detectStill(ctx, e.slots.Image, path, e.detector.DetectImage, "image")
}

// DetectSketchFile submits a sketch from disk on the sketch channel
func (e *Engine) DetectSketchFile(ctx context.Context, path string) (map[string]interface{}, error) {
	return e.detectStill(ctx, e.slots.Sketch, path, e.detector.DetectSketch, "sketch")
}

// detectStill runs one single-shot detection: read the file, submit it
// on the channel slot (superseding any prior request there), then show
// the annotated result and merge its detections. A superseded request
// reports as such; its response never touches shared state.
func (e *Engine) detectStill(ctx context.Context, slot *reqslot.Slot, path string, call func(context.Context, []byte) (*detect.ImageResult, error), kind string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s file: %w", kind, err)
	}

	tok := slot.Begin(ctx)

	res, err := call(tok.Context(), data)
	if err != nil {
		tok.Release()
		if errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("%s detection superseded by a newer request", kind)
		}
		return nil, err
	}

	var fire []types.MatchRecord
	applied := tok.Complete(func() {
		e.renderer.SetBase(types.Frame{
			Timestamp:    e.clk.Now(),
			Data:         res.Annotated,
			SourceStream: kind,
			TraceID:      uuid.New().String(),
		})
		e.pools.Ingest(res.Detections, e.clk.Now())
		fire = res.Matches
	})
	if !applied {
		return nil, fmt.Errorf("%s detection superseded by a newer request", kind)
	}

	alerts := 0
	if len(fire) > 0 {
		alerts = e.deduper.Submit(ctx, fire)
	}

	names := make([]string, 0, len(res.Matches))
	for _, m := range res.Matches {
		names = append(names, m.Name)
	}

	slog.Info("still detection complete",
		"kind", kind,
		"file", filepath.Base(path),
		"detections", len(res.Detections),
		"matches", len(names),
	)

	return map[string]interface{}{
		"detections": len(res.Detections),
		"matches":    names,
		"alerts":     alerts,
	}, nil
}

// SubmitVideo opens batch video detection on the video channel. The
// call returns once the response stream is open; frames and the final
// summary apply asynchronously as events arrive. A second submission
// supersedes the first mid-stream.
func (e *Engine) SubmitVideo(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open video file: %w", err)
	}

	tok := e.slots.Video.Begin(ctx)

	dec, err := e.detector.DetectVideo(tok.Context(), f, filepath.Base(path))
	if err != nil {
		f.Close()
		tok.Release()
		return err
	}

	e.opsWG.Add(1)
	go e.consumeVideo(dec, tok, f, filepath.Base(path))

	return nil
}

// CancelVideo aborts the in-flight video stream, if any
func (e *Engine) CancelVideo() bool {
	cancelled := e.slots.Video.Cancel()
	if cancelled {
		slog.Info("video detection cancelled")
		e.event("video_cancelled", nil)
	}
	return cancelled
}

// consumeVideo applies stream events until the response ends, the
// request is cancelled, or a newer submission supersedes it. Each unit
// applies through the token so supersession cuts mutation off at an
// event boundary.
func (e *Engine) consumeVideo(dec *detect.StreamDecoder, tok *reqslot.Token, file io.Closer, name string) {
	defer e.opsWG.Done()
	defer file.Close()
	defer dec.Close()

	frames := 0
	for {
		ev, err := dec.Next()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				tok.Complete(nil)
				stats := dec.Stats()
				slog.Info("video stream complete",
					"file", name,
					"frames", frames,
					"lines_decoded", stats.LinesDecoded,
					"lines_skipped", stats.LinesSkipped,
				)
			case errors.Is(err, context.Canceled):
				tok.Release()
				slog.Debug("video stream cancelled", "file", name, "frames", frames)
			default:
				tok.Release()
				slog.Warn("video stream aborted, overlay state kept", "error", err, "file", name)
			}
			return
		}

		switch ev.Type {
		case types.EventFrame:
			jpegBytes, err := ev.DecodeImage()
			if err != nil {
				slog.Warn("skipping undecodable video frame", "error", err, "index", ev.Index)
				continue
			}

			var fire []types.MatchRecord
			applied := tok.Do(func() {
				e.renderer.SetBase(types.Frame{
					Seq:          uint64(ev.Index),
					Timestamp:    e.clk.Now(),
					Data:         jpegBytes,
					SourceStream: "video",
					TraceID:      uuid.New().String(),
				})
				e.pools.Ingest(ev.Detections, e.clk.Now())
				fire = ev.Matches
			})
			if !applied {
				slog.Debug("video stream superseded, dropping remainder", "file", name)
				return
			}
			frames++
			if len(fire) > 0 {
				e.deduper.Submit(context.Background(), fire)
			}

		case types.EventDone:
			var fire []types.MatchRecord
			if tok.Do(func() { fire = ev.Matches }) {
				if len(fire) > 0 {
					e.deduper.Submit(context.Background(), fire)
				}
				e.event("video_done", map[string]interface{}{
					"file":    name,
					"frames":  frames,
					"matches": len(fire),
				})
			}
		}
	}
}

// prepareUpload re-encodes a captured frame for the detector: decoded,
// bounded to the configured width and re-encoded at reduced quality.
// The detector tolerates the smaller image and upload time drops.
func prepareUpload(jpegBytes []byte, maxWidth, quality int) ([]byte, error) {
	img, err := jpeg.Decode(bytes.NewReader(jpegBytes))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	if maxWidth > 0 && img.Bounds().Dx() > maxWidth {
		img = resize.Resize(uint(maxWidth), 0, img, resize.Bilinear)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode upload: %w", err)
	}
	return buf.Bytes(), nil
}
