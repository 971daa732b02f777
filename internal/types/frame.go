package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Frame represents a single captured video frame
type Frame struct {
	// Seq is the monotonic sequence number
	Seq uint64
	// Timestamp is when the frame was captured/decoded
	Timestamp time.Time
	// Width in pixels
	Width int
	// Height in pixels
	Height int
	// Data contains the encoded frame (JPEG)
	Data []byte
	// SourceStream identifies the capture source ("rtsp", "mock")
	SourceStream string
	// TraceID is a unique identifier for tracing a frame across the pipeline
	TraceID string
}

// FrameSource is one displayable unit: a base image plus the detections
// that arrived with it. Produced by the live loop or the stream decoder
// and consumed exactly once by the renderer.
type FrameSource struct {
	// Image contains the base image (JPEG)
	Image []byte
	// Label is an optional caption ("live", "video frame 12")
	Label string
	// Detections that arrived with this image (may be empty for previews)
	Detections []Detection
	// Timestamp is when the source was produced
	Timestamp time.Time
}

// PixelRect is an axis-aligned rectangle in image-pixel coordinates.
// The wire form is the 4-element array [x1, y1, x2, y2] used by the
// detector responses.
type PixelRect struct {
	X1 int
	Y1 int
	X2 int
	Y2 int
}

// Width returns the rectangle width in pixels
func (r PixelRect) Width() int { return r.X2 - r.X1 }

// Height returns the rectangle height in pixels
func (r PixelRect) Height() int { return r.Y2 - r.Y1 }

// Clamp constrains the rectangle to the given frame dimensions
func (r *PixelRect) Clamp(frameWidth, frameHeight int) {
	if r.X1 < 0 {
		r.X1 = 0
	}
	if r.Y1 < 0 {
		r.Y1 = 0
	}
	if r.X2 > frameWidth {
		r.X2 = frameWidth
	}
	if r.Y2 > frameHeight {
		r.Y2 = frameHeight
	}
}

// CornersWithin reports whether both corners of r are within tol pixels
// of the corresponding corners of other. This is the spatial-tolerance
// match used to track a jittering face across frames.
func (r PixelRect) CornersWithin(other PixelRect, tol int) bool {
	return absInt(r.X1-other.X1) <= tol &&
		absInt(r.Y1-other.Y1) <= tol &&
		absInt(r.X2-other.X2) <= tol &&
		absInt(r.Y2-other.Y2) <= tol
}

// MarshalJSON encodes the rectangle in its wire form [x1, y1, x2, y2]
func (r PixelRect) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]int{r.X1, r.Y1, r.X2, r.Y2})
}

// UnmarshalJSON accepts the wire form [x1, y1, x2, y2]. Coordinates may
// arrive as floats and are truncated to integers.
func (r *PixelRect) UnmarshalJSON(data []byte) error {
	var corners [4]float64
	if err := json.Unmarshal(data, &corners); err != nil {
		return fmt.Errorf("box must be [x1, y1, x2, y2]: %w", err)
	}
	r.X1 = int(corners[0])
	r.Y1 = int(corners[1])
	r.X2 = int(corners[2])
	r.Y2 = int(corners[3])
	return nil
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
