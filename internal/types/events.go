package types

import (
	"encoding/base64"
	"fmt"
)

// Stream event types produced by the batch video decoder
const (
	EventFrame = "frame"
	EventDone  = "done"
)

// StreamEvent is one record of the newline-delimited video response
// stream: either an annotated frame or the terminal match summary.
type StreamEvent struct {
	// Type is "frame" or "done"
	Type string `json:"type"`
	// Index is the zero-based frame index (frame events only)
	Index int `json:"index"`
	// FrameB64 is the base64-encoded annotated JPEG (frame events only)
	FrameB64 string `json:"frame,omitempty"`
	// Detections found in this frame
	Detections []Detection `json:"detections,omitempty"`
	// Matches is the per-frame match list, or the final summary on "done"
	Matches []MatchRecord `json:"matches,omitempty"`
}

// Validate rejects events of unknown shape at the ingestion boundary
func (e *StreamEvent) Validate() error {
	switch e.Type {
	case EventFrame:
		if e.FrameB64 == "" {
			return fmt.Errorf("frame event %d carries no image payload", e.Index)
		}
	case EventDone:
	default:
		return fmt.Errorf("unknown stream event type %q", e.Type)
	}
	return nil
}

// DecodeImage decodes the base64 frame payload into JPEG bytes
func (e *StreamEvent) DecodeImage() ([]byte, error) {
	if e.Type != EventFrame {
		return nil, fmt.Errorf("event type %q has no image", e.Type)
	}
	data, err := base64.StdEncoding.DecodeString(e.FrameB64)
	if err != nil {
		return nil, fmt.Errorf("frame event %d: invalid base64 image: %w", e.Index, err)
	}
	return data, nil
}
