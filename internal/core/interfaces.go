package core

import (
	"context"
	"io"

	"github.com/Madhusudan-6304/ApnaCriminal/internal/detect"
	"github.com/Madhusudan-6304/ApnaCriminal/internal/types"
)

// Camera provides a stream of captured frames
type Camera interface {
	// Start acquires the device and begins capturing
	Start(ctx context.Context) error
	// Frames returns a channel of frames
	Frames() <-chan types.Frame
	// Stop releases the capture device
	Stop() error
	// Stats returns capture statistics
	Stats() types.CaptureStats
}

// Detector submits media to the remote detection service
type Detector interface {
	// DetectImage submits one photo, bounded by the request timeout
	DetectImage(ctx context.Context, jpeg []byte) (*detect.ImageResult, error)
	// DetectSketch submits one sketch, bounded by the request timeout
	DetectSketch(ctx context.Context, jpeg []byte) (*detect.ImageResult, error)
	// DetectFrame submits one live frame with no timeout
	DetectFrame(ctx context.Context, jpeg []byte) (*detect.ImageResult, error)
	// DetectVideo streams a video and returns the event decoder
	DetectVideo(ctx context.Context, video io.Reader, filename string) (*detect.StreamDecoder, error)
	// Stats returns request counters
	Stats() detect.ClientStats
}
