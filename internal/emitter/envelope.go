package emitter

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/Madhusudan-6304/ApnaCriminal/internal/types"
)

// AlertMessage is the JSON body published to the alerts topic
type AlertMessage struct {
	TS      time.Time           `json:"ts"`
	Matches []types.MatchRecord `json:"matches"`
}

// EventMessage is the JSON body published to the events topic. Kind
// names the event ("session_started", "banner_raised", "video_done")
// and Data carries the event-specific payload.
type EventMessage struct {
	TS   time.Time `json:"ts"`
	Kind string    `json:"kind"`
	Data any       `json:"data,omitempty"`
}

// FrameEnvelope is the MessagePack body published to the frames topic.
// Data holds the rendered JPEG as raw bytes, which MessagePack carries
// natively without base64 inflation.
type FrameEnvelope struct {
	Seq       uint64 `msgpack:"seq"`
	Timestamp int64  `msgpack:"ts_ms"` // capture time, unix milliseconds
	Width     int    `msgpack:"width"`
	Height    int    `msgpack:"height"`
	Source    string `msgpack:"source"`
	TraceID   string `msgpack:"trace_id"`
	Data      []byte `msgpack:"data"`
}

// EncodeFrame packs a frame into its wire envelope
func EncodeFrame(frame types.Frame) ([]byte, error) {
	env := FrameEnvelope{
		Seq:       frame.Seq,
		Timestamp: frame.Timestamp.UnixMilli(),
		Width:     frame.Width,
		Height:    frame.Height,
		Source:    frame.SourceStream,
		TraceID:   frame.TraceID,
		Data:      frame.Data,
	}
	payload, err := msgpack.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal frame envelope: %w", err)
	}
	return payload, nil
}

// DecodeFrame unpacks a wire envelope back into a frame. Consumers
// (the snapshot command, external recorders) use it to recover the
// JPEG and its identity fields.
func DecodeFrame(payload []byte) (types.Frame, error) {
	var env FrameEnvelope
	if err := msgpack.Unmarshal(payload, &env); err != nil {
		return types.Frame{}, fmt.Errorf("failed to unmarshal frame envelope: %w", err)
	}
	return types.Frame{
		Seq:          env.Seq,
		Timestamp:    time.UnixMilli(env.Timestamp).UTC(),
		Width:        env.Width,
		Height:       env.Height,
		Data:         env.Data,
		SourceStream: env.Source,
		TraceID:      env.TraceID,
	}, nil
}
