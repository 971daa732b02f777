package emitter

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/Madhusudan-6304/ApnaCriminal/internal/config"
	"github.com/Madhusudan-6304/ApnaCriminal/internal/types"
)

// TestFrameEnvelopeRoundTrip verifies a frame survives the wire
// envelope with its identity fields and JPEG bytes intact.
func TestFrameEnvelopeRoundTrip(t *testing.T) {
	captured := time.Date(2026, 3, 14, 9, 26, 53, 589000000, time.UTC)
	frame := types.Frame{
		Seq:          42,
		Timestamp:    captured,
		Width:        640,
		Height:       480,
		Data:         []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10},
		SourceStream: "rtsp",
		TraceID:      "trace-42",
	}

	payload, err := EncodeFrame(frame)
	if err != nil {
		t.Fatalf("EncodeFrame failed: %v", err)
	}

	got, err := DecodeFrame(payload)
	if err != nil {
		t.Fatalf("DecodeFrame failed: %v", err)
	}

	if got.Seq != frame.Seq {
		t.Errorf("Expected seq %d, got %d", frame.Seq, got.Seq)
	}
	if !got.Timestamp.Equal(captured) {
		t.Errorf("Expected timestamp %v, got %v", captured, got.Timestamp)
	}
	if got.Width != frame.Width || got.Height != frame.Height {
		t.Errorf("Expected %dx%d, got %dx%d", frame.Width, frame.Height, got.Width, got.Height)
	}
	if !bytes.Equal(got.Data, frame.Data) {
		t.Errorf("Expected data %v, got %v", frame.Data, got.Data)
	}
	if got.SourceStream != frame.SourceStream {
		t.Errorf("Expected source %q, got %q", frame.SourceStream, got.SourceStream)
	}
	if got.TraceID != frame.TraceID {
		t.Errorf("Expected trace ID %q, got %q", frame.TraceID, got.TraceID)
	}
}

// TestDecodeFrameRejectsGarbage verifies malformed payloads surface an
// error instead of a zero frame.
func TestDecodeFrameRejectsGarbage(t *testing.T) {
	if _, err := DecodeFrame([]byte("not msgpack at all")); err == nil {
		t.Error("Expected error for garbage payload, got nil")
	}
}

// TestPublishWithoutConnection verifies publishes fail cleanly and are
// counted when no broker connection exists.
func TestPublishWithoutConnection(t *testing.T) {
	em := NewMQTTEmitter(config.MQTTConfig{Broker: "127.0.0.1:1883"})

	err := em.Notify(context.Background(), []types.MatchRecord{{Name: "smith", Score: 0.91}})
	if err == nil {
		t.Fatal("Expected error when not connected, got nil")
	}

	stats := em.Stats()
	if stats.Connected {
		t.Error("Expected disconnected stats")
	}
	if stats.Errors != 1 {
		t.Errorf("Expected 1 error counted, got %d", stats.Errors)
	}
}

// TestQoSDefaults verifies unknown topic kinds fall back to QoS 0.
func TestQoSDefaults(t *testing.T) {
	em := NewMQTTEmitter(config.MQTTConfig{
		QoS: map[string]byte{"alerts": 1},
	})

	if qos := em.qosFor("alerts"); qos != 1 {
		t.Errorf("Expected QoS 1 for alerts, got %d", qos)
	}
	if qos := em.qosFor("frames"); qos != 0 {
		t.Errorf("Expected QoS 0 fallback, got %d", qos)
	}
}
