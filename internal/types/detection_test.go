package types

import (
	"encoding/json"
	"testing"
)

// TestDetectionConfirmed verifies the identity classification rule:
// confirmed iff the normalized name is non-empty and neither "unknown"
// nor "masked".
func TestDetectionConfirmed(t *testing.T) {
	cases := []struct {
		name      string
		confirmed bool
	}{
		{"John Doe", true},
		{"doe", true},
		{"", false},
		{"unknown", false},
		{"Unknown", false},
		{"UNKNOWN", false},
		{"masked", false},
		{"Masked", false},
		{"  ", false},
		{" Doe ", true},
	}

	for _, c := range cases {
		d := Detection{Name: c.name}
		if got := d.Confirmed(); got != c.confirmed {
			t.Errorf("Confirmed() for name %q: expected %v, got %v", c.name, c.confirmed, got)
		}
	}
}

// TestDisplayLabel verifies label composition precedence: precomposed
// label, then mask, then named identity, then unknown fallback.
func TestDisplayLabel(t *testing.T) {
	d := Detection{Name: "Doe", Score: 0.91, Label: "Doe [wanted]"}
	if got := d.DisplayLabel(); got != "Doe [wanted]" {
		t.Errorf("Expected precomposed label, got %q", got)
	}

	d = Detection{Name: "masked", Score: 0.5, HasMask: true}
	if got := d.DisplayLabel(); got != "Masked" {
		t.Errorf("Expected Masked, got %q", got)
	}

	d = Detection{Name: "Doe", Score: 0.876}
	if got := d.DisplayLabel(); got != "Doe (0.88)" {
		t.Errorf("Expected Doe (0.88), got %q", got)
	}

	d = Detection{Name: "unknown", Score: 0.42}
	if got := d.DisplayLabel(); got != "Unknown (0.42)" {
		t.Errorf("Expected Unknown (0.42), got %q", got)
	}
}

// TestDetectionWireFormat verifies a detector response detection decodes
// with the box in its [x1,y1,x2,y2] array form.
func TestDetectionWireFormat(t *testing.T) {
	payload := `{"box":[10,20,110,140],"label":"Doe (0.91)","name":"Doe","score":0.91,"has_mask":false}`

	var d Detection
	if err := json.Unmarshal([]byte(payload), &d); err != nil {
		t.Fatalf("Failed to decode detection: %v", err)
	}

	want := PixelRect{X1: 10, Y1: 20, X2: 110, Y2: 140}
	if d.Box != want {
		t.Errorf("Expected box %+v, got %+v", want, d.Box)
	}
	if d.Name != "Doe" || d.Score != 0.91 {
		t.Errorf("Expected Doe/0.91, got %s/%v", d.Name, d.Score)
	}

	// Round-trip must preserve the array form.
	out, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("Failed to encode detection: %v", err)
	}
	var echo Detection
	if err := json.Unmarshal(out, &echo); err != nil {
		t.Fatalf("Failed to re-decode detection: %v", err)
	}
	if echo.Box != want {
		t.Errorf("Round-trip changed box: expected %+v, got %+v", want, echo.Box)
	}
}

// TestDetectionWireFormatFloatCoords verifies float coordinates from the
// detector are accepted and truncated.
func TestDetectionWireFormatFloatCoords(t *testing.T) {
	payload := `{"box":[10.7,20.2,110.9,140.1],"name":"unknown","score":0.4}`

	var d Detection
	if err := json.Unmarshal([]byte(payload), &d); err != nil {
		t.Fatalf("Failed to decode detection: %v", err)
	}
	want := PixelRect{X1: 10, Y1: 20, X2: 110, Y2: 140}
	if d.Box != want {
		t.Errorf("Expected truncated box %+v, got %+v", want, d.Box)
	}
}

// TestPixelRectMalformedBox verifies a malformed box is rejected rather
// than silently zeroed.
func TestPixelRectMalformedBox(t *testing.T) {
	var r PixelRect
	if err := json.Unmarshal([]byte(`{"x":1}`), &r); err == nil {
		t.Error("Expected error for object-form box, got nil")
	}
	if err := json.Unmarshal([]byte(`[1,2,3]`), &r); err == nil {
		t.Error("Expected error for 3-element box, got nil")
	}
}

// TestCornersWithin verifies the spatial tolerance match on both corners.
func TestCornersWithin(t *testing.T) {
	base := PixelRect{X1: 100, Y1: 100, X2: 200, Y2: 200}

	jittered := PixelRect{X1: 130, Y1: 80, X2: 230, Y2: 180}
	if !jittered.CornersWithin(base, 50) {
		t.Error("Expected jitter within 50px to match")
	}

	far := PixelRect{X1: 160, Y1: 100, X2: 260, Y2: 200}
	if far.CornersWithin(base, 50) {
		t.Error("Expected 60px shift to miss the 50px tolerance")
	}

	// One corner close, the other out of tolerance: no match.
	skew := PixelRect{X1: 100, Y1: 100, X2: 300, Y2: 200}
	if skew.CornersWithin(base, 50) {
		t.Error("Expected single-corner match to fail")
	}
}

// TestClamp verifies rectangles are constrained to frame bounds.
func TestClamp(t *testing.T) {
	r := PixelRect{X1: -10, Y1: -5, X2: 700, Y2: 500}
	r.Clamp(640, 480)
	want := PixelRect{X1: 0, Y1: 0, X2: 640, Y2: 480}
	if r != want {
		t.Errorf("Expected %+v, got %+v", want, r)
	}
}
