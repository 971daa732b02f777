package types

import (
	"fmt"
	"strings"
)

// UnknownName is the normalized label carried by every unknown-pool entry
const UnknownName = "unknown"

// Detection is one recognized or unrecognized face reported by the
// detector for a single frame. Ephemeral: produced once per response,
// consumed immediately by the pool manager.
type Detection struct {
	// Box is the face bounding box in image-pixel coordinates
	Box PixelRect `json:"box"`
	// Name is the identity label, empty or "unknown" when unrecognized
	Name string `json:"name"`
	// Score is the confidence in [0, 1]
	Score float64 `json:"score"`
	// HasMask indicates the face was detected wearing a mask
	HasMask bool `json:"has_mask,omitempty"`
	// Label is an optional precomposed display string from the detector
	Label string `json:"label,omitempty"`
}

// NormalizedName returns the identity label lower-cased and trimmed
func (d Detection) NormalizedName() string {
	return strings.ToLower(strings.TrimSpace(d.Name))
}

// Confirmed reports whether this detection carries a confirmed identity:
// a non-empty name that is neither "unknown" nor "masked".
func (d Detection) Confirmed() bool {
	switch d.NormalizedName() {
	case "", UnknownName, "masked":
		return false
	}
	return true
}

// DisplayLabel composes the text drawn next to the bounding box
func (d Detection) DisplayLabel() string {
	if d.Label != "" {
		return d.Label
	}
	if d.HasMask {
		return "Masked"
	}
	if d.Confirmed() {
		return fmt.Sprintf("%s (%.2f)", d.Name, d.Score)
	}
	return fmt.Sprintf("Unknown (%.2f)", d.Score)
}

// MatchRecord is one alert-worthy identification: a name/score pair.
// Used only by the alert deduplicator, never persisted.
type MatchRecord struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}
