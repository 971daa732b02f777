package types

// CaptureStats contains camera capture statistics.
type CaptureStats struct {
	FrameCount  uint64  `json:"frame_count"`
	FPSTarget   int     `json:"fps_target"`
	FPSReal     float64 `json:"fps_real"`
	LatencyMS   int64   `json:"latency_ms"`
	Source      string  `json:"source"`
	Resolution  string  `json:"resolution"`
	Reconnects  uint32  `json:"reconnects"`
	BytesRead   uint64  `json:"bytes_read"`
	IsConnected bool    `json:"is_connected"`
	Errors      uint64  `json:"errors"`
}
