package detect

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/Madhusudan-6304/ApnaCriminal/internal/types"
)

// StreamDecoder reassembles newline-delimited JSON records from a chunked
// video-detection response body. A partial trailing line persists in the
// buffer until the next chunk completes it. Malformed lines are logged
// and skipped; one bad record never aborts the stream.
//
// The decoder is pull-based and single-use: Next returns events in
// arrival order until the transport closes (io.EOF) or the request
// context is cancelled (the read error wraps context.Canceled). It is
// not safe for concurrent use.
type StreamDecoder struct {
	r     io.ReadCloser
	buf   []byte
	chunk []byte
	eof   bool

	linesDecoded uint64
	linesSkipped uint64
	bytesRead    uint64
}

// DecoderStats contains stream decode counters
type DecoderStats struct {
	LinesDecoded uint64 `json:"lines_decoded"`
	LinesSkipped uint64 `json:"lines_skipped"`
	BytesRead    uint64 `json:"bytes_read"`
}

// NewStreamDecoder wraps an open response body
func NewStreamDecoder(r io.ReadCloser) *StreamDecoder {
	return &StreamDecoder{
		r:     r,
		chunk: make([]byte, 32*1024),
	}
}

// Next returns the next stream event. It reads from the transport only
// when the buffer holds no complete line. After the final record it
// returns io.EOF; a trailing unterminated line is attempted as a last
// record first.
func (d *StreamDecoder) Next() (*types.StreamEvent, error) {
	for {
		if i := bytes.IndexByte(d.buf, '\n'); i >= 0 {
			line := d.buf[:i]
			d.buf = d.buf[i+1:]
			if ev, ok := d.decodeLine(line); ok {
				return ev, nil
			}
			continue
		}

		if d.eof {
			if len(d.buf) > 0 {
				line := d.buf
				d.buf = nil
				if ev, ok := d.decodeLine(line); ok {
					return ev, nil
				}
			}
			return nil, io.EOF
		}

		n, err := d.r.Read(d.chunk)
		if n > 0 {
			d.buf = append(d.buf, d.chunk[:n]...)
			d.bytesRead += uint64(n)
		}
		if err == io.EOF {
			d.eof = true
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("detect: stream read failed: %w", err)
		}
	}
}

// decodeLine parses one record; returns false for blank or bad lines
func (d *StreamDecoder) decodeLine(line []byte) (*types.StreamEvent, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, false
	}

	var ev types.StreamEvent
	if err := json.Unmarshal(line, &ev); err != nil {
		d.linesSkipped++
		slog.Warn("detect: skipping malformed stream line",
			"error", err,
			"line_bytes", len(line),
		)
		return nil, false
	}
	if err := ev.Validate(); err != nil {
		d.linesSkipped++
		slog.Warn("detect: skipping invalid stream event", "error", err)
		return nil, false
	}

	d.linesDecoded++
	return &ev, true
}

// Close releases the underlying transport. Safe after cancellation; a
// decoder is not restartable.
func (d *StreamDecoder) Close() error {
	return d.r.Close()
}

// Stats returns decode counters
func (d *StreamDecoder) Stats() DecoderStats {
	return DecoderStats{
		LinesDecoded: d.linesDecoded,
		LinesSkipped: d.linesSkipped,
		BytesRead:    d.bytesRead,
	}
}
