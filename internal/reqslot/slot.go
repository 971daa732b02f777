// Package reqslot guards the in-flight network operations of the
// engine. Each logical channel (live-detect, image-detect, sketch-detect,
// video-stream) owns one Slot, and a Slot admits at most one operation at
// a time: a new Begin supersedes and cancels its predecessor, while
// TryBegin refuses instead (the backpressure guard for the live loop).
//
// A superseded or cancelled operation's late-arriving response must never
// touch shared state. The Token returned by Begin/TryBegin carries the
// cancellation context for the transport and an atomic Complete that runs
// the state mutation only while the token is still the current one.
package reqslot

import (
	"context"
	"errors"
	"sync"
)

// Standard channel names
const (
	ChannelLive   = "live-detect"
	ChannelImage  = "image-detect"
	ChannelSketch = "sketch-detect"
	ChannelVideo  = "video-stream"
)

// ErrBusy is returned by TryBegin while an operation is in flight
var ErrBusy = errors.New("reqslot: request in flight")

// Slot serializes requests on one logical channel
type Slot struct {
	name string

	mu      sync.Mutex
	current *Token
	gen     uint64

	submitted   uint64
	superseded  uint64
	cancelled   uint64
	completed   uint64
	skippedBusy uint64
}

// Token represents one admitted operation on a Slot
type Token struct {
	slot   *Slot
	ctx    context.Context
	cancel context.CancelFunc
	gen    uint64
}

// New creates a Slot for the named channel
func New(name string) *Slot {
	return &Slot{name: name}
}

// Name returns the channel name
func (s *Slot) Name() string { return s.name }

// Begin admits a new operation, cancelling and superseding any prior
// in-flight one on this channel (last request wins).
func (s *Slot) Begin(parent context.Context) *Token {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		s.current.cancel()
		s.current = nil
		s.superseded++
	}
	return s.admit(parent)
}

// TryBegin admits a new operation only if the channel is idle. Returns
// ErrBusy otherwise; the caller skips its tick and retries naturally on
// the next one.
func (s *Slot) TryBegin(parent context.Context) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		s.skippedBusy++
		return nil, ErrBusy
	}
	return s.admit(parent), nil
}

// admit must be called with s.mu held
func (s *Slot) admit(parent context.Context) *Token {
	s.gen++
	ctx, cancel := context.WithCancel(parent)
	tok := &Token{slot: s, ctx: ctx, cancel: cancel, gen: s.gen}
	s.current = tok
	s.submitted++
	return tok
}

// Cancel aborts the in-flight operation, if any. Cancellation is not an
// error condition; the aborted operation observes context.Canceled and
// its Complete becomes a no-op.
func (s *Slot) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return false
	}
	s.current.cancel()
	s.current = nil
	s.cancelled++
	return true
}

// Busy reports whether an operation is in flight
func (s *Slot) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// Stats returns channel counters
func (s *Slot) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Submitted:   s.submitted,
		Superseded:  s.superseded,
		Cancelled:   s.cancelled,
		Completed:   s.completed,
		SkippedBusy: s.skippedBusy,
	}
}

// Stats contains per-channel request counters
type Stats struct {
	Submitted   uint64 `json:"submitted"`
	Superseded  uint64 `json:"superseded"`
	Cancelled   uint64 `json:"cancelled"`
	Completed   uint64 `json:"completed"`
	SkippedBusy uint64 `json:"skipped_busy"`
}

// Context returns the operation's cancellation context. The transport
// call must run under it so supersession aborts the request.
func (t *Token) Context() context.Context { return t.ctx }

// Valid reports whether the operation is still the current one and has
// not been cancelled.
func (t *Token) Valid() bool {
	t.slot.mu.Lock()
	defer t.slot.mu.Unlock()
	return t.slot.current == t && t.ctx.Err() == nil
}

// Do runs apply only if the token is still current and uncancelled,
// without releasing the slot. Streaming operations apply each arriving
// unit through Do so a supersession mid-stream cuts off mutation at a
// unit boundary. Returns whether apply ran.
func (t *Token) Do(apply func()) bool {
	t.slot.mu.Lock()
	defer t.slot.mu.Unlock()

	if t.slot.current != t || t.ctx.Err() != nil {
		return false
	}
	apply()
	return true
}

// Complete finishes the operation: apply runs only if the token is still
// current and uncancelled, atomically with releasing the slot. Returns
// whether apply ran. A false return means the operation was superseded
// or cancelled and its result must be discarded.
func (t *Token) Complete(apply func()) bool {
	t.slot.mu.Lock()
	defer t.slot.mu.Unlock()

	if t.slot.current != t {
		return false
	}
	if t.ctx.Err() != nil {
		// Still the holder but no longer valid (parent teardown):
		// free the channel, drop the result.
		t.slot.current = nil
		t.cancel()
		return false
	}
	if apply != nil {
		apply()
	}
	t.slot.completed++
	t.slot.current = nil
	t.cancel()
	return true
}

// Release frees the slot without completing (error paths). Idempotent;
// safe to defer alongside an explicit Complete.
func (t *Token) Release() {
	t.slot.mu.Lock()
	if t.slot.current == t {
		t.slot.current = nil
	}
	t.slot.mu.Unlock()
	t.cancel()
}

// Table owns the four standard channels
type Table struct {
	Live   *Slot
	Image  *Slot
	Sketch *Slot
	Video  *Slot
}

// NewTable creates the standard channel set
func NewTable() *Table {
	return &Table{
		Live:   New(ChannelLive),
		Image:  New(ChannelImage),
		Sketch: New(ChannelSketch),
		Video:  New(ChannelVideo),
	}
}

// CancelAll aborts every in-flight operation
func (t *Table) CancelAll() {
	t.Live.Cancel()
	t.Image.Cancel()
	t.Sketch.Cancel()
	t.Video.Cancel()
}

// Stats returns counters for all channels keyed by channel name
func (t *Table) Stats() map[string]Stats {
	return map[string]Stats{
		ChannelLive:   t.Live.Stats(),
		ChannelImage:  t.Image.Stats(),
		ChannelSketch: t.Sketch.Stats(),
		ChannelVideo:  t.Video.Stats(),
	}
}
