package capture

import (
	"sync"

	"github.com/Madhusudan-6304/ApnaCriminal/internal/types"
)

// Holder is a single-slot mailbox for the most recent captured frame.
// Writers always succeed: a newer frame overwrites the unconsumed one,
// which keeps the capture path from ever blocking on slow consumers.
// The preview tick reads with Peek; the detection tick takes ownership
// with Consume so the same frame is never submitted twice.
type Holder struct {
	mu    sync.Mutex
	frame types.Frame
	has   bool

	stored   uint64
	replaced uint64
	consumed uint64
	peeked   uint64
	misses   uint64
}

// NewHolder creates an empty holder.
func NewHolder() *Holder {
	return &Holder{}
}

// Store puts a frame in the slot, replacing any unconsumed one.
func (h *Holder) Store(f types.Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.has {
		h.replaced++
	}
	h.frame = f
	h.has = true
	h.stored++
}

// Peek returns the current frame without clearing the slot.
func (h *Holder) Peek() (types.Frame, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.has {
		h.misses++
		return types.Frame{}, false
	}
	h.peeked++
	return h.frame, true
}

// Consume returns the current frame and empties the slot.
func (h *Holder) Consume() (types.Frame, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.has {
		h.misses++
		return types.Frame{}, false
	}
	f := h.frame
	h.frame = types.Frame{}
	h.has = false
	h.consumed++
	return f, true
}

// Clear empties the slot without counting a consumption.
func (h *Holder) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frame = types.Frame{}
	h.has = false
}

// HolderStats reports mailbox traffic. Replaced counts frames that were
// overwritten before anyone consumed them.
type HolderStats struct {
	Stored   uint64 `json:"stored"`
	Replaced uint64 `json:"replaced"`
	Consumed uint64 `json:"consumed"`
	Peeked   uint64 `json:"peeked"`
	Misses   uint64 `json:"misses"`
}

// Stats returns current mailbox counters.
func (h *Holder) Stats() HolderStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return HolderStats{
		Stored:   h.stored,
		Replaced: h.replaced,
		Consumed: h.consumed,
		Peeked:   h.peeked,
		Misses:   h.misses,
	}
}
