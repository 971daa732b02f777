// Package alert turns detector matches into deduplicated operator
// notifications. A match pair that already fired recently is dropped,
// and a global cooldown spaces out consecutive notifications no matter
// how many distinct identities appear.
package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/Madhusudan-6304/ApnaCriminal/internal/types"
)

// Notifier delivers one deduplicated match batch.
type Notifier interface {
	Notify(ctx context.Context, matches []types.MatchRecord) error
}

// NotifyFunc adapts a function to the Notifier interface.
type NotifyFunc func(ctx context.Context, matches []types.MatchRecord) error

// Notify calls f.
func (f NotifyFunc) Notify(ctx context.Context, matches []types.MatchRecord) error {
	return f(ctx, matches)
}

// Fanout delivers to several notifiers. Every notifier is attempted;
// failures are joined into the returned error.
type Fanout []Notifier

// Notify delivers the batch to each notifier in order.
func (f Fanout) Notify(ctx context.Context, matches []types.MatchRecord) error {
	var errs []error
	for _, n := range f {
		if err := n.Notify(ctx, matches); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier writes match batches to the structured log. It is the
// fallback sink when no broker is configured.
type LogNotifier struct{}

// Notify logs the batch at warn level so alerts stand out in the feed.
func (LogNotifier) Notify(_ context.Context, matches []types.MatchRecord) error {
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, fmt.Sprintf("%s (%.2f)", m.Name, m.Score))
	}
	slog.Warn("criminal match alert", "matches", strings.Join(names, ", "), "count", len(matches))
	return nil
}

// Deduper suppresses repeat notifications. A pair fires at most once
// per cooldown, and any two notifications are at least one cooldown
// apart. Pairs suppressed by the global gate are not marked seen, so
// they fire as soon as the gate opens.
type Deduper struct {
	cooldown time.Duration
	clk      clock.Clock
	notifier Notifier

	mu         sync.Mutex
	seen       map[string]time.Time
	lastNotify time.Time

	submitted        uint64
	suppressedPair   uint64
	suppressedGlobal uint64
	notifiedBatches  uint64
	notifiedMatches  uint64
	notifyErrors     uint64
}

// NewDeduper creates a deduper delivering through the given notifier.
// A nil clock falls back to the wall clock.
func NewDeduper(cooldown time.Duration, notifier Notifier, clk clock.Clock) (*Deduper, error) {
	if cooldown <= 0 {
		return nil, fmt.Errorf("cooldown must be positive")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notifier is required")
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Deduper{
		cooldown: cooldown,
		clk:      clk,
		notifier: notifier,
		seen:     make(map[string]time.Time),
	}, nil
}

func matchKey(m types.MatchRecord) string {
	return fmt.Sprintf("%s|%.2f", strings.ToLower(strings.TrimSpace(m.Name)), m.Score)
}

// Submit filters the batch and notifies when anything new remains.
// Returns the number of matches actually delivered.
func (d *Deduper) Submit(ctx context.Context, matches []types.MatchRecord) int {
	if len(matches) == 0 {
		return 0
	}

	now := d.clk.Now()

	d.mu.Lock()
	d.submitted += uint64(len(matches))
	d.pruneLocked(now)

	fresh := make([]types.MatchRecord, 0, len(matches))
	batch := make(map[string]bool, len(matches))
	for _, m := range matches {
		k := matchKey(m)
		if batch[k] {
			continue
		}
		if last, ok := d.seen[k]; ok && now.Sub(last) < d.cooldown {
			d.suppressedPair++
			continue
		}
		batch[k] = true
		fresh = append(fresh, m)
	}

	if len(fresh) == 0 {
		d.mu.Unlock()
		return 0
	}

	if !d.lastNotify.IsZero() && now.Sub(d.lastNotify) < d.cooldown {
		d.suppressedGlobal += uint64(len(fresh))
		d.mu.Unlock()
		return 0
	}

	for _, m := range fresh {
		d.seen[matchKey(m)] = now
	}
	d.lastNotify = now
	d.notifiedBatches++
	d.notifiedMatches += uint64(len(fresh))
	notifier := d.notifier
	d.mu.Unlock()

	sort.Slice(fresh, func(i, j int) bool { return fresh[i].Score > fresh[j].Score })

	if err := notifier.Notify(ctx, fresh); err != nil {
		slog.Error("alert notification failed", "error", err, "count", len(fresh))
		d.mu.Lock()
		d.notifyErrors++
		d.mu.Unlock()
	}

	return len(fresh)
}

// pruneLocked drops tracking entries old enough to be irrelevant.
func (d *Deduper) pruneLocked(now time.Time) {
	for k, last := range d.seen {
		if now.Sub(last) > 2*d.cooldown {
			delete(d.seen, k)
		}
	}
}

// Reset clears the cooldown history, for session restarts.
func (d *Deduper) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen = make(map[string]time.Time)
	d.lastNotify = time.Time{}
}

// Stats reports deduplication counters.
type Stats struct {
	Submitted        uint64 `json:"submitted"`
	SuppressedPair   uint64 `json:"suppressed_pair"`
	SuppressedGlobal uint64 `json:"suppressed_global"`
	NotifiedBatches  uint64 `json:"notified_batches"`
	NotifiedMatches  uint64 `json:"notified_matches"`
	NotifyErrors     uint64 `json:"notify_errors"`
	Tracked          int    `json:"tracked"`
}

// Stats returns current counters.
func (d *Deduper) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		Submitted:        d.submitted,
		SuppressedPair:   d.suppressedPair,
		SuppressedGlobal: d.suppressedGlobal,
		NotifiedBatches:  d.notifiedBatches,
		NotifiedMatches:  d.notifiedMatches,
		NotifyErrors:     d.notifyErrors,
		Tracked:          len(d.seen),
	}
}
