// Package pool tracks active detections across successive detector
// responses so overlay boxes persist between sightings. Confirmed
// identities and unknown faces live in separate pools with separate
// lifetimes.
package pool

import (
	"sync"
	"time"

	"github.com/Madhusudan-6304/ApnaCriminal/internal/types"
)

// Kind says which pool an entry belongs to.
type Kind string

const (
	KindConfirmed Kind = "confirmed"
	KindUnknown   Kind = "unknown"
)

// Entry is one tracked detection. Timestamp is the instant the entry
// was created or last refreshed; age against it drives fade and
// eviction.
type Entry struct {
	Detection types.Detection
	Kind      Kind
	Timestamp time.Time
}

// Age returns how long the entry has been live as of now.
func (e *Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.Timestamp)
}

// Config carries the pool lifetimes and matching tolerances.
type Config struct {
	ConfirmedTTL time.Duration
	UnknownTTL   time.Duration
	TolerancePx  int
	UnknownGrace time.Duration
	AlertWindow  time.Duration
}

// SightingFunc receives banner-level sightings: kind is one of
// types.AlertMask, types.AlertFace or types.AlertCriminal.
type SightingFunc func(kind string, det types.Detection)

// IngestResult summarizes one Ingest call.
type IngestResult struct {
	// NewConfirmed lists confirmed identities sighted for the first
	// time in this call that passed the alert suppression window.
	NewConfirmed []types.MatchRecord
	Created      int
	Merged       int
	Evicted      int
}

// Manager owns the confirmed and unknown pools. All methods are safe
// for concurrent use; eviction always runs before new detections are
// merged, so no caller ever observes an entry past its TTL.
type Manager struct {
	cfg Config

	mu         sync.Mutex
	confirmed  []*Entry
	unknown    []*Entry
	lastAlert  map[string]time.Time
	onSighting SightingFunc

	// counters, guarded by mu
	ingested         uint64
	created          uint64
	merged           uint64
	evictedConfirmed uint64
	evictedUnknown   uint64
	alertsFired      uint64
	alertsSuppressed uint64
}

// New creates a Manager with the given lifetimes.
func New(cfg Config) *Manager {
	return &Manager{
		cfg:       cfg,
		lastAlert: make(map[string]time.Time),
	}
}

// OnSighting installs the banner callback. Callbacks run on the
// ingesting goroutine after the pool lock is released.
func (m *Manager) OnSighting(fn SightingFunc) {
	m.mu.Lock()
	m.onSighting = fn
	m.mu.Unlock()
}

type sighting struct {
	kind string
	det  types.Detection
}

// Ingest merges one detector response into the pools. Expired entries
// are evicted first so a reappearance after expiry becomes a fresh
// entry with a fresh timestamp.
func (m *Manager) Ingest(dets []types.Detection, now time.Time) IngestResult {
	m.mu.Lock()
	res, sightings, fn := m.ingestLocked(dets, now)
	m.mu.Unlock()

	if fn != nil {
		for _, s := range sightings {
			fn(s.kind, s.det)
		}
	}
	return res
}

func (m *Manager) ingestLocked(dets []types.Detection, now time.Time) (IngestResult, []sighting, SightingFunc) {
	var res IngestResult
	res.Evicted = m.evictLocked(now)

	var sightings []sighting
	for _, det := range dets {
		m.ingested++
		if det.Confirmed() {
			if s, ok := m.ingestConfirmedLocked(det, now, &res); ok {
				sightings = append(sightings, s)
			}
			continue
		}
		if s, ok := m.ingestUnknownLocked(det, now, &res); ok {
			sightings = append(sightings, s)
		}
	}
	return res, sightings, m.onSighting
}

func (m *Manager) ingestConfirmedLocked(det types.Detection, now time.Time, res *IngestResult) (sighting, bool) {
	name := det.NormalizedName()
	for _, e := range m.confirmed {
		if e.Detection.NormalizedName() != name {
			continue
		}
		if !e.Detection.Box.CornersWithin(det.Box, m.cfg.TolerancePx) {
			continue
		}
		// Same face still on camera. Track the latest box and score
		// but keep the original timestamp: continuous sighting must
		// not extend visibility past the TTL. A reappearance after
		// expiry never reaches here because eviction already removed
		// the stale entry, so it falls through to creation below.
		e.Detection = det
		res.Merged++
		m.merged++
		return sighting{}, false
	}

	m.confirmed = append(m.confirmed, &Entry{Detection: det, Kind: KindConfirmed, Timestamp: now})
	res.Created++
	m.created++

	if last, ok := m.lastAlert[name]; ok && now.Sub(last) < m.cfg.AlertWindow {
		m.alertsSuppressed++
		return sighting{}, false
	}
	m.lastAlert[name] = now
	m.alertsFired++
	res.NewConfirmed = append(res.NewConfirmed, types.MatchRecord{Name: det.Name, Score: det.Score})
	return sighting{kind: types.AlertCriminal, det: det}, true
}

func (m *Manager) ingestUnknownLocked(det types.Detection, now time.Time, res *IngestResult) (sighting, bool) {
	// Unknown entries carry the canonical name regardless of what the
	// detector sent ("", "Unknown", "masked", ...).
	det.Name = types.UnknownName

	for _, e := range m.unknown {
		if !e.Detection.Box.CornersWithin(det.Box, m.cfg.TolerancePx) {
			continue
		}
		// Refresh the fade clock only while the entry is younger than
		// the grace period; past it the box keeps fading even though
		// the face is still tracked, so strangers do not stay opaque
		// forever.
		if now.Sub(e.Timestamp) < m.cfg.UnknownGrace {
			e.Timestamp = now
		}
		e.Detection = det
		res.Merged++
		m.merged++
		return sighting{}, false
	}

	m.unknown = append(m.unknown, &Entry{Detection: det, Kind: KindUnknown, Timestamp: now})
	res.Created++
	m.created++

	kind := types.AlertFace
	if det.HasMask {
		kind = types.AlertMask
	}
	return sighting{kind: kind, det: det}, true
}

// Snapshot evicts expired entries and returns copies of the survivors,
// confirmed first. Callers may mutate the returned slice freely.
func (m *Manager) Snapshot(now time.Time) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.evictLocked(now)
	out := make([]Entry, 0, len(m.confirmed)+len(m.unknown))
	for _, e := range m.confirmed {
		out = append(out, *e)
	}
	for _, e := range m.unknown {
		out = append(out, *e)
	}
	return out
}

func (m *Manager) evictLocked(now time.Time) int {
	evicted := 0
	m.confirmed, evicted = retainLive(m.confirmed, now, m.cfg.ConfirmedTTL)
	m.evictedConfirmed += uint64(evicted)

	n := 0
	m.unknown, n = retainLive(m.unknown, now, m.cfg.UnknownTTL)
	m.evictedUnknown += uint64(n)
	evicted += n

	for name, last := range m.lastAlert {
		if now.Sub(last) > 2*m.cfg.AlertWindow {
			delete(m.lastAlert, name)
		}
	}
	return evicted
}

func retainLive(entries []*Entry, now time.Time, ttl time.Duration) ([]*Entry, int) {
	kept := entries[:0]
	for _, e := range entries {
		if now.Sub(e.Timestamp) > ttl {
			continue
		}
		kept = append(kept, e)
	}
	evicted := len(entries) - len(kept)
	for i := len(kept); i < len(entries); i++ {
		entries[i] = nil
	}
	return kept, evicted
}

// Clear drops both pools and the alert suppression history. Used when
// a session stops so a restart begins with no stale detections.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.confirmed = nil
	m.unknown = nil
	m.lastAlert = make(map[string]time.Time)
}

// Stats is a point-in-time view of pool counters.
type Stats struct {
	ConfirmedActive  int    `json:"confirmed_active"`
	UnknownActive    int    `json:"unknown_active"`
	Ingested         uint64 `json:"ingested"`
	Created          uint64 `json:"created"`
	Merged           uint64 `json:"merged"`
	EvictedConfirmed uint64 `json:"evicted_confirmed"`
	EvictedUnknown   uint64 `json:"evicted_unknown"`
	AlertsFired      uint64 `json:"alerts_fired"`
	AlertsSuppressed uint64 `json:"alerts_suppressed"`
}

// Stats returns current counters. Active counts reflect the pools as
// of the last eviction sweep.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Stats{
		ConfirmedActive:  len(m.confirmed),
		UnknownActive:    len(m.unknown),
		Ingested:         m.ingested,
		Created:          m.created,
		Merged:           m.merged,
		EvictedConfirmed: m.evictedConfirmed,
		EvictedUnknown:   m.evictedUnknown,
		AlertsFired:      m.alertsFired,
		AlertsSuppressed: m.alertsSuppressed,
	}
}
