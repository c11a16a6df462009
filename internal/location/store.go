// Package location holds the most recent validated position fix reported by
// the sensor unit and fans out every accepted fix to subscribers.
package location

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"
)

// ErrOutOfRange is returned by NewFix for non-finite or out-of-range input.
var ErrOutOfRange = errors.New("location: coordinate out of range")

// Fix is a validated latitude/longitude pair in decimal degrees.
//
// A Fix is only produced by NewFix; the zero value is never handed out by the
// store as a real fix.
type Fix struct {
	Lat float64 `json:"latitude"`
	Lon float64 `json:"longitude"`
}

// Fallback is used for alerts raised before any telemetry has arrived.
var Fallback = Fix{Lat: 9.727108, Lon: 76.726607}

// NewFix validates lat/lon. Malformed input yields an error, never a clamped fix.
func NewFix(lat, lon float64) (Fix, error) {
	if !finite(lat) || !finite(lon) {
		return Fix{}, fmt.Errorf("%w: non-finite value", ErrOutOfRange)
	}
	if lat < -90 || lat > 90 {
		return Fix{}, fmt.Errorf("%w: latitude %v", ErrOutOfRange, lat)
	}
	if lon < -180 || lon > 180 {
		return Fix{}, fmt.Errorf("%w: longitude %v", ErrOutOfRange, lon)
	}
	return Fix{Lat: lat, Lon: lon}, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func (f Fix) String() string {
	return fmt.Sprintf("%.6f,%.6f", f.Lat, f.Lon)
}

// Update is one accepted fix as delivered to subscribers.
type Update struct {
	Fix Fix
	Seq uint64
	At  time.Time
}

// Store owns the latest fix. Writes come from the telemetry pipeline only;
// reads are safe from any goroutine.
type Store struct {
	mu     sync.RWMutex
	latest Fix
	ok     bool
	seq    uint64
	at     time.Time

	// notifyMu keeps subscriber delivery in update order.
	notifyMu sync.Mutex
	subMu    sync.Mutex
	subs     map[int]func(Update)
	nextID   int

	now func() time.Time
}

func NewStore() *Store {
	return &Store{subs: make(map[int]func(Update)), now: time.Now}
}

// Update replaces the stored fix and notifies every subscriber exactly once,
// whether or not the value changed.
func (s *Store) Update(fix Fix) Update {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	s.seq++
	s.latest = fix
	s.ok = true
	s.at = s.now().UTC()
	u := Update{Fix: fix, Seq: s.seq, At: s.at}
	s.mu.Unlock()

	for _, fn := range s.snapshotSubs() {
		fn(u)
	}
	return u
}

// Latest returns the last accepted fix, if any.
func (s *Store) Latest() (Fix, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.ok
}

// LastUpdate returns the last update including its sequence number.
func (s *Store) LastUpdate() (Update, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.ok {
		return Update{}, false
	}
	return Update{Fix: s.latest, Seq: s.seq, At: s.at}, true
}

// Current returns the last accepted fix or Fallback when none has arrived.
func (s *Store) Current() Fix {
	if fix, ok := s.Latest(); ok {
		return fix
	}
	return Fallback
}

// Subscribe registers fn for every future update. fn runs on the writer's
// goroutine and must not call Update.
func (s *Store) Subscribe(fn func(Update)) (cancel func()) {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

func (s *Store) snapshotSubs() []func(Update) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	// Registration order.
	slices.Sort(ids)
	out := make([]func(Update), 0, len(ids))
	for _, id := range ids {
		out = append(out, s.subs[id])
	}
	return out
}
