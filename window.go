package vectorguard

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	defaultMaxSources     = 10000
	defaultMaxObservation = 4096
)

// Observation is a single timestamped entry in a sliding window.
type Observation[T any] struct {
	At    time.Time
	Value T
}

type series[T any] struct {
	items []Observation[T]
}

// SlidingWindow keeps short-lived per-key observations so detectors can derive rates and
// distinct counts without a background sweep. Expiry happens lazily on every Record,
// Prune and Snapshot, and the key space is bounded by an LRU so quiet sources are the
// first to go when the window is full.
type SlidingWindow[T any] struct {
	mu      sync.Mutex
	window  time.Duration
	maxKeep int
	data    *lru.Cache[string, *series[T]]
}

// NewSlidingWindow creates a window retaining observations for the given duration.
// maxSources bounds the number of tracked keys and maxPerKey the observations per key.
func NewSlidingWindow[T any](window time.Duration, maxSources, maxPerKey int) *SlidingWindow[T] {
	if window <= 0 {
		window = time.Minute
	}
	if maxSources <= 0 {
		maxSources = defaultMaxSources
	}
	if maxPerKey <= 0 {
		maxPerKey = defaultMaxObservation
	}
	cache, err := lru.New[string, *series[T]](maxSources)
	if err != nil {
		// only returned for a non-positive size, which is excluded above
		panic(err)
	}
	return &SlidingWindow[T]{
		window:  window,
		maxKeep: maxPerKey,
		data:    cache,
	}
}

// Window returns the retention horizon.
func (w *SlidingWindow[T]) Window() time.Duration {
	return w.window
}

// cutoff is the newest instant that is already outside the window.
func (w *SlidingWindow[T]) cutoff(now time.Time) time.Time {
	return now.Add(-w.window)
}

// Record appends an observation for key and trims anything outside the window.
func (w *SlidingWindow[T]) Record(key string, at time.Time, value T) {
	if key == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	s, ok := w.data.Get(key)
	if !ok {
		s = &series[T]{}
		w.data.Add(key, s)
	}
	s.items = append(s.items, Observation[T]{At: at, Value: value})
	s.items = trimObservations(s.items, w.cutoff(at))
	if len(s.items) > w.maxKeep {
		s.items = append([]Observation[T](nil), s.items[len(s.items)-w.maxKeep:]...)
	}
}

// Prune discards observations for key older than now minus the window and returns the
// number still live. Keys left empty are dropped.
func (w *SlidingWindow[T]) Prune(key string, now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pruneLocked(key, now))
}

// Snapshot returns a copy of the live observations for key. Callers may keep or modify
// the result freely.
func (w *SlidingWindow[T]) Snapshot(key string, now time.Time) []Observation[T] {
	w.mu.Lock()
	defer w.mu.Unlock()

	live := w.pruneLocked(key, now)
	if len(live) == 0 {
		return nil
	}
	out := make([]Observation[T], len(live))
	copy(out, live)
	return out
}

// Forget drops all observations for key.
func (w *SlidingWindow[T]) Forget(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.data.Remove(key)
}

// Len returns the number of tracked keys, including ones whose observations have expired
// but have not been touched since.
func (w *SlidingWindow[T]) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.data.Len()
}

func (w *SlidingWindow[T]) pruneLocked(key string, now time.Time) []Observation[T] {
	s, ok := w.data.Peek(key)
	if !ok {
		return nil
	}
	s.items = trimObservations(s.items, w.cutoff(now))
	if len(s.items) == 0 {
		w.data.Remove(key)
		return nil
	}
	return s.items
}

// observedSpan returns the earliest and latest timestamps in items, which need not be
// in timestamp order.
func observedSpan[T any](items []Observation[T]) (first, last time.Time) {
	if len(items) == 0 {
		return first, last
	}
	first, last = items[0].At, items[0].At
	for _, item := range items[1:] {
		if item.At.Before(first) {
			first = item.At
		}
		if item.At.After(last) {
			last = item.At
		}
	}
	return first, last
}

// trimObservations drops entries at or before cutoff. Entries are appended in arrival
// order but callers may supply out-of-order timestamps, so every entry is checked.
func trimObservations[T any](items []Observation[T], cutoff time.Time) []Observation[T] {
	idx := 0
	for idx < len(items) && !items[idx].At.After(cutoff) {
		idx++
	}
	if idx == len(items) {
		return items[:0]
	}
	kept := items[idx:]
	for _, item := range kept {
		if !item.At.After(cutoff) {
			filtered := make([]Observation[T], 0, len(kept))
			for _, it := range kept {
				if it.At.After(cutoff) {
					filtered = append(filtered, it)
				}
			}
			return filtered
		}
	}
	return kept
}
