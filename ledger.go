package vectorguard

import (
	"sort"
	"sync"
	"time"
)

// VerdictLedger remembers the latest malicious verdict per source for a limited time.
type VerdictLedger struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]*LedgerEntry
}

type LedgerEntry struct {
	Verdict  Verdict   `json:"verdict"`
	Recorded time.Time `json:"recorded"`
	Hits     int       `json:"hits"`
}

type LedgerSummary struct {
	ActiveAttacks map[Category]int `json:"activeAttacks"`
	ActiveSources int              `json:"activeSources"`
	TotalHits     int              `json:"totalHits"`
	LastUpdated   time.Time        `json:"lastUpdated"`
}

func NewVerdictLedger(ttl time.Duration) *VerdictLedger {
	return newVerdictLedger(ttl, time.Now)
}

func newVerdictLedger(ttl time.Duration, now func() time.Time) *VerdictLedger {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &VerdictLedger{
		ttl:     ttl,
		now:     now,
		entries: make(map[string]*LedgerEntry),
	}
}

// Record keeps v if it is malicious. Repeated verdicts for a live entry bump its hit
// count.
func (l *VerdictLedger) Record(v Verdict) {
	if v.Source == "" || !v.Malicious {
		return
	}
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	hits := 1
	if prev, ok := l.entries[v.Source]; ok && now.Sub(prev.Recorded) <= l.ttl {
		hits = prev.Hits + 1
	}
	l.entries[v.Source] = &LedgerEntry{Verdict: v, Recorded: now, Hits: hits}
}

// Lookup returns the live entry for source.
func (l *VerdictLedger) Lookup(source string) (LedgerEntry, bool) {
	now := l.now()
	l.mu.RLock()
	defer l.mu.RUnlock()
	entry, ok := l.entries[source]
	if !ok || now.Sub(entry.Recorded) > l.ttl {
		return LedgerEntry{}, false
	}
	return *entry, true
}

func (l *VerdictLedger) Forget(source string) {
	l.mu.Lock()
	delete(l.entries, source)
	l.mu.Unlock()
}

// Snapshot returns live entries, most recent first.
func (l *VerdictLedger) Snapshot() []LedgerEntry {
	now := l.now()
	l.mu.RLock()
	var entries []LedgerEntry
	for _, entry := range l.entries {
		if now.Sub(entry.Recorded) > l.ttl {
			continue
		}
		entries = append(entries, *entry)
	}
	l.mu.RUnlock()
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Recorded.After(entries[j].Recorded)
	})
	return entries
}

// Cleanup drops expired entries and returns how many were removed.
func (l *VerdictLedger) Cleanup() int {
	now := l.now()
	removed := 0
	l.mu.Lock()
	for source, entry := range l.entries {
		if now.Sub(entry.Recorded) > l.ttl {
			delete(l.entries, source)
			removed++
		}
	}
	l.mu.Unlock()
	return removed
}

func (l *VerdictLedger) Summary() LedgerSummary {
	summary := LedgerSummary{
		ActiveAttacks: make(map[Category]int),
	}
	entries := l.Snapshot()
	summary.ActiveSources = len(entries)
	for _, entry := range entries {
		summary.ActiveAttacks[entry.Verdict.Category]++
		summary.TotalHits += entry.Hits
		if entry.Recorded.After(summary.LastUpdated) {
			summary.LastUpdated = entry.Recorded
		}
	}
	return summary
}
