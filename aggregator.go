package vectorguard

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"time"
)

const activationThreshold = 0.3

// DetectionAggregator fans events out to the per-category detectors and turns their
// signals into one rule verdict per source.
type DetectionAggregator struct {
	detectors []Detector

	mu       sync.RWMutex
	disabled map[Category]bool
	ignore   []*net.IPNet
	infer    bool

	logger  Logger
	metrics MetricsCollector
}

// DefaultDetectors builds one detector per attack category using the windows and
// capacities from cfg.
func DefaultDetectors(cfg *Config) []Detector {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	detectors := make([]Detector, 0, len(detectorDefinitions))
	for _, def := range detectorDefinitions {
		window := cfg.detectorWindow(def.Category, def.DefaultWindow)
		detectors = append(detectors, def.New(window, cfg.MaxSources, cfg.MaxObservationsPerSource))
	}
	return detectors
}

func NewDetectionAggregator(detectors []Detector, logger Logger, metrics MetricsCollector) *DetectionAggregator {
	if logger == nil {
		logger = NopLogger{}
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &DetectionAggregator{
		detectors: detectors,
		disabled:  make(map[Category]bool),
		infer:     true,
		logger:    logger,
		metrics:   metrics,
	}
}

// Configure applies the detector switches, indicator inference and ignore ranges of cfg.
// It is safe to call while events are flowing.
func (a *DetectionAggregator) Configure(cfg *Config) {
	disabled := make(map[Category]bool)
	for _, d := range a.detectors {
		if !cfg.DetectorEnabled(d.Category()) {
			disabled[d.Category()] = true
		}
	}
	ignore := parseCIDRs(cfg.IgnoreCIDRs)

	a.mu.Lock()
	a.disabled = disabled
	a.ignore = ignore
	a.infer = cfg.inferIndicators()
	a.mu.Unlock()
}

func (a *DetectionAggregator) enabled(cat Category) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return !a.disabled[cat]
}

// Record normalizes ev and feeds it to every enabled detector. It reports false when the
// event was dropped because its source is unusable or ignored.
func (a *DetectionAggregator) Record(ev Event, now time.Time) bool {
	_, ok := a.record(ev, now)
	return ok
}

func (a *DetectionAggregator) record(ev Event, now time.Time) (Event, bool) {
	a.mu.RLock()
	infer, ignore := a.infer, a.ignore
	a.mu.RUnlock()

	normalized, ok := normalizeEvent(ev, infer)
	if !ok {
		a.metrics.IncrementCounter("events_total", map[string]string{"result": "invalid"})
		a.logger.Debug("dropping event without usable source", map[string]any{"source": ev.Source})
		return normalized, false
	}
	if ipInNets(normalized.Source, ignore) {
		a.metrics.IncrementCounter("events_total", map[string]string{"result": "ignored"})
		return normalized, false
	}

	for _, d := range a.detectors {
		if !a.enabled(d.Category()) {
			continue
		}
		if err := safeRecord(d, normalized, now); err != nil {
			a.detectorFailed(d.Category(), "record", normalized.Source, err)
		}
	}
	a.metrics.IncrementCounter("events_total", map[string]string{"result": "accepted"})
	return normalized, true
}

// Signals queries every detector for source. Disabled detectors report a zero signal.
func (a *DetectionAggregator) Signals(source string, now time.Time) []DetectorResult {
	results := make([]DetectorResult, 0, len(a.detectors))
	for _, d := range a.detectors {
		cat := d.Category()
		if !a.enabled(cat) {
			results = append(results, DetectorResult{Signal: zeroSignal(cat)})
			continue
		}
		sig, err := safeScore(d, source, now)
		if err != nil {
			a.detectorFailed(cat, "score", source, err)
			results = append(results, DetectorResult{Signal: zeroSignal(cat), Err: err})
			continue
		}
		results = append(results, DetectorResult{Signal: sig})
	}
	return results
}

// Classify builds the rule verdict for source from the current detector state. It does
// not modify any state beyond lazy expiry, so repeated calls at the same instant agree.
func (a *DetectionAggregator) Classify(source string, now time.Time) Verdict {
	source = strings.TrimSpace(source)
	if !validAddress(source) {
		return benignVerdict(source, now, DecisionRules)
	}

	results := a.Signals(source, now)
	v := Verdict{
		Source:      source,
		Scores:      zeroScores(),
		Decision:    DecisionRules,
		EvaluatedAt: now,
	}

	anyActive := false
	for _, r := range results {
		if r.Failed() {
			v.Degraded = true
		}
		if r.Signal.Active {
			anyActive = true
		}
		v.Scores[r.Signal.Category] = r.Signal.Score
		v.Signals = append(v.Signals, r.Signal)
	}

	best, bestScore := CategoryNormal, 0.0
	for _, cat := range AttackCategories {
		if s := v.Scores[cat]; s > bestScore {
			best, bestScore = cat, s
		}
	}

	v.Category = CategoryNormal
	if bestScore > activationThreshold {
		v.Category = best
	}
	v.Malicious = anyActive || v.Category != CategoryNormal
	v.Confidence = bestScore
	if v.Malicious && v.Category == CategoryNormal {
		v.Category = CategoryUnknownAttack
		if bestScore == 0 {
			v.Confidence = 0.5
		}
	}
	v.Probabilities = scoreDistribution(v.Scores)
	return v
}

// Forget drops all state held for source by every detector.
func (a *DetectionAggregator) Forget(source string) {
	source = strings.TrimSpace(source)
	for _, d := range a.detectors {
		d.Forget(source)
	}
}

// TrackedSources reports the number of sources each detector currently holds.
func (a *DetectionAggregator) TrackedSources() map[Category]int {
	out := make(map[Category]int, len(a.detectors))
	for _, d := range a.detectors {
		out[d.Category()] = d.Sources()
	}
	return out
}

func (a *DetectionAggregator) detectorFailed(cat Category, stage, source string, err error) {
	a.metrics.IncrementCounter("detector_failures_total", map[string]string{
		"category": string(cat),
		"stage":    stage,
	})
	a.logger.Error("detector failed", map[string]any{
		"category": string(cat),
		"stage":    stage,
		"source":   source,
		"error":    err,
	})
}

// scoreDistribution normalizes raw rule scores into probabilities. All-zero scores stay
// all zero.
func scoreDistribution(scores map[Category]float64) map[Category]float64 {
	out := zeroDistribution()
	total := 0.0
	for _, cat := range AttackCategories {
		if s := scores[cat]; finite(s) && s > 0 {
			total += s
		}
	}
	if total == 0 {
		return out
	}
	for _, cat := range AttackCategories {
		if s := scores[cat]; finite(s) && s > 0 {
			out[cat] = s / total
		}
	}
	return out
}

func safeRecord(d Detector, ev Event, now time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic during record: %v", d.Category(), r)
		}
	}()
	return d.Record(ev, now)
}

func safeScore(d Detector, source string, now time.Time) (sig AttackSignal, err error) {
	defer func() {
		if r := recover(); r != nil {
			sig = zeroSignal(d.Category())
			err = fmt.Errorf("%s: panic during score: %v", d.Category(), r)
		}
	}()
	sig, err = d.Score(source, now)
	if err == nil && sig.Category != d.Category() {
		sig.Category = d.Category()
	}
	return sig, err
}
