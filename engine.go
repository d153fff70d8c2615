package vectorguard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const classifierLimiterKey = "classifier"

// Engine is the entry point to detection: it records events, classifies sources from
// detector state and arbitrates against a statistical classifier.
type Engine struct {
	aggregator *DetectionAggregator
	arbitrator VerdictArbitrator
	ledger     *VerdictLedger

	mu                sync.RWMutex
	classifier        Classifier
	limiter           RateLimiter
	limiterFixed      bool
	store             VerdictStore
	classifierTimeout time.Duration

	detectors []Detector
	logger    Logger
	metrics   MetricsCollector
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

func WithClassifier(c Classifier) Option {
	return func(e *Engine) { e.classifier = c }
}

func WithLogger(l Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithMetrics(m MetricsCollector) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithStore(s VerdictStore) Option {
	return func(e *Engine) { e.store = s }
}

// WithRateLimiter replaces the classifier limiter derived from the configuration.
func WithRateLimiter(rl RateLimiter) Option {
	return func(e *Engine) { e.limiter = rl }
}

// WithDetectors replaces the default detector set.
func WithDetectors(detectors ...Detector) Option {
	return func(e *Engine) { e.detectors = detectors }
}

// NewEngine validates cfg and wires the detectors, aggregator and sinks. A nil cfg uses
// DefaultConfig.
func NewEngine(cfg *Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		classifierTimeout: cfg.Classifier.Timeout,
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = NopLogger{}
	}
	if e.metrics == nil {
		e.metrics = noopMetrics{}
	}
	if e.classifier == nil {
		e.classifier = NewPatternClassifier()
	}
	e.limiterFixed = e.limiter != nil
	if e.limiter == nil && cfg.Classifier.RateLimit > 0 {
		e.limiter = newTokenBucketRateLimiter(cfg.Classifier.RateLimit, time.Second, e.now)
	}
	if e.store == nil {
		e.store = NewInMemoryVerdictStore(0)
	}
	if len(e.detectors) == 0 {
		e.detectors = DefaultDetectors(cfg)
	}

	e.ledger = newVerdictLedger(cfg.Ledger.TTL, e.now)
	e.aggregator = NewDetectionAggregator(e.detectors, e.logger, e.metrics)
	e.aggregator.Configure(cfg)
	return e, nil
}

// RecordEvent feeds ev into the detectors and reports whether the event was accepted.
func (e *Engine) RecordEvent(ev Event) bool {
	return e.aggregator.Record(ev, e.eventTime(ev))
}

// eventTime is the instant ev is recorded at: ObservedAt when set, capped at the engine
// clock so a future-dated event cannot expire live history.
func (e *Engine) eventTime(ev Event) time.Time {
	now := e.now()
	if ev.ObservedAt.IsZero() || ev.ObservedAt.After(now) {
		return now
	}
	return ev.ObservedAt
}

// Classify returns the rule verdict for source from current detector state. The verdict
// carries no ID, so repeated calls at the same instant return equal verdicts.
func (e *Engine) Classify(source string) Verdict {
	return e.classifyAt(source, e.now())
}

func (e *Engine) classifyAt(source string, now time.Time) Verdict {
	start := time.Now()
	v := e.aggregator.Classify(source, now)
	e.metrics.ObserveHistogram("classify_seconds", time.Since(start).Seconds(), nil)
	return v
}

// Arbitrate merges a rule verdict with a classifier verdict.
func (e *Engine) Arbitrate(rule Verdict, cls ClassifierVerdict) Verdict {
	v := e.arbitrator.Arbitrate(rule, cls)
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.EvaluatedAt.IsZero() {
		v.EvaluatedAt = e.now()
	}
	return v
}

// Evaluate records ev, classifies its source, consults the classifier and returns the
// arbitrated verdict. Classifier failures degrade to a neutral classifier opinion, so
// the rule verdict always applies.
func (e *Engine) Evaluate(ctx context.Context, ev Event) Verdict {
	now := e.eventTime(ev)
	normalized, ok := e.aggregator.record(ev, now)
	if !ok {
		v := benignVerdict(normalized.Source, now, DecisionSkipped)
		v.ID = uuid.NewString()
		return v
	}

	rule := e.classifyAt(normalized.Source, now)
	cls := e.predict(ctx, normalized)
	final := e.arbitrator.Arbitrate(rule, cls)
	final.ID = uuid.NewString()

	e.metrics.IncrementCounter("verdicts_total", map[string]string{
		"category": string(final.Category),
		"decision": string(final.Decision),
	})
	e.ledger.Record(final)
	e.persist(ctx, final)
	if final.Malicious {
		e.logger.Info("malicious source", map[string]any{
			"source":     final.Source,
			"category":   string(final.Category),
			"confidence": final.Confidence,
			"decision":   string(final.Decision),
		})
	}
	return final
}

func (e *Engine) predict(ctx context.Context, ev Event) ClassifierVerdict {
	e.mu.RLock()
	classifier, limiter, timeout := e.classifier, e.limiter, e.classifierTimeout
	e.mu.RUnlock()

	if limiter != nil {
		if allowed, _, _, err := limiter.Allow(classifierLimiterKey); err != nil || !allowed {
			e.classifierFallback(ev.Source, ErrClassifierThrottled)
			return neutralClassifierVerdict()
		}
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cls, err := safePredict(ctx, classifier, ev)
	if err != nil {
		e.classifierFallback(ev.Source, err)
		return neutralClassifierVerdict()
	}
	return cls
}

func (e *Engine) classifierFallback(source string, err error) {
	reason := "error"
	switch {
	case errors.Is(err, ErrClassifierThrottled):
		reason = "throttled"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		reason = "timeout"
	}
	e.metrics.IncrementCounter("classifier_fallbacks_total", map[string]string{"reason": reason})
	e.logger.Warn("classifier unavailable, using neutral verdict", map[string]any{
		"source": source,
		"reason": reason,
		"error":  err,
	})
}

func (e *Engine) persist(ctx context.Context, v Verdict) {
	e.mu.RLock()
	store := e.store
	e.mu.RUnlock()
	if err := store.Save(ctx, v); err != nil {
		e.logger.Error("failed to persist verdict", map[string]any{
			"source": v.Source,
			"id":     v.ID,
			"error":  err,
		})
	}
}

// Forget drops all detector state and ledger entries for source.
func (e *Engine) Forget(source string) {
	source = strings.TrimSpace(source)
	e.aggregator.Forget(source)
	e.ledger.Forget(source)
}

// History returns persisted verdicts for source, newest first.
func (e *Engine) History(ctx context.Context, source string, limit int) ([]Verdict, error) {
	e.mu.RLock()
	store := e.store
	e.mu.RUnlock()
	return store.History(ctx, strings.TrimSpace(source), limit)
}

func (e *Engine) Ledger() *VerdictLedger {
	return e.ledger
}

// ReportSources publishes the tracked source count of every detector as a gauge.
func (e *Engine) ReportSources() {
	for cat, n := range e.aggregator.TrackedSources() {
		e.metrics.SetGauge("tracked_sources", float64(n), map[string]string{"category": string(cat)})
	}
}

type levelSetter interface {
	SetLevel(level string)
}

// ApplyConfig applies the live-reloadable parts of cfg: detector switches, indicator
// inference, ignore ranges, classifier limits and the log level. Windows and capacities
// need a restart.
func (e *Engine) ApplyConfig(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.aggregator.Configure(cfg)

	e.mu.Lock()
	e.classifierTimeout = cfg.Classifier.Timeout
	switch {
	case e.limiterFixed:
	case cfg.Classifier.RateLimit > 0:
		e.limiter = newTokenBucketRateLimiter(cfg.Classifier.RateLimit, time.Second, e.now)
	default:
		e.limiter = nil
	}
	e.mu.Unlock()

	if ls, ok := e.logger.(levelSetter); ok && cfg.LogLevel != "" {
		ls.SetLevel(cfg.LogLevel)
	}
	e.logger.Info("configuration applied", map[string]any{"log_level": cfg.LogLevel})
	return nil
}

func safePredict(ctx context.Context, c Classifier, ev Event) (cls ClassifierVerdict, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrClassifierUnavailable, r)
		}
	}()
	if c == nil {
		return ClassifierVerdict{}, ErrClassifierUnavailable
	}
	return c.Predict(ctx, ev)
}
