package vectorguard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type classifierFunc func(ctx context.Context, ev Event) (ClassifierVerdict, error)

func (f classifierFunc) Predict(ctx context.Context, ev Event) (ClassifierVerdict, error) {
	return f(ctx, ev)
}

func TestEvaluateRuleVerdictSurvivesClassifierFailure(t *testing.T) {
	metrics := NewPrometheusMetrics("test")
	broken := classifierFunc(func(context.Context, Event) (ClassifierVerdict, error) {
		return ClassifierVerdict{}, ErrClassifierUnavailable
	})
	e, clock := newTestEngine(t, nil, WithClassifier(broken), WithMetrics(metrics))
	recordFailedLogins(e, clock, "198.51.100.9", 11)

	v := e.Evaluate(context.Background(), Event{
		Source:          "198.51.100.9",
		Destination:     "10.0.0.22",
		DestinationPort: 22,
		LoginAttempt:    true,
		LoginFailed:     true,
	})
	assert.Equal(t, CategoryR2L, v.Category)
	assert.True(t, v.Malicious)
	assert.Equal(t, DecisionRuleOverride, v.Decision)
	require.NotNil(t, v.Classifier)
	assert.Equal(t, "normal", v.Classifier.Label)
	assert.InDelta(t, 0.5, v.Classifier.Confidence, 1e-9)
	assert.Equal(t, 1.0, metrics.CounterValue("classifier_fallbacks_total", map[string]string{"reason": "error"}))
}

func TestEvaluateRecoversClassifierPanic(t *testing.T) {
	panicky := classifierFunc(func(context.Context, Event) (ClassifierVerdict, error) {
		panic("model not loaded")
	})
	e, _ := newTestEngine(t, nil, WithClassifier(panicky))

	v := e.Evaluate(context.Background(), Event{Source: "198.51.100.7"})
	assert.Equal(t, CategoryNormal, v.Category)
	require.NotNil(t, v.Classifier)
	assert.InDelta(t, 0.5, v.Classifier.Confidence, 1e-9)
}

func TestEvaluateThrottlesClassifier(t *testing.T) {
	var calls atomic.Int32
	counting := classifierFunc(func(context.Context, Event) (ClassifierVerdict, error) {
		calls.Add(1)
		return ClassifierVerdict{Label: "ddos", Confidence: 0.9}, nil
	})
	clock := newFakeClock()
	e, err := NewEngine(DefaultConfig(),
		WithClock(clock.Now),
		WithClassifier(counting),
		WithRateLimiter(newTokenBucketRateLimiter(1, time.Second, clock.Now)),
	)
	require.NoError(t, err)

	first := e.Evaluate(context.Background(), Event{Source: "198.51.100.7"})
	second := e.Evaluate(context.Background(), Event{Source: "198.51.100.7"})

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, CategoryDoS, first.Category)
	assert.Equal(t, CategoryNormal, second.Category)
}

func TestEvaluateHonoursClassifierTimeout(t *testing.T) {
	slow := classifierFunc(func(ctx context.Context, _ Event) (ClassifierVerdict, error) {
		<-ctx.Done()
		return ClassifierVerdict{}, ctx.Err()
	})
	cfg := DefaultConfig()
	cfg.Classifier.Timeout = 20 * time.Millisecond
	e, _ := newTestEngine(t, cfg, WithClassifier(slow))

	v := e.Evaluate(context.Background(), Event{Source: "198.51.100.7"})
	assert.Equal(t, CategoryNormal, v.Category)
	assert.Equal(t, DecisionClassifier, v.Decision)
}

func TestEvaluateSkipsUnattributableEvents(t *testing.T) {
	var calls atomic.Int32
	counting := classifierFunc(func(context.Context, Event) (ClassifierVerdict, error) {
		calls.Add(1)
		return ClassifierVerdict{Label: "dos", Confidence: 1}, nil
	})
	e, _ := newTestEngine(t, nil, WithClassifier(counting))

	v := e.Evaluate(context.Background(), Event{Source: "0.0.0.0"})
	assert.Equal(t, DecisionSkipped, v.Decision)
	assert.False(t, v.Malicious)
	assert.NotEmpty(t, v.ID)
	assert.Zero(t, calls.Load())
}

func TestEvaluateRecordsLedgerAndHistory(t *testing.T) {
	e, clock := newTestEngine(t, nil)
	recordPortScan(e, clock, "198.51.100.7")

	v := e.Evaluate(context.Background(), Event{Source: "198.51.100.7", DestinationPort: 26, PayloadSize: 200})
	require.True(t, v.Malicious)
	assert.Equal(t, CategoryProbe, v.Category)
	require.NotEmpty(t, v.ID)

	entry, ok := e.Ledger().Lookup("198.51.100.7")
	require.True(t, ok)
	assert.Equal(t, v.ID, entry.Verdict.ID)

	history, err := e.History(context.Background(), "198.51.100.7", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, v.ID, history[0].ID)

	e.Forget("198.51.100.7")
	_, ok = e.Ledger().Lookup("198.51.100.7")
	assert.False(t, ok)
}

func TestEvaluateUsesEventTimestamp(t *testing.T) {
	e, clock := newTestEngine(t, nil)
	at := clock.Now().Add(-time.Hour)
	v := e.Evaluate(context.Background(), Event{Source: "198.51.100.7", ObservedAt: at})
	assert.True(t, v.EvaluatedAt.Equal(at))
}

func TestFutureTimestampsAreCappedAtClock(t *testing.T) {
	e, clock := newTestEngine(t, nil)
	recordPortScan(e, clock, "198.51.100.7")
	require.Equal(t, CategoryProbe, e.Classify("198.51.100.7").Category)

	future := clock.Now().Add(10 * time.Minute)
	require.True(t, e.RecordEvent(Event{Source: "198.51.100.7", DestinationPort: 443, ObservedAt: future}))
	v := e.Classify("198.51.100.7")
	assert.Equal(t, CategoryProbe, v.Category)
	assert.True(t, v.Malicious)

	v = e.Evaluate(context.Background(), Event{Source: "198.51.100.7", DestinationPort: 444, ObservedAt: future})
	assert.True(t, v.EvaluatedAt.Equal(clock.Now()))
	assert.Equal(t, CategoryProbe, v.Category)
}

func TestConcurrentRecordAndClassify(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	sources := make([]string, 16)
	for i := range sources {
		sources[i] = fmt.Sprintf("198.51.100.%d", i+1)
	}

	var wg sync.WaitGroup
	for _, source := range sources {
		wg.Add(2)
		go func(source string) {
			defer wg.Done()
			for i := 0; i < 12; i++ {
				e.RecordEvent(Event{
					Source:          source,
					Destination:     "10.0.0.22",
					DestinationPort: 22,
					LoginAttempt:    true,
					LoginFailed:     true,
				})
				e.Classify(source)
			}
		}(source)
		go func(source string) {
			defer wg.Done()
			for i := 0; i < 12; i++ {
				e.Evaluate(context.Background(), Event{Source: source, Destination: "10.0.0.5", PayloadSize: 300})
				e.ReportSources()
				e.Forget("203.0.113.250")
			}
		}(source)
	}
	wg.Wait()

	for _, source := range sources {
		v := e.Classify(source)
		assert.Equal(t, CategoryR2L, v.Category, source)
		assert.InDelta(t, 0.6, v.Scores[CategoryR2L], 1e-9, source)
	}
	assert.Equal(t, len(sources), e.aggregator.TrackedSources()[CategoryDoS])
}

func TestApplyConfigTogglesDetectors(t *testing.T) {
	e, clock := newTestEngine(t, nil)

	cfg := DefaultConfig()
	cfg.Classifier.RateLimit = 0
	cfg.Detectors = map[Category]DetectorOverride{CategoryR2L: {Enabled: boolPtr(false)}}
	require.NoError(t, e.ApplyConfig(cfg))

	recordFailedLogins(e, clock, "198.51.100.9", 12)
	assert.Equal(t, CategoryUnknownAttack, e.Classify("198.51.100.9").Category)

	bad := DefaultConfig()
	bad.LogLevel = "loud"
	err := e.ApplyConfig(bad)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestArbitrateAssignsIdentity(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	v := e.Arbitrate(maliciousRule(CategoryDoS, 0.9), ClassifierVerdict{Label: "normal", Confidence: 0.99})
	assert.NotEmpty(t, v.ID)
	assert.False(t, v.EvaluatedAt.IsZero())
}

func TestNewEngineRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSources = -1
	_, err := NewEngine(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestReportSourcesPublishesGauge(t *testing.T) {
	metrics := NewPrometheusMetrics("test")
	e, clock := newTestEngine(t, nil, WithMetrics(metrics))
	recordPortScan(e, clock, "198.51.100.7")
	recordFlood(e, clock, "198.51.100.8")

	e.ReportSources()
	assert.Equal(t, 2.0, metrics.GaugeValue("tracked_sources", map[string]string{"category": "dos"}))
	assert.Equal(t, 950.0, metrics.CounterValue("events_total", map[string]string{"result": "accepted"}))
}
