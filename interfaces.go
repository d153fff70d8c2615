package vectorguard

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInvalidConfig wraps every configuration validation failure.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrClassifierUnavailable is returned by classifiers that cannot score an event.
	ErrClassifierUnavailable = errors.New("classifier unavailable")
	// ErrClassifierThrottled is reported when the classifier budget is exhausted.
	ErrClassifierThrottled = errors.New("classifier rate limit exceeded")
)

// Logger is the structured logger used throughout the engine and its adapters.
type Logger interface {
	Debug(msg string, fields map[string]any)
	Info(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
}

// RateLimiter interface for different algorithms
type RateLimiter interface {
	Allow(key string) (allowed bool, remaining int, reset time.Time, err error)
}

// MetricsCollector interface for observability
type MetricsCollector interface {
	IncrementCounter(name string, labels map[string]string)
	ObserveHistogram(name string, value float64, labels map[string]string)
	SetGauge(name string, value float64, labels map[string]string)
}

// Classifier scores a single event with a statistical model. Implementations may block
// and must honour ctx.
type Classifier interface {
	Predict(ctx context.Context, ev Event) (ClassifierVerdict, error)
}

// VerdictStore persists final verdicts.
type VerdictStore interface {
	Save(ctx context.Context, v Verdict) error
	History(ctx context.Context, source string, limit int) ([]Verdict, error)
	Close() error
}

type noopMetrics struct{}

func (noopMetrics) IncrementCounter(string, map[string]string) {}
func (noopMetrics) ObserveHistogram(string, float64, map[string]string) {}
func (noopMetrics) SetGauge(string, float64, map[string]string) {}
