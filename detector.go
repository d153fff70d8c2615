package vectorguard

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// AttackSignal is a detector's judgement for one source at one instant.
type AttackSignal struct {
	Category Category           `json:"category"`
	Score    float64            `json:"score"`
	Active   bool               `json:"active"`
	Rule     string             `json:"rule,omitempty"`
	Metrics  map[string]float64 `json:"metrics,omitempty"`
}

// Detector tracks per-source state for one attack category.
type Detector interface {
	Category() Category
	Window() time.Duration
	Record(ev Event, now time.Time) error
	Score(source string, now time.Time) (AttackSignal, error)
	Forget(source string)
	Sources() int
}

// DetectorResult is the outcome of querying one detector. A failed detector reports a
// zero signal for its category together with the error.
type DetectorResult struct {
	Signal AttackSignal
	Err    error
}

// Failed reports whether the detector could not produce a signal.
func (r DetectorResult) Failed() bool {
	return r.Err != nil
}

var errNonFiniteScore = errors.New("detector produced a non-finite score")

type detectorDefinition struct {
	Category      Category
	DefaultWindow time.Duration
	New           func(window time.Duration, maxSources, maxPerKey int) Detector
}

var detectorDefinitions = []detectorDefinition{
	{
		Category:      CategoryProbe,
		DefaultWindow: 60 * time.Second,
		New: func(window time.Duration, maxSources, maxPerKey int) Detector {
			return NewPortScanDetector(window, maxSources, maxPerKey)
		},
	},
	{
		Category:      CategoryDoS,
		DefaultWindow: 60 * time.Second,
		New: func(window time.Duration, maxSources, maxPerKey int) Detector {
			return NewDoSDetector(window, maxSources, maxPerKey)
		},
	},
	{
		Category:      CategoryR2L,
		DefaultWindow: 300 * time.Second,
		New: func(window time.Duration, maxSources, maxPerKey int) Detector {
			return NewR2LDetector(window, maxSources, maxPerKey)
		},
	},
	{
		Category:      CategoryU2R,
		DefaultWindow: 300 * time.Second,
		New: func(window time.Duration, maxSources, maxPerKey int) Detector {
			return NewU2RDetector(window, maxSources, maxPerKey)
		},
	},
	{
		Category:      CategoryBruteForce,
		DefaultWindow: 300 * time.Second,
		New: func(window time.Duration, maxSources, maxPerKey int) Detector {
			return NewBruteForceDetector(window, maxSources, maxPerKey)
		},
	},
}

func zeroSignal(category Category) AttackSignal {
	return AttackSignal{Category: category}
}

// checkSignal validates a computed signal before it leaves a detector.
func checkSignal(sig AttackSignal) (AttackSignal, error) {
	if math.IsNaN(sig.Score) || math.IsInf(sig.Score, 0) {
		return zeroSignal(sig.Category), fmt.Errorf("%s: %w", sig.Category, errNonFiniteScore)
	}
	sig.Score = clamp01(sig.Score)
	return sig, nil
}

// eventRate returns live events per second, using one second as the minimum span.
func eventRate(count int, first, last time.Time) float64 {
	if count == 0 {
		return 0
	}
	span := last.Sub(first).Seconds()
	if span < 1 {
		span = 1
	}
	return float64(count) / span
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
