package vectorguard

import (
	"math"
	"time"
)

// Decision records which policy produced a verdict.
type Decision string

const (
	// DecisionRules is a verdict built from detector signals alone.
	DecisionRules Decision = "rules"
	// DecisionRuleOverride means a malicious rule verdict overrode the classifier.
	DecisionRuleOverride Decision = "rule_override"
	// DecisionSoftEscalation means the classifier label was kept but its confidence was
	// raised toward a strong rule score.
	DecisionSoftEscalation Decision = "soft_escalation"
	// DecisionClassifier means the classifier decided.
	DecisionClassifier Decision = "classifier"
	// DecisionSkipped marks events that could not be attributed or were ignored.
	DecisionSkipped Decision = "skipped"
)

// Verdict is the classification of one source at one instant.
type Verdict struct {
	ID            string               `json:"id,omitempty"`
	Source        string               `json:"source"`
	Category      Category             `json:"category"`
	Malicious     bool                 `json:"malicious"`
	Confidence    float64              `json:"confidence"`
	Probabilities map[Category]float64 `json:"probabilities"`
	Scores        map[Category]float64 `json:"scores"`
	Signals       []AttackSignal       `json:"signals,omitempty"`
	Classifier    *ClassifierVerdict   `json:"classifier,omitempty"`
	Degraded      bool                 `json:"degraded,omitempty"`
	Escalated     bool                 `json:"escalated,omitempty"`
	Decision      Decision             `json:"decision"`
	EvaluatedAt   time.Time            `json:"evaluated_at"`
}

// MaxScore is the highest finite rule score in the verdict.
func (v Verdict) MaxScore() float64 {
	best := 0.0
	for _, s := range v.Scores {
		if finite(s) && s > best {
			best = s
		}
	}
	return min(best, 1)
}

func benignVerdict(source string, now time.Time, decision Decision) Verdict {
	return Verdict{
		Source:        source,
		Category:      CategoryNormal,
		Probabilities: zeroDistribution(),
		Scores:        zeroScores(),
		Decision:      decision,
		EvaluatedAt:   now,
	}
}

func zeroScores() map[Category]float64 {
	out := make(map[Category]float64, len(AttackCategories))
	for _, c := range AttackCategories {
		out[c] = 0
	}
	return out
}

func zeroDistribution() map[Category]float64 {
	out := make(map[Category]float64, len(DistributionCategories))
	for _, c := range DistributionCategories {
		out[c] = 0
	}
	return out
}

func uniformDistribution() map[Category]float64 {
	out := make(map[Category]float64, len(DistributionCategories))
	share := 1 / float64(len(DistributionCategories))
	for _, c := range DistributionCategories {
		out[c] = share
	}
	return out
}

// sanitizeDistribution copies p onto the distribution categories, zeroing negative and
// non-finite entries.
func sanitizeDistribution(p map[Category]float64) map[Category]float64 {
	out := zeroDistribution()
	for _, c := range DistributionCategories {
		if v, ok := p[c]; ok && finite(v) && v > 0 {
			out[c] = v
		}
	}
	return out
}

// normalizeDistribution scales p to sum to one. A zero or non-finite total falls back to
// the uniform distribution.
func normalizeDistribution(p map[Category]float64) map[Category]float64 {
	clean := sanitizeDistribution(p)
	total := 0.0
	for _, v := range clean {
		total += v
	}
	if total <= 0 || !finite(total) {
		return uniformDistribution()
	}
	for c, v := range clean {
		clean[c] = v / total
	}
	return clean
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
