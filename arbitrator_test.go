package vectorguard

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func maliciousRule(cat Category, conf float64) Verdict {
	scores := zeroScores()
	if cat.IsAttack() {
		scores[cat] = conf
	}
	return Verdict{
		Source:     "198.51.100.7",
		Category:   cat,
		Malicious:  true,
		Confidence: conf,
		Scores:     scores,
		Decision:   DecisionRules,
	}
}

func TestArbitrateRuleWins(t *testing.T) {
	var a VerdictArbitrator
	v := a.Arbitrate(maliciousRule(CategoryDoS, 0.9), ClassifierVerdict{Label: "normal", Confidence: 0.99})

	assert.Equal(t, CategoryDoS, v.Category)
	assert.True(t, v.Malicious)
	assert.GreaterOrEqual(t, v.Confidence, 0.95)
	assert.Equal(t, DecisionRuleOverride, v.Decision)
	assertDistribution(t, v.Probabilities)
	for _, c := range DistributionCategories {
		if c != CategoryDoS {
			assert.Greater(t, v.Probabilities[CategoryDoS], v.Probabilities[c])
		}
	}
}

func TestArbitrateOverrideBands(t *testing.T) {
	cases := []struct {
		rule, cls, want float64
	}{
		{0.85, 0.1, 0.95},
		{0.65, 0.1, 0.85},
		{0.45, 0.1, 0.75},
		{0.2, 0.5, 0.7},
		{0.1, 0.95, 1.0},
	}
	var a VerdictArbitrator
	for _, tc := range cases {
		v := a.Arbitrate(maliciousRule(CategoryProbe, tc.rule), ClassifierVerdict{Label: "benign", Confidence: tc.cls})
		assert.InDelta(t, tc.want, v.Confidence, 1e-9, "rule=%v cls=%v", tc.rule, tc.cls)
	}
}

func TestArbitrateSoftEscalation(t *testing.T) {
	rule := Verdict{Source: "198.51.100.7", Category: CategoryNormal, Scores: zeroScores()}
	rule.Scores[CategoryProbe] = 0.6

	var a VerdictArbitrator
	v := a.Arbitrate(rule, ClassifierVerdict{Label: "benign", Confidence: 0.4})
	assert.Equal(t, CategoryNormal, v.Category)
	assert.False(t, v.Malicious)
	assert.True(t, v.Escalated)
	assert.InDelta(t, 0.5, v.Confidence, 1e-9)
	assert.Equal(t, DecisionSoftEscalation, v.Decision)

	v = a.Arbitrate(rule, ClassifierVerdict{Label: "benign", Confidence: 0.9})
	assert.InDelta(t, 0.9, v.Confidence, 1e-9, "confidence is never lowered")
}

func TestArbitrateClassifierDecides(t *testing.T) {
	rule := Verdict{Source: "198.51.100.7", Category: CategoryNormal, Scores: zeroScores()}
	cases := map[string]Category{
		"ddos":       CategoryDoS,
		"udp_flood":  CategoryDoS,
		"ping_sweep": CategoryProbe,
		"port_scan":  CategoryProbe,
		"benign":     CategoryNormal,
		"BruteForce": CategoryBruteForce,
	}
	var a VerdictArbitrator
	for label, want := range cases {
		v := a.Arbitrate(rule, ClassifierVerdict{Label: label, Confidence: 0.8})
		assert.Equal(t, want, v.Category, label)
		assert.Equal(t, want != CategoryNormal, v.Malicious, label)
		assert.Equal(t, DecisionClassifier, v.Decision, label)
		assertDistribution(t, v.Probabilities)
	}
}

func TestArbitrateUnknownAttackSpreadsMass(t *testing.T) {
	rule := Verdict{Source: "198.51.100.7", Category: CategoryNormal, Scores: zeroScores()}
	var a VerdictArbitrator
	v := a.Arbitrate(rule, ClassifierVerdict{Label: "slowloris", Confidence: 0.8})

	assert.Equal(t, CategoryUnknownAttack, v.Category)
	assert.True(t, v.Malicious)
	assertDistribution(t, v.Probabilities)
	first := v.Probabilities[CategoryProbe]
	for _, c := range AttackCategories {
		assert.InDelta(t, first, v.Probabilities[c], 1e-9)
	}
	assert.Less(t, v.Probabilities[CategoryNormal], first)
}

func TestArbitrateSanitizesClassifierInput(t *testing.T) {
	rule := Verdict{Source: "198.51.100.7", Category: CategoryNormal, Scores: zeroScores()}
	cls := ClassifierVerdict{
		Label:      "normal",
		Confidence: math.NaN(),
		Probabilities: map[Category]float64{
			CategoryNormal: math.NaN(),
			CategoryDoS:    math.Inf(1),
			CategoryProbe:  -0.4,
		},
	}
	var a VerdictArbitrator
	v := a.Arbitrate(rule, cls)

	assert.Zero(t, v.Confidence)
	assertDistribution(t, v.Probabilities)
	for _, c := range DistributionCategories {
		assert.InDelta(t, 1.0/6, v.Probabilities[c], 1e-9, "falls back to uniform")
	}
}

func TestArbitrateUsesClassifierVector(t *testing.T) {
	rule := Verdict{Source: "198.51.100.7", Category: CategoryNormal, Scores: zeroScores()}
	cls := ClassifierVerdict{
		Label:      "dos",
		Confidence: 0.6,
		Probabilities: map[Category]float64{
			CategoryNormal: 0.3,
			CategoryDoS:    0.6,
			CategoryProbe:  0.1,
		},
	}
	var a VerdictArbitrator
	v := a.Arbitrate(rule, cls)
	require.Equal(t, CategoryDoS, v.Category)

	// normal 0.3*0.3, dos 0.6, probe 0.1*0.7
	total := 0.09 + 0.6 + 0.07
	assert.InDelta(t, 0.6/total, v.Probabilities[CategoryDoS], 1e-9)
	assert.InDelta(t, 0.09/total, v.Probabilities[CategoryNormal], 1e-9)
	assert.InDelta(t, 0.07/total, v.Probabilities[CategoryProbe], 1e-9)
}

func TestDistributionsAlwaysSumToOne(t *testing.T) {
	rules := []Verdict{
		{Category: CategoryNormal, Scores: zeroScores()},
		maliciousRule(CategoryU2R, 0.35),
		maliciousRule(CategoryBruteForce, 1),
		maliciousRule(CategoryUnknownAttack, 0.24),
	}
	labels := []string{"normal", "dos", "probe", "r2l", "u2r", "brute_force", "mystery", ""}
	confs := []float64{0, 0.3, 0.55, 0.99, 1.5, -1, math.Inf(1)}

	var a VerdictArbitrator
	for _, rule := range rules {
		for _, label := range labels {
			for _, conf := range confs {
				v := a.Arbitrate(rule, ClassifierVerdict{Label: label, Confidence: conf})
				assertDistribution(t, v.Probabilities)
				assert.GreaterOrEqual(t, v.Confidence, 0.0)
				assert.LessOrEqual(t, v.Confidence, 1.0)
			}
		}
	}
}

func TestNormalizeDistributionFallsBackToUniform(t *testing.T) {
	p := normalizeDistribution(map[Category]float64{CategoryDoS: math.Inf(1)})
	for _, c := range DistributionCategories {
		assert.InDelta(t, 1.0/6, p[c], 1e-12)
	}
	p = normalizeDistribution(nil)
	assertDistribution(t, p)
}
