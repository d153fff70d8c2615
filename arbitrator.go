package vectorguard

// VerdictArbitrator reconciles a rule verdict with a classifier verdict. It holds no
// state and is safe for concurrent use.
type VerdictArbitrator struct{}

// Arbitrate merges rule and cls into the final verdict. A malicious rule verdict always
// wins; a strong but inactive rule score raises the classifier's confidence; otherwise
// the classifier decides.
func (VerdictArbitrator) Arbitrate(rule Verdict, cls ClassifierVerdict) Verdict {
	clsCat := CategoryFromLabel(cls.Label)
	clsConf := unitValue(cls.Confidence)
	ruleMax := rule.MaxScore()

	out := Verdict{
		ID:          rule.ID,
		Source:      rule.Source,
		Scores:      rule.Scores,
		Signals:     rule.Signals,
		Degraded:    rule.Degraded,
		EvaluatedAt: rule.EvaluatedAt,
	}
	if out.Scores == nil {
		out.Scores = zeroScores()
	}
	recorded := cls
	recorded.Confidence = clsConf
	out.Classifier = &recorded

	switch {
	case rule.Malicious:
		out.Category = rule.Category
		if out.Category == CategoryNormal {
			out.Category = CategoryUnknownAttack
		}
		out.Malicious = true
		out.Confidence = overrideConfidence(unitValue(rule.Confidence), clsConf)
		out.Decision = DecisionRuleOverride
	case ruleMax > activationThreshold && clsCat == CategoryNormal:
		out.Category = clsCat
		out.Confidence = clsConf
		if ruleMax > clsConf {
			out.Confidence = clsConf + (ruleMax-clsConf)/2
		}
		out.Escalated = true
		out.Decision = DecisionSoftEscalation
	default:
		out.Category = clsCat
		out.Malicious = clsCat != CategoryNormal
		out.Confidence = clsConf
		out.Decision = DecisionClassifier
	}

	out.Probabilities = arbitratedDistribution(seedDistribution(cls, clsCat, clsConf), out.Category, out.Confidence)
	return out
}

// overrideConfidence lifts the confidence of a malicious rule verdict into fixed bands.
func overrideConfidence(rule, cls float64) float64 {
	switch {
	case rule >= 0.8:
		return max(rule, 0.95)
	case rule >= 0.6:
		return max(rule, 0.85)
	case rule >= 0.4:
		return max(rule, 0.75)
	default:
		return min(1, cls+0.2)
	}
}

// seedDistribution starts from the classifier's own probabilities when it supplied
// any, otherwise from its label: the label gets the confidence and the remaining mass is
// shared by the other categories.
func seedDistribution(cls ClassifierVerdict, cat Category, conf float64) map[Category]float64 {
	if len(cls.Probabilities) > 0 {
		return sanitizeDistribution(cls.Probabilities)
	}

	seed := zeroDistribution()
	rest := 1 - conf
	switch {
	case cat == CategoryUnknownAttack:
		seed[CategoryNormal] = rest
		for _, c := range AttackCategories {
			seed[c] = conf / float64(len(AttackCategories))
		}
	default:
		seed[cat] = conf
		share := rest / float64(len(DistributionCategories)-1)
		for _, c := range DistributionCategories {
			if c != cat {
				seed[c] = share
			}
		}
	}
	return seed
}

// arbitratedDistribution pushes probability mass toward the final category and
// renormalizes.
func arbitratedDistribution(p map[Category]float64, cat Category, conf float64) map[Category]float64 {
	p = sanitizeDistribution(p)
	switch {
	case cat.IsAttack():
		p[cat] = max(p[cat], conf)
		p[CategoryNormal] *= normalSuppression(conf)
		for _, c := range AttackCategories {
			if c != cat {
				p[c] *= 0.7
			}
		}
	case cat == CategoryUnknownAttack:
		share := conf / float64(len(AttackCategories))
		for _, c := range AttackCategories {
			p[c] = max(p[c], share)
		}
		p[CategoryNormal] *= normalSuppression(conf)
	}
	return normalizeDistribution(p)
}

func normalSuppression(conf float64) float64 {
	switch {
	case conf >= 0.7:
		return 0.1
	case conf >= 0.5:
		return 0.3
	default:
		return 0.5
	}
}

// unitValue maps non-finite and negative inputs to zero and caps at one.
func unitValue(v float64) float64 {
	if !finite(v) {
		return 0
	}
	return clamp01(v)
}
