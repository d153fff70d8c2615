package vectorguard

import (
	"context"
	"strings"
)

// ClassifierVerdict is the output of a statistical classifier for one event. Label is
// the classifier's own class name and is mapped onto a Category during arbitration.
type ClassifierVerdict struct {
	Label         string               `json:"label"`
	Confidence    float64              `json:"confidence"`
	Probabilities map[Category]float64 `json:"probabilities,omitempty"`
}

// neutralClassifierVerdict stands in for a classifier that failed or was throttled.
func neutralClassifierVerdict() ClassifierVerdict {
	return ClassifierVerdict{Label: string(CategoryNormal), Confidence: 0.5}
}

var classifierLabels = map[string]Category{
	"normal":      CategoryNormal,
	"benign":      CategoryNormal,
	"dos":         CategoryDoS,
	"ddos":        CategoryDoS,
	"udp_flood":   CategoryDoS,
	"icmp_flood":  CategoryDoS,
	"ping_flood":  CategoryDoS,
	"syn_flood":   CategoryDoS,
	"probe":       CategoryProbe,
	"port_scan":   CategoryProbe,
	"ping_sweep":  CategoryProbe,
	"r2l":         CategoryR2L,
	"u2r":         CategoryU2R,
	"brute_force": CategoryBruteForce,
	"bruteforce":  CategoryBruteForce,
}

// CategoryFromLabel maps a classifier label onto a Category. Unrecognised non-empty
// labels become unknown_attack; an empty label is treated as normal.
func CategoryFromLabel(label string) Category {
	key := strings.ToLower(strings.TrimSpace(label))
	key = strings.NewReplacer("-", "_", " ", "_").Replace(key)
	if key == "" {
		return CategoryNormal
	}
	if cat, ok := classifierLabels[key]; ok {
		return cat
	}
	return CategoryUnknownAttack
}

// PatternClassifier is a model-free classifier keyed on protocol, capture frequency and
// payload size. It is the default when no trained model is wired in.
type PatternClassifier struct{}

func NewPatternClassifier() *PatternClassifier {
	return &PatternClassifier{}
}

func (PatternClassifier) Predict(ctx context.Context, ev Event) (ClassifierVerdict, error) {
	if err := ctx.Err(); err != nil {
		return ClassifierVerdict{}, err
	}
	label, confidence := matchPattern(ParseProtocol(string(ev.Protocol)), ev.Frequency, ev.PayloadSize)
	return ClassifierVerdict{Label: label, Confidence: confidence}, nil
}

func matchPattern(proto Protocol, freq float64, size int) (string, float64) {
	label, confidence := "benign", 0.5

	switch proto {
	case ProtocolICMP:
		switch {
		case freq > 50:
			label, confidence = "ping_flood", 0.9
		case freq > 30:
			label, confidence = "ping_sweep", 0.85
		case freq > 20:
			label, confidence = "icmp_flood", 0.75
		}
	case ProtocolTCP:
		switch {
		case freq > 200:
			label, confidence = "ddos", 0.95
		case freq > 100:
			label, confidence = "dos", 0.9
		case freq > 50:
			label, confidence = "dos", 0.8
		case freq > 30 && size < 100:
			label, confidence = "port_scan", 0.85
		case freq > 20:
			label, confidence = "probe", 0.75
		}
	case ProtocolUDP:
		switch {
		case freq > 150:
			label, confidence = "ddos", 0.92
		case freq > 100:
			label, confidence = "dos", 0.88
		case freq > 50:
			label, confidence = "udp_flood", 0.8
		}
	}

	if freq > 40 && size < 80 {
		label, confidence = "port_scan", max(confidence, 0.88)
	}
	if freq > 25 && label == "benign" && (proto == ProtocolTCP || proto == ProtocolUDP) {
		label, confidence = "brute_force", 0.75
	}
	return label, confidence
}
