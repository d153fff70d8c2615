package vectorguard

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatternClassifier(t *testing.T) {
	cases := []struct {
		name  string
		ev    Event
		label string
		conf  float64
	}{
		{"icmp flood", Event{Protocol: ProtocolICMP, Frequency: 60, PayloadSize: 200}, "ping_flood", 0.9},
		{"icmp sweep", Event{Protocol: ProtocolICMP, Frequency: 35, PayloadSize: 200}, "ping_sweep", 0.85},
		{"tcp ddos", Event{Protocol: ProtocolTCP, Frequency: 250, PayloadSize: 500}, "ddos", 0.95},
		{"tcp small fast", Event{Protocol: ProtocolTCP, Frequency: 35, PayloadSize: 90}, "port_scan", 0.85},
		{"tiny packets any protocol", Event{Protocol: ProtocolOther, Frequency: 45, PayloadSize: 40}, "port_scan", 0.88},
		{"udp repeated", Event{Protocol: ProtocolUDP, Frequency: 30, PayloadSize: 300}, "brute_force", 0.75},
		{"quiet", Event{Protocol: ProtocolTCP, Frequency: 5, PayloadSize: 300}, "benign", 0.5},
	}
	c := NewPatternClassifier()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v, err := c.Predict(context.Background(), tc.ev)
			require.NoError(t, err)
			assert.Equal(t, tc.label, v.Label)
			assert.InDelta(t, tc.conf, v.Confidence, 1e-9)
		})
	}
}

func TestPatternClassifierHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewPatternClassifier().Predict(ctx, Event{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCategoryFromLabel(t *testing.T) {
	assert.Equal(t, CategoryNormal, CategoryFromLabel(""))
	assert.Equal(t, CategoryNormal, CategoryFromLabel(" Benign "))
	assert.Equal(t, CategoryDoS, CategoryFromLabel("ICMP_FLOOD"))
	assert.Equal(t, CategoryProbe, CategoryFromLabel("port-scan"))
	assert.Equal(t, CategoryBruteForce, CategoryFromLabel("brute force"))
	assert.Equal(t, CategoryUnknownAttack, CategoryFromLabel("slowloris"))
}
