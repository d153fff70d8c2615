package vectorguard

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleVerdicts(n int) []Verdict {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]Verdict, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, Verdict{
			ID:            fmt.Sprintf("v-%d", i),
			Source:        "198.51.100.7",
			Category:      CategoryProbe,
			Malicious:     true,
			Confidence:    0.5,
			Probabilities: uniformDistribution(),
			Scores:        map[Category]float64{CategoryProbe: 0.5},
			Decision:      DecisionRuleOverride,
			EvaluatedAt:   base.Add(time.Duration(i) * time.Second),
		})
	}
	return out
}

func TestInMemoryVerdictStore(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryVerdictStore(3)
	for _, v := range sampleVerdicts(5) {
		require.NoError(t, s.Save(ctx, v))
	}

	all, err := s.History(ctx, "198.51.100.7", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "v-4", all[0].ID)
	assert.Equal(t, "v-2", all[2].ID)

	two, err := s.History(ctx, "198.51.100.7", 2)
	require.NoError(t, err)
	assert.Len(t, two, 2)

	none, err := s.History(ctx, "198.51.100.8", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSQLiteVerdictStore(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLiteVerdictStore(":memory:")
	require.NoError(t, err)
	defer s.Close()

	for _, v := range sampleVerdicts(4) {
		require.NoError(t, s.Save(ctx, v))
	}

	history, err := s.History(ctx, "198.51.100.7", 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "v-3", history[0].ID)
	assert.Equal(t, CategoryProbe, history[0].Category)
	assert.InDelta(t, 0.5, history[0].Scores[CategoryProbe], 1e-9)
	assert.True(t, history[0].EvaluatedAt.Equal(sampleVerdicts(4)[3].EvaluatedAt))

	removed, err := s.Prune(ctx, sampleVerdicts(4)[2].EvaluatedAt)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	all, err := s.History(ctx, "198.51.100.7", 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSQLiteVerdictStoreRequiresID(t *testing.T) {
	s, err := OpenSQLiteVerdictStore(":memory:")
	require.NoError(t, err)
	defer s.Close()

	err = s.Save(context.Background(), Verdict{Source: "198.51.100.7"})
	assert.Error(t, err)
}
