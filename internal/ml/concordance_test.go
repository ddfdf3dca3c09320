package ml

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func events(times ...float64) []Outcome {
	out := make([]Outcome, len(times))
	for i, t := range times {
		out[i] = Outcome{Time: t, Event: true}
	}
	return out
}

func TestConcordanceIndex(t *testing.T) {
	tests := []struct {
		name     string
		scores   []float64
		outcomes []Outcome
		want     float64
	}{
		{
			name:     "higher risk fails first",
			scores:   []float64{3, 2, 1},
			outcomes: events(1, 2, 3),
			want:     1,
		},
		{
			name:     "reversed ranking",
			scores:   []float64{1, 2, 3},
			outcomes: events(1, 2, 3),
			want:     0,
		},
		{
			name:     "tied scores count half",
			scores:   []float64{5, 5, 5},
			outcomes: events(1, 2, 3),
			want:     0.5,
		},
		{
			name:   "censored subjects only as the later member",
			scores: []float64{0.5, 0.4, 0.1},
			outcomes: []Outcome{
				{Time: 5, Event: true},
				{Time: 3, Event: true},
				{Time: 8, Event: false},
			},
			want: 2.0 / 3.0,
		},
		{
			name:   "event tied with censoring is comparable",
			scores: []float64{2, 1, 0},
			outcomes: []Outcome{
				{Time: 1, Event: true},
				{Time: 1, Event: false},
				{Time: 2, Event: true},
			},
			want: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ConcordanceIndex(tt.scores, tt.outcomes)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestConcordanceIndexNoComparablePairs(t *testing.T) {
	censored := []Outcome{{Time: 1}, {Time: 2}, {Time: 3}}
	_, err := ConcordanceIndex([]float64{1, 2, 3}, censored)
	assert.ErrorIs(t, err, ErrNoComparablePairs)

	// Two events at the same time cannot be ordered.
	_, err = ConcordanceIndex([]float64{1, 2}, events(4, 4))
	assert.ErrorIs(t, err, ErrNoComparablePairs)

	_, err = ConcordanceIndex(nil, nil)
	assert.ErrorIs(t, err, ErrNoComparablePairs)
}

func TestConcordanceIndexLengthMismatch(t *testing.T) {
	_, err := ConcordanceIndex([]float64{1, 2}, events(1))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoComparablePairs)
}
