package ml

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStratify(t *testing.T) {
	p := Percentiles{P25: 5, P50: 10, P75: 15}

	tests := []struct {
		score float64
		want  Category
	}{
		{5, Low},
		{7, Medium},
		{12, High},
		{20, VeryHigh},
		{0, Low},
		{-3, Low},
		{10, Medium},
		{15, High},
		{math.Nextafter(5, 6), Medium},
		{math.Nextafter(15, 16), VeryHigh},
		{math.Inf(1), VeryHigh},
	}
	for _, tt := range tests {
		got, err := Stratify(tt.score, p)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "score %v", tt.score)
	}
}

func TestStratifyCollapsedPercentiles(t *testing.T) {
	p := Percentiles{P25: 7, P50: 7, P75: 7}

	got, err := Stratify(7, p)
	require.NoError(t, err)
	assert.Equal(t, Low, got)

	got, err = Stratify(7.5, p)
	require.NoError(t, err)
	assert.Equal(t, VeryHigh, got)
}

func TestStratifyInvalidPercentiles(t *testing.T) {
	for _, p := range []Percentiles{
		{P25: 10, P50: 5, P75: 15},
		{P25: 5, P50: 10, P75: 9},
		{P25: math.NaN(), P50: 10, P75: 15},
		{P25: 5, P50: 10, P75: math.Inf(1)},
	} {
		_, err := Stratify(7, p)
		assert.ErrorIs(t, err, ErrInvalidPercentiles, "%+v", p)
	}
}

func TestStratifyNaNScore(t *testing.T) {
	_, err := Stratify(math.NaN(), Percentiles{P25: 5, P50: 10, P75: 15})
	assert.Error(t, err)
}

func TestModelStratify(t *testing.T) {
	m := testModel(leafTree(1))
	got, err := m.Stratify(12)
	require.NoError(t, err)
	assert.Equal(t, High, got)
}

func TestCategoryText(t *testing.T) {
	for _, c := range Categories {
		text, err := c.MarshalText()
		require.NoError(t, err)

		var back Category
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, c, back)
	}

	data, err := json.Marshal(map[string]Category{"group": VeryHigh})
	require.NoError(t, err)
	assert.JSONEq(t, `{"group":"VeryHigh"}`, string(data))

	var c Category
	assert.Error(t, c.UnmarshalText([]byte("Extreme")))
	assert.Equal(t, "Category(9)", Category(9).String())
}

func TestWithPercentiles(t *testing.T) {
	m := testModel(leafTree(12))

	recal, err := m.WithPercentiles(Percentiles{P25: 1, P50: 2, P75: 3})
	require.NoError(t, err)
	assert.Equal(t, Percentiles{P25: 5, P50: 10, P75: 15}, m.RiskPercentiles, "receiver unchanged")

	got, err := recal.Stratify(12)
	require.NoError(t, err)
	assert.Equal(t, VeryHigh, got)

	_, err = m.WithPercentiles(Percentiles{P25: 3, P50: 2, P75: 1})
	assert.ErrorIs(t, err, ErrInvalidPercentiles)
}
