package features

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var gbsg2 = []string{"age", "tsize", "pnodes", "progrec", "estrec", "horTh", "tgrade"}

func TestEncode(t *testing.T) {
	enc := NewEncoder(DefaultEncodings())

	record := map[string]string{
		"age": "62", "tsize": " 35 ", "pnodes": "8", "progrec": "100.5",
		"estrec": "0", "horTh": "yes", "tgrade": "II", "menostat": "Post",
	}
	got, err := enc.Encode(record, gbsg2)
	require.NoError(t, err)
	assert.Equal(t, []float64{62, 35, 8, 100.5, 0, 1, 2}, got)
}

func TestEncodeAcceptsEncodedCategories(t *testing.T) {
	enc := NewEncoder(DefaultEncodings())

	v, err := enc.EncodeValue("tgrade", "3")
	require.NoError(t, err)
	assert.Equal(t, 3.0, v)

	v, err = enc.EncodeValue("horTh", "0")
	require.NoError(t, err)
	assert.Equal(t, 0.0, v)

	_, err = enc.EncodeValue("tgrade", "4")
	assert.ErrorIs(t, err, ErrUnknownCategory)
}

func TestEncodeErrors(t *testing.T) {
	enc := NewEncoder(DefaultEncodings())
	base := func() map[string]string {
		return map[string]string{
			"age": "62", "tsize": "35", "pnodes": "8", "progrec": "100",
			"estrec": "50", "horTh": "no", "tgrade": "I",
		}
	}

	tests := []struct {
		name   string
		modify func(map[string]string)
		want   error
	}{
		{"missing field", func(r map[string]string) { delete(r, "pnodes") }, ErrMissingField},
		{"blank field", func(r map[string]string) { r["age"] = "  " }, ErrMissingField},
		{"unknown category", func(r map[string]string) { r["tgrade"] = "IV" }, ErrUnknownCategory},
		{"labels are case sensitive", func(r map[string]string) { r["horTh"] = "Yes" }, ErrUnknownCategory},
		{"not a number", func(r map[string]string) { r["tsize"] = "large" }, ErrInvalidNumber},
		{"NaN", func(r map[string]string) { r["estrec"] = "NaN" }, ErrInvalidNumber},
		{"infinite", func(r map[string]string) { r["progrec"] = "+Inf" }, ErrInvalidNumber},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record := base()
			tt.modify(record)
			_, err := enc.Encode(record, gbsg2)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestEncodeUnknownCategoryListsLabels(t *testing.T) {
	enc := NewEncoder(DefaultEncodings())
	_, err := enc.EncodeValue("tgrade", "IV")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "I, II, III")
}

func TestStrictEncoder(t *testing.T) {
	enc := NewEncoder(DefaultEncodings())
	enc.Strict = true

	record := map[string]string{
		"age": "62", "tsize": "35", "pnodes": "8", "progrec": "100",
		"estrec": "50", "horTh": "no", "tgrade": "I", "menostat": "Post",
	}
	_, err := enc.Encode(record, gbsg2)
	assert.ErrorIs(t, err, ErrUnexpectedField)

	delete(record, "menostat")
	_, err = enc.Encode(record, gbsg2)
	assert.NoError(t, err)
}

func TestEncodeNumeric(t *testing.T) {
	enc := NewEncoder(DefaultEncodings())
	names := []string{"age", "tsize"}

	got, err := enc.EncodeNumeric(map[string]float64{"tsize": 20, "age": 50}, names)
	require.NoError(t, err)
	assert.Equal(t, []float64{50, 20}, got)

	_, err = enc.EncodeNumeric(map[string]float64{"age": 50}, names)
	assert.ErrorIs(t, err, ErrMissingField)

	_, err = enc.EncodeNumeric(map[string]float64{"age": math.NaN(), "tsize": 1}, names)
	assert.ErrorIs(t, err, ErrInvalidNumber)

	enc.Strict = true
	_, err = enc.EncodeNumeric(map[string]float64{"age": 1, "tsize": 1, "extra": 1}, names)
	assert.ErrorIs(t, err, ErrUnexpectedField)
}

func TestEncoderCopiesTables(t *testing.T) {
	encodings := DefaultEncodings()
	enc := NewEncoder(encodings)

	encodings["horTh"]["yes"] = 7
	out := enc.Encodings()
	assert.Equal(t, 1.0, out["horTh"]["yes"])

	out["tgrade"]["I"] = 9
	v, err := enc.EncodeValue("tgrade", "I")
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)

	assert.True(t, enc.IsCategorical("horTh"))
	assert.False(t, enc.IsCategorical("age"))
}
