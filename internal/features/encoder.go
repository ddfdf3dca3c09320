// Package features turns raw subject records into model feature vectors.
//
// Categorical values (for example hormonal therapy "yes"/"no" or tumour grade
// "I"/"II"/"III") are not part of the model artifact. They are a fixed
// contract between the exporter and every consumer and are supplied here as
// an encoding table.
package features

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

var (
	ErrMissingField    = errors.New("missing field")
	ErrUnknownCategory = errors.New("unknown category")
	ErrInvalidNumber   = errors.New("invalid number")
	ErrUnexpectedField = errors.New("unexpected field")
)

// Encodings maps a feature name to its label → value table.
type Encodings map[string]map[string]float64

// DefaultEncodings returns the GBSG2 encodings the reference model was
// trained with.
func DefaultEncodings() Encodings {
	return Encodings{
		"horTh": {
			"no":  0,
			"yes": 1,
		},
		"tgrade": {
			"I":   1,
			"II":  2,
			"III": 3,
		},
	}
}

// Encoder converts string records into feature vectors.
type Encoder struct {
	encodings Encodings

	// Strict rejects record fields that are not model features.
	Strict bool
}

// NewEncoder copies encodings so later edits by the caller have no effect.
func NewEncoder(encodings Encodings) *Encoder {
	copied := make(Encodings, len(encodings))
	for name, table := range encodings {
		t := make(map[string]float64, len(table))
		for label, v := range table {
			t[label] = v
		}
		copied[name] = t
	}
	return &Encoder{encodings: copied}
}

// Encodings returns a copy of the encoding table.
func (e *Encoder) Encodings() Encodings {
	return NewEncoder(e.encodings).encodings
}

// IsCategorical reports whether name is encoded through a label table.
func (e *Encoder) IsCategorical(name string) bool {
	_, ok := e.encodings[name]
	return ok
}

// Encode builds the vector for record in the order given by names.
// Categorical fields go through their table; numeric labels that appear
// verbatim as an encoded value are accepted as well. Other fields parse as
// floats.
func (e *Encoder) Encode(record map[string]string, names []string) ([]float64, error) {
	out := make([]float64, len(names))
	for i, name := range names {
		raw, ok := record[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingField, name)
		}
		v, err := e.EncodeValue(name, raw)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	if e.Strict {
		if err := checkUnexpected(keys(record), names); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// EncodeValue encodes one field.
func (e *Encoder) EncodeValue(name, raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("%w: %s is empty", ErrMissingField, name)
	}

	if table, ok := e.encodings[name]; ok {
		if v, ok := table[raw]; ok {
			return v, nil
		}
		// Calculator forms post the already-encoded value.
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			for _, v := range table {
				if v == f {
					return f, nil
				}
			}
		}
		return 0, fmt.Errorf("%w: %s=%q (known: %s)", ErrUnknownCategory, name, raw, strings.Join(labels(table), ", "))
	}

	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalidNumber, name, raw)
	}
	return f, nil
}

// EncodeNumeric orders an already numeric record.
func (e *Encoder) EncodeNumeric(record map[string]float64, names []string) ([]float64, error) {
	out := make([]float64, len(names))
	for i, name := range names {
		v, ok := record[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingField, name)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: %s=%v", ErrInvalidNumber, name, v)
		}
		out[i] = v
	}
	if e.Strict {
		fields := make([]string, 0, len(record))
		for k := range record {
			fields = append(fields, k)
		}
		if err := checkUnexpected(fields, names); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func checkUnexpected(fields, names []string) error {
	known := make(map[string]struct{}, len(names))
	for _, n := range names {
		known[n] = struct{}{}
	}
	sort.Strings(fields)
	for _, f := range fields {
		if _, ok := known[f]; !ok {
			return fmt.Errorf("%w: %s", ErrUnexpectedField, f)
		}
	}
	return nil
}

func keys(record map[string]string) []string {
	out := make([]string, 0, len(record))
	for k := range record {
		out = append(out, k)
	}
	return out
}

func labels(table map[string]float64) []string {
	out := make([]string, 0, len(table))
	for label := range table {
		out = append(out, label)
	}
	sort.Strings(out)
	return out
}
