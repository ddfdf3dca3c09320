package ml

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
)

// LeafSentinel marks "no child" in children_left / children_right.
const LeafSentinel = -1

// Tree is one fitted survival tree stored as an arena of nodes. Node i is
// described by the i-th element of every slice; node 0 is the root.
type Tree struct {
	ChildrenLeft  []int     `json:"children_left"`
	ChildrenRight []int     `json:"children_right"`
	Feature       []int     `json:"feature"`
	Threshold     []float64 `json:"threshold"`
	NNodeSamples  []int     `json:"n_node_samples"`
}

// NodeCount returns the number of nodes in the arena.
func (t *Tree) NodeCount() int {
	return len(t.ChildrenLeft)
}

// IsLeaf reports whether node has no children.
func (t *Tree) IsLeaf(node int) bool {
	return t.ChildrenLeft[node] == LeafSentinel && t.ChildrenRight[node] == LeafSentinel
}

// Percentiles are the training-population risk score quartiles used to
// stratify new scores.
type Percentiles struct {
	P25 float64 `json:"p25"`
	P50 float64 `json:"p50"`
	P75 float64 `json:"p75"`
}

// Validate checks that all thresholds are finite and non-decreasing.
func (p Percentiles) Validate() error {
	for _, v := range []float64{p.P25, p.P50, p.P75} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite threshold %v", ErrInvalidPercentiles, v)
		}
	}
	if p.P25 > p.P50 || p.P50 > p.P75 {
		return fmt.Errorf("%w: expected p25 <= p50 <= p75, got %v, %v, %v",
			ErrInvalidPercentiles, p.P25, p.P50, p.P75)
	}
	return nil
}

// Model is the exported random survival forest. A Model returned by Load is
// fully validated and must be treated as read-only; it is safe to share
// across goroutines.
type Model struct {
	FeatureNames    []string
	Trees           []Tree
	RiskPercentiles Percentiles
	CIndex          float64
}

// NEstimators returns the number of trees in the ensemble.
func (m *Model) NEstimators() int {
	return len(m.Trees)
}

// FeatureIndex returns the position of name in the model's feature order.
func (m *Model) FeatureIndex(name string) (int, bool) {
	for i, n := range m.FeatureNames {
		if n == name {
			return i, true
		}
	}
	return -1, false
}

// WithPercentiles returns a copy of m that stratifies with p. Trees are
// shared with the receiver.
func (m *Model) WithPercentiles(p Percentiles) (*Model, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	out := *m
	out.RiskPercentiles = p
	return &out, nil
}

// wireModel mirrors the artifact layout. Pointer fields let the loader tell
// a missing key from a zero value.
type wireModel struct {
	FeatureNames    []string         `json:"feature_names"`
	NEstimators     *int             `json:"n_estimators"`
	Trees           []Tree           `json:"trees"`
	RiskPercentiles *wirePercentiles `json:"risk_percentiles"`
	CIndex          *float64         `json:"c_index"`
}

type wirePercentiles struct {
	P25 *float64 `json:"p25"`
	P50 *float64 `json:"p50"`
	P75 *float64 `json:"p75"`
}

// MarshalJSON writes m in the artifact layout.
func (m *Model) MarshalJSON() ([]byte, error) {
	n := len(m.Trees)
	p := m.RiskPercentiles
	c := m.CIndex
	return json.Marshal(wireModel{
		FeatureNames: m.FeatureNames,
		NEstimators:  &n,
		Trees:        m.Trees,
		RiskPercentiles: &wirePercentiles{
			P25: &p.P25,
			P50: &p.P50,
			P75: &p.P75,
		},
		CIndex: &c,
	})
}

// Encode writes m to w as indented JSON.
func (m *Model) Encode(w io.Writer) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal model: %w", err)
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write model: %w", err)
	}
	return nil
}
