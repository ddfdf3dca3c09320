package ml

import (
	"fmt"
	"math"
)

// Leaf walks t from the root and returns the index of the leaf that
// features lands in. A value equal to a split threshold goes left.
//
// Every step is bounds checked and the walk is capped at the node count,
// so a tree that bypassed Load still cannot loop or panic.
func (t *Tree) Leaf(features []float64) (int, error) {
	n := len(t.ChildrenLeft)
	if n == 0 {
		return 0, fmt.Errorf("%w: tree has no nodes", ErrMalformedTree)
	}
	if len(t.ChildrenRight) != n || len(t.Feature) != n || len(t.Threshold) != n {
		return 0, fmt.Errorf("%w: node arrays differ in length", ErrMalformedTree)
	}

	node := 0
	for steps := 0; steps < n; steps++ {
		left, right := t.ChildrenLeft[node], t.ChildrenRight[node]
		if left == LeafSentinel && right == LeafSentinel {
			return node, nil
		}
		if left == LeafSentinel || right == LeafSentinel {
			return 0, fmt.Errorf("%w: node %d has a single child", ErrMalformedTree, node)
		}

		f := t.Feature[node]
		if f < 0 || f >= len(features) {
			return 0, fmt.Errorf("%w: node %d splits on feature %d of %d", ErrMalformedTree, node, f, len(features))
		}

		next := right
		if features[f] <= t.Threshold[node] {
			next = left
		}
		if next < 0 || next >= n {
			return 0, fmt.Errorf("%w: node %d points at node %d of %d", ErrMalformedTree, node, next, n)
		}
		node = next
	}
	return 0, fmt.Errorf("%w: no leaf within %d steps, tree has a cycle", ErrMalformedTree, n)
}

// LeafRisk returns the risk indicator of a leaf: the number of training
// subjects that reached it.
func (t *Tree) LeafRisk(node int) (float64, error) {
	if node < 0 || node >= len(t.NNodeSamples) {
		return 0, fmt.Errorf("%w: node %d outside [0, %d)", ErrMalformedTree, node, len(t.NNodeSamples))
	}
	if !t.IsLeaf(node) {
		return 0, fmt.Errorf("%w: node %d is not a leaf", ErrMalformedTree, node)
	}
	return float64(t.NNodeSamples[node]), nil
}

// checkVector rejects vectors that do not line up with the model features.
func (m *Model) checkVector(features []float64) error {
	if len(features) != len(m.FeatureNames) {
		return fmt.Errorf("%w: got %d values, model expects %d (%v)",
			ErrFeatureVectorMismatch, len(features), len(m.FeatureNames), m.FeatureNames)
	}
	for i, v := range features {
		if math.IsNaN(v) {
			return fmt.Errorf("%w: %s is NaN", ErrInvalidFeatureValue, m.FeatureNames[i])
		}
	}
	return nil
}

// Evaluate returns the leaf of tree i reached by features.
func (m *Model) Evaluate(i int, features []float64) (int, error) {
	if i < 0 || i >= len(m.Trees) {
		return 0, fmt.Errorf("tree %d outside [0, %d)", i, len(m.Trees))
	}
	if err := m.checkVector(features); err != nil {
		return 0, err
	}
	return m.Trees[i].Leaf(features)
}
