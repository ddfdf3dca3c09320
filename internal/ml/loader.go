package ml

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// LoadFile reads and validates a model artifact from disk.
func LoadFile(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model %s: %w", path, err)
	}
	return Load(data)
}

// Load parses a model artifact and checks every structural invariant. It
// returns a *ValidationError naming the first violation and never a
// partially valid model.
func Load(raw []byte) (*Model, error) {
	var w wireModel
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&w); err != nil {
		return nil, modelError(InvariantSyntax, err, "%v", err)
	}

	if err := validateFeatureNames(w.FeatureNames); err != nil {
		return nil, err
	}

	if len(w.Trees) == 0 {
		return nil, modelError(InvariantNonEmpty, ErrEmptyEnsemble, "model has no trees")
	}
	if w.NEstimators == nil {
		return nil, modelError(InvariantEstimatorCount, nil, "n_estimators is missing")
	}
	if *w.NEstimators != len(w.Trees) {
		return nil, modelError(InvariantEstimatorCount, nil,
			"n_estimators is %d but %d trees are present", *w.NEstimators, len(w.Trees))
	}

	for i := range w.Trees {
		if err := validateTree(&w.Trees[i], i, len(w.FeatureNames)); err != nil {
			return nil, err
		}
	}

	percentiles, err := validatePercentiles(w.RiskPercentiles)
	if err != nil {
		return nil, err
	}

	if w.CIndex == nil {
		return nil, modelError(InvariantCIndex, nil, "c_index is missing")
	}
	if c := *w.CIndex; math.IsNaN(c) || c < 0 || c > 1 {
		return nil, modelError(InvariantCIndex, nil, "c_index %v outside [0, 1]", c)
	}

	return &Model{
		FeatureNames:    w.FeatureNames,
		Trees:           w.Trees,
		RiskPercentiles: percentiles,
		CIndex:          *w.CIndex,
	}, nil
}

func validateFeatureNames(names []string) error {
	if len(names) == 0 {
		return modelError(InvariantFeatureNames, nil, "feature_names is empty")
	}
	seen := make(map[string]struct{}, len(names))
	for i, name := range names {
		if name == "" {
			return modelError(InvariantFeatureNames, nil, "feature %d has an empty name", i)
		}
		if _, dup := seen[name]; dup {
			return modelError(InvariantFeatureNames, nil, "feature %q listed twice", name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

func validatePercentiles(p *wirePercentiles) (Percentiles, error) {
	if p == nil {
		return Percentiles{}, modelError(InvariantPercentiles, ErrInvalidPercentiles, "risk_percentiles is missing")
	}
	keys := []struct {
		name  string
		value *float64
	}{{"p25", p.P25}, {"p50", p.P50}, {"p75", p.P75}}
	for _, k := range keys {
		if k.value == nil {
			return Percentiles{}, modelError(InvariantPercentiles, ErrInvalidPercentiles, "%s is missing", k.name)
		}
	}
	out := Percentiles{P25: *p.P25, P50: *p.P50, P75: *p.P75}
	if err := out.Validate(); err != nil {
		return Percentiles{}, modelError(InvariantPercentiles, ErrInvalidPercentiles, "%v", err)
	}
	return out, nil
}

// validateTree checks the arena of tree idx. After it passes, traversal from
// the root visits each node at most once and always ends on a leaf.
func validateTree(t *Tree, idx, nFeatures int) error {
	n := len(t.ChildrenLeft)
	if n == 0 {
		return treeError(InvariantNodeCount, idx, -1, "tree has no nodes")
	}
	if len(t.ChildrenRight) != n || len(t.Feature) != n || len(t.Threshold) != n || len(t.NNodeSamples) != n {
		return treeError(InvariantNodeCount, idx, -1,
			"node arrays differ in length: children_left=%d children_right=%d feature=%d threshold=%d n_node_samples=%d",
			n, len(t.ChildrenRight), len(t.Feature), len(t.Threshold), len(t.NNodeSamples))
	}

	parents := make([]int, n)
	for i := 0; i < n; i++ {
		left, right := t.ChildrenLeft[i], t.ChildrenRight[i]
		if t.NNodeSamples[i] < 0 {
			return treeError(InvariantSampleCount, idx, i, "n_node_samples is %d", t.NNodeSamples[i])
		}
		if left == LeafSentinel && right == LeafSentinel {
			continue
		}
		if left == LeafSentinel || right == LeafSentinel {
			return treeError(InvariantLeafShape, idx, i, "node has exactly one child (left=%d, right=%d)", left, right)
		}
		for _, child := range []int{left, right} {
			if child < 0 || child >= n {
				return treeError(InvariantChildBounds, idx, i, "child %d outside [0, %d)", child, n)
			}
			if child == i {
				return treeError(InvariantAcyclic, idx, i, "node references itself")
			}
			if child == 0 {
				return treeError(InvariantAcyclic, idx, i, "node references the root")
			}
		}
		if left == right {
			return treeError(InvariantAcyclic, idx, i, "both children are node %d", left)
		}
		if f := t.Feature[i]; f < 0 || f >= nFeatures {
			return treeError(InvariantFeatureBounds, idx, i, "feature %d outside [0, %d)", f, nFeatures)
		}
		if th := t.Threshold[i]; math.IsNaN(th) || math.IsInf(th, 0) {
			return treeError(InvariantThreshold, idx, i, "threshold is %v", th)
		}
		parents[left]++
		parents[right]++
	}

	for i, count := range parents {
		if count > 1 {
			return treeError(InvariantAcyclic, idx, i, "node has %d parents", count)
		}
	}

	// With the root parentless and every other node holding at most one
	// parent, any cycle is disconnected from the root, so reachability of
	// every node rules cycles out.
	visited := make([]bool, n)
	stack := []int{0}
	reached := 0
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[node] {
			return treeError(InvariantAcyclic, idx, node, "node reached twice")
		}
		visited[node] = true
		reached++
		if !t.IsLeaf(node) {
			stack = append(stack, t.ChildrenRight[node], t.ChildrenLeft[node])
		}
	}
	if reached != n {
		for i, ok := range visited {
			if !ok {
				return treeError(InvariantAcyclic, idx, i, "node is unreachable from the root")
			}
		}
	}
	return nil
}
