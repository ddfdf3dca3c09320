package ml

import (
	"errors"
	"fmt"
)

var (
	// ErrFeatureVectorMismatch is returned when a feature vector does not
	// have one value per model feature.
	ErrFeatureVectorMismatch = errors.New("feature vector mismatch")

	// ErrMalformedTree is returned when traversal meets a structure that load
	// validation should have rejected.
	ErrMalformedTree = errors.New("malformed tree")

	ErrEmptyEnsemble      = errors.New("empty ensemble")
	ErrInvalidPercentiles = errors.New("invalid risk percentiles")

	// ErrInvalidFeatureValue is returned for NaN feature values, which would
	// otherwise silently route every split to the right.
	ErrInvalidFeatureValue = errors.New("invalid feature value")
)

// Invariants reported by ValidationError.
const (
	InvariantSyntax         = "json_syntax"
	InvariantFeatureNames   = "feature_names"
	InvariantEstimatorCount = "n_estimators_matches_trees"
	InvariantNonEmpty       = "non_empty_ensemble"
	InvariantNodeCount      = "node_count_consistent"
	InvariantLeafShape      = "leaf_has_no_children"
	InvariantChildBounds    = "child_index_in_range"
	InvariantFeatureBounds  = "feature_index_in_range"
	InvariantThreshold      = "threshold_finite"
	InvariantSampleCount    = "sample_count_non_negative"
	InvariantAcyclic        = "acyclic_rooted_tree"
	InvariantPercentiles    = "risk_percentiles"
	InvariantCIndex         = "c_index_in_unit_interval"
)

// ValidationError reports the first structural invariant an artifact
// violates. Tree and Node are -1 when not applicable.
type ValidationError struct {
	Invariant string
	Tree      int
	Node      int
	Detail    string
	Err       error
}

func (e *ValidationError) Error() string {
	msg := "invalid model: " + e.Invariant
	switch {
	case e.Tree >= 0 && e.Node >= 0:
		msg += fmt.Sprintf(" (tree %d, node %d)", e.Tree, e.Node)
	case e.Tree >= 0:
		msg += fmt.Sprintf(" (tree %d)", e.Tree)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func modelError(invariant string, err error, format string, args ...any) *ValidationError {
	return &ValidationError{
		Invariant: invariant,
		Tree:      -1,
		Node:      -1,
		Detail:    fmt.Sprintf(format, args...),
		Err:       err,
	}
}

func treeError(invariant string, tree, node int, format string, args ...any) *ValidationError {
	return &ValidationError{
		Invariant: invariant,
		Tree:      tree,
		Node:      node,
		Detail:    fmt.Sprintf(format, args...),
		Err:       ErrMalformedTree,
	}
}
