package ml

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootLeafRisk(t *testing.T) {
	tree := leafTree(42)
	inputs := [][]float64{
		subject(30, 10, 1, 0, 0, 0, 1),
		subject(80, 120, 50, 2000, 1000, 1, 3),
		subject(-1, -1, -1, -1, -1, -1, -1),
	}
	for _, x := range inputs {
		leaf, err := tree.Leaf(x)
		require.NoError(t, err)
		assert.Equal(t, 0, leaf)

		risk, err := tree.LeafRisk(leaf)
		require.NoError(t, err)
		assert.Equal(t, 42.0, risk)
	}
}

func TestLeafTraversal(t *testing.T) {
	tree := deepTree()

	tests := []struct {
		name string
		x    []float64
		leaf int
		risk float64
	}{
		{"few nodes small tumour", subject(45, 15, 2, 100, 50, 0, 2), 3, 60},
		{"few nodes large tumour", subject(45, 35, 2, 100, 50, 0, 2), 4, 45},
		{"many nodes low grade young", subject(40, 35, 8, 100, 50, 1, 2), 7, 25},
		{"many nodes low grade older", subject(62, 35, 8, 100, 50, 1, 1), 8, 30},
		{"many nodes grade III", subject(40, 35, 8, 100, 50, 1, 3), 6, 40},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			leaf, err := tree.Leaf(tt.x)
			require.NoError(t, err)
			assert.Equal(t, tt.leaf, leaf)

			risk, err := tree.LeafRisk(leaf)
			require.NoError(t, err)
			assert.Equal(t, tt.risk, risk)
		})
	}
}

func TestLeafThresholdGoesLeft(t *testing.T) {
	tree := stumpTree(0, 50, 10, 30)

	leaf, err := tree.Leaf(subject(50, 0, 0, 0, 0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, leaf, "value equal to threshold goes left")

	leaf, err = tree.Leaf(subject(math.Nextafter(50, 100), 0, 0, 0, 0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 2, leaf)

	leaf, err = tree.Leaf(subject(math.Inf(-1), 0, 0, 0, 0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, leaf)

	leaf, err = tree.Leaf(subject(math.Inf(1), 0, 0, 0, 0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 2, leaf)
}

func TestLeafRejectsMalformedTrees(t *testing.T) {
	x := subject(45, 25, 5, 100, 50, 1, 2)

	t.Run("cycle", func(t *testing.T) {
		tree := Tree{
			ChildrenLeft:  []int{1, 0},
			ChildrenRight: []int{1, 0},
			Feature:       []int{0, 0},
			Threshold:     []float64{100, 100},
			NNodeSamples:  []int{10, 5},
		}
		done := make(chan error, 1)
		go func() {
			_, err := tree.Leaf(x)
			done <- err
		}()
		select {
		case err := <-done:
			assert.ErrorIs(t, err, ErrMalformedTree)
		case <-time.After(5 * time.Second):
			t.Fatal("traversal did not terminate")
		}
	})

	t.Run("self loop", func(t *testing.T) {
		tree := Tree{
			ChildrenLeft:  []int{0},
			ChildrenRight: []int{0},
			Feature:       []int{0},
			Threshold:     []float64{0},
			NNodeSamples:  []int{1},
		}
		_, err := tree.Leaf(x)
		assert.ErrorIs(t, err, ErrMalformedTree)
	})

	t.Run("half leaf", func(t *testing.T) {
		tree := stumpTree(0, 50, 10, 30)
		tree.ChildrenRight[0] = LeafSentinel
		_, err := tree.Leaf(x)
		assert.ErrorIs(t, err, ErrMalformedTree)
	})

	t.Run("child out of range", func(t *testing.T) {
		tree := stumpTree(0, 50, 10, 30)
		tree.ChildrenLeft[0] = 9
		_, err := tree.Leaf(x)
		assert.ErrorIs(t, err, ErrMalformedTree)
	})

	t.Run("feature out of range", func(t *testing.T) {
		tree := stumpTree(12, 50, 10, 30)
		_, err := tree.Leaf(x)
		assert.ErrorIs(t, err, ErrMalformedTree)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := (&Tree{}).Leaf(x)
		assert.ErrorIs(t, err, ErrMalformedTree)
	})

	t.Run("ragged arrays", func(t *testing.T) {
		tree := stumpTree(0, 50, 10, 30)
		tree.Threshold = tree.Threshold[:1]
		_, err := tree.Leaf(x)
		assert.ErrorIs(t, err, ErrMalformedTree)
	})
}

func TestLeafRiskRequiresLeaf(t *testing.T) {
	tree := deepTree()

	_, err := tree.LeafRisk(0)
	assert.ErrorIs(t, err, ErrMalformedTree)

	_, err = tree.LeafRisk(42)
	assert.ErrorIs(t, err, ErrMalformedTree)
}

func TestEvaluate(t *testing.T) {
	m := testModel(deepTree(), leafTree(42))

	leaf, err := m.Evaluate(0, subject(45, 15, 2, 100, 50, 0, 2))
	require.NoError(t, err)
	assert.Equal(t, 3, leaf)

	_, err = m.Evaluate(2, subject(45, 15, 2, 100, 50, 0, 2))
	assert.Error(t, err)
}

func TestFeatureVectorMismatch(t *testing.T) {
	m := testModel(deepTree())

	_, err := m.Score([]float64{45, 25, 5, 100, 50, 1})
	assert.ErrorIs(t, err, ErrFeatureVectorMismatch)

	_, err = m.Score(append(subject(45, 25, 5, 100, 50, 1, 2), 0))
	assert.ErrorIs(t, err, ErrFeatureVectorMismatch)

	_, err = m.Score(nil)
	assert.ErrorIs(t, err, ErrFeatureVectorMismatch)

	_, err = m.Evaluate(0, []float64{1, 2, 3})
	assert.ErrorIs(t, err, ErrFeatureVectorMismatch)
}

func TestNaNFeatureRejected(t *testing.T) {
	m := testModel(deepTree())
	_, err := m.Score(subject(math.NaN(), 25, 5, 100, 50, 1, 2))
	assert.ErrorIs(t, err, ErrInvalidFeatureValue)
}
