package ml

import "fmt"

// Explanation breaks an ensemble score down by tree.
type Explanation struct {
	Score     float64   `json:"score"`
	Leaves    []int     `json:"leaves"`
	TreeRisks []float64 `json:"tree_risks"`
}

// Score returns the ensemble risk score for features: the arithmetic mean
// of every tree's leaf risk, summed in tree order.
func (m *Model) Score(features []float64) (float64, error) {
	e, err := m.Explain(features)
	if err != nil {
		return 0, err
	}
	return e.Score, nil
}

// Explain scores features and keeps the per-tree leaves and risks.
func (m *Model) Explain(features []float64) (Explanation, error) {
	if len(m.Trees) == 0 {
		return Explanation{}, ErrEmptyEnsemble
	}
	if err := m.checkVector(features); err != nil {
		return Explanation{}, err
	}

	e := Explanation{
		Leaves:    make([]int, len(m.Trees)),
		TreeRisks: make([]float64, len(m.Trees)),
	}
	var sum float64
	for i := range m.Trees {
		leaf, err := m.Trees[i].Leaf(features)
		if err != nil {
			return Explanation{}, fmt.Errorf("tree %d: %w", i, err)
		}
		risk, err := m.Trees[i].LeafRisk(leaf)
		if err != nil {
			return Explanation{}, fmt.Errorf("tree %d: %w", i, err)
		}
		e.Leaves[i] = leaf
		e.TreeRisks[i] = risk
		sum += risk
	}
	e.Score = sum / float64(len(m.Trees))
	return e, nil
}
