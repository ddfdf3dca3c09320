package ml

import (
	"errors"
	"fmt"
)

// ErrNoComparablePairs is returned when no pair of subjects can be ordered,
// for example when every subject is censored.
var ErrNoComparablePairs = errors.New("no comparable pairs")

// Outcome is the observed follow-up of a subject.
type Outcome struct {
	Time  float64 `json:"time"`
	Event bool    `json:"event"`
}

// ConcordanceIndex computes Harrell's C for risk scores against observed
// outcomes. A pair (i, j) is comparable when i had an event and either
// left follow-up first or at the same time as a censored j. It is
// concordant when i has the higher score; equal scores count one half.
func ConcordanceIndex(scores []float64, outcomes []Outcome) (float64, error) {
	if len(scores) != len(outcomes) {
		return 0, fmt.Errorf("%d scores for %d outcomes", len(scores), len(outcomes))
	}

	var concordant float64
	var comparable int
	for i := range outcomes {
		if !outcomes[i].Event {
			continue
		}
		for j := range outcomes {
			if i == j {
				continue
			}
			ti, tj := outcomes[i].Time, outcomes[j].Time
			if ti > tj || (ti == tj && outcomes[j].Event) {
				continue
			}
			comparable++
			switch {
			case scores[i] > scores[j]:
				concordant++
			case scores[i] == scores[j]:
				concordant += 0.5
			}
		}
	}

	if comparable == 0 {
		return 0, ErrNoComparablePairs
	}
	return concordant / float64(comparable), nil
}
