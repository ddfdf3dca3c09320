package batch

import (
	"fmt"
	"strings"
	"testing"

	"rsf-risk/internal/ml"

	"github.com/stretchr/testify/require"
)

var gbsg2Features = []string{"age", "tsize", "pnodes", "progrec", "estrec", "horTh", "tgrade"}

// nodeModel scores 10 for subjects with at most three positive nodes and 30
// otherwise, stratified at 5/10/15.
func nodeModel() *ml.Model {
	return &ml.Model{
		FeatureNames: append([]string(nil), gbsg2Features...),
		Trees: []ml.Tree{{
			ChildrenLeft:  []int{1, -1, -1},
			ChildrenRight: []int{2, -1, -1},
			Feature:       []int{2, -2, -2},
			Threshold:     []float64{3.5, -2, -2},
			NNodeSamples:  []int{40, 10, 30},
		}},
		RiskPercentiles: ml.Percentiles{P25: 5, P50: 10, P75: 15},
		CIndex:          0.7,
	}
}

func nodePredictor(t *testing.T) *ml.Predictor {
	t.Helper()
	p, err := ml.NewFromModel(nodeModel(), nil, ml.PredictorConfig{Version: "nodes"})
	require.NoError(t, err)
	return p
}

// cohortCSV renders subjects as a GBSG2 cohort file.
func cohortCSV(rows ...string) string {
	var b strings.Builder
	b.WriteString("pid,horTh,age,menostat,tsize,tgrade,pnodes,progrec,estrec,time,cens\n")
	for _, r := range rows {
		b.WriteString(r)
		b.WriteByte('\n')
	}
	return b.String()
}

func cohortRow(pid string, pnodes int, tgrade string, time float64, cens int) string {
	return fmt.Sprintf("%s,yes,55,Post,25,%s,%d,100,50,%g,%d", pid, tgrade, pnodes, time, cens)
}
