package ml

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// MockMetrics implements the ml metrics interfaces for testing
type MockMetrics struct {
	mu               sync.Mutex
	predictions      int
	failures         int
	latencySum       float64
	modelAge         float64
	modelTrees       float64
	predictionScores []float64
	riskGroups       map[string]int
	cacheHits        int
	cacheMisses      int
	psi              float64
	reloads          int
	wsSessions       float64
	storageErrors    int
	httpRequests     map[string]int
}

func (m *MockMetrics) MLPredictionsInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.predictions++
}

func (m *MockMetrics) MLFailuresInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures++
}

func (m *MockMetrics) MLLatencyObserve(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencySum += v
}

func (m *MockMetrics) MLModelAgeSet(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modelAge = v
}

func (m *MockMetrics) MLModelTreesSet(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modelTrees = v
}

func (m *MockMetrics) MLPredictionScoresObserve(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.predictionScores = append(m.predictionScores, v)
}

func (m *MockMetrics) MLRiskGroupInc(group string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.riskGroups == nil {
		m.riskGroups = make(map[string]int)
	}
	m.riskGroups[group]++
}

func (m *MockMetrics) MLCacheHitsInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cacheHits++
}

func (m *MockMetrics) MLCacheMissesInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cacheMisses++
}

func (m *MockMetrics) MLStratumPSISet(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.psi = v
}

func (m *MockMetrics) MLModelReloadInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reloads++
}

func (m *MockMetrics) WSSessionsAdd(delta float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wsSessions += delta
}

func (m *MockMetrics) StorageErrorsInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.storageErrors++
}

func (m *MockMetrics) HTTPRequestInc(endpoint string, code int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.httpRequests == nil {
		m.httpRequests = make(map[string]int)
	}
	m.httpRequests[endpoint]++
}

type metricsSnapshot struct {
	predictions   int
	failures      int
	modelTrees    float64
	cacheHits     int
	cacheMisses   int
	psi           float64
	reloads       int
	wsSessions    float64
	storageErrors int
	riskGroups    map[string]int
	httpRequests  map[string]int
}

func (m *MockMetrics) snapshot() metricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := metricsSnapshot{
		predictions:   m.predictions,
		failures:      m.failures,
		modelTrees:    m.modelTrees,
		cacheHits:     m.cacheHits,
		cacheMisses:   m.cacheMisses,
		psi:           m.psi,
		reloads:       m.reloads,
		wsSessions:    m.wsSessions,
		storageErrors: m.storageErrors,
		riskGroups:    make(map[string]int),
		httpRequests:  make(map[string]int),
	}
	for k, v := range m.riskGroups {
		out.riskGroups[k] = v
	}
	for k, v := range m.httpRequests {
		out.httpRequests[k] = v
	}
	return out
}

var gbsg2Features = []string{"age", "tsize", "pnodes", "progrec", "estrec", "horTh", "tgrade"}

// leafTree is a single root leaf holding samples subjects.
func leafTree(samples int) Tree {
	return Tree{
		ChildrenLeft:  []int{-1},
		ChildrenRight: []int{-1},
		Feature:       []int{-2},
		Threshold:     []float64{-2},
		NNodeSamples:  []int{samples},
	}
}

// stumpTree splits on feature at threshold into two leaves.
func stumpTree(feature int, threshold float64, left, right int) Tree {
	return Tree{
		ChildrenLeft:  []int{1, -1, -1},
		ChildrenRight: []int{2, -1, -1},
		Feature:       []int{feature, -2, -2},
		Threshold:     []float64{threshold, -2, -2},
		NNodeSamples:  []int{left + right, left, right},
	}
}

// deepTree has four levels:
//
//	0: pnodes <= 3.5
//	├── 1: tsize <= 20.0
//	│   ├── 3 leaf (60)
//	│   └── 4 leaf (45)
//	└── 2: tgrade <= 2.5
//	    ├── 5: age <= 50.0
//	    │   ├── 7 leaf (25)
//	    │   └── 8 leaf (30)
//	    └── 6 leaf (40)
func deepTree() Tree {
	return Tree{
		ChildrenLeft:  []int{1, 3, 5, -1, -1, 7, -1, -1, -1},
		ChildrenRight: []int{2, 4, 6, -1, -1, 8, -1, -1, -1},
		Feature:       []int{2, 1, 6, -2, -2, 0, -2, -2, -2},
		Threshold:     []float64{3.5, 20, 2.5, -2, -2, 50, -2, -2, -2},
		NNodeSamples:  []int{200, 105, 95, 60, 45, 55, 40, 25, 30},
	}
}

func testModel(trees ...Tree) *Model {
	return &Model{
		FeatureNames:    append([]string(nil), gbsg2Features...),
		Trees:           trees,
		RiskPercentiles: Percentiles{P25: 5, P50: 10, P75: 15},
		CIndex:          0.68,
	}
}

// modelDoc returns a generic JSON document of m for mutation in tests.
func modelDoc(t *testing.T, m *Model) map[string]any {
	t.Helper()
	data, err := json.Marshal(m)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	return doc
}

func docBytes(t *testing.T, doc map[string]any) []byte {
	t.Helper()
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	return data
}

// treeDoc returns tree i of doc for in-place edits.
func treeDoc(doc map[string]any, i int) map[string]any {
	return doc["trees"].([]any)[i].(map[string]any)
}

func writeModel(t *testing.T, dir, name string, m *Model) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, m.Encode(&buf))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

// subject encodes a GBSG2 record in model feature order.
func subject(age, tsize, pnodes, progrec, estrec, horTh, tgrade float64) []float64 {
	return []float64{age, tsize, pnodes, progrec, estrec, horTh, tgrade}
}
