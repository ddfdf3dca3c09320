package ml

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"math"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Experiment variants
const (
	VariantControl    = "control"
	VariantChallenger = "challenger"
)

// maxLatencySamples bounds the latencies kept per variant.
const maxLatencySamples = 1000

// ExperimentConfig configures a champion/challenger experiment
type ExperimentConfig struct {
	ID string `yaml:"id"`
	// ChallengerShare is the fraction of subjects scored by the challenger.
	ChallengerShare float64 `yaml:"challenger_share"`
}

// Experiment routes a stable share of subjects to a challenger model and
// keeps per-variant statistics so the two can be compared before the
// challenger is promoted. The control is whatever model the caller serves.
type Experiment struct {
	mu         sync.RWMutex
	id         string
	share      float64
	challenger *Predictor
	startedAt  time.Time
	variants   map[string]*variantStats
}

type variantStats struct {
	version   string
	samples   int64
	scoreSum  float64
	groups    [4]int64
	latencies []float64
}

// VariantResult summarises the subjects scored by one variant.
type VariantResult struct {
	ModelVersion string             `json:"model_version,omitempty"`
	SampleCount  int64              `json:"sample_count"`
	MeanScore    float64            `json:"mean_score"`
	GroupShares  map[string]float64 `json:"group_shares"`
	LatencyP50   float64            `json:"latency_p50_ms"`
	LatencyP95   float64            `json:"latency_p95_ms"`
}

// ExperimentReport compares the variants of an experiment.
type ExperimentReport struct {
	ID              string                   `json:"id"`
	StartedAt       time.Time                `json:"started_at"`
	ChallengerShare float64                  `json:"challenger_share"`
	Variants        map[string]VariantResult `json:"variants"`
	// StratumPSI is the stability index of the challenger's stratum shares
	// against the control's. Zero until both variants have scored.
	StratumPSI float64 `json:"stratum_psi"`
}

// NewExperiment starts an experiment for challenger. The challenger must
// take the same features, in the same order, as control.
func NewExperiment(config ExperimentConfig, control, challenger *Predictor) (*Experiment, error) {
	if control == nil || challenger == nil {
		return nil, fmt.Errorf("experiment needs both a control and a challenger")
	}
	if config.ChallengerShare <= 0 || config.ChallengerShare >= 1 {
		return nil, fmt.Errorf("challenger share must be between 0 and 1 exclusive, got %v", config.ChallengerShare)
	}
	if !slices.Equal(control.Model().FeatureNames, challenger.Model().FeatureNames) {
		return nil, fmt.Errorf("%w: challenger features %v differ from control %v",
			ErrFeatureVectorMismatch, challenger.Model().FeatureNames, control.Model().FeatureNames)
	}
	if config.ID == "" {
		config.ID = control.Version() + "-vs-" + challenger.Version()
	}

	exp := &Experiment{
		id:         config.ID,
		share:      config.ChallengerShare,
		challenger: challenger,
		startedAt:  time.Now(),
		variants: map[string]*variantStats{
			VariantControl:    {},
			VariantChallenger: {version: challenger.Version()},
		},
	}

	log.Info().
		Str("experiment", exp.id).
		Str("control", control.Version()).
		Str("challenger", challenger.Version()).
		Float64("challenger_share", exp.share).
		Msg("Model experiment started")

	return exp, nil
}

// ID returns the experiment identifier.
func (e *Experiment) ID() string {
	return e.id
}

// Challenger returns the challenger predictor.
func (e *Experiment) Challenger() *Predictor {
	return e.challenger
}

// Assign maps a subject to a variant. The same subject always lands on the
// same variant for a given experiment; anonymous subjects stay on control.
func (e *Experiment) Assign(subjectID string) string {
	if subjectID == "" {
		return VariantControl
	}
	if e.bucket(subjectID) < e.share {
		return VariantChallenger
	}
	return VariantControl
}

// bucket hashes the subject into [0, 1).
func (e *Experiment) bucket(subjectID string) float64 {
	sum := md5.Sum([]byte(e.id + ":" + subjectID))
	return float64(binary.BigEndian.Uint32(sum[:4])) / (math.MaxUint32 + 1.0)
}

// Record folds one scored subject into its variant's statistics.
func (e *Experiment) Record(variant string, pred Prediction, latency time.Duration) {
	if pred.RiskGroup < Low || pred.RiskGroup > VeryHigh {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	stats, ok := e.variants[variant]
	if !ok {
		return
	}
	if stats.version == "" {
		stats.version = pred.ModelVersion
	}
	stats.samples++
	stats.scoreSum += pred.Score
	stats.groups[pred.RiskGroup]++
	if len(stats.latencies) >= maxLatencySamples {
		stats.latencies = stats.latencies[1:]
	}
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000)
}

// Report summarises both variants.
func (e *Experiment) Report() ExperimentReport {
	e.mu.RLock()
	defer e.mu.RUnlock()

	report := ExperimentReport{
		ID:              e.id,
		StartedAt:       e.startedAt,
		ChallengerShare: e.share,
		Variants:        make(map[string]VariantResult, len(e.variants)),
	}
	for name, stats := range e.variants {
		report.Variants[name] = stats.result()
	}

	control, challenger := e.variants[VariantControl], e.variants[VariantChallenger]
	if control.samples > 0 && challenger.samples > 0 {
		for _, c := range Categories {
			expected := math.Max(float64(control.groups[c])/float64(control.samples), psiFloor)
			actual := math.Max(float64(challenger.groups[c])/float64(challenger.samples), psiFloor)
			report.StratumPSI += (actual - expected) * math.Log(actual/expected)
		}
	}
	return report
}

func (s *variantStats) result() VariantResult {
	r := VariantResult{
		ModelVersion: s.version,
		SampleCount:  s.samples,
		GroupShares:  make(map[string]float64, len(Categories)),
	}
	for _, c := range Categories {
		r.GroupShares[c.String()] = 0
	}
	if s.samples == 0 {
		return r
	}
	r.MeanScore = s.scoreSum / float64(s.samples)
	for _, c := range Categories {
		r.GroupShares[c.String()] = float64(s.groups[c]) / float64(s.samples)
	}

	sorted := append([]float64(nil), s.latencies...)
	sort.Float64s(sorted)
	n := len(sorted)
	r.LatencyP50 = sorted[n/2]
	r.LatencyP95 = sorted[min(int(float64(n)*0.95), n-1)]
	return r
}
