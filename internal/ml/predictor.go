package ml

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
)

// MetricsInterface defines metrics methods needed by the predictor
type MetricsInterface interface {
	MLPredictionsInc()
	MLFailuresInc()
	MLLatencyObserve(float64)
	MLModelAgeSet(float64)
	MLModelTreesSet(float64)
	MLPredictionScoresObserve(float64)
	MLRiskGroupInc(group string)
	MLCacheHitsInc()
	MLCacheMissesInc()
}

// PredictorConfig contains configuration for the predictor
type PredictorConfig struct {
	// Version labels predictions; defaults to the artifact file name.
	Version string
	// ScoreScale divides the ensemble mean before stratification. Zero
	// means 1. The original web calculator used 100.
	ScoreScale float64
	// CacheSize bounds the prediction cache; zero disables it.
	CacheSize int
}

// Prediction is the outcome of scoring one subject.
type Prediction struct {
	Score        float64   `json:"score"`
	RawScore     float64   `json:"raw_score"`
	RiskGroup    Category  `json:"risk_group"`
	Leaves       []int     `json:"leaves"`
	TreeRisks    []float64 `json:"tree_risks"`
	ModelVersion string    `json:"model_version"`
}

// ModelInfo describes the model behind a predictor.
type ModelInfo struct {
	Version         string      `json:"version"`
	Path            string      `json:"path,omitempty"`
	FeatureNames    []string    `json:"feature_names"`
	NEstimators     int         `json:"n_estimators"`
	CIndex          float64     `json:"c_index"`
	RiskPercentiles Percentiles `json:"risk_percentiles"`
	ScoreScale      float64     `json:"score_scale"`
	ModelCreated    time.Time   `json:"model_created,omitempty"`
	LoadedAt        time.Time   `json:"loaded_at"`
}

// Predictor scores subjects against one loaded model. It is safe for
// concurrent use.
type Predictor struct {
	model        *Model
	version      string
	modelPath    string
	modelCreated time.Time
	loadedAt     time.Time
	scoreScale   float64
	cache        *lru.Cache[string, Prediction]
	metrics      MetricsInterface
}

func New(path string) (*Predictor, error) {
	return NewWithMetrics(path, nil, PredictorConfig{})
}

// NewWithMetrics loads and validates the artifact at path.
func NewWithMetrics(path string, metrics MetricsInterface, config PredictorConfig) (*Predictor, error) {
	model, err := LoadFile(path)
	if err != nil {
		return nil, err
	}

	if config.Version == "" {
		config.Version = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	p, err := NewFromModel(model, metrics, config)
	if err != nil {
		return nil, err
	}
	p.modelPath = path

	if info, err := os.Stat(path); err == nil {
		p.modelCreated = info.ModTime()
		if metrics != nil {
			metrics.MLModelAgeSet(time.Since(p.modelCreated).Seconds())
		}
	} else {
		log.Warn().Err(err).Str("model_path", path).Msg("Failed to get model file info")
	}

	log.Info().
		Str("model_path", path).
		Str("version", p.version).
		Int("trees", model.NEstimators()).
		Strs("features", model.FeatureNames).
		Float64("c_index", model.CIndex).
		Msg("RSF model loaded")

	return p, nil
}

// NewFromModel wraps an already validated model.
func NewFromModel(model *Model, metrics MetricsInterface, config PredictorConfig) (*Predictor, error) {
	if model == nil {
		return nil, fmt.Errorf("model is nil")
	}
	if model.NEstimators() == 0 {
		return nil, ErrEmptyEnsemble
	}
	scale := config.ScoreScale
	if scale == 0 {
		scale = 1
	}
	if scale < 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return nil, fmt.Errorf("score scale must be a positive finite number, got %v", scale)
	}

	p := &Predictor{
		model:      model,
		version:    config.Version,
		loadedAt:   time.Now(),
		scoreScale: scale,
		metrics:    metrics,
	}
	if p.version == "" {
		p.version = "unversioned"
	}
	if config.CacheSize > 0 {
		cache, err := lru.New[string, Prediction](config.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("create prediction cache: %w", err)
		}
		p.cache = cache
	}
	if metrics != nil {
		metrics.MLModelTreesSet(float64(model.NEstimators()))
	}
	return p, nil
}

// Model returns the model the predictor scores against.
func (p *Predictor) Model() *Model {
	return p.model
}

// Version returns the label attached to predictions.
func (p *Predictor) Version() string {
	return p.version
}

// Predict scores a feature vector given in model feature order.
func (p *Predictor) Predict(features []float64) (Prediction, error) {
	if p == nil {
		return Prediction{}, fmt.Errorf("predictor is nil")
	}

	start := time.Now()
	defer func() {
		if p.metrics != nil {
			p.metrics.MLLatencyObserve(time.Since(start).Seconds())
		}
	}()

	var key string
	if p.cache != nil {
		key = cacheKey(features)
		if cached, ok := p.cache.Get(key); ok {
			if p.metrics != nil {
				p.metrics.MLCacheHitsInc()
			}
			p.record(cached)
			return cached.clone(), nil
		}
		if p.metrics != nil {
			p.metrics.MLCacheMissesInc()
		}
	}

	explanation, err := p.model.Explain(features)
	if err != nil {
		if p.metrics != nil {
			p.metrics.MLFailuresInc()
		}
		return Prediction{}, err
	}

	score := explanation.Score / p.scoreScale
	group, err := p.model.Stratify(score)
	if err != nil {
		if p.metrics != nil {
			p.metrics.MLFailuresInc()
		}
		return Prediction{}, err
	}

	pred := Prediction{
		Score:        score,
		RawScore:     explanation.Score,
		RiskGroup:    group,
		Leaves:       explanation.Leaves,
		TreeRisks:    explanation.TreeRisks,
		ModelVersion: p.version,
	}
	if p.cache != nil {
		p.cache.Add(key, pred.clone())
	}
	p.record(pred)

	log.Debug().
		Floats64("features", features).
		Float64("score", score).
		Stringer("risk_group", group).
		Ints("leaves", pred.Leaves).
		Msg("Prediction successful")

	return pred, nil
}

// PredictNamed scores a record keyed by feature name. Every model feature
// must be present and no other keys are accepted.
func (p *Predictor) PredictNamed(record map[string]float64) (Prediction, error) {
	if p == nil {
		return Prediction{}, fmt.Errorf("predictor is nil")
	}
	features, err := p.vector(record)
	if err != nil {
		if p.metrics != nil {
			p.metrics.MLFailuresInc()
		}
		return Prediction{}, err
	}
	return p.Predict(features)
}

func (p *Predictor) vector(record map[string]float64) ([]float64, error) {
	names := p.model.FeatureNames
	features := make([]float64, len(names))
	for i, name := range names {
		v, ok := record[name]
		if !ok {
			return nil, fmt.Errorf("%w: missing feature %q", ErrFeatureVectorMismatch, name)
		}
		features[i] = v
	}
	if len(record) != len(names) {
		for name := range record {
			if _, ok := p.model.FeatureIndex(name); !ok {
				return nil, fmt.Errorf("%w: unknown feature %q", ErrFeatureVectorMismatch, name)
			}
		}
	}
	return features, nil
}

// Info describes the loaded model.
func (p *Predictor) Info() ModelInfo {
	return ModelInfo{
		Version:         p.version,
		Path:            p.modelPath,
		FeatureNames:    p.model.FeatureNames,
		NEstimators:     p.model.NEstimators(),
		CIndex:          p.model.CIndex,
		RiskPercentiles: p.model.RiskPercentiles,
		ScoreScale:      p.scoreScale,
		ModelCreated:    p.modelCreated,
		LoadedAt:        p.loadedAt,
	}
}

func (p *Predictor) record(pred Prediction) {
	if p.metrics == nil {
		return
	}
	p.metrics.MLPredictionsInc()
	p.metrics.MLPredictionScoresObserve(pred.Score)
	p.metrics.MLRiskGroupInc(pred.RiskGroup.String())
}

func (pr Prediction) clone() Prediction {
	pr.Leaves = append([]int(nil), pr.Leaves...)
	pr.TreeRisks = append([]float64(nil), pr.TreeRisks...)
	return pr
}

// cacheKey encodes the exact bit pattern of every value.
func cacheKey(features []float64) string {
	var b strings.Builder
	for i, f := range features {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
	}
	return b.String()
}
