package ml

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// FeatureImportance tracks the values the model is served and how much each
// feature contributes to ranking subjects by risk.
type FeatureImportance struct {
	mu             sync.RWMutex
	featureNames   []string
	importanceData map[string]*FeatureStats
	baselineScore  float64
	repeats        int
	seed           int64
	savePath       string
}

// FeatureStats contains statistics for a single feature
type FeatureStats struct {
	Name              string    `json:"name"`
	ImportanceScore   float64   `json:"importance_score"`
	PermutationScore  float64   `json:"permutation_score"`
	UsageCount        int64     `json:"usage_count"`
	AverageValue      float64   `json:"average_value"`
	StandardDeviation float64   `json:"standard_deviation"`
	MinValue          float64   `json:"min_value"`
	MaxValue          float64   `json:"max_value"`
	LastUpdated       time.Time `json:"last_updated"`

	m2 float64
}

// FeatureImportanceConfig configures feature importance tracking
type FeatureImportanceConfig struct {
	FeatureNames []string `yaml:"feature_names"`
	SavePath     string   `yaml:"save_path"`

	// Repeats is how many shuffles are averaged per feature.
	Repeats int   `yaml:"repeats"`
	Seed    int64 `yaml:"seed"`
}

type importanceFile struct {
	BaselineCIndex float64                  `json:"baseline_c_index"`
	Features       map[string]*FeatureStats `json:"features"`
}

// NewFeatureImportance creates a new feature importance tracker
func NewFeatureImportance(config FeatureImportanceConfig) *FeatureImportance {
	if config.Repeats <= 0 {
		config.Repeats = 5
	}
	fi := &FeatureImportance{
		featureNames:   append([]string(nil), config.FeatureNames...),
		importanceData: make(map[string]*FeatureStats, len(config.FeatureNames)),
		repeats:        config.Repeats,
		seed:           config.Seed,
		savePath:       config.SavePath,
	}
	fi.resetLocked()

	return fi
}

// FeatureNames returns the tracked features in model order.
func (fi *FeatureImportance) FeatureNames() []string {
	return append([]string(nil), fi.featureNames...)
}

// UpdateFeatureStats folds one served feature vector into the running
// statistics.
func (fi *FeatureImportance) UpdateFeatureStats(features []float64) {
	fi.mu.Lock()
	defer fi.mu.Unlock()

	now := time.Now()
	for i, value := range features {
		if i >= len(fi.featureNames) {
			break
		}
		stats := fi.importanceData[fi.featureNames[i]]

		stats.UsageCount++
		delta := value - stats.AverageValue
		stats.AverageValue += delta / float64(stats.UsageCount)
		stats.m2 += delta * (value - stats.AverageValue)
		if stats.UsageCount > 1 {
			stats.StandardDeviation = math.Sqrt(stats.m2 / float64(stats.UsageCount-1))
		}
		if stats.UsageCount == 1 {
			stats.MinValue, stats.MaxValue = value, value
		} else {
			stats.MinValue = math.Min(stats.MinValue, value)
			stats.MaxValue = math.Max(stats.MaxValue, value)
		}
		stats.LastUpdated = now
	}
}

// CalculatePermutationImportance shuffles each feature column in turn and
// records the mean drop in concordance index against outcomes. Features the
// model ignores score zero; negative drops are kept in PermutationScore and
// clamped to zero in ImportanceScore.
func (fi *FeatureImportance) CalculatePermutationImportance(predictor PredictorInterface, rows [][]float64, outcomes []Outcome) error {
	if len(rows) != len(outcomes) {
		return fmt.Errorf("%d rows for %d outcomes", len(rows), len(outcomes))
	}
	if len(rows) < 2 {
		return fmt.Errorf("permutation importance needs at least 2 subjects, got %d", len(rows))
	}

	baseline, err := concordanceOf(predictor, rows, outcomes)
	if err != nil {
		return fmt.Errorf("baseline: %w", err)
	}

	rng := rand.New(rand.NewSource(fi.seed))
	permuted := make([][]float64, len(rows))
	for i := range rows {
		permuted[i] = append([]float64(nil), rows[i]...)
	}
	column := make([]float64, len(rows))

	scores := make(map[string]float64, len(fi.featureNames))
	for featureIdx, name := range fi.featureNames {
		if featureIdx >= len(rows[0]) {
			continue
		}
		for i := range rows {
			column[i] = rows[i][featureIdx]
		}

		var drop float64
		for r := 0; r < fi.repeats; r++ {
			rng.Shuffle(len(column), func(i, j int) { column[i], column[j] = column[j], column[i] })
			for i := range permuted {
				permuted[i][featureIdx] = column[i]
			}
			c, err := concordanceOf(predictor, permuted, outcomes)
			if err != nil {
				return fmt.Errorf("feature %s: %w", name, err)
			}
			drop += baseline - c
		}
		for i := range permuted {
			permuted[i][featureIdx] = rows[i][featureIdx]
		}
		scores[name] = drop / float64(fi.repeats)
	}

	fi.mu.Lock()
	fi.baselineScore = baseline
	for name, score := range scores {
		fi.importanceData[name].PermutationScore = score
		fi.importanceData[name].ImportanceScore = math.Max(0, score)
	}
	fi.mu.Unlock()

	log.Info().
		Float64("baseline_c_index", baseline).
		Int("subjects", len(rows)).
		Strs("top_features", fi.GetTopFeatures(3)).
		Msg("Permutation importance calculated")

	return nil
}

func concordanceOf(predictor PredictorInterface, rows [][]float64, outcomes []Outcome) (float64, error) {
	scores := make([]float64, len(rows))
	for i, row := range rows {
		pred, err := predictor.Predict(row)
		if err != nil {
			return 0, err
		}
		scores[i] = pred.RawScore
	}
	return ConcordanceIndex(scores, outcomes)
}

// BaselineScore returns the unpermuted concordance index of the last
// importance calculation.
func (fi *FeatureImportance) BaselineScore() float64 {
	fi.mu.RLock()
	defer fi.mu.RUnlock()
	return fi.baselineScore
}

// GetFeatureImportance returns a copy of the per-feature statistics
func (fi *FeatureImportance) GetFeatureImportance() map[string]*FeatureStats {
	fi.mu.RLock()
	defer fi.mu.RUnlock()

	result := make(map[string]*FeatureStats, len(fi.importanceData))
	for name, stats := range fi.importanceData {
		statsCopy := *stats
		result[name] = &statsCopy
	}
	return result
}

// GetTopFeatures returns the n most important features, ties broken by
// model feature order.
func (fi *FeatureImportance) GetTopFeatures(n int) []string {
	fi.mu.RLock()
	defer fi.mu.RUnlock()

	names := append([]string(nil), fi.featureNames...)
	sort.SliceStable(names, func(i, j int) bool {
		return fi.importanceData[names[i]].ImportanceScore > fi.importanceData[names[j]].ImportanceScore
	})
	if n < len(names) {
		names = names[:n]
	}
	return names
}

// Save writes the statistics to the configured path
func (fi *FeatureImportance) Save() error {
	if fi.savePath == "" {
		return nil
	}

	fi.mu.RLock()
	data, err := json.MarshalIndent(importanceFile{
		BaselineCIndex: fi.baselineScore,
		Features:       fi.importanceData,
	}, "", "  ")
	fi.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal feature importance: %w", err)
	}

	return os.WriteFile(fi.savePath, data, 0o644)
}

// Load restores statistics for known features from the configured path
func (fi *FeatureImportance) Load() error {
	if fi.savePath == "" {
		return nil
	}
	data, err := os.ReadFile(fi.savePath)
	if err != nil {
		return err
	}

	var file importanceFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse feature importance: %w", err)
	}

	fi.mu.Lock()
	defer fi.mu.Unlock()
	fi.baselineScore = file.BaselineCIndex
	for name, stats := range file.Features {
		if _, known := fi.importanceData[name]; known && stats != nil {
			if stats.UsageCount > 1 {
				stats.m2 = stats.StandardDeviation * stats.StandardDeviation * float64(stats.UsageCount-1)
			}
			fi.importanceData[name] = stats
		}
	}
	return nil
}

// Reset clears all statistics
func (fi *FeatureImportance) Reset() {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	fi.resetLocked()
}

func (fi *FeatureImportance) resetLocked() {
	fi.baselineScore = 0
	for _, name := range fi.featureNames {
		fi.importanceData[name] = &FeatureStats{Name: name}
	}
}
