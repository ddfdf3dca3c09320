package ml

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
)

// ModelVersion represents a versioned RSF artifact
type ModelVersion struct {
	Version   string       `json:"version"`
	Path      string       `json:"path"`
	CreatedAt time.Time    `json:"created_at"`
	Metrics   ModelMetrics `json:"metrics"`
	IsActive  bool         `json:"is_active"`
}

// ModelMetrics summarises an artifact at registration time
type ModelMetrics struct {
	CIndex          float64     `json:"c_index"`
	NEstimators     int         `json:"n_estimators"`
	FeatureNames    []string    `json:"feature_names"`
	RiskPercentiles Percentiles `json:"risk_percentiles"`
}

// ModelManager handles model versioning and rollback
type ModelManager struct {
	modelsDir    string
	versionsFile string
	versions     []ModelVersion
	currentModel *ModelVersion
	now          func() time.Time
}

// NewModelManager creates a new model manager
func NewModelManager(modelsDir string) (*ModelManager, error) {
	if err := os.MkdirAll(modelsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create models dir: %w", err)
	}

	mm := &ModelManager{
		modelsDir:    modelsDir,
		versionsFile: filepath.Join(modelsDir, "model_versions.json"),
		versions:     make([]ModelVersion, 0),
		now:          time.Now,
	}

	// Load existing versions if available
	if err := mm.loadVersions(); err != nil {
		log.Warn().Err(err).Msg("Failed to load model versions, starting fresh")
	}

	return mm, nil
}

// AddVersion validates the artifact at modelPath and registers a copy of it
// as a new inactive version stored at modelsDir/<version>.json, so later
// writes to modelPath never change a registered version. The version label
// is derived from the registration time.
func (mm *ModelManager) AddVersion(modelPath string) (ModelVersion, error) {
	raw, err := os.ReadFile(modelPath)
	if err != nil {
		return ModelVersion{}, fmt.Errorf("refusing to register %s: %w", modelPath, err)
	}
	model, err := Load(raw)
	if err != nil {
		return ModelVersion{}, fmt.Errorf("refusing to register %s: %w", modelPath, err)
	}

	created := mm.now()
	label := created.Format("20060102-150405.000")
	version := ModelVersion{
		Version:   label,
		Path:      filepath.Join(mm.modelsDir, label+".json"),
		CreatedAt: created,
		Metrics: ModelMetrics{
			CIndex:          model.CIndex,
			NEstimators:     model.NEstimators(),
			FeatureNames:    model.FeatureNames,
			RiskPercentiles: model.RiskPercentiles,
		},
	}
	for _, v := range mm.versions {
		if v.Version == version.Version {
			return ModelVersion{}, fmt.Errorf("version %s already registered", version.Version)
		}
	}
	if err := writeAtomic(version.Path, raw); err != nil {
		return ModelVersion{}, fmt.Errorf("copy %s into registry: %w", modelPath, err)
	}

	mm.versions = append(mm.versions, version)

	// Newest first
	sort.SliceStable(mm.versions, func(i, j int) bool {
		return mm.versions[i].CreatedAt.After(mm.versions[j].CreatedAt)
	})
	mm.resolveCurrent()

	log.Info().
		Str("version", version.Version).
		Str("source", modelPath).
		Str("path", version.Path).
		Float64("c_index", model.CIndex).
		Int("trees", model.NEstimators()).
		Msg("Registered model version")

	return version, mm.saveVersions()
}

// ActivateVersion activates a specific model version
func (mm *ModelManager) ActivateVersion(version string) error {
	found := false
	for i := range mm.versions {
		if mm.versions[i].Version == version {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("version %s not found", version)
	}

	for i := range mm.versions {
		mm.versions[i].IsActive = mm.versions[i].Version == version
	}
	mm.resolveCurrent()

	log.Info().Str("version", version).Msg("Activated model version")
	return mm.saveVersions()
}

// Rollback activates the version registered just before the active one
func (mm *ModelManager) Rollback() error {
	if len(mm.versions) < 2 {
		return fmt.Errorf("no previous version available for rollback")
	}

	currentIdx := -1
	for i, v := range mm.versions {
		if v.IsActive {
			currentIdx = i
			break
		}
	}

	if currentIdx == -1 {
		return fmt.Errorf("no active version found")
	}

	if currentIdx+1 < len(mm.versions) {
		return mm.ActivateVersion(mm.versions[currentIdx+1].Version)
	}

	return fmt.Errorf("no previous version available")
}

// GetCurrentVersion returns the currently active version, or nil
func (mm *ModelManager) GetCurrentVersion() *ModelVersion {
	return mm.currentModel
}

// ListVersions returns all model versions, newest first
func (mm *ModelManager) ListVersions() []ModelVersion {
	out := make([]ModelVersion, len(mm.versions))
	copy(out, mm.versions)
	return out
}

func (mm *ModelManager) resolveCurrent() {
	mm.currentModel = nil
	for i := range mm.versions {
		if mm.versions[i].IsActive {
			mm.currentModel = &mm.versions[i]
			return
		}
	}
}

// loadVersions loads model versions from file
func (mm *ModelManager) loadVersions() error {
	data, err := os.ReadFile(mm.versionsFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	if err := json.Unmarshal(data, &mm.versions); err != nil {
		return err
	}
	mm.resolveCurrent()
	return nil
}

// saveVersions saves model versions to file
func (mm *ModelManager) saveVersions() error {
	data, err := json.MarshalIndent(mm.versions, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(mm.versionsFile, data, 0o600)
}
