package main

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"rsf-risk/internal/common"
	"rsf-risk/internal/features"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	t.Setenv(common.EnvConfigFile, "")
	t.Setenv(common.EnvScoreScale, "")

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
model:
  scoreScale: 100
  encodings:
    horTh:
      no: 0
      yes: 1
    tgrade:
      I: 1
      II: 2
      III: 4
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadSettingsUsesConfiguredEncodings(t *testing.T) {
	settings, err := loadSettings(writeConfig(t), 0, false)
	require.NoError(t, err)
	assert.Equal(t, 100.0, settings.ScoreScale)

	names := []string{"horTh", "tgrade"}
	vector, err := features.NewEncoder(settings.Encodings).Encode(map[string]string{"horTh": "yes", "tgrade": "III"}, names)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 4}, vector)
}

func TestLoadSettingsScaleOverride(t *testing.T) {
	path := writeConfig(t)

	settings, err := loadSettings(path, 10, true)
	require.NoError(t, err)
	assert.Equal(t, 10.0, settings.ScoreScale)

	for _, scale := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		_, err := loadSettings(path, scale, true)
		assert.Error(t, err, "scale %v", scale)
	}
}
