package cfg

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"rsf-risk/internal/common"
	"rsf-risk/internal/features"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type Settings struct {
	ModelPath      string
	ModelURL       string
	ModelsDir      string
	DataPath       string
	ServerPort     int
	LogLevel       string
	ScoreScale     float64
	CacheSize      int
	RequestTimeout time.Duration
	FetchTimeout   time.Duration
	DriftWindow    int
	DriftThreshold float64
	AllowedOrigins []string
	Encodings      features.Encodings

	// ChallengerPath optionally names a second artifact that scores
	// ChallengerShare of identified subjects.
	ChallengerPath  string
	ChallengerShare float64
}

type ConfigFile struct {
	Model struct {
		Path        string             `yaml:"path"`
		URL         string             `yaml:"url"`
		RegistryDir string             `yaml:"registryDir"`
		ScoreScale  float64            `yaml:"scoreScale"`
		Encodings   features.Encodings `yaml:"encodings"`
	} `yaml:"model"`

	Challenger struct {
		Path  string  `yaml:"path"`
		Share float64 `yaml:"share"`
	} `yaml:"challenger"`

	Server struct {
		Port           int      `yaml:"port"`
		RequestTimeout string   `yaml:"requestTimeout"`
		AllowedOrigins []string `yaml:"allowedOrigins"`
	} `yaml:"server"`

	Cache struct {
		Size int `yaml:"size"`
	} `yaml:"cache"`

	Drift struct {
		Window    int     `yaml:"window"`
		Threshold float64 `yaml:"threshold"`
	} `yaml:"drift"`

	System struct {
		DataPath     string `yaml:"dataPath"`
		LogLevel     string `yaml:"logLevel"`
		FetchTimeout string `yaml:"fetchTimeout"`
	} `yaml:"system"`
}

// Load reads settings from a .env file if present, then from CONFIG_FILE
// when set (environment variables override file values), otherwise from the
// environment alone.
func Load() (Settings, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Settings{}, fmt.Errorf("failed to load .env: %w", err)
	}

	// Try to load from YAML file first
	if configPath := os.Getenv(common.EnvConfigFile); configPath != "" {
		return loadFromYAML(configPath)
	}

	// Fallback to environment variables
	return loadFromEnv()
}

// LoadFrom is Load with path standing in for CONFIG_FILE. An empty path
// falls back to Load.
func LoadFrom(path string) (Settings, error) {
	if path == "" {
		return Load()
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Settings{}, fmt.Errorf("failed to load .env: %w", err)
	}
	return loadFromYAML(path)
}

// Validate re-checks settings after a caller has overridden fields.
func (s *Settings) Validate() error {
	return validateSettings(s)
}

func loadFromYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Parse durations
	requestTimeout, err := time.ParseDuration(config.Server.RequestTimeout)
	if err != nil {
		requestTimeout = common.DefaultRequestTimeoutSec * time.Second
	}

	fetchTimeout, err := time.ParseDuration(config.System.FetchTimeout)
	if err != nil {
		fetchTimeout = common.DefaultFetchTimeoutSec * time.Second
	}

	encodings := config.Model.Encodings
	if len(encodings) == 0 {
		encodings = features.DefaultEncodings()
	}

	settings := Settings{
		ModelPath:      getEnvOrDefault(common.EnvModelPath, orString(config.Model.Path, common.DefaultModelPath)),
		ModelURL:       getEnvOrDefault(common.EnvModelURL, config.Model.URL),
		ModelsDir:      getEnvOrDefault(common.EnvModelsDir, config.Model.RegistryDir),
		DataPath:       getEnvOrDefault(common.EnvDataPath, config.System.DataPath),
		ServerPort:     getIntFromEnvOrConfig(common.EnvServerPort, config.Server.Port, common.DefaultServerPort),
		LogLevel:       getEnvOrDefault(common.EnvLogLevel, orString(config.System.LogLevel, common.DefaultLogLevel)),
		ScoreScale:     getFloatFromEnvOrConfig(common.EnvScoreScale, config.Model.ScoreScale, common.DefaultScoreScale),
		CacheSize:      getIntFromEnvOrConfig(common.EnvCacheSize, config.Cache.Size, common.DefaultCacheSize),
		RequestTimeout: getDurationOrDefault(common.EnvRequestTimeout, requestTimeout),
		FetchTimeout:   getDurationOrDefault(common.EnvFetchTimeout, fetchTimeout),
		DriftWindow:    getIntFromEnvOrConfig(common.EnvDriftWindow, config.Drift.Window, common.DefaultDriftWindow),
		DriftThreshold: getFloatFromEnvOrConfig(common.EnvDriftThreshold, config.Drift.Threshold, common.DefaultDriftThreshold),
		AllowedOrigins: getListFromEnvOrConfig(common.EnvAllowedOrigins, config.Server.AllowedOrigins),
		Encodings:      encodings,

		ChallengerPath:  getEnvOrDefault(common.EnvChallengerPath, config.Challenger.Path),
		ChallengerShare: getFloatFromEnvOrConfig(common.EnvChallengerShare, config.Challenger.Share, common.DefaultChallengerShare),
	}

	// Validate configuration
	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func loadFromEnv() (Settings, error) {
	settings := Settings{
		ModelPath:      getEnvOrDefault(common.EnvModelPath, common.DefaultModelPath),
		ModelURL:       os.Getenv(common.EnvModelURL),  // optional
		ModelsDir:      os.Getenv(common.EnvModelsDir), // optional
		DataPath:       os.Getenv(common.EnvDataPath),  // optional
		ServerPort:     getIntOrDefault(common.EnvServerPort, common.DefaultServerPort),
		LogLevel:       getEnvOrDefault(common.EnvLogLevel, common.DefaultLogLevel),
		ScoreScale:     getFloatOrDefault(common.EnvScoreScale, common.DefaultScoreScale),
		CacheSize:      getIntOrDefault(common.EnvCacheSize, common.DefaultCacheSize),
		RequestTimeout: getDurationOrDefault(common.EnvRequestTimeout, common.DefaultRequestTimeoutSec*time.Second),
		FetchTimeout:   getDurationOrDefault(common.EnvFetchTimeout, common.DefaultFetchTimeoutSec*time.Second),
		DriftWindow:    getIntOrDefault(common.EnvDriftWindow, common.DefaultDriftWindow),
		DriftThreshold: getFloatOrDefault(common.EnvDriftThreshold, common.DefaultDriftThreshold),
		AllowedOrigins: splitOrDefault(os.Getenv(common.EnvAllowedOrigins), nil),
		Encodings:      features.DefaultEncodings(),

		ChallengerPath:  os.Getenv(common.EnvChallengerPath), // optional
		ChallengerShare: getFloatOrDefault(common.EnvChallengerShare, common.DefaultChallengerShare),
	}

	// Validate configuration
	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

// ZerologLevel returns the parsed log level.
func (s *Settings) ZerologLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(s.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func orString(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func splitOrDefault(v string, def []string) []string {
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getIntFromEnvOrConfig(key string, configValue, defaultValue int) int {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.Atoi(env); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

func getFloatFromEnvOrConfig(key string, configValue, defaultValue float64) float64 {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.ParseFloat(env, 64); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

func getListFromEnvOrConfig(key string, configValue []string) []string {
	if env := os.Getenv(key); env != "" {
		return splitOrDefault(env, nil)
	}
	return configValue
}

// validateSettings performs comprehensive validation of configuration values
func validateSettings(settings *Settings) error {
	// Validate model source
	if settings.ModelPath == "" {
		return fmt.Errorf("model path cannot be empty")
	}
	if settings.ModelURL != "" &&
		!strings.HasPrefix(settings.ModelURL, "http://") && !strings.HasPrefix(settings.ModelURL, "https://") {
		return fmt.Errorf("model URL must be http or https, got %q", settings.ModelURL)
	}

	// Validate time durations
	if settings.RequestTimeout < time.Second || settings.RequestTimeout > time.Minute {
		return fmt.Errorf("request timeout must be between 1s and 1m, got %v", settings.RequestTimeout)
	}
	if settings.FetchTimeout < time.Second || settings.FetchTimeout > 10*time.Minute {
		return fmt.Errorf("fetch timeout must be between 1s and 10m, got %v", settings.FetchTimeout)
	}

	// Validate integer values
	if settings.ServerPort < common.MinServerPort || settings.ServerPort > common.MaxServerPort {
		return fmt.Errorf("server port must be between %d and %d, got %d",
			common.MinServerPort, common.MaxServerPort, settings.ServerPort)
	}
	if settings.CacheSize < 0 || settings.CacheSize > common.MaxCacheSize {
		return fmt.Errorf("cache size must be between 0 and %d, got %d", common.MaxCacheSize, settings.CacheSize)
	}
	if settings.DriftWindow < 0 || settings.DriftWindow > common.MaxDriftWindow {
		return fmt.Errorf("drift window must be between 0 and %d, got %d", common.MaxDriftWindow, settings.DriftWindow)
	}

	// Validate float values
	if settings.ScoreScale <= 0 || math.IsInf(settings.ScoreScale, 0) || math.IsNaN(settings.ScoreScale) {
		return fmt.Errorf("score scale must be a positive number, got %f", settings.ScoreScale)
	}
	if settings.DriftThreshold <= 0 || settings.DriftThreshold > common.MaxDriftThreshold {
		return fmt.Errorf("drift threshold must be between 0 and %.0f, got %f", common.MaxDriftThreshold, settings.DriftThreshold)
	}

	if settings.ChallengerPath != "" && (settings.ChallengerShare <= 0 || settings.ChallengerShare >= 1) {
		return fmt.Errorf("challenger share must be between 0 and 1 exclusive, got %f", settings.ChallengerShare)
	}

	if settings.LogLevel == "" {
		return fmt.Errorf("log level cannot be empty")
	}
	if _, err := zerolog.ParseLevel(settings.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", settings.LogLevel, err)
	}

	// Validate categorical encodings
	for name, table := range settings.Encodings {
		if name == "" {
			return fmt.Errorf("encoding with empty feature name")
		}
		if len(table) == 0 {
			return fmt.Errorf("feature %s: encoding table is empty", name)
		}
		for label, v := range table {
			if strings.TrimSpace(label) == "" {
				return fmt.Errorf("feature %s: empty category label", name)
			}
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("feature %s: category %s has non-finite value", name, label)
			}
		}
	}

	return nil
}
