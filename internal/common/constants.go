package common

// Environment variable keys
const (
	EnvConfigFile     = "CONFIG_FILE"
	EnvModelPath      = "MODEL_PATH"
	EnvModelURL       = "MODEL_URL"
	EnvModelsDir      = "MODELS_DIR"
	EnvDataPath       = "DATA_PATH"
	EnvServerPort     = "SERVER_PORT"
	EnvLogLevel       = "LOG_LEVEL"
	EnvScoreScale     = "SCORE_SCALE"
	EnvCacheSize      = "CACHE_SIZE"
	EnvRequestTimeout = "REQUEST_TIMEOUT"
	EnvFetchTimeout   = "FETCH_TIMEOUT"
	EnvDriftWindow    = "DRIFT_WINDOW"
	EnvDriftThreshold = "DRIFT_THRESHOLD"
	EnvAllowedOrigins = "ALLOWED_ORIGINS"

	EnvChallengerPath  = "CHALLENGER_MODEL_PATH"
	EnvChallengerShare = "CHALLENGER_SHARE"
)

// Configuration defaults
const (
	DefaultModelPath       = "models/rsf_model.json"
	DefaultServerPort      = 8080
	DefaultLogLevel        = "info"
	DefaultScoreScale      = 1.0
	DefaultCacheSize       = 1024
	DefaultDriftWindow     = 1000
	DefaultDriftThreshold  = 0.2
	DefaultChallengerShare = 0.1
)

// Timeout defaults in seconds
const (
	DefaultRequestTimeoutSec = 5
	DefaultFetchTimeoutSec   = 30
)

// Validation bounds
const (
	MinServerPort     = 1024
	MaxServerPort     = 65535
	MaxCacheSize      = 1_000_000
	MaxDriftWindow    = 1_000_000
	MaxDriftThreshold = 10.0
)
