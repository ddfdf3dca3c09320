package ml

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// expectedShare is the fraction of the training population in each stratum.
// The thresholds are the population quartiles, so every stratum holds 25%.
const expectedShare = 0.25

// psiFloor stands in for empty strata so the log term stays finite.
const psiFloor = 1e-4

// DriftMetrics receives the stratum stability index after each update.
type DriftMetrics interface {
	MLStratumPSISet(float64)
}

// DriftMonitorConfig configures stratum drift monitoring
type DriftMonitorConfig struct {
	WindowSize    int           `yaml:"window_size"`
	Threshold     float64       `yaml:"threshold"`
	MinSamples    int           `yaml:"min_samples"`
	AlertCooldown time.Duration `yaml:"alert_cooldown"`
}

// DriftStatus is a snapshot of the monitored window.
type DriftStatus struct {
	Samples   int                `json:"samples"`
	Shares    map[string]float64 `json:"shares"`
	PSI       float64            `json:"psi"`
	Threshold float64            `json:"threshold"`
	Drifting  bool               `json:"drifting"`
}

// DriftMonitor compares the strata assigned to recent subjects with the
// uniform quartile split of the training population using the Population
// Stability Index.
type DriftMonitor struct {
	mu         sync.Mutex
	window     []Category
	next       int
	filled     int
	counts     [4]int
	threshold  float64
	minSamples int
	cooldown   time.Duration
	lastAlert  time.Time
	metrics    DriftMetrics
}

// NewDriftMonitor creates a monitor; zero config values take defaults.
func NewDriftMonitor(config DriftMonitorConfig, metrics DriftMetrics) *DriftMonitor {
	if config.WindowSize <= 0 {
		config.WindowSize = 1000
	}
	if config.Threshold <= 0 {
		config.Threshold = 0.2
	}
	if config.MinSamples <= 0 {
		config.MinSamples = 100
	}
	if config.MinSamples > config.WindowSize {
		config.MinSamples = config.WindowSize
	}
	if config.AlertCooldown == 0 {
		config.AlertCooldown = time.Hour
	}

	return &DriftMonitor{
		window:     make([]Category, config.WindowSize),
		threshold:  config.Threshold,
		minSamples: config.MinSamples,
		cooldown:   config.AlertCooldown,
		metrics:    metrics,
	}
}

// Observe records the stratum assigned to one subject.
func (dm *DriftMonitor) Observe(c Category) {
	if c < Low || c > VeryHigh {
		return
	}

	dm.mu.Lock()
	defer dm.mu.Unlock()

	if dm.filled == len(dm.window) {
		dm.counts[dm.window[dm.next]]--
	} else {
		dm.filled++
	}
	dm.window[dm.next] = c
	dm.counts[c]++
	dm.next = (dm.next + 1) % len(dm.window)

	psi := dm.psi()
	if dm.metrics != nil {
		dm.metrics.MLStratumPSISet(psi)
	}

	if dm.filled >= dm.minSamples && psi > dm.threshold && time.Since(dm.lastAlert) > dm.cooldown {
		dm.lastAlert = time.Now()
		log.Warn().
			Float64("psi", psi).
			Float64("threshold", dm.threshold).
			Int("samples", dm.filled).
			Interface("shares", dm.shares()).
			Msg("Risk stratum distribution drifted from training quartiles")
	}
}

// Status returns the current window statistics.
func (dm *DriftMonitor) Status() DriftStatus {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	psi := dm.psi()
	return DriftStatus{
		Samples:   dm.filled,
		Shares:    dm.shares(),
		PSI:       psi,
		Threshold: dm.threshold,
		Drifting:  dm.filled >= dm.minSamples && psi > dm.threshold,
	}
}

// Reset clears the window.
func (dm *DriftMonitor) Reset() {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	dm.next = 0
	dm.filled = 0
	dm.counts = [4]int{}
	dm.lastAlert = time.Time{}
}

func (dm *DriftMonitor) shares() map[string]float64 {
	out := make(map[string]float64, len(Categories))
	for _, c := range Categories {
		if dm.filled > 0 {
			out[c.String()] = float64(dm.counts[c]) / float64(dm.filled)
		} else {
			out[c.String()] = 0
		}
	}
	return out
}

func (dm *DriftMonitor) psi() float64 {
	if dm.filled == 0 {
		return 0
	}
	psi := 0.0
	for _, count := range dm.counts {
		actual := math.Max(float64(count)/float64(dm.filled), psiFloor)
		psi += (actual - expectedShare) * math.Log(actual/expectedShare)
	}
	return psi
}
