package ml

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDriftMonitorDefaults(t *testing.T) {
	dm := NewDriftMonitor(DriftMonitorConfig{}, nil)
	status := dm.Status()

	assert.Equal(t, 0, status.Samples)
	assert.Equal(t, 0.2, status.Threshold)
	assert.Zero(t, status.PSI)
	assert.False(t, status.Drifting)
	assert.Len(t, status.Shares, 4)
	assert.Len(t, dm.window, 1000)
}

func TestDriftMonitorUniformStrata(t *testing.T) {
	metrics := &MockMetrics{}
	dm := NewDriftMonitor(DriftMonitorConfig{WindowSize: 100, MinSamples: 10}, metrics)

	for i := 0; i < 25; i++ {
		for _, c := range Categories {
			dm.Observe(c)
		}
	}

	status := dm.Status()
	assert.Equal(t, 100, status.Samples)
	for _, c := range Categories {
		assert.Equal(t, 0.25, status.Shares[c.String()])
	}
	assert.InDelta(t, 0, status.PSI, 1e-12)
	assert.False(t, status.Drifting)
	assert.InDelta(t, 0, metrics.snapshot().psi, 1e-12)
}

func TestDriftMonitorDetectsShift(t *testing.T) {
	metrics := &MockMetrics{}
	dm := NewDriftMonitor(DriftMonitorConfig{WindowSize: 100, MinSamples: 10, Threshold: 0.2}, metrics)

	for i := 0; i < 5; i++ {
		dm.Observe(VeryHigh)
	}
	status := dm.Status()
	assert.Greater(t, status.PSI, 0.2)
	assert.False(t, status.Drifting, "below minimum sample count")

	for i := 0; i < 45; i++ {
		dm.Observe(VeryHigh)
	}
	status = dm.Status()
	assert.Equal(t, 50, status.Samples)
	assert.Equal(t, 1.0, status.Shares["VeryHigh"])
	assert.True(t, status.Drifting)
	assert.Equal(t, status.PSI, metrics.snapshot().psi)
}

func TestDriftMonitorWindowEvicts(t *testing.T) {
	dm := NewDriftMonitor(DriftMonitorConfig{WindowSize: 4}, nil)
	assert.Equal(t, 4, dm.minSamples)

	for i := 0; i < 4; i++ {
		dm.Observe(Low)
	}
	for i := 0; i < 4; i++ {
		dm.Observe(VeryHigh)
	}

	status := dm.Status()
	assert.Equal(t, 4, status.Samples)
	assert.Equal(t, 0.0, status.Shares["Low"])
	assert.Equal(t, 1.0, status.Shares["VeryHigh"])
}

func TestDriftMonitorIgnoresUnknownCategory(t *testing.T) {
	dm := NewDriftMonitor(DriftMonitorConfig{WindowSize: 10}, nil)
	dm.Observe(Category(7))
	dm.Observe(Category(-1))
	assert.Equal(t, 0, dm.Status().Samples)
}

func TestDriftMonitorReset(t *testing.T) {
	dm := NewDriftMonitor(DriftMonitorConfig{WindowSize: 10}, nil)
	dm.Observe(High)
	dm.Observe(High)
	dm.Reset()

	status := dm.Status()
	assert.Equal(t, 0, status.Samples)
	assert.Zero(t, status.PSI)
	assert.Equal(t, 0.0, status.Shares["High"])
}
