package metrics

import "strconv"

// MetricsWrapper adapts Metrics to the callback interfaces the ml package
// declares, so ml does not import Prometheus.
type MetricsWrapper struct {
	m *Metrics
}

func NewWrapper(m *Metrics) *MetricsWrapper {
	return &MetricsWrapper{m: m}
}

func (w *MetricsWrapper) MLPredictionsInc()                   { w.m.MLPredictions.Inc() }
func (w *MetricsWrapper) MLFailuresInc()                      { w.m.MLFailures.Inc() }
func (w *MetricsWrapper) MLLatencyObserve(v float64)          { w.m.MLLatency.Observe(v) }
func (w *MetricsWrapper) MLModelAgeSet(v float64)             { w.m.MLModelAge.Set(v) }
func (w *MetricsWrapper) MLModelTreesSet(v float64)           { w.m.MLModelTrees.Set(v) }
func (w *MetricsWrapper) MLPredictionScoresObserve(v float64) { w.m.MLPredictionScores.Observe(v) }
func (w *MetricsWrapper) MLCacheHitsInc()                     { w.m.MLCacheHits.Inc() }
func (w *MetricsWrapper) MLCacheMissesInc()                   { w.m.MLCacheMisses.Inc() }
func (w *MetricsWrapper) MLStratumPSISet(v float64)           { w.m.MLStratumPSI.Set(v) }
func (w *MetricsWrapper) MLModelReloadInc()                   { w.m.MLModelReload.Inc() }
func (w *MetricsWrapper) WSSessionsAdd(delta float64)         { w.m.WSSessions.Add(delta) }
func (w *MetricsWrapper) StorageErrorsInc()                   { w.m.StorageErrors.Inc() }

func (w *MetricsWrapper) MLRiskGroupInc(group string) {
	w.m.MLRiskGroups.WithLabelValues(group).Inc()
}

func (w *MetricsWrapper) HTTPRequestInc(endpoint string, code int) {
	w.m.HTTPRequests.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
}
