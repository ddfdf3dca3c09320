package ml

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync/atomic"
	"time"

	"rsf-risk/internal/features"
	"rsf-risk/internal/storage"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ServerMetrics receives API level metrics
type ServerMetrics interface {
	HTTPRequestInc(endpoint string, code int)
	WSSessionsAdd(delta float64)
	StorageErrorsInc()
	MLModelReloadInc()
}

// PredictionStore persists scored subjects
type PredictionStore interface {
	StorePrediction(record storage.PredictionRecord) error
}

// ServerOptions wires optional collaborators into the server
type ServerOptions struct {
	Port           int
	Store          PredictionStore
	Drift          *DriftMonitor
	FeatureStats   *FeatureImportance
	Experiment     *Experiment
	Metrics        ServerMetrics
	MetricsHandler http.Handler
	AllowedOrigins []string

	// RequestTimeout bounds plain HTTP handlers. WebSocket sessions are
	// not subject to it.
	RequestTimeout time.Duration
}

// ModelServer provides HTTP and WebSocket APIs for risk predictions
type ModelServer struct {
	predictor  atomic.Pointer[Predictor]
	encoder    *features.Encoder
	store      PredictionStore
	drift      *DriftMonitor
	stats      atomic.Pointer[FeatureImportance]
	experiment atomic.Pointer[Experiment]
	metrics    ServerMetrics
	upgrader   websocket.Upgrader
	handler    http.Handler
	server     *http.Server
}

// FieldValue is a record value posted either as a JSON string or number.
type FieldValue string

func (v *FieldValue) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = FieldValue(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("record value must be a string or number, got %s", data)
	}
	*v = FieldValue(n.String())
	return nil
}

// PredictRequest carries either a feature vector in model order or a raw
// record keyed by feature name.
type PredictRequest struct {
	RequestID string                `json:"request_id,omitempty"`
	SubjectID string                `json:"subject_id,omitempty"`
	Features  []float64             `json:"features,omitempty"`
	Record    map[string]FieldValue `json:"record,omitempty"`
}

// PredictResponse represents the prediction result
type PredictResponse struct {
	Prediction
	RequestID string    `json:"request_id"`
	SubjectID string    `json:"subject_id,omitempty"`
	Variant   string    `json:"variant,omitempty"`
	Latency   float64   `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorResponse is returned for rejected requests
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// HealthResponse reports service state
type HealthResponse struct {
	Healthy      bool         `json:"healthy"`
	ModelLoaded  bool         `json:"model_loaded"`
	ModelVersion string       `json:"model_version,omitempty"`
	Drift        *DriftStatus `json:"drift,omitempty"`
	Timestamp    time.Time    `json:"timestamp"`
}

// ModelInfoResponse describes the active model and its input contract
type ModelInfoResponse struct {
	ModelInfo
	Encodings features.Encodings `json:"encodings"`
}

var errBadRequest = errors.New("bad request")

// NewModelServer creates a new HTTP server for model serving
func NewModelServer(predictor *Predictor, encoder *features.Encoder, opts ServerOptions) *ModelServer {
	if encoder == nil {
		encoder = features.NewEncoder(features.DefaultEncodings())
	}
	ms := &ModelServer{
		encoder: encoder,
		store:   opts.Store,
		drift:   opts.Drift,
		metrics: opts.Metrics,
	}
	ms.predictor.Store(predictor)
	if opts.FeatureStats != nil {
		ms.stats.Store(opts.FeatureStats)
	}
	if opts.Experiment != nil {
		ms.experiment.Store(opts.Experiment)
	}
	ms.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}

	route := func(endpoint string, h http.HandlerFunc) http.Handler {
		handler := http.Handler(ms.instrument(endpoint, h))
		if opts.RequestTimeout > 0 {
			handler = http.TimeoutHandler(handler, opts.RequestTimeout, `{"error":"request timed out"}`)
		}
		return handler
	}

	mux := http.NewServeMux()
	mux.Handle("/predict", route("/predict", ms.handlePredict))
	mux.Handle("/health", route("/health", ms.handleHealth))
	mux.Handle("/model/info", route("/model/info", ms.handleModelInfo))
	mux.Handle("/model/features", route("/model/features", ms.handleFeatureStats))
	mux.Handle("/experiment", route("/experiment", ms.handleExperiment))
	mux.HandleFunc("/ws", ms.handleWS)
	if opts.MetricsHandler != nil {
		mux.Handle("/metrics", opts.MetricsHandler)
	}
	ms.handler = mux

	ms.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return ms
}

// Handler exposes the routes, mainly for tests
func (ms *ModelServer) Handler() http.Handler {
	return ms.handler
}

// Predictor returns the active predictor
func (ms *ModelServer) Predictor() *Predictor {
	return ms.predictor.Load()
}

// SetPredictor swaps the active model. In-flight requests finish on the
// predictor they started with.
func (ms *ModelServer) SetPredictor(p *Predictor) {
	old := ms.predictor.Swap(p)
	if ms.drift != nil {
		ms.drift.Reset()
	}
	if stats := ms.stats.Load(); stats != nil && !slices.Equal(stats.FeatureNames(), p.Model().FeatureNames) {
		ms.stats.Store(NewFeatureImportance(FeatureImportanceConfig{FeatureNames: p.Model().FeatureNames}))
	}
	if exp := ms.experiment.Load(); exp != nil && !slices.Equal(exp.Challenger().Model().FeatureNames, p.Model().FeatureNames) {
		ms.experiment.Store(nil)
		log.Warn().Str("experiment", exp.ID()).Msg("Experiment stopped, challenger features no longer match the active model")
	}
	if ms.metrics != nil {
		ms.metrics.MLModelReloadInc()
	}
	oldVersion := ""
	if old != nil {
		oldVersion = old.Version()
	}
	log.Info().Str("from", oldVersion).Str("to", p.Version()).Msg("Active model swapped")
}

// Start begins serving HTTP requests
func (ms *ModelServer) Start() error {
	log.Info().Str("addr", ms.server.Addr).Msg("starting model server")
	return ms.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (ms *ModelServer) Shutdown(ctx context.Context) error {
	return ms.server.Shutdown(ctx)
}

// Predict scores one request. It is the shared path of /predict and /ws.
func (ms *ModelServer) Predict(req PredictRequest) (PredictResponse, error) {
	start := time.Now()
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	predictor := ms.predictor.Load()
	if predictor == nil {
		return PredictResponse{}, fmt.Errorf("no model loaded")
	}
	exp := ms.experiment.Load()
	variant := ""
	if exp != nil {
		variant = exp.Assign(req.SubjectID)
		if variant == VariantChallenger {
			predictor = exp.Challenger()
		}
	}
	model := predictor.Model()

	var vector []float64
	switch {
	case req.Features != nil && req.Record != nil:
		return PredictResponse{}, fmt.Errorf("%w: send either features or record, not both", errBadRequest)
	case req.Features != nil:
		vector = req.Features
	case req.Record != nil:
		record := make(map[string]string, len(req.Record))
		for k, v := range req.Record {
			record[k] = string(v)
		}
		var err error
		vector, err = ms.encoder.Encode(record, model.FeatureNames)
		if err != nil {
			return PredictResponse{}, err
		}
	default:
		return PredictResponse{}, fmt.Errorf("%w: features or record is required", errBadRequest)
	}

	pred, err := predictor.Predict(vector)
	if err != nil {
		return PredictResponse{}, err
	}

	if exp != nil {
		exp.Record(variant, pred, time.Since(start))
	}
	// Drift is measured against the active model's quartiles only.
	if ms.drift != nil && variant != VariantChallenger {
		ms.drift.Observe(pred.RiskGroup)
	}
	if stats := ms.stats.Load(); stats != nil {
		stats.UpdateFeatureStats(vector)
	}

	now := time.Now()
	if ms.store != nil {
		record := storage.PredictionRecord{
			ID:           req.RequestID,
			SubjectID:    req.SubjectID,
			Timestamp:    now,
			ModelVersion: pred.ModelVersion,
			Features:     vector,
			Score:        pred.Score,
			RawScore:     pred.RawScore,
			RiskGroup:    pred.RiskGroup.String(),
			Leaves:       pred.Leaves,
		}
		if err := ms.store.StorePrediction(record); err != nil {
			log.Error().Err(err).Str("request_id", req.RequestID).Msg("failed to store prediction")
			if ms.metrics != nil {
				ms.metrics.StorageErrorsInc()
			}
		}
	}

	return PredictResponse{
		Prediction: pred,
		RequestID:  req.RequestID,
		SubjectID:  req.SubjectID,
		Variant:    variant,
		Latency:    float64(time.Since(start).Microseconds()) / 1000,
		Timestamp:  now,
	}, nil
}

func (ms *ModelServer) handlePredict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "method not allowed"})
		return
	}

	var req PredictRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("invalid request: %v", err)})
		return
	}

	resp, err := ms.Predict(req)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			log.Error().Err(err).Str("request_id", req.RequestID).Msg("prediction failed")
		}
		writeJSON(w, status, ErrorResponse{Error: err.Error(), RequestID: req.RequestID})
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (ms *ModelServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	predictor := ms.predictor.Load()
	health := HealthResponse{
		Healthy:     predictor != nil,
		ModelLoaded: predictor != nil,
		Timestamp:   time.Now(),
	}
	if predictor != nil {
		health.ModelVersion = predictor.Version()
	}
	if ms.drift != nil {
		status := ms.drift.Status()
		health.Drift = &status
	}

	status := http.StatusOK
	if !health.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

func (ms *ModelServer) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	predictor := ms.predictor.Load()
	if predictor == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "no model loaded"})
		return
	}
	writeJSON(w, http.StatusOK, ModelInfoResponse{
		ModelInfo: predictor.Info(),
		Encodings: ms.encoder.Encodings(),
	})
}

func (ms *ModelServer) handleFeatureStats(w http.ResponseWriter, r *http.Request) {
	stats := ms.stats.Load()
	if stats == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "feature statistics are not enabled"})
		return
	}
	writeJSON(w, http.StatusOK, stats.GetFeatureImportance())
}

func (ms *ModelServer) handleExperiment(w http.ResponseWriter, r *http.Request) {
	exp := ms.experiment.Load()
	if exp == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "no experiment running"})
		return
	}
	writeJSON(w, http.StatusOK, exp.Report())
}

// handleWS serves an interactive calculator session: each text frame is a
// PredictRequest and each reply a PredictResponse or ErrorResponse.
func (ms *ModelServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := ms.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		if ms.metrics != nil {
			ms.metrics.HTTPRequestInc("/ws", http.StatusBadRequest)
		}
		return
	}
	defer conn.Close()

	if ms.metrics != nil {
		ms.metrics.HTTPRequestInc("/ws", http.StatusSwitchingProtocols)
		ms.metrics.WSSessionsAdd(1)
		defer ms.metrics.WSSessionsAdd(-1)
	}
	conn.SetReadLimit(1 << 20)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Msg("websocket session ended")
			}
			return
		}

		var reply any
		var req PredictRequest
		if err := json.Unmarshal(data, &req); err != nil {
			reply = ErrorResponse{Error: fmt.Sprintf("invalid request: %v", err)}
		} else if resp, err := ms.Predict(req); err != nil {
			reply = ErrorResponse{Error: err.Error(), RequestID: req.RequestID}
		} else {
			reply = resp
		}

		if err := conn.WriteJSON(reply); err != nil {
			log.Warn().Err(err).Msg("websocket write failed")
			return
		}
	}
}

func (ms *ModelServer) instrument(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		if ms.metrics != nil {
			ms.metrics.HTTPRequestInc(endpoint, rec.status)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// statusFor maps caller mistakes to 400 and everything else to 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, ErrFeatureVectorMismatch),
		errors.Is(err, ErrInvalidFeatureValue),
		errors.Is(err, features.ErrMissingField),
		errors.Is(err, features.ErrUnknownCategory),
		errors.Is(err, features.ErrInvalidNumber),
		errors.Is(err, features.ErrUnexpectedField):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("failed to write response")
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
