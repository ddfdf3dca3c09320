// Package ml loads exported random survival forests and scores subjects
// against them. It holds the model contract (Model, Tree, Load), the
// inference path (Tree.Leaf, Model.Score, Stratify) and the serving layer
// built on top: a cached, instrumented Predictor, a versioned model
// registry, remote artifact fetching, stratum drift monitoring and an
// HTTP/WebSocket API.
//
// A loaded Model is immutable. Scoring never locks and any number of
// goroutines may score against the same Model.
package ml

// PredictorInterface is what the serving and batch layers need from a
// predictor.
type PredictorInterface interface {
	// Predict scores a feature vector given in model feature order.
	Predict(features []float64) (Prediction, error)

	// PredictNamed scores a record keyed by feature name.
	PredictNamed(record map[string]float64) (Prediction, error)

	// Model returns the model the predictor scores against.
	Model() *Model
}
