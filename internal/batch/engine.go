package batch

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"rsf-risk/internal/features"
	"rsf-risk/internal/ml"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Result is the outcome of scoring one subject. Err is set instead of
// Prediction when the subject could not be encoded or scored.
type Result struct {
	Subject    Subject
	Features   []float64
	Prediction ml.Prediction
	Err        error
}

// Engine scores a cohort against one predictor
type Engine struct {
	predictor ml.PredictorInterface
	encoder   *features.Encoder
	workers   int
}

// NewEngine creates a new batch engine. workers <= 0 uses GOMAXPROCS.
func NewEngine(predictor ml.PredictorInterface, encoder *features.Encoder, workers int) *Engine {
	if encoder == nil {
		encoder = features.NewEncoder(features.DefaultEncodings())
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Engine{
		predictor: predictor,
		encoder:   encoder,
		workers:   workers,
	}
}

// Run scores every subject. Results keep the input order. Per-subject
// failures are reported in Result.Err; only cancellation fails the run.
func (e *Engine) Run(ctx context.Context, subjects []Subject) ([]Result, error) {
	start := time.Now()
	names := e.predictor.Model().FeatureNames
	results := make([]Result, len(subjects))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	for i := range subjects {
		if gctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = e.score(subjects[i], names)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("batch cancelled: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("batch cancelled: %w", err)
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	log.Info().
		Int("subjects", len(subjects)).
		Int("failed", failed).
		Int("workers", e.workers).
		Dur("elapsed", time.Since(start)).
		Msg("Batch scoring completed")

	return results, nil
}

func (e *Engine) score(subject Subject, names []string) Result {
	result := Result{Subject: subject}

	vector, err := e.encoder.Encode(subject.Record, names)
	if err != nil {
		result.Err = fmt.Errorf("subject %s (line %d): %w", subject.ID, subject.Line, err)
		return result
	}

	result.Features = vector

	pred, err := e.predictor.Predict(vector)
	if err != nil {
		result.Err = fmt.Errorf("subject %s (line %d): %w", subject.ID, subject.Line, err)
		return result
	}
	result.Prediction = pred
	return result
}
