package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"rsf-risk/internal/cfg"
	"rsf-risk/internal/features"
	"rsf-risk/internal/metrics"
	"rsf-risk/internal/ml"
	"rsf-risk/internal/storage"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	zerolog.SetGlobalLevel(c.ZerologLevel())

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize components
	m := metrics.New()
	mw := metrics.NewWrapper(m)
	store := initializeStorage(c)
	if store != nil {
		defer store.Close()
	}

	predictor, err := loadPredictor(ctx, c, mw, true)
	if err != nil {
		log.Fatal().Err(err).Msg("model load failed")
	}

	opts := ml.ServerOptions{
		Port:           c.ServerPort,
		Metrics:        mw,
		MetricsHandler: promhttp.Handler(),
		AllowedOrigins: c.AllowedOrigins,
		RequestTimeout: c.RequestTimeout,
		FeatureStats:   ml.NewFeatureImportance(ml.FeatureImportanceConfig{FeatureNames: predictor.Model().FeatureNames}),
	}
	if store != nil {
		opts.Store = store
	}
	if c.DriftWindow > 0 {
		opts.Drift = ml.NewDriftMonitor(ml.DriftMonitorConfig{
			WindowSize: c.DriftWindow,
			Threshold:  c.DriftThreshold,
		}, mw)
	}
	if c.ChallengerPath != "" {
		exp, err := startExperiment(c, predictor)
		if err != nil {
			log.Fatal().Err(err).Msg("challenger model rejected")
		}
		opts.Experiment = exp
	}
	server := ml.NewModelServer(predictor, features.NewEncoder(c.Encodings), opts)

	// Start background goroutines
	var wg sync.WaitGroup
	startServer(&wg, server, cancel)
	startModelAgeReporter(ctx, &wg, server, mw)
	startReloadHandler(ctx, &wg, c, server, mw)

	// Wait for shutdown signal
	waitForShutdown(ctx, cancel, server, &wg)
}

// initializeStorage initializes storage if DATA_PATH is configured
func initializeStorage(c cfg.Settings) *storage.Store {
	if c.DataPath != "" {
		if err := os.MkdirAll(c.DataPath, 0o755); err != nil {
			log.Warn().Err(err).Msg("data path unavailable, continuing without persistence")
			return nil
		}
		store, err := storage.New(c.DataPath)
		if err != nil {
			log.Warn().Err(err).Msg("storage initialization failed, continuing without persistence")
			return nil
		}
		return store
	}
	return nil
}

// loadPredictor resolves the artifact to serve. With fetch set, a
// configured MODEL_URL is downloaded to MODEL_PATH first; with MODELS_DIR
// the registry decides which registered version is active.
func loadPredictor(ctx context.Context, c cfg.Settings, mw *metrics.MetricsWrapper, fetch bool) (*ml.Predictor, error) {
	path := c.ModelPath
	fetched := false
	if fetch && c.ModelURL != "" {
		if _, err := ml.FetchModel(ctx, c.ModelURL, path, c.FetchTimeout); err != nil {
			return nil, err
		}
		fetched = true
	}

	version := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if c.ModelsDir != "" {
		mm, err := ml.NewModelManager(c.ModelsDir)
		if err != nil {
			return nil, err
		}
		if fetched || mm.GetCurrentVersion() == nil {
			v, err := mm.AddVersion(path)
			if err != nil {
				return nil, err
			}
			if err := mm.ActivateVersion(v.Version); err != nil {
				return nil, err
			}
		}
		current := mm.GetCurrentVersion()
		if current == nil {
			return nil, fmt.Errorf("model registry %s has no active version", c.ModelsDir)
		}
		path, version = current.Path, current.Version
	}

	return ml.NewWithMetrics(path, mw, ml.PredictorConfig{
		Version:    version,
		ScoreScale: c.ScoreScale,
		CacheSize:  c.CacheSize,
	})
}

// startExperiment loads the challenger artifact. It reports no metrics of
// its own so the model gauges keep describing the active model.
func startExperiment(c cfg.Settings, control *ml.Predictor) (*ml.Experiment, error) {
	challenger, err := ml.NewWithMetrics(c.ChallengerPath, nil, ml.PredictorConfig{
		ScoreScale: c.ScoreScale,
		CacheSize:  c.CacheSize,
	})
	if err != nil {
		return nil, err
	}
	return ml.NewExperiment(ml.ExperimentConfig{ChallengerShare: c.ChallengerShare}, control, challenger)
}

func startServer(wg *sync.WaitGroup, server *ml.ModelServer, cancel context.CancelFunc) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("model server failed")
			cancel()
		}
	}()
}

// startModelAgeReporter keeps the model age gauge current
func startModelAgeReporter(ctx context.Context, wg *sync.WaitGroup, server *ml.ModelServer, mw *metrics.MetricsWrapper) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if created := server.Predictor().Info().ModelCreated; !created.IsZero() {
					mw.MLModelAgeSet(time.Since(created).Seconds())
				}
			}
		}
	}()
}

// startReloadHandler reloads the model on SIGHUP. A failed reload keeps the
// current model serving. With a registry the reload serves its active
// version, so an rsfinspect rollback is not undone by a fresh fetch.
func startReloadHandler(ctx context.Context, wg *sync.WaitGroup, c cfg.Settings, server *ml.ModelServer, mw *metrics.MetricsWrapper) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer signal.Stop(hup)
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				log.Info().Msg("reload signal received")
				p, err := loadPredictor(ctx, c, mw, c.ModelsDir == "")
				if err != nil {
					log.Error().Err(err).Msg("model reload failed, keeping current model")
					continue
				}
				server.SetPredictor(p)
			}
		}
	}()
}

func waitForShutdown(ctx context.Context, cancel context.CancelFunc, server *ml.ModelServer, wg *sync.WaitGroup) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Info().Msg("shutdown signal received")
	case <-ctx.Done():
		log.Info().Msg("context canceled")
	}

	log.Info().Msg("shutting down gracefully...")
	cancel() // Cancel context to stop all goroutines

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("server shutdown incomplete")
	}

	// Wait for all goroutines to finish with timeout
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all goroutines stopped")
	case <-time.After(10 * time.Second):
		log.Warn().Msg("shutdown timeout, forcing exit")
	}
}
