package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"rsf-risk/internal/batch"
	"rsf-risk/internal/cfg"
	"rsf-risk/internal/features"
	"rsf-risk/internal/ml"
	"rsf-risk/internal/storage"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Parse command line arguments
	var (
		configPath  = flag.String("config", "", "YAML config with categorical encodings and score scale (default: CONFIG_FILE or environment)")
		modelPath   = flag.String("model", "models/rsf_model.json", "Path to RSF model artifact")
		inputPath   = flag.String("input", "", "Cohort CSV with one subject per row")
		outputPath  = flag.String("output", "results", "Output directory for reports")
		dataPath    = flag.String("data", "", "Optional data directory to persist predictions")
		workers     = flag.Int("workers", 0, "Scoring workers (0 = GOMAXPROCS)")
		scale       = flag.Float64("scale", 0, "Divide ensemble scores by this before stratification (default: configured score scale)")
		recalibrate = flag.String("recalibrate", "", "Write a copy of the model with cohort quartiles to this path")
		importance  = flag.Int("importance", 0, "Permutation importance repeats per feature (0 = skip; needs time/cens columns)")
		logLevel    = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	)
	flag.Parse()

	// Setup logging
	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if *inputPath == "" {
		fmt.Fprintln(os.Stderr, "usage: rsfbatch -input cohort.csv [-model model.json] [-output dir]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	scaleSet := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "scale" {
			scaleSet = true
		}
	})
	settings, err := loadSettings(*configPath, *scale, scaleSet)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	predictor, err := ml.NewWithMetrics(*modelPath, nil, ml.PredictorConfig{ScoreScale: settings.ScoreScale})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load model")
	}

	subjects, err := batch.LoadCohortCSV(*inputPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load cohort")
	}

	engine := batch.NewEngine(predictor, features.NewEncoder(settings.Encodings), *workers)
	results, err := engine.Run(ctx, subjects)
	if err != nil {
		log.Fatal().Err(err).Msg("Batch scoring failed")
	}

	for _, r := range results {
		if r.Err != nil {
			log.Warn().Err(r.Err).Msg("Subject not scored")
		}
	}

	reporter := batch.NewReporter(results, *outputPath)
	if err := reporter.GenerateReport(); err != nil {
		log.Fatal().Err(err).Msg("Failed to generate report")
	}
	reporter.PrintSummary()

	if *importance > 0 {
		if err := writeImportance(predictor, results, *outputPath, *importance); err != nil {
			log.Error().Err(err).Msg("Permutation importance failed")
		}
	}

	if *dataPath != "" {
		if err := persist(*dataPath, results); err != nil {
			log.Error().Err(err).Msg("Failed to persist predictions")
		}
	}

	if *recalibrate != "" {
		if err := writeRecalibrated(predictor.Model(), results, *recalibrate); err != nil {
			log.Fatal().Err(err).Msg("Recalibration failed")
		}
	}
}

// loadSettings reads the same configuration rsfserve uses so a cohort is
// encoded and scaled exactly as the service would. An explicit -scale
// overrides the configured one and goes through the same validation.
func loadSettings(configPath string, scale float64, scaleSet bool) (cfg.Settings, error) {
	settings, err := cfg.LoadFrom(configPath)
	if err != nil {
		return cfg.Settings{}, err
	}
	if scaleSet {
		settings.ScoreScale = scale
		if err := settings.Validate(); err != nil {
			return cfg.Settings{}, err
		}
	}
	return settings, nil
}

func persist(dataPath string, results []batch.Result) error {
	if err := os.MkdirAll(dataPath, 0o755); err != nil {
		return err
	}
	store, err := storage.New(dataPath)
	if err != nil {
		return err
	}
	defer store.Close()

	now := time.Now()
	stored := 0
	for _, r := range results {
		if r.Err != nil {
			continue
		}
		record := storage.PredictionRecord{
			ID:           uuid.NewString(),
			SubjectID:    r.Subject.ID,
			Timestamp:    now.Add(time.Duration(r.Subject.Line)),
			ModelVersion: r.Prediction.ModelVersion,
			Features:     r.Features,
			Score:        r.Prediction.Score,
			RawScore:     r.Prediction.RawScore,
			RiskGroup:    r.Prediction.RiskGroup.String(),
			Leaves:       r.Prediction.Leaves,
		}
		if err := store.StorePrediction(record); err != nil {
			return fmt.Errorf("subject %s: %w", r.Subject.ID, err)
		}
		stored++
	}

	log.Info().Str("data_path", dataPath).Int("stored", stored).Msg("Predictions persisted")
	return nil
}

func writeRecalibrated(model *ml.Model, results []batch.Result, path string) error {
	recalibrated, err := batch.Recalibrate(model, results)
	if err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := recalibrated.Encode(file); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}

	// The written artifact must load under the same contract.
	if _, err := ml.LoadFile(path); err != nil {
		return fmt.Errorf("recalibrated model does not validate: %w", err)
	}
	log.Info().Str("path", path).Msg("Recalibrated model written")
	return nil
}

func writeImportance(predictor ml.PredictorInterface, results []batch.Result, outputPath string, repeats int) error {
	rows, outcomes := batch.OutcomeRows(results)
	fi := ml.NewFeatureImportance(ml.FeatureImportanceConfig{
		FeatureNames: predictor.Model().FeatureNames,
		SavePath:     filepath.Join(outputPath, "feature_importance.json"),
		Repeats:      repeats,
		Seed:         1,
	})
	for _, row := range rows {
		fi.UpdateFeatureStats(row)
	}
	if err := fi.CalculatePermutationImportance(predictor, rows, outcomes); err != nil {
		return err
	}
	return fi.Save()
}
