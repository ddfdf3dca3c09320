package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"rsf-risk/internal/cfg"
	"rsf-risk/internal/features"
	"rsf-risk/internal/ml"
	"rsf-risk/internal/storage"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	var (
		configPath = flag.String("config", "", "YAML config with categorical encodings (default: CONFIG_FILE or environment)")
		modelPath  = flag.String("model", "", "Model artifact to validate and describe")
		record     = flag.String("record", "", "Score a subject given as name=value pairs, e.g. age=45,tgrade=II,...")
		dataPath   = flag.String("data", "", "Data directory holding stored predictions")
		subject    = flag.String("subject", storage.AnonymousSubject, "Subject whose predictions to list")
		since      = flag.Duration("since", 24*time.Hour, "How far back to list predictions")
		export     = flag.String("export", "", "Write all stored predictions to this CSV file (needs -data)")
		registry   = flag.String("registry", "", "Model registry directory to list or change")
		activate   = flag.String("activate", "", "Activate this registered version (needs -registry)")
		rollback   = flag.Bool("rollback", false, "Activate the version before the active one (needs -registry)")
	)
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if *modelPath == "" && *dataPath == "" && *registry == "" {
		fmt.Fprintln(os.Stderr, "usage: rsfinspect -model model.json [-record k=v,...] | -data dir [-subject id] [-export out.csv] | -registry dir [-activate v | -rollback]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	if *registry != "" {
		if err := manageRegistry(os.Stdout, *registry, *activate, *rollback); err != nil {
			log.Fatal().Err(err).Msg("Registry update failed")
		}
	} else if *activate != "" || *rollback {
		log.Fatal().Msg("-activate and -rollback need -registry")
	}

	if *modelPath != "" {
		settings, err := cfg.LoadFrom(*configPath)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid configuration")
		}
		if err := inspectModel(os.Stdout, *modelPath, *record, settings.Encodings); err != nil {
			log.Fatal().Err(err).Msg("Model inspection failed")
		}
	}
	if *dataPath != "" {
		if err := inspectPredictions(*dataPath, *subject, *since); err != nil {
			log.Fatal().Err(err).Msg("Prediction inspection failed")
		}
	}
	if *export != "" {
		if *dataPath == "" {
			log.Fatal().Msg("-export needs -data")
		}
		if err := exportPredictions(*dataPath, *modelPath, *export); err != nil {
			log.Fatal().Err(err).Msg("Prediction export failed")
		}
	}
}

func inspectModel(w io.Writer, path, record string, encodings features.Encodings) error {
	model, err := ml.LoadFile(path)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Model: %s\n", path)
	fmt.Fprintf(w, "Features: %s\n", strings.Join(model.FeatureNames, ", "))
	fmt.Fprintf(w, "Trees: %d\n", model.NEstimators())
	for i, t := range model.Trees {
		leaves := 0
		for n := 0; n < t.NodeCount(); n++ {
			if t.IsLeaf(n) {
				leaves++
			}
		}
		fmt.Fprintf(w, "  tree %d: %d nodes, %d leaves\n", i, t.NodeCount(), leaves)
	}
	p := model.RiskPercentiles
	fmt.Fprintf(w, "Risk percentiles: p25=%g p50=%g p75=%g\n", p.P25, p.P50, p.P75)
	fmt.Fprintf(w, "C-index: %.4f\n", model.CIndex)

	if record == "" {
		return nil
	}

	fields, err := parseRecord(record)
	if err != nil {
		return err
	}
	vector, err := features.NewEncoder(encodings).Encode(fields, model.FeatureNames)
	if err != nil {
		return err
	}
	explanation, err := model.Explain(vector)
	if err != nil {
		return err
	}
	group, err := model.Stratify(explanation.Score)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "\nScore: %g (%s)\n", explanation.Score, group)
	for i, leaf := range explanation.Leaves {
		fmt.Fprintf(w, "  tree %d: leaf %d, risk %g\n", i, leaf, explanation.TreeRisks[i])
	}
	return nil
}

func parseRecord(raw string) (map[string]string, error) {
	fields := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("expected name=value, got %q", pair)
		}
		fields[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	return fields, nil
}

func inspectPredictions(dataPath, subject string, since time.Duration) error {
	store, err := storage.New(dataPath)
	if err != nil {
		return err
	}
	defer store.Close()

	total, err := store.CountPredictions()
	if err != nil {
		return err
	}
	fmt.Printf("Stored predictions: %d\n", total)

	end := time.Now()
	records, err := store.GetPredictions(subject, end.Add(-since), end)
	if err != nil {
		return err
	}
	fmt.Printf("Subject %s, last %s: %d\n", subject, since, len(records))
	for _, r := range records {
		fmt.Printf("  %s  %-8s score=%-10g model=%s id=%s\n",
			r.Timestamp.Format(time.RFC3339), r.RiskGroup, r.Score, r.ModelVersion, r.ID)
	}
	return nil
}

// exportPredictions names the feature columns after the model when one is
// given, otherwise after the first stored vector.
func exportPredictions(dataPath, modelPath, dest string) error {
	store, err := storage.New(dataPath)
	if err != nil {
		return err
	}
	defer store.Close()

	var names []string
	if modelPath != "" {
		model, err := ml.LoadFile(modelPath)
		if err != nil {
			return err
		}
		names = model.FeatureNames
	} else {
		errFound := errors.New("found")
		err := store.ForEachPrediction(func(r storage.PredictionRecord) error {
			for i := range r.Features {
				names = append(names, fmt.Sprintf("f%d", i))
			}
			return errFound
		})
		if err != nil && !errors.Is(err, errFound) {
			return err
		}
	}

	file, err := os.Create(dest)
	if err != nil {
		return err
	}
	rows, err := store.ExportPredictionsCSV(file, names)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	log.Info().Str("file", dest).Int("rows", rows).Msg("Predictions exported")
	return nil
}

// manageRegistry applies at most one of activate and rollback to the
// registry in dir and lists its versions. A running rsfserve picks up the
// new active version on SIGHUP.
func manageRegistry(w io.Writer, dir, activate string, rollback bool) error {
	if activate != "" && rollback {
		return errors.New("use either -activate or -rollback, not both")
	}

	mm, err := ml.NewModelManager(dir)
	if err != nil {
		return err
	}
	switch {
	case activate != "":
		err = mm.ActivateVersion(activate)
	case rollback:
		err = mm.Rollback()
	}
	if err != nil {
		return err
	}

	versions := mm.ListVersions()
	fmt.Fprintf(w, "Registry %s: %d versions\n", dir, len(versions))
	for _, v := range versions {
		marker := " "
		if v.IsActive {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %s  trees=%d c_index=%.4f created=%s path=%s\n",
			marker, v.Version, v.Metrics.NEstimators, v.Metrics.CIndex, v.CreatedAt.Format(time.RFC3339), v.Path)
	}
	return nil
}
