package batch

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"rsf-risk/internal/ml"

	"github.com/rs/zerolog/log"
)

// Summary aggregates a scored cohort
type Summary struct {
	ModelVersion string         `json:"model_version,omitempty"`
	Total        int            `json:"total"`
	Scored       int            `json:"scored"`
	Failed       int            `json:"failed"`
	GroupCounts  map[string]int `json:"group_counts"`
	MeanScore    float64        `json:"mean_score"`
	MinScore     float64        `json:"min_score"`
	MaxScore     float64        `json:"max_score"`
	Quartiles    ml.Percentiles `json:"quartiles"`

	// CIndex is Harrell's concordance of scores with observed outcomes,
	// set only when the cohort carries outcomes.
	CIndex *float64 `json:"c_index,omitempty"`
}

// Summarize computes cohort statistics over successful results.
func Summarize(results []Result) Summary {
	s := Summary{
		Total:       len(results),
		GroupCounts: make(map[string]int, len(ml.Categories)),
		MinScore:    math.Inf(1),
		MaxScore:    math.Inf(-1),
	}
	for _, c := range ml.Categories {
		s.GroupCounts[c.String()] = 0
	}

	scores := make([]float64, 0, len(results))
	sum := 0.0
	for _, r := range results {
		if r.Err != nil {
			s.Failed++
			continue
		}
		s.Scored++
		s.GroupCounts[r.Prediction.RiskGroup.String()]++
		if s.ModelVersion == "" {
			s.ModelVersion = r.Prediction.ModelVersion
		}
		score := r.Prediction.Score
		scores = append(scores, score)
		sum += score
		s.MinScore = math.Min(s.MinScore, score)
		s.MaxScore = math.Max(s.MaxScore, score)
	}

	if s.Scored == 0 {
		s.MinScore, s.MaxScore = 0, 0
		return s
	}
	s.MeanScore = sum / float64(s.Scored)
	if q, err := ml.ComputePercentiles(scores); err == nil {
		s.Quartiles = q
	}
	if c, ok := ConcordanceIndex(results); ok {
		s.CIndex = &c
	}
	return s
}

// ConcordanceIndex computes Harrell's C over the scored subjects that carry
// outcomes. ok is false when no pair is comparable.
func ConcordanceIndex(results []Result) (float64, bool) {
	var scores []float64
	var outcomes []ml.Outcome
	for _, r := range results {
		if r.Err != nil || r.Subject.Outcome == nil {
			continue
		}
		scores = append(scores, r.Prediction.Score)
		outcomes = append(outcomes, *r.Subject.Outcome)
	}
	c, err := ml.ConcordanceIndex(scores, outcomes)
	if err != nil {
		return 0, false
	}
	return c, true
}

// OutcomeRows returns the feature vectors and outcomes of scored subjects
// that carry outcomes, for permutation importance.
func OutcomeRows(results []Result) ([][]float64, []ml.Outcome) {
	var rows [][]float64
	var outcomes []ml.Outcome
	for _, r := range results {
		if r.Err != nil || r.Subject.Outcome == nil {
			continue
		}
		rows = append(rows, r.Features)
		outcomes = append(outcomes, *r.Subject.Outcome)
	}
	return rows, outcomes
}

// Recalibrate returns a copy of model whose risk percentiles are the
// quartiles of the cohort's scores. Scores are taken after scaling, so the
// returned model stratifies consistently under the same score scale.
func Recalibrate(model *ml.Model, results []Result) (*ml.Model, error) {
	scores := make([]float64, 0, len(results))
	for _, r := range results {
		if r.Err == nil {
			scores = append(scores, r.Prediction.Score)
		}
	}
	p, err := ml.ComputePercentiles(scores)
	if err != nil {
		return nil, fmt.Errorf("recalibrate: %w", err)
	}
	recalibrated, err := model.WithPercentiles(p)
	if err != nil {
		return nil, fmt.Errorf("recalibrate: %w", err)
	}

	log.Info().
		Int("subjects", len(scores)).
		Float64("p25", p.P25).
		Float64("p50", p.P50).
		Float64("p75", p.P75).
		Msg("Risk percentiles recalibrated")

	return recalibrated, nil
}

// Reporter generates batch reports
type Reporter struct {
	results    []Result
	summary    Summary
	outputPath string
}

// NewReporter creates a new reporter
func NewReporter(results []Result, outputPath string) *Reporter {
	return &Reporter{
		results:    results,
		summary:    Summarize(results),
		outputPath: outputPath,
	}
}

// Summary returns the cohort summary the reporter writes.
func (r *Reporter) Summary() Summary {
	return r.summary
}

// GenerateReport writes predictions.csv, summary.json and summary.txt
func (r *Reporter) GenerateReport() error {
	// Create output directory
	if err := os.MkdirAll(r.outputPath, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if err := r.writeFile("predictions.csv", func(w io.Writer) error {
		return WriteCSV(w, r.results)
	}); err != nil {
		return err
	}

	if err := r.writeFile("summary.json", func(w io.Writer) error {
		return WriteJSON(w, r.summary)
	}); err != nil {
		return err
	}

	return r.writeFile("summary.txt", func(w io.Writer) error {
		return WriteText(w, r.summary)
	})
}

func (r *Reporter) writeFile(name string, write func(io.Writer) error) error {
	path := filepath.Join(r.outputPath, name)
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", name, err)
	}
	if err := write(file); err != nil {
		file.Close()
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", name, err)
	}
	log.Info().Str("file", path).Msg("Report generated")
	return nil
}

// WriteCSV writes one row per subject. Failed subjects carry the error and
// empty score columns.
func WriteCSV(w io.Writer, results []Result) error {
	writer := csv.NewWriter(w)

	header := []string{"id", "line", "score", "raw_score", "risk_group", "model_version", "error"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, res := range results {
		row := []string{res.Subject.ID, strconv.Itoa(res.Subject.Line), "", "", "", "", ""}
		if res.Err != nil {
			row[6] = res.Err.Error()
		} else {
			row[2] = strconv.FormatFloat(res.Prediction.Score, 'f', -1, 64)
			row[3] = strconv.FormatFloat(res.Prediction.RawScore, 'f', -1, 64)
			row[4] = res.Prediction.RiskGroup.String()
			row[5] = res.Prediction.ModelVersion
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// WriteJSON writes the summary as indented JSON.
func WriteJSON(w io.Writer, summary Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}

// WriteText writes a human-readable summary
func WriteText(w io.Writer, s Summary) error {
	var err error
	printf := func(format string, args ...any) {
		if err == nil {
			_, err = fmt.Fprintf(w, format, args...)
		}
	}

	printf("RISK STRATIFICATION SUMMARY\n")
	printf("===========================\n\n")
	if s.ModelVersion != "" {
		printf("Model: %s\n", s.ModelVersion)
	}
	printf("Subjects: %d (scored %d, failed %d)\n\n", s.Total, s.Scored, s.Failed)

	printf("RISK GROUPS\n")
	printf("-----------\n")
	for _, c := range ml.Categories {
		n := s.GroupCounts[c.String()]
		share := 0.0
		if s.Scored > 0 {
			share = float64(n) / float64(s.Scored) * 100
		}
		printf("%-9s %6d (%5.1f%%)\n", c.String(), n, share)
	}

	printf("\nSCORES\n")
	printf("------\n")
	printf("Mean: %.4f  Min: %.4f  Max: %.4f\n", s.MeanScore, s.MinScore, s.MaxScore)
	printf("Quartiles: p25=%.4f p50=%.4f p75=%.4f\n", s.Quartiles.P25, s.Quartiles.P50, s.Quartiles.P75)
	if s.CIndex != nil {
		printf("Concordance index: %.4f\n", *s.CIndex)
	}
	return err
}

// PrintSummary logs the summary
func (r *Reporter) PrintSummary() {
	event := log.Info().
		Int("total", r.summary.Total).
		Int("scored", r.summary.Scored).
		Int("failed", r.summary.Failed).
		Float64("mean_score", r.summary.MeanScore)
	for _, c := range ml.Categories {
		event = event.Int(c.String(), r.summary.GroupCounts[c.String()])
	}
	if r.summary.CIndex != nil {
		event = event.Float64("c_index", *r.summary.CIndex)
	}
	event.Msg("Batch summary")
}
