package batch

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"rsf-risk/internal/ml"

	"github.com/rs/zerolog/log"
)

// Subject is one row of a cohort file.
type Subject struct {
	ID      string            `json:"id"`
	Line    int               `json:"line"`
	Record  map[string]string `json:"record"`
	Outcome *ml.Outcome       `json:"outcome,omitempty"`
}

var (
	idColumns    = []string{"id", "pid", "subject_id"}
	timeColumns  = []string{"time", "duration"}
	eventColumns = []string{"cens", "event", "status"}
)

// LoadCohortCSV loads subjects from a CSV file with a header row
func LoadCohortCSV(filePath string) ([]Subject, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	subjects, err := ReadCohortCSV(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filePath, err)
	}

	withOutcome := 0
	for _, s := range subjects {
		if s.Outcome != nil {
			withOutcome++
		}
	}
	log.Info().
		Str("file", filePath).
		Int("subjects", len(subjects)).
		Int("with_outcome", withOutcome).
		Msg("Cohort loaded successfully")

	return subjects, nil
}

// ReadCohortCSV parses a cohort. Every column is kept in the record; an
// id/pid column names the subject and time plus cens/event columns are
// read as the observed outcome.
func ReadCohortCSV(r io.Reader) ([]Subject, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	// Read header
	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("cohort is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	header[0] = strings.TrimPrefix(header[0], "\ufeff")

	// Map header indices
	indices := make(map[string]int, len(header))
	for i, col := range header {
		if _, dup := indices[col]; dup {
			return nil, fmt.Errorf("duplicate column %q", col)
		}
		indices[col] = i
	}
	idIdx := firstColumn(indices, idColumns)
	timeIdx := firstColumn(indices, timeColumns)
	eventIdx := firstColumn(indices, eventColumns)

	var subjects []Subject
	for line := 2; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		record := make(map[string]string, len(header))
		for i, col := range header {
			record[col] = row[i]
		}

		subject := Subject{
			ID:     strconv.Itoa(line - 1),
			Line:   line,
			Record: record,
		}
		if idIdx >= 0 && strings.TrimSpace(row[idIdx]) != "" {
			subject.ID = strings.TrimSpace(row[idIdx])
		}
		if timeIdx >= 0 && eventIdx >= 0 {
			subject.Outcome = parseOutcome(row[timeIdx], row[eventIdx])
		}

		subjects = append(subjects, subject)
	}

	return subjects, nil
}

func firstColumn(indices map[string]int, candidates []string) int {
	for _, c := range candidates {
		if idx, ok := indices[c]; ok {
			return idx
		}
	}
	return -1
}

// parseOutcome returns nil when either value is unusable.
func parseOutcome(rawTime, rawEvent string) *ml.Outcome {
	t, err := strconv.ParseFloat(strings.TrimSpace(rawTime), 64)
	if err != nil || t < 0 {
		return nil
	}
	e, err := strconv.ParseFloat(strings.TrimSpace(rawEvent), 64)
	if err != nil || (e != 0 && e != 1) {
		return nil
	}
	return &ml.Outcome{Time: t, Event: e == 1}
}
