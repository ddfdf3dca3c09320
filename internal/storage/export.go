package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"go.etcd.io/bbolt"
)

// ForEachPrediction visits every stored record in key order, that is by
// subject and then by time. Malformed records are skipped.
func (s *Store) ForEachPrediction(fn func(PredictionRecord) error) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(predictionsBucket)).ForEach(func(_, v []byte) error {
			var record PredictionRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return nil
			}
			return fn(record)
		})
	})
}

// ExportPredictionsCSV writes all stored predictions with one column per
// feature, ready to be joined with follow-up data for recalibration.
// Records whose vector does not match featureNames keep the feature columns
// empty. It returns the number of rows written.
func (s *Store) ExportPredictionsCSV(w io.Writer, featureNames []string) (int, error) {
	writer := csv.NewWriter(w)

	header := append([]string{"id", "subject_id", "timestamp", "model_version", "score", "raw_score", "risk_group"}, featureNames...)
	if err := writer.Write(header); err != nil {
		return 0, err
	}

	rows := 0
	err := s.ForEachPrediction(func(r PredictionRecord) error {
		row := make([]string, len(header))
		row[0] = r.ID
		row[1] = r.SubjectID
		row[2] = r.Timestamp.Format(time.RFC3339Nano)
		row[3] = r.ModelVersion
		row[4] = strconv.FormatFloat(r.Score, 'f', -1, 64)
		row[5] = strconv.FormatFloat(r.RawScore, 'f', -1, 64)
		row[6] = r.RiskGroup
		if len(r.Features) == len(featureNames) {
			for i, v := range r.Features {
				row[7+i] = strconv.FormatFloat(v, 'f', -1, 64)
			}
		}
		rows++
		return writer.Write(row)
	})
	if err != nil {
		return rows, fmt.Errorf("export predictions: %w", err)
	}

	writer.Flush()
	return rows, writer.Error()
}
