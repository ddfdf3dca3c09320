// Package storage persists scored predictions for audit and later analysis.
// It uses BoltDB as the underlying storage engine with one bucket of
// prediction records keyed by subject and time.
//
// The package provides thread-safe operations and efficient per-subject
// time-range queries.
package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

const (
	predictionsBucket = "predictions" // Bucket name for prediction records

	// AnonymousSubject keys predictions that carry no subject ID.
	AnonymousSubject = "anonymous"
)

// PredictionRecord is one scored subject.
type PredictionRecord struct {
	ID           string    `json:"id"`
	SubjectID    string    `json:"subject_id"`
	Timestamp    time.Time `json:"timestamp"`
	ModelVersion string    `json:"model_version"`
	Features     []float64 `json:"features"`
	Score        float64   `json:"score"`
	RawScore     float64   `json:"raw_score"`
	RiskGroup    string    `json:"risk_group"`
	Leaves       []int     `json:"leaves,omitempty"`
}

// Store provides persistent storage for prediction records using BoltDB.
type Store struct {
	db *bbolt.DB // BoltDB database instance
}

// New creates a new storage instance with the specified data path.
// It initializes the BoltDB database and creates necessary buckets.
func New(dataPath string) (*Store, error) {
	dbPath := filepath.Join(dataPath, "rsf-data.db")

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(predictionsBucket)); err != nil {
			return fmt.Errorf("create predictions bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database connection gracefully.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// StorePrediction stores a prediction record. Records without a subject are
// filed under AnonymousSubject; records without a timestamp get the
// current time and records without an ID get a random one.
func (s *Store) StorePrediction(record PredictionRecord) error {
	if record.SubjectID == "" {
		record.SubjectID = AnonymousSubject
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(predictionsBucket))

		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal prediction: %w", err)
		}

		return b.Put(recordKey(record.SubjectID, record.Timestamp, record.ID), data)
	})
}

// GetPredictions retrieves a subject's predictions within a time range.
// The range is inclusive of both start and end and results are ordered by
// timestamp.
func (s *Store) GetPredictions(subject string, start, end time.Time) ([]PredictionRecord, error) {
	var records []PredictionRecord

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(predictionsBucket)).Cursor()

		prefix := []byte(subject + "_")
		upper := timePrefix(subject, end.Add(time.Nanosecond))

		for k, v := c.Seek(timePrefix(subject, start)); k != nil && bytes.Compare(k, upper) < 0; k, v = c.Next() {
			if !bytes.HasPrefix(k, prefix) {
				break
			}

			var record PredictionRecord
			if err := json.Unmarshal(v, &record); err != nil {
				continue // Skip malformed records
			}
			records = append(records, record)
		}
		return nil
	})

	return records, err
}

// CountPredictions returns the number of stored records.
func (s *Store) CountPredictions() (int, error) {
	var n int
	err := s.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket([]byte(predictionsBucket)).Stats().KeyN
		return nil
	})
	return n, err
}

// recordKey orders a subject's records by time. Nanoseconds are zero padded
// so byte order matches time order; the ID keeps records made in the same
// nanosecond apart.
func recordKey(subject string, ts time.Time, id string) []byte {
	return append(timePrefix(subject, ts), id...)
}

// timePrefix is the part of recordKey shared by every record of subject at ts.
func timePrefix(subject string, ts time.Time) []byte {
	return []byte(fmt.Sprintf("%s_%020d_", subject, ts.UnixNano()))
}
