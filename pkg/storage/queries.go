package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dougsko/tonecodec/pkg/protocol"
)

// ErrRecordNotFound is returned when no record matches a job id
var ErrRecordNotFound = errors.New("record not found")

// RecordQuery represents query parameters for retrieving records
type RecordQuery struct {
	Limit          int
	Offset         int
	Since          *time.Time
	Until          *time.Time
	Operation      string // "ENCODE", "DECODE", or "" for both
	KeyFingerprint string
	FailedOnly     bool
}

// RecordStats represents database statistics
type RecordStats struct {
	TotalRecords int       `json:"total_records"`
	TotalEncodes int       `json:"total_encodes"`
	TotalDecodes int       `json:"total_decodes"`
	TotalErrors  int       `json:"total_errors"`
	TotalSamples int64     `json:"total_samples"`
	Stored       int       `json:"stored"`
	LastCleanup  time.Time `json:"last_cleanup"`
}

const recordColumns = `
	id, job_id, timestamp, operation, key_fingerprint, message_length,
	message_text, samples, sample_rate, path, duration_ms, error_text
`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (protocol.Record, error) {
	var r protocol.Record
	err := row.Scan(
		&r.ID,
		&r.JobID,
		&r.Timestamp,
		&r.Operation,
		&r.KeyFingerprint,
		&r.MessageLength,
		&r.Message,
		&r.Samples,
		&r.SampleRate,
		&r.Path,
		&r.DurationMS,
		&r.Error,
	)
	return r, err
}

// GetRecords retrieves records based on query parameters, newest first
func (rs *RecordStore) GetRecords(query RecordQuery) ([]protocol.Record, error) {
	var args []interface{}
	var conditions []string

	sqlQuery := "SELECT " + recordColumns + " FROM records WHERE 1=1"

	if query.Since != nil {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, query.Since.UTC())
	}

	if query.Until != nil {
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, query.Until.UTC())
	}

	if query.Operation != "" {
		conditions = append(conditions, "operation = ?")
		args = append(args, query.Operation)
	}

	if query.KeyFingerprint != "" {
		conditions = append(conditions, "key_fingerprint = ?")
		args = append(args, query.KeyFingerprint)
	}

	if query.FailedOnly {
		conditions = append(conditions, "error_text != ''")
	}

	for _, condition := range conditions {
		sqlQuery += " AND " + condition
	}

	sqlQuery += " ORDER BY timestamp DESC, id DESC"

	if query.Limit > 0 {
		sqlQuery += " LIMIT ?"
		args = append(args, query.Limit)

		if query.Offset > 0 {
			sqlQuery += " OFFSET ?"
			args = append(args, query.Offset)
		}
	}

	rows, err := rs.db.Query(sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []protocol.Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, record)
	}

	return records, rows.Err()
}

// GetRecord retrieves the record for a job id
func (rs *RecordStore) GetRecord(jobID string) (*protocol.Record, error) {
	row := rs.db.QueryRow("SELECT "+recordColumns+" FROM records WHERE job_id = ?", jobID)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return &record, nil
}

// GetRecentRecords retrieves the most recent records
func (rs *RecordStore) GetRecentRecords(limit int) ([]protocol.Record, error) {
	return rs.GetRecords(RecordQuery{Limit: limit})
}

// GetRecordStats retrieves database statistics
func (rs *RecordStore) GetRecordStats() (*RecordStats, error) {
	var stats RecordStats
	var lastCleanup sql.NullTime

	err := rs.db.QueryRow(`
		SELECT total_records, total_encodes, total_decodes, total_errors,
			   total_samples, last_cleanup
		FROM record_stats WHERE id = 1
	`).Scan(&stats.TotalRecords, &stats.TotalEncodes, &stats.TotalDecodes,
		&stats.TotalErrors, &stats.TotalSamples, &lastCleanup)
	if err != nil {
		return nil, fmt.Errorf("failed to get record stats: %w", err)
	}

	if lastCleanup.Valid {
		stats.LastCleanup = lastCleanup.Time
	}

	stats.Stored, err = rs.GetRecordCount()
	if err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}

	return &stats, nil
}

// GetRecordCount returns the number of stored records
func (rs *RecordStore) GetRecordCount() (int, error) {
	var count int
	err := rs.db.QueryRow("SELECT COUNT(*) FROM records").Scan(&count)
	return count, err
}
