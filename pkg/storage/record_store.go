package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dougsko/tonecodec/pkg/logging"
	"github.com/dougsko/tonecodec/pkg/protocol"
	_ "github.com/mattn/go-sqlite3"
)

// RecordStore keeps the history of encode and decode jobs
type RecordStore struct {
	db         *sql.DB
	dbPath     string
	maxRecords int
}

// NewRecordStore creates a new record store with SQLite backend
func NewRecordStore(dbPath string, maxRecords int) (*RecordStore, error) {
	store := &RecordStore{
		dbPath:     dbPath,
		maxRecords: maxRecords,
	}

	if err := store.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize record store: %w", err)
	}

	return store, nil
}

// initialize sets up the database connection and creates tables
func (rs *RecordStore) initialize() error {
	if rs.dbPath == "" {
		rs.dbPath = "./tonecodec.db"
	}

	// Create database directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(rs.dbPath), 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}

	connectionString := rs.dbPath + "?_busy_timeout=10000&_journal_mode=WAL"

	db, err := sql.Open("sqlite3", connectionString)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	rs.db = db

	if err := rs.createTables(); err != nil {
		db.Close()
		return fmt.Errorf("failed to create tables: %w", err)
	}

	if err := rs.createIndexes(); err != nil {
		db.Close()
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	logging.Infof("storage", "Record store initialized: %s (max %d records)", rs.dbPath, rs.maxRecords)
	return nil
}

// createTables creates the database schema
func (rs *RecordStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL UNIQUE,
		timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		operation TEXT NOT NULL CHECK (operation IN ('ENCODE', 'DECODE')),
		key_fingerprint TEXT NOT NULL DEFAULT '',
		message_length INTEGER NOT NULL DEFAULT 0,
		message_text TEXT NOT NULL DEFAULT '',
		samples INTEGER NOT NULL DEFAULT 0,
		sample_rate INTEGER NOT NULL DEFAULT 0,
		path TEXT NOT NULL DEFAULT '',
		duration_ms REAL NOT NULL DEFAULT 0.0,
		error_text TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS record_stats (
		id INTEGER PRIMARY KEY,
		total_records INTEGER NOT NULL DEFAULT 0,
		total_encodes INTEGER NOT NULL DEFAULT 0,
		total_decodes INTEGER NOT NULL DEFAULT 0,
		total_errors INTEGER NOT NULL DEFAULT 0,
		total_samples INTEGER NOT NULL DEFAULT 0,
		last_cleanup DATETIME,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	-- Initialize stats if empty
	INSERT OR IGNORE INTO record_stats (id) VALUES (1);
	`

	_, err := rs.db.Exec(schema)
	return err
}

// createIndexes creates database indexes for performance
func (rs *RecordStore) createIndexes() error {
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_records_timestamp ON records(timestamp DESC)",
		"CREATE INDEX IF NOT EXISTS idx_records_operation ON records(operation)",
		"CREATE INDEX IF NOT EXISTS idx_records_key_fingerprint ON records(key_fingerprint)",
	}

	for _, indexSQL := range indexes {
		if _, err := rs.db.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

// StoreRecord stores a job record and returns its row id
func (rs *RecordStore) StoreRecord(record protocol.Record) (int64, error) {
	if record.Operation != protocol.OpEncode && record.Operation != protocol.OpDecode {
		return 0, fmt.Errorf("invalid operation %q", record.Operation)
	}

	tx, err := rs.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO records (
			job_id, timestamp, operation, key_fingerprint, message_length,
			message_text, samples, sample_rate, path, duration_ms, error_text
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := tx.Exec(query,
		record.JobID, record.Timestamp.UTC(), record.Operation, record.KeyFingerprint,
		record.MessageLength, record.Message, record.Samples, record.SampleRate,
		record.Path, record.DurationMS, record.Error,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get record ID: %w", err)
	}

	if err := rs.updateStats(tx, record); err != nil {
		return 0, fmt.Errorf("failed to update stats: %w", err)
	}

	if _, err := rs.cleanupOldRecords(tx); err != nil {
		logging.Warnf("storage", "failed to cleanup old records: %v", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit record: %w", err)
	}
	return id, nil
}

// updateStats updates job statistics
func (rs *RecordStore) updateStats(tx *sql.Tx, record protocol.Record) error {
	query := `
		UPDATE record_stats SET
			total_records = total_records + 1,
			total_encodes = CASE WHEN ? = 'ENCODE' THEN total_encodes + 1 ELSE total_encodes END,
			total_decodes = CASE WHEN ? = 'DECODE' THEN total_decodes + 1 ELSE total_decodes END,
			total_errors = CASE WHEN ? != '' THEN total_errors + 1 ELSE total_errors END,
			total_samples = total_samples + ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = 1
	`

	_, err := tx.Exec(query, record.Operation, record.Operation, record.Error, record.Samples)
	return err
}

// CleanupOldRecords removes records beyond the maximum limit and returns
// how many were deleted
func (rs *RecordStore) CleanupOldRecords() (int64, error) {
	tx, err := rs.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	removed, err := rs.cleanupOldRecords(tx)
	if err != nil {
		return 0, err
	}

	return removed, tx.Commit()
}

// cleanupOldRecords removes records beyond the maximum limit
func (rs *RecordStore) cleanupOldRecords(tx *sql.Tx) (int64, error) {
	if rs.maxRecords <= 0 {
		return 0, nil // No limit
	}

	var count int
	if err := tx.QueryRow("SELECT COUNT(*) FROM records").Scan(&count); err != nil {
		return 0, err
	}

	if count <= rs.maxRecords {
		return 0, nil
	}

	// Delete oldest records beyond limit
	query := `
		DELETE FROM records
		WHERE id IN (
			SELECT id FROM records
			ORDER BY timestamp ASC, id ASC
			LIMIT ?
		)
	`

	result, err := tx.Exec(query, count-rs.maxRecords)
	if err != nil {
		return 0, err
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}

	_, err = tx.Exec("UPDATE record_stats SET last_cleanup = CURRENT_TIMESTAMP WHERE id = 1")
	return removed, err
}

// Close closes the database connection
func (rs *RecordStore) Close() error {
	if rs.db != nil {
		return rs.db.Close()
	}
	return nil
}
