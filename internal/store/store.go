// Package store provides SQLite-backed persistence for rwclient preferences:
// cached server JSON, tag selection state, content file info, the device id,
// and the request log.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/fentz26/rwclient/internal/models"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Preference keys.
const (
	KeyCachedConfiguration = "cached_configuration"
	KeyCachedTags          = "cached_tags"
	KeyContentFilesInfo    = "content_files_info"
	KeyDeviceID            = "device_id"
)

// Store provides access to the preferences database.
type Store struct {
	db *sql.DB
}

// New creates a new Store and runs migrations.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS preferences (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS request_log (
		id TEXT PRIMARY KEY,
		operation TEXT NOT NULL,
		inputs_hash TEXT NOT NULL,
		outcome TEXT NOT NULL,
		session_id TEXT,
		details TEXT,
		timestamp DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_request_log_timestamp ON request_log(timestamp);
	`

	_, err := s.db.Exec(schema)
	return err
}

// --- Preference Operations ---

// GetString returns the value stored under key. ok is false when absent.
func (s *Store) GetString(key string) (value string, ok bool, err error) {
	err = s.db.QueryRow(`SELECT value FROM preferences WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query preference: %w", err)
	}
	return value, true, nil
}

// SetString stores value under key.
func (s *Store) SetString(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO preferences (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert preference: %w", err)
	}
	return nil
}

// Remove deletes key. Removing an absent key is not an error.
func (s *Store) Remove(key string) error {
	if _, err := s.db.Exec(`DELETE FROM preferences WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete preference: %w", err)
	}
	return nil
}

// GetBool returns a boolean preference.
func (s *Store) GetBool(key string) (bool, bool, error) {
	v, ok, err := s.GetString(key)
	if err != nil || !ok {
		return false, false, err
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false, fmt.Errorf("parse preference %s: %w", key, err)
	}
	return b, true, nil
}

// SetBools stores all values in one transaction.
func (s *Store) SetBools(values map[string]bool) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for k, v := range values {
		_, err := tx.Exec(
			`INSERT INTO preferences (key, value, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			k, strconv.FormatBool(v), now,
		)
		if err != nil {
			return fmt.Errorf("upsert preference %s: %w", k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// --- Cache Operations ---

// CachedConfiguration returns the last configuration JSON received from the
// server, or nil.
func (s *Store) CachedConfiguration() ([]byte, error) {
	return s.getBlob(KeyCachedConfiguration)
}

// SaveConfiguration caches configuration JSON.
func (s *Store) SaveConfiguration(data []byte) error {
	return s.SetString(KeyCachedConfiguration, string(data))
}

// CachedTags returns the last tag catalog JSON received from the server, or nil.
func (s *Store) CachedTags() ([]byte, error) {
	return s.getBlob(KeyCachedTags)
}

// SaveTags caches tag catalog JSON.
func (s *Store) SaveTags(data []byte) error {
	return s.SetString(KeyCachedTags, string(data))
}

func (s *Store) getBlob(key string) ([]byte, error) {
	v, ok, err := s.GetString(key)
	if err != nil || !ok {
		return nil, err
	}
	return []byte(v), nil
}

// ContentFilesInfo returns the info saved after the last successful content
// download, or nil.
func (s *Store) ContentFilesInfo() (*models.ContentFilesInfo, error) {
	v, ok, err := s.GetString(KeyContentFilesInfo)
	if err != nil || !ok {
		return nil, err
	}
	info := &models.ContentFilesInfo{}
	if err := json.Unmarshal([]byte(v), info); err != nil {
		return nil, fmt.Errorf("decode content files info: %w", err)
	}
	return info, nil
}

// SaveContentFilesInfo persists info.
func (s *Store) SaveContentFilesInfo(info models.ContentFilesInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("encode content files info: %w", err)
	}
	return s.SetString(KeyContentFilesInfo, string(data))
}

// DeviceID returns the persisted device id, generating and saving one on
// first use.
func (s *Store) DeviceID() (string, error) {
	id, ok, err := s.GetString(KeyDeviceID)
	if err != nil {
		return "", err
	}
	if ok && id != "" {
		return id, nil
	}
	id = uuid.New().String()
	if err := s.SetString(KeyDeviceID, id); err != nil {
		return "", err
	}
	return id, nil
}

// --- Request Log Operations ---

// WriteRequestLog records one performed request.
func (s *Store) WriteRequestLog(operation, inputsHash, outcome, sessionID, details string) (*models.RequestLogEntry, error) {
	entry := &models.RequestLogEntry{
		ID:         uuid.New().String(),
		Operation:  operation,
		InputsHash: inputsHash,
		Outcome:    outcome,
		SessionID:  sessionID,
		Details:    details,
		Timestamp:  time.Now().UTC(),
	}

	_, err := s.db.Exec(
		`INSERT INTO request_log (id, operation, inputs_hash, outcome, session_id, details, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Operation, entry.InputsHash, entry.Outcome, entry.SessionID, entry.Details, entry.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert request log: %w", err)
	}
	return entry, nil
}

// ListRequestLog returns the most recent entries, newest first.
func (s *Store) ListRequestLog(limit int) ([]models.RequestLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, operation, inputs_hash, outcome, session_id, details, timestamp FROM request_log ORDER BY timestamp DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query request log: %w", err)
	}
	defer rows.Close()

	var entries []models.RequestLogEntry
	for rows.Next() {
		var e models.RequestLogEntry
		var sessionID, details sql.NullString
		if err := rows.Scan(&e.ID, &e.Operation, &e.InputsHash, &e.Outcome, &sessionID, &details, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan request log: %w", err)
		}
		e.SessionID = sessionID.String
		e.Details = details.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
