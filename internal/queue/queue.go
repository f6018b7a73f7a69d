// Package queue is the durable FIFO of actions waiting to be sent to the
// server. Rows live in SQLite; staged upload files live next to the database
// in the queue directory.
package queue

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fentz26/rwclient/internal/models"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

const dbName = "queue.db"

// ErrClosed is returned after Close.
var ErrClosed = errors.New("queue closed")

// Queue is a durable FIFO of actions. It is safe for concurrent use.
type Queue struct {
	dir    string
	logger logrus.FieldLogger

	mu sync.Mutex
	db *sql.DB
}

// Open opens or creates the queue in dir.
func Open(dir string, logger logrus.FieldLogger) (*Queue, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	q := &Queue{dir: dir, logger: logger.WithField("component", "queue")}
	if err := q.open(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *Queue) open() error {
	if err := os.MkdirAll(q.dir, 0755); err != nil {
		return fmt.Errorf("create queue directory: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(q.dir, dbName)+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return fmt.Errorf("open queue db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS actions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		operation TEXT NOT NULL,
		properties TEXT NOT NULL,
		filename TEXT,
		created_at DATETIME NOT NULL
	);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return fmt.Errorf("migrate queue: %w", err)
	}
	q.db = db
	return nil
}

// Dir returns the queue directory.
func (q *Queue) Dir() string { return q.dir }

// Close closes the database.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.db == nil {
		return nil
	}
	err := q.db.Close()
	q.db = nil
	return err
}

// Add persists a and sets its ID.
func (q *Queue) Add(a *models.Action) error {
	props, err := a.MarshalProperties()
	if err != nil {
		return fmt.Errorf("encode action: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.db == nil {
		return ErrClosed
	}

	res, err := q.db.Exec(
		`INSERT INTO actions (operation, properties, filename, created_at) VALUES (?, ?, ?, ?)`,
		a.Operation(), props, a.Filename(), a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert action: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert action id: %w", err)
	}
	a.ID = id
	q.logger.WithFields(logrus.Fields{"queue_id": id, "operation": a.Operation()}).Debug("action queued")
	return nil
}

// Oldest returns the earliest added action, or nil when the queue is empty.
func (q *Queue) Oldest() (*models.Action, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.db == nil {
		return nil, ErrClosed
	}

	a := &models.Action{}
	var props string
	err := q.db.QueryRow(
		`SELECT id, properties, created_at FROM actions ORDER BY id ASC LIMIT 1`,
	).Scan(&a.ID, &props, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query oldest action: %w", err)
	}
	if err := json.Unmarshal([]byte(props), &a.Properties); err != nil {
		return nil, fmt.Errorf("decode action %d: %w", a.ID, err)
	}
	return a, nil
}

// Delete removes the row of a and its staged file. Deleting an action that is
// already gone is not an error.
func (q *Queue) Delete(a *models.Action) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.db == nil {
		return ErrClosed
	}

	if a.ID != 0 {
		if _, err := q.db.Exec(`DELETE FROM actions WHERE id = ?`, a.ID); err != nil {
			return fmt.Errorf("delete action: %w", err)
		}
	}
	if name := a.Filename(); name != "" {
		if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("delete action file: %w", err)
		}
	}
	return nil
}

// Count returns the number of persisted actions.
func (q *Queue) Count() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.db == nil {
		return 0, ErrClosed
	}
	return q.count()
}

func (q *Queue) count() (int, error) {
	var n int
	if err := q.db.QueryRow(`SELECT COUNT(*) FROM actions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count actions: %w", err)
	}
	return n, nil
}

// List returns a summary of every queued action in FIFO order.
func (q *Queue) List() ([]models.QueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.db == nil {
		return nil, ErrClosed
	}

	rows, err := q.db.Query(`SELECT id, operation, properties, filename, created_at FROM actions ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	var entries []models.QueueEntry
	for rows.Next() {
		var e models.QueueEntry
		var props string
		var filename sql.NullString
		if err := rows.Scan(&e.ID, &e.Operation, &props, &filename, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		var m map[string]string
		if err := json.Unmarshal([]byte(props), &m); err == nil {
			e.Label = m[models.KeyLabel]
		}
		if filename.Valid && filename.String != "" {
			e.Filename = filename.String
			if fi, err := os.Stat(filename.String); err == nil {
				e.SizeBytes = fi.Size()
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Purge deletes the database and every staged file, then re-creates an empty
// queue in the same directory.
func (q *Queue) Purge() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.db != nil {
		if err := q.db.Close(); err != nil {
			q.logger.WithError(err).Warn("close before purge")
		}
		q.db = nil
	}
	if err := os.RemoveAll(q.dir); err != nil {
		return fmt.Errorf("remove queue directory: %w", err)
	}
	q.logger.Info("queue purged")
	return q.open()
}

// StageFile moves the file at path into the queue directory under a name no
// other file there uses, and returns the new path. On failure the original
// file is left in place.
func (q *Queue) StageFile(path string) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.db == nil {
		return "", ErrClosed
	}

	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("stage file: %w", err)
	}

	n, err := q.count()
	if err != nil {
		return "", err
	}
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	var dst string
	for {
		dst = filepath.Join(q.dir, fmt.Sprintf("%s%d%s", stem, n, ext))
		if _, err := os.Stat(dst); os.IsNotExist(err) {
			break
		}
		n++
	}

	if err := os.Rename(path, dst); err != nil {
		// Rename fails across file systems; fall back to copy and remove.
		if err := copyFile(path, dst); err != nil {
			os.Remove(dst)
			return "", fmt.Errorf("stage file: %w", err)
		}
		if err := os.Remove(path); err != nil {
			q.logger.WithError(err).WithField("path", path).Warn("could not remove original after copy")
		}
	}
	return dst, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
