// Package journal keeps a SQLite history of assistant activations.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"polybrain/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.ActivationStore.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, logger: logger}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS activations (
		id           TEXT PRIMARY KEY,
		document_id  TEXT NOT NULL,
		session_id   TEXT,
		started_at   DATETIME NOT NULL,
		ended_at     DATETIME NOT NULL,
		outcome      TEXT NOT NULL,
		detail       TEXT,
		messages     INTEGER DEFAULT 0,
		transitions  INTEGER DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_activations_doc ON activations(document_id, started_at);
	CREATE INDEX IF NOT EXISTS idx_activations_time ON activations(started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record stores a finished activation. Recording the same id twice keeps the first.
func (s *SQLiteStore) Record(ctx context.Context, a domain.Activation) error {
	if a.ID == "" {
		return fmt.Errorf("activation without id")
	}
	if a.EndedAt.IsZero() {
		a.EndedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO activations
		 (id, document_id, session_id, started_at, ended_at, outcome, detail, messages, transitions)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.DocumentID, a.SessionID, a.StartedAt.UTC(), a.EndedAt.UTC(), string(a.Outcome), a.Detail, a.Messages, a.Transitions,
	)
	if err != nil {
		return fmt.Errorf("record activation %s: %w", a.ID, err)
	}
	return nil
}

// List returns the most recent activations, newest first.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]domain.Activation, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, session_id, started_at, ended_at, outcome, detail, messages, transitions
		 FROM activations ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanActivations(rows)
}

// ListByDocument returns the most recent activations of one document.
func (s *SQLiteStore) ListByDocument(ctx context.Context, documentID string, limit int) ([]domain.Activation, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, session_id, started_at, ended_at, outcome, detail, messages, transitions
		 FROM activations WHERE document_id = ? ORDER BY started_at DESC LIMIT ?`, documentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanActivations(rows)
}

// Prune deletes activations older than the retention window.
func (s *SQLiteStore) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UTC()
	res, err := s.db.ExecContext(ctx, `DELETE FROM activations WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanActivations(rows *sql.Rows) ([]domain.Activation, error) {
	var out []domain.Activation
	for rows.Next() {
		var (
			a       domain.Activation
			session sql.NullString
			detail  sql.NullString
			outcome string
		)
		if err := rows.Scan(&a.ID, &a.DocumentID, &session, &a.StartedAt, &a.EndedAt, &outcome, &detail, &a.Messages, &a.Transitions); err != nil {
			return nil, err
		}
		a.SessionID = session.String
		a.Detail = detail.String
		a.Outcome = domain.Outcome(outcome)
		out = append(out, a)
	}
	return out, rows.Err()
}
