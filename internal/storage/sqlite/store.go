// Package sqlite provides the local research journal: a record of every
// session started from this machine so interrupted research can be listed
// and resumed after the process exits.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/tjfontaine/deep-probe/internal/domain"
)

// Record is one journal row.
type Record struct {
	ID            string
	InteractionID string
	Topic         string
	Status        domain.Status
	InputTokens   int
	OutputTokens  int
	TotalTokens   int
	Error         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Store is the SQLite-backed journal.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the journal database at dbPath.
func New(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS researches (
			id TEXT PRIMARY KEY,
			interaction_id TEXT,
			topic TEXT NOT NULL,
			status TEXT NOT NULL,
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			total_tokens INTEGER NOT NULL DEFAULT 0,
			error TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_researches_interaction ON researches(interaction_id)`,
		`CREATE INDEX IF NOT EXISTS idx_researches_status ON researches(status)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// RecordStart journals a new session and returns its journal ID.
func (s *Store) RecordStart(ctx context.Context, topic string) (string, error) {
	id := uuid.NewString()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO researches (id, topic, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, topic, string(domain.StatusPending), now, now)
	if err != nil {
		return "", fmt.Errorf("failed to record research start: %w", err)
	}
	return id, nil
}

// RecordResult updates a journaled session with its terminal result.
func (s *Store) RecordResult(ctx context.Context, journalID string, result *domain.Result) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE researches SET interaction_id = ?, status = ?, input_tokens = ?,
		 output_tokens = ?, total_tokens = ?, updated_at = ? WHERE id = ?`,
		result.InteractionID, string(result.Status),
		result.Usage.InputTokens, result.Usage.OutputTokens, result.Usage.TotalTokens,
		time.Now().UTC(), journalID)
	if err != nil {
		return fmt.Errorf("failed to record research result: %w", err)
	}
	return nil
}

// RecordFailure updates a journaled session with a terminal failure. The
// interaction ID is stored even on failure so the session can be resumed.
func (s *Store) RecordFailure(ctx context.Context, journalID string, perr *domain.ProbeError) error {
	status := domain.StatusFailed
	if perr.Kind == domain.ErrorKindCancelled {
		status = domain.StatusCancelled
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE researches SET interaction_id = ?, status = ?, error = ?, updated_at = ? WHERE id = ?`,
		perr.InteractionID, string(status), perr.Error(), time.Now().UTC(), journalID)
	if err != nil {
		return fmt.Errorf("failed to record research failure: %w", err)
	}
	return nil
}

// List returns the most recent journal rows, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, COALESCE(interaction_id, ''), topic, status, input_tokens,
		 output_tokens, total_tokens, COALESCE(error, ''), created_at, updated_at
		 FROM researches ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list researches: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var status string
		if err := rows.Scan(&rec.ID, &rec.InteractionID, &rec.Topic, &status,
			&rec.InputTokens, &rec.OutputTokens, &rec.TotalTokens, &rec.Error,
			&rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan research row: %w", err)
		}
		rec.Status = domain.Status(status)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
