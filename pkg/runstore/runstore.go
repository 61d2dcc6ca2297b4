// Package runstore archives finished runs in SQLite. The tool-calling loop
// never reads from it; the CLI and gateway write records after a run ends
// and read them back for listings.
package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/flexygent/flexygent/pkg/orchestrator"
)

// ErrNotFound is returned when a run ID is not in the store.
var ErrNotFound = errors.New("run not found")

// DefaultListLimit bounds ListRuns when the caller passes no limit.
const DefaultListLimit = 50

// RunRecord is one archived run.
type RunRecord struct {
	ID           string          `json:"id"`
	Task         string          `json:"task"`
	FinishReason string          `json:"finish_reason"`
	FinalText    string          `json:"final_text"`
	Steps        int             `json:"steps"`
	ToolCalls    int             `json:"tool_calls"`
	Messages     json.RawMessage `json:"messages,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// NewRecord builds a record from a finished run, assigning a fresh ID.
func NewRecord(task string, result orchestrator.RunResult) RunRecord {
	id, _ := gonanoid.New()

	messages, err := json.Marshal(result.Messages)
	if err != nil {
		messages = []byte("[]")
	}

	return RunRecord{
		ID:           id,
		Task:         task,
		FinishReason: string(result.FinishReason),
		FinalText:    result.FinalText,
		Steps:        result.Steps,
		ToolCalls:    result.ToolCalls,
		Messages:     messages,
		CreatedAt:    time.Now().UTC(),
	}
}

// Store is a SQLite-backed run archive.
type Store struct {
	db *sql.DB
}

// Open opens or creates the store at path and ensures the schema exists.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL mode keeps readers unblocked while runs are being archived.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Debug().Str("path", path).Msg("Run store opened")

	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			task TEXT NOT NULL,
			finish_reason TEXT NOT NULL,
			final_text TEXT NOT NULL,
			steps INTEGER NOT NULL,
			tool_calls INTEGER NOT NULL,
			messages TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SaveRun inserts a record. A missing ID gets a fresh nanoid and a zero
// CreatedAt becomes the current time.
func (s *Store) SaveRun(ctx context.Context, rec RunRecord) error {
	if rec.ID == "" {
		id, err := gonanoid.New()
		if err != nil {
			return fmt.Errorf("failed to generate run id: %w", err)
		}
		rec.ID = id
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	messages := rec.Messages
	if len(messages) == 0 {
		messages = []byte("[]")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, task, finish_reason, final_text, steps, tool_calls, messages, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Task, rec.FinishReason, rec.FinalText, rec.Steps, rec.ToolCalls, string(messages), rec.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", rec.ID, err)
	}

	log.Debug().
		Str("run_id", rec.ID).
		Str("finish_reason", rec.FinishReason).
		Msg("Run archived")

	return nil
}

// GetRun fetches one record by ID.
func (s *Store) GetRun(ctx context.Context, id string) (RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, task, finish_reason, final_text, steps, tool_calls, messages, created_at
		FROM runs
		WHERE id = ?
	`, id)

	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return RunRecord{}, fmt.Errorf("failed to load run %s: %w", id, err)
	}
	return rec, nil
}

// ListRuns returns the most recent records, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task, finish_reason, final_text, steps, tool_calls, messages, created_at
		FROM runs
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (RunRecord, error) {
	var rec RunRecord
	var messages string
	var createdAt int64

	err := row.Scan(&rec.ID, &rec.Task, &rec.FinishReason, &rec.FinalText,
		&rec.Steps, &rec.ToolCalls, &messages, &createdAt)
	if err != nil {
		return RunRecord{}, err
	}

	rec.Messages = json.RawMessage(messages)
	rec.CreatedAt = time.Unix(createdAt, 0).UTC()
	return rec, nil
}
