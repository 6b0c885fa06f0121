// Package state persists saved pipelines and run history in a local SQLite
// database.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // sqlite driver
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Pipeline is a saved pipeline record. Document holds the YAML document
// verbatim.
type Pipeline struct {
	ID          string
	Name        string
	Description string
	Document    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RunStatus is the outcome of one executed query.
type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// Run is one execution record.
type Run struct {
	ID           string
	PipelineName string
	NodeID       string
	SQL          string
	Status       RunStatus
	Error        string
	RowsReturned int64
	StartedAt    time.Time
	Duration     time.Duration
}

// Store wraps the SQLite database.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the store at path and applies pending
// migrations. Use ":memory:" for a throwaway store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping state db: %w", err)
	}
	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SavePipeline inserts or updates a pipeline by name.
func (s *Store) SavePipeline(ctx context.Context, name, description, document string) (*Pipeline, error) {
	now := time.Now().UTC()

	existing, err := s.GetPipeline(ctx, name)
	switch {
	case err == nil:
		_, err = s.db.ExecContext(ctx,
			`UPDATE pipelines SET description = ?, document = ?, updated_at = ? WHERE name = ?`,
			description, document, now, name)
		if err != nil {
			return nil, fmt.Errorf("update pipeline %q: %w", name, err)
		}
		existing.Description = description
		existing.Document = document
		existing.UpdatedAt = now
		return existing, nil

	case errors.Is(err, ErrNotFound):
		p := &Pipeline{
			ID:          uuid.NewString(),
			Name:        name,
			Description: description,
			Document:    document,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO pipelines (id, name, description, document, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			p.ID, p.Name, p.Description, p.Document, p.CreatedAt, p.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("insert pipeline %q: %w", name, err)
		}
		return p, nil

	default:
		return nil, err
	}
}

// GetPipeline fetches one pipeline by name.
func (s *Store) GetPipeline(ctx context.Context, name string) (*Pipeline, error) {
	var p Pipeline
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, document, created_at, updated_at
		 FROM pipelines WHERE name = ?`, name).
		Scan(&p.ID, &p.Name, &p.Description, &p.Document, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("pipeline %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get pipeline %q: %w", name, err)
	}
	return &p, nil
}

// ListPipelines returns every saved pipeline ordered by name.
func (s *Store) ListPipelines(ctx context.Context) ([]*Pipeline, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, document, created_at, updated_at
		 FROM pipelines ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list pipelines: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Pipeline
	for rows.Next() {
		var p Pipeline
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Document, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan pipeline: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// DeletePipeline removes a pipeline by name.
func (s *Store) DeletePipeline(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pipelines WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete pipeline %q: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("pipeline %q: %w", name, ErrNotFound)
	}
	return nil
}

// RecordRun inserts a run record, assigning its id.
func (s *Store) RecordRun(ctx context.Context, r *Run) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, pipeline_name, node_id, sql_text, status, error, rows_returned, started_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.PipelineName, r.NodeID, r.SQL, r.Status, r.Error, r.RowsReturned,
		r.StartedAt.UTC(), r.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs for a pipeline, newest first.
func (s *Store) ListRuns(ctx context.Context, pipelineName string, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, pipeline_name, node_id, sql_text, status, error, rows_returned, started_at, duration_ms
		 FROM runs WHERE pipeline_name = ? ORDER BY started_at DESC LIMIT ?`,
		pipelineName, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Run
	for rows.Next() {
		var r Run
		var durMs int64
		if err := rows.Scan(&r.ID, &r.PipelineName, &r.NodeID, &r.SQL, &r.Status, &r.Error,
			&r.RowsReturned, &r.StartedAt, &durMs); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Duration = time.Duration(durMs) * time.Millisecond
		out = append(out, &r)
	}
	return out, rows.Err()
}
