package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/seqrun/seqrun/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded
// SQLite fork). Run records are stored as JSON columns; events go to an
// append-only table with a per-run sequence.
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and applies
// pending migrations. The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(ctx context.Context, dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

func (s *LibSQLStore) RunCreated(ctx context.Context, run *schema.Run) error {
	if err := s.upsertRun(ctx, run); err != nil {
		return err
	}
	return s.appendEvent(ctx, run.RunID, schema.EventRunCreated, map[string]any{
		"workflow_id": run.WorkflowID,
		"input":       run.Input,
	})
}

func (s *LibSQLStore) StepResultAppended(ctx context.Context, runID string, result schema.StepResult) error {
	return s.appendEvent(ctx, runID, schema.EventStepResultAppended, result)
}

func (s *LibSQLStore) RunFinalized(ctx context.Context, run *schema.Run) error {
	if err := s.upsertRun(ctx, run); err != nil {
		return err
	}
	return s.appendEvent(ctx, run.RunID, schema.EventRunFinalized, map[string]any{
		"status": run.Status,
		"error":  run.Error,
	})
}

func (s *LibSQLStore) GetRun(ctx context.Context, runID string) (*schema.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, workflow_id, status, input, outputs, log, error, started_at, ended_at
		 FROM runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "run %q not found", runID)
	}
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "get run %q: %v", runID, err).WithCause(err)
	}
	return run, nil
}

func (s *LibSQLStore) ListRuns(ctx context.Context, workflowID string, limit int) ([]*schema.Run, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT run_id, workflow_id, status, input, outputs, log, error, started_at, ended_at
		 FROM runs`
	args := []any{}
	if workflowID != "" {
		query += ` WHERE workflow_id = ?`
		args = append(args, workflowID)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "list runs: %v", err).WithCause(err)
	}
	defer rows.Close()

	var out []*schema.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStore, "scan run: %v", err).WithCause(err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (s *LibSQLStore) Events(ctx context.Context, runID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, run_id, sequence, type, payload, created_at
		 FROM run_events WHERE run_id = ? ORDER BY sequence`, runID)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "list events: %v", err).WithCause(err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var payload sql.NullString
		if err := rows.Scan(&ev.EventID, &ev.RunID, &ev.Sequence, &ev.Type, &payload, &ev.CreatedAt); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStore, "scan event: %v", err).WithCause(err)
		}
		if payload.Valid {
			ev.Payload = json.RawMessage(payload.String)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// SaveWorkflow stores a workflow definition, replacing any existing one
// with the same id.
func (s *LibSQLStore) SaveWorkflow(ctx context.Context, wf *schema.Workflow) error {
	definition, err := json.Marshal(wf)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "marshal workflow: %v", err).WithCause(err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflows (id, name, definition) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, definition=excluded.definition, updated_at=CURRENT_TIMESTAMP`,
		wf.ID, wf.Name, string(definition))
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "save workflow %q: %v", wf.ID, err).WithCause(err)
	}
	return nil
}

// GetWorkflow loads a stored workflow definition.
func (s *LibSQLStore) GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error) {
	var definition string
	err := s.db.QueryRowContext(ctx,
		`SELECT definition FROM workflows WHERE id = ?`, id).Scan(&definition)
	if err == sql.ErrNoRows {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %q not found", id)
	}
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "get workflow %q: %v", id, err).WithCause(err)
	}
	var wf schema.Workflow
	if err := json.Unmarshal([]byte(definition), &wf); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "decode workflow %q: %v", id, err).WithCause(err)
	}
	return &wf, nil
}

func (s *LibSQLStore) upsertRun(ctx context.Context, run *schema.Run) error {
	input, err := nullableJSON(run.Input)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "marshal run input: %v", err).WithCause(err)
	}
	outputs, err := nullableJSON(run.Outputs)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "marshal run outputs: %v", err).WithCause(err)
	}
	log, err := nullableJSON(run.Log)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "marshal run log: %v", err).WithCause(err)
	}
	runErr, err := nullableJSON(run.Error)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "marshal run error: %v", err).WithCause(err)
	}

	var endedAt any
	if run.EndedAt != nil {
		endedAt = run.EndedAt.UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, workflow_id, status, input, outputs, log, error, started_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET
		   status=excluded.status, outputs=excluded.outputs, log=excluded.log,
		   error=excluded.error, ended_at=excluded.ended_at`,
		run.RunID, run.WorkflowID, string(run.Status), input, outputs, log, runErr,
		run.StartedAt.UTC(), endedAt)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "upsert run %q: %v", run.RunID, err).WithCause(err)
	}
	return nil
}

func (s *LibSQLStore) appendEvent(ctx context.Context, runID, eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "marshal event payload: %v", err).WithCause(err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO run_events (event_id, run_id, sequence, type, payload, created_at)
		 VALUES (?, ?, COALESCE((SELECT MAX(sequence) FROM run_events WHERE run_id = ?), 0) + 1, ?, ?, ?)`,
		uuid.NewString(), runID, runID, eventType, string(data), time.Now().UTC())
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "append event for run %q: %v", runID, err).WithCause(err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*schema.Run, error) {
	run := &schema.Run{}
	var status string
	var input, outputs, log, runErr sql.NullString
	var endedAt sql.NullTime

	err := row.Scan(&run.RunID, &run.WorkflowID, &status, &input, &outputs, &log, &runErr,
		&run.StartedAt, &endedAt)
	if err != nil {
		return nil, err
	}
	run.Status = schema.RunStatus(status)
	if input.Valid && input.String != "" {
		_ = json.Unmarshal([]byte(input.String), &run.Input)
	}
	if outputs.Valid && outputs.String != "" {
		_ = json.Unmarshal([]byte(outputs.String), &run.Outputs)
	}
	if log.Valid && log.String != "" {
		_ = json.Unmarshal([]byte(log.String), &run.Log)
	}
	if runErr.Valid && runErr.String != "" && runErr.String != "null" {
		run.Error = &schema.EngineError{}
		_ = json.Unmarshal([]byte(runErr.String), run.Error)
	}
	if endedAt.Valid {
		run.EndedAt = &endedAt.Time
	}
	return run, nil
}

// nullableJSON marshals v, returning nil for nil values so the column
// stores SQL NULL instead of the string "null".
func nullableJSON(v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case *schema.EngineError:
		if val == nil {
			return nil, nil
		}
	case map[string]any:
		if val == nil {
			return nil, nil
		}
	case []schema.StepResult:
		if val == nil {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
