package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/hegna/taskcore/internal/store/migrations"
	"github.com/hegna/taskcore/internal/task"
)

// SQL is the durable Store backed by Postgres. Task history, artifacts
// and metadata are stored as JSONB; the checkpoint lives inside the
// metadata column, so no schema objects beyond the tasks table exist.
type SQL struct {
	db *sql.DB
}

// Open connects to Postgres and runs the embedded goose migrations.
func Open(dsn string) (*SQL, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set dialect: %w", err)
	}
	if err := goose.Up(db, "."); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQL{db: db}, nil
}

// CreateTask persists a new task record.
func (s *SQL) CreateTask(ctx context.Context, t *task.Task) error {
	history, artifacts, metadata, err := encodeFields(t)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, context_id, state, history, artifacts, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, t.ID, t.ContextID, string(t.State), history, artifacts, metadata, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

// GetTask loads a task by id.
func (s *SQL) GetTask(ctx context.Context, id string) (*task.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, context_id, state, history, artifacts, metadata, created_at, updated_at
		FROM tasks
		WHERE id = $1
	`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return t, nil
}

// UpdateTask persists the full task record and refreshes updated_at.
func (s *SQL) UpdateTask(ctx context.Context, t *task.Task) error {
	t.UpdatedAt = time.Now().UTC()
	history, artifacts, metadata, err := encodeFields(t)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET state = $1, history = $2, artifacts = $3, metadata = $4, updated_at = $5
		WHERE id = $6
	`, string(t.State), history, artifacts, metadata, t.UpdatedAt, t.ID)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	if n == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// ListTasksByContext returns every task sharing a context id, oldest first.
func (s *SQL) ListTasksByContext(ctx context.Context, contextID string) ([]*task.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, context_id, state, history, artifacts, metadata, created_at, updated_at
		FROM tasks
		WHERE context_id = $1
		ORDER BY created_at
	`, contextID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var out []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SaveCheckpoint writes the checkpoint into the task's metadata column.
func (s *SQL) SaveCheckpoint(ctx context.Context, taskID string, cp *task.Checkpoint) error {
	return s.mutateMetadata(ctx, taskID, func(t *task.Task) { t.SetCheckpoint(cp) })
}

// LoadCheckpoint returns the task's checkpoint, or nil when none is set.
func (s *SQL) LoadCheckpoint(ctx context.Context, taskID string) (*task.Checkpoint, error) {
	t, err := s.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return t.GetCheckpoint()
}

// ClearCheckpoint removes the checkpoint from the task's metadata column.
func (s *SQL) ClearCheckpoint(ctx context.Context, taskID string) error {
	return s.mutateMetadata(ctx, taskID, func(t *task.Task) { t.ClearCheckpoint() })
}

func (s *SQL) mutateMetadata(ctx context.Context, taskID string, fn func(*task.Task)) error {
	t, err := s.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	fn(t)
	metadata, err := encodeJSON(t.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE tasks SET metadata = $1, updated_at = $2 WHERE id = $3
	`, metadata, time.Now().UTC(), taskID)
	if err != nil {
		return fmt.Errorf("failed to update task metadata: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQL) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*task.Task, error) {
	var (
		t         task.Task
		state     string
		history   []byte
		artifacts []byte
		metadata  []byte
	)
	err := row.Scan(&t.ID, &t.ContextID, &state, &history, &artifacts, &metadata, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.State = task.State(state)
	if err := json.Unmarshal(history, &t.History); err != nil {
		return nil, fmt.Errorf("failed to decode history: %w", err)
	}
	if err := json.Unmarshal(artifacts, &t.Artifacts); err != nil {
		return nil, fmt.Errorf("failed to decode artifacts: %w", err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &t.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}
	return &t, nil
}

func encodeFields(t *task.Task) (history, artifacts, metadata []byte, err error) {
	if history, err = encodeJSONList(t.History); err != nil {
		return nil, nil, nil, err
	}
	if artifacts, err = encodeJSONList(t.Artifacts); err != nil {
		return nil, nil, nil, err
	}
	if metadata, err = encodeJSON(t.Metadata); err != nil {
		return nil, nil, nil, err
	}
	return history, artifacts, metadata, nil
}

func encodeJSONList[T any](v []T) ([]byte, error) {
	if v == nil {
		return []byte("[]"), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode task field: %w", err)
	}
	return data, nil
}

func encodeJSON(v map[string]any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode task metadata: %w", err)
	}
	return data, nil
}

var _ Store = (*SQL)(nil)
