// Package store provides persistence for task records and checkpoints.
// Two backends implement the same contract: an in-memory map for
// single-process use and a Postgres-backed store that survives restarts.
// The backends differ only in durability, never in observable semantics.
package store

import (
	"context"
	"errors"

	"github.com/hegna/taskcore/internal/task"
)

// ErrTaskNotFound is returned when a task id is unknown to the store.
var ErrTaskNotFound = errors.New("task not found")

// Store is the persistence contract used by the worker pipeline and the
// protocol handlers. Storage never interprets task metadata; the
// checkpoint methods read and write one structured metadata field.
type Store interface {
	// CreateTask persists a new task record.
	CreateTask(ctx context.Context, t *task.Task) error

	// GetTask loads a task by id, or ErrTaskNotFound.
	GetTask(ctx context.Context, id string) (*task.Task, error)

	// UpdateTask persists the full task record (state, history, artifacts,
	// metadata) and refreshes updated_at.
	UpdateTask(ctx context.Context, t *task.Task) error

	// ListTasksByContext returns every task sharing a context id, oldest
	// first. Used for reference-task history merging.
	ListTasksByContext(ctx context.Context, contextID string) ([]*task.Task, error)

	// SaveCheckpoint writes the checkpoint into the task's metadata.
	SaveCheckpoint(ctx context.Context, taskID string, cp *task.Checkpoint) error

	// LoadCheckpoint returns the task's checkpoint, or nil when none is set.
	LoadCheckpoint(ctx context.Context, taskID string) (*task.Checkpoint, error)

	// ClearCheckpoint removes the checkpoint from the task's metadata.
	ClearCheckpoint(ctx context.Context, taskID string) error

	Close() error
}
