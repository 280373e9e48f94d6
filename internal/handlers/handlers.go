// Package handlers maps inbound protocol operations onto the worker
// pipeline and the storage contract. It is a thin layer: every state
// decision belongs to the pipeline, every persistence detail to the
// store. Wire parsing and authentication live outside this package.
package handlers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/hegna/taskcore/internal/store"
	"github.com/hegna/taskcore/internal/task"
	"github.com/hegna/taskcore/internal/worker"
)

// Handlers exposes the task operations of the protocol surface.
type Handlers struct {
	store    store.Store
	pipeline *worker.Pipeline
}

// New creates the handler set.
func New(st store.Store, pipeline *worker.Pipeline) *Handlers {
	return &Handlers{store: st, pipeline: pipeline}
}

// SubmitTask creates a task in the submitted state under the given
// context and drives it through the pipeline to a terminal or
// input-required state. An empty contextID starts a fresh context.
func (h *Handlers) SubmitTask(ctx context.Context, contextID string, input task.Message) (*task.Task, error) {
	t, err := h.CreateTask(ctx, contextID, input)
	if err != nil {
		return nil, err
	}
	return h.pipeline.Run(ctx, t.ID)
}

// ContinueTask appends new input to a task waiting in input-required
// and re-runs it.
func (h *Handlers) ContinueTask(ctx context.Context, taskID string, input task.Message) (*task.Task, error) {
	t, err := h.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.State != task.InputRequired {
		return nil, &task.NotStartableError{State: t.State}
	}
	t.History = append(t.History, input)
	if err := h.store.UpdateTask(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to record task input: %w", err)
	}
	return h.pipeline.Run(ctx, t.ID)
}

// GetTask returns the task record.
func (h *Handlers) GetTask(ctx context.Context, taskID string) (*task.Task, error) {
	return h.store.GetTask(ctx, taskID)
}

// CancelTask cancels a non-terminal task.
func (h *Handlers) CancelTask(ctx context.Context, taskID string) (*task.Task, error) {
	return h.pipeline.Cancel(ctx, taskID)
}

// PauseTask suspends a task, recording its checkpoint.
func (h *Handlers) PauseTask(ctx context.Context, taskID string) (*task.Task, error) {
	return h.pipeline.Pause(ctx, taskID)
}

// ResumeTask resumes a suspended task and continues execution to a
// terminal or input-required state.
func (h *Handlers) ResumeTask(ctx context.Context, taskID string) (*task.Task, error) {
	if _, err := h.pipeline.Resume(ctx, taskID); err != nil {
		return nil, err
	}
	return h.pipeline.Run(ctx, taskID)
}

// CreateTask records a task in the submitted state without starting
// execution. Used by callers that follow up with StreamTask.
func (h *Handlers) CreateTask(ctx context.Context, contextID string, input task.Message) (*task.Task, error) {
	if contextID == "" {
		contextID = uuid.NewString()
	}
	t := task.New(uuid.NewString(), contextID, input)
	if err := h.store.CreateTask(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to submit task: %w", err)
	}
	slog.Info("task submitted", "task", t.ID, "context", t.ContextID)
	return t, nil
}

// StreamTask executes a startable task in streaming mode and returns
// its live event sequence.
func (h *Handlers) StreamTask(ctx context.Context, taskID string) (<-chan worker.Event, error) {
	return h.pipeline.Stream(ctx, taskID)
}
