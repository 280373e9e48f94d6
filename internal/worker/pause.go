package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/hegna/taskcore/internal/resilience"
	"github.com/hegna/taskcore/internal/task"
)

// Pause suspends a task mid-flight. A checkpoint capturing the state
// before suspension, the full message history and the partial artifacts
// is written into the task metadata, and the state moves to suspended,
// both in one storage operation. Only pausable states may be paused.
func (p *Pipeline) Pause(ctx context.Context, taskID string) (*task.Task, error) {
	mu := p.taskLock(taskID)
	mu.Lock()
	defer mu.Unlock()

	t, err := p.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !t.State.Pausable() {
		return nil, &task.NotPausableError{State: t.State}
	}

	from := t.State
	t.SetCheckpoint(&task.Checkpoint{
		PausedFromState: from,
		History:         t.History,
		Artifacts:       t.Artifacts,
		PausedAt:        time.Now().UTC(),
	})
	if err := t.Transition(task.Suspended); err != nil {
		return nil, err
	}
	if err := p.persist(ctx, t); err != nil {
		return nil, err
	}
	p.notify(t.ID, from, task.Suspended)
	slog.Info("task paused", "task", t.ID, "from", from)
	return t, nil
}

// Resume brings a suspended task back. The checkpoint is consumed:
// history and partial artifacts are restored from it, the execution
// input is reconstructed from the last checkpointed message, the
// checkpoint is cleared and the state moves to resumed, again in one
// storage operation. Continuation then proceeds through Run or Stream
// as if freshly submitted.
func (p *Pipeline) Resume(ctx context.Context, taskID string) (*task.Task, error) {
	mu := p.taskLock(taskID)
	mu.Lock()
	defer mu.Unlock()

	t, err := p.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.State != task.Suspended {
		return nil, &task.NotResumableError{State: t.State}
	}

	cp, err := p.loadCheckpoint(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if cp != nil {
		if len(cp.History) > 0 {
			t.History = cp.History
		}
		if len(cp.Artifacts) > 0 {
			t.Artifacts = cp.Artifacts
		}
	} else {
		slog.Warn("resuming task without checkpoint", "task", t.ID)
	}

	t.ClearCheckpoint()
	if err := t.Transition(task.Resumed); err != nil {
		return nil, err
	}
	if err := p.persist(ctx, t); err != nil {
		return nil, err
	}
	p.notify(t.ID, task.Suspended, task.Resumed)
	slog.Info("task resumed", "task", t.ID)
	return t, nil
}

func (p *Pipeline) loadCheckpoint(ctx context.Context, id string) (*task.Checkpoint, error) {
	return resilience.Call(p.guard, ctx, resilience.CategoryStorage, "load_checkpoint",
		func(ctx context.Context) (*task.Checkpoint, error) {
			return p.store.LoadCheckpoint(ctx, id)
		})
}
