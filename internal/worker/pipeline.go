// Package worker drives task execution: it owns every task state
// transition, invokes the external computation in atomic or streaming
// mode, and uses the checkpoint subsystem to suspend and resume tasks.
// All storage and computation calls pass through the resilience guard.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/hegna/taskcore/internal/resilience"
	"github.com/hegna/taskcore/internal/store"
	"github.com/hegna/taskcore/internal/task"
)

// errSuperseded signals that the task state changed externally (cancel or
// pause from another caller) since this invocation loaded it. The
// invocation abandons its own transition and yields to the external one.
var errSuperseded = errors.New("task state superseded externally")

// ExecutionError reports a failed task execution, carrying the
// underlying cause (computation error, storage error or open circuit).
type ExecutionError struct {
	TaskID string
	Cause  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("task %s execution failed: %v", e.TaskID, e.Cause)
}

func (e *ExecutionError) Unwrap() error { return e.Cause }

// Config tunes message history construction.
type Config struct {
	// HistoryLength caps the number of messages passed to the executor;
	// zero means unlimited. The most recent messages are kept.
	HistoryLength int
	// SystemPrompt, when set, is injected at the head of the history.
	SystemPrompt string
}

// Options carries the optional collaborators of a Pipeline.
type Options struct {
	Guard      *resilience.Guard
	Classifier Classifier
	Signer     Signer
	Settler    Settler
	Observer   Observer
}

// Pipeline orchestrates one task's execution. Mutations to one task's
// record are serialized through a per-task lock; the lock is never held
// across a computation or settlement call boundary.
type Pipeline struct {
	store      store.Store
	executor   Executor
	cfg        Config
	guard      *resilience.Guard
	classifier Classifier
	signer     Signer
	settler    Settler
	observer   Observer

	locks sync.Map // task id → *sync.Mutex
}

// New creates a Pipeline. A nil Options.Classifier defaults to treating
// every output as final; nil Signer, Settler and Observer are skipped.
func New(st store.Store, executor Executor, cfg Config, opts Options) *Pipeline {
	classifier := opts.Classifier
	if classifier == nil {
		classifier = FinalClassifier()
	}
	return &Pipeline{
		store:      st,
		executor:   executor,
		cfg:        cfg,
		guard:      opts.Guard,
		classifier: classifier,
		signer:     opts.Signer,
		settler:    opts.Settler,
		observer:   opts.Observer,
	}
}

// Run executes a task atomically: it drives the task to a terminal or
// input-required state and persists the full result. A wrapped error
// from the resilience layer is treated like a computation error: the
// task becomes failed and the caller is informed synchronously.
func (p *Pipeline) Run(ctx context.Context, taskID string) (*task.Task, error) {
	t, err := p.start(ctx, taskID)
	if err != nil {
		if errors.Is(err, errSuperseded) {
			return p.loadTask(ctx, taskID)
		}
		return nil, err
	}

	history, err := p.buildHistory(ctx, t)
	if err != nil {
		return p.failTask(ctx, t, err)
	}

	text, err := p.invoke(ctx, history)
	if err != nil {
		return p.failTask(ctx, t, err)
	}

	return p.finish(ctx, t, text)
}

// start validates the task is startable and transitions it to working
// under the per-task lock.
func (p *Pipeline) start(ctx context.Context, taskID string) (*task.Task, error) {
	mu := p.taskLock(taskID)
	mu.Lock()
	defer mu.Unlock()

	t, err := p.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !startable(t.State) {
		return nil, &task.NotStartableError{State: t.State}
	}
	if err := p.transitionLocked(ctx, t, task.Working); err != nil {
		return nil, err
	}
	return t, nil
}

func startable(s task.State) bool {
	switch s {
	case task.Submitted, task.Resumed, task.InputRequired:
		return true
	}
	return false
}

// finish classifies the computation output and persists the outcome.
func (p *Pipeline) finish(ctx context.Context, t *task.Task, text string) (*task.Task, error) {
	c := p.classifier.Classify(text)
	switch c.Outcome {
	case OutcomeNeedsInput:
		t.History = append(t.History, task.TextMessage(task.RoleAgent, text))
		if err := p.transition(ctx, t, task.InputRequired); err != nil {
			return p.afterTransitionError(ctx, t, err)
		}
		return t, nil

	case OutcomeFailed:
		reason := c.Reason
		if reason == "" {
			reason = "computation reported failure"
		}
		return p.failTask(ctx, t, errors.New(reason))

	default:
		artifact, err := p.buildArtifact(t, text)
		if err != nil {
			return p.failTask(ctx, t, err)
		}
		t.Artifacts = append(t.Artifacts, artifact)
		t.History = append(t.History, task.TextMessage(task.RoleAgent, text))
		p.settle(ctx, t)
		if err := p.transition(ctx, t, task.Completed); err != nil {
			return p.afterTransitionError(ctx, t, err)
		}
		slog.Info("task completed", "task", t.ID)
		return t, nil
	}
}

// failTask persists the failed state with the error captured in metadata
// and informs the caller via ExecutionError.
func (p *Pipeline) failTask(ctx context.Context, t *task.Task, cause error) (*task.Task, error) {
	if t.Metadata == nil {
		t.Metadata = make(map[string]any)
	}
	t.Metadata["error"] = cause.Error()
	if err := p.transition(ctx, t, task.Failed); err != nil {
		if errors.Is(err, errSuperseded) {
			return p.loadTask(ctx, t.ID)
		}
		slog.Error("failed to persist task failure", "task", t.ID, "error", err)
	}
	slog.Warn("task failed", "task", t.ID, "error", cause)
	return t, &ExecutionError{TaskID: t.ID, Cause: cause}
}

func (p *Pipeline) afterTransitionError(ctx context.Context, t *task.Task, err error) (*task.Task, error) {
	if errors.Is(err, errSuperseded) {
		return p.loadTask(ctx, t.ID)
	}
	return p.failTask(ctx, t, err)
}

// Cancel moves a non-terminal task to canceled. An in-flight invocation
// of the same task observes the cancellation at its next storage write
// and abandons further processing.
func (p *Pipeline) Cancel(ctx context.Context, taskID string) (*task.Task, error) {
	mu := p.taskLock(taskID)
	mu.Lock()
	defer mu.Unlock()

	t, err := p.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.State.Terminal() {
		return nil, &task.NotCancelableError{State: t.State}
	}
	from := t.State
	if err := t.Transition(task.Canceled); err != nil {
		return nil, err
	}
	if err := p.persist(ctx, t); err != nil {
		return nil, err
	}
	p.notify(t.ID, from, task.Canceled)
	slog.Info("task canceled", "task", t.ID, "from", from)
	return t, nil
}

// buildHistory assembles the complete message history for the executor:
// histories of earlier tasks sharing the context, then this task's own
// history, truncated to the configured length, with the optional system
// prompt injected at the head.
func (p *Pipeline) buildHistory(ctx context.Context, t *task.Task) ([]task.Message, error) {
	siblings, err := resilience.Call(p.guard, ctx, resilience.CategoryStorage, "list_tasks_by_context",
		func(ctx context.Context) ([]*task.Task, error) {
			return p.store.ListTasksByContext(ctx, t.ContextID)
		})
	if err != nil {
		return nil, fmt.Errorf("failed to load context history: %w", err)
	}

	var history []task.Message
	for _, sibling := range siblings {
		if sibling.ID == t.ID {
			continue
		}
		history = append(history, sibling.History...)
	}
	history = append(history, t.History...)

	if p.cfg.HistoryLength > 0 && len(history) > p.cfg.HistoryLength {
		history = history[len(history)-p.cfg.HistoryLength:]
	}
	if p.cfg.SystemPrompt != "" {
		history = append([]task.Message{task.TextMessage(task.RoleSystem, p.cfg.SystemPrompt)}, history...)
	}
	return history, nil
}

// invoke runs the external computation and concatenates its output.
func (p *Pipeline) invoke(ctx context.Context, history []task.Message) (string, error) {
	return resilience.Call(p.guard, ctx, resilience.CategoryWorker, "invoke",
		func(ctx context.Context) (string, error) {
			var sb strings.Builder
			for chunk, err := range p.executor.Invoke(ctx, history) {
				if err != nil {
					return "", err
				}
				sb.WriteString(chunk)
			}
			return sb.String(), nil
		})
}

// buildArtifact constructs the final artifact for a completed execution,
// signed exactly once. The artifact id is derived from the task so that
// atomic and streaming execution produce identical records.
func (p *Pipeline) buildArtifact(t *task.Task, text string) (task.Artifact, error) {
	a := task.Artifact{
		ID:    fmt.Sprintf("%s-artifact-%d", t.ID, len(t.Artifacts)),
		Name:  "result",
		Parts: []task.Part{{Kind: task.PartText, Text: text}},
	}
	if p.signer != nil {
		meta, err := p.signer.Sign([]byte(text))
		if err != nil {
			return task.Artifact{}, fmt.Errorf("failed to sign artifact: %w", err)
		}
		a.Metadata = meta
	}
	return a, nil
}

// settle attempts payment settlement. Failure is logged, never fatal.
func (p *Pipeline) settle(ctx context.Context, t *task.Task) {
	if p.settler == nil {
		return
	}
	err := p.guard.Do(ctx, resilience.CategoryAPI, "settle", func(ctx context.Context) error {
		return p.settler.Settle(ctx, t)
	})
	if err != nil {
		slog.Warn("payment settlement failed", "task", t.ID, "error", err)
	}
}

// transition serializes the write through the per-task lock, so a
// concurrent cancel or pause either lands before the reload (and is
// observed) or waits until this write is persisted (and then fails its
// own precondition). Without the lock a cancel landing between the
// reload and the persist would be silently overwritten.
func (p *Pipeline) transition(ctx context.Context, t *task.Task, to task.State) error {
	mu := p.taskLock(t.ID)
	mu.Lock()
	defer mu.Unlock()
	return p.transitionLocked(ctx, t, to)
}

// transitionLocked reloads the task's persisted state before writing, so
// an external cancel or pause is observed at the write boundary, then
// validates the edge, persists and notifies observers. The caller must
// hold the task lock.
func (p *Pipeline) transitionLocked(ctx context.Context, t *task.Task, to task.State) error {
	current, err := p.loadTask(ctx, t.ID)
	if err != nil {
		return err
	}
	if current.State != t.State {
		t.State = current.State
		return fmt.Errorf("%w: task %s is now %q", errSuperseded, t.ID, current.State)
	}
	from := t.State
	if err := t.Transition(to); err != nil {
		return err
	}
	if err := p.persist(ctx, t); err != nil {
		t.State = from
		return err
	}
	p.notify(t.ID, from, to)
	return nil
}

func (p *Pipeline) loadTask(ctx context.Context, id string) (*task.Task, error) {
	return resilience.Call(p.guard, ctx, resilience.CategoryStorage, "get_task",
		func(ctx context.Context) (*task.Task, error) {
			return p.store.GetTask(ctx, id)
		})
}

func (p *Pipeline) persist(ctx context.Context, t *task.Task) error {
	return p.guard.Do(ctx, resilience.CategoryStorage, "update_task", func(ctx context.Context) error {
		return p.store.UpdateTask(ctx, t)
	})
}

func (p *Pipeline) notify(taskID string, from, to task.State) {
	if p.observer != nil {
		p.observer.TaskStateChanged(taskID, from, to)
	}
}

func (p *Pipeline) taskLock(id string) *sync.Mutex {
	v, _ := p.locks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}
