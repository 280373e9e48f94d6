package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hegna/taskcore/internal/resilience"
	"github.com/hegna/taskcore/internal/task"
)

// Stream executes a task incrementally. The caller receives a live event
// sequence: a working status event, zero or more appended artifact
// chunks sharing one artifact id, the final identity-signed artifact
// marked last_chunk, and a terminal status event. Only the final signed
// artifact and the terminal task record are persisted, once, after the
// computation's output is exhausted; raw chunks never reach storage.
//
// For identical computation output, the final task record is identical
// to the one produced by Run.
func (p *Pipeline) Stream(ctx context.Context, taskID string) (<-chan Event, error) {
	t, err := p.start(ctx, taskID)
	if err != nil {
		if errors.Is(err, errSuperseded) {
			cur, loadErr := p.loadTask(ctx, taskID)
			if loadErr != nil {
				return nil, loadErr
			}
			return nil, &task.NotStartableError{State: cur.State}
		}
		return nil, err
	}

	events := make(chan Event, 16)
	go p.streamTask(ctx, t, events)
	return events, nil
}

func (p *Pipeline) streamTask(ctx context.Context, t *task.Task, events chan<- Event) {
	defer close(events)

	emit := func(e Event) {
		select {
		case events <- e:
		case <-ctx.Done():
		}
	}

	emit(StatusEvent{TaskID: t.ID, ContextID: t.ContextID, State: task.Working})

	history, err := p.buildHistory(ctx, t)
	if err != nil {
		p.streamFail(ctx, t, err, emit)
		return
	}

	artifactID := fmt.Sprintf("%s-artifact-%d", t.ID, len(t.Artifacts))
	var chunks []string

	// The computation runs under the worker breaker but without retry:
	// chunks already delivered to the caller cannot be replayed.
	invokeErr := p.guard.DoOnce(ctx, resilience.CategoryWorker, "invoke", func(ctx context.Context) error {
		for chunk, err := range p.executor.Invoke(ctx, history) {
			if err != nil {
				return err
			}
			if chunk == "" {
				continue
			}
			chunks = append(chunks, chunk)
			emit(ArtifactEvent{
				TaskID:     t.ID,
				ContextID:  t.ContextID,
				ArtifactID: artifactID,
				Text:       chunk,
				Append:     true,
			})
		}
		return nil
	})
	if invokeErr != nil {
		p.streamFail(ctx, t, invokeErr, emit)
		return
	}

	full := strings.Join(chunks, "")
	c := p.classifier.Classify(full)
	switch c.Outcome {
	case OutcomeNeedsInput:
		t.History = append(t.History, task.TextMessage(task.RoleAgent, full))
		if err := p.transition(ctx, t, task.InputRequired); err != nil {
			p.streamTransitionFail(ctx, t, err, emit)
			return
		}
		emit(StatusEvent{TaskID: t.ID, ContextID: t.ContextID, State: task.InputRequired, Final: true})
		return

	case OutcomeFailed:
		reason := c.Reason
		if reason == "" {
			reason = "computation reported failure"
		}
		p.streamFail(ctx, t, errors.New(reason), emit)
		return
	}

	artifact, err := p.buildArtifact(t, full)
	if err != nil {
		p.streamFail(ctx, t, err, emit)
		return
	}
	t.Artifacts = append(t.Artifacts, artifact)
	t.History = append(t.History, task.TextMessage(task.RoleAgent, full))
	p.settle(ctx, t)
	if err := p.transition(ctx, t, task.Completed); err != nil {
		p.streamTransitionFail(ctx, t, err, emit)
		return
	}

	emit(ArtifactEvent{
		TaskID:     t.ID,
		ContextID:  t.ContextID,
		ArtifactID: artifact.ID,
		Text:       full,
		LastChunk:  true,
	})
	emit(StatusEvent{TaskID: t.ID, ContextID: t.ContextID, State: task.Completed, Final: true})
	slog.Info("task stream completed", "task", t.ID, "chunks", len(chunks))
}

// streamFail persists the failure and always delivers the failed event
// to the connected caller, even when persisting the failure itself
// failed (that is logged by failTask, never silently dropped).
func (p *Pipeline) streamFail(ctx context.Context, t *task.Task, cause error, emit func(Event)) {
	result, err := p.failTask(ctx, t, cause)
	if err == nil && result != nil && result.State != task.Failed {
		// Superseded externally (canceled or paused) while streaming.
		emit(StatusEvent{TaskID: t.ID, ContextID: t.ContextID, State: result.State, Final: true})
		return
	}
	emit(StatusEvent{TaskID: t.ID, ContextID: t.ContextID, State: task.Failed, Final: true, Error: cause.Error()})
}

func (p *Pipeline) streamTransitionFail(ctx context.Context, t *task.Task, err error, emit func(Event)) {
	if errors.Is(err, errSuperseded) {
		emit(StatusEvent{TaskID: t.ID, ContextID: t.ContextID, State: t.State, Final: true})
		return
	}
	p.streamFail(ctx, t, err, emit)
}
