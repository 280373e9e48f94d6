package worker

import (
	"context"
	"iter"

	"github.com/hegna/taskcore/internal/task"
)

// Executor is the external computation invoked per task. The returned
// sequence yields output chunks in order: a batch computation yields its
// full result once, a streaming one yields many partial results. Both
// shapes are handled transparently by the pipeline. Iteration stops at
// the first non-nil error.
type Executor interface {
	Invoke(ctx context.Context, history []task.Message) iter.Seq2[string, error]
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, history []task.Message) iter.Seq2[string, error]

func (f ExecutorFunc) Invoke(ctx context.Context, history []task.Message) iter.Seq2[string, error] {
	return f(ctx, history)
}

// BatchExecutor adapts a single-result computation to the Executor
// contract by yielding its result as one chunk.
func BatchExecutor(fn func(ctx context.Context, history []task.Message) (string, error)) Executor {
	return ExecutorFunc(func(ctx context.Context, history []task.Message) iter.Seq2[string, error] {
		return func(yield func(string, error) bool) {
			text, err := fn(ctx, history)
			if err != nil {
				yield("", err)
				return
			}
			yield(text, nil)
		}
	})
}

// Outcome is the three-way classification of a computation's output.
type Outcome int

const (
	// OutcomeFinal - the output is the final answer.
	OutcomeFinal Outcome = iota
	// OutcomeNeedsInput - the computation is waiting for more input.
	OutcomeNeedsInput
	// OutcomeFailed - the output describes an error condition.
	OutcomeFailed
)

// Classification is the result of classifying a raw computation output.
type Classification struct {
	Outcome Outcome
	Reason  string
}

// Classifier decides whether a computation's raw output is a final
// answer, a request for more input, or an error. The core never pattern
// matches on output content itself; classification is always delegated.
type Classifier interface {
	Classify(text string) Classification
}

// ClassifierFunc adapts a function to the Classifier interface.
type ClassifierFunc func(text string) Classification

func (f ClassifierFunc) Classify(text string) Classification { return f(text) }

// FinalClassifier treats every output as a final answer. It is the
// default when no classifier is configured.
func FinalClassifier() Classifier {
	return ClassifierFunc(func(string) Classification {
		return Classification{Outcome: OutcomeFinal}
	})
}

// Signer produces identity metadata for a completed artifact's content.
// It is invoked exactly once per completed run or stream, never per chunk.
type Signer interface {
	Sign(content []byte) (map[string]any, error)
}

// Settler performs payment settlement after successful completion.
// Settlement failure is logged by the pipeline and never fails the task.
type Settler interface {
	Settle(ctx context.Context, t *task.Task) error
}

// Observer receives lifecycle notifications for task state changes.
type Observer interface {
	TaskStateChanged(taskID string, from, to task.State)
}
