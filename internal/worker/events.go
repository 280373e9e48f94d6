package worker

import "github.com/hegna/taskcore/internal/task"

// Event is one element of a streaming execution's live event sequence.
type Event interface {
	event()
}

// StatusEvent announces a task state change to a streaming caller.
// Final marks the last event of the stream.
type StatusEvent struct {
	TaskID    string     `json:"task_id"`
	ContextID string     `json:"context_id"`
	State     task.State `json:"state"`
	Final     bool       `json:"final"`
	Error     string     `json:"error,omitempty"`
}

func (StatusEvent) event() {}

// ArtifactEvent carries one incremental chunk of streamed output. All
// chunks of one stream share a single artifact id; intermediate chunks
// are marked Append, the final signed content is marked LastChunk.
type ArtifactEvent struct {
	TaskID     string `json:"task_id"`
	ContextID  string `json:"context_id"`
	ArtifactID string `json:"artifact_id"`
	Text       string `json:"text"`
	Append     bool   `json:"append"`
	LastChunk  bool   `json:"last_chunk"`
}

func (ArtifactEvent) event() {}
