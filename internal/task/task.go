// Package task defines the task record, its lifecycle state machine and
// the typed errors surfaced when a transition is not legal. It is pure
// data and transition logic; persistence and execution live elsewhere.
package task

import (
	"time"
)

// State is the lifecycle state of a task.
type State string

const (
	Submitted     State = "submitted"
	Working       State = "working"
	InputRequired State = "input-required"
	Completed     State = "completed"
	Failed        State = "failed"
	Canceled      State = "canceled"
	Rejected      State = "rejected"
	Suspended     State = "suspended"
	Resumed       State = "resumed"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser   Role = "user"
	RoleAgent  Role = "agent"
	RoleSystem Role = "system"
)

// PartKind discriminates the part union. The core only ever concatenates
// text parts; other kinds are carried opaquely.
type PartKind string

const (
	PartText PartKind = "text"
)

// Part is one typed element of a message or artifact.
type Part struct {
	Kind PartKind `json:"kind"`
	Text string   `json:"text,omitempty"`
}

// Message is one entry in a task's conversation history.
type Message struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// Artifact is a named output produced by a task.
type Artifact struct {
	ID       string         `json:"id"`
	Name     string         `json:"name,omitempty"`
	Parts    []Part         `json:"parts"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Task is the unit of work. State is mutated only by the worker pipeline;
// Metadata is owned by the pipeline and never interpreted by storage.
type Task struct {
	ID        string         `json:"id"`
	ContextID string         `json:"context_id"`
	State     State          `json:"state"`
	History   []Message      `json:"history"`
	Artifacts []Artifact     `json:"artifacts"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// New creates a task in the submitted state with the given initial message.
func New(id, contextID string, input Message) *Task {
	now := time.Now().UTC()
	return &Task{
		ID:        id,
		ContextID: contextID,
		State:     Submitted,
		History:   []Message{input},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TextMessage builds a single-part text message.
func TextMessage(role Role, text string) Message {
	return Message{Role: role, Parts: []Part{{Kind: PartText, Text: text}}}
}

// Text concatenates the text parts of a message.
func (m Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if p.Kind == PartText {
			out += p.Text
		}
	}
	return out
}

// Terminal reports whether no further transition is permitted from s.
func (s State) Terminal() bool {
	switch s {
	case Completed, Failed, Canceled, Rejected:
		return true
	}
	return false
}

// Pausable reports whether a pause request is legal from s.
func (s State) Pausable() bool {
	switch s {
	case Submitted, Working, InputRequired:
		return true
	}
	return false
}

// transitions lists the legal edges of the task state machine. Cancel and
// pause edges are handled separately since they apply to state classes.
var transitions = map[State][]State{
	Submitted:     {Working},
	Working:       {Completed, Failed, InputRequired},
	InputRequired: {Working},
	Suspended:     {Resumed},
	Resumed:       {Working},
}

// CanTransition reports whether from → to is a legal edge.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == Canceled {
		return true
	}
	if to == Suspended {
		return from.Pausable()
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition mutates the task state after validating the edge.
func (t *Task) Transition(to State) error {
	if !CanTransition(t.State, to) {
		return &TransitionError{From: t.State, To: to}
	}
	t.State = to
	return nil
}
