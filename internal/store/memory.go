package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hegna/taskcore/internal/task"
)

// Memory is an in-process Store backed by a map. It offers no durability
// across restarts but exposes the same semantics as the SQL store; tasks
// are deep-copied through JSON on every read and write so callers never
// share mutable state with the store, and metadata round-trips the same
// way it would through a JSONB column.
type Memory struct {
	mu    sync.RWMutex
	tasks map[string]*task.Task
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{tasks: make(map[string]*task.Task)}
}

func cloneTask(t *task.Task) (*task.Task, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("failed to encode task: %w", err)
	}
	out := &task.Task{}
	if err := json.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("failed to decode task: %w", err)
	}
	return out, nil
}

// CreateTask persists a new task record.
func (m *Memory) CreateTask(_ context.Context, t *task.Task) error {
	cp, err := cloneTask(t)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tasks[t.ID]; exists {
		return fmt.Errorf("task %s already exists", t.ID)
	}
	m.tasks[t.ID] = cp
	return nil
}

// GetTask loads a task by id.
func (m *Memory) GetTask(_ context.Context, id string) (*task.Task, error) {
	m.mu.RLock()
	t, ok := m.tasks[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrTaskNotFound
	}
	return cloneTask(t)
}

// UpdateTask persists the full task record and refreshes updated_at.
func (m *Memory) UpdateTask(_ context.Context, t *task.Task) error {
	t.UpdatedAt = time.Now().UTC()
	cp, err := cloneTask(t)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[t.ID]; !ok {
		return ErrTaskNotFound
	}
	m.tasks[t.ID] = cp
	return nil
}

// ListTasksByContext returns every task sharing a context id, oldest first.
func (m *Memory) ListTasksByContext(_ context.Context, contextID string) ([]*task.Task, error) {
	m.mu.RLock()
	var out []*task.Task
	for _, t := range m.tasks {
		if t.ContextID == contextID {
			c, err := cloneTask(t)
			if err != nil {
				m.mu.RUnlock()
				return nil, err
			}
			out = append(out, c)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// SaveCheckpoint writes the checkpoint into the task's metadata.
func (m *Memory) SaveCheckpoint(ctx context.Context, taskID string, cp *task.Checkpoint) error {
	return m.mutate(ctx, taskID, func(t *task.Task) { t.SetCheckpoint(cp) })
}

// LoadCheckpoint returns the task's checkpoint, or nil when none is set.
func (m *Memory) LoadCheckpoint(ctx context.Context, taskID string) (*task.Checkpoint, error) {
	t, err := m.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return t.GetCheckpoint()
}

// ClearCheckpoint removes the checkpoint from the task's metadata.
func (m *Memory) ClearCheckpoint(ctx context.Context, taskID string) error {
	return m.mutate(ctx, taskID, func(t *task.Task) { t.ClearCheckpoint() })
}

func (m *Memory) mutate(_ context.Context, taskID string, fn func(*task.Task)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	fn(t)
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// Close is a no-op for the in-memory store.
func (m *Memory) Close() error {
	return nil
}

var _ Store = (*Memory)(nil)
