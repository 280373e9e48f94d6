package task

import (
	"encoding/json"
	"fmt"
	"time"
)

// checkpointKey is the single metadata slot the checkpoint lives in.
// Nothing else in the system reads or writes this key.
const checkpointKey = "checkpoint"

// Checkpoint is a snapshot of a task's in-flight state taken on pause.
// It is created only by Pause, consumed and cleared only by Resume, and
// never exists outside the task metadata.
type Checkpoint struct {
	PausedFromState State      `json:"paused_from_state"`
	History         []Message  `json:"message_history"`
	Artifacts       []Artifact `json:"artifacts,omitempty"`
	PausedAt        time.Time  `json:"paused_at"`
}

// SetCheckpoint stores cp in the task metadata.
func (t *Task) SetCheckpoint(cp *Checkpoint) {
	if t.Metadata == nil {
		t.Metadata = make(map[string]any)
	}
	t.Metadata[checkpointKey] = cp
}

// ClearCheckpoint removes the checkpoint from the task metadata.
func (t *Task) ClearCheckpoint() {
	delete(t.Metadata, checkpointKey)
}

// GetCheckpoint returns the checkpoint stored in the task metadata, or nil
// if none is set. Metadata that has round-tripped through JSON storage
// comes back as a generic map, so both representations are handled.
func (t *Task) GetCheckpoint() (*Checkpoint, error) {
	raw, ok := t.Metadata[checkpointKey]
	if !ok || raw == nil {
		return nil, nil
	}
	switch v := raw.(type) {
	case *Checkpoint:
		return v, nil
	case Checkpoint:
		return &v, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("malformed checkpoint metadata: %w", err)
		}
		cp := &Checkpoint{}
		if err := json.Unmarshal(data, cp); err != nil {
			return nil, fmt.Errorf("malformed checkpoint metadata: %w", err)
		}
		return cp, nil
	}
}
