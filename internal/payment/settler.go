// Package payment settles completed tasks against an external
// facilitator. Settlement is strictly best-effort from the pipeline's
// point of view: a failed settlement is logged and the task outcome is
// unaffected.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hegna/taskcore/internal/task"
)

// HTTPSettler posts a settlement record to a facilitator endpoint.
type HTTPSettler struct {
	endpoint string
	client   *http.Client
}

// NewHTTPSettler creates a settler for the given facilitator endpoint.
func NewHTTPSettler(endpoint string) *HTTPSettler {
	return &HTTPSettler{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

type settlementRequest struct {
	TaskID    string    `json:"task_id"`
	ContextID string    `json:"context_id"`
	State     string    `json:"state"`
	SettledAt time.Time `json:"settled_at"`
}

// Settle reports the completed task to the facilitator.
func (s *HTTPSettler) Settle(ctx context.Context, t *task.Task) error {
	body, err := json.Marshal(settlementRequest{
		TaskID:    t.ID,
		ContextID: t.ContextID,
		State:     string(t.State),
		SettledAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode settlement: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build settlement request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("settlement request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("settlement rejected with status %d", resp.StatusCode)
	}
	return nil
}

// Noop is a settler that accepts everything. Used when payment is not
// configured.
type Noop struct{}

// Settle does nothing.
func (Noop) Settle(context.Context, *task.Task) error { return nil }
