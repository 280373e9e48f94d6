package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hegna/taskcore/internal/store"
	"github.com/hegna/taskcore/internal/task"
)

func TestPauseCreatesCheckpoint(t *testing.T) {
	ctx := context.Background()
	p, st := newTestPipeline(t, &chunkExecutor{chunks: []string{"4"}}, Options{})
	createTask(t, st, "t1", "ctx", "question")

	got, err := p.Pause(ctx, "t1")
	if err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if got.State != task.Suspended {
		t.Errorf("state = %q, want %q", got.State, task.Suspended)
	}

	persisted, err := st.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	cp, err := persisted.GetCheckpoint()
	if err != nil {
		t.Fatalf("GetCheckpoint: %v", err)
	}
	if cp == nil {
		t.Fatal("pause should persist a checkpoint")
	}
	if cp.PausedFromState != task.Submitted {
		t.Errorf("PausedFromState = %q, want %q", cp.PausedFromState, task.Submitted)
	}
	if len(cp.History) != 1 || cp.History[0].Text() != "question" {
		t.Errorf("checkpoint history = %+v, want the task history", cp.History)
	}
	if cp.PausedAt.IsZero() {
		t.Error("PausedAt should be set")
	}
}

func TestPauseNotPausable(t *testing.T) {
	ctx := context.Background()
	p, st := newTestPipeline(t, &chunkExecutor{chunks: []string{"4"}}, Options{})
	createTask(t, st, "t1", "ctx", "question")

	if _, err := p.Run(ctx, "t1"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	_, err := p.Pause(ctx, "t1")
	var pauseErr *task.NotPausableError
	if !errors.As(err, &pauseErr) {
		t.Fatalf("pausing a completed task: error = %v, want *NotPausableError", err)
	}
	if pauseErr.State != task.Completed {
		t.Errorf("NotPausableError.State = %q, want %q", pauseErr.State, task.Completed)
	}
}

func TestDoublePause(t *testing.T) {
	ctx := context.Background()
	p, st := newTestPipeline(t, &chunkExecutor{chunks: []string{"4"}}, Options{})
	createTask(t, st, "t1", "ctx", "question")

	if _, err := p.Pause(ctx, "t1"); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	_, err := p.Pause(ctx, "t1")
	var pauseErr *task.NotPausableError
	if !errors.As(err, &pauseErr) {
		t.Errorf("double pause: error = %v, want *NotPausableError", err)
	}
}

func TestResumeConsumesCheckpoint(t *testing.T) {
	ctx := context.Background()
	p, st := newTestPipeline(t, &chunkExecutor{chunks: []string{"4"}}, Options{})
	createTask(t, st, "t1", "ctx", "question")

	if _, err := p.Pause(ctx, "t1"); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	got, err := p.Resume(ctx, "t1")
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if got.State != task.Resumed {
		t.Errorf("state = %q, want %q", got.State, task.Resumed)
	}

	persisted, _ := st.GetTask(ctx, "t1")
	cp, err := persisted.GetCheckpoint()
	if err != nil {
		t.Fatalf("GetCheckpoint: %v", err)
	}
	if cp != nil {
		t.Error("resume should clear the checkpoint")
	}
	if len(persisted.History) != 1 || persisted.History[0].Text() != "question" {
		t.Errorf("history = %+v, want restored from checkpoint", persisted.History)
	}
}

func TestResumeNotResumable(t *testing.T) {
	ctx := context.Background()
	p, st := newTestPipeline(t, &chunkExecutor{chunks: []string{"4"}}, Options{})
	createTask(t, st, "t1", "ctx", "question")

	_, err := p.Resume(ctx, "t1")
	var resumeErr *task.NotResumableError
	if !errors.As(err, &resumeErr) {
		t.Fatalf("resuming a submitted task: error = %v, want *NotResumableError", err)
	}
	if resumeErr.State != task.Submitted {
		t.Errorf("NotResumableError.State = %q, want %q", resumeErr.State, task.Submitted)
	}
}

func TestPauseResumeIsTransparent(t *testing.T) {
	ctx := context.Background()

	plain, plainStore := newTestPipeline(t, &chunkExecutor{chunks: []string{"42"}}, Options{Signer: &countingSigner{}})
	paused, pausedStore := newTestPipeline(t, &chunkExecutor{chunks: []string{"42"}}, Options{Signer: &countingSigner{}})

	createTask(t, plainStore, "t1", "ctx", "meaning of life?")
	createTask(t, pausedStore, "t1", "ctx", "meaning of life?")

	if _, err := plain.Run(ctx, "t1"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if _, err := paused.Pause(ctx, "t1"); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if _, err := paused.Resume(ctx, "t1"); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if _, err := paused.Run(ctx, "t1"); err != nil {
		t.Fatalf("Run after resume: %v", err)
	}

	a, _ := plainStore.GetTask(ctx, "t1")
	b, _ := pausedStore.GetTask(ctx, "t1")

	// A paused-then-resumed task produces the same final record as one
	// that was never interrupted.
	a.CreatedAt, b.CreatedAt = time.Time{}, time.Time{}
	a.UpdatedAt, b.UpdatedAt = time.Time{}, time.Time{}
	aJSON, _ := json.Marshal(a)
	bJSON, _ := json.Marshal(b)
	if string(aJSON) != string(bJSON) {
		t.Errorf("records differ after pause/resume:\n plain:  %s\n paused: %s", aJSON, bJSON)
	}
}

func TestResumeRestoresPartialArtifacts(t *testing.T) {
	ctx := context.Background()
	p, st := newTestPipeline(t, &chunkExecutor{chunks: []string{"done"}}, Options{})
	tk := createTask(t, st, "t1", "ctx", "question")

	// Give the task a partial artifact before pausing, as a streaming
	// execution interrupted mid-flight would have.
	tk.Artifacts = []task.Artifact{{ID: "partial", Parts: []task.Part{{Kind: task.PartText, Text: "half"}}}}
	if err := st.UpdateTask(ctx, tk); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}

	if _, err := p.Pause(ctx, "t1"); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	got, err := p.Resume(ctx, "t1")
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if len(got.Artifacts) != 1 || got.Artifacts[0].ID != "partial" {
		t.Errorf("artifacts = %+v, want the partial artifact restored", got.Artifacts)
	}
}

func TestCancelSuspendedTask(t *testing.T) {
	ctx := context.Background()
	p, st := newTestPipeline(t, &chunkExecutor{chunks: []string{"4"}}, Options{})
	createTask(t, st, "t1", "ctx", "question")

	if _, err := p.Pause(ctx, "t1"); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	got, err := p.Cancel(ctx, "t1")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got.State != task.Canceled {
		t.Errorf("state = %q, want %q", got.State, task.Canceled)
	}

	// A canceled task can be neither resumed nor paused.
	if _, err := p.Resume(ctx, "t1"); err == nil {
		t.Error("resuming a canceled task should fail")
	}
	if _, err := p.Pause(ctx, "t1"); err == nil {
		t.Error("pausing a canceled task should fail")
	}
}

// checkpointReadStore counts reads through the store's checkpoint API.
type checkpointReadStore struct {
	store.Store
	mu    sync.Mutex
	loads int
}

func (s *checkpointReadStore) LoadCheckpoint(ctx context.Context, taskID string) (*task.Checkpoint, error) {
	s.mu.Lock()
	s.loads++
	s.mu.Unlock()
	return s.Store.LoadCheckpoint(ctx, taskID)
}

func TestResumeLoadsCheckpointFromStore(t *testing.T) {
	ctx := context.Background()
	cs := &checkpointReadStore{Store: store.NewMemory()}
	defer cs.Close()
	p := New(cs, &chunkExecutor{chunks: []string{"4"}}, Config{}, Options{})
	createTask(t, cs, "t1", "ctx", "question")

	if _, err := p.Pause(ctx, "t1"); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	got, err := p.Resume(ctx, "t1")
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if cs.loads != 1 {
		t.Errorf("checkpoint loads = %d, want 1", cs.loads)
	}
	if len(got.History) != 1 || got.History[0].Text() != "question" {
		t.Errorf("history = %+v, want restored from the stored checkpoint", got.History)
	}
}

func TestConcurrentResumeSingleWinner(t *testing.T) {
	ctx := context.Background()
	p, st := newTestPipeline(t, &chunkExecutor{chunks: []string{"4"}}, Options{})
	createTask(t, st, "t1", "ctx", "question")

	if _, err := p.Pause(ctx, "t1"); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	const callers = 8
	results := make(chan error, callers)
	var start sync.WaitGroup
	start.Add(1)
	for i := 0; i < callers; i++ {
		go func() {
			start.Wait()
			_, err := p.Resume(ctx, "t1")
			results <- err
		}()
	}
	start.Done()

	var wins, losses int
	for i := 0; i < callers; i++ {
		err := <-results
		if err == nil {
			wins++
			continue
		}
		var resumeErr *task.NotResumableError
		if !errors.As(err, &resumeErr) {
			t.Errorf("loser error = %v, want *NotResumableError", err)
		}
		losses++
	}
	if wins != 1 || losses != callers-1 {
		t.Errorf("wins = %d, losses = %d, want exactly one winner", wins, losses)
	}

	persisted, _ := st.GetTask(ctx, "t1")
	if persisted.State != task.Resumed {
		t.Errorf("state = %q, want %q", persisted.State, task.Resumed)
	}
	cp, err := persisted.GetCheckpoint()
	if err != nil {
		t.Fatalf("GetCheckpoint: %v", err)
	}
	if cp != nil {
		t.Error("checkpoint should be consumed exactly once")
	}
}

func TestPauseObserverNotified(t *testing.T) {
	ctx := context.Background()
	obs := &recordingObserver{}
	p, st := newTestPipeline(t, &chunkExecutor{chunks: []string{"4"}}, Options{Observer: obs})
	createTask(t, st, "t1", "ctx", "question")

	if _, err := p.Pause(ctx, "t1"); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if _, err := p.Resume(ctx, "t1"); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	want := []string{"submitted->suspended", "suspended->resumed"}
	if got := obs.all(); !equalStrings(got, want) {
		t.Errorf("observer changes = %v, want %v", got, want)
	}
}
