package store

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/hegna/taskcore/internal/task"
)

// setupTestDB starts a throwaway Postgres container and opens the store
// against it, migrations included.
func setupTestDB(t *testing.T) *SQL {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("taskcore"),
		postgres.WithUsername("taskcore"),
		postgres.WithPassword("taskcore"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute)),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}

	st, err := Open(dsn)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	return st
}

func TestSQLStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container-backed store test in short mode")
	}
	st := setupTestDB(t)
	testStoreContract(t, st)
}

func TestSQLStoreMetadataRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container-backed store test in short mode")
	}
	st := setupTestDB(t)
	ctx := context.Background()

	tk := taskWithMetadata()
	if err := st.CreateTask(ctx, tk); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	got, err := st.GetTask(ctx, tk.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Metadata["error"] != "boom" {
		t.Errorf("metadata[error] = %v, want %q", got.Metadata["error"], "boom")
	}
	// JSON numbers come back as float64 through JSONB.
	if got.Metadata["attempt"] != float64(2) {
		t.Errorf("metadata[attempt] = %v (%T), want 2", got.Metadata["attempt"], got.Metadata["attempt"])
	}
}

func taskWithMetadata() *task.Task {
	tk := task.New("meta-1", "ctx-meta", task.TextMessage(task.RoleUser, "hi"))
	tk.Metadata = map[string]any{"error": "boom", "attempt": 2}
	return tk
}
