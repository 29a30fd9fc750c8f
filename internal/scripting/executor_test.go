package scripting

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"showreel/internal/clock"
	"showreel/internal/logging"
	"showreel/internal/queue"
	"showreel/internal/services"
	"showreel/internal/services/scriptwriter"
)

type fakeWriter struct {
	script string
	err    error
	calls  int
}

func (f *fakeWriter) GenerateScript(ctx context.Context, req scriptwriter.Request) (string, error) {
	f.calls++
	return f.script, f.err
}

func openStore(t *testing.T) *queue.Store {
	t.Helper()
	store, err := queue.Open(filepath.Join(t.TempDir(), "queue.db"),
		clock.NewFake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func approvedItem(t *testing.T, store *queue.Store) *queue.Item {
	t.Helper()
	ctx := context.Background()
	item, err := store.NewItem(ctx, "alice", "Desk setup tour", "")
	if err != nil {
		t.Fatalf("new item: %v", err)
	}
	if err := store.Approve(ctx, item.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	return item
}

func TestRunGeneratesScriptAndAdvances(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	item := approvedItem(t, store)
	writer := &fakeWriter{script: "FADE IN"}
	exec := NewExecutor(store, writer, logging.NewNop())

	outcome, err := exec.Run(ctx, item.ID)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !outcome.Completed {
		t.Fatal("outcome not completed")
	}
	if outcome.Next != queue.StageRender {
		t.Fatalf("next = %s, want render", outcome.Next)
	}

	updated, err := store.GetByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if updated.Stage != queue.StatusScriptGenerated || updated.Script != "FADE IN" {
		t.Fatalf("item = %+v", updated)
	}
}

func TestRunSkipsWhenClaimLost(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	item := approvedItem(t, store)
	if _, err := store.ClaimScript(ctx, item.ID); err != nil {
		t.Fatalf("pre-claim: %v", err)
	}

	writer := &fakeWriter{script: "unused"}
	exec := NewExecutor(store, writer, logging.NewNop())

	outcome, err := exec.Run(ctx, item.ID)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if outcome.Completed {
		t.Fatal("lost claim reported as completed")
	}
	if writer.calls != 0 {
		t.Fatalf("service called %d times despite lost claim", writer.calls)
	}
}

func TestRunRecordsFailure(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	item := approvedItem(t, store)
	writer := &fakeWriter{err: services.Wrap(services.ErrExternalService, "script", "generate", "status 503", nil)}
	exec := NewExecutor(store, writer, logging.NewNop())

	_, err := exec.Run(ctx, item.ID)
	if !errors.Is(err, services.ErrExternalService) {
		t.Fatalf("run err = %v", err)
	}

	failed, err := store.GetByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if failed.Stage != queue.StatusFailed || failed.LastFailedStage != queue.StageScript {
		t.Fatalf("failure not recorded: %+v", failed)
	}
	if failed.ErrorMessage == "" {
		t.Fatal("error message empty")
	}
}
