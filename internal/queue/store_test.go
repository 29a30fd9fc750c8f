package queue

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"showreel/internal/clock"
)

func openStore(t *testing.T) (*Store, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store, err := Open(filepath.Join(t.TempDir(), "queue.db"), clk)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, clk
}

func newTestItem(t *testing.T, store *Store) *Item {
	t.Helper()
	item, err := store.NewItem(context.Background(), "alice", "Build log cabin", "timelapse build")
	if err != nil {
		t.Fatalf("new item: %v", err)
	}
	return item
}

func mustStage(t *testing.T, store *Store, id int64, want Status) *Item {
	t.Helper()
	item, err := store.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get item %d: %v", id, err)
	}
	if item.Stage != want {
		t.Fatalf("item %d stage = %s, want %s", id, item.Stage, want)
	}
	return item
}

func TestNewItemStartsPending(t *testing.T) {
	store, _ := openStore(t)
	item := newTestItem(t, store)

	if item.Stage != StatusPendingApproval {
		t.Fatalf("stage = %s, want %s", item.Stage, StatusPendingApproval)
	}
	if item.RetryCount != 0 || item.InFlightSince != nil {
		t.Fatalf("unexpected retry state on fresh item: %+v", item)
	}
	if item.CreatedAt.IsZero() || !item.CreatedAt.Equal(item.UpdatedAt) {
		t.Fatalf("timestamps not initialized: created=%v updated=%v", item.CreatedAt, item.UpdatedAt)
	}
}

func TestNewItemRejectsEmptyTitle(t *testing.T) {
	store, _ := openStore(t)
	if _, err := store.NewItem(context.Background(), "alice", "   ", ""); err == nil {
		t.Fatal("expected error for empty title")
	}
}

func TestApproveAndRejectGuards(t *testing.T) {
	ctx := context.Background()
	store, _ := openStore(t)
	item := newTestItem(t, store)

	if err := store.Approve(ctx, item.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	mustStage(t, store, item.ID, StatusApproved)

	if err := store.Approve(ctx, item.ID); !errors.Is(err, ErrWrongStage) {
		t.Fatalf("second approve err = %v, want ErrWrongStage", err)
	}
	if err := store.Reject(ctx, item.ID, "late"); !errors.Is(err, ErrWrongStage) {
		t.Fatalf("reject after approve err = %v, want ErrWrongStage", err)
	}

	other := newTestItem(t, store)
	if err := store.Reject(ctx, other.ID, "duplicate idea"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	rejected := mustStage(t, store, other.ID, StatusRejected)
	if rejected.ErrorMessage != "duplicate idea" {
		t.Fatalf("rejection reason = %q", rejected.ErrorMessage)
	}
}

func TestFullPipelineTransitions(t *testing.T) {
	ctx := context.Background()
	store, clk := openStore(t)
	item := newTestItem(t, store)

	if err := store.Approve(ctx, item.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}

	claimed, err := store.ClaimScript(ctx, item.ID)
	if err != nil {
		t.Fatalf("claim script: %v", err)
	}
	if claimed.InFlightSince == nil {
		t.Fatal("claim did not set in_flight_since")
	}
	if err := store.CompleteScript(ctx, item.ID, "INT. WORKSHOP - DAY"); err != nil {
		t.Fatalf("complete script: %v", err)
	}
	mustStage(t, store, item.ID, StatusScriptGenerated)

	if _, err := store.ClaimRender(ctx, item.ID); err != nil {
		t.Fatalf("claim render: %v", err)
	}
	mustStage(t, store, item.ID, StatusVideoCreating)
	if err := store.SetRenderJob(ctx, item.ID, "job-42"); err != nil {
		t.Fatalf("set render job: %v", err)
	}
	waiting := mustStage(t, store, item.ID, StatusVideoCreating)
	if waiting.InFlightSince != nil {
		t.Fatal("claim token not released while awaiting callback")
	}

	found, err := store.FindByRenderJobID(ctx, "job-42")
	if err != nil {
		t.Fatalf("find by render job: %v", err)
	}
	if found.ID != item.ID {
		t.Fatalf("found item %d, want %d", found.ID, item.ID)
	}

	if err := store.CompleteRender(ctx, item.ID, "https://cdn.example.com/v/42.mp4"); err != nil {
		t.Fatalf("complete render: %v", err)
	}
	mustStage(t, store, item.ID, StatusVideoCompleted)

	if _, err := store.ClaimSEO(ctx, item.ID); err != nil {
		t.Fatalf("claim seo: %v", err)
	}
	meta := &SEOMetadata{Title: "Log Cabin Timelapse", Tags: []string{"woodworking"}}
	if err := store.CompleteSEO(ctx, item.ID, meta); err != nil {
		t.Fatalf("complete seo: %v", err)
	}
	mustStage(t, store, item.ID, StatusUploading)

	if _, err := store.ClaimUpload(ctx, item.ID); err != nil {
		t.Fatalf("claim upload: %v", err)
	}
	publishAt := clk.Now().Add(24 * time.Hour)
	if err := store.CompleteUpload(ctx, item.ID, "yt-abc123", publishAt); err != nil {
		t.Fatalf("complete upload: %v", err)
	}

	final := mustStage(t, store, item.ID, StatusScheduled)
	if final.PublishID != "yt-abc123" {
		t.Fatalf("publish id = %q", final.PublishID)
	}
	if final.SEO == nil || final.SEO.Title != "Log Cabin Timelapse" {
		t.Fatalf("seo metadata not persisted: %+v", final.SEO)
	}
	if final.ScheduledAt == nil || !final.ScheduledAt.Equal(publishAt) {
		t.Fatalf("scheduled_at = %v, want %v", final.ScheduledAt, publishAt)
	}
}

func TestClaimIsExclusive(t *testing.T) {
	ctx := context.Background()
	store, _ := openStore(t)
	item := newTestItem(t, store)
	if err := store.Approve(ctx, item.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}

	if _, err := store.ClaimScript(ctx, item.ID); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if _, err := store.ClaimScript(ctx, item.ID); !errors.Is(err, ErrWrongStage) {
		t.Fatalf("second claim err = %v, want ErrWrongStage", err)
	}
}

func TestCompleteRenderIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store, _ := openStore(t)
	item := advanceToVideoCreating(t, store)

	if err := store.CompleteRender(ctx, item.ID, "https://cdn.example.com/a.mp4"); err != nil {
		t.Fatalf("first completion: %v", err)
	}
	err := store.CompleteRender(ctx, item.ID, "https://cdn.example.com/a.mp4")
	if !errors.Is(err, ErrWrongStage) {
		t.Fatalf("redelivered completion err = %v, want ErrWrongStage", err)
	}
	mustStage(t, store, item.ID, StatusVideoCompleted)
}

func TestFailAndRetryAccounting(t *testing.T) {
	ctx := context.Background()
	store, _ := openStore(t)
	item := advanceToVideoCreating(t, store)

	if err := store.FailStage(ctx, item.ID, StatusVideoCreating, StageRender, "renderer 503"); err != nil {
		t.Fatalf("fail stage: %v", err)
	}
	failed := mustStage(t, store, item.ID, StatusFailed)
	if failed.LastFailedStage != StageRender || failed.ErrorMessage != "renderer 503" {
		t.Fatalf("failure not recorded: %+v", failed)
	}

	if err := store.BeginRetry(ctx, item.ID, 0); err != nil {
		t.Fatalf("begin retry: %v", err)
	}
	retrying := mustStage(t, store, item.ID, StatusPendingRetry)
	if retrying.RetryCount != 1 || retrying.LastRetryAt == nil {
		t.Fatalf("retry not charged: %+v", retrying)
	}

	// A sweep still holding the old retry count must lose.
	if err := store.BeginRetry(ctx, item.ID, 0); !errors.Is(err, ErrWrongStage) {
		t.Fatalf("stale retry err = %v, want ErrWrongStage", err)
	}

	// Retry re-enters at the failed stage.
	claimed, err := store.ClaimRender(ctx, item.ID)
	if err != nil {
		t.Fatalf("claim after retry: %v", err)
	}
	if claimed.Stage != StatusVideoCreating {
		t.Fatalf("retry claim stage = %s", claimed.Stage)
	}
	if claimed.ErrorMessage != "" {
		t.Fatalf("error message not cleared on claim: %q", claimed.ErrorMessage)
	}
}

func TestCompletingStageEndsFailureEpisode(t *testing.T) {
	ctx := context.Background()
	store, _ := openStore(t)
	item := advanceToVideoCreating(t, store)

	if err := store.FailStage(ctx, item.ID, StatusVideoCreating, StageRender, "renderer 503"); err != nil {
		t.Fatalf("fail stage: %v", err)
	}
	if err := store.BeginRetry(ctx, item.ID, 0); err != nil {
		t.Fatalf("begin retry: %v", err)
	}
	if _, err := store.ClaimRender(ctx, item.ID); err != nil {
		t.Fatalf("claim after retry: %v", err)
	}
	if err := store.CompleteRender(ctx, item.ID, "https://cdn.example.com/a.mp4"); err != nil {
		t.Fatalf("complete render: %v", err)
	}

	done := mustStage(t, store, item.ID, StatusVideoCompleted)
	if done.RetryCount != 0 || done.LastFailedStage != "" {
		t.Fatalf("failure episode not cleared: retries=%d stage=%q", done.RetryCount, done.LastFailedStage)
	}
}

func TestRetryClaimRejectsOtherStage(t *testing.T) {
	ctx := context.Background()
	store, _ := openStore(t)
	item := advanceToVideoCreating(t, store)

	if err := store.FailStage(ctx, item.ID, StatusVideoCreating, StageRender, "boom"); err != nil {
		t.Fatalf("fail stage: %v", err)
	}
	if err := store.BeginRetry(ctx, item.ID, 0); err != nil {
		t.Fatalf("begin retry: %v", err)
	}
	if _, err := store.ClaimSEO(ctx, item.ID); !errors.Is(err, ErrWrongStage) {
		t.Fatalf("claim of non-failed stage err = %v, want ErrWrongStage", err)
	}
}

func TestMarkUnrecoverableAndRequeue(t *testing.T) {
	ctx := context.Background()
	store, _ := openStore(t)
	item := advanceToVideoCreating(t, store)

	if err := store.FailStage(ctx, item.ID, StatusVideoCreating, StageRender, "boom"); err != nil {
		t.Fatalf("fail stage: %v", err)
	}
	if err := store.MarkUnrecoverable(ctx, item.ID, "retries exhausted after 3 attempts"); err != nil {
		t.Fatalf("mark unrecoverable: %v", err)
	}
	mustStage(t, store, item.ID, StatusUnrecoverable)

	if err := store.Requeue(ctx, item.ID); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	requeued := mustStage(t, store, item.ID, StatusPendingRetry)
	if requeued.RetryCount != 0 {
		t.Fatalf("requeue did not reset retry count: %d", requeued.RetryCount)
	}
	if _, err := store.ClaimRender(ctx, item.ID); err != nil {
		t.Fatalf("claim after requeue: %v", err)
	}
}

func TestStuckDetectionAndRecovery(t *testing.T) {
	ctx := context.Background()
	store, clk := openStore(t)
	stuck := advanceToVideoCreating(t, store)
	if err := store.SetRenderJob(ctx, stuck.ID, "job-stuck"); err != nil {
		t.Fatalf("set render job: %v", err)
	}
	newTestItem(t, store) // still fresh, must not be swept

	clk.Advance(2 * time.Hour)

	items, err := store.StuckItems(ctx, clk.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("stuck items: %v", err)
	}
	if len(items) != 1 || items[0].ID != stuck.ID {
		t.Fatalf("stuck items = %+v, want just item %d", items, stuck.ID)
	}

	if err := store.FailStuck(ctx, items[0], StageRender, "no callback within 1h"); err != nil {
		t.Fatalf("fail stuck: %v", err)
	}
	mustStage(t, store, stuck.ID, StatusFailed)

	// A second sweep holding the pre-recovery row loses the guard.
	if err := store.FailStuck(ctx, items[0], StageRender, "duplicate sweep"); !errors.Is(err, ErrWrongStage) {
		t.Fatalf("duplicate recovery err = %v, want ErrWrongStage", err)
	}
}

func TestStuckDetectionSeesAbandonedClaim(t *testing.T) {
	ctx := context.Background()
	store, clk := openStore(t)
	item := newTestItem(t, store)
	if err := store.Approve(ctx, item.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := store.ClaimScript(ctx, item.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}

	clk.Advance(2 * time.Hour)
	items, err := store.StuckItems(ctx, clk.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("stuck items: %v", err)
	}
	if len(items) != 1 || items[0].ID != item.ID {
		t.Fatalf("abandoned claim not detected: %+v", items)
	}
}

func TestStalledItemsListLostDispatches(t *testing.T) {
	ctx := context.Background()
	store, clk := openStore(t)

	stalled := newTestItem(t, store)
	if err := store.Approve(ctx, stalled.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := store.ClaimScript(ctx, stalled.ID); err != nil {
		t.Fatalf("claim script: %v", err)
	}
	if err := store.CompleteScript(ctx, stalled.ID, "script"); err != nil {
		t.Fatalf("complete script: %v", err)
	}

	// A held claim is the stuck scan's business, not a lost dispatch.
	claimed := newTestItem(t, store)
	if err := store.Approve(ctx, claimed.ID); err != nil {
		t.Fatalf("approve claimed: %v", err)
	}
	if _, err := store.ClaimScript(ctx, claimed.ID); err != nil {
		t.Fatalf("claim claimed: %v", err)
	}

	newTestItem(t, store) // waits on a human, never dispatched

	clk.Advance(2 * time.Hour)
	items, err := store.StalledItems(ctx, clk.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("stalled items: %v", err)
	}
	if len(items) != 1 || items[0].ID != stalled.ID {
		t.Fatalf("stalled = %+v, want just item %d", items, stalled.ID)
	}
}

func TestRemoveOnlyTerminalItems(t *testing.T) {
	ctx := context.Background()
	store, _ := openStore(t)

	inFlight := advanceToVideoCreating(t, store)
	if err := store.SetRenderJob(ctx, inFlight.ID, "job-live"); err != nil {
		t.Fatalf("set render job: %v", err)
	}
	if err := store.Remove(ctx, inFlight.ID); !errors.Is(err, ErrWrongStage) {
		t.Fatalf("remove of rendering item err = %v, want ErrWrongStage", err)
	}
	mustStage(t, store, inFlight.ID, StatusVideoCreating)

	rejected := newTestItem(t, store)
	if err := store.Reject(ctx, rejected.ID, "no"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if err := store.Remove(ctx, rejected.ID); err != nil {
		t.Fatalf("remove rejected item: %v", err)
	}
	if _, err := store.GetByID(ctx, rejected.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("rejected item still present: %v", err)
	}

	if err := store.Remove(ctx, 9999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("remove of missing item err = %v, want ErrNotFound", err)
	}
}

func TestDueForPublish(t *testing.T) {
	ctx := context.Background()
	store, clk := openStore(t)
	item := advanceToScheduled(t, store, clk.Now().Add(time.Hour))

	due, err := store.DueForPublish(ctx, clk.Now())
	if err != nil {
		t.Fatalf("due for publish: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("item due before its publish time: %+v", due)
	}

	clk.Advance(2 * time.Hour)
	due, err = store.DueForPublish(ctx, clk.Now())
	if err != nil {
		t.Fatalf("due for publish: %v", err)
	}
	if len(due) != 1 || due[0].ID != item.ID {
		t.Fatalf("due = %+v, want item %d", due, item.ID)
	}

	if err := store.MarkPublished(ctx, item.ID); err != nil {
		t.Fatalf("mark published: %v", err)
	}
	mustStage(t, store, item.ID, StatusPublished)
	if err := store.MarkPublished(ctx, item.ID); !errors.Is(err, ErrWrongStage) {
		t.Fatalf("second publish err = %v, want ErrWrongStage", err)
	}
}

func TestStatsAndClearCompleted(t *testing.T) {
	ctx := context.Background()
	store, _ := openStore(t)
	newTestItem(t, store)
	rejected := newTestItem(t, store)
	if err := store.Reject(ctx, rejected.ID, "no"); err != nil {
		t.Fatalf("reject: %v", err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats[StatusPendingApproval] != 1 || stats[StatusRejected] != 1 {
		t.Fatalf("stats = %v", stats)
	}

	removed, err := store.ClearCompleted(ctx)
	if err != nil {
		t.Fatalf("clear completed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, err := store.GetByID(ctx, rejected.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("rejected item still present: %v", err)
	}
}

func TestListFiltersByStatus(t *testing.T) {
	ctx := context.Background()
	store, _ := openStore(t)
	first := newTestItem(t, store)
	second := newTestItem(t, store)
	if err := store.Approve(ctx, second.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}

	pending, err := store.List(ctx, 0, StatusPendingApproval)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != first.ID {
		t.Fatalf("pending = %+v", pending)
	}

	all, err := store.List(ctx, 0)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 || all[0].ID != second.ID {
		t.Fatalf("expected newest-first listing, got %+v", all)
	}
}

func advanceToVideoCreating(t *testing.T, store *Store) *Item {
	t.Helper()
	ctx := context.Background()
	item := newTestItem(t, store)
	if err := store.Approve(ctx, item.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := store.ClaimScript(ctx, item.ID); err != nil {
		t.Fatalf("claim script: %v", err)
	}
	if err := store.CompleteScript(ctx, item.ID, "script"); err != nil {
		t.Fatalf("complete script: %v", err)
	}
	claimed, err := store.ClaimRender(ctx, item.ID)
	if err != nil {
		t.Fatalf("claim render: %v", err)
	}
	return claimed
}

func advanceToScheduled(t *testing.T, store *Store, publishAt time.Time) *Item {
	t.Helper()
	ctx := context.Background()
	item := advanceToVideoCreating(t, store)
	if err := store.SetRenderJob(ctx, item.ID, "job-sched"); err != nil {
		t.Fatalf("set render job: %v", err)
	}
	if err := store.CompleteRender(ctx, item.ID, "https://cdn.example.com/s.mp4"); err != nil {
		t.Fatalf("complete render: %v", err)
	}
	if _, err := store.ClaimSEO(ctx, item.ID); err != nil {
		t.Fatalf("claim seo: %v", err)
	}
	if err := store.CompleteSEO(ctx, item.ID, &SEOMetadata{Title: "t"}); err != nil {
		t.Fatalf("complete seo: %v", err)
	}
	if _, err := store.ClaimUpload(ctx, item.ID); err != nil {
		t.Fatalf("claim upload: %v", err)
	}
	if err := store.CompleteUpload(ctx, item.ID, "pub-1", publishAt); err != nil {
		t.Fatalf("complete upload: %v", err)
	}
	out, err := store.GetByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	return out
}
