package queue

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrWrongStage is returned when a guarded transition matched zero rows,
// meaning another actor moved the item first or the caller's view is stale.
var ErrWrongStage = errors.New("item is not in the expected stage")

// execGuarded runs a conditional UPDATE and maps "no rows changed" to
// ErrWrongStage.
func (s *Store) execGuarded(ctx context.Context, query string, args ...any) error {
	return retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrWrongStage
		}
		return nil
	})
}

// Approve releases an item into the pipeline. Only pending items qualify.
func (s *Store) Approve(ctx context.Context, id int64) error {
	now := fmtTime(s.clock.Now())
	err := s.execGuarded(ctx,
		`UPDATE queue_items SET stage = ?, updated_at = ? WHERE id = ? AND stage = ?`,
		string(StatusApproved), now, id, string(StatusPendingApproval))
	if err != nil {
		return fmt.Errorf("approve item %d: %w", id, err)
	}
	return nil
}

// Reject declines a pending item. Rejection is terminal.
func (s *Store) Reject(ctx context.Context, id int64, reason string) error {
	now := fmtTime(s.clock.Now())
	err := s.execGuarded(ctx,
		`UPDATE queue_items SET stage = ?, error_message = ?, updated_at = ?
		 WHERE id = ? AND stage = ?`,
		string(StatusRejected), reason, now, id, string(StatusPendingApproval))
	if err != nil {
		return fmt.Errorf("reject item %d: %w", id, err)
	}
	return nil
}

// claim acquires the in-flight token for one stage. The guard admits the
// normal predecessor stage plus pending_retry when this exact stage failed
// before, so retries re-enter at the failed step.
func (s *Store) claim(ctx context.Context, id int64, kind StageKind, from, inFlight Status) (*Item, error) {
	now := fmtTime(s.clock.Now())
	err := s.execGuarded(ctx,
		`UPDATE queue_items SET stage = ?, in_flight_since = ?, error_message = '', updated_at = ?
		 WHERE id = ? AND in_flight_since IS NULL
		   AND (stage = ? OR (stage = ? AND last_failed_stage = ?))`,
		string(inFlight), now, now,
		id, string(from), string(StatusPendingRetry), string(kind))
	if err != nil {
		if errors.Is(err, ErrWrongStage) {
			return nil, ErrWrongStage
		}
		return nil, fmt.Errorf("claim item %d for %s: %w", id, kind, err)
	}
	return s.GetByID(ctx, id)
}

// ClaimScript takes an approved item for script generation.
func (s *Store) ClaimScript(ctx context.Context, id int64) (*Item, error) {
	return s.claim(ctx, id, StageScript, StatusApproved, StatusApproved)
}

// CompleteScript stores the generated script and advances the item.
func (s *Store) CompleteScript(ctx context.Context, id int64, script string) error {
	now := fmtTime(s.clock.Now())
	err := s.execGuarded(ctx,
		`UPDATE queue_items SET stage = ?, script = ?, in_flight_since = NULL,
			retry_count = 0, last_failed_stage = '', updated_at = ?
		 WHERE id = ? AND stage = ? AND in_flight_since IS NOT NULL`,
		string(StatusScriptGenerated), script, now, id, string(StatusApproved))
	if err != nil {
		return fmt.Errorf("complete script for item %d: %w", id, err)
	}
	return nil
}

// ClaimRender takes a scripted item for video rendering.
func (s *Store) ClaimRender(ctx context.Context, id int64) (*Item, error) {
	return s.claim(ctx, id, StageRender, StatusScriptGenerated, StatusVideoCreating)
}

// SetRenderJob records the renderer's job identifier once the render request
// is accepted. The claim token is released here: the item now waits on the
// completion callback, not on a local worker.
func (s *Store) SetRenderJob(ctx context.Context, id int64, jobID string) error {
	now := fmtTime(s.clock.Now())
	err := s.execGuarded(ctx,
		`UPDATE queue_items SET render_job_id = ?, in_flight_since = NULL, updated_at = ?
		 WHERE id = ? AND stage = ?`,
		jobID, now, id, string(StatusVideoCreating))
	if err != nil {
		return fmt.Errorf("record render job for item %d: %w", id, err)
	}
	return nil
}

// CompleteRender stores the rendered asset URL and advances the item. Safe to
// call more than once: redelivered callbacks hit ErrWrongStage.
func (s *Store) CompleteRender(ctx context.Context, id int64, assetURL string) error {
	now := fmtTime(s.clock.Now())
	err := s.execGuarded(ctx,
		`UPDATE queue_items SET stage = ?, rendered_asset_url = ?, in_flight_since = NULL,
			retry_count = 0, last_failed_stage = '', error_message = '', updated_at = ?
		 WHERE id = ? AND stage = ?`,
		string(StatusVideoCompleted), assetURL, now, id, string(StatusVideoCreating))
	if err != nil {
		return fmt.Errorf("complete render for item %d: %w", id, err)
	}
	return nil
}

// ClaimSEO takes a rendered item for metadata generation.
func (s *Store) ClaimSEO(ctx context.Context, id int64) (*Item, error) {
	return s.claim(ctx, id, StageSEO, StatusVideoCompleted, StatusGeneratingSEO)
}

// CompleteSEO stores the generated metadata and hands the item to upload.
func (s *Store) CompleteSEO(ctx context.Context, id int64, meta *SEOMetadata) error {
	seo, err := (&Item{SEO: meta}).seoJSON()
	if err != nil {
		return err
	}
	now := fmtTime(s.clock.Now())
	err = s.execGuarded(ctx,
		`UPDATE queue_items SET stage = ?, seo_json = ?, in_flight_since = NULL,
			retry_count = 0, last_failed_stage = '', updated_at = ?
		 WHERE id = ? AND stage = ?`,
		string(StatusUploading), seo, now, id, string(StatusGeneratingSEO))
	if err != nil {
		return fmt.Errorf("complete seo for item %d: %w", id, err)
	}
	return nil
}

// ClaimUpload takes an item whose metadata is ready for publishing. The stage
// is already uploading; the claim token alone fences concurrent workers.
func (s *Store) ClaimUpload(ctx context.Context, id int64) (*Item, error) {
	return s.claim(ctx, id, StageUpload, StatusUploading, StatusUploading)
}

// CompleteUpload records the publish identifier and scheduled time.
func (s *Store) CompleteUpload(ctx context.Context, id int64, publishID string, scheduledAt time.Time) error {
	now := fmtTime(s.clock.Now())
	err := s.execGuarded(ctx,
		`UPDATE queue_items SET stage = ?, publish_id = ?, scheduled_at = ?,
			in_flight_since = NULL, retry_count = 0, last_failed_stage = '', updated_at = ?
		 WHERE id = ? AND stage = ? AND in_flight_since IS NOT NULL`,
		string(StatusScheduled), publishID, fmtTime(scheduledAt), now,
		id, string(StatusUploading))
	if err != nil {
		return fmt.Errorf("complete upload for item %d: %w", id, err)
	}
	return nil
}

// RecordError stores an error message on an item without moving it. Used for
// problems that should be visible but must not disturb the stage, such as a
// malformed completion callback.
func (s *Store) RecordError(ctx context.Context, id int64, message string) error {
	now := fmtTime(s.clock.Now())
	err := s.execGuarded(ctx,
		`UPDATE queue_items SET error_message = ?, updated_at = ? WHERE id = ?`,
		message, now, id)
	if err != nil {
		if errors.Is(err, ErrWrongStage) {
			return ErrNotFound
		}
		return fmt.Errorf("record error for item %d: %w", id, err)
	}
	return nil
}

// FailStage marks an item failed, recording which stage broke so a retry can
// resume there. The guard pins the stage the caller believes the item is in.
func (s *Store) FailStage(ctx context.Context, id int64, expected Status, kind StageKind, message string) error {
	now := fmtTime(s.clock.Now())
	err := s.execGuarded(ctx,
		`UPDATE queue_items SET stage = ?, last_failed_stage = ?, error_message = ?,
			in_flight_since = NULL, updated_at = ?
		 WHERE id = ? AND stage = ?`,
		string(StatusFailed), string(kind), message, now, id, string(expected))
	if err != nil {
		return fmt.Errorf("fail item %d at %s: %w", id, kind, err)
	}
	return nil
}

// StuckItems lists items whose external work stopped making progress past the
// cutoff: renders whose callback never arrived, and claims abandoned by a dead
// worker. These items need to be failed, because the external call may already
// have happened.
func (s *Store) StuckItems(ctx context.Context, cutoff time.Time) ([]*Item, error) {
	boundary := fmtTime(cutoff)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM queue_items
		 WHERE (stage = ? AND updated_at < ?)
		    OR (in_flight_since IS NOT NULL AND in_flight_since < ?)
		 ORDER BY id`,
		string(StatusVideoCreating), boundary, boundary)
	if err != nil {
		return nil, fmt.Errorf("list stuck items: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// StalledItems lists unclaimed items sitting past the cutoff in a stage whose
// next worker task should long since have run. The task was lost, so no
// external call was made and the item can be re-dispatched as-is.
func (s *Store) StalledItems(ctx context.Context, cutoff time.Time) ([]*Item, error) {
	boundary := fmtTime(cutoff)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM queue_items
		 WHERE stage IN (?, ?, ?, ?, ?) AND in_flight_since IS NULL AND updated_at < ?
		 ORDER BY id`,
		string(StatusApproved), string(StatusScriptGenerated),
		string(StatusVideoCompleted), string(StatusUploading),
		string(StatusPendingRetry), boundary)
	if err != nil {
		return nil, fmt.Errorf("list stalled items: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// FailStuck moves a stuck item to failed, guarded on the exact row version
// the sweep observed so a late callback that just advanced the item wins.
func (s *Store) FailStuck(ctx context.Context, item *Item, kind StageKind, message string) error {
	now := fmtTime(s.clock.Now())
	err := s.execGuarded(ctx,
		`UPDATE queue_items SET stage = ?, last_failed_stage = ?, error_message = ?,
			in_flight_since = NULL, updated_at = ?
		 WHERE id = ? AND stage = ? AND updated_at = ?`,
		string(StatusFailed), string(kind), message, now,
		item.ID, string(item.Stage), fmtTime(item.UpdatedAt))
	if err != nil {
		return fmt.Errorf("recover stuck item %d: %w", item.ID, err)
	}
	return nil
}

// FailedItems lists items awaiting retry triage, oldest first.
func (s *Store) FailedItems(ctx context.Context) ([]*Item, error) {
	return s.listAscending(ctx, StatusFailed)
}

// BeginRetry moves a failed item to pending_retry, charging one attempt. The
// retry_count guard makes overlapping recovery sweeps idempotent.
func (s *Store) BeginRetry(ctx context.Context, id int64, expectedRetryCount int) error {
	now := fmtTime(s.clock.Now())
	err := s.execGuarded(ctx,
		`UPDATE queue_items SET stage = ?, retry_count = retry_count + 1,
			last_retry_at = ?, updated_at = ?
		 WHERE id = ? AND stage = ? AND retry_count = ?`,
		string(StatusPendingRetry), now, now,
		id, string(StatusFailed), expectedRetryCount)
	if err != nil {
		return fmt.Errorf("begin retry for item %d: %w", id, err)
	}
	return nil
}

// MarkUnrecoverable parks a failed item that exhausted its retry budget.
func (s *Store) MarkUnrecoverable(ctx context.Context, id int64, message string) error {
	now := fmtTime(s.clock.Now())
	err := s.execGuarded(ctx,
		`UPDATE queue_items SET stage = ?, error_message = ?, updated_at = ?
		 WHERE id = ? AND stage = ?`,
		string(StatusUnrecoverable), message, now, id, string(StatusFailed))
	if err != nil {
		return fmt.Errorf("mark item %d unrecoverable: %w", id, err)
	}
	return nil
}

// Requeue puts a failed or unrecoverable item back in play with a fresh retry
// budget. Operator action, so unrecoverable is admitted here and nowhere else.
func (s *Store) Requeue(ctx context.Context, id int64) error {
	now := fmtTime(s.clock.Now())
	err := s.execGuarded(ctx,
		`UPDATE queue_items SET stage = ?, retry_count = 0, error_message = '',
			in_flight_since = NULL, updated_at = ?
		 WHERE id = ? AND stage IN (?, ?) AND last_failed_stage != ''`,
		string(StatusPendingRetry), now,
		id, string(StatusFailed), string(StatusUnrecoverable))
	if err != nil {
		return fmt.Errorf("requeue item %d: %w", id, err)
	}
	return nil
}

// DueForPublish lists scheduled items whose publish time has passed.
func (s *Store) DueForPublish(ctx context.Context, now time.Time) ([]*Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM queue_items
		 WHERE stage = ? AND scheduled_at IS NOT NULL AND scheduled_at <= ?
		 ORDER BY scheduled_at`,
		string(StatusScheduled), fmtTime(now))
	if err != nil {
		return nil, fmt.Errorf("list due items: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// MarkPublished finalizes a scheduled item whose publish time arrived.
func (s *Store) MarkPublished(ctx context.Context, id int64) error {
	now := fmtTime(s.clock.Now())
	err := s.execGuarded(ctx,
		`UPDATE queue_items SET stage = ?, updated_at = ? WHERE id = ? AND stage = ?`,
		string(StatusPublished), now, id, string(StatusScheduled))
	if err != nil {
		return fmt.Errorf("mark item %d published: %w", id, err)
	}
	return nil
}

func (s *Store) listAscending(ctx context.Context, status Status) ([]*Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM queue_items WHERE stage = ? ORDER BY id`,
		string(status))
	if err != nil {
		return nil, fmt.Errorf("list %s items: %w", status, err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
