// Package recovery sweeps the queue for items that need intervention: work
// stuck at an external service, failed items with retry budget left, and
// scheduled items whose release time has passed. The daemon runs the sweep on
// a timer; operators can trigger it through the API.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"showreel/internal/clock"
	"showreel/internal/config"
	"showreel/internal/logging"
	"showreel/internal/notifications"
	"showreel/internal/queue"
	"showreel/internal/services"
	"showreel/internal/stage"
)

// Summary reports what one sweep did.
type Summary struct {
	Scanned        int
	StuckRecovered int
	Redispatched   int
	Retried        int
	Unrecoverable  int
	Published      int
}

// Engine performs recovery sweeps.
type Engine struct {
	store    *queue.Store
	runner   *stage.Runner
	notifier notifications.Service
	clk      clock.Clock
	cfg      *config.Config
	logger   *slog.Logger
}

// NewEngine wires a recovery engine.
func NewEngine(store *queue.Store, runner *stage.Runner, notifier notifications.Service, clk clock.Clock, cfg *config.Config, logger *slog.Logger) *Engine {
	return &Engine{
		store:    store,
		runner:   runner,
		notifier: notifier,
		clk:      clk,
		cfg:      cfg,
		logger:   logging.WithComponent(logger, "recovery"),
	}
}

// Run executes one full sweep. Individual item errors are logged and counted
// but do not abort the sweep; only a failure to list items does.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	var summary Summary

	// Failed items are triaged before the stuck sweep so an item recovered
	// this pass waits a full interval before its first retry.
	if err := e.triageFailed(ctx, &summary); err != nil {
		return summary, err
	}
	if err := e.recoverStuck(ctx, &summary); err != nil {
		return summary, err
	}
	if err := e.redispatchStalled(ctx, &summary); err != nil {
		return summary, err
	}
	if err := e.finalizePublished(ctx, &summary); err != nil {
		return summary, err
	}

	if summary.StuckRecovered+summary.Redispatched+summary.Retried+summary.Unrecoverable+summary.Published > 0 {
		e.logger.Info("recovery sweep finished",
			logging.Int("scanned", summary.Scanned),
			logging.Int("stuck_recovered", summary.StuckRecovered),
			logging.Int("redispatched", summary.Redispatched),
			logging.Int("retried", summary.Retried),
			logging.Int("unrecoverable", summary.Unrecoverable),
			logging.Int("published", summary.Published))
	}
	return summary, nil
}

func (e *Engine) recoverStuck(ctx context.Context, summary *Summary) error {
	cutoff := e.clk.Now().Add(-e.cfg.StalenessThreshold())
	stuck, err := e.store.StuckItems(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("list stuck items: %w", err)
	}
	summary.Scanned += len(stuck)

	for _, item := range stuck {
		kind := stuckKind(item)
		message := services.Wrap(services.ErrStuckTimeout, string(kind), "",
			fmt.Sprintf("no progress since %s", item.UpdatedAt.Format(time.RFC3339)), nil).Error()
		err := e.store.FailStuck(ctx, item, kind, message)
		if errors.Is(err, queue.ErrWrongStage) {
			// The item moved between listing and recovery; nothing to do.
			continue
		}
		if err != nil {
			e.logger.Error("could not recover stuck item",
				logging.Int64(logging.FieldItemID, item.ID), logging.Error(err))
			continue
		}
		summary.StuckRecovered++
		e.logger.Warn("stuck item moved to failed",
			logging.Int64(logging.FieldItemID, item.ID),
			logging.String(logging.FieldStage, string(kind)))
		e.publish(ctx, notifications.EventStuckRecovered, notifications.Payload{
			ItemID: item.ID, Title: item.Title, Message: message,
		})
	}
	return nil
}

// redispatchStalled reschedules items whose worker task was lost, for example
// to an in-process scheduler restart or a failed follow-up enqueue. No
// external call was made for these, so they re-enter the pipeline where they
// sit instead of being failed. The staleness threshold exceeds the retry
// backoff cap, so a retry whose timer is still pending is never double-fired.
func (e *Engine) redispatchStalled(ctx context.Context, summary *Summary) error {
	cutoff := e.clk.Now().Add(-e.cfg.StalenessThreshold())
	stalled, err := e.store.StalledItems(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("list stalled items: %w", err)
	}
	summary.Scanned += len(stalled)

	for _, item := range stalled {
		kind := dispatchKind(item)
		if err := e.runner.ResumeItem(ctx, kind, item.ID, 0); err != nil {
			e.logger.Error("could not re-dispatch stalled item",
				logging.Int64(logging.FieldItemID, item.ID), logging.Error(err))
			continue
		}
		summary.Redispatched++
		e.logger.Warn("re-dispatched stalled item",
			logging.Int64(logging.FieldItemID, item.ID),
			logging.String(logging.FieldStage, string(kind)),
			logging.String("idle_stage", string(item.Stage)))
	}
	return nil
}

func (e *Engine) triageFailed(ctx context.Context, summary *Summary) error {
	failed, err := e.store.FailedItems(ctx)
	if err != nil {
		return fmt.Errorf("list failed items: %w", err)
	}
	summary.Scanned += len(failed)

	for _, item := range failed {
		if !item.RetryEligible(e.cfg.Retry.MaxRetries) {
			e.park(ctx, item, summary)
			continue
		}

		delay := Backoff(e.cfg.BaseDelay(), e.cfg.Retry.BackoffMultiplier, e.cfg.MaxDelay(), item.RetryCount)
		err := e.store.BeginRetry(ctx, item.ID, item.RetryCount)
		if errors.Is(err, queue.ErrWrongStage) {
			continue
		}
		if err != nil {
			e.logger.Error("could not begin retry",
				logging.Int64(logging.FieldItemID, item.ID), logging.Error(err))
			continue
		}

		if err := e.runner.ResumeItem(ctx, item.LastFailedStage, item.ID, delay); err != nil {
			e.logger.Error("could not schedule retry",
				logging.Int64(logging.FieldItemID, item.ID), logging.Error(err))
			continue
		}
		summary.Retried++
		e.logger.Info("retry scheduled",
			logging.Int64(logging.FieldItemID, item.ID),
			logging.String(logging.FieldStage, string(item.LastFailedStage)),
			logging.Int("attempt", item.RetryCount+1),
			logging.Duration("delay", delay))
		e.publish(ctx, notifications.EventRetryScheduled, notifications.Payload{
			ItemID: item.ID,
			Title:  item.Title,
			Message: fmt.Sprintf("retrying %s for %q in %s (attempt %d of %d)",
				item.LastFailedStage, item.Title, delay, item.RetryCount+1, e.cfg.Retry.MaxRetries),
		})
	}
	return nil
}

func (e *Engine) park(ctx context.Context, item *queue.Item, summary *Summary) {
	detail := fmt.Sprintf("gave up after %d attempts: %s", item.RetryCount, item.ErrorMessage)
	if item.LastFailedStage == "" {
		detail = "failed without a recorded stage: " + item.ErrorMessage
	}
	message := services.Wrap(services.ErrRetryExhausted, string(item.LastFailedStage), "", detail, nil).Error()
	err := e.store.MarkUnrecoverable(ctx, item.ID, message)
	if errors.Is(err, queue.ErrWrongStage) {
		return
	}
	if err != nil {
		e.logger.Error("could not mark item unrecoverable",
			logging.Int64(logging.FieldItemID, item.ID), logging.Error(err))
		return
	}
	summary.Unrecoverable++
	e.logger.Error("item is unrecoverable",
		logging.Int64(logging.FieldItemID, item.ID),
		logging.String(logging.FieldErrorHint, message))
	e.publish(ctx, notifications.EventItemUnrecoverable, notifications.Payload{
		ItemID: item.ID, Title: item.Title, Message: message,
	})
}

func (e *Engine) finalizePublished(ctx context.Context, summary *Summary) error {
	due, err := e.store.DueForPublish(ctx, e.clk.Now())
	if err != nil {
		return fmt.Errorf("list due items: %w", err)
	}
	summary.Scanned += len(due)

	for _, item := range due {
		err := e.store.MarkPublished(ctx, item.ID)
		if errors.Is(err, queue.ErrWrongStage) {
			continue
		}
		if err != nil {
			e.logger.Error("could not mark item published",
				logging.Int64(logging.FieldItemID, item.ID), logging.Error(err))
			continue
		}
		summary.Published++
		e.publish(ctx, notifications.EventItemPublished, notifications.Payload{
			ItemID:  item.ID,
			Title:   item.Title,
			Message: fmt.Sprintf("%q is live", item.Title),
		})
	}
	return nil
}

func (e *Engine) publish(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if err := e.notifier.Publish(ctx, event, payload); err != nil {
		e.logger.Warn("notification delivery failed", logging.Error(err))
	}
}

// stuckKind maps a stuck item's current position to the stage that should be
// blamed and retried.
func stuckKind(item *queue.Item) queue.StageKind {
	switch item.Stage {
	case queue.StatusVideoCreating:
		return queue.StageRender
	case queue.StatusGeneratingSEO:
		return queue.StageSEO
	case queue.StatusUploading:
		return queue.StageUpload
	case queue.StatusApproved:
		return queue.StageScript
	default:
		if item.LastFailedStage != "" {
			return item.LastFailedStage
		}
		return queue.StageScript
	}
}

// dispatchKind maps a stalled item's stage to the worker task that should
// have consumed it.
func dispatchKind(item *queue.Item) queue.StageKind {
	switch item.Stage {
	case queue.StatusApproved:
		return queue.StageScript
	case queue.StatusScriptGenerated:
		return queue.StageRender
	case queue.StatusVideoCompleted:
		return queue.StageSEO
	case queue.StatusUploading:
		return queue.StageUpload
	default:
		// pending_retry resumes at the stage that failed.
		if item.LastFailedStage != "" {
			return item.LastFailedStage
		}
		return queue.StageScript
	}
}

// Backoff computes the exponential retry delay for the given attempt count,
// capped at max.
func Backoff(base time.Duration, multiplier int, max time.Duration, retryCount int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if multiplier < 1 {
		multiplier = 1
	}
	delay := base
	for i := 0; i < retryCount; i++ {
		delay *= time.Duration(multiplier)
		if delay >= max {
			return max
		}
	}
	if max > 0 && delay > max {
		return max
	}
	return delay
}
