package stage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"showreel/internal/logging"
	"showreel/internal/notifications"
	"showreel/internal/queue"
	"showreel/internal/scheduler"
	"showreel/internal/services"
)

// Runner routes stage tasks to the registered executors and handles the
// cross-cutting parts of a stage run: scheduling follow-up work, publishing
// notifications, and logging.
type Runner struct {
	sched     scheduler.Scheduler
	notifier  notifications.Service
	logger    *slog.Logger
	executors map[queue.StageKind]Executor
}

// NewRunner wires the executors into a dispatch table. Each stage kind may
// be registered once.
func NewRunner(sched scheduler.Scheduler, notifier notifications.Service, logger *slog.Logger, executors ...Executor) (*Runner, error) {
	table := make(map[queue.StageKind]Executor, len(executors))
	for _, exec := range executors {
		if _, dup := table[exec.Kind()]; dup {
			return nil, fmt.Errorf("duplicate executor for stage %s", exec.Kind())
		}
		table[exec.Kind()] = exec
	}
	return &Runner{
		sched:     sched,
		notifier:  notifier,
		logger:    logging.WithComponent(logger, "pipeline"),
		executors: table,
	}, nil
}

// Handle adapts Run to the scheduler's task delivery signature.
func (r *Runner) Handle(ctx context.Context, task scheduler.Task) error {
	return r.Run(ctx, task.Kind, task.ItemID)
}

// Run executes one stage for one item.
func (r *Runner) Run(ctx context.Context, kind queue.StageKind, itemID int64) error {
	exec, ok := r.executors[kind]
	if !ok {
		return fmt.Errorf("no executor registered for stage %q", kind)
	}

	ctx = services.WithItemID(ctx, itemID)
	ctx = services.WithStage(ctx, string(kind))
	logger := r.logger.With(logging.Args(
		logging.Int64(logging.FieldItemID, itemID),
		logging.String(logging.FieldStage, string(kind)))...)

	logger.Info("stage starting")
	outcome, err := exec.Run(ctx, itemID)
	if err != nil {
		logger.Error("stage failed",
			logging.Error(err),
			logging.Bool("retryable", services.Retryable(err)))
		r.notify(ctx, notifications.EventStageFailed, notifications.Payload{
			ItemID:  itemID,
			Title:   outcome.Title,
			Message: fmt.Sprintf("stage %s failed: %v", kind, err),
		})
		return err
	}
	if !outcome.Completed {
		logger.Debug("stage skipped, item claimed elsewhere or already advanced")
		return nil
	}

	logger.Info("stage completed")
	if outcome.Event != "" {
		r.notify(ctx, outcome.Event, notifications.Payload{
			ItemID:  itemID,
			Title:   outcome.Title,
			Message: outcome.Message,
		})
	}
	if outcome.Next != "" {
		if err := r.sched.Schedule(ctx, scheduler.Task{Kind: outcome.Next, ItemID: itemID}, 0); err != nil {
			// The stage itself succeeded; the recovery sweep will move the
			// item along if this enqueue is lost.
			logger.Error("failed to schedule follow-up stage",
				logging.String("next", string(outcome.Next)),
				logging.Error(err))
		}
	}
	return nil
}

// StartItem kicks off the pipeline for a freshly approved item.
func (r *Runner) StartItem(ctx context.Context, itemID int64) error {
	return r.sched.Schedule(ctx, scheduler.Task{Kind: queue.StageScript, ItemID: itemID}, 0)
}

// ResumeItem schedules the stage a retried item failed at, after delay.
func (r *Runner) ResumeItem(ctx context.Context, kind queue.StageKind, itemID int64, delay time.Duration) error {
	return r.sched.Schedule(ctx, scheduler.Task{Kind: kind, ItemID: itemID}, delay)
}

func (r *Runner) notify(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if err := r.notifier.Publish(ctx, event, payload); err != nil {
		r.logger.Warn("notification delivery failed",
			logging.String("event", string(event)),
			logging.Error(err))
	}
}
