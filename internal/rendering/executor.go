// Package rendering runs the video render stage. The render itself is
// asynchronous: this executor submits the job and records its identifier,
// then the webhook receiver advances the item when the renderer calls back.
package rendering

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"showreel/internal/logging"
	"showreel/internal/notifications"
	"showreel/internal/queue"
	"showreel/internal/services/renderer"
	"showreel/internal/stage"
)

// Executor submits render jobs for scripted items.
type Executor struct {
	store  *queue.Store
	svc    renderer.Service
	logger *slog.Logger
}

// NewExecutor wires the render stage.
func NewExecutor(store *queue.Store, svc renderer.Service, logger *slog.Logger) *Executor {
	return &Executor{
		store:  store,
		svc:    svc,
		logger: logging.WithComponent(logger, "rendering"),
	}
}

func (e *Executor) Kind() queue.StageKind { return queue.StageRender }

// Run claims the item and submits its render job.
func (e *Executor) Run(ctx context.Context, itemID int64) (stage.Outcome, error) {
	item, err := e.store.ClaimRender(ctx, itemID)
	if errors.Is(err, queue.ErrWrongStage) {
		return stage.Outcome{}, nil
	}
	if err != nil {
		return stage.Outcome{}, err
	}

	jobID, err := e.svc.StartRender(ctx, renderer.Request{
		ItemID: item.ID,
		Title:  item.Title,
		Script: item.Script,
	})
	if err != nil {
		if failErr := e.store.FailStage(ctx, item.ID, queue.StatusVideoCreating, queue.StageRender, err.Error()); failErr != nil {
			e.logger.Error("could not record render failure", logging.Error(failErr))
		}
		return stage.Outcome{Title: item.Title}, err
	}

	if err := e.store.SetRenderJob(ctx, item.ID, jobID); err != nil {
		// The job is running but its id was not recorded; the stuck sweep
		// will fail the item and a retry resubmits.
		return stage.Outcome{Title: item.Title}, err
	}
	e.logger.Info("render job submitted",
		logging.Int64(logging.FieldItemID, item.ID),
		logging.String(logging.FieldRenderJobID, jobID))

	return stage.Outcome{
		Completed: true,
		Event:     notifications.EventRenderStarted,
		Message:   fmt.Sprintf("render started for %q (job %s)", item.Title, jobID),
		Title:     item.Title,
	}, nil
}
