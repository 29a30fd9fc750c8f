// Package publishing runs the upload stage. A successful upload leaves the
// item scheduled; the recovery loop flips it to published once the platform's
// release time passes.
package publishing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"showreel/internal/logging"
	"showreel/internal/notifications"
	"showreel/internal/queue"
	"showreel/internal/services"
	"showreel/internal/services/publisher"
	"showreel/internal/stage"
)

// Executor uploads finished videos to the publishing platform.
type Executor struct {
	store  *queue.Store
	svc    publisher.Service
	logger *slog.Logger
}

// NewExecutor wires the upload stage.
func NewExecutor(store *queue.Store, svc publisher.Service, logger *slog.Logger) *Executor {
	return &Executor{
		store:  store,
		svc:    svc,
		logger: logging.WithComponent(logger, "publishing"),
	}
}

func (e *Executor) Kind() queue.StageKind { return queue.StageUpload }

// Run claims the item, uploads its video, and records the release schedule.
func (e *Executor) Run(ctx context.Context, itemID int64) (stage.Outcome, error) {
	item, err := e.store.ClaimUpload(ctx, itemID)
	if errors.Is(err, queue.ErrWrongStage) {
		return stage.Outcome{}, nil
	}
	if err != nil {
		return stage.Outcome{}, err
	}

	result, err := e.svc.Upload(ctx, publisher.Request{
		ItemID:   item.ID,
		VideoURL: item.RenderedAssetURL,
		Metadata: item.SEO,
	})
	if err != nil {
		if failErr := e.store.FailStage(ctx, item.ID, queue.StatusUploading, queue.StageUpload, err.Error()); failErr != nil {
			e.logger.Error("could not record upload failure", logging.Error(failErr))
		}
		return stage.Outcome{Title: item.Title}, err
	}

	if err := e.store.CompleteUpload(ctx, item.ID, result.PublishID, result.ScheduledAt); err != nil {
		if errors.Is(err, queue.ErrWrongStage) {
			err = services.Wrap(services.ErrPrecondition, "upload", "complete",
				"item moved while its video was uploaded", err)
		}
		return stage.Outcome{Title: item.Title}, err
	}
	return stage.Outcome{
		Completed: true,
		Event:     notifications.EventItemScheduled,
		Message: fmt.Sprintf("%q scheduled for release at %s",
			item.Title, result.ScheduledAt.Format("2006-01-02 15:04 MST")),
		Title: item.Title,
	}, nil
}
