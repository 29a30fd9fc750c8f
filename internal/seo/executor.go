// Package seo runs the metadata generation stage.
package seo

import (
	"context"
	"errors"
	"log/slog"

	"showreel/internal/logging"
	"showreel/internal/queue"
	"showreel/internal/services"
	"showreel/internal/services/seogen"
	"showreel/internal/stage"
)

// Executor generates publish metadata for rendered items.
type Executor struct {
	store  *queue.Store
	svc    seogen.Service
	logger *slog.Logger
}

// NewExecutor wires the SEO stage.
func NewExecutor(store *queue.Store, svc seogen.Service, logger *slog.Logger) *Executor {
	return &Executor{
		store:  store,
		svc:    svc,
		logger: logging.WithComponent(logger, "seo"),
	}
}

func (e *Executor) Kind() queue.StageKind { return queue.StageSEO }

// Run claims the item, generates its metadata, and hands it to upload.
func (e *Executor) Run(ctx context.Context, itemID int64) (stage.Outcome, error) {
	item, err := e.store.ClaimSEO(ctx, itemID)
	if errors.Is(err, queue.ErrWrongStage) {
		return stage.Outcome{}, nil
	}
	if err != nil {
		return stage.Outcome{}, err
	}

	meta, err := e.svc.GenerateMetadata(ctx, seogen.Request{
		ItemID:   item.ID,
		Title:    item.Title,
		Script:   item.Script,
		VideoURL: item.RenderedAssetURL,
	})
	if err != nil {
		if failErr := e.store.FailStage(ctx, item.ID, queue.StatusGeneratingSEO, queue.StageSEO, err.Error()); failErr != nil {
			e.logger.Error("could not record seo failure", logging.Error(failErr))
		}
		return stage.Outcome{Title: item.Title}, err
	}

	if err := e.store.CompleteSEO(ctx, item.ID, meta); err != nil {
		if errors.Is(err, queue.ErrWrongStage) {
			err = services.Wrap(services.ErrPrecondition, "seo", "complete",
				"item moved while its metadata was generated", err)
		}
		return stage.Outcome{Title: item.Title}, err
	}
	return stage.Outcome{
		Completed: true,
		Next:      queue.StageUpload,
		Title:     item.Title,
	}, nil
}
