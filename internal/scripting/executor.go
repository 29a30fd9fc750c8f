// Package scripting runs the script generation stage.
package scripting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"showreel/internal/logging"
	"showreel/internal/notifications"
	"showreel/internal/queue"
	"showreel/internal/services"
	"showreel/internal/services/scriptwriter"
	"showreel/internal/stage"
)

// Executor generates a script for an approved item.
type Executor struct {
	store  *queue.Store
	svc    scriptwriter.Service
	logger *slog.Logger
}

// NewExecutor wires the script stage.
func NewExecutor(store *queue.Store, svc scriptwriter.Service, logger *slog.Logger) *Executor {
	return &Executor{
		store:  store,
		svc:    svc,
		logger: logging.WithComponent(logger, "scripting"),
	}
}

func (e *Executor) Kind() queue.StageKind { return queue.StageScript }

// Run claims the item, generates its script, and advances it.
func (e *Executor) Run(ctx context.Context, itemID int64) (stage.Outcome, error) {
	item, err := e.store.ClaimScript(ctx, itemID)
	if errors.Is(err, queue.ErrWrongStage) {
		return stage.Outcome{}, nil
	}
	if err != nil {
		return stage.Outcome{}, err
	}

	script, err := e.svc.GenerateScript(ctx, scriptwriter.Request{
		ItemID:      item.ID,
		Title:       item.Title,
		Description: item.Description,
	})
	if err != nil {
		if failErr := e.store.FailStage(ctx, item.ID, queue.StatusApproved, queue.StageScript, err.Error()); failErr != nil {
			e.logger.Error("could not record script failure", logging.Error(failErr))
		}
		return stage.Outcome{Title: item.Title}, err
	}

	if err := e.store.CompleteScript(ctx, item.ID, script); err != nil {
		if errors.Is(err, queue.ErrWrongStage) {
			err = services.Wrap(services.ErrPrecondition, "script", "complete",
				"item moved while its script was generated", err)
		}
		return stage.Outcome{Title: item.Title}, err
	}
	return stage.Outcome{
		Completed: true,
		Next:      queue.StageRender,
		Event:     notifications.EventScriptReady,
		Message:   fmt.Sprintf("script ready for %q", item.Title),
		Title:     item.Title,
	}, nil
}
