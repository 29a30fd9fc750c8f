// Package stage defines the contract between the pipeline runner and the
// per-stage executors, and dispatches scheduled stage tasks to them.
package stage

import (
	"context"

	"showreel/internal/notifications"
	"showreel/internal/queue"
)

// Outcome reports what an executor did with an item.
type Outcome struct {
	// Completed is false when the executor lost the claim race and did
	// nothing. That is a normal no-op, not a failure.
	Completed bool
	// Next names the follow-up stage to schedule immediately. Empty when
	// the stage is terminal for now (awaiting a callback, or scheduled).
	Next queue.StageKind
	// Event and Message describe the notification to publish, if any.
	Event   notifications.Event
	Message string
	// Title is the item title for notification context.
	Title string
}

// Executor performs one pipeline stage end to end: it claims the item,
// calls the external service, and records the result. Executors own their
// failure bookkeeping; the runner only reacts to the outcome.
type Executor interface {
	Kind() queue.StageKind
	Run(ctx context.Context, itemID int64) (Outcome, error)
}
