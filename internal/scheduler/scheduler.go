// Package scheduler delivers delayed stage tasks back to the pipeline. The
// asynq implementation survives daemon restarts via Redis; the memory
// implementation covers single-node deployments and tests.
package scheduler

import (
	"context"
	"time"

	"showreel/internal/queue"
)

// Task asks the pipeline to run one stage for one item.
type Task struct {
	Kind   queue.StageKind `json:"kind"`
	ItemID int64           `json:"itemId"`
}

// Handler processes a delivered task.
type Handler func(ctx context.Context, task Task) error

// Scheduler enqueues stage tasks for later execution.
type Scheduler interface {
	// Schedule delivers the task to the handler after delay. A zero delay
	// means as soon as possible.
	Schedule(ctx context.Context, task Task, delay time.Duration) error
	Close() error
}
