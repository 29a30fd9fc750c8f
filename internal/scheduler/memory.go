package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"showreel/internal/logging"
)

// Memory is an in-process scheduler backed by timers. Pending tasks do not
// survive a restart; the recovery sweep picks up anything lost that way.
type Memory struct {
	handler Handler
	logger  *slog.Logger

	mu     sync.Mutex
	timers map[int64]*time.Timer
	nextID int64
	closed bool
	wg     sync.WaitGroup
}

// NewMemory builds an in-process scheduler delivering to handler.
func NewMemory(handler Handler, logger *slog.Logger) *Memory {
	return &Memory{
		handler: handler,
		logger:  logging.WithComponent(logger, "scheduler"),
		timers:  make(map[int64]*time.Timer),
	}
}

// Schedule arms a timer for the task.
func (m *Memory) Schedule(ctx context.Context, task Task, delay time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return context.Canceled
	}

	id := m.nextID
	m.nextID++
	m.wg.Add(1)
	m.timers[id] = time.AfterFunc(delay, func() {
		defer m.wg.Done()
		m.mu.Lock()
		delete(m.timers, id)
		closed := m.closed
		m.mu.Unlock()
		if closed {
			return
		}
		if err := m.handler(context.Background(), task); err != nil {
			m.logger.Error("stage task failed",
				logging.String(logging.FieldStage, string(task.Kind)),
				logging.Int64(logging.FieldItemID, task.ItemID),
				logging.Error(err))
		}
	})
	return nil
}

// Close cancels pending timers and waits for in-flight deliveries.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	for id, timer := range m.timers {
		if timer.Stop() {
			m.wg.Done()
		}
		delete(m.timers, id)
	}
	m.mu.Unlock()
	m.wg.Wait()
	return nil
}
