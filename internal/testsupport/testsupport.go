// Package testsupport provides shared fixtures for package tests.
package testsupport

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"showreel/internal/clock"
	"showreel/internal/config"
	"showreel/internal/notifications"
	"showreel/internal/queue"
	"showreel/internal/scheduler"
)

// NewConfig returns a validated config rooted in the test's temp directory.
func NewConfig(t *testing.T) *config.Config {
	t.Helper()
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = base
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate config: %v", err)
	}
	return &cfg
}

// NewClock returns a fake clock at a fixed instant.
func NewClock() *clock.Fake {
	return clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
}

// MustOpenStore opens a throwaway store on the fake clock.
func MustOpenStore(t *testing.T, clk clock.Clock) *queue.Store {
	t.Helper()
	store, err := queue.Open(filepath.Join(t.TempDir(), "queue.db"), clk)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// ScheduledTask records one Schedule call.
type ScheduledTask struct {
	Task  scheduler.Task
	Delay time.Duration
}

// RecordingScheduler captures scheduled tasks without executing them.
type RecordingScheduler struct {
	mu    sync.Mutex
	tasks []ScheduledTask
}

func (r *RecordingScheduler) Schedule(ctx context.Context, task scheduler.Task, delay time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, ScheduledTask{Task: task, Delay: delay})
	return nil
}

func (r *RecordingScheduler) Close() error { return nil }

// Tasks returns a copy of everything scheduled so far.
func (r *RecordingScheduler) Tasks() []ScheduledTask {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ScheduledTask, len(r.tasks))
	copy(out, r.tasks)
	return out
}

// SentNotification records one Publish call.
type SentNotification struct {
	Event   notifications.Event
	Payload notifications.Payload
}

// RecordingNotifier captures published notifications.
type RecordingNotifier struct {
	mu   sync.Mutex
	sent []SentNotification
}

func (r *RecordingNotifier) Publish(ctx context.Context, event notifications.Event, payload notifications.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, SentNotification{Event: event, Payload: payload})
	return nil
}

// Sent returns a copy of everything published so far.
func (r *RecordingNotifier) Sent() []SentNotification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SentNotification, len(r.sent))
	copy(out, r.sent)
	return out
}
