// Package notifications pushes pipeline events to an ntfy topic. An
// unconfigured topic yields a no-op service so callers never branch.
package notifications

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"showreel/internal/config"
	"showreel/internal/logging"
)

// Event classifies what happened to an item.
type Event string

const (
	EventItemApproved      Event = "item_approved"
	EventScriptReady       Event = "script_ready"
	EventRenderStarted     Event = "render_started"
	EventRenderCompleted   Event = "render_completed"
	EventItemScheduled     Event = "item_scheduled"
	EventItemPublished     Event = "item_published"
	EventStageFailed       Event = "stage_failed"
	EventRetryScheduled    Event = "retry_scheduled"
	EventStuckRecovered    Event = "stuck_recovered"
	EventItemUnrecoverable Event = "item_unrecoverable"
	EventTest              Event = "test"
)

// Payload carries the human-facing notification content.
type Payload struct {
	ItemID  int64
	Title   string
	Message string
}

// Service delivers pipeline notifications.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

type ntfyService struct {
	topicURL string
	client   *http.Client
	cfg      config.Notifications
	logger   *slog.Logger
}

// NewService builds a notification service from configuration. An empty topic
// returns the no-op implementation.
func NewService(cfg config.Notifications, logger *slog.Logger) Service {
	topic := strings.TrimSpace(cfg.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		topicURL: topic,
		client:   &http.Client{Timeout: timeout},
		cfg:      cfg,
		logger:   logging.WithComponent(logger, "notifications"),
	}
}

func (s *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if !s.enabled(event) {
		return nil
	}

	body := payload.Message
	if body == "" {
		body = string(event)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.topicURL, strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Title", s.title(event, payload))
	req.Header.Set("Tags", tagFor(event))
	if priority := priorityFor(event); priority != "" {
		req.Header.Set("Priority", priority)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notification rejected with status %d", resp.StatusCode)
	}
	s.logger.Debug("notification sent",
		logging.String("event", string(event)),
		logging.Int64(logging.FieldItemID, payload.ItemID))
	return nil
}

func (s *ntfyService) enabled(event Event) bool {
	switch event {
	case EventStageFailed, EventItemUnrecoverable:
		return s.cfg.Failures
	case EventRetryScheduled, EventStuckRecovered:
		return s.cfg.Recovery
	case EventItemScheduled, EventItemPublished:
		return s.cfg.Publishing
	case EventTest:
		return true
	default:
		return s.cfg.StageEvents
	}
}

func (s *ntfyService) title(event Event, payload Payload) string {
	if payload.Title != "" {
		return fmt.Sprintf("showreel: %s", payload.Title)
	}
	return fmt.Sprintf("showreel: %s", event)
}

func tagFor(event Event) string {
	switch event {
	case EventStageFailed, EventItemUnrecoverable:
		return "rotating_light"
	case EventRetryScheduled, EventStuckRecovered:
		return "arrows_counterclockwise"
	case EventItemPublished:
		return "tada"
	default:
		return "clapper"
	}
}

func priorityFor(event Event) string {
	switch event {
	case EventItemUnrecoverable:
		return "high"
	case EventStageFailed:
		return "default"
	default:
		return ""
	}
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }

// NewNop returns a service that drops every notification.
func NewNop() Service { return noopService{} }
