// Package webhook receives render completion callbacks from the external
// video renderer and advances the matching pipeline item.
package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"showreel/internal/config"
	"showreel/internal/logging"
	"showreel/internal/notifications"
	"showreel/internal/queue"
	"showreel/internal/services"
	"showreel/internal/stage"
)

// TokenHeader carries the optional shared secret on callback requests.
const TokenHeader = "X-Webhook-Token"

// Callback is the renderer's completion payload.
type Callback struct {
	JobID    string `json:"jobId"`
	Status   string `json:"status"`
	VideoURL string `json:"videoUrl,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Ack is the response body for every accepted callback. Success is false for
// deliveries that changed nothing, such as unknown jobs, so the renderer can
// tell the difference without treating it as a transport failure.
type Ack struct {
	Success  bool   `json:"success"`
	Received bool   `json:"received"`
	JobID    string `json:"jobId"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

// Receiver handles render callbacks.
type Receiver struct {
	store    *queue.Store
	runner   *stage.Runner
	notifier notifications.Service
	cfg      config.Webhook
	logger   *slog.Logger
}

// NewReceiver wires the callback handler.
func NewReceiver(store *queue.Store, runner *stage.Runner, notifier notifications.Service, cfg config.Webhook, logger *slog.Logger) *Receiver {
	return &Receiver{
		store:    store,
		runner:   runner,
		notifier: notifier,
		cfg:      cfg,
		logger:   logging.WithComponent(logger, "webhook"),
	}
}

// HandleRenderCallback is the HTTP handler for renderer completion callbacks.
func (r *Receiver) HandleRenderCallback(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !r.authorized(req) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid webhook token"})
		return
	}

	var cb Callback
	if err := json.NewDecoder(req.Body).Decode(&cb); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	cb.JobID = strings.TrimSpace(cb.JobID)
	if cb.JobID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "jobId is required"})
		return
	}

	ack := r.process(req.Context(), cb)
	writeJSON(w, http.StatusOK, ack)
}

func (r *Receiver) process(ctx context.Context, cb Callback) Ack {
	logger := r.logger.With(logging.Args(
		logging.String(logging.FieldRenderJobID, cb.JobID),
		logging.String("callback_status", cb.Status))...)

	item, err := r.findItem(ctx, cb.JobID)
	if errors.Is(err, services.ErrUnknownJob) {
		logger.Warn("callback for unknown render job")
		return Ack{Received: true, JobID: cb.JobID, Status: cb.Status,
			Error: fmt.Sprintf("no item found for render job %s", cb.JobID)}
	}
	if err != nil {
		logger.Error("render job lookup failed", logging.Error(err))
		return Ack{Received: true, JobID: cb.JobID, Status: cb.Status,
			Error: "lookup failed, callback will be retried by the renderer"}
	}

	switch strings.ToLower(strings.TrimSpace(cb.Status)) {
	case "completed":
		return r.completeRender(ctx, logger, item, cb)
	case "failed":
		return r.failRender(ctx, logger, item, cb)
	default:
		// Progress statuses such as "rendering" are informational.
		logger.Debug("ignoring benign callback status",
			logging.Int64(logging.FieldItemID, item.ID))
		return Ack{Success: true, Received: true, JobID: cb.JobID, Status: cb.Status}
	}
}

// findItem tolerates a callback racing the local write of the job id: the
// renderer can complete a short job before SetRenderJob commits.
func (r *Receiver) findItem(ctx context.Context, jobID string) (*queue.Item, error) {
	delay := time.Duration(r.cfg.LookupDelayMS) * time.Millisecond
	if delay <= 0 {
		delay = 200 * time.Millisecond
	}

	var item *queue.Item
	var err error
	for attempt := 0; ; attempt++ {
		item, err = r.store.FindByRenderJobID(ctx, jobID)
		if err == nil || !errors.Is(err, queue.ErrNotFound) {
			return item, err
		}
		if attempt >= r.cfg.LookupRetries {
			return nil, services.Wrap(services.ErrUnknownJob, "render", "callback",
				fmt.Sprintf("no item for render job %s", jobID), err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (r *Receiver) completeRender(ctx context.Context, logger *slog.Logger, item *queue.Item, cb Callback) Ack {
	if strings.TrimSpace(cb.VideoURL) == "" {
		malformed := services.Wrap(services.ErrMalformedCallback, "render", "callback",
			"completed status without videoUrl", nil)
		logger.Warn("completed callback missing videoUrl",
			logging.Int64(logging.FieldItemID, item.ID))
		if err := r.store.RecordError(ctx, item.ID, malformed.Error()); err != nil {
			logger.Error("could not record malformed callback",
				logging.Int64(logging.FieldItemID, item.ID), logging.Error(err))
		}
		return Ack{Received: true, JobID: cb.JobID, Status: cb.Status,
			Error: "videoUrl is required for completed status"}
	}

	err := r.store.CompleteRender(ctx, item.ID, cb.VideoURL)
	if errors.Is(err, queue.ErrWrongStage) {
		// Redelivered callback; the first delivery already advanced the item.
		logger.Debug("duplicate completion callback",
			logging.Int64(logging.FieldItemID, item.ID))
		return Ack{Success: true, Received: true, JobID: cb.JobID, Status: cb.Status}
	}
	if err != nil {
		logger.Error("could not record render completion",
			logging.Int64(logging.FieldItemID, item.ID), logging.Error(err))
		return Ack{Received: true, JobID: cb.JobID, Status: cb.Status, Error: "persist failed"}
	}

	logger.Info("render completed", logging.Int64(logging.FieldItemID, item.ID))
	r.publish(ctx, notifications.EventRenderCompleted, notifications.Payload{
		ItemID:  item.ID,
		Title:   item.Title,
		Message: fmt.Sprintf("render finished for %q", item.Title),
	})
	if err := r.runner.ResumeItem(ctx, queue.StageSEO, item.ID, 0); err != nil {
		logger.Error("could not schedule seo stage",
			logging.Int64(logging.FieldItemID, item.ID), logging.Error(err))
	}
	return Ack{Success: true, Received: true, JobID: cb.JobID, Status: cb.Status}
}

func (r *Receiver) failRender(ctx context.Context, logger *slog.Logger, item *queue.Item, cb Callback) Ack {
	reason := strings.TrimSpace(cb.Error)
	if reason == "" {
		reason = "renderer reported failure without detail"
	}

	err := r.store.FailStage(ctx, item.ID, queue.StatusVideoCreating, queue.StageRender, reason)
	if errors.Is(err, queue.ErrWrongStage) {
		logger.Debug("duplicate failure callback",
			logging.Int64(logging.FieldItemID, item.ID))
		return Ack{Success: true, Received: true, JobID: cb.JobID, Status: cb.Status}
	}
	if err != nil {
		logger.Error("could not record render failure",
			logging.Int64(logging.FieldItemID, item.ID), logging.Error(err))
		return Ack{Received: true, JobID: cb.JobID, Status: cb.Status, Error: "persist failed"}
	}

	logger.Warn("render failed",
		logging.Int64(logging.FieldItemID, item.ID),
		logging.String(logging.FieldErrorHint, reason))
	r.publish(ctx, notifications.EventStageFailed, notifications.Payload{
		ItemID:  item.ID,
		Title:   item.Title,
		Message: fmt.Sprintf("render failed for %q: %s", item.Title, reason),
	})
	return Ack{Success: true, Received: true, JobID: cb.JobID, Status: cb.Status}
}

func (r *Receiver) authorized(req *http.Request) bool {
	secret := strings.TrimSpace(r.cfg.Secret)
	if secret == "" {
		return true
	}
	provided := req.Header.Get(TokenHeader)
	return subtle.ConstantTimeCompare([]byte(secret), []byte(provided)) == 1
}

func (r *Receiver) publish(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if err := r.notifier.Publish(ctx, event, payload); err != nil {
		r.logger.Warn("notification delivery failed", logging.Error(err))
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
