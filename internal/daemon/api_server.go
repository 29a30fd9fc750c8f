package daemon

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"showreel/internal/api"
	"showreel/internal/config"
	"showreel/internal/logging"
	"showreel/internal/notifications"
	"showreel/internal/queue"
	"showreel/internal/recovery"
	"showreel/internal/services"
	"showreel/internal/stage"
	"showreel/internal/webhook"
)

// APIServer exposes the daemon's HTTP surface: queue management for the CLI,
// the recovery trigger, and the renderer's webhook callback.
type APIServer struct {
	cfg           *config.Config
	store         *queue.Store
	runner        *stage.Runner
	engine        *recovery.Engine
	notifier      notifications.Service
	receiver      *webhook.Receiver
	schedulerName string
	version       string
	logger        *slog.Logger

	server *http.Server
}

// NewAPIServer wires the HTTP surface.
func NewAPIServer(cfg *config.Config, store *queue.Store, runner *stage.Runner, engine *recovery.Engine, notifier notifications.Service, receiver *webhook.Receiver, schedulerName, version string, logger *slog.Logger) *APIServer {
	return &APIServer{
		cfg:           cfg,
		store:         store,
		runner:        runner,
		engine:        engine,
		notifier:      notifier,
		receiver:      receiver,
		schedulerName: schedulerName,
		version:       version,
		logger:        logging.WithComponent(logger, "api"),
	}
}

// Handler builds the route table.
func (s *APIServer) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("GET /api/status", s.authed(s.handleStatus))
	mux.HandleFunc("GET /api/items", s.authed(s.handleListItems))
	mux.HandleFunc("POST /api/items", s.authed(s.handleCreateItem))
	mux.HandleFunc("GET /api/items/{id}", s.authed(s.handleGetItem))
	mux.HandleFunc("DELETE /api/items/{id}", s.authed(s.handleDeleteItem))
	mux.HandleFunc("POST /api/items/{id}/approve", s.authed(s.handleApprove))
	mux.HandleFunc("POST /api/items/{id}/reject", s.authed(s.handleReject))
	mux.HandleFunc("POST /api/items/{id}/requeue", s.authed(s.handleRequeue))
	mux.HandleFunc("POST /api/queue/clear-completed", s.authed(s.handleClearCompleted))
	mux.HandleFunc("POST /api/recovery/run", s.authed(s.handleRecoveryRun))
	mux.HandleFunc("POST /api/notifications/test", s.authed(s.handleTestNotification))

	// Callback auth is the webhook shared secret, not the API token.
	mux.HandleFunc("POST /api/webhooks/render", s.receiver.HandleRenderCallback)

	return s.withRequestID(mux)
}

// withRequestID tags every request with a correlation id, honoring one the
// caller already assigned.
func (s *APIServer) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := r.Header.Get("X-Request-ID")
		if rid == "" {
			rid = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", rid)
		next.ServeHTTP(w, r.WithContext(services.WithRequestID(r.Context(), rid)))
	})
}

// Start serves until the listener fails or Shutdown is called.
func (s *APIServer) Start() error {
	listener, err := net.Listen("tcp", s.cfg.API.Bind)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.API.Bind, err)
	}
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("api listening", logging.String("bind", s.cfg.API.Bind))

	if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *APIServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *APIServer) authed(next http.HandlerFunc) http.HandlerFunc {
	token := strings.TrimSpace(s.cfg.API.Token)
	if token == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		provided := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(provided)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid or missing API token")
			return
		}
		next(w, r)
	}
}

func (s *APIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Health(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *APIServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	database := "ok"
	if err := s.store.Health(r.Context()); err != nil {
		database = err.Error()
	}

	stages := make(map[string]int, len(stats))
	total := 0
	for status, count := range stats {
		stages[string(status)] = count
		total += count
	}
	writeJSON(w, http.StatusOK, api.Status{
		Running:   true,
		Version:   s.version,
		Scheduler: s.schedulerName,
		Database:  database,
		Stages:    stages,
		Total:     total,
	})
}

func (s *APIServer) handleListItems(w http.ResponseWriter, r *http.Request) {
	var statuses []queue.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			status, err := queue.ParseStatus(part)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			statuses = append(statuses, status)
		}
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	items, err := s.store.List(r.Context(), limit, statuses...)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := api.ItemList{Items: make([]api.Item, 0, len(items)), Total: len(items)}
	for _, item := range items {
		out.Items = append(out.Items, api.FromQueueItem(item))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *APIServer) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	var req api.CreateItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}

	item, err := s.store.NewItem(r.Context(), req.Owner, req.Title, req.Description)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("item created",
		logging.Int64(logging.FieldItemID, item.ID),
		logging.String("title", item.Title))
	writeJSON(w, http.StatusCreated, api.FromQueueItem(item))
}

func (s *APIServer) handleGetItem(w http.ResponseWriter, r *http.Request) {
	item, ok := s.itemFromPath(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, api.FromQueueItem(item))
}

func (s *APIServer) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	id, ok := s.idFromPath(w, r)
	if !ok {
		return
	}
	err := s.store.Remove(r.Context(), id)
	if errors.Is(err, queue.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if errors.Is(err, queue.ErrWrongStage) {
		writeError(w, http.StatusConflict,
			fmt.Sprintf("item %d is still in the pipeline, only published, rejected, or unrecoverable items can be removed", id))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *APIServer) handleApprove(w http.ResponseWriter, r *http.Request) {
	item, ok := s.itemFromPath(w, r)
	if !ok {
		return
	}

	err := s.store.Approve(r.Context(), item.ID)
	if errors.Is(err, queue.ErrWrongStage) {
		writeError(w, http.StatusConflict,
			fmt.Sprintf("item %d is %s, only pending_approval items can be approved", item.ID, item.Stage))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := s.runner.StartItem(r.Context(), item.ID); err != nil {
		// Approved but not yet scheduled; the recovery sweep re-dispatches
		// stalled approved items.
		s.logger.Error("could not schedule script stage",
			logging.Int64(logging.FieldItemID, item.ID), logging.Error(err))
	}
	s.notify(r.Context(), notifications.EventItemApproved, notifications.Payload{
		ItemID:  item.ID,
		Title:   item.Title,
		Message: fmt.Sprintf("%q approved and queued", item.Title),
	})

	updated, err := s.store.GetByID(r.Context(), item.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, api.FromQueueItem(updated))
}

func (s *APIServer) handleReject(w http.ResponseWriter, r *http.Request) {
	item, ok := s.itemFromPath(w, r)
	if !ok {
		return
	}
	var req api.RejectRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}

	err := s.store.Reject(r.Context(), item.ID, req.Reason)
	if errors.Is(err, queue.ErrWrongStage) {
		writeError(w, http.StatusConflict,
			fmt.Sprintf("item %d is %s, only pending_approval items can be rejected", item.ID, item.Stage))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	updated, err := s.store.GetByID(r.Context(), item.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, api.FromQueueItem(updated))
}

func (s *APIServer) handleRequeue(w http.ResponseWriter, r *http.Request) {
	item, ok := s.itemFromPath(w, r)
	if !ok {
		return
	}

	err := s.store.Requeue(r.Context(), item.ID)
	if errors.Is(err, queue.ErrWrongStage) {
		writeError(w, http.StatusConflict,
			fmt.Sprintf("item %d is %s, only failed or unrecoverable items with a recorded stage can be requeued", item.ID, item.Stage))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := s.runner.ResumeItem(r.Context(), item.LastFailedStage, item.ID, 0); err != nil {
		s.logger.Error("could not schedule requeued stage",
			logging.Int64(logging.FieldItemID, item.ID), logging.Error(err))
	}
	s.logger.Info("item requeued",
		logging.Int64(logging.FieldItemID, item.ID),
		logging.String(logging.FieldStage, string(item.LastFailedStage)))

	updated, err := s.store.GetByID(r.Context(), item.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, api.FromQueueItem(updated))
}

func (s *APIServer) handleClearCompleted(w http.ResponseWriter, r *http.Request) {
	removed, err := s.store.ClearCompleted(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"removed": removed})
}

func (s *APIServer) handleRecoveryRun(w http.ResponseWriter, r *http.Request) {
	summary, err := s.engine.Run(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, api.RecoverySummary{
		Scanned:        summary.Scanned,
		StuckRecovered: summary.StuckRecovered,
		Redispatched:   summary.Redispatched,
		Retried:        summary.Retried,
		Unrecoverable:  summary.Unrecoverable,
		Published:      summary.Published,
	})
}

func (s *APIServer) handleTestNotification(w http.ResponseWriter, r *http.Request) {
	err := s.notifier.Publish(r.Context(), notifications.EventTest, notifications.Payload{
		Message: "test notification from showreel",
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func (s *APIServer) idFromPath(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "item id must be a positive integer")
		return 0, false
	}
	return id, true
}

func (s *APIServer) itemFromPath(w http.ResponseWriter, r *http.Request) (*queue.Item, bool) {
	id, ok := s.idFromPath(w, r)
	if !ok {
		return nil, false
	}
	item, err := s.store.GetByID(r.Context(), id)
	if errors.Is(err, queue.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("item %d not found", id))
		return nil, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	return item, true
}

func (s *APIServer) notify(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if err := s.notifier.Publish(ctx, event, payload); err != nil {
		s.logger.Warn("notification delivery failed", logging.Error(err))
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, api.Error{Error: message})
}
