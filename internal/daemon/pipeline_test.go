package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"showreel/internal/config"
	"showreel/internal/logging"
	"showreel/internal/publishing"
	"showreel/internal/queue"
	"showreel/internal/rendering"
	"showreel/internal/scheduler"
	"showreel/internal/scripting"
	"showreel/internal/seo"
	"showreel/internal/services/publisher"
	"showreel/internal/services/renderer"
	"showreel/internal/services/scriptwriter"
	"showreel/internal/services/seogen"
	"showreel/internal/stage"
	"showreel/internal/testsupport"
	"showreel/internal/webhook"
)

// fakeServices stands in for all four external stage services.
func fakeServices(t *testing.T, scheduledAt time.Time) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/scripts", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"script": "INT. WORKSHOP - DAY"})
	})
	mux.HandleFunc("POST /v1/renders", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"jobId": "job-e2e", "status": "queued"})
	})
	mux.HandleFunc("POST /v1/seo", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(queue.SEOMetadata{Title: "Workbench Build", Tags: []string{"woodworking"}})
	})
	mux.HandleFunc("POST /v1/uploads", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{
			"publishId":   "yt-e2e",
			"scheduledAt": scheduledAt.Format(time.RFC3339),
		})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func waitForStage(t *testing.T, store *queue.Store, id int64, want queue.Status) *queue.Item {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		item, err := store.GetByID(context.Background(), id)
		if err != nil {
			t.Fatalf("get item: %v", err)
		}
		if item.Stage == want {
			return item
		}
		time.Sleep(10 * time.Millisecond)
	}
	item, _ := store.GetByID(context.Background(), id)
	t.Fatalf("item %d never reached %s, stuck at %s (%s)", id, want, item.Stage, item.ErrorMessage)
	return nil
}

func TestPipelineEndToEnd(t *testing.T) {
	ctx := context.Background()
	clk := testsupport.NewClock()
	store := testsupport.MustOpenStore(t, clk)
	notifier := &testsupport.RecordingNotifier{}
	scheduledAt := clk.Now().Add(24 * time.Hour)
	services := fakeServices(t, scheduledAt)

	svcCfg := config.Service{BaseURL: services.URL, TimeoutSeconds: 5}
	scriptSvc, err := scriptwriter.NewService(svcCfg)
	if err != nil {
		t.Fatalf("script service: %v", err)
	}
	renderSvc, err := renderer.NewService(config.Renderer{
		Service:     svcCfg,
		CallbackURL: "http://localhost/api/webhooks/render",
	})
	if err != nil {
		t.Fatalf("render service: %v", err)
	}
	seoSvc, err := seogen.NewService(svcCfg)
	if err != nil {
		t.Fatalf("seo service: %v", err)
	}
	publishSvc, err := publisher.NewService(svcCfg)
	if err != nil {
		t.Fatalf("publish service: %v", err)
	}

	var mu sync.Mutex
	var runner *stage.Runner
	mem := scheduler.NewMemory(func(ctx context.Context, task scheduler.Task) error {
		mu.Lock()
		r := runner
		mu.Unlock()
		return r.Handle(ctx, task)
	}, logging.NewNop())
	t.Cleanup(func() { mem.Close() })

	r, err := stage.NewRunner(mem, notifier, logging.NewNop(),
		scripting.NewExecutor(store, scriptSvc, logging.NewNop()),
		rendering.NewExecutor(store, renderSvc, logging.NewNop()),
		seo.NewExecutor(store, seoSvc, logging.NewNop()),
		publishing.NewExecutor(store, publishSvc, logging.NewNop()),
	)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	mu.Lock()
	runner = r
	mu.Unlock()

	receiver := webhook.NewReceiver(store, r, notifier, config.Webhook{}, logging.NewNop())

	// Intake and approval.
	item, err := store.NewItem(ctx, "alice", "Workbench build", "full build video")
	if err != nil {
		t.Fatalf("new item: %v", err)
	}
	if err := store.Approve(ctx, item.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := r.StartItem(ctx, item.ID); err != nil {
		t.Fatalf("start item: %v", err)
	}

	// Script and render submission run off the scheduler; the item then
	// waits on the renderer's callback.
	waiting := waitForStage(t, store, item.ID, queue.StatusVideoCreating)
	if waiting.RenderJobID == "" {
		// The job id write can trail the stage transition briefly.
		waiting = waitForJobID(t, store, item.ID)
	}
	if waiting.Script == "" {
		t.Fatal("script not persisted before render")
	}

	// Renderer calls back.
	body, _ := json.Marshal(webhook.Callback{
		JobID:    waiting.RenderJobID,
		Status:   "completed",
		VideoURL: "https://cdn.example.com/e2e.mp4",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/render", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	receiver.HandleRenderCallback(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("webhook status = %d: %s", rec.Code, rec.Body.String())
	}

	// SEO and upload complete the automated part of the pipeline.
	final := waitForStage(t, store, item.ID, queue.StatusScheduled)
	if final.PublishID != "yt-e2e" {
		t.Fatalf("publish id = %q", final.PublishID)
	}
	if final.SEO == nil || final.SEO.Title != "Workbench Build" {
		t.Fatalf("seo = %+v", final.SEO)
	}
	if final.ScheduledAt == nil || !final.ScheduledAt.Equal(scheduledAt) {
		t.Fatalf("scheduled at = %v, want %v", final.ScheduledAt, scheduledAt)
	}
}

func waitForJobID(t *testing.T, store *queue.Store, id int64) *queue.Item {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		item, err := store.GetByID(context.Background(), id)
		if err != nil {
			t.Fatalf("get item: %v", err)
		}
		if item.RenderJobID != "" {
			return item
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("item %d never received a render job id", id)
	return nil
}
