package renderer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"showreel/internal/config"
	"showreel/internal/services"
)

func testConfig(baseURL string) config.Renderer {
	return config.Renderer{
		Service:     config.Service{BaseURL: baseURL, TimeoutSeconds: 5},
		CallbackURL: "http://daemon.example.com/api/webhooks/render",
	}
}

func TestStartRenderFillsCallbackURL(t *testing.T) {
	var got Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"jobId": "job-9", "status": "queued"})
	}))
	defer server.Close()

	svc, err := NewService(testConfig(server.URL))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	jobID, err := svc.StartRender(context.Background(), Request{ItemID: 3, Title: "t", Script: "s"})
	if err != nil {
		t.Fatalf("start render: %v", err)
	}
	if jobID != "job-9" {
		t.Fatalf("jobID = %q", jobID)
	}
	if got.CallbackURL != "http://daemon.example.com/api/webhooks/render" {
		t.Fatalf("callback url = %q", got.CallbackURL)
	}
}

func TestStartRenderRequiresJobID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "queued"})
	}))
	defer server.Close()

	svc, _ := NewService(testConfig(server.URL))
	_, err := svc.StartRender(context.Background(), Request{Title: "t", Script: "s"})
	if !errors.Is(err, services.ErrExternalService) {
		t.Fatalf("err = %v, want ErrExternalService", err)
	}
}

func TestStartRenderRejectsEmptyScript(t *testing.T) {
	var called bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	svc, _ := NewService(testConfig(server.URL))
	_, err := svc.StartRender(context.Background(), Request{Title: "t"})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
	if services.Retryable(err) {
		t.Fatal("missing script should not be retryable")
	}
	if called {
		t.Fatal("renderer called for item without a script")
	}
}

func TestNewServiceRequiresCallbackURL(t *testing.T) {
	_, err := NewService(config.Renderer{
		Service: config.Service{BaseURL: "http://render.example.com"},
	})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("err = %v, want ErrConfiguration", err)
	}
}
