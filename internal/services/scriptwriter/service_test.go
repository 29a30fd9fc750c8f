package scriptwriter

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

func TestGenerateScript(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/scripts" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("authorization = %q", r.Header.Get("Authorization"))
		}
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Title != "Build log cabin" {
			t.Errorf("title = %q", req.Title)
		}
		json.NewEncoder(w).Encode(map[string]string{"script": "INT. FOREST - DAY"})
	}))
	defer server.Close()

	svc, err := NewService(config.Service{BaseURL: server.URL, APIKey: "secret", TimeoutSeconds: 5})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	script, err := svc.GenerateScript(context.Background(), Request{ItemID: 1, Title: "Build log cabin"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if script != "INT. FOREST - DAY" {
		t.Fatalf("script = %q", script)
	}
}

func TestGenerateScriptServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	svc, err := NewService(config.Service{BaseURL: server.URL, TimeoutSeconds: 5})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	_, err = svc.GenerateScript(context.Background(), Request{Title: "x"})
	if !errors.Is(err, services.ErrExternalService) {
		t.Fatalf("err = %v, want ErrExternalService", err)
	}
	if !services.Retryable(err) {
		t.Fatal("external service failure should be retryable")
	}
}

func TestGenerateScriptRejectsEmptyResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"script": ""})
	}))
	defer server.Close()

	svc, _ := NewService(config.Service{BaseURL: server.URL, TimeoutSeconds: 5})
	if _, err := svc.GenerateScript(context.Background(), Request{Title: "x"}); err == nil {
		t.Fatal("expected error for empty script")
	}
}

func TestGenerateScriptRejectsEmptyTitle(t *testing.T) {
	var called bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	svc, _ := NewService(config.Service{BaseURL: server.URL, TimeoutSeconds: 5})
	_, err := svc.GenerateScript(context.Background(), Request{Title: "   "})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
	if services.Retryable(err) {
		t.Fatal("missing title should not be retryable")
	}
	if called {
		t.Fatal("service called for item without a title")
	}
}

func TestNewServiceRequiresBaseURL(t *testing.T) {
	_, err := NewService(config.Service{})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("err = %v, want ErrConfiguration", err)
	}
}
