// Package renderer submits render jobs to the external video renderer. The
// renderer is asynchronous: StartRender returns a job identifier and the
// result arrives later on the webhook callback URL.
package renderer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"showreel/internal/config"
	"showreel/internal/services"
)

// Request describes one render job.
type Request struct {
	ItemID      int64  `json:"itemId"`
	Title       string `json:"title"`
	Script      string `json:"script"`
	CallbackURL string `json:"callbackUrl"`
}

// Service starts asynchronous render jobs.
type Service interface {
	StartRender(ctx context.Context, req Request) (string, error)
}

// Doer abstracts the HTTP client for tests.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type httpService struct {
	baseURL     string
	apiKey      string
	callbackURL string
	client      Doer
}

// NewService builds a client for the configured renderer endpoint.
func NewService(cfg config.Renderer) (Service, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "render", "init",
			"services.renderer.base_url is not set", nil)
	}
	if strings.TrimSpace(cfg.CallbackURL) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "render", "init",
			"services.renderer.callback_url is not set", nil)
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &httpService{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		callbackURL: cfg.CallbackURL,
		client:      &http.Client{Timeout: timeout},
	}, nil
}

type renderResponse struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

func (s *httpService) StartRender(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.Script) == "" {
		return "", services.Wrap(services.ErrValidation, "render", "start",
			"item has no script", nil)
	}
	if req.CallbackURL == "" {
		req.CallbackURL = s.callbackURL
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return "", services.Wrap(services.ErrExternalService, "render", "start",
			"encode request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL+"/v1/renders", bytes.NewReader(payload))
	if err != nil {
		return "", services.Wrap(services.ErrExternalService, "render", "start",
			"build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return "", services.Wrap(services.ErrExternalService, "render", "start",
			"renderer unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", services.Wrap(services.ErrExternalService, "render", "start",
			fmt.Sprintf("renderer returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}

	var decoded renderResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", services.Wrap(services.ErrExternalService, "render", "start",
			"decode response", err)
	}
	if strings.TrimSpace(decoded.JobID) == "" {
		return "", services.Wrap(services.ErrExternalService, "render", "start",
			"renderer did not return a job id", nil)
	}
	return decoded.JobID, nil
}
