// Package publisher uploads finished videos to the publishing platform and
// schedules their release.
package publisher

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
	"showreel/internal/queue"
	"showreel/internal/services"
)

// Request carries everything the platform needs to accept an upload.
type Request struct {
	ItemID   int64              `json:"itemId"`
	VideoURL string             `json:"videoUrl"`
	Metadata *queue.SEOMetadata `json:"metadata"`
}

// Result is the platform's acknowledgement of a scheduled upload.
type Result struct {
	PublishID   string
	ScheduledAt time.Time
}

// Service uploads and schedules videos.
type Service interface {
	Upload(ctx context.Context, req Request) (Result, error)
}

// Doer abstracts the HTTP client for tests.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type httpService struct {
	baseURL string
	apiKey  string
	client  Doer
}

// NewService builds a client for the configured publisher endpoint.
func NewService(cfg config.Service) (Service, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "upload", "init",
			"services.publisher.base_url is not set", nil)
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &httpService{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

type uploadResponse struct {
	PublishID   string `json:"publishId"`
	ScheduledAt string `json:"scheduledAt"`
}

func (s *httpService) Upload(ctx context.Context, req Request) (Result, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return Result{}, services.Wrap(services.ErrExternalService, "upload", "upload",
			"encode request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL+"/v1/uploads", bytes.NewReader(payload))
	if err != nil {
		return Result{}, services.Wrap(services.ErrExternalService, "upload", "upload",
			"build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return Result{}, services.Wrap(services.ErrExternalService, "upload", "upload",
			"publisher unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{}, services.Wrap(services.ErrExternalService, "upload", "upload",
			fmt.Sprintf("publisher returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}

	var decoded uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Result{}, services.Wrap(services.ErrExternalService, "upload", "upload",
			"decode response", err)
	}
	if strings.TrimSpace(decoded.PublishID) == "" {
		return Result{}, services.Wrap(services.ErrExternalService, "upload", "upload",
			"publisher did not return a publish id", nil)
	}

	scheduledAt, err := time.Parse(time.RFC3339, decoded.ScheduledAt)
	if err != nil {
		return Result{}, services.Wrap(services.ErrExternalService, "upload", "upload",
			fmt.Sprintf("publisher returned invalid scheduledAt %q", decoded.ScheduledAt), err)
	}
	return Result{PublishID: decoded.PublishID, ScheduledAt: scheduledAt.UTC()}, nil
}
