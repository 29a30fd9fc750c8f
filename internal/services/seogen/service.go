// Package seogen calls the external SEO metadata generation service.
package seogen

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

// Request carries the finished video the metadata is generated for.
type Request struct {
	ItemID   int64  `json:"itemId"`
	Title    string `json:"title"`
	Script   string `json:"script,omitempty"`
	VideoURL string `json:"videoUrl"`
}

// Service produces publish metadata for a rendered video.
type Service interface {
	GenerateMetadata(ctx context.Context, req Request) (*queue.SEOMetadata, error)
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

// NewService builds a client for the configured SEO endpoint.
func NewService(cfg config.Service) (Service, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "seo", "init",
			"services.seo.base_url is not set", nil)
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &httpService{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

func (s *httpService) GenerateMetadata(ctx context.Context, req Request) (*queue.SEOMetadata, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, services.Wrap(services.ErrExternalService, "seo", "generate",
			"encode request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL+"/v1/seo", bytes.NewReader(payload))
	if err != nil {
		return nil, services.Wrap(services.ErrExternalService, "seo", "generate",
			"build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, services.Wrap(services.ErrExternalService, "seo", "generate",
			"seo service unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, services.Wrap(services.ErrExternalService, "seo", "generate",
			fmt.Sprintf("seo service returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}

	var meta queue.SEOMetadata
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, services.Wrap(services.ErrExternalService, "seo", "generate",
			"decode response", err)
	}
	if strings.TrimSpace(meta.Title) == "" {
		return nil, services.Wrap(services.ErrExternalService, "seo", "generate",
			"seo service returned metadata without a title", nil)
	}
	return &meta, nil
}
