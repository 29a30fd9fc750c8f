// Package scriptwriter calls the external script generation service.
package scriptwriter

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

// Request carries the idea the script should be written from.
type Request struct {
	ItemID      int64  `json:"itemId"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// Service produces a video script for an approved idea.
type Service interface {
	GenerateScript(ctx context.Context, req Request) (string, error)
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

// NewService builds a client for the configured script writer endpoint.
func NewService(cfg config.Service) (Service, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "script", "init",
			"services.script_writer.base_url is not set", nil)
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &httpService{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

type scriptResponse struct {
	Script string `json:"script"`
}

func (s *httpService) GenerateScript(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.Title) == "" {
		return "", services.Wrap(services.ErrValidation, "script", "generate",
			"item has no title", nil)
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return "", services.Wrap(services.ErrExternalService, "script", "generate",
			"encode request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL+"/v1/scripts", bytes.NewReader(payload))
	if err != nil {
		return "", services.Wrap(services.ErrExternalService, "script", "generate",
			"build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return "", services.Wrap(services.ErrExternalService, "script", "generate",
			"script writer unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", services.Wrap(services.ErrExternalService, "script", "generate",
			fmt.Sprintf("script writer returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}

	var decoded scriptResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", services.Wrap(services.ErrExternalService, "script", "generate",
			"decode response", err)
	}
	if strings.TrimSpace(decoded.Script) == "" {
		return "", services.Wrap(services.ErrExternalService, "script", "generate",
			"script writer returned an empty script", nil)
	}
	return decoded.Script, nil
}
