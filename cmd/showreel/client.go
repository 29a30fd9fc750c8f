package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"showreel/internal/api"
)

// client talks to the showreeld HTTP API.
type client struct {
	baseURL string
	token   string
	http    *http.Client
}

func newClient(bind, token string) *client {
	base := bind
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &client{
		baseURL: strings.TrimRight(base, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("is showreeld running? %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr api.Error
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Error != "" {
			return fmt.Errorf("%s", apiErr.Error)
		}
		return fmt.Errorf("daemon returned status %d", resp.StatusCode)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *client) Status(ctx context.Context) (api.Status, error) {
	var out api.Status
	err := c.do(ctx, http.MethodGet, "/api/status", nil, &out)
	return out, err
}

func (c *client) ListItems(ctx context.Context, status string, limit int) (api.ItemList, error) {
	path := "/api/items"
	var params []string
	if status != "" {
		params = append(params, "status="+status)
	}
	if limit > 0 {
		params = append(params, fmt.Sprintf("limit=%d", limit))
	}
	if len(params) > 0 {
		path += "?" + strings.Join(params, "&")
	}
	var out api.ItemList
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *client) CreateItem(ctx context.Context, req api.CreateItemRequest) (api.Item, error) {
	var out api.Item
	err := c.do(ctx, http.MethodPost, "/api/items", req, &out)
	return out, err
}

func (c *client) GetItem(ctx context.Context, id int64) (api.Item, error) {
	var out api.Item
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/items/%d", id), nil, &out)
	return out, err
}

func (c *client) Approve(ctx context.Context, id int64) (api.Item, error) {
	var out api.Item
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/items/%d/approve", id), nil, &out)
	return out, err
}

func (c *client) Reject(ctx context.Context, id int64, reason string) (api.Item, error) {
	var out api.Item
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/items/%d/reject", id), api.RejectRequest{Reason: reason}, &out)
	return out, err
}

func (c *client) Requeue(ctx context.Context, id int64) (api.Item, error) {
	var out api.Item
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/items/%d/requeue", id), nil, &out)
	return out, err
}

func (c *client) Remove(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/items/%d", id), nil, nil)
}

func (c *client) ClearCompleted(ctx context.Context) (int64, error) {
	var out map[string]int64
	if err := c.do(ctx, http.MethodPost, "/api/queue/clear-completed", nil, &out); err != nil {
		return 0, err
	}
	return out["removed"], nil
}

func (c *client) RunRecovery(ctx context.Context) (api.RecoverySummary, error) {
	var out api.RecoverySummary
	err := c.do(ctx, http.MethodPost, "/api/recovery/run", nil, &out)
	return out, err
}

func (c *client) TestNotification(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/notifications/test", nil, nil)
}
