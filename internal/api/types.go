// Package api defines the JSON types shared by the daemon's HTTP surface and
// the CLI client.
package api

import (
	"time"

	"showreel/internal/queue"
)

// Item is the wire representation of a pipeline item.
type Item struct {
	ID               int64              `json:"id"`
	Owner            string             `json:"owner,omitempty"`
	Title            string             `json:"title"`
	Description      string             `json:"description,omitempty"`
	Stage            string             `json:"stage"`
	Script           string             `json:"script,omitempty"`
	RenderJobID      string             `json:"renderJobId,omitempty"`
	RenderedAssetURL string             `json:"renderedAssetUrl,omitempty"`
	SEO              *queue.SEOMetadata `json:"seo,omitempty"`
	PublishID        string             `json:"publishId,omitempty"`
	ScheduledAt      *time.Time         `json:"scheduledAt,omitempty"`
	ErrorMessage     string             `json:"errorMessage,omitempty"`
	LastFailedStage  string             `json:"lastFailedStage,omitempty"`
	RetryCount       int                `json:"retryCount"`
	CreatedAt        time.Time          `json:"createdAt"`
	UpdatedAt        time.Time          `json:"updatedAt"`
}

// FromQueueItem converts a stored item to its wire form.
func FromQueueItem(item *queue.Item) Item {
	return Item{
		ID:               item.ID,
		Owner:            item.Owner,
		Title:            item.Title,
		Description:      item.Description,
		Stage:            string(item.Stage),
		Script:           item.Script,
		RenderJobID:      item.RenderJobID,
		RenderedAssetURL: item.RenderedAssetURL,
		SEO:              item.SEO,
		PublishID:        item.PublishID,
		ScheduledAt:      item.ScheduledAt,
		ErrorMessage:     item.ErrorMessage,
		LastFailedStage:  string(item.LastFailedStage),
		RetryCount:       item.RetryCount,
		CreatedAt:        item.CreatedAt,
		UpdatedAt:        item.UpdatedAt,
	}
}

// CreateItemRequest submits a new idea for approval.
type CreateItemRequest struct {
	Owner       string `json:"owner,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// RejectRequest declines a pending item.
type RejectRequest struct {
	Reason string `json:"reason,omitempty"`
}

// ItemList is the response for item listings.
type ItemList struct {
	Items []Item `json:"items"`
	Total int    `json:"total"`
}

// Status reports daemon health and queue composition.
type Status struct {
	Running   bool           `json:"running"`
	Version   string         `json:"version,omitempty"`
	Scheduler string         `json:"scheduler"`
	Database  string         `json:"database"`
	Stages    map[string]int `json:"stages"`
	Total     int            `json:"total"`
}

// RecoverySummary reports what a recovery sweep did.
type RecoverySummary struct {
	Scanned        int `json:"scanned"`
	StuckRecovered int `json:"stuckRecovered"`
	Redispatched   int `json:"redispatched"`
	Retried        int `json:"retried"`
	Unrecoverable  int `json:"unrecoverable"`
	Published      int `json:"published"`
}

// Error is the body of every non-2xx response.
type Error struct {
	Error string `json:"error"`
}
