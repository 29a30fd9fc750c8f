package queue

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Status identifies where an item sits in the production pipeline.
type Status string

const (
	StatusPendingApproval Status = "pending_approval"
	StatusApproved        Status = "approved"
	StatusScriptGenerated Status = "script_generated"
	StatusVideoCreating   Status = "video_creating"
	StatusVideoCompleted  Status = "video_completed"
	StatusGeneratingSEO   Status = "generating_seo"
	StatusUploading       Status = "uploading"
	StatusScheduled       Status = "scheduled"
	StatusPublished       Status = "published"
	StatusRejected        Status = "rejected"
	StatusFailed          Status = "failed"
	StatusPendingRetry    Status = "pending_retry"
	StatusUnrecoverable   Status = "unrecoverable"
)

// AllStatuses lists every status in pipeline order, side states last.
func AllStatuses() []Status {
	return []Status{
		StatusPendingApproval,
		StatusApproved,
		StatusScriptGenerated,
		StatusVideoCreating,
		StatusVideoCompleted,
		StatusGeneratingSEO,
		StatusUploading,
		StatusScheduled,
		StatusPublished,
		StatusRejected,
		StatusFailed,
		StatusPendingRetry,
		StatusUnrecoverable,
	}
}

// ParseStatus validates a status string from the CLI or API.
func ParseStatus(raw string) (Status, error) {
	candidate := Status(strings.ToLower(strings.TrimSpace(raw)))
	for _, status := range AllStatuses() {
		if status == candidate {
			return status, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", raw)
}

// InFlight reports whether the status represents work handed to an external
// service, which makes the item a candidate for stuck detection.
func (s Status) InFlight() bool {
	switch s {
	case StatusVideoCreating, StatusGeneratingSEO, StatusUploading:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further automatic processing applies.
func (s Status) Terminal() bool {
	switch s {
	case StatusPublished, StatusRejected, StatusUnrecoverable:
		return true
	default:
		return false
	}
}

// StageKind names a processing stage for retry bookkeeping. It records which
// stage failed so a retry can resume exactly there.
type StageKind string

const (
	StageScript StageKind = "script"
	StageRender StageKind = "render"
	StageSEO    StageKind = "seo"
	StageUpload StageKind = "upload"
)

// ParseStageKind validates a stage name from storage or the API.
func ParseStageKind(raw string) (StageKind, error) {
	switch kind := StageKind(strings.ToLower(strings.TrimSpace(raw))); kind {
	case StageScript, StageRender, StageSEO, StageUpload:
		return kind, nil
	default:
		return "", fmt.Errorf("unknown stage %q", raw)
	}
}

// SEOMetadata is the publish-facing metadata produced for a rendered video.
type SEOMetadata struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
	Category    string   `json:"category,omitempty"`
	Thumbnail   string   `json:"thumbnail,omitempty"`
}

// Item is one piece of content moving through the pipeline.
type Item struct {
	ID               int64
	Owner            string
	Title            string
	Description      string
	Stage            Status
	Script           string
	RenderJobID      string
	RenderedAssetURL string
	SEO              *SEOMetadata
	PublishID        string
	ScheduledAt      *time.Time
	ErrorMessage     string
	LastFailedStage  StageKind
	RetryCount       int
	LastRetryAt      *time.Time
	InFlightSince    *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// RetryEligible reports whether the item is failed with retry budget left.
func (i *Item) RetryEligible(maxRetries int) bool {
	return i.Stage == StatusFailed && i.LastFailedStage != "" && i.RetryCount < maxRetries
}

func (i *Item) seoJSON() (string, error) {
	if i.SEO == nil {
		return "", nil
	}
	data, err := json.Marshal(i.SEO)
	if err != nil {
		return "", fmt.Errorf("encode seo metadata: %w", err)
	}
	return string(data), nil
}

func decodeSEO(raw string) (*SEOMetadata, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var meta SEOMetadata
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, fmt.Errorf("decode seo metadata: %w", err)
	}
	return &meta, nil
}
