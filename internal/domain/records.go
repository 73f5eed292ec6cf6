package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Timestamp decodes backend instants. Values without a zone designator are UTC.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
}

// ParseTimestamp parses an instant in any layout the backend emits.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339))
}

// Ptr returns nil for the zero timestamp.
func (t Timestamp) Ptr() *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

// Draft is the content a schedule record points at.
type Draft struct {
	ID         string   `json:"id"`
	Content    string   `json:"content"`
	ImageURL   string   `json:"image_url,omitempty"`
	Images     []string `json:"images,omitempty"`
	Hashtags   []string `json:"hashtags,omitempty"`
	CampaignID string   `json:"campaign_id,omitempty"`
	Author     *Author  `json:"author,omitempty"`
}

// ScheduledRecord is one row of the scheduled-posts collection.
type ScheduledRecord struct {
	ID          string    `json:"id"`
	DraftID     string    `json:"draft_id"`
	PublishTime Timestamp `json:"publish_time"`
	Status      string    `json:"status"`
	PlatformURL string    `json:"platform_url,omitempty"`
	Draft       *Draft    `json:"draft,omitempty"`
	// Body and image on the record itself are stale copies; the draft wins.
	Content  string `json:"content,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// ApprovedPost is an AI-generated campaign post.
type ApprovedPost struct {
	ID           string    `json:"id"`
	CampaignID   string    `json:"campaign_id"`
	Content      string    `json:"content"`
	ImageURL     string    `json:"image_url,omitempty"`
	Hashtags     []string  `json:"hashtags,omitempty"`
	ScheduledFor Timestamp `json:"scheduled_for"`
	Status       string    `json:"status"`
	PlatformURL  string    `json:"platform_url,omitempty"`
	Author       *Author   `json:"author,omitempty"`
}

// PublishedPost is a post already sent to the platform.
type PublishedPost struct {
	ID              string    `json:"id"`
	ScheduledPostID string    `json:"scheduled_post_id,omitempty"`
	CampaignID      string    `json:"campaign_id,omitempty"`
	Content         string    `json:"content"`
	ImageURL        string    `json:"image_url,omitempty"`
	Hashtags        []string  `json:"hashtags,omitempty"`
	ScheduledAt     Timestamp `json:"scheduled_at"`
	PublishedAt     Timestamp `json:"published_at"`
	Status          string    `json:"status"`
	PlatformURL     string    `json:"platform_url,omitempty"`
	Author          *Author   `json:"author,omitempty"`
}

// CampaignStatus values as the backend reports them.
const (
	CampaignActive = "active"
	CampaignPaused = "paused"
	CampaignDraft  = "draft"
)

// Campaign is the enrichment source for author identity and the countdown input.
type Campaign struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Status             string    `json:"status"`
	Frequency          string    `json:"posting_frequency"`
	LastGenerationTime Timestamp `json:"last_generation_time"`
	PostingAs          *Author   `json:"posting_as,omitempty"`
}

// ParseStatus maps the many backend status spellings onto lifecycle states.
// Unknown values fall back to def.
func ParseStatus(raw string, def Status) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "draft":
		return StatusDraft
	case "scheduled", "pending", "approved":
		return StatusScheduled
	case "queued", "publishing", "processing", "enqueued":
		return StatusQueued
	case "posted", "published", "sent":
		return StatusPosted
	case "failed", "error":
		return StatusFailed
	case "cancelled", "canceled", "deleted":
		return StatusCancelled
	default:
		return def
	}
}
