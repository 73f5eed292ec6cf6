package domain

import (
	"strings"
	"time"
)

// Source identifies which backend collection an event was projected from.
type Source string

const (
	SourceScheduled   Source = "scheduled"
	SourceAIGenerated Source = "ai_generated"
	SourcePublished   Source = "published"
)

// Status is the publish lifecycle state of a post.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusScheduled Status = "scheduled"
	StatusQueued    Status = "queued"
	StatusPosted    Status = "posted"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusPosted || s == StatusCancelled || s == StatusFailed
}

// AuthorType distinguishes personal profiles from organization pages.
type AuthorType string

const (
	AuthorPersonal     AuthorType = "personal"
	AuthorOrganization AuthorType = "organization"
)

type Author struct {
	Type        AuthorType `json:"type"`
	DisplayName string     `json:"display_name"`
}

// IsZero reports whether no identity has been attached.
func (a Author) IsZero() bool { return a.Type == "" && a.DisplayName == "" }

type Content struct {
	Body     string   `json:"body"`
	Images   []string `json:"images,omitempty"`
	Hashtags []string `json:"hashtags,omitempty"`
}

// IsZero reports whether the content carries neither text nor assets.
func (c Content) IsZero() bool {
	return strings.TrimSpace(c.Body) == "" && len(c.Images) == 0 && len(c.Hashtags) == 0
}

// CanonicalEvent is the source-agnostic projection of a schedulable post.
// ScheduledAt is always UTC.
type CanonicalEvent struct {
	ID          string    `json:"id"`
	Source      Source    `json:"source"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Content     Content   `json:"content"`
	CampaignID  string    `json:"campaign_id,omitempty"`
	DraftID     string    `json:"draft_id,omitempty"`
	Status      Status    `json:"status"`
	PlatformURL string    `json:"platform_url,omitempty"`
	Author      Author    `json:"author"`
	Error       string    `json:"error,omitempty"`
}

// Namespaces for EventKey. Scheduled and published posts share one id space.
const (
	NamespacePost = "post"
	NamespaceAI   = "ai"
)

// EventKey identifies an event across sources.
type EventKey struct {
	Namespace string
	ID        string
}

func (k EventKey) String() string { return k.Namespace + ":" + k.ID }

// ParseEventKey parses the "namespace:id" form produced by EventKey.String.
func ParseEventKey(s string) (EventKey, bool) {
	ns, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return EventKey{}, false
	}
	if ns != NamespacePost && ns != NamespaceAI {
		return EventKey{}, false
	}
	return EventKey{Namespace: ns, ID: id}, true
}

// NamespaceOf maps a source to its id namespace.
func NamespaceOf(src Source) string {
	if src == SourceAIGenerated {
		return NamespaceAI
	}
	return NamespacePost
}

func (e CanonicalEvent) Key() EventKey {
	return EventKey{Namespace: NamespaceOf(e.Source), ID: e.ID}
}

// WithScheduledAt returns a copy of e moved to t (normalised to UTC).
func (e CanonicalEvent) WithScheduledAt(t time.Time) CanonicalEvent {
	e.ScheduledAt = t.UTC()
	return e
}

// TimeSlot is a (day, hour) coordinate inside the active week.
type TimeSlot struct {
	Day  int `json:"day"`
	Hour int `json:"hour"`
}

func (s TimeSlot) Valid() bool {
	return s.Day >= 0 && s.Day <= 6 && s.Hour >= 0 && s.Hour <= 23
}

// Less orders slots day-major.
func (s TimeSlot) Less(o TimeSlot) bool {
	if s.Day != o.Day {
		return s.Day < o.Day
	}
	return s.Hour < o.Hour
}

// DragSession is the transient state of one drag gesture.
type DragSession struct {
	ID     string   `json:"id"`
	Key    EventKey `json:"-"`
	Origin TimeSlot `json:"origin"`
	Hover  TimeSlot `json:"hover"`
}

// Transition records one applied lifecycle change.
type Transition struct {
	Key        EventKey
	From       Status
	To         Status
	At         time.Time
	Reason     string
	PrevTime   *time.Time
	NextTime   *time.Time
	CampaignID string
}
