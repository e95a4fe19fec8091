package models

import (
	"time"

	"github.com/lib/pq"
)

// Draft lifecycle states. A draft is the mutable, not-yet-published form of
// a content item; once published it is frozen into a Post.
const (
	DraftStatusPending   = "pending"
	DraftStatusScheduled = "scheduled"
	DraftStatusPublished = "published"
	DraftStatusRejected  = "rejected"
)

// Integration statuses
const (
	IntegrationStatusConnected    = "connected"
	IntegrationStatusDisconnected = "disconnected"
)

// Snapshot sources. "unavailable" marks a snapshot written when the platform
// could not be queried; its counters are zero, never fabricated.
const (
	SnapshotSourcePlatform    = "platform"
	SnapshotSourceUnavailable = "unavailable"
)

// Draft represents a content item that has not been irreversibly published.
// ScheduledFor is non-nil exactly while Status is "scheduled";
// PendingTaskRef holds the queued publish task id for cancellation and is
// set only while scheduled.
type Draft struct {
	ID             string         `json:"id" db:"id"`
	OwnerID        string         `json:"owner_id" db:"owner_id"`
	Content        string         `json:"content" db:"content"`
	Platform       string         `json:"platform" db:"platform"`
	Status         string         `json:"status" db:"status"`
	ScheduledFor   *time.Time     `json:"scheduled_for,omitempty" db:"scheduled_for"`
	PendingTaskRef *string        `json:"-" db:"pending_task_ref"`
	QualityScore   *float64       `json:"quality_score,omitempty" db:"quality_score"`
	Themes         pq.StringArray `json:"themes" db:"themes"`
	PromptUsed     *string        `json:"prompt_used,omitempty" db:"prompt_used"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at" db:"updated_at"`
}

// Post is the immutable record of a successfully published content item.
// Content is snapshotted from the draft at publish time.
type Post struct {
	ID          string         `json:"id" db:"id"`
	DraftID     string         `json:"draft_id" db:"draft_id"`
	OwnerID     string         `json:"owner_id" db:"owner_id"`
	Platform    string         `json:"platform" db:"platform"`
	Content     string         `json:"content" db:"content"`
	ExternalID  string         `json:"external_id" db:"external_id"`
	PublishedAt time.Time      `json:"published_at" db:"published_at"`
	Themes      pq.StringArray `json:"themes" db:"themes"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
}

// EngagementCounters are the raw audience-reaction counts a platform reports
// for a published post.
type EngagementCounters struct {
	Likes       int64 `json:"likes"`
	Shares      int64 `json:"shares"`
	Comments    int64 `json:"comments"`
	Impressions int64 `json:"impressions"`
	Clicks      int64 `json:"clicks"`
}

// EngagementSnapshot is one point-in-time measurement of a post's audience
// reaction. Snapshots are append-only; the latest by CollectedAt is the
// post's current engagement.
type EngagementSnapshot struct {
	ID              string    `json:"id" db:"id"`
	PostID          string    `json:"post_id" db:"post_id"`
	Likes           int64     `json:"likes" db:"likes"`
	Shares          int64     `json:"shares" db:"shares"`
	Comments        int64     `json:"comments" db:"comments"`
	Impressions     int64     `json:"impressions" db:"impressions"`
	Clicks          int64     `json:"clicks" db:"clicks"`
	EngagementScore float64   `json:"engagement_score" db:"engagement_score"`
	Source          string    `json:"source" db:"source"`
	CollectedAt     time.Time `json:"collected_at" db:"collected_at"`
}

// Integration represents a connected external publishing destination for an
// owner. Token acquisition and refresh happen outside this service; only the
// connection status and opaque credentials are read here.
type Integration struct {
	ID          string    `json:"id" db:"id"`
	OwnerID     string    `json:"owner_id" db:"owner_id"`
	Platform    string    `json:"platform" db:"platform"`
	Status      string    `json:"status" db:"status"`
	Credentials string    `json:"-" db:"credentials"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}
