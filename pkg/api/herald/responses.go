package herald

import (
	"time"

	"nexus/pkg/models"
)

// ScheduleResponse reports the committed schedule for a draft.
type ScheduleResponse struct {
	DraftID      string    `json:"draft_id"`
	Platform     string    `json:"platform"`
	ScheduledFor time.Time `json:"scheduled_for"`
	QualityScore float64   `json:"quality_score"`
}

// ScheduledDraft is one entry in the upcoming-content listing.
type ScheduledDraft struct {
	ID             string    `json:"id"`
	ContentPreview string    `json:"content_preview"`
	Platform       string    `json:"platform"`
	ScheduledFor   time.Time `json:"scheduled_for"`
	QualityScore   *float64  `json:"quality_score,omitempty"`
	Themes         []string  `json:"themes,omitempty"`
}

// ListScheduledResponse lists upcoming scheduled drafts, soonest first.
type ListScheduledResponse struct {
	Drafts []ScheduledDraft `json:"drafts"`
	Count  int              `json:"count"`
}

// PublishResponse reports a successful publish.
type PublishResponse struct {
	PostID      string    `json:"post_id"`
	ExternalID  string    `json:"external_id"`
	Platform    string    `json:"platform"`
	PublishedAt time.Time `json:"published_at"`
}

// PostPerformanceResponse carries the latest engagement snapshot for a post.
type PostPerformanceResponse struct {
	PostID         string                    `json:"post_id"`
	Platform       string                    `json:"platform"`
	PublishedAt    time.Time                 `json:"published_at"`
	ContentPreview string                    `json:"content_preview"`
	Snapshot       models.EngagementSnapshot `json:"snapshot"`
}

// ThemePerformance is the average engagement for one theme tag.
type ThemePerformance struct {
	Theme    string  `json:"theme"`
	AvgScore float64 `json:"avg_score"`
	Posts    int     `json:"posts"`
}

// PostHighlight summarizes the best or worst performing post in a window.
type PostHighlight struct {
	PostID          string    `json:"post_id"`
	ContentPreview  string    `json:"content_preview"`
	EngagementScore float64   `json:"engagement_score"`
	PublishedAt     time.Time `json:"published_at"`
}

// InsightsResponse is the aggregate engagement report for an owner. HasData
// false means no qualifying posts existed in the window; all other fields are
// then zero.
type InsightsResponse struct {
	HasData         bool               `json:"has_data"`
	Message         string             `json:"message,omitempty"`
	WindowDays      int                `json:"window_days"`
	PostCount       int                `json:"post_count"`
	AvgEngagement   float64            `json:"avg_engagement"`
	BestPost        *PostHighlight     `json:"best_post,omitempty"`
	WorstPost       *PostHighlight     `json:"worst_post,omitempty"`
	TopThemes       []ThemePerformance `json:"top_themes,omitempty"`
	Recommendations []string           `json:"recommendations"`
}

// DraftsResponse lists an owner's drafts.
type DraftsResponse struct {
	Drafts []models.Draft `json:"drafts"`
	Count  int            `json:"count"`
}
