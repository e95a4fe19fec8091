package kafka

import (
	"time"

	"github.com/google/uuid"
)

// Content lifecycle event types emitted on the content_events topic.
const (
	EventContentScheduled        = "content.scheduled"
	EventContentCancelled        = "content.schedule_cancelled"
	EventContentPublished        = "content.published"
	EventContentMetricsCollected = "content.metrics_collected"
)

// ContentEvent is a lifecycle notification for downstream consumers
// (analytics, notifications). It mirrors the pipeline's state transitions and
// never carries draft content, only identifiers.
type ContentEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	OwnerID   string    `json:"owner_id"`
	DraftID   string    `json:"draft_id,omitempty"`
	PostID    string    `json:"post_id,omitempty"`
	Platform  string    `json:"platform"`
	Timestamp time.Time `json:"timestamp"`
}

// NewContentEvent builds an event with a fresh id and current timestamp.
func NewContentEvent(eventType, ownerID, platform string) ContentEvent {
	return ContentEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		OwnerID:   ownerID,
		Platform:  platform,
		Timestamp: time.Now().UTC(),
	}
}
